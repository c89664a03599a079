package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/evaluation"
)

var evalPrefix = []byte("eval/")

func evalKey(id string) []byte { return append(append([]byte(nil), evalPrefix...), id...) }

// BadgerStore keeps snapshots as JSON values keyed by evaluation id.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a persistent store at path, or an in-memory one when
// path is empty.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Save(ctx context.Context, s *evaluation.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(evalKey(s.ID), data)
	})
}

func (b *BadgerStore) Load(ctx context.Context, id string) (*evaluation.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s evaluation.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(evalKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &s) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("evaluation %q: %w", id, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading evaluation %q: %w", id, err)
	}
	return &s, nil
}

func (b *BadgerStore) List(ctx context.Context) ([]*evaluation.Snapshot, error) {
	var out []*evaluation.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = evalPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var s evaluation.Snapshot
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, &s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }
