// Package result persists evaluation records.
package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/report"
)

const (
	metaFile   = "meta.json"
	reportFile = "comparison_report.md"
)

// Store saves the latest snapshot of each evaluation. Save overwrites.
type Store interface {
	Save(ctx context.Context, s *evaluation.Snapshot) error
	Load(ctx context.Context, id string) (*evaluation.Snapshot, error)
	List(ctx context.Context) ([]*evaluation.Snapshot, error)
	Close() error
}

// Open returns the store selected by cfg.Backend.
func Open(cfg config.Results) (Store, error) {
	switch cfg.Backend {
	case "badger":
		return OpenBadger(filepath.Join(cfg.Dir, "db"))
	case "file", "":
		return NewFileStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}

// FileStore keeps one directory per evaluation holding meta.json and, once
// completed, comparison_report.md.
type FileStore struct {
	dir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	dir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving results dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) EvaluationDir(id string) string {
	return filepath.Join(f.dir, id)
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid evaluation id %q", id)
	}
	return nil
}

func (f *FileStore) Save(_ context.Context, s *evaluation.Snapshot) error {
	if err := checkID(s.ID); err != nil {
		return err
	}
	dir := f.EvaluationDir(s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating evaluation dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metaFile), data); err != nil {
		return err
	}
	if s.Status != evaluation.StatusCompleted {
		return nil
	}
	rep, err := report.Build(s)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}
	var sb strings.Builder
	if err := report.Render(rep, report.FormatMarkdown, &sb); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return writeAtomic(filepath.Join(dir, reportFile), []byte(sb.String()))
}

// writeAtomic writes through a uniquely named temp file so concurrent saves
// of the same record never share one.
func writeAtomic(path string, data []byte) error {
	name := filepath.Base(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, id string) (*evaluation.Snapshot, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("evaluation %q: %w", id, errdefs.ErrNotFound)
	}
	s, err := ReadMeta(filepath.Join(f.EvaluationDir(id), metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("evaluation %q: %w", id, errdefs.ErrNotFound)
	}
	return s, err
}

// List returns every stored evaluation, oldest first. Unreadable records
// are skipped.
func (f *FileStore) List(_ context.Context) ([]*evaluation.Snapshot, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading results dir: %w", err)
	}
	var out []*evaluation.Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := ReadMeta(filepath.Join(f.dir, e.Name(), metaFile))
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sortSnapshots(out)
	return out, nil
}

func (f *FileStore) Close() error { return nil }

func ReadMeta(path string) (*evaluation.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading meta: %w", err)
	}
	var s evaluation.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}
	return &s, nil
}

func sortSnapshots(s []*evaluation.Snapshot) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
