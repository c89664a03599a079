package analyzer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
)

const DefaultCacheSize = 256

// Cached memoizes an analyzer keyed by a hash of all its inputs. Errors are
// not cached.
type Cached struct {
	inner Interface
	cache *lru.Cache[string, *Result]
}

func NewCached(inner Interface, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, fmt.Errorf("creating analyzer cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Analyze(baseline, submitted []artifact.Artifact, categories []config.Category) (*Result, error) {
	key, err := cacheKey(baseline, submitted, categories)
	if err != nil {
		return c.inner.Analyze(baseline, submitted, categories)
	}
	if r, ok := c.cache.Get(key); ok {
		return r.clone(), nil
	}
	r, err := c.inner.Analyze(baseline, submitted, categories)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, r.clone())
	return r, nil
}

func (c *Cached) Len() int { return c.cache.Len() }

func cacheKey(baseline, submitted []artifact.Artifact, categories []config.Category) (string, error) {
	var buf bytes.Buffer
	artifact.Digest(&buf, baseline)
	artifact.Digest(&buf, submitted)
	cats, err := json.Marshal(categories)
	if err != nil {
		return "", err
	}
	buf.Write(cats)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
