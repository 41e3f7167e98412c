package embedding

import (
	"context"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

const defaultFlushEvery = 32

// CachedEmbedder decorates an Embedder with an in-memory LRU keyed by the
// md5 of the query text, plus a gob snapshot on disk so warm entries survive
// restarts. Cache errors never surface: worst case is one extra provider
// call.
type CachedEmbedder struct {
	next       ports.Embedder
	cache      *lru.Cache[string, []float32]
	path       string
	flushEvery int
	logger     *slog.Logger

	mu      sync.Mutex
	inserts int
	hits    int64
	misses  int64
	observe func(hit bool)
}

// NewCachedEmbedder wraps next. path may be empty to disable the disk
// snapshot; size must be positive. flushEvery controls how many inserts
// accumulate before a snapshot write; values below 1 use the default.
func NewCachedEmbedder(next ports.Embedder, size int, path string, flushEvery int, logger *slog.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if flushEvery < 1 {
		flushEvery = defaultFlushEvery
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}

	c := &CachedEmbedder{next: next, cache: cache, path: path, flushEvery: flushEvery, logger: logger}
	c.loadSnapshot()
	return c, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		c.mu.Lock()
		c.hits++
		observe := c.observe
		c.mu.Unlock()
		if observe != nil {
			observe(true)
		}
		return cloneVector(vec), nil
	}

	vec, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, cloneVector(vec))

	c.mu.Lock()
	c.misses++
	c.inserts++
	flush := c.inserts >= c.flushEvery
	if flush {
		c.inserts = 0
	}
	observe := c.observe
	c.mu.Unlock()

	if observe != nil {
		observe(false)
	}
	if flush {
		c.flushSnapshot()
	}
	return vec, nil
}

// SetObserver registers a per-lookup hit/miss callback, used to feed the
// cache outcome metric. Safe to leave unset.
func (c *CachedEmbedder) SetObserver(fn func(hit bool)) {
	c.mu.Lock()
	c.observe = fn
	c.mu.Unlock()
}

// Stats reports hit/miss counters for the metrics endpoint.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Close flushes the snapshot regardless of the insert counter.
func (c *CachedEmbedder) Close() error {
	c.flushSnapshot()
	return nil
}

func (c *CachedEmbedder) loadSnapshot() {
	if c.path == "" {
		return
	}
	f, err := os.Open(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("embedding_cache_load_failed", "path", c.path, "error", err)
		}
		return
	}
	defer f.Close()

	var entries map[string][]float32
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		c.logger.Warn("embedding_cache_decode_failed", "path", c.path, "error", err)
		return
	}
	for key, vec := range entries {
		c.cache.Add(key, vec)
	}
	c.logger.Info("embedding_cache_loaded", "entries", len(entries))
}

func (c *CachedEmbedder) flushSnapshot() {
	if c.path == "" {
		return
	}

	entries := make(map[string][]float32, c.cache.Len())
	for _, key := range c.cache.Keys() {
		if vec, ok := c.cache.Peek(key); ok {
			entries[key] = vec
		}
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn("embedding_cache_flush_failed", "path", c.path, "error", err)
		return
	}
	f, err := os.Create(tmp)
	if err != nil {
		c.logger.Warn("embedding_cache_flush_failed", "path", c.path, "error", err)
		return
	}
	if err := gob.NewEncoder(f).Encode(entries); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		c.logger.Warn("embedding_cache_encode_failed", "path", c.path, "error", err)
		return
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		c.logger.Warn("embedding_cache_flush_failed", "path", c.path, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Warn("embedding_cache_flush_failed", "path", c.path, "error", err)
	}
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

var _ ports.Embedder = (*CachedEmbedder)(nil)
