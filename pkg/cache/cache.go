// Package cache memoizes normalized datasets and derived cube slices. A
// value is computed at most once per key among concurrent callers and is
// kept in memory and, optionally, in a persistent backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/nis/pkg/observability"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultMemoryEntries bounds the in-memory layer when no limit is given.
const DefaultMemoryEntries = 1024

// ErrCorrupt is returned by backends for entries that fail their checksum.
// The cache treats it as a miss.
var ErrCorrupt = errors.New("corrupt cache entry")

// Backend persists cache entries.
type Backend interface {
	// Get returns the value of key. A missing, expired or corrupt entry is
	// reported as found == false with a nil error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ComputeFunc produces the value of a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache layers a bounded in-memory LRU over an optional backend.
type Cache struct {
	log     logrus.FieldLogger
	backend Backend

	// mu orders memory writes against invalidation.
	mu     sync.Mutex
	memory *expirable.LRU[string, []byte]

	flight     singleflight.Group
	generation atomic.Uint64
	closeOnce  sync.Once
}

// Option configures New.
type Option func(*options)

type options struct {
	entries int
	ttl     time.Duration
}

// WithMemoryLimit bounds the in-memory layer to entries values, each kept
// for at most ttl. A zero ttl keeps values until evicted or invalidated.
func WithMemoryLimit(entries int, ttl time.Duration) Option {
	return func(o *options) {
		if entries > 0 {
			o.entries = entries
		}

		o.ttl = ttl
	}
}

// New returns a cache persisting to backend; nil keeps values in memory only.
func New(log logrus.FieldLogger, backend Backend, opts ...Option) *Cache {
	o := options{entries: DefaultMemoryEntries}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache{
		log:     log.WithField("component", "cache"),
		backend: backend,
		memory:  expirable.NewLRU[string, []byte](o.entries, nil, o.ttl),
	}
}

// Close releases the backend when it holds resources. Later calls are no-ops.
func (c *Cache) Close() error {
	var err error

	c.closeOnce.Do(func() {
		if closer, ok := c.backend.(io.Closer); ok {
			err = closer.Close()
		}
	})

	return err
}

// GetOrCompute returns the cached value of key, computing it with fn on a
// miss. Concurrent callers for the same key share one computation; a
// caller whose ctx is cancelled returns early while the computation
// continues for the others.
func (c *Cache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) ([]byte, error) {
	if v, ok := c.fromMemory(key); ok {
		observability.RecordCacheHit("memory")
		return v, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, fn)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.([]byte), nil
	}
}

func (c *Cache) load(ctx context.Context, key string, fn ComputeFunc) ([]byte, error) {
	if v, ok := c.fromMemory(key); ok {
		observability.RecordCacheHit("memory")
		return v, nil
	}

	gen := c.generation.Load()

	if c.backend != nil {
		v, found, err := c.backend.Get(ctx, key)
		if err != nil {
			c.log.WithError(err).WithField("key", key).Warn("Cache backend read failed")
		}

		if found {
			observability.RecordCacheHit("backend")
			c.store(gen, key, v)

			return v, nil
		}
	}

	observability.RecordCacheMiss()

	v, err := fn(ctx)
	if err != nil {
		observability.RecordCacheCompute("error")
		return nil, err
	}

	observability.RecordCacheCompute("success")

	if c.backend != nil && c.generation.Load() == gen {
		if err := c.backend.Set(ctx, key, v); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("Cache backend write failed")
		}
	}

	c.store(gen, key, v)

	return v, nil
}

func (c *Cache) fromMemory(key string) ([]byte, bool) {
	return c.memory.Get(key)
}

// store keeps v unless the cache was invalidated since gen was read.
func (c *Cache) store(gen uint64, key string, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation.Load() != gen {
		return
	}

	c.memory.Add(key, v)
}

// Invalidate evicts every entry whose key starts with prefix, in memory
// and in the backend. Computations in flight are not stored.
func (c *Cache) Invalidate(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	c.generation.Add(1)

	removed := 0

	for _, k := range c.memory.Keys() {
		if strings.HasPrefix(k, prefix) && c.memory.Remove(k) {
			removed++
		}
	}
	c.mu.Unlock()

	if c.backend == nil {
		return removed, nil
	}

	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate %q: %w", prefix, err)
	}

	c.log.WithFields(logrus.Fields{"prefix": prefix, "memory": removed, "backend": n}).Debug("Invalidated cache entries")

	if n > removed {
		return n, nil
	}

	return removed, nil
}

// GetOrComputeJSON is GetOrCompute for values serialized as JSON.
func GetOrComputeJSON[T any](ctx context.Context, c *Cache, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, err := c.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}

		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}

	return out, nil
}

// SourcePrefix returns the key prefix of every entry derived from a source.
func SourcePrefix(sourceID string) string {
	return "source/" + sourceID + "/"
}

// CubePrefix returns the key prefix of every query result of a cube.
func CubePrefix(cubeID string) string {
	return "cube/" + cubeID + "/"
}

// GraphPrefix returns the key prefix of every result derived from a graph.
func GraphPrefix(graphID string) string {
	return "graph/" + graphID + "/"
}

// Fingerprint returns a deterministic key "source/<id>/<sha256>" for the
// source and the remaining parts.
func Fingerprint(sourceID string, parts ...any) (string, error) {
	return Key(SourcePrefix(sourceID), parts...)
}

// Key appends the sha256 of parts to prefix. Parts are JSON encoded, so
// maps hash the same regardless of iteration order.
func Key(prefix string, parts ...any) (string, error) {
	h := sha256.New()

	for _, p := range parts {
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint %T: %w", p, err)
		}

		h.Write(b)
		h.Write([]byte{0})
	}

	return prefix + hex.EncodeToString(h.Sum(nil)), nil
}
