// Package cache is a read-through cache for read paths. Claim decisions
// never consult it: every acquire, release and transition re-reads the
// database.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Store caches values of one type under string keys with a fixed TTL.
// A nil *Store is valid and caches nothing.
type Store[T any] struct {
	c   *ristretto.Cache
	ttl time.Duration

	// gen counts invalidations. A load that overlapped one is not stored.
	mu  sync.Mutex
	gen uint64
}

// New returns a Store holding up to maxItems entries for ttl each.
func New[T any](maxItems int64, ttl time.Duration) (*Store[T], error) {
	if maxItems <= 0 {
		maxItems = 1e4
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Store[T]{c: rc, ttl: ttl}, nil
}

// Get returns the cached value for key.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.c.Get(key)
	if !ok {
		return zero, false
	}
	val, ok := v.(T)
	return val, ok
}

// Set stores value under key. Every entry costs 1.
func (s *Store[T]) Set(key string, value T) {
	if s == nil {
		return
	}
	s.c.SetWithTTL(key, value, 1, s.ttl)
	s.c.Wait()
}

// Invalidate drops key.
func (s *Store[T]) Invalidate(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.c.Del(key)
}

func (s *Store[T]) generation() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// setIfCurrent stores value unless an invalidation happened since gen.
func (s *Store[T]) setIfCurrent(key string, value T, gen uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.Set(key, value)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are returned and nothing is cached. A result loaded while any
// key was invalidated is returned but not cached, since it may predate the
// write that caused the invalidation.
func (s *Store[T]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	gen := s.generation()
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	s.setIfCurrent(key, v, gen)
	return v, nil
}

// Close releases resources held by the cache.
func (s *Store[T]) Close() {
	if s == nil {
		return
	}
	s.c.Close()
}

// Key formats a cache key from a namespace and an id.
func Key(namespace string, id int64) string {
	return fmt.Sprintf("%s:%d", namespace, id)
}
