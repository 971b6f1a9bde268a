package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/heimdall-sdk/internal/observability"
)

// Memory is a bounded in-process cache backed by otter (S3-FIFO).
// Entries expire after the configured TTL and the oldest entries are evicted
// once capacity is reached, so memory stays bounded for long-lived processes.
type Memory[K comparable, V any] struct {
	name  string
	store otter.Cache[K, V]
}

// NewMemory builds a cache holding at most capacity entries for ttl each.
// name labels the cache in metrics.
func NewMemory[K comparable, V any](name string, capacity int, ttl time.Duration) (*Memory[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache %s: capacity must be positive, got %d", name, capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache %s: ttl must be positive, got %s", name, ttl)
	}

	store, err := otter.MustBuilder[K, V](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &Memory[K, V]{name: name, store: store}, nil
}

// Get returns the value stored under key.
func (c *Memory[K, V]) Get(key K) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		observability.CacheHits.WithLabelValues(c.name).Inc()
	} else {
		observability.CacheMisses.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Has reports whether key is present without touching hit statistics.
func (c *Memory[K, V]) Has(key K) bool {
	return c.store.Has(key)
}

// Set stores value under key. otter may reject the write under heavy
// contention; the caller treats the cache as best effort.
func (c *Memory[K, V]) Set(key K, value V) {
	if !c.store.Set(key, value) {
		observability.CacheDropped.WithLabelValues(c.name).Inc()
	}
}

func (c *Memory[K, V]) Delete(key K) {
	c.store.Delete(key)
}

func (c *Memory[K, V]) Len() int {
	return c.store.Size()
}

// RunMetricsCollector publishes the item count every interval until ctx is done.
func (c *Memory[K, V]) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.CacheItems.WithLabelValues(c.name).Set(float64(c.store.Size()))
		}
	}
}

// Close stops otter's background cleanup goroutines.
func (c *Memory[K, V]) Close() {
	c.store.Close()
}
