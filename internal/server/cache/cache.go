// Package cache keeps serialized lookup responses in Redis. Lookups are
// cheap, so the cache exists to absorb hot queries across replicas; any
// Redis trouble degrades to computing the answer locally.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "lookup:"

// Store is the Redis surface the cache needs; *pkgredis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache fronts lookups with Redis. Concurrent misses for one key are
// collapsed with singleflight, and a circuit breaker stops calling Redis
// while it is failing.
type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
}

// New returns a QueryCache. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store: store,
		ttl:   ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			OnStateChange: func(name string, _, to resilience.State) {
				if m != nil {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		}),
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

// Fetch returns the cached value for (kind, key) or computes, stores and
// returns it. The boolean reports a cache hit. A nil cache always computes.
func Fetch[T any](ctx context.Context, c *QueryCache, kind, key string, compute func() T) (T, bool) {
	if c == nil {
		return compute(), false
	}
	k := BuildKey(kind, key)
	if v, ok := get[T](ctx, c, k); ok {
		return v, true
	}
	val, _, _ := c.group.Do(k, func() (any, error) {
		v := compute()
		c.set(ctx, k, v)
		return v, nil
	})
	return val.(T), false
}

func get[T any](ctx context.Context, c *QueryCache, key string) (T, bool) {
	var zero T
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	switch {
	case err != nil:
		c.count("error")
		c.logger.Debug("cache get failed", "key", key, "error", err)
		return zero, false
	case data == nil:
		c.count("miss")
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.count("error")
		c.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return zero, false
	}
	c.count("hit")
	return v, true
}

func (c *QueryCache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached lookup. Called after the indexes are
// (re)built so stale answers from a previous dataset are not served.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// BuildKey hashes the lookup kind and normalized query into a Redis key.
func BuildKey(kind, key string) string {
	h := xxhash.New()
	h.WriteString(kind)
	h.WriteString("\x00")
	h.WriteString(key)
	return keyPrefix + kind + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func (c *QueryCache) count(result string) {
	if c.metrics != nil {
		c.metrics.CacheRequests.WithLabelValues(result).Inc()
	}
}
