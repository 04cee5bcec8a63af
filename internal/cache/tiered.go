// Package cache implements the two-tier cache with named TTL strategies and
// per-key request coalescing. Tier-1 is an in-process map, tier-2 a shared
// Redis store. Tier-2 being unreachable degrades the cache to tier-1-only;
// it never fails a caller that has a computed value in hand.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/metrics"
)

// Producer computes a payload on cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// Stats counts cache traffic. Values are monotonic.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Coalesced uint64 `json:"coalesced_requests"`
}

type flight struct {
	done    chan struct{}
	payload []byte
	err     error
}

// Tiered is the cache facade used by every fetcher and the driver.
type Tiered struct {
	l1 *Memory
	l2 *RedisStore // nil means tier-1-only operation

	mu       sync.Mutex
	inflight map[string]*flight

	hits      atomic.Uint64
	misses    atomic.Uint64
	sets      atomic.Uint64
	coalesced atomic.Uint64
}

// NewTiered builds the cache. l2 may be nil for tier-1-only operation.
func NewTiered(l2 *RedisStore) *Tiered {
	return &Tiered{
		l1:       NewMemory(),
		l2:       l2,
		inflight: make(map[string]*flight),
	}
}

// Get returns the freshest unexpired value from either tier. A tier-2 hit
// is promoted into tier-1 with its remaining TTL.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if payload, ok := t.l1.Get(key); ok {
		t.hits.Add(1)
		metrics.CacheOps.WithLabelValues("l1", "hit").Inc()
		return payload, true
	}
	if t.l2 != nil {
		payload, ttl, ok, err := t.l2.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Tier-2 cache read failed, serving tier-1 only")
		} else if ok {
			t.hits.Add(1)
			metrics.CacheOps.WithLabelValues("l2", "hit").Inc()
			t.l1.Set(key, payload, ttl)
			return payload, true
		}
	}
	t.misses.Add(1)
	metrics.CacheOps.WithLabelValues("l1", "miss").Inc()
	return nil, false
}

// Set writes to both tiers under the strategy's TTL. Tier-2 failures are
// soft: logged and swallowed so the caller keeps its value.
func (t *Tiered) Set(ctx context.Context, key string, payload []byte, strategy Strategy) {
	t.sets.Add(1)
	metrics.CacheOps.WithLabelValues("l1", "set").Inc()
	t.l1.Set(key, payload, strategy.TTL())
	if t.l2 != nil {
		if err := t.l2.Set(ctx, key, payload, strategy.TTL()); err != nil {
			log.Warn().Err(err).Str("key", key).Str("strategy", strategy.String()).
				Msg("Tier-2 cache write failed, value kept in tier-1")
		}
	}
}

// GetOrCompute returns the cached value for key, or runs producer at most
// once concurrently per key across all callers in this process. Every
// coalesced waiter observes the same result; producer failure propagates to
// all of them and clears the in-flight slot so the next caller can retry.
func (t *Tiered) GetOrCompute(ctx context.Context, key string, strategy Strategy, producer Producer) ([]byte, error) {
	if payload, ok := t.Get(ctx, key); ok {
		return payload, nil
	}

	t.mu.Lock()
	if f, ok := t.inflight[key]; ok {
		t.mu.Unlock()
		t.coalesced.Add(1)
		metrics.CacheOps.WithLabelValues("l1", "coalesced").Inc()
		select {
		case <-f.done:
			if f.payload == nil {
				return nil, f.err
			}
			return append([]byte(nil), f.payload...), f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	t.inflight[key] = f
	t.mu.Unlock()

	payload, err := producer(ctx)

	// Publish the result before unblocking waiters, then release the slot.
	f.payload = payload
	f.err = err
	t.mu.Lock()
	delete(t.inflight, key)
	t.mu.Unlock()
	close(f.done)

	if err != nil {
		// A producer may hand back a partial payload with its error (e.g.
		// diagnostic placeholders); it is passed through but never cached.
		return payload, err
	}
	t.Set(ctx, key, payload, strategy)
	return payload, nil
}

// Purge drops expired tier-1 entries and returns how many were removed.
// Reads already ignore expired entries; this only reclaims their memory.
func (t *Tiered) Purge() int {
	return t.l1.Purge()
}

// Stats returns a snapshot of the traffic counters.
func (t *Tiered) Stats() Stats {
	return Stats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Sets:      t.sets.Load(),
		Coalesced: t.coalesced.Load(),
	}
}

// Healthy reports whether the shared tier is reachable. Tier-1-only mode
// counts as degraded but healthy.
func (t *Tiered) Healthy(ctx context.Context) bool {
	if t.l2 == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return t.l2.Healthy(ctx)
}

// Degraded reports whether the cache is running without a shared tier.
func (t *Tiered) Degraded() bool { return t.l2 == nil }
