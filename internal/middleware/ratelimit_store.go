package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/kodix/kodix-server/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

type rateWindow struct {
	count int
	until time.Time
}

// memoryRateStore provides process-local rate limiting. Stale windows are
// pruned opportunistically on writes, so no background goroutine is needed.
type memoryRateStore struct {
	mu        sync.Mutex
	windows   map[string]rateWindow
	lastPrune time.Time
	clock     func() time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		windows: make(map[string]rateWindow),
		clock:   time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > time.Minute {
		for k, w := range s.windows {
			if now.After(w.until) {
				delete(s.windows, k)
			}
		}
		s.lastPrune = now
	}

	w, ok := s.windows[key]
	if !ok || now.After(w.until) {
		w = rateWindow{until: now.Add(window)}
	}
	w.count++
	s.windows[key] = w

	return w.count, w.until.Sub(now), nil
}

// sharedRateStore implements RateStore on top of a shared cache store, so the
// limit holds across instances when Redis backs the cache.
type sharedRateStore struct {
	store cache.Store
}

// NewSharedRateStore wraps a cache-backed store in a RateStore implementation.
func NewSharedRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &sharedRateStore{store: store}
}

func (s *sharedRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, "ratelimit:"+key, window)
	return int(count), ttl, err
}
