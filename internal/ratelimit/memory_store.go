// memory_store.go — in-process fixed-window counter store.
//
// Buckets are created lazily on first increment and discarded once their
// window passes; Sweep bounds memory independent of traffic shape. The
// clock is injectable so window-rollover tests run without sleeping.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is one fixed-window counter.
type bucket struct {
	count   int64
	resetAt time.Time // zero until Expire is called
}

// MemoryStore is the default in-memory Store implementation.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore using the real clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Incr increments the counter for key, starting a fresh bucket if none is
// live. A bucket whose reset deadline has passed is replaced, never carried
// over.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || (!b.resetAt.IsZero() && s.now().After(b.resetAt)) {
		b = &bucket{}
		s.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// Expire sets the reset deadline on a live bucket.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		b.resetAt = s.now().Add(ttl)
	}
	return nil
}

// TTL returns the remaining time on a bucket's window.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok || b.resetAt.IsZero() {
		return 0, nil
	}
	return b.resetAt.Sub(s.now()), nil
}

// Del removes the given keys.
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.buckets, k)
	}
	return nil
}

// Sweep removes every bucket whose reset deadline has passed and returns
// the number removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, b := range s.buckets {
		if !b.resetAt.IsZero() && now.After(b.resetAt) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets. Test use only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// SweepLoop runs Sweep on the given interval until ctx is cancelled.
func (s *MemoryStore) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
