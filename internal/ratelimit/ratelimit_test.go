// ratelimit_test.go — fixed-window limiter tests using an injected clock.
package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_AllowsUpToBudget(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	const max = 5
	for i := 1; i <= max; i++ {
		if !l.Allow(ctx, "k", max) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow(ctx, "k", max) {
		t.Fatal("request max+1 should be rejected")
	}
}

func TestLimiter_WindowRollover(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.SetClock(func() time.Time { return now })
	l := New(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 3)
	}
	if l.Allow(ctx, "k", 3) {
		t.Fatal("4th call inside window should be rejected")
	}

	// Advance past the window — a fresh bucket must admit the call.
	now = now.Add(Window + time.Second)
	if !l.Allow(ctx, "k", 3) {
		t.Fatal("call after window rollover should be allowed")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	if !l.Allow(ctx, "a", 1) {
		t.Fatal("first call on key a should pass")
	}
	if l.Allow(ctx, "a", 1) {
		t.Fatal("second call on key a should be rejected")
	}
	if !l.Allow(ctx, "b", 1) {
		t.Fatal("key b must not share key a's bucket")
	}
}

func TestLimiter_NilStoreFailsOpen(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow(context.Background(), "k", 1) {
			t.Fatal("nil store must always allow")
		}
	}
}

// errStore fails every operation, exercising the fail-open path.
type errStore struct{}

func (errStore) Incr(context.Context, string) (int64, error) { return 0, errors.New("down") }
func (errStore) Expire(context.Context, string, time.Duration) error {
	return errors.New("down")
}
func (errStore) TTL(context.Context, string) (time.Duration, error) { return 0, errors.New("down") }
func (errStore) Del(context.Context, ...string) error               { return errors.New("down") }

func TestLimiter_StoreErrorFailsOpen(t *testing.T) {
	l := New(errStore{})
	if !l.Allow(context.Background(), "k", 1) {
		t.Fatal("store error must fail open")
	}
}

func TestMemoryStore_SweepDropsExpiredBuckets(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.SetClock(func() time.Time { return now })
	l := New(store)
	ctx := context.Background()

	l.Allow(ctx, "expired", 10)
	now = now.Add(Window + time.Second)
	l.Allow(ctx, "live", 10)

	if got := store.Sweep(); got != 1 {
		t.Fatalf("Sweep removed %d buckets, want 1", got)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d buckets after sweep, want 1", store.Len())
	}
}

func TestCheckClasses_UseDistinctBudgets(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()
	ip := "203.0.113.9"

	// Refresh budget (3) exhausts before the load budget (5).
	for i := 0; i < RefreshPerWindow; i++ {
		if ok, _ := l.CheckRefresh(ctx, ip); !ok {
			t.Fatalf("refresh %d should be allowed", i+1)
		}
	}
	if ok, retry := l.CheckRefresh(ctx, ip); ok || retry < 1 {
		t.Fatalf("refresh over budget: allowed=%v retry=%d", ok, retry)
	}
	if ok, _ := l.CheckLoad(ctx, ip); !ok {
		t.Fatal("load class must not share the refresh bucket")
	}
}
