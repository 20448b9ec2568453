// Package ratelimit provides fixed-window per-key request throttling.
//
// The Limiter checks INCR+EXPIRE counters against a Store. The default
// Store is the in-memory fixed-window implementation in memory_store.go; a
// Redis adapter (redis_store.go) can be dropped in for deployments that
// already run Redis — nothing else changes.
//
// Operation classes have distinct budgets: playlist loads and refreshes
// trigger expensive upstream work and are far stricter than plain API reads
// or proxy segment requests.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Window is the fixed rate-limit window for all operation classes.
const Window = 60 * time.Second

// Per-window budgets by operation class.
const (
	LoadPerWindow    = 5   // POST /api/load-m3u, /api/load-xtream
	RefreshPerWindow = 3   // POST /api/refresh
	APIPerWindow     = 60  // playlist/session/series reads
	ProxyPerWindow   = 600 // stream relay requests
)

// Store is the minimal counter interface required for rate limiting.
// Implemented by MemoryStore (default) and RedisStore.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key (called once, after the first increment).
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key. Zero or negative
	// means expired/missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Limiter performs fixed-window rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by the given Store.
// If store is nil, the Limiter is a no-op that always allows requests.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// CheckLoad enforces the playlist-load budget for a client IP.
func (l *Limiter) CheckLoad(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, "rl:load:"+ip, LoadPerWindow)
}

// CheckRefresh enforces the refresh budget for a client IP.
func (l *Limiter) CheckRefresh(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, "rl:refresh:"+ip, RefreshPerWindow)
}

// CheckAPI enforces the read-API budget for a client IP.
func (l *Limiter) CheckAPI(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, "rl:api:"+ip, APIPerWindow)
}

// CheckProxy enforces the stream-relay budget for a client IP.
func (l *Limiter) CheckProxy(ctx context.Context, ip string) (bool, int) {
	return l.check(ctx, "rl:proxy:"+ip, ProxyPerWindow)
}

// Allow checks an arbitrary key against a per-window budget. Exposed for
// tests and non-standard classes.
func (l *Limiter) Allow(ctx context.Context, key string, maxPerWindow int) bool {
	ok, _ := l.check(ctx, key, maxPerWindow)
	return ok
}

// check is the generic increment-and-compare. Returns (allowed,
// retryAfterSecs). Counters are purely additive within a window; the window
// boundary is the expiry set on the first increment. On store error the
// limiter fails open — infrastructure trouble must not block traffic.
func (l *Limiter) check(ctx context.Context, key string, max int) (bool, int) {
	if l.store == nil {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return true, 0
	}
	if count == 1 {
		l.store.Expire(ctx, key, Window)
	}
	if count > int64(max) {
		ttl, _ := l.store.TTL(ctx, key)
		retry := int(ttl.Seconds())
		if retry < 1 {
			retry = int(Window.Seconds())
		}
		return false, retry
	}
	return true, 0
}

// ClientIP extracts the real client IP from a request, handling reverse
// proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// RetryAfterError formats the standard throttling message.
func RetryAfterError(secs int) string {
	return fmt.Sprintf("too many requests, retry in %ds", secs)
}
