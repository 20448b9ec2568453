// Package session implements the multi-tenant session subsystem: a hot
// in-memory tier over a pluggable durable store, keyed by an opaque
// per-client identity.
//
// Identity grammar is enforced here, at the boundary: only a canonical
// lowercase UUID is ever accepted from a client, so no unvalidated input
// can reach a storage backend as a key (the traversal-prevention
// invariant). Anything else is treated as "no identity".
//
// Writes replace the whole record atomically — there is no partial merge.
// Concurrent operations on the same identity resolve last-write-wins, which
// is acceptable because session affinity is per-client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Source kinds for a session's upstream.
const (
	SourceM3U    = "m3u"
	SourceXtream = "xtream"
)

var (
	// ErrNotFound means no session exists for the identity in either tier.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity means the durable record cap is reached and the identity
	// is new. Existing identities are never blocked from refreshing.
	ErrCapacity = errors.New("session capacity reached")
)

// XtreamConfig is the stored vendor configuration for Xtream sessions.
type XtreamConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Record is the durable session layout: one record per identity. Playlist
// and Credentials are opaque to this package — the ingestion collaborator
// produced them and the API tier serves them as-is.
type Record struct {
	Source       string          `json:"source"`
	Credentials  json.RawMessage `json:"credentials"`
	Playlist     json.RawMessage `json:"playlist"`
	XtreamConfig *XtreamConfig   `json:"xtreamConfig"`
	SavedAt      time.Time       `json:"savedAt"`
}

// Store is the durable tier: one record per validated identity.
// Implementations must return ErrNotFound from Get for missing identities.
type Store interface {
	Put(ctx context.Context, id string, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	// Count returns the number of durable records (capacity control).
	Count(ctx context.Context) (int, error)
	// DeleteIdle removes records untouched since cutoff and returns how
	// many were deleted. This is true data loss, intended for abandoned
	// sessions.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// sidRE is the strict identity grammar: canonical lowercase UUID only.
var sidRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsIdentity reports whether v matches the identity grammar exactly.
func IsIdentity(v string) bool { return sidRE.MatchString(v) }

// Mint returns a fresh identity.
func Mint() string { return uuid.NewString() }

// entry is one memory-tier slot.
type entry struct {
	rec        Record
	lastAccess time.Time
}

// Manager is the two-tier session store.
type Manager struct {
	durable Store
	max     int
	idleTTL time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewManager creates a Manager over the given durable store.
// maxSessions caps durable records (admission control for new identities);
// idleTTL bounds how long an untouched entry stays in the memory tier.
func NewManager(durable Store, maxSessions int, idleTTL time.Duration, log *logrus.Entry) *Manager {
	return &Manager{
		durable: durable,
		max:     maxSessions,
		idleTTL: idleTTL,
		log:     log,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the manager's clock. Test use only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns the record for id. A memory hit bumps lastAccess; a miss
// falls back to the durable tier and repopulates memory on success.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	if !IsIdentity(id) {
		return Record{}, ErrNotFound
	}

	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.lastAccess = m.now()
		rec := e.rec
		m.mu.Unlock()
		return rec, nil
	}
	m.mu.Unlock()

	rec, err := m.durable.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	m.entries[id] = &entry{rec: rec, lastAccess: m.now()}
	m.mu.Unlock()
	return rec, nil
}

// CanCreate reports whether a session may be created for id. It returns
// ErrCapacity when id is a new identity and the durable cap is reached.
// Handlers call this before starting expensive upstream work.
func (m *Manager) CanCreate(ctx context.Context, id string) error {
	if !IsIdentity(id) {
		return ErrNotFound
	}
	if m.exists(ctx, id) {
		return nil
	}
	n, err := m.durable.Count(ctx)
	if err != nil {
		// Can't count — admit rather than lock everyone out.
		m.log.WithError(err).Warn("session count failed, admitting")
		return nil
	}
	if n >= m.max {
		return ErrCapacity
	}
	return nil
}

// Put stores the whole record for id, write-through to both tiers. The
// capacity check of CanCreate is re-applied so admission control holds even
// if a handler skipped the pre-check. A durable write failure is logged and
// non-fatal: the memory entry stays authoritative for this process's life.
func (m *Manager) Put(ctx context.Context, id string, rec Record) error {
	if !IsIdentity(id) {
		return ErrNotFound
	}
	if err := m.CanCreate(ctx, id); err != nil {
		return err
	}
	rec.SavedAt = m.now()

	m.mu.Lock()
	m.entries[id] = &entry{rec: rec, lastAccess: m.now()}
	m.mu.Unlock()

	if err := m.durable.Put(ctx, id, rec); err != nil {
		m.log.WithError(err).WithField("sid", shortSID(id)).Warn("durable session write failed")
	}
	return nil
}

// Delete removes the session from both tiers immediately and
// unconditionally.
func (m *Manager) Delete(ctx context.Context, id string) {
	if !IsIdentity(id) {
		return
	}
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()

	if err := m.durable.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		m.log.WithError(err).WithField("sid", shortSID(id)).Warn("durable session delete failed")
	}
}

// EvictIdle drops memory entries idle past the configured TTL and returns
// how many were evicted. Evicted entries remain loadable from the durable
// tier — this is not data loss.
func (m *Manager) EvictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.idleTTL)
	evicted := 0
	for id, e := range m.entries {
		if e.lastAccess.Before(cutoff) {
			delete(m.entries, id)
			evicted++
		}
	}
	return evicted
}

// SweepDurable deletes durable records past the retention threshold.
func (m *Manager) SweepDurable(ctx context.Context, retention time.Duration) {
	n, err := m.durable.DeleteIdle(ctx, m.now().Add(-retention))
	if err != nil {
		m.log.WithError(err).Warn("durable retention sweep failed")
		return
	}
	if n > 0 {
		m.log.WithField("deleted", n).Info("durable retention sweep")
	}
}

// EvictLoop runs EvictIdle on interval until ctx is cancelled.
func (m *Manager) EvictLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// RetentionLoop runs SweepDurable on interval until ctx is cancelled.
func (m *Manager) RetentionLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepDurable(ctx, retention)
		}
	}
}

// MemoryLen reports the number of memory-tier entries. Test use only.
func (m *Manager) MemoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// exists reports whether id is present in either tier, without loading it
// into memory.
func (m *Manager) exists(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.entries[id]
	m.mu.Unlock()
	if ok {
		return true
	}
	_, err := m.durable.Get(ctx, id)
	return err == nil
}

// shortSID truncates an identity for log output.
func shortSID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
