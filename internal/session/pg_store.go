// pg_store.go — Postgres-backed durable session store.
//
// Same contract as FileStore, for deployments that already run Postgres
// (SESSION_BACKEND=postgres). One row per identity; the record is stored as
// a jsonb blob because the core treats snapshot and credentials as opaque.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS sessions (
//	    id       text PRIMARY KEY,
//	    record   jsonb NOT NULL,
//	    saved_at timestamptz NOT NULL DEFAULT now()
//	);
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGStore stores session records in a Postgres table.
type PGStore struct {
	db *sql.DB
}

// NewPGStore ensures the sessions table exists and returns a PGStore.
func NewPGStore(ctx context.Context, db *sql.DB) (*PGStore, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id       text PRIMARY KEY,
			record   jsonb NOT NULL,
			saved_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return nil, fmt.Errorf("sessions table: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Put upserts the record for id, refreshing saved_at.
func (s *PGStore) Put(ctx context.Context, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, record, saved_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, saved_at = now()`,
		id, string(data))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Get loads the record for id, or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session: %w", err)
	}
	if len(rec.Playlist) == 0 {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the row for id. Missing rows are not an error.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// Count returns the number of durable session rows.
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// DeleteIdle removes rows whose saved_at is before cutoff.
func (s *PGStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE saved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
