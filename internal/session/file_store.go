// file_store.go — filesystem-backed durable session store.
//
// One JSON file per identity under the sessions directory. Callers pass
// validated identities only (the Manager enforces the grammar), so the
// filename is never derived from raw client input. Retention uses file
// mtime, which os.WriteFile refreshes on every write-through.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore stores one <sid>.json per identity in dir.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a FileStore over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the record for id, replacing any previous file.
func (s *FileStore) Put(_ context.Context, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Get loads the record for id, or ErrNotFound.
func (s *FileStore) Get(_ context.Context, id string) (Record, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
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
		// A record without a snapshot is useless — treat as missing.
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record file for id. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Count returns the number of session record files.
func (s *FileStore) Count(_ context.Context) (int, error) {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	n := 0
	for _, e := range names {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// DeleteIdle removes session files whose mtime is before cutoff.
func (s *FileStore) DeleteIdle(_ context.Context, cutoff time.Time) (int, error) {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	deleted := 0
	for _, e := range names {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
