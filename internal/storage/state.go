// Package storage provides a versioned JSON state store on top of SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is one stored payload with its bookkeeping.
type Entry struct {
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// Store keeps JSON blobs keyed by (kind, id). Every write bumps the
// version of the entry.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewStore creates a new state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get retrieves an entry. The bool is false if it does not exist.
func (s *Store) Get(ctx context.Context, kind, id string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		payload   string
		entry     Entry
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, version, updated_at FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payload, &entry.Version, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	entry.Payload = []byte(payload)
	entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return entry, true, nil
}

// Set stores payload, creating the entry or bumping its version.
func (s *Store) Set(ctx context.Context, kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), s.now().UTC().Unix())

	if err == nil {
		log.Trace().
			Str("kind", kind).
			Str("id", id).
			Str("payload", string(payload)).
			Msg("State stored")
	}

	return err
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, kind, id)

	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(ctx context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM resource_state`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// List returns every entry of a kind keyed by id.
func (s *Store) List(ctx context.Context, kind string) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, version, updated_at FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var (
			id, payload string
			e           Entry
			updatedAt   int64
		)
		if err := rows.Scan(&id, &payload, &e.Version, &updatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		entries[id] = e
	}

	return entries, rows.Err()
}
