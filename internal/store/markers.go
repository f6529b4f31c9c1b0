package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/pollmark/internal/metadata"
)

// Marker is one persisted marker row.
type Marker struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

var (
	_ metadata.Store    = (*Store)(nil)
	_ metadata.Advancer = (*Store)(nil)
	_ metadata.Lister   = (*Store)(nil)
)

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errNotInitialized
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM markers WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get marker: %w", err)
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return putMarker(ctx, s.db, key, value)
}

// Advance stores id under key inside one transaction when id is above the
// current marker. A stored value that is not an integer fails with
// metadata.ErrMalformedMarker and is left as is.
func (s *Store) Advance(ctx context.Context, key string, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin advance transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	var value string
	err = tx.QueryRowContext(ctx, "SELECT value FROM markers WHERE key = ?", key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("read marker: %w", err)
	default:
		current, err = metadata.ParseMarker(value)
		if err != nil {
			return false, err
		}
	}

	if id <= current {
		return false, nil
	}
	if err := putMarker(ctx, tx, key, metadata.FormatMarker(id)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit advance: %w", err)
	}
	return true, nil
}

// Markers lists every stored marker ordered by key.
func (s *Store) Markers(ctx context.Context) ([]Marker, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM markers ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var markers []Marker
	for rows.Next() {
		var m Marker
		var updatedAt string
		if err := rows.Scan(&m.Key, &m.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return markers, nil
}

// Entries lists the markers for callers that only know metadata.Store.
func (s *Store) Entries(ctx context.Context) ([]metadata.Entry, error) {
	markers, err := s.Markers(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]metadata.Entry, 0, len(markers))
	for _, m := range markers {
		entries = append(entries, metadata.Entry{Key: m.Key, Value: m.Value})
	}
	return entries, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putMarker(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO markers (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put marker: %w", err)
	}
	return nil
}
