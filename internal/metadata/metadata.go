// Package metadata persists high-water markers: the identifier of the most
// recently forwarded item for each inbound source.
//
// Restart safety depends entirely on which Store is used. MemoryStore keeps
// markers for the life of the process only; the SQLite store (package store)
// and PostgresStore survive restarts.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedMarker is returned when a persisted marker is not a decimal integer.
var ErrMalformedMarker = errors.New("malformed marker")

// Store is a string key-value store for markers.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error
}

// Advancer is implemented by stores that can compare-and-set a marker in a
// single operation. Advance stores id under key only if id is strictly greater
// than the current marker (an absent marker counts as 0) and reports whether
// it did.
type Advancer interface {
	Advance(ctx context.Context, key string, id int64) (bool, error)
}

// Entry is one stored marker as found in the store, valid or not.
type Entry struct {
	Key   string
	Value string
}

// Lister is implemented by stores that can enumerate their markers.
type Lister interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// Key builds the composite marker key "<componentType>.<componentName>.<profileID>".
// Empty segments are omitted.
func Key(componentType, componentName, profileID string) string {
	var parts []string
	for _, p := range []string{componentType, componentName, profileID} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// ParseMarker parses a stored marker value.
func ParseMarker(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMarker, value)
	}
	return id, nil
}

// FormatMarker renders a marker for storage.
func FormatMarker(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Load returns the marker stored under key, or 0 when none is stored.
func Load(ctx context.Context, s Store, key string) (int64, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get marker %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	return ParseMarker(value)
}

// Advance moves the marker under key to id if id is greater than the stored
// marker. Stores implementing Advancer do this atomically; for the rest the
// caller must serialize calls for the same key.
func Advance(ctx context.Context, s Store, key string, id int64) (bool, error) {
	if a, ok := s.(Advancer); ok {
		return a.Advance(ctx, key, id)
	}

	current, err := Load(ctx, s, key)
	if err != nil {
		return false, err
	}
	if id <= current {
		return false, nil
	}
	if err := s.Put(ctx, key, FormatMarker(id)); err != nil {
		return false, fmt.Errorf("put marker %s: %w", key, err)
	}
	return true, nil
}
