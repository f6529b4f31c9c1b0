package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Item is one archived delivery.
type Item struct {
	ID         int64
	Source     string
	Kind       string
	Account    string
	ExternalID string
	Text       string
	Author     string
	URL        string
	CreatedAt  time.Time
	ReceivedAt time.Time
	MessageID  string
}

type ItemInput struct {
	Source     string
	Kind       string
	Account    string
	ExternalID string
	Text       string
	Author     string
	URL        string
	CreatedAt  time.Time
	ReceivedAt time.Time
	MessageID  string
}

// ItemFilter holds optional filters for GetItems.
type ItemFilter struct {
	Source string
	Kind   string
	Limit  int // 0 means no limit
}

// SaveItem archives an item. Saving the same kind, account and external id
// again updates the row in place.
func (s *Store) SaveItem(ctx context.Context, in ItemInput) (Item, error) {
	if s == nil || s.db == nil {
		return Item{}, errNotInitialized
	}

	if strings.TrimSpace(in.Source) == "" {
		return Item{}, errors.New("source is required")
	}
	if strings.TrimSpace(in.Kind) == "" {
		return Item{}, errors.New("kind is required")
	}
	if strings.TrimSpace(in.Account) == "" {
		return Item{}, errors.New("account is required")
	}
	if strings.TrimSpace(in.ExternalID) == "" {
		return Item{}, errors.New("external_id is required")
	}
	if in.CreatedAt.IsZero() {
		return Item{}, errors.New("created_at is required")
	}
	if in.ReceivedAt.IsZero() {
		return Item{}, errors.New("received_at is required")
	}
	if in.MessageID == "" {
		return Item{}, errors.New("message_id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (
			source, kind, account, external_id, text, author, url, created_at, received_at, message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, account, external_id) DO UPDATE SET
			source = excluded.source,
			text = excluded.text,
			author = excluded.author,
			url = excluded.url,
			created_at = excluded.created_at,
			received_at = excluded.received_at,
			message_id = excluded.message_id
	`,
		in.Source,
		in.Kind,
		in.Account,
		in.ExternalID,
		nullString(in.Text),
		nullString(in.Author),
		nullString(in.URL),
		formatTime(in.CreatedAt),
		formatTime(in.ReceivedAt),
		in.MessageID,
	)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE kind = ? AND account = ? AND external_id = ?
	`, in.Kind, in.Account, in.ExternalID)

	return scanItem(row)
}

// GetItems returns items created at or after since, newest first.
func (s *Store) GetItems(ctx context.Context, since time.Time, filter ItemFilter) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	query := "SELECT " + itemColumns + " FROM items WHERE created_at >= ?"
	args := []any{formatTime(since)}

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// PruneOld deletes items created more than retainDays ago. Markers are kept.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SourceStats holds archive aggregates for one source.
type SourceStats struct {
	Source    string
	Kind      string
	Account   string
	Total     int
	LatestID  int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// GetSourceStats aggregates items created at or after since per source, kind
// and account.
func (s *Store) GetSourceStats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, kind, account,
			COUNT(*) AS total,
			MAX(CAST(external_id AS INTEGER)) AS latest_id,
			MIN(created_at) AS first_seen,
			MAX(created_at) AS last_seen
		FROM items
		WHERE created_at >= ?
		GROUP BY source, kind, account
		ORDER BY source, kind, account
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var st SourceStats
		var firstSeen, lastSeen string
		if err := rows.Scan(&st.Source, &st.Kind, &st.Account, &st.Total, &st.LatestID, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan source stats: %w", err)
		}
		if st.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, fmt.Errorf("parse first_seen: %w", err)
		}
		if st.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats: %w", err)
	}
	return stats, nil
}

const itemColumns = "id, source, kind, account, external_id, text, author, url, created_at, received_at, message_id"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (Item, error) {
	var (
		item                  Item
		text, author, url     sql.NullString
		createdAt, receivedAt string
	)

	if err := scanner.Scan(
		&item.ID,
		&item.Source,
		&item.Kind,
		&item.Account,
		&item.ExternalID,
		&text,
		&author,
		&url,
		&createdAt,
		&receivedAt,
		&item.MessageID,
	); err != nil {
		return Item{}, fmt.Errorf("scan item: %w", err)
	}

	item.Text = text.String
	item.Author = author.String
	item.URL = url.String

	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return Item{}, fmt.Errorf("parse created_at: %w", err)
	}
	if item.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return Item{}, fmt.Errorf("parse received_at: %w", err)
	}
	return item, nil
}
