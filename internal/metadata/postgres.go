package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresTable is the table markers are kept in when none is configured.
const DefaultPostgresTable = "pollmark_metadata"

// pgInvalidText is the SQLSTATE raised when a stored value fails the bigint cast.
const pgInvalidText = "22P02"

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOptions holds connection settings for PostgresStore.
type PostgresOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MinConns int
	MaxConns int
	Table    string
}

// ConnString builds a PostgreSQL connection string from opts.
func (o PostgresOptions) ConnString() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(o.User),
		url.QueryEscape(o.Password),
		o.Host,
		port,
		o.Name,
		sslMode,
	)
}

var (
	_ Advancer = (*PostgresStore)(nil)
	_ Lister   = (*PostgresStore)(nil)
)

// PostgresStore keeps markers in a PostgreSQL table so several processes can
// share them.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres connects to PostgreSQL and creates the marker table if needed.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	table := opts.Table
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}

	poolCfg, err := pgxpool.ParseConfig(opts.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, table: table}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table), key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.table), key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Entries lists every marker in the table ordered by key.
func (s *PostgresStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT key, value FROM %s ORDER BY key", s.table))
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return entries, nil
}

// Advance performs the compare-and-set in one statement. A stored value that
// is not an integer makes the cast fail, which is reported as ErrMalformedMarker.
func (s *PostgresStore) Advance(ctx context.Context, key string, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	var stored string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE %[1]s.value::bigint < excluded.value::bigint
		RETURNING value
	`, s.table), key, FormatMarker(id)).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgInvalidText {
			return false, fmt.Errorf("%w: key %s: %s", ErrMalformedMarker, key, pgErr.Message)
		}
		return false, fmt.Errorf("advance %s: %w", key, err)
	}
	return true, nil
}
