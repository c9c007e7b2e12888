package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on PostgreSQL. The natural-key uniqueness
// invariants are enforced by unique indexes, so concurrent create races
// surface as ErrConflict and callers retry as a lookup.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a new PostgreSQL-backed store.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pooling configuration
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// migrate creates the tables and unique indexes if they do not exist.
func (s *PGStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			super_type TEXT NOT NULL,
			type TEXT NOT NULL,
			tlp TEXT NOT NULL DEFAULT 'WHITE',
			pap TEXT NOT NULL DEFAULT 'WHITE',
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (name, super_type, type)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_relations (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			from_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			to_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (name, from_id, to_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			involved_entity_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (type, name, first_seen, last_seen, involved_entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id UUID PRIMARY KEY,
			value TEXT NOT NULL,
			super_type TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS requests_lookup_idx
			ON requests (value, super_type, type, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS vendor_credentials (
			id UUID PRIMARY KEY,
			vendor TEXT NOT NULL,
			last_usage TIMESTAMPTZ NOT NULL,
			secrets JSONB NOT NULL DEFAULT '{}',
			UNIQUE (vendor, secrets)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
