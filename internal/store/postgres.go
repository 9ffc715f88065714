package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteverdict/siteverdict/internal/classify"
)

// PostgresConfig controls the pgx connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pgxQuerier is the subset of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres persists classifications and API keys in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE classifications (
//	    id UUID PRIMARY KEY,
//	    url TEXT NOT NULL,
//	    url_key TEXT NOT NULL,
//	    label TEXT NOT NULL,
//	    mode TEXT NOT NULL,
//	    render_attempts INT NOT NULL DEFAULT 0,
//	    duration_ms BIGINT NOT NULL DEFAULT 0,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX classifications_url_key_idx ON classifications (url_key, created_at DESC);
//
//	CREATE TABLE api_keys (
//	    key UUID PRIMARY KEY,
//	    owner TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    revoked_at TIMESTAMPTZ
//	);
type Postgres struct {
	pool pgxQuerier
}

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxQuerier) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveClassification inserts a classification row.
func (s *Postgres) SaveClassification(ctx context.Context, rec ClassificationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := `
INSERT INTO classifications (id, url, url_key, label, mode, render_attempts, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.URL,
		rec.URLKey,
		string(rec.Label),
		string(rec.Mode),
		rec.Attempts,
		rec.DurationMs,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	return nil
}

// LatestClassification returns the newest row for a URL key.
func (s *Postgres) LatestClassification(ctx context.Context, urlKey string) (ClassificationRecord, error) {
	query := `
SELECT id, url, url_key, label, mode, render_attempts, duration_ms, created_at
FROM classifications
WHERE url_key = $1
ORDER BY created_at DESC
LIMIT 1`
	rec, err := scanClassification(s.pool.QueryRow(ctx, query, urlKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClassificationRecord{}, ErrNotFound
		}
		return ClassificationRecord{}, fmt.Errorf("query latest classification: %w", err)
	}
	return rec, nil
}

// ListClassifications returns up to limit rows for a URL key, newest first.
func (s *Postgres) ListClassifications(ctx context.Context, urlKey string, limit int) ([]ClassificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, url, url_key, label, mode, render_attempts, duration_ms, created_at
FROM classifications
WHERE url_key = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := s.pool.Query(ctx, query, urlKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var out []ClassificationRecord
	for rows.Next() {
		rec, err := scanClassification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classifications: %w", err)
	}
	return out, nil
}

// CreateKey inserts an API key row.
func (s *Postgres) CreateKey(ctx context.Context, key APIKey) error {
	query := `INSERT INTO api_keys (key, owner, created_at) VALUES ($1,$2,$3)`
	if _, err := s.pool.Exec(ctx, query, key.Key, key.Owner, key.CreatedAt); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetKey fetches an API key row by value.
func (s *Postgres) GetKey(ctx context.Context, key string) (APIKey, error) {
	query := `SELECT key, owner, created_at, revoked_at FROM api_keys WHERE key = $1`
	var k APIKey
	err := s.pool.QueryRow(ctx, query, key).Scan(&k.Key, &k.Owner, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, fmt.Errorf("query api key: %w", err)
	}
	return k, nil
}

// RevokeKey stamps a key's revoked_at.
func (s *Postgres) RevokeKey(ctx context.Context, key string, at time.Time) error {
	query := `UPDATE api_keys SET revoked_at = $2 WHERE key = $1 AND revoked_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, key, at)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListKeys returns all API key rows, oldest first.
func (s *Postgres) ListKeys(ctx context.Context) ([]APIKey, error) {
	query := `SELECT key, owner, created_at, revoked_at FROM api_keys ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.Key, &k.Owner, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return out, nil
}

func scanClassification(row pgx.Row) (ClassificationRecord, error) {
	var (
		rec   ClassificationRecord
		label string
		mode  string
	)
	err := row.Scan(
		&rec.ID,
		&rec.URL,
		&rec.URLKey,
		&label,
		&mode,
		&rec.Attempts,
		&rec.DurationMs,
		&rec.CreatedAt,
	)
	if err != nil {
		return ClassificationRecord{}, err
	}
	rec.Label = classify.Label(label)
	rec.Mode = classify.Mode(mode)
	return rec, nil
}
