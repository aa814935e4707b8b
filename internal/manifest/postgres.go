package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS manifest_entries (
    source TEXT NOT NULL,
    external_id TEXT NOT NULL,
    market TEXT NOT NULL,
    resolution TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    content_digest TEXT NOT NULL DEFAULT '',
    file_path TEXT NOT NULL DEFAULT '',
    etag TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT '',
    source_url TEXT NOT NULL DEFAULT '',
    size BIGINT NOT NULL DEFAULT 0,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    phash TEXT NOT NULL DEFAULT '',
    duplicate_of TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source, external_id, market, resolution)
);
CREATE INDEX IF NOT EXISTS idx_manifest_status ON manifest_entries (status);
CREATE INDEX IF NOT EXISTS idx_manifest_digest ON manifest_entries (content_digest);
`

// PostgresBackend stores the manifest in PostgreSQL so that several hosts
// can share one ledger.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ Backend = (*PostgresBackend)(nil)

// ConnectPostgres establishes a connection pool and creates the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate manifest schema: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// Get returns the entry for key, or nil if absent.
func (p *PostgresBackend) Get(ctx context.Context, key types.ManifestKey) (*types.ManifestEntry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM manifest_entries
		 WHERE source = $1 AND external_id = $2 AND market = $3 AND resolution = $4`,
		key.Source, key.ExternalID, key.Market, string(key.Resolution))

	var updated time.Time
	e, err := scanEntry(row, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get manifest entry %s: %w", key, err)
	}
	e.UpdatedAt = updated
	return e, nil
}

// Upsert inserts or replaces the entry for e.Key.
func (p *PostgresBackend) Upsert(ctx context.Context, e *types.ManifestEntry) error {
	args := append(entryArgs(e), e.UpdatedAt)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO manifest_entries (`+columns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (source, external_id, market, resolution) DO UPDATE SET
		   status = $5, content_digest = $6, file_path = $7, etag = $8, last_modified = $9,
		   source_url = $10, size = $11, width = $12, height = $13, phash = $14,
		   duplicate_of = $15, attempts = $16, last_error = $17, run_id = $18, updated_at = $19`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to upsert manifest entry %s: %w", e.Key, err)
	}
	return nil
}

// ListByStatus lists entries with the given status ordered by key.
func (p *PostgresBackend) ListByStatus(ctx context.Context, status types.ManifestStatus) ([]types.ManifestEntry, error) {
	query := `SELECT ` + columns + ` FROM manifest_entries`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY source, external_id, market, resolution`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest entries: %w", err)
	}
	defer rows.Close()

	var entries []types.ManifestEntry
	for rows.Next() {
		var updated time.Time
		e, err := scanEntry(rows, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manifest entry: %w", err)
		}
		e.UpdatedAt = updated
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Close closes the connection pool.
func (p *PostgresBackend) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
