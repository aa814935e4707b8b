package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/types"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
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
    size INTEGER NOT NULL DEFAULT 0,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    phash TEXT NOT NULL DEFAULT '',
    duplicate_of TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    PRIMARY KEY (source, external_id, market, resolution)
);
CREATE INDEX IF NOT EXISTS idx_manifest_status ON manifest_entries (status);
CREATE INDEX IF NOT EXISTS idx_manifest_digest ON manifest_entries (content_digest);
`

// SQLiteBackend stores the manifest in a single SQLite file in WAL mode.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the manifest database at path.
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create manifest directory: %w", err)
			}
		}
		q := url.Values{}
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", "busy_timeout(5000)")
		dsn = "file:" + path + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Get returns the entry for key, or nil if absent.
func (s *SQLiteBackend) Get(ctx context.Context, key types.ManifestKey) (*types.ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM manifest_entries
		 WHERE source = ? AND external_id = ? AND market = ? AND resolution = ?`,
		key.Source, key.ExternalID, key.Market, string(key.Resolution))

	var updated string
	e, err := scanEntry(row, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get manifest entry %s: %w", key, err)
	}
	e.UpdatedAt = parseSQLiteTime(updated)
	return e, nil
}

// Upsert inserts or replaces the entry for e.Key.
func (s *SQLiteBackend) Upsert(ctx context.Context, e *types.ManifestEntry) error {
	args := append(entryArgs(e), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manifest_entries (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, external_id, market, resolution) DO UPDATE SET
		   status = excluded.status,
		   content_digest = excluded.content_digest,
		   file_path = excluded.file_path,
		   etag = excluded.etag,
		   last_modified = excluded.last_modified,
		   source_url = excluded.source_url,
		   size = excluded.size,
		   width = excluded.width,
		   height = excluded.height,
		   phash = excluded.phash,
		   duplicate_of = excluded.duplicate_of,
		   attempts = excluded.attempts,
		   last_error = excluded.last_error,
		   run_id = excluded.run_id,
		   updated_at = excluded.updated_at`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to upsert manifest entry %s: %w", e.Key, err)
	}
	return nil
}

// ListByStatus lists entries with the given status ordered by key.
func (s *SQLiteBackend) ListByStatus(ctx context.Context, status types.ManifestStatus) ([]types.ManifestEntry, error) {
	query := `SELECT ` + columns + ` FROM manifest_entries`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY source, external_id, market, resolution`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.ManifestEntry
	for rows.Next() {
		var updated string
		e, err := scanEntry(rows, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manifest entry: %w", err)
		}
		e.UpdatedAt = parseSQLiteTime(updated)
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
