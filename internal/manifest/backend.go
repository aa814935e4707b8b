package manifest

import (
	"context"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// Backend persists manifest entries. Implementations must make Upsert a
// durable, atomic single-row write.
type Backend interface {
	// Get returns the entry for key, or nil if absent.
	Get(ctx context.Context, key types.ManifestKey) (*types.ManifestEntry, error)
	Upsert(ctx context.Context, e *types.ManifestEntry) error
	// ListByStatus lists entries with the given status; an empty status lists all.
	ListByStatus(ctx context.Context, status types.ManifestStatus) ([]types.ManifestEntry, error)
	Close() error
}

const columns = `source, external_id, market, resolution, status, content_digest, file_path,
	etag, last_modified, source_url, size, width, height, phash, duplicate_of,
	attempts, last_error, run_id, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans one row in column order; updated receives updated_at in
// whatever representation the driver uses.
func scanEntry(s scanner, updated any) (*types.ManifestEntry, error) {
	var e types.ManifestEntry
	var res, status string
	if err := s.Scan(&e.Key.Source, &e.Key.ExternalID, &e.Key.Market, &res, &status,
		&e.ContentDigest, &e.FilePath, &e.ETag, &e.LastModified, &e.SourceURL,
		&e.Size, &e.Width, &e.Height, &e.PHash, &e.DuplicateOf,
		&e.Attempts, &e.LastError, &e.RunID, updated); err != nil {
		return nil, err
	}
	e.Key.Resolution = types.Resolution(res)
	e.Status = types.ManifestStatus(status)
	return &e, nil
}

func entryArgs(e *types.ManifestEntry) []any {
	return []any{
		e.Key.Source, e.Key.ExternalID, e.Key.Market, string(e.Key.Resolution), string(e.Status),
		e.ContentDigest, e.FilePath, e.ETag, e.LastModified, e.SourceURL,
		e.Size, e.Width, e.Height, e.PHash, e.DuplicateOf,
		e.Attempts, e.LastError, e.RunID,
	}
}
