package types

import (
	"fmt"
	"time"
)

// ManifestStatus is the lifecycle state of a manifest entry.
type ManifestStatus string

// ManifestStatus constants
const (
	StatusPending  ManifestStatus = "pending"
	StatusComplete ManifestStatus = "complete"
	StatusFailed   ManifestStatus = "failed"
)

// ManifestKey uniquely identifies one archived artifact.
type ManifestKey struct {
	Source     string     `json:"source"`
	ExternalID string     `json:"external_id"`
	Market     string     `json:"market"`
	Resolution Resolution `json:"resolution"`
}

// String renders the key as "source:external:market:res". The string form is
// the total order used to break ties between concurrent artifacts.
func (k ManifestKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Source, k.ExternalID, k.Market, k.Resolution)
}

// Less orders keys by their string form.
func (k ManifestKey) Less(other ManifestKey) bool {
	return k.String() < other.String()
}

// ManifestEntry is the durable record for one manifest key.
type ManifestEntry struct {
	Key           ManifestKey    `json:"key"`
	Status        ManifestStatus `json:"status"`
	ContentDigest string         `json:"content_digest,omitempty"`
	FilePath      string         `json:"file_path,omitempty"`
	ETag          string         `json:"etag,omitempty"`
	LastModified  string         `json:"last_modified,omitempty"`
	SourceURL     string         `json:"source_url,omitempty"`
	Size          int64          `json:"size,omitempty"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	PHash         string         `json:"phash,omitempty"`
	DuplicateOf   string         `json:"duplicate_of,omitempty"` // key string of the retained artifact
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsComplete reports whether the entry is complete.
func (e *ManifestEntry) IsComplete() bool {
	return e != nil && e.Status == StatusComplete
}
