package types

import (
	"regexp"
	"strings"
	"time"
)

// SourceKind groups adapters by how their output is laid out on disk.
type SourceKind string

const (
	// KindDaily is the official daily-image feed
	KindDaily SourceKind = "daily"
	// KindArchive is the third-party historical archive of the daily feed
	KindArchive SourceKind = "archive"
	// KindPopular is any popular-image provider
	KindPopular SourceKind = "popular"
)

// CandidateRecord identifies one logical item before resolution.
// Adapters produce it; it is not modified afterwards.
type CandidateRecord struct {
	SourceID    string     `json:"source_id"`   // manifest source component ("bing", "popular")
	Kind        SourceKind `json:"kind"`        // layout family
	Provider    string     `json:"provider"`    // adapter name ("bing-daily", "wallhaven", ...)
	ExternalID  string     `json:"external_id"` // date (YYYYMMDD) for the daily feed, provider id otherwise
	Market      string     `json:"market"`      // market for the daily feed, provider name otherwise
	CaptureDate time.Time  `json:"capture_date"`
	Title       string     `json:"title"`
	Attribution string     `json:"attribution"`
	Hint        string     `json:"hint,omitempty"` // filename hint for popular providers

	// Direct holds per-tier candidate URLs in the order they should be tried.
	Direct map[Resolution][]string `json:"direct"`
	// Oversized marks URLs that are known to serve an image of arbitrary size
	// which must be normalized into the tier box before archiving.
	Oversized map[string]bool `json:"oversized,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Key returns the manifest key of this candidate at the given tier.
func (c *CandidateRecord) Key(res Resolution) ManifestKey {
	return ManifestKey{
		Source:     c.SourceID,
		ExternalID: c.ExternalID,
		Market:     c.Market,
		Resolution: res,
	}
}

var (
	unsafeChars   = regexp.MustCompile(`[\\/:*?"<>|]`)
	spaceRuns     = regexp.MustCompile(`\s+`)
	copyrightTail = regexp.MustCompile(`\s*\(©.*?\)\s*$`)
	hintChars     = regexp.MustCompile(`[^\w\-.]+`)
)

const maxSlugLen = 120

// Slug returns the file stem used for this candidate in the archive.
// Daily and archive items use "<YYYYMMDD>-<title>"; popular items use
// "<provider>-<hint>".
func (c *CandidateRecord) Slug() string {
	if c.Kind == KindPopular {
		base := c.Hint
		if base == "" {
			base = c.ExternalID
		}
		base = strings.Trim(hintChars.ReplaceAllString(base, "_"), "_")
		if base == "" {
			base = "img"
		}
		return truncate(c.Provider + "-" + base)
	}

	title := c.Title
	if title == "" {
		title = c.Attribution
	}
	title = copyrightTail.ReplaceAllString(title, "")
	if strings.TrimSpace(title) == "" {
		title = "BingDaily"
	}
	return SafeFilename(c.DateStamp() + "-" + title)
}

// DateStamp returns the capture date as YYYYMMDD, falling back to the external id.
func (c *CandidateRecord) DateStamp() string {
	if !c.CaptureDate.IsZero() {
		return c.CaptureDate.Format("20060102")
	}
	return c.ExternalID
}

// SafeFilename replaces characters that are invalid on common filesystems,
// collapses whitespace and caps the length.
func SafeFilename(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
	return truncate(s)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxSlugLen {
		return string(r[:maxSlugLen])
	}
	return s
}
