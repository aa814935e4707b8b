package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// PartSuffix marks an incomplete download next to its destination.
const PartSuffix = ".part"

// MetaSuffix names the sidecar holding the validators of a partial download.
const MetaSuffix = ".meta"

// partMeta identifies the upstream version a partial file belongs to.
type partMeta struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// ifRange returns the validator to send with a resume request. Weak ETags
// are not valid in If-Range.
func (m partMeta) ifRange() string {
	if m.ETag != "" && !strings.HasPrefix(m.ETag, "W/") {
		return m.ETag
	}
	return m.LastModified
}

func readPartMeta(part string) (partMeta, bool) {
	data, err := os.ReadFile(part + MetaSuffix)
	if err != nil {
		return partMeta{}, false
	}
	var m partMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return partMeta{}, false
	}
	return m, true
}

func writePartMeta(part string, m partMeta) error {
	if m.ETag == "" && m.LastModified == "" {
		return removeMeta(part)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(part+MetaSuffix, data, 0o644)
}

func removeMeta(part string) error {
	if err := os.Remove(part + MetaSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// discardPart removes a partial download and its sidecar.
func discardPart(part string) {
	_ = os.Remove(part)
	_ = removeMeta(part)
}

// Validators are cache validators from a previous successful fetch.
type Validators struct {
	ETag         string
	LastModified string
}

// DownloadOptions tunes a single download.
type DownloadOptions struct {
	Validators Validators
	// CheckRobots consults the robots gate before the first request.
	CheckRobots bool
	Headers     map[string]string
}

// Result describes a finished download.
type Result struct {
	URL          string
	Path         string
	Status       int
	NotModified  bool
	Resumed      bool
	ETag         string
	LastModified string
	Size         int64
	Width        int
	Height       int
	Format       string
	Attempts     int
}

// Download fetches rawURL into dst. Bytes land in dst+".part" first; an
// interrupted transfer is resumed with a Range request on the next attempt
// when the server honours it. A partial is only resumed against the version
// it came from: the first response's validators are kept next to it and
// sent as If-Range, and a partial with no known validator is resumed only
// if it was written by this client. The part file is promoted to dst only
// after its length and image header check out. A 304 for the given
// validators returns a Result with NotModified set and leaves dst untouched.
func (c *Client) Download(ctx context.Context, rawURL, dst string, opts DownloadOptions) (*Result, error) {
	u, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.CheckRobots && !c.robots.Allowed(ctx, u) {
		return nil, &Error{URL: rawURL, Message: "disallowed by robots.txt", Kind: KindRejected, Attempts: 0}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	part := dst + PartSuffix
	res := &Result{URL: rawURL, Path: dst}
	attempts, err := c.retry(ctx, rawURL, func(ctx context.Context) error {
		return c.downloadOnce(ctx, rawURL, part, opts, res, true)
	})
	res.Attempts = attempts
	if err != nil {
		return nil, err
	}
	if res.NotModified {
		return res, nil
	}

	cfg, format, err := decodeConfig(part)
	if err != nil {
		discardPart(part)
		return nil, &Error{URL: rawURL, Message: "downloaded bytes are not a decodable image", Kind: KindCorrupt, Attempts: attempts, Cause: err}
	}
	res.Width, res.Height, res.Format = cfg.Width, cfg.Height, format

	if err := os.Rename(part, dst); err != nil {
		return nil, fmt.Errorf("failed to promote %s: %w", part, err)
	}
	_ = removeMeta(part)
	return res, nil
}

// resumeFrom returns the offset to resume part from and the If-Range value
// to send, discarding a partial that cannot be tied to an upstream version.
func (c *Client) resumeFrom(part string) (int64, string) {
	st, err := os.Stat(part)
	if err != nil || st.Size() == 0 {
		return 0, ""
	}
	if m, ok := readPartMeta(part); ok {
		if v := m.ifRange(); v != "" {
			return st.Size(), v
		}
	}
	if st.ModTime().Before(c.started) {
		c.log.Debug("discarding partial of unknown version", "path", part)
		discardPart(part)
		return 0, ""
	}
	return st.Size(), ""
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, part string, opts DownloadOptions, res *Result, allowRange bool) error {
	var (
		offset  int64
		ifRange string
	)
	if allowRange {
		offset, ifRange = c.resumeFrom(part)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{URL: rawURL, Message: "failed to create request", Kind: KindRejected, Cause: err}
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Validators.ETag != "" {
		req.Header.Set("If-None-Match", opts.Validators.ETag)
	} else if opts.Validators.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.Validators.LastModified)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		if ifRange != "" {
			req.Header.Set("If-Range", ifRange)
		}
	}

	resp, done, err := c.roundTrip(ctx, req)
	if err != nil {
		return transportError(ctx, rawURL, "HTTP request failed", err)
	}
	defer done()

	switch resp.StatusCode {
	case http.StatusNotModified:
		res.Status = resp.StatusCode
		res.NotModified = true
		return nil
	case http.StatusRequestedRangeNotSatisfiable:
		// stale partial: restart from zero within the same attempt
		discardPart(part)
		if !allowRange {
			return statusError(rawURL, resp)
		}
		done()
		return c.downloadOnce(ctx, rawURL, part, opts, res, false)
	case http.StatusOK, http.StatusPartialContent:
	default:
		return statusError(rawURL, resp)
	}

	etag := resp.Header.Get("ETag")
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	expected := resp.ContentLength
	resumed := false
	if resp.StatusCode == http.StatusPartialContent {
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			discardPart(part)
			return &Error{URL: rawURL, Message: "unexpected Content-Range " + resp.Header.Get("Content-Range"), Kind: KindTransient}
		}
		if m, ok := readPartMeta(part); ok && m.ETag != "" && etag != "" && etag != m.ETag {
			discardPart(part)
			return &Error{URL: rawURL, Message: "resource changed during resume", Kind: KindTransient}
		}
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		expected = total
		resumed = offset > 0
	}

	if resp.StatusCode == http.StatusOK {
		// a full body replaces whatever partial was there
		if err := writePartMeta(part, partMeta{ETag: etag, LastModified: resp.Header.Get("Last-Modified")}); err != nil {
			return fmt.Errorf("failed to record validators of %s: %w", part, err)
		}
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", part, err)
	}
	_, copyErr := io.Copy(f, resp.Body)
	syncErr := f.Sync()
	closeErr := f.Close()
	if copyErr != nil {
		return transportError(ctx, rawURL, "body read interrupted", copyErr)
	}
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("failed to write %s: %w", part, err)
	}

	st, err := os.Stat(part)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", part, err)
	}
	if expected >= 0 && st.Size() != expected {
		if st.Size() > expected {
			discardPart(part)
		}
		return &Error{
			URL:     rawURL,
			Message: fmt.Sprintf("length mismatch: have %d bytes, expected %d", st.Size(), expected),
			Kind:    KindTransient,
		}
	}

	res.Status = resp.StatusCode
	res.Resumed = res.Resumed || resumed
	res.ETag = etag
	res.LastModified = resp.Header.Get("Last-Modified")
	res.Size = st.Size()
	return nil
}

// parseContentRange parses "bytes start-end/total"; total is -1 when "*".
func parseContentRange(v string) (start, total int64, ok bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(strings.TrimPrefix(v, "bytes "), "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if size == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}

func decodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer func() { _ = f.Close() }()
	return image.DecodeConfig(f)
}
