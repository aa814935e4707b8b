package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// versionedServer serves body with a strong ETag through http.ServeContent,
// which honours Range and If-Range, and records the request headers.
func versionedServer(t *testing.T, etag string, body []byte) (*httptest.Server, *atomic.Value, *atomic.Value) {
	t.Helper()
	var rangeHdr, ifRangeHdr atomic.Value
	rangeHdr.Store("")
	ifRangeHdr.Store("")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr.Store(r.Header.Get("Range"))
		ifRangeHdr.Store(r.Header.Get("If-Range"))
		w.Header().Set("ETag", etag)
		http.ServeContent(w, r, "img.png", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(server.Close)
	return server, &rangeHdr, &ifRangeHdr
}

func writePartial(t *testing.T, dst string, data []byte, meta *partMeta) {
	t.Helper()
	part := dst + PartSuffix
	require.NoError(t, os.WriteFile(part, data, 0o644))
	if meta != nil {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(part+MetaSuffix, raw, 0o644))
	}
}

func TestDownload_ChangedUpstreamRestartsPartial(t *testing.T) {
	v1 := testPNG(t, 120, 80)
	v2 := append([]byte(nil), v1...)
	half := len(v1) / 2
	v2[half/2] ^= 0xff
	server, rangeHdr, ifRangeHdr := versionedServer(t, `"v2"`, v2)

	dst := filepath.Join(t.TempDir(), "img.png")
	writePartial(t, dst, v1[:half], &partMeta{ETag: `"v1"`})

	res, err := testClient().Download(context.Background(), server.URL, dst, DownloadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "bytes="+strconvItoa(half)+"-", rangeHdr.Load())
	assert.Equal(t, `"v1"`, ifRangeHdr.Load())
	assert.False(t, res.Resumed)
	assert.Equal(t, http.StatusOK, res.Status)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, v2, got, "no bytes of the old version survive")
	assert.NoFileExists(t, dst+PartSuffix+MetaSuffix)
}

func TestDownload_ResumesMatchingVersion(t *testing.T) {
	body := testPNG(t, 120, 80)
	half := len(body) / 2
	server, rangeHdr, ifRangeHdr := versionedServer(t, `"v1"`, body)

	dst := filepath.Join(t.TempDir(), "img.png")
	writePartial(t, dst, body[:half], &partMeta{ETag: `"v1"`})

	res, err := testClient().Download(context.Background(), server.URL, dst, DownloadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "bytes="+strconvItoa(half)+"-", rangeHdr.Load())
	assert.Equal(t, `"v1"`, ifRangeHdr.Load())
	assert.True(t, res.Resumed)
	assert.Equal(t, http.StatusPartialContent, res.Status)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_DiscardsOldPartialWithoutValidator(t *testing.T) {
	body := testPNG(t, 120, 80)
	server, rangeHdr, _ := versionedServer(t, `"v1"`, body)

	dst := filepath.Join(t.TempDir(), "img.png")
	writePartial(t, dst, []byte("bytes of some older version"), nil)
	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(dst+PartSuffix, old, old))

	res, err := testClient().Download(context.Background(), server.URL, dst, DownloadOptions{})
	require.NoError(t, err)

	assert.Empty(t, rangeHdr.Load(), "a partial of unknown version is not resumed")
	assert.False(t, res.Resumed)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_RecordsValidatorsOfPartial(t *testing.T) {
	body := testPNG(t, 120, 80)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Length", strconvItoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body[:len(body)/3])
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "img.png")
	client := NewClient(Options{Timeout: 5 * time.Second, Policy: Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}})
	_, err := client.Download(context.Background(), server.URL, dst, DownloadOptions{})
	require.Error(t, err)

	m, ok := readPartMeta(dst + PartSuffix)
	require.True(t, ok)
	assert.Equal(t, `"v1"`, m.ETag)
	assert.Equal(t, `"v1"`, m.ifRange())
	assert.Equal(t, "Wed, 01 Jan 2025 00:00:00 GMT", partMeta{ETag: `W/"v1"`, LastModified: "Wed, 01 Jan 2025 00:00:00 GMT"}.ifRange())
}
