package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/wallpaper-archiver/internal/pipeline"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// resetFlags restores every flag to its default so package-level flag
// variables do not leak between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testJPEG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x*3) + seed, G: uint8(y * 5), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// dailyFeed serves a one-image daily feed and every rendition of that image.
type dailyFeed struct {
	*httptest.Server
	feedHits  atomic.Int32
	imageHits atomic.Int32
}

func newDailyFeed(t *testing.T) *dailyFeed {
	t.Helper()
	f := &dailyFeed{}
	sizes := map[string][2]int{
		"UHD":       {64, 36},
		"1920x1200": {48, 30},
		"2560x1440": {48, 27},
		"1920x1080": {32, 18},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/HPImageArchive.aspx", func(w http.ResponseWriter, r *http.Request) {
		f.feedHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"images":[{"startdate":"20250102","urlbase":"/img/OHR.SnowyOwl",`+
			`"title":"Snowy owl in flight","copyright":"Snowy owl (© Example Photographer)"}]}`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/img/OHR.SnowyOwl_"), ".jpg")
		size, ok := sizes[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.imageHits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(testJPEG(t, size[0], size[1], uint8(size[0])))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeTestConfig(t *testing.T, root, bingHost string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallarchive.yaml")
	content := fmt.Sprintf(`root: %s
fetch:
  robots: "off"
  host_rps: 1000
  host_burst: 100
  base_delay: 1ms
  max_delay: 5ms
sources:
  enabled: [bing-daily]
  bing_host: %s
log:
  level: error
profiles:
  oneshot:
    tiers: [1k]
`, root, bingHost)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCommand_ArchivesDailyFeed(t *testing.T) {
	feed := newDailyFeed(t)
	root := t.TempDir()
	cfgPath := writeTestConfig(t, root, feed.URL)

	out, err := execute(t, "run", "--config", cfgPath, "--json")
	require.NoError(t, err, out)

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 3, sum.Tasks)
	assert.Equal(t, 3, sum.Archived)
	assert.Zero(t, sum.Failed)

	for _, res := range types.AllResolutions() {
		matches, err := filepath.Glob(filepath.Join(root, string(res), "2025", "01", "*.jpg"))
		require.NoError(t, err)
		assert.Len(t, matches, 1, "tier %s", res)
	}

	hits := feed.imageHits.Load()
	out, err = execute(t, "run", "--config", cfgPath, "--json")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.SkippedComplete)
	assert.Zero(t, sum.Archived)
	assert.Equal(t, hits, feed.imageHits.Load(), "complete keys are not fetched again")
}

func TestRunCommand_ProfileAndFlagOverrides(t *testing.T) {
	feed := newDailyFeed(t)
	root := t.TempDir()
	cfgPath := writeTestConfig(t, root, feed.URL)

	out, err := execute(t, "run", "--config", cfgPath, "--profile", "oneshot", "--json")
	require.NoError(t, err, out)

	var sum pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Tasks, "profile narrows tiers to 1k")

	other := t.TempDir()
	out, err = execute(t, "run", "--config", cfgPath, "--root", other, "--tiers", "4k,2k", "--json")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.Archived)
	assert.FileExists(t, filepath.Join(other, "manifest.db"))
}

func TestRunCommand_DryRunListsWithoutFetching(t *testing.T) {
	feed := newDailyFeed(t)
	cfgPath := writeTestConfig(t, t.TempDir(), feed.URL)

	out, err := execute(t, "run", "--config", cfgPath, "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Snowy owl in flight")
	assert.Equal(t, int32(1), feed.feedHits.Load())
	assert.Zero(t, feed.imageHits.Load())
}

func TestRunCommand_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown tier", []string{"run", "--tiers", "8k"}, "'tiers[0]' failed 'oneof'"},
		{"unknown source", []string{"run", "--sources", "flickr", "--root", "ROOT"}, `unknown source "flickr"`},
		{"bad dedup", []string{"run", "--dedup", "fuzzy"}, "'dedup.strategy' failed 'oneof'"},
		{"profile without config", []string{"run", "--profile", "popular"}, "--profile requires --config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				args[i] = strings.ReplaceAll(a, "ROOT", t.TempDir())
			}
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStatusAndReconcileCommands(t *testing.T) {
	feed := newDailyFeed(t)
	root := t.TempDir()
	cfgPath := writeTestConfig(t, root, feed.URL)

	out, err := execute(t, "run", "--config", cfgPath, "--json")
	require.NoError(t, err, out)

	out, err = execute(t, "status", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "bing:20250102:en-US:4k")
	assert.Contains(t, out, "3 entries: 3 complete, 0 pending, 0 failed")

	matches, err := filepath.Glob(filepath.Join(root, "4k", "2025", "01", "*.jpg"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, os.Remove(matches[0]))

	out, err = execute(t, "reconcile", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "demoted 1 entries")

	out, err = execute(t, "status", "--config", cfgPath, "--status", "pending", "--json")
	require.NoError(t, err, out)
	var entries []types.ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, types.Res4K, entries[0].Key.Resolution)

	_, err = execute(t, "status", "--config", cfgPath, "--status", "lost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --status")
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallarchive.yaml")

	out, err := execute(t, "init-config", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.FileExists(t, path)

	_, err = execute(t, "init-config", "--output", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init-config", "--output", path, "--force")
	require.NoError(t, err)

	_, err = execute(t, "run", "--config", path, "--profile", "nope", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown profile "nope"`)
}
