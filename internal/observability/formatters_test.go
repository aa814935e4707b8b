package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/wallpaper-archiver/internal/pipeline"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

func TestPrintRunSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRunSummary(&pipeline.Summary{
		RunID:      "run-1",
		Candidates: 2,
		Tasks:      6,
		Archived:   4,
		Generated:  1,
		Failed:     1,
		Failures: []pipeline.TaskFailure{
			{Key: "bing:20250101:en-US:1k", Reason: "HTTP 404", Terminal: true},
		},
		SourceErrors: map[string]string{"openverse": "HTTP 429"},
		Duration:     1500 * time.Millisecond,
	})
	output := buf.String()

	assert.Contains(t, output, "RUN SUMMARY")
	assert.NotContains(t, output, "✅")
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "Candidates: 2 (6 tasks)")
	assert.Contains(t, output, "Archived:             4")
	assert.Contains(t, output, "bing:20250101:en-US:1k [final]")
	assert.Contains(t, output, "openverse: HTTP 429")
}

func TestPrintRunSummary_OK(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRunSummary(&pipeline.Summary{RunID: "r", Archived: 3})
	assert.Contains(t, buf.String(), "✅ RUN SUMMARY")
}

func TestPrintRunSummary_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRunSummary(nil)
	assert.Empty(t, buf.String())
}

func TestPrintRunSummary_TruncatesFailures(t *testing.T) {
	var buf bytes.Buffer
	sum := &pipeline.Summary{RunID: "r"}
	for i := 0; i < maxItemsToShow+3; i++ {
		sum.Failures = append(sum.Failures, pipeline.TaskFailure{Key: "k", Reason: "x"})
	}
	sum.Failed = len(sum.Failures)

	NewPrinter(&buf).PrintRunSummary(sum)
	assert.Contains(t, buf.String(), "... and 3 more")
}

func TestPrintCandidates(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintCandidates([]types.CandidateRecord{{
		Provider:   "bing-daily",
		ExternalID: "20250101",
		Title:      "Snowy owl",
		Direct: map[types.Resolution][]string{
			types.Res4K: {"https://example.com/a_UHD.jpg"},
			types.Res1K: {"https://example.com/a_1920x1080.jpg"},
		},
	}})
	output := buf.String()

	assert.Contains(t, output, "Listed 1 candidates")
	assert.Contains(t, output, "bing-daily 20250101")
	assert.Contains(t, output, "[4k 1k]")
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	key := types.ManifestKey{Source: "bing", ExternalID: "20250101", Market: "en-US", Resolution: types.Res4K}
	p.PrintEntries([]types.ManifestEntry{
		{Key: key, Status: types.StatusComplete, FilePath: "/w/4k/2025/01/a.4k.jpg", Attempts: 1},
		{Key: key, Status: types.StatusFailed, LastError: "HTTP 404", Attempts: 4},
		{Key: key, Status: types.StatusComplete, DuplicateOf: "bing:20241231:en-US:4k"},
	})
	output := buf.String()

	lines := strings.Split(strings.TrimSpace(output), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Contains(t, output, "/w/4k/2025/01/a.4k.jpg")
	assert.Contains(t, output, "HTTP 404")
	assert.Contains(t, output, "duplicate of bing:20241231:en-US:4k")
	assert.Contains(t, output, "3 entries: 2 complete, 0 pending, 1 failed")
}

func TestPrintEntries_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintEntries(nil)
	assert.Equal(t, "no entries\n", buf.String())
}

func TestPrintReconcile(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintReconcile(0)
	p.PrintReconcile(2)
	assert.Contains(t, buf.String(), "manifest consistent")
	assert.Contains(t, buf.String(), "demoted 2 entries")
}
