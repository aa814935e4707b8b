package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

func dailyCandidate() *types.CandidateRecord {
	return &types.CandidateRecord{
		SourceID:   "bing",
		Kind:       types.KindDaily,
		Provider:   "bing-daily",
		ExternalID: "20250101",
		Market:     "en-US",
		Direct: map[types.Resolution][]string{
			types.Res4K: {"https://www.bing.com/th?id=OHR.A_UHD.jpg"},
			types.Res2K: {"https://www.bing.com/th?id=OHR.A_1920x1200.jpg", "https://www.bing.com/th?id=OHR.A_2560x1440.jpg"},
			types.Res1K: {"https://www.bing.com/th?id=OHR.A_1920x1080.jpg"},
		},
	}
}

func TestPlan_DailyChain(t *testing.T) {
	tasks := New(Options{}).Plan(dailyCandidate(), []types.Resolution{types.Res1K, types.Res4K, types.Res2K})
	require.Len(t, tasks, 3)

	assert.Equal(t, types.Res4K, tasks[0].Resolution)
	assert.Equal(t, types.FallbackNone, tasks[0].Fallback.Kind)
	assert.False(t, tasks[0].Normalize)

	assert.Equal(t, types.Res2K, tasks[1].Resolution)
	assert.Equal(t, types.Fallback{Kind: types.FallbackDownsample, From: types.Res4K}, tasks[1].Fallback)
	assert.Len(t, tasks[1].URLs, 2)
	assert.True(t, tasks[1].Normalize)

	assert.Equal(t, types.Fallback{Kind: types.FallbackDownsample, From: types.Res2K}, tasks[2].Fallback)
	assert.Equal(t, "bing:20250101:en-US:1k", tasks[2].ID())
}

func TestPlan_LocalOnlyTier(t *testing.T) {
	c := dailyCandidate()
	delete(c.Direct, types.Res1K)

	tasks := New(Options{}).Plan(c, types.AllResolutions())
	require.Len(t, tasks, 3)
	assert.True(t, tasks[2].Local())
	assert.Empty(t, tasks[2].URLs)
}

func TestPlan_SkipsUnreachableTopTier(t *testing.T) {
	c := dailyCandidate()
	delete(c.Direct, types.Res4K)

	tasks := New(Options{}).Plan(c, types.AllResolutions())
	require.Len(t, tasks, 2)
	assert.Equal(t, types.Res2K, tasks[0].Resolution)
	assert.Equal(t, types.FallbackNone, tasks[0].Fallback.Kind)
	assert.Equal(t, types.Res2K, tasks[1].Fallback.From)
}

func TestPlan_OversizedArchiveLink(t *testing.T) {
	storage := "https://bing.npanuhin.me/US/en/2020-01-01.jpg"
	c := &types.CandidateRecord{
		SourceID: "bing", Kind: types.KindArchive, ExternalID: "20200101", Market: "en-US",
		Direct:    map[types.Resolution][]string{types.Res4K: {storage, storage}},
		Oversized: map[string]bool{storage: true},
	}
	tasks := New(Options{}).Plan(c, []types.Resolution{types.Res4K})
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Normalize)
	assert.Equal(t, []string{storage}, tasks[0].URLs)
}

func TestPlan_PopularExactCrop(t *testing.T) {
	c := &types.CandidateRecord{
		SourceID: "popular", Kind: types.KindPopular, Provider: "wallhaven", ExternalID: "abc", Market: "wallhaven",
		Direct: map[types.Resolution][]string{
			types.Res4K: {"https://w.wallhaven.cc/full/ab/wallhaven-abc.jpg"},
			types.Res1K: {"https://w.wallhaven.cc/full/ab/wallhaven-abc.jpg"},
		},
	}

	tasks := New(Options{Exact: true}).Plan(c, []types.Resolution{types.Res4K, types.Res1K})
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.True(t, task.Crop)
		assert.False(t, task.Normalize)
	}

	tasks = New(Options{}).Plan(c, []types.Resolution{types.Res4K})
	assert.True(t, tasks[0].Normalize)
}

func TestPlan_NothingToDo(t *testing.T) {
	c := &types.CandidateRecord{SourceID: "bing", ExternalID: "x", Market: "en-US"}
	assert.Empty(t, New(Options{}).Plan(c, types.AllResolutions()))
}
