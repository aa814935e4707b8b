package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

type stubAdapter struct {
	name  string
	items []types.CandidateRecord
	err   error
	seen  Window
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Candidates(_ context.Context, w Window) ([]types.CandidateRecord, error) {
	s.seen = w
	return s.items, s.err
}

func rec(source, id, market string) types.CandidateRecord {
	return types.CandidateRecord{SourceID: source, ExternalID: id, Market: market}
}

func TestInterleave(t *testing.T) {
	got := Interleave([][]types.CandidateRecord{
		{rec("a", "1", "a"), rec("a", "2", "a"), rec("a", "3", "a")},
		nil,
		{rec("b", "1", "b")},
		{rec("c", "1", "c"), rec("c", "2", "c")},
	})
	var ids []string
	for _, c := range got {
		ids = append(ids, c.SourceID+c.ExternalID)
	}
	assert.Equal(t, []string{"a1", "b1", "c1", "a2", "c2", "a3"}, ids)
	assert.Empty(t, Interleave(nil))
}

func TestCollect_SkipsFailuresAndDuplicates(t *testing.T) {
	daily := &stubAdapter{name: "bing-daily", items: []types.CandidateRecord{rec("bing", "20250102", "en-US")}}
	archive := &stubAdapter{name: "bing-archive", items: []types.CandidateRecord{
		rec("bing", "20250102", "en-US"),
		rec("bing", "20250101", "en-US"),
	}}
	broken := &stubAdapter{name: "wallhaven", err: errors.New("boom")}

	w := Window{N: 5, Query: "lake"}
	res := Collect(context.Background(), []Adapter{daily, archive, broken}, w, nil)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "20250102", res.Candidates[0].ExternalID)
	assert.Equal(t, "20250101", res.Candidates[1].ExternalID)
	require.Contains(t, res.Failures, "wallhaven")
	assert.EqualError(t, res.Failures["wallhaven"], "boom")
	assert.Equal(t, w, daily.seen)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "wallhaven"})
	r.Register(&stubAdapter{name: "openverse"})

	assert.Equal(t, []string{"openverse", "wallhaven"}, r.Names())
	_, ok := r.Get("openverse")
	assert.True(t, ok)

	got, err := r.Select([]string{"wallhaven", " openverse"})
	require.NoError(t, err)
	assert.Equal(t, "wallhaven", got[0].Name())

	_, err = r.Select([]string{"flickr"})
	assert.ErrorContains(t, err, `unknown source "flickr"`)
}

func TestWindow_MinBoxAndInclude(t *testing.T) {
	w := Window{Tiers: []types.Resolution{types.Res2K, types.Res4K}}
	assert.Equal(t, types.Res2K.Box(), w.minBox())
	assert.Equal(t, types.Res1K.Box(), Window{}.minBox())
	assert.True(t, w.include(types.CandidateRecord{}.CaptureDate))
}
