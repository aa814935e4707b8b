// Package resolve turns a candidate into per-tier fetch tasks and implements
// the local image transforms used by the downsample and normalize paths.
package resolve

import (
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// Options configures a Resolver.
type Options struct {
	// Exact crops popular-provider outputs to the tier box exactly.
	Exact bool
}

// Resolver plans FetchTasks for candidates.
type Resolver struct {
	opts Options
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Plan returns one task per requested tier that can be satisfied, highest
// tier first. A tier with direct URLs is fetched; any tier below the first
// emitted one also gets a downsample fallback from the nearest emitted
// higher tier. A tier with neither is omitted.
func (r *Resolver) Plan(c *types.CandidateRecord, tiers []types.Resolution) []*types.FetchTask {
	ordered := append([]types.Resolution(nil), tiers...)
	types.SortResolutions(ordered)

	var tasks []*types.FetchTask
	var higher types.Resolution
	for _, res := range ordered {
		urls := dedupeURLs(c.Direct[res])
		fb := types.Fallback{Kind: types.FallbackNone}
		if higher != "" {
			fb = types.Fallback{Kind: types.FallbackDownsample, From: higher}
		}
		if len(urls) == 0 && fb.Kind == types.FallbackNone {
			continue
		}

		t := &types.FetchTask{
			Key:        c.Key(res),
			Candidate:  c,
			Resolution: res,
			URLs:       urls,
			Fallback:   fb,
		}
		switch {
		case c.Kind == types.KindPopular && r.opts.Exact:
			t.Crop = true
		case higher != "" || c.Kind == types.KindPopular || anyOversized(c, urls):
			t.Normalize = true
		}
		tasks = append(tasks, t)
		higher = res
	}
	return tasks
}

func anyOversized(c *types.CandidateRecord, urls []string) bool {
	for _, u := range urls {
		if c.Oversized[u] {
			return true
		}
	}
	return false
}

func dedupeURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
