// Package sources lists wallpaper candidates from upstream catalogs: the
// daily image feed, its historical archive and several popular-image
// providers. Adapters only enumerate; downloading belongs to the pipeline.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// SourcePopular is the manifest source component shared by popular providers.
const SourcePopular = "popular"

// JSONGetter is the part of the fetch client adapters depend on.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, dst any) error
}

// Window bounds what an adapter lists.
type Window struct {
	// N caps the number of candidates; zero means the adapter default.
	N int
	// Since drops items captured before this date. Only dated sources honour it.
	Since time.Time
	// Years is the archive backfill depth counted back from the current year.
	Years int
	// Tiers are the requested resolutions. Popular providers keep only
	// items at least as large as the smallest tier.
	Tiers []types.Resolution
	// Query is the free-text search term for popular providers.
	Query string
}

func (w Window) limit(def int) int {
	if w.N > 0 {
		return w.N
	}
	return def
}

func (w Window) tiers() []types.Resolution {
	if len(w.Tiers) == 0 {
		return types.AllResolutions()
	}
	out := append([]types.Resolution(nil), w.Tiers...)
	types.SortResolutions(out)
	return out
}

// minBox is the smallest requested box.
func (w Window) minBox() types.Box {
	t := w.tiers()
	return t[len(t)-1].Box()
}

func (w Window) include(d time.Time) bool {
	return w.Since.IsZero() || d.IsZero() || !d.Before(w.Since)
}

// Adapter enumerates candidates from one upstream.
type Adapter interface {
	Name() string
	Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error)
}

// Result is the outcome of Collect.
type Result struct {
	Candidates []types.CandidateRecord
	// Failures maps adapter name to the error that stopped it.
	Failures map[string]error
}

// Collect queries all adapters concurrently and interleaves their results
// round-robin so no adapter starves another. A failing adapter is skipped;
// the others still contribute. Items with the same identity are kept once.
func Collect(ctx context.Context, adapters []Adapter, w Window, log *logging.Logger) Result {
	if log == nil {
		log = logging.Nop()
	}
	groups := make([][]types.CandidateRecord, len(adapters))
	res := Result{Failures: map[string]error{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, a := range adapters {
		g.Go(func() error {
			start := time.Now()
			items, err := a.Candidates(gctx, w)
			if err != nil {
				log.WithSource(a.Name()).WithError(err).Warn("adapter failed, skipping")
				mu.Lock()
				res.Failures[a.Name()] = err
				mu.Unlock()
				return nil
			}
			log.WithSource(a.Name()).WithDuration(time.Since(start)).Info("listed candidates", "count", len(items))
			groups[i] = items
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]bool{}
	for _, c := range Interleave(groups) {
		id := identity(&c)
		if seen[id] {
			continue
		}
		seen[id] = true
		res.Candidates = append(res.Candidates, c)
	}
	return res
}

// Interleave merges groups by taking one item from each non-empty group in turn.
func Interleave(groups [][]types.CandidateRecord) []types.CandidateRecord {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]types.CandidateRecord, 0, total)
	for i := 0; len(out) < total; i++ {
		for _, g := range groups {
			if i < len(g) {
				out = append(out, g[i])
			}
		}
	}
	return out
}

func identity(c *types.CandidateRecord) string {
	return c.SourceID + ":" + c.ExternalID + ":" + c.Market
}

// Registry holds adapter constructors by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered adapter names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select returns the named adapters in the order given.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		a, ok := r.adapters[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("unknown source %q (available: %s)", n, strings.Join(r.Names(), ", "))
		}
		out = append(out, a)
	}
	return out, nil
}

// popularCandidate builds a record for a provider item of native size w×h.
// The URL is attached to the highest requested tier the image covers; the
// lower tiers are derived from it. Items smaller than every tier are dropped.
func popularCandidate(provider, id, hint, url string, w, h int, tiers []types.Resolution) (types.CandidateRecord, bool) {
	if id == "" || url == "" {
		return types.CandidateRecord{}, false
	}
	for _, res := range tiers {
		if b := res.Box(); w < b.Width || h < b.Height {
			continue
		}
		return types.CandidateRecord{
			SourceID:   SourcePopular,
			Kind:       types.KindPopular,
			Provider:   provider,
			ExternalID: id,
			Market:     provider,
			Hint:       hint,
			Direct:     map[types.Resolution][]string{res: {url}},
			Meta: map[string]string{
				"width":  fmt.Sprint(w),
				"height": fmt.Sprint(h),
			},
		}, true
	}
	return types.CandidateRecord{}, false
}
