package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const (
	DefaultWallhavenEndpoint = "https://wallhaven.cc/api/v1/search"
	wallhavenMaxPages        = 10
)

// Wallhaven sort orders.
const (
	SortDateAdded = "date_added"
	SortToplist   = "toplist"
	SortRandom    = "random"
)

var resolutionPattern = regexp.MustCompile(`^(\d+)\s*x\s*(\d+)`)

// Wallhaven lists SFW general wallpapers from the wallhaven search API.
type Wallhaven struct {
	Client   JSONGetter
	Endpoint string
	APIKey   string
	// Sorting is date_added (default), toplist or random.
	Sorting string
	// TopRange applies to toplist, for example 1d, 1w, 1M, 1y.
	TopRange string
	// Seed makes random sorting reproducible.
	Seed   string
	Logger *logging.Logger
}

type wallhavenItem struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	Category   string `json:"category"`
}

type wallhavenResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		LastPage flexString `json:"last_page"`
	} `json:"meta"`
}

// Name implements Adapter.
func (h *Wallhaven) Name() string { return "wallhaven" }

// Candidates implements Adapter.
func (h *Wallhaven) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	limit := w.limit(40)
	tiers := w.tiers()
	box := w.minBox()

	sorting := h.Sorting
	if sorting == "" {
		sorting = SortDateAdded
	}
	params := url.Values{
		"q":          {w.Query},
		"purity":     {"100"},
		"categories": {"100"},
		"atleast":    {fmt.Sprintf("%dx%d", box.Width, box.Height)},
		"order":      {"desc"},
		"sorting":    {sorting},
	}
	switch {
	case sorting == SortToplist:
		topRange := h.TopRange
		if topRange == "" {
			topRange = "1M"
		}
		params.Set("topRange", topRange)
	case sorting == SortRandom && h.Seed != "":
		params.Set("seed", h.Seed)
	}
	var headers map[string]string
	if h.APIKey != "" {
		headers = map[string]string{"X-API-Key": h.APIKey}
	}

	var out []types.CandidateRecord
	for page := 1; page <= wallhavenMaxPages && len(out) < limit; page++ {
		params.Set("page", strconv.Itoa(page))
		var resp wallhavenResponse
		if err := h.Client.GetJSON(ctx, h.endpoint(), params, headers, &resp); err != nil {
			if len(out) > 0 {
				break
			}
			return nil, fmt.Errorf("wallhaven page %d: %w", page, err)
		}
		for _, it := range decodeRecords[wallhavenItem](resp.Data, h.Logger, h.Name()) {
			m := resolutionPattern.FindStringSubmatch(it.Resolution)
			if m == nil {
				continue
			}
			width, _ := strconv.Atoi(m[1])
			height, _ := strconv.Atoi(m[2])
			c, ok := popularCandidate(h.Name(), it.ID, it.ID, it.Path, width, height, tiers)
			if !ok {
				continue
			}
			if it.URL != "" {
				c.Meta["link"] = it.URL
			}
			if it.Category != "" {
				c.Meta["category"] = it.Category
			}
			out = append(out, c)
			if len(out) >= limit {
				break
			}
		}
		if len(resp.Data) == 0 || (resp.Meta.LastPage.Int() > 0 && page >= resp.Meta.LastPage.Int()) {
			break
		}
	}
	return out, nil
}

func (h *Wallhaven) endpoint() string {
	if h.Endpoint == "" {
		return DefaultWallhavenEndpoint
	}
	return h.Endpoint
}
