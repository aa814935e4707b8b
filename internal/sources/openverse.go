package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const (
	DefaultOpenverseEndpoint = "https://api.openverse.org/v1/images/"
	openverseMaxPages        = 6
	openversePageSize        = 50
)

// Openverse lists openly licensed wide images. Anonymous access works but
// is heavily rate limited; a token raises the limit.
type Openverse struct {
	Client   JSONGetter
	Endpoint string
	Token    string
	Logger   *logging.Logger
}

type openverseItem struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	URL               string     `json:"url"`
	Thumbnail         string     `json:"thumbnail"`
	Width             flexString `json:"width"`
	Height            flexString `json:"height"`
	Creator           string     `json:"creator"`
	License           string     `json:"license"`
	LicenseURL        string     `json:"license_url"`
	Attribution       string     `json:"attribution"`
	ForeignLandingURL string     `json:"foreign_landing_url"`
}

type openverseResponse struct {
	Results   []json.RawMessage `json:"results"`
	PageCount int               `json:"page_count"`
}

// Name implements Adapter.
func (o *Openverse) Name() string { return "openverse" }

// Candidates implements Adapter.
func (o *Openverse) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	limit := w.limit(40)
	tiers := w.tiers()
	q := w.Query
	if q == "" {
		q = "wallpaper"
	}
	params := url.Values{
		"q":            {q},
		"aspect_ratio": {"wide"},
		"size":         {"large"},
		"page_size":    {strconv.Itoa(openversePageSize)},
	}
	var headers map[string]string
	if o.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + o.Token}
	}

	var out []types.CandidateRecord
	for page := 1; page <= openverseMaxPages && len(out) < limit; page++ {
		params.Set("page", strconv.Itoa(page))
		var resp openverseResponse
		if err := o.Client.GetJSON(ctx, o.endpoint(), params, headers, &resp); err != nil {
			if len(out) > 0 {
				break
			}
			return nil, fmt.Errorf("openverse page %d: %w", page, err)
		}
		for _, it := range decodeRecords[openverseItem](resp.Results, o.Logger, o.Name()) {
			link := it.URL
			if link == "" {
				link = it.Thumbnail
			}
			hint := it.Title
			if hint == "" {
				hint = it.ID
			}
			c, ok := popularCandidate(o.Name(), it.ID, hint, link, it.Width.Int(), it.Height.Int(), tiers)
			if !ok {
				continue
			}
			c.Title = it.Title
			c.Attribution = it.Attribution
			if c.Attribution == "" {
				c.Attribution = it.Creator
			}
			setIf(c.Meta, "license", it.License)
			setIf(c.Meta, "license_url", it.LicenseURL)
			setIf(c.Meta, "link", it.ForeignLandingURL)
			out = append(out, c)
			if len(out) >= limit {
				break
			}
		}
		if len(resp.Results) == 0 || (resp.PageCount > 0 && page >= resp.PageCount) {
			break
		}
	}
	return out, nil
}

func (o *Openverse) endpoint() string {
	if o.Endpoint == "" {
		return DefaultOpenverseEndpoint
	}
	return o.Endpoint
}

func setIf(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
