package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jonathan/wallpaper-archiver/internal/fetch"
	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const (
	DefaultWikimediaEndpoint = "https://commons.wikimedia.org/w/api.php"
	DefaultWikimediaCategory = "Category:Featured_pictures_of_landscapes"
)

// Wikimedia lists featured pictures of a Commons category. Commons asks
// API clients to send a descriptive User-Agent with contact details.
type Wikimedia struct {
	Client    JSONGetter
	Endpoint  string
	Category  string
	UserAgent string
	Logger    *logging.Logger
}

type extValue struct {
	Value flexString `json:"value"`
}

func (v extValue) String() string { return string(v.Value) }

type wikimediaPage struct {
	PageID    int    `json:"pageid"`
	Title     string `json:"title"`
	ImageInfo []struct {
		URL         string              `json:"url"`
		Width       int                 `json:"width"`
		Height      int                 `json:"height"`
		ExtMetadata map[string]extValue `json:"extmetadata"`
	} `json:"imageinfo"`
}

type wikimediaResponse struct {
	Continue struct {
		GCMContinue string `json:"gcmcontinue"`
	} `json:"continue"`
	Query struct {
		Pages map[string]json.RawMessage `json:"pages"`
	} `json:"query"`
}

// Name implements Adapter.
func (m *Wikimedia) Name() string { return "wikimedia" }

// Candidates implements Adapter.
func (m *Wikimedia) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	limit := w.limit(40)
	tiers := w.tiers()
	category := m.Category
	if category == "" {
		category = DefaultWikimediaCategory
	}
	var headers map[string]string
	if m.UserAgent != "" {
		headers = map[string]string{"User-Agent": m.UserAgent}
	}

	var out []types.CandidateRecord
	cont := ""
	for len(out) < limit {
		params := url.Values{
			"action":    {"query"},
			"format":    {"json"},
			"generator": {"categorymembers"},
			"gcmtitle":  {category},
			"gcmtype":   {"file"},
			"gcmlimit":  {"50"},
			"prop":      {"imageinfo"},
			"iiprop":    {"url|size|extmetadata"},
		}
		if cont != "" {
			params.Set("gcmcontinue", cont)
		}
		var resp wikimediaResponse
		if err := m.Client.GetJSON(ctx, m.endpoint(), params, headers, &resp); err != nil {
			if len(out) > 0 {
				break
			}
			return nil, fmt.Errorf("wikimedia: %w", err)
		}

		// Pages arrive as a JSON object; order them for stable output.
		pages := decodeRecordMap[wikimediaPage](resp.Query.Pages, m.Logger, m.Name())
		ids := make([]string, 0, len(pages))
		for id := range pages {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			page := pages[id]
			if len(page.ImageInfo) == 0 {
				continue
			}
			ii := page.ImageInfo[0]
			name := strings.TrimPrefix(page.Title, "File:")
			c, ok := popularCandidate(m.Name(), strconv.Itoa(page.PageID), name, ii.URL, ii.Width, ii.Height, tiers)
			if !ok {
				continue
			}
			c.Title = fetch.HTMLToText(ii.ExtMetadata["ObjectName"].String())
			if c.Title == "" {
				c.Title = strings.TrimSuffix(name, pathExt(name))
			}
			c.Attribution = attribution(ii.ExtMetadata)
			setIf(c.Meta, "description", fetch.HTMLToText(ii.ExtMetadata["ImageDescription"].String()))
			setIf(c.Meta, "license", ii.ExtMetadata["LicenseShortName"].String())
			setIf(c.Meta, "license_url", ii.ExtMetadata["LicenseUrl"].String())
			out = append(out, c)
			if len(out) >= limit {
				break
			}
		}

		cont = resp.Continue.GCMContinue
		if cont == "" {
			break
		}
	}
	return out, nil
}

// attribution renders "<artist>, <license>" from image extmetadata, whose
// Artist field is usually an HTML link.
func attribution(meta map[string]extValue) string {
	var parts []string
	if a := fetch.HTMLToText(meta["Artist"].String()); a != "" {
		parts = append(parts, a)
	}
	if l := strings.TrimSpace(meta["LicenseShortName"].String()); l != "" {
		parts = append(parts, l)
	}
	return strings.Join(parts, ", ")
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

func (m *Wikimedia) endpoint() string {
	if m.Endpoint == "" {
		return DefaultWikimediaEndpoint
	}
	return m.Endpoint
}
