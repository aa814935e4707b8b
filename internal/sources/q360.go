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

// DefaultQ360Endpoint serves both category listings and keyword search.
const DefaultQ360Endpoint = "http://wallpaper.apc.360.cn/index.php"

// DefaultQ360Categories are landscape, anime, cars and games.
var DefaultQ360Categories = []int{9, 26, 12, 5}

var q360Resize = regexp.MustCompile(`/bdr/__\d{2}/`)

// Q360 lists images from the 360 wallpaper catalog. The service renders any
// requested size on the fly, so every tier gets its own resize URL.
type Q360 struct {
	Client     JSONGetter
	Endpoint   string
	Categories []int
	Logger     *logging.Logger
}

type q360Response struct {
	Data []json.RawMessage `json:"data"`
}

type q360Item struct {
	ID   flexString `json:"id"`
	PID  flexString `json:"pid"`
	URL  string     `json:"url"`
	UTag string     `json:"utag"`
	Tag  string     `json:"tag"`
}

// Name implements Adapter.
func (q *Q360) Name() string { return "q360" }

// Candidates implements Adapter.
func (q *Q360) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	limit := w.limit(40)
	tiers := w.tiers()
	var out []types.CandidateRecord

	add := func(raw []json.RawMessage) {
		for _, it := range decodeRecords[q360Item](raw, q.Logger, q.Name()) {
			if len(out) >= limit {
				return
			}
			if c, ok := q.candidate(it, tiers); ok {
				out = append(out, c)
			}
		}
	}

	if w.Query != "" {
		params := url.Values{
			"c":     {"WallPaper"},
			"a":     {"search"},
			"kw":    {w.Query},
			"start": {"0"},
			"count": {strconv.Itoa(min(100, limit))},
		}
		var resp q360Response
		if err := q.Client.GetJSON(ctx, q.endpoint(), params, nil, &resp); err != nil {
			return nil, fmt.Errorf("q360 search: %w", err)
		}
		add(resp.Data)
		return out, nil
	}

	cats := q.Categories
	if len(cats) == 0 {
		cats = DefaultQ360Categories
	}
	for _, cid := range cats {
		if len(out) >= limit {
			break
		}
		params := url.Values{
			"c":     {"WallPaper"},
			"a":     {"getAppsByCategory"},
			"cid":   {strconv.Itoa(cid)},
			"start": {"0"},
			"count": {strconv.Itoa(min(100, limit-len(out)))},
			"from":  {"360chrome"},
		}
		var resp q360Response
		if err := q.Client.GetJSON(ctx, q.endpoint(), params, nil, &resp); err != nil {
			return nil, fmt.Errorf("q360 category %d: %w", cid, err)
		}
		add(resp.Data)
	}
	return out, nil
}

func (q *Q360) candidate(it q360Item, tiers []types.Resolution) (types.CandidateRecord, bool) {
	id := string(it.ID)
	if id == "" {
		id = string(it.PID)
	}
	if id == "" || it.URL == "" {
		return types.CandidateRecord{}, false
	}
	hint := it.UTag
	if hint == "" {
		hint = it.Tag
	}
	if hint == "" {
		hint = id
	}

	direct := map[types.Resolution][]string{}
	if !q360Resize.MatchString(it.URL) {
		// Without a resize segment only the original is available.
		direct[tiers[0]] = []string{it.URL}
	} else {
		for _, res := range tiers {
			direct[res] = []string{resizeURL(it.URL, res.Box())}
		}
	}
	return types.CandidateRecord{
		SourceID:   SourcePopular,
		Kind:       types.KindPopular,
		Provider:   q.Name(),
		ExternalID: id,
		Market:     q.Name(),
		Title:      it.UTag,
		Hint:       hint,
		Direct:     direct,
		Meta:       map[string]string{"raw": it.URL},
	}, true
}

func resizeURL(raw string, box types.Box) string {
	return q360Resize.ReplaceAllString(raw, fmt.Sprintf("/bdm/%d_%d_100/", box.Width, box.Height))
}

func (q *Q360) endpoint() string {
	if q.Endpoint == "" {
		return DefaultQ360Endpoint
	}
	return q.Endpoint
}
