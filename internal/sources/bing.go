package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const (
	// SourceBing is the manifest source component of the daily feed and its archive.
	SourceBing = "bing"

	DefaultBingHost    = "https://www.bing.com"
	DefaultArchiveHost = "https://bing.npanuhin.me"

	// maxDailyImages is the most the daily feed returns per request.
	maxDailyImages = 8
)

// tierSuffixes lists the daily-feed image suffixes per tier in try order.
// For 2k the 1920x1200 rendition exists more often than 2560x1440.
var tierSuffixes = map[types.Resolution][]string{
	types.Res4K: {"UHD"},
	types.Res2K: {"1920x1200", "2560x1440"},
	types.Res1K: {"1920x1080"},
}

var (
	suffixPattern = regexp.MustCompile(`^(.*?)_(UHD|\d+x\d+)\.jpg(.*)$`)
	bingHost      = regexp.MustCompile(`^https?://(?:www\.)?bing\.com`)
)

// swapSuffix replaces the resolution suffix of a daily-feed image URL.
func swapSuffix(raw, suffix string) string {
	m := suffixPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1] + "_" + suffix + ".jpg" + m[3]
}

// normalizeBingHost pins bing.com URLs to one canonical host to avoid
// redirects and cache differences.
func normalizeBingHost(raw string) string {
	return bingHost.ReplaceAllString(raw, DefaultBingHost)
}

// MarketToCountryLang splits a market such as "en-US" into ("US", "en").
func MarketToCountryLang(mkt string) (country, lang string) {
	if mkt == "" {
		mkt = "en-US"
	}
	parts := strings.Split(mkt, "-")
	lang = strings.ToLower(parts[0])
	if lang == "" {
		lang = "en"
	}
	country = "US"
	if len(parts) > 1 && parts[1] != "" {
		country = strings.ToUpper(parts[1])
	}
	return country, lang
}

func parseDate(layout, v string) time.Time {
	if len(v) > len(layout) {
		v = v[:len(layout)]
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BingDaily lists the most recent images of the official daily feed for one market.
type BingDaily struct {
	Client JSONGetter
	Market string
	// Host serves both the feed API and the images.
	Host   string
	Logger *logging.Logger
}

type dailyResponse struct {
	Images []json.RawMessage `json:"images"`
}

type dailyImage struct {
	StartDate     string `json:"startdate"`
	FullStartDate string `json:"fullstartdate"`
	URL           string `json:"url"`
	URLBase       string `json:"urlbase"`
	Copyright     string `json:"copyright"`
	Title         string `json:"title"`
	Caption       string `json:"caption"`
	CopyrightLink string `json:"copyrightlink"`
}

// Name implements Adapter.
func (b *BingDaily) Name() string { return "bing-daily" }

// Candidates implements Adapter. Window.N is capped at what the feed serves.
func (b *BingDaily) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	n := w.limit(1)
	if n > maxDailyImages {
		n = maxDailyImages
	}
	host := strings.TrimRight(b.hostOrDefault(), "/")
	params := url.Values{
		"format": {"js"},
		"idx":    {"0"},
		"n":      {strconv.Itoa(n)},
		"mkt":    {b.market()},
		"uhd":    {"1"},
	}

	var resp dailyResponse
	if err := b.Client.GetJSON(ctx, host+"/HPImageArchive.aspx", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("daily feed %s: %w", b.market(), err)
	}

	images := decodeRecords[dailyImage](resp.Images, b.Logger, b.Name())
	out := make([]types.CandidateRecord, 0, len(images))
	for _, img := range images {
		c, ok := b.candidate(host, img)
		if !ok || !w.include(c.CaptureDate) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *BingDaily) candidate(host string, img dailyImage) (types.CandidateRecord, bool) {
	date := img.StartDate
	if date == "" {
		date = img.FullStartDate
	}
	if len(date) < 8 || (img.URLBase == "" && img.URL == "") {
		return types.CandidateRecord{}, false
	}
	date = date[:8]

	absolute := func(p string) string {
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			return normalizeBingHost(p)
		}
		return host + p
	}

	direct := map[types.Resolution][]string{}
	for res, suffixes := range tierSuffixes {
		for _, suf := range suffixes {
			if suf == "UHD" && img.URL != "" {
				direct[res] = append(direct[res], absolute(img.URL))
			}
			if img.URLBase != "" {
				direct[res] = append(direct[res], absolute(img.URLBase+"_"+suf+".jpg"))
			}
		}
	}

	title := img.Title
	if title == "" {
		title = img.Copyright
	}
	meta := map[string]string{}
	if img.Caption != "" {
		meta["description"] = img.Caption
	}
	if img.CopyrightLink != "" {
		meta["link"] = img.CopyrightLink
	}
	return types.CandidateRecord{
		SourceID:    SourceBing,
		Kind:        types.KindDaily,
		Provider:    b.Name(),
		ExternalID:  date,
		Market:      b.market(),
		CaptureDate: parseDate("20060102", date),
		Title:       title,
		Attribution: img.Copyright,
		Direct:      direct,
		Meta:        meta,
	}, true
}

func (b *BingDaily) market() string {
	if b.Market == "" {
		return "en-US"
	}
	return b.Market
}

func (b *BingDaily) hostOrDefault() string {
	if b.Host == "" {
		return DefaultBingHost
	}
	return b.Host
}

// BingArchive backfills past daily images from the community archive.
// Older feed URLs often no longer resolve, so the archive's own storage
// copy is tried first for 1k.
type BingArchive struct {
	Client JSONGetter
	Market string
	Host   string
	Logger *logging.Logger
	// Now returns the current time; it anchors the Years window.
	Now func() time.Time
}

type archiveItem struct {
	Date        string `json:"date"`
	Title       string `json:"title"`
	Copyright   string `json:"copyright"`
	Description string `json:"description"`
	BingURL     string `json:"bing_url"`
	URL         string `json:"url"`
}

// Name implements Adapter.
func (a *BingArchive) Name() string { return "bing-archive" }

// Candidates implements Adapter. Items are returned newest first.
func (a *BingArchive) Candidates(ctx context.Context, w Window) ([]types.CandidateRecord, error) {
	log := logOrNop(a.Logger)
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	years := w.Years
	if years <= 0 {
		years = 1
	}
	country, lang := MarketToCountryLang(a.market())

	var (
		items   []archiveItem
		full    []archiveItem
		loaded  bool
		lastErr error
		okYears int
	)
	cur := now().Year()
	for i := 0; i < years; i++ {
		year := cur - i
		yearItems, err := a.loadYear(ctx, country, lang, year)
		if err != nil {
			log.WithSource(a.Name()).WithError(err).Debug("year list unavailable, using full list", "year", year)
			if !loaded {
				full, err = a.loadAll(ctx, country, lang)
				loaded = err == nil
			}
			if err != nil {
				lastErr = err
				log.WithSource(a.Name()).WithError(err).Warn("archive list unavailable", "year", year)
				continue
			}
			yearItems = filterYear(full, year)
		}
		okYears++
		items = append(items, yearItems...)
	}
	if okYears == 0 && lastErr != nil {
		return nil, fmt.Errorf("archive %s/%s: %w", country, lang, lastErr)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Date > items[j].Date })

	limit := w.limit(0)
	out := make([]types.CandidateRecord, 0, len(items))
	for _, it := range items {
		c, ok := a.candidate(it)
		if !ok || !w.include(c.CaptureDate) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *BingArchive) loadYear(ctx context.Context, country, lang string, year int) ([]archiveItem, error) {
	return a.load(ctx, fmt.Sprintf("%s/%s/%s.%d.json", a.hostOrDefault(), country, lang, year))
}

func (a *BingArchive) loadAll(ctx context.Context, country, lang string) ([]archiveItem, error) {
	return a.load(ctx, fmt.Sprintf("%s/%s/%s.json", a.hostOrDefault(), country, lang))
}

func (a *BingArchive) load(ctx context.Context, u string) ([]archiveItem, error) {
	var raw []json.RawMessage
	if err := a.Client.GetJSON(ctx, u, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeRecords[archiveItem](raw, a.Logger, a.Name()), nil
}

func filterYear(items []archiveItem, year int) []archiveItem {
	prefix := strconv.Itoa(year) + "-"
	var out []archiveItem
	for _, it := range items {
		if strings.HasPrefix(it.Date, prefix) {
			out = append(out, it)
		}
	}
	return out
}

func (a *BingArchive) candidate(it archiveItem) (types.CandidateRecord, bool) {
	date := strings.ReplaceAll(it.Date, "-", "")
	if len(date) < 8 {
		return types.CandidateRecord{}, false
	}
	date = date[:8]
	bingURL := normalizeBingHost(it.BingURL)

	direct := map[types.Resolution][]string{}
	oversized := map[string]bool{}
	if it.URL != "" {
		direct[types.Res1K] = append(direct[types.Res1K], it.URL)
		oversized[it.URL] = true
	}
	for res, suffixes := range tierSuffixes {
		for _, suf := range suffixes {
			if u := swapSuffix(bingURL, suf); u != "" {
				direct[res] = append(direct[res], u)
			}
		}
	}
	if len(direct) == 0 {
		return types.CandidateRecord{}, false
	}

	title := it.Title
	if title == "" {
		title = it.Copyright
	}
	meta := map[string]string{}
	if it.Description != "" {
		meta["description"] = it.Description
	}
	return types.CandidateRecord{
		SourceID:    SourceBing,
		Kind:        types.KindArchive,
		Provider:    a.Name(),
		ExternalID:  date,
		Market:      a.market(),
		CaptureDate: parseDate("20060102", date),
		Title:       title,
		Attribution: it.Copyright,
		Direct:      direct,
		Oversized:   oversized,
		Meta:        meta,
	}, true
}

func (a *BingArchive) market() string {
	if a.Market == "" {
		return "en-US"
	}
	return a.Market
}

func (a *BingArchive) hostOrDefault() string {
	if a.Host == "" {
		return DefaultArchiveHost
	}
	return strings.TrimRight(a.Host, "/")
}
