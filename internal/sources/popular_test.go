package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

func TestQ360_Categories(t *testing.T) {
	var cids []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "WallPaper", q.Get("c"))
		assert.Equal(t, "getAppsByCategory", q.Get("a"))
		assert.Equal(t, "360chrome", q.Get("from"))
		cid := q.Get("cid")
		cids = append(cids, cid)
		writeJSON(t, w, map[string]any{"data": []map[string]any{
			{"id": cid + "01", "url": "http://p0.qhimg.com/bdr/__85/t01" + cid + ".jpg", "utag": "sunset lake"},
			{"id": 7, "url": "http://p0.qhimg.com/t01plain.jpg", "tag": "plain"},
			{"id": "", "url": ""},
		}})
	}))
	defer server.Close()

	q := &Q360{Client: testClient(), Endpoint: server.URL, Categories: []int{9, 26}}
	got, err := q.Candidates(context.Background(), Window{N: 3, Tiers: []types.Resolution{types.Res1K, types.Res4K}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"9", "26"}, cids)

	c := got[0]
	assert.Equal(t, SourcePopular, c.SourceID)
	assert.Equal(t, "q360", c.Market)
	assert.Equal(t, "901", c.ExternalID)
	assert.Equal(t, "q360-sunset_lake", c.Slug())
	assert.Equal(t, []string{"http://p0.qhimg.com/bdm/3840_2160_100/t019.jpg"}, c.Direct[types.Res4K])
	assert.Equal(t, []string{"http://p0.qhimg.com/bdm/1920_1080_100/t019.jpg"}, c.Direct[types.Res1K])

	plain := got[1]
	assert.Equal(t, "7", plain.ExternalID)
	assert.Equal(t, []string{"http://p0.qhimg.com/t01plain.jpg"}, plain.Direct[types.Res4K])
	assert.Empty(t, plain.Direct[types.Res1K])
}

func TestQ360_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "search", r.URL.Query().Get("a"))
		assert.Equal(t, "aurora", r.URL.Query().Get("kw"))
		writeJSON(t, w, map[string]any{"data": []map[string]any{
			{"id": "1", "url": "http://p0.qhimg.com/bdr/__85/a.jpg", "tag": "aurora"},
		}})
	}))
	defer server.Close()

	got, err := (&Q360{Client: testClient(), Endpoint: server.URL}).Candidates(context.Background(), Window{Query: "aurora"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aurora", got[0].Hint)
	assert.Len(t, got[0].Direct, 3)
}

func TestWallhaven_Candidates(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "100", q.Get("purity"))
		assert.Equal(t, "2560x1440", q.Get("atleast"))
		assert.Equal(t, "toplist", q.Get("sorting"))
		assert.Equal(t, "1w", q.Get("topRange"))
		page := q.Get("page")
		pages = append(pages, page)
		writeJSON(t, w, map[string]any{
			"data": []map[string]any{
				{"id": "big" + page, "path": "https://w.wallhaven.cc/full/big" + page + ".jpg", "resolution": "5120x2880", "url": "https://wallhaven.cc/w/big" + page},
				{"id": "mid" + page, "path": "https://w.wallhaven.cc/full/mid" + page + ".png", "resolution": "2560x1600"},
				{"id": "small" + page, "path": "https://w.wallhaven.cc/full/small.jpg", "resolution": "1920x1080"},
				{"id": "bad" + page, "path": "https://w.wallhaven.cc/full/bad.jpg", "resolution": "unknown"},
			},
			"meta": map[string]any{"last_page": 2},
		})
	}))
	defer server.Close()

	h := &Wallhaven{Client: testClient(), Endpoint: server.URL, APIKey: "secret", Sorting: SortToplist, TopRange: "1w"}
	got, err := h.Candidates(context.Background(), Window{N: 10, Tiers: []types.Resolution{types.Res4K, types.Res2K}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages, "stops at last_page")
	require.Len(t, got, 4)

	big := got[0]
	assert.Equal(t, "wallhaven-big1", big.Slug())
	assert.Equal(t, []string{"https://w.wallhaven.cc/full/big1.jpg"}, big.Direct[types.Res4K])
	assert.Empty(t, big.Direct[types.Res2K])
	assert.Equal(t, "https://wallhaven.cc/w/big1", big.Meta["link"])

	mid := got[1]
	assert.Empty(t, mid.Direct[types.Res4K])
	assert.Equal(t, []string{"https://w.wallhaven.cc/full/mid1.png"}, mid.Direct[types.Res2K])
}

func TestWallhaven_RespectsLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "random", r.URL.Query().Get("sorting"))
		assert.Equal(t, "abc", r.URL.Query().Get("seed"))
		assert.Empty(t, r.Header.Get("X-API-Key"))
		data := make([]map[string]any, 0, 24)
		for i := 0; i < 24; i++ {
			id := fmt.Sprintf("p%s-%d", r.URL.Query().Get("page"), i)
			data = append(data, map[string]any{"id": id, "path": "https://w.wallhaven.cc/" + id + ".jpg", "resolution": "3840x2160"})
		}
		writeJSON(t, w, map[string]any{"data": data, "meta": map[string]any{"last_page": "50"}})
	}))
	defer server.Close()

	h := &Wallhaven{Client: testClient(), Endpoint: server.URL, Sorting: SortRandom, Seed: "abc"}
	got, err := h.Candidates(context.Background(), Window{N: 30})
	require.NoError(t, err)
	assert.Len(t, got, 30)
	assert.Equal(t, 2, calls)
}

func TestOpenverse_Candidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "wallpaper", q.Get("q"))
		assert.Equal(t, "wide", q.Get("aspect_ratio"))
		assert.Equal(t, "large", q.Get("size"))
		assert.Equal(t, "50", q.Get("page_size"))
		writeJSON(t, w, map[string]any{
			"results": []map[string]any{
				{
					"id": "ov-1", "title": "Mountain dawn", "url": "https://live.staticflickr.com/1.jpg",
					"width": 4000, "height": 2250, "license": "by", "license_url": "https://creativecommons.org/licenses/by/2.0/",
					"attribution": "\"Mountain dawn\" by someone is licensed under CC BY 2.0.",
					"foreign_landing_url": "https://www.flickr.com/photos/1",
				},
				{"id": "ov-2", "title": "tiny", "url": "https://live.staticflickr.com/2.jpg", "width": 800, "height": 600},
				{"id": "ov-3", "title": "no size", "url": "https://live.staticflickr.com/3.jpg"},
			},
			"page_count": 1,
		})
	}))
	defer server.Close()

	o := &Openverse{Client: testClient(), Endpoint: server.URL, Token: "tok"}
	got, err := o.Candidates(context.Background(), Window{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "ov-1", c.ExternalID)
	assert.Equal(t, "openverse", c.Market)
	assert.Equal(t, "Mountain dawn", c.Title)
	assert.Contains(t, c.Attribution, "CC BY 2.0")
	assert.Equal(t, "by", c.Meta["license"])
	assert.Equal(t, "https://www.flickr.com/photos/1", c.Meta["link"])
	assert.Equal(t, []string{"https://live.staticflickr.com/1.jpg"}, c.Direct[types.Res4K])
}

func TestWikimedia_PagesThroughContinue(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		assert.Equal(t, "wallarchive/1.0 (ops@example.com)", r.Header.Get("User-Agent"))
		assert.Equal(t, DefaultWikimediaCategory, q.Get("gcmtitle"))
		assert.Equal(t, "url|size|extmetadata", q.Get("iiprop"))

		page := func(id int, w, h int) map[string]any {
			return map[string]any{
				"pageid": id,
				"title":  "File:Valley " + strconv.Itoa(id) + ".jpg",
				"imageinfo": []map[string]any{{
					"url":    "https://upload.wikimedia.org/valley" + strconv.Itoa(id) + ".jpg",
					"width":  w,
					"height": h,
					"extmetadata": map[string]any{
						"Artist":           map[string]any{"value": `<a href="//commons.wikimedia.org/wiki/User:Someone">Some  One</a>`},
						"LicenseShortName": map[string]any{"value": "CC BY-SA 4.0"},
						"ImageDescription": map[string]any{"value": "<p>A <b>green</b> valley</p>"},
					},
				}},
			}
		}
		if q.Get("gcmcontinue") == "" {
			writeJSON(t, w, map[string]any{
				"continue": map[string]any{"gcmcontinue": "file|next"},
				"query": map[string]any{"pages": map[string]any{
					"12": page(12, 6000, 4000),
					"11": page(11, 1024, 768),
				}},
			})
			return
		}
		assert.Equal(t, "file|next", q.Get("gcmcontinue"))
		writeJSON(t, w, map[string]any{
			"query": map[string]any{"pages": map[string]any{"13": page(13, 4000, 3000)}},
		})
	}))
	defer server.Close()

	m := &Wikimedia{Client: testClient(), Endpoint: server.URL, UserAgent: "wallarchive/1.0 (ops@example.com)"}
	got, err := m.Candidates(context.Background(), Window{Tiers: []types.Resolution{types.Res4K}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, got, 2)

	c := got[0]
	assert.Equal(t, "12", c.ExternalID)
	assert.Equal(t, "Valley 12", c.Title)
	assert.Equal(t, "Some One, CC BY-SA 4.0", c.Attribution)
	assert.Equal(t, "A green valley", c.Meta["description"])
	assert.Equal(t, "wikimedia-Valley_12.jpg", c.Slug())
	assert.Equal(t, "13", got[1].ExternalID)
}

func TestPopularAdapters_SkipMalformedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/wallhaven":
			_, _ = w.Write([]byte(`{"data":[
				{"id":"ok","path":"https://w.wallhaven.cc/full/ok.jpg","resolution":"3840x2160"},
				{"id":12345,"path":"https://w.wallhaven.cc/full/num.jpg","resolution":"3840x2160"}
			],"meta":{"last_page":1}}`))
		case "/openverse":
			_, _ = w.Write([]byte(`{"results":[
				{"id":"ov-1","url":"https://live.staticflickr.com/1.jpg","width":4000,"height":2250},
				{"id":"ov-2","url":{"href":"https://live.staticflickr.com/2.jpg"},"width":4000,"height":2250}
			],"page_count":1}`))
		case "/q360":
			_, _ = w.Write([]byte(`{"data":[
				{"id":"7","url":"http://p0.qhimg.com/bdr/__85/t01.jpg","utag":"sea"},
				{"id":"8","url":["http://p0.qhimg.com/bdr/__85/t02.jpg"]}
			]}`))
		case "/wikimedia":
			_, _ = w.Write([]byte(`{"query":{"pages":{
				"1":{"pageid":1,"title":"File:A.jpg","imageinfo":[{"url":"https://upload.wikimedia.org/a.jpg","width":5000,"height":3000}]},
				"2":{"pageid":"two","title":"File:B.jpg","imageinfo":[{"url":"https://upload.wikimedia.org/b.jpg","width":5000,"height":3000}]}
			}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	adapters := []Adapter{
		&Wallhaven{Client: testClient(), Endpoint: server.URL + "/wallhaven"},
		&Openverse{Client: testClient(), Endpoint: server.URL + "/openverse"},
		&Q360{Client: testClient(), Endpoint: server.URL + "/q360", Categories: []int{9}},
		&Wikimedia{Client: testClient(), Endpoint: server.URL + "/wikimedia"},
	}
	for _, a := range adapters {
		t.Run(a.Name(), func(t *testing.T) {
			got, err := a.Candidates(context.Background(), Window{N: 10})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}
