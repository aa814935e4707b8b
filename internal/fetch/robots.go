package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsMode selects how robots.txt is honoured.
type RobotsMode string

const (
	// RobotsOff skips robots.txt entirely
	RobotsOff RobotsMode = "off"
	// RobotsOn honours robots.txt and allows when it cannot be read
	RobotsOn RobotsMode = "on"
	// RobotsStrict honours robots.txt and denies when it cannot be read
	RobotsStrict RobotsMode = "strict"
)

const robotsTTL = 30 * time.Minute

// RobotsGate evaluates robots.txt rules with a per-host cache.
type RobotsGate struct {
	mode      RobotsMode
	userAgent string
	client    *http.Client

	mu    sync.Mutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
	err     error
}

// NewRobotsGate creates a gate.
func NewRobotsGate(mode RobotsMode, userAgent string, client *http.Client) *RobotsGate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsGate{
		mode:      mode,
		userAgent: userAgent,
		client:    client,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether target may be fetched.
func (g *RobotsGate) Allowed(ctx context.Context, target *url.URL) bool {
	if g == nil || g.mode == RobotsOff || g.mode == "" {
		return true
	}
	rules, err := g.rules(ctx, target)
	if err != nil {
		return g.mode != RobotsStrict
	}
	return rules.TestAgent(target.EscapedPath(), g.userAgent)
}

func (g *RobotsGate) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	g.mu.Lock()
	entry, ok := g.cache[host]
	g.mu.Unlock()
	if ok && time.Since(entry.fetched) < robotsTTL {
		return entry.rules, entry.err
	}

	rules, err := g.load(ctx, target)
	g.mu.Lock()
	g.cache[host] = robotsEntry{fetched: time.Now(), rules: rules, err: err}
	g.mu.Unlock()
	return rules, err
}

func (g *RobotsGate) load(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 4xx means no rules; 5xx means disallow all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
