// Package fetch is the network side of the pipeline: a shared HTTP client
// with a global concurrency ceiling, per-host pacing, a robots.txt gate and
// a retry policy, plus resumable image downloads and JSON helpers for the
// source adapters.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
)

// DefaultTimeout is the default per-attempt request timeout.
const DefaultTimeout = 60 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; WallpaperArchiver/1.0)"

// Kind classifies a fetch failure.
type Kind string

// Failure kinds
const (
	KindNotFound    Kind = "not_found"
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindExhausted   Kind = "exhausted"
	KindCorrupt     Kind = "corrupt"
	// KindRejected covers other client errors and robots.txt denials.
	KindRejected Kind = "rejected"
)

// Retryable reports whether failures of this kind are retried.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Error represents an error during a fetch.
type Error struct {
	URL        string
	Message    string
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Attempts   int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s (%s): %v", e.URL, e.Message, e.Kind, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s (%s)", e.URL, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a fetch error, or "" for other errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// AttemptsOf returns the attempts recorded on a fetch error.
func AttemptsOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Attempts
	}
	return 0
}

// Options configures a Client.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	Headers         map[string]string
	HTTPConcurrency int
	HostRPS         float64
	HostBurst       int
	Robots          RobotsMode
	Policy          Policy
	Transport       http.RoundTripper
	Logger          *logging.Logger
	// OnAttempt is called after every HTTP attempt.
	OnAttempt func(host string, status int, err error, d time.Duration)
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() Options {
	return Options{
		Timeout:         DefaultTimeout,
		UserAgent:       DefaultUserAgent,
		HTTPConcurrency: 16,
		HostRPS:         4,
		HostBurst:       4,
		Robots:          RobotsOn,
		Policy:          DefaultPolicy(),
	}
}

// Client is safe for concurrent use by all workers of a run.
type Client struct {
	http    *http.Client
	opts    Options
	policy  Policy
	sem     *semaphore.Weighted
	limiter *HostLimiter
	robots  *RobotsGate
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	// started separates partials written by this client from older ones.
	started time.Time
}

// NewClient creates a Client; zero option fields take their defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.HTTPConcurrency <= 0 {
		opts.HTTPConcurrency = def.HTTPConcurrency
	}
	if opts.Robots == "" {
		opts.Robots = def.Robots
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = def.Policy
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   opts.HTTPConcurrency,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	hc := &http.Client{Transport: transport}

	return &Client{
		http:    hc,
		opts:    opts,
		policy:  opts.Policy,
		sem:     semaphore.NewWeighted(int64(opts.HTTPConcurrency)),
		limiter: NewHostLimiter(opts.HostRPS, opts.HostBurst),
		robots:  NewRobotsGate(opts.Robots, opts.UserAgent, hc),
		log:     opts.Logger,
		sleep:   sleepCtx,
		started: time.Now(),
	}
}

// Policy returns the retry policy in use.
func (c *Client) Policy() Policy {
	return c.policy
}

// roundTrip performs one HTTP attempt under the global semaphore and the
// per-host limiter. The caller owns resp.Body and must call done when the
// body has been consumed.
func (c *Client) roundTrip(ctx context.Context, req *http.Request) (resp *http.Response, done func(), err error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	if err := c.limiter.Wait(ctx, req.URL.Host); err != nil {
		c.sem.Release(1)
		return nil, nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	req = req.WithContext(attemptCtx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for k, v := range c.opts.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err = c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.opts.OnAttempt != nil {
		c.opts.OnAttempt(req.URL.Host, status, err, time.Since(start))
	}

	var once sync.Once
	done = func() {
		once.Do(func() {
			if resp != nil {
				_ = resp.Body.Close()
			}
			cancel()
			c.sem.Release(1)
		})
	}
	if err != nil {
		done()
		return nil, nil, err
	}
	return resp, done, nil
}

// transportError converts a client.Do or body read error into a fetch
// error, or returns the parent context error when the run is cancelled.
func transportError(ctx context.Context, rawURL, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &Error{URL: rawURL, Message: msg, Kind: KindTransient, Cause: err}
}

func validateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{URL: rawURL, Message: "invalid URL", Kind: KindRejected, Cause: err}
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return nil, &Error{URL: rawURL, Message: "unsupported scheme " + u.Scheme, Kind: KindRejected}
	}
	return u, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
