package fetch

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy is an exponential backoff schedule with a bounded attempt count.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the +/- fraction applied to each computed delay.
	Jitter float64
}

// DefaultPolicy returns 4 attempts, 500ms doubling up to 30s, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Delay returns the wait after the given failed attempt (1-based). A
// positive server hint replaces the computed delay, capped at MaxDelay.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(max(attempt-1, 0)))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when absent or unparsable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ClassifyStatus maps an HTTP status to a failure kind; 2xx and 304 map to "".
func ClassifyStatus(status int) Kind {
	switch {
	case status >= 200 && status < 300, status == http.StatusNotModified:
		return ""
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

// statusError builds the error for a non-success response.
func statusError(rawURL string, resp *http.Response) *Error {
	kind := ClassifyStatus(resp.StatusCode)
	e := &Error{
		URL:        rawURL,
		Message:    "HTTP status " + strconv.Itoa(resp.StatusCode),
		Kind:       kind,
		StatusCode: resp.StatusCode,
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// retry runs fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. It returns the number of attempts made.
func (c *Client) retry(ctx context.Context, rawURL string, fn func(ctx context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		var fe *Error
		if !errors.As(err, &fe) {
			return attempt, err
		}
		fe.Attempts = attempt
		if !fe.Kind.Retryable() {
			return attempt, fe
		}
		if attempt >= c.policy.MaxAttempts {
			return attempt, &Error{
				URL:        rawURL,
				Message:    "retries exhausted",
				Kind:       KindExhausted,
				StatusCode: fe.StatusCode,
				Attempts:   attempt,
				Cause:      fe,
			}
		}

		wait := c.policy.Delay(attempt, fe.RetryAfter)
		c.log.Debug("retrying request",
			"url", rawURL, "attempt", attempt, "kind", string(fe.Kind), "wait", wait.String())
		if err := c.sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
}
