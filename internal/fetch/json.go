package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

// maxJSONBytes caps API response bodies.
const maxJSONBytes = 32 << 20

// GetJSON issues a GET with query params and headers and decodes the JSON
// body into dst, retrying under the client's policy.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, dst any) error {
	u, err := validateURL(rawURL)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	full := u.String()

	_, err = c.retry(ctx, full, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return &Error{URL: full, Message: "failed to create request", Kind: KindRejected, Cause: err}
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, done, err := c.roundTrip(ctx, req)
		if err != nil {
			return transportError(ctx, full, "HTTP request failed", err)
		}
		defer done()

		if resp.StatusCode != http.StatusOK {
			return statusError(full, resp)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
		if err != nil {
			return transportError(ctx, full, "failed to read response body", err)
		}
		if err := json.Unmarshal(body, dst); err != nil {
			return &Error{URL: full, Message: "invalid JSON response", Kind: KindRejected, Cause: err}
		}
		return nil
	})
	return err
}
