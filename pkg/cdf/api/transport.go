package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// pageLimit is the largest page the API serves on list endpoints.
const pageLimit = 1000

// responseOption consumes a successful response.
type responseOption func(*http.Response) error

// withJSON decodes the response body into out.
func withJSON(out any) responseOption {
	return func(resp *http.Response) error {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

// post sends body as JSON to u and applies opts to the response.
func (c *Client) post(ctx context.Context, u *url.URL, body any, opts ...responseOption) error {
	var buf io.Reader
	if body != nil {
		encoded := new(bytes.Buffer)
		if err := json.NewEncoder(encoded).Encode(body); err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		buf = encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, opts...)
}

// get requests u with the given query parameters.
func (c *Client) get(ctx context.Context, u *url.URL, query url.Values, opts ...responseOption) error {
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, opts...)
}

func (c *Client) do(req *http.Request, opts ...responseOption) error {
	c.limiter.Take()

	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.appName != "" {
		req.Header.Set("x-cdp-app", c.appName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	for _, opt := range opts {
		if err := opt(resp); err != nil {
			return err
		}
	}
	return nil
}

// decodeError turns a non-2xx response into a *cdf.Error. Bodies that
// are not the API's error envelope fall back to the HTTP status.
func decodeError(resp *http.Response) error {
	ce := &cdf.Error{
		Code:      resp.StatusCode,
		Message:   http.StatusText(resp.StatusCode),
		RequestID: resp.Header.Get("x-request-id"),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ce
	}
	var envelope struct {
		Error struct {
			Code       int           `json:"code"`
			Message    string        `json:"message"`
			Missing    []cdf.ItemRef `json:"missing"`
			Duplicated []cdf.ItemRef `json:"duplicated"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ce
	}
	if envelope.Error.Code != 0 {
		ce.Code = envelope.Error.Code
	}
	if envelope.Error.Message != "" {
		ce.Message = envelope.Error.Message
	}
	ce.Missing = envelope.Error.Missing
	ce.Duplicated = envelope.Error.Duplicated
	return ce
}

// itemsEnvelope is the wrapper every read endpoint answers with.
type itemsEnvelope[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor"`
}

// listAll follows cursors on a POST list endpoint until the server runs
// out of pages or maxItems have been collected. The body map is reused
// across pages; maxItems <= 0 means no cap.
func listAll[T any](ctx context.Context, c *Client, u *url.URL, body map[string]any, maxItems int) ([]T, error) {
	var out []T
	for {
		limit := pageLimit
		if maxItems > 0 && maxItems-len(out) < limit {
			limit = maxItems - len(out)
		}
		body["limit"] = limit

		var page itemsEnvelope[T]
		if err := c.post(ctx, u, body, withJSON(&page)); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)

		if page.NextCursor == "" || len(page.Items) == 0 || (maxItems > 0 && len(out) >= maxItems) {
			return out, nil
		}
		body["cursor"] = page.NextCursor
	}
}
