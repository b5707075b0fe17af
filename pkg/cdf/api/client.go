// Package api implements the cdf store interfaces over the project's
// JSON HTTP API. Writes go through POST endpoints with an items
// envelope; list calls follow cursors until the server runs out.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/ratelimit"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

const (
	// DefaultBaseURL is the API host used when the config names none.
	DefaultBaseURL = "https://api.cognitedata.com"

	defaultTimeout = 120 * time.Second
)

// Config carries one project's connection settings.
type Config struct {
	Project string
	APIKey  string
	// BaseURL is the API host, without the project path.
	BaseURL string
	// AppName is sent as the x-cdp-app header on every request.
	AppName string
	Timeout time.Duration
	// RequestsPerSecond throttles the client with a leaky bucket. Zero
	// means unthrottled.
	RequestsPerSecond int
	// HTTPClient overrides the transport. Timeout is not applied to it.
	HTTPClient *http.Client
}

// Client talks to a single project. It is safe for concurrent use.
type Client struct {
	project string
	apiKey  string
	appName string
	base    *url.URL
	http    *http.Client
	limiter ratelimit.Limiter
}

var _ cdf.Client = (*Client)(nil)

// NewClient validates cfg and builds a client for the project.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("api: project must not be empty")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("api: api key must not be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parsing base url %s: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}

	return &Client{
		project: cfg.Project,
		apiKey:  cfg.APIKey,
		appName: cfg.AppName,
		base:    base,
		http:    httpClient,
		limiter: limiter,
	}, nil
}

func (c *Client) Project() string { return c.project }

// Login verifies the api key and reports the identity it resolves to.
func (c *Client) Login(ctx context.Context) (*cdf.LoginStatus, error) {
	var out struct {
		Data cdf.LoginStatus `json:"data"`
	}
	if err := c.get(ctx, c.rootURL("login/status"), nil, withJSON(&out)); err != nil {
		return nil, fmt.Errorf("api: login status: %w", err)
	}
	return &out.Data, nil
}

func (c *Client) Assets() cdf.AssetStore {
	return &assetStore{store: store[*cdf.Asset]{c: c, path: "assets"}}
}

func (c *Client) Events() cdf.Store[*cdf.Event] {
	return &store[*cdf.Event]{c: c, path: "events"}
}

func (c *Client) TimeSeries() cdf.Store[*cdf.TimeSeries] {
	return &store[*cdf.TimeSeries]{c: c, path: "timeseries"}
}

func (c *Client) Files() cdf.Store[*cdf.FileMetadata] {
	return &store[*cdf.FileMetadata]{c: c, path: "files"}
}

func (c *Client) Sequences() cdf.SequenceStore {
	return &sequenceStore{store: store[*cdf.Sequence]{c: c, path: "sequences"}}
}

func (c *Client) Relationships() cdf.Store[*cdf.Relationship] {
	return &store[*cdf.Relationship]{c: c, path: "relationships"}
}

func (c *Client) DataSets() cdf.DataSetStore {
	return &dataSetStore{c: c}
}

func (c *Client) Datapoints() cdf.DatapointStore {
	return &datapointStore{c: c}
}

func (c *Client) Raw() cdf.RawStore {
	return &rawStore{c: c}
}

// projectURL resolves a path under the project's API root.
func (c *Client) projectURL(path string) *url.URL {
	return c.base.JoinPath("api", "v1", "projects", c.project, path)
}

// rootURL resolves a path directly under the API host.
func (c *Client) rootURL(path string) *url.URL {
	return c.base.JoinPath(path)
}
