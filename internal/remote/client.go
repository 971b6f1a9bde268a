// Package remote implements the backend collaborators over HTTP+JSON:
// flag resolution, apply reporting and event publishing.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Region selects a hosted resolver endpoint.
type Region string

const (
	RegionGlobal Region = "GLOBAL"
	RegionEurope Region = "EUROPE"
	RegionUSA    Region = "USA"
)

var regionURLs = map[Region]string{
	RegionGlobal: "https://resolver.heimdall.dev",
	RegionEurope: "https://resolver.eu.heimdall.dev",
	RegionUSA:    "https://resolver.us.heimdall.dev",
}

// BaseURL returns the endpoint for region.
func BaseURL(region Region) (string, error) {
	u, ok := regionURLs[Region(strings.ToUpper(string(region)))]
	if !ok {
		return "", fmt.Errorf("remote: unknown region %q", region)
	}
	return u, nil
}

// wireTimeLayout is the millisecond-precision UTC layout the backend expects.
const wireTimeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout)
}

// SDK identifies the calling library in every request.
type SDK struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides Region when set.
	BaseURL      string
	Region       Region
	ClientSecret string
	SDK          SDK
	Timeout      time.Duration
	// HTTPClient replaces the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend. It implements flags.Resolver, apply.Client
// and events.Uploader.
type Client struct {
	logger  *slog.Logger
	baseURL string
	secret  string
	sdk     SDK
	http    *http.Client
	now     func() time.Time
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	base := opts.BaseURL
	if base == "" {
		region := opts.Region
		if region == "" {
			region = RegionGlobal
		}
		u, err := BaseURL(region)
		if err != nil {
			return nil, err
		}
		base = u
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(base, "/"),
		secret:  opts.ClientSecret,
		sdk:     opts.SDK,
		http:    httpClient,
		now:     time.Now,
	}, nil
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

// post sends body as JSON. The caller owns the returned response body.
func (c *Client) post(ctx context.Context, endpoint string, body any, header http.Header) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: %w", endpoint, err)
	}
	return resp, nil
}

// statusError drains a small part of the body for the error message.
func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
