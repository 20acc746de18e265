// Package upstream fetches the raw brewery directory from Open Brewery DB.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
)

// Fetcher retrieves every upstream record in a single capped page.
type Fetcher interface {
	Fetch(ctx context.Context, perPage int) ([]model.UpstreamRecord, error)
}

type Client struct {
	logger   *slog.Logger
	http     *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

var _ Fetcher = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, base string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		http:     client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

func (c *Client) endpoint(perPage int) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/breweries"
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) Fetch(ctx context.Context, perPage int) (out []model.UpstreamRecord, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(perPage), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	defer func() {
		observability.ObserveUpstreamLatency("openbrewerydb", err, time.Since(start).Seconds())
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode breweries: %w", err)
	}
	if out == nil {
		out = []model.UpstreamRecord{}
	}
	c.logger.DebugContext(ctx, "upstream fetch done",
		"records", len(out),
		"per_page", perPage,
		"duration", time.Since(start).String())
	return out, nil
}
