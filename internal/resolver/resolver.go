/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns remote-catalog track ids into short-lived stream URLs.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

// ErrResolutionFailed is returned when no stream URL could be obtained.
var ErrResolutionFailed = fmt.Errorf("%w: could not resolve stream", models.ErrResolution)

// DefaultTTL is how long a resolved URL is reused before asking again.
const DefaultTTL = time.Hour

// Result is the resolver's answer for one id.
type Result struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Artist    string  `json:"channel,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration"`
	VideoID   string  `json:"video_id"`
}

// Apply copies the stream URL and any missing metadata onto t.
func (r Result) Apply(t models.Track) models.Track {
	t.URL = r.URL
	if t.Title == "" || t.Title == models.DefaultTitle {
		t.Title = r.Title
	}
	if t.Artist == "" || t.Artist == models.DefaultArtist {
		t.Artist = r.Artist
	}
	if t.Thumbnail == "" {
		t.Thumbnail = r.Thumbnail
	}
	if t.Duration <= 0 && r.Duration > 0 {
		t.Duration = r.Duration
	}
	return t.Normalized()
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type entry struct {
	result  Result
	expires time.Time
}

// Client resolves ids against the stream endpoint and caches answers.
type Client struct {
	baseURL    string
	ttl        time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a resolver client. A non-positive ttl uses DefaultTTL.
func New(baseURL string, ttl time.Duration, logger zerolog.Logger, opts ...Option) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "resolver").Logger(),
		now:    time.Now,
		cache:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns a stream URL for id, reusing a cached answer while it is fresh.
func (c *Client) Resolve(ctx context.Context, id string) (Result, error) {
	c.mu.Lock()
	e, ok := c.cache[id]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		telemetry.ResolverRequestsTotal.WithLabelValues("hit").Inc()
		return e.result, nil
	}
	return c.Refresh(ctx, id)
}

// Refresh asks the endpoint for id regardless of the cache.
func (c *Client) Refresh(ctx context.Context, id string) (res Result, err error) {
	if strings.TrimSpace(id) == "" {
		return Result{}, fmt.Errorf("%w: empty id", ErrResolutionFailed)
	}

	ctx, span := telemetry.StartSpan(ctx, "resolver.resolve", attribute.String("track.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	res, err = c.fetch(ctx, id)
	if err != nil {
		telemetry.ResolverRequestsTotal.WithLabelValues("error").Inc()
		c.Invalidate(id)
		c.logger.Debug().Err(err).Str("id", id).Msg("resolution failed")
		return Result{}, err
	}
	telemetry.ResolverRequestsTotal.WithLabelValues("miss").Inc()

	c.mu.Lock()
	c.cache[id] = entry{result: res, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return res, nil
}

// Invalidate drops any cached answer for id.
func (c *Client) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, id string) (Result, error) {
	endpoint := c.baseURL + "/api/yt/stream/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrResolutionFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %w", ErrResolutionFailed, models.ErrTimeout)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			return Result{}, fmt.Errorf("%w: status %d", ErrResolutionFailed, resp.StatusCode)
		}
		if body.Detail != "" {
			return Result{}, fmt.Errorf("%w: %s: %s", ErrResolutionFailed, body.Error, body.Detail)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrResolutionFailed, body.Error)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrResolutionFailed, err)
	}
	if res.URL == "" {
		return Result{}, fmt.Errorf("%w: response has no url", ErrResolutionFailed)
	}
	if res.VideoID == "" {
		res.VideoID = id
	}
	return res, nil
}
