// Package bgg is the client for the upstream board-game catalog API. The
// upstream caps how many item ids one call may carry and enforces
// implicit rate limits, so callers are expected to batch ids (see
// pkg/coalesce) and the client itself paces outgoing requests.
package bgg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meeplemeet/go-catalog/pkg/audit"
	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrUpstream marks any failure to reach the upstream API or a
// non-success response from it. The HTTP boundary maps it to 502.
var ErrUpstream = errors.New("upstream catalog API failure")

// Config holds the upstream client configuration.
type Config struct {
	// BaseURL is the root of the upstream API, e.g. "https://api.example.com/xmlapi2".
	BaseURL string
	// BearerToken, when set, is forwarded as an Authorization header on
	// every upstream call.
	BearerToken string
	// RequestTimeout bounds each upstream HTTP call.
	RequestTimeout time.Duration
	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
}

// Client talks to the upstream catalog API.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	recorder    audit.Recorder
	logger      zerolog.Logger
}

// NewClient creates an upstream client. recorder may be nil, in which
// case calls are not audited.
func NewClient(cfg *Config, recorder audit.Recorder, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL cannot be empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter:     limiter,
		recorder:    recorder,
		logger:      logger.With().Str("component", "BGGClient").Logger(),
	}, nil
}

// FetchItems retrieves full catalog items for the given ids in a single
// upstream call. The returned map is keyed by id; ids unknown upstream
// are absent from it. Callers must respect the upstream's per-call id cap.
func (c *Client) FetchItems(ctx context.Context, ids []string) (map[string]catalog.Item, error) {
	if len(ids) == 0 {
		return map[string]catalog.Item{}, nil
	}

	endpoint := fmt.Sprintf("%s/thing?id=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	payload, err := c.get(ctx, endpoint, "items", len(ids))
	if err != nil {
		return nil, err
	}

	parsed, err := parseItems(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	items := make(map[string]catalog.Item, len(parsed))
	for _, item := range parsed {
		items[item.ID] = item
	}
	return items, nil
}

// Search performs a name search upstream and returns the raw, unranked
// candidates. Malformed entries are dropped by the tolerant parser.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.SearchCandidate, error) {
	endpoint := fmt.Sprintf("%s/search?type=boardgame&query=%s", c.baseURL, url.QueryEscape(query))
	payload, err := c.get(ctx, endpoint, "search", 1)
	if err != nil {
		return nil, err
	}

	candidates, err := parseSearch(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return candidates, nil
}

// get performs one paced, audited upstream GET and returns the response
// body. Every failure mode wraps ErrUpstream.
func (c *Client) get(ctx context.Context, endpoint, operation string, keyCount int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUpstream, err)
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		c.recorder.Record(audit.Record{
			Timestamp:      start,
			Operation:      operation,
			KeyCount:       keyCount,
			Outcome:        outcome,
			DurationMillis: time.Since(start).Milliseconds(),
		})
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "error"
		c.logger.Error().Err(err).Str("operation", operation).Msg("Upstream request failed.")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "error"
		c.logger.Error().Int("status", resp.StatusCode).Str("operation", operation).Msg("Upstream returned non-success status.")
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	return payload, nil
}
