// Package eqc provides a rate-budgeted client for the external company
// lookup provider. The core sees it only through the Provider contract:
// availability, a request budget, and lookup-by-raw-name
package eqc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wdh/internal/platform/logger"
	"wdh/internal/services/enrichment/domain"

	perr "wdh/internal/platform/errors"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultUA         = "wdh-enrichment"
	defaultMaxRetries = 2
	searchPath        = "/api/enterprise/search"
	refreshPath       = "/api/auth/refresh"
)

// Options configures the Client
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration

	// Budget caps lookups per run; zero means the client reports unavailable
	Budget int

	// AutoRefresh re-authenticates once on a 401 instead of failing the call
	AutoRefresh bool

	// MaxRetries bounds transient retry attempts per lookup
	MaxRetries int
}

// Client talks to the lookup provider and enforces the budget atomically.
// Safe for concurrent use across workers
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger

	budget atomic.Int64
	used   atomic.Int64

	tokenMu sync.RWMutex
	token   string

	now func() time.Time
}

var _ domain.Provider = (*Client)(nil)

// NewClient creates a Client with sane defaults
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	c := &Client{
		http:  &http.Client{Timeout: o.Timeout},
		opts:  o,
		log:   *logger.Named("eqc"),
		token: o.Token,
		now:   time.Now,
	}
	c.budget.Store(int64(o.Budget))
	return c
}

// Available reports whether the client is configured and has budget left
func (c *Client) Available() bool {
	if c == nil || c.opts.BaseURL == "" {
		return false
	}
	c.tokenMu.RLock()
	tok := c.token
	c.tokenMu.RUnlock()
	if tok == "" {
		return false
	}
	return c.used.Load() < c.budget.Load()
}

// Budget returns the configured allowance
func (c *Client) Budget() int { return int(c.budget.Load()) }

// RemainingBudget returns what is left of the allowance
func (c *Client) RemainingBudget() int {
	rem := c.budget.Load() - c.used.Load()
	if rem < 0 {
		return 0
	}
	return int(rem)
}

// SetBudget aligns the allowance with the caller's per-run budget
func (c *Client) SetBudget(n int) { c.budget.Store(int64(n)) }

// Lookup resolves one raw name. Every attempted call consumes one budget
// unit whether or not it succeeds; this client's counter is the single
// source of truth for budget accounting
func (c *Client) Lookup(ctx context.Context, rawName string) (*domain.LookupHit, error) {
	if c.opts.BaseURL == "" {
		return nil, perr.Unavailablef("eqc not configured")
	}
	if c.used.Add(1) > c.budget.Load() {
		c.used.Add(-1)
		return nil, perr.Unavailablef("eqc budget exhausted")
	}

	var hit *domain.LookupHit
	op := func() error {
		h, err := c.search(ctx, rawName)
		if err != nil {
			return err
		}
		hit = h
		return nil
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.opts.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return hit, nil
}

// search performs one HTTP round trip. Permanent errors short-circuit the
// retry loop; transport and 5xx errors are retried
func (c *Client) search(ctx context.Context, rawName string) (*domain.LookupHit, error) {
	q := url.Values{"keyword": {rawName}}
	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + searchPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(perr.Wrap(err, perr.ErrorCodeUnknown, "eqc new request failed"))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	c.tokenMu.RLock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.tokenMu.RUnlock()

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "eqc transport error")
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", c.now().Sub(start)).
		Int("budget_remaining", c.RemainingBudget()).
		Msg("eqc http response")

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeHit(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized && c.opts.AutoRefresh:
		if err := c.refreshToken(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, perr.Unauthorizedf("eqc token refreshed, retrying")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, perr.Newf(perr.ErrorCodeTooManyRequests, "eqc rate limited")
	case resp.StatusCode >= 500:
		return nil, perr.Unavailablef("eqc upstream %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(perr.Newf(perr.ErrorCodeUnknown, "eqc unexpected status %d", resp.StatusCode))
	}
}

// refreshToken re-authenticates with the current token; serialized so a
// burst of 401s refreshes once
func (c *Client) refreshToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + refreshPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "eqc refresh request failed")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "eqc refresh transport error")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return perr.Unauthorizedf("eqc refresh rejected with %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return perr.Wrap(err, perr.ErrorCodeUnauthorized, "eqc refresh body invalid")
	}
	c.token = body.Token
	c.log.Info().Msg("eqc token refreshed")
	return nil
}

// decodeHit parses the provider response; an empty result list is a clean
// no-match, not an error
func decodeHit(r io.Reader) (*domain.LookupHit, error) {
	var body struct {
		Data struct {
			List []struct {
				CompanyID   string `json:"companyId"`
				CompanyName string `json:"companyName"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, backoff.Permanent(perr.Wrap(err, perr.ErrorCodeJSON, "eqc response decode failed"))
	}
	if len(body.Data.List) == 0 {
		return nil, nil
	}
	first := body.Data.List[0]
	if strings.TrimSpace(first.CompanyID) == "" {
		return nil, nil
	}
	return &domain.LookupHit{CompanyID: first.CompanyID, OfficialName: first.CompanyName}, nil
}
