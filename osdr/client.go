// Package osdr acquires space-biology study records from the NASA Open
// Science Data Repository and the GEODE reference APIs.
//
// The upstream serves the same logical data from several endpoints whose
// response structures differ. Every listing operation therefore runs an
// ordered list of endpoint variants through a fallback chain, detects the
// payload shape with Match, maps items with a shape-specific transform and
// keeps only records with a canonical accession. When every variant fails
// the operation returns a degraded payload together with an error wrapping
// errors.ErrAllAttemptsExhausted. No synthetic data is ever substituted.
package osdr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultBaseURL        = "https://osdr.nasa.gov"
	DefaultGeodeURL       = "https://genelab-data.ndc.nasa.gov"
	DefaultUserAgent      = "NEXUS-NASA-Space-Biology-Knowledge-Engine/1.0"
	DefaultTimeout        = 30 * time.Second
	DefaultDetailTimeout  = 15 * time.Second
	DefaultPageMultiplier = 10
	DefaultMaxPageSize    = 500

	// SourceName is reported on every successful listing.
	SourceName = "NASA OSDR API"
	// SourceError is reported on every degraded payload.
	SourceError = "Error"

	maxBodyBytes = 64 << 20
)

// Doer is the HTTP capability the client consumes. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config points the client at its upstreams.
type Config struct {
	BaseURL  string
	GeodeURL string
	// APIKey is optional. When set it is sent as X-API-Key and as a bearer
	// token, and as the api_key parameter on the search variant that asks
	// for it.
	APIKey    string
	UserAgent string
	// Timeout bounds one listing or search variant.
	Timeout time.Duration
	// DetailTimeout bounds metadata and file requests.
	DetailTimeout time.Duration
	// PageMultiplier oversizes listing pages to make up for records the
	// canonical filter drops.
	PageMultiplier int
	MaxPageSize    int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.GeodeURL == "" {
		c.GeodeURL = DefaultGeodeURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.GeodeURL = strings.TrimRight(c.GeodeURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = DefaultDetailTimeout
	}
	if c.PageMultiplier <= 0 {
		c.PageMultiplier = DefaultPageMultiplier
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	return c
}

// Client talks to OSDR and GEODE. It holds no state between calls.
type Client struct {
	cfg     Config
	http    Doer
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records upstream calls, dropped records and fallback attempts.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "osdr")
	c.logger.Info("OSDR client initialized",
		"base_url", c.cfg.BaseURL, "geode_url", c.cfg.GeodeURL, "api_key", c.cfg.APIKey != "")
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// APIKeyConfigured reports whether requests are authenticated.
func (c *Client) APIKeyConfigured() bool {
	return c.cfg.APIKey != ""
}

// Variant identifies the endpoint variant that produced a result. Index is
// 1-based in the order the variants were tried.
type Variant struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

type endpoint struct {
	url    string
	params url.Values
}

func (e endpoint) String() string {
	if len(e.params) == 0 {
		return e.url
	}
	return e.url + "?" + e.params.Encode()
}

func chainFor[T any](c *Client, name string, timeout time.Duration, validate fallback.Validator[T]) fallback.Chain[T] {
	chain := fallback.Chain[T]{
		Name:     name,
		Timeout:  timeout,
		Validate: validate,
		Logger:   c.logger,
	}
	if c.metrics != nil {
		chain.Observer = c.metrics
	}
	return chain
}

func (c *Client) newRequest(ctx context.Context, e endpoint) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.String(), nil)
	if err != nil {
		return nil, errs.WrapInvalid(err, "osdr", "newRequest", "build request")
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// fetch performs a GET and returns the body of a 200 response.
func (c *Client) fetch(ctx context.Context, e endpoint) ([]byte, error) {
	req, err := c.newRequest(ctx, e)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrUpstreamUnavailable, err), "osdr", "fetch", e.url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrUpstreamUnavailable, err), "osdr", "fetch", "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.WrapTransient(
			fmt.Errorf("%w: status %d", errs.ErrUpstreamUnavailable, resp.StatusCode), "osdr", "fetch", e.url)
	}
	return body, nil
}

// fetchJSON performs a GET and decodes the body into a generic document.
func (c *Client) fetchJSON(ctx context.Context, e endpoint) (any, error) {
	body, err := c.fetch(ctx, e)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrMalformedResponse, err), "osdr", "fetchJSON", "decode body")
	}
	return doc, nil
}

func (c *Client) recordCall(operation string, variant int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.RecordUpstreamCall(operation, variant, result)
}

// withTimeout bounds a single-endpoint request.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.DetailTimeout)
}
