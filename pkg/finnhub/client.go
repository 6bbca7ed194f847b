// Package finnhub is a small REST client for the Finnhub stock API.
// It returns raw JSON bodies so callers can cache them verbatim.
//
// Usage example:
//
//	c := finnhub.NewClient(finnhub.Config{Token: os.Getenv("FINNHUB_TOKEN")})
//	body, err := c.Quote(ctx, "AAPL")
//	if err != nil { return err }
//	q, err := finnhub.DecodeQuote(body)
package finnhub

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
)

// ---- Config & client ----

type Config struct {
	Token   string
	BaseURL string        // default: https://finnhub.io/api/v1
	Timeout time.Duration // default: 10s
	Debug   bool

	// HTTPClient overrides the default client (tests, custom transports).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	token      string
	baseURL    string
	debug      bool
	httpClient *http.Client
	log        *slog.Logger
}

const (
	defaultBaseURL = "https://finnhub.io/api/v1"
	maxBodyBytes   = 8 << 20
)

var routes = map[string]string{
	"quote":           "/quote",
	"candles":         "/stock/candle",
	"company.news":    "/company-news",
	"company.profile": "/stock/profile2",
	"search":          "/search",
	"metric":          "/stock/metric",
	"social":          "/stock/social-sentiment",
}

// NewClient applies defaults and builds a client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		debug:      cfg.Debug,
		httpClient: cfg.HTTPClient,
		log:        cfg.Logger.With(slog.String("component", "finnhub")),
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Route      string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub %s: status %d: %s", e.Route, e.StatusCode, e.Body)
}

// ---- Helpers ----

func (c *Client) buildURL(route string, params url.Values) (string, error) {
	p, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	if params == nil {
		params = url.Values{}
	}
	if c.token != "" {
		params.Set("token", c.token)
	}
	return c.baseURL + p + "?" + params.Encode(), nil
}

// get performs one GET and returns the body of a 2xx JSON response.
func (c *Client) get(ctx context.Context, route string, params url.Values) ([]byte, error) {
	reqURL, err := c.buildURL(route, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finnhub %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("finnhub %s: read body: %w", route, err)
	}
	if c.debug {
		c.log.Debug("response", slog.String("route", route), slog.Int("status", resp.StatusCode),
			slog.Duration("took", time.Since(start)), slog.Int("bytes", len(raw)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Route: route, Body: truncate(string(raw), 256)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("finnhub %s: couldn't parse JSON response", route)
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---- Endpoints ----

// Quote returns the latest quote for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) ([]byte, error) {
	return c.get(ctx, "quote", url.Values{"symbol": {symbol}})
}

// Candles returns OHLCV candles between two unix timestamps.
// resolution is one of 1, 5, 15, 30, 60, D, W, M.
func (c *Client) Candles(ctx context.Context, symbol, resolution string, from, to int64) ([]byte, error) {
	return c.get(ctx, "candles", url.Values{
		"symbol":     {symbol},
		"resolution": {resolution},
		"from":       {strconv.FormatInt(from, 10)},
		"to":         {strconv.FormatInt(to, 10)},
	})
}

// CompanyNews returns news articles published between from and to.
func (c *Client) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]byte, error) {
	return c.get(ctx, "company.news", url.Values{
		"symbol": {symbol},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	})
}

// CompanyProfile returns the company profile.
func (c *Client) CompanyProfile(ctx context.Context, symbol string) ([]byte, error) {
	return c.get(ctx, "company.profile", url.Values{"symbol": {symbol}})
}

// SymbolSearch looks up symbols matching query.
func (c *Client) SymbolSearch(ctx context.Context, query string) ([]byte, error) {
	return c.get(ctx, "search", url.Values{"q": {query}})
}

// BasicFinancials returns key metrics (P/E, 52-week range, ...).
func (c *Client) BasicFinancials(ctx context.Context, symbol string) ([]byte, error) {
	return c.get(ctx, "metric", url.Values{"symbol": {symbol}, "metric": {"all"}})
}

// SocialSentiment returns reddit/twitter mention statistics.
func (c *Client) SocialSentiment(ctx context.Context, symbol string) ([]byte, error) {
	return c.get(ctx, "social", url.Values{"symbol": {symbol}})
}
