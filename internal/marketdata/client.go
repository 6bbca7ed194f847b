// Package marketdata serves quote, candle, news and company data through a
// TTL/LRU cache, going to the upstream API only on a miss and only when the
// sliding-window rate limiter admits the call.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"finclash/internal/cache"
	"finclash/internal/model"
	"finclash/internal/ratelimit"
	"finclash/pkg/finnhub"

	"golang.org/x/sync/singleflight"
)

// ErrFetchFailed wraps every upstream failure (transport error, non-2xx,
// unusable body). The cache is never populated on this path.
var ErrFetchFailed = errors.New("marketdata: fetch failed")

// ErrInvalidRequest is returned for malformed arguments before any fetch.
var ErrInvalidRequest = errors.New("marketdata: invalid request")

const (
	// DefaultNewsLookback is the window GetNews asks the provider for.
	DefaultNewsLookback = 7 * 24 * time.Hour
	// DefaultFetchTimeout bounds one shared fetch, slot wait included.
	DefaultFetchTimeout = 90 * time.Second
)

// Fetcher is the upstream market-data API. *finnhub.Client satisfies it.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) ([]byte, error)
	Candles(ctx context.Context, symbol, resolution string, from, to int64) ([]byte, error)
	CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]byte, error)
	CompanyProfile(ctx context.Context, symbol string) ([]byte, error)
	SymbolSearch(ctx context.Context, query string) ([]byte, error)
	BasicFinancials(ctx context.Context, symbol string) ([]byte, error)
	SocialSentiment(ctx context.Context, symbol string) ([]byte, error)
}

// Client composes cache, limiter and fetcher.
type Client struct {
	fetcher Fetcher
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	flight  singleflight.Group
	log     *slog.Logger
	now     func() time.Time

	newsLookback time.Duration
	fetchTimeout time.Duration

	// waiting counts callers per key; a shared fetch is cancelled once
	// every caller has left.
	mu       sync.Mutex
	waiting  map[string]int
	inflight map[string]*sharedFetch

	// OnFetch is called after every upstream call (optional, for metrics).
	OnFetch func(t cache.DataType, took time.Duration, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock replaces time.Now for the news date window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithNewsLookback changes how far back GetNews reaches.
func WithNewsLookback(d time.Duration) Option {
	return func(c *Client) { c.newsLookback = d }
}

// WithFetchTimeout bounds a shared upstream fetch independently of the
// callers' contexts.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) { c.fetchTimeout = d }
}

// NewClient builds a cached client. All three collaborators are required.
func NewClient(f Fetcher, c *cache.Cache, l *ratelimit.Limiter, opts ...Option) *Client {
	cl := &Client{
		fetcher:      f,
		cache:        c,
		limiter:      l,
		log:          slog.Default(),
		now:          time.Now,
		newsLookback: DefaultNewsLookback,
		fetchTimeout: DefaultFetchTimeout,
		waiting:      make(map[string]int),
		inflight:     make(map[string]*sharedFetch),
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.log = cl.log.With(slog.String("component", "marketdata"))
	return cl
}

// Cache exposes the underlying cache (stats, admin invalidation).
func (c *Client) Cache() *cache.Cache { return c.cache }

// Limiter exposes the underlying rate limiter.
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

// ---- Keys ----

func QuoteKey(symbol string) string   { return "quote_" + symbol }
func NewsKey(symbol string) string    { return "news_" + symbol }
func CompanyKey(symbol string) string { return "company_" + symbol }
func FundamentalsKey(symbol string) string {
	return "fundamentals_" + symbol
}
func SocialKey(symbol string) string { return "social_" + symbol }

func CandlesKey(symbol, resolution string, from, to int64) string {
	return "candles_" + symbol + "_" + resolution + "_" + strconv.FormatInt(from, 10) + "_" + strconv.FormatInt(to, 10)
}

func SearchKey(query string) string {
	return "search_" + strings.ToLower(strings.TrimSpace(query))
}

// ---- Core path ----

type sharedFetch struct {
	cancel context.CancelFunc
}

// fetch serves key from the cache or performs one admitted upstream call.
// Concurrent misses on the same key share a single call, which runs on its
// own context so that one caller giving up never fails the others. validate
// rejects bodies that must not be cached.
func (c *Client) fetch(ctx context.Context, key string, t cache.DataType,
	call func(context.Context) ([]byte, error), validate func([]byte) error) ([]byte, error) {

	if data, ok := c.cache.Get(key, t); ok {
		return data, nil
	}

	c.join(key)
	defer c.leave(key)

	shared := func() (any, error) {
		ctx, done := c.startShared(ctx, key)
		defer done()

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		body, err := call(ctx)
		if err == nil && validate != nil {
			err = validate(body)
		}
		if c.OnFetch != nil {
			c.OnFetch(t, time.Since(start), err)
		}
		if err != nil {
			c.log.Warn("upstream fetch failed", slog.String("key", key), slog.Any("err", err))
			return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, key, err)
		}

		if err := c.cache.Set(key, body, t); err != nil {
			c.log.Error("cache set", slog.String("key", key), slog.Any("err", err))
		}
		return body, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-c.flight.DoChan(key, shared):
			// A flight abandoned by all of its earlier callers may still
			// be draining; a live caller starts a fresh one.
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			if res.Shared {
				c.log.Debug("shared in-flight fetch", slog.String("key", key))
			}
			// Every sharer gets the same slice.
			return bytes.Clone(res.Val.([]byte)), nil
		}
	}
}

func (c *Client) join(key string) {
	c.mu.Lock()
	c.waiting[key]++
	c.mu.Unlock()
}

// leave drops one caller and cancels the shared fetch when none remain.
func (c *Client) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting[key]--; c.waiting[key] > 0 {
		return
	}
	delete(c.waiting, key)
	if sf := c.inflight[key]; sf != nil {
		sf.cancel()
	}
}

// startShared derives the context of a shared fetch: detached from the
// caller that started it and bounded by fetchTimeout.
func (c *Client) startShared(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.fetchTimeout)
	sf := &sharedFetch{cancel: cancel}

	c.mu.Lock()
	c.inflight[key] = sf
	idle := c.waiting[key] == 0
	c.mu.Unlock()
	if idle {
		cancel()
	}

	return ctx, func() {
		c.mu.Lock()
		if c.inflight[key] == sf {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel()
	}
}

// ---- Endpoints ----

// GetQuote returns the latest quote. A zero-price quote (unknown symbol)
// counts as a failed fetch and is not cached.
func (c *Client) GetQuote(ctx context.Context, symbol string) (finnhub.Quote, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return finnhub.Quote{}, err
	}
	body, err := c.fetch(ctx, QuoteKey(sym), cache.Quote,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.Quote(ctx, sym) },
		func(b []byte) error { _, err := finnhub.DecodeQuote(b); return err })
	if err != nil {
		return finnhub.Quote{}, err
	}
	return finnhub.DecodeQuote(body)
}

// GetCandles returns candles for [from, to] (unix seconds) at resolution.
func (c *Client) GetCandles(ctx context.Context, symbol, resolution string, from, to int64) (finnhub.Candles, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return finnhub.Candles{}, err
	}
	if resolution == "" {
		resolution = "D"
	}
	if from >= to {
		return finnhub.Candles{}, fmt.Errorf("%w: candles from %d must be before to %d", ErrInvalidRequest, from, to)
	}
	body, err := c.fetch(ctx, CandlesKey(sym, resolution, from, to), cache.Candles,
		func(ctx context.Context) ([]byte, error) {
			return c.fetcher.Candles(ctx, sym, resolution, from, to)
		},
		func(b []byte) error { _, err := finnhub.DecodeCandles(b); return err })
	if err != nil {
		return finnhub.Candles{}, err
	}
	return finnhub.DecodeCandles(body)
}

// GetNews returns recent company news.
func (c *Client) GetNews(ctx context.Context, symbol string) ([]finnhub.NewsItem, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, NewsKey(sym), cache.News,
		func(ctx context.Context) ([]byte, error) {
			to := c.now()
			return c.fetcher.CompanyNews(ctx, sym, to.Add(-c.newsLookback), to)
		},
		func(b []byte) error { return json.Unmarshal(b, &[]finnhub.NewsItem{}) })
	if err != nil {
		return nil, err
	}
	var items []finnhub.NewsItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	return items, nil
}

// GetCompanyProfile returns the company profile.
func (c *Client) GetCompanyProfile(ctx context.Context, symbol string) (finnhub.CompanyProfile, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return finnhub.CompanyProfile{}, err
	}
	body, err := c.fetch(ctx, CompanyKey(sym), cache.Company,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.CompanyProfile(ctx, sym) },
		func(b []byte) error { _, err := finnhub.DecodeProfile(b); return err })
	if err != nil {
		return finnhub.CompanyProfile{}, err
	}
	return finnhub.DecodeProfile(body)
}

// SearchSymbols returns raw symbol-lookup results for query.
func (c *Client) SearchSymbols(ctx context.Context, query string) (json.RawMessage, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidRequest)
	}
	return c.fetch(ctx, SearchKey(q), cache.Search,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.SymbolSearch(ctx, q) }, nil)
}

// GetBasicFinancials returns raw key metrics for symbol.
func (c *Client) GetBasicFinancials(ctx context.Context, symbol string) (json.RawMessage, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, FundamentalsKey(sym), cache.Fundamentals,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.BasicFinancials(ctx, sym) }, nil)
}

// GetSocialSentiment returns raw social mention statistics for symbol.
func (c *Client) GetSocialSentiment(ctx context.Context, symbol string) (json.RawMessage, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, SocialKey(sym), cache.Social,
		func(ctx context.Context) ([]byte, error) { return c.fetcher.SocialSentiment(ctx, sym) }, nil)
}
