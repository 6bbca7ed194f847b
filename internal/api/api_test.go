package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finclash/internal/cache"
	"finclash/internal/game"
	"finclash/internal/marketdata"
	"finclash/internal/ratelimit"
	"finclash/internal/stream"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var errUpstream = errors.New("upstream down")

type stubFetcher struct {
	quotes map[string]float64
}

func (f *stubFetcher) Quote(_ context.Context, symbol string) ([]byte, error) {
	p, ok := f.quotes[symbol]
	if !ok {
		return nil, errUpstream
	}
	return []byte(fmt.Sprintf(`{"c":%g,"pc":%g}`, p, p)), nil
}

func (f *stubFetcher) Candles(context.Context, string, string, int64, int64) ([]byte, error) {
	return []byte(`{"c":[1,2],"h":[1,2],"l":[1,2],"o":[1,2],"v":[10,20],"t":[1,2],"s":"ok"}`), nil
}

func (f *stubFetcher) CompanyNews(context.Context, string, time.Time, time.Time) ([]byte, error) {
	return []byte(`[{"headline":"Earnings beat","id":7}]`), nil
}

func (f *stubFetcher) CompanyProfile(context.Context, string) ([]byte, error) {
	return []byte(`{"name":"Apple Inc","ticker":"AAPL"}`), nil
}

func (f *stubFetcher) SymbolSearch(context.Context, string) ([]byte, error) {
	return []byte(`{"count":1,"result":[{"symbol":"AAPL"}]}`), nil
}

func (f *stubFetcher) BasicFinancials(context.Context, string) ([]byte, error) {
	return []byte(`{"symbol":"AAPL","metric":{"beta":1.2}}`), nil
}

func (f *stubFetcher) SocialSentiment(context.Context, string) ([]byte, error) {
	return []byte(`{"symbol":"AAPL","data":[]}`), nil
}

type testEnv struct {
	srv  *httptest.Server
	mkt  *marketdata.Client
	game *game.Game
	hub  *stream.Hub
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	c, err := cache.New(cache.Config{MaxSize: 100})
	require.NoError(t, err)
	l, err := ratelimit.New(100, time.Minute)
	require.NoError(t, err)

	f := &stubFetcher{quotes: map[string]float64{"AAPL": 150, "MSFT": 400}}
	mkt := marketdata.NewClient(f, c, l)
	g := game.New(marketdata.NewPriceSource(mkt, nil))
	hub := stream.NewHub(nil, nil)
	t.Cleanup(hub.Close)

	s := NewServer(Config{
		Market:    mkt,
		Game:      g,
		Hub:       hub,
		AdminTOTP: secret,
		AccessLog: io.Discard,
		Clock:     func() time.Time { return time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC) },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, mkt: mkt, game: g, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestQuote(t *testing.T) {
	e := newTestEnv(t, "")

	resp, body := e.do(t, http.MethodGet, "/api/quote/aapl", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q struct {
		C float64 `json:"c"`
	}
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Equal(t, 150.0, q.C)
	assert.Equal(t, 1, e.mkt.Cache().Len())

	resp, _ = e.do(t, http.MethodGet, "/api/quote/a_b", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/quote/ZZZZ", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "error")
}

func TestMarketDataRoutes(t *testing.T) {
	e := newTestEnv(t, "")

	for _, path := range []string{
		"/api/candles/AAPL?resolution=D&from=1&to=2",
		"/api/candles/AAPL",
		"/api/news/AAPL",
		"/api/profile/AAPL",
		"/api/financials/AAPL",
		"/api/sentiment/AAPL",
		"/api/search?q=apple",
		"/api/market/status",
	} {
		resp, _ := e.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, _ := e.do(t, http.MethodGet, "/api/candles/AAPL?from=5&to=1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/candles/AAPL?from=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/search?q=", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarketStatusUsesClock(t *testing.T) {
	e := newTestEnv(t, "")
	// 2026-03-04 15:00 UTC is 10:00 ET on a Wednesday.
	resp, body := e.do(t, http.MethodGet, "/api/market/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Open bool `json:"open"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Open)
}

func createAccount(t *testing.T, e *testEnv, name string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/accounts", map[string]string{"name": name}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var a struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &a))
	require.NotEmpty(t, a.ID)
	return a.ID
}

func trade(t *testing.T, e *testEnv, id, kind, sym string, qty int64) (int, []byte) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/accounts/"+id+"/trades",
		map[string]any{"type": kind, "symbol": sym, "quantity": qty}, nil)
	return resp.StatusCode, body
}

func TestTradingFlow(t *testing.T) {
	e := newTestEnv(t, "")
	id := createAccount(t, e, "alice")

	status, body := trade(t, e, id, "buy", "aapl", 10)
	require.Equal(t, http.StatusCreated, status, string(body))
	var tr struct {
		Type     string `json:"type"`
		Symbol   string `json:"symbol"`
		Quantity int64  `json:"quantity"`
		Total    string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.Equal(t, "buy", tr.Type)
	assert.Equal(t, "AAPL", tr.Symbol)
	assert.Equal(t, "1500", tr.Total)

	resp, body := e.do(t, http.MethodGet, "/api/accounts/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v struct {
		Cash    string `json:"cash"`
		Summary struct {
			TotalValue string `json:"total_value"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "98500", v.Cash)
	assert.Equal(t, "100000", v.Summary.TotalValue)

	status, _ = trade(t, e, id, "sell", "AAPL", 20)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = trade(t, e, id, "short", "AAPL", 1)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = trade(t, e, id, "cover", "MSFT", 1)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = trade(t, e, id, "buy", "AAPL", 0)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = trade(t, e, id, "hold", "AAPL", 1)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = trade(t, e, id, "buy", "ZZZZ", 1)
	assert.Equal(t, http.StatusBadGateway, status)

	resp, body = e.do(t, http.MethodGet, "/api/accounts/"+id+"/trades", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trades []map[string]any
	require.NoError(t, json.Unmarshal(body, &trades))
	assert.Len(t, trades, 1)

	resp, _ = e.do(t, http.MethodGet, "/api/accounts/"+id+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountErrors(t *testing.T) {
	e := newTestEnv(t, "")

	resp, _ := e.do(t, http.MethodGet, "/api/accounts/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, _ := trade(t, e, "nope", "buy", "AAPL", 1)
	assert.Equal(t, http.StatusNotFound, status)

	resp, _ = e.do(t, http.MethodPost, "/api/accounts", map[string]string{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/accounts", map[string]string{"nickname": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLeaderboard(t *testing.T) {
	e := newTestEnv(t, "")
	a := createAccount(t, e, "alice")
	createAccount(t, e, "bob")

	status, _ := trade(t, e, a, "buy", "AAPL", 10)
	require.Equal(t, http.StatusCreated, status)

	resp, body := e.do(t, http.MethodGet, "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []struct {
		Rank   int    `json:"rank"`
		Name   string `json:"name"`
		Trades int    `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 2, rows[1].Rank)
}

func TestAdminRequiresTOTP(t *testing.T) {
	e := newTestEnv(t, testSecret)

	resp, _ := e.do(t, http.MethodGet, "/api/quote/AAPL", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/cache/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/cache/stats", nil, map[string]string{adminHeader: "000000x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	auth := map[string]string{adminHeader: code}

	resp, body := e.do(t, http.MethodGet, "/api/cache/stats", nil, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1, st.Count)

	resp, _ = e.do(t, http.MethodDelete, "/api/cache/quote_AAPL", nil, auth)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, "/api/cache/quote_AAPL", nil, auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminCacheInvalidation(t *testing.T) {
	e := newTestEnv(t, "")

	for _, p := range []string{"/api/quote/AAPL", "/api/quote/MSFT", "/api/news/AAPL"} {
		resp, _ := e.do(t, http.MethodGet, p, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 3, e.mkt.Cache().Len())

	resp, body := e.do(t, http.MethodDelete, "/api/cache/type/quote", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":2}`, string(body))
	assert.Equal(t, 1, e.mkt.Cache().Len())

	resp, _ = e.do(t, http.MethodDelete, "/api/cache/type/bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodDelete, "/api/cache", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":1}`, string(body))
	assert.Equal(t, 0, e.mkt.Cache().Len())
}

func TestRequestIDPropagation(t *testing.T) {
	e := newTestEnv(t, "")

	resp, _ := e.do(t, http.MethodGet, "/healthz", nil, map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))

	resp, _ = e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestStreamMissed(t *testing.T) {
	e := newTestEnv(t, "")
	e.hub.Broadcast(stream.ChannelTrades, []byte(`{"n":1}`))
	e.hub.Broadcast(stream.ChannelTrades, []byte(`{"n":2}`))

	resp, body := e.do(t, http.MethodGet, "/api/stream/missed?channel=trades&from=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []struct {
		Channel    string          `json:"channel"`
		ChannelSeq int64           `json:"channel_seq"`
		Data       json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(2), msgs[0].ChannelSeq)
	assert.JSONEq(t, `{"n":2}`, string(msgs[0].Data))

	resp, _ = e.do(t, http.MethodGet, "/api/stream/missed?from=1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("x: %w", marketdata.ErrFetchFailed)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
