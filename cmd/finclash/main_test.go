package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"finclash/internal/cache"
	"finclash/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "finclash version "+version)
}

func TestQuoteCommand(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"c":123.4,"pc":120}`))
	}))
	defer upstream.Close()

	chdir(t, t.TempDir())
	t.Setenv("FINNHUB_BASE_URL", upstream.URL)
	t.Setenv("FINNHUB_API_KEY", "test")
	t.Setenv("DURABLE_BACKEND", "none")
	t.Setenv("CACHE_TTL_FILE", "")

	out, err := execute(t, "quote", "aapl")
	require.NoError(t, err)
	var q struct {
		C  float64 `json:"c"`
		PC float64 `json:"pc"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.Equal(t, 123.4, q.C)
	assert.Equal(t, 120.0, q.PC)

	_, err = execute(t, "quote")
	assert.Error(t, err)
}

func TestCacheStatsRestoresDurableMirror(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "finclash.db")

	db, err := sqlite.Open(path, nil)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, sqlite.NewCacheStore(db).Save(context.Background(), []cache.Entry{
		{Key: "company_AAPL", Data: json.RawMessage(`{"name":"Apple"}`), DataType: cache.Company, StoredAt: now, LastAccessedAt: now},
		{Key: "fundamentals_AAPL", Data: json.RawMessage(`{"metric":{}}`), DataType: cache.Fundamentals, StoredAt: now, LastAccessedAt: now},
	}))
	require.NoError(t, db.Close())

	t.Setenv("DURABLE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("CACHE_TTL_FILE", "")

	out, err := execute(t, "cache", "stats", "--json")
	require.NoError(t, err)
	var st cache.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 1, st.ByType[cache.Company])

	out, err = execute(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "entries:    2")
	assert.Contains(t, out, "company")
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker([]string{"*"}))

	check := originChecker([]string{"http://app.test"})
	req := httptest.NewRequest(http.MethodGet, "http://api.test/ws", nil)
	assert.True(t, check(req), "no Origin header")

	req.Header.Set("Origin", "http://app.test")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.test")
	assert.True(t, check(req), "same host")

	req.Header.Set("Origin", "http://evil.test")
	assert.False(t, check(req))
}
