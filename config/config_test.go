package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"finclash/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no stray .env
	for _, k := range []string{"FINNHUB_API_KEY", "RATE_LIMIT_REQUESTS", "CACHE_TTL_FILE", "DURABLE_BACKEND", "ALLOWED_ORIGINS", "ALERT_DRAWDOWN"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, c.RateLimitMax)
	assert.Equal(t, time.Minute, c.RateLimitWin)
	assert.Equal(t, BackendSQLite, c.DurableBackend)
	assert.Equal(t, cache.DefaultMaxSize, c.CacheMaxSize)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.Nil(t, c.TTLs)
	assert.Nil(t, c.DurableTypes)
	assert.Equal(t, 0.2, c.AlertDrawdown)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATE_LIMIT_REQUESTS", "30")
	t.Setenv("RATE_LIMIT_WINDOW", "90")
	t.Setenv("LEADERBOARD_INTERVAL", "2s")
	t.Setenv("DURABLE_BACKEND", "Redis")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, c.RateLimitMax)
	assert.Equal(t, 90*time.Second, c.RateLimitWin)
	assert.Equal(t, 2*time.Second, c.LeaderboardInterval)
	assert.Equal(t, BackendRedis, c.DurableBackend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("RATE_LIMIT_REQUESTS", "0")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("DURABLE_BACKEND", "s3")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("DURABLE_BACKEND", "")
	t.Setenv("ALERT_DRAWDOWN", "1.5")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("ALERT_DRAWDOWN", "half")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(".env", []byte("HTTP_ADDR=:9999\n"), 0o600))
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", c.HTTPAddr)
}

func writeTTLFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTTLFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CACHE_TTL_FILE", writeTTLFile(t, `
max_size: 1000
ttl:
  quote: 30s
  News: 600
durable_types: [company]
`))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, c.CacheMaxSize)
	assert.Equal(t, map[cache.DataType]time.Duration{
		cache.Quote: 30 * time.Second,
		cache.News:  10 * time.Minute,
	}, c.TTLs)
	assert.Equal(t, []cache.DataType{cache.Company}, c.DurableTypes)
}

func TestTTLFileErrors(t *testing.T) {
	chdir(t, t.TempDir())
	cases := map[string]string{
		"unknown type": "ttl:\n  weather: 10s\n",
		"zero ttl":     "ttl:\n  quote: 0\n",
		"negative ttl": "ttl:\n  quote: -5s\n",
		"bad duration": "ttl:\n  quote: soon\n",
		"bad durable":  "durable_types: [weather]\n",
		"invalid yaml": "ttl: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CACHE_TTL_FILE", writeTTLFile(t, body))
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("45")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	d, err = parseDuration("1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
}
