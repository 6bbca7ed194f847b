package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"finclash/internal/cache"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Durable backends for the cache mirror.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Upstream market data
	FinnhubToken   string
	FinnhubBaseURL string
	RateLimitMax   int
	RateLimitWin   time.Duration
	NewsLookback   time.Duration

	// Cache
	CacheMaxSize  int
	CacheTTLFile  string
	TTLs          map[cache.DataType]time.Duration
	DurableTypes  []cache.DataType
	SweepInterval time.Duration
	SyncInterval  time.Duration

	// Infrastructure
	DurableBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SQLitePath     string
	HTTPAddr       string
	MetricsAddr    string
	AllowedOrigins []string
	LogLevel       string

	// Game
	LeaderboardInterval time.Duration
	AdminTOTPSecret     string

	// Alerts
	AlertWebhookURL string
	AlertDrawdown   float64 // fraction of peak; 0 disables drawdown alerts
}

// ttlFile is the YAML layout of CACHE_TTL_FILE.
//
//	max_size: 1000
//	ttl:
//	  quote: 30s
//	  news: 600      # seconds
//	durable_types: [fundamentals, company]
type ttlFile struct {
	MaxSize      int               `yaml:"max_size"`
	TTL          map[string]string `yaml:"ttl"`
	DurableTypes []string          `yaml:"durable_types"`
}

// Load reads a local .env file when present, then the environment, then
// the optional CACHE_TTL_FILE. Any malformed value is an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		FinnhubToken:   getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL: getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
		CacheTTLFile:   getEnv("CACHE_TTL_FILE", ""),
		DurableBackend: strings.ToLower(getEnv("DURABLE_BACKEND", BackendSQLite)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/finclash.db"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),
		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
	}

	var errs []error
	intVar := func(dst *int, key string, def int) {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	durVar := func(dst *time.Duration, key string, def time.Duration) {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}

	// Finnhub free tier: 60 calls per minute.
	intVar(&c.RateLimitMax, "RATE_LIMIT_REQUESTS", 60)
	durVar(&c.RateLimitWin, "RATE_LIMIT_WINDOW", time.Minute)
	durVar(&c.NewsLookback, "NEWS_LOOKBACK", 7*24*time.Hour)
	intVar(&c.CacheMaxSize, "CACHE_MAX_SIZE", cache.DefaultMaxSize)
	durVar(&c.SweepInterval, "CACHE_SWEEP_INTERVAL", cache.DefaultSweepEvery)
	durVar(&c.SyncInterval, "CACHE_SYNC_INTERVAL", cache.DefaultSyncEvery)
	intVar(&c.RedisDB, "REDIS_DB", 0)
	durVar(&c.LeaderboardInterval, "LEADERBOARD_INTERVAL", 10*time.Second)
	if v, err := envFloat("ALERT_DRAWDOWN", 0.2); err != nil {
		errs = append(errs, err)
	} else {
		c.AlertDrawdown = v
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if c.CacheTTLFile != "" {
		if err := c.loadTTLFile(c.CacheTTLFile); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadTTLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var f ttlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return c.applyTTLFile(f)
}

func (c *Config) applyTTLFile(f ttlFile) error {
	if f.MaxSize != 0 {
		c.CacheMaxSize = f.MaxSize
	}
	if len(f.TTL) > 0 {
		c.TTLs = make(map[cache.DataType]time.Duration, len(f.TTL))
		for name, v := range f.TTL {
			t, err := cache.ParseDataType(name)
			if err != nil {
				return fmt.Errorf("%w: ttl: %w", ErrInvalid, err)
			}
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: ttl.%s: %v", ErrInvalid, name, err)
			}
			if d <= 0 {
				return fmt.Errorf("%w: ttl.%s must be positive", ErrInvalid, name)
			}
			c.TTLs[t] = d
		}
	}
	if f.DurableTypes != nil {
		c.DurableTypes = make([]cache.DataType, 0, len(f.DurableTypes))
		for _, name := range f.DurableTypes {
			t, err := cache.ParseDataType(name)
			if err != nil {
				return fmt.Errorf("%w: durable_types: %w", ErrInvalid, err)
			}
			c.DurableTypes = append(c.DurableTypes, t)
		}
	}
	return nil
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	switch {
	case c.RateLimitMax <= 0:
		return fmt.Errorf("%w: RATE_LIMIT_REQUESTS must be positive", ErrInvalid)
	case c.RateLimitWin <= 0:
		return fmt.Errorf("%w: RATE_LIMIT_WINDOW must be positive", ErrInvalid)
	case c.CacheMaxSize <= 0:
		return fmt.Errorf("%w: cache max size must be positive", ErrInvalid)
	case c.SweepInterval <= 0 || c.SyncInterval <= 0 || c.LeaderboardInterval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalid)
	case c.AlertDrawdown < 0 || c.AlertDrawdown >= 1:
		return fmt.Errorf("%w: ALERT_DRAWDOWN must be in [0, 1)", ErrInvalid)
	}
	switch c.DurableBackend {
	case BackendSQLite, BackendRedis, BackendNone:
	default:
		return fmt.Errorf("%w: DURABLE_BACKEND %q (want sqlite, redis or none)", ErrInvalid, c.DurableBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
	}
	return d, nil
}

// parseDuration accepts Go duration strings or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
