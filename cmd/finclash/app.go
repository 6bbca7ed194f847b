package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"finclash/config"
	"finclash/internal/cache"
	"finclash/internal/logger"
	"finclash/internal/marketdata"
	"finclash/internal/metrics"
	"finclash/internal/model"
	"finclash/internal/ratelimit"
	redisstore "finclash/internal/store/redis"
	"finclash/internal/store/sqlite"
	"finclash/pkg/finnhub"

	goredis "github.com/go-redis/redis/v8"
)

// app bundles the components shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	market  *marketdata.Client

	sqlDB   *sqlite.DB            // nil with DURABLE_BACKEND=none
	redis   *redisstore.CacheStore // nil unless DURABLE_BACKEND=redis
	journal model.TradeJournal
}

func loadConfig(service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: LOG_LEVEL: %v", config.ErrInvalid, err)
	}
	return cfg, logger.Init(service, level), nil
}

// buildApp opens storage and wires cache, limiter and client. m may be nil
// for one-shot commands.
func buildApp(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var store cache.DurableStore
	if cfg.DurableBackend != config.BackendNone {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		a.sqlDB = db
		a.journal = sqlite.NewJournal(db)
		store = sqlite.NewCacheStore(db)
	}

	if cfg.DurableBackend == config.BackendRedis {
		rcfg := redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		rs, err := redisstore.New(rcfg, log)
		if err != nil {
			// Keep going: the breaker guards every call and the liveness
			// checker reports the outage.
			log.Warn("redis unavailable at startup", "addr", cfg.RedisAddr, "err", err)
			rs = redisstore.NewWithClient(goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}), rcfg, log)
		}
		a.redis = rs
		store = rs
		if m != nil {
			m.ObserveBreaker(rs.Breaker())
		}
	}

	if store != nil && m != nil {
		store = m.InstrumentStore(store)
	}

	c, err := cache.New(cache.Config{
		MaxSize:      cfg.CacheMaxSize,
		TTLs:         cfg.TTLs,
		DurableTypes: cfg.DurableTypes,
		Store:        store,
		Logger:       log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = c

	l, err := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWin)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.limiter = l

	fh := finnhub.NewClient(finnhub.Config{
		Token:   cfg.FinnhubToken,
		BaseURL: cfg.FinnhubBaseURL,
		Logger:  log,
	})
	a.market = marketdata.NewClient(fh, c, l,
		marketdata.WithLogger(log),
		marketdata.WithNewsLookback(cfg.NewsLookback))

	if m != nil {
		m.ObserveCache(c)
		m.ObserveLimiter(l)
		m.ObserveClient(a.market)
	}
	return a, nil
}

// Close releases storage handles.
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
	}
	return errors.Join(errs...)
}
