package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"finclash/internal/api"
	"finclash/internal/game"
	"finclash/internal/markethours"
	"finclash/internal/marketdata"
	"finclash/internal/metrics"
	"finclash/internal/model"
	"finclash/internal/notification"
	"finclash/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	livenessInterval   = 10 * time.Second
	marketPublishEvery = time.Minute
	shutdownBudget     = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live stream and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, log, err := loadConfig("finclash")
	if err != nil {
		return err
	}
	markethours.SetLogger(log)
	if cfg.FinnhubToken == "" {
		log.Warn("FINNHUB_API_KEY is empty; upstream calls will fail and trades use fallback prices")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	a, err := buildApp(cfg, log, m)
	if err != nil {
		return err
	}
	defer a.Close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := a.cache.Restore(ctx); err != nil {
		log.Warn("durable cache restore failed", "err", err)
	} else {
		log.Info("durable cache restored", "entries", n)
	}

	// ---- Game ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL, "finclash"))
	}
	opts := []game.Option{
		game.WithLogger(log),
		game.WithNotifier(notifiers, cfg.AlertDrawdown),
	}
	if a.journal != nil {
		opts = append(opts, game.WithJournal(a.journal))
	}
	g := game.New(marketdata.NewPriceSource(a.market, marketdata.DefaultFallbackPrices()), opts...)

	hub := stream.NewHub(log, originChecker(cfg.AllowedOrigins))
	hub.OnClients = func(n int) { m.StreamClients.Set(float64(n)) }

	g.OnTrade = func(t model.Trade) {
		m.TradesTotal.WithLabelValues(string(t.Type)).Inc()
		hub.Broadcast(stream.ChannelTrades, t.JSON())
	}
	g.OnReject = func(reason string) { m.TradesRejected.WithLabelValues(reason).Inc() }
	g.OnAccount = func(n int) { m.Accounts.Set(float64(n)) }

	// ---- Metrics & health ----
	health := metrics.NewHealthStatus()
	if a.sqlDB != nil {
		health.Register("sqlite", a.sqlDB)
	}
	if a.redis != nil {
		health.Register("redis", a.redis)
	}
	health.StartLivenessChecker(ctx, livenessInterval)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	// ---- Background jobs ----
	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { a.cache.RunSweeper(ctx, cfg.SweepInterval) })
	run(func() { a.cache.RunSync(ctx, cfg.SyncInterval) })
	run(func() { g.RunSnapshots(ctx) })
	run(func() {
		hub.RunPublisher(ctx, stream.ChannelLeaderboard, cfg.LeaderboardInterval, func(ctx context.Context) any {
			return g.Leaderboard(ctx)
		})
	})
	run(func() {
		hub.RunPublisher(ctx, stream.ChannelMarket, marketPublishEvery, func(context.Context) any {
			st := markethours.StatusAt(time.Now())
			if st.Open {
				m.MarketOpen.Set(1)
			} else {
				m.MarketOpen.Set(0)
			}
			return st
		})
	})

	// ---- HTTP ----
	srv := api.NewServer(api.Config{
		Market:         a.market,
		Game:           g,
		Hub:            hub,
		AdminTOTP:      cfg.AdminTOTPSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
	})
	httpSrv := srv.NewHTTPServer(cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("finclash started", "backend", cfg.DurableBackend, "market", markethours.StatusString(time.Now()))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr = <-errCh:
		log.Error("api server failed", "err", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", "err", err)
	}
	hub.Close()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", "err", err)
	}

	// RunSync writes the final durable flush before returning.
	wg.Wait()
	log.Info("shutdown complete")
	return runErr
}

// originChecker accepts browsers from the configured origins; "*" accepts
// any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
