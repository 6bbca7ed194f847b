package metrics

import (
	"context"
	"time"

	"finclash/internal/cache"
	"finclash/internal/marketdata"
	"finclash/internal/ratelimit"
	"finclash/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the market-data engine.
type Metrics struct {
	reg prometheus.Registerer

	// Cache
	CacheHits        *prometheus.CounterVec // labels: type
	CacheMisses      *prometheus.CounterVec // labels: type
	CacheEvictions   *prometheus.CounterVec // labels: type
	CacheExpirations *prometheus.CounterVec // labels: type

	// Durable mirror
	DurableSaveDur      prometheus.Histogram
	DurableSaveFailures prometheus.Counter
	BreakerState        prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips        prometheus.Counter

	// Upstream API
	LimiterWaits   prometheus.Counter
	LimiterWaitDur prometheus.Histogram
	FetchDur       *prometheus.HistogramVec // labels: type
	FetchFailures  *prometheus.CounterVec   // labels: type

	// Game
	TradesTotal    *prometheus.CounterVec // labels: type
	TradesRejected *prometheus.CounterVec // labels: reason
	Accounts       prometheus.Gauge
	StreamClients  prometheus.Gauge
	MarketOpen     prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reg: reg,

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_cache_hits_total",
			Help: "Cache lookups served from memory",
		}, []string{"type"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_cache_misses_total",
			Help: "Cache lookups that found nothing or an expired entry",
		}, []string{"type"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_cache_evictions_total",
			Help: "Entries evicted by the LRU capacity bound",
		}, []string{"type"}),
		CacheExpirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_cache_expirations_total",
			Help: "Entries removed after their TTL elapsed",
		}, []string{"type"}),

		DurableSaveDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finclash_durable_save_duration_seconds",
			Help:    "Durable cache mirror save latency",
			Buckets: prometheus.DefBuckets,
		}),
		DurableSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finclash_durable_save_failures_total",
			Help: "Failed durable cache mirror saves",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finclash_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finclash_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		LimiterWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finclash_ratelimit_waits_total",
			Help: "Times a fetch had to wait for a rate-limit slot",
		}),
		LimiterWaitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finclash_ratelimit_wait_seconds",
			Help:    "Computed rate-limit wait per sleep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finclash_upstream_fetch_duration_seconds",
			Help:    "Upstream API call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_upstream_fetch_failures_total",
			Help: "Failed upstream API calls",
		}, []string{"type"}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_trades_total",
			Help: "Executed trades",
		}, []string{"type"}),
		TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finclash_trades_rejected_total",
			Help: "Trades rejected by validation",
		}, []string{"reason"}),
		Accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finclash_accounts",
			Help: "Registered game accounts",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finclash_stream_clients",
			Help: "Connected WebSocket clients",
		}),
		MarketOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finclash_market_open",
			Help: "US equity session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CacheExpirations,
		m.DurableSaveDur,
		m.DurableSaveFailures,
		m.BreakerState,
		m.BreakerTrips,
		m.LimiterWaits,
		m.LimiterWaitDur,
		m.FetchDur,
		m.FetchFailures,
		m.TradesTotal,
		m.TradesRejected,
		m.Accounts,
		m.StreamClients,
		m.MarketOpen,
	)

	return m
}

// ObserveCache hooks the cache counters and registers an entry-count gauge.
func (m *Metrics) ObserveCache(c *cache.Cache) {
	c.OnHit = func(t cache.DataType) { m.CacheHits.WithLabelValues(string(t)).Inc() }
	c.OnMiss = func(t cache.DataType) { m.CacheMisses.WithLabelValues(string(t)).Inc() }
	c.OnEvict = func(t cache.DataType) { m.CacheEvictions.WithLabelValues(string(t)).Inc() }
	c.OnExpire = func(t cache.DataType) { m.CacheExpirations.WithLabelValues(string(t)).Inc() }

	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "finclash_cache_entries",
		Help: "Entries currently held in the cache",
	}, func() float64 { return float64(c.Len()) }))
}

// ObserveLimiter records every rate-limit sleep.
func (m *Metrics) ObserveLimiter(l *ratelimit.Limiter) {
	l.OnWait = func(d time.Duration) {
		m.LimiterWaits.Inc()
		m.LimiterWaitDur.Observe(d.Seconds())
	}
}

// ObserveClient records upstream call latency and failures.
func (m *Metrics) ObserveClient(c *marketdata.Client) {
	c.OnFetch = func(t cache.DataType, took time.Duration, err error) {
		m.FetchDur.WithLabelValues(string(t)).Observe(took.Seconds())
		if err != nil {
			m.FetchFailures.WithLabelValues(string(t)).Inc()
		}
	}
}

// ObserveBreaker mirrors breaker transitions, keeping any existing callback.
func (m *Metrics) ObserveBreaker(cb *redis.CircuitBreaker) {
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to redis.State) {
		if prev != nil {
			prev(from, to)
		}
		m.BreakerState.Set(float64(to))
		if to == redis.StateOpen {
			m.BreakerTrips.Inc()
		}
	}
}

// InstrumentStore wraps a durable store so saves are timed and failures counted.
func (m *Metrics) InstrumentStore(s cache.DurableStore) cache.DurableStore {
	return &instrumentedStore{DurableStore: s, m: m}
}

type instrumentedStore struct {
	cache.DurableStore
	m *Metrics
}

func (s *instrumentedStore) Save(ctx context.Context, entries []cache.Entry) error {
	start := time.Now()
	err := s.DurableStore.Save(ctx, entries)
	s.m.DurableSaveDur.Observe(time.Since(start).Seconds())
	if err != nil {
		s.m.DurableSaveFailures.Inc()
	}
	return err
}
