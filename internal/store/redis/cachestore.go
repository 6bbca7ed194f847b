// Package redis mirrors durable cache entries into a Redis hash, guarded
// by a circuit breaker so a dead server fails fast.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"finclash/internal/cache"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultKey is the hash holding the durable entries, one field per cache key.
const DefaultKey = "finclash:cache:durable"

// Config configures the Redis store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Key      string // hash key; DefaultKey when empty

	MaxFailures  int           // breaker threshold
	ResetTimeout time.Duration // breaker cool-down
}

// CacheStore implements cache.DurableStore on a Redis hash.
type CacheStore struct {
	client  *goredis.Client
	key     string
	breaker *CircuitBreaker
	log     *slog.Logger
}

var _ cache.DurableStore = (*CacheStore)(nil)

// New connects to Redis and pings it.
func New(cfg Config, logger *slog.Logger) (*CacheStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := NewWithClient(client, cfg, logger)
	s.log.Info("redis connected", "addr", cfg.Addr, "key", s.key)
	return s, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config, logger *slog.Logger) *CacheStore {
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	s := &CacheStore{
		client:  client,
		key:     key,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log:     logger,
	}
	s.breaker.OnStateChange = func(from, to State) {
		s.log.Warn("redis breaker state change", "from", from.String(), "to", to.String())
	}
	return s
}

// Breaker exposes the circuit breaker for metrics hooks.
func (s *CacheStore) Breaker() *CircuitBreaker { return s.breaker }

// Client returns the underlying client for health checks.
func (s *CacheStore) Client() *goredis.Client { return s.client }

// Ping checks the server through the breaker.
func (s *CacheStore) Ping(ctx context.Context) error {
	return s.breaker.Execute(func() error {
		return s.client.Ping(ctx).Err()
	})
}

// Save atomically replaces the hash with entries.
func (s *CacheStore) Save(ctx context.Context, entries []cache.Entry) error {
	values := make([]interface{}, 0, 2*len(entries))
	for _, e := range entries {
		b, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Key, err)
		}
		values = append(values, e.Key, b)
	}

	return s.breaker.Execute(func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.key)
			if len(values) > 0 {
				pipe.HSet(ctx, s.key, values...)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis save %s: %w", s.key, err)
		}
		return nil
	})
}

// Load reads every entry of the hash. Undecodable fields are skipped.
func (s *CacheStore) Load(ctx context.Context) ([]cache.Entry, error) {
	var raw map[string]string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.client.HGetAll(ctx, s.key).Result()
		if err != nil {
			return fmt.Errorf("redis load %s: %w", s.key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]cache.Entry, 0, len(raw))
	for field, v := range raw {
		e, err := decodeEntry([]byte(v))
		if err != nil {
			s.log.Warn("skipping cached field", "field", field, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the client.
func (s *CacheStore) Close() error {
	return s.client.Close()
}

func encodeEntry(e cache.Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(b []byte) (cache.Entry, error) {
	var e cache.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return cache.Entry{}, err
	}
	if !e.DataType.Valid() {
		return cache.Entry{}, fmt.Errorf("%w: %q", cache.ErrUnknownDataType, e.DataType)
	}
	if e.Key == "" || len(e.Data) == 0 {
		return cache.Entry{}, fmt.Errorf("incomplete entry")
	}
	return e, nil
}
