// Package cache is a typed TTL/LRU cache for market-data API responses.
//
// Entries expire by data type (quotes after a minute, company profiles after
// a week) and are evicted least-recently-accessed first once the cache is
// full. The two mechanisms are independent: an unexpired but cold entry can
// be evicted before an expired one is swept. Durable data types are mirrored
// to a DurableStore through explicit Flush calls or the RunSync loop.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxSize      = 500
	DefaultSweepEvery   = time.Minute
	DefaultSyncEvery    = 30 * time.Second
	shutdownFlushBudget = 5 * time.Second
)

// Config configures a Cache. Zero values take defaults.
type Config struct {
	MaxSize      int
	TTLs         map[DataType]time.Duration // overrides merged onto DefaultTTLs
	DurableTypes []DataType                 // nil means DefaultDurableTypes
	Store        DurableStore               // nil disables persistence
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element // value is *Entry
	lru     *list.List               // front = most recently accessed
	maxSize int
	ttls    map[DataType]time.Duration
	durable map[DataType]bool
	dirty   bool

	hits, misses, evictions, expirations uint64

	store DurableStore
	log   *slog.Logger
	now   func() time.Time

	// Optional metric hooks. Called with the cache lock held; they must not
	// call back into the cache.
	OnHit    func(DataType)
	OnMiss   func(DataType)
	OnEvict  func(DataType)
	OnExpire func(DataType)
}

// New validates cfg and builds a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("%w: max size %d", ErrInvalidConfig, cfg.MaxSize)
	}

	ttls := DefaultTTLs()
	for t, d := range cfg.TTLs {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: ttl for %w %q", ErrInvalidConfig, ErrUnknownDataType, t)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: ttl for %s must be positive, got %s", ErrInvalidConfig, t, d)
		}
		ttls[t] = d
	}

	durableTypes := cfg.DurableTypes
	if durableTypes == nil {
		durableTypes = DefaultDurableTypes()
	}
	durable := make(map[DataType]bool, len(durableTypes))
	for _, t := range durableTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: durable %w %q", ErrInvalidConfig, ErrUnknownDataType, t)
		}
		durable[t] = true
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Cache{
		entries: make(map[string]*list.Element, cfg.MaxSize),
		lru:     list.New(),
		maxSize: cfg.MaxSize,
		ttls:    ttls,
		durable: durable,
		store:   cfg.Store,
		log:     cfg.Logger.With(slog.String("component", "cache")),
		now:     cfg.Clock,
	}, nil
}

// TTL returns the expiry for a data type (0 for unknown types).
func (c *Cache) TTL(t DataType) time.Duration {
	return c.ttls[t]
}

// IsDurable reports whether entries of type t are mirrored to the store.
func (c *Cache) IsDurable(t DataType) bool {
	return c.durable[t]
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	ttl, ok := c.ttls[e.DataType]
	if !ok {
		return true
	}
	return now.Sub(e.StoredAt) > ttl
}

// Get returns a copy of the payload stored under key if it is present, of
// the given type and not expired. An expired entry is removed on discovery.
func (c *Cache) Get(key string, t DataType) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	el, ok := c.entries[key]
	if !ok {
		c.miss(t)
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.DataType != t {
		c.miss(t)
		return nil, false
	}
	if c.expired(e, now) {
		c.removeElement(el)
		c.expirations++
		if c.OnExpire != nil {
			c.OnExpire(e.DataType)
		}
		c.miss(t)
		return nil, false
	}

	e.LastAccessedAt = now
	e.HitCount++
	c.lru.MoveToFront(el)
	c.hits++
	if c.OnHit != nil {
		c.OnHit(t)
	}
	return bytes.Clone(e.Data), true
}

func (c *Cache) miss(t DataType) {
	c.misses++
	if c.OnMiss != nil {
		c.OnMiss(t)
	}
}

// Set stores data under key. When the cache is full and key is new, the
// least recently accessed entry is evicted first.
func (c *Cache) Set(key string, data []byte, t DataType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDataType, t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	buf := make([]byte, len(data))
	copy(buf, data)

	if el, ok := c.entries[key]; ok {
		old := el.Value.(*Entry)
		if c.durable[old.DataType] {
			c.dirty = true
		}
		el.Value = &Entry{Key: key, Data: buf, DataType: t, StoredAt: now, LastAccessedAt: now}
		c.lru.MoveToFront(el)
	} else {
		for c.lru.Len() >= c.maxSize {
			c.evictOldest()
		}
		c.entries[key] = c.lru.PushFront(&Entry{Key: key, Data: buf, DataType: t, StoredAt: now, LastAccessedAt: now})
	}
	if c.durable[t] {
		c.dirty = true
	}
	return nil
}

func (c *Cache) evictOldest() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	e := el.Value.(*Entry)
	c.removeElement(el)
	c.evictions++
	if c.OnEvict != nil {
		c.OnEvict(e.DataType)
	}
	c.log.Debug("evicted lru entry", slog.String("key", e.Key), slog.String("type", string(e.DataType)))
}

// removeElement unlinks an entry. Caller holds mu.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*Entry)
	c.lru.Remove(el)
	delete(c.entries, e.Key)
	if c.durable[e.DataType] {
		c.dirty = true
	}
}

// Peek returns a copy of the entry without touching its access time.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	e := *el.Value.(*Entry)
	e.Data = bytes.Clone(e.Data)
	return e, true
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Invalidate removes key. Reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// InvalidateType removes every entry of type t and returns how many.
func (c *Cache) InvalidateType(t DataType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry).DataType == t {
			c.removeElement(el)
			n++
		}
		el = next
	}
	return n
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, el := range c.entries {
		if c.durable[el.Value.(*Entry).DataType] {
			c.dirty = true
			break
		}
	}
	c.entries = make(map[string]*list.Element, c.maxSize)
	c.lru.Init()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if c.expired(e, now) {
			c.removeElement(el)
			c.expirations++
			if c.OnExpire != nil {
				c.OnExpire(e.DataType)
			}
			n++
		}
		el = next
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("swept expired entries", slog.Int("count", n))
			}
		}
	}
}

// Stats returns counters and age information.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := Stats{
		Count:       c.lru.Len(),
		ByType:      make(map[DataType]int),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}

	var oldest, newest time.Time
	for _, el := range c.entries {
		e := el.Value.(*Entry)
		s.ByType[e.DataType]++
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
		if newest.IsZero() || e.StoredAt.After(newest) {
			newest = e.StoredAt
		}
	}
	if !oldest.IsZero() {
		s.OldestAge = now.Sub(oldest)
		s.NewestAge = now.Sub(newest)
	}
	return s
}

// durableSnapshot copies the unexpired durable entries. Caller holds mu.
func (c *Cache) durableSnapshot(now time.Time) []Entry {
	out := make([]Entry, 0)
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*Entry)
		if c.durable[e.DataType] && !c.expired(e, now) {
			out = append(out, *e)
		}
	}
	return out
}

// Flush writes the durable entries to the store. Failures are logged and
// returned; the in-memory cache is unaffected and stays dirty for a retry.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	snap := c.durableSnapshot(c.now())
	c.dirty = false
	c.mu.Unlock()

	if err := c.store.Save(ctx, snap); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		c.log.Warn("durable flush failed", slog.Int("entries", len(snap)), slog.Any("err", err))
		return fmt.Errorf("cache flush: %w", err)
	}
	c.log.Debug("durable flush", slog.Int("entries", len(snap)))
	return nil
}

// Dirty reports whether durable entries changed since the last flush.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// RunSync flushes durable entries every interval when they changed, and
// once more on shutdown.
func (c *Cache) RunSync(ctx context.Context, interval time.Duration) {
	if c.store == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSyncEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if c.Dirty() {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushBudget)
				_ = c.Flush(flushCtx)
				cancel()
			}
			return
		case <-ticker.C:
			if c.Dirty() {
				_ = c.Flush(ctx)
			}
		}
	}
}

// Restore loads durable entries from the store verbatim, keeping their
// original StoredAt so expiry counts from the original fetch. Expired,
// unknown-type and non-durable entries are skipped.
func (c *Cache) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn("durable restore failed", slog.Any("err", err))
		return 0, fmt.Errorf("cache restore: %w", err)
	}

	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].LastAccessedAt.Before(loaded[j].LastAccessedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for i := range loaded {
		e := loaded[i]
		if !c.durable[e.DataType] || c.expired(&e, now) {
			continue
		}
		if el, ok := c.entries[e.Key]; ok {
			c.removeElement(el)
		}
		for c.lru.Len() >= c.maxSize {
			c.evictOldest()
		}
		c.entries[e.Key] = c.lru.PushFront(&e)
		n++
	}
	c.dirty = false
	c.log.Info("restored durable entries", slog.Int("count", n), slog.Int("stored", len(loaded)))
	return n, nil
}
