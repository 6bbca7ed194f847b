package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"finclash/internal/cache"
	"finclash/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "finclash.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := NewCacheStore(db)
	ctx := context.Background()

	stored := time.Date(2026, 5, 1, 14, 30, 0, 123456789, time.UTC)
	entries := []cache.Entry{
		{Key: "company_AAPL", Data: json.RawMessage(`{"name":"Apple Inc"}`), DataType: cache.Company,
			StoredAt: stored, LastAccessedAt: stored.Add(time.Minute), HitCount: 4},
		{Key: "fundamentals_MSFT", Data: json.RawMessage(`{"metric":{}}`), DataType: cache.Fundamentals,
			StoredAt: stored, LastAccessedAt: stored},
	}
	require.NoError(t, store.Save(ctx, entries))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byKey := map[string]cache.Entry{}
	for _, e := range got {
		byKey[e.Key] = e
	}
	apple := byKey["company_AAPL"]
	assert.Equal(t, cache.Company, apple.DataType)
	assert.JSONEq(t, `{"name":"Apple Inc"}`, string(apple.Data))
	assert.True(t, apple.StoredAt.Equal(stored))
	assert.True(t, apple.LastAccessedAt.Equal(stored.Add(time.Minute)))
	assert.Equal(t, int64(4), apple.HitCount)
}

func TestCacheStoreSaveReplaces(t *testing.T) {
	db := openTestDB(t)
	store := NewCacheStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, []cache.Entry{
		{Key: "company_A", Data: json.RawMessage(`1`), DataType: cache.Company, StoredAt: now, LastAccessedAt: now},
		{Key: "company_B", Data: json.RawMessage(`2`), DataType: cache.Company, StoredAt: now, LastAccessedAt: now},
	}))
	require.NoError(t, store.Save(ctx, []cache.Entry{
		{Key: "company_C", Data: json.RawMessage(`3`), DataType: cache.Company, StoredAt: now, LastAccessedAt: now},
	}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "company_C", got[0].Key)

	require.NoError(t, store.Save(ctx, nil))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCacheStoreRestoresIntoCache(t *testing.T) {
	db := openTestDB(t)
	store := NewCacheStore(db)
	ctx := context.Background()

	now := time.Now()
	clock := func() time.Time { return now }
	c1, err := cache.New(cache.Config{Store: store, Clock: clock})
	require.NoError(t, err)
	require.NoError(t, c1.Set("company_AAPL", []byte(`{"name":"Apple"}`), cache.Company))
	require.NoError(t, c1.Set("quote_AAPL", []byte(`{"c":1}`), cache.Quote))
	require.NoError(t, c1.Flush(ctx))

	c2, err := cache.New(cache.Config{Store: store, Clock: clock})
	require.NoError(t, err)
	n, err := c2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := c2.Get("company_AAPL", cache.Company)
	assert.True(t, ok)
	_, ok = c2.Get("quote_AAPL", cache.Quote)
	assert.False(t, ok)
}

func TestJournal(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 14, 30, 0, 0, time.UTC)

	pl := decimal.RequireFromString("12.5")
	trades := []model.Trade{
		{ID: "t1", AccountID: "a1", Type: model.TradeBuy, Symbol: "AAPL", Price: decimal.RequireFromString("178.5"),
			Quantity: 10, Total: decimal.RequireFromString("1785"), Timestamp: base},
		{ID: "t2", AccountID: "a2", Type: model.TradeShort, Symbol: "TSLA", Price: decimal.RequireFromString("100"),
			Quantity: 1, Total: decimal.RequireFromString("100"), Timestamp: base.Add(time.Second)},
		{ID: "t3", AccountID: "a1", Type: model.TradeSell, Symbol: "AAPL", Price: decimal.RequireFromString("179.75"),
			Quantity: 10, Total: decimal.RequireFromString("1797.5"), ProfitLoss: &pl, Timestamp: base.Add(2 * time.Second)},
	}
	for _, tr := range trades {
		require.NoError(t, j.RecordTrade(ctx, tr))
	}

	got, err := j.Trades(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Nil(t, got[0].ProfitLoss)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("178.5")))
	assert.Equal(t, "t3", got[1].ID)
	require.NotNil(t, got[1].ProfitLoss)
	assert.True(t, got[1].ProfitLoss.Equal(pl))
	assert.Equal(t, model.TradeSell, got[1].Type)
	assert.True(t, got[1].Timestamp.Equal(base.Add(2*time.Second)))

	latest, err := j.Trades(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "t3", latest[0].ID)

	// duplicate IDs are rejected
	assert.Error(t, j.RecordTrade(ctx, trades[0]))
}

func TestPing(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
