package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"finclash/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestPortfolio() *Portfolio {
	n := 0
	return New(WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}))
}

func TestNewPortfolioStartsWithCash(t *testing.T) {
	p := New()
	assert.True(t, p.Cash().Equal(d("100000")))
	assert.Empty(t, p.Positions())
	assert.Empty(t, p.ShortPositions())
	assert.Empty(t, p.History())
}

func TestBuySellRoundTripRestoresCash(t *testing.T) {
	p := newTestPortfolio()

	_, err := p.Buy("AAPL", d("178.37"), 33)
	require.NoError(t, err)
	_, err = p.Sell("AAPL", d("178.37"), 33)
	require.NoError(t, err)

	assert.True(t, p.Cash().Equal(InitialCash), "cash %s", p.Cash())
	_, ok := p.Position("AAPL")
	assert.False(t, ok)
	assert.Len(t, p.History(), 2)
}

func TestWeightedAveragePrice(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("X", d("10"), 10)
	require.NoError(t, err)
	_, err = p.Buy("X", d("20"), 10)
	require.NoError(t, err)

	pos, ok := p.Position("X")
	require.True(t, ok)
	assert.Equal(t, int64(20), pos.Shares)
	assert.True(t, pos.AvgPrice.Equal(d("15")), "avg %s", pos.AvgPrice)

	// a partial sell keeps the average
	tr, err := p.Sell("X", d("18"), 5)
	require.NoError(t, err)
	pos, _ = p.Position("X")
	assert.Equal(t, int64(15), pos.Shares)
	assert.True(t, pos.AvgPrice.Equal(d("15")))
	require.NotNil(t, tr.ProfitLoss)
	assert.True(t, tr.ProfitLoss.Equal(d("15")))
}

func TestBuyInsufficientFunds(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("AAPL", d("1000.01"), 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, p.Cash().Equal(InitialCash))
	assert.Empty(t, p.History())
}

func TestSellMoreThanHeld(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Sell("AAPL", d("10"), 1)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, err = p.Buy("AAPL", d("10"), 5)
	require.NoError(t, err)
	_, err = p.Sell("AAPL", d("10"), 6)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	pos, _ := p.Position("AAPL")
	assert.Equal(t, int64(5), pos.Shares)
}

func TestShortAndCover(t *testing.T) {
	p := newTestPortfolio()

	tr, err := p.Short("TSLA", d("100"), 50)
	require.NoError(t, err)
	assert.Equal(t, model.TradeShort, tr.Type)
	assert.True(t, tr.Total.Equal(d("5000")))
	assert.True(t, p.Cash().Equal(d("105000")))

	sp, ok := p.ShortPosition("TSLA")
	require.True(t, ok)
	assert.Equal(t, int64(50), sp.Quantity)
	assert.True(t, sp.EntryPrice.Equal(d("100")))

	tr, err = p.Cover("TSLA", d("75"), 40)
	require.NoError(t, err)
	assert.True(t, p.Cash().Equal(d("102000")))
	require.NotNil(t, tr.ProfitLoss)
	assert.True(t, tr.ProfitLoss.Equal(d("1000")))

	sp, ok = p.ShortPosition("TSLA")
	require.True(t, ok)
	assert.Equal(t, int64(10), sp.Quantity)
	assert.True(t, sp.EntryPrice.Equal(d("100")))

	_, err = p.Cover("TSLA", d("75"), 10)
	require.NoError(t, err)
	_, ok = p.ShortPosition("TSLA")
	assert.False(t, ok)
}

// ledgerState captures everything a rejected trade must leave untouched.
type ledgerState struct {
	Cash      string
	Positions []Position
	Shorts    []ShortPosition
	Trades    int
}

func stateOf(p *Portfolio) ledgerState {
	return ledgerState{
		Cash:      p.Cash().String(),
		Positions: p.Positions(),
		Shorts:    p.ShortPositions(),
		Trades:    len(p.History()),
	}
}

func TestCoverWithoutShort(t *testing.T) {
	p := newTestPortfolio()
	before := stateOf(p)
	_, err := p.Cover("TSLA", d("10"), 1)
	assert.ErrorIs(t, err, ErrNoShortPosition)
	assert.Equal(t, before, stateOf(p))

	_, err = p.Short("TSLA", d("10"), 5)
	require.NoError(t, err)
	before = stateOf(p)
	_, err = p.Cover("TSLA", d("10"), 6)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Equal(t, before, stateOf(p))
}

func TestCoverInsufficientCash(t *testing.T) {
	p := New(WithCash(d("1000")))
	_, err := p.Short("X", d("10"), 100)
	require.NoError(t, err)
	require.True(t, p.Cash().Equal(d("2000")))

	before := stateOf(p)
	_, err = p.Cover("X", d("25"), 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, stateOf(p))

	sp, ok := p.ShortPosition("X")
	require.True(t, ok)
	assert.Equal(t, int64(100), sp.Quantity)

	// a smaller cover that fits the cash still goes through
	_, err = p.Cover("X", d("25"), 80)
	require.NoError(t, err)
	assert.True(t, p.Cash().Equal(d("0")), "cash %s", p.Cash())
}

func TestShortEntryPriceIsWeighted(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Short("X", d("100"), 10)
	require.NoError(t, err)
	_, err = p.Short("X", d("70"), 20)
	require.NoError(t, err)
	sp, _ := p.ShortPosition("X")
	assert.Equal(t, int64(30), sp.Quantity)
	assert.True(t, sp.EntryPrice.Equal(d("80")), "entry %s", sp.EntryPrice)
}

func TestConflictingDirection(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("AAPL", d("10"), 1)
	require.NoError(t, err)
	before := stateOf(p)
	_, err = p.Short("AAPL", d("10"), 1)
	assert.ErrorIs(t, err, ErrConflictingPositionDirection)
	assert.Equal(t, before, stateOf(p))
	_, ok := p.ShortPosition("AAPL")
	assert.False(t, ok)

	_, err = p.Short("MSFT", d("10"), 1)
	require.NoError(t, err)
	before = stateOf(p)
	_, err = p.Buy("MSFT", d("10"), 1)
	assert.ErrorIs(t, err, ErrConflictingPositionDirection)
	assert.Equal(t, before, stateOf(p))
	_, ok = p.Position("MSFT")
	assert.False(t, ok)

	// once flat, either direction is allowed again
	_, err = p.Sell("AAPL", d("10"), 1)
	require.NoError(t, err)
	_, err = p.Short("AAPL", d("10"), 1)
	assert.NoError(t, err)
}

func TestMaxShortQuantity(t *testing.T) {
	assert.Equal(t, int64(100), MaxShortQuantity(d("1000"), d("20")))
	assert.Equal(t, int64(66), MaxShortQuantity(d("1000"), d("30")))
	assert.Equal(t, int64(0), MaxShortQuantity(d("0"), d("20")))
	assert.Equal(t, int64(0), MaxShortQuantity(d("1000"), d("0")))

	p := New(WithCash(d("1000")))
	_, err := p.Short("X", d("20"), 101)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = p.Short("X", d("20"), 100)
	assert.NoError(t, err)
}

func TestValidation(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("AAPL", d("10"), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = p.Sell("AAPL", d("10"), -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = p.Short("AAPL", d("0"), 1)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = p.Cover("", d("10"), 1)
	assert.ErrorIs(t, err, model.ErrInvalidSymbol)
	assert.Empty(t, p.History())
}

func TestSymbolsAreNormalized(t *testing.T) {
	p := newTestPortfolio()
	tr, err := p.Buy(" aapl ", d("10"), 1)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", tr.Symbol)
	_, ok := p.Position("AAPL")
	assert.True(t, ok)
}

func TestApplyDispatches(t *testing.T) {
	p := newTestPortfolio()
	tr, err := p.Apply(model.TradeShort, "X", d("10"), 2)
	require.NoError(t, err)
	assert.Equal(t, model.TradeShort, tr.Type)

	_, err = p.Apply(model.TradeType("hold"), "X", d("10"), 2)
	assert.ErrorIs(t, err, model.ErrInvalidTradeType)
}

func TestTotalValue(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("AAPL", d("100"), 10)
	require.NoError(t, err)
	_, err = p.Short("TSLA", d("200"), 5)
	require.NoError(t, err)

	// cash 100000 - 1000 + 1000 = 100000
	lookup := PriceMap(map[string]decimal.Decimal{"AAPL": d("110"), "TSLA": d("180")})
	v, err := p.TotalValue(lookup)
	require.NoError(t, err)
	// 100000 + 1100 + (200-180)*5
	assert.True(t, v.Equal(d("101200")), "value %s", v)

	s, err := p.Summary(lookup)
	require.NoError(t, err)
	assert.True(t, s.UnrealizedPnL.Equal(d("200")))
	assert.True(t, s.RealizedPnL.IsZero())
	assert.Equal(t, 2, s.OpenPositions)
	assert.Equal(t, 2, s.TradeCount)
}

func TestTotalValueMissingPrice(t *testing.T) {
	p := newTestPortfolio()
	_, err := p.Buy("AAPL", d("100"), 1)
	require.NoError(t, err)

	_, err = p.TotalValue(PriceMap(nil))
	assert.True(t, errors.Is(err, ErrPriceUnavailable))
}

func TestRealizedPnL(t *testing.T) {
	p := newTestPortfolio()
	_, _ = p.Buy("A", d("10"), 10)
	_, _ = p.Sell("A", d("12"), 10)
	_, _ = p.Short("B", d("50"), 4)
	_, _ = p.Cover("B", d("55"), 4)

	s, err := p.Summary(PriceMap(nil))
	require.NoError(t, err)
	// +20 on A, -20 on B
	assert.True(t, s.RealizedPnL.IsZero(), "realized %s", s.RealizedPnL)
	assert.True(t, s.TotalValue.Equal(InitialCash))
}

func TestConcurrentTradesAreSerialized(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Buy("AAPL", d("10"), 1)
		}()
	}
	wg.Wait()

	pos, ok := p.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(50), pos.Shares)
	assert.True(t, p.Cash().Equal(d("99500")))
	assert.Len(t, p.History(), 50)
}
