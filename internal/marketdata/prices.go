package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finclash/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when neither the live quote nor the fallback table
// has a price for a symbol.
var ErrNoPrice = errors.New("marketdata: no price available")

// DefaultFallbackPrices are last-resort prices for the game's featured tickers,
// used only when the live quote cannot be fetched.
func DefaultFallbackPrices() map[string]float64 {
	return map[string]float64{
		"AAPL":  178.50,
		"MSFT":  415.20,
		"GOOGL": 152.30,
		"AMZN":  178.10,
		"TSLA":  175.80,
		"NVDA":  880.00,
		"META":  495.00,
		"NFLX":  610.00,
	}
}

// PriceSource resolves a symbol to its current price from cached quotes,
// falling back to a static table when the upstream fetch fails.
type PriceSource struct {
	client   *Client
	fallback map[string]decimal.Decimal
	log      *slog.Logger
}

// NewPriceSource builds a PriceSource. fallback may be nil.
func NewPriceSource(c *Client, fallback map[string]float64) *PriceSource {
	fb := make(map[string]decimal.Decimal, len(fallback))
	for sym, p := range fallback {
		if p > 0 {
			fb[sym] = decimal.NewFromFloat(p)
		}
	}
	return &PriceSource{client: c, fallback: fb, log: c.log}
}

// Price returns the current price of symbol.
func (p *PriceSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	q, err := p.client.GetQuote(ctx, sym)
	if err == nil {
		return decimal.NewFromFloat(q.Current), nil
	}
	if !errors.Is(err, ErrFetchFailed) {
		return decimal.Zero, err
	}
	if fb, ok := p.fallback[sym]; ok {
		p.log.Warn("using fallback price", slog.String("symbol", sym), slog.String("price", fb.String()), slog.Any("err", err))
		return fb, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrNoPrice, sym, err)
}
