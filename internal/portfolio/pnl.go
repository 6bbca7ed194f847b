package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLookup returns the current price of symbol. ok is false when no
// price is known.
type PriceLookup func(symbol string) (price decimal.Decimal, ok bool)

// PriceMap adapts a fixed price table to a PriceLookup.
func PriceMap(prices map[string]decimal.Decimal) PriceLookup {
	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := prices[symbol]
		return p, ok
	}
}

// PnLSummary aggregates realized and unrealized profit and loss.
type PnLSummary struct {
	Cash          decimal.Decimal `json:"cash"`
	LongValue     decimal.Decimal `json:"long_value"`
	ShortPnL      decimal.Decimal `json:"short_pnl"`
	TotalValue    decimal.Decimal `json:"total_value"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	OpenPositions int             `json:"open_positions"`
	TradeCount    int             `json:"trade_count"`
}

// TotalValue returns cash + Σ long price*shares + Σ short (entry-price)*qty.
// Proceeds of a short were credited when it opened, so only its running
// P&L counts here.
func (p *Portfolio) TotalValue(lookup PriceLookup) (decimal.Decimal, error) {
	s, err := p.Summary(lookup)
	if err != nil {
		return decimal.Zero, err
	}
	return s.TotalValue, nil
}

// Summary values the portfolio against lookup. A symbol with an open
// position and no price fails with ErrPriceUnavailable.
func (p *Portfolio) Summary(lookup PriceLookup) (PnLSummary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := PnLSummary{
		Cash:          p.cash,
		LongValue:     decimal.Zero,
		ShortPnL:      decimal.Zero,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		OpenPositions: len(p.positions) + len(p.shorts),
		TradeCount:    len(p.history),
	}

	for sym, pos := range p.positions {
		price, ok := lookup(sym)
		if !ok {
			return PnLSummary{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, sym)
		}
		qty := decimal.NewFromInt(pos.Shares)
		s.LongValue = s.LongValue.Add(price.Mul(qty))
		s.UnrealizedPnL = s.UnrealizedPnL.Add(price.Sub(pos.AvgPrice).Mul(qty))
	}
	for sym, sp := range p.shorts {
		price, ok := lookup(sym)
		if !ok {
			return PnLSummary{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, sym)
		}
		pnl := sp.EntryPrice.Sub(price).Mul(decimal.NewFromInt(sp.Quantity))
		s.ShortPnL = s.ShortPnL.Add(pnl)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(pnl)
	}
	for _, t := range p.history {
		if t.ProfitLoss != nil {
			s.RealizedPnL = s.RealizedPnL.Add(*t.ProfitLoss)
		}
	}

	s.TotalValue = s.Cash.Add(s.LongValue).Add(s.ShortPnL)
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	return s, nil
}
