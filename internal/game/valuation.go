package game

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"finclash/internal/portfolio"

	"github.com/shopspring/decimal"
)

// Valuation is an account marked to the current prices.
type Valuation struct {
	AccountID      string                    `json:"account_id"`
	Name           string                    `json:"name"`
	Cash           decimal.Decimal           `json:"cash"`
	Positions      []portfolio.Position      `json:"positions"`
	ShortPositions []portfolio.ShortPosition `json:"short_positions"`
	Summary        portfolio.PnLSummary      `json:"summary"`
	ReturnPct      float64                   `json:"return_pct"`
}

// AccountMetrics is the analytics view of an account.
type AccountMetrics struct {
	AccountID string            `json:"account_id"`
	Metrics   portfolio.Metrics `json:"metrics"`
	Peak      decimal.Decimal   `json:"peak"`
	Drawdown  float64           `json:"drawdown"`
	Points    int               `json:"points"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank       int             `json:"rank"`
	AccountID  string          `json:"account_id"`
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"total_value"`
	ReturnPct  float64         `json:"return_pct"`
	Trades     int             `json:"trades"`
}

// lookupFor fetches a price for every open symbol of p.
func (g *Game) lookupFor(ctx context.Context, p *portfolio.Portfolio) (portfolio.PriceLookup, error) {
	syms := p.Symbols()
	prices := make(map[string]decimal.Decimal, len(syms))
	for _, sym := range syms {
		px, err := g.prices.Price(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", portfolio.ErrPriceUnavailable, sym, err)
		}
		prices[sym] = px
	}
	return portfolio.PriceMap(prices), nil
}

// summarize marks p to market. A trade can open a symbol between the price
// fetch and the summary; that case gets one more pass with fresh prices.
func (g *Game) summarize(ctx context.Context, p *portfolio.Portfolio) (portfolio.PnLSummary, error) {
	for attempt := 0; ; attempt++ {
		lookup, err := g.lookupFor(ctx, p)
		if err != nil {
			return portfolio.PnLSummary{}, err
		}
		s, err := p.Summary(lookup)
		if errors.Is(err, portfolio.ErrPriceUnavailable) && attempt == 0 {
			continue
		}
		return s, err
	}
}

func returnPct(total decimal.Decimal) float64 {
	return portfolio.TotalReturn(portfolio.InitialCash.InexactFloat64(), total.InexactFloat64()) * 100
}

// Value marks an account to market.
func (g *Game) Value(ctx context.Context, accountID string) (Valuation, error) {
	a, err := g.Account(accountID)
	if err != nil {
		return Valuation{}, err
	}
	s, err := g.summarize(ctx, a.Portfolio)
	if err != nil {
		return Valuation{}, err
	}
	return Valuation{
		AccountID:      a.ID,
		Name:           a.Name,
		Cash:           s.Cash,
		Positions:      a.Portfolio.Positions(),
		ShortPositions: a.Portfolio.ShortPositions(),
		Summary:        s,
		ReturnPct:      returnPct(s.TotalValue),
	}, nil
}

// Metrics computes the analytics of an account from its recorded value
// history plus the current value.
func (g *Game) Metrics(ctx context.Context, accountID string) (AccountMetrics, error) {
	a, err := g.Account(accountID)
	if err != nil {
		return AccountMetrics{}, err
	}
	s, err := g.summarize(ctx, a.Portfolio)
	if err != nil {
		return AccountMetrics{}, err
	}
	total := s.TotalValue

	values := append(a.History.Values(), total.InexactFloat64())
	m := portfolio.ComputeMetrics(portfolio.InitialCash.InexactFloat64(), total.InexactFloat64(),
		values, a.Portfolio.History())
	return AccountMetrics{
		AccountID: a.ID,
		Metrics:   m,
		Peak:      decimal.Max(a.History.Peak(), total),
		Drawdown:  a.History.Drawdown(),
		Points:    len(values),
	}, nil
}

// Leaderboard ranks accounts by total value, highest first. Accounts that
// cannot be priced right now are left out.
func (g *Game) Leaderboard(ctx context.Context) []Standing {
	accounts := g.Accounts()
	out := make([]Standing, 0, len(accounts))
	for _, a := range accounts {
		s, err := g.summarize(ctx, a.Portfolio)
		if err != nil {
			g.log.Warn("leaderboard: skipping account", "account_id", a.ID, "err", err)
			continue
		}
		total := s.TotalValue
		out = append(out, Standing{
			AccountID:  a.ID,
			Name:       a.Name,
			TotalValue: total,
			ReturnPct:  returnPct(total),
			Trades:     len(a.Portfolio.History()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalValue.GreaterThan(out[j].TotalValue) })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
