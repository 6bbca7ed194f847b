package portfolio

import (
	"math"

	"finclash/internal/model"
)

const (
	// TradingDaysPerYear annualizes daily statistics.
	TradingDaysPerYear = 252
	// RiskFreeRate is the annual rate used by SharpeRatio.
	RiskFreeRate = 0.02
)

// Metrics is the analytics bundle reported per account. Returns and
// drawdowns are fractions, not percentages.
type Metrics struct {
	TotalReturn          float64 `json:"total_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	WinRate              float64 `json:"win_rate"`
	ClosedTrades         int     `json:"closed_trades"`
}

// ComputeMetrics derives every analytic from a value series and a trade history.
func ComputeMetrics(initial, current float64, values []float64, history []model.Trade) Metrics {
	win, closed := winRate(history)
	return Metrics{
		TotalReturn:          TotalReturn(initial, current),
		AnnualizedVolatility: AnnualizedVolatility(values),
		SharpeRatio:          SharpeRatio(values),
		MaxDrawdown:          MaxDrawdown(values),
		WinRate:              win,
		ClosedTrades:         closed,
	}
}

// TotalReturn is (current-initial)/initial; 0 when initial is not positive.
func TotalReturn(initial, current float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (current - initial) / initial
}

// DailyReturns returns the period-over-period returns of values, skipping
// periods that start at a non-positive value.
func DailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}

// AnnualizedVolatility is the population standard deviation of daily
// returns scaled by sqrt(252).
func AnnualizedVolatility(values []float64) float64 {
	_, std := meanStd(DailyReturns(values))
	return std * math.Sqrt(TradingDaysPerYear)
}

// SharpeRatio is the annualized mean excess daily return over its standard
// deviation. The risk-free rate is prorated per trading day. A flat series
// has no defined ratio and yields 0.
func SharpeRatio(values []float64) float64 {
	mean, std := meanStd(DailyReturns(values))
	if std == 0 {
		return 0
	}
	excess := mean - RiskFreeRate/TradingDaysPerYear
	return excess / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	var peak, maxDD float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// WinRate is the fraction of closing trades that were profitable.
func WinRate(history []model.Trade) float64 {
	r, _ := winRate(history)
	return r
}

// winRate scores each sell against the quantity-weighted average price of
// all earlier buys of the symbol, and each cover against earlier shorts.
// Closing trades with no earlier open are not counted.
func winRate(history []model.Trade) (rate float64, closed int) {
	type acc struct{ notional, qty float64 }
	opens := map[model.TradeType]map[string]*acc{
		model.TradeBuy:   {},
		model.TradeShort: {},
	}
	var wins int
	for _, t := range history {
		price := t.Price.InexactFloat64()
		switch t.Type {
		case model.TradeBuy, model.TradeShort:
			a := opens[t.Type][t.Symbol]
			if a == nil {
				a = &acc{}
				opens[t.Type][t.Symbol] = a
			}
			a.notional += price * float64(t.Quantity)
			a.qty += float64(t.Quantity)
		case model.TradeSell, model.TradeCover:
			openType := model.TradeBuy
			if t.Type == model.TradeCover {
				openType = model.TradeShort
			}
			a := opens[openType][t.Symbol]
			if a == nil || a.qty == 0 {
				continue
			}
			avg := a.notional / a.qty
			closed++
			if (t.Type == model.TradeSell && price > avg) || (t.Type == model.TradeCover && price < avg) {
				wins++
			}
		}
	}
	if closed == 0 {
		return 0, 0
	}
	return float64(wins) / float64(closed), closed
}
