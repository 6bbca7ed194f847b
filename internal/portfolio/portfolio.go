// Package portfolio is the trading ledger of one game account: cash, long
// positions, short positions and the append-only trade history.
//
// Each symbol is in one of three states: none, long or short. Buy/sell move
// between none and long, short/cover between none and short; a direct flip
// from long to short (or back) is rejected. Short-sale proceeds are credited
// to cash when the short opens, so valuation counts open shorts at their
// running P&L rather than as a liability.
package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"finclash/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarginMultiplier caps short exposure at this multiple of cash.
const MarginMultiplier = 2

// InitialCash is the starting balance of every new portfolio.
var InitialCash = decimal.NewFromInt(100000)

// Position is a long holding.
type Position struct {
	Symbol   string          `json:"symbol"`
	Shares   int64           `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"` // volume-weighted
}

// ShortPosition is an open short.
type ShortPosition struct {
	Symbol     string          `json:"symbol"`
	Quantity   int64           `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"` // volume-weighted over all opens
}

// Portfolio is safe for concurrent use; every operation holds its lock.
type Portfolio struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*Position
	shorts    map[string]*ShortPosition
	history   []model.Trade

	now   func() time.Time
	newID func() string
}

// Option configures a Portfolio.
type Option func(*Portfolio)

// WithClock replaces time.Now for trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

// WithIDGenerator replaces the uuid trade-ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Portfolio) { p.newID = fn }
}

// WithCash overrides the starting cash.
func WithCash(cash decimal.Decimal) Option {
	return func(p *Portfolio) { p.cash = cash }
}

// New creates a portfolio holding InitialCash and nothing else.
func New(opts ...Option) *Portfolio {
	p := &Portfolio{
		cash:      InitialCash,
		positions: make(map[string]*Position),
		shorts:    make(map[string]*ShortPosition),
		history:   make([]model.Trade, 0, 64),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxShortQuantity returns floor(cash*MarginMultiplier/price), or 0 when
// cash or price is not positive.
func MaxShortQuantity(cash, price decimal.Decimal) int64 {
	if !cash.IsPositive() || !price.IsPositive() {
		return 0
	}
	return cash.Mul(decimal.NewFromInt(MarginMultiplier)).Div(price).Floor().IntPart()
}

func validate(symbol string, price decimal.Decimal, qty int64) (string, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	return sym, nil
}

// weightedAvg returns (avg*oldQty + price*qty) / (oldQty+qty).
func weightedAvg(avg decimal.Decimal, oldQty int64, price decimal.Decimal, qty int64) decimal.Decimal {
	total := avg.Mul(decimal.NewFromInt(oldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return total.Div(decimal.NewFromInt(oldQty + qty))
}

func (p *Portfolio) record(t model.TradeType, sym string, price decimal.Decimal, qty int64, total decimal.Decimal, pl *decimal.Decimal) model.Trade {
	tr := model.Trade{
		ID:         p.newID(),
		Type:       t,
		Symbol:     sym,
		Price:      price,
		Quantity:   qty,
		Total:      total,
		ProfitLoss: pl,
		Timestamp:  p.now(),
	}
	p.history = append(p.history, tr)
	return tr
}

// Buy opens or adds to a long position.
func (p *Portfolio) Buy(symbol string, price decimal.Decimal, qty int64) (model.Trade, error) {
	sym, err := validate(symbol, price, qty)
	if err != nil {
		return model.Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.shorts[sym]; ok && s.Quantity > 0 {
		return model.Trade{}, fmt.Errorf("%w: %s is held short", ErrConflictingPositionDirection, sym)
	}
	cost := price.Mul(decimal.NewFromInt(qty))
	if p.cash.LessThan(cost) {
		return model.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), p.cash.StringFixed(2))
	}

	p.cash = p.cash.Sub(cost)
	if pos, ok := p.positions[sym]; ok {
		pos.AvgPrice = weightedAvg(pos.AvgPrice, pos.Shares, price, qty)
		pos.Shares += qty
	} else {
		p.positions[sym] = &Position{Symbol: sym, Shares: qty, AvgPrice: price}
	}
	return p.record(model.TradeBuy, sym, price, qty, cost, nil), nil
}

// Sell reduces or closes a long position. The average price is unchanged
// on a partial sell. The trade's ProfitLoss is measured against it.
func (p *Portfolio) Sell(symbol string, price decimal.Decimal, qty int64) (model.Trade, error) {
	sym, err := validate(symbol, price, qty)
	if err != nil {
		return model.Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[sym]
	if !ok || pos.Shares < qty {
		var held int64
		if ok {
			held = pos.Shares
		}
		return model.Trade{}, fmt.Errorf("%w: %s has %d, want %d", ErrInsufficientShares, sym, held, qty)
	}

	proceeds := price.Mul(decimal.NewFromInt(qty))
	pl := price.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(qty))

	p.cash = p.cash.Add(proceeds)
	pos.Shares -= qty
	if pos.Shares == 0 {
		delete(p.positions, sym)
	}
	return p.record(model.TradeSell, sym, price, qty, proceeds, &pl), nil
}

// Short opens or adds to a short position and credits the proceeds.
func (p *Portfolio) Short(symbol string, price decimal.Decimal, qty int64) (model.Trade, error) {
	sym, err := validate(symbol, price, qty)
	if err != nil {
		return model.Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[sym]; ok && pos.Shares > 0 {
		return model.Trade{}, fmt.Errorf("%w: %s is held long", ErrConflictingPositionDirection, sym)
	}
	if max := MaxShortQuantity(p.cash, price); qty > max {
		return model.Trade{}, fmt.Errorf("%w: short %d exceeds margin limit %d", ErrInsufficientFunds, qty, max)
	}

	proceeds := price.Mul(decimal.NewFromInt(qty))
	p.cash = p.cash.Add(proceeds)
	if s, ok := p.shorts[sym]; ok {
		s.EntryPrice = weightedAvg(s.EntryPrice, s.Quantity, price, qty)
		s.Quantity += qty
	} else {
		p.shorts[sym] = &ShortPosition{Symbol: sym, Quantity: qty, EntryPrice: price}
	}
	return p.record(model.TradeShort, sym, price, qty, proceeds, nil), nil
}

// Cover buys back shorted shares. ProfitLoss = (entry - price) * qty.
func (p *Portfolio) Cover(symbol string, price decimal.Decimal, qty int64) (model.Trade, error) {
	sym, err := validate(symbol, price, qty)
	if err != nil {
		return model.Trade{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.shorts[sym]
	if !ok || s.Quantity == 0 {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrNoShortPosition, sym)
	}
	if s.Quantity < qty {
		return model.Trade{}, fmt.Errorf("%w: %s short %d, cover %d", ErrInsufficientShares, sym, s.Quantity, qty)
	}
	cost := price.Mul(decimal.NewFromInt(qty))
	if p.cash.LessThan(cost) {
		return model.Trade{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), p.cash.StringFixed(2))
	}

	pl := s.EntryPrice.Sub(price).Mul(decimal.NewFromInt(qty))
	p.cash = p.cash.Sub(cost)
	s.Quantity -= qty
	if s.Quantity == 0 {
		delete(p.shorts, sym)
	}
	return p.record(model.TradeCover, sym, price, qty, cost, &pl), nil
}

// Apply dispatches a trade by type.
func (p *Portfolio) Apply(t model.TradeType, symbol string, price decimal.Decimal, qty int64) (model.Trade, error) {
	switch t {
	case model.TradeBuy:
		return p.Buy(symbol, price, qty)
	case model.TradeSell:
		return p.Sell(symbol, price, qty)
	case model.TradeShort:
		return p.Short(symbol, price, qty)
	case model.TradeCover:
		return p.Cover(symbol, price, qty)
	default:
		return model.Trade{}, fmt.Errorf("%w: %q", model.ErrInvalidTradeType, t)
	}
}

// Cash returns the cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Position returns the long position in symbol. ok is false when none is held.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, AvgPrice: decimal.Zero}, false
	}
	return *pos, true
}

// ShortPosition returns the short position in symbol. ok is false when none is open.
func (p *Portfolio) ShortPosition(symbol string) (ShortPosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.shorts[symbol]
	if !ok {
		return ShortPosition{Symbol: symbol, EntryPrice: decimal.Zero}, false
	}
	return *s, true
}

// Positions returns all long positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ShortPositions returns all short positions sorted by symbol.
func (p *Portfolio) ShortPositions() []ShortPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ShortPosition, 0, len(p.shorts))
	for _, s := range p.shorts {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// History returns a copy of the trade history, oldest first.
func (p *Portfolio) History() []model.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Trade, len(p.history))
	copy(cp, p.history)
	return cp
}

// Symbols returns every symbol with an open long or short position.
func (p *Portfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.positions)+len(p.shorts))
	for sym := range p.positions {
		out = append(out, sym)
	}
	for sym := range p.shorts {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
