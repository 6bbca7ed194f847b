// Package game runs the paper-trading competition: accounts, live-priced
// trades, valuations and the leaderboard.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"finclash/internal/model"
	"finclash/internal/notification"
	"finclash/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidName     = errors.New("account name must be 1-40 characters")
)

const maxNameLen = 40

// PriceSource resolves a symbol to the price trades execute at.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Account is one player.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	Portfolio *portfolio.Portfolio    `json:"-"`
	History   *portfolio.ValueHistory `json:"-"`
}

// Game owns every account. Each account's portfolio serializes its own
// trades; the game lock only guards the account table.
type Game struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	prices   PriceSource
	journal  model.TradeJournal
	notifier notification.Notifier
	log      *slog.Logger
	now      func() time.Time

	alertDrawdown float64

	OnTrade   func(t model.Trade) // called after every executed trade
	OnReject  func(reason string) // called when a trade fails validation
	OnAccount func(total int)     // called after an account is created
}

// Option configures a Game.
type Option func(*Game)

// WithJournal appends every executed trade to j.
func WithJournal(j model.TradeJournal) Option {
	return func(g *Game) { g.journal = j }
}

// WithNotifier sends drawdown alerts through n.
func WithNotifier(n notification.Notifier, drawdown float64) Option {
	return func(g *Game) {
		g.notifier = n
		g.alertDrawdown = drawdown
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Game) { g.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Game) { g.now = now }
}

// New creates an empty game priced by prices.
func New(prices PriceSource, opts ...Option) *Game {
	g := &Game{
		accounts: make(map[string]*Account),
		prices:   prices,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateAccount registers a player with a fresh portfolio.
func (g *Game) CreateAccount(name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return nil, ErrInvalidName
	}

	now := g.now()
	a := &Account{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		Portfolio: portfolio.New(portfolio.WithClock(g.now)),
		History:   portfolio.NewValueHistory(now, portfolio.InitialCash, 0),
	}

	g.mu.Lock()
	g.accounts[a.ID] = a
	total := len(g.accounts)
	g.mu.Unlock()

	g.log.Info("account created", "account_id", a.ID, "name", a.Name)
	if g.OnAccount != nil {
		g.OnAccount(total)
	}
	return a, nil
}

// Account returns the account with id.
func (g *Game) Account(id string) (*Account, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a, nil
}

// Accounts returns every account ordered by creation time.
func (g *Game) Accounts() []*Account {
	g.mu.RLock()
	out := make([]*Account, 0, len(g.accounts))
	for _, a := range g.accounts {
		out = append(out, a)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Trade prices symbol from the live quote and applies the trade to the
// account's portfolio. The journal write is best effort.
func (g *Game) Trade(ctx context.Context, accountID string, kind model.TradeType, symbol string, qty int64) (model.Trade, error) {
	a, err := g.Account(accountID)
	if err != nil {
		return model.Trade{}, err
	}
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		g.reject(err)
		return model.Trade{}, err
	}
	if qty <= 0 {
		err := fmt.Errorf("%w: %d", portfolio.ErrInvalidQuantity, qty)
		g.reject(err)
		return model.Trade{}, err
	}

	price, err := g.prices.Price(ctx, sym)
	if err != nil {
		return model.Trade{}, fmt.Errorf("price %s: %w", sym, err)
	}

	tr, err := a.Portfolio.Apply(kind, sym, price, qty)
	if err != nil {
		g.reject(err)
		return model.Trade{}, err
	}
	tr.AccountID = a.ID

	if g.journal != nil {
		if err := g.journal.RecordTrade(ctx, tr); err != nil {
			g.log.Warn("journal write failed", "trade_id", tr.ID, "err", err)
		}
	}
	g.log.Info("trade executed",
		"account_id", a.ID, "type", string(tr.Type), "symbol", tr.Symbol,
		"qty", tr.Quantity, "price", tr.Price.String())
	if g.OnTrade != nil {
		g.OnTrade(tr)
	}
	return tr, nil
}

// RejectReason classifies a trade error for metrics labels.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, portfolio.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, portfolio.ErrNoShortPosition):
		return "no_short_position"
	case errors.Is(err, portfolio.ErrConflictingPositionDirection):
		return "conflicting_direction"
	case errors.Is(err, portfolio.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, portfolio.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, model.ErrInvalidSymbol):
		return "invalid_symbol"
	default:
		return "other"
	}
}

func (g *Game) reject(err error) {
	if g.OnReject != nil {
		g.OnReject(RejectReason(err))
	}
}

// Trades returns an account's recent trades from the journal when one is
// configured, otherwise from the in-memory history.
func (g *Game) Trades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	a, err := g.Account(accountID)
	if err != nil {
		return nil, err
	}
	if g.journal != nil {
		return g.journal.Trades(ctx, a.ID, limit)
	}
	h := a.Portfolio.History()
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	for i := range h {
		h[i].AccountID = a.ID
	}
	return h, nil
}
