package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the game from concrete storage (SQLite journal, Redis).

// TradeJournal persists executed trades for audit and the history API.
type TradeJournal interface {
	// RecordTrade appends one executed trade.
	RecordTrade(ctx context.Context, t Trade) error

	// Trades returns the most recent limit trades for an account, oldest first.
	Trades(ctx context.Context, accountID string, limit int) ([]Trade, error)
}
