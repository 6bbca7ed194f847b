package sqlite

import (
	"context"
	"fmt"
	"time"

	"finclash/internal/model"

	"github.com/shopspring/decimal"
)

// Journal persists executed trades to the trades table.
type Journal struct {
	db *DB
}

// NewJournal returns a model.TradeJournal backed by db.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

var _ model.TradeJournal = (*Journal)(nil)

// RecordTrade appends one trade.
func (j *Journal) RecordTrade(ctx context.Context, t model.Trade) error {
	var pl decimal.NullDecimal
	if t.ProfitLoss != nil {
		pl = decimal.NewNullDecimal(*t.ProfitLoss)
	}
	_, err := j.db.db.ExecContext(ctx, `
		INSERT INTO trades (id, account_id, type, symbol, price, quantity, total, profit_loss, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, string(t.Type), t.Symbol, t.Price.String(), t.Quantity,
		t.Total.String(), pl, t.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Trades returns the last limit trades of accountID, oldest first.
// limit <= 0 returns all of them.
func (j *Journal) Trades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.db.QueryContext(ctx, `
		SELECT id, account_id, type, symbol, price, quantity, total, profit_loss, executed_at
		FROM trades
		WHERE account_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			t          model.Trade
			typ        string
			pl         decimal.NullDecimal
			executedAt int64
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &typ, &t.Symbol, &t.Price, &t.Quantity,
			&t.Total, &pl, &executedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		t.Type = model.TradeType(typ)
		if pl.Valid {
			v := pl.Decimal
			t.ProfitLoss = &v
		}
		t.Timestamp = time.Unix(0, executedAt).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}
