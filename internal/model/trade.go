package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the kind of ledger operation.
type TradeType string

const (
	TradeBuy   TradeType = "buy"
	TradeSell  TradeType = "sell"
	TradeShort TradeType = "short"
	TradeCover TradeType = "cover"
)

// ErrInvalidTradeType is returned for anything but buy, sell, short or cover.
var ErrInvalidTradeType = errors.New("invalid trade type")

// ParseTradeType accepts the four trade kinds, case-insensitively.
func ParseTradeType(s string) (TradeType, error) {
	switch t := TradeType(strings.ToLower(strings.TrimSpace(s))); t {
	case TradeBuy, TradeSell, TradeShort, TradeCover:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTradeType, s)
	}
}

// Opens reports whether the trade opens or adds to a position.
func (t TradeType) Opens() bool {
	return t == TradeBuy || t == TradeShort
}

// Trade is one entry in a portfolio's append-only history.
// ProfitLoss is set on sells (against the average buy price) and covers.
type Trade struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"account_id,omitempty"`
	Type       TradeType        `json:"type"`
	Symbol     string           `json:"symbol"`
	Price      decimal.Decimal  `json:"price"`
	Quantity   int64            `json:"quantity"`
	Total      decimal.Decimal  `json:"total"`
	ProfitLoss *decimal.Decimal `json:"profit_loss,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// JSON returns the JSON-encoded trade (ignoring errors for event fan-out).
func (t *Trade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
