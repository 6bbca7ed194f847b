package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSymbol is returned for empty or malformed ticker symbols.
var ErrInvalidSymbol = errors.New("invalid symbol")

// US tickers plus class suffixes (BRK.B), index carets (^GSPC) and
// exchange-qualified forms (BINANCE:BTCUSDT).
var symbolRe = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-:^]{0,19}$`)

// NormalizeSymbol trims and upper-cases s and validates the result.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRe.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}
