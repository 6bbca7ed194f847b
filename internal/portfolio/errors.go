package portfolio

import "errors"

// Domain validation errors. Every one is returned before any state changes.
var (
	ErrInvalidQuantity              = errors.New("quantity must be positive")
	ErrInvalidPrice                 = errors.New("price must be positive")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrInsufficientShares           = errors.New("insufficient shares")
	ErrNoShortPosition              = errors.New("no short position")
	ErrConflictingPositionDirection = errors.New("conflicting position direction")
	ErrPriceUnavailable             = errors.New("price unavailable")
)
