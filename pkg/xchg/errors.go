package xchg

import "errors"

// Stable error kinds surfaced to callers. Callers should compare with
// errors.Is; the engine wraps these with context via fmt.Errorf("%w").
var (
	ErrMarketClosed        = errors.New("market closed")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotOrderOwner       = errors.New("not order owner")
	ErrAlreadyTerminal     = errors.New("order already in a terminal state")
	ErrPriceOutOfBand      = errors.New("price out of band")
	ErrIPOExhausted        = errors.New("ipo pool exhausted")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrConflict            = errors.New("concurrent modification conflict")
	ErrInternal            = errors.New("internal invariant violation")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrHoldNotActive       = errors.New("hold not active")
)
