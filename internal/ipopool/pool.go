// Package ipopool manages the system-owned IPO share inventory that backs
// market-buy orders once the book runs dry. Unlike a
// participant, the pool never runs reservations through internal/ledger: it
// has no available/reserved split, only a single remaining count that
// drains monotonically until an admin resets it.
package ipopool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Pool is the single-symbol IPO inventory. Thread-safe via mutex, mirroring
// the mutex-guarded manager-with-snapshot shape used across the exchange's
// other shared-state components.
type Pool struct {
	mu       sync.Mutex
	logger   *slog.Logger
	state    xchg.IPOState
	onChange func(xchg.IPOState)
}

// New creates a pool already seeded with initial shares and price.
func New(logger *slog.Logger, initial xchg.IPOState) *Pool {
	return &Pool{
		logger: logger.With("component", "ipopool"),
		state:  initial,
	}
}

// OnChange installs a hook invoked with a copy of the pool state after
// every mutation, while the pool lock is still held. The store wires this
// to its singleton ipo_state upsert.
func (p *Pool) OnChange(fn func(xchg.IPOState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Pool) changed() {
	if p.onChange != nil {
		p.onChange(p.state)
	}
}

// Status returns a copy of the current pool state.
func (p *Pool) Status() xchg.IPOState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Take draws up to qty shares from the pool at the pool's current unit
// price. It never errors on a partial draw — the caller (matching engine)
// decides what to do with a shortfall — but returns ErrIPOExhausted if the
// pool was already at zero before this call, so a caller can distinguish
// "nothing left at all" from "drew less than asked".
func (p *Pool) Take(qty int64) (filled int64, unitPrice int64, err error) {
	if qty <= 0 {
		return 0, 0, fmt.Errorf("%w: take qty must be positive", xchg.ErrInvalidConfig)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.SharesRemaining == 0 {
		return 0, p.state.UnitPrice, xchg.ErrIPOExhausted
	}

	filled = qty
	if filled > p.state.SharesRemaining {
		filled = p.state.SharesRemaining
	}
	p.state.SharesRemaining -= filled

	p.logger.Info("ipo shares drawn",
		"requested", qty, "filled", filled, "remaining", p.state.SharesRemaining)
	p.changed()

	return filled, p.state.UnitPrice, nil
}

// SetRemaining directly overwrites the remaining share count (admin
// update_ipo), leaving the unit price and initial-shares baseline alone.
func (p *Pool) SetRemaining(shares int64) error {
	if shares < 0 {
		return fmt.Errorf("%w: ipo shares must be non-negative", xchg.ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.SharesRemaining = shares
	p.logger.Info("ipo remaining shares set by admin", "shares", shares)
	p.changed()
	return nil
}

// SetUnitPrice directly overwrites the current unit price (admin
// update_ipo).
func (p *Pool) SetUnitPrice(price int64) error {
	if price <= 0 {
		return fmt.Errorf("%w: ipo unit price must be positive", xchg.ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.UnitPrice = price
	p.logger.Info("ipo unit price set by admin", "price", price)
	p.changed()
	return nil
}

// Reset restores the pool to shares/unitPrice as a fresh baseline (admin
// reset_ipo), replacing InitialShares too so future partial-exhaustion
// reporting is relative to this reset, not the original launch state.
func (p *Pool) Reset(shares, unitPrice int64) error {
	if shares < 0 {
		return fmt.Errorf("%w: ipo shares must be non-negative", xchg.ErrInvalidConfig)
	}
	if unitPrice <= 0 {
		return fmt.Errorf("%w: ipo unit price must be positive", xchg.ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = xchg.IPOState{
		SharesRemaining: shares,
		UnitPrice:       unitPrice,
		InitialShares:   shares,
	}
	p.logger.Info("ipo pool reset", "shares", shares, "unit_price", unitPrice)
	p.changed()
	return nil
}
