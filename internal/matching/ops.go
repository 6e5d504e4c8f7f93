package matching

import (
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/clock"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/orderbook"
	"github.com/sitcon-tw/camp-exchange/internal/priceband"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Cancel cancels a resting or quarantined order and releases its hold.
// requester is the participant asking to cancel; pass "" to bypass the
// ownership check and the market-hours gate for an admin-triggered cancel;
// a participant's cancel returns ErrMarketClosed outside the trading
// windows. Cancel is not idempotent:
// cancelling an order already in a terminal state returns ErrAlreadyTerminal,
// matching the order-not-found-vs-already-done distinction callers need to
// report sensible errors.
func (e *Engine) Cancel(orderID, requester string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if requester != "" && !clock.IsOpen(time.Now(), e.cfg.Snapshot().TradingWindows) {
		return xchg.ErrMarketClosed
	}

	o, ok := e.orders[orderID]
	if !ok {
		return xchg.ErrOrderNotFound
	}
	if requester != "" && o.Participant != requester {
		return xchg.ErrNotOrderOwner
	}
	if o.State.Terminal() {
		return xchg.ErrAlreadyTerminal
	}

	if _, found := e.book.Cancel(orderID); !found {
		return xchg.ErrInternal
	}

	o.State = xchg.OrderCancelled
	if err := e.ledger.WithTx(func(tx *ledger.Tx) error {
		return tx.ReleaseHold(o.HoldID)
	}); err != nil {
		e.logger.Error("failed to release hold on cancel", "order", orderID, "error", err)
	}

	e.persistOrder(o)
	e.publisher.Publish("order_cancelled", o)
	return nil
}

// CancelAllOpen cancels every non-terminal order and releases its hold,
// bypassing ownership checks. Used by force_settlement, which must cancel
// every resting and pending_limit order before it can safely zero out share
// positions.
func (e *Engine) CancelAllOpen() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, o := range e.orders {
		if o.State.Terminal() {
			continue
		}
		e.book.Cancel(o.ID)
		o.State = xchg.OrderCancelled
		if err := e.ledger.WithTx(func(tx *ledger.Tx) error {
			return tx.ReleaseHold(o.HoldID)
		}); err != nil {
			e.logger.Error("failed to release hold during cancel-all", "order", o.ID, "error", err)
		}
		e.persistOrder(o)
		e.publisher.Publish("order_cancelled", o)
		n++
	}
	return n
}

// Sweep runs the periodic safety net on top of event-driven matching: it
// re-evaluates the pending_limit quarantine against the current price band,
// cancels orders whose backing hold has disappeared,
// and republishes the IPO and pending-depth gauges so metrics stay current
// even during quiet periods with no order flow.
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.promotePending()
	e.cancelOrphans()

	e.metrics.PendingLimitDepth(len(e.book.PendingOrders()))
	e.metrics.IPORemaining(e.ipo.Status().SharesRemaining)
}

// promotePending pulls quarantined limit orders back into the matchable
// book, FIFO by submission, until a full pass over the queue finds nothing
// in band. The band is recomputed before every promotion because each one
// can trade and move the reference price. Caller must hold e.mu.
func (e *Engine) promotePending() {
	for {
		band := priceband.Compute(e.cfg.Snapshot().PriceLimitPolicy, e.referencePrice())

		var next *xchg.Order
		for _, o := range e.book.PendingOrders() {
			if band.InBand(o.LimitPrice) {
				next = o
				break
			}
		}
		if next == nil {
			return
		}
		if _, ok := e.book.PopPending(next.ID); !ok {
			return
		}
		next.State = xchg.OrderPending
		e.match(next)
		e.persistOrder(next)
	}
}

// cancelOrphans terminates any live order whose backing hold is gone or no
// longer active: the reservation was lost out from under it, so the order
// could never settle.
func (e *Engine) cancelOrphans() {
	for _, o := range e.orders {
		if o.State.Terminal() {
			continue
		}
		if h, ok := e.ledger.HoldSnapshot(o.HoldID); ok && h.State == xchg.HoldActive {
			continue
		}
		e.book.Cancel(o.ID)
		o.State = xchg.OrderCancelled
		e.logger.Warn("cancelled orphaned order", "order", o.ID, "participant", o.Participant)
		e.persistOrder(o)
		e.publisher.Publish("order_cancelled", o)
	}
}

// OrderByID returns a copy of a known order, for read APIs.
func (e *Engine) OrderByID(orderID string) (xchg.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return xchg.Order{}, false
	}
	return *o, true
}

// PendingOrders returns a snapshot of the pending_limit quarantine queue.
func (e *Engine) PendingOrders() []xchg.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.book.PendingOrders()
	out := make([]xchg.Order, len(src))
	for i, o := range src {
		out[i] = *o
	}
	return out
}

// SessionStats is the aggregate price/volume summary reported by the
// public price_summary read.
type SessionStats struct {
	Last          int64
	Change        int64
	ChangePercent float64
	High          int64
	Low           int64
	Open          int64
	Volume        int64
}

// SessionStats reports open/high/low/last/volume over every trade since the
// engine started (the session is never reset), with change measured against
// the session's opening trade price. Zero value if no trade has occurred yet.
func (e *Engine) SessionStats() SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionOpen == 0 {
		return SessionStats{}
	}
	change := e.lastTradePrice - e.sessionOpen
	changePct := float64(change) / float64(e.sessionOpen) * 100
	return SessionStats{
		Last:          e.lastTradePrice,
		Change:        change,
		ChangePercent: changePct,
		High:          e.sessionHigh,
		Low:           e.sessionLow,
		Open:          e.sessionOpen,
		Volume:        e.sessionVolume,
	}
}

// LastTradePrice returns the most recent trade price, or 0 if none yet.
func (e *Engine) LastTradePrice() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTradePrice
}

// RecentTrades returns up to n of the most recent trades, newest last.
func (e *Engine) RecentTrades(n int) []xchg.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.recentTrades) || n <= 0 {
		n = len(e.recentTrades)
	}
	start := len(e.recentTrades) - n
	out := make([]xchg.Trade, n)
	copy(out, e.recentTrades[start:])
	return out
}

// Depth returns up to n aggregated price levels per side, best price first.
func (e *Engine) Depth(n int) (bids, asks []orderbook.PriceLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BidLevels(n), e.book.AskLevels(n)
}

// TriggerManualMatch forces a sweep pass on admin demand.
func (e *Engine) TriggerManualMatch() {
	e.Sweep()
}

// LoadOpenOrders restores resting and quarantined orders recovered from
// durable storage into the book and the order index, without re-reserving
// funds/shares (the holds backing them already exist in the ledger from the
// same recovery pass). Call once at startup, before Start.
func (e *Engine) LoadOpenOrders(orders []xchg.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range orders {
		o := orders[i]
		e.orders[o.ID] = &o
		if o.State == xchg.OrderPendingLimit {
			e.book.InsertPending(&o)
		} else {
			e.book.Insert(&o)
		}
	}
}
