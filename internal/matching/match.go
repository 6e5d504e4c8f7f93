package matching

import (
	"context"
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

const recentTradesCap = 200

// match repeatedly crosses taker against the resting book (and, for a
// buy-side market order with a dry book, the IPO pool) until taker is
// either fully filled or can no longer cross. The caller must have already
// confirmed taker's price (if limit) is inside the current band — match
// itself never re-checks banding, it only decides where an order with
// leftover quantity ends up once crossing stops.
func (e *Engine) match(taker *xchg.Order) {
	for taker.RemainingQty > 0 {
		contra, ok := e.bestContra(taker.Side)
		if !ok {
			if taker.Side == xchg.Buy && taker.Type == xchg.Market {
				if e.tryIPO(taker) {
					continue
				}
			}
			break
		}
		if taker.Type == xchg.Limit && !crosses(taker, contra) {
			break
		}

		price := contra.LimitPrice
		qty := taker.RemainingQty
		if contra.RemainingQty < qty {
			qty = contra.RemainingQty
		}

		e.settleTrade(taker, contra, price, qty, xchg.SourceBook)

		taker.RemainingQty -= qty
		contra.RemainingQty -= qty
		e.lastTradePrice = price

		if contra.RemainingQty == 0 {
			e.finalizeFilled(contra)
			e.book.RemoveFilled(contra.Side)
		}
	}

	if taker.RemainingQty == 0 {
		e.finalizeFilled(taker)
		return
	}

	if taker.Type == xchg.Limit {
		if taker.RemainingQty < taker.OriginalQty {
			taker.State = xchg.OrderPartial
		} else {
			taker.State = xchg.OrderPending
		}
		e.book.Insert(taker)
		return
	}

	// Market order: whatever couldn't be sourced from the book or the IPO
	// pool is simply not executed. Quantity already filled is kept, never
	// rolled back; only the unmet remainder is dropped.
	if taker.RemainingQty < taker.OriginalQty {
		taker.State = xchg.OrderFilled
	} else {
		taker.State = xchg.OrderRejected
	}
	e.releaseRemainder(taker)
}

func (e *Engine) bestContra(side xchg.Side) (*xchg.Order, bool) {
	if side == xchg.Buy {
		return e.book.BestAsk()
	}
	return e.book.BestBid()
}

func crosses(taker, contra *xchg.Order) bool {
	if taker.Side == xchg.Buy {
		return taker.LimitPrice >= contra.LimitPrice
	}
	return taker.LimitPrice <= contra.LimitPrice
}

// tryIPO draws qty up to taker's remaining quantity from the IPO pool.
// Returns false (no progress) if the pool was already exhausted; a
// short-drawn but nonzero fill still returns true so the match loop tries
// again and naturally hits the exhausted case on the next iteration.
func (e *Engine) tryIPO(taker *xchg.Order) bool {
	filled, price, err := e.ipo.Take(taker.RemainingQty)
	if err != nil || filled <= 0 {
		return false
	}
	e.settleIPOTrade(taker, price, filled)
	taker.RemainingQty -= filled
	e.lastTradePrice = price
	e.metrics.IPORemaining(e.ipo.Status().SharesRemaining)
	return true
}

// settleTrade moves funds and shares for one book-crossing fill between
// taker and contra, and records the resulting trade.
func (e *Engine) settleTrade(taker, contra *xchg.Order, price, qty int64, source xchg.TradeSource) {
	var buyer, seller *xchg.Order
	if taker.Side == xchg.Buy {
		buyer, seller = taker, contra
	} else {
		buyer, seller = contra, taker
	}

	trade := xchg.Trade{
		ID:        xchg.NewID(),
		BuyOrder:  buyer.ID,
		SellOrder: seller.ID,
		Buyer:     buyer.Participant,
		Seller:    seller.Participant,
		Price:     price,
		Qty:       qty,
		Timestamp: time.Now(),
		Source:    source,
	}

	cost := qty * price
	err := e.ledger.WithTx(func(tx *ledger.Tx) error {
		if err := tx.SettleHold(buyer.HoldID, cost); err != nil {
			return err
		}
		if err := tx.AddShares(buyer.Participant, qty); err != nil {
			return err
		}
		if err := tx.SettleHold(seller.HoldID, qty); err != nil {
			return err
		}
		return tx.CreditPoints(seller.Participant, cost, "trade proceeds", trade.ID)
	})
	if err != nil {
		e.logger.Error("trade settlement invariant violated", "trade", trade.ID, "error", err)
		return
	}

	e.recordTrade(trade)
}

// settleIPOTrade is settleTrade's IPO-backed counterpart: the seller leg
// is the system account, which has no share inventory to debit. A synthetic
// system-owned sell order is recorded for each fill so every trade has a
// real order on both sides for audit.
func (e *Engine) settleIPOTrade(buyer *xchg.Order, price, qty int64) {
	sell := &xchg.Order{
		ID:           xchg.NewID(),
		Participant:  SystemParticipant,
		Side:         xchg.Sell,
		Type:         xchg.Limit,
		OriginalQty:  qty,
		RemainingQty: 0,
		LimitPrice:   price,
		State:        xchg.OrderFilled,
		CreatedAt:    time.Now(),
	}

	trade := xchg.Trade{
		ID:        xchg.NewID(),
		BuyOrder:  buyer.ID,
		SellOrder: sell.ID,
		Buyer:     buyer.Participant,
		Seller:    SystemParticipant,
		Price:     price,
		Qty:       qty,
		Timestamp: time.Now(),
		Source:    xchg.SourceIPO,
	}

	cost := qty * price
	err := e.ledger.WithTx(func(tx *ledger.Tx) error {
		if err := tx.SettleHold(buyer.HoldID, cost); err != nil {
			return err
		}
		if err := tx.AddShares(buyer.Participant, qty); err != nil {
			return err
		}
		return tx.CreditPoints(SystemParticipant, cost, "ipo sale", trade.ID)
	})
	if err != nil {
		e.logger.Error("ipo settlement invariant violated", "trade", trade.ID, "error", err)
		return
	}

	e.orders[sell.ID] = sell
	e.persistOrder(sell)
	e.recordTrade(trade)
}

func (e *Engine) recordTrade(trade xchg.Trade) {
	if e.sessionOpen == 0 {
		e.sessionOpen = trade.Price
		e.sessionHigh = trade.Price
		e.sessionLow = trade.Price
	}
	if trade.Price > e.sessionHigh {
		e.sessionHigh = trade.Price
	}
	if trade.Price < e.sessionLow {
		e.sessionLow = trade.Price
	}
	e.sessionVolume += trade.Qty

	e.recentTrades = append(e.recentTrades, trade)
	if len(e.recentTrades) > recentTradesCap {
		e.recentTrades = e.recentTrades[len(e.recentTrades)-recentTradesCap:]
	}
	e.metrics.TradeMatched(trade.Source, trade.Qty)
	if e.persist != nil {
		if err := e.persist.SaveTrade(context.Background(), trade); err != nil {
			e.logger.Error("failed to persist trade", "trade", trade.ID, "error", err)
		}
	}
	e.publisher.Publish("trade", trade)
}

// finalizeFilled marks o filled and releases any hold remainder left over
// from price improvement (a limit order filling at a better price than its
// limit leaves part of its reservation unconsumed).
func (e *Engine) finalizeFilled(o *xchg.Order) {
	o.State = xchg.OrderFilled
	e.releaseRemainder(o)
	e.persistOrder(o)
	e.publisher.Publish("order_filled", o)
}

func (e *Engine) releaseRemainder(o *xchg.Order) {
	h, ok := e.ledger.HoldSnapshot(o.HoldID)
	if !ok || h.State != xchg.HoldActive {
		return
	}
	if err := e.ledger.WithTx(func(tx *ledger.Tx) error {
		return tx.ReleaseHold(o.HoldID)
	}); err != nil {
		e.logger.Error("failed to release hold remainder", "order", o.ID, "hold", o.HoldID, "error", err)
	}
}
