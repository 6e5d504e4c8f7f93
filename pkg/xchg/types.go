// Package xchg defines the shared data model for the training-camp stock
// exchange: participants, orders, trades, holds, the IPO pool, and the
// runtime configuration snapshot. It has no dependencies on internal
// packages, so it can be imported by any layer (engine, store, api).
package xchg

import "time"

// Core enums

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType distinguishes market orders (execute immediately at the best
// available price, falling back to the IPO pool) from limit orders (rest
// on the book at a fixed price until filled or cancelled).
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderState is the lifecycle state of an order. Pending/partial orders
// rest on the book, pending_limit orders sit quarantined outside the price
// band, and filled/cancelled/rejected are terminal.
type OrderState string

const (
	OrderPending      OrderState = "pending"
	OrderPartial      OrderState = "partial"
	OrderPendingLimit OrderState = "pending_limit"
	OrderFilled       OrderState = "filled"
	OrderCancelled    OrderState = "cancelled"
	OrderRejected     OrderState = "rejected"
)

// Terminal reports whether a state is one an order can never leave.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// TradeSource records whether a trade crossed two resting orders or was
// backfilled from the system-owned IPO inventory.
type TradeSource string

const (
	SourceBook TradeSource = "book"
	SourceIPO  TradeSource = "ipo"
)

// HoldKind identifies what obligation a reservation is protecting.
type HoldKind string

const (
	HoldLimitBuy          HoldKind = "limit-buy"
	HoldMarketBuyEstimate HoldKind = "market-buy-estimate"
	HoldSellShares        HoldKind = "sell-shares"
	HoldTransfer          HoldKind = "transfer"
	HoldPointsVsPoints    HoldKind = "pvp"
)

// HoldState is the lifecycle of a reservation. A hold is created active and
// transitions to consumed or released exactly once.
type HoldState string

const (
	HoldActive   HoldState = "active"
	HoldConsumed HoldState = "consumed"
	HoldReleased HoldState = "released"
)

// GiveTarget enumerates who an admin give_points operation credits.
type GiveTarget string

const (
	TargetUser      GiveTarget = "user"
	TargetGroup     GiveTarget = "group"
	TargetAllUsers  GiveTarget = "all_users"
	TargetAllGroups GiveTarget = "all_groups"
)

// Entities

// Participant is an identified trader in the exchange: a camp attendee, a
// team account, or the system itself (used for IPO and fee bookkeeping).
type Participant struct {
	ID              string
	DisplayName     string
	Team            string
	Role            string // opaque capability tag; the core never enumerates roles
	AvailablePoints int64
	ReservedPoints  int64
	Shares          int64
	ReservedShares  int64
}

// Hold is a reservation of points or shares against a pending obligation.
// Funds/shares do not change ownership until the hold is consumed.
type Hold struct {
	ID          string
	Participant string
	Kind        HoldKind
	Amount      int64  // points for point holds, share count for share holds
	Ref         string // linked order id or transfer id
	State       HoldState
	CreatedAt   time.Time
}

// Order is a resting or executing instruction to buy or sell shares.
type Order struct {
	ID           string
	Participant  string
	Side         Side
	Type         OrderType
	OriginalQty  int64
	RemainingQty int64
	LimitPrice   int64 // only meaningful when Type == Limit
	State        OrderState
	HoldID       string // the reservation backing this order, if any
	CreatedAt    time.Time
}

// Filled reports whether the order has no remaining quantity.
func (o *Order) Filled() bool { return o.RemainingQty == 0 }

// Trade is an immutable, append-only execution record.
type Trade struct {
	ID        string
	BuyOrder  string
	SellOrder string // for IPO-sourced trades, a synthetic system-owned sell
	Buyer     string
	Seller    string // system participant id for IPO-sourced trades
	Price     int64
	Qty       int64
	Timestamp time.Time
	Source    TradeSource
}

// IPOState is the system-owned share inventory sold to market buys when the
// ask side of the book is empty.
type IPOState struct {
	SharesRemaining int64
	UnitPrice       int64
	InitialShares   int64
}

// TradingWindow is a half-open [Start, End) instant range in UTC during
// which the market-hours gate is open.
type TradingWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether now falls in [Start, End).
func (w TradingWindow) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// PriceTier is one band of a tiered price-limit policy. MaxPrice == 0 means
// unbounded (the tier's upper edge is +infinity).
type PriceTier struct {
	MinPrice int64
	MaxPrice int64 // 0 means unbounded
	Percent  float64
}

// Contains reports whether a reference price falls inside the tier's
// half-open range [MinPrice, MaxPrice), so adjacent tiers sharing an edge
// price never both contain it.
func (t PriceTier) Contains(ref int64) bool {
	if ref < t.MinPrice {
		return false
	}
	if t.MaxPrice > 0 && ref >= t.MaxPrice {
		return false
	}
	return true
}

// PriceLimitPolicy is either a flat percentage band or a set of
// non-overlapping, min-price-ordered tiers. The two never coexist: setting
// one clears the other. DefaultPercent is used as a flat fallback when a
// tiered policy has no tier covering the reference price.
type PriceLimitPolicy struct {
	Flat           bool
	FlatPercent    float64
	Tiers          []PriceTier
	DefaultPercent float64
}

// PointHistoryEntry is an audit row appended by the ledger for transfers
// sent and received, fees, trade and IPO-sale proceeds, force settlement,
// and admin give_points. The buyer's side of a trade is settled out of a
// hold and records no entry.
type PointHistoryEntry struct {
	ID          string
	Participant string
	Delta       int64 // positive credit, negative debit
	Reason      string
	Ref         string
	At          time.Time
}

// ConfigSnapshot is the atomically-swapped view of all mutable runtime
// parameters. Readers always observe a fully-applied snapshot.
type ConfigSnapshot struct {
	TransferFeeRateBps int64 // fraction as basis points, 0..10000
	TransferMinFee     int64
	PriceLimitPolicy   PriceLimitPolicy
	IPODefaultShares   int64
	IPODefaultPrice    int64
	TradingWindows     []TradingWindow
	SweepInterval      time.Duration
}
