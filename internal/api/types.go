package api

import (
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/orderbook"
	"github.com/sitcon-tw/camp-exchange/internal/transfer"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// PriceSummary is the public price_summary() read.
type PriceSummary struct {
	Last          int64   `json:"last"`
	Change        int64   `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	High          int64   `json:"high"`
	Low           int64   `json:"low"`
	Open          int64   `json:"open"`
	Volume        int64   `json:"volume"`
}

// QuoteLevel is one aggregated rung of the book.
type QuoteLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// FiveLevelQuote is the public five_level_quote() read.
type FiveLevelQuote struct {
	Bids []QuoteLevel `json:"bids"`
	Asks []QuoteLevel `json:"asks"`
}

func levelsToQuote(levels []orderbook.PriceLevel) []QuoteLevel {
	out := make([]QuoteLevel, len(levels))
	for i, l := range levels {
		out[i] = QuoteLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}

// TradeView is the wire shape of a trade returned by recent_trades(n).
type TradeView struct {
	ID        string           `json:"id"`
	Price     int64            `json:"price"`
	Qty       int64            `json:"qty"`
	Timestamp time.Time        `json:"timestamp"`
	Source    xchg.TradeSource `json:"source"`
}

func newTradeView(t xchg.Trade) TradeView {
	return TradeView{ID: t.ID, Price: t.Price, Qty: t.Qty, Timestamp: t.Timestamp, Source: t.Source}
}

// IPOStatusResponse mirrors xchg.IPOState for the public ipo_status() read.
type IPOStatusResponse struct {
	SharesRemaining int64 `json:"shares_remaining"`
	UnitPrice       int64 `json:"unit_price"`
	InitialShares   int64 `json:"initial_shares"`
}

func newIPOStatusResponse(s xchg.IPOState) IPOStatusResponse {
	return IPOStatusResponse{SharesRemaining: s.SharesRemaining, UnitPrice: s.UnitPrice, InitialShares: s.InitialShares}
}

// TradingWindowView is one [start,end) window returned by trading_hours().
type TradingWindowView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TransferFeePublicResponse is the public transfer_fee_public() read.
type TransferFeePublicResponse struct {
	RateBps int64 `json:"rate_bps"`
	MinFee  int64 `json:"min_fee"`
}

// PlaceOrderRequest is the authenticated place_order{} write body.
type PlaceOrderRequest struct {
	Side  xchg.Side      `json:"side"`
	Type  xchg.OrderType `json:"type"`
	Qty   int64          `json:"qty"`
	Price int64          `json:"price,omitempty"`
}

// PlaceOrderResponse reports the resulting order state after placement.
type PlaceOrderResponse struct {
	OrderID      string          `json:"order_id"`
	State        xchg.OrderState `json:"state"`
	FilledQty    int64           `json:"filled_qty"`
	RemainingQty int64           `json:"remaining_qty"`
}

func newPlaceOrderResponse(o xchg.Order) PlaceOrderResponse {
	return PlaceOrderResponse{
		OrderID:      o.ID,
		State:        o.State,
		FilledQty:    o.OriginalQty - o.RemainingQty,
		RemainingQty: o.RemainingQty,
	}
}

// CancelOrderRequest is the authenticated cancel_order{} write body.
type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
}

// TransferRequest is the authenticated transfer{} write body.
type TransferRequest struct {
	Dst    string `json:"dst"`
	Amount int64  `json:"amount"`
}

// TransferResponse reports the fee charged on a settled transfer.
type TransferResponse struct {
	Fee int64 `json:"fee"`
}

// SetTransferFeeRequest is the admin set_transfer_fee{} body.
type SetTransferFeeRequest struct {
	RateBps int64 `json:"rate_bps"`
	MinFee  int64 `json:"min_fee"`
}

// SetTradingLimitRequest is the admin set_trading_limit{} body.
type SetTradingLimitRequest struct {
	Percent float64 `json:"percent"`
}

// TierRequest is one tier of the admin set_dynamic_tiers{} body.
type TierRequest struct {
	MinPrice int64   `json:"min_price"`
	MaxPrice int64   `json:"max_price"`
	Percent  float64 `json:"percent"`
}

// SetDynamicTiersRequest is the admin set_dynamic_tiers{} body.
// DefaultPercent is the flat fallback used when no tier covers the
// reference price.
type SetDynamicTiersRequest struct {
	Tiers          []TierRequest `json:"tiers"`
	DefaultPercent float64       `json:"default_percent"`
}

// WindowRequest is one window of the admin update_market_hours{} body.
type WindowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// UpdateMarketHoursRequest is the admin update_market_hours{} body.
type UpdateMarketHoursRequest struct {
	Windows []WindowRequest `json:"windows"`
}

// UpdateIPODefaultsRequest is the admin update_ipo_defaults{} body.
type UpdateIPODefaultsRequest struct {
	Shares    int64 `json:"shares"`
	UnitPrice int64 `json:"unit_price"`
}

// UpdateIPORequest is the admin update_ipo{shares_remaining?, unit_price?}
// body; an omitted field leaves that part of the pool untouched. Pointers
// rather than values so an explicit zero (drain the pool) is
// distinguishable from an absent field.
type UpdateIPORequest struct {
	SharesRemaining *int64 `json:"shares_remaining,omitempty"`
	UnitPrice       *int64 `json:"unit_price,omitempty"`
}

// GivePointsRequest is the admin give_points{target, id, amount} body:
// Target is the kind of recipient and ID names the user or team when that
// kind needs one.
type GivePointsRequest struct {
	Target xchg.GiveTarget `json:"target"`
	ID     string          `json:"id"`
	Amount int64           `json:"amount"`
}

// GivePointsResponse reports how many participants were credited.
type GivePointsResponse struct {
	ParticipantsCredited int `json:"participants_credited"`
}

// ForceSettlementRequest is the admin force_settlement{price?} body; a zero
// price settles at the engine's last trade price.
type ForceSettlementRequest struct {
	Price int64 `json:"price,omitempty"`
}

// ForceSettlementResponse is transfer.SettlementResult, given its own name
// on this side of the package boundary for a stable wire contract.
type ForceSettlementResponse = transfer.SettlementResult

// PriceLimitInfoRequest is the admin get_price_limit_info{test_price} body.
type PriceLimitInfoRequest struct {
	TestPrice int64 `json:"test_price"`
}

// PriceLimitInfoResponse reports the current band and whether test_price
// falls inside it.
type PriceLimitInfoResponse struct {
	ReferencePrice int64 `json:"reference_price"`
	Low            int64 `json:"low"`
	High           int64 `json:"high"`
	InBand         bool  `json:"in_band"`
}

// ErrorResponse is the JSON body written on any handler error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
