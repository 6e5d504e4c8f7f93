// Package matching is the single-writer matching engine: the only place in
// the system that mutates orders, the book, and ledger holds together. Every
// mutating call takes the same lock, so "place then match" and "cancel"
// never interleave and no reader ever observes an order mid-fill. The
// lifecycle (ctx/cancel/WaitGroup, Start/Stop, a ticker-driven background
// pass) follows the orchestrator shape used elsewhere in this codebase,
// narrowed from a multi-market supervisor to one symbol's order flow plus a
// periodic safety-net sweep in place of a risk monitor.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/clock"
	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ipopool"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/orderbook"
	"github.com/sitcon-tw/camp-exchange/internal/priceband"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// SystemParticipant is the ledger account that backs IPO sales and absorbs
// transfer fees; it must be registered before the engine starts.
const SystemParticipant = "system"

// Recorder is the metrics surface the engine reports to. Defined here
// rather than imported from internal/metrics so this package has no
// dependency on its concrete Prometheus collectors.
type Recorder interface {
	OrderPlaced(side xchg.Side, typ xchg.OrderType)
	OrderRejected(reason string)
	TradeMatched(source xchg.TradeSource, qty int64)
	PendingLimitDepth(n int)
	IPORemaining(n int64)
}

// Persister is the durability surface the engine writes through. Defined
// here so matching has no import-time dependency on the concrete store
// package; internal/store implements this interface. Participant balances,
// point history, IPO state, and config snapshots persist through their
// owning components' change hooks instead — orders and trades are the only
// state the engine itself owns.
type Persister interface {
	SaveOrder(ctx context.Context, o xchg.Order) error
	SaveTrade(ctx context.Context, t xchg.Trade) error
}

// Publisher broadcasts engine events to connected clients (websocket push).
// internal/api's Hub implements this.
type Publisher interface {
	Publish(kind string, payload any)
}

type noopRecorder struct{}

func (noopRecorder) OrderPlaced(xchg.Side, xchg.OrderType) {}
func (noopRecorder) OrderRejected(string)                  {}
func (noopRecorder) TradeMatched(xchg.TradeSource, int64)  {}
func (noopRecorder) PendingLimitDepth(int)                 {}
func (noopRecorder) IPORemaining(int64)                    {}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Engine is the matching engine for the single traded symbol.
type Engine struct {
	mu sync.Mutex

	cfg    *config.Store
	ledger *ledger.Ledger
	ipo    *ipopool.Pool
	book   *orderbook.Book

	persist   Persister
	metrics   Recorder
	publisher Publisher
	logger    *slog.Logger

	lastTradePrice int64
	sessionOpen    int64
	sessionHigh    int64
	sessionLow     int64
	sessionVolume  int64
	recentTrades   []xchg.Trade
	orders         map[string]*xchg.Order

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options bundles the engine's collaborators; Metrics and Publisher may be
// left nil and default to no-ops, since not every deployment wires a
// dashboard or a Prometheus scrape target.
type Options struct {
	Config    *config.Store
	Ledger    *ledger.Ledger
	IPO       *ipopool.Pool
	Book      *orderbook.Book
	Persist   Persister
	Metrics   Recorder
	Publisher Publisher
	Logger    *slog.Logger
}

// New constructs an engine ready to Start.
func New(opts Options) *Engine {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Engine{
		cfg:       opts.Config,
		ledger:    opts.Ledger,
		ipo:       opts.IPO,
		book:      opts.Book,
		persist:   opts.Persist,
		metrics:   metrics,
		publisher: publisher,
		logger:    opts.Logger.With("component", "matching"),
		orders:    make(map[string]*xchg.Order),
	}
}

// Start launches the periodic sweep goroutine: pending_limit
// re-evaluation and orphaned-hold cleanup as a safety net on top of the
// event-driven matching done inline in Place/Cancel.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSweep()
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("matching engine stopped")
}

func (e *Engine) runSweep() {
	interval := e.cfg.Snapshot().SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// PlaceRequest describes an order placement.
type PlaceRequest struct {
	Participant string
	Side        xchg.Side
	Type        xchg.OrderType
	Qty         int64
	LimitPrice  int64 // required for Type == Limit, ignored for Market
}

// referencePrice is the price used to classify a new limit order's band
// and to estimate a market buy's worst-case cost: the last trade price if
// one exists, otherwise the IPO pool's current unit price (the symbol's
// only anchor before any trading has happened).
func (e *Engine) referencePrice() int64 {
	if e.lastTradePrice > 0 {
		return e.lastTradePrice
	}
	return e.ipo.Status().UnitPrice
}

// Place validates, reserves funds/shares, classifies, and attempts to match
// a new order. It returns the order in its resulting state (pending_limit,
// partial, filled, or rejected are all possible non-error outcomes — only a
// precondition failure returns an error).
func (e *Engine) Place(req PlaceRequest) (*xchg.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	windows := e.cfg.Snapshot().TradingWindows
	if !clock.IsOpen(now, windows) {
		e.metrics.OrderRejected("market_closed")
		return nil, xchg.ErrMarketClosed
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: qty must be positive", xchg.ErrInvalidConfig)
	}
	if req.Type == xchg.Limit && req.LimitPrice <= 0 {
		return nil, fmt.Errorf("%w: limit price must be positive", xchg.ErrInvalidConfig)
	}

	order := &xchg.Order{
		ID:           xchg.NewID(),
		Participant:  req.Participant,
		Side:         req.Side,
		Type:         req.Type,
		OriginalQty:  req.Qty,
		RemainingQty: req.Qty,
		LimitPrice:   req.LimitPrice,
		State:        xchg.OrderPending,
		CreatedAt:    now,
	}

	band := priceband.Compute(e.cfg.Snapshot().PriceLimitPolicy, e.referencePrice())

	if err := e.reserve(order, band); err != nil {
		e.metrics.OrderRejected(reasonOf(err))
		order.State = xchg.OrderRejected
		return order, err
	}

	e.orders[order.ID] = order

	quarantined := order.Type == xchg.Limit && !band.InBand(order.LimitPrice)
	if quarantined {
		order.State = xchg.OrderPendingLimit
		e.book.InsertPending(order)
		e.persistOrder(order)
		e.metrics.OrderPlaced(order.Side, order.Type)
		e.publisher.Publish("order_pending_limit", order)
		return order, nil
	}

	e.match(order)
	e.metrics.OrderPlaced(order.Side, order.Type)
	e.persistOrder(order)

	// Any trade above moved the reference price, which may have brought
	// quarantined limit orders back inside the band.
	e.promotePending()
	return order, nil
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, xchg.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, xchg.ErrInsufficientShares):
		return "insufficient_shares"
	default:
		return "invalid"
	}
}

// reserve places the ledger hold that backs order, sized worst-case:
//   - limit buy: qty * limit price
//   - market buy: qty * band.High, the most the order could legally pay at
//     the current reference price — conservative so no in-flight price
//     movement within the band can starve the reservation mid-match
//   - any sell: qty shares, via ReserveShares
func (e *Engine) reserve(order *xchg.Order, band priceband.Band) error {
	return e.ledger.WithTx(func(tx *ledger.Tx) error {
		var holdID string
		var err error
		switch {
		case order.Side == xchg.Sell:
			holdID, err = tx.ReserveShares(order.Participant, order.OriginalQty, order.ID)
		case order.Type == xchg.Limit:
			holdID, err = tx.Reserve(order.Participant, order.OriginalQty*order.LimitPrice, xchg.HoldLimitBuy, order.ID)
		default: // market buy
			holdID, err = tx.Reserve(order.Participant, order.OriginalQty*band.High, xchg.HoldMarketBuyEstimate, order.ID)
		}
		if err != nil {
			return err
		}
		order.HoldID = holdID
		return nil
	})
}

func (e *Engine) persistOrder(o *xchg.Order) {
	if e.persist == nil {
		return
	}
	if err := e.persist.SaveOrder(context.Background(), *o); err != nil {
		e.logger.Error("failed to persist order", "order", o.ID, "error", err)
	}
}
