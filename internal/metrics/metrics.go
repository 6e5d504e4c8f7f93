// Package metrics exposes the exchange's Prometheus series: orders placed,
// rejections by reason, trades matched by source, pending_limit queue depth,
// and IPO shares remaining. The package-level var block of
// prometheus.New*Vec collectors registered once in init(), plus small
// labeled-increment helper methods, follows
// chidi150c-coinbase/metrics.go's shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchg_orders_placed_total",
			Help: "Orders placed, by side and type.",
		},
		[]string{"side", "type"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchg_orders_rejected_total",
			Help: "Orders rejected at placement time, by reason.",
		},
		[]string{"reason"},
	)

	tradesMatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchg_trades_matched_total",
			Help: "Trades matched, by source (book or ipo).",
		},
		[]string{"source"},
	)

	tradeShares = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchg_trade_shares_total",
			Help: "Shares traded, by source.",
		},
		[]string{"source"},
	)

	pendingLimitDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xchg_pending_limit_depth",
			Help: "Current size of the pending_limit quarantine queue.",
		},
	)

	ipoRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xchg_ipo_shares_remaining",
			Help: "Shares remaining in the system-owned IPO pool.",
		},
	)

	forceSettlementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xchg_force_settlements_total",
			Help: "Number of administrative force_settlement batches executed.",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, ordersRejected)
	prometheus.MustRegister(tradesMatched, tradeShares)
	prometheus.MustRegister(pendingLimitDepth, ipoRemaining)
	prometheus.MustRegister(forceSettlementsTotal)
}

// Collector implements internal/matching's Recorder interface.
type Collector struct{}

// New returns a Collector backed by the package-level registered series.
func New() Collector { return Collector{} }

func (Collector) OrderPlaced(side xchg.Side, typ xchg.OrderType) {
	ordersPlaced.WithLabelValues(string(side), string(typ)).Inc()
}

func (Collector) OrderRejected(reason string) {
	ordersRejected.WithLabelValues(reason).Inc()
}

func (Collector) TradeMatched(source xchg.TradeSource, qty int64) {
	tradesMatched.WithLabelValues(string(source)).Inc()
	tradeShares.WithLabelValues(string(source)).Add(float64(qty))
}

func (Collector) PendingLimitDepth(n int) {
	pendingLimitDepth.Set(float64(n))
}

func (Collector) IPORemaining(n int64) {
	ipoRemaining.Set(float64(n))
}

// IncForceSettlement records one force_settlement batch. Not part of the
// matching.Recorder interface (force settlement lives in internal/transfer,
// not internal/matching); called directly from the admin handler.
func IncForceSettlement() {
	forceSettlementsTotal.Inc()
}
