package api

import "time"

const recentTradesOnConnect = 20

// Snapshot aggregates every public read into one payload, sent to a
// websocket client immediately after connect so it has a consistent
// starting point before the first pushed Event arrives.
type Snapshot struct {
	Timestamp    time.Time                `json:"timestamp"`
	Price        PriceSummary             `json:"price"`
	Quote        FiveLevelQuote           `json:"quote"`
	RecentTrades []TradeView              `json:"recent_trades"`
	IPO          IPOStatusResponse        `json:"ipo"`
	TradingHours []TradingWindowView      `json:"trading_hours"`
	TransferFee  TransferFeePublicResponse `json:"transfer_fee"`
}

// buildSnapshot assembles a Snapshot from the handlers' collaborators. It
// takes no lock of its own: every field read is already a lock-protected
// snapshot method on its owning component.
func (h *Handlers) buildSnapshot() Snapshot {
	bids, asks := h.engine.Depth(5)
	cfg := h.cfg.Snapshot()

	windows := make([]TradingWindowView, len(cfg.TradingWindows))
	for i, w := range cfg.TradingWindows {
		windows[i] = TradingWindowView{Start: w.Start, End: w.End}
	}

	trades := h.engine.RecentTrades(recentTradesOnConnect)
	tradeViews := make([]TradeView, len(trades))
	for i, t := range trades {
		tradeViews[i] = newTradeView(t)
	}

	stats := h.engine.SessionStats()

	return Snapshot{
		Timestamp: time.Now(),
		Price: PriceSummary{
			Last:          stats.Last,
			Change:        stats.Change,
			ChangePercent: stats.ChangePercent,
			High:          stats.High,
			Low:           stats.Low,
			Open:          stats.Open,
			Volume:        stats.Volume,
		},
		Quote:        FiveLevelQuote{Bids: levelsToQuote(bids), Asks: levelsToQuote(asks)},
		RecentTrades: tradeViews,
		IPO:          newIPOStatusResponse(h.ipo.Status()),
		TradingHours: windows,
		TransferFee:  TransferFeePublicResponse{RateBps: cfg.TransferFeeRateBps, MinFee: cfg.TransferMinFee},
	}
}
