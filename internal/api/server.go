package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ipopool"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/matching"
	"github.com/sitcon-tw/camp-exchange/internal/transfer"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Server runs the exchange's HTTP/WebSocket API.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the handlers and route table around an already-constructed
// Hub; Start launches the Hub's Run loop. The Hub is constructed and handed to the matching engine as its
// Publisher before the engine starts, so NewServer takes it as a
// parameter rather than creating its own — there is no other order that
// avoids a construction cycle between the engine and the hub.
func NewServer(
	port int,
	hub *Hub,
	l *ledger.Ledger,
	cfg *config.Store,
	ipo *ipopool.Pool,
	engine *matching.Engine,
	transferSvc *transfer.Service,
	capability xchg.CapabilityFunc,
	allowedOrigins []string,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(l, cfg, ipo, engine, transferSvc, capability, hub, allowedOrigins, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	// Public reads
	mux.HandleFunc("/price_summary", handlers.HandlePriceSummary)
	mux.HandleFunc("/five_level_quote", handlers.HandleFiveLevelQuote)
	mux.HandleFunc("/recent_trades", handlers.HandleRecentTrades)
	mux.HandleFunc("/ipo_status", handlers.HandleIPOStatus)
	mux.HandleFunc("/trading_hours", handlers.HandleTradingHours)
	mux.HandleFunc("/transfer_fee_public", handlers.HandleTransferFeePublic)

	// Authenticated writes
	mux.HandleFunc("/place_order", handlers.HandlePlaceOrder)
	mux.HandleFunc("/cancel_order", handlers.HandleCancelOrder)
	mux.HandleFunc("/transfer", handlers.HandleTransfer)

	// Admin surface, capability-gated
	mux.HandleFunc("/admin/set_transfer_fee", handlers.HandleSetTransferFee)
	mux.HandleFunc("/admin/set_trading_limit", handlers.HandleSetTradingLimit)
	mux.HandleFunc("/admin/set_dynamic_tiers", handlers.HandleSetDynamicTiers)
	mux.HandleFunc("/admin/update_market_hours", handlers.HandleUpdateMarketHours)
	mux.HandleFunc("/admin/update_ipo_defaults", handlers.HandleUpdateIPODefaults)
	mux.HandleFunc("/admin/update_ipo", handlers.HandleUpdateIPO)
	mux.HandleFunc("/admin/reset_ipo", handlers.HandleResetIPO)
	mux.HandleFunc("/admin/force_settlement", handlers.HandleForceSettlement)
	mux.HandleFunc("/admin/give_points", handlers.HandleGivePoints)
	mux.HandleFunc("/admin/get_pending_orders", handlers.HandleGetPendingOrders)
	mux.HandleFunc("/admin/trigger_manual_match", handlers.HandleTriggerManualMatch)
	mux.HandleFunc("/admin/get_price_limit_info", handlers.HandleGetPriceLimitInfo)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Hub exposes the websocket hub so the caller can wire it as matching.Publisher.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub loop and blocks serving HTTP until the server is
// stopped or fails.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully drains in-flight requests before returning.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
