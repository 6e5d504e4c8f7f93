// Camp Exchange — a simulated single-symbol stock exchange for a training
// camp: a price-time priority matching engine backed by an IPO pool, a
// points-and-shares ledger, price-limit bands, and a trading-hours clock,
// exposed over HTTP/WebSocket.
//
// Architecture:
//
//	main.go               — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/config       — YAML + env config, atomically-swapped runtime snapshot
//	internal/ledger       — participant points/shares accounting and hold lifecycle
//	internal/ipopool      — system-owned IPO share inventory
//	internal/orderbook    — price-time priority heaps plus a pending_limit quarantine queue
//	internal/priceband    — flat/tiered price-limit band computation
//	internal/clock        — trading-hours window evaluation
//	internal/matching     — the single-writer matching engine
//	internal/transfer     — peer-to-peer transfers and admin force settlement
//	internal/store        — SQLite persistence
//	internal/metrics      — Prometheus collectors
//	internal/api          — HTTP/WebSocket surface
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitcon-tw/camp-exchange/internal/api"
	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ipopool"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/matching"
	"github.com/sitcon-tw/camp-exchange/internal/metrics"
	"github.com/sitcon-tw/camp-exchange/internal/orderbook"
	"github.com/sitcon-tw/camp-exchange/internal/store"
	"github.com/sitcon-tw/camp-exchange/internal/transfer"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EXCH_CONFIG"); p != "" {
		cfgPath = p
	}

	staticCfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := staticCfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(staticCfg.Logging.Level, staticCfg.Logging.Format))

	snapshot, err := staticCfg.ToSnapshot()
	if err != nil {
		logger.Error("failed to build initial config snapshot", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(staticCfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err, "dsn", staticCfg.Store.DSN)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()

	if persisted, ok, err := db.LoadConfigSnapshot(ctx); err != nil {
		logger.Error("failed to load persisted config snapshot", "error", err)
		os.Exit(2)
	} else if ok {
		snapshot = persisted
	}
	cfgStore := config.NewStore(snapshot)

	l := ledger.New()
	participants, err := db.LoadParticipants(ctx)
	if err != nil {
		logger.Error("failed to load participants", "error", err)
		os.Exit(2)
	}
	for _, p := range participants {
		l.Register(p)
	}
	l.OnCommit(func(p xchg.Participant) {
		if err := db.SaveParticipant(ctx, p); err != nil {
			logger.Error("failed to persist participant", "participant", p.ID, "error", err)
		}
	})
	l.OnHistory(func(e xchg.PointHistoryEntry) {
		if err := db.AppendPointHistory(ctx, e); err != nil {
			logger.Error("failed to persist point history", "entry", e.ID, "error", err)
		}
	})

	holds, err := db.ListActiveHolds(ctx)
	if err != nil {
		logger.Error("failed to load active holds", "error", err)
		os.Exit(2)
	}
	for _, h := range holds {
		l.RestoreHold(h)
	}
	l.OnHold(func(h xchg.Hold) {
		if err := db.SaveHold(ctx, h); err != nil {
			logger.Error("failed to persist hold", "hold", h.ID, "error", err)
		}
	})
	// Register zero-balance if this is a fresh database; Register is a no-op
	// against a participant already restored from the store.
	l.Register(xchg.Participant{ID: matching.SystemParticipant})

	ipoState := xchg.IPOState{
		SharesRemaining: snapshot.IPODefaultShares,
		UnitPrice:       snapshot.IPODefaultPrice,
		InitialShares:   snapshot.IPODefaultShares,
	}
	if persisted, ok, err := db.LoadIPOState(ctx); err != nil {
		logger.Error("failed to load ipo state", "error", err)
		os.Exit(2)
	} else if ok {
		ipoState = persisted
	}
	ipo := ipopool.New(logger, ipoState)
	ipo.OnChange(func(st xchg.IPOState) {
		if err := db.SaveIPOState(ctx, st); err != nil {
			logger.Error("failed to persist ipo state", "error", err)
		}
	})

	book := orderbook.New()

	hub := api.NewHub(logger)

	engine := matching.New(matching.Options{
		Config:    cfgStore,
		Ledger:    l,
		IPO:       ipo,
		Book:      book,
		Persist:   db,
		Metrics:   metrics.New(),
		Publisher: hub,
		Logger:    logger,
	})

	openOrders, err := db.ListOpenOrders(ctx)
	if err != nil {
		logger.Error("failed to load open orders", "error", err)
		os.Exit(2)
	}
	engine.LoadOpenOrders(openOrders)

	// Persist admin config changes and let the engine re-evaluate the
	// pending_limit quarantine under the new price-limit policy.
	cfgStore.OnChange(func(snap xchg.ConfigSnapshot) {
		if err := db.SaveConfigSnapshot(ctx, snap); err != nil {
			logger.Error("failed to persist config snapshot", "error", err)
		}
		engine.TriggerManualMatch()
	})

	transferSvc := transfer.New(l, cfgStore, engine, logger)

	apiServer := api.NewServer(
		staticCfg.API.Port,
		hub,
		l,
		cfgStore,
		ipo,
		engine,
		transferSvc,
		xchg.AllowAll,
		staticCfg.API.AllowedOrigins,
		logger,
	)

	engine.Start(ctx)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()
	logger.Info("api server started", "addr", fmt.Sprintf(":%d", staticCfg.API.Port))

	var metricsServer *http.Server
	if staticCfg.API.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", staticCfg.API.MetricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsServer.Addr)
	}

	logger.Info("camp exchange started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}
	engine.Stop()
}

func newLogHandler(level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
