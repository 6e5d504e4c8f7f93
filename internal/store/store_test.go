package store

import (
	"context"
	"testing"
	"time"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadParticipant(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p := xchg.Participant{ID: "alice", DisplayName: "Alice", Team: "red", AvailablePoints: 900, ReservedPoints: 100, Shares: 5, ReservedShares: 2}
	if err := s.SaveParticipant(ctx, p); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}

	loaded, err := s.LoadParticipants(ctx)
	if err != nil {
		t.Fatalf("LoadParticipants: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != p {
		t.Fatalf("loaded = %+v, want [%+v]", loaded, p)
	}

	p.AvailablePoints = 500
	if err := s.SaveParticipant(ctx, p); err != nil {
		t.Fatalf("SaveParticipant (update): %v", err)
	}
	loaded, _ = s.LoadParticipants(ctx)
	if len(loaded) != 1 || loaded[0].AvailablePoints != 500 {
		t.Fatalf("upsert did not update in place: %+v", loaded)
	}
}

func TestSaveOrderUpsertsMutableFields(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	o := xchg.Order{ID: "o1", Participant: "alice", Side: xchg.Buy, Type: xchg.Limit, OriginalQty: 10, RemainingQty: 10, LimitPrice: 20, State: xchg.OrderPending, HoldID: "h1", CreatedAt: time.Now()}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.RemainingQty = 4
	o.State = xchg.OrderPartial
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	open, err := s.ListOpenOrders(ctx)
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].RemainingQty != 4 || open[0].State != xchg.OrderPartial {
		t.Fatalf("unexpected open orders: %+v", open)
	}

	o.State = xchg.OrderFilled
	o.RemainingQty = 0
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (terminal): %v", err)
	}
	open, _ = s.ListOpenOrders(ctx)
	if len(open) != 0 {
		t.Fatalf("filled order should not be listed as open: %+v", open)
	}
}

func TestSaveAndListTrades(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		trade := xchg.Trade{
			ID:        xchg.NewID(),
			Buyer:     "alice",
			Seller:    "bob",
			Price:     20,
			Qty:       int64(i + 1),
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Source:    xchg.SourceBook,
		}
		if err := s.SaveTrade(ctx, trade); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}

	trades, err := s.ListTrades(ctx, 2)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	// newest first
	if trades[0].Qty != 3 {
		t.Errorf("trades[0].Qty = %d, want 3 (newest)", trades[0].Qty)
	}
}

func TestSaveAndLoadIPOState(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadIPOState(ctx); err != nil || ok {
		t.Fatalf("expected no IPO state yet, ok=%v err=%v", ok, err)
	}

	st := xchg.IPOState{SharesRemaining: 900, UnitPrice: 25, InitialShares: 1000}
	if err := s.SaveIPOState(ctx, st); err != nil {
		t.Fatalf("SaveIPOState: %v", err)
	}

	loaded, ok, err := s.LoadIPOState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadIPOState: ok=%v err=%v", ok, err)
	}
	if loaded != st {
		t.Fatalf("loaded = %+v, want %+v", loaded, st)
	}
}

func TestSaveAndLoadConfigSnapshotRoundTrips(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	cfg := xchg.ConfigSnapshot{
		TransferFeeRateBps: 150,
		TransferMinFee:     2,
		PriceLimitPolicy:   xchg.PriceLimitPolicy{Flat: true, FlatPercent: 20},
		IPODefaultShares:   500,
		IPODefaultPrice:    30,
		TradingWindows: []xchg.TradingWindow{
			{Start: now, End: now.Add(time.Hour)},
			{Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour)},
		},
		SweepInterval: 45 * time.Second,
	}

	if err := s.SaveConfigSnapshot(ctx, cfg); err != nil {
		t.Fatalf("SaveConfigSnapshot: %v", err)
	}

	loaded, ok, err := s.LoadConfigSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadConfigSnapshot: ok=%v err=%v", ok, err)
	}
	if loaded.TransferFeeRateBps != cfg.TransferFeeRateBps || loaded.TransferMinFee != cfg.TransferMinFee {
		t.Errorf("fee fields = %+v, want %+v", loaded, cfg)
	}
	if loaded.PriceLimitPolicy.Flat != cfg.PriceLimitPolicy.Flat || loaded.PriceLimitPolicy.FlatPercent != cfg.PriceLimitPolicy.FlatPercent {
		t.Errorf("PriceLimitPolicy = %+v, want %+v", loaded.PriceLimitPolicy, cfg.PriceLimitPolicy)
	}
	if loaded.SweepInterval != cfg.SweepInterval {
		t.Errorf("SweepInterval = %v, want %v", loaded.SweepInterval, cfg.SweepInterval)
	}
	if len(loaded.TradingWindows) != 2 {
		t.Fatalf("len(TradingWindows) = %d, want 2", len(loaded.TradingWindows))
	}
}

func TestAppendAndListPointHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	e1 := xchg.PointHistoryEntry{ID: xchg.NewID(), Participant: "alice", Delta: 100, Reason: "transfer", At: time.Now()}
	e2 := xchg.PointHistoryEntry{ID: xchg.NewID(), Participant: "bob", Delta: -10, Reason: "fee", At: time.Now().Add(time.Second)}
	if err := s.AppendPointHistory(ctx, e1); err != nil {
		t.Fatalf("AppendPointHistory: %v", err)
	}
	if err := s.AppendPointHistory(ctx, e2); err != nil {
		t.Fatalf("AppendPointHistory: %v", err)
	}

	all, err := s.ListPointHistory(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListPointHistory: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	alicesOnly, err := s.ListPointHistory(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListPointHistory(alice): %v", err)
	}
	if len(alicesOnly) != 1 || alicesOnly[0].Delta != 100 {
		t.Fatalf("unexpected alice history: %+v", alicesOnly)
	}
}

func TestSaveHoldAndListActiveHolds(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	h := xchg.Hold{ID: "h1", Participant: "alice", Kind: xchg.HoldLimitBuy, Amount: 200, Ref: "o1", State: xchg.HoldActive, CreatedAt: time.Now().UTC()}
	if err := s.SaveHold(ctx, h); err != nil {
		t.Fatalf("SaveHold: %v", err)
	}

	active, err := s.ListActiveHolds(ctx)
	if err != nil {
		t.Fatalf("ListActiveHolds: %v", err)
	}
	if len(active) != 1 || active[0].ID != "h1" || active[0].Amount != 200 {
		t.Fatalf("active = %+v, want the saved hold", active)
	}

	h.Amount = 0
	h.State = xchg.HoldConsumed
	if err := s.SaveHold(ctx, h); err != nil {
		t.Fatalf("SaveHold (update): %v", err)
	}
	active, _ = s.ListActiveHolds(ctx)
	if len(active) != 0 {
		t.Fatalf("consumed hold should not be listed as active: %+v", active)
	}
}

