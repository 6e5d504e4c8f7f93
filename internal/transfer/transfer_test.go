package transfer

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ipopool"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/matching"
	"github.com/sitcon-tw/camp-exchange/internal/orderbook"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

const alice = "alice"
const bob = "bob"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *ledger.Ledger, *matching.Engine) {
	t.Helper()

	cfg := config.NewStore(xchg.ConfigSnapshot{
		TransferFeeRateBps: 1000, // 10%
		TransferMinFee:     1,
		PriceLimitPolicy:   xchg.PriceLimitPolicy{Flat: true, FlatPercent: 50},
		IPODefaultShares:   1000,
		IPODefaultPrice:    20,
		TradingWindows: []xchg.TradingWindow{{
			Start: time.Now().Add(-time.Hour),
			End:   time.Now().Add(time.Hour),
		}},
		SweepInterval: time.Minute,
	})

	l := ledger.New()
	l.Register(xchg.Participant{ID: alice, AvailablePoints: 800, Shares: 10, Team: "red"})
	l.Register(xchg.Participant{ID: bob, AvailablePoints: 100, Shares: 5, Team: "blue"})
	l.Register(xchg.Participant{ID: SystemAccount})

	pool := ipopool.New(discardLogger(), xchg.IPOState{SharesRemaining: 1000, UnitPrice: 20, InitialShares: 1000})
	engine := matching.New(matching.Options{
		Config: cfg,
		Ledger: l,
		IPO:    pool,
		Book:   orderbook.New(),
		Logger: discardLogger(),
	})

	return New(l, cfg, engine, discardLogger()), l, engine
}

func TestFeeIsCeiledAndFloored(t *testing.T) {
	t.Parallel()
	if f := Fee(100, 1000, 1); f != 10 {
		t.Errorf("Fee(100, 10%%, min1) = %d, want 10", f)
	}
	if f := Fee(1, 1000, 1); f != 1 {
		t.Errorf("Fee(1, 10%%, min1) = %d, want 1 (floor to min_fee)", f)
	}
	if f := Fee(5, 100, 1); f != 1 {
		t.Errorf("Fee(5, 1%%, min1) = %d, want 1 (ceil(0.05)=1)", f)
	}
}

func TestTransferMovesPointsAndFee(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	fee, err := svc.Transfer(alice, bob, 100)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if fee != 10 {
		t.Fatalf("fee = %d, want 10", fee)
	}

	a, _ := l.Snapshot(alice)
	if a.AvailablePoints != 690 {
		t.Errorf("alice available = %d, want 690", a.AvailablePoints)
	}
	b, _ := l.Snapshot(bob)
	if b.AvailablePoints != 200 {
		t.Errorf("bob available = %d, want 200", b.AvailablePoints)
	}
	sys, _ := l.Snapshot(SystemAccount)
	if sys.AvailablePoints != 10 {
		t.Errorf("system fee account = %d, want 10", sys.AvailablePoints)
	}
}

func TestTransferInsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	before, _ := l.Snapshot(alice)
	_, err := svc.Transfer(alice, bob, 100000)
	if err == nil {
		t.Fatal("expected error for insufficient funds")
	}

	after, _ := l.Snapshot(alice)
	if after != before {
		t.Fatalf("balances changed on failed transfer: before=%+v after=%+v", before, after)
	}
}

func TestForceSettlementCancelsOrdersAndLiquidatesShares(t *testing.T) {
	t.Parallel()
	svc, l, engine := newTestService(t)

	order, err := engine.Place(matching.PlaceRequest{Participant: bob, Side: xchg.Sell, Type: xchg.Limit, Qty: 3, LimitPrice: 20})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.State != xchg.OrderPending {
		t.Fatalf("order.State = %s, want pending", order.State)
	}

	result, err := svc.ForceSettlement(30)
	if err != nil {
		t.Fatalf("ForceSettlement: %v", err)
	}
	if result.OrdersCancelled != 1 {
		t.Errorf("OrdersCancelled = %d, want 1", result.OrdersCancelled)
	}
	if result.SharesLiquidated != 15 {
		t.Errorf("SharesLiquidated = %d, want 15 (10 alice + 5 bob)", result.SharesLiquidated)
	}

	a, _ := l.Snapshot(alice)
	if a.Shares != 0 || a.AvailablePoints != 800+10*30 {
		t.Errorf("alice after settlement = %+v", a)
	}
	bPos, _ := l.Snapshot(bob)
	if bPos.Shares != 0 || bPos.ReservedShares != 0 {
		t.Errorf("bob after settlement should have no shares or reservation: %+v", bPos)
	}

	got, _ := engine.OrderByID(order.ID)
	if got.State != xchg.OrderCancelled {
		t.Errorf("order.State = %s, want cancelled", got.State)
	}
}

func TestForceSettlementUsesLastTradePriceWhenNoOverride(t *testing.T) {
	t.Parallel()
	svc, _, engine := newTestService(t)

	engine.Place(matching.PlaceRequest{Participant: bob, Side: xchg.Sell, Type: xchg.Limit, Qty: 3, LimitPrice: 15})
	engine.Place(matching.PlaceRequest{Participant: alice, Side: xchg.Buy, Type: xchg.Limit, Qty: 3, LimitPrice: 15})

	result, err := svc.ForceSettlement(0)
	if err != nil {
		t.Fatalf("ForceSettlement: %v", err)
	}
	if result.Price != 15 {
		t.Errorf("Price = %d, want 15 (last trade price)", result.Price)
	}
}

func TestForceSettlementWithNoTradesAndNoOverrideFails(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	if _, err := svc.ForceSettlement(0); err == nil {
		t.Fatal("expected error when no settlement price is available")
	}
}

func TestGivePointsUser(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	n, err := svc.GivePoints(xchg.TargetUser, alice, 50)
	if err != nil {
		t.Fatalf("GivePoints: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	a, _ := l.Snapshot(alice)
	if a.AvailablePoints != 850 {
		t.Errorf("alice available = %d, want 850", a.AvailablePoints)
	}
}

func TestGivePointsAllUsersCreditsEachInFull(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	n, err := svc.GivePoints(xchg.TargetAllUsers, "", 25)
	if err != nil {
		t.Fatalf("GivePoints: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2 (alice, bob; system excluded)", n)
	}
	a, _ := l.Snapshot(alice)
	b, _ := l.Snapshot(bob)
	if a.AvailablePoints != 825 || b.AvailablePoints != 125 {
		t.Errorf("unexpected balances: alice=%d bob=%d", a.AvailablePoints, b.AvailablePoints)
	}
}

func TestGivePointsGroupTargetsOnlyThatTeam(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	n, err := svc.GivePoints(xchg.TargetGroup, "red", 40)
	if err != nil {
		t.Fatalf("GivePoints: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	a, _ := l.Snapshot(alice)
	b, _ := l.Snapshot(bob)
	if a.AvailablePoints != 840 {
		t.Errorf("alice available = %d, want 840", a.AvailablePoints)
	}
	if b.AvailablePoints != 100 {
		t.Errorf("bob available should be untouched, got %d", b.AvailablePoints)
	}
}

func TestTransferToUnknownRecipientFailsBeforeDebiting(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)

	before, _ := l.Snapshot(alice)
	if _, err := svc.Transfer(alice, "nobody", 100); err == nil {
		t.Fatal("expected error for unknown recipient")
	}
	after, _ := l.Snapshot(alice)
	if after != before {
		t.Fatalf("balances changed: before=%+v after=%+v", before, after)
	}
}

func TestGivePointsAllGroupsCreditsEachTeamMemberOnceAndSkipsTeamless(t *testing.T) {
	t.Parallel()
	svc, l, _ := newTestService(t)
	l.Register(xchg.Participant{ID: "carol", AvailablePoints: 10}) // no team

	n, err := svc.GivePoints(xchg.TargetAllGroups, "", 30)
	if err != nil {
		t.Fatalf("GivePoints: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2 (one credit per team member; carol has no team)", n)
	}

	a, _ := l.Snapshot(alice)
	b, _ := l.Snapshot(bob)
	if a.AvailablePoints != 830 || b.AvailablePoints != 130 {
		t.Errorf("each team member should be credited once in full: alice=%d bob=%d", a.AvailablePoints, b.AvailablePoints)
	}
	c, _ := l.Snapshot("carol")
	if c.AvailablePoints != 10 {
		t.Errorf("team-less participant should be untouched, got %d", c.AvailablePoints)
	}
}

