package ledger

import (
	"errors"
	"testing"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

const alice = "alice"
const bob = "bob"

func newTestLedger() *Ledger {
	l := New()
	l.Register(xchg.Participant{ID: alice, AvailablePoints: 1000, Shares: 5})
	l.Register(xchg.Participant{ID: bob, AvailablePoints: 500})
	return l
}

func TestReserveMovesPointsToReserved(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	err := l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.AvailablePoints != 800 || p.ReservedPoints != 200 {
		t.Fatalf("unexpected balances: %+v", p)
	}
	if l.ActiveHoldTotal(alice) != 200 {
		t.Errorf("ActiveHoldTotal = %d, want 200", l.ActiveHoldTotal(alice))
	}
	if holdID == "" {
		t.Error("expected non-empty hold id")
	}
}

func TestReserveInsufficientFunds(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	err := l.WithTx(func(tx *Tx) error {
		_, err := tx.Reserve(bob, 9999, xchg.HoldLimitBuy, "order-1")
		return err
	})
	if !errors.Is(err, xchg.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestConsumeHoldSettlesPoints(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	err := l.WithTx(func(tx *Tx) error {
		return tx.ConsumeHold(holdID)
	})
	if err != nil {
		t.Fatalf("ConsumeHold: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.AvailablePoints != 800 || p.ReservedPoints != 0 {
		t.Fatalf("unexpected balances after consume: %+v", p)
	}
	if l.ActiveHoldTotal(alice) != 0 {
		t.Error("consumed hold should no longer count as active")
	}
}

func TestReleaseHoldRefundsPoints(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	err := l.WithTx(func(tx *Tx) error {
		return tx.ReleaseHold(holdID)
	})
	if err != nil {
		t.Fatalf("ReleaseHold: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.AvailablePoints != 1000 || p.ReservedPoints != 0 {
		t.Fatalf("unexpected balances after release: %+v", p)
	}
}

func TestConsumeOrReleaseHoldTwiceFails(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})
	l.WithTx(func(tx *Tx) error { return tx.ConsumeHold(holdID) })

	err := l.WithTx(func(tx *Tx) error { return tx.ConsumeHold(holdID) })
	if !errors.Is(err, xchg.ErrHoldNotActive) {
		t.Fatalf("err = %v, want ErrHoldNotActive", err)
	}
}

func TestPartialConsumeSplitsHold(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	err := l.WithTx(func(tx *Tx) error {
		return tx.PartialConsume(holdID, 120, 80)
	})
	if err != nil {
		t.Fatalf("PartialConsume: %v", err)
	}

	p, _ := l.Snapshot(alice)
	// 800 available + 80 released = 880; 200 reserved -> 0
	if p.AvailablePoints != 880 || p.ReservedPoints != 0 {
		t.Fatalf("unexpected balances after partial consume: %+v", p)
	}
}

func TestPartialConsumeRejectsMismatchedSplit(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	err := l.WithTx(func(tx *Tx) error {
		return tx.PartialConsume(holdID, 120, 50) // doesn't sum to 200
	})
	if err == nil {
		t.Fatal("expected error for mismatched split")
	}
}

func TestSettleHoldShrinksInPlace(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	if err := l.WithTx(func(tx *Tx) error { return tx.SettleHold(holdID, 80) }); err != nil {
		t.Fatalf("SettleHold: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.ReservedPoints != 120 {
		t.Fatalf("ReservedPoints = %d, want 120 after partial settle", p.ReservedPoints)
	}

	h, ok := l.HoldSnapshot(holdID)
	if !ok {
		t.Fatal("hold should still exist")
	}
	if h.State != xchg.HoldActive || h.Amount != 120 {
		t.Fatalf("hold after partial settle = %+v, want active/120", h)
	}

	// Settling the remainder auto-consumes the hold.
	if err := l.WithTx(func(tx *Tx) error { return tx.SettleHold(holdID, 120) }); err != nil {
		t.Fatalf("SettleHold remainder: %v", err)
	}
	h, _ = l.HoldSnapshot(holdID)
	if h.State != xchg.HoldConsumed {
		t.Fatalf("hold state = %s, want consumed", h.State)
	}
}

func TestSettleHoldRejectsOverdraw(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})

	err := l.WithTx(func(tx *Tx) error { return tx.SettleHold(holdID, 999) })
	if err == nil {
		t.Fatal("expected error settling more than the hold's remaining amount")
	}
}

func TestReserveSharesAndConsume(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var holdID string
	err := l.WithTx(func(tx *Tx) error {
		var err error
		holdID, err = tx.ReserveShares(alice, 3, "order-2")
		return err
	})
	if err != nil {
		t.Fatalf("ReserveShares: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.Shares != 5 || p.ReservedShares != 3 {
		t.Fatalf("unexpected share balances after reserve: %+v", p)
	}

	if err := l.WithTx(func(tx *Tx) error { return tx.ConsumeHold(holdID) }); err != nil {
		t.Fatalf("ConsumeHold: %v", err)
	}
	p, _ = l.Snapshot(alice)
	if p.Shares != 2 || p.ReservedShares != 0 {
		t.Fatalf("unexpected share balances after consume: %+v", p)
	}
}

func TestReserveSharesInsufficientShares(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	err := l.WithTx(func(tx *Tx) error {
		_, err := tx.ReserveShares(alice, 99, "order-2")
		return err
	})
	if !errors.Is(err, xchg.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
}

func TestCreditAndDebitRecordHistory(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	err := l.WithTx(func(tx *Tx) error {
		if err := tx.CreditPoints(alice, 50, "trade proceeds", "trade-1"); err != nil {
			return err
		}
		return tx.DebitAvailable(alice, 20, "transfer fee", "transfer-1")
	})
	if err != nil {
		t.Fatalf("credit/debit: %v", err)
	}

	p, _ := l.Snapshot(alice)
	if p.AvailablePoints != 1030 {
		t.Fatalf("AvailablePoints = %d, want 1030", p.AvailablePoints)
	}

	hist := l.ListPointHistory(alice)
	if len(hist) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(hist))
	}
	if hist[0].Delta != 50 || hist[1].Delta != -20 {
		t.Errorf("unexpected history deltas: %+v", hist)
	}
}

func TestDebitAvailableInsufficientFunds(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	err := l.WithTx(func(tx *Tx) error {
		return tx.DebitAvailable(bob, 9999, "oops", "")
	})
	if !errors.Is(err, xchg.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestAddAndRemoveShares(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	err := l.WithTx(func(tx *Tx) error {
		if err := tx.AddShares(bob, 10); err != nil {
			return err
		}
		return tx.RemoveShares(bob, 4)
	})
	if err != nil {
		t.Fatalf("add/remove shares: %v", err)
	}

	p, _ := l.Snapshot(bob)
	if p.Shares != 6 {
		t.Fatalf("Shares = %d, want 6", p.Shares)
	}
}

func TestRemoveSharesRespectsReservedPortion(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	l.WithTx(func(tx *Tx) error {
		_, err := tx.ReserveShares(alice, 5, "order-3")
		return err
	})

	// All 5 of alice's shares are now held; none are free to remove directly.
	err := l.WithTx(func(tx *Tx) error {
		return tx.RemoveShares(alice, 1)
	})
	if !errors.Is(err, xchg.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
}

func TestHooksFireOnlyOnSuccessfulTx(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	var committed []string
	var holds []xchg.Hold
	l.OnCommit(func(p xchg.Participant) { committed = append(committed, p.ID) })
	l.OnHold(func(h xchg.Hold) { holds = append(holds, h) })

	err := l.WithTx(func(tx *Tx) error {
		_, err := tx.Reserve(alice, 200, xchg.HoldLimitBuy, "order-1")
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(committed) != 1 || committed[0] != alice {
		t.Fatalf("committed = %v, want [alice]", committed)
	}
	if len(holds) != 1 || holds[0].State != xchg.HoldActive || holds[0].Amount != 200 {
		t.Fatalf("holds = %+v, want one active hold of 200", holds)
	}

	committed, holds = nil, nil
	err = l.WithTx(func(tx *Tx) error {
		_, err := tx.Reserve(bob, 10000, xchg.HoldLimitBuy, "order-2")
		return err
	})
	if !errors.Is(err, xchg.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(committed) != 0 || len(holds) != 0 {
		t.Fatalf("hooks fired on failed tx: committed=%v holds=%v", committed, holds)
	}
}

func TestRestoreHoldDoesNotTouchBalances(t *testing.T) {
	t.Parallel()
	l := newTestLedger()

	before, _ := l.Snapshot(alice)
	l.RestoreHold(xchg.Hold{ID: "h-restored", Participant: alice, Kind: xchg.HoldLimitBuy, Amount: 200, State: xchg.HoldActive})
	after, _ := l.Snapshot(alice)
	if after != before {
		t.Fatalf("RestoreHold changed balances: before=%+v after=%+v", before, after)
	}

	err := l.WithTx(func(tx *Tx) error { return tx.ReleaseHold("h-restored") })
	if err != nil {
		t.Fatalf("ReleaseHold on restored hold: %v", err)
	}
	p, _ := l.Snapshot(alice)
	if p.AvailablePoints != before.AvailablePoints+200 {
		t.Fatalf("release of a restored hold should credit available: %+v", p)
	}
}

