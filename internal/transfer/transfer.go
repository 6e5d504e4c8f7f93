// Package transfer implements peer-to-peer point transfers with a fee, and
// the admin force-settlement batch that liquidates every participant's
// shares at once. Transfer composes internal/ledger holds the same way the
// matching engine does: reserve, then consume and credit, inside one ledger
// transaction. ForceSettlement first cancels every open order through
// internal/matching, then liquidates each participant's shares in its own
// ledger transaction.
package transfer

import (
	"fmt"
	"log/slog"

	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/matching"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// SystemAccount is the ledger participant that collects transfer fees. It
// mirrors matching.SystemParticipant as the account backing the IPO pool.
const SystemAccount = matching.SystemParticipant

// Service wires the ledger, runtime config, and matching engine together
// for operations that cut across all three.
type Service struct {
	ledger *ledger.Ledger
	cfg    *config.Store
	engine *matching.Engine
	logger *slog.Logger
}

// New constructs a transfer service.
func New(l *ledger.Ledger, cfg *config.Store, engine *matching.Engine, logger *slog.Logger) *Service {
	return &Service{ledger: l, cfg: cfg, engine: engine, logger: logger.With("component", "transfer")}
}

// Fee computes the fee owed on a transfer of amount points:
// max(ceil(amount * rate), min_fee).
func Fee(amount int64, rateBps, minFee int64) int64 {
	fee := ceilDiv(amount*rateBps, 10000)
	if fee < minFee {
		return minFee
	}
	return fee
}

func ceilDiv(num, den int64) int64 {
	if num <= 0 {
		return 0
	}
	return (num + den - 1) / den
}

// Transfer moves amount points from src to dst, charging src a fee credited
// to the system account. src must have amount+fee available; the reserve,
// debit, and two credits happen inside one ledger transaction so a failure
// anywhere leaves balances untouched.
func (s *Service) Transfer(src, dst string, amount int64) (fee int64, err error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: transfer amount must be positive", xchg.ErrInvalidConfig)
	}
	if src == dst {
		return 0, fmt.Errorf("%w: cannot transfer to self", xchg.ErrInvalidConfig)
	}
	if _, ok := s.ledger.Snapshot(dst); !ok {
		return 0, fmt.Errorf("%w: unknown recipient %q", xchg.ErrInvalidConfig, dst)
	}

	snap := s.cfg.Snapshot()
	fee = Fee(amount, snap.TransferFeeRateBps, snap.TransferMinFee)
	total := amount + fee

	err = s.ledger.WithTx(func(tx *ledger.Tx) error {
		holdID, err := tx.Reserve(src, total, xchg.HoldTransfer, dst)
		if err != nil {
			return err
		}
		if err := tx.ConsumeHoldRecorded(holdID, "transfer sent"); err != nil {
			return err
		}
		if err := tx.CreditPoints(dst, amount, "transfer", holdID); err != nil {
			return err
		}
		return tx.CreditPoints(SystemAccount, fee, "transfer fee", holdID)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("transfer settled", "src", src, "dst", dst, "amount", amount, "fee", fee)
	return fee, nil
}

// SettlementResult reports the outcome of a force_settlement batch.
type SettlementResult struct {
	Price            int64
	OrdersCancelled  int
	ParticipantsHit  int
	SharesLiquidated int64
}

// ForceSettlement liquidates every participant's share position at price,
// after first cancelling every resting and pending_limit order so no hold
// still references the shares being zeroed out. Pass price <= 0
// to settle at the engine's current last-trade price. This is a single
// serialized batch; unlike Place/Cancel it does not consult the market-hours
// gate — the gate is bypassed for administrative settlement.
func (s *Service) ForceSettlement(price int64) (SettlementResult, error) {
	if price <= 0 {
		price = s.engine.LastTradePrice()
	}
	if price <= 0 {
		return SettlementResult{}, fmt.Errorf("%w: no settlement price available (no trades yet and none supplied)", xchg.ErrInvalidConfig)
	}

	cancelled := s.engine.CancelAllOpen()

	result := SettlementResult{Price: price, OrdersCancelled: cancelled}
	for _, id := range s.ledger.AllParticipantIDs() {
		if id == SystemAccount {
			continue
		}
		err := s.ledger.WithTx(func(tx *ledger.Tx) error {
			qty, err := tx.LiquidateShares(id, price)
			if err != nil {
				return err
			}
			if qty > 0 {
				result.ParticipantsHit++
				result.SharesLiquidated += qty
			}
			return nil
		})
		if err != nil {
			s.logger.Error("force settlement failed for participant", "participant", id, "error", err)
		}
	}

	s.logger.Info("force settlement complete", "price", price, "orders_cancelled", cancelled,
		"participants_hit", result.ParticipantsHit, "shares_liquidated", result.SharesLiquidated)
	return result, nil
}

// GivePoints credits amount points to every participant matched by target,
// as a direct credit with no hold. For TargetGroup, id names the team; for
// TargetUser, id names the participant. TargetAllUsers and TargetAllGroups
// ignore id. A group target resolves to the group's members: each member
// receives amount in full, neither summed per group nor divided across
// members. TargetAllGroups therefore credits every participant that belongs
// to a team exactly once (a participant has exactly one team), and differs
// from TargetAllUsers only in skipping team-less accounts.
func (s *Service) GivePoints(target xchg.GiveTarget, id string, amount int64) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: give_points amount must be positive", xchg.ErrInvalidConfig)
	}

	var ids []string
	switch target {
	case xchg.TargetUser:
		ids = []string{id}
	case xchg.TargetGroup:
		ids = s.ledger.ParticipantsByTeam(id)
	case xchg.TargetAllUsers:
		ids = s.ledger.AllParticipantIDs()
	case xchg.TargetAllGroups:
		for _, team := range s.ledger.Teams() {
			ids = append(ids, s.ledger.ParticipantsByTeam(team)...)
		}
	default:
		return 0, fmt.Errorf("%w: unknown give_points target %q", xchg.ErrInvalidConfig, target)
	}

	n := 0
	for _, pid := range ids {
		if pid == SystemAccount {
			continue
		}
		err := s.ledger.WithTx(func(tx *ledger.Tx) error {
			return tx.CreditPoints(pid, amount, "admin give_points", string(target))
		})
		if err != nil {
			s.logger.Error("give_points failed for participant", "participant", pid, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
