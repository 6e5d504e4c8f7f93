package config

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Store holds the current ConfigSnapshot behind an atomic.Value so readers
// (the matching engine's placement path, the public read endpoints) never
// take a lock to see the live configuration. Writers (admin operations)
// validate, build a brand-new snapshot, and publish it atomically — no
// order ever observes a partially-applied config.
type Store struct {
	current  atomic.Value // xchg.ConfigSnapshot
	writeMu  sync.Mutex   // serializes the read-modify-publish of updates
	onChange func(xchg.ConfigSnapshot)
}

// NewStore creates a Store seeded with the given snapshot.
func NewStore(initial xchg.ConfigSnapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Snapshot returns the current configuration. O(1), lock-free.
func (s *Store) Snapshot() xchg.ConfigSnapshot {
	return s.current.Load().(xchg.ConfigSnapshot)
}

// OnChange installs a hook invoked with every newly published snapshot.
// The caller wires it to persistence and to the matching engine, which
// re-evaluates the pending_limit quarantine whenever the price-limit
// policy (or anything else) changes underneath it.
func (s *Store) OnChange(fn func(xchg.ConfigSnapshot)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onChange = fn
}

func (s *Store) publish(next xchg.ConfigSnapshot) {
	s.current.Store(next)
	if s.onChange != nil {
		s.onChange(next)
	}
}

// UpdateTransferFee validates and publishes a new fee rate/minimum.
func (s *Store) UpdateTransferFee(rateBps, minFee int64) error {
	if rateBps < 0 || rateBps > 10000 {
		return fmt.Errorf("%w: transfer fee rate must be in [0, 10000] bps", xchg.ErrInvalidConfig)
	}
	if minFee < 1 {
		return fmt.Errorf("%w: transfer min fee must be >= 1", xchg.ErrInvalidConfig)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.TransferFeeRateBps = rateBps
	next.TransferMinFee = minFee
	s.publish(next)
	return nil
}

// UpdateIPODefaults changes the defaults restored by a future reset_ipo.
func (s *Store) UpdateIPODefaults(shares, unitPrice int64) error {
	if shares < 0 {
		return fmt.Errorf("%w: ipo shares_remaining must be >= 0", xchg.ErrInvalidConfig)
	}
	if unitPrice < 1 {
		return fmt.Errorf("%w: ipo unit_price must be >= 1", xchg.ErrInvalidConfig)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.IPODefaultShares = shares
	next.IPODefaultPrice = unitPrice
	s.publish(next)
	return nil
}

// SetTradingLimit replaces the policy with a flat percentage band. A flat
// limit supersedes any prior tiered policy; the two never coexist.
func (s *Store) SetTradingLimit(percent float64) error {
	if percent <= 0 || percent > 100 {
		return fmt.Errorf("%w: trading limit percent must be in (0, 100]", xchg.ErrInvalidConfig)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.PriceLimitPolicy = xchg.PriceLimitPolicy{Flat: true, FlatPercent: percent}
	s.publish(next)
	return nil
}

// SetDynamicTiers replaces the policy with a tiered band. A tiered policy
// supersedes any prior flat limit; the two never coexist. defaultPercent is
// the flat fallback applied when no tier covers the reference price, so it
// obeys the same (0, 100] range as a tier percent.
func (s *Store) SetDynamicTiers(tiers []xchg.PriceTier, defaultPercent float64) error {
	if err := validateXchgTiers(tiers); err != nil {
		return err
	}
	if defaultPercent <= 0 || defaultPercent > 100 {
		return fmt.Errorf("%w: tier default percent must be in (0, 100]", xchg.ErrInvalidConfig)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.PriceLimitPolicy = xchg.PriceLimitPolicy{
		Tiers:          append([]xchg.PriceTier(nil), tiers...),
		DefaultPercent: defaultPercent,
	}
	s.publish(next)
	return nil
}

// UpdateTradingWindows replaces the set of trading-hour windows.
func (s *Store) UpdateTradingWindows(windows []xchg.TradingWindow) error {
	for _, w := range windows {
		if !w.Start.Before(w.End) {
			return fmt.Errorf("%w: trading window start must be before end", xchg.ErrInvalidConfig)
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.TradingWindows = append([]xchg.TradingWindow(nil), windows...)
	s.publish(next)
	return nil
}

// SetSweepInterval changes how often the periodic matching sweep runs.
func (s *Store) SetSweepInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", xchg.ErrInvalidConfig)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.Snapshot()
	next.SweepInterval = d
	s.publish(next)
	return nil
}

// validateTiers checks the mapstructure-decoded initial tier list.
func validateTiers(tiers []InitialTier) error {
	converted := make([]xchg.PriceTier, len(tiers))
	for i, t := range tiers {
		converted[i] = xchg.PriceTier{MinPrice: t.MinPrice, MaxPrice: t.MaxPrice, Percent: t.Percent}
	}
	return validateXchgTiers(converted)
}

// validateXchgTiers requires tiers to be non-overlapping, sorted by
// min_price, each percent in (0, 100].
func validateXchgTiers(tiers []xchg.PriceTier) error {
	if len(tiers) == 0 {
		return nil
	}
	sorted := append([]xchg.PriceTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPrice < sorted[j].MinPrice })

	for i, t := range sorted {
		if t.Percent <= 0 || t.Percent > 100 {
			return fmt.Errorf("%w: tier percent must be in (0, 100], got %v", xchg.ErrInvalidConfig, t.Percent)
		}
		if t.MaxPrice != 0 && t.MaxPrice <= t.MinPrice {
			return fmt.Errorf("%w: tier max_price must exceed min_price", xchg.ErrInvalidConfig)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.MaxPrice == 0 {
				return fmt.Errorf("%w: unbounded tier must be the last tier", xchg.ErrInvalidConfig)
			}
			if t.MinPrice < prev.MaxPrice {
				return fmt.Errorf("%w: tiers overlap at min_price %d", xchg.ErrInvalidConfig, t.MinPrice)
			}
		}
	}
	return nil
}
