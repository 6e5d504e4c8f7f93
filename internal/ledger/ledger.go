// Package ledger tracks per-participant available points, reserved holds,
// and share inventory, and enforces the exchange's accounting invariants:
// balances never go negative, and a participant's reserved total always
// equals the sum of their active holds.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Ledger is the single source of truth for who owns what. All mutating
// operations take the same lock; callers composing multiple operations into
// one economic action (e.g. match settlement) must use WithTx so the
// intermediate state is never observed half-applied.
type Ledger struct {
	mu           sync.Mutex
	participants map[string]*xchg.Participant
	holds        map[string]*xchg.Hold
	history      []xchg.PointHistoryEntry

	onCommit  func(xchg.Participant)
	onHistory func(xchg.PointHistoryEntry)
	onHold    func(xchg.Hold)
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		participants: make(map[string]*xchg.Participant),
		holds:        make(map[string]*xchg.Hold),
	}
}

// OnCommit installs a hook invoked with a copy of every participant a
// successful transaction mutated, while the ledger lock is still held. The
// store wires this to its participant upsert so balances survive a restart;
// keeping the write inside the critical section is what makes the
// transactional boundary cover durability too.
func (l *Ledger) OnCommit(fn func(xchg.Participant)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCommit = fn
}

// OnHistory installs a hook invoked with every appended point-history
// entry, under the same rules as OnCommit.
func (l *Ledger) OnHistory(fn func(xchg.PointHistoryEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onHistory = fn
}

// OnHold installs a hook invoked with a copy of every hold a successful
// transaction created or transitioned, under the same rules as OnCommit.
// Open orders restored at startup need their holds back too, so the store
// wires this to a holds table alongside the participant upsert.
func (l *Ledger) OnHold(fn func(xchg.Hold)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onHold = fn
}

// Register adds a participant if absent. Re-registering an existing ID is a
// no-op; it never resets balances.
func (l *Ledger) Register(p xchg.Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.participants[p.ID]; ok {
		return
	}
	cp := p
	l.participants[p.ID] = &cp
	if l.onCommit != nil {
		l.onCommit(cp)
	}
}

// RestoreHold re-inserts a hold recovered from durable storage into the
// in-memory hold index without touching participant balances — the
// participant's reserved totals were already persisted as part of its
// aggregate row, so re-running Reserve's debit would double-count it. Call
// once per recovered open order at startup, before the engine starts.
func (l *Ledger) RestoreHold(h xchg.Hold) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := h
	l.holds[h.ID] = &cp
}

// Snapshot returns a copy of a participant's current balances.
func (l *Ledger) Snapshot(participantID string) (xchg.Participant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.participants[participantID]
	if !ok {
		return xchg.Participant{}, false
	}
	return *p, true
}

// WithTx runs fn while holding the ledger lock, giving callers a
// transactional boundary for composite actions (e.g. settling both legs of
// a trade). fn must only call methods of the *Tx it is handed, never the
// public Ledger methods, or it will deadlock.
func (l *Ledger) WithTx(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := &Tx{
		l:            l,
		touched:      make(map[string]*xchg.Participant),
		touchedHolds: make(map[string]*xchg.Hold),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if l.onCommit != nil {
		for _, p := range tx.touched {
			l.onCommit(*p)
		}
	}
	if l.onHold != nil {
		for _, h := range tx.touchedHolds {
			l.onHold(*h)
		}
	}
	return nil
}

// Tx is a handle to the ledger's internals while the lock is held. Every
// method returns an *xchg error sentinel on a violated invariant; none of
// them panic on bad input, since callers (the matching engine) must be able
// to reject a request and move on.
type Tx struct {
	l            *Ledger
	touched      map[string]*xchg.Participant
	touchedHolds map[string]*xchg.Hold
}

func (tx *Tx) participant(id string) (*xchg.Participant, error) {
	p, ok := tx.l.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: participant %q", xchg.ErrInternal, id)
	}
	tx.touched[id] = p
	return p, nil
}

// Reserve places an active hold of amount points against participant,
// moving them from available to reserved. Fails with ErrInsufficientFunds
// if the participant doesn't have amount available.
func (tx *Tx) Reserve(participantID string, amount int64, kind xchg.HoldKind, ref string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: reserve amount must be positive", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return "", err
	}
	if p.AvailablePoints < amount {
		return "", xchg.ErrInsufficientFunds
	}
	p.AvailablePoints -= amount
	p.ReservedPoints += amount

	h := &xchg.Hold{
		ID:          xchg.NewID(),
		Participant: participantID,
		Kind:        kind,
		Amount:      amount,
		Ref:         ref,
		State:       xchg.HoldActive,
		CreatedAt:   time.Now(),
	}
	tx.l.holds[h.ID] = h
	tx.touchedHolds[h.ID] = h
	return h.ID, nil
}

// ReserveShares places an active share hold of qty shares against
// participant, analogous to Reserve but against the share balance. Used to
// back sell orders so the same shares can't be promised to two orders.
func (tx *Tx) ReserveShares(participantID string, qty int64, ref string) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("%w: reserve qty must be positive", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return "", err
	}
	available := p.Shares - p.ReservedShares
	if available < qty {
		return "", xchg.ErrInsufficientShares
	}
	p.ReservedShares += qty

	h := &xchg.Hold{
		ID:          xchg.NewID(),
		Participant: participantID,
		Kind:        xchg.HoldSellShares,
		Amount:      qty,
		Ref:         ref,
		State:       xchg.HoldActive,
		CreatedAt:   time.Now(),
	}
	tx.l.holds[h.ID] = h
	tx.touchedHolds[h.ID] = h
	return h.ID, nil
}

func (tx *Tx) hold(holdID string) (*xchg.Hold, error) {
	h, ok := tx.l.holds[holdID]
	if !ok {
		return nil, xchg.ErrHoldNotFound
	}
	if h.State != xchg.HoldActive {
		return nil, xchg.ErrHoldNotActive
	}
	tx.touchedHolds[h.ID] = h
	return h, nil
}

// ConsumeHold fully consumes an active hold: the reserved amount leaves
// reserved_points/reserved_shares without returning to available, since the
// obligation the hold protected has now actually happened (the caller is
// responsible for crediting the counterparty separately).
func (tx *Tx) ConsumeHold(holdID string) error {
	h, err := tx.hold(holdID)
	if err != nil {
		return err
	}
	p, err := tx.participant(h.Participant)
	if err != nil {
		return err
	}
	if h.Kind == xchg.HoldSellShares {
		p.ReservedShares -= h.Amount
		p.Shares -= h.Amount
	} else {
		p.ReservedPoints -= h.Amount
	}
	h.State = xchg.HoldConsumed
	return nil
}

// ConsumeHoldRecorded is ConsumeHold plus a point-history entry for the
// debit, for callers (transfers, give_points-adjacent flows) that need an
// audit trail at the moment a hold is consumed rather than only at the
// moment it was reserved.
func (tx *Tx) ConsumeHoldRecorded(holdID, reason string) error {
	h, ok := tx.l.holds[holdID]
	if !ok {
		return xchg.ErrHoldNotFound
	}
	amount, participant := h.Amount, h.Participant
	if err := tx.ConsumeHold(holdID); err != nil {
		return err
	}
	tx.appendHistory(participant, -amount, reason, holdID)
	return nil
}

// ReleaseHold cancels an active hold, returning its full amount to
// available.
func (tx *Tx) ReleaseHold(holdID string) error {
	h, err := tx.hold(holdID)
	if err != nil {
		return err
	}
	p, err := tx.participant(h.Participant)
	if err != nil {
		return err
	}
	if h.Kind == xchg.HoldSellShares {
		p.ReservedShares -= h.Amount
	} else {
		p.AvailablePoints += h.Amount
		p.ReservedPoints -= h.Amount
	}
	h.State = xchg.HoldReleased
	return nil
}

// SettleHold consumes amount out of an active hold's remaining balance,
// shrinking it in place rather than closing it. Used by the matching engine
// to settle one fill against a resting order's hold while the order (and
// its hold) stay active for the rest of its quantity. Once the hold's
// remaining amount reaches zero it auto-transitions to consumed. The
// caller is responsible for crediting the counterparty (AddShares or
// CreditPoints) separately — SettleHold only moves funds/shares out of
// reserved, it never deposits them anywhere.
func (tx *Tx) SettleHold(holdID string, amount int64) error {
	h, err := tx.hold(holdID)
	if err != nil {
		return err
	}
	if amount <= 0 || amount > h.Amount {
		return fmt.Errorf("%w: settle amount must be in (0, hold amount]", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(h.Participant)
	if err != nil {
		return err
	}
	if h.Kind == xchg.HoldSellShares {
		p.ReservedShares -= amount
		p.Shares -= amount
	} else {
		p.ReservedPoints -= amount
	}
	h.Amount -= amount
	if h.Amount == 0 {
		h.State = xchg.HoldConsumed
	}
	return nil
}

// PartialConsume consumes part of an active hold (consumed) and returns the
// rest to available (released), leaving the hold itself in a terminal
// state. consumed and released must be non-negative and sum to the hold's
// amount.
func (tx *Tx) PartialConsume(holdID string, consumed, released int64) error {
	h, err := tx.hold(holdID)
	if err != nil {
		return err
	}
	if consumed < 0 || released < 0 {
		return fmt.Errorf("%w: negative split", xchg.ErrInvalidConfig)
	}
	if consumed+released != h.Amount {
		return fmt.Errorf("%w: consumed+released must equal hold amount", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(h.Participant)
	if err != nil {
		return err
	}
	if h.Kind == xchg.HoldSellShares {
		p.ReservedShares -= h.Amount
		p.Shares -= consumed
	} else {
		p.ReservedPoints -= h.Amount
		p.AvailablePoints += released
	}
	h.State = xchg.HoldConsumed
	return nil
}

// CreditPoints adds amount to a participant's available balance directly,
// with no hold involved (trade proceeds, give_points, transfer receipt).
func (tx *Tx) CreditPoints(participantID string, amount int64, reason, ref string) error {
	if amount < 0 {
		return fmt.Errorf("%w: credit amount must be non-negative", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return err
	}
	p.AvailablePoints += amount
	tx.appendHistory(participantID, amount, reason, ref)
	return nil
}

// DebitAvailable removes amount from a participant's available balance
// directly, with no hold involved (transfer fee, admin correction).
func (tx *Tx) DebitAvailable(participantID string, amount int64, reason, ref string) error {
	if amount < 0 {
		return fmt.Errorf("%w: debit amount must be non-negative", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return err
	}
	if p.AvailablePoints < amount {
		return xchg.ErrInsufficientFunds
	}
	p.AvailablePoints -= amount
	tx.appendHistory(participantID, -amount, reason, ref)
	return nil
}

// AddShares credits shares directly (trade settlement on the buy side, IPO
// fill, admin correction).
func (tx *Tx) AddShares(participantID string, qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: share credit must be non-negative", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return err
	}
	p.Shares += qty
	return nil
}

// RemoveShares debits shares directly, bypassing the hold mechanism. Only
// shares not reserved by an active sell hold can be removed; asking for more
// returns ErrInsufficientShares.
func (tx *Tx) RemoveShares(participantID string, qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: share debit must be non-negative", xchg.ErrInvalidConfig)
	}
	p, err := tx.participant(participantID)
	if err != nil {
		return err
	}
	if p.Shares-p.ReservedShares < qty {
		return xchg.ErrInsufficientShares
	}
	p.Shares -= qty
	return nil
}

func (tx *Tx) appendHistory(participantID string, delta int64, reason, ref string) {
	entry := xchg.PointHistoryEntry{
		ID:          xchg.NewID(),
		Participant: participantID,
		Delta:       delta,
		Reason:      reason,
		Ref:         ref,
		At:          time.Now(),
	}
	tx.l.history = append(tx.l.history, entry)
	if tx.l.onHistory != nil {
		tx.l.onHistory(entry)
	}
}

// HoldOf returns a copy of a hold by ID, regardless of state.
func (tx *Tx) HoldOf(holdID string) (xchg.Hold, bool) {
	h, ok := tx.l.holds[holdID]
	if !ok {
		return xchg.Hold{}, false
	}
	return *h, true
}

// ListPointHistory returns every recorded balance change for participantID,
// oldest first. Pass "" to list across all participants.
func (l *Ledger) ListPointHistory(participantID string) []xchg.PointHistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if participantID == "" {
		out := make([]xchg.PointHistoryEntry, len(l.history))
		copy(out, l.history)
		return out
	}
	var out []xchg.PointHistoryEntry
	for _, e := range l.history {
		if e.Participant == participantID {
			out = append(out, e)
		}
	}
	return out
}

// HoldSnapshot returns a copy of a hold by ID, regardless of state.
func (l *Ledger) HoldSnapshot(holdID string) (xchg.Hold, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[holdID]
	if !ok {
		return xchg.Hold{}, false
	}
	return *h, true
}

// ActiveHoldTotal sums the active point holds for a participant, for
// invariant checks and tests (sum of active holds == reserved_points).
func (l *Ledger) ActiveHoldTotal(participantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, h := range l.holds {
		if h.Participant == participantID && h.State == xchg.HoldActive && h.Kind != xchg.HoldSellShares {
			total += h.Amount
		}
	}
	return total
}

// ActiveShareHoldTotal is ActiveHoldTotal's counterpart for share holds.
func (l *Ledger) ActiveShareHoldTotal(participantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, h := range l.holds {
		if h.Participant == participantID && h.State == xchg.HoldActive && h.Kind == xchg.HoldSellShares {
			total += h.Amount
		}
	}
	return total
}

// AllParticipantIDs returns every registered participant id, in no
// particular order. Used by batch admin ops (give_points all_users,
// force_settlement) that must touch every account.
func (l *Ledger) AllParticipantIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.participants))
	for id := range l.participants {
		out = append(out, id)
	}
	return out
}

// ParticipantsByTeam returns the ids of every participant registered under
// team (the give_points "group" target).
func (l *Ledger) ParticipantsByTeam(team string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, p := range l.participants {
		if p.Team == team {
			out = append(out, id)
		}
	}
	return out
}

// Teams returns every distinct team name currently registered, for the
// give_points "all_groups" target.
func (l *Ledger) Teams() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range l.participants {
		if p.Team == "" || seen[p.Team] {
			continue
		}
		seen[p.Team] = true
		out = append(out, p.Team)
	}
	return out
}

// LiquidateShares zeroes participantID's entire share position and credits
// its point-equivalent at price, for force_settlement. The
// caller must have already cancelled every order referencing this
// participant's shares, so ReservedShares is expected to be zero; a nonzero
// reservation indicates a hold the caller forgot to release and is reported
// as ErrConflict rather than silently liquidating shares still promised to
// a resting order.
func (tx *Tx) LiquidateShares(participantID string, price int64) (int64, error) {
	p, err := tx.participant(participantID)
	if err != nil {
		return 0, err
	}
	if p.ReservedShares != 0 {
		return 0, fmt.Errorf("%w: participant %q still has an active share hold", xchg.ErrConflict, participantID)
	}
	qty := p.Shares
	if qty == 0 {
		return 0, nil
	}
	p.Shares = 0
	proceeds := qty * price
	p.AvailablePoints += proceeds
	tx.appendHistory(participantID, proceeds, "force settlement", "")
	return qty, nil
}
