// Package store persists exchange state to SQLite: participants, holds,
// orders, trades, point history, the IPO pool, the runtime config snapshot,
// and trading windows. It implements internal/matching's Persister
// interface so the engine can write orders and trades through on every
// state change, serves as the sink for the other components' change hooks,
// and exposes Load* methods cmd/exchange uses to rehydrate the engine on
// startup. Open runs the schema migration and fails loud; nothing else
// touches DDL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Store wraps a SQLite connection holding all exchange state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if version >= 1 {
		return nil
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

		CREATE TABLE IF NOT EXISTS participants (
			id               TEXT PRIMARY KEY,
			display_name     TEXT NOT NULL DEFAULT '',
			team             TEXT NOT NULL DEFAULT '',
			role             TEXT NOT NULL DEFAULT '',
			available_points INTEGER NOT NULL DEFAULT 0,
			reserved_points  INTEGER NOT NULL DEFAULT 0,
			shares           INTEGER NOT NULL DEFAULT 0,
			reserved_shares  INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS orders (
			id            TEXT PRIMARY KEY,
			participant   TEXT NOT NULL,
			side          TEXT NOT NULL,
			type          TEXT NOT NULL,
			original_qty  INTEGER NOT NULL,
			remaining_qty INTEGER NOT NULL,
			limit_price   INTEGER NOT NULL,
			state         TEXT NOT NULL,
			hold_id       TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_participant ON orders(participant);
		CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);

		CREATE TABLE IF NOT EXISTS holds (
			id          TEXT PRIMARY KEY,
			participant TEXT NOT NULL,
			kind        TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			ref         TEXT NOT NULL DEFAULT '',
			state       TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_holds_state ON holds(state);

		CREATE TABLE IF NOT EXISTS trades (
			id         TEXT PRIMARY KEY,
			buy_order  TEXT NOT NULL DEFAULT '',
			sell_order TEXT NOT NULL DEFAULT '',
			buyer      TEXT NOT NULL,
			seller     TEXT NOT NULL,
			price      INTEGER NOT NULL,
			qty        INTEGER NOT NULL,
			timestamp  TEXT NOT NULL,
			source     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp DESC);

		CREATE TABLE IF NOT EXISTS point_history (
			id          TEXT PRIMARY KEY,
			participant TEXT NOT NULL,
			delta       INTEGER NOT NULL,
			reason      TEXT NOT NULL,
			ref         TEXT NOT NULL DEFAULT '',
			at          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_point_history_participant ON point_history(participant, at DESC);

		CREATE TABLE IF NOT EXISTS ipo_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			shares_remaining INTEGER NOT NULL,
			unit_price       INTEGER NOT NULL,
			initial_shares   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS config_snapshot (
			id                    INTEGER PRIMARY KEY CHECK (id = 1),
			transfer_fee_rate_bps INTEGER NOT NULL,
			transfer_min_fee      INTEGER NOT NULL,
			price_limit_policy    TEXT NOT NULL,
			ipo_default_shares    INTEGER NOT NULL,
			ipo_default_price     INTEGER NOT NULL,
			sweep_interval_ns     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trading_windows (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			start_at TEXT NOT NULL,
			end_at   TEXT NOT NULL
		);

		INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`)
	if err != nil {
		return fmt.Errorf("migration v1: %w", err)
	}
	return nil
}

// SaveOrder upserts an order row (internal/matching.Persister).
func (s *Store) SaveOrder(ctx context.Context, o xchg.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, participant, side, type, original_qty, remaining_qty, limit_price, state, hold_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining_qty = excluded.remaining_qty,
			state         = excluded.state,
			hold_id       = excluded.hold_id
	`, o.ID, o.Participant, o.Side, o.Type, o.OriginalQty, o.RemainingQty, o.LimitPrice, o.State, o.HoldID, o.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// SaveHold upserts a hold row. Wired to the ledger's OnHold hook so the
// reservations backing open orders survive a restart.
func (s *Store) SaveHold(ctx context.Context, h xchg.Hold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holds (id, participant, kind, amount, ref, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			state  = excluded.state
	`, h.ID, h.Participant, h.Kind, h.Amount, h.Ref, h.State, h.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ListActiveHolds returns every hold still in the active state, for startup
// rehydration of the ledger's hold index alongside ListOpenOrders.
func (s *Store) ListActiveHolds(ctx context.Context) ([]xchg.Hold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant, kind, amount, ref, state, created_at FROM holds WHERE state = 'active'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []xchg.Hold
	for rows.Next() {
		var h xchg.Hold
		var created string
		if err := rows.Scan(&h.ID, &h.Participant, &h.Kind, &h.Amount, &h.Ref, &h.State, &created); err != nil {
			return nil, err
		}
		h.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveTrade inserts an immutable trade row (internal/matching.Persister).
func (s *Store) SaveTrade(ctx context.Context, t xchg.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, buy_order, sell_order, buyer, seller, price, qty, timestamp, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BuyOrder, t.SellOrder, t.Buyer, t.Seller, t.Price, t.Qty, t.Timestamp.Format(time.RFC3339Nano), t.Source)
	return err
}

// SaveParticipant upserts a participant's full balance row. Wired to the
// ledger's OnCommit hook.
func (s *Store) SaveParticipant(ctx context.Context, p xchg.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, display_name, team, role, available_points, reserved_points, shares, reserved_shares)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name     = excluded.display_name,
			team             = excluded.team,
			role             = excluded.role,
			available_points = excluded.available_points,
			reserved_points  = excluded.reserved_points,
			shares           = excluded.shares,
			reserved_shares  = excluded.reserved_shares
	`, p.ID, p.DisplayName, p.Team, p.Role, p.AvailablePoints, p.ReservedPoints, p.Shares, p.ReservedShares)
	return err
}

// SaveIPOState replaces the singleton IPO pool row. Wired to the pool's
// OnChange hook.
func (s *Store) SaveIPOState(ctx context.Context, st xchg.IPOState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ipo_state (id, shares_remaining, unit_price, initial_shares)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shares_remaining = excluded.shares_remaining,
			unit_price       = excluded.unit_price,
			initial_shares   = excluded.initial_shares
	`, st.SharesRemaining, st.UnitPrice, st.InitialShares)
	return err
}

// AppendPointHistory records an audit row. Not part of Persister: it is
// wired to the ledger's OnHistory hook, which fires for every history entry
// a ledger.Tx appends, since the in-memory ledger's history slice does not
// survive a restart on its own.
func (s *Store) AppendPointHistory(ctx context.Context, e xchg.PointHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO point_history (id, participant, delta, reason, ref, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Participant, e.Delta, e.Reason, e.Ref, e.At.Format(time.RFC3339Nano))
	return err
}

// SaveConfigSnapshot replaces the singleton config row plus its trading
// windows, so a restart resumes with whatever an admin last configured
// instead of the static startup defaults.
func (s *Store) SaveConfigSnapshot(ctx context.Context, cfg xchg.ConfigSnapshot) error {
	policyJSON, err := json.Marshal(cfg.PriceLimitPolicy)
	if err != nil {
		return fmt.Errorf("marshal price limit policy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO config_snapshot (id, transfer_fee_rate_bps, transfer_min_fee, price_limit_policy, ipo_default_shares, ipo_default_price, sweep_interval_ns)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transfer_fee_rate_bps = excluded.transfer_fee_rate_bps,
			transfer_min_fee      = excluded.transfer_min_fee,
			price_limit_policy    = excluded.price_limit_policy,
			ipo_default_shares    = excluded.ipo_default_shares,
			ipo_default_price     = excluded.ipo_default_price,
			sweep_interval_ns     = excluded.sweep_interval_ns
	`, cfg.TransferFeeRateBps, cfg.TransferMinFee, string(policyJSON), cfg.IPODefaultShares, cfg.IPODefaultPrice, cfg.SweepInterval); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trading_windows`); err != nil {
		return err
	}
	for _, w := range cfg.TradingWindows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO trading_windows (start_at, end_at) VALUES (?, ?)`,
			w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadConfigSnapshot returns the persisted config, or ok=false if none has
// ever been saved (fresh database: the caller should fall back to static
// defaults).
func (s *Store) LoadConfigSnapshot(ctx context.Context) (xchg.ConfigSnapshot, bool, error) {
	var cfg xchg.ConfigSnapshot
	var policyJSON string
	var sweepNS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT transfer_fee_rate_bps, transfer_min_fee, price_limit_policy, ipo_default_shares, ipo_default_price, sweep_interval_ns
		FROM config_snapshot WHERE id = 1
	`).Scan(&cfg.TransferFeeRateBps, &cfg.TransferMinFee, &policyJSON, &cfg.IPODefaultShares, &cfg.IPODefaultPrice, &sweepNS)
	if err == sql.ErrNoRows {
		return xchg.ConfigSnapshot{}, false, nil
	}
	if err != nil {
		return xchg.ConfigSnapshot{}, false, err
	}
	if err := json.Unmarshal([]byte(policyJSON), &cfg.PriceLimitPolicy); err != nil {
		return xchg.ConfigSnapshot{}, false, fmt.Errorf("unmarshal price limit policy: %w", err)
	}
	cfg.SweepInterval = time.Duration(sweepNS)

	rows, err := s.db.QueryContext(ctx, `SELECT start_at, end_at FROM trading_windows`)
	if err != nil {
		return xchg.ConfigSnapshot{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var startS, endS string
		if err := rows.Scan(&startS, &endS); err != nil {
			return xchg.ConfigSnapshot{}, false, err
		}
		start, err := time.Parse(time.RFC3339Nano, startS)
		if err != nil {
			return xchg.ConfigSnapshot{}, false, err
		}
		end, err := time.Parse(time.RFC3339Nano, endS)
		if err != nil {
			return xchg.ConfigSnapshot{}, false, err
		}
		cfg.TradingWindows = append(cfg.TradingWindows, xchg.TradingWindow{Start: start, End: end})
	}
	return cfg, true, rows.Err()
}

// LoadParticipants returns every persisted participant, for startup
// rehydration of internal/ledger.
func (s *Store) LoadParticipants(ctx context.Context) ([]xchg.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, team, role, available_points, reserved_points, shares, reserved_shares FROM participants
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []xchg.Participant
	for rows.Next() {
		var p xchg.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Team, &p.Role, &p.AvailablePoints, &p.ReservedPoints, &p.Shares, &p.ReservedShares); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadIPOState returns the persisted IPO pool, or ok=false if none has ever
// been saved.
func (s *Store) LoadIPOState(ctx context.Context) (xchg.IPOState, bool, error) {
	var st xchg.IPOState
	err := s.db.QueryRowContext(ctx, `SELECT shares_remaining, unit_price, initial_shares FROM ipo_state WHERE id = 1`).
		Scan(&st.SharesRemaining, &st.UnitPrice, &st.InitialShares)
	if err == sql.ErrNoRows {
		return xchg.IPOState{}, false, nil
	}
	return st, err == nil, err
}

// ListTrades returns up to limit of the most recent trades, newest first.
// limit <= 0 means unbounded.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]xchg.Trade, error) {
	query := `SELECT id, buy_order, sell_order, buyer, seller, price, qty, timestamp, source FROM trades ORDER BY timestamp DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []xchg.Trade
	for rows.Next() {
		var t xchg.Trade
		var ts string
		if err := rows.Scan(&t.ID, &t.BuyOrder, &t.SellOrder, &t.Buyer, &t.Seller, &t.Price, &t.Qty, &ts, &t.Source); err != nil {
			return nil, err
		}
		t.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListOpenOrders returns every order not in a terminal state, for startup
// rehydration of internal/orderbook.
func (s *Store) ListOpenOrders(ctx context.Context) ([]xchg.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant, side, type, original_qty, remaining_qty, limit_price, state, hold_id, created_at
		FROM orders WHERE state IN ('pending', 'partial', 'pending_limit')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []xchg.Order
	for rows.Next() {
		var o xchg.Order
		var created string
		if err := rows.Scan(&o.ID, &o.Participant, &o.Side, &o.Type, &o.OriginalQty, &o.RemainingQty, &o.LimitPrice, &o.State, &o.HoldID, &created); err != nil {
			return nil, err
		}
		o.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListPointHistory returns every recorded balance change for participantID,
// most recent first. Pass "" to list across all participants.
func (s *Store) ListPointHistory(ctx context.Context, participantID string, limit int) ([]xchg.PointHistoryEntry, error) {
	query := `SELECT id, participant, delta, reason, ref, at FROM point_history`
	var args []any
	if participantID != "" {
		query += ` WHERE participant = ?`
		args = append(args, participantID)
	}
	query += ` ORDER BY at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []xchg.PointHistoryEntry
	for rows.Next() {
		var e xchg.PointHistoryEntry
		var at string
		if err := rows.Scan(&e.ID, &e.Participant, &e.Delta, &e.Reason, &e.Ref, &at); err != nil {
			return nil, err
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
