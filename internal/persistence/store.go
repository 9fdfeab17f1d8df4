// Package persistence implements the append-only trade log, equity
// snapshots, and zone/backtest history described in §4.7/§6, backed by a
// pure-Go sqlite driver so the binary needs no cgo toolchain. Schema
// bootstrap follows the teacher pack's idempotent
// "CREATE TABLE IF NOT EXISTS" + indexed-column migration idiom.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store wraps a sqlite-backed *sql.DB with the trade/equity/zone/backtest
// schema from §6. Open limits the pool to a single connection, so writes
// from concurrent engines are serialised by database/sql itself.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// the idempotent schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_name TEXT NOT NULL,
			mode TEXT NOT NULL,
			direction TEXT NOT NULL,
			pair TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT,
			stop_loss TEXT NOT NULL,
			take_profit TEXT NOT NULL,
			units TEXT NOT NULL,
			sr_zone_price TEXT,
			sr_zone_type TEXT,
			entry_reason TEXT,
			exit_reason TEXT,
			pnl TEXT,
			status TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_mode ON trades(mode)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_stream_name ON trades(stream_name)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mode TEXT NOT NULL,
			equity TEXT NOT NULL,
			balance TEXT NOT NULL,
			peak_equity TEXT NOT NULL,
			drawdown_pct TEXT NOT NULL,
			open_positions INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_recorded_at ON equity_snapshots(recorded_at)`,

		`CREATE TABLE IF NOT EXISTS sr_zones (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			zone_type TEXT NOT NULL,
			price_level TEXT NOT NULL,
			strength INTEGER NOT NULL,
			detected_at DATETIME NOT NULL,
			invalidated_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zones_pair_type ON sr_zones(pair, zone_type)`,
		`CREATE INDEX IF NOT EXISTS idx_zones_active ON sr_zones(pair, zone_type) WHERE invalidated_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair TEXT NOT NULL,
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			win_rate TEXT NOT NULL,
			profit_factor TEXT NOT NULL,
			sharpe_ratio TEXT NOT NULL,
			max_drawdown TEXT NOT NULL,
			net_pnl TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

// InsertTrade appends a new open trade row and returns its primary key.
func (s *Store) InsertTrade(ctx context.Context, t types.Trade) (int64, error) {
	var zonePrice, zoneType sql.NullString
	if t.HasZone {
		zonePrice = sql.NullString{String: t.ZonePrice.String(), Valid: true}
		zoneType = sql.NullString{String: string(t.ZoneType), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO trades
		(stream_name, mode, direction, pair, entry_price, stop_loss, take_profit, units,
		 sr_zone_price, sr_zone_type, entry_reason, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StreamName, t.Mode, t.Direction, t.Instrument, t.EntryPrice.String(),
		t.Stop.String(), t.Target.String(), t.Units.String(),
		zonePrice, zoneType, t.EntryReason, types.StatusOpen, formatTime(t.OpenedAt))
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// CloseTrade mutates a single open trade row to closed by primary key,
// rejecting a trade that is already closed (the lifecycle invariant from
// §4.7).
func (s *Store) CloseTrade(ctx context.Context, id int64, exitPrice decimal.Decimal, reason types.ExitReason, pnl decimal.Decimal, closedAt time.Time) error {
	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM trades WHERE id = ?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("trade %d: %w", id, sql.ErrNoRows)
		}
		return &coreerrors.PersistenceConflict{Op: "close_trade_lookup", Err: err}
	}
	if status == string(types.StatusClosed) {
		return &coreerrors.InvariantViolation{Component: "persistence", Detail: fmt.Sprintf("trade %d already closed", id)}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE trades SET exit_price=?, exit_reason=?, pnl=?, status=?, closed_at=?
		WHERE id = ? AND status != ?`,
		exitPrice.String(), reason, pnl.String(), types.StatusClosed, formatTime(closedAt), id, types.StatusClosed)
	if err != nil {
		return &coreerrors.PersistenceConflict{Op: "close_trade", Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return &coreerrors.PersistenceConflict{Op: "close_trade_rows_affected", Err: err}
	}
	if rows == 0 {
		return &coreerrors.InvariantViolation{Component: "persistence", Detail: fmt.Sprintf("trade %d already closed (race)", id)}
	}
	return nil
}

// OpenTrades returns every currently open trade for a stream.
func (s *Store) OpenTrades(ctx context.Context, streamName string) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stream_name, mode, direction, pair, entry_price,
		stop_loss, take_profit, units, sr_zone_price, sr_zone_type, entry_reason, status, opened_at
		FROM trades WHERE stream_name = ? AND status = ?`, streamName, types.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// AllOpenTrades returns every currently open trade across every stream, for
// the status projection's /positions view.
func (s *Store) AllOpenTrades(ctx context.Context) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stream_name, mode, direction, pair, entry_price,
		stop_loss, take_profit, units, sr_zone_price, sr_zone_type, entry_reason, status, opened_at
		FROM trades WHERE status = ?`, types.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query all open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ClosedTrades returns the most recent closed trades, most recent first,
// bounded by limit.
func (s *Store) ClosedTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stream_name, mode, direction, pair, entry_price,
		exit_price, stop_loss, take_profit, units, sr_zone_price, sr_zone_type, entry_reason,
		exit_reason, pnl, status, opened_at, closed_at
		FROM trades WHERE status = ? ORDER BY closed_at DESC LIMIT ?`, types.StatusClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()
	return scanClosedTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var entry, stop, target, units string
		var zonePrice, zoneType sql.NullString
		var openedAt string
		if err := rows.Scan(&t.ID, &t.StreamName, &t.Mode, &t.Direction, &t.Instrument,
			&entry, &stop, &target, &units, &zonePrice, &zoneType, &t.EntryReason, &t.Status, &openedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryPrice, _ = decimal.NewFromString(entry)
		t.Stop, _ = decimal.NewFromString(stop)
		t.Target, _ = decimal.NewFromString(target)
		t.Units, _ = decimal.NewFromString(units)
		if zonePrice.Valid {
			t.ZonePrice, _ = decimal.NewFromString(zonePrice.String)
			t.ZoneType = types.ZoneRole(zoneType.String)
			t.HasZone = true
		}
		t.OpenedAt, _ = parseTime(openedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanClosedTrades(rows *sql.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var entry, exit, stop, target, units, pnl string
		var zonePrice, zoneType, exitReason sql.NullString
		var openedAt, closedAt string
		if err := rows.Scan(&t.ID, &t.StreamName, &t.Mode, &t.Direction, &t.Instrument,
			&entry, &exit, &stop, &target, &units, &zonePrice, &zoneType, &t.EntryReason,
			&exitReason, &pnl, &t.Status, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.EntryPrice, _ = decimal.NewFromString(entry)
		t.ExitPrice, _ = decimal.NewFromString(exit)
		t.HasExit = true
		t.Stop, _ = decimal.NewFromString(stop)
		t.Target, _ = decimal.NewFromString(target)
		t.Units, _ = decimal.NewFromString(units)
		t.PnL, _ = decimal.NewFromString(pnl)
		if zonePrice.Valid {
			t.ZonePrice, _ = decimal.NewFromString(zonePrice.String)
			t.ZoneType = types.ZoneRole(zoneType.String)
			t.HasZone = true
		}
		if exitReason.Valid {
			t.ExitReason = types.ExitReason(exitReason.String)
		}
		t.OpenedAt, _ = parseTime(openedAt)
		t.ClosedAt, _ = parseTime(closedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertEquitySnapshot appends an EquitySnapshot row.
func (s *Store) InsertEquitySnapshot(ctx context.Context, snap types.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO equity_snapshots
		(mode, equity, balance, peak_equity, drawdown_pct, open_positions, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Mode, snap.Equity.String(), snap.Balance.String(), snap.PeakEquity.String(),
		snap.DrawdownPct.String(), snap.OpenPositions, formatTime(snap.RecordedAt))
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

// InsertZone appends a detected zone for historical inspection.
func (s *Store) InsertZone(ctx context.Context, instrument string, z types.Zone) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sr_zones
		(pair, zone_type, price_level, strength, detected_at)
		VALUES (?, ?, ?, ?, ?)`,
		instrument, z.Role, z.Level.String(), z.TouchCount, formatTime(z.DetectedAt))
	if err != nil {
		return fmt.Errorf("insert zone: %w", err)
	}
	return nil
}

// BacktestRun is the summary row persisted after a backtest completes.
type BacktestRun struct {
	Instrument    string
	StartDate     time.Time
	EndDate       time.Time
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	SharpeRatio   decimal.Decimal
	MaxDrawdown   decimal.Decimal
	NetPnL        decimal.Decimal
}

// InsertBacktestRun appends a backtest summary row.
func (s *Store) InsertBacktestRun(ctx context.Context, r BacktestRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO backtest_runs
		(pair, start_date, end_date, total_trades, winning_trades, losing_trades,
		 win_rate, profit_factor, sharpe_ratio, max_drawdown, net_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Instrument, formatTime(r.StartDate), formatTime(r.EndDate), r.TotalTrades,
		r.WinningTrades, r.LosingTrades, r.WinRate.String(), r.ProfitFactor.String(),
		r.SharpeRatio.String(), r.MaxDrawdown.String(), r.NetPnL.String())
	if err != nil {
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}
