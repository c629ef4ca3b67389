package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moneta/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// dateLayout stores day-precision dates as text so they sort lexically.
const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	strategy         TEXT NOT NULL,
	policy           TEXT NOT NULL,
	portfolio        TEXT NOT NULL,
	start_date       TEXT NOT NULL,
	end_date         TEXT NOT NULL,
	initial_capital  REAL NOT NULL,
	final_value      REAL NOT NULL,
	total_return     REAL NOT NULL,
	annualized_return REAL NOT NULL,
	volatility       REAL NOT NULL,
	sharpe_ratio     REAL NOT NULL,
	max_drawdown     REAL NOT NULL,
	calmar_ratio     REAL NOT NULL,
	win_rate         REAL NOT NULL,
	profit_factor    REAL NOT NULL,
	avg_trade_pnl    REAL NOT NULL,
	trade_count      INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	run_id       TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	date         TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	action       TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	price        REAL NOT NULL,
	commission   REAL NOT NULL,
	reason       TEXT NOT NULL,
	realized_pnl REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id          TEXT NOT NULL,
	date            TEXT NOT NULL,
	cash            REAL NOT NULL,
	positions_value REAL NOT NULL,
	total_value     REAL NOT NULL,
	position_count  INTEGER NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS portfolios (
	name       TEXT PRIMARY KEY,
	date       TEXT NOT NULL,
	cash       REAL NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	portfolio       TEXT NOT NULL,
	ticker          TEXT NOT NULL,
	shares          INTEGER NOT NULL,
	avg_cost        REAL NOT NULL,
	current_price   REAL NOT NULL,
	stop_loss       REAL NOT NULL,
	first_target    REAL NOT NULL,
	breakeven       REAL NOT NULL,
	first_half_sold INTEGER NOT NULL,
	entry_atr       REAL NOT NULL,
	entry_date      TEXT NOT NULL,
	PRIMARY KEY (portfolio, ticker)
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// SaveRun inserts one completed run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, run domain.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, strategy, policy, portfolio, start_date, end_date,
			initial_capital, final_value, total_return, annualized_return,
			volatility, sharpe_ratio, max_drawdown, calmar_ratio,
			win_rate, profit_factor, avg_trade_pnl, trade_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Policy, run.PortfolioName,
		run.Start.Format(dateLayout), run.End.Format(dateLayout),
		run.InitialCapital, run.FinalValue,
		run.Metrics.TotalReturn, run.Metrics.AnnualizedReturn,
		run.Metrics.Volatility, run.Metrics.SharpeRatio,
		run.Metrics.MaxDrawdown, run.Metrics.CalmarRatio,
		run.Metrics.WinRate, run.Metrics.ProfitFactor,
		run.Metrics.AvgTradePnL, run.Metrics.TradeCount,
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run summary by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, policy, portfolio, start_date, end_date,
			initial_capital, final_value, total_return, annualized_return,
			volatility, sharpe_ratio, max_drawdown, calmar_ratio,
			win_rate, profit_factor, avg_trade_pnl, trade_count, created_at
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSummary{}, fmt.Errorf("run %s: %w", id, domain.ErrNoData)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, policy, portfolio, start_date, end_date,
			initial_capital, final_value, total_return, annualized_return,
			volatility, sharpe_ratio, max_drawdown, calmar_ratio,
			win_rate, profit_factor, avg_trade_pnl, trade_count, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunSummary, error) {
	var run domain.RunSummary
	var start, end, created string

	err := row.Scan(
		&run.ID, &run.Strategy, &run.Policy, &run.PortfolioName, &start, &end,
		&run.InitialCapital, &run.FinalValue,
		&run.Metrics.TotalReturn, &run.Metrics.AnnualizedReturn,
		&run.Metrics.Volatility, &run.Metrics.SharpeRatio,
		&run.Metrics.MaxDrawdown, &run.Metrics.CalmarRatio,
		&run.Metrics.WinRate, &run.Metrics.ProfitFactor,
		&run.Metrics.AvgTradePnL, &run.Metrics.TradeCount,
		&created,
	)
	if err != nil {
		return domain.RunSummary{}, err
	}

	if run.Start, err = time.Parse(dateLayout, start); err != nil {
		return domain.RunSummary{}, fmt.Errorf("parsing start date: %w", err)
	}
	if run.End, err = time.Parse(dateLayout, end); err != nil {
		return domain.RunSummary{}, fmt.Errorf("parsing end date: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return domain.RunSummary{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return run, nil
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// SaveTrades persists a run's trade log in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, date, ticker, action, quantity, price, commission, reason, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.ExecContext(ctx, runID, i, t.Date.Format(dateLayout),
			t.Ticker, string(t.Action), t.Quantity, t.Price, t.Commission,
			string(t.Reason), t.RealizedPnL)
		if err != nil {
			return fmt.Errorf("saving trade %d for run %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// LoadTrades returns a run's trade log in execution order.
func (s *SQLiteStore) LoadTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, ticker, action, quantity, price, commission, reason, realized_pnl
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var date, action, reason string
		if err := rows.Scan(&date, &t.Ticker, &action, &t.Quantity, &t.Price, &t.Commission, &reason, &t.RealizedPnL); err != nil {
			return nil, err
		}
		if t.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parsing trade date: %w", err)
		}
		t.Action = domain.TradeAction(action)
		t.Reason = domain.OrderReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveSnapshots persists a run's equity curve in one transaction.
func (s *SQLiteStore) SaveSnapshots(ctx context.Context, runID string, snapshots []domain.EquitySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshots (run_id, date, cash, positions_value, total_value, position_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		_, err := stmt.ExecContext(ctx, runID, snap.Date.Format(dateLayout),
			snap.Cash, snap.PositionsValue, snap.TotalValue, snap.PositionCount)
		if err != nil {
			return fmt.Errorf("saving snapshot %s for run %s: %w", snap.Date.Format(dateLayout), runID, err)
		}
	}
	return tx.Commit()
}

// LoadSnapshots returns a run's equity curve in date order.
func (s *SQLiteStore) LoadSnapshots(ctx context.Context, runID string) ([]domain.EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, cash, positions_value, total_value, position_count
		FROM snapshots WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []domain.EquitySnapshot
	for rows.Next() {
		var snap domain.EquitySnapshot
		var date string
		if err := rows.Scan(&date, &snap.Cash, &snap.PositionsValue, &snap.TotalValue, &snap.PositionCount); err != nil {
			return nil, err
		}
		if snap.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parsing snapshot date: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// ---------------------------------------------------------------------------
// Portfolios
// ---------------------------------------------------------------------------

// SavePortfolio upserts named portfolio state, replacing its position rows.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, state domain.PortfolioState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO portfolios (name, date, cash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET date = excluded.date, cash = excluded.cash, updated_at = excluded.updated_at`,
		state.Name, state.Date.Format(dateLayout), state.Cash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving portfolio %s: %w", state.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE portfolio = ?`, state.Name); err != nil {
		return err
	}

	for _, pos := range state.Positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (portfolio, ticker, shares, avg_cost, current_price,
				stop_loss, first_target, breakeven, first_half_sold, entry_atr, entry_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			state.Name, pos.Ticker, pos.Shares, pos.AvgCost, pos.CurrentPrice,
			pos.StopLoss, pos.FirstTarget, pos.Breakeven, boolToInt(pos.FirstHalfSold),
			pos.EntryATR, pos.EntryDate.Format(dateLayout))
		if err != nil {
			return fmt.Errorf("saving position %s/%s: %w", state.Name, pos.Ticker, err)
		}
	}
	return tx.Commit()
}

// LoadPortfolio retrieves named portfolio state with its positions.
func (s *SQLiteStore) LoadPortfolio(ctx context.Context, name string) (domain.PortfolioState, error) {
	var state domain.PortfolioState
	var date string

	err := s.db.QueryRowContext(ctx,
		`SELECT name, date, cash FROM portfolios WHERE name = ?`, name).
		Scan(&state.Name, &date, &state.Cash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioState{}, fmt.Errorf("portfolio %q: %w", name, domain.ErrNoData)
	}
	if err != nil {
		return domain.PortfolioState{}, err
	}
	if state.Date, err = time.Parse(dateLayout, date); err != nil {
		return domain.PortfolioState{}, fmt.Errorf("parsing portfolio date: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, shares, avg_cost, current_price, stop_loss, first_target,
			breakeven, first_half_sold, entry_atr, entry_date
		FROM positions WHERE portfolio = ? ORDER BY ticker`, name)
	if err != nil {
		return domain.PortfolioState{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var pos domain.Position
		var halfSold int
		var entryDate string
		err := rows.Scan(&pos.Ticker, &pos.Shares, &pos.AvgCost, &pos.CurrentPrice,
			&pos.StopLoss, &pos.FirstTarget, &pos.Breakeven, &halfSold,
			&pos.EntryATR, &entryDate)
		if err != nil {
			return domain.PortfolioState{}, err
		}
		pos.FirstHalfSold = halfSold != 0
		if pos.EntryDate, err = time.Parse(dateLayout, entryDate); err != nil {
			return domain.PortfolioState{}, fmt.Errorf("parsing entry date: %w", err)
		}
		state.Positions = append(state.Positions, pos)
	}
	return state, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
