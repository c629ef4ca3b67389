// Package store persists market data and simulation artifacts: daily bars in
// Parquet files, runs, trades, snapshots, and portfolio state in SQLite.
package store

import (
	"context"
	"time"

	"moneta/internal/domain"
)

// BarStore persists and retrieves daily OHLCV bar history.
type BarStore interface {
	// WriteBars persists a batch of bars, deduplicating by (ticker, date).
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given ticker within [start, end].
	ReadBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)

	// ListTickers returns all distinct tickers with stored bars.
	ListTickers(ctx context.Context) ([]string, error)
}

// RunStore persists simulation artifacts keyed by run ID, plus named
// portfolio state that carries over between runs.
type RunStore interface {
	// SaveRun inserts one completed run summary.
	SaveRun(ctx context.Context, run domain.RunSummary) error

	// GetRun retrieves a run summary by ID.
	GetRun(ctx context.Context, id string) (domain.RunSummary, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// SaveTrades persists a run's trade log.
	SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error

	// LoadTrades returns a run's trade log in execution order.
	LoadTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// SaveSnapshots persists a run's equity curve.
	SaveSnapshots(ctx context.Context, runID string, snapshots []domain.EquitySnapshot) error

	// LoadSnapshots returns a run's equity curve in date order.
	LoadSnapshots(ctx context.Context, runID string) ([]domain.EquitySnapshot, error)

	// SavePortfolio upserts named portfolio state, replacing its positions.
	SavePortfolio(ctx context.Context, state domain.PortfolioState) error

	// LoadPortfolio retrieves named portfolio state. Missing portfolios
	// report domain.ErrNoData.
	LoadPortfolio(ctx context.Context, name string) (domain.PortfolioState, error)
}
