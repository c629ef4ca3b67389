package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"moneta/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testBars(ticker string, startDay, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := float64(100 + i)
		bars[i] = domain.Bar{
			Ticker: ticker, Date: day(startDay + i),
			Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: 1000,
		}
	}
	return bars
}

func TestParquetBarPath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", 2024)
	want := filepath.Join("/data", "daily", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath = %s, want %s", got, want)
	}
}

func TestParquetWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps := NewParquetStore(t.TempDir())

	if err := ps.WriteBars(ctx, testBars("AAPL", 1, 5)); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	bars, err := ps.ReadBars(ctx, "AAPL", day(2), day(4))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3 in range", len(bars))
	}
	if bars[0].Close != 101 || bars[2].Close != 103 {
		t.Errorf("closes = %f, %f; want 101, 103", bars[0].Close, bars[2].Close)
	}

	tickers, err := ps.ListTickers(ctx)
	if err != nil {
		t.Fatalf("ListTickers: %v", err)
	}
	if len(tickers) != 1 || tickers[0] != "AAPL" {
		t.Errorf("tickers = %v, want [AAPL]", tickers)
	}
}

func TestParquetWriteDeduplicates(t *testing.T) {
	ctx := context.Background()
	ps := NewParquetStore(t.TempDir())

	if err := ps.WriteBars(ctx, testBars("AAPL", 1, 3)); err != nil {
		t.Fatalf("first WriteBars: %v", err)
	}
	// Overlapping rewrite: days 2-4, new closes win on the overlap.
	if err := ps.WriteBars(ctx, testBars("AAPL", 2, 3)); err != nil {
		t.Fatalf("second WriteBars: %v", err)
	}

	bars, err := ps.ReadBars(ctx, "AAPL", day(1), day(5))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("got %d bars after merge, want 4 distinct dates", len(bars))
	}
	// Day 2 was overwritten by the second batch's first bar (close 100).
	if bars[1].Close != 100 {
		t.Errorf("day 2 close = %f, want incoming record to win", bars[1].Close)
	}
}

func TestParquetHistoryBatches(t *testing.T) {
	ctx := context.Background()
	ps := NewParquetStore(t.TempDir())

	ps.WriteBars(ctx, testBars("AAPL", 1, 3))
	ps.WriteBars(ctx, testBars("MSFT", 1, 3))

	history, err := ps.History(ctx, []string{"aapl", "msft", "MISSING"}, day(1), day(3))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("got %d tickers, want 2 (missing omitted)", len(history))
	}
	if len(history["AAPL"]) != 3 {
		t.Errorf("AAPL bars = %d, want 3", len(history["AAPL"]))
	}

	_, err = ps.History(ctx, []string{"NONE"}, day(1), day(3))
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("History with no hits = %v, want ErrNoData", err)
	}
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	run := domain.RunSummary{
		ID: "run-1", Strategy: "moving_average_crossover", Policy: "risk_managed",
		PortfolioName: "default", Start: day(1), End: day(26),
		InitialCapital: 10000, FinalValue: 11000,
		Metrics: domain.Metrics{
			TotalReturn: 0.10, SharpeRatio: 1.2, MaxDrawdown: -0.05,
			WinRate: 60, ProfitFactor: 2.5, AvgTradePnL: 25, TradeCount: 10,
		},
		CreatedAt: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != run.Strategy || got.Metrics.SharpeRatio != 1.2 || got.Metrics.TradeCount != 10 {
		t.Errorf("got %+v, want stored run back", got)
	}
	if got.Metrics.MaxDrawdown != -0.05 || got.Metrics.AvgTradePnL != 25 {
		t.Errorf("metrics = %+v, want drawdown -0.05 and avg trade pnl 25", got.Metrics)
	}
	if !got.Start.Equal(day(1)) || !got.End.Equal(day(26)) {
		t.Errorf("dates = %v..%v, want Jan 1..Jan 26", got.Start, got.End)
	}

	_, err = s.GetRun(ctx, "absent")
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("GetRun(absent) = %v, want ErrNoData", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v, want the one saved run", runs)
	}
}

func TestSQLiteTradesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	trades := []domain.Trade{
		{Date: day(8), Ticker: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100, Reason: domain.ReasonEntry},
		{Date: day(15), Ticker: "AAPL", Action: domain.ActionSell, Quantity: 10, Price: 110, Reason: domain.ReasonStrategySignal, RealizedPnL: 100},
	}
	if err := s.SaveTrades(ctx, "run-1", trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}

	got, err := s.LoadTrades(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2", len(got))
	}
	if got[0].Action != domain.ActionBuy || got[1].RealizedPnL != 100 {
		t.Errorf("trades = %+v, want buy first and pnl 100 on the sell", got)
	}
}

func TestSQLiteSnapshotsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	snaps := []domain.EquitySnapshot{
		{Date: day(8), Cash: 9000, PositionsValue: 1000, TotalValue: 10000, PositionCount: 1},
		{Date: day(15), Cash: 9000, PositionsValue: 1100, TotalValue: 10100, PositionCount: 1},
	}
	if err := s.SaveSnapshots(ctx, "run-1", snaps); err != nil {
		t.Fatalf("SaveSnapshots: %v", err)
	}

	got, err := s.LoadSnapshots(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
	if got[1].TotalValue != 10100 {
		t.Errorf("second snapshot total = %f, want 10100", got[1].TotalValue)
	}
}

func TestSQLitePortfolioUpsert(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	state := domain.PortfolioState{
		Name: "default", Date: day(8), Cash: 9000,
		Positions: []domain.Position{{
			Ticker: "AAPL", Shares: 10, AvgCost: 100, CurrentPrice: 105,
			StopLoss: 92, FirstTarget: 116, Breakeven: 100, EntryATR: 2, EntryDate: day(8),
		}},
	}
	if err := s.SavePortfolio(ctx, state); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	// Overwrite with the position closed out.
	state.Date = day(15)
	state.Cash = 10050
	state.Positions = nil
	if err := s.SavePortfolio(ctx, state); err != nil {
		t.Fatalf("SavePortfolio upsert: %v", err)
	}

	got, err := s.LoadPortfolio(ctx, "default")
	if err != nil {
		t.Fatalf("LoadPortfolio: %v", err)
	}
	if got.Cash != 10050 || len(got.Positions) != 0 {
		t.Errorf("got %+v, want upserted state with no positions", got)
	}
	if !got.Date.Equal(day(15)) {
		t.Errorf("date = %v, want Jan 15", got.Date)
	}

	_, err = s.LoadPortfolio(ctx, "missing")
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("LoadPortfolio(missing) = %v, want ErrNoData", err)
	}
}

func TestSQLitePortfolioPreservesTwoForOneState(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	state := domain.PortfolioState{
		Name: "default", Date: day(15), Cash: 9500,
		Positions: []domain.Position{{
			Ticker: "AAPL", Shares: 5, AvgCost: 100, CurrentPrice: 110,
			StopLoss: 100, FirstTarget: 116, Breakeven: 100,
			FirstHalfSold: true, EntryATR: 2, EntryDate: day(8),
		}},
	}
	if err := s.SavePortfolio(ctx, state); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}

	got, err := s.LoadPortfolio(ctx, "default")
	if err != nil {
		t.Fatalf("LoadPortfolio: %v", err)
	}
	if len(got.Positions) != 1 || !got.Positions[0].FirstHalfSold {
		t.Errorf("positions = %+v, want FirstHalfSold preserved", got.Positions)
	}
	if !got.Positions[0].EntryDate.Equal(day(8)) {
		t.Errorf("entry date = %v, want Jan 8", got.Positions[0].EntryDate)
	}
}
