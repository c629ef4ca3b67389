package portfolio

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"moneta/internal/domain"
)

var day0 = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

func newTestPortfolio(cash float64) *Portfolio {
	return New("test", day0, cash, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buy(ticker string, qty int, price float64) domain.Order {
	return domain.Order{Ticker: ticker, Action: domain.ActionBuy, Quantity: qty, Price: price, Reason: domain.ReasonEntry}
}

func sell(ticker string, qty int, price float64, reason domain.OrderReason) domain.Order {
	return domain.Order{Ticker: ticker, Action: domain.ActionSell, Quantity: qty, Price: price, Reason: reason}
}

func checkInvariant(t *testing.T, p *Portfolio) {
	t.Helper()
	sum := p.Cash()
	for _, pos := range p.Positions() {
		sum += pos.CurrentValue()
	}
	if math.Abs(sum-p.TotalValue()) > 1e-9 {
		t.Errorf("invariant violated: total %f != cash+positions %f", p.TotalValue(), sum)
	}
	if p.Cash() < 0 {
		t.Errorf("cash went negative: %f", p.Cash())
	}
}

func TestBuyCreatesPosition(t *testing.T) {
	p := newTestPortfolio(10000)

	trade, err := p.Execute(day0, buy("aapl", 10, 150), 0)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if trade.Ticker != "AAPL" {
		t.Errorf("trade ticker = %q, want upper-cased AAPL", trade.Ticker)
	}

	pos := p.Position("AAPL")
	if pos == nil {
		t.Fatal("position not created")
	}
	if pos.Shares != 10 || pos.AvgCost != 150 {
		t.Errorf("position = %d @ %f, want 10 @ 150", pos.Shares, pos.AvgCost)
	}
	if p.Cash() != 8500 {
		t.Errorf("cash = %f, want 8500", p.Cash())
	}
	if p.TotalValue() != 10000 {
		t.Errorf("total value = %f, want 10000", p.TotalValue())
	}
	checkInvariant(t, p)
}

func TestBuyAveragesCost(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 10, 100), 0)
	p.Execute(day0, buy("AAPL", 10, 200), 0)

	pos := p.Position("AAPL")
	if pos.Shares != 20 {
		t.Errorf("shares = %d, want 20", pos.Shares)
	}
	if pos.AvgCost != 150 {
		t.Errorf("avg cost = %f, want volume-weighted 150", pos.AvgCost)
	}
	checkInvariant(t, p)
}

func TestBuyInsufficientCash(t *testing.T) {
	p := newTestPortfolio(1000)

	_, err := p.Execute(day0, buy("AAPL", 10, 150), 0)
	if !errors.Is(err, domain.ErrInsufficientCash) {
		t.Fatalf("error = %v, want ErrInsufficientCash", err)
	}
	if p.PositionCount() != 0 || p.Cash() != 1000 {
		t.Error("failed trade must leave the ledger untouched")
	}
}

func TestBuyCommissionCountsAgainstCash(t *testing.T) {
	p := newTestPortfolio(1000)

	// 10 * 100 = 1000 exactly, but 1% commission pushes it over.
	_, err := p.Execute(day0, buy("AAPL", 10, 100), 0.01)
	if !errors.Is(err, domain.ErrInsufficientCash) {
		t.Fatalf("error = %v, want ErrInsufficientCash with commission", err)
	}
}

func TestSellRealizesPnLAtAvgCost(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 10, 100), 0)

	trade, err := p.Execute(day0.AddDate(0, 0, 7), sell("AAPL", 10, 120, domain.ReasonStrategySignal), 0)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if trade.RealizedPnL != 200 {
		t.Errorf("realized PnL = %f, want 200 (avg-cost basis)", trade.RealizedPnL)
	}
	if p.Position("AAPL") != nil {
		t.Error("position should be removed at zero shares")
	}
	if p.Cash() != 10200 {
		t.Errorf("cash = %f, want 10200", p.Cash())
	}
	checkInvariant(t, p)
}

func TestSellInsufficientShares(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 10, 100), 0)

	_, err := p.Execute(day0, sell("AAPL", 20, 100, domain.ReasonStrategySignal), 0)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("error = %v, want ErrInsufficientShares", err)
	}

	// Selling a ticker that was never bought.
	_, err = p.Execute(day0, sell("MSFT", 1, 100, domain.ReasonStrategySignal), 0)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("error = %v, want ErrInsufficientShares for unknown ticker", err)
	}
}

func TestFirstTargetSellFlipsTwoForOneState(t *testing.T) {
	p := newTestPortfolio(100000)
	p.Execute(day0, domain.Order{
		Ticker: "AAPL", Action: domain.ActionBuy, Quantity: 101, Price: 50,
		StopLoss: 46, FirstTarget: 58, Breakeven: 50, Reason: domain.ReasonEntry,
	}, 0)

	// Sell floor(101/2) = 50 at the target.
	_, err := p.Execute(day0.AddDate(0, 0, 7), sell("AAPL", 50, 58, domain.ReasonFirstTarget), 0)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	pos := p.Position("AAPL")
	if pos == nil {
		t.Fatal("remaining half should stay open")
	}
	if pos.Shares != 51 {
		t.Errorf("remaining shares = %d, want 51", pos.Shares)
	}
	if !pos.FirstHalfSold {
		t.Error("FirstHalfSold not set")
	}
	if pos.StopLoss != pos.AvgCost || pos.Breakeven != pos.AvgCost {
		t.Errorf("stop %f / breakeven %f, want both at avg cost %f", pos.StopLoss, pos.Breakeven, pos.AvgCost)
	}
	checkInvariant(t, p)
}

func TestSellCommissionReducesProceedsAndPnL(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 10, 100), 0)

	trade, err := p.Execute(day0, sell("AAPL", 10, 120, domain.ReasonStrategySignal), 0.01)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	// Gross 1200, commission 12, net 1188, basis 1000.
	if math.Abs(trade.RealizedPnL-188) > 1e-9 {
		t.Errorf("realized PnL = %f, want 188", trade.RealizedPnL)
	}
	if math.Abs(p.Cash()-10188) > 1e-9 {
		t.Errorf("cash = %f, want 10188", p.Cash())
	}
}

func TestMarkToMarket(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 10, 100), 0)

	next := day0.AddDate(0, 0, 7)
	p.MarkToMarket(next, map[string]float64{"AAPL": 110})

	if p.TotalValue() != 9000+1100 {
		t.Errorf("total value = %f, want 10100 after repricing", p.TotalValue())
	}
	if !p.Date().Equal(next) {
		t.Errorf("valuation date = %v, want %v", p.Date(), next)
	}
	checkInvariant(t, p)

	snap := p.Snapshot(next)
	if snap.PositionsValue != 1100 || snap.PositionCount != 1 {
		t.Errorf("snapshot = %+v, want positions value 1100, count 1", snap)
	}
}

func TestStateRoundTrip(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, domain.Order{
		Ticker: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100,
		StopLoss: 92, FirstTarget: 116, Breakeven: 100, EntryATR: 2, Reason: domain.ReasonEntry,
	}, 0)

	restored := FromState(p.State(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if restored.Cash() != p.Cash() {
		t.Errorf("restored cash = %f, want %f", restored.Cash(), p.Cash())
	}
	if restored.TotalValue() != p.TotalValue() {
		t.Errorf("restored total = %f, want %f", restored.TotalValue(), p.TotalValue())
	}
	pos := restored.Position("AAPL")
	if pos == nil || pos.StopLoss != 92 || pos.EntryATR != 2 {
		t.Errorf("restored position = %+v, want stop 92 and entry ATR 2", pos)
	}
}

func TestTradeLogIsAppendOnly(t *testing.T) {
	p := newTestPortfolio(10000)
	p.Execute(day0, buy("AAPL", 5, 100), 0)
	p.Execute(day0, sell("AAPL", 5, 100, domain.ReasonStrategySignal), 0)
	p.Execute(day0, buy("MSFT", 2, 100), 0)

	trades := p.Trades()
	if len(trades) != 3 {
		t.Fatalf("trade log has %d entries, want 3", len(trades))
	}
	if trades[0].Ticker != "AAPL" || trades[2].Ticker != "MSFT" {
		t.Error("trade log out of order")
	}
}
