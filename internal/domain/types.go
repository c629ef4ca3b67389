// Package domain defines the core value types shared across the moneta
// simulator: market bars, signals, orders, trades, positions, and equity
// snapshots.
package domain

import (
	"errors"
	"time"
)

// Market identifies a trading venue.
type Market string

const (
	MarketUS Market = "us"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrInsufficientCash rejects a BUY whose total cost exceeds available cash.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInsufficientShares rejects a SELL larger than the open position.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrLookahead rejects signal generation over history that extends past
	// the analysis date.
	ErrLookahead = errors.New("history extends past analysis date")

	// ErrNoData marks a missing price or bar series for a ticker on a date.
	ErrNoData = errors.New("no market data")
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single daily OHLCV bar for one ticker.
type Bar struct {
	Ticker string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Quote carries the per-ticker price and volatility inputs for one
// execution cycle.
type Quote struct {
	Price float64
	ATR   float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalLabel is the categorical output of a strategy for one ticker.
type SignalLabel string

const (
	SignalBuy  SignalLabel = "BUY"
	SignalSell SignalLabel = "SELL"
	SignalHold SignalLabel = "HOLD"
)

// LabelFromValue maps a numeric strategy value to a signal label. Values
// outside {-1, 0, 1} map to HOLD.
func LabelFromValue(v int) SignalLabel {
	switch v {
	case 1:
		return SignalBuy
	case -1:
		return SignalSell
	default:
		return SignalHold
	}
}

// Signal is a categorical signal for one ticker on one analysis date. It is
// ephemeral: not persisted beyond a cycle unless the caller logs it.
type Signal struct {
	Ticker string
	Date   time.Time
	Label  SignalLabel
	Price  float64
	ATR    float64
}

// ---------------------------------------------------------------------------
// Orders and trades
// ---------------------------------------------------------------------------

// TradeAction is the direction of an order or trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// OrderReason explains why a sizing policy emitted an order.
type OrderReason string

const (
	ReasonStopLoss       OrderReason = "STOP_LOSS"
	ReasonFirstTarget    OrderReason = "FIRST_TARGET"
	ReasonBreakeven      OrderReason = "BREAKEVEN"
	ReasonStrategySignal OrderReason = "STRATEGY_SIGNAL"
	ReasonEntry          OrderReason = "ENTRY"
)

// Order is a concrete, sized instruction emitted by a sizing policy for one
// execution date. Stop, target, and breakeven are set on entries only.
type Order struct {
	Ticker      string
	Action      TradeAction
	Quantity    int
	Price       float64
	StopLoss    float64
	FirstTarget float64
	Breakeven   float64
	EntryATR    float64
	Reason      OrderReason
}

// Trade is the immutable record of an executed order. RealizedPnL is set on
// SELL trades only and is computed against the position's average cost at
// sale time.
type Trade struct {
	Date        time.Time
	Ticker      string
	Action      TradeAction
	Quantity    int
	Price       float64
	Commission  float64
	Reason      OrderReason
	RealizedPnL float64
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position is an open holding in one ticker. While a 2-for-1 sequence is
// active the invariant StopLoss <= AvgCost <= FirstTarget holds.
type Position struct {
	Ticker        string
	Shares        int
	AvgCost       float64
	CurrentPrice  float64
	StopLoss      float64
	FirstTarget   float64
	Breakeven     float64
	FirstHalfSold bool
	EntryATR      float64
	EntryDate     time.Time
}

// CurrentValue returns shares times the last known price.
func (p *Position) CurrentValue() float64 {
	return float64(p.Shares) * p.CurrentPrice
}

// UnrealizedPnLPct returns the open gain or loss as a percentage of average
// cost. Zero when average cost is zero.
func (p *Position) UnrealizedPnLPct() float64 {
	if p.AvgCost == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgCost) / p.AvgCost * 100
}

// CapitalAtRisk returns the value that would be lost if the position were
// stopped out at the current stop, floored at zero.
func (p *Position) CapitalAtRisk() float64 {
	risk := p.CurrentValue() - p.StopLoss*float64(p.Shares)
	if risk < 0 {
		return 0
	}
	return risk
}

// DaysHeld returns the whole days between entry and asOf.
func (p *Position) DaysHeld(asOf time.Time) int {
	if p.EntryDate.IsZero() {
		return 0
	}
	return int(asOf.Sub(p.EntryDate).Hours() / 24)
}

// StopLossHit reports whether price has reached the stop.
func (p *Position) StopLossHit(price float64) bool {
	return p.StopLoss > 0 && price <= p.StopLoss
}

// FirstTargetHit reports whether price has reached the first profit target.
func (p *Position) FirstTargetHit(price float64) bool {
	return p.FirstTarget > 0 && price >= p.FirstTarget
}

// BreakevenHit reports whether price has fallen back to breakeven after the
// first half was sold.
func (p *Position) BreakevenHit(price float64) bool {
	return p.FirstHalfSold && p.Breakeven > 0 && price <= p.Breakeven
}

// ---------------------------------------------------------------------------
// Snapshots and persisted state
// ---------------------------------------------------------------------------

// EquitySnapshot records portfolio valuation on one execution date. The
// ordered snapshot series is the primitive for all performance statistics.
type EquitySnapshot struct {
	Date           time.Time
	Cash           float64
	PositionsValue float64
	TotalValue     float64
	PositionCount  int
}

// PortfolioState is the persistable view of a portfolio at a valuation date.
type PortfolioState struct {
	Name      string
	Date      time.Time
	Cash      float64
	Positions []Position
}

// ---------------------------------------------------------------------------
// Run artifacts
// ---------------------------------------------------------------------------

// Metrics are the performance statistics derived from one simulation's
// equity curve and trade log. MaxDrawdown is the worst decline from a
// running peak as a negative fraction (or 0 for a curve that never falls).
type Metrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	CalmarRatio      float64
	WinRate          float64
	ProfitFactor     float64
	AvgTradePnL      float64 // mean realized PnL per SELL trade
	TradeCount       int
}

// RunSummary identifies one completed simulation and its headline results.
// ID is a UUID assigned when the run starts.
type RunSummary struct {
	ID             string
	Strategy       string
	Policy         string
	PortfolioName  string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	FinalValue     float64
	Metrics        Metrics
	CreatedAt      time.Time
}
