// Package backtest runs the weekly simulation loop: Friday analysis over
// history up to the analysis date, Monday execution at that day's closing
// prices, equity snapshots after every cycle.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"moneta/internal/config"
	"moneta/internal/domain"
	"moneta/internal/indicator"
	"moneta/internal/marketdata"
	"moneta/internal/portfolio"
	"moneta/internal/risk"
	"moneta/internal/strategy"
	"moneta/internal/util"
)

// warmupCalendarDays of extra history are fetched before the start date so
// indicator lookbacks are warm by the first analysis.
const warmupCalendarDays = 90

// Options selects what one simulation runs.
type Options struct {
	Strategy string          // registry name
	Params   strategy.Params // overrides on the strategy's defaults
	Policy   risk.Policy
	Tickers  []string
	Start    time.Time
	End      time.Time

	// InitialState resumes a persisted portfolio instead of starting from
	// the configured initial capital.
	InitialState *domain.PortfolioState
}

// Result is everything one simulation produced.
type Result struct {
	RunID          string
	Strategy       string
	Policy         string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	FinalValue     float64
	Snapshots      []domain.EquitySnapshot
	Trades         []domain.Trade
	Rejections     []risk.Rejection
	Metrics        domain.Metrics
	FinalState     domain.PortfolioState
	Cycles         int
	SkippedCycles  int
}

// Summary flattens the result into a persistable run record.
func (r *Result) Summary() domain.RunSummary {
	return domain.RunSummary{
		ID:             r.RunID,
		Strategy:       r.Strategy,
		Policy:         r.Policy,
		PortfolioName:  r.FinalState.Name,
		Start:          r.Start,
		End:            r.End,
		InitialCapital: r.InitialCapital,
		FinalValue:     r.FinalValue,
		Metrics:        r.Metrics,
		CreatedAt:      time.Now().UTC(),
	}
}

// Engine drives weekly simulations over a bar history source.
type Engine struct {
	cfg      *config.Config
	source   marketdata.Source
	registry *strategy.Registry
	gen      *strategy.Generator
	log      *slog.Logger
}

// New creates an Engine.
func New(cfg *config.Config, source marketdata.Source, registry *strategy.Registry, log *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		source:   source,
		registry: registry,
		gen:      strategy.NewGenerator(log),
		log:      log,
	}
}

// Run executes the weekly loop from start to end. A failed cycle is logged
// and skipped; portfolio state carries into the next week unchanged. The run
// fails outright only when its inputs do (unknown strategy, no history).
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	entry, ok := e.registry.Get(opts.Strategy)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", opts.Strategy, e.registry.List())
	}
	params := entry.Defaults.Merge(opts.Params)

	if !opts.Start.Before(opts.End) {
		return nil, fmt.Errorf("start %s is not before end %s",
			opts.Start.Format("2006-01-02"), opts.End.Format("2006-01-02"))
	}

	start := util.Midnight(opts.Start)
	end := util.Midnight(opts.End)

	history, err := e.source.History(ctx, opts.Tickers, start.AddDate(0, 0, -warmupCalendarDays), end)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	frame := marketdata.NewFrame(history)

	pf := portfolio.New(e.cfg.Backtest.PortfolioName, start, e.cfg.Backtest.InitialCapital, e.log)
	if opts.InitialState != nil {
		pf = portfolio.FromState(*opts.InitialState, e.log)
	}

	result := &Result{
		RunID:          uuid.NewString(),
		Strategy:       entry.Name,
		Policy:         opts.Policy.Name(),
		Start:          start,
		End:            end,
		InitialCapital: pf.TotalValue(),
		Snapshots:      []domain.EquitySnapshot{pf.Snapshot(start)},
	}

	e.log.Info("run starting",
		"run_id", result.RunID, "strategy", entry.Name, "policy", result.Policy,
		"tickers", len(opts.Tickers),
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

	cursor := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		analysis := util.NextWeekdayOnOrAfter(cursor, time.Friday)
		execution := util.NextWeekdayAfter(analysis, time.Monday)
		if execution.After(end) {
			break
		}

		result.Cycles++
		if err := e.cycle(pf, frame, entry.Fn, params, opts.Policy, analysis, execution, result); err != nil {
			result.SkippedCycles++
			e.log.Error("cycle failed, skipping week",
				"analysis", analysis.Format("2006-01-02"),
				"execution", execution.Format("2006-01-02"), "err", err)
		}

		cursor = analysis.AddDate(0, 0, 1)
	}

	result.Trades = pf.Trades()
	result.FinalValue = pf.TotalValue()
	result.FinalState = pf.State()
	result.Metrics = ComputeMetrics(result.Snapshots, result.Trades, e.cfg.Backtest.RiskFreeRate)

	e.log.Info("run finished",
		"run_id", result.RunID,
		"cycles", result.Cycles, "skipped", result.SkippedCycles,
		"trades", len(result.Trades),
		"final_value", result.FinalValue,
		"total_return", result.Metrics.TotalReturn)
	return result, nil
}

// cycle runs one analysis/execution pair. Any error leaves the portfolio as
// it was before the cycle's orders, minus whatever already executed.
func (e *Engine) cycle(
	pf *portfolio.Portfolio,
	frame *marketdata.Frame,
	fn strategy.Func,
	params strategy.Params,
	policy risk.Policy,
	analysis, execution time.Time,
	result *Result,
) error {
	history := frame.UpTo(analysis)
	if len(history) == 0 {
		return fmt.Errorf("analysis %s: %w", analysis.Format("2006-01-02"), domain.ErrNoData)
	}

	signals, err := e.gen.Generate(fn, history, params, analysis)
	if err != nil {
		return fmt.Errorf("generating signals: %w", err)
	}

	prices := frame.CloseOn(execution)
	if len(prices) == 0 {
		return fmt.Errorf("execution %s: %w: no closing prices", execution.Format("2006-01-02"), domain.ErrNoData)
	}

	quotes := e.quotes(history, prices, pf, signals)

	// Reprice the book before sizing so risk sees execution-day values.
	pf.MarkToMarket(execution, prices)

	orders, rejections := policy.Validate(pf, signals, quotes)
	result.Rejections = append(result.Rejections, rejections...)

	// Sells release cash and slots before buys consume them.
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Action == domain.ActionSell && orders[j].Action == domain.ActionBuy
	})

	for _, ord := range orders {
		if _, err := pf.Execute(execution, ord, e.cfg.Backtest.CommissionRate); err != nil {
			// Keep the bounce in the audit trail, not just the log.
			result.Rejections = append(result.Rejections, risk.Rejection{
				Ticker: ord.Ticker,
				Reason: risk.RejectLedger,
				Detail: err.Error(),
			})
			e.log.Warn("order rejected by ledger",
				"ticker", ord.Ticker, "action", ord.Action, "qty", ord.Quantity, "err", err)
		}
	}

	result.Snapshots = append(result.Snapshots, pf.Snapshot(execution))
	return nil
}

// quotes assembles the per-ticker price and ATR inputs for one cycle. Every
// signaled or held ticker with an execution-day price gets a quote; ATR is
// computed over history up to the analysis date.
func (e *Engine) quotes(
	history map[string][]domain.Bar,
	prices map[string]float64,
	pf *portfolio.Portfolio,
	signals map[string]domain.SignalLabel,
) map[string]domain.Quote {
	quotes := make(map[string]domain.Quote, len(signals))

	add := func(ticker string) {
		if _, done := quotes[ticker]; done {
			return
		}
		price, ok := prices[ticker]
		if !ok {
			return
		}
		quotes[ticker] = domain.Quote{
			Price: price,
			ATR:   indicator.ATR(history[ticker], e.cfg.Risk.ATRPeriod),
		}
	}

	for ticker := range signals {
		add(ticker)
	}
	for _, pos := range pf.Positions() {
		add(pos.Ticker)
	}
	return quotes
}
