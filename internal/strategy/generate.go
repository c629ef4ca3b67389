package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"moneta/internal/domain"
)

// Generator turns per-ticker bar histories into categorical signals by
// applying a strategy function and reading its last valid value.
type Generator struct {
	log *slog.Logger
}

// NewGenerator creates a Generator that logs per-ticker failures to the
// given logger.
func NewGenerator(log *slog.Logger) *Generator {
	return &Generator{log: log}
}

// Generate applies fn to each ticker's history and returns one signal label
// per ticker.
//
// The history must not extend past analysisDate: any bar dated after it is a
// caller bug that would leak future information into a backtest, and the
// whole call fails with domain.ErrLookahead. Per-ticker strategy failures
// are isolated — the ticker defaults to HOLD and the batch continues.
func (g *Generator) Generate(
	fn Func,
	history map[string][]domain.Bar,
	params Params,
	analysisDate time.Time,
) (map[string]domain.SignalLabel, error) {
	for ticker, bars := range history {
		for i := range bars {
			if bars[i].Date.After(analysisDate) {
				return nil, fmt.Errorf("%w: %s has bar at %s past %s",
					domain.ErrLookahead, ticker,
					bars[i].Date.Format("2006-01-02"), analysisDate.Format("2006-01-02"))
			}
		}
	}

	signals := make(map[string]domain.SignalLabel, len(history))
	for ticker, bars := range history {
		signals[ticker] = g.signalFor(fn, ticker, bars, params)
	}
	return signals, nil
}

// signalFor computes the label for one ticker, defaulting to HOLD on any
// strategy failure or when no valid signal value exists.
func (g *Generator) signalFor(fn Func, ticker string, bars []domain.Bar, params Params) domain.SignalLabel {
	if len(bars) == 0 {
		return domain.SignalHold
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	values, err := fn(sorted, params)
	if err == nil {
		err = checkLength(values, sorted)
	}
	if err != nil {
		g.log.Warn("strategy failed, defaulting to HOLD", "ticker", ticker, "err", err)
		return domain.SignalHold
	}

	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return domain.LabelFromValue(int(values[i]))
		}
	}
	return domain.SignalHold
}
