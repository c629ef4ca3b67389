package backtest

import (
	"math"

	"moneta/internal/domain"
)

const (
	calendarDaysPerYear = 365.25
	tradingDaysPerYear  = 252
)

// ComputeMetrics derives performance statistics from an equity curve and a
// trade log. The first snapshot anchors the starting value; riskFreeRate is
// annualized.
//
// Volatility annualizes the standard deviation of periodic curve returns by
// sqrt(252). Win rate and profit factor consider SELL trades only, with
// realized PnL taken against average cost at sale time.
func ComputeMetrics(snapshots []domain.EquitySnapshot, trades []domain.Trade, riskFreeRate float64) domain.Metrics {
	m := domain.Metrics{TradeCount: len(trades)}
	if len(snapshots) < 2 {
		return m
	}

	first, last := snapshots[0], snapshots[len(snapshots)-1]
	if first.TotalValue > 0 {
		m.TotalReturn = last.TotalValue/first.TotalValue - 1
	}

	years := last.Date.Sub(first.Date).Hours() / 24 / calendarDaysPerYear
	if years > 0 && 1+m.TotalReturn > 0 {
		m.AnnualizedReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
	}

	returns := periodicReturns(snapshots)
	m.Volatility = stddev(returns) * math.Sqrt(tradingDaysPerYear)

	if m.Volatility > 0 {
		m.SharpeRatio = (m.AnnualizedReturn - riskFreeRate) / m.Volatility
	}

	m.MaxDrawdown = maxDrawdown(snapshots)
	if m.MaxDrawdown < 0 {
		m.CalmarRatio = m.AnnualizedReturn / -m.MaxDrawdown
	}

	m.WinRate, m.ProfitFactor, m.AvgTradePnL = tradeStats(trades)
	return m
}

// periodicReturns computes snapshot-over-snapshot simple returns.
func periodicReturns(snapshots []domain.EquitySnapshot) []float64 {
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, snapshots[i].TotalValue/prev-1)
	}
	return returns
}

// stddev is the sample standard deviation; zero below two observations.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// maxDrawdown is the worst decline from the running peak, as a negative
// fraction of that peak (min over (value - peak) / peak).
func maxDrawdown(snapshots []domain.EquitySnapshot) float64 {
	var peak, worst float64
	for _, snap := range snapshots {
		if snap.TotalValue > peak {
			peak = snap.TotalValue
		}
		if peak <= 0 {
			continue
		}
		if dd := (snap.TotalValue - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// tradeStats computes win rate (percent), profit factor, and average
// realized PnL over SELL trades. Profit factor is 0 when there are no
// losing sells to divide by.
func tradeStats(trades []domain.Trade) (winRate, profitFactor, avgPnL float64) {
	var sells, wins int
	var grossProfit, grossLoss float64

	for _, t := range trades {
		if t.Action != domain.ActionSell {
			continue
		}
		sells++
		switch {
		case t.RealizedPnL > 0:
			wins++
			grossProfit += t.RealizedPnL
		case t.RealizedPnL < 0:
			grossLoss += -t.RealizedPnL
		}
	}

	if sells > 0 {
		winRate = float64(wins) / float64(sells) * 100
		avgPnL = (grossProfit - grossLoss) / float64(sells)
	}
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}
	return winRate, profitFactor, avgPnL
}
