// Package indicator implements the rolling-window computations used by the
// builtin strategies and the risk manager: simple moving averages, RSI,
// rolling extrema, and Average True Range.
//
// All series functions return one value per input bar, with math.NaN() for
// positions where the window is not yet filled.
package indicator

import (
	"math"

	"moneta/internal/domain"
)

// SMA returns the simple moving average of values over the given window.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 || len(values) < window {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RSI returns the Relative Strength Index of closes over the given period,
// using simple moving averages of gains and losses.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := SMA(gains[1:], period)
	avgLoss := SMA(losses[1:], period)
	for i := range avgGain {
		if math.IsNaN(avgGain[i]) {
			continue
		}
		if avgLoss[i] == 0 {
			out[i+1] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i+1] = 100 - 100/(1+rs)
	}
	return out
}

// RollingMax returns, for each position, the maximum of the previous window
// values (the current value excluded), so a breakout can compare the current
// close against prior highs.
func RollingMax(values []float64, window int) []float64 {
	return rollingExtreme(values, window, func(a, b float64) bool { return a > b })
}

// RollingMin returns, for each position, the minimum of the previous window
// values (the current value excluded).
func RollingMin(values []float64, window int) []float64 {
	return rollingExtreme(values, window, func(a, b float64) bool { return a < b })
}

func rollingExtreme(values []float64, window int, better func(a, b float64) bool) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		ext := values[i-window]
		for _, v := range values[i-window+1 : i] {
			if better(v, ext) {
				ext = v
			}
		}
		out[i] = ext
	}
	return out
}

// TrueRange returns the true range of a bar given the previous close:
// max(high-low, |high-prevClose|, |prevClose-low|).
func TrueRange(bar domain.Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	if v := math.Abs(bar.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(prevClose - bar.Low); v > tr {
		tr = v
	}
	return tr
}

// ATR returns the Average True Range over the trailing period of the bar
// series, as the simple mean of the last min(period, available) true ranges.
// It returns 0 when fewer than two bars are available.
func ATR(bars []domain.Bar, period int) float64 {
	if len(bars) < 2 || period <= 0 {
		return 0
	}

	ranges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		ranges = append(ranges, TrueRange(bars[i], bars[i-1].Close))
	}

	n := period
	if n > len(ranges) {
		n = len(ranges)
	}
	tail := ranges[len(ranges)-n:]

	var sum float64
	for _, tr := range tail {
		sum += tr
	}
	return sum / float64(n)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
