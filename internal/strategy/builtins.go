package strategy

import (
	"fmt"
	"math"

	"moneta/internal/domain"
	"moneta/internal/indicator"
)

// MovingAverageCrossover emits a buy signal while the short moving average is
// above the long one, and a sell signal while it is below. Parameters:
// short_window (3), long_window (5).
func MovingAverageCrossover(bars []domain.Bar, params Params) ([]float64, error) {
	short := int(params.Get("short_window", 3))
	long := int(params.Get("long_window", 5))
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("moving_average_crossover: invalid windows short=%d long=%d", short, long)
	}

	cs := closes(bars)
	maShort := indicator.SMA(cs, short)
	maLong := indicator.SMA(cs, long)

	signals := make([]float64, len(bars))
	for i := range bars {
		switch {
		case math.IsNaN(maShort[i]) || math.IsNaN(maLong[i]):
			signals[i] = math.NaN()
		case maShort[i] > maLong[i]:
			signals[i] = 1
		case maShort[i] < maLong[i]:
			signals[i] = -1
		default:
			signals[i] = 0
		}
	}
	return signals, nil
}

// RSIReversal buys oversold and sells overbought conditions. Parameters:
// period (14), overbought (70), oversold (30).
func RSIReversal(bars []domain.Bar, params Params) ([]float64, error) {
	period := int(params.Get("period", 14))
	overbought := params.Get("overbought", 70)
	oversold := params.Get("oversold", 30)
	if period <= 0 {
		return nil, fmt.Errorf("rsi_strategy: invalid period %d", period)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("rsi_strategy: oversold %v must be below overbought %v", oversold, overbought)
	}

	rsi := indicator.RSI(closes(bars), period)

	signals := make([]float64, len(bars))
	for i := range bars {
		switch {
		case math.IsNaN(rsi[i]):
			signals[i] = math.NaN()
		case rsi[i] < oversold:
			signals[i] = 1
		case rsi[i] > overbought:
			signals[i] = -1
		default:
			signals[i] = 0
		}
	}
	return signals, nil
}

// Breakout buys a close above the prior lookback high and sells a close
// below the prior lookback low. Parameters: lookback (20).
func Breakout(bars []domain.Bar, params Params) ([]float64, error) {
	lookback := int(params.Get("lookback", 20))
	if lookback <= 0 {
		return nil, fmt.Errorf("breakout_strategy: invalid lookback %d", lookback)
	}

	cs := closes(bars)
	highs := indicator.RollingMax(cs, lookback)
	lows := indicator.RollingMin(cs, lookback)

	signals := make([]float64, len(bars))
	for i := range bars {
		switch {
		case math.IsNaN(highs[i]) || math.IsNaN(lows[i]):
			signals[i] = math.NaN()
		case cs[i] > highs[i]:
			signals[i] = 1
		case cs[i] < lows[i]:
			signals[i] = -1
		default:
			signals[i] = 0
		}
	}
	return signals, nil
}
