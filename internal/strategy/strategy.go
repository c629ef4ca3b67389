// Package strategy defines the strategy function contract for weekly signal
// generation and provides a Registry of named strategies with their declared
// default parameters.
package strategy

import (
	"fmt"
	"sort"

	"moneta/internal/domain"
)

// Params carries named numeric parameters for a strategy function.
type Params map[string]float64

// Get returns the named parameter, or fallback when it is absent.
func (p Params) Get(name string, fallback float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return fallback
}

// Merge returns a copy of defaults with overrides applied on top.
func (p Params) Merge(overrides Params) Params {
	merged := make(Params, len(p)+len(overrides))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Func applies a strategy to one ticker's date-ascending bar series and
// returns one numeric signal per bar: 1 (buy), -1 (sell), 0 (hold), or
// math.NaN() while the strategy's lookback window is still warming up.
type Func func(bars []domain.Bar, params Params) ([]float64, error)

// Entry pairs a registered strategy function with its name and declared
// default parameters.
type Entry struct {
	Name     string
	Defaults Params
	Fn       Func
}

// Registry holds a named collection of strategy functions for lookup and
// enumeration. Entries are registered explicitly at startup; there is no
// runtime discovery.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a strategy function with its default parameters.
func (r *Registry) Register(name string, defaults Params, fn Func) {
	r.entries[name] = Entry{Name: name, Defaults: defaults, Fn: fn}
}

// Get retrieves a strategy entry by name.
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a Registry populated with the builtin strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("moving_average_crossover", Params{"short_window": 3, "long_window": 5}, MovingAverageCrossover)
	r.Register("rsi_strategy", Params{"period": 14, "overbought": 70, "oversold": 30}, RSIReversal)
	r.Register("breakout_strategy", Params{"lookback": 20}, Breakout)
	return r
}

// closes extracts the close series from a bar slice.
func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// checkLength guards against a strategy emitting a mis-sized signal series.
func checkLength(signals []float64, bars []domain.Bar) error {
	if len(signals) != len(bars) {
		return fmt.Errorf("strategy emitted %d signals for %d bars", len(signals), len(bars))
	}
	return nil
}
