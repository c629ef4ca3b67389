// Package marketdata defines the bar-history source abstraction and the
// in-memory Frame the simulation engine slices per cycle.
package marketdata

import (
	"context"
	"sort"
	"strings"
	"time"

	"moneta/internal/domain"
)

// Source provides daily bar history for a batch of tickers. One History call
// per simulation covers every ticker; callers slice the result per cycle
// instead of refetching.
type Source interface {
	History(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error)
}

// Frame is an immutable in-memory bar history, sorted by date per ticker.
type Frame struct {
	bars map[string][]domain.Bar
}

// NewFrame copies and sorts the given history into a Frame. Ticker keys are
// upper-cased.
func NewFrame(history map[string][]domain.Bar) *Frame {
	f := &Frame{bars: make(map[string][]domain.Bar, len(history))}
	for ticker, bars := range history {
		sorted := make([]domain.Bar, len(bars))
		copy(sorted, bars)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
		f.bars[strings.ToUpper(ticker)] = sorted
	}
	return f
}

// Tickers returns the frame's tickers in sorted order.
func (f *Frame) Tickers() []string {
	out := make([]string, 0, len(f.bars))
	for ticker := range f.bars {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// UpTo returns each ticker's bars dated on or before the cutoff. The
// returned slices share the frame's backing arrays and must not be mutated.
// Tickers with no bars in range are omitted.
func (f *Frame) UpTo(cutoff time.Time) map[string][]domain.Bar {
	out := make(map[string][]domain.Bar, len(f.bars))
	for ticker, bars := range f.bars {
		n := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(cutoff) })
		if n == 0 {
			continue
		}
		out[ticker] = bars[:n]
	}
	return out
}

// CloseOn returns each ticker's closing price for the bar dated exactly on
// the given day. Tickers without a bar that day are omitted.
func (f *Frame) CloseOn(date time.Time) map[string]float64 {
	out := make(map[string]float64, len(f.bars))
	for ticker, bars := range f.bars {
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(date) })
		if i < len(bars) && sameDay(bars[i].Date, date) {
			out[ticker] = bars[i].Close
		}
	}
	return out
}

// Span returns the first and last bar dates across all tickers, or zero
// times for an empty frame.
func (f *Frame) Span() (first, last time.Time) {
	for _, bars := range f.bars {
		if len(bars) == 0 {
			continue
		}
		if first.IsZero() || bars[0].Date.Before(first) {
			first = bars[0].Date
		}
		if bars[len(bars)-1].Date.After(last) {
			last = bars[len(bars)-1].Date
		}
	}
	return first, last
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
