package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"moneta/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk, one file per
// ticker and year. It also satisfies marketdata.Source so simulations can
// run straight off stored history.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Ticker string  `parquet:"ticker"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

// WriteBars writes bars to Parquet files grouped by ticker and year:
//
//	<DataDir>/daily/<TICKER>/<YYYY>.parquet
//
// Existing records are merged in, deduplicated by (ticker, date) with the
// incoming record winning.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ticker := strings.ToUpper(b.Ticker)
		k := key{ticker: ticker, year: b.Date.Year()}
		groups[k] = append(groups[k], BarRecord{
			Ticker: ticker,
			Date:   b.Date.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.ticker, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bars for one ticker within [start, end], in date order.
func (s *ParquetStore) ReadBars(_ context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	ticker = strings.ToUpper(ticker)

	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(ticker, year))
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			date := time.UnixMilli(r.Date).UTC()
			if date.Before(start) || date.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Ticker: ticker,
				Date:   date,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return bars, nil
}

// ListTickers lists all tickers that have stored bar data.
func (s *ParquetStore) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// History batches ReadBars across tickers, satisfying marketdata.Source.
// Tickers with no stored bars in range are omitted; an entirely empty result
// reports domain.ErrNoData.
func (s *ParquetStore) History(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	history := make(map[string][]domain.Bar, len(tickers))
	for _, ticker := range tickers {
		bars, err := s.ReadBars(ctx, ticker, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ticker, err)
		}
		if len(bars) == 0 {
			continue
		}
		history[strings.ToUpper(ticker)] = bars
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no stored bars for %d tickers in %s..%s",
			domain.ErrNoData, len(tickers), start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return history, nil
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/daily/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) barPath(ticker string, year int) string {
	return filepath.Join(s.DataDir, "daily", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (ticker, date), preferring new
// records over existing ones. Results are sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		ticker string
		date   int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Date}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
