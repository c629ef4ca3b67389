// moneta-gather fetches daily bars from the Alpaca data API and writes them
// to the Parquet bar store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/config"
	"moneta/internal/marketdata"
	"moneta/internal/store"
	"moneta/internal/util"
)

func main() {
	_ = godotenv.Load()

	tickersFlag := flag.String("tickers", "", "comma-separated tickers to ingest (required)")
	startFlag := flag.String("start", "", "history start date (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "history end date (YYYY-MM-DD, default today)")
	flag.Parse()

	cfgPath := "config/moneta.yaml"
	if p := os.Getenv("MONETA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var tickers []string
	for _, t := range strings.Split(*tickersFlag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tickers = append(tickers, strings.ToUpper(t))
		}
	}
	if len(tickers) == 0 {
		log.Fatal("-tickers is required")
	}

	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end := util.Midnight(time.Now().UTC())
	if *endFlag != "" {
		if end, err = time.Parse("2006-01-02", *endFlag); err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := marketdata.NewAlpacaSource(cfg.Alpaca, logger)
	history, err := source.History(ctx, tickers, start, end)
	if err != nil {
		log.Fatalf("fetching bars: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	total := 0
	for ticker, bars := range history {
		if err := pstore.WriteBars(ctx, bars); err != nil {
			log.Fatalf("writing bars for %s: %v", ticker, err)
		}
		total += len(bars)
	}

	logger.Info("ingest complete", "tickers", len(history), "bars", total)
}
