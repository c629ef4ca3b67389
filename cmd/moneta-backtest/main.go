// moneta-backtest runs a weekly trading simulation over stored bar history
// and persists the run's trades, equity curve, and summary to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/backtest"
	"moneta/internal/config"
	"moneta/internal/domain"
	"moneta/internal/marketdata"
	"moneta/internal/risk"
	"moneta/internal/store"
	"moneta/internal/strategy"
	"moneta/internal/util"
)

func main() {
	_ = godotenv.Load()

	strategyName := flag.String("strategy", "moving_average_crossover", "strategy name (see -list)")
	policyName := flag.String("policy", "risk_managed", "sizing policy: risk_managed or equal_weight")
	tickersFlag := flag.String("tickers", "", "comma-separated tickers (default: every stored ticker)")
	startFlag := flag.String("start", "", "simulation start date (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "simulation end date (YYYY-MM-DD)")
	sourceFlag := flag.String("source", "store", "bar source: store (parquet) or alpaca")
	resume := flag.Bool("resume", false, "resume the configured portfolio's persisted state")
	list := flag.Bool("list", false, "list registered strategies and exit")
	flag.Parse()

	registry := strategy.DefaultRegistry()
	if *list {
		for _, name := range registry.List() {
			fmt.Println(name)
		}
		return
	}

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

	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endFlag)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	var source marketdata.Source
	switch *sourceFlag {
	case "store":
		source = pstore
	case "alpaca":
		source = marketdata.NewAlpacaSource(cfg.Alpaca, logger)
	default:
		log.Fatalf("unknown -source %q", *sourceFlag)
	}

	var tickers []string
	if *tickersFlag != "" {
		for _, t := range strings.Split(*tickersFlag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tickers = append(tickers, strings.ToUpper(t))
			}
		}
	} else {
		if tickers, err = pstore.ListTickers(ctx); err != nil {
			log.Fatalf("listing stored tickers: %v", err)
		}
	}
	if len(tickers) == 0 {
		log.Fatal("no tickers: pass -tickers or ingest data first")
	}

	var policy risk.Policy
	switch *policyName {
	case "risk_managed":
		if policy, err = risk.NewManager(cfg.Risk, logger); err != nil {
			log.Fatalf("building risk manager: %v", err)
		}
	case "equal_weight":
		policy = risk.NewEqualWeight(cfg.Backtest.CommissionRate)
	default:
		log.Fatalf("unknown -policy %q", *policyName)
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer runs.Close()

	opts := backtest.Options{
		Strategy: *strategyName,
		Policy:   policy,
		Tickers:  tickers,
		Start:    start,
		End:      end,
	}
	if *resume {
		state, err := runs.LoadPortfolio(ctx, cfg.Backtest.PortfolioName)
		switch {
		case errors.Is(err, domain.ErrNoData):
			logger.Warn("no persisted portfolio to resume, starting fresh",
				"portfolio", cfg.Backtest.PortfolioName)
		case err != nil:
			log.Fatalf("loading portfolio: %v", err)
		default:
			opts.InitialState = &state
		}
	}

	eng := backtest.New(cfg, source, registry, logger)
	result, err := eng.Run(ctx, opts)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	if err := runs.SaveRun(ctx, result.Summary()); err != nil {
		log.Fatalf("saving run: %v", err)
	}
	if err := runs.SaveTrades(ctx, result.RunID, result.Trades); err != nil {
		log.Fatalf("saving trades: %v", err)
	}
	if err := runs.SaveSnapshots(ctx, result.RunID, result.Snapshots); err != nil {
		log.Fatalf("saving snapshots: %v", err)
	}
	if err := runs.SavePortfolio(ctx, result.FinalState); err != nil {
		log.Fatalf("saving portfolio: %v", err)
	}

	printReport(result)
}

func printReport(r *backtest.Result) {
	m := r.Metrics
	fmt.Printf("run         %s\n", r.RunID)
	fmt.Printf("strategy    %s (%s)\n", r.Strategy, r.Policy)
	fmt.Printf("period      %s .. %s  (%d cycles, %d skipped)\n",
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Cycles, r.SkippedCycles)
	fmt.Printf("capital     %.2f -> %.2f\n", r.InitialCapital, r.FinalValue)
	fmt.Printf("return      %.2f%% total, %.2f%% annualized\n", m.TotalReturn*100, m.AnnualizedReturn*100)
	fmt.Printf("risk        vol %.2f%%, sharpe %.2f, max drawdown %.2f%%, calmar %.2f\n",
		m.Volatility*100, m.SharpeRatio, m.MaxDrawdown*100, m.CalmarRatio)

	fmt.Printf("trades      %d (win rate %.1f%%, profit factor %.2f, avg pnl %.2f)\n",
		m.TradeCount, m.WinRate, m.ProfitFactor, m.AvgTradePnL)
}
