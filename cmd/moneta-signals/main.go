// moneta-signals prints the weekly report: what each strategy flags for the
// most recent analysis Friday, and the orders the risk manager would place
// against the persisted portfolio, using stored bar history only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/config"
	"moneta/internal/domain"
	"moneta/internal/indicator"
	"moneta/internal/marketdata"
	"moneta/internal/portfolio"
	"moneta/internal/risk"
	"moneta/internal/store"
	"moneta/internal/strategy"
	"moneta/internal/util"
)

// historyLookbackDays of bars feed the indicators behind each signal.
const historyLookbackDays = 90

func main() {
	_ = godotenv.Load()

	strategyFlag := flag.String("strategy", "", "report a single strategy (default: all registered)")
	tickersFlag := flag.String("tickers", "", "comma-separated tickers (default: every stored ticker)")
	dateFlag := flag.String("date", "", "analysis date override (YYYY-MM-DD, default: last Friday)")
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

	analysis := lastFriday(util.Midnight(time.Now().UTC()))
	if *dateFlag != "" {
		if analysis, err = time.Parse("2006-01-02", *dateFlag); err != nil {
			log.Fatalf("invalid -date: %v", err)
		}
	}

	ctx := context.Background()
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer runs.Close()

	pf := portfolio.New(cfg.Backtest.PortfolioName, analysis, cfg.Backtest.InitialCapital, logger)
	state, err := runs.LoadPortfolio(ctx, cfg.Backtest.PortfolioName)
	switch {
	case errors.Is(err, domain.ErrNoData):
		logger.Warn("no persisted portfolio, reporting against a fresh book",
			"portfolio", cfg.Backtest.PortfolioName)
	case err != nil:
		log.Fatalf("loading portfolio: %v", err)
	default:
		pf = portfolio.FromState(state, logger)
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
	// Held tickers get history too so their exit rules can be evaluated.
	for _, pos := range pf.Positions() {
		tickers = append(tickers, pos.Ticker)
	}
	if len(tickers) == 0 {
		log.Fatal("no tickers: pass -tickers or ingest data first")
	}

	history, err := pstore.History(ctx, tickers, analysis.AddDate(0, 0, -historyLookbackDays), analysis)
	if err != nil {
		log.Fatalf("loading history: %v", err)
	}
	frame := marketdata.NewFrame(history)
	sliced := frame.UpTo(analysis)

	quotes, prices := analysisQuotes(sliced, cfg.Risk.ATRPeriod)
	pf.MarkToMarket(analysis, prices)

	manager, err := risk.NewManager(cfg.Risk, logger)
	if err != nil {
		log.Fatalf("building risk manager: %v", err)
	}

	registry := strategy.DefaultRegistry()
	names := registry.List()
	if *strategyFlag != "" {
		if _, ok := registry.Get(*strategyFlag); !ok {
			log.Fatalf("unknown strategy %q (have %v)", *strategyFlag, names)
		}
		names = []string{*strategyFlag}
	}

	gen := strategy.NewGenerator(logger)
	fmt.Printf("signals for week of %s\n", analysis.Format("2006-01-02"))
	fmt.Printf("portfolio %s: cash %.2f, %d positions, total %.2f\n",
		pf.Name(), pf.Cash(), pf.PositionCount(), pf.TotalValue())

	for _, name := range names {
		entry, _ := registry.Get(name)
		signals, err := gen.Generate(entry.Fn, sliced, entry.Defaults, analysis)
		if err != nil {
			log.Fatalf("generating %s signals: %v", name, err)
		}
		printSignals(name, signals, sliced, cfg.Risk.ATRPeriod)

		orders, rejections := manager.Validate(pf, signals, quotes)
		printOrders(orders, rejections)
	}
}

// lastFriday walks back from d to the nearest Friday, d included.
func lastFriday(d time.Time) time.Time {
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// analysisQuotes builds the per-ticker sizing inputs from each ticker's most
// recent bar: last close as the price, ATR over the sliced history.
func analysisQuotes(history map[string][]domain.Bar, atrPeriod int) (map[string]domain.Quote, map[string]float64) {
	quotes := make(map[string]domain.Quote, len(history))
	prices := make(map[string]float64, len(history))

	for ticker, bars := range history {
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1].Close
		quotes[ticker] = domain.Quote{Price: last, ATR: indicator.ATR(bars, atrPeriod)}
		prices[ticker] = last
	}
	return quotes, prices
}

// printSignals lists one strategy's BUY and SELL calls with the last close
// and current ATR. HOLDs are omitted.
func printSignals(name string, signals map[string]domain.SignalLabel, history map[string][]domain.Bar, atrPeriod int) {
	fmt.Printf("\n%s\n", name)

	tickers := make([]string, 0, len(signals))
	for ticker := range signals {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	actionable := 0
	for _, ticker := range tickers {
		label := signals[ticker]
		if label == domain.SignalHold {
			continue
		}
		actionable++

		bars := history[ticker]
		last := bars[len(bars)-1]
		fmt.Printf("  %-6s %-4s close %8.2f  atr %6.2f\n",
			ticker, label, last.Close, indicator.ATR(bars, atrPeriod))
	}
	if actionable == 0 {
		fmt.Println("  (no actionable signals)")
	}
}

// printOrders lists what the risk manager would place against the current
// book, and why the rest of the signals were turned away.
func printOrders(orders []domain.Order, rejections []risk.Rejection) {
	if len(orders) == 0 && len(rejections) == 0 {
		return
	}

	if len(orders) > 0 {
		fmt.Println("  orders:")
		for _, ord := range orders {
			line := fmt.Sprintf("    %-4s %-6s %6d @ %8.2f", ord.Action, ord.Ticker, ord.Quantity, ord.Price)
			if ord.Action == domain.ActionBuy {
				line += fmt.Sprintf("  stop %8.2f  target %8.2f", ord.StopLoss, ord.FirstTarget)
			}
			fmt.Printf("%s  (%s)\n", line, ord.Reason)
		}
	}
	if len(rejections) > 0 {
		fmt.Println("  rejected:")
		for _, rej := range rejections {
			if rej.Detail != "" {
				fmt.Printf("    %-6s %s: %s\n", rej.Ticker, rej.Reason, rej.Detail)
				continue
			}
			fmt.Printf("    %-6s %s\n", rej.Ticker, rej.Reason)
		}
	}
}
