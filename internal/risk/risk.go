// Package risk converts raw strategy signals into executable orders. Two
// sizing policies are provided: the ATR-based Manager with the full exit
// discipline, and the naive EqualWeight baseline.
package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"moneta/internal/config"
	"moneta/internal/domain"
)

// PortfolioView is the read-only ledger state a sizing policy consumes.
// *portfolio.Portfolio satisfies it.
type PortfolioView interface {
	Cash() float64
	TotalValue() float64
	PositionCount() int
	Position(ticker string) *domain.Position
	Positions() []domain.Position
}

// Rejection records why a signal did not become an order. Reason is one of
// the Reject* constants; Detail carries the numbers behind the decision.
type Rejection struct {
	Ticker string
	Reason string
	Detail string
}

// Rejection reasons.
const (
	RejectMaxPositions   = "max_positions_reached"
	RejectZeroStop       = "zero_stop_distance"
	RejectBelowOneShare  = "position_below_one_share"
	RejectCashBuffer     = "exceeds_cash_buffer"
	RejectPositionWeight = "exceeds_max_position_weight"
	RejectMissingQuote   = "missing_quote"
	RejectRankedOut      = "ranked_out_by_atr"
	RejectAlreadyHeld    = "already_held"
	RejectNoCash         = "insufficient_cash"
	RejectLedger         = "rejected_by_ledger"
)

// Policy turns one cycle's signals into orders. Exits always precede entries
// in the returned slice. Implementations must be deterministic for identical
// inputs.
type Policy interface {
	Name() string
	Validate(view PortfolioView, signals map[string]domain.SignalLabel, quotes map[string]domain.Quote) ([]domain.Order, []Rejection)
}

// ---------------------------------------------------------------------------
// ATR risk-managed policy
// ---------------------------------------------------------------------------

// Manager sizes entries off portfolio risk and ATR stop distance, and runs
// the exit priority chain (stop loss, first target, breakeven, strategy
// signal) over every open position.
type Manager struct {
	cfg config.RiskConfig
	log *slog.Logger
}

// NewManager builds a Manager. The risk parameters are validated here so a
// bad hand-built config fails before the first cycle.
func NewManager(cfg config.RiskConfig, log *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, log: log}, nil
}

// Name identifies the policy in logs and persisted run summaries.
func (m *Manager) Name() string { return "risk_managed" }

// Validate evaluates exits over held positions first, then sizes and ranks
// entries for BUY signals.
func (m *Manager) Validate(view PortfolioView, signals map[string]domain.SignalLabel, quotes map[string]domain.Quote) ([]domain.Order, []Rejection) {
	orders, rejections := m.exits(view, signals, quotes)
	entries, entryRejections := m.entries(view, signals, quotes)

	orders = append(orders, entries...)
	rejections = append(rejections, entryRejections...)
	for _, rej := range rejections {
		m.log.Debug("signal rejected", "ticker", rej.Ticker, "reason", rej.Reason, "detail", rej.Detail)
	}
	return orders, rejections
}

// exits walks open positions in ticker order and applies the exit rules.
// Rules are checked in priority order and the first match wins; at most one
// exit order per ticker per cycle.
func (m *Manager) exits(view PortfolioView, signals map[string]domain.SignalLabel, quotes map[string]domain.Quote) ([]domain.Order, []Rejection) {
	var orders []domain.Order
	var rejections []Rejection

	for _, pos := range view.Positions() {
		quote, ok := quotes[pos.Ticker]
		if !ok || quote.Price <= 0 {
			rejections = append(rejections, Rejection{
				Ticker: pos.Ticker,
				Reason: RejectMissingQuote,
				Detail: "held position has no usable quote this cycle",
			})
			continue
		}
		price := quote.Price

		switch {
		case pos.StopLossHit(price):
			orders = append(orders, sellAll(pos, price, domain.ReasonStopLoss))

		case pos.FirstTargetHit(price) && !pos.FirstHalfSold && pos.Shares/2 >= 1:
			orders = append(orders, domain.Order{
				Ticker:   pos.Ticker,
				Action:   domain.ActionSell,
				Quantity: pos.Shares / 2,
				Price:    price,
				Reason:   domain.ReasonFirstTarget,
			})

		case pos.BreakevenHit(price):
			orders = append(orders, sellAll(pos, price, domain.ReasonBreakeven))

		case signals[pos.Ticker] == domain.SignalSell && !pos.FirstHalfSold:
			// Once the first half is sold the runner exits only through its
			// breakeven stop, not through strategy signals.
			orders = append(orders, sellAll(pos, price, domain.ReasonStrategySignal))
		}
	}
	return orders, rejections
}

// entryCandidate is a sized BUY that survived every per-ticker check and is
// awaiting the ATR ranking.
type entryCandidate struct {
	order domain.Order
}

// entries sizes every BUY signal, then ranks survivors by ascending entry
// ATR (ticker as tiebreak) into the available position slots.
func (m *Manager) entries(view PortfolioView, signals map[string]domain.SignalLabel, quotes map[string]domain.Quote) ([]domain.Order, []Rejection) {
	var rejections []Rejection

	tickers := make([]string, 0, len(signals))
	for ticker, label := range signals {
		if label == domain.SignalBuy {
			tickers = append(tickers, strings.ToUpper(ticker))
		}
	}
	sort.Strings(tickers)

	slots := m.cfg.MaxPositions - view.PositionCount()

	var candidates []entryCandidate
	for _, ticker := range tickers {
		if view.Position(ticker) != nil {
			rejections = append(rejections, Rejection{Ticker: ticker, Reason: RejectAlreadyHeld})
			continue
		}
		if slots <= 0 {
			rejections = append(rejections, Rejection{
				Ticker: ticker,
				Reason: RejectMaxPositions,
				Detail: fmt.Sprintf("%d positions open, limit %d", view.PositionCount(), m.cfg.MaxPositions),
			})
			continue
		}

		ord, rej := m.size(view, ticker, quotes)
		if rej != nil {
			rejections = append(rejections, *rej)
			continue
		}
		candidates = append(candidates, entryCandidate{order: ord})
	}

	// Lower ATR wins a slot; ties break on ticker so the outcome never
	// depends on map iteration order.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].order, candidates[j].order
		if a.EntryATR != b.EntryATR {
			return a.EntryATR < b.EntryATR
		}
		return a.Ticker < b.Ticker
	})

	// Accepted entries draw down a shared spendable balance so a batch of
	// individually affordable buys cannot jointly overspend the cash buffer.
	spendable := view.Cash() * (1 - m.cfg.CashBufferPct)

	var orders []domain.Order
	for i, c := range candidates {
		if len(orders) >= slots {
			rejections = append(rejections, Rejection{
				Ticker: c.order.Ticker,
				Reason: RejectRankedOut,
				Detail: fmt.Sprintf("atr %.4f ranked %d of %d for %d slots", c.order.EntryATR, i+1, len(candidates), slots),
			})
			continue
		}
		cost := float64(c.order.Quantity) * c.order.Price
		if cost > spendable {
			rejections = append(rejections, Rejection{
				Ticker: c.order.Ticker,
				Reason: RejectCashBuffer,
				Detail: fmt.Sprintf("cost %.2f exceeds spendable %.2f after higher-ranked entries", cost, spendable),
			})
			continue
		}
		spendable -= cost
		orders = append(orders, c.order)
	}
	return orders, rejections
}

// size computes the share count and protective levels for one BUY signal,
// or returns the rejection that stopped it.
func (m *Manager) size(view PortfolioView, ticker string, quotes map[string]domain.Quote) (domain.Order, *Rejection) {
	quote, ok := quotes[ticker]
	if !ok || quote.Price <= 0 {
		return domain.Order{}, &Rejection{Ticker: ticker, Reason: RejectMissingQuote}
	}

	riskAmount := view.TotalValue() * m.cfg.RiskPctPerTrade
	stopDistance := quote.ATR * m.cfg.ATRMultiplier
	if stopDistance <= 0 {
		return domain.Order{}, &Rejection{
			Ticker: ticker,
			Reason: RejectZeroStop,
			Detail: fmt.Sprintf("atr %.4f gives no stop distance", quote.ATR),
		}
	}

	shares := int(riskAmount / stopDistance)
	if shares < 1 {
		return domain.Order{}, &Rejection{
			Ticker: ticker,
			Reason: RejectBelowOneShare,
			Detail: fmt.Sprintf("risk %.2f over stop distance %.2f sizes below one share", riskAmount, stopDistance),
		}
	}

	cost := float64(shares) * quote.Price
	spendable := view.Cash() * (1 - m.cfg.CashBufferPct)
	if cost > spendable {
		return domain.Order{}, &Rejection{
			Ticker: ticker,
			Reason: RejectCashBuffer,
			Detail: fmt.Sprintf("cost %.2f exceeds spendable %.2f", cost, spendable),
		}
	}

	weight := cost / view.TotalValue() * 100
	if weight > m.cfg.MaxSinglePositionPct {
		return domain.Order{}, &Rejection{
			Ticker: ticker,
			Reason: RejectPositionWeight,
			Detail: fmt.Sprintf("weight %.1f%% exceeds limit %.1f%%", weight, m.cfg.MaxSinglePositionPct),
		}
	}

	return domain.Order{
		Ticker:      ticker,
		Action:      domain.ActionBuy,
		Quantity:    shares,
		Price:       quote.Price,
		StopLoss:    quote.Price - stopDistance,
		FirstTarget: quote.Price + m.cfg.ProfitRatio*stopDistance,
		Breakeven:   quote.Price,
		EntryATR:    quote.ATR,
		Reason:      domain.ReasonEntry,
	}, nil
}

func sellAll(pos domain.Position, price float64, reason domain.OrderReason) domain.Order {
	return domain.Order{
		Ticker:   pos.Ticker,
		Action:   domain.ActionSell,
		Quantity: pos.Shares,
		Price:    price,
		Reason:   reason,
	}
}

// ---------------------------------------------------------------------------
// Equal-weight baseline policy
// ---------------------------------------------------------------------------

// EqualWeight is the naive baseline: SELL signals liquidate in full, BUY
// signals split total value evenly with no stops and no risk limits.
type EqualWeight struct {
	commissionRate float64
}

// NewEqualWeight builds the baseline policy. The commission rate is needed
// up front so sizing does not emit orders the ledger would bounce.
func NewEqualWeight(commissionRate float64) *EqualWeight {
	return &EqualWeight{commissionRate: commissionRate}
}

// Name identifies the policy in logs and persisted run summaries.
func (e *EqualWeight) Name() string { return "equal_weight" }

// Validate liquidates SELL-signaled positions and splits total value across
// BUY signals.
func (e *EqualWeight) Validate(view PortfolioView, signals map[string]domain.SignalLabel, quotes map[string]domain.Quote) ([]domain.Order, []Rejection) {
	var orders []domain.Order
	var rejections []Rejection

	for _, pos := range view.Positions() {
		if signals[pos.Ticker] != domain.SignalSell {
			continue
		}
		quote, ok := quotes[pos.Ticker]
		if !ok || quote.Price <= 0 {
			rejections = append(rejections, Rejection{Ticker: pos.Ticker, Reason: RejectMissingQuote})
			continue
		}
		orders = append(orders, sellAll(pos, quote.Price, domain.ReasonStrategySignal))
	}

	var buys []string
	for ticker, label := range signals {
		if label == domain.SignalBuy {
			buys = append(buys, strings.ToUpper(ticker))
		}
	}
	sort.Strings(buys)
	if len(buys) == 0 {
		return orders, rejections
	}

	// The slice divides by the full BUY count, held tickers included, so a
	// repeated signal never concentrates the book.
	slice := view.TotalValue() / float64(len(buys))
	remaining := view.Cash()

	for _, ticker := range buys {
		if view.Position(ticker) != nil {
			rejections = append(rejections, Rejection{Ticker: ticker, Reason: RejectAlreadyHeld})
			continue
		}
		quote, ok := quotes[ticker]
		if !ok || quote.Price <= 0 {
			rejections = append(rejections, Rejection{Ticker: ticker, Reason: RejectMissingQuote})
			continue
		}

		shares := int(slice / quote.Price)
		if shares < 1 {
			rejections = append(rejections, Rejection{Ticker: ticker, Reason: RejectBelowOneShare})
			continue
		}
		cost := float64(shares) * quote.Price * (1 + e.commissionRate)
		if cost > remaining {
			rejections = append(rejections, Rejection{
				Ticker: ticker,
				Reason: RejectNoCash,
				Detail: fmt.Sprintf("cost %.2f exceeds remaining cash %.2f", cost, remaining),
			})
			continue
		}
		remaining -= cost

		orders = append(orders, domain.Order{
			Ticker:   ticker,
			Action:   domain.ActionBuy,
			Quantity: shares,
			Price:    quote.Price,
			Reason:   domain.ReasonEntry,
		})
	}
	return orders, rejections
}
