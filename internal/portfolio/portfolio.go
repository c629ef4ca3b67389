// Package portfolio owns the trading ledger: cash, open positions, trade
// history, and valuation. The ledger is mutated only through Execute, and
// the total-value invariant is recomputed after every transition.
package portfolio

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"moneta/internal/domain"
)

// Portfolio is a single-account ledger. Exactly one Portfolio is mutated per
// simulation run; there is no concurrent mutation path.
type Portfolio struct {
	name       string
	date       time.Time
	cash       float64
	totalValue float64
	positions  map[string]*domain.Position
	trades     []domain.Trade
	log        *slog.Logger
}

// New creates a Portfolio holding only cash.
func New(name string, date time.Time, initialCash float64, log *slog.Logger) *Portfolio {
	return &Portfolio{
		name:       name,
		date:       date,
		cash:       initialCash,
		totalValue: initialCash,
		positions:  make(map[string]*domain.Position),
		log:        log,
	}
}

// FromState restores a Portfolio from persisted state.
func FromState(state domain.PortfolioState, log *slog.Logger) *Portfolio {
	p := New(state.Name, state.Date, state.Cash, log)
	for _, pos := range state.Positions {
		if pos.Shares <= 0 {
			continue
		}
		cp := pos
		cp.Ticker = strings.ToUpper(cp.Ticker)
		p.positions[cp.Ticker] = &cp
	}
	p.recompute()
	return p
}

// ---------------------------------------------------------------------------
// Read-only accessors
// ---------------------------------------------------------------------------

// Name returns the portfolio name.
func (p *Portfolio) Name() string { return p.name }

// Date returns the current valuation date.
func (p *Portfolio) Date() time.Time { return p.date }

// Cash returns the available cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// TotalValue returns cash plus the value of all open positions at their last
// known prices.
func (p *Portfolio) TotalValue() float64 { return p.totalValue }

// PositionCount returns the number of open positions.
func (p *Portfolio) PositionCount() int { return len(p.positions) }

// Position returns the open position for ticker, or nil.
func (p *Portfolio) Position(ticker string) *domain.Position {
	return p.positions[strings.ToUpper(ticker)]
}

// Positions returns copies of all open positions, sorted by ticker.
func (p *Portfolio) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Trades returns the append-only trade log.
func (p *Portfolio) Trades() []domain.Trade { return p.trades }

// State returns a persistable view of the ledger.
func (p *Portfolio) State() domain.PortfolioState {
	return domain.PortfolioState{
		Name:      p.name,
		Date:      p.date,
		Cash:      p.cash,
		Positions: p.Positions(),
	}
}

// Snapshot records the valuation for the given date.
func (p *Portfolio) Snapshot(date time.Time) domain.EquitySnapshot {
	return domain.EquitySnapshot{
		Date:           date,
		Cash:           p.cash,
		PositionsValue: p.totalValue - p.cash,
		TotalValue:     p.totalValue,
		PositionCount:  len(p.positions),
	}
}

// ---------------------------------------------------------------------------
// Mutation
// ---------------------------------------------------------------------------

// MarkToMarket updates position prices from the given quote map and advances
// the valuation date. Tickers without a quote keep their last known price.
func (p *Portfolio) MarkToMarket(date time.Time, prices map[string]float64) {
	for ticker, pos := range p.positions {
		if price, ok := prices[ticker]; ok {
			pos.CurrentPrice = price
		}
	}
	p.date = date
	p.recompute()
}

// Execute applies one order to the ledger and records the resulting trade.
//
// BUY fails with domain.ErrInsufficientCash when quantity*price plus
// commission exceeds cash. SELL fails with domain.ErrInsufficientShares when
// quantity exceeds the open position. On SELL the realized PnL is net
// proceeds minus quantity times average cost at sale time; a position whose
// shares reach zero is removed. A first-target SELL flips the 2-for-1 state:
// the remaining half is protected by a stop moved to breakeven at average
// cost.
func (p *Portfolio) Execute(date time.Time, ord domain.Order, commissionRate float64) (domain.Trade, error) {
	ticker := strings.ToUpper(ord.Ticker)
	if ord.Quantity <= 0 {
		return domain.Trade{}, fmt.Errorf("execute %s %s: quantity %d must be positive", ord.Action, ticker, ord.Quantity)
	}

	gross := float64(ord.Quantity) * ord.Price
	commission := gross * commissionRate

	trade := domain.Trade{
		Date:       date,
		Ticker:     ticker,
		Action:     ord.Action,
		Quantity:   ord.Quantity,
		Price:      ord.Price,
		Commission: commission,
		Reason:     ord.Reason,
	}

	switch ord.Action {
	case domain.ActionBuy:
		total := gross + commission
		if total > p.cash {
			return domain.Trade{}, fmt.Errorf("%w: need %.2f, have %.2f for %s",
				domain.ErrInsufficientCash, total, p.cash, ticker)
		}
		p.cash -= total
		p.applyBuy(date, ticker, ord)

	case domain.ActionSell:
		pos := p.positions[ticker]
		held := 0
		if pos != nil {
			held = pos.Shares
		}
		if ord.Quantity > held {
			return domain.Trade{}, fmt.Errorf("%w: selling %d, holding %d of %s",
				domain.ErrInsufficientShares, ord.Quantity, held, ticker)
		}
		net := gross - commission
		p.cash += net
		trade.RealizedPnL = net - float64(ord.Quantity)*pos.AvgCost
		p.applySell(ticker, pos, ord)

	default:
		return domain.Trade{}, fmt.Errorf("execute %s: unknown action %q", ticker, ord.Action)
	}

	p.recompute()
	p.trades = append(p.trades, trade)

	if p.log != nil {
		p.log.Debug("trade executed",
			"ticker", ticker, "action", ord.Action, "qty", ord.Quantity,
			"price", ord.Price, "reason", ord.Reason,
			"cash", p.cash, "total", p.totalValue)
	}
	return trade, nil
}

// applyBuy creates or volume-weight-averages a position.
func (p *Portfolio) applyBuy(date time.Time, ticker string, ord domain.Order) {
	pos := p.positions[ticker]
	if pos == nil {
		p.positions[ticker] = &domain.Position{
			Ticker:       ticker,
			Shares:       ord.Quantity,
			AvgCost:      ord.Price,
			CurrentPrice: ord.Price,
			StopLoss:     ord.StopLoss,
			FirstTarget:  ord.FirstTarget,
			Breakeven:    ord.Breakeven,
			EntryATR:     ord.EntryATR,
			EntryDate:    date,
		}
		return
	}

	newShares := pos.Shares + ord.Quantity
	pos.AvgCost = (float64(pos.Shares)*pos.AvgCost + float64(ord.Quantity)*ord.Price) / float64(newShares)
	pos.Shares = newShares
	pos.CurrentPrice = ord.Price
	if ord.StopLoss > 0 {
		pos.StopLoss = ord.StopLoss
	}
	if ord.FirstTarget > 0 {
		pos.FirstTarget = ord.FirstTarget
	}
	if ord.Breakeven > 0 {
		pos.Breakeven = ord.Breakeven
	}
}

// applySell reduces or closes a position, handling the 2-for-1 half sale.
func (p *Portfolio) applySell(ticker string, pos *domain.Position, ord domain.Order) {
	pos.Shares -= ord.Quantity
	pos.CurrentPrice = ord.Price

	if pos.Shares == 0 {
		delete(p.positions, ticker)
		return
	}

	if ord.Reason == domain.ReasonFirstTarget {
		pos.FirstHalfSold = true
		pos.Breakeven = pos.AvgCost
		pos.StopLoss = pos.AvgCost
	}
}

// recompute re-derives the total-value invariant from cash and positions.
func (p *Portfolio) recompute() {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.CurrentValue()
	}
	p.totalValue = total
}
