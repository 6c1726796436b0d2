package backtest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no open position")
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

type Position struct {
	Ticker   string          `json:"ticker"`
	Shares   int64           `json:"shares"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	OpenedAt string          `json:"opened_at"`
}

// Trade is one fill. Price includes slippage; Slippage is what it cost
// against the quoted price.
type Trade struct {
	Date       string  `json:"date"`
	Ticker     string  `json:"ticker"`
	Side       string  `json:"side"`
	Shares     int64   `json:"shares"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Slippage   float64 `json:"slippage"`
	// PnL is set on sells: proceeds less commission less cost basis.
	PnL        float64 `json:"pnl,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Order asks the account to trade at a quoted Price. Slippage moves the
// fill against the trader and CommissionRate is charged on the filled
// notional. Shares is ignored on sells, which close the whole position.
type Order struct {
	Date           string
	Ticker         string
	Shares         int64
	Price          float64
	Slippage       float64
	CommissionRate float64
	Confidence     float64
}

func (o Order) valid() bool {
	return o.Price > 0 && o.Slippage >= 0 && o.Slippage < 1 && o.CommissionRate >= 0
}

type EquityPoint struct {
	Date           string  `json:"date"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
	Equity         float64 `json:"equity"`
}

// Account is a long-only cash account. Cash and cost basis are kept in
// decimal so repeated fills do not drift. It is owned by one driver and
// not safe for concurrent use.
type Account struct {
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*Position
	marks     map[string]decimal.Decimal
	trades    []Trade
	history   []EquityPoint
}

func NewAccount(initial float64) *Account {
	return &Account{
		initial:   decimal.NewFromFloat(initial),
		cash:      decimal.NewFromFloat(initial),
		positions: make(map[string]*Position),
		marks:     make(map[string]decimal.Decimal),
	}
}

func (a *Account) Cash() float64 { return a.cash.InexactFloat64() }

func (a *Account) InitialBalance() float64 { return a.initial.InexactFloat64() }

// Position returns a copy of the open position in ticker.
func (a *Account) Position(ticker string) (Position, bool) {
	p, ok := a.positions[ticker]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (a *Account) Positions() []Position {
	out := make([]Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Mark sets the price open positions in ticker are valued at.
func (a *Account) Mark(ticker string, price float64) {
	a.marks[ticker] = decimal.NewFromFloat(price)
}

func (a *Account) positionsValue() decimal.Decimal {
	total := decimal.Zero
	for t, p := range a.positions {
		mark, ok := a.marks[t]
		if !ok {
			mark = p.AvgCost
		}
		total = total.Add(mark.Mul(decimal.NewFromInt(p.Shares)))
	}
	return total
}

// Equity is cash plus open positions at their last mark.
func (a *Account) Equity() float64 {
	return a.cash.Add(a.positionsValue()).InexactFloat64()
}

// Buy adds o.Shares at the slipped price and pays commission on top. The
// account is left untouched when the outflow exceeds cash.
func (a *Account) Buy(o Order) (Trade, error) {
	if o.Shares <= 0 || !o.valid() {
		return Trade{}, fmt.Errorf("buy %d %s at %.4f: invalid order", o.Shares, o.Ticker, o.Price)
	}
	qty := decimal.NewFromInt(o.Shares)
	quoted := decimal.NewFromFloat(o.Price)
	fill := decimal.NewFromFloat(FillPrice(SideBuy, o.Price, o.Slippage))
	cost := fill.Mul(qty)
	fee := cost.Mul(decimal.NewFromFloat(o.CommissionRate))
	outflow := cost.Add(fee)
	if outflow.GreaterThan(a.cash) {
		return Trade{}, fmt.Errorf("buy %d %s: need %s have %s: %w",
			o.Shares, o.Ticker, outflow.StringFixed(2), a.cash.StringFixed(2), ErrInsufficientCash)
	}

	a.cash = a.cash.Sub(outflow)
	p, ok := a.positions[o.Ticker]
	if !ok {
		p = &Position{Ticker: o.Ticker, OpenedAt: o.Date}
		a.positions[o.Ticker] = p
	}
	// commission is part of the cost basis
	basis := p.AvgCost.Mul(decimal.NewFromInt(p.Shares)).Add(outflow)
	p.Shares += o.Shares
	p.AvgCost = basis.Div(decimal.NewFromInt(p.Shares))
	a.marks[o.Ticker] = quoted

	t := Trade{
		Date:       o.Date,
		Ticker:     o.Ticker,
		Side:       SideBuy,
		Shares:     o.Shares,
		Price:      fill.InexactFloat64(),
		Commission: fee.InexactFloat64(),
		Slippage:   fill.Sub(quoted).Mul(qty).Abs().Round(4).InexactFloat64(),
		Confidence: o.Confidence,
	}
	a.trades = append(a.trades, t)
	return t, nil
}

// Sell closes the whole position in o.Ticker at the slipped price and
// books the realized P&L against the cost basis.
func (a *Account) Sell(o Order) (Trade, error) {
	p, ok := a.positions[o.Ticker]
	if !ok || p.Shares <= 0 {
		return Trade{}, fmt.Errorf("sell %s: %w", o.Ticker, ErrNoPosition)
	}
	if !o.valid() {
		return Trade{}, fmt.Errorf("sell %s at %.4f: invalid order", o.Ticker, o.Price)
	}
	qty := decimal.NewFromInt(p.Shares)
	quoted := decimal.NewFromFloat(o.Price)
	fill := decimal.NewFromFloat(FillPrice(SideSell, o.Price, o.Slippage))
	proceeds := fill.Mul(qty)
	fee := proceeds.Mul(decimal.NewFromFloat(o.CommissionRate))
	pnl := proceeds.Sub(fee).Sub(p.AvgCost.Mul(qty))

	a.cash = a.cash.Add(proceeds).Sub(fee)
	delete(a.positions, o.Ticker)
	a.marks[o.Ticker] = quoted

	t := Trade{
		Date:       o.Date,
		Ticker:     o.Ticker,
		Side:       SideSell,
		Shares:     p.Shares,
		Price:      fill.InexactFloat64(),
		Commission: fee.InexactFloat64(),
		Slippage:   quoted.Sub(fill).Mul(qty).Abs().Round(4).InexactFloat64(),
		PnL:        pnl.Round(2).InexactFloat64(),
		Confidence: o.Confidence,
	}
	a.trades = append(a.trades, t)
	return t, nil
}

// Record appends today's equity point.
func (a *Account) Record(date string) EquityPoint {
	pv := a.positionsValue()
	pt := EquityPoint{
		Date:           date,
		Cash:           a.cash.Round(2).InexactFloat64(),
		PositionsValue: pv.Round(2).InexactFloat64(),
		Equity:         a.cash.Add(pv).Round(2).InexactFloat64(),
	}
	a.history = append(a.history, pt)
	return pt
}

func (a *Account) Trades() []Trade { return append([]Trade(nil), a.trades...) }

func (a *Account) History() []EquityPoint { return append([]EquityPoint(nil), a.history...) }

// RealizedPnL lists the P&L of every closed trade in order.
func (a *Account) RealizedPnL() []float64 {
	var out []float64
	for _, t := range a.trades {
		if t.Side == SideSell {
			out = append(out, t.PnL)
		}
	}
	return out
}
