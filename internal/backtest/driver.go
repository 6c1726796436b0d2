// Package backtest replays the analysis pipeline over historical trading
// days against a simulated cash account.
package backtest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/graph"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/performance"
	"github.com/dyike/stockdesk/internal/processing"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Analyzer runs one analysis. *graph.Orchestrator satisfies it.
type Analyzer interface {
	Run(ctx context.Context, req graph.Request) (*models.AnalysisState, error)
}

// Reflector learns from a closed position. *graph.Orchestrator satisfies
// it; the driver uses it when the analyzer provides it.
type Reflector interface {
	Reflect(ctx context.Context, st *models.AnalysisState, realizedReturn float64) error
}

// BarSource supplies the daily bars that define which days trade.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]pkg.Bar, error)
}

type Request struct {
	Ticker    string
	StartDate string
	EndDate   string
	Config    Config
}

// DailyDecision is what the pipeline said on one day and what the
// account did with it.
type DailyDecision struct {
	Date       string  `json:"date"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price"`
	Executed   bool    `json:"executed"`
	Note       string  `json:"note,omitempty"`
	// RealizedReturn is set on a closing sell, as a fraction of cost basis.
	RealizedReturn float64 `json:"realized_return,omitempty"`
}

type Result struct {
	Ticker        string             `json:"ticker"`
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	Config        Config             `json:"config"`
	Trades        []Trade            `json:"trades"`
	EquityHistory []EquityPoint      `json:"equity_history"`
	Decisions     []DailyDecision    `json:"decisions"`
	SkippedDays   []string           `json:"skipped_days,omitempty"`
	FinalBalance  float64            `json:"final_balance"`
	Summary       performance.Report `json:"summary"`
}

// EquityCurve is the account value series with the opening balance first.
func (r *Result) EquityCurve() []float64 {
	out := make([]float64, 0, len(r.EquityHistory)+1)
	out = append(out, r.Config.InitialBalance)
	for _, p := range r.EquityHistory {
		out = append(out, p.Equity)
	}
	return out
}

type Driver struct {
	analyzer  Analyzer
	reflector Reflector
	bars      BarSource
	logger    *zap.Logger
}

type Option func(*Driver)

func WithLogger(l *zap.Logger) Option { return func(d *Driver) { d.logger = l } }

func NewDriver(analyzer Analyzer, bars BarSource, opts ...Option) *Driver {
	d := &Driver{analyzer: analyzer, bars: bars}
	if r, ok := analyzer.(Reflector); ok {
		d.reflector = r
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.OrNop(d.logger)
	return d
}

// Run walks every trading day in [StartDate, EndDate]. Days the feed has
// no bar for are skipped with a warning. When ctx ends the result so far
// is returned together with a deadline error.
func (d *Driver) Run(ctx context.Context, req Request) (*Result, error) {
	ticker := pkg.NormalizeSymbol(req.Ticker)
	if err := pkg.ValidateSymbol(ticker); err != nil {
		return nil, errs.Validation("%v", err)
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := d.logger.With(zap.String("ticker", ticker), zap.String("start", req.StartDate), zap.String("end", req.EndDate))
	bars, err := d.bars.GetBars(ctx, ticker, start, end)
	if err != nil {
		log.Warn("bars unavailable, nothing to trade", zap.Error(err))
	}
	byDate := make(map[string]pkg.Bar, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			byDate[b.Date.Format(pkg.DateLayout)] = b
		}
	}

	acct := NewAccount(cfg.InitialBalance)
	res := &Result{
		Ticker:    ticker,
		StartDate: start.Format(pkg.DateLayout),
		EndDate:   end.Format(pkg.DateLayout),
		Config:    cfg,
	}
	finish := func() {
		res.Trades = acct.Trades()
		res.EquityHistory = acct.History()
		res.FinalBalance = acct.Equity()
		res.Summary = performance.Analyze(res.EquityCurve(), acct.RealizedPnL())
	}

	// the analysis that opened the current position
	var entry *models.AnalysisState
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format(pkg.DateLayout)
		bar, ok := byDate[date]
		if !ok {
			log.Warn("no bar for trading day, skipping", zap.String("date", date))
			res.SkippedDays = append(res.SkippedDays, date)
			continue
		}
		if ctx.Err() != nil {
			finish()
			log.Warn("backtest interrupted", zap.String("date", date), zap.Error(ctx.Err()))
			return res, errs.Wrap(errs.KindDeadline, ctx.Err(), "backtest interrupted at "+date)
		}

		acct.Mark(ticker, bar.Close)
		dd, st, err := d.step(ctx, acct, cfg, ticker, date, bar.Close)
		if err != nil {
			finish()
			return res, err
		}
		if dd.Executed {
			switch dd.Action {
			case consts.DecisionBuy:
				if entry == nil {
					entry = st
				}
			case consts.DecisionSell:
				d.reflect(ctx, entry, dd.RealizedReturn)
				entry = nil
			}
		}
		res.Decisions = append(res.Decisions, dd)
		acct.Record(date)
	}

	finish()
	log.Info("backtest complete",
		zap.Int("days", len(res.EquityHistory)),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("total_return_pct", res.Summary.TotalReturnPct))
	return res, nil
}

// reflect feeds a closed position's outcome back to the analysis that
// opened it. Failures are logged; they never stop the backtest.
func (d *Driver) reflect(ctx context.Context, entry *models.AnalysisState, ret float64) {
	if d.reflector == nil || entry == nil {
		return
	}
	if err := d.reflector.Reflect(ctx, entry, ret); err != nil {
		d.logger.Warn("reflection failed", zap.String("run_id", entry.RunID), zap.Error(err))
	}
}

func (d *Driver) step(ctx context.Context, acct *Account, cfg Config, ticker, date string, price float64) (DailyDecision, *models.AnalysisState, error) {
	dd := DailyDecision{Date: date, Price: price, Action: consts.DecisionHold}
	asOf, _ := time.Parse(pkg.DateLayout, date)
	st, err := d.analyzer.Run(ctx, graph.Request{
		Ticker:    ticker,
		TradeDate: date,
		Analysts:  cfg.Analysts,
		AsOf:      asOf.Add(24*time.Hour - time.Nanosecond),
	})
	switch {
	case errs.Is(err, errs.KindValidation):
		return dd, nil, err
	case err != nil:
		d.logger.Warn("analysis failed, holding", zap.String("date", date), zap.Error(err))
		dd.Note = "analysis failed"
		return dd, nil, nil
	case st == nil || !st.Terminal():
		dd.Note = "no final decision"
		return dd, nil, nil
	}

	action, confidence := signalOf(st)
	dd.Confidence = confidence
	pos, holding := acct.Position(ticker)

	order := Order{
		Date:           date,
		Ticker:         ticker,
		Price:          price,
		Slippage:       cfg.Slippage,
		CommissionRate: cfg.CommissionRate,
		Confidence:     confidence,
	}
	switch {
	case action == consts.DecisionBuy:
		dd.Action = consts.DecisionBuy
		order.Shares = Shares(cfg, acct.Equity(), price, confidence)
		if order.Shares == 0 {
			dd.Note = "position size rounds to zero"
			return dd, st, nil
		}
		if _, err := acct.Buy(order); err != nil {
			dd.Note = err.Error()
			return dd, st, nil
		}
		dd.Executed = true
	case action == consts.DecisionSell && holding:
		dd.Action = consts.DecisionSell
		t, err := acct.Sell(order)
		if err != nil {
			return dd, st, errs.Wrap(errs.KindInternal, err, "close position")
		}
		dd.Executed = true
		if basis := pos.AvgCost.InexactFloat64() * float64(pos.Shares); basis > 0 {
			dd.RealizedReturn = t.PnL / basis
		}
		d.logger.Debug("position closed", zap.String("date", date), zap.Float64("pnl", t.PnL))
	}
	return dd, st, nil
}

// signalOf reads the terminal decision; the risk manager's parsed decision
// is preferred over re-parsing the text.
func signalOf(st *models.AnalysisState) (string, float64) {
	if st.Decision != nil && st.Decision.Action != "" {
		return st.Decision.Action, st.Decision.Confidence
	}
	sig := processing.ParseDecision(st.FinalTradeDecision)
	return sig.Action, sig.Confidence
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(pkg.DateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("start_date %q is not YYYY-MM-DD", startStr)
	}
	end, err := time.Parse(pkg.DateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("end_date %q is not YYYY-MM-DD", endStr)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errs.Validation("end_date %s is before start_date %s", endStr, startStr)
	}
	return start, end, nil
}
