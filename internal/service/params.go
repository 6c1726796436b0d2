package service

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/backtest"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/sentiment"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// NormalizeTicker upper-cases t and checks it is one to five letters.
func NormalizeTicker(t string) (string, error) {
	t = strings.ToUpper(strings.TrimSpace(t))
	if !tickerPattern.MatchString(t) {
		return "", errs.Validation("ticker %q must be 1-5 letters", t)
	}
	return t, nil
}

type AnalyzeParams struct {
	Ticker string `json:"ticker"`
	// Analysts nil selects the configured defaults; an explicit empty
	// list is rejected.
	Analysts  []string          `json:"analysts"`
	TradeDate string            `json:"trade_date,omitempty"`
	Config    *config.Overrides `json:"config,omitempty"`
	// CoachDate attaches the coach plans filed on that date.
	CoachDate string `json:"coach_date,omitempty"`
}

func (p *AnalyzeParams) normalize(now time.Time) error {
	t, err := NormalizeTicker(p.Ticker)
	if err != nil {
		return err
	}
	p.Ticker = t
	if p.Analysts != nil {
		if err := validateAnalysts(p.Analysts); err != nil {
			return err
		}
	}
	if strings.TrimSpace(p.TradeDate) == "" {
		p.TradeDate = now.Format(pkg.DateLayout)
	}
	if _, err := time.Parse(pkg.DateLayout, p.TradeDate); err != nil {
		return errs.Validation("trade_date %q is not YYYY-MM-DD", p.TradeDate)
	}
	if p.CoachDate != "" {
		if _, err := time.Parse(pkg.DateLayout, p.CoachDate); err != nil {
			return errs.Validation("coach_date %q is not YYYY-MM-DD", p.CoachDate)
		}
	}
	if o := p.Config; o != nil {
		if o.MaxDebateRounds != nil && (*o.MaxDebateRounds < 1 || *o.MaxDebateRounds > 10) {
			return errs.Validation("maxDebateRounds must be in [1,10], got %d", *o.MaxDebateRounds)
		}
		if o.MaxRiskRounds != nil && (*o.MaxRiskRounds < 1 || *o.MaxRiskRounds > 10) {
			return errs.Validation("maxRiskRounds must be in [1,10], got %d", *o.MaxRiskRounds)
		}
	}
	return nil
}

func validateAnalysts(names []string) error {
	if len(names) == 0 {
		return errs.Validation("analysts must name at least one of %v", consts.AnalystOrder)
	}
	for _, a := range names {
		if !slices.Contains(consts.AnalystOrder, a) {
			return errs.Validation("unknown analyst %q, want a subset of %v", a, consts.AnalystOrder)
		}
	}
	return nil
}

// StrategyParams overlays the backtest defaults; nil fields keep them.
type StrategyParams struct {
	InitialBalance       *float64 `json:"initial_balance,omitempty"`
	CommissionRate       *float64 `json:"commission_rate,omitempty"`
	Slippage             *float64 `json:"slippage,omitempty"`
	RiskPerTradePct      *float64 `json:"risk_per_trade_pct,omitempty"`
	MaxPositionSizePct   *float64 `json:"max_position_size_pct,omitempty"`
	PositionSizingMethod string   `json:"position_sizing_method,omitempty"`
	Analysts             []string `json:"analysts,omitempty"`
}

func (p *StrategyParams) Apply(base backtest.Config) backtest.Config {
	if p == nil {
		return base
	}
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.InitialBalance, p.InitialBalance)
	set(&base.CommissionRate, p.CommissionRate)
	set(&base.Slippage, p.Slippage)
	set(&base.RiskPerTradePct, p.RiskPerTradePct)
	set(&base.MaxPositionSizePct, p.MaxPositionSizePct)
	if p.PositionSizingMethod != "" {
		base.PositionSizingMethod = p.PositionSizingMethod
	}
	if len(p.Analysts) > 0 {
		base.Analysts = slices.Clone(p.Analysts)
	}
	return base
}

type BacktestParams struct {
	Ticker    string          `json:"ticker"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Strategy  *StrategyParams `json:"strategy_config,omitempty"`
	// Windows > 0 runs a walk-forward instead of a single pass.
	Windows int `json:"windows,omitempty"`
}

func (p *BacktestParams) normalize() error {
	t, err := NormalizeTicker(p.Ticker)
	if err != nil {
		return err
	}
	p.Ticker = t
	if p.Strategy != nil && len(p.Strategy.Analysts) > 0 {
		return validateAnalysts(p.Strategy.Analysts)
	}
	return nil
}

type SentimentParams struct {
	Ticker    string   `json:"ticker"`
	Sources   []string `json:"sources,omitempty"`
	TimeRange string   `json:"time_range,omitempty"`
}

func (p *SentimentParams) normalize() error {
	t, err := NormalizeTicker(p.Ticker)
	if err != nil {
		return err
	}
	p.Ticker = t
	if p.TimeRange == "" {
		p.TimeRange = "24h"
	}
	if _, ok := sentiment.TimeRanges[p.TimeRange]; !ok {
		return errs.Validation("time_range %q must be one of 1h, 4h, 24h, 7d", p.TimeRange)
	}
	for _, s := range p.Sources {
		if !slices.Contains(sentiment.AllSources, s) {
			return errs.Validation("source %q must be one of %v", s, sentiment.AllSources)
		}
	}
	return nil
}
