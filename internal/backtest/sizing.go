package backtest

import (
	"math"
	"slices"

	"github.com/dyike/stockdesk/internal/errs"
)

const (
	SizingFixedPercentage = "fixed_percentage"
	SizingRiskBased       = "risk_based"
	SizingEqualWeight     = "equal_weight"
)

var sizingMethods = []string{SizingFixedPercentage, SizingRiskBased, SizingEqualWeight}

type Config struct {
	InitialBalance       float64  `json:"initial_balance" mapstructure:"initial_balance"`
	CommissionRate       float64  `json:"commission_rate" mapstructure:"commission_rate"`
	Slippage             float64  `json:"slippage" mapstructure:"slippage"`
	RiskPerTradePct      float64  `json:"risk_per_trade_pct" mapstructure:"risk_per_trade_pct"`
	MaxPositionSizePct   float64  `json:"max_position_size_pct" mapstructure:"max_position_size_pct"`
	PositionSizingMethod string   `json:"position_sizing_method" mapstructure:"position_sizing_method"`
	Analysts             []string `json:"analysts,omitempty" mapstructure:"analysts"`
	// EligibleTickers is k for equal_weight sizing.
	EligibleTickers int `json:"eligible_tickers,omitempty" mapstructure:"eligible_tickers"`
}

func DefaultConfig() Config {
	return Config{
		InitialBalance:       10000,
		CommissionRate:       0.001,
		Slippage:             0.0005,
		RiskPerTradePct:      2,
		MaxPositionSizePct:   20,
		PositionSizingMethod: SizingFixedPercentage,
		EligibleTickers:      1,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.InitialBalance > 0):
		return errs.Validation("initial_balance must be positive")
	case c.CommissionRate < 0 || c.CommissionRate >= 1:
		return errs.Validation("commission_rate must be in [0,1)")
	case c.Slippage < 0 || c.Slippage >= 1:
		return errs.Validation("slippage must be in [0,1)")
	case c.RiskPerTradePct < 0 || c.RiskPerTradePct > 100:
		return errs.Validation("risk_per_trade_pct must be in [0,100]")
	case !(c.MaxPositionSizePct > 0) || c.MaxPositionSizePct > 100:
		return errs.Validation("max_position_size_pct must be in (0,100]")
	case !slices.Contains(sizingMethods, c.PositionSizingMethod):
		return errs.Validation("position_sizing_method %q is not one of %v", c.PositionSizingMethod, sizingMethods)
	}
	return nil
}

// Shares sizes a new position. confidence only matters for risk_based.
func Shares(c Config, equity, price, confidence float64) int64 {
	if !(price > 0) || !(equity > 0) {
		return 0
	}
	fixed := floorShares(equity*c.MaxPositionSizePct/100, price)
	switch c.PositionSizingMethod {
	case SizingRiskBased:
		confidence = min(max(confidence, 0), 1)
		return min(floorShares(equity*c.RiskPerTradePct/100*confidence, price), fixed)
	case SizingEqualWeight:
		// the slice of equity has to cover slippage and commission too
		k := max(c.EligibleTickers, 1)
		return floorShares(equity/float64(k), price*(1+c.Slippage)*(1+c.CommissionRate))
	default:
		return fixed
	}
}

// FillPrice applies slippage against the trader.
func FillPrice(side string, price, slippage float64) float64 {
	if side == SideSell {
		return price * (1 - slippage)
	}
	return price * (1 + slippage)
}

func floorShares(budget, price float64) int64 {
	n := math.Floor(budget/price + 1e-9)
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int64(n)
}
