// Package risk sizes a single position from an account's risk budget.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/dyike/stockdesk/internal/errs"
)

const (
	// DefaultStopPct places the stop this far below the price when none is given.
	DefaultStopPct = 2.0
	// ConcentrationPct is the share of the account one position may hold.
	ConcentrationPct = 25.0
	// MaxRiskPct is the per-trade risk above which a warning is raised.
	MaxRiskPct = 5.0
)

type Request struct {
	Ticker          string  `json:"ticker"`
	AccountValue    float64 `json:"account_value"`
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	CurrentPrice    float64 `json:"current_price"`
	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	TargetPrice     float64 `json:"target_price,omitempty"`
}

type PositionSizing struct {
	RecommendedShares    int     `json:"recommended_shares"`
	PositionValue        float64 `json:"position_value"`
	PositionPctOfAccount float64 `json:"position_pct_of_account"`
	RiskAmount           float64 `json:"risk_amount"`
	RiskPerShare         float64 `json:"risk_per_share"`
	StopLossPrice        float64 `json:"stop_loss_price"`
}

type RiskReward struct {
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	PotentialProfit float64 `json:"potential_profit"`
	PotentialLoss   float64 `json:"potential_loss"`
	TargetPrice     float64 `json:"target_price,omitempty"`
}

type Assessment struct {
	Ticker         string         `json:"ticker"`
	PositionSizing PositionSizing `json:"position_sizing"`
	RiskReward     RiskReward     `json:"risk_reward"`
	Warnings       []string       `json:"warnings"`
}

// Calculate sizes the position so that hitting the stop loses at most
// RiskPerTradePct of the account.
func Calculate(req Request) (*Assessment, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	stop := req.StopLossPrice
	if stop == 0 {
		stop = round2(req.CurrentPrice * (1 - DefaultStopPct/100))
	}

	riskAmount := req.AccountValue * req.RiskPerTradePct / 100
	riskPerShare := req.CurrentPrice - stop
	shares := int(math.Floor(riskAmount/riskPerShare + 1e-9))
	value := float64(shares) * req.CurrentPrice
	pct := value / req.AccountValue * 100

	out := &Assessment{
		Ticker: req.Ticker,
		PositionSizing: PositionSizing{
			RecommendedShares:    shares,
			PositionValue:        round2(value),
			PositionPctOfAccount: round2(pct),
			RiskAmount:           round2(riskAmount),
			RiskPerShare:         round2(riskPerShare),
			StopLossPrice:        stop,
		},
		RiskReward: RiskReward{
			PotentialLoss: round2(float64(shares) * riskPerShare),
		},
		Warnings: []string{},
	}
	if req.TargetPrice > 0 {
		reward := req.TargetPrice - req.CurrentPrice
		out.RiskReward.TargetPrice = req.TargetPrice
		out.RiskReward.RiskRewardRatio = round2(reward / riskPerShare)
		out.RiskReward.PotentialProfit = round2(float64(shares) * reward)
		if reward <= 0 {
			out.Warnings = append(out.Warnings, "target price is not above current price")
		}
	}

	switch {
	case shares == 0:
		out.Warnings = append(out.Warnings, "risk budget is too small for a single share")
	case value > req.AccountValue:
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("position size exceeds %.0f%% of account (%.1f%%)", ConcentrationPct, pct),
			"position value exceeds account value")
	}
	if req.RiskPerTradePct > MaxRiskPct {
		out.Warnings = append(out.Warnings, fmt.Sprintf("risk per trade exceeds %.0f%%", MaxRiskPct))
	}
	return out, nil
}

func validate(req *Request) error {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	switch {
	case !(req.AccountValue > 0) || math.IsInf(req.AccountValue, 0):
		return errs.Validation("account_value must be positive")
	case !(req.CurrentPrice > 0) || math.IsInf(req.CurrentPrice, 0):
		return errs.Validation("current_price must be positive")
	case !(req.RiskPerTradePct > 0) || req.RiskPerTradePct > 100:
		return errs.Validation("risk_per_trade_pct must be in (0,100]")
	case req.StopLossPrice < 0 || math.IsNaN(req.StopLossPrice):
		return errs.Validation("stop_loss_price must not be negative")
	case req.StopLossPrice >= req.CurrentPrice:
		return errs.Validation("stop_loss_price %.2f must be below current_price %.2f", req.StopLossPrice, req.CurrentPrice)
	case req.TargetPrice < 0 || math.IsNaN(req.TargetPrice):
		return errs.Validation("target_price must not be negative")
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
