package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/processing"
)

// LowConfidenceThreshold marks decisions the desk should not lean on.
const LowConfidenceThreshold = 0.4

// RiskDebater is one seat on the risk committee.
type RiskDebater struct {
	base
}

func NewAggressiveDebater() *RiskDebater {
	return &RiskDebater{base: base{id: consts.RiskyAnalyst, kind: KindRiskDebater, template: "risk_mgmt/aggressive", field: "risk_debate_state.aggressive_history"}}
}

func NewConservativeDebater() *RiskDebater {
	return &RiskDebater{base: base{id: consts.SafeAnalyst, kind: KindRiskDebater, template: "risk_mgmt/conservative", field: "risk_debate_state.conservative_history"}}
}

func NewNeutralDebater() *RiskDebater {
	return &RiskDebater{base: base{id: consts.NeutralAnalyst, kind: KindRiskDebater, template: "risk_mgmt/neutral", field: "risk_debate_state.neutral_history"}}
}

func (r *RiskDebater) Prompt(ctx context.Context, st *models.AnalysisState, _ Inputs) (string, string, error) {
	rd := st.RiskDebateState
	vars := reportVars(st)
	vars["trader_plan"] = orNone(st.InvestmentPlan)
	vars["history"] = orNone(rd.Transcript())
	vars["last_aggressive"] = orNone(last(rd.AggressiveHistory))
	vars["last_conservative"] = orNone(last(rd.ConservativeHistory))
	vars["last_neutral"] = orNone(last(rd.NeutralHistory))
	return r.render(ctx, st, vars)
}

func (r *RiskDebater) Apply(st *models.AnalysisState, _ Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty argument", r.id)
	}
	rd := &st.RiskDebateState
	if rd.JudgeDecision != "" {
		return fmt.Errorf("%s: committee already closed", r.id)
	}
	switch r.id {
	case consts.RiskyAnalyst:
		rd.AggressiveHistory = append(rd.AggressiveHistory, output)
	case consts.SafeAnalyst:
		rd.ConservativeHistory = append(rd.ConservativeHistory, output)
	default:
		rd.NeutralHistory = append(rd.NeutralHistory, output)
	}
	rd.LatestSpeaker = r.id
	rd.TurnCount++
	return nil
}

func (r *RiskDebater) Fallback(_ *models.AnalysisState, _ Inputs, err error) string {
	return fmt.Sprintf("(no argument this turn: %v)", err)
}

// RiskManager writes the terminal decision. Its output is normalized to a
// single decision token and a BUY always leaves with a stop and target
// that bracket the reference price.
type RiskManager struct {
	base
}

func NewRiskManager() *RiskManager {
	return &RiskManager{base: base{
		id: consts.RiskJudge, kind: KindRiskManager, template: "managers/risk_manager",
		field: "final_trade_decision", deep: true, memory: true,
	}}
}

func (m *RiskManager) ToolsNeeded(st *models.AnalysisState) []ToolCall { return priceCalls(st) }

func (m *RiskManager) Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (string, string, error) {
	vars := reportVars(st)
	vars["judge_decision"] = orNone(st.InvestmentDebateState.JudgeDecision)
	vars["trader_plan"] = orNone(st.InvestmentPlan)
	vars["history"] = orNone(st.RiskDebateState.Transcript())
	vars["past_memories"] = orNone(in.Memories)
	vars["price"] = formatPrice(ReferencePrice(in.Tools))
	return m.render(ctx, st, vars)
}

func (m *RiskManager) Apply(st *models.AnalysisState, in Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty decision", m.id)
	}
	if st.FinalTradeDecision != "" {
		return fmt.Errorf("%s: decision already written", m.id)
	}

	price := ReferencePrice(in.Tools)
	text, sig := processing.EnforceSingleToken(output)
	reason := ""
	adjusted := false
	if sig.Action == consts.DecisionBuy {
		if price <= 0 {
			// the note goes in before the marker so the closing marker stays the only token
			text += "\n\nNo reference price was available to bracket the entry, so the long entry was not taken."
			text = processing.ForceDecision(text, consts.DecisionHold)
			sig.Action = consts.DecisionHold
			reason = "buy without reference price"
		} else if adjusted = processing.EnforceTradePlan(&sig, price); adjusted {
			text += fmt.Sprintf("\n\nRisk limits applied against $%.2f: stop-loss $%.2f, target $%.2f.", price, sig.Prices.Stop, sig.Prices.Target)
			reason = "stop or target filled in"
		}
	}

	st.FinalTradeDecision = text
	st.RiskDebateState.JudgeDecision = text
	st.Decision = sig.ToDecision(price, adjusted, reason)
	if len(st.Placeholders) > 0 || sig.Confidence < LowConfidenceThreshold {
		st.LowConfidence = true
	}
	return nil
}

// Fallback keeps the book flat when the manager cannot be reached.
func (m *RiskManager) Fallback(st *models.AnalysisState, _ Inputs, err error) string {
	return fmt.Sprintf("The risk manager could not review the plan for %s (%v). Confidence: 0.3\n\nFINAL TRANSACTION PROPOSAL: **HOLD**", st.Ticker, err)
}

func last(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[len(xs)-1]
}
