package models

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dyike/stockdesk/consts"
)

type InvestDebateState struct {
	BullHistory   []string `json:"bull_history"`
	BearHistory   []string `json:"bear_history"`
	TurnCount     int      `json:"turn_count"`
	JudgeDecision string   `json:"judge_decision"`
}

// Transcript interleaves the two sides in speaking order, bull first.
func (d *InvestDebateState) Transcript() string {
	var b strings.Builder
	for i := 0; i < max(len(d.BullHistory), len(d.BearHistory)); i++ {
		if i < len(d.BullHistory) {
			b.WriteString(consts.Agent_BullResearcher + ": " + d.BullHistory[i] + "\n")
		}
		if i < len(d.BearHistory) {
			b.WriteString(consts.Agent_BearResearcher + ": " + d.BearHistory[i] + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func (d *InvestDebateState) LastBull() string { return last(d.BullHistory) }
func (d *InvestDebateState) LastBear() string { return last(d.BearHistory) }

type RiskDebateState struct {
	AggressiveHistory   []string `json:"aggressive_history"`
	ConservativeHistory []string `json:"conservative_history"`
	NeutralHistory      []string `json:"neutral_history"`
	LatestSpeaker       string   `json:"latest_speaker"`
	TurnCount           int      `json:"turn_count"`
	JudgeDecision       string   `json:"judge_decision"`
}

// Transcript replays the committee in rotation order.
func (r *RiskDebateState) Transcript() string {
	var b strings.Builder
	n := max(len(r.AggressiveHistory), len(r.ConservativeHistory), len(r.NeutralHistory))
	for i := 0; i < n; i++ {
		if i < len(r.AggressiveHistory) {
			b.WriteString(consts.Agent_RiskyAnalyst + ": " + r.AggressiveHistory[i] + "\n")
		}
		if i < len(r.ConservativeHistory) {
			b.WriteString(consts.Agent_SafeAnalyst + ": " + r.ConservativeHistory[i] + "\n")
		}
		if i < len(r.NeutralHistory) {
			b.WriteString(consts.Agent_NeutralAnalyst + ": " + r.NeutralHistory[i] + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

type CoachPlan struct {
	Plan   string   `json:"plan"`
	Charts []string `json:"charts"`
}

// AnalysisState is threaded through every stage of one analysis run.
// Stages append to it; a field written by one role is never rewritten by
// another.
type AnalysisState struct {
	RunID            string   `json:"run_id"`
	Ticker           string   `json:"ticker"`
	TradeDate        string   `json:"trade_date"`
	SelectedAnalysts []string `json:"selected_analysts"`

	MarketReport       string `json:"market_report,omitempty"`
	FundamentalsReport string `json:"fundamentals_report,omitempty"`
	NewsReport         string `json:"news_report,omitempty"`
	SentimentReport    string `json:"sentiment_report,omitempty"`

	InvestmentDebateState InvestDebateState `json:"investment_debate_state"`
	InvestmentPlan        string            `json:"investment_plan,omitempty"`
	RiskDebateState       RiskDebateState   `json:"risk_debate_state"`
	FinalTradeDecision    string            `json:"final_trade_decision,omitempty"`
	Decision              *Decision         `json:"decision,omitempty"`

	CoachPlans map[string]CoachPlan `json:"coach_plans,omitempty"`

	// Placeholders lists analysts that could not produce a real report.
	Placeholders  []string `json:"placeholders,omitempty"`
	Stage         string   `json:"stage"`
	Completed     []string `json:"completed,omitempty"`
	Cancelled     bool     `json:"cancelled"`
	LowConfidence bool     `json:"low_confidence"`
}

func NewAnalysisState(ticker, tradeDate string, analysts []string) *AnalysisState {
	selected := make([]string, 0, len(analysts))
	for _, name := range consts.AnalystOrder {
		if slices.Contains(analysts, name) {
			selected = append(selected, name)
		}
	}
	return &AnalysisState{
		RunID:            uuid.NewString(),
		Ticker:           ticker,
		TradeDate:        tradeDate,
		SelectedAnalysts: selected,
		Stage:            "init",
	}
}

// Report returns the report an analyst writes.
func (s *AnalysisState) Report(analyst string) string {
	switch analyst {
	case consts.AnalystMarket:
		return s.MarketReport
	case consts.AnalystFundamentals:
		return s.FundamentalsReport
	case consts.AnalystNews:
		return s.NewsReport
	case consts.AnalystSocial:
		return s.SentimentReport
	}
	return ""
}

// SetReport writes an analyst's report once. It reports false when the
// field is already populated.
func (s *AnalysisState) SetReport(analyst, text string) bool {
	var field *string
	switch analyst {
	case consts.AnalystMarket:
		field = &s.MarketReport
	case consts.AnalystFundamentals:
		field = &s.FundamentalsReport
	case consts.AnalystNews:
		field = &s.NewsReport
	case consts.AnalystSocial:
		field = &s.SentimentReport
	default:
		return false
	}
	if *field != "" {
		return false
	}
	*field = text
	return true
}

// Situation is the compact market summary used as a memory fingerprint.
func (s *AnalysisState) Situation() string {
	parts := []string{s.MarketReport, s.SentimentReport, s.NewsReport, s.FundamentalsReport}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Terminal reports whether the run reached its final decision.
func (s *AnalysisState) Terminal() bool {
	return s.FinalTradeDecision != "" && !s.Cancelled
}

func (s *AnalysisState) Clone() *AnalysisState {
	out := *s
	out.SelectedAnalysts = slices.Clone(s.SelectedAnalysts)
	out.InvestmentDebateState.BullHistory = slices.Clone(s.InvestmentDebateState.BullHistory)
	out.InvestmentDebateState.BearHistory = slices.Clone(s.InvestmentDebateState.BearHistory)
	out.RiskDebateState.AggressiveHistory = slices.Clone(s.RiskDebateState.AggressiveHistory)
	out.RiskDebateState.ConservativeHistory = slices.Clone(s.RiskDebateState.ConservativeHistory)
	out.RiskDebateState.NeutralHistory = slices.Clone(s.RiskDebateState.NeutralHistory)
	out.Placeholders = slices.Clone(s.Placeholders)
	out.Completed = slices.Clone(s.Completed)
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	if s.CoachPlans != nil {
		out.CoachPlans = make(map[string]CoachPlan, len(s.CoachPlans))
		for k, v := range s.CoachPlans {
			v.Charts = slices.Clone(v.Charts)
			out.CoachPlans[k] = v
		}
	}
	return &out
}

func last(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[len(xs)-1]
}
