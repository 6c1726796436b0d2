package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *AnalysisState {
	s := NewAnalysisState("AAPL", "2024-03-01", []string{"news", "market"})
	s.MarketReport = "uptrend"
	s.NewsReport = "earnings beat"
	s.InvestmentDebateState = InvestDebateState{
		BullHistory:   []string{"growth"},
		BearHistory:   []string{"valuation"},
		TurnCount:     2,
		JudgeDecision: "HOLD",
	}
	s.RiskDebateState.AggressiveHistory = []string{"size up"}
	s.RiskDebateState.TurnCount = 1
	s.FinalTradeDecision = "FINAL TRANSACTION PROPOSAL: **HOLD**"
	s.Decision = &Decision{Action: "HOLD", Confidence: 0.5}
	s.CoachPlans = map[string]CoachPlan{"c1": {Plan: "wait", Charts: []string{"http://x/1.png"}}}
	return s
}

func TestAnalysisStateJSONRoundTrip(t *testing.T) {
	s := sampleState()
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var got AnalysisState
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, s, &got)
}

func TestSelectedAnalystsFollowFixedOrder(t *testing.T) {
	s := NewAnalysisState("AAPL", "2024-03-01", []string{"social", "market", "bogus"})
	assert.Equal(t, []string{"market", "social"}, s.SelectedAnalysts)
	assert.NotEmpty(t, s.RunID)
}

func TestSetReportWritesOnce(t *testing.T) {
	s := NewAnalysisState("AAPL", "2024-03-01", []string{"market"})
	assert.True(t, s.SetReport("market", "first"))
	assert.False(t, s.SetReport("market", "second"))
	assert.Equal(t, "first", s.Report("market"))
	assert.False(t, s.SetReport("unknown", "x"))
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()
	c.InvestmentDebateState.BullHistory[0] = "changed"
	c.CoachPlans["c1"].Charts[0] = "changed"
	c.Decision.Action = "BUY"

	assert.Equal(t, "growth", s.InvestmentDebateState.BullHistory[0])
	assert.Equal(t, "http://x/1.png", s.CoachPlans["c1"].Charts[0])
	assert.Equal(t, "HOLD", s.Decision.Action)
}

func TestTranscriptOrder(t *testing.T) {
	d := InvestDebateState{BullHistory: []string{"b1", "b2"}, BearHistory: []string{"r1"}}
	assert.Equal(t, "Bull Analyst: b1\nBear Analyst: r1\nBull Analyst: b2", d.Transcript())
	assert.Equal(t, "b2", d.LastBull())
	assert.Equal(t, "r1", d.LastBear())
}
