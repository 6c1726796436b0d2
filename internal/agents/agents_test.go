package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/processing"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

func newState() *models.AnalysisState {
	return models.NewAnalysisState("AAPL", "2024-05-10", consts.AnalystOrder)
}

func TestEveryRoleRenders(t *testing.T) {
	st := newState()
	st.MarketReport = "market says up"
	in := Inputs{Tools: []ToolResult{{Call: ToolCall{Tool: consts.ToolStockData}, Data: "rows"}}, Memories: "1. be careful"}
	for _, role := range NewRoster().Roles() {
		sys, prompt, err := role.Prompt(context.Background(), st, in)
		require.NoError(t, err, role.ID())
		assert.NotEmpty(t, sys, role.ID())
		assert.Contains(t, prompt, "AAPL", role.ID())
		assert.NotContains(t, prompt, "{ticker}", role.ID())
	}
}

func TestAnalystDoesNotSeeOtherReports(t *testing.T) {
	st := newState()
	st.MarketReport = "SECRET MARKET TAKE"
	a, err := NewAnalyst(consts.AnalystNews)
	require.NoError(t, err)
	_, prompt, err := a.Prompt(context.Background(), st, Inputs{Tools: []ToolResult{
		{Call: ToolCall{Tool: consts.ToolNews}, Data: "headline one"},
		{Call: ToolCall{Tool: consts.ToolGlobalNews}, Err: "all vendors failed", Tried: []string{"google_news"}},
	}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "headline one")
	assert.Contains(t, prompt, "unavailable: all vendors failed")
	assert.NotContains(t, prompt, "SECRET MARKET TAKE")
}

func TestAnalystToolsAndFields(t *testing.T) {
	st := newState()
	r := NewRoster()
	market := r.Analyst(consts.AnalystMarket).ToolsNeeded(st)
	require.Len(t, market, 1+len(marketIndicators))
	assert.Equal(t, consts.ToolStockData, market[0].Tool)
	assert.Equal(t, "2024-02-10", market[0].Args["start_date"])
	assert.Equal(t, consts.ToolSocialSentiment, r.Analyst(consts.AnalystSocial).ToolsNeeded(st)[0].Tool)
	assert.Equal(t, "sentiment_report", r.Analyst(consts.AnalystSocial).Field())

	_, err := NewAnalyst("astrology")
	assert.Error(t, err)
}

func TestAnalystPlaceholderOnFailure(t *testing.T) {
	st := newState()
	a, _ := NewAnalyst(consts.AnalystFundamentals)
	in := Inputs{Tools: []ToolResult{{Call: ToolCall{Tool: consts.ToolFundamentals}, Err: "all vendors failed", Tried: []string{"finnhub", "alpha_vantage"}}}}

	_, _, err := a.Prompt(context.Background(), st, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finnhub, alpha_vantage")

	text := a.Fallback(st, in, err)
	assert.True(t, IsPlaceholder(text))
	require.NoError(t, a.Apply(st, in, text))
	assert.Equal(t, []string{consts.AnalystFundamentals}, st.Placeholders)
	assert.Error(t, a.Apply(st, in, "second write"))
}

func TestDebateAppliesAlternately(t *testing.T) {
	st := newState()
	r := NewRoster()
	require.NoError(t, r.Bull.Apply(st, Inputs{}, "growth is strong"))
	require.NoError(t, r.Bear.Apply(st, Inputs{}, "valuation is stretched"))
	assert.Equal(t, 2, st.InvestmentDebateState.TurnCount)

	_, prompt, err := r.Bull.Prompt(context.Background(), st, Inputs{})
	require.NoError(t, err)
	assert.Contains(t, prompt, "valuation is stretched")

	require.NoError(t, r.Judge.Apply(st, Inputs{}, "Decision: HOLD"))
	assert.Error(t, r.Bull.Apply(st, Inputs{}, "late point"))
	assert.Error(t, r.Judge.Apply(st, Inputs{}, "again"))

	fb := r.Judge.Fallback(newState(), Inputs{}, errors.New("timeout"))
	assert.Equal(t, consts.DecisionHold, processing.ParseDecision(fb).Action)
}

func TestRiskCommitteeTracksSpeaker(t *testing.T) {
	st := newState()
	r := NewRoster()
	for _, d := range r.Committee {
		require.NoError(t, d.Apply(st, Inputs{}, d.ID()+" view"))
	}
	rd := st.RiskDebateState
	assert.Equal(t, 3, rd.TurnCount)
	assert.Equal(t, consts.NeutralAnalyst, rd.LatestSpeaker)
	assert.Equal(t, []string{consts.SafeAnalyst + " view"}, rd.ConservativeHistory)
}

func TestRiskManagerEnforcesBuyPlan(t *testing.T) {
	st := newState()
	m := NewRiskManager()
	in := Inputs{Tools: []ToolResult{{Call: ToolCall{Tool: consts.ToolQuote}, Data: `{"symbol":"AAPL","price":150}`}}}
	require.NoError(t, m.Apply(st, in, "Strong setup. Confidence: 0.8\n\nFINAL TRANSACTION PROPOSAL: **BUY**"))

	require.NotNil(t, st.Decision)
	assert.Equal(t, consts.DecisionBuy, st.Decision.Action)
	assert.Less(t, st.Decision.StopLoss, 150.0)
	assert.GreaterOrEqual(t, st.Decision.Target, 150.0)
	assert.True(t, st.Decision.Adjusted)
	assert.Equal(t, []string{"BUY"}, processing.Tokens(st.FinalTradeDecision))
	assert.False(t, st.LowConfidence)
	assert.Error(t, m.Apply(st, in, "FINAL TRANSACTION PROPOSAL: **SELL**"))
}

func TestRiskManagerBuyWithoutPriceBecomesHold(t *testing.T) {
	st := newState()
	m := NewRiskManager()
	in := Inputs{Tools: []ToolResult{{Call: ToolCall{Tool: consts.ToolQuote}, Err: "all vendors failed"}}}
	require.NoError(t, m.Apply(st, in, "FINAL TRANSACTION PROPOSAL: **BUY**"))
	assert.Equal(t, consts.DecisionHold, st.Decision.Action)
	assert.Equal(t, "buy without reference price", st.Decision.Reason)
	assert.Equal(t, []string{"HOLD"}, processing.Tokens(st.FinalTradeDecision))
	assert.True(t, strings.HasSuffix(st.FinalTradeDecision, "FINAL TRANSACTION PROPOSAL: **HOLD**"))
	assert.Contains(t, st.FinalTradeDecision, "long entry was not taken")

	reparsed := processing.ParseDecision(st.FinalTradeDecision)
	assert.Equal(t, consts.DecisionHold, reparsed.Action)
	assert.True(t, reparsed.Explicit)
}

func TestRiskManagerAmbiguousAndLowConfidence(t *testing.T) {
	st := newState()
	st.Placeholders = []string{consts.AnalystNews}
	require.NoError(t, NewRiskManager().Apply(st, Inputs{}, "Could BUY or SELL here."))
	assert.Equal(t, consts.DecisionHold, st.Decision.Action)
	assert.True(t, st.LowConfidence)
}

func TestReferencePriceFallsBackToLastClose(t *testing.T) {
	day := func(s string) time.Time { d, _ := time.Parse(pkg.DateLayout, s); return d }
	csv := pkg.FormatBarsCSV([]pkg.Bar{
		{Date: day("2024-05-09"), Open: 1, High: 1, Low: 1, Close: 181.5, AdjClose: 181.5},
		{Date: day("2024-05-08"), Open: 1, High: 1, Low: 1, Close: 180, AdjClose: 180},
	})
	results := []ToolResult{
		{Call: ToolCall{Tool: consts.ToolQuote}, Err: "down"},
		{Call: ToolCall{Tool: consts.ToolStockData}, Data: "# header\n" + csv},
	}
	assert.Equal(t, 181.5, ReferencePrice(results))
	assert.Zero(t, ReferencePrice(nil))
}
