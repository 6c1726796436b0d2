package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/agents"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/memory"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/processing"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// flatVendor serves 100 trading days closing at 150 up to the requested
// end date.
type flatVendor struct{}

func (flatVendor) Name() string    { return "flat" }
func (flatVendor) Tools() []string { return []string{consts.ToolStockData} }

func (flatVendor) Call(_ context.Context, _ string, raw map[string]any) (string, error) {
	args := dataflows.Args(raw)
	start, end := args.Window(365)
	var bars []pkg.Bar
	for d := end; len(bars) < 100; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		bars = append(bars, pkg.Bar{Date: d, Open: 150, High: 150, Low: 150, Close: 150, AdjClose: 150, Volume: 1_000_000})
	}
	bars = pkg.FilterBars(bars, start, end)
	if len(bars) == 0 {
		return "", dataflows.ErrEmpty
	}
	return dataflows.FormatStockData(args.Symbol(), "flat", start, end, bars), nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.Vendors.CategoryVendors = map[string]string{
		consts.CategoryCoreStock:  "flat",
		consts.CategoryIndicators: consts.VendorLocal,
	}
	cfg.Vendors.Fallbacks = map[string][]string{}
	cfg.VendorTimeout = 2 * time.Second
	cfg.DeepThinkLLM = "deep"
	cfg.QuickThinkLLM = "quick"
	return cfg
}

func flatRouter(cfg *config.Config) *dataflows.Router {
	reg := dataflows.NewRegistry()
	reg.Register(flatVendor{})
	r := dataflows.NewRouter(cfg, reg)
	reg.Register(dataflows.NewIndicatorVendor(r.GetBars))
	return r
}

func holdScript() *llm.Script {
	return &llm.Script{
		Rules: []llm.Rule{
			{Contains: "Risk Management Judge", Reply: "The committee sees no edge in a flat tape. Confidence: 0.6\n\nFINAL TRANSACTION PROPOSAL: **HOLD**"},
			{Contains: "trading agent deciding", Reply: "Nothing to trade.\n\nFINAL TRANSACTION PROPOSAL: **HOLD**"},
			{Contains: "debate facilitator", Reply: "Bull and bear both admit the price has not moved. Decision: HOLD"},
			{Contains: "Bull Analyst advocating", Reply: "The base is building for a breakout."},
			{Contains: "Bear Analyst making", Reply: "There is no momentum at all."},
			{Contains: "price action", Reply: "AAPL closed at $150.00 for 100 straight sessions; RSI is 50 and volatility is nil."},
		},
		Default: "No further comment.",
	}
}

func TestFlatSeriesEndsInHold(t *testing.T) {
	cfg := testConfig(t)
	gen := holdScript()
	o := NewOrchestrator(cfg, flatRouter(cfg), gen)

	st, err := o.Run(context.Background(), Request{Ticker: "aapl", TradeDate: "2024-05-10", Analysts: []string{consts.AnalystMarket}})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", st.Ticker)
	assert.Equal(t, StageTerminal.String(), st.Stage)
	assert.False(t, st.Cancelled)
	assert.NotEmpty(t, st.MarketReport)
	assert.Empty(t, st.NewsReport)
	require.NotNil(t, st.Decision)
	assert.Equal(t, consts.DecisionHold, st.Decision.Action)
	assert.Equal(t, []string{consts.DecisionHold}, processing.Tokens(st.FinalTradeDecision))
	assert.Len(t, st.InvestmentDebateState.BullHistory, 1)
	assert.Len(t, st.InvestmentDebateState.BearHistory, 1)
	assert.Equal(t, 3, st.RiskDebateState.TurnCount)
	assert.Len(t, st.Completed, 9)

	calls := gen.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[0].Prompt, "### get_indicator rsi")
	assert.Contains(t, calls[0].Prompt, "150")
	assert.Equal(t, "quick", calls[0].Model)
	for _, c := range calls {
		if strings.Contains(c.Prompt, "debate facilitator") || strings.Contains(c.Prompt, "Risk Management Judge") {
			assert.Equal(t, "deep", c.Model)
		}
	}
}

func TestDebateTerminatesWithinBudget(t *testing.T) {
	for rounds := 1; rounds <= 4; rounds++ {
		cfg := testConfig(t)
		cfg.MaxDebateRounds = rounds
		gen := holdScript()
		st, err := NewOrchestrator(cfg, flatRouter(cfg), gen).Run(context.Background(),
			Request{Ticker: "AAPL", TradeDate: "2024-05-10", Analysts: []string{consts.AnalystMarket}})
		require.NoError(t, err)

		var bull, bear, judge int
		for _, c := range gen.Calls() {
			switch {
			case strings.Contains(c.Prompt, "Bull Analyst advocating"):
				bull++
			case strings.Contains(c.Prompt, "Bear Analyst making"):
				bear++
			case strings.Contains(c.Prompt, "debate facilitator"):
				judge++
			}
		}
		assert.Equal(t, rounds, bull, "rounds=%d", rounds)
		assert.Equal(t, rounds, bear, "rounds=%d", rounds)
		assert.Equal(t, 1, judge, "rounds=%d", rounds)
		assert.LessOrEqual(t, bull+bear+judge, 2*rounds+1)
		assert.Equal(t, 2*rounds, st.InvestmentDebateState.TurnCount)
	}
}

func TestAnalystFailureLeavesPlaceholder(t *testing.T) {
	cfg := testConfig(t)
	o := NewOrchestrator(cfg, flatRouter(cfg), holdScript())
	st, err := o.Run(context.Background(), Request{
		Ticker: "AAPL", TradeDate: "2024-05-10",
		Analysts: []string{consts.AnalystMarket, consts.AnalystFundamentals},
	})
	require.NoError(t, err)
	assert.True(t, agents.IsPlaceholder(st.FundamentalsReport))
	assert.Equal(t, []string{consts.AnalystFundamentals}, st.Placeholders)
	assert.True(t, st.LowConfidence)
	assert.True(t, st.Terminal())
}

func TestCancellationReturnsPartialState(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	script := holdScript()
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Bull Analyst advocating") {
			cancel()
			return "", ctx.Err()
		}
		return script.Generate(ctx, req)
	})

	st, err := NewOrchestrator(cfg, flatRouter(cfg), gen).Run(ctx,
		Request{Ticker: "AAPL", TradeDate: "2024-05-10", Analysts: []string{consts.AnalystMarket}})
	require.NoError(t, err)
	assert.True(t, st.Cancelled)
	assert.NotEmpty(t, st.MarketReport)
	assert.Empty(t, st.InvestmentDebateState.BullHistory)
	assert.Zero(t, st.InvestmentDebateState.TurnCount)
	assert.Empty(t, st.FinalTradeDecision)
	assert.False(t, st.Terminal())
}

func TestExpiredDeadlineStopsBeforeFirstStage(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	gen := holdScript()
	st, err := NewOrchestrator(cfg, flatRouter(cfg), gen).Run(ctx, Request{Ticker: "AAPL", TradeDate: "2024-05-10"})
	require.NoError(t, err)
	assert.True(t, st.Cancelled)
	assert.Empty(t, gen.Calls())
}

func TestRunValidation(t *testing.T) {
	cfg := testConfig(t)
	o := NewOrchestrator(cfg, flatRouter(cfg), holdScript())
	_, err := o.Run(context.Background(), Request{Ticker: ""})
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = o.Run(context.Background(), Request{Ticker: "AAPL", Analysts: []string{"tarot"}})
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = o.Run(context.Background(), Request{Ticker: "AAPL", TradeDate: "May 10"})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestMachineStepSequence(t *testing.T) {
	m := NewMachine(agents.NewRoster(), NewConditionalLogic(1, 1), "deep", "quick")
	st := models.NewAnalysisState("AAPL", "2024-05-10", nil)

	stage, effects := m.Step(StageInit, st, Event{Kind: EventStart})
	assert.Equal(t, StageAnalystsDone, stage)
	assert.Empty(t, effects)

	stage, effects = m.Step(stage, st, Event{Kind: EventAdvance})
	require.Len(t, effects, 1)
	assert.Equal(t, StageDebate, stage)
	assert.Equal(t, consts.BullResearcher, effects[0].Role)
	assert.True(t, effects[0].Recall)
	assert.Equal(t, "quick", effects[0].Model)

	st.InvestmentDebateState.BullHistory = []string{"up"}
	st.InvestmentDebateState.TurnCount = 1
	_, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
	assert.Equal(t, consts.BearResearcher, effects[0].Role)

	st.InvestmentDebateState.TurnCount = 2
	stage, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
	assert.Equal(t, StageJudge, stage)
	assert.Equal(t, "deep", effects[0].Model)

	st.InvestmentDebateState.JudgeDecision = "Decision: HOLD"
	stage, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
	assert.Equal(t, StageTrader, stage)
	assert.Len(t, effects[0].Calls, 2)

	st.InvestmentPlan = "plan"
	for i, want := range []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst} {
		st.RiskDebateState.TurnCount = i
		stage, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
		assert.Equal(t, StageRiskCommittee, stage)
		assert.Equal(t, want, effects[0].Role)
	}
	st.RiskDebateState.TurnCount = 3
	stage, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
	assert.Equal(t, StageRiskManager, stage)
	assert.Equal(t, consts.RiskJudge, effects[0].Role)

	st.FinalTradeDecision = "FINAL TRANSACTION PROPOSAL: **HOLD**"
	stage, effects = m.Step(stage, st, Event{Kind: EventRoleDone})
	assert.Equal(t, StageTerminal, stage)
	assert.Empty(t, effects)
}

func TestMachineRunsAnalystsInFixedOrder(t *testing.T) {
	m := NewMachine(agents.NewRoster(), NewConditionalLogic(1, 1), "deep", "quick")
	st := models.NewAnalysisState("AAPL", "2024-05-10", []string{consts.AnalystSocial, consts.AnalystMarket})
	_, effects := m.Step(StageInit, st, Event{Kind: EventStart})
	assert.Equal(t, consts.MarketAnalyst, effects[0].Role)
	st.MarketReport = "done"
	_, effects = m.Step(StageAnalysts, st, Event{Kind: EventRoleDone})
	assert.Equal(t, consts.SocialMediaAnalyst, effects[0].Role)
}

type staticCoach map[string]models.CoachPlan

func (s staticCoach) GetCoachPlans(context.Context, string) (map[string]models.CoachPlan, error) {
	return s, nil
}

func TestReflectAndCoachPassthrough(t *testing.T) {
	cfg := testConfig(t)
	mems := memory.NewRoleMemories(10)
	script := holdScript()
	script.Rules = append([]llm.Rule{{Contains: "reviewing a past trading decision", Reply: "Flat tapes reward patience."}}, script.Rules...)
	coach := staticCoach{"alice": {Plan: "wait for 152", Charts: []string{"https://example.com/a.png"}}}
	o := NewOrchestrator(cfg, flatRouter(cfg), script, WithMemories(mems), WithCoach(coach))

	st, err := o.Run(context.Background(), Request{Ticker: "AAPL", TradeDate: "2024-05-10", Analysts: []string{consts.AnalystMarket}, CoachDate: "2024-05-10"})
	require.NoError(t, err)
	assert.Equal(t, "wait for 152", st.CoachPlans["alice"].Plan)

	require.NoError(t, o.Reflect(context.Background(), st, 0.01))
	for _, role := range memory.LearningRoles {
		assert.Equal(t, 1, mems.For(role).Len(), role)
	}
	matches, err := mems.For(consts.Trader).Query(context.Background(), st.Situation(), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Flat tapes reward patience.", matches[0].Lesson)

	// the next run on the same situation sees the lesson in its prompts
	seen := len(script.Calls())
	_, err = o.Run(context.Background(), Request{Ticker: "AAPL", TradeDate: "2024-05-10", Analysts: []string{consts.AnalystMarket}})
	require.NoError(t, err)
	recalled := 0
	for _, c := range script.Calls()[seen:] {
		if strings.Contains(c.Prompt, "Flat tapes reward patience.") || strings.Contains(c.System, "Flat tapes reward patience.") {
			recalled++
		}
	}
	assert.GreaterOrEqual(t, recalled, 1)

	partial := st.Clone()
	partial.Cancelled = true
	assert.True(t, errs.Is(o.Reflect(context.Background(), partial, 0.01), errs.KindValidation))
}

func TestSummaryLessonWithoutModel(t *testing.T) {
	cfg := testConfig(t)
	mems := memory.NewRoleMemories(10)
	o := NewOrchestrator(cfg, nil, llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("offline")
	}), WithMemories(mems))
	st := models.NewAnalysisState("AAPL", "2024-05-10", nil)
	st.FinalTradeDecision = "FINAL TRANSACTION PROPOSAL: **BUY**"
	require.NoError(t, o.Reflect(context.Background(), st, -0.04))
	matches, err := mems.For(consts.RiskJudge).Query(context.Background(), "AAPL 2024-05-10", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Lesson, "the call was wrong")
}
