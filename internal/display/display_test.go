package display

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/backtest"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/performance"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
)

func sampleResult() *service.AnalyzeResult {
	st := models.NewAnalysisState("NVDA", "2024-05-10", []string{consts.AnalystNews, consts.AnalystMarket})
	st.MarketReport = "Uptrend above the 50 SMA."
	st.NewsReport = "Earnings beat."
	st.InvestmentDebateState = models.InvestDebateState{
		BullHistory:   []string{"Demand is strong."},
		BearHistory:   []string{"Valuation is stretched."},
		TurnCount:     2,
		JudgeDecision: "Lean long.",
	}
	st.InvestmentPlan = "Buy on pullbacks."
	st.FinalTradeDecision = "FINAL TRANSACTION PROPOSAL: **BUY**"
	st.Decision = &models.Decision{Action: consts.DecisionBuy, Confidence: 0.8, Price: 100, StopLoss: 95, Target: 110, Adjusted: true}
	st.Placeholders = []string{consts.AnalystNews}
	st.CoachPlans = map[string]models.CoachPlan{
		"zeta":  {Plan: "Wait for volume."},
		"alpha": {Plan: "Scale in.", Charts: []string{"https://charts.example/1.png"}},
	}
	return &service.AnalyzeResult{AnalysisState: st, FinalDecision: consts.DecisionBuy, Confidence: 0.8, ExecutionTimeSeconds: 12.5}
}

func TestShowAnalysis(t *testing.T) {
	var buf bytes.Buffer
	d := NewResultsDisplay(&buf)
	d.now = func() time.Time { return time.Date(2024, 5, 10, 16, 0, 0, 0, time.UTC) }
	d.Show(sampleResult())

	out := buf.String()
	for _, want := range []string{
		"ANALYSIS RESULTS FOR NVDA",
		"BUY",
		"Confidence: 0.80",
		"Placeholder reports: news",
		"Market Analyst",
		"Uptrend above the 50 SMA.",
		"Bull Researcher: Demand is strong.",
		"Lean long.",
		"Buy on pullbacks.",
		"Stop 95.00",
		"levels filled in",
		"Scale in.",
		"Generated 2024-05-10 16:00:00",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("alpha")), bytes.Index(buf.Bytes(), []byte("zeta")))
}

func TestShowCancelled(t *testing.T) {
	res := sampleResult()
	res.Cancelled = true
	res.Stage = "debate"
	res.FinalDecision = consts.DecisionHold

	var buf bytes.Buffer
	NewResultsDisplay(&buf).Show(res)
	assert.Contains(t, buf.String(), "Run cancelled at stage debate")
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleResult())
	assert.Contains(t, md, "# NVDA analysis for 2024-05-10")
	assert.Contains(t, md, "- **Decision:** BUY")
	assert.Contains(t, md, "### Market Analyst\n\nUptrend above the 50 SMA.")
	assert.Contains(t, md, "## Risk committee\n\n_No data._")
	assert.Contains(t, md, "![alpha](https://charts.example/1.png)")
}

func TestSaveReport(t *testing.T) {
	root := t.TempDir()
	dir, err := SaveReport(root, sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "NVDA", "2024-05-10"), dir)

	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "Final decision")

	_, err = os.Stat(filepath.Join(dir, "reports", "market_report.md"))
	assert.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, "BUY", state["finalDecision"])
	assert.Equal(t, "NVDA", state["ticker"])
}

func TestWriteMarkdownBadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err := WriteMarkdown(filepath.Join(file, "sub"), "x.md", "x")
	assert.Error(t, err)
}

func TestBacktestTable(t *testing.T) {
	res := &service.BacktestResult{
		Ticker:      "AAPL",
		Performance: service.PerformanceSummary{TotalReturnPct: 4.5, TotalTrades: 1, FinalBalance: 10450},
		Trades:      []backtest.Trade{{Date: "2024-01-02", Side: backtest.SideBuy, Shares: 10, Price: 185.5}},
		SkippedDays: []string{"2024-01-03"},
		WalkForward: &backtest.WalkForwardResult{
			Ticker:           "AAPL",
			Windows:          []backtest.Window{{InStart: "2023-01-01", InEnd: "2023-06-30", OutStart: "2023-07-01", OutEnd: "2023-09-30", InSample: &performance.Report{}}},
			Pairs:            []performance.WindowResult{{InSample: 8, OutOfSample: 2}},
			OverfittingScore: 75,
		},
	}
	var buf bytes.Buffer
	Backtest(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "4.50%")
	assert.Contains(t, out, "10450.00")
	assert.Contains(t, out, "185.50")
	assert.Contains(t, out, "1 trading days skipped")
	assert.Contains(t, out, "Overfitting score: 75.0 / 100")
}

func TestRiskTable(t *testing.T) {
	a := &risk.Assessment{
		Ticker:         "AAPL",
		PositionSizing: risk.PositionSizing{RecommendedShares: 33, StopLossPrice: 98},
		RiskReward:     risk.RiskReward{TargetPrice: 110, RiskRewardRatio: 5},
		Warnings:       []string{"stop is wide"},
	}
	var buf bytes.Buffer
	Risk(&buf, a)
	out := buf.String()
	assert.Contains(t, out, "33")
	assert.Contains(t, out, "98.00")
	assert.Contains(t, out, "5.00")
	assert.Contains(t, out, "stop is wide")
}

func TestSentimentTable(t *testing.T) {
	var buf bytes.Buffer
	Sentiment(&buf, &sentiment.Report{
		Ticker:       "TSLA",
		TimeRange:    "24h",
		SourceCounts: map[string]int{"stocktwits": 4, "reddit": 2},
		TopAccounts:  []sentiment.AccountMentions{{Account: "trader_joe", Source: "reddit", Mentions: 3}},
		Score:        sentiment.Score{Overall: 0.4, Method: "lexicon"},
		Errors:       []string{"twitter: unavailable"},
	})
	out := buf.String()
	assert.Contains(t, out, "SENTIMENT TSLA (24h)")
	assert.Contains(t, out, "trader_joe")
	assert.Contains(t, out, "twitter: unavailable")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("reddit")), bytes.Index(buf.Bytes(), []byte("stocktwits")))
}
