package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/models"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Trader turns the judge's verdict into an executable plan.
type Trader struct {
	base
}

func NewTrader() *Trader {
	return &Trader{base: base{id: consts.Trader, kind: KindTrader, template: "trader/trader", field: "investment_plan", memory: true}}
}

func (t *Trader) ToolsNeeded(st *models.AnalysisState) []ToolCall { return priceCalls(st) }

func (t *Trader) Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (string, string, error) {
	vars := reportVars(st)
	vars["judge_decision"] = orNone(st.InvestmentDebateState.JudgeDecision)
	vars["past_memories"] = orNone(in.Memories)
	vars["price"] = formatPrice(ReferencePrice(in.Tools))
	return t.render(ctx, st, vars)
}

func (t *Trader) Apply(st *models.AnalysisState, _ Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty plan", t.id)
	}
	if st.InvestmentPlan != "" {
		return fmt.Errorf("%s: plan already written", t.id)
	}
	st.InvestmentPlan = output
	return nil
}

func (t *Trader) Fallback(st *models.AnalysisState, _ Inputs, err error) string {
	return fmt.Sprintf("The trader could not draft a plan for %s (%v). No position change is proposed.\n\nFINAL TRANSACTION PROPOSAL: **HOLD**", st.Ticker, err)
}

// priceCalls fetch a live quote plus a short bar window; the last close
// stands in when no quote vendor answers.
func priceCalls(st *models.AnalysisState) []ToolCall {
	return []ToolCall{
		{Tool: consts.ToolQuote, Args: map[string]any{"symbol": st.Ticker}},
		{Tool: consts.ToolStockData, Args: map[string]any{
			"symbol": st.Ticker, "start_date": shiftDate(st.TradeDate, -14), "end_date": st.TradeDate,
		}},
	}
}

// ReferencePrice picks the current price from tool results: a quote when
// one decoded, else the latest close. Zero means unknown.
func ReferencePrice(results []ToolResult) float64 {
	for _, r := range results {
		if r.Call.Tool != consts.ToolQuote || !r.OK() {
			continue
		}
		if q, err := dataflows.DecodeQuote(r.Data); err == nil && q.Price > 0 {
			return q.Price
		}
	}
	for _, r := range results {
		if r.Call.Tool != consts.ToolStockData || !r.OK() {
			continue
		}
		bars, err := pkg.ParseBarsCSV(r.Data)
		if err != nil || len(bars) == 0 {
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		if c := bars[len(bars)-1].Close; c > 0 {
			return c
		}
	}
	return 0
}

func formatPrice(p float64) string {
	if p <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("$%.2f", p)
}
