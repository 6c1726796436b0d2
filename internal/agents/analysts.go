package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// marketIndicators are the indicators the market analyst always pulls.
var marketIndicators = []string{"rsi", "macd", "close_50_sma", "boll", "atr", "vwma"}

// Analyst reads its own tools and writes exactly one report. It never
// sees another analyst's report.
type Analyst struct {
	base
	name string
}

func NewAnalyst(name string) (*Analyst, error) {
	node, ok := consts.AnalystNodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown analyst %q", name)
	}
	field := map[string]string{
		consts.AnalystMarket:       "market_report",
		consts.AnalystFundamentals: "fundamentals_report",
		consts.AnalystNews:         "news_report",
		consts.AnalystSocial:       "sentiment_report",
	}[name]
	return &Analyst{
		base: base{id: node, kind: KindAnalyst, template: "analysts/" + name, field: field},
		name: name,
	}, nil
}

// Name is the selection name (market, fundamentals, news, social).
func (a *Analyst) Name() string { return a.name }

func (a *Analyst) ToolsNeeded(st *models.AnalysisState) []ToolCall {
	end := st.TradeDate
	start := shiftDate(end, -90)
	switch a.name {
	case consts.AnalystMarket:
		calls := []ToolCall{{Tool: consts.ToolStockData, Args: map[string]any{
			"symbol": st.Ticker, "start_date": start, "end_date": end,
		}}}
		for _, ind := range marketIndicators {
			calls = append(calls, ToolCall{Tool: consts.ToolIndicator, Args: map[string]any{
				"symbol": st.Ticker, "indicator": ind, "curr_date": end, "look_back_days": 30,
			}})
		}
		return calls
	case consts.AnalystFundamentals:
		return []ToolCall{
			{Tool: consts.ToolFundamentals, Args: map[string]any{"symbol": st.Ticker, "curr_date": end}},
			{Tool: consts.ToolInsiderSentiment, Args: map[string]any{"symbol": st.Ticker, "curr_date": end, "look_back_days": 90}},
		}
	case consts.AnalystNews:
		return []ToolCall{
			{Tool: consts.ToolNews, Args: map[string]any{"symbol": st.Ticker, "curr_date": end, "look_back_days": 7}},
			{Tool: consts.ToolGlobalNews, Args: map[string]any{"curr_date": end, "look_back_days": 7}},
		}
	case consts.AnalystSocial:
		return []ToolCall{{Tool: consts.ToolSocialSentiment, Args: map[string]any{
			"symbol": st.Ticker, "curr_date": end, "look_back_days": 7,
		}}}
	}
	return nil
}

// Prompt fails when no tool returned data; the runtime then applies the
// placeholder instead of asking the model to invent a report.
func (a *Analyst) Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (string, string, error) {
	if !anyOK(in.Tools) {
		return "", "", fmt.Errorf("no data: %s", failureSummary(in.Tools))
	}
	return a.render(ctx, st, map[string]any{"data": formatTools(in.Tools)})
}

func (a *Analyst) Apply(st *models.AnalysisState, in Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty report", a.id)
	}
	if !st.SetReport(a.name, output) {
		return fmt.Errorf("%s: report already written", a.id)
	}
	if IsPlaceholder(output) {
		st.Placeholders = append(st.Placeholders, a.name)
	}
	return nil
}

// Fallback names the failure so downstream roles can discount it.
func (a *Analyst) Fallback(st *models.AnalysisState, in Inputs, err error) string {
	reason := "report generation failed"
	if err != nil {
		reason = err.Error()
	}
	return fmt.Sprintf("[%s unavailable for %s on %s: %s. Treat this section as missing evidence.]",
		consts.DisplayNames[a.id], st.Ticker, st.TradeDate, reason)
}

// IsPlaceholder reports whether text is an analyst fallback.
func IsPlaceholder(text string) bool {
	return strings.HasPrefix(text, "[") && strings.Contains(text, " unavailable for ")
}

func anyOK(results []ToolResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}

func failureSummary(results []ToolResult) string {
	var parts []string
	for _, r := range results {
		if r.OK() {
			continue
		}
		msg := r.Err
		if msg == "" {
			msg = "empty result"
		}
		if len(r.Tried) > 0 {
			msg += " (tried " + strings.Join(r.Tried, ", ") + ")"
		}
		parts = append(parts, r.Call.Tool+": "+msg)
	}
	if len(parts) == 0 {
		return "no tools configured"
	}
	return strings.Join(parts, "; ")
}

// formatTools lays tool output out as markdown sections. Failed calls are
// listed so the model knows what is missing.
func formatTools(results []ToolResult) string {
	var b strings.Builder
	for _, r := range results {
		title := r.Call.Tool
		if ind, ok := r.Call.Args["indicator"].(string); ok {
			title += " " + ind
		}
		if !r.OK() {
			fmt.Fprintf(&b, "### %s\nunavailable: %s\n\n", title, orNone(r.Err))
			continue
		}
		if r.Stale {
			title += " (stale cache)"
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", title, strings.TrimSpace(r.Data))
	}
	return strings.TrimSpace(b.String())
}

func shiftDate(date string, days int) string {
	t, err := time.Parse(pkg.DateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(pkg.DateLayout)
}
