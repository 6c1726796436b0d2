package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/utils"
)

// Kind tags a role variant.
type Kind int

const (
	KindAnalyst Kind = iota
	KindDebater
	KindJudge
	KindTrader
	KindRiskDebater
	KindRiskManager
)

func (k Kind) String() string {
	switch k {
	case KindAnalyst:
		return "analyst"
	case KindDebater:
		return "debater"
	case KindJudge:
		return "judge"
	case KindTrader:
		return "trader"
	case KindRiskDebater:
		return "risk_debater"
	case KindRiskManager:
		return "risk_manager"
	}
	return "unknown"
}

// ToolCall is one router dispatch a role needs before it can speak.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ToolResult is what the runtime got back for a ToolCall.
type ToolResult struct {
	Call   ToolCall `json:"call"`
	Data   string   `json:"data,omitempty"`
	Vendor string   `json:"vendor,omitempty"`
	Stale  bool     `json:"stale,omitempty"`
	Err    string   `json:"error,omitempty"`
	Tried  []string `json:"tried,omitempty"`
}

func (r ToolResult) OK() bool { return r.Err == "" && strings.TrimSpace(r.Data) != "" }

// Inputs carries everything the runtime resolved for one role invocation.
type Inputs struct {
	Tools    []ToolResult
	Memories string
}

// Role is the capability set shared by every participant in a run. The
// runtime resolves ToolsNeeded and memories, renders Prompt, generates,
// then calls Apply on a copy of the state.
type Role interface {
	ID() string
	Kind() Kind
	// Template is the embedded prompt path.
	Template() string
	// Field names the state field Apply writes.
	Field() string
	// Deep selects the deep-thinking model.
	Deep() bool
	UsesMemory() bool
	ToolsNeeded(st *models.AnalysisState) []ToolCall
	Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (system, prompt string, err error)
	Apply(st *models.AnalysisState, in Inputs, output string) error
	// Fallback is the text applied when generation fails.
	Fallback(st *models.AnalysisState, in Inputs, err error) string
}

// base holds what every variant shares.
type base struct {
	id       string
	kind     Kind
	template string
	field    string
	deep     bool
	memory   bool
}

func (b base) ID() string       { return b.id }
func (b base) Kind() Kind       { return b.kind }
func (b base) Template() string { return b.template }
func (b base) Field() string    { return b.field }
func (b base) Deep() bool       { return b.deep }
func (b base) UsesMemory() bool { return b.memory }

func (b base) ToolsNeeded(*models.AnalysisState) []ToolCall { return nil }

func (b base) system() string {
	return fmt.Sprintf("You are the %s on a stock research desk. Work only from the material you are given and say so when evidence is thin.",
		consts.DisplayNames[b.id])
}

// render loads the role's template and fills it with vars plus the common
// ticker, date and report variables.
func (b base) render(ctx context.Context, st *models.AnalysisState, vars map[string]any) (string, string, error) {
	tpl, err := utils.LoadPrompt(b.template)
	if err != nil {
		return "", "", err
	}
	all := map[string]any{
		"ticker":     st.Ticker,
		"trade_date": st.TradeDate,
	}
	for k, v := range vars {
		all[k] = v
	}
	prompt, err := llm.Render(ctx, tpl, all)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", b.template, err)
	}
	return b.system(), prompt, nil
}

// reportVars exposes the four analyst reports to downstream roles, with
// placeholders flagged.
func reportVars(st *models.AnalysisState) map[string]any {
	get := func(analyst string) string {
		text := st.Report(analyst)
		if text == "" {
			return "(not requested)"
		}
		for _, p := range st.Placeholders {
			if p == analyst {
				return "(low evidence) " + text
			}
		}
		return text
	}
	return map[string]any{
		"market_report":       get(consts.AnalystMarket),
		"fundamentals_report": get(consts.AnalystFundamentals),
		"news_report":         get(consts.AnalystNews),
		"sentiment_report":    get(consts.AnalystSocial),
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
