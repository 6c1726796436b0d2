package display

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/service"
)

// WriteMarkdown writes content to dir/name, creating dir when needed.
func WriteMarkdown(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return path, nil
}

// SaveReport writes the full markdown report, one file per analyst report
// and the raw state as JSON under root/TICKER/DATE. It returns the
// directory it wrote to.
func SaveReport(root string, res *service.AnalyzeResult) (string, error) {
	dir := filepath.Join(root, res.Ticker, res.TradeDate)
	if _, err := WriteMarkdown(dir, "report.md", Markdown(res)); err != nil {
		return "", err
	}
	for _, name := range res.SelectedAnalysts {
		if text := res.Report(name); text != "" {
			if _, err := WriteMarkdown(filepath.Join(dir, "reports"), name+"_report.md", text); err != nil {
				return "", err
			}
		}
	}
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	if _, err := WriteMarkdown(dir, "state.json", string(raw)); err != nil {
		return "", err
	}
	return dir, nil
}

// Markdown renders the analysis as a standalone markdown document.
func Markdown(res *service.AnalyzeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s analysis for %s\n\n", res.Ticker, res.TradeDate)
	fmt.Fprintf(&b, "- **Decision:** %s\n", res.FinalDecision)
	fmt.Fprintf(&b, "- **Confidence:** %.2f\n", res.Confidence)
	fmt.Fprintf(&b, "- **Run:** %s\n", res.RunID)
	if res.Cancelled {
		fmt.Fprintf(&b, "- **Cancelled** at stage `%s`\n", res.Stage)
	}
	if res.LowConfidence {
		b.WriteString("- **Low confidence** decision\n")
	}
	if len(res.Placeholders) > 0 {
		fmt.Fprintf(&b, "- **Placeholder reports:** %s\n", strings.Join(res.Placeholders, ", "))
	}

	b.WriteString("\n## Analyst reports\n")
	for _, name := range res.SelectedAnalysts {
		mdSection(&b, "###", consts.DisplayNames[consts.AnalystNodes[name]], res.Report(name))
	}

	debate := res.InvestmentDebateState
	mdSection(&b, "##", "Research debate", debate.Transcript())
	mdSection(&b, "###", consts.Agent_ResearchManager, debate.JudgeDecision)
	mdSection(&b, "##", "Trading plan", res.InvestmentPlan)
	mdSection(&b, "##", "Risk committee", res.RiskDebateState.Transcript())
	mdSection(&b, "##", "Final decision", res.FinalTradeDecision)

	if len(res.CoachPlans) > 0 {
		b.WriteString("\n## Coach plans\n")
		for _, coach := range slices.Sorted(maps.Keys(res.CoachPlans)) {
			plan := res.CoachPlans[coach]
			mdSection(&b, "###", coach, plan.Plan)
			for _, chart := range plan.Charts {
				fmt.Fprintf(&b, "![%s](%s)\n", coach, chart)
			}
		}
	}
	return b.String()
}

func mdSection(b *strings.Builder, level, title, text string) {
	fmt.Fprintf(b, "\n%s %s\n\n", level, title)
	if text = strings.TrimSpace(text); text == "" {
		b.WriteString("_No data._\n")
		return
	}
	b.WriteString(text + "\n")
}
