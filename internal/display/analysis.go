package display

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/service"
)

// ResultsDisplay renders one analysis result for the terminal.
type ResultsDisplay struct {
	out io.Writer
	now func() time.Time
}

func NewResultsDisplay(out io.Writer) *ResultsDisplay {
	return &ResultsDisplay{out: out, now: time.Now}
}

func (d *ResultsDisplay) Show(res *service.AnalyzeResult) {
	d.header(res)
	d.summary(res)
	d.reports(res)
	d.debate(res)
	d.trader(res)
	d.riskCommittee(res)
	d.final(res)
	d.coach(res)
	d.footer()
}

func (d *ResultsDisplay) println(s string) {
	fmt.Fprintln(d.out, s)
}

func (d *ResultsDisplay) header(res *service.AnalyzeResult) {
	d.println("")
	d.println(headerStyle.Render(fmt.Sprintf("ANALYSIS RESULTS FOR %s\nTrade date: %s    Run: %s", res.Ticker, res.TradeDate, res.RunID)))
	d.println("")
}

func (d *ResultsDisplay) summary(res *service.AnalyzeResult) {
	d.println(section("EXECUTIVE SUMMARY"))
	d.println(fmt.Sprintf("   Decision:   %s", actionStyle(res.FinalDecision).Render(res.FinalDecision)))
	d.println(fmt.Sprintf("   Confidence: %.2f", res.Confidence))
	d.println(fmt.Sprintf("   Analysts:   %s", strings.Join(res.SelectedAnalysts, ", ")))
	d.println(fmt.Sprintf("   Elapsed:    %.1fs", res.ExecutionTimeSeconds))
	switch {
	case res.Cancelled:
		d.println("   " + errorStyle.Render("Run cancelled at stage "+res.Stage+"; decision defaulted to HOLD"))
	case res.Terminal():
		d.println("   " + completedStyle.Render("Run complete"))
	default:
		d.println("   " + inProgressStyle.Render("Run stopped at stage "+res.Stage))
	}
	if res.LowConfidence {
		d.println("   " + inProgressStyle.Render("Low confidence: no clear action token in the final decision"))
	}
	if len(res.Placeholders) > 0 {
		d.println("   " + inProgressStyle.Render("Placeholder reports: "+strings.Join(res.Placeholders, ", ")))
	}
	d.println("")
}

func (d *ResultsDisplay) reports(res *service.AnalyzeResult) {
	d.println(section("ANALYST REPORTS"))
	for _, name := range res.SelectedAnalysts {
		d.println(titleStyle.Render(consts.DisplayNames[consts.AnalystNodes[name]]))
		d.println(body(res.Report(name)))
		d.println("")
	}
}

func (d *ResultsDisplay) debate(res *service.AnalyzeResult) {
	debate := res.InvestmentDebateState
	d.println(section(fmt.Sprintf("RESEARCH DEBATE (%d turns)", debate.TurnCount)))
	d.println(body(debate.Transcript()))
	d.println(titleStyle.Render(consts.Agent_ResearchManager))
	d.println(body(debate.JudgeDecision))
	d.println("")
}

func (d *ResultsDisplay) trader(res *service.AnalyzeResult) {
	d.println(section("TRADING PLAN"))
	d.println(body(res.InvestmentPlan))
	d.println("")
}

func (d *ResultsDisplay) riskCommittee(res *service.AnalyzeResult) {
	risk := res.RiskDebateState
	d.println(section(fmt.Sprintf("RISK COMMITTEE (%d turns)", risk.TurnCount)))
	d.println(body(risk.Transcript()))
	d.println("")
}

func (d *ResultsDisplay) final(res *service.AnalyzeResult) {
	d.println(section("FINAL DECISION"))
	d.println(body(res.FinalTradeDecision))
	if dec := res.Decision; dec != nil && (dec.StopLoss > 0 || dec.Target > 0) {
		levels := fmt.Sprintf("   Entry %.2f  Stop %.2f  Target %.2f", dec.Price, dec.StopLoss, dec.Target)
		if dec.Adjusted {
			levels += mutedStyle.Render("  (levels filled in)")
		}
		d.println(levels)
	}
	d.println("")
}

func (d *ResultsDisplay) coach(res *service.AnalyzeResult) {
	if len(res.CoachPlans) == 0 {
		return
	}
	d.println(section("COACH PLANS"))
	for _, coach := range slices.Sorted(maps.Keys(res.CoachPlans)) {
		plan := res.CoachPlans[coach]
		d.println(titleStyle.Render(coach))
		d.println(body(plan.Plan))
		for _, chart := range plan.Charts {
			d.println("   " + mutedStyle.Render(chart))
		}
	}
	d.println("")
}

func (d *ResultsDisplay) footer() {
	d.println(mutedStyle.Render(strings.Repeat("═", width)))
	d.println(mutedStyle.Render("Generated " + d.now().Format("2006-01-02 15:04:05")))
	d.println(mutedStyle.Render("For research only. Not financial advice."))
	d.println("")
}

func Success(w io.Writer, msg string) {
	fmt.Fprintln(w, completedStyle.Render("✓ "+msg))
}

func Warning(w io.Writer, msg string) {
	fmt.Fprintln(w, inProgressStyle.Render("! "+msg))
}

func Error(w io.Writer, err error, context string) {
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("✗ %s: %v", context, err)))
}

func Info(w io.Writer, msg string) {
	fmt.Fprintln(w, mutedStyle.Render(msg))
}
