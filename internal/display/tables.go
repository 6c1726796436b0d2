package display

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dyike/stockdesk/internal/backtest"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return sectionStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + "%" }

// Backtest prints the performance summary, the trade log and, when
// present, the walk-forward windows.
func Backtest(w io.Writer, res *service.BacktestResult) {
	fmt.Fprintln(w, section("BACKTEST "+res.Ticker))
	p := res.Performance
	summary := newTable("Metric", "Value").
		Row("Total return", money(p.TotalReturn)).
		Row("Total return %", pct(p.TotalReturnPct)).
		Row("Sharpe ratio", strconv.FormatFloat(p.SharpeRatio, 'f', 3, 64)).
		Row("Max drawdown", money(p.MaxDrawdown)).
		Row("Max drawdown %", pct(p.MaxDrawdownPct)).
		Row("Win rate", pct(p.WinRate)).
		Row("Trades", strconv.Itoa(p.TotalTrades)).
		Row("Final balance", money(p.FinalBalance))
	fmt.Fprintln(w, summary.String())

	if len(res.Trades) > 0 {
		trades := newTable("Date", "Side", "Shares", "Price", "Commission", "Slippage", "P&L")
		for _, t := range res.Trades {
			trades.Row(t.Date, t.Side, strconv.FormatInt(t.Shares, 10), money(t.Price), money(t.Commission), money(t.Slippage), money(t.PnL))
		}
		fmt.Fprintln(w, trades.String())
	} else {
		fmt.Fprintln(w, body(""))
	}
	if len(res.SkippedDays) > 0 {
		Warning(w, fmt.Sprintf("%d trading days skipped: %s", len(res.SkippedDays), strings.Join(res.SkippedDays, ", ")))
	}
	if res.WalkForward != nil {
		WalkForward(w, res.WalkForward)
	}
}

func WalkForward(w io.Writer, wf *backtest.WalkForwardResult) {
	fmt.Fprintln(w, section("WALK-FORWARD "+wf.Ticker))
	t := newTable("In sample", "Out of sample", "In return %", "Out return %")
	for i, win := range wf.Windows {
		var in, out string
		if i < len(wf.Pairs) {
			in, out = pct(wf.Pairs[i].InSample), pct(wf.Pairs[i].OutOfSample)
		}
		t.Row(win.InStart+" → "+win.InEnd, win.OutStart+" → "+win.OutEnd, in, out)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "   Overfitting score: %.1f / 100\n", wf.OverfittingScore)
}

func Risk(w io.Writer, a *risk.Assessment) {
	fmt.Fprintln(w, section("RISK "+a.Ticker))
	ps, rr := a.PositionSizing, a.RiskReward
	t := newTable("Metric", "Value").
		Row("Recommended shares", strconv.Itoa(ps.RecommendedShares)).
		Row("Position value", money(ps.PositionValue)).
		Row("Position % of account", pct(ps.PositionPctOfAccount)).
		Row("Risk amount", money(ps.RiskAmount)).
		Row("Risk per share", money(ps.RiskPerShare)).
		Row("Stop loss", money(ps.StopLossPrice))
	if rr.TargetPrice > 0 {
		t.Row("Target", money(rr.TargetPrice)).
			Row("Potential profit", money(rr.PotentialProfit)).
			Row("Potential loss", money(rr.PotentialLoss)).
			Row("Reward : risk", strconv.FormatFloat(rr.RiskRewardRatio, 'f', 2, 64))
	}
	fmt.Fprintln(w, t.String())
	for _, warn := range a.Warnings {
		Warning(w, warn)
	}
}

func Sentiment(w io.Writer, r *sentiment.Report) {
	fmt.Fprintln(w, section(fmt.Sprintf("SENTIMENT %s (%s)", r.Ticker, r.TimeRange)))
	fmt.Fprintf(w, "   Score %.2f  confidence %.2f  (%s)\n", r.Score.Overall, r.Score.Confidence, r.Score.Method)
	fmt.Fprintf(w, "   Bullish %d  Bearish %d  Messages %d\n", r.SentimentRatio.Bullish, r.SentimentRatio.Bearish, len(r.Messages))

	if len(r.SourceCounts) > 0 {
		t := newTable("Source", "Messages")
		for _, src := range slices.Sorted(maps.Keys(r.SourceCounts)) {
			t.Row(src, strconv.Itoa(r.SourceCounts[src]))
		}
		fmt.Fprintln(w, t.String())
	}
	if len(r.TopAccounts) > 0 {
		t := newTable("Account", "Source", "Mentions")
		for _, a := range r.TopAccounts {
			t.Row(a.Account, a.Source, strconv.Itoa(a.Mentions))
		}
		fmt.Fprintln(w, t.String())
	}
	if len(r.Score.Themes) > 0 {
		fmt.Fprintln(w, "   Themes: "+strings.Join(r.Score.Themes, ", "))
	}
	for _, e := range r.Errors {
		Warning(w, e)
	}
	for _, warn := range r.Warnings {
		Warning(w, warn)
	}
}

func Stats(w io.Writer, s dataflows.Stats) {
	c := s.Cache
	t := newTable("Counter", "Value").
		Row("Cache entries", fmt.Sprintf("%d / %d", c.Entries, c.Capacity)).
		Row("Cache hits", strconv.FormatUint(c.Hits, 10)).
		Row("Cache misses", strconv.FormatUint(c.Misses, 10)).
		Row("Stale serves", strconv.FormatUint(c.StaleServes, 10)).
		Row("Evictions", strconv.FormatUint(c.Evictions, 10)).
		Row("Vendor calls", strconv.FormatUint(s.VendorCalls, 10)).
		Row("Vendor failures", strconv.FormatUint(s.VendorFailures, 10)).
		Row("Coalesced", strconv.FormatUint(s.Coalesced, 10)).
		Row("Redis hits", strconv.FormatUint(s.StoreHits, 10))
	fmt.Fprintln(w, t.String())
}
