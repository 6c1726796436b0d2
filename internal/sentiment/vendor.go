package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Vendor serves get_social_sentiment through the router.
type Vendor struct {
	fetcher *Fetcher
}

func NewVendor(f *Fetcher) *Vendor { return &Vendor{fetcher: f} }

func (v *Vendor) Name() string { return consts.VendorSocial }

func (v *Vendor) Tools() []string { return []string{consts.ToolSocialSentiment} }

// Call fetches live chatter. A request pinned to a past as_of date fails,
// since the feeds cannot be replayed and would leak later posts.
func (v *Vendor) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if tool != consts.ToolSocialSentiment {
		return "", fmt.Errorf("%s does not serve %s", v.Name(), tool)
	}
	symbol, _ := args["symbol"].(string)
	if symbol == "" {
		symbol, _ = args["ticker"].(string)
	}
	if asOf, ok := args["as_of"].(string); ok && asOf != "" {
		if t, err := time.Parse(pkg.DateLayout, asOf); err == nil && t.Before(v.fetcher.now().AddDate(0, 0, -1)) {
			return "", fmt.Errorf("social: no historical feed for %s", asOf)
		}
	}
	timeRange, _ := args["time_range"].(string)
	if timeRange == "" {
		timeRange = "24h"
		if days := lookBackDays(args); days > 1 {
			timeRange = "7d"
		}
	}
	report, err := v.fetcher.Fetch(ctx, Request{Ticker: symbol, TimeRange: timeRange})
	if err != nil {
		return "", err
	}
	if len(report.Messages) == 0 {
		return "", fmt.Errorf("social: no messages for %s (%d source errors)", report.Ticker, len(report.Errors))
	}
	return FormatReport(report), nil
}

func lookBackDays(args map[string]any) int {
	switch n := args["look_back_days"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// FormatReport renders a report for an analyst prompt.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Social sentiment for %s (last %s)\n\n", r.Ticker, r.TimeRange)
	fmt.Fprintf(&b, "Overall: %.2f (confidence %.2f, method %s)\n", r.Score.Overall, r.Score.Confidence, r.Score.Method)
	fmt.Fprintf(&b, "Bullish/Bearish: %d%% / %d%%\n", r.SentimentRatio.Bullish, r.SentimentRatio.Bearish)
	for _, src := range r.Sources {
		fmt.Fprintf(&b, "- %s: %d messages\n", src, r.SourceCounts[src])
	}
	if len(r.Score.BullishArgs) > 0 {
		b.WriteString("\nBullish arguments:\n")
		for _, a := range r.Score.BullishArgs {
			b.WriteString("- " + a + "\n")
		}
	}
	if len(r.Score.BearishArgs) > 0 {
		b.WriteString("\nBearish arguments:\n")
		for _, a := range r.Score.BearishArgs {
			b.WriteString("- " + a + "\n")
		}
	}
	if len(r.Score.Themes) > 0 {
		b.WriteString("\nThemes: " + strings.Join(r.Score.Themes, ", ") + "\n")
	}
	if len(r.TopAccounts) > 0 {
		b.WriteString("\nMost active accounts:\n")
		for _, a := range r.TopAccounts {
			fmt.Fprintf(&b, "- %s (%s): %d mentions\n", a.Account, a.Source, a.Mentions)
		}
	}
	b.WriteString("\nRecent messages:\n")
	for i, m := range r.Messages {
		if i == 15 {
			break
		}
		text := m.Text
		if len(text) > 240 {
			text = text[:240] + "..."
		}
		label := m.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(&b, "- [%s %s @%s %s] %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Source, m.Author, label, text)
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings: " + strings.Join(r.Warnings, "; ") + "\n")
	}
	return b.String()
}
