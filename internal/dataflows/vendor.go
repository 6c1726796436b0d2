// Package dataflows routes every outbound data request to a vendor, with
// caching, failover and an as-of cutoff for historical replays.
package dataflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// ErrEmpty is the sentinel for a vendor that answered with nothing usable.
// The router treats it like any other failure and moves on.
var ErrEmpty = errors.New("vendor returned no data")

// ErrUnsupported is returned by a vendor asked for a tool it does not serve.
var ErrUnsupported = errors.New("tool not supported by vendor")

// Vendor implements a subset of the tool catalog.
type Vendor interface {
	Name() string
	Tools() []string
	Call(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Args wraps tool arguments with typed accessors.
type Args map[string]any

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (a Args) Symbol() string {
	if s := a.String("symbol"); s != "" {
		return pkg.NormalizeSymbol(s)
	}
	return pkg.NormalizeSymbol(a.String("ticker"))
}

// Date parses key as YYYY-MM-DD; a missing or malformed value yields zero.
func (a Args) Date(key string) time.Time {
	switch v := a[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := pkg.ParseDateString(v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Window resolves [start, end] from start_date/end_date or from
// curr_date minus look_back_days.
func (a Args) Window(defaultLookBack int) (time.Time, time.Time) {
	end := a.Date("end_date")
	if end.IsZero() {
		end = a.Date("curr_date")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := a.Date("start_date")
	if start.IsZero() {
		start = end.AddDate(0, 0, -a.Int("look_back_days", defaultLookBack))
	}
	return start, end
}

// ClientVendor adapts a set of client methods to the Vendor interface. A
// nil func means the tool is not served.
type ClientVendor struct {
	VendorName   string
	History      func(ctx context.Context, symbol string, start, end time.Time) ([]pkg.Bar, error)
	Quote        func(ctx context.Context, symbol string) (*pkg.Quote, error)
	Fundamentals func(ctx context.Context, symbol string) (*pkg.Fundamentals, error)
	Insider      func(ctx context.Context, symbol string, from, to time.Time) ([]pkg.InsiderSentiment, error)
	News         func(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*pkg.NewsArticle, error)
	GlobalNews   func(ctx context.Context, start, end time.Time, limit int) ([]*pkg.NewsArticle, error)
	Social       func(ctx context.Context, symbol string, start, end time.Time, limit int) (string, error)
}

func (v *ClientVendor) Name() string { return v.VendorName }

func (v *ClientVendor) Tools() []string {
	var tools []string
	if v.History != nil {
		tools = append(tools, consts.ToolStockData)
	}
	if v.Quote != nil {
		tools = append(tools, consts.ToolQuote)
	}
	if v.Fundamentals != nil {
		tools = append(tools, consts.ToolFundamentals)
	}
	if v.Insider != nil {
		tools = append(tools, consts.ToolInsiderSentiment)
	}
	if v.News != nil {
		tools = append(tools, consts.ToolNews)
	}
	if v.GlobalNews != nil {
		tools = append(tools, consts.ToolGlobalNews)
	}
	if v.Social != nil {
		tools = append(tools, consts.ToolSocialSentiment)
	}
	return tools
}

func (v *ClientVendor) Call(ctx context.Context, tool string, raw map[string]any) (string, error) {
	args := Args(raw)
	symbol := args.Symbol()
	needsSymbol := tool != consts.ToolGlobalNews

	if needsSymbol && symbol == "" {
		return "", fmt.Errorf("%s: symbol is required", tool)
	}

	switch tool {
	case consts.ToolStockData:
		if v.History == nil {
			break
		}
		start, end := args.Window(365)
		bars, err := v.History(ctx, symbol, start, end)
		if err != nil {
			return "", err
		}
		bars = pkg.FilterBars(bars, start, end)
		if len(bars) == 0 {
			return "", ErrEmpty
		}
		return FormatStockData(symbol, v.VendorName, start, end, bars), nil

	case consts.ToolQuote:
		if v.Quote == nil {
			break
		}
		q, err := v.Quote(ctx, symbol)
		if err != nil {
			return "", err
		}
		if q == nil || q.Price <= 0 {
			return "", ErrEmpty
		}
		if q.Source == "" {
			q.Source = v.VendorName
		}
		return EncodeQuote(q)

	case consts.ToolFundamentals:
		if v.Fundamentals == nil {
			break
		}
		f, err := v.Fundamentals(ctx, symbol)
		if err != nil {
			return "", err
		}
		if f == nil {
			return "", ErrEmpty
		}
		return FormatFundamentals(f), nil

	case consts.ToolInsiderSentiment:
		if v.Insider == nil {
			break
		}
		start, end := args.Window(90)
		rows, err := v.Insider(ctx, symbol, start, end)
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return "", ErrEmpty
		}
		return FormatInsiderSentiment(symbol, rows), nil

	case consts.ToolNews:
		if v.News == nil {
			break
		}
		start, end := args.Window(7)
		articles, err := v.News(ctx, symbol, start, end, args.Int("limit", 20))
		if err != nil {
			return "", err
		}
		if len(articles) == 0 {
			return "", ErrEmpty
		}
		return FormatNews(symbol+" News", start, end, articles), nil

	case consts.ToolGlobalNews:
		if v.GlobalNews == nil {
			break
		}
		start, end := args.Window(7)
		articles, err := v.GlobalNews(ctx, start, end, args.Int("limit", 10))
		if err != nil {
			return "", err
		}
		if len(articles) == 0 {
			return "", ErrEmpty
		}
		return FormatNews("Global Market News", start, end, articles), nil

	case consts.ToolSocialSentiment:
		if v.Social == nil {
			break
		}
		start, end := args.Window(7)
		text, err := v.Social(ctx, symbol, start, end, args.Int("limit", 30))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrEmpty
		}
		return text, nil
	}
	return "", fmt.Errorf("%s/%s: %w", v.VendorName, tool, ErrUnsupported)
}

// FormatStockData renders a commented CSV block readable by ParseBarsCSV.
func FormatStockData(symbol, source string, start, end time.Time, bars []pkg.Bar) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Stock data for %s from %s to %s\n", symbol, start.Format(pkg.DateLayout), end.Format(pkg.DateLayout))
	fmt.Fprintf(&sb, "# Total records: %d\n", len(bars))
	fmt.Fprintf(&sb, "# Source: %s\n\n", source)
	sb.WriteString(pkg.FormatBarsCSV(bars))
	return sb.String()
}

func FormatFundamentals(f *pkg.Fundamentals) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Fundamentals for %s (%s)\n\n", f.Symbol, f.Source)
	if f.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n", f.Name)
	}
	if f.Sector != "" {
		fmt.Fprintf(&sb, "Sector: %s\n", f.Sector)
	}
	if f.Country != "" {
		fmt.Fprintf(&sb, "Country: %s\n", f.Country)
	}
	keys := make([]string, 0, len(f.Metrics))
	for k := range f.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString("\n| Metric | Value |\n|---|---|\n")
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "| %s | %.4g |\n", k, f.Metrics[k])
	}
	return sb.String()
}

func FormatInsiderSentiment(symbol string, rows []pkg.InsiderSentiment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s Insider Sentiment (MSPR ranges -100 to 100):\n\n", symbol)
	for _, r := range rows {
		fmt.Fprintf(&sb, "### %d-%02d:\nChange: %d\nMonthly Share Purchase Ratio: %.2f\n\n", r.Year, r.Month, r.Change, r.MSPR)
	}
	return sb.String()
}

func FormatNews(title string, start, end time.Time, articles []*pkg.NewsArticle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s, from %s to %s:\n\n", title, start.Format(pkg.DateLayout), end.Format(pkg.DateLayout))
	for _, a := range articles {
		fmt.Fprintf(&sb, "### %s (source: %s, %s)\n", a.Title, a.Source, a.PublishedAt.Format(pkg.DateLayout))
		if a.Content != "" {
			sb.WriteString(a.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
