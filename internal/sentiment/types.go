// Package sentiment gathers social chatter about a ticker from Nitter
// mirrors, Stocktwits and Reddit and scores it.
package sentiment

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

const (
	SourceTwitter    = "twitter"
	SourceStocktwits = "stocktwits"
	SourceReddit     = "reddit"
)

var AllSources = []string{SourceTwitter, SourceStocktwits, SourceReddit}

// TimeRanges are the accepted look-back windows.
var TimeRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

const (
	LabelBullish = "bullish"
	LabelBearish = "bearish"
)

// Message is one post from any source. Label is the author's own tag
// (Stocktwits) or the scorer's verdict.
type Message struct {
	Source    string    `json:"source"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tickers   []string  `json:"tickers"`
	Label     string    `json:"label,omitempty"`
	Sentiment *float64  `json:"sentiment,omitempty"`
}

type Ratio struct {
	Bullish int `json:"bullish"`
	Bearish int `json:"bearish"`
}

type AccountMentions struct {
	Account  string `json:"account"`
	Source   string `json:"source"`
	Mentions int    `json:"mentions"`
}

type Score struct {
	Overall     float64  `json:"overall"`
	Confidence  float64  `json:"confidence"`
	BullishArgs []string `json:"bullish_args,omitempty"`
	BearishArgs []string `json:"bearish_args,omitempty"`
	Themes      []string `json:"themes,omitempty"`
	Method      string   `json:"method"`
}

type Report struct {
	Ticker         string            `json:"ticker"`
	TimeRange      string            `json:"time_range"`
	Sources        []string          `json:"sources"`
	Messages       []Message         `json:"messages"`
	SourceCounts   map[string]int    `json:"source_counts"`
	SentimentRatio Ratio             `json:"sentiment_ratio"`
	Score          Score             `json:"score"`
	TopAccounts    []AccountMentions `json:"top_accounts"`
	Errors         []string          `json:"errors"`
	Warnings       []string          `json:"warnings"`
	FetchedAt      time.Time         `json:"fetched_at"`
}

type Request struct {
	Ticker    string
	TimeRange string
	Sources   []string
	// Accounts overrides the configured Twitter accounts.
	Accounts []string
}

func (r *Request) normalize() error {
	r.Ticker = pkg.NormalizeSymbol(r.Ticker)
	if err := pkg.ValidateSymbol(r.Ticker); err != nil {
		return err
	}
	if r.TimeRange == "" {
		r.TimeRange = "24h"
	}
	if _, ok := TimeRanges[r.TimeRange]; !ok {
		return fmt.Errorf("unsupported time range %q", r.TimeRange)
	}
	if len(r.Sources) == 0 {
		r.Sources = AllSources
	}
	for _, s := range r.Sources {
		if !slices.Contains(AllSources, s) {
			return fmt.Errorf("unsupported source %q", s)
		}
	}
	return nil
}

var tagPattern = regexp.MustCompile(`[$#]([A-Za-z]{1,5})\b`)

// ExtractTickers returns the cashtags and hashtags in text, upper-cased,
// plus focus when it appears as a bare word.
func ExtractTickers(text, focus string) []string {
	var out []string
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		sym := pkg.NormalizeSymbol(m[1])
		if !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	if focus != "" && !slices.Contains(out, focus) && pkg.MentionsSymbol(text, focus) {
		out = append(out, focus)
	}
	return out
}
