package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/llm"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

var testNow = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

func stocktwitsServer(t *testing.T, bullish, bearish int) *httptest.Server {
	t.Helper()
	type msg map[string]any
	var msgs []msg
	add := func(label string, i int) {
		msgs = append(msgs, msg{
			"id":         i,
			"body":       fmt.Sprintf("$AAPL message %d", i),
			"created_at": testNow.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
			"user":       map[string]any{"username": fmt.Sprintf("user%d", i%3)},
			"symbols":    []map[string]any{{"symbol": "AAPL"}},
			"entities":   map[string]any{"sentiment": map[string]any{"basic": label}},
		})
	}
	for i := 0; i < bullish; i++ {
		add("Bullish", i)
	}
	for i := bullish; i < bullish+bearish; i++ {
		add("Bearish", i)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streams/symbol/AAPL.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": map[string]any{"status": 200}, "messages": msgs})
	}))
}

func failingMirror(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
}

func testConfig(mirrors []string, stocktwitsURL string) *config.Config {
	cfg := config.DefaultConfigWithRoot("/tmp")
	cfg.Social.NitterMirrors = mirrors
	cfg.Social.Accounts = []string{"unusual_whales"}
	cfg.Social.MirrorSpacing = 0
	cfg.Social.RequestTimeout = 2 * time.Second
	cfg.Social.StocktwitsURL = stocktwitsURL
	return cfg
}

func TestFetchAllMirrorsDownStocktwitsUp(t *testing.T) {
	var hits atomic.Int32
	m1, m2, m3 := failingMirror(t, &hits), failingMirror(t, &hits), failingMirror(t, &hits)
	defer m1.Close()
	defer m2.Close()
	defer m3.Close()
	st := stocktwitsServer(t, 7, 3)
	defer st.Close()

	cfg := testConfig([]string{m1.URL, m2.URL, m3.URL}, st.URL)
	f := NewFetcher(cfg, WithClock(func() time.Time { return testNow }))

	report, err := f.Fetch(context.Background(), Request{
		Ticker:  "aapl",
		Sources: []string{SourceTwitter, SourceStocktwits},
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", report.Ticker)
	assert.Len(t, report.Messages, 10)
	assert.Equal(t, Ratio{Bullish: 70, Bearish: 30}, report.SentimentRatio)
	assert.Len(t, report.Errors, 3)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, 10, report.SourceCounts[SourceStocktwits])
	assert.InDelta(t, 0.4, report.Score.Overall, 1e-9)
	assert.Equal(t, "lexicon", report.Score.Method)
	assert.LessOrEqual(t, len(report.TopAccounts), 5)
}

func TestNitterFirstHealthyMirrorWins(t *testing.T) {
	var badHits atomic.Int32
	bad := failingMirror(t, &badHits)
	defer bad.Close()
	var goodHits atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		assert.Equal(t, "/DeItaone/rss", r.URL.Path)
		fmt.Fprintf(w, `<?xml version="1.0"?><rss><channel><title>x</title>
<item><title>$AAPL breakout to new highs</title><link>https://x/1</link><pubDate>%s</pubDate></item>
<item><title>Fed minutes at 2pm</title><link>https://x/2</link><pubDate>%s</pubDate></item>
</channel></rss>`, testNow.Add(-time.Hour).Format(time.RFC1123Z), testNow.Add(-2*time.Hour).Format(time.RFC1123Z))
	}))
	defer good.Close()

	c := NewNitterClient([]string{bad.URL, good.URL}, pkg.HTTPOptions{Timeout: time.Second}, 0)
	for i := 0; i < 4; i++ {
		msgs, failures := c.FetchAccount(context.Background(), "@DeItaone")
		require.Len(t, msgs, 2)
		assert.LessOrEqual(t, len(failures), 1)
		assert.Equal(t, "DeItaone", msgs[0].Author)
	}
	// rotation alternates the starting mirror, so the bad one is tried only
	// when the cursor lands on it
	assert.EqualValues(t, 4, goodHits.Load())
	assert.EqualValues(t, 2, badHits.Load())
}

func TestFetchFiltersByTickerAndWindow(t *testing.T) {
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<rss><channel>
<item><title>$AAPL looks strong, buying calls</title><pubDate>%s</pubDate></item>
<item><title>MSFT earnings</title><pubDate>%s</pubDate></item>
<item><title>AAPL old news</title><pubDate>%s</pubDate></item>
</channel></rss>`,
			testNow.Add(-time.Hour).Format(time.RFC1123Z),
			testNow.Add(-time.Hour).Format(time.RFC1123Z),
			testNow.Add(-72*time.Hour).Format(time.RFC1123Z))
	}))
	defer mirror.Close()

	cfg := testConfig([]string{mirror.URL}, "")
	f := NewFetcher(cfg, WithClock(func() time.Time { return testNow }))
	report, err := f.Fetch(context.Background(), Request{Ticker: "AAPL", TimeRange: "24h", Sources: []string{SourceTwitter}})
	require.NoError(t, err)
	require.Len(t, report.Messages, 1)
	assert.Equal(t, []string{"AAPL"}, report.Messages[0].Tickers)
	assert.Equal(t, Ratio{Bullish: 100}, report.SentimentRatio)
	assert.Equal(t, []AccountMentions{{Account: "unusual_whales", Source: SourceTwitter, Mentions: 1}}, report.TopAccounts)
}

func TestFetchValidation(t *testing.T) {
	f := NewFetcher(testConfig(nil, ""))
	_, err := f.Fetch(context.Background(), Request{Ticker: "AAPL", TimeRange: "2w"})
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = f.Fetch(context.Background(), Request{Ticker: "AAPL", Sources: []string{"myspace"}})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

type fakeReddit struct{ err error }

func (f fakeReddit) GetStockMentions(_ context.Context, symbol string, _ int) ([]*pkg.RedditPost, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*pkg.RedditPost{
		{Author: "dd_guy", Title: symbol + " is undervalued", CreatedAt: testNow.Add(-time.Hour)},
		{Author: "bear_guy", Title: "TSLA puts", CreatedAt: testNow.Add(-time.Hour)},
	}, nil
}

func TestFetchRedditSource(t *testing.T) {
	f := NewFetcher(testConfig(nil, ""), WithReddit(fakeReddit{}), WithClock(func() time.Time { return testNow }))
	report, err := f.Fetch(context.Background(), Request{Ticker: "AAPL", Sources: []string{SourceReddit}})
	require.NoError(t, err)
	require.Len(t, report.Messages, 1)
	assert.Equal(t, SourceReddit, report.Messages[0].Source)

	f = NewFetcher(testConfig(nil, ""), WithReddit(fakeReddit{err: errors.New("429")}))
	report, err = f.Fetch(context.Background(), Request{Ticker: "AAPL", Sources: []string{SourceReddit}})
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1)
}

func TestLLMScorerAndFallback(t *testing.T) {
	st := stocktwitsServer(t, 2, 1)
	defer st.Close()
	cfg := testConfig(nil, st.URL)
	req := Request{Ticker: "AAPL", Sources: []string{SourceStocktwits}}
	clock := WithClock(func() time.Time { return testNow })

	good := &llm.Script{Default: "```json\n{\"overall\": 0.6, \"confidence\": 0.8, \"bullish_args\": [\"iphone cycle\"], \"themes\": [\"ai\"]}\n```"}
	f := NewFetcher(cfg, clock, WithScorer(NewLLMScorer(good, "quick", 2)))
	report, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "llm", report.Score.Method)
	assert.InDelta(t, 0.6, report.Score.Overall, 1e-9)
	assert.Equal(t, []string{"iphone cycle"}, report.Score.BullishArgs)
	assert.Len(t, good.Calls(), 2)

	garbage := &llm.Script{Default: "I think it is fine"}
	f = NewFetcher(cfg, clock, WithScorer(NewLLMScorer(garbage, "quick", 20)))
	report, err = f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "lexicon", report.Score.Method)
	assert.NotEmpty(t, report.Warnings)
}

func TestLexicon(t *testing.T) {
	s := ScoreLexicon([]Message{
		{Text: "bullish breakout, buying calls"},
		{Text: "this will crash"},
		{Text: "nothing here"},
	})
	assert.InDelta(t, 0.6, s.Overall, 1e-9)
	assert.InDelta(t, 2.0/3.0, s.Confidence, 1e-9)
	assert.Equal(t, Score{Method: "lexicon"}, ScoreLexicon(nil))
	assert.Equal(t, Ratio{}, SentimentRatio([]Message{{Text: "meh"}}))
}

func TestExtractTickers(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, ExtractTickers("$aapl and #MSFT", "NVDA"))
	assert.Equal(t, []string{"NVDA"}, ExtractTickers("NVDA ripping", "NVDA"))
	assert.Empty(t, ExtractTickers("nothing", "NVDA"))
}

func TestVendorCall(t *testing.T) {
	st := stocktwitsServer(t, 1, 0)
	defer st.Close()
	f := NewFetcher(testConfig(nil, st.URL), WithClock(func() time.Time { return testNow }))
	v := NewVendor(f)
	assert.Equal(t, consts.VendorSocial, v.Name())

	out, err := v.Call(context.Background(), consts.ToolSocialSentiment, map[string]any{"symbol": "AAPL", "time_range": "24h"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "## Social sentiment for AAPL"))

	_, err = v.Call(context.Background(), consts.ToolSocialSentiment, map[string]any{"symbol": "AAPL", "as_of": "2023-01-05"})
	require.Error(t, err)
}
