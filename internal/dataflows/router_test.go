package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/cache"
	"github.com/dyike/stockdesk/internal/errs"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

type fakeVendor struct {
	name  string
	tools []string
	delay time.Duration
	calls atomic.Int32
	fn    func(ctx context.Context, tool string, args map[string]any) (string, error)
}

func (f *fakeVendor) Name() string    { return f.name }
func (f *fakeVendor) Tools() []string { return f.tools }

func (f *fakeVendor) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(ctx, tool, args)
}

func staticVendor(name, data string, tools ...string) *fakeVendor {
	return &fakeVendor{name: name, tools: tools, fn: func(context.Context, string, map[string]any) (string, error) {
		return data, nil
	}}
}

func failingVendor(name string, tools ...string) *fakeVendor {
	return &fakeVendor{name: name, tools: tools, fn: func(context.Context, string, map[string]any) (string, error) {
		return "", errors.New("boom")
	}}
}

func quoteVendor(name string, price float64) *fakeVendor {
	return &fakeVendor{name: name, tools: []string{consts.ToolQuote}, fn: func(_ context.Context, _ string, args map[string]any) (string, error) {
		return EncodeQuote(&pkg.Quote{Symbol: Args(args).Symbol(), Price: price, Source: name})
	}}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.VendorTimeout = time.Second
	cfg.Vendors.ToolVendors = map[string]string{}
	cfg.Vendors.CategoryVendors = map[string]string{consts.CategoryNews: "a"}
	cfg.Vendors.Fallbacks = map[string][]string{consts.ToolNews: {"b", "c"}}
	return cfg
}

func newTestRouter(cfg *config.Config, vendors ...Vendor) *Router {
	reg := NewRegistry()
	for _, v := range vendors {
		reg.Register(v)
	}
	return NewRouter(cfg, reg)
}

func newsArgs() map[string]any {
	return map[string]any{"symbol": "AAPL", "start_date": "2024-01-01", "end_date": "2024-01-05"}
}

func TestResolveOrder(t *testing.T) {
	cfg := testConfig()
	r := newTestRouter(cfg,
		staticVendor("c", "c", consts.ToolNews),
		staticVendor("a", "a", consts.ToolNews),
		staticVendor("b", "b", consts.ToolNews),
		staticVendor("d", "d", consts.ToolNews),
		staticVendor("q", "q", consts.ToolQuote),
	)

	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Resolve(consts.ToolNews, nil))

	cfg.Vendors.ToolVendors[consts.ToolNews] = "d"
	assert.Equal(t, []string{"d", "b", "c", "a"}, r.Resolve(consts.ToolNews, nil))

	assert.Equal(t, []string{"c", "b", "a", "d"}, r.Resolve(consts.ToolNews, map[string]string{consts.ToolNews: "c"}))

	// unknown or non-serving vendors are skipped
	assert.Equal(t, []string{"d", "b", "c", "a"}, r.Resolve(consts.ToolNews, map[string]string{consts.ToolNews: "q"}))
}

func TestDispatchFailover(t *testing.T) {
	a := failingVendor("a", consts.ToolNews)
	b := staticVendor("b", "news from b", consts.ToolNews)
	r := newTestRouter(testConfig(), a, b)

	resp := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.True(t, resp.OK(), resp.Error)
	assert.Equal(t, "b", resp.Vendor)
	assert.Equal(t, "news from b", resp.Text())
	assert.Equal(t, []string{"a", "b"}, resp.Tried)
}

func TestDispatchAllFailReturnsStructuredError(t *testing.T) {
	r := newTestRouter(testConfig(), failingVendor("a", consts.ToolNews), failingVendor("b", consts.ToolNews))

	resp := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.False(t, resp.OK())

	var body struct {
		Error string   `json:"error"`
		Tried []string `json:"tried"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Text()), &body))
	assert.Contains(t, body.Error, "boom")
	assert.Equal(t, []string{"a", "b"}, body.Tried)
	assert.True(t, errs.Is(resp.Err(), errs.KindVendorFailure))
}

func TestDispatchEmptyResultFailsOver(t *testing.T) {
	a := staticVendor("a", "", consts.ToolNews)
	b := staticVendor("b", "ok", consts.ToolNews)
	r := newTestRouter(testConfig(), a, b)

	resp := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.True(t, resp.OK())
	assert.Equal(t, "b", resp.Vendor)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := newTestRouter(testConfig())
	resp := r.Dispatch(context.Background(), "get_weather", nil)
	assert.False(t, resp.OK())
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestDispatchCachesWithinTTL(t *testing.T) {
	a := staticVendor("a", "cached news", consts.ToolNews)
	r := newTestRouter(testConfig(), a)

	first := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	second := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int32(1), a.calls.Load())

	// argument order does not matter for the key
	assert.Equal(t,
		CacheKey(consts.ToolNews, "a", map[string]any{"x": 1, "y": "2"}),
		CacheKey(consts.ToolNews, "a", map[string]any{"y": "2", "x": 1}))
}

func TestDispatchCoalescesConcurrentMisses(t *testing.T) {
	a := staticVendor("a", "shared", consts.ToolNews)
	a.delay = 50 * time.Millisecond
	r := newTestRouter(testConfig(), a)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), a.calls.Load())
	for _, res := range results {
		require.True(t, res.OK())
		assert.Equal(t, "shared", res.Data)
	}
}

func TestWaiterCancellationDoesNotCancelSharedCall(t *testing.T) {
	var sawCancel atomic.Bool
	a := &fakeVendor{name: "a", tools: []string{consts.ToolNews}, fn: func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		time.Sleep(80 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
			return "", ctx.Err()
		}
		return "done", nil
	}}
	r := newTestRouter(testConfig(), a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var second *Response
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		second = r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	}()

	first := r.Dispatch(ctx, consts.ToolNews, newsArgs())
	wg.Wait()

	assert.False(t, first.OK())
	require.True(t, second.OK(), second.Error)
	assert.Equal(t, "done", second.Data)
	assert.False(t, sawCancel.Load())
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestVendorTimeoutFailsOver(t *testing.T) {
	cfg := testConfig()
	cfg.VendorTimeout = 30 * time.Millisecond
	slow := &fakeVendor{name: "a", tools: []string{consts.ToolNews}, fn: func(context.Context, string, map[string]any) (string, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	}}
	r := newTestRouter(cfg, slow, staticVendor("b", "fast", consts.ToolNews))

	start := time.Now()
	resp := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.True(t, resp.OK())
	assert.Equal(t, "b", resp.Vendor)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestStaleFallback(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var fail atomic.Bool
	a := &fakeVendor{name: "a", tools: []string{consts.ToolNews}, fn: func(context.Context, string, map[string]any) (string, error) {
		if fail.Load() {
			return "", errors.New("vendor down")
		}
		return "fresh", nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	r := NewRouter(testConfig(), reg, WithCache(cache.NewLRU(16, cache.WithClock(clock))))

	require.True(t, r.Dispatch(context.Background(), consts.ToolNews, newsArgs()).OK())

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	fail.Store(true)

	resp := r.Dispatch(context.Background(), consts.ToolNews, newsArgs())
	require.True(t, resp.OK())
	assert.True(t, resp.Stale)
	assert.Equal(t, "fresh", resp.Data)
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, uint64(1), r.Stats().Cache.StaleServes)
}

func stockVendor(name string, bars []pkg.Bar, seen *[]map[string]any, mu *sync.Mutex) *fakeVendor {
	return &fakeVendor{name: name, tools: []string{consts.ToolStockData}, fn: func(_ context.Context, _ string, args map[string]any) (string, error) {
		mu.Lock()
		*seen = append(*seen, args)
		mu.Unlock()
		start, end := Args(args).Window(365)
		return FormatStockData(Args(args).Symbol(), name, start, end, bars), nil
	}}
}

func dailyBars(from string, n int, price float64) []pkg.Bar {
	d, _ := time.Parse(pkg.DateLayout, from)
	var bars []pkg.Bar
	for len(bars) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			p := price + float64(len(bars))
			bars = append(bars, pkg.Bar{Date: d, Open: p, High: p + 1, Low: p - 1, Close: p, AdjClose: p, Volume: 1000})
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func TestAsOfClampsArgsAndFiltersRows(t *testing.T) {
	var seen []map[string]any
	var mu sync.Mutex
	cfg := testConfig()
	cfg.Vendors.CategoryVendors[consts.CategoryCoreStock] = "s"
	// the vendor ignores the requested window and returns everything
	r := newTestRouter(cfg, stockVendor("s", dailyBars("2024-01-01", 20, 100), &seen, &mu))

	asOf, _ := time.Parse(pkg.DateLayout, "2024-01-10")
	ctx := ContextWithAsOf(context.Background(), asOf)
	bars, err := r.GetBars(ctx, "AAPL", asOf.AddDate(0, 0, -30), asOf.AddDate(0, 0, 30))
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "2024-01-10", seen[0]["end_date"])
	require.NotEmpty(t, bars)
	for _, b := range bars {
		assert.False(t, b.Date.After(asOf), b.Date)
	}
	assert.Equal(t, "2024-01-10", bars[len(bars)-1].Date.Format(pkg.DateLayout))
}

func TestQuoteUnderAsOfUsesLastClose(t *testing.T) {
	var seen []map[string]any
	var mu sync.Mutex
	cfg := testConfig()
	cfg.Vendors.CategoryVendors[consts.CategoryCoreStock] = "s"
	r := newTestRouter(cfg,
		stockVendor("s", dailyBars("2024-01-01", 20, 100), &seen, &mu),
		quoteVendor("live", 999),
	)

	// 2024-01-13 is a Saturday; the last close is Friday the 12th
	asOf, _ := time.Parse(pkg.DateLayout, "2024-01-13")
	resp := r.Dispatch(context.Background(), consts.ToolQuote, map[string]any{"symbol": "AAPL"}, AsOf(asOf))
	require.True(t, resp.OK(), resp.Error)
	q, err := DecodeQuote(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-12", q.Timestamp.Format(pkg.DateLayout))
	assert.Equal(t, 109.0, q.Price)
	assert.Equal(t, "s:close", q.Source)
}

func TestApplyAsOf(t *testing.T) {
	asOf, _ := time.Parse(pkg.DateLayout, "2024-03-01")
	out := ApplyAsOf(consts.ToolNews, map[string]any{"symbol": "AAPL", "start_date": "2024-02-01", "end_date": "2024-04-01"}, asOf)
	assert.Equal(t, "2024-02-01", out["start_date"])
	assert.Equal(t, "2024-03-01", out["end_date"])
	assert.Equal(t, "2024-03-01", out["as_of"])

	out = ApplyAsOf(consts.ToolFundamentals, map[string]any{"symbol": "AAPL"}, asOf)
	assert.Equal(t, "2024-03-01", out["curr_date"])

	out = ApplyAsOf(consts.ToolNews, map[string]any{"end_date": asOf}, time.Time{})
	assert.Equal(t, "2024-03-01", out["end_date"])
	_, hasCutoff := out["as_of"]
	assert.False(t, hasCutoff)
}

func TestVerifiedQuoteDisagreement(t *testing.T) {
	r := newTestRouter(testConfig(), quoteVendor("v1", 100.0), quoteVendor("v2", 100.2), quoteVendor("v3", 150.0))

	res, err := r.VerifyQuote(context.Background(), "X")
	require.NoError(t, err)
	require.Len(t, res.Sources, 3)
	assert.InDelta(t, 116.73, res.Mean, 0.005)
	assert.Greater(t, res.VariancePct, 1.0)
	assert.False(t, res.Reliable)
}

func TestVerifiedQuoteDropsFailuresAndZeros(t *testing.T) {
	cfg := testConfig()
	cfg.Quotes.VerifyWindow = 100 * time.Millisecond
	slow := quoteVendor("slow", 100.1)
	slow.delay = time.Second
	r := newTestRouter(cfg,
		quoteVendor("v1", 100.0),
		quoteVendor("v2", 100.3),
		quoteVendor("zero", 0),
		failingVendor("bad", consts.ToolQuote),
		slow,
	)

	start := time.Now()
	resp := r.Dispatch(context.Background(), consts.ToolQuote, map[string]any{"symbol": "X", "verify": true})
	assert.Less(t, time.Since(start), 800*time.Millisecond)
	require.True(t, resp.OK(), resp.Error)

	var res QuoteResult
	require.NoError(t, json.Unmarshal([]byte(resp.Data), &res))
	assert.Len(t, res.Sources, 2)
	assert.True(t, res.Reliable)
	assert.ElementsMatch(t, []string{"zero", "bad", "slow"}, res.Failed)
}

func TestSummarizeSingleSourceIsUnreliable(t *testing.T) {
	res := Summarize("X", []SourcePrice{{Source: "a", Price: 10}}, 1)
	assert.Equal(t, 10.0, res.Mean)
	assert.Zero(t, res.VariancePct)
	assert.False(t, res.Reliable)
}

func TestIndicatorVendorReadsBarsThroughRouter(t *testing.T) {
	var seen []map[string]any
	var mu sync.Mutex
	cfg := testConfig()
	cfg.Vendors.CategoryVendors[consts.CategoryCoreStock] = "s"
	cfg.Vendors.CategoryVendors[consts.CategoryIndicators] = consts.VendorLocal
	r := newTestRouter(cfg, stockVendor("s", dailyBars("2023-10-02", 80, 100), &seen, &mu))
	r.Registry().Register(NewIndicatorVendor(r.GetBars))

	resp := r.Dispatch(context.Background(), consts.ToolIndicator, map[string]any{
		"symbol": "AAPL", "indicator": "rsi", "curr_date": "2024-01-19", "look_back_days": 10,
	})
	require.True(t, resp.OK(), resp.Error)
	assert.Equal(t, consts.VendorLocal, resp.Vendor)
	assert.Contains(t, resp.Data, "## rsi values from 2024-01-09 to 2024-01-19")
	assert.Contains(t, resp.Data, "2024-01-19: 100.0000")

	bad := r.Dispatch(context.Background(), consts.ToolIndicator, map[string]any{"symbol": "AAPL", "indicator": "nope"})
	assert.False(t, bad.OK())
	assert.Contains(t, bad.Error, "not supported")
}
