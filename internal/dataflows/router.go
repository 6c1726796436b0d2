package dataflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/cache"
	"github.com/dyike/stockdesk/internal/errs"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Response is the envelope returned by Dispatch. A failed dispatch carries
// Error and the vendors tried; it is never returned as a Go error.
type Response struct {
	Tool   string   `json:"tool"`
	Vendor string   `json:"vendor,omitempty"`
	Data   string   `json:"data,omitempty"`
	Cached bool     `json:"cached,omitempty"`
	Stale  bool     `json:"stale,omitempty"`
	Error  string   `json:"error,omitempty"`
	Tried  []string `json:"tried"`
}

func (r *Response) OK() bool { return r.Error == "" }

// Text is what a tool caller sees: the data, or {error, tried} as JSON.
func (r *Response) Text() string {
	if r.OK() {
		return r.Data
	}
	b, _ := json.Marshal(struct {
		Error string   `json:"error"`
		Tried []string `json:"tried"`
	}{r.Error, r.Tried})
	return string(b)
}

// Err converts a failed response to a vendor_failure error.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return errs.New(errs.KindVendorFailure, "%s: %s (tried %v)", r.Tool, r.Error, r.Tried)
}

type Stats struct {
	Cache          cache.Stats `json:"cache"`
	VendorCalls    uint64      `json:"vendor_calls"`
	VendorFailures uint64      `json:"vendor_failures"`
	Coalesced      uint64      `json:"coalesced"`
	StoreHits      uint64      `json:"store_hits"`
}

// Router resolves tools to vendors. It is safe for concurrent use and is
// meant to live for the whole process.
type Router struct {
	cfg      atomic.Pointer[config.Config]
	registry *Registry
	l1       *cache.LRU
	l2       cache.Store
	logger   *zap.Logger
	group    singleflight.Group

	vendorCalls    atomic.Uint64
	vendorFailures atomic.Uint64
	coalesced      atomic.Uint64
	storeHits      atomic.Uint64
}

type RouterOption func(*Router)

// WithCache supplies the in-process cache, e.g. one with a test clock.
func WithCache(l *cache.LRU) RouterOption {
	return func(r *Router) { r.l1 = l }
}

// WithStore adds a shared second-level cache.
func WithStore(s cache.Store) RouterOption {
	return func(r *Router) { r.l2 = s }
}

func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func NewRouter(cfg *config.Config, reg *Registry, opts ...RouterOption) *Router {
	r := &Router{registry: reg, logger: zap.NewNop()}
	r.cfg.Store(cfg)
	for _, opt := range opts {
		opt(r)
	}
	if r.l1 == nil {
		r.l1 = cache.NewLRU(cfg.Cache.MaxEntries)
	}
	return r
}

// SetConfig swaps the routing table and timeouts; cache contents survive.
func (r *Router) SetConfig(cfg *config.Config) { r.cfg.Store(cfg) }

func (r *Router) config() *config.Config { return r.cfg.Load() }

func (r *Router) Registry() *Registry { return r.registry }

func (r *Router) Cache() *cache.LRU { return r.l1 }

func (r *Router) Stats() Stats {
	return Stats{
		Cache:          r.l1.Stats(),
		VendorCalls:    r.vendorCalls.Load(),
		VendorFailures: r.vendorFailures.Load(),
		Coalesced:      r.coalesced.Load(),
		StoreHits:      r.storeHits.Load(),
	}
}

// CacheKey is sha256 over tool, vendor and the canonical JSON of args
// (encoding/json writes map keys sorted).
func CacheKey(tool, vendor string, args map[string]any) string {
	canon, _ := json.Marshal(args)
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(vendor))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil))
}

type callOptions struct {
	overrides map[string]string
	asOf      time.Time
}

type CallOption func(*callOptions)

// Overrides pins tools to vendors for one call, ahead of configuration.
func Overrides(m map[string]string) CallOption {
	return func(o *callOptions) {
		if len(m) > 0 {
			o.overrides = m
		}
	}
}

// AsOf sets the data cutoff for one call.
func AsOf(t time.Time) CallOption {
	return func(o *callOptions) { o.asOf = t }
}

// Resolve lists vendors for tool in the order they will be tried: the
// override, tool_vendors or category_vendors choice, then the configured
// fallbacks, then any other registered vendor serving the tool.
func (r *Router) Resolve(tool string, overrides map[string]string) []string {
	cfg := r.config()
	var order []string
	add := func(name string) {
		if name == "" || slices.Contains(order, name) || !r.registry.Supports(name, tool) {
			return
		}
		order = append(order, name)
	}

	// the first primary choice that can actually serve the tool wins
	for _, name := range []string{
		overrides[tool],
		cfg.Vendors.ToolVendors[tool],
		cfg.Vendors.CategoryVendors[consts.ToolCategories[tool]],
	} {
		if len(order) > 0 {
			break
		}
		add(name)
	}
	for _, name := range cfg.Vendors.Fallbacks[tool] {
		add(name)
	}
	for _, v := range r.registry.ForTool(tool) {
		add(v.Name())
	}
	return order
}

// ResolutionTable maps every tool to its resolved vendor order.
func (r *Router) ResolutionTable() map[string][]string {
	table := make(map[string][]string, len(consts.ToolCategories))
	for tool := range consts.ToolCategories {
		table[tool] = r.Resolve(tool, nil)
	}
	return table
}

// Dispatch runs tool against the resolved vendors until one succeeds.
// Overrides and the as-of cutoff are read from ctx and may be replaced per
// call with opts.
func (r *Router) Dispatch(ctx context.Context, tool string, args map[string]any, opts ...CallOption) *Response {
	call := callOptions{overrides: OverridesFromContext(ctx), asOf: AsOfFromContext(ctx)}
	for _, opt := range opts {
		opt(&call)
	}

	resp := &Response{Tool: tool, Tried: []string{}}
	if _, ok := consts.ToolCategories[tool]; !ok {
		resp.Error = fmt.Sprintf("unknown tool %q", tool)
		return resp
	}

	if tool == consts.ToolQuote {
		if !call.asOf.IsZero() {
			return r.historicalQuote(ctx, args, call)
		}
		if v, _ := args["verify"].(bool); v {
			return r.verifiedQuote(ctx, args)
		}
	}

	cfg := r.config()
	canon := ApplyAsOf(tool, args, call.asOf)
	delete(canon, "verify")
	candidates := r.Resolve(tool, call.overrides)
	if len(candidates) == 0 {
		resp.Error = "no vendor registered for tool"
		return resp
	}

	var lastErr error
	for _, name := range candidates {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		resp.Tried = append(resp.Tried, name)
		data, cached, err := r.callVendor(ctx, cfg, tool, name, canon, call.asOf)
		if err == nil {
			resp.Vendor, resp.Data, resp.Cached = name, data, cached
			return resp
		}
		lastErr = err
		r.logger.Warn("vendor failed",
			zap.String("tool", tool),
			zap.String("vendor", name),
			zap.Error(err))
	}

	if cfg.CacheEnabled {
		for _, name := range resp.Tried {
			if e, ok := r.l1.GetStale(CacheKey(tool, name, canon)); ok {
				r.logger.Info("serving stale cache entry", zap.String("tool", tool), zap.String("vendor", name))
				resp.Vendor, resp.Data, resp.Stale = name, string(e.Value), true
				return resp
			}
		}
	}

	resp.Error = fmt.Sprintf("all vendors failed: %v", lastErr)
	return resp
}

func (r *Router) callVendor(ctx context.Context, cfg *config.Config, tool, name string, args map[string]any, asOf time.Time) (string, bool, error) {
	key := CacheKey(tool, name, args)
	ttl := cfg.TTLFor(tool)

	if cfg.CacheEnabled {
		if e, ok := r.l1.Get(key); ok {
			return string(e.Value), true, nil
		}
		if r.l2 != nil {
			b, ok, err := r.l2.Get(ctx, key)
			if err != nil {
				r.logger.Debug("cache store read failed", zap.Error(err))
			} else if ok {
				r.storeHits.Add(1)
				r.l1.Set(key, b, ttl)
				return string(b), true, nil
			}
		}
	}

	// The shared call outlives any one waiter: it runs detached from the
	// caller's cancellation and is bounded by the vendor timeout instead.
	ch := r.group.DoChan(key, func() (any, error) {
		v, ok := r.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("vendor %s not registered", name)
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.VendorTimeout)
		defer cancel()

		r.vendorCalls.Add(1)
		data, err := invoke(callCtx, v, tool, maps.Clone(args))
		if err != nil {
			r.vendorFailures.Add(1)
			return nil, err
		}
		data = FilterAsOf(tool, data, asOf)
		if cfg.CacheEnabled {
			r.l1.Set(key, []byte(data), ttl)
			if r.l2 != nil {
				if err := r.l2.Set(callCtx, key, []byte(data), ttl); err != nil {
					r.logger.Debug("cache store write failed", zap.Error(err))
				}
			}
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.coalesced.Add(1)
		}
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	}
}

// invoke enforces ctx on vendors that ignore it.
func invoke(ctx context.Context, v Vendor, tool string, args map[string]any) (string, error) {
	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("vendor %s panicked: %v", v.Name(), p)}
			}
		}()
		data, err := v.Call(ctx, tool, args)
		if err == nil && data == "" {
			err = ErrEmpty
		}
		done <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("vendor %s: %w", v.Name(), ctx.Err())
	case res := <-done:
		return res.data, res.err
	}
}

// GetBars fetches daily bars through the router and parses them.
func (r *Router) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]pkg.Bar, error) {
	resp := r.Dispatch(ctx, consts.ToolStockData, map[string]any{
		"symbol":     symbol,
		"start_date": start.Format(pkg.DateLayout),
		"end_date":   end.Format(pkg.DateLayout),
	})
	if !resp.OK() {
		return nil, resp.Err()
	}
	bars, err := pkg.ParseBarsCSV(resp.Data)
	if err != nil {
		return nil, errs.Wrap(errs.KindVendorFailure, err, "parse stock data")
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// GetQuote dispatches get_quote and decodes the result.
func (r *Router) GetQuote(ctx context.Context, symbol string) (*pkg.Quote, error) {
	resp := r.Dispatch(ctx, consts.ToolQuote, map[string]any{"symbol": symbol})
	if !resp.OK() {
		return nil, resp.Err()
	}
	return DecodeQuote(resp.Data)
}

// historicalQuote answers get_quote under a cutoff with the last close on
// or before it.
func (r *Router) historicalQuote(ctx context.Context, args map[string]any, call callOptions) *Response {
	symbol := Args(args).Symbol()
	series := r.Dispatch(ctx, consts.ToolStockData, map[string]any{
		"symbol":     symbol,
		"start_date": call.asOf.AddDate(0, 0, -14).Format(pkg.DateLayout),
		"end_date":   call.asOf.Format(pkg.DateLayout),
	}, AsOf(call.asOf), Overrides(call.overrides))
	resp := &Response{Tool: consts.ToolQuote, Tried: series.Tried, Vendor: series.Vendor, Cached: series.Cached, Stale: series.Stale}
	if !series.OK() {
		resp.Error = series.Error
		return resp
	}
	bars, err := pkg.ParseBarsCSV(series.Data)
	if err != nil || len(bars) == 0 {
		resp.Error = fmt.Sprintf("no bars on or before %s", call.asOf.Format(pkg.DateLayout))
		return resp
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	last := bars[len(bars)-1]
	data, err := EncodeQuote(&pkg.Quote{
		Symbol:    symbol,
		Price:     last.Close,
		Open:      last.Open,
		High:      last.High,
		Low:       last.Low,
		Volume:    last.Volume,
		Source:    series.Vendor + ":close",
		Timestamp: last.Date,
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Data = data
	return resp
}

func (r *Router) verifiedQuote(ctx context.Context, args map[string]any) *Response {
	resp := &Response{Tool: consts.ToolQuote, Tried: []string{}}
	result, err := r.VerifyQuote(ctx, Args(args).Symbol())
	if result != nil {
		for _, s := range result.Sources {
			resp.Tried = append(resp.Tried, s.Source)
		}
		resp.Tried = append(resp.Tried, result.Failed...)
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	b, _ := json.Marshal(result)
	resp.Vendor = "verified"
	resp.Data = string(b)
	return resp
}
