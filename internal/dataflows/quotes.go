package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

func EncodeQuote(q *pkg.Quote) (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode quote: %w", err)
	}
	return string(b), nil
}

func DecodeQuote(s string) (*pkg.Quote, error) {
	var q pkg.Quote
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &q, nil
}

type SourcePrice struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
}

// QuoteResult is a cross-checked price. VariancePct is the spread
// (max-min) as a percentage of the mean.
type QuoteResult struct {
	Symbol      string        `json:"symbol"`
	Sources     []SourcePrice `json:"sources"`
	Mean        float64       `json:"mean"`
	VariancePct float64       `json:"variance_pct"`
	Reliable    bool          `json:"reliable"`
	Failed      []string      `json:"failed,omitempty"`
}

// Summarize computes mean, spread and reliability over sources. A single
// source is never reliable.
func Summarize(symbol string, sources []SourcePrice, tolerancePct float64) *QuoteResult {
	res := &QuoteResult{Symbol: symbol, Sources: sources}
	if len(sources) == 0 {
		return res
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, s := range sources {
		lo = math.Min(lo, s.Price)
		hi = math.Max(hi, s.Price)
		sum += s.Price
	}
	res.Mean = sum / float64(len(sources))
	if res.Mean > 0 {
		res.VariancePct = (hi - lo) / res.Mean * 100
	}
	res.Reliable = len(sources) >= 2 && res.VariancePct <= tolerancePct
	return res
}

// VerifyQuote asks every quote vendor in parallel, waits at most the
// configured window and summarizes the vendors that answered with a
// positive price. The cache is bypassed.
func (r *Router) VerifyQuote(ctx context.Context, symbol string) (*QuoteResult, error) {
	symbol = pkg.NormalizeSymbol(symbol)
	if err := pkg.ValidateSymbol(symbol); err != nil {
		return nil, errs.Validation("%v", err)
	}
	cfg := r.config()
	vendors := r.registry.ForTool(consts.ToolQuote)

	windowCtx, cancel := context.WithTimeout(ctx, cfg.Quotes.VerifyWindow)
	defer cancel()

	prices := make([]*SourcePrice, len(vendors))
	var (
		mu     sync.Mutex
		failed []string
	)
	var g errgroup.Group
	for i, v := range vendors {
		g.Go(func() error {
			r.vendorCalls.Add(1)
			data, err := invoke(windowCtx, v, consts.ToolQuote, map[string]any{"symbol": symbol})
			var q *pkg.Quote
			if err == nil {
				q, err = DecodeQuote(data)
			}
			if err == nil && q.Price <= 0 {
				err = ErrEmpty
			}
			if err != nil {
				r.vendorFailures.Add(1)
				r.logger.Debug("quote source dropped", zap.String("vendor", v.Name()), zap.Error(err))
				mu.Lock()
				failed = append(failed, v.Name())
				mu.Unlock()
				return nil
			}
			prices[i] = &SourcePrice{Source: v.Name(), Price: q.Price}
			return nil
		})
	}
	_ = g.Wait()

	var sources []SourcePrice
	for _, p := range prices {
		if p != nil {
			sources = append(sources, *p)
		}
	}
	res := Summarize(symbol, sources, cfg.Quotes.Tolerance)
	res.Failed = failed
	if len(sources) == 0 {
		return res, errs.New(errs.KindVendorFailure, "no quote source answered for %s", symbol)
	}
	return res, nil
}
