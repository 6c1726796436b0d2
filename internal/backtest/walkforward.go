package backtest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/performance"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

const (
	// InSampleFraction is the leading share of each window used in sample.
	InSampleFraction = 0.7
	MaxWindows       = 20
	minWindowDays    = 5
)

type Window struct {
	InStart     string              `json:"in_sample_start"`
	InEnd       string              `json:"in_sample_end"`
	OutStart    string              `json:"out_of_sample_start"`
	OutEnd      string              `json:"out_of_sample_end"`
	InSample    *performance.Report `json:"in_sample"`
	OutOfSample *performance.Report `json:"out_of_sample"`
}

type WalkForwardResult struct {
	Ticker           string                     `json:"ticker"`
	Windows          []Window                   `json:"windows"`
	Pairs            []performance.WindowResult `json:"pairs"`
	OverfittingScore float64                    `json:"overfitting_score"`
}

// WalkForward splits [start, end] into n consecutive windows, backtests
// the leading part of each in sample and the rest out of sample, and
// scores how much of the in-sample return survives.
func (d *Driver) WalkForward(ctx context.Context, ticker, start, end string, n int, cfg Config) (*WalkForwardResult, error) {
	from, to, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > MaxWindows {
		return nil, errs.Validation("windows must be in [1,%d], got %d", MaxWindows, n)
	}
	spans, err := splitWindows(from, to, n)
	if err != nil {
		return nil, err
	}

	res := &WalkForwardResult{Ticker: pkg.NormalizeSymbol(ticker)}
	for i, s := range spans {
		w := Window{
			InStart:  s[0].Format(pkg.DateLayout),
			InEnd:    s[1].Format(pkg.DateLayout),
			OutStart: s[2].Format(pkg.DateLayout),
			OutEnd:   s[3].Format(pkg.DateLayout),
		}
		in, err := d.Run(ctx, Request{Ticker: ticker, StartDate: w.InStart, EndDate: w.InEnd, Config: cfg})
		if err != nil {
			return res, err
		}
		out, err := d.Run(ctx, Request{Ticker: ticker, StartDate: w.OutStart, EndDate: w.OutEnd, Config: cfg})
		if err != nil {
			return res, err
		}
		w.InSample, w.OutOfSample = &in.Summary, &out.Summary
		res.Windows = append(res.Windows, w)
		res.Pairs = append(res.Pairs, performance.WindowResult{
			InSample:    in.Summary.TotalReturnPct,
			OutOfSample: out.Summary.TotalReturnPct,
		})
		d.logger.Info("walk-forward window done",
			zap.Int("window", i+1),
			zap.Float64("in_sample_pct", in.Summary.TotalReturnPct),
			zap.Float64("out_of_sample_pct", out.Summary.TotalReturnPct))
	}
	res.OverfittingScore = performance.OverfittingScore(res.Pairs)
	return res, nil
}

// splitWindows returns [inStart, inEnd, outStart, outEnd] per window over
// calendar days. Windows never overlap.
func splitWindows(from, to time.Time, n int) ([][4]time.Time, error) {
	days := int(to.Sub(from).Hours()/24) + 1
	size := days / n
	if size < minWindowDays {
		return nil, errs.Validation("range of %d days is too short for %d windows", days, n)
	}
	out := make([][4]time.Time, 0, n)
	for i := 0; i < n; i++ {
		ws := from.AddDate(0, 0, i*size)
		we := ws.AddDate(0, 0, size-1)
		if i == n-1 {
			we = to
		}
		inDays := max(int(float64(size)*InSampleFraction), 1)
		inEnd := ws.AddDate(0, 0, inDays-1)
		out = append(out, [4]time.Time{ws, inEnd, inEnd.AddDate(0, 0, 1), we})
	}
	return out, nil
}
