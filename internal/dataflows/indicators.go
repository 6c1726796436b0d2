package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/stockdesk/consts"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// BarsFunc loads daily bars, normally Router.GetBars.
type BarsFunc func(ctx context.Context, symbol string, start, end time.Time) ([]pkg.Bar, error)

// IndicatorVendor computes get_indicator locally over bars fetched through
// the router, so the as-of cutoff and caching apply to its input.
type IndicatorVendor struct {
	bars BarsFunc
}

func NewIndicatorVendor(bars BarsFunc) *IndicatorVendor {
	return &IndicatorVendor{bars: bars}
}

func (v *IndicatorVendor) Name() string { return consts.VendorLocal }

func (v *IndicatorVendor) Tools() []string { return []string{consts.ToolIndicator} }

func (v *IndicatorVendor) Call(ctx context.Context, tool string, raw map[string]any) (string, error) {
	if tool != consts.ToolIndicator {
		return "", fmt.Errorf("%s/%s: %w", v.Name(), tool, ErrUnsupported)
	}
	args := Args(raw)
	symbol := args.Symbol()
	if symbol == "" {
		return "", fmt.Errorf("%s: symbol is required", tool)
	}
	name := args.String("indicator")
	info, ok := pkg.IndicatorCatalog[name]
	if !ok {
		_, err := pkg.ComputeIndicator(name, nil, time.Time{}, time.Time{})
		return "", err
	}

	start, end := args.Window(30)
	// warmup is in trading days; pad generously for weekends and holidays
	fetchStart := start.AddDate(0, 0, -(info.Warmup*7/5 + 15))
	bars, err := v.bars(ctx, symbol, fetchStart, end)
	if err != nil {
		return "", err
	}
	series, err := pkg.ComputeIndicator(name, bars, start, end)
	if err != nil {
		return "", err
	}
	if len(series.Points) == 0 {
		return "", ErrEmpty
	}
	return pkg.FormatIndicatorReport(series, start, end), nil
}
