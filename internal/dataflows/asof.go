package dataflows

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

type ctxKey int

const (
	asOfKey ctxKey = iota
	overridesKey
)

// ContextWithAsOf makes every dispatch under ctx see the world as of t.
// Backtests use it so analysts cannot read past the simulated day.
func ContextWithAsOf(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, asOfKey, t)
}

func AsOfFromContext(ctx context.Context) time.Time {
	t, _ := ctx.Value(asOfKey).(time.Time)
	return t
}

// ContextWithOverrides attaches per-request tool→vendor overrides.
func ContextWithOverrides(ctx context.Context, overrides map[string]string) context.Context {
	if len(overrides) == 0 {
		return ctx
	}
	return context.WithValue(ctx, overridesKey, overrides)
}

func OverridesFromContext(ctx context.Context) map[string]string {
	m, _ := ctx.Value(overridesKey).(map[string]string)
	return m
}

// dateArgs are clamped to the cutoff.
var dateArgs = []string{"start_date", "end_date", "curr_date"}

// ApplyAsOf returns a copy of args with time values rendered as dates and,
// when asOf is set, every date argument clamped to it. A request with no
// end or current date gets curr_date = asOf. The cutoff is recorded under
// "as_of" so it takes part in the cache key.
func ApplyAsOf(tool string, args map[string]any, asOf time.Time) map[string]any {
	out := maps.Clone(args)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if t, ok := v.(time.Time); ok {
			out[k] = t.Format(pkg.DateLayout)
		}
	}
	if asOf.IsZero() {
		return out
	}

	cutoff := asOf.Format(pkg.DateLayout)
	a := Args(out)
	for _, k := range dateArgs {
		if d := a.Date(k); !d.IsZero() && d.After(asOf) {
			out[k] = cutoff
		}
	}
	if a.Date("end_date").IsZero() && a.Date("curr_date").IsZero() {
		out["curr_date"] = cutoff
	}
	out["as_of"] = cutoff
	return out
}

// FilterAsOf drops dated rows after asOf from series output. Rows are lines
// that begin with a YYYY-MM-DD date: CSV bars and indicator tables.
func FilterAsOf(tool, data string, asOf time.Time) string {
	if asOf.IsZero() || (tool != consts.ToolStockData && tool != consts.ToolIndicator) {
		return data
	}
	cutoff := asOf.Format(pkg.DateLayout)
	lines := strings.Split(data, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if len(line) >= 10 {
			if _, err := time.Parse(pkg.DateLayout, line[:10]); err == nil && line[:10] > cutoff {
				continue
			}
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
