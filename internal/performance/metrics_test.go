package performance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegenerateSeriesAreFinite(t *testing.T) {
	cases := map[string][]float64{
		"empty":  nil,
		"single": {10000},
		"flat":   {10000, 10000, 10000, 10000},
		"zeros":  {0, 0, 0},
	}
	for name, eq := range cases {
		t.Run(name, func(t *testing.T) {
			r := Analyze(eq, nil)
			assert.Zero(t, r.SharpeRatio)
			assert.Zero(t, r.SortinoRatio)
			assert.Zero(t, r.CalmarRatio)
			assert.Zero(t, r.MaxDrawdown)
			assert.Zero(t, r.WinRate)
			assert.Zero(t, r.ProfitFactor)
		})
	}
}

func TestRandomSeriesNeverNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := rng.Intn(400)
		eq := make([]float64, n)
		v := 1000.0
		for j := range eq {
			v *= 1 + (rng.Float64()-0.5)*0.1
			if rng.Intn(50) == 0 {
				v = 0
			}
			eq[j] = v
		}
		pnl := make([]float64, rng.Intn(10))
		for j := range pnl {
			pnl[j] = (rng.Float64() - 0.5) * 100
		}
		r := Analyze(eq, pnl)
		for _, x := range []float64{r.TotalReturnPct, r.CAGR, r.Volatility, r.SharpeRatio, r.SortinoRatio,
			r.CalmarRatio, r.MaxDrawdown, r.MaxDrawdownPct, r.WinRate, r.ProfitFactor, r.AvgWin, r.AvgLoss} {
			require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "series %d produced %v", i, x)
		}
	}
}

func TestDrawdown(t *testing.T) {
	eq := []float64{100, 120, 90, 130, 117}
	dd, pct := MaxDrawdown(eq)
	assert.InDelta(t, -30, dd, 1e-9)
	assert.InDelta(t, -25, pct, 1e-9)

	series := DrawdownSeries(eq)
	require.Len(t, series, len(eq))
	assert.InDelta(t, 0, series[1], 1e-9)
	assert.InDelta(t, -25, series[2], 1e-9)
	assert.InDelta(t, -10, series[4], 1e-9)
}

func TestReturnsAndTotals(t *testing.T) {
	eq := []float64{100, 110, 99}
	rets := Returns(eq)
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.10, rets[1], 1e-9)
	assert.InDelta(t, -1.0, TotalReturnPct(eq), 1e-9)
	// under a year CAGR is the plain total return
	assert.Equal(t, TotalReturnPct(eq), CAGR(eq))
}

func TestCAGROverTwoYears(t *testing.T) {
	eq := make([]float64, 2*TradingDays+1)
	for i := range eq {
		eq[i] = 100 * math.Pow(1.21, float64(i)/float64(2*TradingDays))
	}
	assert.InDelta(t, 10, CAGR(eq), 1e-6)
}

func TestTradeStats(t *testing.T) {
	r := Analyze([]float64{100, 101}, []float64{50, -25, 30, 0})
	assert.Equal(t, 4, r.TotalTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 50, r.WinRate, 1e-9)
	assert.InDelta(t, 80.0/25.0, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 40, r.AvgWin, 1e-9)
	assert.InDelta(t, 25, r.AvgLoss, 1e-9)
}

func TestSharpeSign(t *testing.T) {
	up := []float64{100, 101, 103, 102, 105, 107}
	assert.Positive(t, Sharpe(Returns(up)))
	assert.Positive(t, Sortino(Returns(up)))

	down := []float64{100, 98, 99, 95, 94}
	assert.Negative(t, Sharpe(Returns(down)))
}

func TestOverfittingScore(t *testing.T) {
	tests := []struct {
		name string
		in   []WindowResult
		want float64
	}{
		{"empty", nil, 0},
		{"no degradation", []WindowResult{{10, 10}, {5, 5}}, 0},
		{"half lost", []WindowResult{{10, 5}, {10, 5}}, 50},
		{"out beats in", []WindowResult{{5, 10}}, 0},
		{"everything lost", []WindowResult{{10, -30}}, 100},
		{"non-positive in-sample", []WindowResult{{-5, -20}, {0, -1}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OverfittingScore(tt.in), 1e-9)
		})
	}
}
