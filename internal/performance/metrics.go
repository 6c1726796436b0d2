// Package performance turns an equity curve and a list of closed trades
// into summary statistics. Every metric is finite: a zero denominator
// yields zero.
package performance

import (
	"math"
)

// TradingDays annualizes daily figures.
const TradingDays = 252

type Report struct {
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGR           float64 `json:"cagr"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
}

// Analyze computes the report for equity E[0..N] and the realized P&L of
// each completed trade.
func Analyze(equity []float64, pnl []float64) Report {
	r := Report{}
	if len(equity) > 0 {
		r.InitialEquity = equity[0]
		r.FinalEquity = equity[len(equity)-1]
		r.TotalReturn = r.FinalEquity - r.InitialEquity
	}
	r.TotalReturnPct = TotalReturnPct(equity)
	r.CAGR = CAGR(equity)

	rets := Returns(equity)
	r.Volatility = finite(stddev(rets) * math.Sqrt(TradingDays) * 100)
	r.SharpeRatio = Sharpe(rets)
	r.SortinoRatio = Sortino(rets)

	r.MaxDrawdown, r.MaxDrawdownPct = MaxDrawdown(equity)
	r.CalmarRatio = Calmar(r.CAGR, r.MaxDrawdownPct)

	var wins, losses float64
	for _, p := range pnl {
		switch {
		case p > 0:
			r.WinningTrades++
			wins += p
		case p < 0:
			r.LosingTrades++
			losses += -p
		}
	}
	r.TotalTrades = len(pnl)
	r.WinRate = ratio(float64(r.WinningTrades), float64(r.TotalTrades)) * 100
	r.ProfitFactor = ratio(wins, losses)
	r.AvgWin = ratio(wins, float64(r.WinningTrades))
	r.AvgLoss = ratio(losses, float64(r.LosingTrades))
	return r
}

// Returns are the simple daily returns E[i]/E[i-1] - 1. A non-positive
// prior equity contributes a zero return.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, finite(equity[i]/equity[i-1]-1))
	}
	return out
}

func TotalReturnPct(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}
	return finite((equity[len(equity)-1]/equity[0] - 1) * 100)
}

// CAGR annualizes only once a full trading year is covered; shorter
// series report the total return.
func CAGR(equity []float64) float64 {
	n := len(equity) - 1
	if n < TradingDays {
		return TotalReturnPct(equity)
	}
	if equity[0] <= 0 || equity[n] <= 0 {
		return 0
	}
	return finite((math.Pow(equity[n]/equity[0], float64(TradingDays)/float64(n)) - 1) * 100)
}

func Sharpe(rets []float64) float64 {
	return finite(ratio(mean(rets), stddev(rets)) * math.Sqrt(TradingDays))
}

// Sortino divides by the deviation of the negative returns only.
func Sortino(rets []float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rets {
		if r < 0 {
			sum += r * r
		}
	}
	down := math.Sqrt(sum / float64(len(rets)))
	return finite(ratio(mean(rets), down) * math.Sqrt(TradingDays))
}

func Calmar(cagr, maxDrawdownPct float64) float64 {
	return finite(ratio(cagr, math.Abs(maxDrawdownPct)))
}

// MaxDrawdown returns the deepest fall from a running peak, in currency
// and as a percentage of that peak. Both are zero or negative.
func MaxDrawdown(equity []float64) (float64, float64) {
	var (
		peak  float64
		worst float64
		pct   float64
	)
	for i, e := range equity {
		if i == 0 || e > peak {
			peak = e
		}
		dd := e - peak
		if dd < worst {
			worst = dd
		}
		if p := ratio(dd, peak) * 100; p < pct {
			pct = p
		}
	}
	return finite(worst), finite(pct)
}

// DrawdownSeries is the percent drawdown at every point of the curve.
func DrawdownSeries(equity []float64) []float64 {
	out := make([]float64, len(equity))
	var peak float64
	for i, e := range equity {
		if i == 0 || e > peak {
			peak = e
		}
		out[i] = finite(ratio(e-peak, peak) * 100)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	sd := math.Sqrt(s / float64(len(xs)-1))
	// float noise on a constant series
	if sd < 1e-12 {
		return 0
	}
	return sd
}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return 0
	}
	return finite(num / den)
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
