package dataflows

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// IndicatorPoint is one dated indicator reading.
type IndicatorPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// IndicatorInfo describes a supported indicator. Warmup is the number of
// bars needed before the first value exists.
type IndicatorInfo struct {
	Name        string
	Description string
	Warmup      int
}

// IndicatorCatalog lists every indicator get_indicator accepts.
var IndicatorCatalog = map[string]IndicatorInfo{
	"close_50_sma":       {"close_50_sma", "50 SMA: A medium-term trend indicator. Usage: Identify trend direction and serve as dynamic support/resistance. Tips: It lags price; combine with faster indicators for timely signals.", 50},
	"close_200_sma":      {"close_200_sma", "200 SMA: A long-term trend benchmark. Usage: Confirm overall market trend and identify golden/death cross setups. Tips: It reacts slowly; best for strategic trend confirmation rather than frequent trading entries.", 200},
	"close_10_ema":       {"close_10_ema", "10 EMA: A responsive short-term average. Usage: Capture quick shifts in momentum and potential entry points. Tips: Prone to noise in choppy markets; use alongside longer averages for filtering false signals.", 10},
	"vwma":               {"vwma", "VWMA: A moving average weighted by volume. Usage: Confirm trends by integrating price action with volume data. Tips: Watch for skewed results from volume spikes; use in combination with other volume analyses.", 20},
	"vwap":               {"vwap", "VWAP: Cumulative volume-weighted average of the typical price over the window. Usage: Gauge whether price trades rich or cheap against where volume transacted. Tips: Most meaningful anchored to a clear starting point; drifts on long windows.", 1},
	"macd":               {"macd", "MACD: Computes momentum via differences of EMAs. Usage: Look for crossovers and divergence as signals of trend changes. Tips: Confirm with other indicators in low-volatility or sideways markets.", 26},
	"macds":              {"macds", "MACD Signal: An EMA smoothing of the MACD line. Usage: Use crossovers with the MACD line to trigger trades. Tips: Should be part of a broader strategy to avoid false positives.", 34},
	"macdh":              {"macdh", "MACD Histogram: Shows the gap between the MACD line and its signal. Usage: Visualize momentum strength and spot divergence early. Tips: Can be volatile; complement with additional filters in fast-moving markets.", 34},
	"rsi":                {"rsi", "RSI: Measures momentum to flag overbought/oversold conditions. Usage: Apply 70/30 thresholds and watch for divergence to signal reversals. Tips: In strong trends, RSI may remain extreme; always cross-check with trend analysis.", 15},
	"mfi":                {"mfi", "MFI: The Money Flow Index is a momentum indicator that uses both price and volume to measure buying and selling pressure. Usage: Identify overbought (>80) or oversold (<20) conditions and confirm the strength of trends or reversals. Tips: Use alongside RSI or MACD to confirm signals; divergence between price and MFI can indicate potential reversals.", 15},
	"boll":               {"boll", "Bollinger Middle: A 20 SMA serving as the basis for Bollinger Bands. Usage: Acts as a dynamic benchmark for price movement. Tips: Combine with the upper and lower bands to effectively spot breakouts or reversals.", 20},
	"boll_ub":            {"boll_ub", "Bollinger Upper Band: Typically 2 standard deviations above the middle line. Usage: Signals potential overbought conditions and breakout zones. Tips: Confirm signals with other tools; prices may ride the band in strong trends.", 20},
	"boll_lb":            {"boll_lb", "Bollinger Lower Band: Typically 2 standard deviations below the middle line. Usage: Indicates potential oversold conditions. Tips: Use additional analysis to avoid false reversal signals.", 20},
	"atr":                {"atr", "ATR: Averages true range to measure volatility. Usage: Set stop-loss levels and adjust position sizes based on current market volatility. Tips: It's a reactive measure, so use it as part of a broader risk management strategy.", 15},
	"support_resistance": {"support_resistance", "Support/Resistance: Rolling 20-day lowest low and highest high. Usage: Frame entries near support and targets near resistance. Tips: Levels break in trending markets; confirm with volume.", 20},
}

// SupportedIndicators returns the catalog names sorted.
func SupportedIndicators() []string {
	names := make([]string, 0, len(IndicatorCatalog))
	for k := range IndicatorCatalog {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IndicatorSeries is the output of one indicator over a bar series. Extra
// carries secondary lines such as the resistance band of support_resistance.
type IndicatorSeries struct {
	Name   string                      `json:"name"`
	Points []IndicatorPoint            `json:"points"`
	Extra  map[string][]IndicatorPoint `json:"extra,omitempty"`
}

// ComputeIndicator evaluates name over bars (any order) and keeps the points
// dated within [start, end]. Zero start or end leaves that side open.
func ComputeIndicator(name string, bars []Bar, start, end time.Time) (*IndicatorSeries, error) {
	info, ok := IndicatorCatalog[name]
	if !ok {
		return nil, fmt.Errorf("indicator %s is not supported. Please choose from: %s", name, strings.Join(SupportedIndicators(), ", "))
	}
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	if len(sorted) < info.Warmup {
		return nil, fmt.Errorf("insufficient data for %s: need %d bars, got %d", name, info.Warmup, len(sorted))
	}

	closes := make([]float64, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}

	series := &IndicatorSeries{Name: name}
	var values []float64
	switch name {
	case "close_50_sma":
		values = SMA(closes, 50)
	case "close_200_sma":
		values = SMA(closes, 200)
	case "close_10_ema":
		values = EMA(closes, 10)
	case "vwma":
		values = VWMA(sorted, 20)
	case "vwap":
		values = VWAP(FilterBars(sorted, start, end))
		series.Points = datedPoints(FilterBars(sorted, start, end), values, time.Time{}, time.Time{})
		return series, nil
	case "macd":
		values, _, _ = MACD(closes, 12, 26, 9)
	case "macds":
		_, values, _ = MACD(closes, 12, 26, 9)
	case "macdh":
		_, _, values = MACD(closes, 12, 26, 9)
	case "rsi":
		values = RSI(closes, 14)
	case "mfi":
		values = MFI(sorted, 14)
	case "boll":
		values, _, _ = Bollinger(closes, 20, 2)
	case "boll_ub":
		_, values, _ = Bollinger(closes, 20, 2)
	case "boll_lb":
		_, _, values = Bollinger(closes, 20, 2)
	case "atr":
		values = ATR(sorted, 14)
	case "support_resistance":
		support, resistance := SupportResistance(sorted, 20)
		values = support
		series.Extra = map[string][]IndicatorPoint{
			"resistance": datedPoints(sorted, resistance, start, end),
		}
	}
	series.Points = datedPoints(sorted, values, start, end)
	return series, nil
}

// FormatIndicatorReport renders the dated table followed by the description.
func FormatIndicatorReport(series *IndicatorSeries, start, end time.Time) string {
	var sb strings.Builder
	for i, p := range series.Points {
		if series.Extra != nil {
			resistance := math.NaN()
			if r := series.Extra["resistance"]; i < len(r) {
				resistance = r[i].Value
			}
			fmt.Fprintf(&sb, "%s: support %.2f resistance %.2f\n", p.Date.Format(DateLayout), p.Value, resistance)
			continue
		}
		fmt.Fprintf(&sb, "%s: %.4f\n", p.Date.Format(DateLayout), p.Value)
	}
	return fmt.Sprintf("## %s values from %s to %s:\n\n%s\n\n%s",
		series.Name, start.Format(DateLayout), end.Format(DateLayout), sb.String(), IndicatorCatalog[series.Name].Description)
}

func datedPoints(bars []Bar, values []float64, start, end time.Time) []IndicatorPoint {
	points := make([]IndicatorPoint, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || i >= len(bars) {
			continue
		}
		d := truncateDay(bars[i].Date)
		if !start.IsZero() && d.Before(truncateDay(start)) {
			continue
		}
		if !end.IsZero() && d.After(truncateDay(end)) {
			continue
		}
		points = append(points, IndicatorPoint{Date: bars[i].Date, Value: v})
	}
	return points
}

// The series helpers below return slices aligned with their input; entries
// before the warmup is satisfied are NaN.

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA calculates the simple moving average.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA seeds with the SMA of the first period values. Leading NaNs in values
// are skipped so EMA can be chained on another indicator.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	first := 0
	for first < len(values) && math.IsNaN(values[first]) {
		first++
	}
	if period <= 0 || len(values)-first < period {
		return out
	}
	multiplier := 2.0 / (float64(period) + 1.0)
	sum := 0.0
	for i := first; i < first+period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[first+period-1] = ema
	for i := first + period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}

// RSI uses Wilder smoothing. A series with no movement reads 50.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	return 100 - (100 / (1 + avgGain/avgLoss))
}

// MACD returns the line, signal and histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}
	sig = EMA(line, signal)
	hist = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return line, sig, hist
}

// Bollinger returns the middle band and the bands k population standard
// deviations above and below it.
func Bollinger(closes []float64, period int, k float64) (middle, upper, lower []float64) {
	middle = SMA(closes, period)
	upper = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	for i := period - 1; i < len(closes) && period > 0; i++ {
		mean := middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return middle, upper, lower
}

// ATR is the simple average of the last period true ranges.
func ATR(bars []Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}
	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	for i := period; i < len(bars); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += tr[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// VWMA weights closes by volume; a window with no volume falls back to the SMA.
func VWMA(bars []Bar, period int) []float64 {
	out := nanSlice(len(bars))
	for i := period - 1; i < len(bars) && period > 0; i++ {
		var volume, weighted, plain float64
		for j := i - period + 1; j <= i; j++ {
			volume += float64(bars[j].Volume)
			weighted += bars[j].Close * float64(bars[j].Volume)
			plain += bars[j].Close
		}
		if volume > 0 {
			out[i] = weighted / volume
		} else {
			out[i] = plain / float64(period)
		}
	}
	return out
}

// VWAP is cumulative from the first bar given.
func VWAP(bars []Bar) []float64 {
	out := nanSlice(len(bars))
	var pv, volume float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		volume += float64(b.Volume)
		if volume > 0 {
			out[i] = pv / volume
		} else {
			out[i] = typical
		}
	}
	return out
}

// MFI reads 50 when the window has no money flow in either direction.
func MFI(bars []Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}
	typical := make([]float64, len(bars))
	for i, b := range bars {
		typical[i] = (b.High + b.Low + b.Close) / 3
	}
	for i := period; i < len(bars); i++ {
		var positive, negative float64
		for j := i - period + 1; j <= i; j++ {
			flow := typical[j] * float64(bars[j].Volume)
			if typical[j] > typical[j-1] {
				positive += flow
			} else if typical[j] < typical[j-1] {
				negative += flow
			}
		}
		switch {
		case positive == 0 && negative == 0:
			out[i] = 50
		case negative == 0:
			out[i] = 100
		default:
			out[i] = 100 - (100 / (1 + positive/negative))
		}
	}
	return out
}

// SupportResistance returns the rolling lowest low and highest high.
func SupportResistance(bars []Bar, period int) (support, resistance []float64) {
	support = nanSlice(len(bars))
	resistance = nanSlice(len(bars))
	for i := period - 1; i < len(bars) && period > 0; i++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for j := i - period + 1; j <= i; j++ {
			lo = math.Min(lo, bars[j].Low)
			hi = math.Max(hi, bars[j].High)
		}
		support[i] = lo
		resistance[i] = hi
	}
	return support, resistance
}
