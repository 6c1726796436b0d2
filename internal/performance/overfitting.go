package performance

// WindowResult pairs the in-sample and out-of-sample return, in percent,
// of one walk-forward window.
type WindowResult struct {
	InSample    float64 `json:"in_sample_return"`
	OutOfSample float64 `json:"out_of_sample_return"`
}

const epsilon = 1e-9

// OverfittingScore measures how much of the in-sample return disappears
// out of sample, on a 0..100 scale. A non-positive in-sample mean scores
// zero: there is no edge to lose.
func OverfittingScore(windows []WindowResult) float64 {
	if len(windows) == 0 {
		return 0
	}
	var in, out float64
	for _, w := range windows {
		in += finite(w.InSample)
		out += finite(w.OutOfSample)
	}
	in /= float64(len(windows))
	out /= float64(len(windows))
	if in <= 0 {
		return 0
	}
	score := (in - out) / max(in, epsilon) * 100
	return finite(min(max(score, 0), 100))
}
