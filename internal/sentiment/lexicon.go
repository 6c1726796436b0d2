package sentiment

import (
	"strings"
	"unicode"
)

var bullishWords = map[string]bool{
	"bull": true, "bullish": true, "buy": true, "buying": true, "long": true, "calls": true,
	"moon": true, "rocket": true, "breakout": true, "rally": true, "upgrade": true,
	"beat": true, "beats": true, "strong": true, "growth": true, "undervalued": true,
	"surge": true, "soar": true, "soaring": true, "higher": true, "outperform": true,
	"accumulate": true, "squeeze": true, "ath": true, "green": true, "rip": true,
}

var bearishWords = map[string]bool{
	"bear": true, "bearish": true, "sell": true, "selling": true, "short": true, "puts": true,
	"dump": true, "crash": true, "breakdown": true, "downgrade": true, "miss": true,
	"misses": true, "weak": true, "overvalued": true, "plunge": true, "drop": true,
	"lower": true, "underperform": true, "bagholder": true, "red": true, "fade": true,
	"bubble": true, "collapse": true, "lawsuit": true, "recession": true,
}

// LexiconHits counts bullish and bearish words in text.
func LexiconHits(text string) (bull, bear int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch {
		case bullishWords[w]:
			bull++
		case bearishWords[w]:
			bear++
		}
	}
	return bull, bear
}

// Classify returns the message's own label, else the lexicon's leaning,
// else "".
func Classify(m Message) string {
	if m.Label == LabelBullish || m.Label == LabelBearish {
		return m.Label
	}
	bull, bear := LexiconHits(m.Text)
	switch {
	case bull > bear:
		return LabelBullish
	case bear > bull:
		return LabelBearish
	}
	return ""
}

// ScoreLexicon scores messages as (bullish - bearish) / total hits,
// clamped to [-1, 1]. A message's own label counts as one hit.
func ScoreLexicon(msgs []Message) Score {
	var bull, bear, withSignal int
	for _, m := range msgs {
		b, r := 0, 0
		switch m.Label {
		case LabelBullish:
			b = 1
		case LabelBearish:
			r = 1
		default:
			b, r = LexiconHits(m.Text)
		}
		bull += b
		bear += r
		if b+r > 0 {
			withSignal++
		}
	}
	s := Score{Method: "lexicon"}
	if total := bull + bear; total > 0 {
		s.Overall = clamp(float64(bull-bear)/float64(total), -1, 1)
	}
	if len(msgs) > 0 {
		s.Confidence = float64(withSignal) / float64(len(msgs))
	}
	return s
}

// SentimentRatio splits classified messages into bullish and bearish
// percentages that sum to 100, or 0/0 when nothing is classified.
func SentimentRatio(msgs []Message) Ratio {
	var bull, bear int
	for _, m := range msgs {
		switch Classify(m) {
		case LabelBullish:
			bull++
		case LabelBearish:
			bear++
		}
	}
	total := bull + bear
	if total == 0 {
		return Ratio{}
	}
	b := int(float64(bull)*100/float64(total) + 0.5)
	return Ratio{Bullish: b, Bearish: 100 - b}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
