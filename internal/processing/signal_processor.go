package processing

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
)

const DefaultConfidence = 0.5

var (
	markerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)FINAL\s+TRANSACTION\s+PROPOSAL\s*:\s*\**\s*(BUY|SELL|HOLD)\b`),
		regexp.MustCompile(`(?i)\bDecision\s*:\s*\**\s*(BUY|SELL|HOLD)\b`),
	}
	tokenPattern = regexp.MustCompile(`\b(BUY|SELL|HOLD)\b`)
	wordPattern  = regexp.MustCompile(`(?i)\b(buy|sell|hold)\b`)
	// APPROVE / REJECT are accepted only when no action word is present.
	aliasPattern = regexp.MustCompile(`(?i)\b(approve|approved|reject|rejected)\b`)

	confidenceRatio = regexp.MustCompile(`(?i)confidence(?:\s+(?:level|score))?\s*[:=]?\s*(0?\.\d+|1(?:\.0+)?|0)\b`)
	confidencePct   = regexp.MustCompile(`(?i)confidence(?:\s+(?:level|score))?\s*[:=]?\s*(\d{1,3}(?:\.\d+)?)\s*%`)

	pricePatterns = map[string]*regexp.Regexp{
		"entry":  regexp.MustCompile(`(?i)\bentry(?:\s+(?:price|band|zone|point))?[^$\d\n]{0,24}\$?\s*(\d+(?:\.\d+)?)`),
		"stop":   regexp.MustCompile(`(?i)\bstop(?:[\s-]?loss)?(?:\s+(?:price|at|level))?[^$\d\n]{0,24}\$?\s*(\d+(?:\.\d+)?)`),
		"target": regexp.MustCompile(`(?i)\b(?:target|take[\s-]?profit)(?:\s+(?:price|level))?[^$\d\n]{0,24}\$?\s*(\d+(?:\.\d+)?)`),
	}
)

// Signal is an actionable decision extracted from free text.
type Signal struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	// Explicit is true when the action came from a decision marker.
	Explicit bool   `json:"explicit"`
	Prices   Prices `json:"prices"`
}

type Prices struct {
	Entry  float64 `json:"entry,omitempty"`
	Stop   float64 `json:"stop,omitempty"`
	Target float64 `json:"target,omitempty"`
}

// ParseDecision reads the action from text. An explicit marker
// ("FINAL TRANSACTION PROPOSAL: **BUY**" or "Decision: SELL") wins; the
// last marker counts when there are several. Without a marker the last
// upper-case BUY/SELL/HOLD token is used, then the last such word in any
// case, then APPROVE/REJECT. Nothing at all reads as HOLD.
func ParseDecision(text string) Signal {
	sig := Signal{
		Action:     consts.DecisionHold,
		Confidence: ParseConfidence(text),
		Prices:     ExtractPrices(text),
	}

	best := -1
	for _, p := range markerPatterns {
		for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
			if m[0] > best {
				best = m[0]
				sig.Action = strings.ToUpper(text[m[2]:m[3]])
				sig.Explicit = true
			}
		}
	}
	if sig.Explicit {
		return sig
	}

	if tokens := tokenPattern.FindAllString(text, -1); len(tokens) > 0 {
		sig.Action = tokens[len(tokens)-1]
		return sig
	}
	if words := wordPattern.FindAllString(text, -1); len(words) > 0 {
		sig.Action = strings.ToUpper(words[len(words)-1])
		return sig
	}
	if aliases := aliasPattern.FindAllString(text, -1); len(aliases) > 0 {
		if strings.HasPrefix(strings.ToLower(aliases[len(aliases)-1]), "approve") {
			sig.Action = consts.DecisionBuy
		} else {
			sig.Action = consts.DecisionSell
		}
	}
	return sig
}

// ParseConfidence reads "confidence: 0.8" or "confidence 80%"; anything
// else yields DefaultConfidence.
func ParseConfidence(text string) float64 {
	if m := confidencePct.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
			return v / 100
		}
	}
	if m := confidenceRatio.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 1 {
			return v
		}
	}
	return DefaultConfidence
}

// ExtractPrices pulls the first entry, stop and target figures from text.
func ExtractPrices(text string) Prices {
	var p Prices
	get := func(kind string) float64 {
		m := pricePatterns[kind].FindStringSubmatch(text)
		if m == nil {
			return 0
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		return v
	}
	p.Entry = get("entry")
	p.Stop = get("stop")
	p.Target = get("target")
	return p
}

// Tokens returns the distinct upper-case decision tokens in text, in order
// of first appearance.
func Tokens(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tokenPattern.FindAllString(text, -1) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// EnforceSingleToken rewrites text so it carries exactly one distinct
// decision token. Several competing tokens with no marker are ambiguous
// and become HOLD. Losing tokens are lower-cased and a marker is appended
// when the winner does not appear.
func EnforceSingleToken(text string) (string, Signal) {
	sig := ParseDecision(text)
	if !sig.Explicit && len(Tokens(text)) > 1 {
		sig.Action = consts.DecisionHold
	}
	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		if tok == sig.Action {
			return tok
		}
		return strings.ToLower(tok)
	})
	if !tokenPattern.MatchString(out) {
		out = strings.TrimSpace(out) + fmt.Sprintf("\n\nFINAL TRANSACTION PROPOSAL: **%s**", sig.Action)
	}
	return out, sig
}

// ForceDecision rewrites text to decide action: competing tokens are
// lower-cased and a closing marker is appended, which outranks any
// earlier marker.
func ForceDecision(text, action string) string {
	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		if tok == action {
			return tok
		}
		return strings.ToLower(tok)
	})
	return strings.TrimSpace(out) + fmt.Sprintf("\n\nFINAL TRANSACTION PROPOSAL: **%s**", action)
}

// EnforceTradePlan makes a BUY executable against price: the stop must sit
// below price and the target at or above it. A missing or invalid stop
// becomes 2% below price and a missing target becomes 2R above price.
// It reports whether anything changed.
func EnforceTradePlan(sig *Signal, price float64) bool {
	if sig.Action != consts.DecisionBuy || price <= 0 {
		return false
	}
	adjusted := false
	if sig.Prices.Stop <= 0 || sig.Prices.Stop >= price {
		sig.Prices.Stop = roundBelow(price*0.98, price)
		adjusted = true
	}
	if sig.Prices.Target < price {
		sig.Prices.Target = round2(price + 2*(price-sig.Prices.Stop))
		if sig.Prices.Target < price {
			sig.Prices.Target = price
		}
		adjusted = true
	}
	if sig.Prices.Entry <= 0 {
		sig.Prices.Entry = price
	}
	return adjusted
}

// ToDecision converts a signal into the state's decision record.
func (s Signal) ToDecision(price float64, adjusted bool, reason string) *models.Decision {
	return &models.Decision{
		Action:     s.Action,
		Confidence: s.Confidence,
		Price:      price,
		StopLoss:   s.Prices.Stop,
		Target:     s.Prices.Target,
		Adjusted:   adjusted,
		Reason:     reason,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func roundBelow(v, limit float64) float64 {
	if r := round2(v); r < limit {
		return r
	}
	return v
}
