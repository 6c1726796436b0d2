package memory

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// vector is sparse; dense embeddings are keyed by index.
type vector map[string]float64

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"are": true, "was": true, "from": true, "has": true, "have": true, "its": true,
	"but": true, "not": true, "our": true, "will": true, "been": true, "into": true,
}

func termVector(text string) vector {
	v := vector{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		v[w]++
	}
	return v
}

func denseVector(xs []float64) vector {
	v := make(vector, len(xs))
	for i, x := range xs {
		if x != 0 {
			v[strconv.Itoa(i)] = x
		}
	}
	return v
}

func cosine(a, b vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, na, nb float64
	for k, x := range a {
		dot += x * b[k]
		na += x * x
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
