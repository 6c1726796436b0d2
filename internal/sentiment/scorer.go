package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/utils"
)

// Scorer turns messages into a sentiment score.
type Scorer interface {
	Score(ctx context.Context, ticker string, msgs []Message) (Score, error)
}

// LLMScorer asks a model for a JSON verdict per batch of messages and
// averages the batches by size.
type LLMScorer struct {
	gen       llm.Generator
	model     string
	batchSize int
}

func NewLLMScorer(gen llm.Generator, model string, batchSize int) *LLMScorer {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &LLMScorer{gen: gen, model: model, batchSize: batchSize}
}

type llmVerdict struct {
	Overall     *float64 `json:"overall"`
	Confidence  float64  `json:"confidence"`
	BullishArgs []string `json:"bullish_args"`
	BearishArgs []string `json:"bearish_args"`
	Themes      []string `json:"themes"`
}

var errUnparseable = errors.New("sentiment: unparseable model response")

func (s *LLMScorer) Score(ctx context.Context, ticker string, msgs []Message) (Score, error) {
	if len(msgs) == 0 {
		return Score{Method: "llm"}, nil
	}
	tpl, err := utils.LoadPrompt("sentiment/score")
	if err != nil {
		return Score{}, err
	}

	out := Score{Method: "llm"}
	var weighted, conf float64
	for batch := range slices.Chunk(msgs, s.batchSize) {
		var lines strings.Builder
		for i, m := range batch {
			fmt.Fprintf(&lines, "%d. [%s @%s] %s\n", i+1, m.Source, m.Author, strings.ReplaceAll(m.Text, "\n", " "))
		}
		prompt, err := llm.Render(ctx, tpl, map[string]any{
			"ticker":   ticker,
			"count":    len(batch),
			"messages": lines.String(),
		})
		if err != nil {
			return Score{}, err
		}
		text, err := s.gen.Generate(ctx, llm.Request{Model: s.model, Prompt: prompt, MaxTokens: 800})
		if err != nil {
			return Score{}, err
		}
		v, err := parseVerdict(text)
		if err != nil {
			return Score{}, err
		}
		n := float64(len(batch))
		weighted += clamp(*v.Overall, -1, 1) * n
		conf += clamp(v.Confidence, 0, 1) * n
		out.BullishArgs = appendUnique(out.BullishArgs, v.BullishArgs, 5)
		out.BearishArgs = appendUnique(out.BearishArgs, v.BearishArgs, 5)
		out.Themes = appendUnique(out.Themes, v.Themes, 8)
	}
	total := float64(len(msgs))
	out.Overall = weighted / total
	out.Confidence = conf / total
	return out, nil
}

// parseVerdict accepts a bare JSON object or one wrapped in prose or a
// code fence.
func parseVerdict(text string) (*llmVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errUnparseable
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	if v.Overall == nil {
		return nil, fmt.Errorf("%w: missing overall", errUnparseable)
	}
	return &v, nil
}

func appendUnique(dst, src []string, limit int) []string {
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(dst, s) || len(dst) >= limit {
			continue
		}
		dst = append(dst, s)
	}
	return dst
}
