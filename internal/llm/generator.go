// Package llm is the text-generation capability the pipeline consumes.
// Providers sit behind Generator; tests use Script.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Embedder turns text into a vector for similarity lookups.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Script is a deterministic Generator. Each request is matched against
// Rules in order by substring of System+Prompt; the first hit answers.
// Unmatched requests get Default.
type Script struct {
	Rules   []Rule
	Default string

	mu    sync.Mutex
	calls []Request
}

type Rule struct {
	Contains string
	Reply    string
	Err      error
}

func (s *Script) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	text := req.System + "\n" + req.Prompt
	for _, r := range s.Rules {
		if strings.Contains(text, r.Contains) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Reply, nil
		}
	}
	if s.Default == "" {
		return "", fmt.Errorf("script: no reply for model %q", req.Model)
	}
	return s.Default, nil
}

// Calls returns a copy of every request seen so far.
func (s *Script) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
