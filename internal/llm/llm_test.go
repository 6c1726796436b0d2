package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
)

func TestScriptMatchesInOrder(t *testing.T) {
	s := &Script{
		Rules: []Rule{
			{Contains: "bull", Reply: "buy it"},
			{Contains: "bear", Err: errors.New("boom")},
		},
		Default: "HOLD",
	}
	ctx := context.Background()

	out, err := s.Generate(ctx, Request{Model: "m", Prompt: "you are the bull"})
	require.NoError(t, err)
	assert.Equal(t, "buy it", out)

	_, err = s.Generate(ctx, Request{Model: "m", System: "bear side"})
	require.Error(t, err)

	out, err = s.Generate(ctx, Request{Model: "m", Prompt: "judge"})
	require.NoError(t, err)
	assert.Equal(t, "HOLD", out)
	assert.Len(t, s.Calls(), 3)
}

func TestScriptHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Script{Default: "x"}).Generate(ctx, Request{Model: "m"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRender(t *testing.T) {
	out, err := Render(context.Background(), "Ticker {ticker} on {date}, json {{\"a\": 1}}", map[string]any{
		"ticker": "AAPL",
		"date":   "2024-01-02",
	})
	require.NoError(t, err)
	assert.Equal(t, `Ticker AAPL on 2024-01-02, json {"a": 1}`, out)
}

func TestNewEinoGeneratorRequiresKey(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	_, err := NewEinoGenerator(cfg, nil)
	require.Error(t, err)

	cfg.DeepSeekAPIKey = "sk-test"
	g, err := NewEinoGenerator(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", g.provider)

	_, err = g.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
}
