package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/consts"
)

func writeTestFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.TTLFor(consts.ToolQuote))
	assert.Equal(t, 6*time.Hour, cfg.TTLFor(consts.ToolStockData))
	assert.Equal(t, 15*time.Minute, cfg.TTLFor(consts.ToolNews))
	assert.Equal(t, 5*time.Minute, cfg.TTLFor(consts.ToolSocialSentiment))
	assert.Equal(t, time.Hour, cfg.TTLFor(consts.ToolFundamentals))
	assert.Equal(t, 1.0, cfg.Quotes.Tolerance)
	assert.Equal(t, 6*time.Second, cfg.Social.MirrorSpacing)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeTestFile(t, "stockdesk.yaml", `
max_debate_rounds: 3
max_risk_rounds: 2
quick_think_llm: file-model
cache:
  max_entries: 64
  ttls:
    get_quote: 45s
vendors:
  category_vendors:
    news_data: finnhub
`)
	t.Setenv("STOCKDESK_MAX_RISK_ROUNDS", "4")
	t.Setenv("STOCKDESK_VENDOR_TIMEOUT", "3s")

	cfg, err := load(path, DefaultConfigWithRoot(t.TempDir()))
	require.NoError(t, err)

	// file beats defaults
	assert.Equal(t, 3, cfg.MaxDebateRounds)
	assert.Equal(t, "file-model", cfg.QuickThinkLLM)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Equal(t, 45*time.Second, cfg.TTLFor(consts.ToolQuote))
	assert.Equal(t, consts.VendorFinnhub, cfg.Vendors.CategoryVendors[consts.CategoryNews])
	// untouched defaults survive
	assert.Equal(t, "deepseek-reasoner", cfg.DeepThinkLLM)
	// env beats file
	assert.Equal(t, 4, cfg.MaxRiskDiscussRounds)
	assert.Equal(t, 3*time.Second, cfg.VendorTimeout)

	// request overrides beat everything
	rounds := 5
	model := "request-model"
	merged, err := cfg.WithOverrides(&Overrides{MaxDebateRounds: &rounds, QuickThinkLLM: &model})
	require.NoError(t, err)
	assert.Equal(t, 5, merged.MaxDebateRounds)
	assert.Equal(t, "request-model", merged.QuickThinkLLM)
	assert.Equal(t, 3, cfg.MaxDebateRounds, "base config must not change")
}

func TestLoadJSONFile(t *testing.T) {
	path := writeTestFile(t, "config.json", `{"max_debate_rounds": 2, "quotes": {"tolerance": 0.5}}`)
	cfg, err := load(path, DefaultConfigWithRoot(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDebateRounds)
	assert.Equal(t, 0.5, cfg.Quotes.Tolerance)
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	path := writeTestFile(t, "bad.yaml", "max_debate_rounds: 11\n")
	_, err := load(path, DefaultConfigWithRoot(t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_debate_rounds")
}

func TestOverridesValidate(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	zero := 0
	_, err := cfg.WithOverrides(&Overrides{MaxDebateRounds: &zero})
	require.Error(t, err)

	merged, err := cfg.WithOverrides(&Overrides{ToolVendors: map[string]string{consts.ToolQuote: consts.VendorFinnhub}})
	require.NoError(t, err)
	assert.Equal(t, consts.VendorFinnhub, merged.Vendors.ToolVendors[consts.ToolQuote])
	assert.Empty(t, cfg.Vendors.ToolVendors)
}

func TestRedactedDump(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.DeepSeekAPIKey = "sk-deepseek-secret"
	cfg.FinnhubAPIKey = "finnhub-secret"
	cfg.LongportAccessToken = "lp-token-secret"
	cfg.Cache.RedisPass = "redis-secret"

	out, err := cfg.DumpYAML()
	require.NoError(t, err)
	for _, secret := range []string{"sk-deepseek-secret", "finnhub-secret", "lp-token-secret", "redis-secret"} {
		assert.False(t, strings.Contains(out, secret), "dump leaked %s", secret)
	}
	assert.Contains(t, out, redactedValue)
	assert.Equal(t, "sk-deepseek-secret", cfg.DeepSeekAPIKey, "redaction must not mutate the source")
}
