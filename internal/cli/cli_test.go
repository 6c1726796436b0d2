package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
)

type stubPrompter struct {
	asked    int
	analysts []string
}

func (p *stubPrompter) Ticker() (string, error) {
	p.asked++
	return "msft", nil
}

func (p *stubPrompter) TradeDate(def string) (string, error) {
	p.asked++
	return "2024-05-10", nil
}

func (p *stubPrompter) Analysts(def []string) ([]string, error) {
	p.asked++
	p.analysts = def
	return []string{consts.AnalystMarket}, nil
}

func run(t *testing.T, prompts Prompter, args ...string) (string, error) {
	t.Helper()
	root := t.TempDir()
	var out bytes.Buffer
	opts := []Option{
		WithOutput(&out),
		WithConfigLoader(func(string) (*config.Config, error) {
			cfg := config.DefaultConfigWithRoot(root)
			cfg.DeepSeekAPIKey = ""
			cfg.OpenAIAPIKey = "sk-very-secret"
			cfg.LLMProvider = "deepseek"
			cfg.Log.OutputPaths = []string{"stderr"}
			return cfg, nil
		}),
	}
	if prompts != nil {
		opts = append(opts, WithPrompter(prompts))
	}
	cmd := NewRootCmd(opts...)
	cmd.SetArgs(args)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stockdesk dev")
}

func TestRiskCommand(t *testing.T) {
	out, err := run(t, nil, "risk", "aapl", "--account", "10000", "--price", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "RISK AAPL")
	assert.Contains(t, out, "98.00")
}

func TestRiskCommandRequiresFlags(t *testing.T) {
	_, err := run(t, nil, "risk", "AAPL", "--price", "100")
	assert.Error(t, err)
}

func TestConfigShowRedacts(t *testing.T) {
	out, err := run(t, nil, "config", "show", "--stats")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-very-secret")
	assert.Contains(t, out, "max_debate_rounds")
	assert.Contains(t, out, "Vendor calls")
}

func TestConfigValidate(t *testing.T) {
	out, err := run(t, nil, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "Reddit credentials not configured")
}

func TestConfigSetWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockdesk.yaml")
	out, err := run(t, nil, "--config", path, "config", "set", "max_debate_rounds=2", "request_timeout=45s")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDebateRounds)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)

	out, err = run(t, nil, "--config", path, "config", "set", "max_debate_rounds=12")
	assert.Error(t, err)
	assert.Contains(t, out, "max_debate_rounds")
	_, err = run(t, nil, "--config", path, "config", "set", "debate_rounds")
	assert.Error(t, err)

	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDebateRounds)
}

func TestInteractiveAnalyzePrompts(t *testing.T) {
	p := &stubPrompter{}
	_, err := run(t, p, "analyze", "-i", "--no-save")
	// the stub config names the deepseek provider without a deepseek key
	assert.True(t, errs.Is(err, errs.KindValidation), "%v", err)
	assert.Equal(t, 3, p.asked)
	assert.Equal(t, consts.AnalystOrder, p.analysts)
}

func TestAnalyzeRejectsBadTicker(t *testing.T) {
	p := &stubPrompter{}
	_, err := run(t, p, "analyze", "toolong", "--no-save")
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Zero(t, p.asked)
}

func TestAnalyzeFlagsParams(t *testing.T) {
	p := analyzeFlags{date: "2024-05-10"}.params("AAPL")
	assert.Nil(t, p.Config)
	assert.Nil(t, p.Analysts)

	p = analyzeFlags{debateRounds: 3, analysts: []string{"news"}}.params("AAPL")
	require.NotNil(t, p.Config)
	assert.Equal(t, 3, *p.Config.MaxDebateRounds)
	assert.Nil(t, p.Config.MaxRiskRounds)
	assert.Equal(t, []string{"news"}, p.Analysts)
}

func TestBacktestFlagsParams(t *testing.T) {
	var f backtestFlags
	cmd := &cobra.Command{}
	cmd.Flags().Float64Var(&f.balance, "balance", 0, "")
	cmd.Flags().Float64Var(&f.commission, "commission", 0, "")
	cmd.Flags().Float64Var(&f.slippage, "slippage", 0, "")
	cmd.Flags().Float64Var(&f.riskPct, "risk-pct", 0, "")
	cmd.Flags().Float64Var(&f.maxPosPct, "max-position-pct", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--balance", "5000", "--commission", "0"}))
	f.start, f.end, f.windows = "2024-01-01", "2024-03-31", 2

	p := f.params(cmd, "AAPL")
	assert.Equal(t, 2, p.Windows)
	require.NotNil(t, p.Strategy.InitialBalance)
	assert.Equal(t, 5000.0, *p.Strategy.InitialBalance)
	require.NotNil(t, p.Strategy.CommissionRate)
	assert.Zero(t, *p.Strategy.CommissionRate)
	assert.Nil(t, p.Strategy.Slippage)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateTicker("aapl"))
	assert.Error(t, validateTicker("AAPL1"))
	assert.Error(t, validateTicker(3))
	assert.NoError(t, validateDate("2024-05-10"))
	assert.Error(t, validateDate("05/10/2024"))
	assert.Error(t, validateDate("2999-01-01"))
}
