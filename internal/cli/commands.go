package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/display"
	"github.com/dyike/stockdesk/internal/mcpserver"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/service"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

type analyzeFlags struct {
	date         string
	analysts     []string
	debateRounds int
	riskRounds   int
	coachDate    string
	interactive  bool
	noSave       bool
}

func (f analyzeFlags) params(ticker string) service.AnalyzeParams {
	p := service.AnalyzeParams{
		Ticker:    ticker,
		TradeDate: f.date,
		Analysts:  f.analysts,
		CoachDate: f.coachDate,
	}
	var o config.Overrides
	if f.debateRounds > 0 {
		o.MaxDebateRounds = &f.debateRounds
	}
	if f.riskRounds > 0 {
		o.MaxRiskRounds = &f.riskRounds
	}
	if o.MaxDebateRounds != nil || o.MaxRiskRounds != nil {
		p.Config = &o
	}
	return p
}

func newAnalyzeCmd(s *session) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [TICKER]",
		Short: "Run the full analysis pipeline for a ticker",
		Long: `Run the analyst team, research debate, trader and risk committee for a
ticker and print the decision. The report is saved under results_dir.
Example: stockdesk analyze NVDA --date=2024-05-10 --analysts=market,news`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runAnalyze(cmd, f, args)
		},
	}
	cmd.Flags().StringVar(&f.date, "date", "", "Trade date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().StringSliceVar(&f.analysts, "analysts", nil, "Analysts to run: market, fundamentals, news, social")
	cmd.Flags().IntVar(&f.debateRounds, "debate-rounds", 0, "Bull/bear debate rounds (1-10)")
	cmd.Flags().IntVar(&f.riskRounds, "risk-rounds", 0, "Risk committee rounds (1-10)")
	cmd.Flags().StringVar(&f.coachDate, "coach-date", "", "Attach coach plans filed on this date")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Prompt for ticker, date and analysts")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not write the report to results_dir")
	return cmd
}

func (s *session) runAnalyze(cmd *cobra.Command, f analyzeFlags, args []string) error {
	var ticker string
	if len(args) > 0 {
		ticker = args[0]
	}
	if ticker == "" || f.interactive {
		var err error
		if ticker, err = s.prompts.Ticker(); err != nil {
			return err
		}
		def := f.date
		if def == "" {
			def = time.Now().Format(pkg.DateLayout)
		}
		if f.date, err = s.prompts.TradeDate(def); err != nil {
			return err
		}
		defaults := f.analysts
		if len(defaults) == 0 {
			defaults = s.cfg.SelectedAnalysts
		}
		if f.analysts, err = s.prompts.Analysts(defaults); err != nil {
			return err
		}
	}

	e, done, err := s.engine()
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	display.Info(s.out, fmt.Sprintf("Analyzing %s ...", strings.ToUpper(ticker)))
	res, err := e.Service.Analyze(ctx, f.params(ticker))
	if err != nil {
		return err
	}
	display.NewResultsDisplay(s.out).Show(res)

	if !f.noSave {
		dir, err := display.SaveReport(s.cfg.ResultsDir, res)
		if err != nil {
			display.Warning(s.out, err.Error())
		} else {
			display.Success(s.out, "Report saved to "+dir)
		}
	}
	return nil
}

type backtestFlags struct {
	start      string
	end        string
	balance    float64
	commission float64
	slippage   float64
	riskPct    float64
	maxPosPct  float64
	sizing     string
	analysts   []string
	windows    int
}

func (f backtestFlags) params(cmd *cobra.Command, ticker string) service.BacktestParams {
	var sp service.StrategyParams
	set := func(name string, v float64) *float64 {
		if cmd.Flags().Changed(name) {
			return &v
		}
		return nil
	}
	sp.InitialBalance = set("balance", f.balance)
	sp.CommissionRate = set("commission", f.commission)
	sp.Slippage = set("slippage", f.slippage)
	sp.RiskPerTradePct = set("risk-pct", f.riskPct)
	sp.MaxPositionSizePct = set("max-position-pct", f.maxPosPct)
	sp.PositionSizingMethod = f.sizing
	sp.Analysts = f.analysts
	return service.BacktestParams{
		Ticker:    ticker,
		StartDate: f.start,
		EndDate:   f.end,
		Strategy:  &sp,
		Windows:   f.windows,
	}
}

func newBacktestCmd(s *session) *cobra.Command {
	var f backtestFlags
	cmd := &cobra.Command{
		Use:   "backtest TICKER",
		Short: "Replay daily decisions over a date range",
		Long: `Run the analysis once per trading day between --start and --end and
simulate the resulting trades. With --windows it runs a walk-forward
split instead and reports an overfitting score.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := s.engine()
			if err != nil {
				return err
			}
			defer done()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := e.Service.Backtest(ctx, f.params(cmd, args[0]))
			if res != nil {
				display.Backtest(s.out, res)
			}
			if err != nil && res != nil {
				display.Warning(s.out, "backtest stopped early: "+err.Error())
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.start, "start", "", "First trading day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "Last trading day (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&f.balance, "balance", 0, "Initial balance")
	cmd.Flags().Float64Var(&f.commission, "commission", 0, "Commission rate per trade, e.g. 0.001")
	cmd.Flags().Float64Var(&f.slippage, "slippage", 0, "Slippage fraction, e.g. 0.0005")
	cmd.Flags().Float64Var(&f.riskPct, "risk-pct", 0, "Risk per trade in percent")
	cmd.Flags().Float64Var(&f.maxPosPct, "max-position-pct", 0, "Maximum position size in percent of equity")
	cmd.Flags().StringVar(&f.sizing, "sizing", "", "Position sizing: fixed_percentage, risk_based or equal_weight")
	cmd.Flags().StringSliceVar(&f.analysts, "analysts", nil, "Analysts to run each day")
	cmd.Flags().IntVar(&f.windows, "windows", 0, "Walk-forward windows; zero runs a single backtest")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

type riskFlags struct {
	account float64
	riskPct float64
	price   float64
	stop    float64
	target  float64
}

func (f riskFlags) request(ticker string) risk.Request {
	return risk.Request{
		Ticker:          ticker,
		AccountValue:    f.account,
		RiskPerTradePct: f.riskPct,
		CurrentPrice:    f.price,
		StopLossPrice:   f.stop,
		TargetPrice:     f.target,
	}
}

func newRiskCmd(s *session) *cobra.Command {
	var f riskFlags
	cmd := &cobra.Command{
		Use:   "risk TICKER",
		Short: "Size a position from account value and risk budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := s.engine()
			if err != nil {
				return err
			}
			defer done()
			a, err := e.Service.Risk(f.request(args[0]))
			if err != nil {
				return err
			}
			display.Risk(s.out, a)
			return nil
		},
	}
	cmd.Flags().Float64Var(&f.account, "account", 0, "Account value")
	cmd.Flags().Float64Var(&f.riskPct, "risk-pct", 1, "Risk per trade in percent")
	cmd.Flags().Float64Var(&f.price, "price", 0, "Current price")
	cmd.Flags().Float64Var(&f.stop, "stop", 0, "Stop loss price (2% below price if omitted)")
	cmd.Flags().Float64Var(&f.target, "target", 0, "Target price")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newSentimentCmd(s *session) *cobra.Command {
	var p service.SentimentParams
	cmd := &cobra.Command{
		Use:   "sentiment TICKER",
		Short: "Collect and score social chatter for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := s.engine()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.RequestTimeout)
			defer cancel()
			p.Ticker = args[0]
			r, err := e.Service.Sentiment(ctx, p)
			if err != nil {
				return err
			}
			display.Sentiment(s.out, r)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&p.Sources, "sources", nil, "Sources: twitter, stocktwits, reddit (all if omitted)")
	cmd.Flags().StringVar(&p.TimeRange, "range", "24h", "Time range: 1h, 4h, 24h or 7d")
	return cmd
}

func newConfigCmd(s *session) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var stats bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := s.cfg.Redacted().DumpYAML()
			if err != nil {
				return err
			}
			fmt.Fprint(s.out, out)
			if stats {
				e, done, err := s.engine()
				if err != nil {
					return err
				}
				defer done()
				display.Stats(s.out, e.Stats())
			}
			return nil
		},
	}
	show.Flags().BoolVar(&stats, "stats", false, "Also print vendor cache counters")
	configCmd.AddCommand(show)

	configCmd.AddCommand(&cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Change keys in the configuration file",
		Long: `Keys are the json field names, dotted for nested ones
(max_debate_rounds, cache.ttls.get_news). Values are read as YAML, so 2,
true, 90s and [market,news] all work; an empty value resets the key.
A running serve or mcp rebuilds its engine when the file changes.`,
		Example: "  stockdesk config set max_debate_rounds=2 cache.ttls.get_news=30m",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfig(s, args)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and report missing credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(s)
		},
	})
	return configCmd
}

func setConfig(s *session, pairs []string) error {
	patch, err := config.ParseAssignments(pairs)
	if err != nil {
		display.Error(s.out, err, "config")
		return err
	}
	mgr, err := s.configManager()
	if err != nil {
		return err
	}
	cfg, err := mgr.Patch(patch)
	if err != nil {
		display.Error(s.out, err, "config")
		return err
	}
	s.cfg = &cfg
	display.Success(s.out, "Updated "+mgr.Path())
	return nil
}

func validateConfig(s *session) error {
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		display.Error(s.out, err, "config")
		return err
	}
	display.Success(s.out, "Configuration is valid")

	llmKey := cfg.DeepSeekAPIKey
	if strings.EqualFold(cfg.LLMProvider, "openai") {
		llmKey = cfg.OpenAIAPIKey
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"LLM API key (" + cfg.LLMProvider + ")", llmKey != ""},
		{"Alpha Vantage API key", cfg.AlphaVantageAPIKey != ""},
		{"Finnhub API key", cfg.FinnhubAPIKey != ""},
		{"Longport credentials", cfg.LongportAppKey != "" && cfg.LongportAccessToken != ""},
		{"Reddit credentials", cfg.RedditClientID != "" && cfg.RedditSecret != ""},
		{"Redis cache", cfg.Cache.RedisAddr != ""},
	}
	for _, c := range checks {
		if c.ok {
			display.Success(s.out, c.name)
		} else {
			display.Warning(s.out, c.name+" not configured")
		}
	}
	return nil
}

func newVersionCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(s.out, "stockdesk %s\n", mcpserver.Version)
		},
	}
}
