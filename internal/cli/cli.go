package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/pkg/app"
)

// session is the state shared by every command of one invocation.
type session struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	load    func(path string) (*config.Config, error)
	prompts Prompter
}

type Option func(*session)

// WithConfigLoader replaces config.Load.
func WithConfigLoader(load func(path string) (*config.Config, error)) Option {
	return func(s *session) { s.load = load }
}

func WithOutput(w io.Writer) Option {
	return func(s *session) { s.out = w }
}

func WithPrompter(p Prompter) Option {
	return func(s *session) { s.prompts = p }
}

// NewRootCmd creates the root command
func NewRootCmd(opts ...Option) *cobra.Command {
	s := &session{
		load:    config.Load,
		out:     os.Stdout,
		prompts: surveyPrompter{},
	}
	for _, opt := range opts {
		opt(s)
	}

	rootCmd := &cobra.Command{
		Use:   "stockdesk",
		Short: "stockdesk - multi-agent equity analysis",
		Long: `stockdesk runs a team of LLM analysts, researchers, a trader and a risk
committee over market, news, fundamentals and social data to reach a
BUY, SELL or HOLD decision. It also backtests those decisions, sizes
positions and serves everything over HTTP and MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.bootstrap()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: interactive analysis
			return s.runAnalyze(cmd, analyzeFlags{interactive: true}, nil)
		},
	}
	rootCmd.SetOut(s.out)

	rootCmd.AddCommand(
		newAnalyzeCmd(s),
		newBacktestCmd(s),
		newRiskCmd(s),
		newSentimentCmd(s),
		newServeCmd(s),
		newMCPCmd(s),
		newConfigCmd(s),
		newVersionCmd(s),
	)

	rootCmd.PersistentFlags().BoolVar(&s.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&s.configPath, "config", "", "Configuration file path (YAML or JSON)")

	return rootCmd
}

func (s *session) bootstrap() error {
	cfg, err := s.load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if s.debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
		cfg.Log.Encoding = "console"
	}
	l, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	s.cfg = cfg
	s.logger = l
	return nil
}

// engine builds a one-shot engine for commands that do not hot reload.
func (s *session) engine() (*app.Engine, func(), error) {
	shared := app.NewShared(s.cfg, s.logger)
	e, err := app.BuildEngine(*s.cfg, shared)
	if err != nil {
		_ = shared.Close()
		return nil, nil, err
	}
	return e, func() {
		if err := shared.Close(); err != nil {
			s.logger.Warn("close shared resources", zap.Error(err))
		}
		_ = s.logger.Sync()
	}, nil
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
