// Package service holds the use cases shared by the CLI, the HTTP API and
// the MCP server: request validation, then analysis, backtest, risk and
// sentiment.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/backtest"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/graph"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
)

type SentimentFetcher interface {
	Fetch(ctx context.Context, req sentiment.Request) (*sentiment.Report, error)
}

type Service struct {
	cfg       *config.Config
	analyzer  backtest.Analyzer
	bars      backtest.BarSource
	sentiment SentimentFetcher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(svc *Service) { svc.logger = l } }

func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

func New(cfg *config.Config, analyzer backtest.Analyzer, bars backtest.BarSource, sent SentimentFetcher, opts ...Option) *Service {
	s := &Service{cfg: cfg, analyzer: analyzer, bars: bars, sentiment: sent, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s
}

func (s *Service) Config() *config.Config { return s.cfg }

// AnalyzeResult is the analysis state plus the recommendation block.
type AnalyzeResult struct {
	*models.AnalysisState
	FinalDecision        string  `json:"finalDecision"`
	Confidence           float64 `json:"confidence"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
}

// Analyze runs the pipeline for one ticker. A run that hits its deadline
// still returns, with Cancelled set and whatever stages finished.
func (s *Service) Analyze(ctx context.Context, p AnalyzeParams) (*AnalyzeResult, error) {
	if err := p.normalize(s.now()); err != nil {
		return nil, err
	}
	cfg, err := s.cfg.WithOverrides(p.Config)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid config overrides")
	}
	var vendors map[string]string
	if p.Config != nil {
		vendors = p.Config.ToolVendors
	}

	started := time.Now()
	st, err := s.analyzer.Run(ctx, graph.Request{
		Ticker:          p.Ticker,
		TradeDate:       p.TradeDate,
		Analysts:        p.Analysts,
		Config:          cfg,
		VendorOverrides: vendors,
		CoachDate:       p.CoachDate,
	})
	elapsed := time.Since(started)
	if err != nil {
		return nil, err
	}

	res := resultFromState(st)
	res.ExecutionTimeSeconds = elapsed.Seconds()
	s.logger.Info("analysis finished",
		zap.String("run_id", st.RunID),
		zap.String("ticker", st.Ticker),
		zap.String("decision", res.FinalDecision),
		zap.Bool("cancelled", st.Cancelled),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

// resultFromState derives the headline decision of a run. Runs without a
// parsed decision report HOLD.
func resultFromState(st *models.AnalysisState) *AnalyzeResult {
	res := &AnalyzeResult{
		AnalysisState: st,
		FinalDecision: consts.DecisionHold,
	}
	if st.Decision != nil && st.Decision.Action != "" {
		res.FinalDecision = st.Decision.Action
		res.Confidence = min(max(st.Decision.Confidence, 0), 1)
	}
	return res
}

// PerformanceSummary is the headline block of a backtest.
type PerformanceSummary struct {
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	TotalTrades    int     `json:"total_trades"`
	FinalBalance   float64 `json:"final_balance"`
}

type BacktestResult struct {
	Ticker      string                      `json:"ticker"`
	Performance PerformanceSummary          `json:"performance"`
	Trades      []backtest.Trade            `json:"trades"`
	EquityCurve []backtest.EquityPoint      `json:"equity_curve"`
	SkippedDays []string                    `json:"skipped_days,omitempty"`
	WalkForward *backtest.WalkForwardResult `json:"walk_forward,omitempty"`
	Full        *backtest.Result            `json:"-"`
}

const (
	maxReportedTrades = 50
	maxCurvePoints    = 100
)

// Backtest replays the pipeline over [StartDate, EndDate]. The reported
// trades are capped at 50 and the equity curve sampled to 100 points;
// Full keeps everything.
func (s *Service) Backtest(ctx context.Context, p BacktestParams) (*BacktestResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	cfg := p.Strategy.Apply(backtest.DefaultConfig())
	driver := backtest.NewDriver(s.analyzer, s.bars, backtest.WithLogger(s.logger))

	if p.Windows > 0 {
		wf, err := driver.WalkForward(ctx, p.Ticker, p.StartDate, p.EndDate, p.Windows, cfg)
		if err != nil {
			return nil, err
		}
		return &BacktestResult{Ticker: p.Ticker, WalkForward: wf}, nil
	}

	full, err := driver.Run(ctx, backtest.Request{Ticker: p.Ticker, StartDate: p.StartDate, EndDate: p.EndDate, Config: cfg})
	if err != nil && full == nil {
		return nil, err
	}
	res := &BacktestResult{
		Ticker: p.Ticker,
		Performance: PerformanceSummary{
			TotalReturn:    full.Summary.TotalReturn,
			TotalReturnPct: full.Summary.TotalReturnPct,
			SharpeRatio:    full.Summary.SharpeRatio,
			MaxDrawdown:    full.Summary.MaxDrawdown,
			MaxDrawdownPct: full.Summary.MaxDrawdownPct,
			WinRate:        full.Summary.WinRate,
			TotalTrades:    len(full.Trades),
			FinalBalance:   full.FinalBalance,
		},
		Trades:      full.Trades[:min(len(full.Trades), maxReportedTrades)],
		EquityCurve: Sample(full.EquityHistory, maxCurvePoints),
		SkippedDays: full.SkippedDays,
		Full:        full,
	}
	if res.Trades == nil {
		res.Trades = []backtest.Trade{}
	}
	return res, err
}

// Sample picks at most n evenly spaced points, always keeping the last.
func Sample[T any](xs []T, n int) []T {
	if n <= 0 || len(xs) <= n {
		return append([]T{}, xs...)
	}
	out := make([]T, 0, n)
	step := float64(len(xs)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, xs[int(float64(i)*step+0.5)])
	}
	return out
}

func (s *Service) Risk(p risk.Request) (*risk.Assessment, error) {
	t, err := NormalizeTicker(p.Ticker)
	if err != nil {
		return nil, err
	}
	p.Ticker = t
	return risk.Calculate(p)
}

func (s *Service) Sentiment(ctx context.Context, p SentimentParams) (*sentiment.Report, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if s.sentiment == nil {
		return nil, errs.New(errs.KindNotFound, "sentiment fetcher is not configured")
	}
	rep, err := s.sentiment.Fetch(ctx, sentiment.Request{Ticker: p.Ticker, TimeRange: p.TimeRange, Sources: p.Sources})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindDeadline, err, "sentiment fetch")
		}
		return nil, errs.Wrap(errs.KindVendorFailure, err, "sentiment fetch")
	}
	return rep, nil
}
