package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/backtest"
	"github.com/dyike/stockdesk/internal/cache"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/graph"
	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/memory"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
	"github.com/dyike/stockdesk/internal/storage"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Shared is the process-wide state that outlives engine rebuilds: the
// vendor cache, role memories and the coach plan store.
type Shared struct {
	Cache    *cache.LRU
	L2       cache.Store
	Memories *memory.RoleMemories
	Store    *storage.Store
	Logger   *zap.Logger

	closers []func() error
}

// NewShared opens the long-lived resources. Redis and sqlite are optional;
// a failure to reach either is logged and the process runs without it.
func NewShared(cfg *config.Config, l *zap.Logger) *Shared {
	l = logger.OrNop(l)
	s := &Shared{
		Cache:    cache.NewLRU(cfg.Cache.MaxEntries),
		Memories: memory.NewRoleMemories(cfg.Memory.Capacity),
		Logger:   l,
	}
	if cfg.Cache.RedisAddr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPass,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rs.Client.Ping(ctx).Err()
		cancel()
		if err != nil {
			l.Warn("redis cache disabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
			_ = rs.Close()
		} else {
			s.L2 = rs
			s.closers = append(s.closers, rs.Close)
		}
	}
	if cfg.Storage.DBPath != "" {
		st, err := storage.Open(cfg.Storage.DBPath)
		if err != nil {
			l.Warn("sqlite store disabled", zap.String("path", cfg.Storage.DBPath), zap.Error(err))
		} else {
			s.Store = st
			s.closers = append(s.closers, st.Close)
		}
	}
	return s
}

func (s *Shared) Close() error {
	var all []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		all = append(all, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(all...)
}

// Engine is one immutable build of the pipeline for a config snapshot.
type Engine struct {
	cfg          *config.Config
	Router       *dataflows.Router
	Orchestrator *graph.Orchestrator
	Sentiment    *sentiment.Fetcher
	Service      *service.Service
	BuiltAt      time.Time
	Version      uint64
}

var engineSeq atomic.Uint64

type EngineBuilder func(cfg config.Config, shared *Shared) (*Engine, error)

// BuildEngine wires vendors, the router, the LLM, the orchestrator and
// the service for cfg. A missing LLM key does not fail the build; only
// the analysis entry points report it.
func BuildEngine(cfg config.Config, shared *Shared) (*Engine, error) {
	c := cfg.Clone()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	l := logger.OrNop(shared.Logger)

	reg := dataflows.NewDefaultRegistry(c, l)
	router := dataflows.NewRouter(c, reg,
		dataflows.WithCache(shared.Cache),
		dataflows.WithStore(shared.L2),
		dataflows.WithLogger(l.Named("router")),
	)
	reg.Register(dataflows.NewIndicatorVendor(router.GetBars))

	gen, genErr := llm.NewEinoGenerator(c, l.Named("llm"))
	fetcherOpts := []sentiment.Option{
		sentiment.WithLogger(l.Named("sentiment")),
		sentiment.WithReddit(pkg.NewRedditClient(pkg.RedditCredentials{
			ClientID:  c.RedditClientID,
			Secret:    c.RedditSecret,
			UserAgent: c.RedditUserAgent,
		}, pkg.HTTPOptions{Timeout: c.Social.RequestTimeout, MaxConnsPerHost: c.Vendors.MaxConnsPerHost})),
	}
	if genErr == nil {
		fetcherOpts = append(fetcherOpts, sentiment.WithScorer(sentiment.NewLLMScorer(gen, c.QuickThinkLLM, c.Social.SentimentBatchSize)))
	}
	fetcher := sentiment.NewFetcher(c, fetcherOpts...)
	reg.Register(sentiment.NewVendor(fetcher))

	e := &Engine{
		cfg:       c,
		Router:    router,
		Sentiment: fetcher,
		BuiltAt:   time.Now(),
		Version:   engineSeq.Add(1),
	}

	var analyzer backtest.Analyzer
	if genErr != nil {
		l.Warn("llm unavailable, analysis disabled", zap.Error(genErr))
		analyzer = unavailable{err: genErr}
	} else {
		opts := []graph.Option{
			graph.WithMemories(shared.Memories),
			graph.WithLogger(l.Named("graph")),
		}
		if shared.Store != nil {
			opts = append(opts, graph.WithCoach(shared.Store))
		}
		e.Orchestrator = graph.NewOrchestrator(c, router, gen, opts...)
		analyzer = e.Orchestrator
	}

	e.Service = service.New(c, analyzer, router, fetcher, service.WithLogger(l.Named("service")))
	return e, nil
}

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) Stats() dataflows.Stats { return e.Router.Stats() }

func (e *Engine) ResolutionTable() map[string][]string { return e.Router.ResolutionTable() }

// unavailable stands in for the orchestrator when no LLM is configured.
type unavailable struct{ err error }

func (u unavailable) Run(context.Context, graph.Request) (*models.AnalysisState, error) {
	return nil, errs.Wrap(errs.KindValidation, u.err, "llm provider is not configured")
}
