package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// Runtime holds the current engine and swaps it whenever the config file
// changes. In-flight calls finish on the engine they started with.
type Runtime struct {
	cfgMgr *config.Manager
	shared *Shared
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	logger  *zap.Logger
	cancel  context.CancelFunc
	patchMu sync.Mutex
}

func NewRuntime(cfgMgr *config.Manager, shared *Shared, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if shared == nil {
		return nil, fmt.Errorf("shared resources are required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		shared:  shared,
		builder: BuildEngine,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = logger.OrNop(rt.logger)

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}
	return rt, nil
}

// Watch rebuilds the engine on every config file change until ctx is
// done or Close is called. A failed rebuild keeps the previous engine.
func (r *Runtime) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if err := r.cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := r.reload(cfg); err != nil {
			r.logger.Error("engine reload failed, keeping previous engine", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return err
	}
	return nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

func (r *Runtime) Shared() *Shared { return r.shared }

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// ApplyConfigPatch merges a JSON merge patch into the config and builds an
// engine from the result. Only when the build succeeds is the file saved
// and the engine swapped; otherwise both stay as they were. Shared
// resources (cache, limiters, sqlite) keep their startup settings.
func (r *Runtime) ApplyConfigPatch(patch map[string]any) (*config.Config, error) {
	r.patchMu.Lock()
	defer r.patchMu.Unlock()

	next, err := r.cfgMgr.Preview(patch)
	if err != nil {
		return nil, errs.Validation("invalid config patch: %v", err)
	}
	engine, err := r.builder(next, r.shared)
	if err != nil {
		return nil, errs.Validation("patched config cannot build an engine: %v", err)
	}
	if err := r.cfgMgr.Commit(next); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "save config")
	}
	r.store(engine)
	return engine.Config(), nil
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(cfg, r.shared)
	if err != nil {
		return err
	}
	r.store(engine)
	return nil
}

func (r *Runtime) store(engine *Engine) {
	r.engine.Store(engine)
	r.logger.Info("engine built",
		zap.Uint64("version", engine.Version),
		zap.String("built_at", engine.BuiltAt.UTC().Format(time.RFC3339)),
	)
}

func (r *Runtime) Analyze(ctx context.Context, p service.AnalyzeParams) (*service.AnalyzeResult, error) {
	return r.Engine().Service.Analyze(ctx, p)
}

func (r *Runtime) Backtest(ctx context.Context, p service.BacktestParams) (*service.BacktestResult, error) {
	return r.Engine().Service.Backtest(ctx, p)
}

func (r *Runtime) Risk(p risk.Request) (*risk.Assessment, error) {
	return r.Engine().Service.Risk(p)
}

func (r *Runtime) Sentiment(ctx context.Context, p service.SentimentParams) (*sentiment.Report, error) {
	return r.Engine().Service.Sentiment(ctx, p)
}

func (r *Runtime) Config() *config.Config { return r.Engine().Config() }

func (r *Runtime) Stats() dataflows.Stats { return r.Engine().Stats() }

func (r *Runtime) ResolutionTable() map[string][]string { return r.Engine().ResolutionTable() }
