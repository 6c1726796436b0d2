package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/agents"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/memory"
	"github.com/dyike/stockdesk/internal/models"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Dispatcher is the part of the vendor router the runtime needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool string, args map[string]any, opts ...dataflows.CallOption) *dataflows.Response
}

// CoachSource looks up coach plans for a date. Its result is passed
// through untouched.
type CoachSource interface {
	GetCoachPlans(ctx context.Context, date string) (map[string]models.CoachPlan, error)
}

// Request describes one analysis run.
type Request struct {
	Ticker    string
	TradeDate string
	Analysts  []string
	// Config is the per-request config with overrides applied; nil uses
	// the orchestrator's.
	Config *config.Config
	// AsOf pins every vendor read to data on or before it.
	AsOf time.Time
	// VendorOverrides maps tool to vendor for this run only.
	VendorOverrides map[string]string
	// CoachDate triggers the coach plan lookup when set.
	CoachDate string
}

// Orchestrator executes the effects the Machine asks for. It is safe for
// concurrent runs; each run owns its AnalysisState.
type Orchestrator struct {
	cfg      *config.Config
	roster   *agents.Roster
	router   Dispatcher
	gen      llm.Generator
	memories *memory.RoleMemories
	coach    CoachSource
	logger   *zap.Logger
}

type Option func(*Orchestrator)

func WithMemories(m *memory.RoleMemories) Option { return func(o *Orchestrator) { o.memories = m } }

func WithCoach(c CoachSource) Option { return func(o *Orchestrator) { o.coach = c } }

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithRoster(r *agents.Roster) Option { return func(o *Orchestrator) { o.roster = r } }

func NewOrchestrator(cfg *config.Config, router Dispatcher, gen llm.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, router: router, gen: gen}
	for _, opt := range opts {
		opt(o)
	}
	if o.roster == nil {
		o.roster = agents.NewRoster()
	}
	o.logger = logger.OrNop(o.logger)
	return o
}

// Run drives one analysis to the terminal stage. When ctx ends first the
// partial state comes back with Cancelled set and a nil error; state is
// only ever replaced between role invocations, never half-written.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.AnalysisState, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = o.cfg
	}
	ticker := pkg.NormalizeSymbol(req.Ticker)
	if ticker == "" {
		return nil, errs.Validation("ticker is required")
	}
	date := req.TradeDate
	if date == "" {
		date = time.Now().Format(pkg.DateLayout)
	}
	if _, err := time.Parse(pkg.DateLayout, date); err != nil {
		return nil, errs.Validation("trade date %q is not YYYY-MM-DD", date)
	}
	analysts := req.Analysts
	if len(analysts) == 0 {
		analysts = cfg.SelectedAnalysts
	}
	for _, a := range analysts {
		if !slices.Contains(consts.AnalystOrder, a) {
			return nil, errs.Validation("unknown analyst %q", a)
		}
	}

	if _, ok := ctx.Deadline(); !ok && cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}
	if !req.AsOf.IsZero() {
		ctx = dataflows.ContextWithAsOf(ctx, req.AsOf)
	}
	if len(req.VendorOverrides) > 0 {
		ctx = dataflows.ContextWithOverrides(ctx, req.VendorOverrides)
	}

	st := models.NewAnalysisState(ticker, date, analysts)
	log := o.logger.With(zap.String("run_id", st.RunID), zap.String("ticker", ticker), zap.String("trade_date", date))
	started := time.Now()

	if o.coach != nil && req.CoachDate != "" {
		plans, err := o.coach.GetCoachPlans(ctx, req.CoachDate)
		if err != nil {
			log.Warn("coach plan lookup failed", zap.Error(err))
		} else if len(plans) > 0 {
			st.CoachPlans = plans
		}
	}

	machine := NewMachine(o.roster, NewConditionalLogic(cfg.MaxDebateRounds, cfg.MaxRiskDiscussRounds), cfg.DeepThinkLLM, cfg.QuickThinkLLM)
	stage, effects := machine.Step(StageInit, st, Event{Kind: EventStart})
	limit := maxSteps(cfg)
	for steps := 0; stage != StageTerminal; steps++ {
		if steps > limit {
			log.Error("pipeline did not terminate", zap.Stringer("stage", stage), zap.Int("steps", steps))
			return st, errs.Internal("pipeline exceeded %d steps at stage %s", limit, stage)
		}
		if ctx.Err() != nil {
			st.Cancelled = true
			log.Warn("analysis cancelled", zap.Stringer("stage", stage), zap.Error(ctx.Err()))
			return st, nil
		}
		if stage.String() != st.Stage {
			log.Debug("stage", zap.Stringer("stage", stage))
		}
		st.Stage = stage.String()

		ev := Event{Kind: EventAdvance}
		for _, eff := range effects {
			next, err := o.execute(ctx, st, eff, cfg)
			if errors.Is(err, errCancelled) {
				st.Cancelled = true
				log.Warn("analysis cancelled mid-stage", zap.Stringer("stage", stage), zap.String("role", eff.Role))
				return st, nil
			}
			if err != nil {
				log.Error("role failed", zap.String("role", eff.Role), zap.Error(err))
				return st, err
			}
			st = next
			ev = Event{Kind: EventRoleDone, Role: eff.Role}
		}
		stage, effects = machine.Step(stage, st, ev)
	}
	st.Stage = StageTerminal.String()

	fields := []zap.Field{zap.Duration("elapsed", time.Since(started)), zap.Bool("low_confidence", st.LowConfidence)}
	if st.Decision != nil {
		fields = append(fields, zap.String("decision", st.Decision.Action), zap.Float64("confidence", st.Decision.Confidence))
	}
	log.Info("analysis complete", fields...)
	return st, nil
}

// maxSteps bounds the loop well above any legal path.
func maxSteps(cfg *config.Config) int {
	return 2*len(consts.AnalystOrder) + 2*(2*max(cfg.MaxDebateRounds, 1)+1) + 3*max(cfg.MaxRiskDiscussRounds, 1) + 8
}

var errCancelled = errors.New("cancelled")

// execute runs one effect against a copy of st and returns the copy.
func (o *Orchestrator) execute(ctx context.Context, st *models.AnalysisState, eff Effect, cfg *config.Config) (*models.AnalysisState, error) {
	role, ok := o.roster.Get(eff.Role)
	if !ok {
		return nil, errs.Internal("no role %q", eff.Role)
	}
	log := o.logger.With(zap.String("run_id", st.RunID), zap.String("role", eff.Role))
	started := time.Now()

	in := agents.Inputs{Tools: o.callTools(ctx, eff.Calls)}
	if eff.Recall {
		k := cfg.Memory.TopK
		if k <= 0 {
			k = 2
		}
		in.Memories = memory.Recall(ctx, o.memories.For(role.ID()), st.Situation(), k)
	}

	fallback := false
	output, err := o.generate(ctx, role, st, in, eff.Model, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errCancelled
		}
		log.Warn("role fell back", zap.Error(err))
		output = role.Fallback(st, in, err)
		fallback = true
	}

	next := st.Clone()
	if err := role.Apply(next, in, output); err != nil {
		if fallback {
			return nil, errs.Wrap(errs.KindInternal, err, "apply "+eff.Role+" fallback")
		}
		log.Warn("output rejected, applying fallback", zap.Error(err))
		next = st.Clone()
		if err := role.Apply(next, in, role.Fallback(st, in, err)); err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "apply "+eff.Role+" fallback")
		}
		fallback = true
	}
	next.Completed = append(next.Completed, eff.Role)

	log.Info("role done",
		zap.String("model", eff.Model),
		zap.Int("tool_calls", len(eff.Calls)),
		zap.Bool("fallback", fallback),
		zap.Duration("elapsed", time.Since(started)))
	return next, nil
}

func (o *Orchestrator) generate(ctx context.Context, role agents.Role, st *models.AnalysisState, in agents.Inputs, model string, cfg *config.Config) (string, error) {
	system, prompt, err := role.Prompt(ctx, st, in)
	if err != nil {
		return "", err
	}
	if o.gen == nil {
		return "", errors.New("no language model configured")
	}
	out, err := o.gen.Generate(ctx, llm.Request{Model: model, System: system, Prompt: prompt, MaxTokens: cfg.MaxTokens})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("empty model response")
	}
	return out, nil
}

// callTools dispatches every call in parallel; results keep call order.
// Dispatch never errors, failures come back inside the response.
func (o *Orchestrator) callTools(ctx context.Context, calls []agents.ToolCall) []agents.ToolResult {
	if len(calls) == 0 || o.router == nil {
		return nil
	}
	results := make([]agents.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			resp := o.router.Dispatch(ctx, call.Tool, call.Args)
			results[i] = agents.ToolResult{
				Call:   call,
				Data:   resp.Data,
				Vendor: resp.Vendor,
				Stale:  resp.Stale,
				Err:    resp.Error,
				Tried:  resp.Tried,
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Describe renders a one-line summary for logs and CLI output.
func Describe(st *models.AnalysisState) string {
	if st == nil {
		return ""
	}
	action := "none"
	if st.Decision != nil {
		action = st.Decision.Action
	}
	return fmt.Sprintf("%s %s stage=%s decision=%s cancelled=%t low_confidence=%t",
		st.Ticker, st.TradeDate, st.Stage, action, st.Cancelled, st.LowConfidence)
}
