package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/llm"
	"github.com/dyike/stockdesk/internal/memory"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/processing"
	"github.com/dyike/stockdesk/internal/utils"
)

// Reflect records one lesson per learning role for a finished run, keyed
// by the run's market situation. realizedReturn is a fraction (0.05 is
// +5%). Cancelled or unfinished runs are refused.
func (o *Orchestrator) Reflect(ctx context.Context, st *models.AnalysisState, realizedReturn float64) error {
	if st == nil || st.Cancelled || !st.Terminal() {
		return errs.Validation("reflection needs a completed, uncancelled run")
	}
	if o.memories == nil {
		return nil
	}
	if math.IsNaN(realizedReturn) || math.IsInf(realizedReturn, 0) {
		return errs.Validation("realized return must be finite")
	}
	situation := st.Situation()
	if situation == "" {
		situation = st.Ticker + " " + st.TradeDate
	}
	tpl, err := utils.LoadPrompt("reflection/reflect")
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "load reflection prompt")
	}

	var (
		mu   sync.Mutex
		errL []error
		g    errgroup.Group
	)
	for _, role := range memory.LearningRoles {
		said := roleOutput(st, role)
		if said == "" {
			continue
		}
		g.Go(func() error {
			lesson := o.lesson(ctx, tpl, st, role, situation, said, realizedReturn)
			if err := o.memories.For(role).Add(ctx, situation, lesson); err != nil {
				mu.Lock()
				errL = append(errL, fmt.Errorf("%s: %w", role, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errL) > 0 {
		return errs.Wrap(errs.KindInternal, errors.Join(errL...), "store reflections")
	}
	o.logger.Info("reflection stored",
		zap.String("run_id", st.RunID),
		zap.Float64("realized_return", realizedReturn))
	return nil
}

func (o *Orchestrator) lesson(ctx context.Context, tpl string, st *models.AnalysisState, role, situation, said string, ret float64) string {
	if o.gen != nil {
		prompt, err := llm.Render(ctx, tpl, map[string]any{
			"role":            consts.DisplayNames[role],
			"ticker":          st.Ticker,
			"trade_date":      st.TradeDate,
			"situation":       situation,
			"decision":        said,
			"realized_return": fmt.Sprintf("%+.2f%%", ret*100),
		})
		if err == nil {
			out, err := o.gen.Generate(ctx, llm.Request{Model: o.cfg.QuickThinkLLM, Prompt: prompt, MaxTokens: 400})
			if err == nil && strings.TrimSpace(out) != "" {
				return strings.TrimSpace(out)
			}
			o.logger.Warn("reflection generation failed, using summary", zap.String("role", role), zap.Error(err))
		}
	}
	return summaryLesson(st, role, said, ret)
}

// summaryLesson grades the role's call against the realized move.
func summaryLesson(st *models.AnalysisState, role, said string, ret float64) string {
	action := processing.ParseDecision(said).Action
	right := (action == consts.DecisionBuy && ret > 0) ||
		(action == consts.DecisionSell && ret < 0) ||
		(action == consts.DecisionHold && math.Abs(ret) < 0.02)
	verdict := "wrong"
	if right {
		verdict = "right"
	}
	return fmt.Sprintf("%s leaned %s on %s (%s) and the position returned %+.2f%%; the call was %s. Weigh the same evidence %s next time.",
		consts.DisplayNames[role], action, st.Ticker, st.TradeDate, ret*100, verdict,
		map[bool]string{true: "the same way", false: "more skeptically"}[right])
}

func roleOutput(st *models.AnalysisState, role string) string {
	switch role {
	case consts.BullResearcher:
		return strings.Join(st.InvestmentDebateState.BullHistory, "\n\n")
	case consts.BearResearcher:
		return strings.Join(st.InvestmentDebateState.BearHistory, "\n\n")
	case consts.ResearchManager:
		return st.InvestmentDebateState.JudgeDecision
	case consts.Trader:
		return st.InvestmentPlan
	case consts.RiskJudge:
		return st.FinalTradeDecision
	}
	return ""
}
