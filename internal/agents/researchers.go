package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
)

// Debater argues one side of the investment debate.
type Debater struct {
	base
	bull bool
}

func NewBullResearcher() *Debater {
	return &Debater{
		base: base{id: consts.BullResearcher, kind: KindDebater, template: "researchers/bull", field: "investment_debate_state.bull_history", memory: true},
		bull: true,
	}
}

func NewBearResearcher() *Debater {
	return &Debater{
		base: base{id: consts.BearResearcher, kind: KindDebater, template: "researchers/bear", field: "investment_debate_state.bear_history", memory: true},
	}
}

func (d *Debater) Bull() bool { return d.bull }

func (d *Debater) Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (string, string, error) {
	debate := st.InvestmentDebateState
	opponent := debate.LastBear()
	if !d.bull {
		opponent = debate.LastBull()
	}
	vars := reportVars(st)
	vars["history"] = orNone(debate.Transcript())
	vars["opponent_last"] = orNone(opponent)
	vars["past_memories"] = orNone(in.Memories)
	return d.render(ctx, st, vars)
}

func (d *Debater) Apply(st *models.AnalysisState, _ Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty argument", d.id)
	}
	debate := &st.InvestmentDebateState
	if debate.JudgeDecision != "" {
		return fmt.Errorf("%s: debate already judged", d.id)
	}
	if d.bull {
		debate.BullHistory = append(debate.BullHistory, output)
	} else {
		debate.BearHistory = append(debate.BearHistory, output)
	}
	debate.TurnCount++
	return nil
}

func (d *Debater) Fallback(_ *models.AnalysisState, _ Inputs, err error) string {
	return fmt.Sprintf("(no argument this turn: %v)", err)
}

// Judge closes the debate with a verdict that weighs both sides.
type Judge struct {
	base
}

func NewResearchManager() *Judge {
	return &Judge{base: base{
		id: consts.ResearchManager, kind: KindJudge, template: "managers/research_manager",
		field: "investment_debate_state.judge_decision", deep: true, memory: true,
	}}
}

func (j *Judge) Prompt(ctx context.Context, st *models.AnalysisState, in Inputs) (string, string, error) {
	vars := reportVars(st)
	vars["history"] = orNone(st.InvestmentDebateState.Transcript())
	vars["past_memories"] = orNone(in.Memories)
	return j.render(ctx, st, vars)
}

func (j *Judge) Apply(st *models.AnalysisState, _ Inputs, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("%s: empty verdict", j.id)
	}
	if st.InvestmentDebateState.JudgeDecision != "" {
		return fmt.Errorf("%s: verdict already written", j.id)
	}
	st.InvestmentDebateState.JudgeDecision = output
	return nil
}

// Fallback is a HOLD that still quotes both sides.
func (j *Judge) Fallback(st *models.AnalysisState, _ Inputs, err error) string {
	d := st.InvestmentDebateState
	return fmt.Sprintf("Decision: HOLD\n\nThe debate could not be adjudicated (%v), so the desk stays flat.\n\nBull case: %s\n\nBear case: %s",
		err, orNone(d.LastBull()), orNone(d.LastBear()))
}
