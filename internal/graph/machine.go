package graph

import (
	"github.com/dyike/stockdesk/internal/agents"
	"github.com/dyike/stockdesk/internal/models"
)

// Stage is a state of the analysis pipeline.
type Stage int

const (
	StageInit Stage = iota
	StageAnalysts
	StageAnalystsDone
	StageDebate
	StageJudge
	StageTrader
	StageRiskCommittee
	StageRiskManager
	StageTerminal
)

var stageNames = [...]string{
	StageInit:          "init",
	StageAnalysts:      "analysts",
	StageAnalystsDone:  "analysts_done",
	StageDebate:        "debate",
	StageJudge:         "judge",
	StageTrader:        "trader",
	StageRiskCommittee: "risk_committee",
	StageRiskManager:   "risk_manager",
	StageTerminal:      "terminal",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

type EventKind int

const (
	// EventStart begins a run.
	EventStart EventKind = iota
	// EventRoleDone follows a role's output being applied.
	EventRoleDone
	// EventAdvance leaves a stage that produced no effects.
	EventAdvance
)

type Event struct {
	Kind EventKind
	Role string
}

// Effect describes one role invocation. The runtime performs the tool
// calls, recalls memories when asked, generates with Model and applies
// the output.
type Effect struct {
	Role   string
	Calls  []agents.ToolCall
	Recall bool
	Model  string
}

// Machine is the transition function of the pipeline. It holds no run
// state: the next stage is derived from the stage and the analysis state,
// so one Machine serves concurrent runs.
type Machine struct {
	roster *agents.Roster
	logic  *ConditionalLogic
	deep   string
	quick  string
}

func NewMachine(roster *agents.Roster, logic *ConditionalLogic, deepModel, quickModel string) *Machine {
	return &Machine{roster: roster, logic: logic, deep: deepModel, quick: quickModel}
}

// Step returns the next stage and the effects to run in it. An empty
// effect list outside StageTerminal asks the runtime for EventAdvance.
func (m *Machine) Step(cur Stage, st *models.AnalysisState, ev Event) (Stage, []Effect) {
	if cur == StageTerminal {
		return StageTerminal, nil
	}

	for _, name := range st.SelectedAnalysts {
		if st.Report(name) == "" {
			return StageAnalysts, []Effect{m.effect(m.roster.Analyst(name), st)}
		}
	}
	if cur <= StageAnalysts {
		return StageAnalystsDone, nil
	}

	debate := st.InvestmentDebateState
	if debate.JudgeDecision == "" {
		if m.logic.ShouldContinueDebate(st) {
			role, _ := m.roster.Get(m.logic.NextDebater(st))
			return StageDebate, []Effect{m.effect(role, st)}
		}
		return StageJudge, []Effect{m.effect(m.roster.Judge, st)}
	}
	if st.InvestmentPlan == "" {
		return StageTrader, []Effect{m.effect(m.roster.Trader, st)}
	}
	if st.RiskDebateState.JudgeDecision == "" && st.FinalTradeDecision == "" {
		if m.logic.ShouldContinueRiskDiscussion(st) {
			role, _ := m.roster.Get(m.logic.NextRiskSpeaker(st))
			return StageRiskCommittee, []Effect{m.effect(role, st)}
		}
		return StageRiskManager, []Effect{m.effect(m.roster.Manager, st)}
	}
	return StageTerminal, nil
}

func (m *Machine) effect(role agents.Role, st *models.AnalysisState) Effect {
	model := m.quick
	if role.Deep() {
		model = m.deep
	}
	return Effect{
		Role:   role.ID(),
		Calls:  role.ToolsNeeded(st),
		Recall: role.UsesMemory(),
		Model:  model,
	}
}
