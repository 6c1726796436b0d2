package graph

import (
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/models"
)

// ConditionalLogic manages debate and risk discussion cycles
type ConditionalLogic struct {
	MaxDebateRounds      int
	MaxRiskDiscussRounds int
}

// NewConditionalLogic clamps both budgets to at least one round.
func NewConditionalLogic(debateRounds, riskRounds int) *ConditionalLogic {
	return &ConditionalLogic{
		MaxDebateRounds:      max(debateRounds, 1),
		MaxRiskDiscussRounds: max(riskRounds, 1),
	}
}

// ShouldContinueDebate reports whether another bull/bear turn is due. A
// round is one bull turn and one bear turn.
func (cl *ConditionalLogic) ShouldContinueDebate(st *models.AnalysisState) bool {
	return st.InvestmentDebateState.TurnCount < 2*cl.MaxDebateRounds
}

// ShouldContinueRiskDiscussion reports whether another committee turn is
// due. A round is one turn for each of the three seats.
func (cl *ConditionalLogic) ShouldContinueRiskDiscussion(st *models.AnalysisState) bool {
	return st.RiskDebateState.TurnCount < 3*cl.MaxRiskDiscussRounds
}

// NextDebater is the bull on even turns and the bear on odd ones, so the
// bull always opens.
func (cl *ConditionalLogic) NextDebater(st *models.AnalysisState) string {
	if st.InvestmentDebateState.TurnCount%2 == 0 {
		return consts.BullResearcher
	}
	return consts.BearResearcher
}

// riskRotation is the committee speaking order.
var riskRotation = []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst}

func (cl *ConditionalLogic) NextRiskSpeaker(st *models.AnalysisState) string {
	return riskRotation[st.RiskDebateState.TurnCount%len(riskRotation)]
}
