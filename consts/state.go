package consts

const (
	// Analyst Team
	Agent_MarketAnalyst       = "Market Analyst"
	Agent_SocialAnalyst       = "Social Analyst"
	Agent_NewsAnalyst         = "News Analyst"
	Agent_FundamentalsAnalyst = "Fundamentals Analyst"
	// Research Team
	Agent_BullResearcher  = "Bull Analyst"
	Agent_BearResearcher  = "Bear Analyst"
	Agent_ResearchManager = "Research Manager"
	// Trading Team
	Agent_Trader = "Trader"
	// Risk Management Team
	Agent_RiskyAnalyst   = "Aggressive Analyst"
	Agent_NeutralAnalyst = "Neutral Analyst"
	Agent_SafeAnalyst    = "Conservative Analyst"
	// Portfolio Management Team
	Agent_RiskManager = "Risk Manager"
)

// DisplayNames labels transcript entries by node.
var DisplayNames = map[string]string{
	MarketAnalyst:       Agent_MarketAnalyst,
	SocialMediaAnalyst:  Agent_SocialAnalyst,
	NewsAnalyst:         Agent_NewsAnalyst,
	FundamentalsAnalyst: Agent_FundamentalsAnalyst,
	BullResearcher:      Agent_BullResearcher,
	BearResearcher:      Agent_BearResearcher,
	ResearchManager:     Agent_ResearchManager,
	Trader:              Agent_Trader,
	RiskyAnalyst:        Agent_RiskyAnalyst,
	SafeAnalyst:         Agent_SafeAnalyst,
	NeutralAnalyst:      Agent_NeutralAnalyst,
	RiskJudge:           Agent_RiskManager,
}

const (
	DecisionBuy  = "BUY"
	DecisionSell = "SELL"
	DecisionHold = "HOLD"
)
