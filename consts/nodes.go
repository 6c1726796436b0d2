package consts

const (
	// 分析师节点
	MarketAnalyst       = "market_analyst"
	SocialMediaAnalyst  = "social_media_analyst"
	NewsAnalyst         = "news_analyst"
	FundamentalsAnalyst = "fundamentals_analyst"

	// 研究员节点
	BullResearcher  = "bull_researcher"
	BearResearcher  = "bear_researcher"
	ResearchManager = "research_manager"

	// 交易员节点
	Trader = "trader"

	// 风险分析节点
	RiskyAnalyst   = "risky_analyst"
	SafeAnalyst    = "safe_analyst"
	NeutralAnalyst = "neutral_analyst"
	RiskJudge      = "risk_judge"
)

// Analyst selection names accepted on every surface.
const (
	AnalystMarket       = "market"
	AnalystFundamentals = "fundamentals"
	AnalystNews         = "news"
	AnalystSocial       = "social"
)

// AnalystOrder is the fixed order the orchestrator runs analysts in.
var AnalystOrder = []string{AnalystMarket, AnalystFundamentals, AnalystNews, AnalystSocial}

// AnalystNodes maps a selection name to its node.
var AnalystNodes = map[string]string{
	AnalystMarket:       MarketAnalyst,
	AnalystFundamentals: FundamentalsAnalyst,
	AnalystNews:         NewsAnalyst,
	AnalystSocial:       SocialMediaAnalyst,
}
