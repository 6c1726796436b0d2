package consts

// Tool catalog served by the vendor router.
const (
	ToolStockData        = "get_stock_data"
	ToolIndicator        = "get_indicator"
	ToolQuote            = "get_quote"
	ToolFundamentals     = "get_fundamentals"
	ToolInsiderSentiment = "get_insider_sentiment"
	ToolNews             = "get_news"
	ToolGlobalNews       = "get_global_news"
	ToolSocialSentiment  = "get_social_sentiment"
)

// Tool categories used by category_vendors.
const (
	CategoryCoreStock    = "core_stock_apis"
	CategoryIndicators   = "technical_indicators"
	CategoryFundamentals = "fundamental_data"
	CategoryNews         = "news_data"
	CategorySocial       = "social_data"
)

var ToolCategories = map[string]string{
	ToolStockData:        CategoryCoreStock,
	ToolQuote:            CategoryCoreStock,
	ToolIndicator:        CategoryIndicators,
	ToolFundamentals:     CategoryFundamentals,
	ToolInsiderSentiment: CategoryFundamentals,
	ToolNews:             CategoryNews,
	ToolGlobalNews:       CategoryNews,
	ToolSocialSentiment:  CategorySocial,
}

// Vendor names.
const (
	VendorYFinance     = "yfinance"
	VendorLongport     = "longport"
	VendorAlphaVantage = "alpha_vantage"
	VendorMarketData   = "marketdata"
	VendorFinnhub      = "finnhub"
	VendorGoogleNews   = "google_news"
	VendorReddit       = "reddit"
	VendorSocial       = "social"
	VendorLocal        = "local"
)
