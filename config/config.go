package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyike/stockdesk/consts"
)

type Config struct {
	ProjectDir   string `json:"project_dir" mapstructure:"project_dir" yaml:"project_dir"`
	ResultsDir   string `json:"results_dir" mapstructure:"results_dir" yaml:"results_dir"`
	DataDir      string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
	DataCacheDir string `json:"data_cache_dir" mapstructure:"data_cache_dir" yaml:"data_cache_dir"`

	LLMProvider          string   `json:"llm_provider" mapstructure:"llm_provider" yaml:"llm_provider"`
	DeepThinkLLM         string   `json:"deep_think_llm" mapstructure:"deep_think_llm" yaml:"deep_think_llm"`
	QuickThinkLLM        string   `json:"quick_think_llm" mapstructure:"quick_think_llm" yaml:"quick_think_llm"`
	BackendURL           string   `json:"backend_url" mapstructure:"backend_url" yaml:"backend_url"`
	MaxTokens            int      `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxDebateRounds      int      `json:"max_debate_rounds" mapstructure:"max_debate_rounds" yaml:"max_debate_rounds"`
	MaxRiskDiscussRounds int      `json:"max_risk_rounds" mapstructure:"max_risk_rounds" yaml:"max_risk_rounds"`
	SelectedAnalysts     []string `json:"selected_analysts" mapstructure:"selected_analysts" yaml:"selected_analysts"`
	OnlineTools          bool     `json:"online_tools" mapstructure:"online_tools" yaml:"online_tools"`
	Debug                bool     `json:"debug" mapstructure:"debug" yaml:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled" mapstructure:"eino_debug_enabled" yaml:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port" mapstructure:"eino_debug_port" yaml:"eino_debug_port"`

	CacheEnabled bool `json:"cache_enabled" mapstructure:"cache_enabled" yaml:"cache_enabled"`

	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout" yaml:"request_timeout"`
	VendorTimeout  time.Duration `json:"vendor_timeout" mapstructure:"vendor_timeout" yaml:"vendor_timeout"`

	Vendors VendorConfig  `json:"vendors" mapstructure:"vendors" yaml:"vendors"`
	Cache   CacheConfig   `json:"cache" mapstructure:"cache" yaml:"cache"`
	Quotes  QuoteConfig   `json:"quotes" mapstructure:"quotes" yaml:"quotes"`
	Social  SocialConfig  `json:"social" mapstructure:"social" yaml:"social"`
	Memory  MemoryConfig  `json:"memory" mapstructure:"memory" yaml:"memory"`
	Server  ServerConfig  `json:"server" mapstructure:"server" yaml:"server"`
	Log     LogConfig     `json:"log" mapstructure:"log" yaml:"log"`
	Storage StorageConfig `json:"storage" mapstructure:"storage" yaml:"storage"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key" mapstructure:"longport_app_key" yaml:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret" mapstructure:"longport_app_secret" yaml:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token" mapstructure:"longport_access_token" yaml:"longport_access_token"`

	// AI Model API Keys
	DeepSeekAPIKey string `json:"deepseek_api_key" mapstructure:"deepseek_api_key" yaml:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key" mapstructure:"openai_api_key" yaml:"openai_api_key"`

	// Market/Social data API keys
	FinnhubAPIKey      string `json:"finnhub_api_key" mapstructure:"finnhub_api_key" yaml:"finnhub_api_key"`
	AlphaVantageAPIKey string `json:"alpha_vantage_api_key" mapstructure:"alpha_vantage_api_key" yaml:"alpha_vantage_api_key"`
	MarketDataToken    string `json:"marketdata_token" mapstructure:"marketdata_token" yaml:"marketdata_token"`
	RedditClientID     string `json:"reddit_client_id" mapstructure:"reddit_client_id" yaml:"reddit_client_id"`
	RedditSecret       string `json:"reddit_secret" mapstructure:"reddit_secret" yaml:"reddit_secret"`
	RedditUserAgent    string `json:"reddit_user_agent" mapstructure:"reddit_user_agent" yaml:"reddit_user_agent"`
}

// VendorConfig selects which vendor serves each tool.
type VendorConfig struct {
	ToolVendors     map[string]string   `json:"tool_vendors" mapstructure:"tool_vendors" yaml:"tool_vendors"`
	CategoryVendors map[string]string   `json:"category_vendors" mapstructure:"category_vendors" yaml:"category_vendors"`
	Fallbacks       map[string][]string `json:"fallbacks" mapstructure:"fallbacks" yaml:"fallbacks"`
	MaxConnsPerHost int                 `json:"max_conns_per_host" mapstructure:"max_conns_per_host" yaml:"max_conns_per_host"`
	// Requests per minute per vendor; zero means unlimited.
	RateLimits map[string]int `json:"rate_limits" mapstructure:"rate_limits" yaml:"rate_limits"`
}

type CacheConfig struct {
	MaxEntries  int                      `json:"max_entries" mapstructure:"max_entries" yaml:"max_entries"`
	TTLs        map[string]time.Duration `json:"ttls" mapstructure:"ttls" yaml:"ttls"`
	DefaultTTL  time.Duration            `json:"default_ttl" mapstructure:"default_ttl" yaml:"default_ttl"`
	RedisAddr   string                   `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPass   string                   `json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB     int                      `json:"redis_db" mapstructure:"redis_db" yaml:"redis_db"`
	JanitorSpec string                   `json:"janitor_spec" mapstructure:"janitor_spec" yaml:"janitor_spec"`
}

type QuoteConfig struct {
	VerifyWindow time.Duration `json:"verify_window" mapstructure:"verify_window" yaml:"verify_window"`
	// Tolerance is the maximum spread, in percent of the mean, for a verified quote to be reliable.
	Tolerance float64 `json:"tolerance" mapstructure:"tolerance" yaml:"tolerance"`
}

type SocialConfig struct {
	NitterMirrors      []string      `json:"nitter_mirrors" mapstructure:"nitter_mirrors" yaml:"nitter_mirrors"`
	Accounts           []string      `json:"accounts" mapstructure:"accounts" yaml:"accounts"`
	RequestTimeout     time.Duration `json:"request_timeout" mapstructure:"request_timeout" yaml:"request_timeout"`
	MirrorSpacing      time.Duration `json:"mirror_spacing" mapstructure:"mirror_spacing" yaml:"mirror_spacing"`
	StocktwitsURL      string        `json:"stocktwits_url" mapstructure:"stocktwits_url" yaml:"stocktwits_url"`
	StocktwitsLimit    int           `json:"stocktwits_limit" mapstructure:"stocktwits_limit" yaml:"stocktwits_limit"`
	SentimentBatchSize int           `json:"sentiment_batch_size" mapstructure:"sentiment_batch_size" yaml:"sentiment_batch_size"`
	CacheTTL           time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type MemoryConfig struct {
	Capacity int `json:"capacity" mapstructure:"capacity" yaml:"capacity"`
	TopK     int `json:"top_k" mapstructure:"top_k" yaml:"top_k"`
}

type ServerConfig struct {
	Addr    string `json:"addr" mapstructure:"addr" yaml:"addr"`
	MCPAddr string `json:"mcp_addr" mapstructure:"mcp_addr" yaml:"mcp_addr"`
	Env     string `json:"env" mapstructure:"env" yaml:"env"`
}

type LogConfig struct {
	Level             string   `json:"level" mapstructure:"level" yaml:"level"`
	Encoding          string   `json:"encoding" mapstructure:"encoding" yaml:"encoding"`
	Development       bool     `json:"development" mapstructure:"development" yaml:"development"`
	DisableCaller     bool     `json:"disable_caller" mapstructure:"disable_caller" yaml:"disable_caller"`
	DisableStacktrace bool     `json:"disable_stacktrace" mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"`
	OutputPaths       []string `json:"output_paths" mapstructure:"output_paths" yaml:"output_paths"`
}

type StorageConfig struct {
	// DBPath holds the coach plans table. Empty disables coach plans.
	DBPath string `json:"db_path" mapstructure:"db_path" yaml:"db_path"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	return DefaultConfigWithRoot(currentDir)
}

// DefaultConfigWithRoot returns the built-in defaults with every directory under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),

		LLMProvider:   "deepseek",
		DeepThinkLLM:  "deepseek-reasoner",
		QuickThinkLLM: "deepseek-chat",
		BackendURL:    "https://api.deepseek.com/v1",
		MaxTokens:     4096,

		MaxDebateRounds:      1,
		MaxRiskDiscussRounds: 1,
		SelectedAnalysts:     append([]string(nil), consts.AnalystOrder...),
		OnlineTools:          true,
		RedditUserAgent:      "stockdesk/1.0",

		EinoDebugPort: 52538,
		CacheEnabled:  true,

		RequestTimeout: 120 * time.Second,
		VendorTimeout:  10 * time.Second,

		Vendors: VendorConfig{
			ToolVendors: map[string]string{},
			CategoryVendors: map[string]string{
				consts.CategoryCoreStock:    consts.VendorYFinance,
				consts.CategoryIndicators:   consts.VendorLocal,
				consts.CategoryFundamentals: consts.VendorFinnhub,
				consts.CategoryNews:         consts.VendorGoogleNews,
				consts.CategorySocial:       consts.VendorSocial,
			},
			Fallbacks: map[string][]string{
				consts.ToolStockData:        {consts.VendorYFinance, consts.VendorAlphaVantage, consts.VendorMarketData, consts.VendorLongport},
				consts.ToolQuote:            {consts.VendorYFinance, consts.VendorAlphaVantage, consts.VendorMarketData, consts.VendorFinnhub, consts.VendorLongport},
				consts.ToolIndicator:        {consts.VendorLocal},
				consts.ToolFundamentals:     {consts.VendorFinnhub, consts.VendorAlphaVantage},
				consts.ToolInsiderSentiment: {consts.VendorFinnhub},
				consts.ToolNews:             {consts.VendorGoogleNews, consts.VendorFinnhub, consts.VendorAlphaVantage},
				consts.ToolGlobalNews:       {consts.VendorGoogleNews, consts.VendorAlphaVantage},
				consts.ToolSocialSentiment:  {consts.VendorSocial, consts.VendorReddit},
			},
			MaxConnsPerHost: 16,
			RateLimits: map[string]int{
				consts.VendorAlphaVantage: 5,
				consts.VendorFinnhub:      60,
			},
		},
		Cache: CacheConfig{
			MaxEntries: 2048,
			TTLs: map[string]time.Duration{
				consts.ToolQuote:           30 * time.Second,
				consts.ToolStockData:       6 * time.Hour,
				consts.ToolNews:            15 * time.Minute,
				consts.ToolSocialSentiment: 5 * time.Minute,
			},
			DefaultTTL:  time.Hour,
			JanitorSpec: "@every 5m",
		},
		Quotes: QuoteConfig{
			VerifyWindow: 5 * time.Second,
			Tolerance:    1.0,
		},
		Social: SocialConfig{
			NitterMirrors: []string{
				"https://nitter.net",
				"https://nitter.privacydev.net",
				"https://nitter.poast.org",
				"https://nitter.cz",
			},
			Accounts:           []string{"unusual_whales", "DeItaone", "zerohedge", "markets", "WSJmarkets"},
			RequestTimeout:     8 * time.Second,
			MirrorSpacing:      6 * time.Second,
			StocktwitsURL:      "https://api.stocktwits.com/api/2",
			StocktwitsLimit:    30,
			SentimentBatchSize: 20,
			CacheTTL:           5 * time.Minute,
		},
		Memory: MemoryConfig{
			Capacity: 500,
			TopK:     2,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			MCPAddr: ":8090",
			Env:     "prod",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(root, "data", "stockdesk.db"),
		},
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.MaxDebateRounds < 1 || c.MaxDebateRounds > 10 {
		return fmt.Errorf("max_debate_rounds must be in [1,10], got %d", c.MaxDebateRounds)
	}
	if c.MaxRiskDiscussRounds < 1 || c.MaxRiskDiscussRounds > 10 {
		return fmt.Errorf("max_risk_rounds must be in [1,10], got %d", c.MaxRiskDiscussRounds)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.VendorTimeout <= 0 {
		return fmt.Errorf("vendor_timeout must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	for tool, ttl := range c.Cache.TTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl for %s must be positive", tool)
		}
	}
	if c.Quotes.Tolerance < 0 {
		return fmt.Errorf("quotes.tolerance must not be negative")
	}
	if c.Social.MirrorSpacing < 0 {
		return fmt.Errorf("social.mirror_spacing must not be negative")
	}
	for _, name := range c.SelectedAnalysts {
		if _, ok := consts.AnalystNodes[name]; !ok {
			return fmt.Errorf("unknown analyst %q", name)
		}
	}
	for tool := range c.Vendors.ToolVendors {
		if _, ok := consts.ToolCategories[tool]; !ok {
			return fmt.Errorf("tool_vendors: unknown tool %q", tool)
		}
	}
	switch strings.ToLower(c.LLMProvider) {
	case "deepseek", "openai", "":
	default:
		return fmt.Errorf("unsupported llm_provider %q", c.LLMProvider)
	}
	return nil
}

// TTLFor returns the cache lifetime of a tool's results.
func (c *Config) TTLFor(tool string) time.Duration {
	if tool == consts.ToolSocialSentiment && c.Social.CacheTTL > 0 {
		return c.Social.CacheTTL
	}
	if ttl, ok := c.Cache.TTLs[tool]; ok && ttl > 0 {
		return ttl
	}
	if c.Cache.DefaultTTL > 0 {
		return c.Cache.DefaultTTL
	}
	return time.Hour
}

// Clone deep-copies the maps and slices so callers can mutate the copy.
func (c *Config) Clone() *Config {
	out := *c
	out.SelectedAnalysts = append([]string(nil), c.SelectedAnalysts...)
	out.Vendors.ToolVendors = cloneStringMap(c.Vendors.ToolVendors)
	out.Vendors.CategoryVendors = cloneStringMap(c.Vendors.CategoryVendors)
	out.Vendors.RateLimits = make(map[string]int, len(c.Vendors.RateLimits))
	for k, v := range c.Vendors.RateLimits {
		out.Vendors.RateLimits[k] = v
	}
	out.Vendors.Fallbacks = make(map[string][]string, len(c.Vendors.Fallbacks))
	for k, v := range c.Vendors.Fallbacks {
		out.Vendors.Fallbacks[k] = append([]string(nil), v...)
	}
	out.Cache.TTLs = make(map[string]time.Duration, len(c.Cache.TTLs))
	for k, v := range c.Cache.TTLs {
		out.Cache.TTLs[k] = v
	}
	out.Social.NitterMirrors = append([]string(nil), c.Social.NitterMirrors...)
	out.Social.Accounts = append([]string(nil), c.Social.Accounts...)
	out.Log.OutputPaths = append([]string(nil), c.Log.OutputPaths...)
	return &out
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
