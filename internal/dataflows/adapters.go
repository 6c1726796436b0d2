package dataflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

func httpOptions(cfg *config.Config, vendor string) pkg.HTTPOptions {
	return pkg.HTTPOptions{
		Timeout:         cfg.VendorTimeout,
		MaxConnsPerHost: cfg.Vendors.MaxConnsPerHost,
		RatePerMinute:   cfg.Vendors.RateLimits[vendor],
	}
}

func NewYahooVendor(c *pkg.YahooFinanceClient) *ClientVendor {
	return &ClientVendor{
		VendorName:   consts.VendorYFinance,
		History:      c.GetHistory,
		Quote:        c.GetQuote,
		Fundamentals: c.GetCompanyInfo,
	}
}

func NewLongportVendor(c *pkg.LongportClient) *ClientVendor {
	return &ClientVendor{
		VendorName: consts.VendorLongport,
		History:    c.GetHistory,
		Quote:      c.GetQuote,
	}
}

func NewAlphaVantageVendor(c *pkg.AlphaVantageClient) *ClientVendor {
	return &ClientVendor{
		VendorName:   consts.VendorAlphaVantage,
		History:      c.GetHistory,
		Quote:        c.GetQuote,
		Fundamentals: c.GetFundamentals,
		News:         c.GetNews,
		GlobalNews: func(ctx context.Context, start, end time.Time, limit int) ([]*pkg.NewsArticle, error) {
			return c.GetNews(ctx, "", start, end, limit)
		},
	}
}

func NewMarketDataVendor(c *pkg.MarketDataClient) *ClientVendor {
	return &ClientVendor{
		VendorName: consts.VendorMarketData,
		History:    c.GetHistory,
		Quote:      c.GetQuote,
	}
}

func NewFinnhubVendor(c *pkg.FinnhubClient) *ClientVendor {
	return &ClientVendor{
		VendorName:   consts.VendorFinnhub,
		Quote:        c.GetQuote,
		Fundamentals: c.GetFundamentals,
		Insider:      c.GetInsiderSentiment,
		News:         c.GetNews,
		GlobalNews: func(ctx context.Context, start, end time.Time, limit int) ([]*pkg.NewsArticle, error) {
			return c.GetNews(ctx, "", start, end, limit)
		},
	}
}

func NewGoogleNewsVendor(c *pkg.GoogleNewsClient) *ClientVendor {
	return &ClientVendor{
		VendorName: consts.VendorGoogleNews,
		News: func(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*pkg.NewsArticle, error) {
			return c.GetNews(ctx, symbol+" stock", start, end, limit)
		},
		GlobalNews: func(ctx context.Context, start, end time.Time, limit int) ([]*pkg.NewsArticle, error) {
			return c.GetNews(ctx, "stock market economy", start, end, limit)
		},
	}
}

// NewRedditVendor serves get_social_sentiment as a digest of recent posts.
func NewRedditVendor(c *pkg.RedditClient) *ClientVendor {
	return &ClientVendor{
		VendorName: consts.VendorReddit,
		Social: func(ctx context.Context, symbol string, start, end time.Time, limit int) (string, error) {
			posts, err := c.GetStockMentions(ctx, symbol, limit)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "## Reddit posts mentioning %s, from %s to %s:\n\n", symbol, start.Format(pkg.DateLayout), end.Format(pkg.DateLayout))
			n := 0
			for _, p := range posts {
				if p.CreatedAt.Before(start) || p.CreatedAt.After(end.Add(24*time.Hour)) {
					continue
				}
				n++
				fmt.Fprintf(&sb, "### r/%s (score %d, %d comments): %s\n", p.Subreddit, p.Score, p.Comments, p.Title)
				if p.Content != "" {
					content := p.Content
					if len(content) > 500 {
						content = content[:500] + "..."
					}
					sb.WriteString(content)
					sb.WriteString("\n")
				}
				sb.WriteString("\n")
			}
			if n == 0 {
				return "", ErrEmpty
			}
			return sb.String(), nil
		},
	}
}

// NewDefaultRegistry registers every network vendor the configuration can
// support. Vendors that need credentials are skipped when they are absent;
// the local indicator and social vendors are registered by the caller.
func NewDefaultRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	reg := NewRegistry()

	reg.Register(NewYahooVendor(pkg.NewYahooFinanceClient()))

	if cfg.AlphaVantageAPIKey != "" {
		reg.Register(NewAlphaVantageVendor(pkg.NewAlphaVantageClient(cfg.AlphaVantageAPIKey, httpOptions(cfg, consts.VendorAlphaVantage))))
	}
	if cfg.MarketDataToken != "" {
		reg.Register(NewMarketDataVendor(pkg.NewMarketDataClient(cfg.MarketDataToken, httpOptions(cfg, consts.VendorMarketData))))
	}
	if cfg.FinnhubAPIKey != "" {
		reg.Register(NewFinnhubVendor(pkg.NewFinnhubClient(cfg.FinnhubAPIKey, httpOptions(cfg, consts.VendorFinnhub))))
	}
	if cfg.LongportAppKey != "" {
		lp, err := pkg.NewLongportClient(pkg.LongportConfig{
			AppKey:      cfg.LongportAppKey,
			AppSecret:   cfg.LongportAppSecret,
			AccessToken: cfg.LongportAccessToken,
		})
		if err != nil {
			logger.Warn("longport vendor disabled", zap.Error(err))
		} else {
			reg.Register(NewLongportVendor(lp))
		}
	}

	reg.Register(NewGoogleNewsVendor(pkg.NewGoogleNewsClient(httpOptions(cfg, consts.VendorGoogleNews))))
	reg.Register(NewRedditVendor(pkg.NewRedditClient(pkg.RedditCredentials{
		ClientID:  cfg.RedditClientID,
		Secret:    cfg.RedditSecret,
		UserAgent: cfg.RedditUserAgent,
	}, httpOptions(cfg, consts.VendorReddit))))

	logger.Info("vendors registered", zap.Strings("vendors", reg.Names()))
	return reg
}
