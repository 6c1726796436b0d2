package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const FinnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient handles Finnhub API operations
type FinnhubClient struct {
	client  *resty.Client
	apiKey  string
	limiter *rate.Limiter
}

// NewFinnhubClient creates a new Finnhub client
func NewFinnhubClient(apiKey string, opts HTTPOptions) *FinnhubClient {
	if opts.BaseURL == "" {
		opts.BaseURL = FinnhubBaseURL
	}
	return &FinnhubClient{
		client:  NewRestyClient(opts),
		apiKey:  apiKey,
		limiter: NewLimiter(opts.RatePerMinute),
	}
}

func (fc *FinnhubClient) Name() string { return "finnhub" }

func (fc *FinnhubClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if fc.apiKey == "" {
		return errors.New("finnhub API key not configured")
	}
	if err := waitLimiter(ctx, fc.limiter); err != nil {
		return err
	}
	if params == nil {
		params = map[string]string{}
	}
	params["token"] = fc.apiKey
	resp, err := fc.client.R().SetContext(ctx).SetQueryParams(params).Get(path)
	if err != nil {
		return fmt.Errorf("finnhub %s: %w", path, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("finnhub %s decode: %w", path, err)
	}
	return nil
}

// FinnhubNews represents news from Finnhub API
type FinnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Image    string `json:"image"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// GetNews gets company news; an empty symbol reads the general feed.
func (fc *FinnhubClient) GetNews(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*NewsArticle, error) {
	var raw []FinnhubNews
	var err error
	if symbol == "" {
		err = fc.get(ctx, "/news", map[string]string{"category": "general"}, &raw)
	} else {
		err = fc.get(ctx, "/company-news", map[string]string{
			"symbol": NormalizeSymbol(symbol),
			"from":   from.Format(DateLayout),
			"to":     to.Format(DateLayout),
		}, &raw)
	}
	if err != nil {
		return nil, err
	}

	result := make([]*NewsArticle, 0, len(raw))
	for _, news := range raw {
		published := time.Unix(news.DateTime, 0)
		if symbol == "" && (published.Before(from) || published.After(to.Add(24*time.Hour))) {
			continue
		}
		result = append(result, &NewsArticle{
			Title:       news.Headline,
			Content:     news.Summary,
			URL:         news.URL,
			Source:      news.Source,
			PublishedAt: published,
			Metadata: map[string]string{
				"category": news.Category,
				"related":  news.Related,
				"id":       strconv.FormatInt(news.ID, 10),
			},
		})
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// GetInsiderSentiment returns monthly MSPR aggregates for [from, to].
func (fc *FinnhubClient) GetInsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]InsiderSentiment, error) {
	var resp struct {
		Data []InsiderSentiment `json:"data"`
	}
	err := fc.get(ctx, "/stock/insider-sentiment", map[string]string{
		"symbol": NormalizeSymbol(symbol),
		"from":   from.Format(DateLayout),
		"to":     to.Format(DateLayout),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (fc *FinnhubClient) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	var profile struct {
		Name     string  `json:"name"`
		Country  string  `json:"country"`
		Industry string  `json:"finnhubIndustry"`
		MarketCap float64 `json:"marketCapitalization"`
	}
	if err := fc.get(ctx, "/stock/profile2", map[string]string{"symbol": symbol}, &profile); err != nil {
		return nil, err
	}
	var metrics struct {
		Metric map[string]any `json:"metric"`
	}
	if err := fc.get(ctx, "/stock/metric", map[string]string{"symbol": symbol, "metric": "all"}, &metrics); err != nil {
		return nil, err
	}
	f := &Fundamentals{
		Symbol:  symbol,
		Name:    profile.Name,
		Sector:  profile.Industry,
		Country: profile.Country,
		Source:  fc.Name(),
		Metrics: map[string]float64{"marketCapitalization": profile.MarketCap},
	}
	for k, v := range metrics.Metric {
		if n, ok := v.(float64); ok {
			f.Metrics[k] = n
		}
	}
	if f.Name == "" && len(metrics.Metric) == 0 {
		return nil, fmt.Errorf("finnhub: no fundamentals for %s", symbol)
	}
	return f, nil
}

func (fc *FinnhubClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var r struct {
		C  float64 `json:"c"`
		O  float64 `json:"o"`
		H  float64 `json:"h"`
		L  float64 `json:"l"`
		PC float64 `json:"pc"`
		T  int64   `json:"t"`
	}
	if err := fc.get(ctx, "/quote", map[string]string{"symbol": NormalizeSymbol(symbol)}, &r); err != nil {
		return nil, err
	}
	return &Quote{
		Symbol:    NormalizeSymbol(symbol),
		Price:     r.C,
		Open:      r.O,
		High:      r.H,
		Low:       r.L,
		PrevClose: r.PC,
		Source:    fc.Name(),
		Timestamp: time.Unix(r.T, 0),
	}, nil
}
