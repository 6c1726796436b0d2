package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageClient talks to the Alpha Vantage query API. The free tier
// allows five calls per minute, enforced with a token bucket.
type AlphaVantageClient struct {
	client  *resty.Client
	apiKey  string
	limiter *rate.Limiter
}

func NewAlphaVantageClient(apiKey string, opts HTTPOptions) *AlphaVantageClient {
	if opts.BaseURL == "" {
		opts.BaseURL = AlphaVantageBaseURL
	}
	return &AlphaVantageClient{
		client:  NewRestyClient(opts),
		apiKey:  apiKey,
		limiter: NewLimiter(opts.RatePerMinute),
	}
}

func (av *AlphaVantageClient) Name() string { return "alpha_vantage" }

func (av *AlphaVantageClient) query(ctx context.Context, params map[string]string) (map[string]json.RawMessage, error) {
	if av.apiKey == "" {
		return nil, errors.New("alpha vantage API key not configured")
	}
	if err := waitLimiter(ctx, av.limiter); err != nil {
		return nil, err
	}
	params["apikey"] = av.apiKey
	resp, err := av.client.R().SetContext(ctx).SetQueryParams(params).Get("/query")
	if err != nil {
		return nil, fmt.Errorf("alpha vantage %s: %w", params["function"], err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("alpha vantage decode: %w", err)
	}
	// throttling and bad symbols come back as 200 with a message field
	for _, k := range []string{"Error Message", "Note", "Information"} {
		if msg, ok := body[k]; ok {
			return nil, fmt.Errorf("alpha vantage: %s", strings.Trim(string(msg), `"`))
		}
	}
	return body, nil
}

func (av *AlphaVantageClient) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	body, err := av.query(ctx, map[string]string{
		"function":   "TIME_SERIES_DAILY",
		"symbol":     NormalizeSymbol(symbol),
		"outputsize": "full",
	})
	if err != nil {
		return nil, err
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(body["Time Series (Daily)"], &series); err != nil {
		return nil, fmt.Errorf("alpha vantage series: %w", err)
	}
	bars := make([]Bar, 0, len(series))
	for day, row := range series {
		date, err := time.Parse(DateLayout, day)
		if err != nil {
			continue
		}
		b := Bar{Date: date}
		b.Open, _ = strconv.ParseFloat(row["1. open"], 64)
		b.High, _ = strconv.ParseFloat(row["2. high"], 64)
		b.Low, _ = strconv.ParseFloat(row["3. low"], 64)
		b.Close, _ = strconv.ParseFloat(row["4. close"], 64)
		b.AdjClose = b.Close
		b.Volume, _ = strconv.ParseInt(row["5. volume"], 10, 64)
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return FilterBars(bars, start, end), nil
}

func (av *AlphaVantageClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	body, err := av.query(ctx, map[string]string{
		"function": "GLOBAL_QUOTE",
		"symbol":   NormalizeSymbol(symbol),
	})
	if err != nil {
		return nil, err
	}
	var gq map[string]string
	if err := json.Unmarshal(body["Global Quote"], &gq); err != nil {
		return nil, fmt.Errorf("alpha vantage quote: %w", err)
	}
	price, err := strconv.ParseFloat(gq["05. price"], 64)
	if err != nil {
		return nil, fmt.Errorf("alpha vantage quote price: %w", err)
	}
	q := &Quote{Symbol: NormalizeSymbol(symbol), Price: price, Source: av.Name(), Timestamp: time.Now()}
	q.Open, _ = strconv.ParseFloat(gq["02. open"], 64)
	q.High, _ = strconv.ParseFloat(gq["03. high"], 64)
	q.Low, _ = strconv.ParseFloat(gq["04. low"], 64)
	q.PrevClose, _ = strconv.ParseFloat(gq["08. previous close"], 64)
	q.Volume, _ = strconv.ParseInt(gq["06. volume"], 10, 64)
	return q, nil
}

func (av *AlphaVantageClient) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	body, err := av.query(ctx, map[string]string{
		"function": "OVERVIEW",
		"symbol":   NormalizeSymbol(symbol),
	})
	if err != nil {
		return nil, err
	}
	f := &Fundamentals{Symbol: NormalizeSymbol(symbol), Source: av.Name(), Metrics: map[string]float64{}}
	for k, raw := range body {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		switch k {
		case "Name":
			f.Name = s
		case "Sector":
			f.Sector = s
		case "Country":
			f.Country = s
		default:
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				f.Metrics[k] = v
			}
		}
	}
	if f.Name == "" && len(f.Metrics) == 0 {
		return nil, fmt.Errorf("alpha vantage: empty overview for %s", symbol)
	}
	return f, nil
}

type avFeedItem struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	TimePublished  string  `json:"time_published"`
	Summary        string  `json:"summary"`
	Source         string  `json:"source"`
	SentimentScore float64 `json:"overall_sentiment_score"`
}

// GetNews uses NEWS_SENTIMENT. An empty symbol asks for market-wide topics.
func (av *AlphaVantageClient) GetNews(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*NewsArticle, error) {
	params := map[string]string{
		"function":  "NEWS_SENTIMENT",
		"time_from": start.Format("20060102T1504"),
		"time_to":   end.Format("20060102T1504"),
		"sort":      "LATEST",
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if symbol != "" {
		params["tickers"] = NormalizeSymbol(symbol)
	} else {
		params["topics"] = "financial_markets,economy_macro"
	}
	body, err := av.query(ctx, params)
	if err != nil {
		return nil, err
	}
	var feed []avFeedItem
	if err := json.Unmarshal(body["feed"], &feed); err != nil {
		return nil, fmt.Errorf("alpha vantage feed: %w", err)
	}
	out := make([]*NewsArticle, 0, len(feed))
	for _, item := range feed {
		published, _ := time.Parse("20060102T150405", item.TimePublished)
		out = append(out, &NewsArticle{
			Title:       item.Title,
			Content:     item.Summary,
			URL:         item.URL,
			Source:      item.Source,
			PublishedAt: published,
			Sentiment:   item.SentimentScore,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
