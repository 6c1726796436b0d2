package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const MarketDataBaseURL = "https://api.marketdata.app/v1"

// MarketDataClient reads quotes and daily candles from MarketData.app.
type MarketDataClient struct {
	client  *resty.Client
	token   string
	limiter *rate.Limiter
}

func NewMarketDataClient(token string, opts HTTPOptions) *MarketDataClient {
	if opts.BaseURL == "" {
		opts.BaseURL = MarketDataBaseURL
	}
	c := NewRestyClient(opts)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &MarketDataClient{client: c, token: token, limiter: NewLimiter(opts.RatePerMinute)}
}

func (md *MarketDataClient) Name() string { return "marketdata" }

type mdQuoteResponse struct {
	Status  string    `json:"s"`
	Message string    `json:"errmsg"`
	Last    []float64 `json:"last"`
	Volume  []int64   `json:"volume"`
	Updated []int64   `json:"updated"`
}

type mdCandleResponse struct {
	Status  string    `json:"s"`
	Message string    `json:"errmsg"`
	T       []int64   `json:"t"`
	O       []float64 `json:"o"`
	H       []float64 `json:"h"`
	L       []float64 `json:"l"`
	C       []float64 `json:"c"`
	V       []int64   `json:"v"`
}

func (md *MarketDataClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if md.token == "" {
		return errors.New("marketdata token not configured")
	}
	if err := waitLimiter(ctx, md.limiter); err != nil {
		return err
	}
	resp, err := md.client.R().SetContext(ctx).SetQueryParams(params).Get(path)
	if err != nil {
		return fmt.Errorf("marketdata %s: %w", path, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.Unmarshal(resp.Body(), out)
}

func (md *MarketDataClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var r mdQuoteResponse
	if err := md.get(ctx, fmt.Sprintf("/stocks/quotes/%s/", NormalizeSymbol(symbol)), nil, &r); err != nil {
		return nil, err
	}
	if r.Status != "ok" || len(r.Last) == 0 {
		return nil, fmt.Errorf("marketdata quote: %s %s", r.Status, r.Message)
	}
	q := &Quote{Symbol: NormalizeSymbol(symbol), Price: r.Last[0], Source: md.Name(), Timestamp: time.Now()}
	if len(r.Volume) > 0 {
		q.Volume = r.Volume[0]
	}
	if len(r.Updated) > 0 {
		q.Timestamp = time.Unix(r.Updated[0], 0)
	}
	return q, nil
}

func (md *MarketDataClient) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	var r mdCandleResponse
	params := map[string]string{"from": start.Format(DateLayout), "to": end.Format(DateLayout)}
	if err := md.get(ctx, fmt.Sprintf("/stocks/candles/D/%s/", NormalizeSymbol(symbol)), params, &r); err != nil {
		return nil, err
	}
	if r.Status != "ok" {
		return nil, fmt.Errorf("marketdata candles: %s %s", r.Status, r.Message)
	}
	n := len(r.T)
	if len(r.O) != n || len(r.H) != n || len(r.L) != n || len(r.C) != n {
		return nil, errors.New("marketdata candles: ragged arrays")
	}
	bars := make([]Bar, 0, n)
	for i := 0; i < n; i++ {
		b := Bar{Date: time.Unix(r.T[i], 0).UTC(), Open: r.O[i], High: r.H[i], Low: r.L[i], Close: r.C[i], AdjClose: r.C[i]}
		if i < len(r.V) {
			b.Volume = r.V[i]
		}
		bars = append(bars, b)
	}
	return FilterBars(bars, start, end), nil
}
