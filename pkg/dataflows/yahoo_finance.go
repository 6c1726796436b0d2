package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
)

// YahooFinanceClient handles Yahoo Finance data operations
type YahooFinanceClient struct {
	retry *RetryConfig
}

// NewYahooFinanceClient creates a new Yahoo Finance client
func NewYahooFinanceClient() *YahooFinanceClient {
	return &YahooFinanceClient{retry: DefaultRetryConfig()}
}

func (yf *YahooFinanceClient) Name() string { return "yfinance" }

// GetQuote gets current quote data for a symbol
func (yf *YahooFinanceClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	var result *Quote
	err := WithRetry(ctx, yf.retry, func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", symbol, err)
		}
		if q == nil {
			return fmt.Errorf("no quote for %s", symbol)
		}
		result = &Quote{
			Symbol:    symbol,
			Name:      q.ShortName,
			Price:     q.RegularMarketPrice,
			Open:      q.RegularMarketOpen,
			High:      q.RegularMarketDayHigh,
			Low:       q.RegularMarketDayLow,
			PrevClose: q.RegularMarketPreviousClose,
			Volume:    int64(q.RegularMarketVolume),
			Source:    yf.Name(),
			Timestamp: time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetHistory gets daily bars for [start, end].
func (yf *YahooFinanceClient) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	// chart end is exclusive
	endExclusive := end.AddDate(0, 0, 1)

	var result []Bar
	err := WithRetry(ctx, yf.retry, func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&endExclusive),
			Interval: datetime.OneDay,
		}

		iter := chart.Get(params)
		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, Bar{
				Date:     time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:     bar.Open.InexactFloat64(),
				High:     bar.High.InexactFloat64(),
				Low:      bar.Low.InexactFloat64(),
				Close:    bar.Close.InexactFloat64(),
				AdjClose: bar.AdjClose.InexactFloat64(),
				Volume:   int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return FilterBars(result, start, end), nil
}

// GetCompanyInfo gets basic company information
func (yf *YahooFinanceClient) GetCompanyInfo(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get company info for %s: %w", symbol, err)
	}
	if q == nil {
		return nil, fmt.Errorf("no company info for %s", symbol)
	}
	return &Fundamentals{
		Symbol: symbol,
		Name:   q.ShortName,
		Source: yf.Name(),
		Metrics: map[string]float64{
			"regular_market_price":  q.RegularMarketPrice,
			"fifty_day_average":     q.FiftyDayAverage,
			"two_hundred_day_avg":   q.TwoHundredDayAverage,
			"fifty_two_week_high":   q.FiftyTwoWeekHigh,
			"fifty_two_week_low":    q.FiftyTwoWeekLow,
			"average_daily_volume3": float64(q.AverageDailyVolume3Month),
		},
	}, nil
}
