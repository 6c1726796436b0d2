package sentiment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

const StocktwitsBaseURL = "https://api.stocktwits.com/api/2"

type StocktwitsClient struct {
	client *resty.Client
	limit  int
}

func NewStocktwitsClient(opts pkg.HTTPOptions, limit int) *StocktwitsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = StocktwitsBaseURL
	}
	if limit <= 0 {
		limit = 30
	}
	return &StocktwitsClient{client: pkg.NewRestyClient(opts), limit: limit}
}

type stocktwitsStream struct {
	Response struct {
		Status int `json:"status"`
	} `json:"response"`
	Messages []struct {
		ID        int64  `json:"id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
		Entities struct {
			Sentiment *struct {
				Basic string `json:"basic"`
			} `json:"sentiment"`
		} `json:"entities"`
	} `json:"messages"`
}

// GetMessages returns at most the configured number of the symbol's most
// recent messages.
func (c *StocktwitsClient) GetMessages(ctx context.Context, symbol string) ([]Message, error) {
	var stream stocktwitsStream
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(c.limit)).
		SetResult(&stream).
		Get("/streams/symbol/" + symbol + ".json")
	if err != nil {
		return nil, fmt.Errorf("stocktwits %s: %w", symbol, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("stocktwits %s: %w", symbol, &pkg.StatusError{Code: resp.StatusCode(), Body: resp.String()})
	}

	msgs := make([]Message, 0, len(stream.Messages))
	for _, m := range stream.Messages {
		if len(msgs) >= c.limit {
			break
		}
		ts, _ := time.Parse(time.RFC3339, m.CreatedAt)
		msg := Message{
			Source:    SourceStocktwits,
			Author:    m.User.Username,
			Text:      m.Body,
			URL:       fmt.Sprintf("https://stocktwits.com/%s/message/%d", m.User.Username, m.ID),
			Timestamp: ts,
		}
		for _, s := range m.Symbols {
			msg.Tickers = append(msg.Tickers, strings.ToUpper(s.Symbol))
		}
		if m.Entities.Sentiment != nil {
			msg.Label = strings.ToLower(m.Entities.Sentiment.Basic)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
