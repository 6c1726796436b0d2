package dataflows

import (
	"context"
	"errors"
	"strings"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
)

type LongportConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

type LongportClient struct {
	quoteCtx *quote.QuoteContext
}

func NewLongportClient(cfg LongportConfig) (*LongportClient, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &LongportClient{quoteCtx: quoteContext}, nil
}

func (lpc *LongportClient) Name() string { return "longport" }

// longportSymbol maps a bare US ticker to Longport's market-suffixed form.
func longportSymbol(symbol string) string {
	symbol = NormalizeSymbol(symbol)
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}

func (lpc *LongportClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	quotes, err := lpc.quoteCtx.Quote(ctx, []string{longportSymbol(symbol)})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 || quotes[0] == nil || quotes[0].LastDone == nil {
		return nil, errors.New("longport returned no quote")
	}
	q := quotes[0]
	out := &Quote{
		Symbol:    NormalizeSymbol(symbol),
		Price:     q.LastDone.InexactFloat64(),
		Volume:    q.Volume,
		Source:    lpc.Name(),
		Timestamp: time.Unix(q.Timestamp, 0),
	}
	if q.Open != nil {
		out.Open = q.Open.InexactFloat64()
	}
	if q.High != nil {
		out.High = q.High.InexactFloat64()
	}
	if q.Low != nil {
		out.Low = q.Low.InexactFloat64()
	}
	if q.PrevClose != nil {
		out.PrevClose = q.PrevClose.InexactFloat64()
	}
	return out, nil
}

// GetHistory fetches enough daily candlesticks to cover start and trims to the range.
func (lpc *LongportClient) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	count := int(time.Since(start).Hours()/24) + 5
	if count > 1000 {
		count = 1000
	}
	sticks, err := lpc.quoteCtx.Candlesticks(ctx, longportSymbol(symbol), quote.PeriodDay, int32(count), quote.AdjustTypeNo)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(sticks))
	for _, stick := range sticks {
		if stick == nil || stick.Close == nil {
			continue
		}
		b := Bar{
			Date:   time.Unix(stick.Timestamp, 0).UTC(),
			Close:  stick.Close.InexactFloat64(),
			Volume: stick.Volume,
		}
		b.AdjClose = b.Close
		if stick.Open != nil {
			b.Open = stick.Open.InexactFloat64()
		}
		if stick.High != nil {
			b.High = stick.High.InexactFloat64()
		}
		if stick.Low != nil {
			b.Low = stick.Low.InexactFloat64()
		}
		bars = append(bars, b)
	}
	return FilterBars(bars, start, end), nil
}
