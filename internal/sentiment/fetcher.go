package sentiment

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/logger"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

const topAccounts = 5

// RedditSource is the part of the Reddit client the fetcher needs.
type RedditSource interface {
	GetStockMentions(ctx context.Context, symbol string, limit int) ([]*pkg.RedditPost, error)
}

type Fetcher struct {
	nitter     *NitterClient
	stocktwits *StocktwitsClient
	reddit     RedditSource
	scorer     Scorer
	accounts   []string
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Fetcher)

func WithScorer(s Scorer) Option { return func(f *Fetcher) { f.scorer = s } }

func WithReddit(r RedditSource) Option { return func(f *Fetcher) { f.reddit = r } }

func WithLogger(l *zap.Logger) Option { return func(f *Fetcher) { f.logger = l } }

func WithClock(now func() time.Time) Option { return func(f *Fetcher) { f.now = now } }

func WithNitter(c *NitterClient) Option { return func(f *Fetcher) { f.nitter = c } }

func WithStocktwits(c *StocktwitsClient) Option { return func(f *Fetcher) { f.stocktwits = c } }

// NewFetcher builds the Nitter and Stocktwits clients from cfg.Social.
// Reddit and the LLM scorer are optional and passed as options.
func NewFetcher(cfg *config.Config, opts ...Option) *Fetcher {
	sc := cfg.Social
	f := &Fetcher{
		nitter: NewNitterClient(sc.NitterMirrors, pkg.HTTPOptions{
			Timeout:         sc.RequestTimeout,
			MaxConnsPerHost: cfg.Vendors.MaxConnsPerHost,
		}, sc.MirrorSpacing),
		stocktwits: NewStocktwitsClient(pkg.HTTPOptions{
			BaseURL:         sc.StocktwitsURL,
			Timeout:         sc.RequestTimeout,
			MaxConnsPerHost: cfg.Vendors.MaxConnsPerHost,
		}, sc.StocktwitsLimit),
		accounts: slices.Clone(sc.Accounts),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logger.OrNop(f.logger)
	return f
}

type collector struct {
	mu       sync.Mutex
	msgs     []Message
	errors   []string
	warnings []string
}

func (c *collector) add(msgs []Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msgs...)
	c.mu.Unlock()
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err.Error())
	c.mu.Unlock()
}

func (c *collector) warn(format string, args ...any) {
	c.mu.Lock()
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

// Fetch gathers and scores messages for req. Source failures are recorded
// in the report; only an invalid request is an error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Report, error) {
	if err := req.normalize(); err != nil {
		return nil, errs.Validation("%v", err)
	}
	now := f.now()
	cutoff := now.Add(-TimeRanges[req.TimeRange])
	log := f.logger.With(zap.String("ticker", req.Ticker), zap.String("time_range", req.TimeRange))

	var (
		c collector
		g errgroup.Group
	)
	if slices.Contains(req.Sources, SourceTwitter) {
		accounts := req.Accounts
		if len(accounts) == 0 {
			accounts = f.accounts
		}
		if f.nitter == nil || len(accounts) == 0 {
			c.warn("twitter: no accounts or mirrors configured")
		}
		for _, account := range accounts {
			if f.nitter == nil {
				break
			}
			g.Go(func() error {
				msgs, failures := f.nitter.FetchAccount(ctx, account)
				for _, err := range failures {
					c.fail(err)
				}
				if msgs == nil {
					c.warn("twitter: no mirror answered for @%s", account)
				}
				c.add(msgs)
				return nil
			})
		}
	}
	if slices.Contains(req.Sources, SourceStocktwits) {
		g.Go(func() error {
			if f.stocktwits == nil {
				c.warn("stocktwits: not configured")
				return nil
			}
			msgs, err := f.stocktwits.GetMessages(ctx, req.Ticker)
			if err != nil {
				c.fail(err)
				return nil
			}
			c.add(msgs)
			return nil
		})
	}
	if slices.Contains(req.Sources, SourceReddit) {
		g.Go(func() error {
			if f.reddit == nil {
				c.warn("reddit: not configured")
				return nil
			}
			posts, err := f.reddit.GetStockMentions(ctx, req.Ticker, 50)
			if err != nil {
				c.fail(fmt.Errorf("reddit %s: %w", req.Ticker, err))
				return nil
			}
			c.add(redditMessages(posts))
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Ticker:       req.Ticker,
		TimeRange:    req.TimeRange,
		Sources:      req.Sources,
		SourceCounts: map[string]int{},
		Errors:       c.errors,
		Warnings:     c.warnings,
		FetchedAt:    now,
	}
	report.Messages = relevant(c.msgs, req.Ticker, cutoff)
	for _, m := range report.Messages {
		report.SourceCounts[m.Source]++
	}

	report.Score = ScoreLexicon(report.Messages)
	if f.scorer != nil && len(report.Messages) > 0 {
		s, err := f.scorer.Score(ctx, req.Ticker, report.Messages)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("llm scorer failed, used lexicon: %v", err))
			log.Warn("llm sentiment scoring failed", zap.Error(err))
		} else {
			report.Score = s
		}
	}
	report.SentimentRatio = SentimentRatio(report.Messages)
	report.TopAccounts = rankAccounts(report.Messages, topAccounts)

	log.Debug("sentiment fetched",
		zap.Int("messages", len(report.Messages)),
		zap.Int("errors", len(report.Errors)),
		zap.Float64("overall", report.Score.Overall))
	return report, nil
}

// relevant keeps messages about ticker inside the window, newest first.
// Stocktwits streams are already per symbol. Undated messages are kept.
func relevant(msgs []Message, ticker string, cutoff time.Time) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Timestamp.IsZero() && m.Timestamp.Before(cutoff) {
			continue
		}
		if m.Source != SourceStocktwits && !pkg.MentionsSymbol(m.Text, ticker) {
			continue
		}
		if len(m.Tickers) == 0 {
			m.Tickers = ExtractTickers(m.Text, ticker)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func rankAccounts(msgs []Message, n int) []AccountMentions {
	type key struct{ source, author string }
	counts := map[key]int{}
	for _, m := range msgs {
		if m.Author != "" {
			counts[key{m.Source, m.Author}]++
		}
	}
	out := make([]AccountMentions, 0, len(counts))
	for k, v := range counts {
		out = append(out, AccountMentions{Account: k.author, Source: k.source, Mentions: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Account < out[j].Account
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func redditMessages(posts []*pkg.RedditPost) []Message {
	out := make([]Message, 0, len(posts))
	for _, p := range posts {
		out = append(out, Message{
			Source:    SourceReddit,
			Author:    p.Author,
			Text:      strings.TrimSpace(p.Title + " " + p.Content),
			URL:       p.URL,
			Timestamp: p.CreatedAt,
		})
	}
	return out
}
