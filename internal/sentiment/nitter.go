package sentiment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// NitterClient reads account timelines as RSS from a pool of Nitter
// mirrors. Each account starts at the next mirror in rotation and walks
// the pool until one answers.
type NitterClient struct {
	mirrors []string
	client  *resty.Client
	timeout time.Duration

	limiters map[string]*rate.Limiter

	mu     sync.Mutex
	cursor int
}

// NewNitterClient spaces requests to each mirror by at least spacing. The
// rotation starts at a random mirror.
func NewNitterClient(mirrors []string, opts pkg.HTTPOptions, spacing time.Duration) *NitterClient {
	c := &NitterClient{
		mirrors:  make([]string, 0, len(mirrors)),
		client:   pkg.NewRestyClient(opts),
		timeout:  opts.Timeout,
		limiters: map[string]*rate.Limiter{},
	}
	for _, m := range mirrors {
		m = strings.TrimRight(m, "/")
		c.mirrors = append(c.mirrors, m)
		if spacing > 0 {
			c.limiters[m] = rate.NewLimiter(rate.Every(spacing), 1)
		}
	}
	if len(c.mirrors) > 0 {
		c.cursor = rand.IntN(len(c.mirrors))
	}
	return c
}

func (c *NitterClient) Mirrors() []string { return c.mirrors }

func (c *NitterClient) start() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.cursor
	c.cursor = (c.cursor + 1) % len(c.mirrors)
	return s
}

// FetchAccount returns the account's recent posts from the first mirror
// that answers, plus one error for every mirror that did not.
func (c *NitterClient) FetchAccount(ctx context.Context, account string) ([]Message, []error) {
	if len(c.mirrors) == 0 {
		return nil, []error{fmt.Errorf("nitter: no mirrors configured")}
	}
	account = strings.TrimPrefix(account, "@")
	var errs []error
	first := c.start()
	for i := range c.mirrors {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		mirror := c.mirrors[(first+i)%len(c.mirrors)]
		msgs, err := c.fetch(ctx, mirror, account)
		if err != nil {
			errs = append(errs, fmt.Errorf("nitter %s @%s: %w", mirror, account, err))
			continue
		}
		return msgs, errs
	}
	return nil, errs
}

func (c *NitterClient) fetch(ctx context.Context, mirror, account string) ([]Message, error) {
	if l := c.limiters[mirror]; l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.client.R().
		SetContext(reqCtx).
		SetHeader("Accept", "application/rss+xml, application/xml, text/xml").
		Get(mirror + "/" + account + "/rss")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &pkg.StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	rss, err := pkg.ParseRSS(resp.Body())
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		text := pkg.CleanHTML(item.Title)
		if text == "" {
			text = pkg.CleanHTML(item.Description)
		}
		author := strings.TrimPrefix(strings.TrimSpace(item.Creator), "@")
		if author == "" {
			author = account
		}
		ts, _ := pkg.ParsePubDate(item.PubDate)
		msgs = append(msgs, Message{
			Source:    SourceTwitter,
			Author:    author,
			Text:      text,
			URL:       item.Link,
			Timestamp: ts,
		})
	}
	return msgs, nil
}
