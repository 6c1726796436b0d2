package dataflows

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// HTTPOptions shapes every vendor client.
type HTTPOptions struct {
	BaseURL         string
	Timeout         time.Duration
	MaxConnsPerHost int
	UserAgent       string
	// RatePerMinute of zero disables client-side limiting.
	RatePerMinute int
}

// NewRestyClient builds a pooled client with a per-host connection bound.
func NewRestyClient(opts HTTPOptions) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.MaxConnsPerHost > 0 {
		transport.MaxConnsPerHost = opts.MaxConnsPerHost
		transport.MaxIdleConnsPerHost = opts.MaxConnsPerHost
	}

	client := resty.New().SetTransport(transport)
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	client.SetHeader("User-Agent", ua)
	return client
}

// NewLimiter returns nil when perMinute is not positive.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, body)
}

func checkResponse(resp *resty.Response) error {
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry executes fn with exponential backoff until it succeeds, the
// retries run out or ctx ends.
func WithRetry(ctx context.Context, config *RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
