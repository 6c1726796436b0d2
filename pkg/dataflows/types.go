package dataflows

import (
	"time"
)

// Bar is one daily OHLCV candle.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// Quote is a vendor-neutral last-price snapshot.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name,omitempty"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewsArticle represents a news article
type NewsArticle struct {
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	URL         string            `json:"url"`
	Source      string            `json:"source"`
	PublishedAt time.Time         `json:"published_at"`
	Sentiment   float64           `json:"sentiment,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RedditPost represents a Reddit post
type RedditPost struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	Subreddit  string    `json:"subreddit"`
	Author     string    `json:"author"`
	Score      int       `json:"score"`
	Comments   int       `json:"comments"`
	CreatedAt  time.Time `json:"created_at"`
	IsStickied bool      `json:"is_stickied"`
}

// InsiderSentiment is one month of aggregated insider activity.
type InsiderSentiment struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Change int64   `json:"change"`
	MSPR   float64 `json:"mspr"`
}

// Fundamentals is a flat view of a company profile plus key ratios.
type Fundamentals struct {
	Symbol  string             `json:"symbol"`
	Name    string             `json:"name"`
	Sector  string             `json:"sector,omitempty"`
	Country string             `json:"country,omitempty"`
	Source  string             `json:"source"`
	Metrics map[string]float64 `json:"metrics"`
}

// FilterBars keeps bars dated within [start, end].
func FilterBars(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		d := truncateDay(b.Date)
		if !start.IsZero() && d.Before(truncateDay(start)) {
			continue
		}
		if !end.IsZero() && d.After(truncateDay(end)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
