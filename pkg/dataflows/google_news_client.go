package dataflows

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const GoogleNewsBaseURL = "https://news.google.com"

// RSS is the subset of an RSS 2.0 document the news and nitter feeds share.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Items       []Item `xml:"item"`
}

type Item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Creator     string `xml:"creator"`
	Source      Source `xml:"source"`
	GUID        string `xml:"guid"`
}

type Source struct {
	URL  string `xml:"url,attr"`
	Text string `xml:",chardata"`
}

// ParseRSS decodes an RSS 2.0 body.
func ParseRSS(body []byte) (*RSS, error) {
	var rss RSS
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("failed to parse RSS XML: %w", err)
	}
	return &rss, nil
}

// ParsePubDate accepts the date layouts seen in RSS feeds.
func ParsePubDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 MST", "Mon, 2 Jan 2006 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GoogleNewsClient reads Google News search results, RSS first and the
// HTML search page when the feed is unavailable.
type GoogleNewsClient struct {
	client   *resty.Client
	language string
	country  string
	retry    *RetryConfig
}

// NewGoogleNewsClient creates a new Google News client
func NewGoogleNewsClient(opts HTTPOptions) *GoogleNewsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = GoogleNewsBaseURL
	}
	return &GoogleNewsClient{
		client:   NewRestyClient(opts),
		language: "en-US",
		country:  "US",
		retry:    DefaultRetryConfig(),
	}
}

func (gnc *GoogleNewsClient) Name() string { return "google_news" }

// GetNews searches for query between start and end. Articles are newest first.
func (gnc *GoogleNewsClient) GetNews(ctx context.Context, query string, start, end time.Time, limit int) ([]*NewsArticle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("google news: empty query")
	}
	q := query
	if !start.IsZero() && !end.IsZero() {
		q = fmt.Sprintf("%s after:%s before:%s", query, start.Format(DateLayout), end.AddDate(0, 0, 1).Format(DateLayout))
	}

	articles, rssErr := gnc.searchRSS(ctx, q, query)
	if rssErr != nil || len(articles) == 0 {
		htmlArticles, err := gnc.searchHTML(ctx, q, query)
		if err != nil {
			if rssErr != nil {
				return nil, fmt.Errorf("google news rss: %v; html: %w", rssErr, err)
			}
			return nil, err
		}
		articles = htmlArticles
	}

	articles = removeDuplicates(articles)
	filtered := articles[:0]
	for _, a := range articles {
		if !start.IsZero() && a.PublishedAt.Before(truncateDay(start)) {
			continue
		}
		if !end.IsZero() && a.PublishedAt.After(truncateDay(end).Add(24*time.Hour)) {
			continue
		}
		filtered = append(filtered, a)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].PublishedAt.After(filtered[j].PublishedAt)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (gnc *GoogleNewsClient) searchRSS(ctx context.Context, q, keyword string) ([]*NewsArticle, error) {
	var articles []*NewsArticle
	err := WithRetry(ctx, gnc.retry, func() error {
		resp, err := gnc.client.R().SetContext(ctx).SetQueryParams(map[string]string{
			"q":    q,
			"hl":   gnc.language,
			"gl":   gnc.country,
			"ceid": gnc.country + ":" + strings.Split(gnc.language, "-")[0],
		}).Get("/rss/search")
		if err != nil {
			return fmt.Errorf("failed to fetch RSS feed: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		rss, err := ParseRSS(resp.Body())
		if err != nil {
			return err
		}
		articles = articles[:0]
		for _, item := range rss.Channel.Items {
			articles = append(articles, convertRSSItem(item, keyword))
		}
		return nil
	})
	return articles, err
}

func (gnc *GoogleNewsClient) searchHTML(ctx context.Context, q, keyword string) ([]*NewsArticle, error) {
	var articles []*NewsArticle
	err := WithRetry(ctx, gnc.retry, func() error {
		resp, err := gnc.client.R().SetContext(ctx).SetQueryParams(map[string]string{
			"q":  q,
			"hl": gnc.language,
			"gl": gnc.country,
		}).Get("/search")
		if err != nil {
			return fmt.Errorf("failed to fetch Google News: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("failed to parse HTML: %w", err)
		}
		articles = parseGoogleNewsHTML(doc, keyword)
		return nil
	})
	return articles, err
}

func convertRSSItem(item Item, query string) *NewsArticle {
	pubTime, ok := ParsePubDate(item.PubDate)
	if !ok {
		pubTime = time.Now()
	}

	source := strings.TrimSpace(item.Source.Text)
	if source == "" && item.Source.URL != "" {
		if u, err := url.Parse(item.Source.URL); err == nil {
			source = u.Host
		}
	}

	return &NewsArticle{
		Title:       strings.TrimSpace(item.Title),
		Content:     CleanHTML(item.Description),
		URL:         item.Link,
		Source:      source,
		PublishedAt: pubTime,
		Keywords:    []string{query},
		Metadata: map[string]string{
			"scraper":    "google_news_rss",
			"guid":       item.GUID,
			"source_url": item.Source.URL,
		},
	}
}

func parseGoogleNewsHTML(doc *goquery.Document, query string) []*NewsArticle {
	var articles []*NewsArticle
	// Google rotates class names; the first selector that yields wins.
	for _, selector := range []string{"article", "[data-n-tid]", ".JtKRv", ".WwrzSb"} {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if article := extractGoogleNewsArticle(s, query); article != nil {
				articles = append(articles, article)
			}
		})
		if len(articles) > 0 {
			break
		}
	}
	return articles
}

func extractGoogleNewsArticle(s *goquery.Selection, query string) *NewsArticle {
	title := ""
	for _, sel := range []string{"h3", "h4", "[role='heading']", ".JtKRv"} {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			title = t
			break
		}
	}
	if title == "" {
		return nil
	}

	href, exists := s.Find("a").First().Attr("href")
	if !exists {
		return nil
	}

	source := strings.TrimSpace(s.Find("[data-n-tid], .wEwyrc").First().Text())
	if source == "" {
		source = "Google News"
	}

	published := time.Now()
	timeSel := s.Find("time").First()
	if dt, ok := timeSel.Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			published = t
		}
	} else if text := strings.TrimSpace(timeSel.Text()); text != "" {
		published = parseRelativeTime(text, time.Now())
	}

	return &NewsArticle{
		Title:       title,
		Content:     strings.TrimSpace(s.Find(".st, .Y3v8qd").First().Text()),
		URL:         cleanGoogleURL(href),
		Source:      source,
		PublishedAt: published,
		Keywords:    []string{query},
		Metadata: map[string]string{
			"scraper":      "google_news_html",
			"original_url": href,
		},
	}
}

func cleanGoogleURL(googleURL string) string {
	if strings.Contains(googleURL, "/url?") {
		if parts := strings.SplitN(googleURL, "url=", 2); len(parts) > 1 {
			if decoded, err := url.QueryUnescape(parts[1]); err == nil {
				if idx := strings.Index(decoded, "&"); idx != -1 {
					decoded = decoded[:idx]
				}
				return decoded
			}
		}
	}
	if strings.HasPrefix(googleURL, "./") {
		return GoogleNewsBaseURL + googleURL[1:]
	}
	if strings.HasPrefix(googleURL, "/") {
		return GoogleNewsBaseURL + googleURL
	}
	return googleURL
}

var relativeTimeRe = regexp.MustCompile(`(\d+)\s*(minute|hour|day)s?\s*ago`)

func parseRelativeTime(text string, now time.Time) time.Time {
	m := relativeTimeRe.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return now.Add(-time.Hour)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	default:
		return now.AddDate(0, 0, -n)
	}
}

func removeDuplicates(articles []*NewsArticle) []*NewsArticle {
	seen := make(map[string]bool, len(articles))
	unique := make([]*NewsArticle, 0, len(articles))
	for _, article := range articles {
		key := article.URL + "|" + article.Title
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, article)
	}
	return unique
}

var (
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// CleanHTML reduces an HTML fragment to its collapsed text.
func CleanHTML(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err == nil {
		if text := strings.TrimSpace(doc.Text()); text != "" {
			return spaceRegex.ReplaceAllString(text, " ")
		}
	}
	content := htmlTagRegex.ReplaceAllString(htmlContent, "")
	replacer := strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#39;", "'")
	content = replacer.Replace(content)
	return strings.TrimSpace(spaceRegex.ReplaceAllString(content, " "))
}
