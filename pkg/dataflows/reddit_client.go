package dataflows

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	RedditBaseURL      = "https://www.reddit.com"
	RedditOAuthBaseURL = "https://oauth.reddit.com"
)

// FinanceSubreddits are searched when the caller names none.
var FinanceSubreddits = []string{"wallstreetbets", "stocks", "investing", "SecurityAnalysis", "StockMarket"}

// RedditCredentials enables the OAuth endpoint; zero value uses the public JSON API.
type RedditCredentials struct {
	ClientID  string
	Secret    string
	UserAgent string
}

// RedditClient handles Reddit API operations
type RedditClient struct {
	client *resty.Client
	auth   *resty.Client
	creds  RedditCredentials
	retry  *RetryConfig

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewRedditClient creates a new Reddit client
func NewRedditClient(creds RedditCredentials, opts HTTPOptions) *RedditClient {
	if opts.UserAgent == "" {
		opts.UserAgent = creds.UserAgent
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "stockdesk/1.0"
	}
	authOpts := opts
	if opts.BaseURL == "" {
		opts.BaseURL = RedditBaseURL
		if creds.ClientID != "" && creds.Secret != "" {
			opts.BaseURL = RedditOAuthBaseURL
		}
		authOpts.BaseURL = RedditBaseURL
	}
	return &RedditClient{
		client: NewRestyClient(opts),
		auth:   NewRestyClient(authOpts),
		creds:  creds,
		retry:  DefaultRetryConfig(),
	}
}

func (rc *RedditClient) Name() string { return "reddit" }

// RedditResponse represents the API response structure
type RedditResponse struct {
	Kind string `json:"kind"`
	Data struct {
		After    string        `json:"after"`
		Children []RedditChild `json:"children"`
	} `json:"data"`
}

// RedditChild represents a Reddit post wrapper
type RedditChild struct {
	Kind string         `json:"kind"`
	Data RedditPostData `json:"data"`
}

// RedditPostData represents Reddit post data from API
type RedditPostData struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
	IsSelf      bool    `json:"is_self"`
}

func (rc *RedditClient) bearer(ctx context.Context) (string, error) {
	if rc.creds.ClientID == "" || rc.creds.Secret == "" {
		return "", nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.token != "" && time.Now().Before(rc.expires) {
		return rc.token, nil
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := rc.auth.R().SetContext(ctx).
		SetBasicAuth(rc.creds.ClientID, rc.creds.Secret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&out).
		Post("/api/v1/access_token")
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	rc.token = out.AccessToken
	rc.expires = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return rc.token, nil
}

func (rc *RedditClient) listing(ctx context.Context, path string, params map[string]string) ([]*RedditPost, error) {
	var posts []*RedditPost
	err := WithRetry(ctx, rc.retry, func() error {
		token, err := rc.bearer(ctx)
		if err != nil {
			return err
		}
		req := rc.client.R().SetContext(ctx).SetQueryParams(params)
		if token != "" {
			req.SetAuthToken(token)
		}
		resp, err := req.Get(path)
		if err != nil {
			return fmt.Errorf("failed to fetch Reddit posts: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}
		var listing RedditResponse
		if err := json.Unmarshal(resp.Body(), &listing); err != nil {
			return fmt.Errorf("failed to parse Reddit JSON: %w", err)
		}
		posts = convertToRedditPosts(listing.Data.Children)
		return nil
	})
	return posts, err
}

// GetSubredditPosts retrieves posts from a specific subreddit
func (rc *RedditClient) GetSubredditPosts(ctx context.Context, subreddit, sortBy string, limit int) ([]*RedditPost, error) {
	if strings.TrimSpace(subreddit) == "" {
		return nil, fmt.Errorf("subreddit cannot be empty")
	}
	if sortBy == "" {
		sortBy = "hot"
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return rc.listing(ctx, fmt.Sprintf("/r/%s/%s.json", subreddit, sortBy), map[string]string{
		"limit": strconv.Itoa(limit),
	})
}

// SearchPosts searches the given subreddits (or the finance defaults) for
// query over the past week, sorted by score.
func (rc *RedditClient) SearchPosts(ctx context.Context, query string, subreddits []string, limit int) ([]*RedditPost, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("reddit: empty query")
	}
	if len(subreddits) == 0 {
		subreddits = FinanceSubreddits
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	posts, err := rc.listing(ctx, fmt.Sprintf("/r/%s/search.json", strings.Join(subreddits, "+")), map[string]string{
		"q":           query,
		"restrict_sr": "1",
		"sort":        "relevance",
		"t":           "week",
		"limit":       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Score > posts[j].Score })
	return posts, nil
}

// GetStockMentions returns posts that actually mention symbol.
func (rc *RedditClient) GetStockMentions(ctx context.Context, symbol string, limit int) ([]*RedditPost, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("stock symbol cannot be empty")
	}
	posts, err := rc.SearchPosts(ctx, fmt.Sprintf("%s OR $%s", symbol, symbol), nil, limit)
	if err != nil {
		return nil, err
	}
	out := posts[:0]
	for _, p := range posts {
		if p.IsStickied || !MentionsSymbol(p.Title+" "+p.Content, symbol) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func convertToRedditPosts(children []RedditChild) []*RedditPost {
	posts := make([]*RedditPost, 0, len(children))
	for _, child := range children {
		// t3 is the kind for link posts
		if child.Kind != "t3" {
			continue
		}
		data := child.Data
		fullURL := data.URL
		if data.IsSelf || fullURL == "" {
			fullURL = RedditBaseURL + data.Permalink
		}
		posts = append(posts, &RedditPost{
			ID:         data.ID,
			Title:      data.Title,
			Content:    data.Selftext,
			URL:        fullURL,
			Subreddit:  data.Subreddit,
			Author:     data.Author,
			Score:      data.Score,
			Comments:   data.NumComments,
			CreatedAt:  time.Unix(int64(data.CreatedUTC), 0).UTC(),
			IsStickied: data.Stickied,
		})
	}
	return posts
}

// MentionsSymbol reports whether text names symbol as $SYM, #SYM or a bare word.
func MentionsSymbol(text, symbol string) bool {
	if symbol == "" {
		return false
	}
	return SymbolPattern(symbol).MatchString(text)
}

var symbolPatterns sync.Map

// SymbolPattern compiles (and memoizes) the ticker-mention regex for symbol.
func SymbolPattern(symbol string) *regexp.Regexp {
	if re, ok := symbolPatterns.Load(symbol); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(symbol)
	re := regexp.MustCompile(`(?:\$` + q + `\b|#` + q + `\b|\b` + q + `\b)`)
	symbolPatterns.Store(symbol, re)
	return re
}
