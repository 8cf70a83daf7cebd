package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/subwatch/frontpage-mirror/internal/config"
	"github.com/subwatch/frontpage-mirror/internal/domain"
)

const (
	defaultAPIBase  = "https://oauth.reddit.com"
	defaultAuthBase = "https://www.reddit.com"

	// tokenSlack renews the OAuth token a bit before it actually expires.
	tokenSlack = time.Minute
)

// Client is a minimal Reddit API client for a script-type app using the
// password grant. It implements domain.FeedClient.
type Client struct {
	apiBase    string
	authBase   string
	creds      config.Reddit
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var _ domain.FeedClient = (*Client)(nil)

// NewClient creates a Reddit client with the given credentials. Requests are
// rate limited to stay inside Reddit's per-client budget.
func NewClient(creds config.Reddit) *Client {
	return &Client{
		apiBase:  defaultAPIBase,
		authBase: defaultAuthBase,
		creds:    creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// HotPosts returns up to limit posts from the feed's hot ranking, in order.
func (c *Client) HotPosts(ctx context.Context, feed string, limit int) ([]domain.Post, error) {
	query := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"raw_json": {"1"},
	}
	var listing listingResponse
	if err := c.get(ctx, "/r/"+feed+"/hot", query, &listing); err != nil {
		return nil, fmt.Errorf("fetch hot listing for r/%s: %w", feed, err)
	}
	return listing.posts(), nil
}

// NewPosts returns up to limit of the subreddit's newest posts.
func (c *Client) NewPosts(ctx context.Context, subreddit string, limit int) ([]domain.Post, error) {
	query := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"raw_json": {"1"},
	}
	var listing listingResponse
	if err := c.get(ctx, "/r/"+subreddit+"/new", query, &listing); err != nil {
		return nil, fmt.Errorf("fetch new listing for r/%s: %w", subreddit, err)
	}
	return listing.posts(), nil
}

// PostByID fetches a single post by fullname.
func (c *Client) PostByID(ctx context.Context, fullname string) (*domain.Post, error) {
	query := url.Values{
		"id":       {fullname},
		"raw_json": {"1"},
	}
	var listing listingResponse
	if err := c.get(ctx, "/api/info", query, &listing); err != nil {
		return nil, fmt.Errorf("fetch post %s: %w", fullname, err)
	}
	posts := listing.posts()
	if len(posts) == 0 {
		return nil, fmt.Errorf("post %s not found", fullname)
	}
	return &posts[0], nil
}

// SubmitLink creates a link post in the given subreddit.
func (c *Client) SubmitLink(ctx context.Context, subreddit, title, linkURL string) (*domain.Post, error) {
	form := url.Values{
		"sr":       {subreddit},
		"kind":     {"link"},
		"title":    {title},
		"url":      {linkURL},
		"api_type": {"json"},
	}
	var resp submitResponse
	if err := c.postForm(ctx, "/api/submit", form, &resp); err != nil {
		return nil, fmt.Errorf("submit link to r/%s: %w", subreddit, err)
	}
	if len(resp.JSON.Errors) > 0 {
		return nil, fmt.Errorf("submit link to r/%s rejected: %v", subreddit, resp.JSON.Errors)
	}
	return &domain.Post{
		ID:        resp.JSON.Data.Name,
		Title:     title,
		Subreddit: subreddit,
		URL:       linkURL,
		Permalink: permalinkFromURL(resp.JSON.Data.URL),
	}, nil
}

// DeletePost deletes one of the authenticated account's own posts.
func (c *Client) DeletePost(ctx context.Context, fullname string) error {
	form := url.Values{"id": {fullname}}
	if err := c.postForm(ctx, "/api/del", form, nil); err != nil {
		return fmt.Errorf("delete post %s: %w", fullname, err)
	}
	return nil
}

// SubredditNSFW reports whether a subreddit is flagged over-18.
func (c *Client) SubredditNSFW(ctx context.Context, name string) (bool, error) {
	var about aboutResponse
	if err := c.get(ctx, "/r/"+name+"/about", url.Values{"raw_json": {"1"}}, &about); err != nil {
		return false, fmt.Errorf("fetch r/%s about: %w", name, err)
	}
	return about.Data.Over18, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	token, err := c.token(req.Context())
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// token returns a valid access token, fetching a fresh one when the cached
// token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.creds.Username},
		"password":   {c.creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authBase+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.creds.UserAgent)
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token: %s", string(body))
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// permalinkFromURL strips the host from a full comments URL, matching the
// site-relative permalinks the listing API returns.
func permalinkFromURL(full string) string {
	u, err := url.Parse(full)
	if err != nil {
		return full
	}
	return u.Path
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data thingData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type thingData struct {
	Name              string `json:"name"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	Score             int    `json:"score"`
	NumComments       int    `json:"num_comments"`
	Subreddit         string `json:"subreddit"`
	Over18            bool   `json:"over_18"`
	RemovedByCategory string `json:"removed_by_category"`
	Permalink         string `json:"permalink"`
	URL               string `json:"url"`
}

func (l *listingResponse) posts() []domain.Post {
	posts := make([]domain.Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		d := child.Data
		posts = append(posts, domain.Post{
			ID:                d.Name,
			Title:             d.Title,
			Author:            d.Author,
			Score:             d.Score,
			CommentCount:      d.NumComments,
			Subreddit:         d.Subreddit,
			NSFW:              d.Over18,
			RemovedByCategory: d.RemovedByCategory,
			Permalink:         d.Permalink,
			URL:               d.URL,
		})
	}
	return posts
}

type submitResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

type aboutResponse struct {
	Data struct {
		Over18 bool `json:"over18"`
	} `json:"data"`
}
