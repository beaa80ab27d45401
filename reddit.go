package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const channelCacheTTL = 5 * time.Minute

// QueueSource is the narrow contract the pipeline has with the content
// queue provider.
type QueueSource interface {
	FetchPending(ctx context.Context, channel string, limit int) ([]*Item, error)
	Apply(ctx context.Context, item *Item, action Action) error
}

// RedditClient talks to the Reddit moderation API with an opaque bearer
// token. The client never refreshes the token; that is the auth layer's
// job.
type RedditClient struct {
	token     string
	identity  string
	userAgent string
	baseURL   string
	http      *http.Client
	channels  *gocache.Cache
}

func NewRedditClient(token, identity, userAgent string, timeout time.Duration) *RedditClient {
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return &RedditClient{
		token:     token,
		identity:  identity,
		userAgent: userAgent,
		baseURL:   "https://oauth.reddit.com",
		http:      &http.Client{Timeout: timeout},
		channels:  gocache.New(channelCacheTTL, channelCacheTTL),
	}
}

func (c *RedditClient) Identity() string { return c.identity }

// listing mirrors the provider's envelope for queue and channel queries.
type listing struct {
	Data struct {
		Children []struct {
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// queueItem is the raw provider shape of one mod-queue entry. Selftext is
// a pointer so a present-but-empty field still marks the item as a post.
type queueItem struct {
	Name          string  `json:"name"`
	Author        string  `json:"author"`
	Score         int     `json:"score"`
	CreatedUTC    float64 `json:"created_utc"`
	Permalink     string  `json:"permalink"`
	Title         string  `json:"title"`
	Selftext      *string `json:"selftext"`
	Body          string  `json:"body"`
	LinkTitle     string  `json:"link_title"`
	UserReports   [][]any `json:"user_reports"`
	ModReports    [][]any `json:"mod_reports"`
	Removed       bool    `json:"removed"`
	RemovalReason string  `json:"removal_reason"`
}

// FetchPending lists the channel's mod queue and normalizes every entry
// into an Item. Ordinals follow provider return order, starting at 1.
func (c *RedditClient) FetchPending(ctx context.Context, channel string, limit int) ([]*Item, error) {
	apiURL := fmt.Sprintf("%s/r/%s/about/modqueue?limit=%d", c.baseURL, url.PathEscape(channel), limit)

	body, status, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching mod queue: %v", ErrProviderUnavailable, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: mod queue returned %d: %s", ErrAuthFailure, status, string(body))
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: mod queue returned %d: %s", ErrProviderUnavailable, status, string(body))
	}

	var list listing
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: parsing mod queue response: %v", ErrProviderUnavailable, err)
	}

	items := make([]*Item, 0, len(list.Data.Children))
	for i, child := range list.Data.Children {
		var raw queueItem
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			log.Printf("reddit fetch skipping malformed entry %d: %v", i+1, err)
			continue
		}
		items = append(items, normalizeItem(len(items)+1, raw))
	}
	log.Printf("reddit fetch channel=%s limit=%d items=%d", channel, limit, len(items))
	return items, nil
}

// normalizeItem projects a raw provider entry into the pipeline's Item.
// The post/comment split is decided exactly once, here: an entry with a
// selftext field is a post, anything else is a comment.
func normalizeItem(ordinal int, raw queueItem) *Item {
	item := &Item{
		Ordinal:   ordinal,
		FullName:  raw.Name,
		Author:    authorOrDeleted(raw.Author),
		Score:     raw.Score,
		CreatedAt: time.Unix(int64(raw.CreatedUTC), 0).UTC(),
		Permalink: raw.Permalink,
		State:     StateFetched,
	}

	if raw.Selftext != nil {
		item.Kind = KindPost
		item.Title = raw.Title
		item.Body = *raw.Selftext
	} else {
		item.Kind = KindComment
		item.Title = commentTitle(raw.LinkTitle)
		item.Body = raw.Body
	}

	for _, pair := range raw.UserReports {
		r := Report{Source: ReportFromUser, Reason: "No reason given", Count: 1}
		if len(pair) > 0 {
			if s, ok := pair[0].(string); ok {
				r.Reason = s
			}
		}
		if len(pair) > 1 {
			if n, ok := pair[1].(float64); ok {
				r.Count = int(n)
			}
		}
		item.Reports = append(item.Reports, r)
	}
	for _, pair := range raw.ModReports {
		r := Report{Source: ReportFromModerator, Reason: "No reason given", Moderator: "Unknown"}
		if len(pair) > 0 {
			if s, ok := pair[0].(string); ok {
				r.Reason = s
			}
		}
		if len(pair) > 1 {
			if s, ok := pair[1].(string); ok {
				r.Moderator = s
			}
		}
		item.Reports = append(item.Reports, r)
	}

	if raw.Removed {
		item.PriorRemoval = raw.RemovalReason
		if item.PriorRemoval == "" {
			item.PriorRemoval = "Previously removed (no reason given)"
		}
	}

	return item
}

func authorOrDeleted(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}

// Apply approves or removes one item. A failure here fails only the item,
// so the error carries enough detail for the per-item event.
func (c *RedditClient) Apply(ctx context.Context, item *Item, action Action) error {
	var endpoint string
	switch action {
	case ActionApprove:
		endpoint = "/api/approve"
	case ActionRemove:
		endpoint = "/api/remove"
	default:
		return fmt.Errorf("%w: unknown action %q", ErrApplyFailed, action)
	}

	form := url.Values{"id": {item.FullName}}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrApplyFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", ErrApplyFailed, endpoint, resp.StatusCode, string(body))
	}
	log.Printf("reddit apply action=%s item=%s ordinal=%d", action, item.FullName, item.Ordinal)
	return nil
}

// channelData is the raw provider shape of one moderated community.
type channelData struct {
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
}

// ModeratedChannels lists the communities the current identity moderates,
// sorted by subscriber count descending. Results are cached for five
// minutes per identity.
func (c *RedditClient) ModeratedChannels(ctx context.Context) ([]Channel, error) {
	if cached, ok := c.channels.Get(c.identity); ok {
		return cached.([]Channel), nil
	}

	body, status, err := c.get(ctx, c.baseURL+"/subreddits/mine/moderator")
	if err != nil {
		return nil, fmt.Errorf("%w: fetching moderated channels: %v", ErrProviderUnavailable, err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: moderated channels returned %d", ErrAuthFailure, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: moderated channels returned %d: %s", ErrProviderUnavailable, status, string(body))
	}

	var list listing
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: parsing channel response: %v", ErrProviderUnavailable, err)
	}

	channels := make([]Channel, 0, len(list.Data.Children))
	for _, child := range list.Data.Children {
		var raw channelData
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			continue
		}
		channels = append(channels, Channel{
			Name:        raw.DisplayName,
			Title:       raw.Title,
			Subscribers: raw.Subscribers,
		})
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Subscribers > channels[j].Subscribers
	})

	c.channels.Set(c.identity, channels, channelCacheTTL)
	log.Printf("reddit channels identity=%s count=%d", c.identity, len(channels))
	return channels, nil
}

func (c *RedditClient) get(ctx context.Context, apiURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, 0, err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *RedditClient) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
}
