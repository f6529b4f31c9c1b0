package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	apiDefaultBaseURL = "https://api.twitter.com"
	apiWebBaseURL     = "https://twitter.com"
	apiTimeout        = 30 * time.Second
	apiUserAgent      = "pollmark/1.0"
	apiPageSize       = 200
	apiTimeLayout     = "Mon Jan 02 15:04:05 -0700 2006"

	pathVerifyCredentials = "/1.1/account/verify_credentials.json"
	pathHomeTimeline      = "/1.1/statuses/home_timeline.json"
	pathMentions          = "/1.1/statuses/mentions_timeline.json"
	pathDirectMessages    = "/1.1/direct_messages.json"
)

var apiPaths = map[Endpoint]string{
	EndpointProfile:        pathVerifyCredentials,
	EndpointHomeTimeline:   pathHomeTimeline,
	EndpointMentions:       pathMentions,
	EndpointDirectMessages: pathDirectMessages,
}

// APIClient talks to a v1.1-style microblogging REST API with a bearer token.
// It records the rate-limit headers of every response per endpoint, since the
// remote budgets each endpoint separately.
type APIClient struct {
	client  *http.Client
	baseURL string
	token   string

	mu        sync.Mutex
	profileID string
	rates     map[Endpoint]RateLimitStatus
}

// NewAPI creates a REST client. An empty baseURL selects the public API.
func NewAPI(baseURL, token string, timeout time.Duration) (*APIClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("api: token is required")
	}
	if baseURL == "" {
		baseURL = apiDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = apiTimeout
	}
	return &APIClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		rates:   make(map[Endpoint]RateLimitStatus),
	}, nil
}

func (c *APIClient) ProfileID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.profileID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var user apiUser
	if err := c.get(ctx, EndpointProfile, nil, &user); err != nil {
		return "", fmt.Errorf("api: verify credentials: %w", err)
	}
	id := user.IDStr
	if id == "" && user.ID != 0 {
		id = strconv.FormatInt(user.ID, 10)
	}
	if id == "" {
		return "", errors.New("api: verify credentials: empty profile id")
	}

	c.mu.Lock()
	c.profileID = id
	c.mu.Unlock()
	return id, nil
}

func (c *APIClient) HomeTimeline(ctx context.Context, sinceID int64) ([]Status, error) {
	return c.statuses(ctx, EndpointHomeTimeline, sinceID)
}

func (c *APIClient) Mentions(ctx context.Context, sinceID int64) ([]Status, error) {
	return c.statuses(ctx, EndpointMentions, sinceID)
}

func (c *APIClient) DirectMessages(ctx context.Context, sinceID int64) ([]DirectMessage, error) {
	var raw []apiDirectMessage
	if err := c.get(ctx, EndpointDirectMessages, pageQuery(sinceID), &raw); err != nil {
		return nil, fmt.Errorf("api: direct messages: %w", err)
	}

	msgs := make([]DirectMessage, 0, len(raw))
	for _, m := range raw {
		id, err := m.id()
		if err != nil {
			return nil, fmt.Errorf("api: direct messages: %w", err)
		}
		createdAt, err := time.Parse(apiTimeLayout, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("api: direct message %d: invalid created_at %q: %w", id, m.CreatedAt, err)
		}
		msgs = append(msgs, DirectMessage{
			ID:        id,
			Text:      m.Text,
			Sender:    m.SenderScreenName,
			Recipient: m.RecipientScreenName,
			CreatedAt: createdAt,
		})
	}
	return msgs, nil
}

// RateLimitStatus returns the budget reported by the most recent response of
// endpoint. It is unknown until that endpoint has answered.
func (c *APIClient) RateLimitStatus(_ context.Context, endpoint Endpoint) (RateLimitStatus, error) {
	if _, ok := apiPaths[endpoint]; !ok {
		return RateLimitStatus{}, fmt.Errorf("api: unknown endpoint %q", endpoint)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates[endpoint], nil
}

func (c *APIClient) statuses(ctx context.Context, endpoint Endpoint, sinceID int64) ([]Status, error) {
	path := apiPaths[endpoint]
	var raw []apiStatus
	if err := c.get(ctx, endpoint, pageQuery(sinceID), &raw); err != nil {
		return nil, fmt.Errorf("api: %s: %w", path, err)
	}

	statuses := make([]Status, 0, len(raw))
	for _, s := range raw {
		id, err := s.id()
		if err != nil {
			return nil, fmt.Errorf("api: %s: %w", path, err)
		}
		createdAt, err := time.Parse(apiTimeLayout, s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("api: status %d: invalid created_at %q: %w", id, s.CreatedAt, err)
		}
		text := s.FullText
		if text == "" {
			text = s.Text
		}
		statuses = append(statuses, Status{
			ID:        id,
			Text:      text,
			Author:    s.User.ScreenName,
			URL:       fmt.Sprintf("%s/%s/status/%d", apiWebBaseURL, s.User.ScreenName, id),
			CreatedAt: createdAt,
		})
	}
	return statuses, nil
}

func pageQuery(sinceID int64) url.Values {
	q := url.Values{}
	q.Set("count", strconv.Itoa(apiPageSize))
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	return q
}

func (c *APIClient) get(ctx context.Context, endpoint Endpoint, query url.Values, out any) error {
	path := apiPaths[endpoint]
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", apiUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.recordRateLimit(endpoint, resp.Header)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *APIClient) recordRateLimit(endpoint Endpoint, h http.Header) {
	remaining, err := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(h.Get("x-rate-limit-limit"))

	c.mu.Lock()
	c.rates[endpoint] = RateLimitStatus{
		Known:     true,
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0),
	}
	c.mu.Unlock()
}

type apiUser struct {
	ID         int64  `json:"id"`
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type apiStatus struct {
	ID        int64   `json:"id"`
	IDStr     string  `json:"id_str"`
	Text      string  `json:"text"`
	FullText  string  `json:"full_text"`
	CreatedAt string  `json:"created_at"`
	User      apiUser `json:"user"`
}

func (s apiStatus) id() (int64, error) {
	return parseRemoteID(s.ID, s.IDStr)
}

type apiDirectMessage struct {
	ID                  int64  `json:"id"`
	IDStr               string `json:"id_str"`
	Text                string `json:"text"`
	CreatedAt           string `json:"created_at"`
	SenderScreenName    string `json:"sender_screen_name"`
	RecipientScreenName string `json:"recipient_screen_name"`
}

func (m apiDirectMessage) id() (int64, error) {
	return parseRemoteID(m.ID, m.IDStr)
}

// parseRemoteID prefers the string form, which survives JSON number precision loss.
func parseRemoteID(id int64, idStr string) (int64, error) {
	if idStr != "" {
		parsed, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id_str %q: %w", idStr, err)
		}
		return parsed, nil
	}
	if id <= 0 {
		return 0, errors.New("missing id")
	}
	return id, nil
}
