package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func apiWithTransport(t *testing.T, rt roundTripFunc) *APIClient {
	t.Helper()
	c, err := NewAPI("https://api.test/", "secret-token", 0)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	c.client = &http.Client{Timeout: apiTimeout, Transport: rt}
	return c
}

func response(status int, body string, header http.Header) *http.Response {
	h := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range header {
		h[k] = v
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestNewAPI_RequiresToken(t *testing.T) {
	if _, err := NewAPI("", "  ", 0); err == nil {
		t.Fatal("expected error for empty token")
	}
	c, err := NewAPI("", "tok", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != apiDefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, apiDefaultBaseURL)
	}
}

func TestAPI_ProfileIDIsCached(t *testing.T) {
	calls := 0
	c := apiWithTransport(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if r.URL.Path != pathVerifyCredentials {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization = %q", got)
		}
		return response(http.StatusOK, `{"id": 42, "id_str": "42", "screen_name": "pollmark"}`, nil), nil
	})

	for range 2 {
		id, err := c.ProfileID(context.Background())
		if err != nil {
			t.Fatalf("profile id: %v", err)
		}
		if id != "42" {
			t.Errorf("profile id = %q, want 42", id)
		}
	}
	if calls != 1 {
		t.Errorf("verify_credentials called %d times, want 1", calls)
	}
}

func TestAPI_HomeTimeline(t *testing.T) {
	body := `[
		{"id": 1002, "id_str": "1002", "full_text": "second", "created_at": "Tue Mar 05 10:01:00 +0000 2024", "user": {"screen_name": "alice"}},
		{"id": 1001, "id_str": "1001", "text": "first", "created_at": "Tue Mar 05 10:00:00 +0000 2024", "user": {"screen_name": "bob"}}
	]`
	c := apiWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != pathHomeTimeline {
			t.Errorf("path = %q, want %q", r.URL.Path, pathHomeTimeline)
		}
		if got := r.URL.Query().Get("since_id"); got != "1000" {
			t.Errorf("since_id = %q, want 1000", got)
		}
		if got := r.URL.Query().Get("count"); got != "200" {
			t.Errorf("count = %q, want 200", got)
		}
		return response(http.StatusOK, body, http.Header{
			"X-Rate-Limit-Limit":     []string{"15"},
			"X-Rate-Limit-Remaining": []string{"14"},
			"X-Rate-Limit-Reset":     []string{"1709633700"},
		}), nil
	})

	statuses, err := c.HomeTimeline(context.Background(), 1000)
	if err != nil {
		t.Fatalf("home timeline: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}

	s := statuses[0]
	if s.ID != 1002 || s.Text != "second" || s.Author != "alice" {
		t.Errorf("unexpected status: %+v", s)
	}
	if s.URL != "https://twitter.com/alice/status/1002" {
		t.Errorf("url = %q", s.URL)
	}
	if want := time.Date(2024, 3, 5, 10, 1, 0, 0, time.UTC); !s.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", s.CreatedAt, want)
	}
	if statuses[1].Text != "first" {
		t.Errorf("text fallback = %q, want first", statuses[1].Text)
	}

	rate, err := c.RateLimitStatus(context.Background(), EndpointHomeTimeline)
	if err != nil {
		t.Fatalf("rate limit: %v", err)
	}
	if !rate.Known || rate.Limit != 15 || rate.Remaining != 14 || rate.Reset.Unix() != 1709633700 {
		t.Errorf("unexpected rate limit: %+v", rate)
	}
}

func TestAPI_NoSinceIDOnFirstPoll(t *testing.T) {
	c := apiWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Has("since_id") {
			t.Errorf("since_id should be omitted, got %q", r.URL.Query().Get("since_id"))
		}
		return response(http.StatusOK, `[]`, nil), nil
	})
	if _, err := c.Mentions(context.Background(), 0); err != nil {
		t.Fatalf("mentions: %v", err)
	}
}

func TestAPI_DirectMessages(t *testing.T) {
	c := apiWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != pathDirectMessages {
			t.Errorf("path = %q", r.URL.Path)
		}
		return response(http.StatusOK, `[
			{"id_str": "9007199254740993", "text": "hi", "created_at": "Tue Mar 05 10:00:00 +0000 2024",
			 "sender_screen_name": "carol", "recipient_screen_name": "pollmark"}
		]`, nil), nil
	})

	msgs, err := c.DirectMessages(context.Background(), 0)
	if err != nil {
		t.Fatalf("direct messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != 9007199254740993 {
		t.Errorf("id = %d, want 9007199254740993", m.ID)
	}
	if m.Sender != "carol" || m.Recipient != "pollmark" || m.Text != "hi" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestAPI_Errors(t *testing.T) {
	tests := []struct {
		name string
		rt   roundTripFunc
	}{
		{"status", func(*http.Request) (*http.Response, error) {
			return response(http.StatusUnauthorized, `{}`, nil), nil
		}},
		{"transport", func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}},
		{"bad json", func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, `{not json`, nil), nil
		}},
		{"bad time", func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, `[{"id": 1, "created_at": "yesterday"}]`, nil), nil
		}},
		{"missing id", func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, `[{"created_at": "Tue Mar 05 10:00:00 +0000 2024"}]`, nil), nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := apiWithTransport(t, tt.rt)
			if _, err := c.HomeTimeline(context.Background(), 0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAPI_RateLimitRecordedOnError(t *testing.T) {
	c := apiWithTransport(t, func(*http.Request) (*http.Response, error) {
		return response(http.StatusTooManyRequests, `{}`, http.Header{
			"X-Rate-Limit-Remaining": []string{"0"},
			"X-Rate-Limit-Reset":     []string{"1709633700"},
		}), nil
	})

	if _, err := c.HomeTimeline(context.Background(), 0); err == nil {
		t.Fatal("expected error for 429")
	}
	rate, _ := c.RateLimitStatus(context.Background(), EndpointHomeTimeline)
	if !rate.Known || rate.Remaining != 0 {
		t.Errorf("unexpected rate limit: %+v", rate)
	}
}

func TestAPI_RateLimitUnknownWithoutHeaders(t *testing.T) {
	c := apiWithTransport(t, func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, `[]`, nil), nil
	})
	if _, err := c.HomeTimeline(context.Background(), 0); err != nil {
		t.Fatalf("home timeline: %v", err)
	}
	rate, _ := c.RateLimitStatus(context.Background(), EndpointHomeTimeline)
	if rate.Known {
		t.Errorf("rate limit should be unknown: %+v", rate)
	}
}

func TestAPI_RateLimitPerEndpoint(t *testing.T) {
	c := apiWithTransport(t, func(r *http.Request) (*http.Response, error) {
		remaining := map[string]string{
			pathHomeTimeline: "14",
			pathMentions:     "70",
		}[r.URL.Path]
		return response(http.StatusOK, `[]`, http.Header{
			"X-Rate-Limit-Limit":     []string{"75"},
			"X-Rate-Limit-Remaining": []string{remaining},
			"X-Rate-Limit-Reset":     []string{"1709633700"},
		}), nil
	})
	ctx := context.Background()

	if _, err := c.HomeTimeline(ctx, 0); err != nil {
		t.Fatalf("home timeline: %v", err)
	}
	if _, err := c.Mentions(ctx, 0); err != nil {
		t.Fatalf("mentions: %v", err)
	}

	home, _ := c.RateLimitStatus(ctx, EndpointHomeTimeline)
	if !home.Known || home.Remaining != 14 {
		t.Errorf("home timeline budget = %+v, want 14 remaining", home)
	}
	mentions, _ := EndpointLimiter{Client: c, Endpoint: EndpointMentions}.RateLimitStatus(ctx)
	if !mentions.Known || mentions.Remaining != 70 {
		t.Errorf("mentions budget = %+v, want 70 remaining", mentions)
	}
	dms, _ := c.RateLimitStatus(ctx, EndpointDirectMessages)
	if dms.Known {
		t.Errorf("direct messages budget should be unknown: %+v", dms)
	}
	if _, err := c.RateLimitStatus(ctx, Endpoint("likes")); err == nil {
		t.Error("expected error for unknown endpoint")
	}
}

func TestItemVariants(t *testing.T) {
	now := time.Now()
	items := []Item{
		Status{ID: 1, CreatedAt: now},
		DirectMessage{ID: 2, CreatedAt: now.Add(time.Second)},
	}
	if items[0].ItemID() != 1 || !items[0].ItemTime().Equal(now) {
		t.Errorf("status item = %d %v", items[0].ItemID(), items[0].ItemTime())
	}
	if items[1].ItemID() != 2 || !items[1].ItemTime().Equal(now.Add(time.Second)) {
		t.Errorf("dm item = %d %v", items[1].ItemID(), items[1].ItemTime())
	}
}
