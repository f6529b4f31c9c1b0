package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Alice</title>
    <link>https://social.example/@alice</link>
    <item>
      <guid isPermaLink="true">https://social.example/@alice/111000000000000003</guid>
      <link>https://social.example/@alice/111000000000000003</link>
      <pubDate>Tue, 05 Mar 2024 10:02:00 +0000</pubDate>
      <description>&lt;p&gt;third &lt;b&gt;post&lt;/b&gt;&lt;/p&gt;</description>
    </item>
    <item>
      <guid isPermaLink="true">https://social.example/@alice/111000000000000002</guid>
      <link>https://social.example/@alice/111000000000000002</link>
      <pubDate>Tue, 05 Mar 2024 10:01:00 +0000</pubDate>
      <description>second</description>
    </item>
    <item>
      <guid isPermaLink="false">tag:social.example,2024:no-numeric-id</guid>
      <link>https://social.example/about</link>
      <pubDate>Tue, 05 Mar 2024 10:00:30 +0000</pubDate>
      <description>skipped</description>
    </item>
    <item>
      <guid isPermaLink="true">https://social.example/@alice/111000000000000001</guid>
      <pubDate>Tue, 05 Mar 2024 10:00:00 +0000</pubDate>
      <title>first title</title>
    </item>
  </channel>
</rss>`

func noSleep(t *testing.T) {
	t.Helper()
	old := feedSleepFunc
	feedSleepFunc = func(context.Context, time.Duration) {}
	t.Cleanup(func() { feedSleepFunc = old })
}

func TestNewFeed(t *testing.T) {
	if _, err := NewFeed("", "alice", 0); err == nil {
		t.Fatal("expected error for empty url")
	}

	f, err := NewFeed("https://social.example/@alice.rss", "", 0)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	id, _ := f.ProfileID(context.Background())
	if id != "https://social.example/@alice.rss" {
		t.Errorf("profile id = %q, want feed url", id)
	}

	f, _ = NewFeed("https://social.example/@alice.rss", "alice@social.example", 0)
	id, _ = f.ProfileID(context.Background())
	if id != "alice@social.example" {
		t.Errorf("profile id = %q, want account", id)
	}
}

func TestFeed_HomeTimeline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != feedUserAgent {
			t.Errorf("user-agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeedXML))
	}))
	defer ts.Close()

	f, err := NewFeed(ts.URL, "alice", 0)
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}

	statuses, err := f.HomeTimeline(context.Background(), 0)
	if err != nil {
		t.Fatalf("home timeline: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("statuses = %d, want 3: %+v", len(statuses), statuses)
	}
	if statuses[0].ID != 111000000000000003 || statuses[0].Text != "third  post" {
		t.Errorf("unexpected first status: %+v", statuses[0])
	}
	if statuses[0].Author != "alice" {
		t.Errorf("author = %q, want alice", statuses[0].Author)
	}
	if statuses[2].Text != "first title" {
		t.Errorf("title fallback = %q", statuses[2].Text)
	}

	statuses, err = f.HomeTimeline(context.Background(), 111000000000000002)
	if err != nil {
		t.Fatalf("home timeline since: %v", err)
	}
	if len(statuses) != 1 || statuses[0].ID != 111000000000000003 {
		t.Errorf("since filter returned %+v", statuses)
	}
}

func TestFeed_RetriesServerErrors(t *testing.T) {
	noSleep(t)

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(testFeedXML))
	}))
	defer ts.Close()

	f, _ := NewFeed(ts.URL, "alice", 0)
	statuses, err := f.HomeTimeline(context.Background(), 0)
	if err != nil {
		t.Fatalf("home timeline: %v", err)
	}
	if len(statuses) != 3 {
		t.Errorf("statuses = %d, want 3", len(statuses))
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFeed_NoRetryOnClientError(t *testing.T) {
	noSleep(t)

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f, _ := NewFeed(ts.URL, "alice", 0)
	if _, err := f.HomeTimeline(context.Background(), 0); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFeed_UnsupportedTimelines(t *testing.T) {
	f, _ := NewFeed("https://social.example/@alice.rss", "alice", 0)
	if _, err := f.Mentions(context.Background(), 0); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("mentions err = %v, want ErrUnsupportedOperation", err)
	}
	if _, err := f.DirectMessages(context.Background(), 0); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("direct messages err = %v, want ErrUnsupportedOperation", err)
	}
	rate, err := f.RateLimitStatus(context.Background(), EndpointHomeTimeline)
	if err != nil || rate.Known {
		t.Errorf("rate = %+v, err = %v", rate, err)
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML("<p>Hello &amp; <a href=\"x\">world</a></p>")
	if got != "Hello &  world" {
		t.Errorf("stripHTML = %q", got)
	}
}
