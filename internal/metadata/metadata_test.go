package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// plainStore hides MemoryStore's Advance so the Get/Put fallback path is used.
type plainStore struct {
	inner *MemoryStore
}

func (p plainStore) Get(ctx context.Context, key string) (string, bool, error) {
	return p.inner.Get(ctx, key)
}

func (p plainStore) Put(ctx context.Context, key, value string) error {
	return p.inner.Put(ctx, key, value)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name               string
		typ, comp, profile string
		want               string
	}{
		{"all segments", "twitter:inbound-channel-adapter", "home", "42", "twitter:inbound-channel-adapter.home.42"},
		{"no name", "twitter:inbound-channel-adapter", "", "42", "twitter:inbound-channel-adapter.42"},
		{"blank name", "twitter:dm-inbound-channel-adapter", "   ", "7", "twitter:dm-inbound-channel-adapter.7"},
		{"profile only", "", "", "7", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.typ, tt.comp, tt.profile); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMarker(t *testing.T) {
	id, err := ParseMarker(" 12345 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 12345 {
		t.Errorf("id = %d, want 12345", id)
	}

	for _, bad := range []string{"", "abc", "12x", "1.5"} {
		if _, err := ParseMarker(bad); !errors.Is(err, ErrMalformedMarker) {
			t.Errorf("ParseMarker(%q) err = %v, want ErrMalformedMarker", bad, err)
		}
	}
}

func TestLoad_AbsentIsZero(t *testing.T) {
	id, err := Load(context.Background(), NewMemory(), "missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
}

func testAdvance(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	steps := []struct {
		id      int64
		want    bool
		current int64
	}{
		{0, false, 0},
		{5, true, 5},
		{3, false, 5},
		{5, false, 5},
		{9, true, 9},
	}
	for _, st := range steps {
		got, err := Advance(ctx, s, "k", st.id)
		if err != nil {
			t.Fatalf("advance %d: %v", st.id, err)
		}
		if got != st.want {
			t.Errorf("advance %d = %v, want %v", st.id, got, st.want)
		}
		current, err := Load(ctx, s, "k")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if current != st.current {
			t.Errorf("after advance %d marker = %d, want %d", st.id, current, st.current)
		}
	}
}

func TestAdvance_MemoryStore(t *testing.T) {
	testAdvance(t, NewMemory())
}

func TestAdvance_GetPutFallback(t *testing.T) {
	testAdvance(t, plainStore{inner: NewMemory()})
}

func TestAdvance_MalformedMarker(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]Store{
		"memory":   NewMemory(),
		"fallback": plainStore{inner: NewMemory()},
	} {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "k", "not-a-number"); err != nil {
				t.Fatalf("put: %v", err)
			}
			_, err := Advance(ctx, s, "k", 10)
			if !errors.Is(err, ErrMalformedMarker) {
				t.Fatalf("err = %v, want ErrMalformedMarker", err)
			}
			v, _, _ := s.Get(ctx, "k")
			if v != "not-a-number" {
				t.Errorf("malformed value was overwritten: %q", v)
			}
		})
	}
}

func TestMemoryStore_ConcurrentAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := map[int64]int{}
	for i := 1; i <= 50; i++ {
		for range 4 {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				ok, err := m.Advance(ctx, "k", id)
				if err != nil {
					t.Errorf("advance: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins[id]++
					mu.Unlock()
				}
			}(int64(i))
		}
	}
	wg.Wait()

	for id, n := range wins {
		if n > 1 {
			t.Errorf("id %d advanced %d times", id, n)
		}
	}
	final, _ := Load(ctx, m, "k")
	if final != 50 {
		t.Errorf("final marker = %d, want 50", final)
	}
}

func testEntries(t *testing.T, s interface {
	Store
	Lister
}) {
	t.Helper()
	ctx := context.Background()

	for key, value := range map[string]string{"b.home.42": "7", "a.dm.42": "bad"} {
		if err := s.Put(ctx, key, value); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	want := []Entry{{Key: "a.dm.42", Value: "bad"}, {Key: "b.home.42", Value: "7"}}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestMemoryStore_Entries(t *testing.T) {
	testEntries(t, NewMemory())
}
