package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/pollmark/internal/store"
)

const testToken = "test-token"

// fakeRemote serves a small account over the v1.1 endpoints. It ignores
// since_id so deduplication has to come from the markers.
type fakeRemote struct {
	*httptest.Server

	mu       sync.Mutex
	sinceIDs map[string][]string
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()

	created := time.Now().UTC().Add(-time.Hour)
	stamp := func(offset time.Duration) string {
		return created.Add(offset).Format("Mon Jan 02 15:04:05 -0700 2006")
	}

	r := &fakeRemote{sinceIDs: make(map[string][]string)}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("x-rate-limit-limit", "180")
		w.Header().Set("x-rate-limit-remaining", "170")
		w.Header().Set("x-rate-limit-reset", "4102444800")

		r.mu.Lock()
		r.sinceIDs[req.URL.Path] = append(r.sinceIDs[req.URL.Path], req.URL.Query().Get("since_id"))
		r.mu.Unlock()

		var body any
		switch req.URL.Path {
		case "/1.1/account/verify_credentials.json":
			body = map[string]any{"id_str": "42", "screen_name": "owner"}
		case "/1.1/statuses/home_timeline.json":
			body = []map[string]any{
				{"id_str": "102", "full_text": "second post", "created_at": stamp(time.Minute), "user": map[string]any{"screen_name": "bob"}},
				{"id_str": "101", "full_text": "first post", "created_at": stamp(0), "user": map[string]any{"screen_name": "alice"}},
			}
		case "/1.1/statuses/mentions_timeline.json":
			body = []map[string]any{}
		case "/1.1/direct_messages.json":
			body = []map[string]any{
				{"id_str": "7", "text": "hello there", "created_at": stamp(2 * time.Minute), "sender_screen_name": "carol", "recipient_screen_name": "owner"},
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRemote) calls(path string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sinceIDs[path]...)
}

// setupTestConfig writes a config pointing at remote and switches the
// package-level flags to it. It returns the database path.
func setupTestConfig(t *testing.T, remoteURL string) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pollmark.db")
	t.Setenv("POLLMARK_TEST_TOKEN", testToken)

	content := "client:\n" +
		"  type: api\n" +
		"  base_url: \"" + remoteURL + "\"\n" +
		"  token_env: POLLMARK_TEST_TOKEN\n" +
		"  timeout: 5s\n" +
		"sources:\n" +
		"  - name: home\n" +
		"    kind: timeline\n" +
		"  - name: inbox\n" +
		"    kind: direct_messages\n" +
		"    track: true\n" +
		"schedule:\n" +
		"  mode: fixed\n" +
		"  interval: 1h\n" +
		"storage:\n" +
		"  path: \"" + dbPath + "\"\n" +
		"log:\n" +
		"  level: error\n"

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	oldConfigDir := configDir
	oldEnvFile := envFile
	t.Cleanup(func() {
		configDir = oldConfigDir
		envFile = oldEnvFile
	})
	configDir = dir
	envFile = ""

	return dbPath
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
