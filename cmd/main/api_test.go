package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/charkov/pkg/corpus"
	"github.com/CTAG07/charkov/pkg/markov"
)

// setupTestServer creates a server on a fresh database with one model,
// "aaaa", trained from a corpus file.
func setupTestServer(t *testing.T) *Server {
	dir := t.TempDir()
	corpusFile := filepath.Join(dir, "aaaa.txt")
	if err := os.WriteFile(corpusFile, []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := initDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = corpus.SetupSchema(db); err != nil {
		t.Fatal(err)
	}
	if err = setupAuthSchema(db); err != nil {
		t.Fatal(err)
	}
	if err = setupStatsSchema(db); err != nil {
		t.Fatal(err)
	}

	seed := uint64(42)
	config := DefaultConfig()
	config.Generation.MaxTrainBytes = 1024
	config.Models = []ModelConfig{{Name: "aaaa", WindowLength: 1, Seed: &seed, CorpusFile: corpusFile}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(config, logger, db, make(chan string, 1))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, s *Server, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.apiMux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestGenerateConfiguredModel(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/models/aaaa/generate", `{"seed": "a", "length": 5}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[GenerateResponse](t, rec)
	if resp.Text != "aaaaaa" || resp.Generated != 5 || resp.DeadEnd {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/aaaa/generate?stream=true", `{"seed": "a", "length": 3}`, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "aaaa" {
		t.Errorf("expected streamed %q, got %d %q", "aaaa", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/stats", "", nil)
	summary := decodeJSON[GlobalStatsSummary](t, rec)
	if summary.TotalGenerations != 2 || summary.TotalRunes != 8 {
		t.Errorf("expected 2 generations of 8 runes, got %+v", summary)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/stats/recent?limit=1", "", nil)
	recent := decodeJSON[[]GenerationRecord](t, rec)
	if len(recent) != 1 || recent[0].OutputRunes != 3 {
		t.Errorf("expected the streamed generation first, got %+v", recent)
	}
}

func TestGenerateValidation(t *testing.T) {
	s := setupTestServer(t)

	testCases := []struct {
		name   string
		target string
		body   string
		code   int
	}{
		{"Unknown model", "/api/models/missing/generate", `{"seed": "a"}`, http.StatusNotFound},
		{"Bad JSON", "/api/models/aaaa/generate", `{`, http.StatusBadRequest},
		{"Length above max", "/api/models/aaaa/generate", `{"seed": "a", "length": 100000}`, http.StatusBadRequest},
		{"Negative top k", "/api/models/aaaa/generate", `{"seed": "a", "top_k": -1}`, http.StatusBadRequest},
		{"Short seed", "/api/models/aaaa/generate", `{"seed": ""}`, http.StatusBadRequest},
		{"Stream with short seed", "/api/models/aaaa/generate?stream=true", `{"seed": ""}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, tc.target, tc.body, nil)
			if rec.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestModelLifecycle(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/models", `{"name": "abc", "window_length": 3, "seed": 1}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, s, http.MethodPost, "/api/models", `{"name": "abc", "window_length": 3}`, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a duplicate, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/models", `{"name": "zero", "window_length": 0}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for window 0, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/abc/train", "abcabd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from train, got %d: %s", rec.Code, rec.Body.String())
	}
	stats := decodeJSON[markov.ModelStats](t, rec)
	if stats.Windows != 3 || stats.TotalFrequency != 3 {
		t.Errorf("unexpected stats after training: %+v", stats)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/abc/generate", `{"seed": "abd", "length": 10}`, nil)
	resp := decodeJSON[GenerateResponse](t, rec)
	if resp.Text != "abd" || !resp.DeadEnd {
		t.Errorf("expected an immediate dead end, got %+v", resp)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/models/abc/dump", "", nil)
	want := "abc : [a(1,1,1)]\nbca : [b(1,1,1)]\ncab : [d(1,1,1)]\n"
	if rec.Body.String() != want {
		t.Errorf("dump = %q, want %q", rec.Body.String(), want)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/abc/train", strings.Repeat("x", 2048), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for an oversized corpus, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/abc/prune", `{"min_freq": 1}`, nil)
	removed := decodeJSON[map[string]int](t, rec)
	if removed["removed"] != 3 {
		t.Errorf("expected 3 transitions pruned, got %v", removed)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/models", "", nil)
	infos := decodeJSON[[]ModelInfo](t, rec)
	if len(infos) != 2 || infos[0].Name != "aaaa" || infos[1].Name != "abc" {
		t.Errorf("unexpected model list %+v", infos)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/models/abc", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/models/abc/stats", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestOversizedTrainLeavesModelUnchanged(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/models", `{"name": "empty", "window_length": 2}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/empty/train", strings.Repeat("x", 2048), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for an oversized corpus, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/models/empty/stats", "", nil)
	stats := decodeJSON[markov.ModelStats](t, rec)
	if stats.Windows != 0 || stats.TotalFrequency != 0 {
		t.Errorf("expected the rejected corpus to leave the model empty, got %+v", stats)
	}
}

func TestTrainFromStoredCorpus(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/corpora?name=abab", "abababab", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	info := decodeJSON[corpus.Info](t, rec)
	if info.Runes != 8 {
		t.Errorf("expected 8 runes, got %d", info.Runes)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/corpora/abab?content=true", "", nil)
	if rec.Body.String() != "abababab" {
		t.Errorf("expected corpus text back, got %q", rec.Body.String())
	}

	_ = doRequest(t, s, http.MethodPost, "/api/models", `{"name": "ab", "window_length": 2}`, nil)
	rec = doRequest(t, s, http.MethodPost, "/api/models/ab/train?corpus=abab", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/ab/generate", `{"seed": "ab", "length": 4, "temperature": 0}`, nil)
	resp := decodeJSON[GenerateResponse](t, rec)
	if resp.Text != "ababab" {
		t.Errorf("expected %q, got %q", "ababab", resp.Text)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/models/ab/train?corpus=missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing corpus, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/corpora/abab", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/corpora/abab", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAuthScopes(t *testing.T) {
	s := setupTestServer(t)

	// The first key is always a master key.
	rec := doRequest(t, s, http.MethodPost, "/api/auth/keys", `{"description": "admin", "scopes": ["models:read"]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	master := decodeJSON[CreateKeyResponse](t, rec)
	if !strings.HasPrefix(master.RawKey, apiKeyPrefix) || len(master.Scopes) != 1 || master.Scopes[0] != masterScope {
		t.Errorf("unexpected master key %+v", master)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/models", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", rec.Code)
	}

	masterHeader := http.Header{http.CanonicalHeaderKey(authHeader): {master.RawKey}}
	rec = doRequest(t, s, http.MethodPost, "/api/auth/keys", `{"description": "reader", "scopes": ["models:read"]}`, masterHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	reader := decodeJSON[CreateKeyResponse](t, rec)
	readerHeader := http.Header{http.CanonicalHeaderKey(authHeader): {reader.RawKey}}

	rec = doRequest(t, s, http.MethodGet, "/api/models", "", readerHeader)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for models:read, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/models", `{"name": "x", "window_length": 1}`, readerHeader)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without models:write, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/server/shutdown", "", readerHeader)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without server:control, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected the health check to stay open, got %d", rec.Code)
	}
}

func TestServerActions(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/server/version", "", nil)
	version := decodeJSON[VersionInfo](t, rec)
	if version.Version != Version {
		t.Errorf("expected version %q, got %q", Version, version.Version)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/server/restart", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/server/restart", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if action := <-s.serverAPI.actionChan; action != actionRestart {
		t.Errorf("expected %q on the action channel, got %q", actionRestart, action)
	}
}

func TestWriteStatsTable(t *testing.T) {
	m, err := markov.New(2, markov.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	m.TrainString("abab c")

	var buf bytes.Buffer
	if err = writeStatsTable(&buf, m, 2); err != nil {
		t.Fatalf("writeStatsTable() failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// Five summary lines, a blank line, the header and two rows.
	if len(lines) != 9 {
		t.Fatalf("expected 9 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[7], "ab      2      2     ") {
		t.Errorf("expected the busiest window first, got %q", lines[7])
	}
}

func TestFirstWindow(t *testing.T) {
	testCases := []struct {
		text string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"ab", 3, "ab"},
		{"héllo", 2, "hé"},
		{"", 1, ""},
	}
	for _, tc := range testCases {
		if got := firstWindow(tc.text, tc.n); got != tc.want {
			t.Errorf("firstWindow(%q, %d) = %q, want %q", tc.text, tc.n, got, tc.want)
		}
	}
}
