package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"statusboard/internal/engine"
	"statusboard/internal/store"
)

const seedDocument = `{
  "roles": [
    {"id": "r1", "name": "Alice", "status": "idle"},
    {"id": "r2", "name": "Bob", "status": "idle", "avatar": "bob.png"}
  ],
  "events": [],
  "metadata": {"lastUpdate": "2024-01-01T00:00:00.000Z"}
}`

type testServer struct {
	URL    string
	Path   string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(seedDocument), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	e := engine.New(store.NewFile(path), nil)
	handler, err := New(Config{Engine: e, Interval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Handler: handler, BaseContext: func(net.Listener) context.Context { return ctx }}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Path:   path,
		client: &http.Client{},
		close: func() {
			cancel()
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error body %s: %v", data, err)
	}
	return env
}

func readState(t *testing.T, srv *testServer) map[string]any {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/state", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get state status %d: %s", res.StatusCode, data)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return doc
}

func TestGetStateReturnsStoredDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	doc := readState(t, srv)
	if _, ok := doc["$schema"]; ok {
		t.Fatalf("state carries a $schema link: %v", doc)
	}
	roles := doc["roles"].([]any)
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	bob := roles[1].(map[string]any)
	if bob["avatar"] != "bob.png" {
		t.Fatalf("unknown role field dropped: %v", bob)
	}
	if events := doc["events"].([]any); len(events) != 0 {
		t.Fatalf("expected empty event log, got %v", events)
	}
}

func TestUpdateWorkingThenIdle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/update", map[string]any{
		"roleId":        "r1",
		"status":        "working",
		"taskName":      "Draft spec",
		"progress":      10,
		"spentTime":     5,
		"estimatedTime": 60,
		"eventMessage":  "Started drafting",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}
	if strings.TrimSpace(string(data)) != `{"success":true}` {
		t.Fatalf("unexpected update body %s", data)
	}

	doc := readState(t, srv)
	alice := doc["roles"].([]any)[0].(map[string]any)
	if alice["status"] != "working" {
		t.Fatalf("expected working, got %v", alice["status"])
	}
	task := alice["currentTask"].(map[string]any)
	if task["name"] != "Draft spec" || task["progress"] != float64(10) || task["spentMinutes"] != float64(5) || task["estimatedMinutes"] != float64(60) {
		t.Fatalf("unexpected task %v", task)
	}
	events := doc["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %v", events)
	}
	evt := events[0].(map[string]any)
	if evt["type"] != "🟡" || evt["from"] != "Alice" || evt["message"] != "Started drafting" {
		t.Fatalf("unexpected event %v", evt)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/update", map[string]any{
		"roleId":       "r1",
		"status":       "idle",
		"eventMessage": "Done",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("idle update status %d: %s", res.StatusCode, data)
	}
	doc = readState(t, srv)
	alice = doc["roles"].([]any)[0].(map[string]any)
	if _, ok := alice["currentTask"]; ok || alice["status"] != "idle" {
		t.Fatalf("idle role kept its task: %v", alice)
	}
	events = doc["events"].([]any)
	if len(events) != 2 || events[0].(map[string]any)["type"] != "✅" {
		t.Fatalf("expected completion event first, got %v", events)
	}
}

func TestUpdateUnknownRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	before, err := os.ReadFile(srv.Path)
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{
		"roleId": "ghost",
		"status": "working",
	}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}
	after, err := os.ReadFile(srv.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("state changed on rejected update")
	}
}

func TestUpdateRejectsBadRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	cases := map[string]any{
		"unknown status":   map[string]any{"roleId": "r1", "status": "busy"},
		"missing role id":  map[string]any{"status": "idle"},
		"missing status":   map[string]any{"roleId": "r1"},
		"progress too big": map[string]any{"roleId": "r1", "status": "working", "progress": 150},
		"malformed json":   `{"roleId": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", body, nil)
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.StatusCode, data)
			}
			if env := decodeError(t, data); env.Error.Code != "bad_request" {
				t.Fatalf("unexpected error code %q", env.Error.Code)
			}
		})
	}
}

func TestUpdateAcceptsUnknownFields(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{
		"roleId": "r2",
		"status": "idle",
		"mood":   "calm",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}
}

func TestCorruptStateIsServerError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	if err := os.WriteFile(srv.Path, []byte(`{"roles": [`), 0o644); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/state", nil, nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", res.StatusCode, data)
	}
	if env := decodeError(t, data); env.Error.Code != "corrupt_state" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{"roleId": "r1", "status": "idle"}, nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", res.StatusCode, data)
	}
	after, _ := os.ReadFile(srv.Path)
	if string(after) != `{"roles": [` {
		t.Fatalf("corrupt document was overwritten: %s", after)
	}
}

func TestStreamNotifiesOncePerChange(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	tokens := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				tokens <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(tokens)
	}()
	next := func(wait time.Duration) (string, bool) {
		select {
		case tok, ok := <-tokens:
			return tok, ok
		case <-time.After(wait):
			return "", false
		}
	}

	first, ok := next(2 * time.Second)
	if !ok || first == "" {
		t.Fatal("no initial token")
	}
	if tok, ok := next(150 * time.Millisecond); ok {
		t.Fatalf("token %s without a change", tok)
	}

	// Keep the new mtime clear of the seed's.
	time.Sleep(20 * time.Millisecond)
	upd, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{"roleId": "r1", "status": "working", "taskName": "x"}, nil)
	if upd.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", upd.StatusCode, data)
	}
	second, ok := next(2 * time.Second)
	if !ok || second == first {
		t.Fatalf("expected a fresh token after update, got %q (first %q)", second, first)
	}
	if tok, ok := next(150 * time.Millisecond); ok {
		t.Fatalf("duplicate token %s for one update", tok)
	}
}

func TestHealthMetricsAndCORS(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, map[string]string{"Origin": "http://board.local"})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("health %d: %s", res.StatusCode, data)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected permissive CORS, got %q", got)
	}

	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{"roleId": "r1", "status": "idle"}, nil)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "statusboard_engine_updates_total") {
		t.Fatalf("metrics %d missing update counter", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/api/update") {
		t.Fatalf("openapi %d: %s", res.StatusCode, data)
	}
}

func TestStateKeepsMarkupCharacters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	msg := `R&D <review> "done"`
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/update", map[string]any{
		"roleId":       "r1",
		"status":       "working",
		"taskName":     "Q&A",
		"eventMessage": msg,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/state", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get state status %d: %s", res.StatusCode, data)
	}
	body := string(data)
	for _, want := range []string{`"name":"Q&A"`, `"message":"R&D <review> \"done\""`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
	if strings.Contains(body, `\u0026`) || strings.Contains(body, `\u003c`) {
		t.Fatalf("state body is HTML-escaped: %s", body)
	}

	stored, err := os.ReadFile(srv.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stored), `"message": "R&D <review> \"done\""`) {
		t.Fatalf("stored document is HTML-escaped: %s", stored)
	}
}
