package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"sigmalens/config"
	"sigmalens/convert"
	"sigmalens/querytree"
	"sigmalens/search"
	"sigmalens/sigma"
)

const psexecPath = "windows/proc_creation_win_psexec.yml"

const psexecRule = `title: PsExec Service Start
description: Detects a PsExec service start
tags:
  - attack.execution
detection:
  selection:
    Image|endswith: '\psexec.exe'
  condition: selection
`

const mimikatzRule = `title: Mimikatz Detection
description: Detects mimikatz command line arguments
tags:
  - attack.credential_access
detection:
  selection:
    CommandLine|contains: 'sekurlsa::'
  condition: selection
`

const wideTree = `{"type":"group","operator":"AND","children":[
  {"type":"group","operator":"OR","children":[
    {"type":"condition","field":"Image","operator":"endswith","value":"\\psexec.exe"},
    {"type":"condition","field":"Image","operator":"endswith","value":"\\psexec64.exe"},
    {"type":"condition","field":"OriginalFileName","operator":"equals","value":"psexec.c"},
    {"type":"condition","field":"CommandLine","operator":"contains","value":"-accepteula"}
  ]},
  {"type":"condition","field":"User","operator":"contains","value":"SYSTEM"}
],"original_query":"Image:*\\\\psexec.exe AND User:*SYSTEM*"}`

type fakeConverter struct {
	mu          sync.Mutex
	payloads    map[string]querytree.Payload
	raw         map[string]string
	fail        map[string]error
	invalidated []string
	purged      int
	state       convert.BreakerState
}

func newFakeConverter(t *testing.T) *fakeConverter {
	t.Helper()
	return &fakeConverter{
		payloads: map[string]querytree.Payload{
			psexecPath:            querytree.ParsePayload([]byte(wideTree)),
			"custom/rejected.yml": querytree.ErrorPayload("Unsupported modifier 'base64offset'"),
			"custom/empty.yml":    querytree.EmptyPayload(""),
		},
		raw:   map[string]string{},
		fail:  map[string]error{},
		state: convert.BreakerClosed,
	}
}

func (f *fakeConverter) Structured(_ context.Context, rulePath string) (querytree.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[rulePath]; err != nil {
		return querytree.Payload{}, err
	}
	p, ok := f.payloads[rulePath]
	if !ok {
		return querytree.Payload{}, &convert.TransportError{Op: convert.EndpointStructured, Path: rulePath, StatusCode: http.StatusNotFound}
	}
	return p, nil
}

func (f *fakeConverter) Raw(_ context.Context, rulePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text, ok := f.raw[rulePath]; ok {
		return text, nil
	}
	return "", errors.New("no raw query")
}

func (f *fakeConverter) Invalidate(_ context.Context, rulePaths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, rulePaths...)
	return nil
}

func (f *fakeConverter) InvalidateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	return nil
}

func (f *fakeConverter) BreakerState() convert.BreakerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.MaxSessions = 4
	cfg.API.ReadTimeout = time.Second
	cfg.API.WriteTimeout = time.Second
	cfg.API.AllowedOrigins = []string{"http://localhost:8081"}
	cfg.Search.DebounceWindow = 30 * time.Millisecond
	return cfg
}

type testEnv struct {
	api  *API
	conv *fakeConverter
	srv  *httptest.Server
}

func writeRule(t *testing.T, dir, rel, body string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func setupTestAPI(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	dir := t.TempDir()
	writeRule(t, dir, psexecPath, psexecRule)
	writeRule(t, dir, "windows/proc_creation_win_mimikatz.yml", mimikatzRule)
	catalog := sigma.NewCatalog(dir, logger)
	_, err := catalog.Load()
	require.NoError(t, err)

	conv := newFakeConverter(t)
	a, err := NewAPI(catalog, conv, search.NewSearcher(nil, logger), cfg, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Stop(context.Background())
	})
	return &testEnv{api: a, conv: conv, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := decode(t, resp)["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestOpenRule_Tree(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	assert.Equal(t, "tree", body["status"])
	assert.Equal(t, "PsExec Service Start", body["title"], "title comes from the catalog")
	assert.Equal(t, psexecPath, body["rule_path"])
	assert.Equal(t, true, body["raw_available"])
	assert.Equal(t, map[string]interface{}{"groups": float64(2), "conditions": float64(5), "max_depth": float64(2)}, body["stats"])
	assert.Contains(t, body["markup"], "query-group")
	assert.NotEmpty(t, body["summary"])
}

func TestOpenRule_RejectedAndEmpty(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": "custom/rejected.yml", "title": "Encoded"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Unsupported modifier 'base64offset'", body["message"])
	assert.Equal(t, false, body["raw_available"])
	assert.Equal(t, "No raw query available", body["raw_disabled_reason"])
	assert.Nil(t, body["view"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/raw", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "No raw query available", decode(t, resp)["reason"])

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": "custom/empty.yml"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "empty", decode(t, resp)["status"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestOpenRule_TransportFailure(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	env.conv.fail[psexecPath] = convert.ErrBreakerOpen
	id := env.newSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, psexecPath, body["file_path"])
	assert.Equal(t, "PsExec Service Start", body["title"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "a failed open installs nothing")
}

func TestOpenRule_FailureReplacesPreviousRule(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	mimikatzPath := "windows/proc_creation_win_mimikatz.yml"
	env.conv.fail[mimikatzPath] = convert.ErrBreakerOpen
	id := env.newSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": mimikatzPath})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, mimikatzPath, decode(t, resp)["file_path"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/raw", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestOpenRule_Validation(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": "a.yml", "bogus": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToggleAndStructuredReset(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/groups/0.0/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"0.0"}, decode(t, resp)["collapsed"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
	body := decode(t, resp)
	assert.Equal(t, []interface{}{"0.0"}, body["collapsed"])
	assert.Contains(t, body["markup"], "collapsed")

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/raw", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode(t, resp)
	assert.Equal(t, `Image:*\\psexec.exe AND User:*SYSTEM*`, raw["raw_text"])
	assert.Equal(t, "Image:*\\\\psexec.exe\nAND User:*SYSTEM*", raw["formatted"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)
	assert.Equal(t, "raw", decode(t, resp)["mode"])

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/structured", nil)
	body = decode(t, resp)
	assert.Equal(t, "structured", body["mode"])
	assert.Empty(t, body["collapsed"])
}

func TestGetNode(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})

	resp := env.do(t, http.MethodGet, "/api/sessions/"+id+"/nodes/0.0.3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node := decode(t, resp)
	assert.Equal(t, "CommandLine", node["field_path"])
	assert.Equal(t, "-accepteula", node["full_value"])

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/nodes/0.9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportView(t *testing.T) {
	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/open", map[string]string{"file_path": psexecPath})
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/groups/0.0/toggle", nil)

	resp := env.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	text := buf.String()
	assert.True(t, strings.HasPrefix(text, "AND: All conditions must be true\n"))
	assert.Contains(t, text, "-accepteula", "collapsed groups are exported in full")
}

func TestSessions_Lifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.API.MaxSessions = 1
	env := setupTestAPI(t, cfg)

	first := env.newSession(t)
	second := env.newSession(t)

	resp := env.do(t, http.MethodGet, "/api/sessions/"+first+"/view", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "oldest session is evicted")

	resp = env.do(t, http.MethodDelete, "/api/sessions/"+second, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/sessions/"+second, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRulesAndSearch(t *testing.T) {
	env := setupTestAPI(t, testConfig())

	resp := env.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, resp)["total"])

	resp = env.do(t, http.MethodPost, "/api/rules/search", map[string]string{"query": "credential_access"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, search.TypeFallback, body["search_type"])
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, search.ReasonDisabled, body["reason"])
	assert.Equal(t, float64(1), body["total_found"])
}

func TestRefreshCache(t *testing.T) {
	env := setupTestAPI(t, testConfig())

	resp := env.do(t, http.MethodPost, "/api/cache/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "all", decode(t, resp)["scope"])

	resp = env.do(t, http.MethodPost, "/api/cache/refresh", map[string][]string{"file_paths": {psexecPath}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rules", decode(t, resp)["scope"])

	assert.Equal(t, 1, env.conv.purged)
	assert.Equal(t, []string{psexecPath}, env.conv.invalidated)
}

func TestHealth(t *testing.T) {
	env := setupTestAPI(t, testConfig())

	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Equal(t, "ok", decode(t, resp)["status"])

	env.conv.mu.Lock()
	env.conv.state = convert.BreakerOpen
	env.conv.mu.Unlock()
	resp = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "degraded", decode(t, resp)["status"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit.RequestsPerSecond = 0.001
	cfg.API.RateLimit.Burst = 1
	env := setupTestAPI(t, cfg)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/health", nil).StatusCode)
}

func TestSanitizeRequestID(t *testing.T) {
	assert.Equal(t, "abc-123_x", sanitizeRequestID("abc-123_x"))
	assert.Equal(t, "abcinject", sanitizeRequestID("abc\ninject"))
	assert.Len(t, sanitizeRequestID(strings.Repeat("a", 100)), 64)
}

func TestSearchWebSocket_DeliversLatestOnly(t *testing.T) {
	env := setupTestAPI(t, testConfig())

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/rules/search/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, q := range []string{"m", "mi", "mimikatz"} {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "query", "query": q}))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "results", msg["type"])
	assert.Equal(t, "mimikatz", msg["query"])
	assert.Equal(t, float64(1), msg["total_found"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&msg), "superseded keystrokes produce no results")
}

func TestSearchWebSocket_RejectsBadMessage(t *testing.T) {
	env := setupTestAPI(t, testConfig())

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/rules/search/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])
}

func TestRequestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	env := setupTestAPI(t, testConfig())
	id := env.newSession(t)
	env.do(t, http.MethodGet, "/api/sessions/"+id+"/view", nil)

	spanNames := func() []string {
		var names []string
		for _, s := range exporter.GetSpans() {
			names = append(names, s.Name)
		}
		return names
	}
	require.Eventually(t, func() bool { return len(exporter.GetSpans()) >= 2 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, spanNames(), "POST /api/sessions")
	assert.Contains(t, spanNames(), "GET /api/sessions/{id}/view")
	for _, s := range exporter.GetSpans() {
		assert.Equal(t, trace.SpanKindServer, s.SpanKind)
	}
}
