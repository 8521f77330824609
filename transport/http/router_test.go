package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scriptpad-dev/scriptpad-go/config"
	"github.com/scriptpad-dev/scriptpad-go/logger"
	"github.com/scriptpad-dev/scriptpad-go/session"
	"github.com/scriptpad-dev/scriptpad-go/surface"
)

var initHTTPTestLogger sync.Once

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	initHTTPTestLogger.Do(func() {
		if err := logger.Init(logger.GetLevelFromString("error"), logger.FormatJSON); err != nil {
			t.Fatalf("init logger: %v", err)
		}
	})

	cfg := config.NewConfig()
	cfg.Session.DebounceMillis = 10
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func doRequest(t *testing.T, server *Server, method, target string, params map[string]string, body any, handler func(echo.Context) error) (map[string]any, int) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for name, value := range params {
		names = append(names, name)
		values = append(values, value)
	}
	ctx.SetParamNames(names...)
	ctx.SetParamValues(values...)

	if err := handler(ctx); err != nil {
		t.Fatalf("handler: %v", err)
	}

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return parsed, rec.Code
}

func testScripts() []session.Script {
	return []session.Script{
		{ID: "s1", Filename: "main.ts", Code: "export default () => 1;\n", IsRunnable: true},
		{ID: "s2", Filename: "util.ts", Code: "export const n = 2;\n"},
	}
}

func TestOpenAppAndState(t *testing.T) {
	server := newTestServer(t, nil)

	body, status := doRequest(t, server, http.MethodPost, "/api/app/app_1/open",
		map[string]string{"id": "app_1"}, openAppRequest{Scripts: testScripts()}, server.handleOpenApp)
	if status != http.StatusOK {
		t.Fatalf("open: expected status %d, got %d: %v", http.StatusOK, status, body)
	}

	state, status := doRequest(t, server, http.MethodGet, "/api/app/app_1/state",
		map[string]string{"id": "app_1"}, nil, server.handleAppState)
	if status != http.StatusOK {
		t.Fatalf("state: expected status %d, got %d", http.StatusOK, status)
	}
	if state["id"] != "app_1" {
		t.Fatalf("state id = %v, want app_1", state["id"])
	}
	if state["active_id"] != "s1" {
		t.Fatalf("active_id = %v, want s1", state["active_id"])
	}
	if state["is_dirty"] != false {
		t.Fatalf("freshly opened session should not be dirty: %v", state["is_dirty"])
	}
}

func TestStateForUnknownSession(t *testing.T) {
	server := newTestServer(t, nil)

	_, status := doRequest(t, server, http.MethodGet, "/api/app/nope/state",
		map[string]string{"id": "nope"}, nil, server.handleAppState)
	if status != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, status)
	}
}

func TestSaveHostedSessionReturnsStableVersion(t *testing.T) {
	server := newTestServer(t, nil)

	_, status := doRequest(t, server, http.MethodPost, "/api/app/app_1/open",
		map[string]string{"id": "app_1"}, openAppRequest{Scripts: testScripts()}, server.handleOpenApp)
	if status != http.StatusOK {
		t.Fatalf("open: status %d", status)
	}

	first, status := doRequest(t, server, http.MethodPost, "/api/app/app_1/save",
		map[string]string{"id": "app_1"}, nil, server.handleSaveApp)
	if status != http.StatusOK {
		t.Fatalf("save: expected status %d, got %d: %v", http.StatusOK, status, first)
	}
	version, _ := first["version"].(string)
	if version == "" {
		t.Fatal("save response missing version")
	}

	// Identical content hashes to the identical version.
	second, _ := doRequest(t, server, http.MethodPost, "/api/app/app_1/save",
		map[string]string{"id": "app_1"}, nil, server.handleSaveApp)
	if second["version"] != version {
		t.Fatalf("version changed without edits: %v vs %v", second["version"], version)
	}
}

func TestSaveWithoutSessionHitsBackendDirectly(t *testing.T) {
	server := newTestServer(t, nil)

	payload := session.SaveRequest{
		Scripts: []session.SaveScript{
			{ID: "s1", Data: session.SaveScriptData{Name: "main", Code: "code", Filename: "main.ts"}},
		},
	}
	body, status := doRequest(t, server, http.MethodPost, "/api/app/detached/save",
		map[string]string{"id": "detached"}, payload, server.handleSaveApp)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %v", http.StatusOK, status, body)
	}
	if version, _ := body["version"].(string); version == "" {
		t.Fatal("expected a version from the default backend")
	}
}

func TestBundleProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("x") != "https://esm.sh/left-pad" {
			t.Errorf("unexpected upstream query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"https://esm.sh/left-pad":"declare module 'left-pad';"}`))
	}))
	defer upstream.Close()

	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Bundler.BaseURL = upstream.URL
	})

	body, status := doRequest(t, server, http.MethodGet, "/bundle?x=https%3A%2F%2Fesm.sh%2Fleft-pad",
		nil, nil, server.handleBundle)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %v", http.StatusOK, status, body)
	}
	if _, ok := body["https://esm.sh/left-pad"]; !ok {
		t.Fatalf("bundle response missing declaration entry: %v", body)
	}
}

func TestBundleRequiresQueryParameter(t *testing.T) {
	server := newTestServer(t, nil)

	_, status := doRequest(t, server, http.MethodGet, "/bundle", nil, nil, server.handleBundle)
	if status != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, status)
	}
}

func TestBundleUpstreamFailureMapsToBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Bundler.BaseURL = upstream.URL
	})

	_, status := doRequest(t, server, http.MethodGet, "/bundle?x=https%3A%2F%2Fesm.sh%2Fbroken",
		nil, nil, server.handleBundle)
	if status != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, status)
	}
}

func TestLiveSyncRequiresCollabMode(t *testing.T) {
	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Live.Mode = config.LiveModeMemory
	})

	_, status := doRequest(t, server, http.MethodPost, "/api/app/app_1/open",
		map[string]string{"id": "app_1"}, openAppRequest{Scripts: testScripts()}, server.handleOpenApp)
	if status != http.StatusOK {
		t.Fatalf("open: status %d", status)
	}

	_, status = doRequest(t, server, http.MethodGet, "/live/app_1",
		map[string]string{"session": "app_1"}, nil, server.handleLiveSync)
	if status != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, status)
	}
}

func TestCollabModeSessionGetsCollabStore(t *testing.T) {
	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Live.Mode = config.LiveModeCollab
	})

	hs, err := server.sessionManager.OpenSession("app_1", testScripts())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if hs.collab == nil {
		t.Fatal("collab mode session should carry a collab store")
	}
}

func TestCleanupClosesIdleSessions(t *testing.T) {
	server := newTestServer(t, nil)

	hs, err := server.sessionManager.OpenSession("app_1", testScripts())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	server.sessionManager.mu.Lock()
	hs.LastSeen = time.Now().Add(-time.Hour)
	server.sessionManager.mu.Unlock()

	server.sessionManager.CleanupSessions(30 * time.Minute)
	if _, exists := server.sessionManager.GetSession("app_1"); exists {
		t.Fatal("idle session should be removed")
	}
}

func TestRenamedScriptKeepsChangeWiring(t *testing.T) {
	server := newTestServer(t, nil)

	hs, err := server.sessionManager.OpenSession("app_1", []session.Script{
		{ID: "s1", Filename: "main.ts", Code: "export default () => 1;\n", IsRunnable: true},
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	// Same ID, new filename: the handler must follow the script onto
	// its replacement model.
	renamed := []session.Script{
		{ID: "s1", Filename: "primary.ts", Code: "export default () => 1;\n", IsRunnable: true},
	}
	if !server.sessionManager.UpdateScripts("app_1", renamed) {
		t.Fatal("update scripts: session missing")
	}
	if hs.surf.HasModel(surface.URIFor("/main.ts")) {
		t.Fatal("old model should be disposed after rename")
	}

	if err := hs.surf.SetValue(surface.URIFor("/primary.ts"), "export default () => 2;\n"); err != nil {
		t.Fatalf("set value: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !hs.engine.IsDirty() {
		if time.Now().After(deadline) {
			t.Fatal("edit after rename never reached the engine")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUpdateScriptsReconciles(t *testing.T) {
	server := newTestServer(t, nil)

	_, status := doRequest(t, server, http.MethodPost, "/api/app/app_1/open",
		map[string]string{"id": "app_1"}, openAppRequest{Scripts: testScripts()}, server.handleOpenApp)
	if status != http.StatusOK {
		t.Fatalf("open: status %d", status)
	}

	_, status = doRequest(t, server, http.MethodPost, "/api/app/app_1/scripts",
		map[string]string{"id": "app_1"}, openAppRequest{Scripts: testScripts()[:1]}, server.handleUpdateScripts)
	if status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}

	state, _ := doRequest(t, server, http.MethodGet, "/api/app/app_1/state",
		map[string]string{"id": "app_1"}, nil, server.handleAppState)
	scripts, _ := state["scripts"].([]any)
	if len(scripts) != 1 {
		t.Fatalf("expected 1 script after update, got %d", len(scripts))
	}
}
