package handlers

import (
	"chat-service/internal/app"
	"chat-service/internal/auth"
	"chat-service/internal/config"
	"chat-service/internal/repository/db"
	"chat-service/internal/repository/memory"
	"chat-service/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubUsers map[string]string

func (s stubUsers) Authenticate(username, password string) error {
	if pw, ok := s[username]; ok && pw == password {
		return nil
	}
	return auth.ErrInvalidCredentials
}

type testServer struct {
	*httptest.Server
	config *app.Config
	store  *memory.Store
	tokens *auth.JWTResolver
}

func newTestServer(t *testing.T, snapshots db.SnapshotStore, engine *testutil.MockEngine, tweaks ...func(*config.AppConfig)) *testServer {
	t.Helper()
	store := memory.NewStore(snapshots)
	tokens := auth.NewJWTResolver(testutil.TestJWTSecret, time.Hour)

	appConfig := testutil.NewMockAppConfig()
	for _, tweak := range tweaks {
		tweak(appConfig)
	}
	cfg := app.NewConfig(appConfig, store, engine, tokens)

	server := httptest.NewServer(NewRouter(cfg, auth.NewLoginHandler(stubUsers{"demo": "demo123"}, tokens)))
	t.Cleanup(server.Close)

	return &testServer{Server: server, config: cfg, store: store, tokens: tokens}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.tokens.IssueToken(userID)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine(nil, nil))
	token := ts.token(t, "alice")

	resp := ts.do(t, http.MethodPost, "/sessions", token, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /sessions status = %d, want 201", resp.StatusCode)
	}
	created := decode[CreateSessionResponse](t, resp)
	if created.SessionID == "" {
		t.Fatal("POST /sessions returned empty session_id")
	}

	if _, err := ts.store.CommitEntry(context.Background(), "alice", created.SessionID, "What is a goroutine exactly?", "A lightweight thread."); err != nil {
		t.Fatal(err)
	}

	resp = ts.do(t, http.MethodGet, "/sessions", token, "")
	sessions := decode[[]db.SessionPreview](t, resp)
	if len(sessions) != 1 || sessions[0].ID != created.SessionID || sessions[0].Preview != "What is a goroutine " {
		t.Errorf("GET /sessions = %+v", sessions)
	}

	resp = ts.do(t, http.MethodGet, "/sessions/"+created.SessionID+"/history", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET history status = %d, want 200", resp.StatusCode)
	}
	history := decode[[]db.Entry](t, resp)
	if len(history) != 1 || history[0].Response != "A lightweight thread." {
		t.Errorf("GET history = %+v", history)
	}

	// Another user cannot see or delete the session.
	other := ts.token(t, "bob")
	if resp := ts.do(t, http.MethodGet, "/sessions/"+created.SessionID+"/history", other, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign history status = %d, want 404", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodDelete, "/sessions/"+created.SessionID, other, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign delete status = %d, want 404", resp.StatusCode)
	}

	if resp := ts.do(t, http.MethodDelete, "/sessions/"+created.SessionID, token, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d, want 200", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodDelete, "/sessions/"+created.SessionID, token, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/sessions", token, "")
	if sessions := decode[[]db.SessionPreview](t, resp); len(sessions) != 0 {
		t.Errorf("GET /sessions after delete = %+v, want []", sessions)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine(nil, nil))

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sessions"},
		{http.MethodGet, "/sessions"},
		{http.MethodDelete, "/sessions/abc"},
		{http.MethodGet, "/sessions/abc/history"},
		{http.MethodPost, "/sessions/abc/generate"},
		{http.MethodPost, "/generate/stream/abc"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			for _, token := range []string{"", "forged"} {
				resp := ts.do(t, route.method, route.path, token, "")
				if resp.StatusCode != http.StatusUnauthorized {
					t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
				}
			}
		})
	}
}

func TestGenerateStream(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine([]string{"Hi", "Hi there", "Hi there!"}, nil))
	token := ts.token(t, "alice")
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	for _, path := range []string{"/sessions/" + sessionID + "/generate", "/generate/stream/" + sessionID} {
		t.Run(path, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, path, token, `{"prompt":"Say hi"}`)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatal(err)
			}
			if string(body) != "Hi there!" {
				t.Errorf("body = %q, want %q", body, "Hi there!")
			}
			if resp.Trailer.Get(entryIDTrailer) == "" {
				t.Error("entry ID trailer missing")
			}
		})
	}

	history, err := ts.store.GetHistory("alice", sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Response != "Hi there!" {
		t.Errorf("history = %+v", history)
	}
}

func TestGenerateStream_Errors(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine([]string{"x"}, nil), func(c *config.AppConfig) {
		c.Server.MaxPromptChars = 10
		c.RateLimit.Limit = 100
	})
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	tests := []struct {
		name       string
		user       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "unknown session", user: "alice", path: "/sessions/missing/generate", body: `{"prompt":"hi"}`, wantStatus: http.StatusNotFound},
		{name: "empty prompt", user: "alice", path: "/sessions/" + sessionID + "/generate", body: `{"prompt":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "prompt too long", user: "alice", path: "/sessions/" + sessionID + "/generate", body: `{"prompt":"0123456789abc"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", user: "alice", path: "/sessions/" + sessionID + "/generate", body: `{"prompt":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, tt.path, ts.token(t, tt.user), tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			errResp := decode[ErrorResponse](t, resp)
			if errResp.Code != tt.wantStatus {
				t.Errorf("error code = %d, want %d", errResp.Code, tt.wantStatus)
			}
		})
	}
}

func TestGenerateStream_RateLimitedBeforeLookup(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine([]string{"ok"}, nil))
	token := ts.token(t, "alice")
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodPost, "/sessions/"+sessionID+"/generate", token, `{"prompt":"hi"}`)
		io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp := ts.do(t, http.MethodPost, "/sessions/missing/generate", token, `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Other users have their own window.
	other := ts.do(t, http.MethodPost, "/sessions/missing/generate", ts.token(t, "bob"), `{"prompt":"hi"}`)
	if other.StatusCode != http.StatusNotFound {
		t.Errorf("bob status = %d, want 404", other.StatusCode)
	}
}

func TestGenerateStream_EngineUnavailable(t *testing.T) {
	engine := &testutil.MockEngine{}
	ts := newTestServer(t, memory.NoopSnapshotStore{}, engine)
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	resp := ts.do(t, http.MethodPost, "/sessions/"+sessionID+"/generate", ts.token(t, "alice"), `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestGenerateStream_EngineFailureTruncates(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine([]string{"Partial"}, errors.New("engine crashed")))
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	resp := ts.do(t, http.MethodPost, "/sessions/"+sessionID+"/generate", ts.token(t, "alice"), `{"prompt":"hi"}`)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Partial" {
		t.Errorf("got %d %q, want 200 %q", resp.StatusCode, body, "Partial")
	}

	history, _ := ts.store.GetHistory("alice", sessionID)
	if len(history) != 0 {
		t.Errorf("history = %+v, want nothing committed", history)
	}
}

func TestPersistenceWarningHeader(t *testing.T) {
	failing := &testutil.MockSnapshotStore{
		SaveFunc: func(context.Context, *db.Snapshot) error { return errors.New("disk full") },
	}
	ts := newTestServer(t, failing, testutil.NewScriptedEngine(nil, nil))

	resp := ts.do(t, http.MethodPost, "/sessions", ts.token(t, "alice"), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if resp.Header.Get(persistenceWarningHeader) == "" {
		t.Error("persistence warning header missing")
	}
	if created := decode[CreateSessionResponse](t, resp); !ts.store.HasSession("alice", created.SessionID) {
		t.Error("session missing from memory")
	}
}

func TestLoginAndHealth(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine(nil, nil))

	resp, err := http.Post(ts.URL+"/auth/token", "application/x-www-form-urlencoded", strings.NewReader("username=demo&password=demo123"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	token := decode[auth.TokenResponse](t, resp)
	if userID, err := ts.tokens.Resolve(token.AccessToken); err != nil || userID != "demo" {
		t.Errorf("Resolve(login token) = %q, %v", userID, err)
	}

	health := ts.do(t, http.MethodGet, "/health", "", "")
	body, _ := io.ReadAll(health.Body)
	if health.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q", health.StatusCode, body)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine(nil, nil))

	resp := ts.do(t, http.MethodOptions, "/sessions/abc/generate", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != ts.config.AppConfig.Server.FrontendOrigin {
		t.Errorf("Allow-Origin = %q, want %q", got, ts.config.AppConfig.Server.FrontendOrigin)
	}
}

func TestMetricsAfterGeneration(t *testing.T) {
	ts := newTestServer(t, memory.NoopSnapshotStore{}, testutil.NewScriptedEngine([]string{"ok"}, nil))
	token := ts.token(t, "alice")
	sessionID, _ := ts.store.CreateSession(context.Background(), "alice")

	before := decode[MetricsResponse](t, ts.do(t, http.MethodGet, "/metrics", "", ""))
	if before.InferenceTimeMS != nil {
		t.Errorf("inference_time_ms = %v before any generation, want null", *before.InferenceTimeMS)
	}

	rejected := ts.do(t, http.MethodPost, "/sessions/missing/generate", token, `{"prompt":"hi"}`)
	if rejected.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rejected.StatusCode)
	}
	if m := decode[MetricsResponse](t, ts.do(t, http.MethodGet, "/metrics", "", "")); m.InferenceTimeMS != nil {
		t.Errorf("inference_time_ms = %v after a 404, want null", *m.InferenceTimeMS)
	}

	resp := ts.do(t, http.MethodPost, "/sessions/"+sessionID+"/generate", token, `{"prompt":"hi"}`)
	io.ReadAll(resp.Body)

	after := decode[MetricsResponse](t, ts.do(t, http.MethodGet, "/metrics", "", ""))
	if after.InferenceTimeMS == nil {
		t.Error("inference_time_ms = null after a streamed generation")
	}
	if after.Store == nil || after.Store.Sessions != 1 || after.Store.Entries != 1 {
		t.Errorf("store = %+v, want 1 session with 1 entry", after.Store)
	}
	if after.RateLimit == nil || after.RateLimit.TrackedUsers != 1 {
		t.Errorf("rate_limit = %+v, want 1 tracked user", after.RateLimit)
	}
}
