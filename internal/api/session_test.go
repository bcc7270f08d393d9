package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/pricefinder/pricefinder/internal/domain"
	"github.com/pricefinder/pricefinder/internal/identity"
	"github.com/pricefinder/pricefinder/internal/session"
	"github.com/pricefinder/pricefinder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu      sync.Mutex
	chat    bridge.Result
	search  bridge.Result
	health  bridge.Result
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeAgent) SendMessage(_ context.Context, message, _ string) bridge.Result {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	res := f.chat
	if res.Kind == bridge.KindOK && res.Response == "" {
		res.Response, res.HasResponse = "re: "+message, true
	}
	return res
}

func (f *fakeAgent) SearchProducts(context.Context, string) bridge.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.search
}

func (f *fakeAgent) HealthCheck(context.Context) bridge.Result {
	return f.health
}

type testEnv struct {
	router   http.Handler
	registry *session.Registry
	agent    *fakeAgent
}

func newTestEnv(t *testing.T, repo store.Repository) *testEnv {
	t.Helper()
	a := &fakeAgent{
		chat:   bridge.Result{Kind: bridge.KindOK},
		health: bridge.Result{Kind: bridge.KindOK, Status: "healthy"},
	}
	reg := session.NewRegistry(repo, session.Options{})
	ctrl := chat.NewController(a, reg, config.DefaultUI(), true)
	h := NewHandler(repo, reg, ctrl, a)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-Test-Client")
			if clientID == "" {
				clientID = "client-a"
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClientID(r.Context(), clientID)))
		})
	})
	h.RegisterRoutes(r)
	return &testEnv{router: r, registry: reg, agent: a}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var got map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got), w.Body.String())
	}
	return w, got
}

func sessionField(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	s, ok := body["session"].(map[string]any)
	require.True(t, ok, "missing session in %v", body)
	return s
}

func TestGetSessionInitializes(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodGet, "/api/session", "")

	require.Equal(t, http.StatusOK, w.Code)
	s := sessionField(t, body)
	assert.NotEmpty(t, s["session_id"])
	msgs := s["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "idle", body["phase"])
}

func TestChatTurn(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodPost, "/api/chat", `{"message":"아이폰 15"}`)

	require.Equal(t, http.StatusOK, w.Code)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, "succeeded", outcome["phase"])
	assert.Equal(t, "re: 아이폰 15", outcome["reply"])
	s := sessionField(t, body)
	assert.Len(t, s["messages"], 3)
	assert.Equal(t, []any{"아이폰 15"}, s["search_history"])
	assert.Equal(t, []any{"아이폰 15"}, s["recent_searches"])
}

func TestChatRejectsEmptyAndMalformed(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodPost, "/api/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "message is required", body["error"])

	w, _ = env.do(t, http.MethodPost, "/api/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.agent.calls)
}

func TestChatConflictWhileTurnInFlight(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.block = make(chan struct{})
	env.agent.started = make(chan struct{})

	done := make(chan int, 1)
	go func() {
		w, _ := env.do(t, http.MethodPost, "/api/chat", `{"message":"first"}`)
		done <- w.Code
	}()
	<-env.agent.started

	w, body := env.do(t, http.MethodPost, "/api/chat", `{"message":"second"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "turn_in_progress", body["error"])

	w, _ = env.do(t, http.MethodPost, "/api/session/clear", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(env.agent.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestHistoryReplayAndQuickSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, q := range []string{"a", "b"} {
		w, _ := env.do(t, http.MethodPost, "/api/chat", `{"message":"`+q+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, body := env.do(t, http.MethodPost, "/api/history/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "re: a", body["outcome"].(map[string]any)["reply"])
	assert.Equal(t, []any{"a", "b"}, sessionField(t, body)["search_history"])

	w, _ = env.do(t, http.MethodPost, "/api/history/5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/history/x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	calls := env.agent.calls
	w, body = env.do(t, http.MethodPost, "/api/quick/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.DefaultUI().QuickSearches[0].Query, body["query"])
	assert.Equal(t, calls, env.agent.calls)

	w, _ = env.do(t, http.MethodPost, "/api/quick/42", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchAndProductViews(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.search = bridge.Result{
		Kind:    bridge.KindOK,
		Message: "2개 상품",
		Products: []domain.Product{
			{Name: "B", Price: "20,000원", Store: "s2"},
			{Name: "A", Price: "10,000원", Store: "s1"},
		},
	}

	w, body := env.do(t, http.MethodPost, "/api/search", `{"query":"mouse"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2개 상품", body["outcome"].(map[string]any)["reply"])
	assert.Len(t, sessionField(t, body)["current_products"], 2)

	w, body = env.do(t, http.MethodGet, "/api/products/compare", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].(map[string]any)["name"])
	assert.Equal(t, "1st", rows[0].(map[string]any)["rank"])

	w, body = env.do(t, http.MethodGet, "/api/products/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, "15,000원", body["average"])
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t, nil)
	_, first := env.do(t, http.MethodPost, "/api/chat", `{"message":"x"}`)
	oldID := sessionField(t, first)["session_id"]

	w, body := env.do(t, http.MethodPost, "/api/session/clear", "")

	require.Equal(t, http.StatusOK, w.Code)
	s := sessionField(t, body)
	assert.NotEqual(t, oldID, s["session_id"])
	assert.Len(t, s["messages"], 1)
	assert.Empty(t, s["search_history"])
}

func TestConfigAndStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	w, body := env.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.DefaultUI().PageTitle, body["page_title"])
	assert.Len(t, body["quick_searches"], 4)

	w, body = env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	agent := body["agent"].(map[string]any)
	assert.Equal(t, true, agent["healthy"])
	assert.Len(t, body["session_id_prefix"], 8)
	assert.EqualValues(t, 1, body["message_count"])

	env.agent.health = bridge.Result{Kind: bridge.KindTransport, Error: "connection error: refused"}
	_, body = env.do(t, http.MethodGet, "/api/status", "")
	agent = body["agent"].(map[string]any)
	assert.Equal(t, false, agent["healthy"])
	assert.Equal(t, "connection error: refused", agent["error"])
}

func TestSessionsAreIsolatedPerClient(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _ = env.do(t, http.MethodPost, "/api/chat", `{"message":"mine"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Test-Client", "client-b")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, sessionField(t, body)["messages"], 1)
	assert.Equal(t, 2, env.registry.Len())
}

func TestHealthWithSQLite(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	env := newTestEnv(t, repo)

	w, body := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["database"])

	_, _ = env.do(t, http.MethodPost, "/api/chat", `{"message":"persist me"}`)
	rec, err := repo.GetSession(context.Background(), "client-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{"persist me"}, rec.SearchHistory)
}

func TestUnauthorizedWithoutIdentity(t *testing.T) {
	reg := session.NewRegistry(nil, session.Options{})
	h := NewHandler(nil, reg, chat.NewController(&fakeAgent{}, reg, config.DefaultUI(), true), nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
