package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/agent"
	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/identity"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
	"github.com/ahmkhn/klaviyo-nexus/llm"
	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
)

type serverEnv struct {
	handler http.Handler
	store   *auth.MemoryStore
	client  *llm.ScriptedLLMClient
}

func newServerEnv(t *testing.T) serverEnv {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(upstream.Close)

	scripted := &llm.ScriptedLLMClient{}
	registry := tools.NewRegistry(tools.Deps{
		Klaviyo:   klaviyo.NewClient(config.Klaviyo{BaseURL: upstream.URL, Timeout: 2 * time.Second}),
		Approvals: approval.NewMemoryStore(time.Hour),
		Identity:  identity.NewMemoryCache(time.Hour),
	})
	ag, err := agent.New(&config.Config{}, registry, scripted, "", nil)
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	store := auth.NewMemoryStore()
	authSvc := auth.NewService(config.OAuth{
		ClientID:     "cid",
		ClientSecret: "csec",
		RedirectURI:  "http://localhost:8000/auth/callback",
	}, store)

	srv := NewServer(":0", ag, authSvc, "http://localhost:3000", nil)
	return serverEnv{handler: srv.Handler(), store: store, client: scripted}
}

func loggedIn(t *testing.T, env serverEnv) *http.Cookie {
	t.Helper()
	env.store.UpsertInstallation(context.Background(), auth.Installation{
		SessionID:      "sess-1",
		AccessToken:    "AT",
		TokenExpiresAt: time.Now().Add(time.Hour),
	})
	return &http.Cookie{Name: sessionCookie, Value: "sess-1"}
}

func TestHealthAndRoot(t *testing.T) {
	env := newServerEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/ status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
}

func TestLoginRedirectsToKlaviyo(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing location: %v", err)
	}
	if loc.Host != "www.klaviyo.com" || loc.Query().Get("code_challenge") == "" {
		t.Errorf("location = %s", loc)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=forged", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCallbackPropagatesProviderError(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=access_denied") {
		t.Errorf("location = %s", loc)
	}
}

func TestChatRequiresSession(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatRejectsUnknownSession(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "forged"})
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatRunsATurn(t *testing.T) {
	env := newServerEnv(t)
	cookie := loggedIn(t, env)
	env.client.Responses = []session.Message{
		{Role: "assistant", Content: "Hello there!"},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","history":[]}`))
	req.AddCookie(cookie)
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Role    string            `json:"role"`
		Content string            `json:"content"`
		History []session.Message `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Role != "assistant" || body.Content != "Hello there!" {
		t.Errorf("reply = %+v", body)
	}
	// The appended user message comes back so the frontend can keep history.
	if len(body.History) != 1 || body.History[0].Role != "user" {
		t.Errorf("history = %+v", body.History)
	}
}

func TestChatSurfacesActionRequired(t *testing.T) {
	env := newServerEnv(t)
	cookie := loggedIn(t, env)
	env.client.Responses = []session.Message{
		{Role: "assistant", ToolCalls: []session.ToolCall{
			{ToolCallID: "c1", Name: "propose_action", Args: map[string]interface{}{
				"action_type": "create_list",
				"parameters":  map[string]interface{}{"list_name": "Newsletter"},
			}},
		}},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"make a list","history":[]}`))
	req.AddCookie(cookie)
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		ActionRequired *agent.ActionRequired `json:"action_required"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.ActionRequired == nil || body.ActionRequired.Type != "approval" {
		t.Errorf("action_required = %+v", body.ActionRequired)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newServerEnv(t)
	cookie := loggedIn(t, env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"history":[]}`))
	req.AddCookie(cookie)
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	env := newServerEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
