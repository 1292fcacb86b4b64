package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/agent"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/session"
)

const sessionCookie = "session_id"

// Server exposes the chat agent and the OAuth flow over HTTP.
type Server struct {
	addr        string
	agent       *agent.Agent
	auth        *auth.Service
	frontendURL string
	log         *slog.Logger
}

// NewServer constructs the API server.
func NewServer(addr string, ag *agent.Agent, authSvc *auth.Service, frontendURL string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:        addr,
		agent:       ag,
		auth:        authSvc,
		frontendURL: frontendURL,
		log:         log,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/callback", s.handleCallback)
	mux.HandleFunc("/api/chat", s.handleChat)
	return mux
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "Klaviyo Nexus"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.auth.Begin(r.Context())
	if err != nil {
		s.log.Error("login begin failed", "error", err)
		http.Error(w, "OAuth configuration error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		http.Redirect(w, r, s.frontendURL+"/?error="+errParam, http.StatusFound)
		return
	}
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code/state", http.StatusBadRequest)
		return
	}

	currentSession := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		currentSession = c.Value
	}

	sessionID, err := s.auth.Complete(r.Context(), state, code, currentSession)
	if err != nil {
		if errors.IsKind(err, errors.KindAuth) {
			http.Error(w, "Invalid/expired state", http.StatusBadRequest)
			return
		}
		s.log.Error("oauth callback failed", "error", err)
		http.Error(w, "Token exchange failed", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 24 * 7,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.frontendURL+"/chat", http.StatusFound)
}

// ChatRequest is the /api/chat payload. The frontend owns the history and
// sends it with every message.
type ChatRequest struct {
	Message string            `json:"message"`
	History []session.Message `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	token, err := s.auth.ResolveToken(r.Context(), cookie.Value)
	if err != nil {
		if errors.IsKind(err, errors.KindAuth) {
			http.Error(w, "Klaviyo login required", http.StatusUnauthorized)
			return
		}
		s.log.Error("session resolution failed", "error", err)
		http.Error(w, "Session lookup failed", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message must not be empty", http.StatusBadRequest)
		return
	}

	result, err := s.agent.RunChatTurn(r.Context(), req.Message, &req.History, token)
	if err != nil {
		// No partial-turn recovery: the user resends the message.
		s.log.Error("chat turn failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":            result.Reply.Role,
		"content":         result.Reply.Content,
		"trace":           result.Trace,
		"action_required": result.ActionRequired,
		"history":         req.History,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
