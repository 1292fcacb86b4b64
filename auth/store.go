package auth

import (
	"context"
	"sync"
	"time"
)

// Installation is one connected Klaviyo account, keyed by the browser
// session cookie that completed the OAuth flow.
type Installation struct {
	SessionID      string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	Scopes         string
	UpdatedAt      time.Time
}

// State is a stored PKCE verifier keyed by the OAuth state parameter.
type State struct {
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// Store persists OAuth installations and in-flight PKCE states.
// Implementations must be safe for concurrent use.
type Store interface {
	UpsertInstallation(ctx context.Context, inst Installation) error
	FindInstallation(ctx context.Context, sessionID string) (Installation, bool, error)
	SaveState(ctx context.Context, st State) error
	// TakeState removes and returns the state, so a code can be exchanged
	// at most once per login attempt.
	TakeState(ctx context.Context, state string) (State, bool, error)
}

// MemoryStore is the in-process Store used by default and in tests.
type MemoryStore struct {
	mu            sync.Mutex
	installations map[string]Installation
	states        map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		installations: make(map[string]Installation),
		states:        make(map[string]State),
	}
}

func (s *MemoryStore) UpsertInstallation(ctx context.Context, inst Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.UpdatedAt = time.Now()
	s.installations[inst.SessionID] = inst
	return nil
}

func (s *MemoryStore) FindInstallation(ctx context.Context, sessionID string) (Installation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installations[sessionID]
	return inst, ok, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	s.states[st.State] = st
	return nil
}

func (s *MemoryStore) TakeState(ctx context.Context, state string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if ok {
		delete(s.states, state)
	}
	return st, ok, nil
}
