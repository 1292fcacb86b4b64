package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps pending actions between the propose and execute steps of a
// turn. Implementations must be safe for concurrent use. Entries are
// TTL-bounded; an expired id behaves exactly like an unknown one.
type Store interface {
	// Put registers a pending action under its id.
	Put(ctx context.Context, action PendingAction) error
	// Consume atomically removes and returns the action, so an id can be
	// executed at most once. ok is false for unknown, expired or
	// already-consumed ids.
	Consume(ctx context.Context, id string) (action PendingAction, ok bool, err error)
}

// NewID mints an approval id, unique among currently pending actions.
func NewID() string {
	return uuid.NewString()
}

type memoryEntry struct {
	action    PendingAction
	expiresAt time.Time
}

// MemoryStore is the in-process Store used by default and in tests. Pending
// actions do not survive a restart; that is an accepted limitation, with the
// stateless execute fallback as the mitigation.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore builds a MemoryStore. A non-positive ttl falls back to one
// hour.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, action PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[action.ID] = memoryEntry{
		action:    action,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, id string) (PendingAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return PendingAction{}, false, nil
	}
	delete(s.entries, id)
	if s.now().After(entry.expiresAt) {
		return PendingAction{}, false, nil
	}
	return entry.action, true, nil
}

// sweepLocked drops expired entries so an idle store does not grow without
// bound. Caller holds the lock.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}
