package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Key identifies a caller without retaining their credential: it is a
// one-way hash of the upstream access token.
type Key string

// KeyForToken derives the cache key for an access token. The raw token is
// never stored.
func KeyForToken(token string) Key {
	sum := sha256.Sum256([]byte(token))
	return Key(hex.EncodeToString(sum[:]))
}

// Cache remembers the most recently created resource per identity so a
// follow-up action can default to "the thing we just made". Implementations
// must be safe for concurrent use.
type Cache interface {
	// RememberListID records the id of the list an identity just created.
	RememberListID(ctx context.Context, key Key, listID string) error
	// LastListID returns the most recently created list id, if any.
	LastListID(ctx context.Context, key Key) (string, bool, error)
}

type memoryValue struct {
	listID    string
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used by default and in tests.
type MemoryCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	values map[Key]memoryValue
	now    func() time.Time
}

// NewMemoryCache builds a MemoryCache. A non-positive ttl falls back to one
// hour.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCache{
		ttl:    ttl,
		values: make(map[Key]memoryValue),
		now:    time.Now,
	}
}

func (c *MemoryCache) RememberListID(ctx context.Context, key Key, listID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = memoryValue{listID: listID, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) LastListID(ctx context.Context, key Key) (string, bool, error) {
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if !ok || c.now().After(v.expiresAt) {
		return "", false, nil
	}
	return v.listID, true, nil
}
