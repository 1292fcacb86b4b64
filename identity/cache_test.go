package identity

import (
	"context"
	"testing"
	"time"
)

func TestKeyForTokenIsStableAndOpaque(t *testing.T) {
	a := KeyForToken("secret-token")
	b := KeyForToken("secret-token")
	if a != b {
		t.Error("expected the same token to derive the same key")
	}
	if a == Key("secret-token") {
		t.Error("expected the key to differ from the raw token")
	}
	if a == KeyForToken("other-token") {
		t.Error("expected different tokens to derive different keys")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestMemoryCacheRememberAndLookup(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	key := KeyForToken("tok")

	if _, ok, _ := cache.LastListID(ctx, key); ok {
		t.Error("expected a miss before any remember")
	}

	if err := cache.RememberListID(ctx, key, "L1"); err != nil {
		t.Fatalf("RememberListID: %v", err)
	}
	if err := cache.RememberListID(ctx, key, "L2"); err != nil {
		t.Fatalf("RememberListID: %v", err)
	}

	id, ok, err := cache.LastListID(ctx, key)
	if err != nil {
		t.Fatalf("LastListID: %v", err)
	}
	if !ok || id != "L2" {
		t.Errorf("LastListID = %q, %v; want L2, true", id, ok)
	}

	// Another identity sees nothing.
	if _, ok, _ := cache.LastListID(ctx, KeyForToken("other")); ok {
		t.Error("expected identities to be isolated")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)
	current := time.Now()
	cache.now = func() time.Time { return current }
	key := KeyForToken("tok")

	cache.RememberListID(ctx, key, "L1")
	current = current.Add(2 * time.Minute)

	if _, ok, _ := cache.LastListID(ctx, key); ok {
		t.Error("expected an expired entry to miss")
	}
}
