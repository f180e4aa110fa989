package cache_test

import (
	"testing"
	"time"

	"github.com/agentpay/guard-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("limits:agent-1", "row")
	got, ok := c.Get("limits:agent-1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != "row" {
		t.Errorf("got %q, want row", got)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	if _, ok := c.Get("limits:nobody"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestCache_EntryExpires(t *testing.T) {
	c := cache.New[string](30 * time.Millisecond)

	c.Set("limits:agent-1", "row")
	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("limits:agent-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCache_DeleteInvalidates(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("limits:agent-1", "row")
	c.Delete("limits:agent-1")

	if _, ok := c.Get("limits:agent-1"); ok {
		t.Fatal("expected miss after delete")
	}
}
