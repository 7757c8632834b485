package cache

import (
	"testing"
	"time"

	"github.com/nitecon/director/internal/core"
)

func TestTokenCache_PutGet_WithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTokenCache(5 * time.Second).WithClock(func() time.Time { return now })

	token := c.Put(core.Binding{Host: "10.0.0.1"})

	binding, err := c.Get(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding.Host != "10.0.0.1" {
		t.Errorf("got host %q, want 10.0.0.1", binding.Host)
	}
}

func TestTokenCache_ExpiredTokenIsUnknown(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTokenCache(5 * time.Second).WithClock(func() time.Time { return now })

	token := c.Put(core.Binding{Host: "10.0.0.1"})

	now = now.Add(6 * time.Second)
	_, err := c.Get(token)
	if _, ok := err.(*core.ErrUnknownToken); !ok {
		t.Fatalf("got %v, want ErrUnknownToken", err)
	}
}

func TestTokenCache_UnknownTokenIndistinguishableFromExpired(t *testing.T) {
	c := NewTokenCache(5 * time.Second)

	unknown, _ := core.ParseToken("00000000-0000-0000-0000-000000000000")
	_, err := c.Get(unknown)
	if _, ok := err.(*core.ErrUnknownToken); !ok {
		t.Fatalf("got %v, want ErrUnknownToken", err)
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := NewTokenCache(time.Minute)
	token := c.Put(core.Binding{Host: "10.0.0.1"})

	c.Invalidate(token)

	if _, err := c.Get(token); err == nil {
		t.Fatal("expected error after invalidate")
	}
}
