package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nitecon/director/internal/core"
)

// DefaultTokenTTL is the default lifetime of a Token Cache entry
// before the Query Server's answer must be re-requested.
const DefaultTokenTTL = 30 * time.Second

// tokenCacheEntry pairs a cached Binding with its expiration time.
type tokenCacheEntry struct {
	binding   core.Binding
	expiresAt time.Time
}

// TokenCache maps a Token to the Binding the Query Server
// selected for it. A token consumed by the data plane (Get) after its
// ttl has elapsed is indistinguishable from one that was never issued
// (invariant 1) — both return ErrUnknownToken.
type TokenCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[core.Token]*tokenCacheEntry
}

var _ core.CacheEvictor = (*TokenCache)(nil)

// NewTokenCache returns an empty TokenCache with the given default
// entry lifetime.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[core.Token]*tokenCacheEntry),
	}
}

// WithClock overrides the cache's time source, for deterministic TTL
// tests.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// Put generates a fresh Token bound to binding, valid for the cache's
// configured ttl.
func (c *TokenCache) Put(binding core.Binding) core.Token {
	token := core.NewToken()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = &tokenCacheEntry{
		binding:   binding,
		expiresAt: c.now().Add(c.ttl),
	}
	return token
}

// Get resolves token to its Binding. An unknown or expired token both
// return ErrUnknownToken; an expired entry is also evicted lazily.
func (c *TokenCache) Get(token core.Token) (core.Binding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[token]
	if !ok {
		return core.Binding{}, &core.ErrUnknownToken{}
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, token)
		return core.Binding{}, &core.ErrUnknownToken{}
	}
	return entry.binding, nil
}

// Invalidate removes token immediately, regardless of its remaining
// ttl.
func (c *TokenCache) Invalidate(token core.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
}

// StartEvictionLoop periodically removes expired token entries. It
// blocks until ctx is cancelled.
func (c *TokenCache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *TokenCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, token)
		}
	}
}
