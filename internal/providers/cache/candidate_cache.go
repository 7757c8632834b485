// Package cache provides TTL-based caching infrastructure for the
// Resource Adapter and Token Cache. It lives in the providers layer
// because caching is an infrastructure concern — the domain layer
// (internal/core) only defines the ResourceRepo/HostCounter interfaces
// these caches sit in front of.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/nitecon/director/internal/core"
)

// DefaultCandidateTTL is the default freshness window for a cached
// candidate list.
const DefaultCandidateTTL = 2 * time.Second

// candidateCacheEntry pairs a cached candidate list with its
// expiration time.
type candidateCacheEntry struct {
	candidates []core.Candidate
	expiresAt  time.Time
}

// CandidateCache wraps a core.ResourceRepo with a short TTL and
// singleflight dedup, absorbing query bursts against the same
// (gvr, namespace, labelSelector) tuple without violating the rule
// that an empty result is never itself an error.
type CandidateCache struct {
	repo core.ResourceRepo
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*candidateCacheEntry
	flights singleflight.Group
}

var _ core.ResourceRepo = (*CandidateCache)(nil)
var _ core.CacheEvictor = (*CandidateCache)(nil)

// NewCandidateCache returns a CandidateCache wrapping repo.
func NewCandidateCache(repo core.ResourceRepo, ttl time.Duration) *CandidateCache {
	return &CandidateCache{
		repo:    repo,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*candidateCacheEntry),
	}
}

// WithClock overrides the cache's time source, for deterministic TTL
// tests.
func (c *CandidateCache) WithClock(now func() time.Time) *CandidateCache {
	c.now = now
	return c
}

// List returns the cached candidate list if fresh, otherwise fetches
// and caches a new one. Concurrent requests for the same key are
// deduplicated via singleflight.
func (c *CandidateCache) List(ctx context.Context, gvr schema.GroupVersionResource, namespace, labelSelector string) ([]core.Candidate, error) {
	key := candidateCacheKey(gvr, namespace, labelSelector)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.candidates, nil
	}

	v, err, _ := c.flights.Do(key, func() (any, error) {
		candidates, err := c.repo.List(ctx, gvr, namespace, labelSelector)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = &candidateCacheEntry{
			candidates: candidates,
			expiresAt:  c.now().Add(c.ttl),
		}
		c.mu.Unlock()

		return candidates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.Candidate), nil
}

func candidateCacheKey(gvr schema.GroupVersionResource, namespace, labelSelector string) string {
	return strings.Join([]string{gvr.String(), namespace, labelSelector}, "/")
}

// StartEvictionLoop periodically removes expired candidate entries. It
// blocks until ctx is cancelled.
func (c *CandidateCache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
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

func (c *CandidateCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
