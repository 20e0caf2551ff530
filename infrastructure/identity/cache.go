package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/pkg/auth"
)

// CachingVerifier remembers successfully verified tokens for a short TTL so
// that a burst of requests from one client costs a single provider round trip.
// Rejections are never cached.
type CachingVerifier struct {
	next   ports.IdentityVerifier
	ttl    time.Duration
	clock  ports.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	items map[string]cacheItem
}

type cacheItem struct {
	principal *auth.Principal
	expiresAt time.Time
}

// NewCachingVerifier wraps next. A ttl of zero or less disables caching.
func NewCachingVerifier(next ports.IdentityVerifier, ttl time.Duration, clock ports.Clock, logger *zap.Logger) *CachingVerifier {
	return &CachingVerifier{
		next:   next,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
		items:  make(map[string]cacheItem),
	}
}

var _ ports.IdentityVerifier = (*CachingVerifier)(nil)

// Verify returns a cached principal when one is still fresh, otherwise it
// asks the wrapped verifier.
func (c *CachingVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	if c.ttl <= 0 || token == "" {
		return c.next.Verify(ctx, token)
	}

	key := cacheKey(token)
	now := c.clock.Now()

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(item.expiresAt) {
		p := *item.principal
		return &p, nil
	}

	principal, err := c.next.Verify(ctx, token)
	if err != nil {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, err
	}

	stored := *principal
	c.mu.Lock()
	c.items[key] = cacheItem{principal: &stored, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return principal, nil
}

// Sweep drops expired entries and returns how many remain
func (c *CachingVerifier) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Swept expired identity cache entries", zap.Int("removed", removed))
	}
	return len(c.items)
}

// Tokens are bearer secrets; only their digests are kept in memory.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
