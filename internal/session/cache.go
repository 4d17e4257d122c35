// Package session caches per-account broker auth tokens and guarantees a
// single in-flight refresh per account.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"signalflow/internal/logger"
)

// ErrAuth marks a failed token refresh. The owning dispatch treats it as
// fatal for that account; the next signal retries from scratch.
var ErrAuth = errors.New("session: authentication failed")

// Token is a snapshot of one account's credential. Callers never receive
// a mutable handle into the cache.
type Token struct {
	AccountID string
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token exists and has not expired.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Authenticator establishes a fresh session for an account. Login and 2FA
// mechanics live behind this interface; the cache only manages lifecycle.
type Authenticator interface {
	Login(ctx context.Context, accountID string) (Token, error)
}

// Cache holds tokens per account. Reads are lock-free of each other;
// refreshes per account are single-flight, so concurrent callers awaiting
// a refresh all observe the same new token.
type Cache struct {
	auth Authenticator
	now  func() time.Time

	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group
}

func NewCache(auth Authenticator) *Cache {
	return &Cache{
		auth:   auth,
		now:    time.Now,
		tokens: make(map[string]Token),
	}
}

// Get returns the account's token. An expired token behaves as missing.
func (c *Cache) Get(accountID string) (Token, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[accountID]
	c.mu.RUnlock()
	if !ok || !tok.Valid(c.now()) {
		return Token{}, false
	}
	return tok, true
}

// Refresh establishes a new session for the account. Concurrent calls for
// the same account share one login round-trip.
func (c *Cache) Refresh(ctx context.Context, accountID string) (Token, error) {
	v, err, shared := c.group.Do(accountID, func() (any, error) {
		tok, err := c.auth.Login(ctx, accountID)
		if err != nil {
			return Token{}, fmt.Errorf("%w: account %s: %v", ErrAuth, accountID, err)
		}
		c.mu.Lock()
		c.tokens[accountID] = tok
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	if shared {
		logger.Debugf("session: refresh for %s joined an in-flight login", accountID)
	}
	return v.(Token), nil
}

// Ensure returns a valid token, refreshing when the cached one is missing
// or expired.
func (c *Cache) Ensure(ctx context.Context, accountID string) (Token, error) {
	if tok, ok := c.Get(accountID); ok {
		return tok, nil
	}
	return c.Refresh(ctx, accountID)
}

// Invalidate drops the account's token, used on logout and on auth-expiry
// responses from the broker.
func (c *Cache) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.tokens, accountID)
	c.mu.Unlock()
}
