package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAuth struct {
	logins atomic.Int64
	delay  time.Duration
	fail   bool
}

func (a *countingAuth) Login(_ context.Context, accountID string) (Token, error) {
	n := a.logins.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail {
		return Token{}, fmt.Errorf("login rejected")
	}
	now := time.Now()
	return Token{
		AccountID: accountID,
		Value:     fmt.Sprintf("tok-%s-%d", accountID, n),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

func TestGetMissingAndExpired(t *testing.T) {
	c := NewCache(&countingAuth{})

	_, ok := c.Get("acct-1")
	assert.False(t, ok)

	// Install an already-expired token by hand; Get must treat it as missing.
	c.mu.Lock()
	c.tokens["acct-1"] = Token{AccountID: "acct-1", Value: "stale", ExpiresAt: time.Now().Add(-time.Minute)}
	c.mu.Unlock()

	_, ok = c.Get("acct-1")
	assert.False(t, ok)
}

func TestEnsureRefreshesOnce(t *testing.T) {
	auth := &countingAuth{}
	c := NewCache(auth)

	tok, err := c.Ensure(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-acct-1-1", tok.Value)

	// Cached token is served without another login.
	tok, err = c.Ensure(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-acct-1-1", tok.Value)
	assert.Equal(t, int64(1), auth.logins.Load())
}

func TestRefreshSingleFlight(t *testing.T) {
	auth := &countingAuth{delay: 50 * time.Millisecond}
	c := NewCache(auth)

	const callers = 16
	tokens := make([]Token, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Refresh(context.Background(), "acct-1")
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), auth.logins.Load(), "concurrent refreshes must share one login")
	for _, tok := range tokens {
		assert.Equal(t, tokens[0].Value, tok.Value, "all callers observe the same refreshed token")
	}

	got, ok := c.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, tokens[0].Value, got.Value)
}

func TestRefreshPerAccountIsolation(t *testing.T) {
	auth := &countingAuth{delay: 20 * time.Millisecond}
	c := NewCache(auth)

	var wg sync.WaitGroup
	for _, acct := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(acct string) {
			defer wg.Done()
			_, err := c.Refresh(context.Background(), acct)
			assert.NoError(t, err)
		}(acct)
	}
	wg.Wait()

	assert.Equal(t, int64(3), auth.logins.Load())
}

func TestRefreshFailure(t *testing.T) {
	c := NewCache(&countingAuth{fail: true})

	_, err := c.Refresh(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrAuth)

	_, ok := c.Get("acct-1")
	assert.False(t, ok, "failed refresh must not install a token")
}

func TestInvalidate(t *testing.T) {
	auth := &countingAuth{}
	c := NewCache(auth)

	_, err := c.Ensure(context.Background(), "acct-1")
	require.NoError(t, err)

	c.Invalidate("acct-1")
	_, ok := c.Get("acct-1")
	assert.False(t, ok)

	// Next Ensure performs a fresh login.
	tok, err := c.Ensure(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-acct-1-2", tok.Value)
}
