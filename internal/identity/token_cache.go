package identity

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// expiryLeeway treats tokens about to expire as already expired.
const expiryLeeway = time.Minute

// CachedToken is everything persisted for one signed-in account.
type CachedToken struct {
	Account      Account   `json:"account"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
	Claims       Claims    `json:"claims"`
	StoredAt     time.Time `json:"storedAt"`
}

// Valid reports whether the access token can still be used at now.
func (t CachedToken) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(expiryLeeway).Before(t.Expiry)
}

func (t CachedToken) result() AuthResult {
	return AuthResult{
		Provider:    t.Account.Provider,
		Account:     t.Account,
		AccessToken: t.AccessToken,
		ExpiresAt:   t.Expiry,
		Scopes:      append([]string(nil), t.Scopes...),
		Claims:      t.Claims,
	}
}

// TokenCache persists tokens per provider and account.
// Accounts returns the most recently stored account first.
type TokenCache interface {
	Accounts(ctx context.Context, provider ProviderID) ([]Account, error)
	Load(ctx context.Context, provider ProviderID, accountID string) (CachedToken, error)
	Store(ctx context.Context, token CachedToken) error
	Remove(ctx context.Context, provider ProviderID, accountID string) error
}

// MemoryTokenCache keeps tokens in an expiring LRU for the lifetime of the process.
type MemoryTokenCache struct {
	lru *expirable.LRU[string, CachedToken]
	now func() time.Time
}

// NewMemoryTokenCache creates a process-local cache holding up to size entries for ttl.
func NewMemoryTokenCache(size int, ttl time.Duration) *MemoryTokenCache {
	if size <= 0 {
		size = 64
	}
	return &MemoryTokenCache{
		lru: expirable.NewLRU[string, CachedToken](size, nil, ttl),
		now: time.Now,
	}
}

func memoryKey(provider ProviderID, accountID string) string {
	return string(provider) + "|" + accountID
}

// Accounts implements TokenCache.
func (c *MemoryTokenCache) Accounts(_ context.Context, provider ProviderID) ([]Account, error) {
	prefix := string(provider) + "|"
	keys := c.lru.Keys()
	accounts := make([]Account, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if !strings.HasPrefix(keys[i], prefix) {
			continue
		}
		token, ok := c.lru.Peek(keys[i])
		if !ok {
			continue
		}
		accounts = append(accounts, token.Account)
	}
	return accounts, nil
}

// Load implements TokenCache.
func (c *MemoryTokenCache) Load(_ context.Context, provider ProviderID, accountID string) (CachedToken, error) {
	token, ok := c.lru.Get(memoryKey(provider, accountID))
	if !ok {
		return CachedToken{}, ErrNoCachedToken
	}
	return token, nil
}

// Store implements TokenCache.
func (c *MemoryTokenCache) Store(_ context.Context, token CachedToken) error {
	if token.StoredAt.IsZero() {
		token.StoredAt = c.now()
	}
	c.lru.Add(memoryKey(token.Account.Provider, token.Account.ID), token)
	return nil
}

// Remove implements TokenCache.
func (c *MemoryTokenCache) Remove(_ context.Context, provider ProviderID, accountID string) error {
	c.lru.Remove(memoryKey(provider, accountID))
	return nil
}
