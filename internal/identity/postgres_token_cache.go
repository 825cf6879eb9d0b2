package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresTokenCache implements TokenCache using PostgreSQL.
type PostgresTokenCache struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresTokenCache creates a durable cache whose rows expire ttl after their last write.
func NewPostgresTokenCache(db *sqlx.DB, ttl time.Duration) *PostgresTokenCache {
	return &PostgresTokenCache{db: db, ttl: ttl, now: time.Now}
}

// Accounts implements TokenCache.
func (c *PostgresTokenCache) Accounts(ctx context.Context, provider ProviderID) ([]Account, error) {
	const query = `
		SELECT provider, account_id, username, payload, expires_at, updated_at
		FROM token_cache
		WHERE provider = $1 AND expires_at > $2
		ORDER BY updated_at DESC
	`

	var rows []tokenRow
	if err := c.db.SelectContext(ctx, &rows, query, string(provider), c.now()); err != nil {
		return nil, fmt.Errorf("list cached accounts: %w", err)
	}

	accounts := make([]Account, 0, len(rows))
	for _, row := range rows {
		token, err := row.toToken()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, token.Account)
	}
	return accounts, nil
}

// Load implements TokenCache.
func (c *PostgresTokenCache) Load(ctx context.Context, provider ProviderID, accountID string) (CachedToken, error) {
	const query = `
		SELECT provider, account_id, username, payload, expires_at, updated_at
		FROM token_cache
		WHERE provider = $1 AND account_id = $2 AND expires_at > $3
	`

	var row tokenRow
	if err := c.db.GetContext(ctx, &row, query, string(provider), accountID, c.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CachedToken{}, ErrNoCachedToken
		}
		return CachedToken{}, fmt.Errorf("load cached token: %w", err)
	}
	return row.toToken()
}

// Store implements TokenCache.
func (c *PostgresTokenCache) Store(ctx context.Context, token CachedToken) error {
	const query = `
		INSERT INTO token_cache (provider, account_id, username, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, account_id) DO UPDATE
		SET username = EXCLUDED.username,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	now := c.now()
	if token.StoredAt.IsZero() {
		token.StoredAt = now
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode cached token: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		string(token.Account.Provider),
		token.Account.ID,
		token.Account.Username,
		string(payload),
		now.Add(c.ttl),
		now,
	)
	if err != nil {
		return fmt.Errorf("store cached token: %w", err)
	}
	return nil
}

// Remove implements TokenCache.
func (c *PostgresTokenCache) Remove(ctx context.Context, provider ProviderID, accountID string) error {
	const query = `DELETE FROM token_cache WHERE provider = $1 AND account_id = $2`
	if _, err := c.db.ExecContext(ctx, query, string(provider), accountID); err != nil {
		return fmt.Errorf("remove cached token: %w", err)
	}
	return nil
}

// DeleteExpired removes rows past their retention window.
func (c *PostgresTokenCache) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM token_cache WHERE expires_at < $1`
	result, err := c.db.ExecContext(ctx, query, c.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// tokenRow is a database row representation of CachedToken.
type tokenRow struct {
	Provider  string    `db:"provider"`
	AccountID string    `db:"account_id"`
	Username  string    `db:"username"`
	Payload   []byte    `db:"payload"`
	ExpiresAt time.Time `db:"expires_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *tokenRow) toToken() (CachedToken, error) {
	var token CachedToken
	if err := json.Unmarshal(r.Payload, &token); err != nil {
		return CachedToken{}, fmt.Errorf("decode cached token for %s/%s: %w", r.Provider, r.AccountID, err)
	}
	return token, nil
}
