package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInteractionRequired indicates silent acquisition cannot proceed without the user.
	ErrInteractionRequired = errors.New("interaction required")
	// ErrNoCachedToken indicates the cache holds nothing for the requested account.
	ErrNoCachedToken = errors.New("no cached token")
	// ErrUnknownProvider is returned when a provider id is not one of the supported back-ends.
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrNotInitialized is returned when a client is used before discovery succeeded.
	ErrNotInitialized = errors.New("identity client not initialized")
)

// ProviderID names one of the two supported authentication back-ends.
type ProviderID string

const (
	ProviderOrganization ProviderID = "organization"
	ProviderPersonal     ProviderID = "personal"
)

// Providers lists every provider in startup probe priority order.
var Providers = []ProviderID{ProviderOrganization, ProviderPersonal}

// ParseProviderID converts user input into a ProviderID.
func ParseProviderID(value string) (ProviderID, error) {
	switch ProviderID(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderOrganization:
		return ProviderOrganization, nil
	case ProviderPersonal:
		return ProviderPersonal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, value)
	}
}

// Label returns a display name for the provider.
func (p ProviderID) Label() string {
	switch p {
	case ProviderOrganization:
		return "Organization"
	case ProviderPersonal:
		return "Personal"
	default:
		return "Unknown"
	}
}

// CacheLocation selects where a provider's tokens live.
type CacheLocation string

const (
	// CacheSession keeps tokens for the lifetime of the process.
	CacheSession CacheLocation = "session"
	// CacheDurable keeps tokens in a store that survives restarts.
	CacheDurable CacheLocation = "durable"
)

// ProviderConfig is the immutable description of one identity provider.
type ProviderConfig struct {
	ID                    ProviderID
	ClientID              string
	ClientSecret          string
	AuthorityURL          string
	RedirectURL           string
	PostLogoutRedirectURL string
	CacheLocation         CacheLocation
	Scopes                []string
	AuthParams            map[string]string
	// SkipIssuerCheck accepts tokens from any tenant behind a multi-tenant authority.
	SkipIssuerCheck bool
}

// Validate reports configuration problems that would make the provider unusable.
func (c ProviderConfig) Validate() error {
	switch c.ID {
	case ProviderOrganization, ProviderPersonal:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.ID)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%s provider: client id is required", c.ID)
	}
	if strings.TrimSpace(c.AuthorityURL) == "" {
		return fmt.Errorf("%s provider: authority url is required", c.ID)
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		return fmt.Errorf("%s provider: redirect url is required", c.ID)
	}
	if c.CacheLocation != CacheSession && c.CacheLocation != CacheDurable {
		return fmt.Errorf("%s provider: unsupported cache location %q", c.ID, c.CacheLocation)
	}
	return nil
}

// Account identifies a signed-in user within one provider's cache.
type Account struct {
	ID       string     `json:"id"`
	Provider ProviderID `json:"provider"`
	Subject  string     `json:"subject"`
	Username string     `json:"username"`
	Name     string     `json:"name,omitempty"`
	TenantID string     `json:"tenantId,omitempty"`
}

// Claims captures the ID and access token claims the platform relies on.
type Claims struct {
	Subject           string   `json:"sub"`
	ObjectID          string   `json:"oid,omitempty"`
	TenantID          string   `json:"tid,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Email             string   `json:"email,omitempty"`
	Emails            []string `json:"emails,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Nonce             string   `json:"nonce,omitempty"`
}

// Username picks the best sign-in name available in the claims.
func (c Claims) Username() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.Email != "":
		return c.Email
	case len(c.Emails) > 0:
		return c.Emails[0]
	default:
		return ""
	}
}

// accountFromClaims derives a stable cache account from verified claims.
func accountFromClaims(provider ProviderID, claims Claims) Account {
	id := claims.Subject
	if claims.ObjectID != "" && claims.TenantID != "" {
		id = claims.ObjectID + "." + claims.TenantID
	}
	return Account{
		ID:       id,
		Provider: provider,
		Subject:  claims.Subject,
		Username: claims.Username(),
		Name:     claims.Name,
		TenantID: claims.TenantID,
	}
}

// AuthResult is the outcome of a successful token acquisition.
type AuthResult struct {
	Provider    ProviderID
	Account     Account
	AccessToken string
	ExpiresAt   time.Time
	Scopes      []string
	Claims      Claims
}

// Client is the capability the session manager needs from one identity provider.
type Client interface {
	ID() ProviderID
	Initialize(ctx context.Context) error
	CachedAccounts(ctx context.Context) ([]Account, error)
	AcquireSilent(ctx context.Context, account Account) (AuthResult, error)
	AcquireInteractive(ctx context.Context) (AuthResult, error)
	SignOut(ctx context.Context, account Account) error
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
