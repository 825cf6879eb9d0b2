package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	// ErrStateMismatch is returned when the callback state does not match the prompt.
	ErrStateMismatch = errors.New("authorization state mismatch")
	// ErrNonceMismatch is returned when the ID token nonce does not match the request.
	ErrNonceMismatch = errors.New("id token nonce mismatch")
)

// AuthorizationError is the error a provider reported on the redirect back.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return "authorization failed: " + e.Code
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}

// OIDCClient talks to one OpenID Connect provider and keeps its tokens in a TokenCache.
type OIDCClient struct {
	cfg        ProviderConfig
	cache      TokenCache
	prompter   Prompter
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state *discovery
}

// discovery is the provider metadata resolved by Initialize.
type discovery struct {
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	endSessionURL string
}

// OIDCOption configures optional OIDCClient behaviour.
type OIDCOption func(*OIDCClient)

// WithHTTPClient overrides the HTTP client used for discovery, token and revocation calls.
func WithHTTPClient(client *http.Client) OIDCOption {
	return func(c *OIDCClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(logger *slog.Logger) OIDCOption {
	return func(c *OIDCClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) OIDCOption {
	return func(c *OIDCClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewOIDCClient constructs a client for cfg. Discovery is deferred until Initialize.
func NewOIDCClient(cfg ProviderConfig, cache TokenCache, prompter Prompter, opts ...OIDCOption) (*OIDCClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		return nil, fmt.Errorf("%s provider: token cache is required", cfg.ID)
	}

	c := &OIDCClient{
		cfg:        cfg,
		cache:      cache,
		prompter:   prompter,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID implements Client.
func (c *OIDCClient) ID() ProviderID {
	return c.cfg.ID
}

// Initialize resolves the provider's discovery document. Safe to call repeatedly.
func (c *OIDCClient) Initialize(ctx context.Context) error {
	_, err := c.ready(ctx)
	return err
}

func (c *OIDCClient) ready(ctx context.Context) (*discovery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		return c.state, nil
	}

	ctx = c.clientContext(ctx)
	if c.cfg.SkipIssuerCheck {
		ctx = oidc.InsecureIssuerURLContext(ctx, c.cfg.AuthorityURL)
	}

	provider, err := oidc.NewProvider(ctx, c.cfg.AuthorityURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s provider: %w", c.cfg.ID, err)
	}

	var meta struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		c.logger.Warn("read provider metadata", "provider", c.cfg.ID, "error", err)
	}

	scopes := c.cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}
	}

	c.state = &discovery{
		oauth: &oauth2.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			RedirectURL:  c.cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{
			ClientID:        c.cfg.ClientID,
			SkipIssuerCheck: c.cfg.SkipIssuerCheck,
			Now:             c.now,
		}),
		revocationURL: meta.RevocationEndpoint,
		endSessionURL: meta.EndSessionEndpoint,
	}
	return c.state, nil
}

func (c *OIDCClient) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// CachedAccounts implements Client.
func (c *OIDCClient) CachedAccounts(ctx context.Context) ([]Account, error) {
	accounts, err := c.cache.Accounts(ctx, c.cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", c.cfg.ID, err)
	}
	return accounts, nil
}

// AcquireSilent implements Client. It never prompts the user; any failure wraps ErrInteractionRequired.
func (c *OIDCClient) AcquireSilent(ctx context.Context, account Account) (AuthResult, error) {
	cached, err := c.cache.Load(ctx, c.cfg.ID, account.ID)
	if err != nil {
		if errors.Is(err, ErrNoCachedToken) {
			return AuthResult{}, fmt.Errorf("%w: %w", ErrInteractionRequired, err)
		}
		return AuthResult{}, err
	}

	if cached.Valid(c.now()) {
		return cached.result(), nil
	}

	if cached.RefreshToken == "" {
		return AuthResult{}, fmt.Errorf("%w: access token expired and no refresh token is cached", ErrInteractionRequired)
	}

	st, err := c.ready(ctx)
	if err != nil {
		return AuthResult{}, err
	}

	source := st.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: cached.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: refresh token: %w", ErrInteractionRequired, err)
	}

	refreshed, err := c.fromOAuthToken(ctx, st, token, &cached, "")
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %w", ErrInteractionRequired, err)
	}

	if err := c.cache.Store(ctx, refreshed); err != nil {
		return AuthResult{}, fmt.Errorf("store refreshed token: %w", err)
	}

	c.logger.Debug("token refreshed", "provider", c.cfg.ID, "account", refreshed.Account.ID)
	return refreshed.result(), nil
}

// AcquireInteractive implements Client using the authorization code flow with PKCE.
func (c *OIDCClient) AcquireInteractive(ctx context.Context) (AuthResult, error) {
	if c.prompter == nil {
		return AuthResult{}, ErrNoPrompter
	}

	st, err := c.ready(ctx)
	if err != nil {
		return AuthResult{}, err
	}

	state, err := GenerateState()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := GenerateState()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	keys := make([]string, 0, len(c.cfg.AuthParams))
	for k := range c.cfg.AuthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, c.cfg.AuthParams[k]))
	}

	resp, err := c.prompter.Prompt(ctx, AuthorizationPrompt{
		Provider: c.cfg.ID,
		State:    state,
		URL:      st.oauth.AuthCodeURL(state, opts...),
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("authorization prompt: %w", err)
	}
	if resp.Error != "" {
		return AuthResult{}, &AuthorizationError{Code: resp.Error, Description: resp.ErrorDescription}
	}
	if resp.State != state {
		return AuthResult{}, ErrStateMismatch
	}
	if resp.Code == "" {
		return AuthResult{}, errors.New("authorization response missing code")
	}

	token, err := st.oauth.Exchange(c.clientContext(ctx), resp.Code, oauth2.VerifierOption(verifier))
	if err != nil {
		return AuthResult{}, fmt.Errorf("token exchange: %w", err)
	}

	cached, err := c.fromOAuthToken(ctx, st, token, nil, nonce)
	if err != nil {
		return AuthResult{}, err
	}

	if err := c.cache.Store(ctx, cached); err != nil {
		return AuthResult{}, fmt.Errorf("store token: %w", err)
	}

	c.logger.Info("interactive sign-in completed", "provider", c.cfg.ID, "account", cached.Account.ID)
	return cached.result(), nil
}

// SignOut implements Client. The cached account is always removed; a failed
// revocation is reported after local removal.
func (c *OIDCClient) SignOut(ctx context.Context, account Account) error {
	var errs []error

	cached, err := c.cache.Load(ctx, c.cfg.ID, account.ID)
	switch {
	case err == nil && cached.RefreshToken != "":
		if err := c.revoke(ctx, cached.RefreshToken); err != nil {
			errs = append(errs, err)
		}
	case err != nil && !errors.Is(err, ErrNoCachedToken):
		errs = append(errs, err)
	}

	if err := c.cache.Remove(ctx, c.cfg.ID, account.ID); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *OIDCClient) revoke(ctx context.Context, refreshToken string) error {
	st, err := c.ready(ctx)
	if err != nil {
		return err
	}
	if st.revocationURL == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", refreshToken)
	form.Set("token_type_hint", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("revoke token: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// EndSessionURL returns the provider's sign-out page for account, or "" when
// the provider does not advertise one or has not been initialized.
func (c *OIDCClient) EndSessionURL(account Account) string {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if st == nil || st.endSessionURL == "" {
		return ""
	}

	u, err := url.Parse(st.endSessionURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if c.cfg.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", c.cfg.PostLogoutRedirectURL)
	}
	if account.Username != "" {
		q.Set("logout_hint", account.Username)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// fromOAuthToken verifies the ID token in token and builds the cache entry.
// previous supplies claims and the refresh token when the provider omits them on refresh.
func (c *OIDCClient) fromOAuthToken(ctx context.Context, st *discovery, token *oauth2.Token, previous *CachedToken, nonce string) (CachedToken, error) {
	var claims Claims
	rawIDToken, _ := token.Extra("id_token").(string)
	switch {
	case rawIDToken != "":
		idToken, err := st.verifier.Verify(c.clientContext(ctx), rawIDToken)
		if err != nil {
			return CachedToken{}, fmt.Errorf("verify id_token: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return CachedToken{}, fmt.Errorf("parse claims: %w", err)
		}
		if nonce != "" && claims.Nonce != nonce {
			return CachedToken{}, ErrNonceMismatch
		}
	case previous != nil:
		claims = previous.Claims
	default:
		return CachedToken{}, errors.New("no id_token in response")
	}

	mergeAccessTokenClaims(&claims, token.AccessToken)

	account := accountFromClaims(c.cfg.ID, claims)
	refreshToken := token.RefreshToken
	if previous != nil {
		account.ID = previous.Account.ID
		if refreshToken == "" {
			refreshToken = previous.RefreshToken
		}
	}

	scopes := c.cfg.Scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}

	return CachedToken{
		Account:      account,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    token.Type(),
		IDToken:      rawIDToken,
		Expiry:       token.Expiry,
		Scopes:       scopes,
		Claims:       claims,
		StoredAt:     c.now(),
	}, nil
}

// mergeAccessTokenClaims fills roles and tenant from a JWT access token when the
// ID token lacks them. Opaque access tokens are ignored. The access token is
// addressed to the resource server, so its signature is not checked here.
func mergeAccessTokenClaims(claims *Claims, accessToken string) {
	if accessToken == "" || (len(claims.Roles) > 0 && claims.TenantID != "") {
		return
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, mapClaims); err != nil {
		return
	}

	if len(claims.Roles) == 0 {
		if roles, ok := mapClaims["roles"].([]interface{}); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok && s != "" {
					claims.Roles = append(claims.Roles, s)
				}
			}
		}
	}
	if claims.TenantID == "" {
		if tid, ok := mapClaims["tid"].(string); ok {
			claims.TenantID = tid
		}
	}
}
