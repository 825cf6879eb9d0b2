package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "learnhub-test-client"

// fakeIssuer is a minimal OpenID Connect provider serving discovery, JWKS,
// token and revocation endpoints.
type fakeIssuer struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	codes         map[string]authorizeRequest
	refreshTokens map[string]bool
	revoked       []string
	tokenCalls    int
	failRefresh   bool
	failRevoke    bool
	roles         []string
	issued        int
}

type authorizeRequest struct {
	nonce     string
	challenge string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	f := &fakeIssuer{
		t:             t,
		key:           key,
		codes:         make(map[string]authorizeRequest),
		refreshTokens: make(map[string]bool),
		roles:         []string{"Admin", "Editor"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("/keys", f.handleKeys)
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/revoke", f.handleRevoke)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIssuer) URL() string {
	return f.server.URL
}

func (f *fakeIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                f.server.URL,
		"authorization_endpoint":                f.server.URL + "/authorize",
		"token_endpoint":                        f.server.URL + "/token",
		"jwks_uri":                              f.server.URL + "/keys",
		"revocation_endpoint":                   f.server.URL + "/revoke",
		"end_session_endpoint":                  f.server.URL + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) handleKeys(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(f.key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(f.key.E)).Bytes()),
		}},
	})
}

// authorize plays the browser: it accepts an authorization URL and returns a code.
func (f *fakeIssuer) authorize(authURL string) (code, state string) {
	f.t.Helper()

	u, err := url.Parse(authURL)
	if err != nil {
		f.t.Fatalf("parse authorization url: %v", err)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" {
		f.t.Fatalf("expected S256 challenge, got %q", q.Get("code_challenge_method"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	code = fmt.Sprintf("code-%d", f.issued)
	f.codes[code] = authorizeRequest{nonce: q.Get("nonce"), challenge: q.Get("code_challenge")}
	return code, q.Get("state")
}

func (f *fakeIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++

	var nonce string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		req, ok := f.codes[r.PostForm.Get("code")]
		if !ok {
			writeOAuthError(w, "invalid_grant")
			return
		}
		delete(f.codes, r.PostForm.Get("code"))
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != req.challenge {
			writeOAuthError(w, "invalid_grant")
			return
		}
		nonce = req.nonce
	case "refresh_token":
		if f.failRefresh || !f.refreshTokens[r.PostForm.Get("refresh_token")] {
			writeOAuthError(w, "invalid_grant")
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	f.issued++
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.refreshTokens[refresh] = true

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  f.sign(jwt.MapClaims{"aud": "https://graph.example.com", "roles": f.roles, "tid": "tenant-1"}),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"scope":         "openid profile offline_access",
		"id_token":      f.idToken(nonce),
	})
}

func (f *fakeIssuer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRevoke {
		http.Error(w, "revocation unavailable", http.StatusServiceUnavailable)
		return
	}
	f.revoked = append(f.revoked, r.PostForm.Get("token"))
	w.WriteHeader(http.StatusOK)
}

func (f *fakeIssuer) idToken(nonce string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                f.server.URL,
		"sub":                "subject-1",
		"aud":                testClientID,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"oid":                "object-1",
		"tid":                "tenant-1",
		"name":               "Ada Lovelace",
		"preferred_username": "ada@example.com",
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return f.sign(claims)
}

func (f *fakeIssuer) sign(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		f.t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *fakeIssuer) seedRefreshToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshTokens[token] = true
}

func (f *fakeIssuer) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *fakeIssuer) tokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func testProviderConfig(issuer *fakeIssuer) ProviderConfig {
	return ProviderConfig{
		ID:                    ProviderOrganization,
		ClientID:              testClientID,
		AuthorityURL:          issuer.URL(),
		RedirectURL:           "http://localhost:8080/api/auth/callback",
		PostLogoutRedirectURL: "http://localhost:3000",
		CacheLocation:         CacheSession,
		Scopes:                []string{"openid", "profile", "offline_access"},
		AuthParams:            map[string]string{"domain_hint": "organizations"},
	}
}
