package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"learnhub/internal/identity"
)

func newCallbackFixture(t *testing.T) (*identity.CallbackBroker, *OAuthHandler, <-chan identity.CallbackResponse) {
	t.Helper()
	broker := identity.NewCallbackBroker()
	handler := NewOAuthHandler(broker, nil, "http://frontend.test", discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	delivered := make(chan identity.CallbackResponse, 1)
	go func() {
		resp, err := broker.Prompt(ctx, identity.AuthorizationPrompt{Provider: identity.ProviderOrganization, State: "state-1"})
		if err == nil {
			delivered <- resp
		}
	}()

	deadline := time.Now().Add(time.Second)
	for !broker.Pending("state-1") {
		if time.Now().After(deadline) {
			t.Fatal("prompt never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	return broker, handler, delivered
}

func TestOAuthCallbackRejectsMissingState(t *testing.T) {
	handler := NewOAuthHandler(identity.NewCallbackBroker(), nil, "http://frontend.test", discardLogger())

	rec := httptest.NewRecorder()
	handler.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=abc", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "http://frontend.test/login?error=invalid_request") {
		t.Fatalf("unexpected redirect %q", loc)
	}
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	handler := NewOAuthHandler(identity.NewCallbackBroker(), nil, "http://frontend.test", discardLogger())

	rec := httptest.NewRecorder()
	handler.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=abc&state=stale", nil))

	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "http://frontend.test/login?error=invalid_request") {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if !strings.Contains(loc, "message=") {
		t.Fatalf("expected message in redirect, got %q", loc)
	}
}

func TestOAuthCallbackDeliversCodeAndRedirectsHome(t *testing.T) {
	_, handler, delivered := newCallbackFixture(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=code-1&state=state-1", nil))

	if loc := rec.Header().Get("Location"); loc != "http://frontend.test/" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	select {
	case resp := <-delivered:
		if resp.Code != "code-1" {
			t.Fatalf("expected code-1, got %q", resp.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestOAuthCallbackPropagatesProviderError(t *testing.T) {
	_, handler, delivered := newCallbackFixture(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/auth/callback?state=state-1&error=access_denied&error_description=User+cancelled", nil))

	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "error=access_denied") {
		t.Fatalf("expected provider error in redirect, got %q", loc)
	}

	select {
	case resp := <-delivered:
		if resp.Error != "access_denied" || resp.ErrorDescription != "User cancelled" {
			t.Fatalf("unexpected delivered response %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider error was not delivered to the waiting sign-in")
	}
}

func TestIsValidRedirectPath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		// Valid paths
		{"root", "/", true},
		{"simple path", "/items", true},
		{"nested path", "/items/123", true},
		{"path with query", "/items?page=1", true},
		{"path with fragment", "/items#section", true},

		// Invalid - empty
		{"empty string", "", false},

		// Invalid - absolute URLs / open redirect attempts
		{"http URL", "http://evil.com", false},
		{"https URL", "https://evil.com", false},
		{"protocol-relative", "//evil.com", false},
		{"protocol-relative with path", "//evil.com/path", false},

		// Invalid - encoded bypass attempts
		{"encoded double slash", "/%2f%2fevil.com", false},
		{"encoded slash", "/%2fevil.com", false},
		// Note: double-encoded is safe - after one decode it's /%2f%2fevil.com (literal path)
		{"double encoded is safe", "/%252f%252fevil.com", true},

		// Invalid - no leading slash
		{"no leading slash", "items", false},
		{"relative path", "items/123", false},

		// Invalid - other schemes
		{"javascript protocol", "javascript:alert(1)", false},
		{"data protocol", "data:text/html,<script>", false},

		// Edge cases
		{"backslash", "\\\\evil.com", false},
		{"mixed slashes", "/\\evil.com", true}, // This is OK - just a weird but safe path
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isValidRedirectPath(tt.path)
			if got != tt.valid {
				t.Errorf("isValidRedirectPath(%q) = %v, want %v", tt.path, got, tt.valid)
			}
		})
	}
}
