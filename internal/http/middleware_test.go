package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"learnhub/internal/session"
)

func TestSessionMiddlewareRejectsSignedOut(t *testing.T) {
	sessions := &sessionStub{snapshot: session.Session{Status: session.StatusUnauthenticated}}
	sink := &learningStub{}
	next := newSessionMiddleware(sessions, sink)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me/courses", nil)
	rec := httptest.NewRecorder()

	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header, got %q", rec.Header().Get("WWW-Authenticate"))
	}
	if sink.token != "" {
		t.Fatalf("expected no token forwarded, got %q", sink.token)
	}
}

func TestSessionMiddlewareRejectsSessionWithoutEmail(t *testing.T) {
	snap := authenticatedSession()
	snap.User.Email = ""
	sessions := &sessionStub{snapshot: snap}
	next := newSessionMiddleware(sessions, &learningStub{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me/stats", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestSessionMiddlewareForwardsTokenAndEmail(t *testing.T) {
	sessions := &sessionStub{snapshot: authenticatedSession()}
	sink := &learningStub{}

	next := newSessionMiddleware(sessions, sink)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserEmailFromContext(r.Context()) != "learner@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me/courses", nil)
	rec := httptest.NewRecorder()

	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if sink.token != "access-1" {
		t.Fatalf("expected token to be forwarded, got %q", sink.token)
	}
}

func TestSecurityHeadersSkipHSTSInDevelopment(t *testing.T) {
	next := newSecurityHeadersMiddleware("development")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected nosniff header")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("expected no HSTS header in development")
	}
}
