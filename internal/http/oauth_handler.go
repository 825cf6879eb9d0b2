package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"learnhub/internal/identity"
)

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	if parsed.Scheme != "" || parsed.Host != "" {
		return false
	}

	return true
}

// OAuthHandler receives the provider redirect that completes an interactive sign-in.
type OAuthHandler struct {
	broker      promptBroker
	sessions    *SessionHandler
	logger      *slog.Logger
	frontendURL string
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(broker promptBroker, sessions *SessionHandler, frontendURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		broker:      broker,
		sessions:    sessions,
		logger:      logger,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
	}
}

// Callback handles GET /api/auth/callback.
// It hands the code and state to the waiting sign-in and sends the browser back
// to the frontend, which follows the outcome on the session event stream.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	if state == "" {
		h.redirectWithError(w, r, "invalid_request", "Missing state. Please try again.")
		return
	}

	redirectTo := "/"
	if h.sessions != nil {
		if path := h.sessions.takeRedirect(state); path != "" {
			redirectTo = path
		}
	}

	err := h.broker.Deliver(identity.CallbackResponse{
		Code:             query.Get("code"),
		State:            state,
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	})
	if err != nil {
		if errors.Is(err, identity.ErrUnknownState) {
			h.logger.Warn("oauth callback: unknown state")
			h.redirectWithError(w, r, "invalid_request", "Sign-in expired. Please try again.")
			return
		}
		h.logger.Error("oauth callback: deliver failed", "error", err)
		h.redirectWithError(w, r, "internal_error", "Failed to complete authentication.")
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, query.Get("error_description"))
		return
	}

	http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
}

// redirectWithError redirects to the login page with error details.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
