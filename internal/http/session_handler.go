package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"learnhub/internal/identity"
	"learnhub/internal/session"
)

const (
	defaultInteractiveTimeout = 5 * time.Minute
	sseKeepAlive              = 25 * time.Second
)

type sessionManager interface {
	Snapshot() session.Session
	AccessToken() (string, error)
	Busy() bool
	Login(ctx context.Context, provider identity.ProviderID) (session.Acquisition, error)
	Logout(ctx context.Context) error
	SwitchProvider(ctx context.Context, provider identity.ProviderID) error
	Subscribe() (<-chan session.Session, func())
}

type promptBroker interface {
	Prompts() <-chan identity.AuthorizationPrompt
	Pending(state string) bool
	Deliver(resp identity.CallbackResponse) error
}

// EndSessionResolver builds the provider's front-channel logout URL.
type EndSessionResolver interface {
	EndSessionURL(account identity.Account) string
}

// sessionView is the JSON shape of a session with presentation hints.
type sessionView struct {
	session.Session
	IsAuthenticated bool   `json:"authenticated"`
	Busy            bool   `json:"busy"`
	StatusLabel     string `json:"statusLabel"`
	StatusTone      string `json:"statusTone"`
	UserTypeLabel   string `json:"userTypeLabel,omitempty"`
	UserTypeTone    string `json:"userTypeTone,omitempty"`
}

func newSessionView(s session.Session, busy bool) sessionView {
	view := sessionView{
		Session:         s,
		IsAuthenticated: s.Authenticated(),
		Busy:            busy,
		StatusLabel:     s.Status.Label(),
		StatusTone:      s.Status.Tone(),
	}
	if s.User != nil {
		view.UserTypeLabel = s.User.UserType.Label()
		view.UserTypeTone = s.User.UserType.Tone()
	}
	return view
}

// SessionHandler exposes the session manager over HTTP.
type SessionHandler struct {
	sessions           sessionManager
	broker             promptBroker
	endSession         map[identity.ProviderID]EndSessionResolver
	interactiveTimeout time.Duration
	logger             *slog.Logger

	mu        sync.Mutex
	redirects map[string]pendingRedirect
}

type pendingRedirect struct {
	path    string
	expires time.Time
}

// NewSessionHandler creates a SessionHandler. endSession may omit providers
// without a front-channel logout endpoint.
func NewSessionHandler(sessions sessionManager, broker promptBroker, endSession map[identity.ProviderID]EndSessionResolver, interactiveTimeout time.Duration, logger *slog.Logger) *SessionHandler {
	if interactiveTimeout <= 0 {
		interactiveTimeout = defaultInteractiveTimeout
	}
	return &SessionHandler{
		sessions:           sessions,
		broker:             broker,
		endSession:         endSession,
		interactiveTimeout: interactiveTimeout,
		logger:             logger,
		redirects:          make(map[string]pendingRedirect),
	}
}

// Status handles GET /api/session.
func (h *SessionHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newSessionView(h.sessions.Snapshot(), h.sessions.Busy()))
}

type loginResult struct {
	acquisition session.Acquisition
	err         error
}

// Login handles POST /api/session/login. It answers 200 once sign-in
// completes silently, or 202 with the authorization URL when the user has to
// interact with the provider. The sign-in keeps running after a 202 until the
// callback arrives or the interactive timeout passes.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Provider   string `json:"provider"`
		RedirectTo string `json:"redirectTo"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	provider, err := identity.ParseProviderID(payload.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.sessions.Busy() {
		writeError(w, http.StatusConflict, session.ErrBusy.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.interactiveTimeout)
	done := make(chan loginResult, 1)
	go func() {
		defer cancel()
		acquisition, err := h.sessions.Login(ctx, provider)
		done <- loginResult{acquisition: acquisition, err: err}
	}()

	for {
		select {
		case res := <-done:
			h.writeLoginResult(w, res)
			return
		case prompt := <-h.broker.Prompts():
			if prompt.Provider != provider || !h.broker.Pending(prompt.State) {
				continue
			}
			if isValidRedirectPath(payload.RedirectTo) {
				h.rememberRedirect(prompt.State, payload.RedirectTo)
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"provider":         prompt.Provider,
				"authorizationUrl": prompt.URL,
				"state":            prompt.State,
			})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *SessionHandler) writeLoginResult(w http.ResponseWriter, res loginResult) {
	if res.err != nil {
		var loginErr *session.LoginError
		switch {
		case errors.Is(res.err, session.ErrBusy):
			writeError(w, http.StatusConflict, res.err.Error())
		case errors.Is(res.err, session.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, res.err.Error())
		case errors.As(res.err, &loginErr):
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   loginErr.Error(),
				"outcome": res.acquisition.Outcome.String(),
				"session": newSessionView(h.sessions.Snapshot(), false),
			})
		default:
			h.logger.Error("login", "error", res.err)
			writeError(w, http.StatusInternalServerError, "sign-in failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": res.acquisition.Outcome.String(),
		"session": newSessionView(h.sessions.Snapshot(), false),
	})
}

// Logout handles POST /api/session/logout. A provider sign-out failure is
// reported as a warning; the local session is cleared regardless.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	endSessionURL := h.endSessionURL(h.sessions.Snapshot())

	err := h.sessions.Logout(r.Context())
	if errors.Is(err, session.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	body := map[string]any{
		"session": newSessionView(h.sessions.Snapshot(), false),
	}
	if endSessionURL != "" {
		body["endSessionUrl"] = endSessionURL
	}
	if err != nil {
		if !session.IsNonFatal(err) {
			h.logger.Error("logout", "error", err)
			writeError(w, http.StatusInternalServerError, "sign-out failed")
			return
		}
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// Switch handles POST /api/session/switch. The caller signs in to the new
// provider with a follow-up login request.
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Provider string `json:"provider"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	provider, err := identity.ParseProviderID(payload.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	endSessionURL := h.endSessionURL(h.sessions.Snapshot())
	err = h.sessions.SwitchProvider(r.Context(), provider)
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil && !session.IsNonFatal(err):
		h.logger.Error("switch provider", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "switch failed")
		return
	}

	body := map[string]any{
		"session": newSessionView(h.sessions.Snapshot(), false),
	}
	if endSessionURL != "" {
		body["endSessionUrl"] = endSessionURL
	}
	if err != nil {
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// Events handles GET /api/session/events as a server-sent event stream of
// session snapshots.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel := h.sessions.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(newSessionView(snap, snap.Status == session.StatusLoading))
			if err != nil {
				h.logger.Error("encode session event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *SessionHandler) endSessionURL(s session.Session) string {
	if s.Account == nil {
		return ""
	}
	resolver, ok := h.endSession[s.Provider]
	if !ok || resolver == nil {
		return ""
	}
	return resolver.EndSessionURL(*s.Account)
}

// rememberRedirect stores where the callback for state should land and drops
// entries whose sign-in has already timed out.
func (h *SessionHandler) rememberRedirect(state, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for key, pending := range h.redirects {
		if now.After(pending.expires) {
			delete(h.redirects, key)
		}
	}
	h.redirects[state] = pendingRedirect{path: path, expires: now.Add(h.interactiveTimeout)}
}

func (h *SessionHandler) takeRedirect(state string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending := h.redirects[state]
	delete(h.redirects, state)
	return pending.path
}
