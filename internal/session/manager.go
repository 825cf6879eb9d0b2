package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"learnhub/internal/identity"
)

const unknownUserName = "Unknown User"

// Enricher fetches additional profile attributes for organization users.
type Enricher interface {
	Fetch(ctx context.Context, accessToken string) (identity.UserInfo, error)
}

// Recorder receives session lifecycle events for metrics.
type Recorder interface {
	RecordSessionStatus(status string)
	RecordLogin(provider, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStatus(string) {}
func (nopRecorder) RecordLogin(string, string) {}

// Manager owns the Session and serializes every identity mutation.
type Manager struct {
	clients  map[identity.ProviderID]identity.Client
	enricher Enricher
	recorder Recorder
	logger   *slog.Logger

	busy sync.Mutex

	mu      sync.RWMutex
	session Session
	subs    map[uuid.UUID]chan Session
}

// Option configures optional Manager behaviour.
type Option func(*Manager)

// WithEnricher sets the user-info client used after organization sign-in.
func WithEnricher(e Enricher) Option {
	return func(m *Manager) {
		m.enricher = e
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager over the organization and personal clients.
func NewManager(organization, personal identity.Client, opts ...Option) (*Manager, error) {
	if organization == nil || organization.ID() != identity.ProviderOrganization {
		return nil, fmt.Errorf("session: organization client is required")
	}
	if personal == nil || personal.ID() != identity.ProviderPersonal {
		return nil, fmt.Errorf("session: personal client is required")
	}

	m := &Manager{
		clients: map[identity.ProviderID]identity.Client{
			identity.ProviderOrganization: organization,
			identity.ProviderPersonal:     personal,
		},
		recorder: nopRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		session:  Session{Status: StatusUninitialized},
		subs:     make(map[uuid.UUID]chan Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize probes the provider caches in priority order and restores the
// first cached account silently. A failed restore leaves the session
// Unauthenticated, never Error.
func (m *Manager) Initialize(ctx context.Context) (Acquisition, error) {
	if !m.busy.TryLock() {
		return Acquisition{}, ErrBusy
	}
	defer m.busy.Unlock()

	m.update(func(s *Session) {
		s.Status = StatusLoading
		s.LastError = ""
	})

	for _, provider := range identity.Providers {
		client := m.clients[provider]

		if err := client.Initialize(ctx); err != nil {
			m.logger.Warn("identity provider initialization failed", "provider", provider, "error", err)
		}

		accounts, err := client.CachedAccounts(ctx)
		if err != nil {
			m.logger.Warn("probe token cache", "provider", provider, "error", err)
			continue
		}
		if len(accounts) == 0 {
			continue
		}

		result, err := client.AcquireSilent(ctx, accounts[0])
		if err != nil {
			m.logger.Info("cached session could not be restored", "provider", provider, "error", err)
			m.recorder.RecordLogin(string(provider), SilentFailed.String())
			m.update(func(s *Session) {
				*s = Session{Status: StatusUnauthenticated}
			})
			return Acquisition{Provider: provider, Outcome: SilentFailed, Reason: err}, nil
		}

		m.authenticate(ctx, provider, result)
		m.recorder.RecordLogin(string(provider), AcquiredSilently.String())
		return Acquisition{Provider: provider, Outcome: AcquiredSilently}, nil
	}

	m.update(func(s *Session) {
		*s = Session{Status: StatusUnauthenticated}
	})
	return Acquisition{}, nil
}

// Login signs in with provider, trying the cached account silently before
// falling back to the interactive flow.
func (m *Manager) Login(ctx context.Context, provider identity.ProviderID) (Acquisition, error) {
	client, ok := m.clients[provider]
	if !ok {
		return Acquisition{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if !m.busy.TryLock() {
		return Acquisition{}, ErrBusy
	}
	defer m.busy.Unlock()

	m.update(func(s *Session) {
		s.Status = StatusLoading
		s.Candidate = provider
		s.LastError = ""
	})

	var silentErr error
	accounts, err := client.CachedAccounts(ctx)
	switch {
	case err != nil:
		silentErr = err
	case len(accounts) > 0:
		result, err := client.AcquireSilent(ctx, accounts[0])
		if err == nil {
			m.authenticate(ctx, provider, result)
			m.recorder.RecordLogin(string(provider), AcquiredSilently.String())
			return Acquisition{Provider: provider, Outcome: AcquiredSilently}, nil
		}
		silentErr = err
		m.logger.Info("silent sign-in failed, falling back to interactive", "provider", provider, "error", err)
	}

	result, err := client.AcquireInteractive(ctx)
	if err != nil {
		loginErr := &LoginError{Provider: provider, Silent: silentErr, Err: err}
		m.logger.Error("sign-in failed", "provider", provider, "error", loginErr)
		m.recorder.RecordLogin(string(provider), InteractiveFailed.String())
		m.update(func(s *Session) {
			*s = Session{Candidate: provider, Status: StatusError, LastError: loginErr.Error()}
		})
		return Acquisition{Provider: provider, Outcome: InteractiveFailed, Reason: loginErr}, loginErr
	}

	m.authenticate(ctx, provider, result)
	m.recorder.RecordLogin(string(provider), AcquiredInteractively.String())
	return Acquisition{Provider: provider, Outcome: AcquiredInteractively, Reason: silentErr}, nil
}

// Logout signs the active account out of its provider and always clears local state.
// A provider failure is returned as *LogoutError and recorded in LastError.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.busy.TryLock() {
		return ErrBusy
	}
	defer m.busy.Unlock()

	return m.logout(ctx, "")
}

// SwitchProvider logs out and marks provider as the next sign-in candidate.
// It does not sign in; callers follow up with Login.
func (m *Manager) SwitchProvider(ctx context.Context, provider identity.ProviderID) error {
	if _, ok := m.clients[provider]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if !m.busy.TryLock() {
		return ErrBusy
	}
	defer m.busy.Unlock()

	return m.logout(ctx, provider)
}

func (m *Manager) logout(ctx context.Context, candidate identity.ProviderID) error {
	current := m.Snapshot()
	m.update(func(s *Session) {
		s.Status = StatusLoading
	})

	var signOutErr error
	if client, ok := m.clients[current.Provider]; ok && current.Account != nil {
		if err := client.SignOut(ctx, *current.Account); err != nil {
			signOutErr = &LogoutError{Provider: current.Provider, Err: err}
			m.logger.Warn("provider sign-out failed", "provider", current.Provider, "error", err)
		}
	}

	m.update(func(s *Session) {
		*s = Session{Candidate: candidate, Status: StatusUnauthenticated}
		if signOutErr != nil {
			s.LastError = signOutErr.Error()
		}
	})
	return signOutErr
}

// authenticate builds the profile for result and publishes the Authenticated session.
func (m *Manager) authenticate(ctx context.Context, provider identity.ProviderID, result identity.AuthResult) {
	profile := buildProfile(provider, result)

	if provider == identity.ProviderOrganization && m.enricher != nil && result.AccessToken != "" {
		info, err := m.enricher.Fetch(ctx, result.AccessToken)
		if err != nil {
			m.logger.Warn("profile enrichment failed", "provider", provider, "error", err)
		} else {
			profile = enrichProfile(profile, info)
		}
	}

	account := result.Account
	m.update(func(s *Session) {
		*s = Session{
			Provider:    provider,
			Account:     &account,
			AccessToken: result.AccessToken,
			User:        &profile,
			Status:      StatusAuthenticated,
		}
	})
}

func buildProfile(provider identity.ProviderID, result identity.AuthResult) UserProfile {
	name := result.Account.Name
	if name == "" {
		name = result.Claims.Name
	}
	if name == "" {
		name = unknownUserName
	}

	email := result.Account.Username
	if email == "" {
		email = result.Claims.Username()
	}

	tenant := result.Account.TenantID
	if tenant == "" {
		tenant = result.Claims.TenantID
	}

	roles := append([]string{}, result.Claims.Roles...)
	return UserProfile{
		ID:       result.Account.ID,
		Name:     name,
		Email:    email,
		UserType: userTypeFor(provider),
		Roles:    roles,
		TenantID: tenant,
		IsAdmin:  hasRole(roles, "Admin"),
	}
}

func enrichProfile(profile UserProfile, info identity.UserInfo) UserProfile {
	if info.DisplayName != "" {
		profile.Name = info.DisplayName
	}
	if email := info.Email(); email != "" {
		profile.Email = email
	}
	profile.Roles = mergeRoles(profile.Roles, info.Roles)
	profile.IsAdmin = hasRole(profile.Roles, "Admin")
	return profile
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.clone()
}

// AccessToken returns the current bearer token, or ErrNotAuthenticated.
func (m *Manager) AccessToken() (string, error) {
	snap := m.Snapshot()
	if !snap.Authenticated() {
		return "", ErrNotAuthenticated
	}
	return snap.AccessToken, nil
}

// Busy reports whether an identity operation is in flight.
func (m *Manager) Busy() bool {
	if m.busy.TryLock() {
		m.busy.Unlock()
		return false
	}
	return true
}

// Subscribe streams session snapshots, starting with the current one.
// Slow subscribers only see the latest snapshot. cancel must be called to release the channel.
func (m *Manager) Subscribe() (<-chan Session, func()) {
	id := uuid.New()
	ch := make(chan Session, 1)

	m.mu.Lock()
	ch <- m.session.clone()
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Manager) update(mutate func(*Session)) {
	m.mu.Lock()
	previous := m.session.Status
	mutate(&m.session)
	snap := m.session.clone()
	for _, ch := range m.subs {
		deliverLatest(ch, snap)
	}
	m.mu.Unlock()

	if snap.Status != previous {
		m.recorder.RecordSessionStatus(string(snap.Status))
	}
}

func deliverLatest(ch chan Session, snap Session) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// IsNonFatal reports whether err leaves the session in a consistent state the
// caller can continue from.
func IsNonFatal(err error) bool {
	var logoutErr *LogoutError
	return err == nil || errors.As(err, &logoutErr)
}
