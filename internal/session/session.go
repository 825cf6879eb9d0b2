package session

import (
	"errors"
	"fmt"

	"learnhub/internal/identity"
)

var (
	// ErrBusy is returned when another identity operation is already in flight.
	ErrBusy = errors.New("another authentication operation is in progress")
	// ErrUnknownProvider is returned for provider ids the manager has no client for.
	ErrUnknownProvider = identity.ErrUnknownProvider
	// ErrNotAuthenticated is returned when an access token is requested without a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Status is the lifecycle state of the session.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusError           Status = "error"
)

// Label returns a human readable name for the status.
func (s Status) Label() string {
	switch s {
	case StatusUninitialized:
		return "Starting"
	case StatusLoading:
		return "Signing in"
	case StatusAuthenticated:
		return "Signed in"
	case StatusUnauthenticated:
		return "Signed out"
	case StatusError:
		return "Sign-in failed"
	default:
		return "Unknown"
	}
}

// Tone maps the status to a presentation colour family.
func (s Status) Tone() string {
	switch s {
	case StatusUninitialized, StatusUnauthenticated:
		return "subtle"
	case StatusLoading:
		return "brand"
	case StatusAuthenticated:
		return "success"
	case StatusError:
		return "danger"
	default:
		return "subtle"
	}
}

// UserType distinguishes organization members from personal-account consumers.
type UserType string

const (
	UserTypeOrganization UserType = "organization"
	UserTypePersonal     UserType = "personal"
)

func userTypeFor(provider identity.ProviderID) UserType {
	switch provider {
	case identity.ProviderOrganization:
		return UserTypeOrganization
	case identity.ProviderPersonal:
		return UserTypePersonal
	default:
		return ""
	}
}

// Label returns the badge text for the user type.
func (t UserType) Label() string {
	switch t {
	case UserTypeOrganization:
		return "Organization"
	case UserTypePersonal:
		return "Personal"
	default:
		return "User"
	}
}

// Tone returns the badge colour family for the user type.
func (t UserType) Tone() string {
	switch t {
	case UserTypeOrganization:
		return "brand"
	case UserTypePersonal:
		return "success"
	default:
		return "subtle"
	}
}

// UserProfile is the presentation view of the signed-in user.
type UserProfile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	UserType UserType `json:"userType"`
	Roles    []string `json:"roles"`
	TenantID string   `json:"tenantId,omitempty"`
	IsAdmin  bool     `json:"isAdmin"`
}

// Session is the single authoritative authentication state.
type Session struct {
	Provider    identity.ProviderID `json:"provider,omitempty"`
	Candidate   identity.ProviderID `json:"candidate,omitempty"`
	Account     *identity.Account   `json:"account,omitempty"`
	AccessToken string              `json:"-"`
	User        *UserProfile        `json:"user,omitempty"`
	Status      Status              `json:"status"`
	LastError   string              `json:"lastError,omitempty"`
}

// Authenticated reports whether the session carries a usable identity.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil && s.AccessToken != ""
}

func (s Session) clone() Session {
	out := s
	if s.Account != nil {
		account := *s.Account
		out.Account = &account
	}
	if s.User != nil {
		user := *s.User
		user.Roles = append([]string(nil), s.User.Roles...)
		out.User = &user
	}
	return out
}

// Outcome classifies how a token acquisition attempt ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	AcquiredSilently
	AcquiredInteractively
	SilentFailed
	InteractiveFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case AcquiredSilently:
		return "acquired_silently"
	case AcquiredInteractively:
		return "acquired_interactively"
	case SilentFailed:
		return "silent_failed"
	case InteractiveFailed:
		return "interactive_failed"
	default:
		return "unknown"
	}
}

// Acquisition reports the result of a sign-in attempt. Reason carries the
// failure for failed outcomes, or the silent failure that preceded an
// interactive success.
type Acquisition struct {
	Provider identity.ProviderID
	Outcome  Outcome
	Reason   error
}

// Succeeded reports whether a token was obtained.
func (a Acquisition) Succeeded() bool {
	return a.Outcome == AcquiredSilently || a.Outcome == AcquiredInteractively
}

// LoginError is returned when both silent and interactive acquisition fail.
type LoginError struct {
	Provider identity.ProviderID
	Silent   error
	Err      error
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("%s sign-in failed: %v", e.Provider.Label(), e.Err)
	if e.Silent != nil {
		msg += fmt.Sprintf(" (silent attempt: %v)", e.Silent)
	}
	return msg
}

func (e *LoginError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Silent != nil {
		errs = append(errs, e.Silent)
	}
	return errs
}

// LogoutError records a provider sign-out failure. Local state is cleared regardless.
type LogoutError struct {
	Provider identity.ProviderID
	Err      error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("%s sign-out failed: %v", e.Provider.Label(), e.Err)
}

func (e *LogoutError) Unwrap() error {
	return e.Err
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func mergeRoles(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, r := range list {
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
