package http

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"learnhub/internal/identity"
	"learnhub/internal/learning"
	"learnhub/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionStub struct {
	mu       sync.Mutex
	snapshot session.Session
	busy     bool
	subs     []chan session.Session

	loginFn  func(ctx context.Context, provider identity.ProviderID) (session.Acquisition, error)
	logoutFn func(ctx context.Context) error
	switchFn func(ctx context.Context, provider identity.ProviderID) error
}

func (s *sessionStub) Snapshot() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *sessionStub) set(snap session.Session) {
	s.mu.Lock()
	s.snapshot = snap
	subs := append([]chan session.Session(nil), s.subs...)
	s.mu.Unlock()
	for _, ch := range subs {
		ch <- snap
	}
}

func (s *sessionStub) AccessToken() (string, error) {
	snap := s.Snapshot()
	if !snap.Authenticated() {
		return "", session.ErrNotAuthenticated
	}
	return snap.AccessToken, nil
}

func (s *sessionStub) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *sessionStub) Login(ctx context.Context, provider identity.ProviderID) (session.Acquisition, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, provider)
	}
	return session.Acquisition{Provider: provider, Outcome: session.AcquiredSilently}, nil
}

func (s *sessionStub) Logout(ctx context.Context) error {
	if s.logoutFn != nil {
		return s.logoutFn(ctx)
	}
	s.set(session.Session{Status: session.StatusUnauthenticated})
	return nil
}

func (s *sessionStub) SwitchProvider(ctx context.Context, provider identity.ProviderID) error {
	if s.switchFn != nil {
		return s.switchFn(ctx, provider)
	}
	s.set(session.Session{Candidate: provider, Status: session.StatusUnauthenticated})
	return nil
}

func (s *sessionStub) Subscribe() (<-chan session.Session, func()) {
	ch := make(chan session.Session, 4)
	s.mu.Lock()
	ch <- s.snapshot
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch, func() {}
}

func authenticatedSession() session.Session {
	return session.Session{
		Provider:    identity.ProviderOrganization,
		Account:     &identity.Account{ID: "oid.tid", Provider: identity.ProviderOrganization, Username: "learner@example.com"},
		AccessToken: "access-1",
		User: &session.UserProfile{
			ID:       "oid.tid",
			Name:     "Learner",
			Email:    "learner@example.com",
			UserType: session.UserTypeOrganization,
		},
		Status: session.StatusAuthenticated,
	}
}

type endSessionStub string

func (e endSessionStub) EndSessionURL(identity.Account) string { return string(e) }

type learningStub struct {
	token string

	getCourses     func(ctx context.Context) ([]learning.Course, error)
	getCourse      func(ctx context.Context, id int) (*learning.Course, error)
	getModules     func(ctx context.Context, courseID int) ([]learning.CourseModule, error)
	getUserCourses func(ctx context.Context, email string) ([]learning.UserCourse, error)
	getUserStats   func(ctx context.Context, email string) (learning.UserStats, error)
	getRecommended func(ctx context.Context, email string, limit int) ([]learning.Course, error)
	getCerts       func(ctx context.Context, email string) ([]learning.Certificate, error)
	enroll         func(ctx context.Context, email string, courseID int) (learning.Enrollment, error)
	updateProgress func(ctx context.Context, email string, courseID int, moduleID *int, update learning.ProgressUpdate) error
}

func (l *learningStub) Authorize(token string) { l.token = token }

func (l *learningStub) GetCourses(ctx context.Context) ([]learning.Course, error) {
	if l.getCourses != nil {
		return l.getCourses(ctx)
	}
	return []learning.Course{}, nil
}

func (l *learningStub) GetCourse(ctx context.Context, id int) (*learning.Course, error) {
	if l.getCourse != nil {
		return l.getCourse(ctx, id)
	}
	return &learning.Course{ID: id}, nil
}

func (l *learningStub) GetCourseModules(ctx context.Context, courseID int) ([]learning.CourseModule, error) {
	if l.getModules != nil {
		return l.getModules(ctx, courseID)
	}
	return []learning.CourseModule{}, nil
}

func (l *learningStub) GetUserCourses(ctx context.Context, email string) ([]learning.UserCourse, error) {
	if l.getUserCourses != nil {
		return l.getUserCourses(ctx, email)
	}
	return []learning.UserCourse{}, nil
}

func (l *learningStub) GetUserStats(ctx context.Context, email string) (learning.UserStats, error) {
	if l.getUserStats != nil {
		return l.getUserStats(ctx, email)
	}
	return learning.UserStats{}, nil
}

func (l *learningStub) GetRecommendedCourses(ctx context.Context, email string, limit int) ([]learning.Course, error) {
	if l.getRecommended != nil {
		return l.getRecommended(ctx, email, limit)
	}
	return []learning.Course{}, nil
}

func (l *learningStub) GetUserCertificates(ctx context.Context, email string) ([]learning.Certificate, error) {
	if l.getCerts != nil {
		return l.getCerts(ctx, email)
	}
	return []learning.Certificate{}, nil
}

func (l *learningStub) EnrollUser(ctx context.Context, email string, courseID int) (learning.Enrollment, error) {
	if l.enroll != nil {
		return l.enroll(ctx, email, courseID)
	}
	return learning.Enrollment{UserEmail: email, CourseID: courseID, Status: learning.EnrollmentActive}, nil
}

func (l *learningStub) UpdateUserProgress(ctx context.Context, email string, courseID int, moduleID *int, update learning.ProgressUpdate) error {
	if l.updateProgress != nil {
		return l.updateProgress(ctx, email, courseID, moduleID, update)
	}
	return nil
}
