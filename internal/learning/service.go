package learning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"learnhub/internal/content"
)

const (
	defaultRecommendationLimit = 5
	streakWindow               = 30 * 24 * time.Hour
	maxStreak                  = 30
)

// Operation names reported in AggregationError and metrics.
const (
	OpCourses         = "courses"
	OpCourse          = "course"
	OpCourseModules   = "course_modules"
	OpUserCourses     = "user_courses"
	OpUserStats       = "user_stats"
	OpRecommendations = "recommendations"
	OpCertificates    = "certificates"
	OpEnroll          = "enroll"
	OpUpdateProgress  = "update_progress"
)

// AggregationError reports that a composed operation degraded to an empty or
// default result because one of its queries failed.
type AggregationError struct {
	Op  string
	Err error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// Message is a short description suitable for an error banner.
func (e *AggregationError) Message() string {
	switch e.Op {
	case OpCourses, OpCourse, OpCourseModules:
		return "Unable to load courses. Please try again."
	case OpUserCourses:
		return "Unable to load your courses. Please try again."
	case OpUserStats:
		return "Unable to load your learning statistics."
	case OpRecommendations:
		return "Unable to load recommendations."
	case OpCertificates:
		return "Unable to load your certificates."
	case OpEnroll:
		return "Enrollment failed. Please try again."
	case OpUpdateProgress:
		return "Your progress could not be saved."
	default:
		return "Something went wrong. Please try again."
	}
}

// ContentClient is the subset of the remote content client the service uses.
type ContentClient interface {
	SetAccessToken(token string)
	List(ctx context.Context, list string, filter content.Filter) ([]content.Item, error)
	Get(ctx context.Context, list, id string) (content.Item, error)
	Create(ctx context.Context, list string, fields any) (content.Item, error)
	Update(ctx context.Context, list, id string, fields any) error
}

// Recorder counts degraded operations.
type Recorder interface {
	RecordAggregationFailure(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAggregationFailure(string) {}

// Service composes remote list queries into learner view models.
type Service struct {
	content  ContentClient
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyedMutex
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service over the content client.
func NewService(client ContentClient, opts ...Option) *Service {
	s := &Service{
		content:  client,
		recorder: nopRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize copies the session's access token into the content client. Call
// it before each batch of operations.
func (s *Service) Authorize(token string) {
	s.content.SetAccessToken(token)
}

func (s *Service) degrade(op string, err error) error {
	s.logger.Error("aggregation failed", "op", op, "error", err)
	s.recorder.RecordAggregationFailure(op)
	return &AggregationError{Op: op, Err: err}
}

func (s *Service) listCourses(ctx context.Context) ([]Course, error) {
	items, err := s.content.List(ctx, ListCourses, content.EqBool("IsActive", true))
	if err != nil {
		return nil, err
	}
	return decodeAll(items, decodeCourse)
}

func (s *Service) listProgress(ctx context.Context, email string) ([]Progress, error) {
	items, err := s.content.List(ctx, ListProgress, content.Eq("UserEmail", email))
	if err != nil {
		return nil, err
	}
	return decodeAll(items, decodeProgress)
}

func (s *Service) listEnrollments(ctx context.Context, email string) ([]Enrollment, error) {
	items, err := s.content.List(ctx, ListEnrollments, content.Eq("UserEmail", email))
	if err != nil {
		return nil, err
	}
	return decodeAll(items, decodeEnrollment)
}

func (s *Service) listCertificates(ctx context.Context, email string) ([]Certificate, error) {
	items, err := s.content.List(ctx, ListCertificates, content.Eq("UserEmail", email))
	if err != nil {
		return nil, err
	}
	return decodeAll(items, decodeCertificate)
}

// GetCourses returns the active courses. On failure it returns an empty slice
// alongside an *AggregationError.
func (s *Service) GetCourses(ctx context.Context) ([]Course, error) {
	courses, err := s.listCourses(ctx)
	if err != nil {
		return []Course{}, s.degrade(OpCourses, err)
	}
	return courses, nil
}

// GetCourse returns one course by id, or ErrCourseNotFound.
func (s *Service) GetCourse(ctx context.Context, id int) (*Course, error) {
	item, err := s.content.Get(ctx, ListCourses, strconv.Itoa(id))
	if err != nil {
		if content.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrCourseNotFound, id)
		}
		return nil, s.degrade(OpCourse, err)
	}
	course, err := decodeCourse(item)
	if err != nil {
		return nil, s.degrade(OpCourse, err)
	}
	return &course, nil
}

// GetCourseModules returns a course's modules ordered by OrderIndex.
func (s *Service) GetCourseModules(ctx context.Context, courseID int) ([]CourseModule, error) {
	items, err := s.content.List(ctx, ListCourseContent, content.EqInt("CourseId", courseID))
	if err != nil {
		return []CourseModule{}, s.degrade(OpCourseModules, err)
	}
	modules, err := decodeAll(items, decodeModule)
	if err != nil {
		return []CourseModule{}, s.degrade(OpCourseModules, err)
	}
	slices.SortStableFunc(modules, func(a, b CourseModule) int {
		return a.OrderIndex - b.OrderIndex
	})
	return modules, nil
}

// GetUserCourses returns the courses the user is enrolled in, each joined with
// the first matching progress and enrollment rows. Courses, progress and
// enrollments are fetched concurrently; any failure fails the whole view.
func (s *Service) GetUserCourses(ctx context.Context, email string) ([]UserCourse, error) {
	var (
		courses     []Course
		progress    []Progress
		enrollments []Enrollment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		courses, err = s.listCourses(gctx)
		return err
	})
	g.Go(func() (err error) {
		progress, err = s.listProgress(gctx, email)
		return err
	})
	g.Go(func() (err error) {
		enrollments, err = s.listEnrollments(gctx, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return []UserCourse{}, s.degrade(OpUserCourses, err)
	}

	return joinUserCourses(courses, progress, enrollments), nil
}

func joinUserCourses(courses []Course, progress []Progress, enrollments []Enrollment) []UserCourse {
	enrolled := make(map[int]struct{}, len(enrollments))
	for _, e := range enrollments {
		enrolled[e.CourseID] = struct{}{}
	}

	out := make([]UserCourse, 0, len(enrollments))
	for _, course := range courses {
		if _, ok := enrolled[course.ID]; !ok {
			continue
		}
		view := UserCourse{Course: course}
		if i := slices.IndexFunc(progress, func(p Progress) bool { return p.CourseID == course.ID }); i >= 0 {
			p := progress[i]
			view.Progress = &p
		}
		if i := slices.IndexFunc(enrollments, func(e Enrollment) bool { return e.CourseID == course.ID }); i >= 0 {
			e := enrollments[i]
			view.Enrollment = &e
		}
		out = append(out, view)
	}
	return out
}

// GetUserStats summarises progress and certificates. CurrentStreak counts
// progress rows touched in the last 30 days, capped at 30; it is not a count
// of distinct days.
func (s *Service) GetUserStats(ctx context.Context, email string) (UserStats, error) {
	var (
		progress     []Progress
		certificates []Certificate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		progress, err = s.listProgress(gctx, email)
		return err
	})
	g.Go(func() (err error) {
		certificates, err = s.listCertificates(gctx, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return UserStats{}, s.degrade(OpUserStats, err)
	}

	return computeStats(progress, len(certificates), s.now()), nil
}

func computeStats(progress []Progress, certificates int, now time.Time) UserStats {
	stats := UserStats{CertificatesEarned: certificates}
	cutoff := now.Add(-streakWindow)
	minutes := 0
	recent := 0
	for _, p := range progress {
		switch p.Status {
		case ProgressCompleted:
			stats.CoursesCompleted++
		case ProgressInProgress:
			stats.CoursesInProgress++
		}
		minutes += p.TimeSpentMinutes
		if p.LastAccessedAt.After(cutoff) {
			recent++
		}
	}
	stats.TotalHoursLearned = minutes / 60
	stats.CurrentStreak = min(recent, maxStreak)
	return stats
}

// GetRecommendedCourses returns up to limit active courses the user has not
// completed, restricted to categories of completed courses. With no completed
// categories the category restriction is dropped.
func (s *Service) GetRecommendedCourses(ctx context.Context, email string, limit int) ([]Course, error) {
	if limit <= 0 {
		limit = defaultRecommendationLimit
	}

	var (
		courses  []Course
		progress []Progress
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		courses, err = s.listCourses(gctx)
		return err
	})
	g.Go(func() (err error) {
		progress, err = s.listProgress(gctx, email)
		return err
	})
	if err := g.Wait(); err != nil {
		return []Course{}, s.degrade(OpRecommendations, err)
	}

	return recommend(courses, progress, limit), nil
}

func recommend(courses []Course, progress []Progress, limit int) []Course {
	completed := make(map[int]struct{})
	for _, p := range progress {
		if p.Status == ProgressCompleted {
			completed[p.CourseID] = struct{}{}
		}
	}

	categories := make(map[string]struct{})
	for _, c := range courses {
		if _, ok := completed[c.ID]; ok {
			categories[c.Category] = struct{}{}
		}
	}

	out := make([]Course, 0, limit)
	for _, c := range courses {
		if len(out) == limit {
			break
		}
		if _, done := completed[c.ID]; done {
			continue
		}
		if len(categories) > 0 {
			if _, ok := categories[c.Category]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// GetUserCertificates returns the certificates issued to the user.
func (s *Service) GetUserCertificates(ctx context.Context, email string) ([]Certificate, error) {
	certificates, err := s.listCertificates(ctx, email)
	if err != nil {
		return []Certificate{}, s.degrade(OpCertificates, err)
	}
	return certificates, nil
}

// EnrollUser creates an Active enrollment. Existing enrollments are not
// checked, so repeated calls create duplicate rows.
func (s *Service) EnrollUser(ctx context.Context, email string, courseID int) (Enrollment, error) {
	if err := validateKey(email, courseID); err != nil {
		return Enrollment{}, err
	}

	now := s.now().UTC()
	fields := map[string]any{
		"UserEmail":    email,
		"CourseId":     courseID,
		"EnrolledDate": now.Format(time.RFC3339),
		"Status":       string(EnrollmentActive),
	}
	item, err := s.content.Create(ctx, ListEnrollments, fields)
	if err != nil {
		return Enrollment{}, s.degrade(OpEnroll, err)
	}

	enrollment := Enrollment{
		UserEmail:  email,
		CourseID:   courseID,
		EnrolledAt: now,
		Status:     EnrollmentActive,
	}
	if id, err := strconv.Atoi(item.ID); err == nil {
		enrollment.ID = id
	}
	s.logger.Info("user enrolled", "course_id", courseID)
	return enrollment, nil
}

// UpdateUserProgress upserts the progress row for (email, courseID, moduleID).
// A nil moduleID targets the course-level row only. Upserts for the same key
// are serialized within this process; concurrent writers in other processes
// can still create duplicate rows.
func (s *Service) UpdateUserProgress(ctx context.Context, email string, courseID int, moduleID *int, update ProgressUpdate) error {
	if err := validateKey(email, courseID); err != nil {
		return err
	}
	if err := update.validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(progressKey(email, courseID, moduleID))
	defer unlock()

	filter := content.Eq("UserEmail", email).And(content.EqInt("CourseId", courseID))
	if moduleID == nil {
		filter = filter.And(content.IsNull("ModuleId"))
	} else {
		filter = filter.And(content.EqInt("ModuleId", *moduleID))
	}

	existing, err := s.content.List(ctx, ListProgress, filter)
	if err != nil {
		return s.degrade(OpUpdateProgress, err)
	}

	fields := progressFieldsFor(email, courseID, moduleID, update, s.now().UTC())
	if len(existing) > 0 {
		if len(existing) > 1 {
			s.logger.Warn("duplicate progress rows", "course_id", courseID, "rows", len(existing))
		}
		if err := s.content.Update(ctx, ListProgress, existing[0].ID, fields); err != nil {
			return s.degrade(OpUpdateProgress, err)
		}
		return nil
	}

	if _, err := s.content.Create(ctx, ListProgress, fields); err != nil {
		return s.degrade(OpUpdateProgress, err)
	}
	return nil
}

func progressFieldsFor(email string, courseID int, moduleID *int, update ProgressUpdate, now time.Time) map[string]any {
	fields := map[string]any{
		"UserEmail":        email,
		"CourseId":         courseID,
		"ModuleId":         nil,
		"LastAccessedDate": now.Format(time.RFC3339),
	}
	if moduleID != nil {
		fields["ModuleId"] = *moduleID
	}
	if update.Status != "" {
		fields["Status"] = string(update.Status)
	}
	if update.Percentage != nil {
		fields["ProgressPercentage"] = *update.Percentage
	}
	if update.TimeSpentMinutes != nil {
		fields["TimeSpent"] = *update.TimeSpentMinutes
	}
	if update.StartedAt != nil {
		fields["StartedDate"] = update.StartedAt.UTC().Format(time.RFC3339)
	}
	if update.CompletedAt != nil {
		fields["CompletedDate"] = update.CompletedAt.UTC().Format(time.RFC3339)
	}
	return fields
}

func validateKey(email string, courseID int) error {
	if email == "" {
		return &ValidationError{Message: "user email is required"}
	}
	if courseID <= 0 {
		return &ValidationError{Message: "course id must be positive"}
	}
	return nil
}

func progressKey(email string, courseID int, moduleID *int) string {
	module := "course"
	if moduleID != nil {
		module = strconv.Itoa(*moduleID)
	}
	return fmt.Sprintf("%s|%d|%s", email, courseID, module)
}

// IsDegraded reports whether err came from a failed aggregation query.
func IsDegraded(err error) bool {
	var aggErr *AggregationError
	return errors.As(err, &aggErr)
}
