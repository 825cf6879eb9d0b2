package learning

import (
	"errors"
	"fmt"
	"time"
)

// Remote list names.
const (
	ListCourses       = "Courses"
	ListProgress      = "UserProgress"
	ListEnrollments   = "UserEnrollments"
	ListCourseContent = "CourseContent"
	ListCertificates  = "Certificates"
)

// ErrCourseNotFound is returned when a course id does not exist remotely.
var ErrCourseNotFound = errors.New("course not found")

// ValidationError wraps a validation message so callers can distinguish
// user errors from transport failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Difficulty grades how demanding a course is.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
)

func (d Difficulty) Label() string {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return string(d)
	default:
		return "Unrated"
	}
}

func (d Difficulty) Tone() string {
	switch d {
	case DifficultyBeginner:
		return "success"
	case DifficultyIntermediate:
		return "warning"
	case DifficultyAdvanced:
		return "danger"
	default:
		return "subtle"
	}
}

// EnrollmentStatus is the coarse lifecycle label of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "Active"
	EnrollmentCompleted EnrollmentStatus = "Completed"
	EnrollmentDropped   EnrollmentStatus = "Dropped"
)

func (s EnrollmentStatus) Label() string {
	switch s {
	case EnrollmentActive, EnrollmentCompleted, EnrollmentDropped:
		return string(s)
	default:
		return "Unknown"
	}
}

func (s EnrollmentStatus) Tone() string {
	switch s {
	case EnrollmentActive:
		return "brand"
	case EnrollmentCompleted:
		return "success"
	case EnrollmentDropped:
		return "subtle"
	default:
		return "subtle"
	}
}

// ProgressStatus tracks how far a learner is through a course or module.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "Not Started"
	ProgressInProgress ProgressStatus = "In Progress"
	ProgressCompleted  ProgressStatus = "Completed"
)

// Valid reports whether s is one of the declared statuses.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressNotStarted, ProgressInProgress, ProgressCompleted:
		return true
	default:
		return false
	}
}

func (s ProgressStatus) Label() string {
	if s.Valid() {
		return string(s)
	}
	return string(ProgressNotStarted)
}

func (s ProgressStatus) Tone() string {
	switch s {
	case ProgressCompleted:
		return "success"
	case ProgressInProgress:
		return "warning"
	case ProgressNotStarted:
		return "subtle"
	default:
		return "subtle"
	}
}

// ContentType identifies the medium of a course module.
type ContentType string

const (
	ContentVideo      ContentType = "Video"
	ContentDocument   ContentType = "Document"
	ContentQuiz       ContentType = "Quiz"
	ContentAssignment ContentType = "Assignment"
)

func (c ContentType) Label() string {
	switch c {
	case ContentVideo, ContentDocument, ContentQuiz, ContentAssignment:
		return string(c)
	default:
		return "Material"
	}
}

func (c ContentType) Tone() string {
	switch c {
	case ContentVideo:
		return "brand"
	case ContentDocument:
		return "subtle"
	case ContentQuiz:
		return "important"
	case ContentAssignment:
		return "warning"
	default:
		return "subtle"
	}
}

// Course is an entry in the course catalogue.
type Course struct {
	ID             int        `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Difficulty     Difficulty `json:"difficulty"`
	EstimatedHours float64    `json:"estimatedHours"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	IsActive       bool       `json:"isActive"`
	CreatedAt      time.Time  `json:"createdAt"`
	ModifiedAt     time.Time  `json:"modifiedAt"`
}

// CourseModule is one ordered unit of course material.
type CourseModule struct {
	ID              int         `json:"id"`
	CourseID        int         `json:"courseId"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	ContentType     ContentType `json:"contentType"`
	ContentURL      string      `json:"contentUrl,omitempty"`
	DurationMinutes int         `json:"durationMinutes"`
	OrderIndex      int         `json:"orderIndex"`
}

// Enrollment records that a user signed up for a course.
type Enrollment struct {
	ID             int              `json:"id"`
	UserEmail      string           `json:"userEmail"`
	CourseID       int              `json:"courseId"`
	EnrolledAt     time.Time        `json:"enrolledAt"`
	Status         EnrollmentStatus `json:"status"`
	CompletionDate *time.Time       `json:"completionDate,omitempty"`
	Grade          *float64         `json:"grade,omitempty"`
}

// Progress is a learner's completion state for a course, or for one module
// when ModuleID is set.
type Progress struct {
	ID               int            `json:"id"`
	UserEmail        string         `json:"userEmail"`
	CourseID         int            `json:"courseId"`
	ModuleID         *int           `json:"moduleId,omitempty"`
	Status           ProgressStatus `json:"status"`
	Percentage       int            `json:"percentage"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	LastAccessedAt   time.Time      `json:"lastAccessedAt"`
	TimeSpentMinutes int            `json:"timeSpentMinutes"`
}

// Certificate is issued externally when a course is completed.
type Certificate struct {
	ID                int        `json:"id"`
	UserEmail         string     `json:"userEmail"`
	CourseID          int        `json:"courseId"`
	CertificateNumber string     `json:"certificateNumber"`
	IssuedAt          time.Time  `json:"issuedAt"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	URL               string     `json:"url,omitempty"`
}

// UserCourse joins an enrolled course with the user's progress and enrollment rows.
type UserCourse struct {
	Course     Course      `json:"course"`
	Progress   *Progress   `json:"progress,omitempty"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
}

// Status returns the effective progress status, NotStarted without a progress row.
func (c UserCourse) Status() ProgressStatus {
	if c.Progress == nil {
		return ProgressNotStarted
	}
	return c.Progress.Status
}

// UserStats summarises a user's learning activity.
type UserStats struct {
	CoursesCompleted   int `json:"coursesCompleted"`
	CoursesInProgress  int `json:"coursesInProgress"`
	TotalHoursLearned  int `json:"totalHoursLearned"`
	CertificatesEarned int `json:"certificatesEarned"`
	CurrentStreak      int `json:"currentStreak"`
}

// ProgressUpdate carries the fields written by UpdateUserProgress. Nil fields
// are left untouched on an existing record.
type ProgressUpdate struct {
	Status           ProgressStatus `json:"status,omitempty"`
	Percentage       *int           `json:"percentage,omitempty"`
	TimeSpentMinutes *int           `json:"timeSpentMinutes,omitempty"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

func (u ProgressUpdate) validate() error {
	if u.Status != "" && !u.Status.Valid() {
		return &ValidationError{Message: fmt.Sprintf("unknown progress status %q", u.Status)}
	}
	if u.Percentage != nil && (*u.Percentage < 0 || *u.Percentage > 100) {
		return &ValidationError{Message: "percentage must be between 0 and 100"}
	}
	if u.TimeSpentMinutes != nil && *u.TimeSpentMinutes < 0 {
		return &ValidationError{Message: "time spent cannot be negative"}
	}
	return nil
}
