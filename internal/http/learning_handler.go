package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"learnhub/internal/learning"
)

const maxRecommendationLimit = 50

type learningService interface {
	Authorize(token string)
	GetCourses(ctx context.Context) ([]learning.Course, error)
	GetCourse(ctx context.Context, id int) (*learning.Course, error)
	GetCourseModules(ctx context.Context, courseID int) ([]learning.CourseModule, error)
	GetUserCourses(ctx context.Context, email string) ([]learning.UserCourse, error)
	GetUserStats(ctx context.Context, email string) (learning.UserStats, error)
	GetRecommendedCourses(ctx context.Context, email string, limit int) ([]learning.Course, error)
	GetUserCertificates(ctx context.Context, email string) ([]learning.Certificate, error)
	EnrollUser(ctx context.Context, email string, courseID int) (learning.Enrollment, error)
	UpdateUserProgress(ctx context.Context, email string, courseID int, moduleID *int, update learning.ProgressUpdate) error
}

type transcriptExporter interface {
	Export(w io.Writer, courses []learning.UserCourse) error
}

// LearningHandler exposes catalogue and learner views.
type LearningHandler struct {
	service  learningService
	exporter transcriptExporter
	logger   *slog.Logger
}

// NewLearningHandler creates a handler.
func NewLearningHandler(service learningService, exporter transcriptExporter, logger *slog.Logger) *LearningHandler {
	return &LearningHandler{service: service, exporter: exporter, logger: logger}
}

// writeView answers 200 with value under key. A degraded aggregation is still
// a 200, with the display message under "error" next to the empty value.
func (h *LearningHandler) writeView(w http.ResponseWriter, key string, value any, err error) {
	if err != nil {
		var aggErr *learning.AggregationError
		if errors.As(err, &aggErr) {
			writeJSON(w, http.StatusOK, map[string]any{key: value, "error": aggErr.Message()})
			return
		}
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{key: value})
}

func (h *LearningHandler) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *learning.ValidationError
	var aggErr *learning.AggregationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, learning.ErrCourseNotFound):
		writeError(w, http.StatusNotFound, "course not found")
	case errors.As(err, &aggErr):
		writeError(w, http.StatusBadGateway, aggErr.Message())
	default:
		h.logger.Error("learning service error", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}

// Courses handles GET /api/courses.
func (h *LearningHandler) Courses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.GetCourses(r.Context())
	h.writeView(w, "courses", courses, err)
}

// Course handles GET /api/courses/{id}.
func (h *LearningHandler) Course(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	course, err := h.service.GetCourse(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// CourseModules handles GET /api/courses/{id}/modules.
func (h *LearningHandler) CourseModules(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	modules, err := h.service.GetCourseModules(r.Context(), id)
	h.writeView(w, "modules", modules, err)
}

// MyCourses handles GET /api/me/courses.
func (h *LearningHandler) MyCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.GetUserCourses(r.Context(), UserEmailFromContext(r.Context()))
	h.writeView(w, "courses", courses, err)
}

// ExportTranscript handles GET /api/me/courses.csv.
func (h *LearningHandler) ExportTranscript(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.GetUserCourses(r.Context(), UserEmailFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Export(&buf, courses); err != nil {
		h.logger.Error("export transcript", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export transcript")
		return
	}

	filename := "learnhub-transcript-" + time.Now().UTC().Format("2006-01-02") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// MyStats handles GET /api/me/stats.
func (h *LearningHandler) MyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetUserStats(r.Context(), UserEmailFromContext(r.Context()))
	h.writeView(w, "stats", stats, err)
}

// MyRecommendations handles GET /api/me/recommendations.
func (h *LearningHandler) MyRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > maxRecommendationLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = value
	}

	courses, err := h.service.GetRecommendedCourses(r.Context(), UserEmailFromContext(r.Context()), limit)
	h.writeView(w, "courses", courses, err)
}

// MyCertificates handles GET /api/me/certificates.
func (h *LearningHandler) MyCertificates(w http.ResponseWriter, r *http.Request) {
	certificates, err := h.service.GetUserCertificates(r.Context(), UserEmailFromContext(r.Context()))
	h.writeView(w, "certificates", certificates, err)
}

// Enroll handles POST /api/me/enrollments.
func (h *LearningHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CourseID int `json:"courseId"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	enrollment, err := h.service.EnrollUser(r.Context(), UserEmailFromContext(r.Context()), payload.CourseID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollment)
}

// UpdateProgress handles PUT /api/me/progress.
func (h *LearningHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CourseID         int        `json:"courseId"`
		ModuleID         *int       `json:"moduleId"`
		Status           string     `json:"status"`
		Percentage       *int       `json:"percentage"`
		TimeSpentMinutes *int       `json:"timeSpentMinutes"`
		StartedAt        *time.Time `json:"startedAt"`
		CompletedAt      *time.Time `json:"completedAt"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	err := h.service.UpdateUserProgress(r.Context(), UserEmailFromContext(r.Context()), payload.CourseID, payload.ModuleID, learning.ProgressUpdate{
		Status:           learning.ProgressStatus(payload.Status),
		Percentage:       payload.Percentage,
		TimeSpentMinutes: payload.TimeSpentMinutes,
		StartedAt:        payload.StartedAt,
		CompletedAt:      payload.CompletedAt,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
