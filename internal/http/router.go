package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"learnhub/internal/config"
	"learnhub/internal/identity"
)

// Dependencies groups the services the router exposes.
type Dependencies struct {
	Sessions   sessionManager
	Broker     promptBroker
	EndSession map[identity.ProviderID]EndSessionResolver
	Learning   learningService
	Exporter   transcriptExporter
	Metrics    http.Handler
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	sessionHandler := NewSessionHandler(deps.Sessions, deps.Broker, deps.EndSession, cfg.InteractiveLoginTimeout, logger)
	oauthHandler := NewOAuthHandler(deps.Broker, sessionHandler, cfg.FrontendURL, logger)
	learningHandler := NewLearningHandler(deps.Learning, deps.Exporter, logger)

	r.Route("/api", func(r chi.Router) {
		// Long-lived: the event stream and the login wait for the provider prompt.
		r.Get("/session/events", sessionHandler.Events)
		r.Post("/session/login", sessionHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/session", sessionHandler.Status)
			r.Post("/session/logout", sessionHandler.Logout)
			r.Post("/session/switch", sessionHandler.Switch)
			r.Get("/auth/callback", oauthHandler.Callback)

			r.Group(func(r chi.Router) {
				r.Use(newSessionMiddleware(deps.Sessions, deps.Learning))

				r.Route("/courses", func(r chi.Router) {
					r.Get("/", learningHandler.Courses)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", learningHandler.Course)
						r.Get("/modules", learningHandler.CourseModules)
					})
				})
				r.Route("/me", func(r chi.Router) {
					r.Get("/courses", learningHandler.MyCourses)
					r.Get("/courses.csv", learningHandler.ExportTranscript)
					r.Get("/stats", learningHandler.MyStats)
					r.Get("/recommendations", learningHandler.MyRecommendations)
					r.Get("/certificates", learningHandler.MyCertificates)
					r.Post("/enrollments", learningHandler.Enroll)
					r.Put("/progress", learningHandler.UpdateProgress)
				})
			})
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
