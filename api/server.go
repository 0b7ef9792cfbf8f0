/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One structured zap line per request (method, path,
                 status, duration, request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/requests/*       Request lifecycle
  /api/catalog          Advisory service catalog
  /api/consultants/*    Consultant pool
  /api/admin/*          Role directory
  /api/insights/*       Rollups

SECURITY NOTE:
  No authentication middleware. The X-User-Id header is trusted; role
  gates are enforced by the engine against the user directory.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Request lifecycle
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequests)
			r.Get("/", h.ListRequests)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequest)
				r.Get("/history", h.GetHistory)
				r.Get("/transitions", h.ListTransitions)
				r.Post("/transition", h.Transition)
				r.Post("/reassign", h.Reassign)
				r.Put("/selection", h.SaveSelection)
				r.Get("/estimation", h.GetEstimation)
				r.Get("/timesheet", h.GetTimesheet)
				r.Post("/timesheet/completion", h.UpdateCompletion)
				r.Get("/timesheet/export", h.ExportTimesheet)
			})
		})

		// Catalog
		r.Get("/catalog", h.GetCatalog)

		// Consultant pool
		r.Route("/consultants", func(r chi.Router) {
			r.Get("/", h.ListConsultants)
			r.Post("/", h.SaveConsultant)
		})

		// Role directory
		r.Route("/admin", func(r chi.Router) {
			r.Post("/users", h.SaveUser)
		})

		// Insights
		r.Route("/insights", func(r chi.Router) {
			r.Get("/status-summary", h.StatusSummary)
		})
	})

	return r
}

// requestLogger emits one structured line per completed request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
