// Package api exposes internal/control over HTTP: a thin go-chi/v5 router
// translating JSON requests into Control calls, with go-chi/cors for the
// dashboard origin and a recovery/request-logging middleware chain in the
// style the pack's chi-based HTTP entry point uses (cmd/vecdex-main.go):
// a JSON-emitting recoverer, request-ID propagation, and one canonical log
// line per request.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"contentengine/internal/auth"
	"contentengine/internal/control"
	"contentengine/internal/logging"
	"contentengine/internal/observability"
)

// Config wires a Router to its collaborators.
type Config struct {
	Control       *control.Control
	Tokens        *auth.TokenService // required to protect mutation routes
	Metrics       *observability.Metrics
	AllowedOrigin string // dashboard origin for CORS; "*" if empty
	Logger        *slog.Logger
}

// NewRouter builds the full HTTP handler for the control surface.
func NewRouter(cfg Config) http.Handler {
	logger := logging.Default(cfg.Logger).With("component", "api")
	h := &handlers{control: cfg.Control, logger: logger}

	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chimiddleware.RequestID)
	r.Use(correlationMiddleware)
	r.Use(requestLogMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Handler().ServeHTTP)
	}

	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.Get("/counts", h.countsByPlatform)
	r.Get("/activity", h.recentActivity)
	r.Get("/languages", h.languageDistribution)
	r.Get("/search", h.search)

	admin := auth.RequireAdmin(cfg.Tokens)
	r.With(admin).Route("/jobs", func(r chi.Router) {
		r.Put("/{name}", h.reconfigureJob)
		r.Post("/{name}/trigger", h.triggerJob)
	})
	r.With(admin).Route("/scheduler", func(r chi.Router) {
		r.Post("/start", h.startScheduler)
		r.Post("/stop", h.stopScheduler)
	})
	r.With(admin).Post("/reset-failures", h.resetFailures)
	r.With(admin).Post("/harvest", h.adHocHarvest)

	return r
}

func jsonRecoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered", "panic", rvr, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type correlationIDKey struct{}

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := observability.NewCorrelationID()
		w.Header().Set("X-Correlation-ID", id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func requestLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency", time.Since(start),
				"correlation_id", correlationIDFrom(r.Context()),
			)
		})
	}
}
