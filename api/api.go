// Package api exposes the gatehouse security middleware over HTTP: token
// issuance, upload validation, payload sanitization, and session lifecycle,
// plus the middleware chain the dashboard's reverse proxy mounts in front
// of the venue services.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/trainstation/gatehouse/secure"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	mw      *secure.Middleware
	audit   *auditLogger
	anomaly *anomalyDetector
	metrics *promMetrics
	limiter *sessionRateLimiter
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events. If not set, a
// default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithAlertFunc registers a callback for anomaly alerts (CSRF rejection
// spikes, upload rejection spikes).
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.anomaly = newAnomalyDetector(fn)
	}
}

// New creates a new API instance around the middleware façade.
func New(mw *secure.Middleware, opts ...Option) *API {
	a := &API{
		mw:      mw,
		metrics: newPromMetrics(),
		limiter: newSessionRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.anomaly == nil {
		a.anomaly = newAnomalyDetector(nil)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(a.Instrument)
		r.Use(a.SecurityHeaders)

		r.Post("/session", a.CreateSession)
		r.With(a.EnsureSession).Get("/session", a.SessionStatus)
		r.With(a.EnsureSession).Delete("/session", a.DestroySession)

		r.With(a.EnsureSession).Get("/csrf/token", a.IssueCSRFToken)

		r.With(a.EnsureSession, a.CSRFMiddleware).Post("/sanitize", a.Sanitize)
		r.With(a.EnsureSession, a.CSRFMiddleware).Post("/uploads/validate", a.ValidateUpload)
	})

	return r
}
