// Package httptransport is the thin HTTP layer. Handlers validate request
// shape and forward to the core services; no resilience or compliance logic
// lives here.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carecore/internal/audit"
	"carecore/internal/bulkhead"
	"carecore/internal/session"
)

// AuditReader exposes recent audit events for the operational endpoint. The
// in-memory sink implements it; with a remote sink the endpoint reports the
// buffer depth alone.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Handler holds the core services the routes forward to.
type Handler struct {
	logger    *slog.Logger
	sessions  *session.Manager
	tokens    *session.TokenService
	bulkheads *bulkhead.Registry
	audit     *audit.Logger
	reader    AuditReader
}

// Option configures the Handler.
type Option func(*Handler)

// WithAuditReader exposes GET /audit/recent backed by the given sink.
func WithAuditReader(r AuditReader) Option {
	return func(h *Handler) { h.reader = r }
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	sessions *session.Manager,
	tokens *session.TokenService,
	bulkheads *bulkhead.Registry,
	auditLog *audit.Logger,
	logger *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		logger:    logger,
		sessions:  sessions,
		tokens:    tokens,
		bulkheads: bulkheads,
		audit:     auditLog,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/{id}", h.handleSessionStatus)
		r.Post("/{id}/touch", h.handleTouchSession)
		r.Post("/{id}/expire", h.handleExpireSession)
		r.Delete("/{id}", h.handleTeardownSession)
	})

	r.Route("/bulkheads", func(r chi.Router) {
		r.Get("/", h.handleBulkheadStats)
		r.Post("/drain", h.handleDrain)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Get("/recent", h.handleRecentAudit)
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
