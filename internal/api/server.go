// Package api provides the HTTP server for MedGrab's booking core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teyyyyy/MedGrab/internal/app/executor"
	"github.com/teyyyyy/MedGrab/internal/app/lifecycle"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/app/sweep"
	"github.com/teyyyyy/MedGrab/internal/domain"
)

// Version is reported by /api/version.
var Version = "dev"

// Canceller runs one cancellation workflow synchronously.
type Canceller interface {
	ProcessCancellation(ctx context.Context, req domain.CancellationRequest) (domain.CancellationOutcome, error)
}

// Services are the use cases the server exposes. Tasks and Sweeper may be
// nil; their routes then answer 503.
type Services struct {
	Cancellations Canceller
	Lifecycle     *lifecycle.Service
	Ledger        *reputation.Ledger
	Policy        *reputation.Policy
	Tasks         *executor.Executor
	Sweeper       *sweep.Sweeper
}

// Server is the MedGrab HTTP API server.
type Server struct {
	svc            Services
	logger         *log.Logger
	timeout        time.Duration
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(svc Services, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{svc: svc, logger: logger, timeout: time.Minute}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetTimeout bounds the handling time of every request.
func (s *Server) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	r.Route("/api/bookings/{id}", func(r chi.Router) {
		r.Post("/cancel", s.handleCancel)
		r.Post("/accept", s.handleLifecycle(opAccept))
		r.Post("/reject", s.handleLifecycle(opReject))
		r.Post("/complete", s.handleLifecycle(opComplete))
	})

	r.Route("/api/cancellations", func(r chi.Router) {
		r.Post("/", s.handleSubmitCancellation)
		r.Get("/{id}", s.handleGetCancellation)
		r.Get("/stats", s.handleTaskStats)
	})

	r.Route("/api/nurses/{id}", func(r chi.Router) {
		r.Post("/check-status", s.handleCheckStatus)
		r.Get("/credit-log", s.handleCreditLog)
		r.Get("/cancellations/{month}", s.handleMonthlyCancellations)
	})

	r.Route("/api/sweep", func(r chi.Router) {
		r.Post("/", s.handleSweep)
		r.Get("/last", s.handleLastSweep)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// statusFor maps a use-case error onto an HTTP status.
func statusFor(err error) int {
	var reqErr *domain.RequestError
	switch {
	case errors.As(err, &reqErr), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case domain.IsNotFound(err), errors.Is(err, executor.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotAssigned),
		errors.Is(err, domain.ErrNurseSuspended),
		errors.Is(err, domain.ErrNoneEligible):
		return http.StatusConflict
	case errors.Is(err, executor.ErrAtCapacity):
		return http.StatusTooManyRequests
	}
	if ext, ok := domain.AsExternal(err); ok {
		if ext.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("[api] %s %s: %v (request %s)", r.Method, r.URL.Path, err, middleware.GetReqID(r.Context()))
	}
	writeError(w, status, err.Error())
}

// corsMiddleware adds CORS headers for the booking frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
