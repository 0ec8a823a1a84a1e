// Package resilient decorates the booking core's collaborators with a
// per-call timeout, bounded retry with jittered exponential backoff, error
// classification into domain.ExternalServiceError, metrics and a client span.
//
// The core never retries; every retry decision lives here so the
// orchestrator's control flow stays deterministic.
package resilient

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config controls timeouts and retries for every decorated call.
type Config struct {
	Timeout         time.Duration `toml:"timeout"`          // per attempt
	MaxAttempts     uint          `toml:"max_attempts"`     // including the first
	InitialInterval time.Duration `toml:"initial_interval"` // first backoff
	MaxInterval     time.Duration `toml:"max_interval"`     // backoff cap
}

// DefaultConfig returns a 10s timeout and up to 3 attempts.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// ─── Wrapper ────────────────────────────────────────────────────────────────

// Wrapper builds decorated collaborators sharing one configuration.
type Wrapper struct {
	cfg    Config
	logger *log.Logger
	tracer trace.Tracer
}

// New creates a wrapper. A nil tracer uses the global provider.
func New(cfg Config, tracer trace.Tracer, logger *log.Logger) *Wrapper {
	if logger == nil {
		logger = log.Default()
	}
	if tracer == nil {
		tracer = observability.Tracer()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Wrapper{cfg: cfg, logger: logger, tracer: tracer}
}

// retry policy for one call site.
type policy bool

const (
	once       policy = false // writes that must not be repeated
	idempotent policy = true
)

// call runs fn under the wrapper's timeout and retry policy.
func call[T any](ctx context.Context, w *Wrapper, service, op string, p policy, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := w.tracer.Start(ctx, service+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("medgrab.service", service),
			attribute.String("medgrab.op", op),
		))
	defer span.End()

	start := time.Now()
	attempts := 0
	operation := func() (T, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		if p == once || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.InitialInterval
	eb.MaxInterval = w.cfg.MaxInterval

	maxTries := w.cfg.MaxAttempts
	if p == once {
		maxTries = 1
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.CollaboratorRetries.WithLabelValues(service, op).Inc()
			w.logger.Printf("[resilient] %s.%s attempt %d failed, retrying in %s: %v", service, op, attempts, next, err)
		}),
	)

	observability.CollaboratorLatency.WithLabelValues(service, op).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("medgrab.attempts", attempts))

	if err == nil {
		observability.CollaboratorCalls.WithLabelValues(service, op, "ok").Inc()
		return v, nil
	}
	if expected(err) {
		observability.CollaboratorCalls.WithLabelValues(service, op, "rejected").Inc()
		span.SetAttributes(attribute.String("medgrab.outcome", err.Error()))
		return v, err
	}

	ext := classify(service, op, err)
	observability.CollaboratorCalls.WithLabelValues(service, op, "error").Inc()
	span.RecordError(ext)
	span.SetStatus(codes.Error, ext.Error())
	var zero T
	return zero, ext
}

// exec is call for operations without a result.
func exec(ctx context.Context, w *Wrapper, service, op string, p policy, fn func(context.Context) error) error {
	_, err := call(ctx, w, service, op, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ─── Error Classification ───────────────────────────────────────────────────

// expected reports domain answers that are not collaborator failures.
func expected(err error) bool {
	return domain.IsNotFound(err) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrNotAssigned) ||
		errors.Is(err, domain.ErrAlreadyCancelled)
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	if expected(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if sc, ok := statusOf(err); ok && sc >= 400 && sc < 500 && sc != 408 && sc != 429 {
		return false
	}
	return true
}

// statusCoder is implemented by transport errors that carry a status code.
type statusCoder interface {
	StatusCode() int
}

func statusOf(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	if ext, ok := domain.AsExternal(err); ok && ext.Status != 0 {
		return ext.Status, true
	}
	return 0, false
}

func classify(service, op string, err error) *domain.ExternalServiceError {
	if ext, ok := domain.AsExternal(err); ok {
		return ext
	}
	status, _ := statusOf(err)
	return &domain.ExternalServiceError{Service: service, Op: op, Status: status, Err: err}
}
