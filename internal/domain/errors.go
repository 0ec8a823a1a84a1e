package domain

import (
	"context"
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Lookup errors
	ErrBookingNotFound = errors.New("booking not found")
	ErrNurseNotFound   = errors.New("nurse not found")
	ErrPatientNotFound = errors.New("patient not found")

	// Request errors
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotAssigned       = errors.New("booking is not assigned to this nurse")
	ErrAlreadyCancelled  = errors.New("booking already cancelled")
	ErrInvalidTransition = errors.New("booking status does not allow this transition")
	ErrNurseSuspended    = errors.New("nurse is suspended")

	// Collaborator errors
	ErrStoreUnavailable = errors.New("store unavailable")

	// Reassignment
	ErrNoneEligible = errors.New("no eligible nurse")
)

// IsNotFound reports whether err is one of the lookup errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrNurseNotFound) ||
		errors.Is(err, ErrPatientNotFound)
}

// ─── External Service Errors ────────────────────────────────────────────────

// ExternalServiceError reports a failed or timed-out call to a collaborator.
// Status carries the originating status code when the transport has one.
type ExternalServiceError struct {
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s.%s: status %d: %v", e.Service, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *ExternalServiceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// AsExternal extracts an ExternalServiceError from err's chain.
func AsExternal(err error) (*ExternalServiceError, bool) {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext, true
	}
	return nil, false
}
