package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// BookingStore owns booking records and their status.
type BookingStore interface {
	// Get returns ErrBookingNotFound when id is unknown.
	Get(ctx context.Context, id string) (Booking, error)

	// Cancel moves a Pending or Accepted booking to Cancelled in one
	// conditional update. Cancelling a cancelled booking is a no-op that
	// reports Transitioned=false.
	Cancel(ctx context.Context, id, reason string) (CancelResult, error)

	// Create stores a new Pending booking and returns it with its ID.
	Create(ctx context.Context, nb NewBooking) (Booking, error)

	// ListCancelledInWindow returns cancelled bookings of one lineage.
	ListCancelledInWindow(ctx context.Context, patientID string, start, end time.Time) ([]Booking, error)

	// ListInWindow returns every booking of one lineage, any status.
	ListInWindow(ctx context.Context, patientID string, start, end time.Time) ([]Booking, error)

	// Transition moves a booking to `to` only when its status is in `from`;
	// otherwise it returns ErrInvalidTransition.
	Transition(ctx context.Context, id string, from []BookingStatus, to BookingStatus) (Booking, error)

	// AssignNurse replaces the nurse of a Pending booking.
	AssignNurse(ctx context.Context, id, nurseID string) (Booking, error)
}

// NurseDirectory owns nurse profiles, scores, and flags.
type NurseDirectory interface {
	Get(ctx context.Context, id string) (Nurse, error)
	ListAll(ctx context.Context) ([]Nurse, error)
	UpdateScore(ctx context.Context, id string, score int) error
	UpdateFlags(ctx context.Context, id string, flags NurseFlags) error
}

// PatientDirectory resolves patient contact details.
type PatientDirectory interface {
	Get(ctx context.Context, id string) (Patient, error)
}

// CreditLogStore is the append-only credit audit trail.
type CreditLogStore interface {
	Append(ctx context.Context, entry CreditScoreLogEntry) error
	ListByNurse(ctx context.Context, nurseID string) ([]CreditScoreLogEntry, error)
}

// NotificationDispatcher accepts messages for asynchronous delivery.
// A nil error means "accepted for delivery", nothing more.
type NotificationDispatcher interface {
	Enqueue(ctx context.Context, n Notification) error
}
