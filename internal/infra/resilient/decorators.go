package resilient

import (
	"context"
	"time"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// Service names used in errors, metrics and spans.
const (
	ServiceBookings      = "bookings"
	ServiceNurses        = "nurses"
	ServicePatients      = "patients"
	ServiceCreditLog     = "credit_log"
	ServiceNotifications = "notifications"
)

// ─── BookingStore ───────────────────────────────────────────────────────────

// Bookings wraps a BookingStore.
//
// Cancel and Transition are conditional writes and run once: a retry after
// a committed-but-timed-out attempt would report "no transition" and hide
// the first commit. Create runs once to avoid duplicate successors.
func (w *Wrapper) Bookings(inner domain.BookingStore) domain.BookingStore {
	return &bookings{w: w, inner: inner}
}

type bookings struct {
	w     *Wrapper
	inner domain.BookingStore
}

func (b *bookings) Get(ctx context.Context, id string) (domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "get", idempotent, func(ctx context.Context) (domain.Booking, error) {
		return b.inner.Get(ctx, id)
	})
}

func (b *bookings) Cancel(ctx context.Context, id, reason string) (domain.CancelResult, error) {
	return call(ctx, b.w, ServiceBookings, "cancel", once, func(ctx context.Context) (domain.CancelResult, error) {
		return b.inner.Cancel(ctx, id, reason)
	})
}

func (b *bookings) Create(ctx context.Context, nb domain.NewBooking) (domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "create", once, func(ctx context.Context) (domain.Booking, error) {
		return b.inner.Create(ctx, nb)
	})
}

func (b *bookings) ListCancelledInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "list_cancelled_in_window", idempotent, func(ctx context.Context) ([]domain.Booking, error) {
		return b.inner.ListCancelledInWindow(ctx, patientID, start, end)
	})
}

func (b *bookings) ListInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "list_in_window", idempotent, func(ctx context.Context) ([]domain.Booking, error) {
		return b.inner.ListInWindow(ctx, patientID, start, end)
	})
}

func (b *bookings) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "transition", once, func(ctx context.Context) (domain.Booking, error) {
		return b.inner.Transition(ctx, id, from, to)
	})
}

func (b *bookings) AssignNurse(ctx context.Context, id, nurseID string) (domain.Booking, error) {
	return call(ctx, b.w, ServiceBookings, "assign_nurse", idempotent, func(ctx context.Context) (domain.Booking, error) {
		return b.inner.AssignNurse(ctx, id, nurseID)
	})
}

// ─── NurseDirectory ─────────────────────────────────────────────────────────

// Nurses wraps a NurseDirectory. Score and flag writes set absolute values
// and are safe to repeat.
func (w *Wrapper) Nurses(inner domain.NurseDirectory) domain.NurseDirectory {
	return &nurses{w: w, inner: inner}
}

type nurses struct {
	w     *Wrapper
	inner domain.NurseDirectory
}

func (n *nurses) Get(ctx context.Context, id string) (domain.Nurse, error) {
	return call(ctx, n.w, ServiceNurses, "get", idempotent, func(ctx context.Context) (domain.Nurse, error) {
		return n.inner.Get(ctx, id)
	})
}

func (n *nurses) ListAll(ctx context.Context) ([]domain.Nurse, error) {
	return call(ctx, n.w, ServiceNurses, "list_all", idempotent, func(ctx context.Context) ([]domain.Nurse, error) {
		return n.inner.ListAll(ctx)
	})
}

func (n *nurses) UpdateScore(ctx context.Context, id string, score int) error {
	return exec(ctx, n.w, ServiceNurses, "update_score", idempotent, func(ctx context.Context) error {
		return n.inner.UpdateScore(ctx, id, score)
	})
}

func (n *nurses) UpdateFlags(ctx context.Context, id string, flags domain.NurseFlags) error {
	return exec(ctx, n.w, ServiceNurses, "update_flags", idempotent, func(ctx context.Context) error {
		return n.inner.UpdateFlags(ctx, id, flags)
	})
}

// ─── PatientDirectory ───────────────────────────────────────────────────────

// Patients wraps a PatientDirectory.
func (w *Wrapper) Patients(inner domain.PatientDirectory) domain.PatientDirectory {
	return &patients{w: w, inner: inner}
}

type patients struct {
	w     *Wrapper
	inner domain.PatientDirectory
}

func (p *patients) Get(ctx context.Context, id string) (domain.Patient, error) {
	return call(ctx, p.w, ServicePatients, "get", idempotent, func(ctx context.Context) (domain.Patient, error) {
		return p.inner.Get(ctx, id)
	})
}

// ─── CreditLogStore ─────────────────────────────────────────────────────────

// CreditLog wraps a CreditLogStore. Append runs once so one ledger event
// never yields two entries.
func (w *Wrapper) CreditLog(inner domain.CreditLogStore) domain.CreditLogStore {
	return &creditLog{w: w, inner: inner}
}

type creditLog struct {
	w     *Wrapper
	inner domain.CreditLogStore
}

func (c *creditLog) Append(ctx context.Context, e domain.CreditScoreLogEntry) error {
	return exec(ctx, c.w, ServiceCreditLog, "append", once, func(ctx context.Context) error {
		return c.inner.Append(ctx, e)
	})
}

func (c *creditLog) ListByNurse(ctx context.Context, nurseID string) ([]domain.CreditScoreLogEntry, error) {
	return call(ctx, c.w, ServiceCreditLog, "list_by_nurse", idempotent, func(ctx context.Context) ([]domain.CreditScoreLogEntry, error) {
		return c.inner.ListByNurse(ctx, nurseID)
	})
}

// ─── NotificationDispatcher ─────────────────────────────────────────────────

// Notifier wraps a NotificationDispatcher. Enqueue is retried, so delivery
// is at-least-once.
func (w *Wrapper) Notifier(inner domain.NotificationDispatcher) domain.NotificationDispatcher {
	return &notifier{w: w, inner: inner}
}

type notifier struct {
	w     *Wrapper
	inner domain.NotificationDispatcher
}

func (n *notifier) Enqueue(ctx context.Context, msg domain.Notification) error {
	return exec(ctx, n.w, ServiceNotifications, "enqueue", idempotent, func(ctx context.Context) error {
		return n.inner.Enqueue(ctx, msg)
	})
}
