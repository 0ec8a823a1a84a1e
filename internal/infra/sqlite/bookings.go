package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Booking Operations ─────────────────────────────────────────────────────

// Bookings is the domain.BookingStore view of the database.
type Bookings struct{ *DB }

// Bookings returns the booking store.
func (db *DB) Bookings() Bookings { return Bookings{db} }

const bookingColumns = `id, patient_id, nurse_id, start_time, end_time, notes, payment_amount,
	status, cancellation_reason, cancellation_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b                        domain.Booking
		status                   string
		start, end, created, upd int64
	)
	err := row.Scan(&b.ID, &b.PatientID, &b.NurseID, &start, &end, &b.Notes, &b.PaymentAmount,
		&status, &b.CancellationReason, &b.CancellationCount, &created, &upd)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatus(status)
	b.StartTime, b.EndTime = fromMillis(start), fromMillis(end)
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(upd)
	return b, nil
}

// PutBooking inserts or replaces a booking as-is. Used for seeding.
func (db *DB) PutBooking(ctx context.Context, b domain.Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = db.now()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_id          = excluded.patient_id,
			nurse_id            = excluded.nurse_id,
			start_time          = excluded.start_time,
			end_time            = excluded.end_time,
			notes               = excluded.notes,
			payment_amount      = excluded.payment_amount,
			status              = excluded.status,
			cancellation_reason = excluded.cancellation_reason,
			cancellation_count  = excluded.cancellation_count,
			updated_at          = excluded.updated_at
	`, b.ID, b.PatientID, b.NurseID, toMillis(b.StartTime), toMillis(b.EndTime), b.Notes, b.PaymentAmount,
		string(b.Status), b.CancellationReason, b.CancellationCount, toMillis(b.CreatedAt), toMillis(b.UpdatedAt))
	if err != nil {
		return unavailable("put booking", err)
	}
	return nil
}

// Get returns one booking.
func (s Bookings) Get(ctx context.Context, id string) (domain.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if err != nil {
		return domain.Booking{}, unavailable("get booking", err)
	}
	return b, nil
}

// Cancel moves a Pending or Accepted booking to Cancelled in one
// conditional UPDATE. An already cancelled booking reports no transition.
func (s Bookings) Cancel(ctx context.Context, id, reason string) (domain.CancelResult, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(domain.BookingCancelled), reason, toMillis(s.now()), id,
		string(domain.BookingPending), string(domain.BookingAccepted))
	if err != nil {
		return domain.CancelResult{}, unavailable("cancel booking", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return domain.CancelResult{}, unavailable("cancel booking", err)
	}

	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.CancelResult{}, err
	}
	if changed == 1 {
		return domain.CancelResult{Booking: b, Transitioned: true}, nil
	}
	if b.Status == domain.BookingCancelled {
		return domain.CancelResult{Booking: b}, nil
	}
	return domain.CancelResult{}, fmt.Errorf("cancel %s from %s: %w", id, b.Status, domain.ErrInvalidTransition)
}

// Create inserts a new Pending booking with a fresh id.
func (s Bookings) Create(ctx context.Context, nb domain.NewBooking) (domain.Booking, error) {
	now := s.now().UTC()
	b := domain.Booking{
		ID:                s.newID(),
		PatientID:         nb.PatientID,
		NurseID:           nb.NurseID,
		StartTime:         nb.StartTime.UTC(),
		EndTime:           nb.EndTime.UTC(),
		Notes:             nb.Notes,
		PaymentAmount:     nb.PaymentAmount,
		Status:            domain.BookingPending,
		CancellationCount: nb.CancellationCount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.PatientID, b.NurseID, toMillis(b.StartTime), toMillis(b.EndTime), b.Notes, b.PaymentAmount,
		string(b.Status), "", b.CancellationCount, toMillis(now), toMillis(now))
	if err != nil {
		return domain.Booking{}, unavailable("create booking", err)
	}
	// Millisecond storage; return what a later Get would.
	b.StartTime, b.EndTime = fromMillis(toMillis(b.StartTime)), fromMillis(toMillis(b.EndTime))
	b.CreatedAt = fromMillis(toMillis(now))
	b.UpdatedAt = b.CreatedAt
	return b, nil
}

// ListCancelledInWindow returns the cancelled bookings of one lineage.
func (s Bookings) ListCancelledInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	return s.listWindow(ctx, "list cancelled", `
		SELECT `+bookingColumns+` FROM bookings
		WHERE patient_id = ? AND start_time = ? AND end_time = ? AND status = ?
		ORDER BY id
	`, patientID, toMillis(start), toMillis(end), string(domain.BookingCancelled))
}

// ListInWindow returns every booking of one lineage.
func (s Bookings) ListInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	return s.listWindow(ctx, "list lineage", `
		SELECT `+bookingColumns+` FROM bookings
		WHERE patient_id = ? AND start_time = ? AND end_time = ?
		ORDER BY id
	`, patientID, toMillis(start), toMillis(end))
}

func (s Bookings) listWindow(ctx context.Context, op, query string, args ...any) ([]domain.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// Transition moves a booking to `to` only when its status is one of from.
func (s Bookings) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	if len(from) == 0 {
		return domain.Booking{}, fmt.Errorf("transition %s: no source status: %w", id, domain.ErrInvalidTransition)
	}
	args := []any{string(to), toMillis(s.now()), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return domain.Booking{}, unavailable("transition booking", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, unavailable("transition booking", err)
	}

	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if changed == 0 {
		return domain.Booking{}, fmt.Errorf("booking %s %s -> %s: %w", id, b.Status, to, domain.ErrInvalidTransition)
	}
	return b, nil
}

// AssignNurse changes the nurse of a Pending booking.
func (s Bookings) AssignNurse(ctx context.Context, id, nurseID string) (domain.Booking, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET nurse_id = ?, updated_at = ? WHERE id = ? AND status = ?
	`, nurseID, toMillis(s.now()), id, string(domain.BookingPending))
	if err != nil {
		return domain.Booking{}, unavailable("assign nurse", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return domain.Booking{}, unavailable("assign nurse", err)
	}

	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if changed == 0 {
		return domain.Booking{}, fmt.Errorf("assign %s in %s: %w", id, b.Status, domain.ErrInvalidTransition)
	}
	return b, nil
}
