// Package memory provides in-process implementations of the booking core's
// collaborators. They back the dev profile (store.driver = "memory") and the
// test suites of every package above infra.
//
// Each type serializes its own mutations with a mutex, the same guarantee
// the SQL stores give through conditional UPDATEs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Bookings ───────────────────────────────────────────────────────────────

// Bookings is an in-memory domain.BookingStore.
type Bookings struct {
	mu       sync.RWMutex
	bookings map[string]domain.Booking

	// Injectable for testing.
	now   func() time.Time
	newID func() string
}

// NewBookings creates an empty booking store.
func NewBookings() *Bookings {
	return &Bookings{
		bookings: make(map[string]domain.Booking),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Put inserts or replaces a booking as-is. Used for seeding.
func (s *Bookings) Put(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// All returns every booking ordered by creation time then id.
func (s *Bookings) All() []domain.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Bookings) Get(_ context.Context, id string) (domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	return b, nil
}

func (s *Bookings) Cancel(_ context.Context, id, reason string) (domain.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.CancelResult{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if b.Status == domain.BookingCancelled {
		return domain.CancelResult{Booking: b}, nil
	}
	if !b.Status.Cancellable() {
		return domain.CancelResult{}, fmt.Errorf("cancel %s from %s: %w", id, b.Status, domain.ErrInvalidTransition)
	}
	b.Status = domain.BookingCancelled
	b.CancellationReason = reason
	b.UpdatedAt = s.now().UTC()
	s.bookings[id] = b
	return domain.CancelResult{Booking: b, Transitioned: true}, nil
}

func (s *Bookings) Create(_ context.Context, nb domain.NewBooking) (domain.Booking, error) {
	now := s.now().UTC()
	b := domain.Booking{
		ID:                s.newID(),
		PatientID:         nb.PatientID,
		NurseID:           nb.NurseID,
		StartTime:         nb.StartTime,
		EndTime:           nb.EndTime,
		Notes:             nb.Notes,
		PaymentAmount:     nb.PaymentAmount,
		Status:            domain.BookingPending,
		CancellationCount: nb.CancellationCount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
	return b, nil
}

func (s *Bookings) ListCancelledInWindow(_ context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	key := domain.LineageKey{PatientID: patientID, Start: start.UTC(), End: end.UTC()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.Status == domain.BookingCancelled && key.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Bookings) ListInWindow(_ context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	key := domain.LineageKey{PatientID: patientID, Start: start.UTC(), End: end.UTC()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if key.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Bookings) Transition(_ context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if !slices.Contains(from, b.Status) {
		return domain.Booking{}, fmt.Errorf("booking %s %s -> %s: %w", id, b.Status, to, domain.ErrInvalidTransition)
	}
	b.Status = to
	b.UpdatedAt = s.now().UTC()
	s.bookings[id] = b
	return b, nil
}

func (s *Bookings) AssignNurse(_ context.Context, id, nurseID string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if b.Status != domain.BookingPending {
		return domain.Booking{}, fmt.Errorf("assign %s in %s: %w", id, b.Status, domain.ErrInvalidTransition)
	}
	b.NurseID = nurseID
	b.UpdatedAt = s.now().UTC()
	s.bookings[id] = b
	return b, nil
}

// ─── Nurses ─────────────────────────────────────────────────────────────────

// Nurses is an in-memory domain.NurseDirectory.
type Nurses struct {
	mu     sync.RWMutex
	nurses map[string]domain.Nurse
}

// NewNurses creates a directory seeded with the given nurses.
func NewNurses(seed ...domain.Nurse) *Nurses {
	n := &Nurses{nurses: make(map[string]domain.Nurse)}
	for _, nurse := range seed {
		n.Put(nurse)
	}
	return n
}

// Put inserts or replaces a nurse profile.
func (d *Nurses) Put(n domain.Nurse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nurses[n.ID] = cloneNurse(n)
}

func (d *Nurses) Get(_ context.Context, id string) (domain.Nurse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nurses[id]
	if !ok {
		return domain.Nurse{}, fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	return cloneNurse(n), nil
}

// ListAll returns every nurse ordered by id.
func (d *Nurses) ListAll(_ context.Context) ([]domain.Nurse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Nurse, 0, len(d.nurses))
	for _, n := range d.nurses {
		out = append(out, cloneNurse(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Nurses) UpdateScore(_ context.Context, id string, score int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nurses[id]
	if !ok {
		return fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	n.CreditScore = score
	d.nurses[id] = n
	return nil
}

func (d *Nurses) UpdateFlags(_ context.Context, id string, flags domain.NurseFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nurses[id]
	if !ok {
		return fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	n.IsWarned = flags.IsWarned
	n.IsSuspended = flags.IsSuspended
	n.SuspensionEndDate = cloneTime(flags.SuspensionEndDate)
	d.nurses[id] = n
	return nil
}

func cloneNurse(n domain.Nurse) domain.Nurse {
	n.SuspensionEndDate = cloneTime(n.SuspensionEndDate)
	return n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ─── Patients ───────────────────────────────────────────────────────────────

// Patients is an in-memory domain.PatientDirectory.
type Patients struct {
	mu       sync.RWMutex
	patients map[string]domain.Patient
}

// NewPatients creates a directory seeded with the given patients.
func NewPatients(seed ...domain.Patient) *Patients {
	p := &Patients{patients: make(map[string]domain.Patient)}
	for _, pt := range seed {
		p.patients[pt.ID] = pt
	}
	return p
}

// Put inserts or replaces a patient.
func (d *Patients) Put(p domain.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *Patients) Get(_ context.Context, id string) (domain.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", id, domain.ErrPatientNotFound)
	}
	return p, nil
}

// ─── Credit Log ─────────────────────────────────────────────────────────────

// CreditLog is an in-memory append-only domain.CreditLogStore.
type CreditLog struct {
	mu      sync.RWMutex
	entries []domain.CreditScoreLogEntry
}

// NewCreditLog creates an empty log.
func NewCreditLog() *CreditLog {
	return &CreditLog{}
}

func (l *CreditLog) Append(_ context.Context, e domain.CreditScoreLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// ListByNurse returns the nurse's entries in append order.
func (l *CreditLog) ListByNurse(_ context.Context, nurseID string) ([]domain.CreditScoreLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.CreditScoreLogEntry
	for _, e := range l.entries {
		if e.NurseID == nurseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the total number of entries.
func (l *CreditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ─── Outbox ─────────────────────────────────────────────────────────────────

// Outbox is a domain.NotificationDispatcher that keeps every message.
type Outbox struct {
	mu   sync.Mutex
	sent []domain.Notification
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(_ context.Context, n domain.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

// Sent returns a copy of every accepted message.
func (o *Outbox) Sent() []domain.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sent)
}

// SentTo returns the messages addressed to one recipient.
func (o *Outbox) SentTo(addr string) []domain.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.Notification
	for _, n := range o.sent {
		if n.To == addr {
			out = append(out, n)
		}
	}
	return out
}
