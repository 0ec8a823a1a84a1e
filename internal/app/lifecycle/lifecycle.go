// Package lifecycle moves a booking through the nurse-driven transitions
// other than cancellation: accept, reject and complete.
//
// Like the cancellation workflow, only the status write can fail a request.
// Credit and notification failures after it are returned as warnings.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teyyyyy/MedGrab/internal/app/notify"
	"github.com/teyyyyy/MedGrab/internal/app/reassign"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/domain"
)

// Request identifies the booking and the nurse acting on it.
type Request struct {
	BookingID string `json:"booking_id"`
	NurseID   string `json:"nurse_id"`
}

// Validate checks both ids are present.
func (r Request) Validate() error {
	var missing []string
	if r.BookingID == "" {
		missing = append(missing, "booking_id")
	}
	if r.NurseID == "" {
		missing = append(missing, "nurse_id")
	}
	if len(missing) > 0 {
		return &domain.RequestError{Fields: missing}
	}
	return nil
}

// Result is the booking after the transition plus any non-fatal failures.
type Result struct {
	Booking    domain.Booking              `json:"booking"`
	Credit     *domain.CreditScoreLogEntry `json:"credit,omitempty"`
	NewNurseID string                      `json:"new_nurse_id,omitempty"`
	Warnings   []string                    `json:"warnings,omitempty"`
}

type warnings struct {
	mu   sync.Mutex
	list []string
}

func (w *warnings) add(step string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.list = append(w.list, fmt.Sprintf("%s: %v", step, err))
}

// Deps are the collaborators of the service.
type Deps struct {
	Bookings domain.BookingStore
	Nurses   domain.NurseDirectory
	Patients domain.PatientDirectory
	Notifier domain.NotificationDispatcher
	Ledger   *reputation.Ledger
	Selector *reassign.Selector
}

// Service implements accept, reject and complete.
type Service struct {
	deps   Deps
	logger *log.Logger
}

// New creates a lifecycle service.
func New(deps Deps, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{deps: deps, logger: logger}
}

// load fetches and checks the booking and nurse of a request.
func (s *Service) load(ctx context.Context, op string, req Request) (domain.Booking, domain.Nurse, error) {
	if err := req.Validate(); err != nil {
		return domain.Booking{}, domain.Nurse{}, err
	}
	b, err := s.deps.Bookings.Get(ctx, req.BookingID)
	if err != nil {
		return domain.Booking{}, domain.Nurse{}, fmt.Errorf("%s: fetch booking: %w", op, err)
	}
	n, err := s.deps.Nurses.Get(ctx, req.NurseID)
	if err != nil {
		return domain.Booking{}, domain.Nurse{}, fmt.Errorf("%s: fetch nurse: %w", op, err)
	}
	if b.NurseID != n.ID {
		return domain.Booking{}, domain.Nurse{}, fmt.Errorf("%s: booking %s belongs to %s: %w", op, b.ID, b.NurseID, domain.ErrNotAssigned)
	}
	return b, n, nil
}

// ─── Accept ─────────────────────────────────────────────────────────────────

// Accept moves a Pending booking to Accepted and rewards the nurse.
// A suspended nurse cannot accept.
func (s *Service) Accept(ctx context.Context, req Request) (Result, error) {
	b, nurse, err := s.load(ctx, "accept", req)
	if err != nil {
		return Result{}, err
	}
	if nurse.IsSuspended {
		return Result{}, fmt.Errorf("accept: %s: %w", nurse.ID, domain.ErrNurseSuspended)
	}

	b, err = s.deps.Bookings.Transition(ctx, b.ID, []domain.BookingStatus{domain.BookingPending}, domain.BookingAccepted)
	if err != nil {
		return Result{}, fmt.Errorf("accept: %w", err)
	}

	var w warnings
	res := Result{Booking: b}
	res.Credit = s.reward(ctx, &w, nurse.ID, reputation.AcceptanceReward, domain.CreditAcceptance,
		fmt.Sprintf("Booking acceptance: %s", b.ID))

	patient, havePatient := s.patient(ctx, &w, b.PatientID)
	var g errgroup.Group
	g.Go(func() error {
		if nurse.Email == "" {
			w.add("notify_nurse", errors.New("nurse has no email address"))
			return nil
		}
		if err := s.send(ctx, func() (domain.Notification, error) {
			return notify.BookingAccepted(nurse.Email, nurse.Name, b.ID, nurse.Name)
		}); err != nil {
			w.add("notify_nurse", err)
		}
		return nil
	})
	if havePatient {
		g.Go(func() error {
			if err := s.send(ctx, func() (domain.Notification, error) {
				return notify.BookingAccepted(patient.Email, patient.Name, b.ID, nurse.Name)
			}); err != nil {
				w.add("notify_patient", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Warnings = w.list
	s.logger.Printf("[lifecycle] %s accepted %s (warnings=%d)", nurse.ID, b.ID, len(res.Warnings))
	return res, nil
}

// ─── Reject ─────────────────────────────────────────────────────────────────

// Reject hands a Pending booking to another nurse in place. The booking
// stays Pending and the rejecting nurse is not penalized. When nobody else
// can take it the error matches domain.ErrNoneEligible and nothing changes.
func (s *Service) Reject(ctx context.Context, req Request) (Result, error) {
	b, nurse, err := s.load(ctx, "reject", req)
	if err != nil {
		return Result{}, err
	}
	if b.Status != domain.BookingPending {
		return Result{}, fmt.Errorf("reject: booking %s is %s: %w", b.ID, b.Status, domain.ErrInvalidTransition)
	}

	sel, err := s.deps.Selector.SelectReplacement(ctx, b, nurse.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reject: booking %s: %w", b.ID, err)
	}
	b, err = s.deps.Bookings.AssignNurse(ctx, b.ID, sel.Nurse.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reject: reassign %s: %w", req.BookingID, err)
	}

	var w warnings
	res := Result{Booking: b, NewNurseID: sel.Nurse.ID}
	newNurse := sel.Nurse

	patient, havePatient := s.patient(ctx, &w, b.PatientID)
	var g errgroup.Group
	g.Go(func() error {
		if newNurse.Email == "" {
			w.add("notify_new_nurse", errors.New("nurse has no email address"))
			return nil
		}
		if err := s.send(ctx, func() (domain.Notification, error) {
			return notify.NewAssignment(newNurse, b.ID)
		}); err != nil {
			w.add("notify_new_nurse", err)
		}
		return nil
	})
	if havePatient {
		g.Go(func() error {
			if err := s.send(ctx, func() (domain.Notification, error) {
				return notify.PatientReassigned(patient, b.ID, "rejection", nurse.Name, newNurse.Name)
			}); err != nil {
				w.add("notify_patient", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Warnings = w.list
	s.logger.Printf("[lifecycle] %s rejected %s, reassigned to %s", nurse.ID, b.ID, newNurse.ID)
	return res, nil
}

// ─── Complete ───────────────────────────────────────────────────────────────

// Complete moves an Accepted booking to Completed and rewards the nurse.
func (s *Service) Complete(ctx context.Context, req Request) (Result, error) {
	b, nurse, err := s.load(ctx, "complete", req)
	if err != nil {
		return Result{}, err
	}
	b, err = s.deps.Bookings.Transition(ctx, b.ID, []domain.BookingStatus{domain.BookingAccepted}, domain.BookingCompleted)
	if err != nil {
		return Result{}, fmt.Errorf("complete: %w", err)
	}

	var w warnings
	res := Result{Booking: b}
	res.Credit = s.reward(ctx, &w, nurse.ID, reputation.CompletionReward, domain.CreditCompletion,
		fmt.Sprintf("Booking completion: %s", b.ID))
	res.Warnings = w.list
	s.logger.Printf("[lifecycle] %s completed %s", nurse.ID, b.ID)
	return res, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Service) reward(ctx context.Context, w *warnings, nurseID string, delta int, kind domain.CreditEventKind, reason string) *domain.CreditScoreLogEntry {
	entry, err := s.deps.Ledger.ApplyDelta(ctx, nurseID, delta, kind, reason)
	if err != nil {
		w.add("credit_reward", err)
	}
	if entry.ID == "" {
		return nil
	}
	return &entry
}

func (s *Service) patient(ctx context.Context, w *warnings, id string) (domain.Patient, bool) {
	if s.deps.Patients == nil {
		w.add("patient_lookup", errors.New("no patient directory configured"))
		return domain.Patient{}, false
	}
	p, err := s.deps.Patients.Get(ctx, id)
	if err != nil {
		w.add("patient_lookup", err)
		return domain.Patient{}, false
	}
	if p.Email == "" {
		w.add("notify_patient", errors.New("patient has no email address"))
		return domain.Patient{}, false
	}
	return p, true
}

func (s *Service) send(ctx context.Context, build func() (domain.Notification, error)) error {
	n, err := build()
	if err != nil {
		return err
	}
	return s.deps.Notifier.Enqueue(ctx, n)
}
