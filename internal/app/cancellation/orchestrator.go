// Package cancellation runs the nurse cancellation workflow: cancel the
// booking, penalize the nurse, apply the suspension policy, then either
// reassign the appointment to another nurse or cancel it for good.
//
// The workflow is best-effort forward progress. Nothing is rolled back:
// once the booking is cancelled, reputation and notification failures are
// reported as warnings and reassignment failures abort with an error.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teyyyyy/MedGrab/internal/app/notify"
	"github.com/teyyyyy/MedGrab/internal/app/reassign"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds the workflow parameters.
type Config struct {
	// MaxReassignments is the reassignment budget of a lineage. The
	// lineage is cancelled for good once its cancellation count reaches it.
	MaxReassignments int

	// Penalty decides the credit delta for each cancellation.
	Penalty reputation.PenaltySchedule
}

// DefaultConfig returns a budget of 3 and the flat -7 penalty.
func DefaultConfig() Config {
	return Config{
		MaxReassignments: 3,
		Penalty:          reputation.DefaultPenaltySchedule(),
	}
}

// Workflow steps that may fail without aborting the request.
const (
	stepPenalty        = "credit_penalty"
	stepPolicy         = "suspension_policy"
	stepNotifyNurse    = "notify_nurse"
	stepPatientLookup  = "patient_lookup"
	stepNotifyPatient  = "notify_patient"
	stepNotifyNewNurse = "notify_new_nurse"
	stepNewNurseLookup = "new_nurse_lookup"
)

// ─── Orchestrator ───────────────────────────────────────────────────────────

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Bookings domain.BookingStore
	Nurses   domain.NurseDirectory
	Patients domain.PatientDirectory
	Notifier domain.NotificationDispatcher
	Ledger   *reputation.Ledger
	Policy   *reputation.Policy
	Selector *reassign.Selector
}

// Orchestrator sequences one cancellation request at a time per call.
// It keeps no state between calls and takes no locks; concurrent calls for
// the same booking are serialized by BookingStore.Cancel.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *log.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger}
}

// run carries the per-request state through the steps.
type run struct {
	req     domain.CancellationRequest
	booking domain.Booking
	nurse   domain.Nurse
	patient *domain.Patient
	out     domain.CancellationOutcome
}

func (r *run) warn(step string, err error) {
	r.out.Warnings = append(r.out.Warnings, fmt.Sprintf("%s: %v", step, err))
	observability.CancellationWarnings.WithLabelValues(step).Inc()
}

// ProcessCancellation cancels req.BookingID on behalf of req.NurseID and
// returns either a Reassigned or a PermanentlyCancelled outcome.
//
// Cancelling an already cancelled booking succeeds without side effects:
// the outcome reports the lineage as the first cancellation left it.
//
// Errors before the cancel (invalid request, not found, not assigned) leave
// no side effects. Errors after it (exclusion lookup, nurse listing,
// successor creation) leave the cancellation and penalty in place.
func (o *Orchestrator) ProcessCancellation(ctx context.Context, req domain.CancellationRequest) (domain.CancellationOutcome, error) {
	start := time.Now()
	out, err := o.process(ctx, req)
	observability.CancellationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.CancellationErrors.WithLabelValues(errorClass(err)).Inc()
		o.logger.Printf("[cancellation] booking %s by %s failed: %v", req.BookingID, req.NurseID, err)
		return domain.CancellationOutcome{}, err
	}
	observability.Cancellations.WithLabelValues(string(out.Status), string(out.TerminalReason)).Inc()
	o.logger.Printf("[cancellation] booking %s by %s: %s %s (warnings=%d)",
		req.BookingID, req.NurseID, out.Status, out.TerminalReason, len(out.Warnings))
	return out, nil
}

func (o *Orchestrator) process(ctx context.Context, req domain.CancellationRequest) (domain.CancellationOutcome, error) {
	if err := req.Validate(); err != nil {
		return domain.CancellationOutcome{}, err
	}
	r := &run{req: req}

	// 1-2. Snapshot booking and nurse.
	booking, err := o.deps.Bookings.Get(ctx, req.BookingID)
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: fetch booking: %w", err)
	}
	nurse, err := o.deps.Nurses.Get(ctx, req.NurseID)
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: fetch nurse: %w", err)
	}
	if booking.NurseID != req.NurseID {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s belongs to %s: %w", booking.ID, booking.NurseID, domain.ErrNotAssigned)
	}
	switch {
	case booking.Status == domain.BookingCancelled:
		return o.settled(ctx, booking, nurse)
	case !booking.Status.Cancellable():
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s is %s: %w", booking.ID, booking.Status, domain.ErrInvalidTransition)
	}
	r.booking, r.nurse = booking, nurse

	// 3. Conditional cancel. Losing a race means another request already
	// penalized this nurse for this booking.
	res, err := o.deps.Bookings.Cancel(ctx, booking.ID, req.Reason)
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: cancel booking: %w", err)
	}
	if !res.Transitioned {
		return o.settled(ctx, res.Booking, nurse)
	}
	r.booking = res.Booking
	r.out.CancelledBookingID = booking.ID

	// 4-6. Reputation and nurse notification; failures become warnings.
	o.penalize(ctx, r)
	if err := ctx.Err(); err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s cancelled, workflow aborted: %w", booking.ID, err)
	}

	// 7-9. Budget check and selection.
	r.out.CancellationCount = booking.CancellationCount + 1
	if r.out.CancellationCount >= o.cfg.MaxReassignments {
		o.endLineage(ctx, r, domain.ReasonMaxReassignments)
		return r.out, nil
	}

	sel, err := o.deps.Selector.SelectReplacement(ctx, r.booking, nurse.ID)
	if errors.Is(err, domain.ErrNoneEligible) {
		o.endLineage(ctx, r, domain.ReasonNoEligibleNurse)
		return r.out, nil
	}
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s cancelled, reassignment aborted: %w", booking.ID, err)
	}

	// 10. Successor booking.
	successor, err := o.deps.Bookings.Create(ctx, r.booking.Successor(sel.Nurse.ID, r.out.CancellationCount))
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s cancelled, successor not created: %w", booking.ID, err)
	}
	r.out.Status = domain.OutcomeReassigned
	r.out.NewBookingID = successor.ID
	r.out.NewNurseID = sel.Nurse.ID
	r.out.NewNurseName = sel.Nurse.Name

	// 11. Both parties in parallel.
	o.notifyReassigned(ctx, r, sel.Nurse, successor)

	// 12.
	return r.out, nil
}

// settled describes a booking some earlier request already cancelled. The
// nurse summary carries no delta and the successor, if any, is the lineage
// booking one cancellation further on. A successor still being created by
// a concurrent request is not seen yet.
func (o *Orchestrator) settled(ctx context.Context, booking domain.Booking, nurse domain.Nurse) (domain.CancellationOutcome, error) {
	out := domain.CancellationOutcome{
		CancelledBookingID: booking.ID,
		CancellationCount:  booking.CancellationCount + 1,
		PreviousNurse: domain.NurseSummary{
			ID:                nurse.ID,
			Name:              nurse.Name,
			PreviousScore:     nurse.CreditScore,
			NewScore:          nurse.CreditScore,
			Standing:          nurse.Standing(),
			Transition:        domain.TransitionNone,
			SuspensionEndDate: nurse.SuspensionEndDate,
		},
	}

	lineage, err := o.deps.Bookings.ListInWindow(ctx, booking.PatientID, booking.StartTime, booking.EndTime)
	if err != nil {
		return domain.CancellationOutcome{}, fmt.Errorf("cancellation: booking %s already cancelled, lineage lookup: %w", booking.ID, err)
	}
	for _, b := range lineage {
		if b.ID == booking.ID || b.CancellationCount != out.CancellationCount {
			continue
		}
		out.Status = domain.OutcomeReassigned
		out.NewBookingID = b.ID
		out.NewNurseID = b.NurseID
		if n, err := o.deps.Nurses.Get(ctx, b.NurseID); err == nil {
			out.NewNurseName = n.Name
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", stepNewNurseLookup, err))
		}
		return out, nil
	}

	out.Status = domain.OutcomePermanentlyCancelled
	out.TerminalReason = domain.ReasonNoEligibleNurse
	if out.CancellationCount >= o.cfg.MaxReassignments {
		out.TerminalReason = domain.ReasonMaxReassignments
	}
	return out, nil
}

// penalize runs steps 4 to 6.
func (o *Orchestrator) penalize(ctx context.Context, r *run) {
	nurse := r.nurse
	delta := o.cfg.Penalty.For(r.booking.CancellationCount + 1)
	summary := domain.NurseSummary{
		ID:            nurse.ID,
		Name:          nurse.Name,
		Delta:         delta,
		PreviousScore: nurse.CreditScore,
		NewScore:      nurse.CreditScore,
		Standing:      nurse.Standing(),
		Transition:    domain.TransitionNone,
	}

	reason := fmt.Sprintf("Booking cancellation: %s", r.booking.ID)
	entry, err := o.deps.Ledger.ApplyDelta(ctx, nurse.ID, delta, domain.CreditCancellation, reason)
	if entry.ID != "" {
		summary.PreviousScore = entry.PreviousScore
		summary.NewScore = entry.NewScore
	}
	if err != nil {
		r.warn(stepPenalty, err)
	}

	// Run the policy whenever the score may have moved.
	if err == nil || entry.ID != "" {
		d, perr := o.deps.Policy.Apply(ctx, nurse.ID)
		if perr != nil {
			r.warn(stepPolicy, perr)
		} else {
			summary.Transition = d.Transition
			summary.Standing = d.Standing()
			summary.SuspensionEndDate = d.After.SuspensionEndDate
		}
	}
	r.out.PreviousNurse = summary

	if nurse.Email == "" {
		r.warn(stepNotifyNurse, errors.New("nurse has no email address"))
		return
	}
	cfg := o.deps.Policy.Config()
	msg := notify.NurseCancellation{
		Nurse:            nurse,
		BookingID:        r.booking.ID,
		Delta:            delta,
		Score:            summary.NewScore,
		WarnThreshold:    cfg.WarnThreshold,
		SuspendThreshold: cfg.SuspendThreshold,
		SuspensionDays:   int(cfg.SuspensionDuration / (24 * time.Hour)),
		Standing:         summary.Standing,
	}
	if summary.SuspensionEndDate != nil {
		msg.SuspensionEnd = summary.SuspensionEndDate.Format("2006-01-02")
	}
	if err := o.send(ctx, msg.Build); err != nil {
		r.warn(stepNotifyNurse, err)
	}
}

// endLineage records a permanent cancellation and asks the patient to rebook.
// The booking is already Cancelled; the absence of a successor is what
// ends the lineage.
func (o *Orchestrator) endLineage(ctx context.Context, r *run, why domain.TerminalReason) {
	r.out.Status = domain.OutcomePermanentlyCancelled
	r.out.TerminalReason = why

	patient, ok := o.patient(ctx, r)
	if !ok {
		return
	}
	text := "after multiple nurse reassignment attempts"
	if why == domain.ReasonNoEligibleNurse {
		text = "because no other nurse is available for this time slot"
	}
	err := o.send(ctx, func() (domain.Notification, error) {
		return notify.PatientRebook(patient, r.booking.ID, text)
	})
	if err != nil {
		r.warn(stepNotifyPatient, err)
	}
}

func (o *Orchestrator) notifyReassigned(ctx context.Context, r *run, newNurse domain.Nurse, successor domain.Booking) {
	patient, havePatient := o.patient(ctx, r)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	warn := func(step string, err error) {
		mu.Lock()
		defer mu.Unlock()
		r.warn(step, err)
	}

	g.Go(func() error {
		if newNurse.Email == "" {
			warn(stepNotifyNewNurse, errors.New("nurse has no email address"))
			return nil
		}
		err := o.send(ctx, func() (domain.Notification, error) {
			return notify.NewAssignment(newNurse, successor.ID)
		})
		if err != nil {
			warn(stepNotifyNewNurse, err)
		}
		return nil
	})
	if havePatient {
		g.Go(func() error {
			err := o.send(ctx, func() (domain.Notification, error) {
				return notify.PatientReassigned(patient, r.booking.ID, "cancellation", r.nurse.Name, newNurse.Name)
			})
			if err != nil {
				warn(stepNotifyPatient, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// patient resolves the patient once per run; a failure is a warning.
func (o *Orchestrator) patient(ctx context.Context, r *run) (domain.Patient, bool) {
	if r.patient != nil {
		return *r.patient, true
	}
	if o.deps.Patients == nil {
		r.warn(stepPatientLookup, errors.New("no patient directory configured"))
		return domain.Patient{}, false
	}
	p, err := o.deps.Patients.Get(ctx, r.booking.PatientID)
	if err != nil {
		r.warn(stepPatientLookup, err)
		return domain.Patient{}, false
	}
	if p.Email == "" {
		r.warn(stepNotifyPatient, errors.New("patient has no email address"))
		return domain.Patient{}, false
	}
	r.patient = &p
	return p, true
}

func (o *Orchestrator) send(ctx context.Context, build func() (domain.Notification, error)) error {
	n, err := build()
	if err != nil {
		return err
	}
	return o.deps.Notifier.Enqueue(ctx, n)
}

// errorClass labels an aborted workflow for metrics.
func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyCancelled), errors.Is(err, domain.ErrNotAssigned), errors.Is(err, domain.ErrInvalidTransition):
		return "conflict"
	}
	if ext, ok := domain.AsExternal(err); ok {
		if ext.Timeout() {
			return "timeout"
		}
		return "external"
	}
	return "internal"
}
