package domain

import (
	"strings"
	"time"
)

// ─── Cancellation Request / Outcome ─────────────────────────────────────────

// CancellationRequest asks the orchestrator to cancel a booking on behalf of
// the nurse currently assigned to it.
type CancellationRequest struct {
	BookingID string `json:"booking_id"`
	NurseID   string `json:"nurse_id"`
	Reason    string `json:"reason"`
}

// Validate checks that every field is present.
func (r CancellationRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.BookingID) == "" {
		missing = append(missing, "booking_id")
	}
	if strings.TrimSpace(r.NurseID) == "" {
		missing = append(missing, "nurse_id")
	}
	if strings.TrimSpace(r.Reason) == "" {
		missing = append(missing, "reason")
	}
	if len(missing) > 0 {
		return &RequestError{Fields: missing}
	}
	return nil
}

// RequestError lists the missing or malformed request fields.
// It matches ErrInvalidRequest with errors.Is.
type RequestError struct {
	Fields []string
}

func (e *RequestError) Error() string {
	return "invalid request: missing " + strings.Join(e.Fields, ", ")
}

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// OutcomeStatus is the terminal state of one cancellation workflow.
type OutcomeStatus string

const (
	OutcomeReassigned           OutcomeStatus = "Reassigned"
	OutcomePermanentlyCancelled OutcomeStatus = "PermanentlyCancelled"
)

// TerminalReason explains a permanent cancellation.
type TerminalReason string

const (
	ReasonMaxReassignments TerminalReason = "max_reassignments"
	ReasonNoEligibleNurse  TerminalReason = "no_eligible_nurse"
)

// PolicyTransition is the flag change made by the suspension policy.
type PolicyTransition string

const (
	TransitionNone      PolicyTransition = "none"
	TransitionWarn      PolicyTransition = "warn"
	TransitionSuspend   PolicyTransition = "suspend"
	TransitionReinstate PolicyTransition = "reinstate"
)

// NurseSummary reports the cancelling nurse's reputation after the workflow.
// Delta is the requested penalty; PreviousScore and NewScore come from the
// ledger entry, or are both the snapshot score when the score write did not
// commit.
type NurseSummary struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Delta             int              `json:"delta"`
	PreviousScore     int              `json:"previous_score"`
	NewScore          int              `json:"new_score"`
	Standing          Standing         `json:"standing"`
	Transition        PolicyTransition `json:"transition"`
	SuspensionEndDate *time.Time       `json:"suspension_end_date,omitempty"`
}

// CancellationOutcome is the structured result of ProcessCancellation.
// Warnings lists partial failures; the steps that did complete stand.
type CancellationOutcome struct {
	Status             OutcomeStatus  `json:"status"`
	TerminalReason     TerminalReason `json:"terminal_reason,omitempty"`
	CancelledBookingID string         `json:"cancelled_booking_id"`
	PreviousNurse      NurseSummary   `json:"previous_nurse"`
	NewBookingID       string         `json:"new_booking_id,omitempty"`
	NewNurseID         string         `json:"new_nurse_id,omitempty"`
	NewNurseName       string         `json:"new_nurse_name,omitempty"`
	CancellationCount  int            `json:"cancellation_count"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// Reassigned reports whether a successor booking was created.
func (o CancellationOutcome) Reassigned() bool {
	return o.Status == OutcomeReassigned
}
