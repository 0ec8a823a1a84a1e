// Package domain contains pure business types with ZERO infrastructure imports.
// It is the innermost layer and depends on nothing.
package domain

import (
	"fmt"
	"time"
)

// ─── Booking Types ──────────────────────────────────────────────────────────

// BookingStatus is the lifecycle state of a booking record.
type BookingStatus string

const (
	BookingPending   BookingStatus = "Pending"
	BookingAccepted  BookingStatus = "Accepted"
	BookingCompleted BookingStatus = "Completed"
	BookingCancelled BookingStatus = "Cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingAccepted, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a booking in this status may still be cancelled.
func (s BookingStatus) Cancellable() bool {
	return s == BookingPending || s == BookingAccepted
}

// Booking is a single patient/nurse appointment record.
// Cancellation never deletes a booking: it is marked Cancelled and, when a
// replacement nurse is found, a successor record is created.
type Booking struct {
	ID                 string        `json:"id"`
	PatientID          string        `json:"patient_id"`
	NurseID            string        `json:"nurse_id"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Notes              string        `json:"notes,omitempty"`
	PaymentAmount      float64       `json:"payment_amount"`
	Status             BookingStatus `json:"status"`
	CancellationCount  int           `json:"cancellation_count"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Lineage returns the key shared by every booking produced by successive
// cancel-and-reassign cycles of the same appointment.
func (b Booking) Lineage() LineageKey {
	return LineageKey{PatientID: b.PatientID, Start: b.StartTime.UTC(), End: b.EndTime.UTC()}
}

// LineageKey identifies a booking lineage: same patient, identical window.
type LineageKey struct {
	PatientID string
	Start     time.Time
	End       time.Time
}

// Matches reports whether b belongs to this lineage.
func (k LineageKey) Matches(b Booking) bool {
	return b.PatientID == k.PatientID && b.StartTime.Equal(k.Start) && b.EndTime.Equal(k.End)
}

// String formats the lineage for logs.
func (k LineageKey) String() string {
	return fmt.Sprintf("%s@%s/%s", k.PatientID, k.Start.Format(time.RFC3339), k.End.Format(time.RFC3339))
}

// NewBooking holds the fields needed to create a booking record.
// The store assigns the ID and timestamps; status is always Pending.
type NewBooking struct {
	PatientID         string
	NurseID           string
	StartTime         time.Time
	EndTime           time.Time
	Notes             string
	PaymentAmount     float64
	CancellationCount int
}

// Successor builds the record that replaces b after a cancellation,
// carrying the lineage forward with the given cancellation count.
func (b Booking) Successor(nurseID string, cancellationCount int) NewBooking {
	return NewBooking{
		PatientID:         b.PatientID,
		NurseID:           nurseID,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		Notes:             b.Notes,
		PaymentAmount:     b.PaymentAmount,
		CancellationCount: cancellationCount,
	}
}

// CancelResult is returned by a conditional cancel.
// Transitioned is false when the booking was already cancelled.
type CancelResult struct {
	Booking      Booking
	Transitioned bool
}

// ─── Nurse Types ────────────────────────────────────────────────────────────

const (
	// MinCreditScore and MaxCreditScore bound every nurse's score.
	MinCreditScore = 0
	MaxCreditScore = 100

	// InitialCreditScore is assigned to newly registered nurses.
	InitialCreditScore = 100
)

// Standing is the reputation state derived from a nurse's flags.
type Standing string

const (
	StandingActive    Standing = "ACTIVE"
	StandingWarned    Standing = "WARNED"
	StandingSuspended Standing = "SUSPENDED"
)

// Nurse is a nurse profile as seen by the booking core.
type Nurse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	CreditScore       int        `json:"credit_score"`
	IsWarned          bool       `json:"is_warned"`
	IsSuspended       bool       `json:"is_suspended"`
	SuspensionEndDate *time.Time `json:"suspension_end_date,omitempty"`
}

// Standing derives the reputation state from the nurse's flags.
func (n Nurse) Standing() Standing {
	switch {
	case n.IsSuspended:
		return StandingSuspended
	case n.IsWarned:
		return StandingWarned
	default:
		return StandingActive
	}
}

// Flags returns the policy-owned part of the nurse record.
func (n Nurse) Flags() NurseFlags {
	return NurseFlags{
		IsWarned:          n.IsWarned,
		IsSuspended:       n.IsSuspended,
		SuspensionEndDate: n.SuspensionEndDate,
	}
}

// NurseFlags is the warned/suspended state written by the suspension policy.
type NurseFlags struct {
	IsWarned          bool       `json:"is_warned"`
	IsSuspended       bool       `json:"is_suspended"`
	SuspensionEndDate *time.Time `json:"suspension_end_date,omitempty"`
}

// Equal compares two flag sets, including the end date instant.
func (f NurseFlags) Equal(o NurseFlags) bool {
	if f.IsWarned != o.IsWarned || f.IsSuspended != o.IsSuspended {
		return false
	}
	switch {
	case f.SuspensionEndDate == nil && o.SuspensionEndDate == nil:
		return true
	case f.SuspensionEndDate == nil || o.SuspensionEndDate == nil:
		return false
	default:
		return f.SuspensionEndDate.Equal(*o.SuspensionEndDate)
	}
}

// ─── Patient Types ──────────────────────────────────────────────────────────

// Patient is the contact view of a patient used for notifications.
type Patient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ─── Notification Types ─────────────────────────────────────────────────────

// Notification is a single outbound message handed to the dispatcher.
type Notification struct {
	To       string `json:"to_email"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"message"`
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// ClampScore restricts a credit score to [MinCreditScore, MaxCreditScore].
func ClampScore(v int) int {
	if v < MinCreditScore {
		return MinCreditScore
	}
	if v > MaxCreditScore {
		return MaxCreditScore
	}
	return v
}
