package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger in app/reputation is the only writer of credit scores.

// CreditEventKind represents the business reason for a credit change.
type CreditEventKind string

const (
	CreditCancellation  CreditEventKind = "CANCELLATION"
	CreditAcceptance    CreditEventKind = "ACCEPTANCE"
	CreditCompletion    CreditEventKind = "COMPLETION"
	CreditReinstatement CreditEventKind = "REINSTATEMENT"
	CreditAdjustment    CreditEventKind = "ADJUSTMENT"
)

// CreditScoreLogEntry is one append-only row of the credit audit trail.
// Delta is the requested change before clamping, so
// PreviousScore+Delta != NewScore exactly when the score was clamped.
type CreditScoreLogEntry struct {
	ID            string          `json:"id"`
	NurseID       string          `json:"nurse_id"`
	PreviousScore int             `json:"previous_score"`
	NewScore      int             `json:"new_score"`
	Delta         int             `json:"delta"`
	Kind          CreditEventKind `json:"kind"`
	Reason        string          `json:"reason"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Clamped reports whether the score bounds cut the requested delta short.
func (e CreditScoreLogEntry) Clamped() bool {
	return e.PreviousScore+e.Delta != e.NewScore
}

// Applied returns the change that actually reached the score.
func (e CreditScoreLogEntry) Applied() int {
	return e.NewScore - e.PreviousScore
}
