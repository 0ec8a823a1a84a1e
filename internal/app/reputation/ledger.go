// Package reputation implements the nurse credit-score mechanism:
// a bounded ledger with an append-only audit trail, the cancellation
// penalty schedule, and the warn/suspend/reinstate policy.
//
// Scores move only through Ledger.ApplyDelta; flags only through
// Policy.Apply.
package reputation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// AcceptanceReward is credited when a nurse accepts a booking.
	AcceptanceReward = 2

	// CompletionReward is credited when a booking is completed.
	CompletionReward = 1
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// Ledger applies bounded credit deltas and records one audit entry per call.
// It holds no state of its own; every call works on a fresh snapshot.
type Ledger struct {
	nurses domain.NurseDirectory
	logs   domain.CreditLogStore
	logger *log.Logger

	// Injectable for testing.
	now   func() time.Time
	newID func() string
}

// NewLedger creates a ledger over the given nurse directory and log store.
func NewLedger(nurses domain.NurseDirectory, logs domain.CreditLogStore, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		nurses: nurses,
		logs:   logs,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// ApplyDelta adds delta to the nurse's score, clamped to [0, 100], and appends
// a log entry carrying the unclamped delta.
//
// Errors:
//   - unknown nurse: wraps domain.ErrNurseNotFound, nothing written.
//   - score write fails: wraps domain.ErrStoreUnavailable, nothing written.
//   - append fails: wraps domain.ErrStoreUnavailable and still returns the
//     entry, since the score change is already committed.
func (l *Ledger) ApplyDelta(ctx context.Context, nurseID string, delta int, kind domain.CreditEventKind, reason string) (domain.CreditScoreLogEntry, error) {
	nurse, err := l.nurses.Get(ctx, nurseID)
	if err != nil {
		return domain.CreditScoreLogEntry{}, fmt.Errorf("ledger: fetch nurse %s: %w", nurseID, err)
	}

	entry := domain.CreditScoreLogEntry{
		ID:            l.newID(),
		NurseID:       nurseID,
		PreviousScore: nurse.CreditScore,
		NewScore:      domain.ClampScore(nurse.CreditScore + delta),
		Delta:         delta,
		Kind:          kind,
		Reason:        reason,
		Timestamp:     l.now().UTC(),
	}

	if err := l.nurses.UpdateScore(ctx, nurseID, entry.NewScore); err != nil {
		return domain.CreditScoreLogEntry{}, fmt.Errorf("ledger: %w: update score for %s: %w", domain.ErrStoreUnavailable, nurseID, err)
	}

	observability.LedgerDelta.Observe(float64(delta))
	if entry.Clamped() {
		observability.LedgerClamped.Inc()
	}

	if err := l.logs.Append(ctx, entry); err != nil {
		l.logger.Printf("[ledger] score for %s moved %d -> %d but audit append failed: %v",
			nurseID, entry.PreviousScore, entry.NewScore, err)
		return entry, fmt.Errorf("ledger: %w: append entry for %s: %w", domain.ErrStoreUnavailable, nurseID, err)
	}
	observability.LedgerEntries.WithLabelValues(string(kind)).Inc()

	l.logger.Printf("[ledger] %s %s: %d -> %d (delta %+d)", kind, nurseID, entry.PreviousScore, entry.NewScore, delta)
	return entry, nil
}

// History returns the nurse's credit log, oldest first.
func (l *Ledger) History(ctx context.Context, nurseID string) ([]domain.CreditScoreLogEntry, error) {
	if _, err := l.nurses.Get(ctx, nurseID); err != nil {
		return nil, fmt.Errorf("ledger: fetch nurse %s: %w", nurseID, err)
	}
	entries, err := l.logs.ListByNurse(ctx, nurseID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries for %s: %w", nurseID, err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// CancellationsInMonth counts the nurse's cancellation entries whose
// timestamp falls in the given calendar month (UTC).
func (l *Ledger) CancellationsInMonth(ctx context.Context, nurseID string, year int, month time.Month) (int, error) {
	entries, err := l.History(ctx, nurseID)
	if err != nil {
		return 0, err
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	count := 0
	for _, e := range entries {
		if e.Kind != domain.CreditCancellation {
			continue
		}
		ts := e.Timestamp.UTC()
		if !ts.Before(from) && ts.Before(to) {
			count++
		}
	}
	return count, nil
}
