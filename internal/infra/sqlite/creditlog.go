package sqlite

import (
	"context"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Credit Log Operations ──────────────────────────────────────────────────

// CreditLog is the append-only domain.CreditLogStore view of the database.
type CreditLog struct{ *DB }

// CreditLog returns the credit score log.
func (db *DB) CreditLog() CreditLog { return CreditLog{db} }

// Append writes one entry. seq keeps append order for equal timestamps.
func (s CreditLog) Append(ctx context.Context, e domain.CreditScoreLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_score_logs (id, nurse_id, previous_score, new_score, delta, kind, reason, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM credit_score_logs))
	`, e.ID, e.NurseID, e.PreviousScore, e.NewScore, e.Delta, string(e.Kind), e.Reason, toMillis(e.Timestamp))
	if err != nil {
		return unavailable("append credit log", err)
	}
	return nil
}

// ListByNurse returns the nurse's entries in append order.
func (s CreditLog) ListByNurse(ctx context.Context, nurseID string) ([]domain.CreditScoreLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nurse_id, previous_score, new_score, delta, kind, reason, timestamp
		FROM credit_score_logs WHERE nurse_id = ? ORDER BY seq
	`, nurseID)
	if err != nil {
		return nil, unavailable("list credit log", err)
	}
	defer rows.Close()

	var out []domain.CreditScoreLogEntry
	for rows.Next() {
		var (
			e    domain.CreditScoreLogEntry
			kind string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.NurseID, &e.PreviousScore, &e.NewScore, &e.Delta, &kind, &e.Reason, &ts); err != nil {
			return nil, unavailable("list credit log", err)
		}
		e.Kind = domain.CreditEventKind(kind)
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list credit log", err)
	}
	return out, nil
}
