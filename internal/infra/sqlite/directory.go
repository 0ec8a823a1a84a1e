package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Nurse Operations ───────────────────────────────────────────────────────

// Nurses is the domain.NurseDirectory view of the database.
type Nurses struct{ *DB }

// Nurses returns the nurse directory.
func (db *DB) Nurses() Nurses { return Nurses{db} }

const nurseColumns = `id, name, email, credit_score, is_warned, is_suspended, suspension_end_date`

func scanNurse(row rowScanner) (domain.Nurse, error) {
	var (
		n                 domain.Nurse
		warned, suspended int
		end               sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.Name, &n.Email, &n.CreditScore, &warned, &suspended, &end); err != nil {
		return domain.Nurse{}, err
	}
	n.IsWarned = warned == 1
	n.IsSuspended = suspended == 1
	if end.Valid {
		t := fromMillis(end.Int64)
		n.SuspensionEndDate = &t
	}
	return n, nil
}

func suspensionEnd(f domain.NurseFlags) sql.NullInt64 {
	if f.SuspensionEndDate == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*f.SuspensionEndDate), Valid: true}
}

// UpsertNurse inserts or updates a nurse. Used for seeding.
func (db *DB) UpsertNurse(ctx context.Context, n domain.Nurse) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO nurses (`+nurseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name                = excluded.name,
			email               = excluded.email,
			credit_score        = excluded.credit_score,
			is_warned           = excluded.is_warned,
			is_suspended        = excluded.is_suspended,
			suspension_end_date = excluded.suspension_end_date
	`, n.ID, n.Name, n.Email, domain.ClampScore(n.CreditScore), boolInt(n.IsWarned), boolInt(n.IsSuspended), suspensionEnd(n.Flags()))
	if err != nil {
		return unavailable("upsert nurse", err)
	}
	return nil
}

// Get returns one nurse.
func (s Nurses) Get(ctx context.Context, id string) (domain.Nurse, error) {
	n, err := scanNurse(s.db.QueryRowContext(ctx, `SELECT `+nurseColumns+` FROM nurses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Nurse{}, fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	if err != nil {
		return domain.Nurse{}, unavailable("get nurse", err)
	}
	return n, nil
}

// ListAll returns every nurse ordered by id.
func (s Nurses) ListAll(ctx context.Context) ([]domain.Nurse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nurseColumns+` FROM nurses ORDER BY id`)
	if err != nil {
		return nil, unavailable("list nurses", err)
	}
	defer rows.Close()

	var out []domain.Nurse
	for rows.Next() {
		n, err := scanNurse(rows)
		if err != nil {
			return nil, unavailable("list nurses", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list nurses", err)
	}
	return out, nil
}

// UpdateScore sets the credit score.
func (s Nurses) UpdateScore(ctx context.Context, id string, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nurses SET credit_score = ? WHERE id = ?`, domain.ClampScore(score), id)
	return s.expectOne(res, err, "update score", id)
}

// UpdateFlags sets the warning and suspension flags together.
func (s Nurses) UpdateFlags(ctx context.Context, id string, f domain.NurseFlags) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nurses SET is_warned = ?, is_suspended = ?, suspension_end_date = ? WHERE id = ?
	`, boolInt(f.IsWarned), boolInt(f.IsSuspended), suspensionEnd(f), id)
	return s.expectOne(res, err, "update flags", id)
}

func (s Nurses) expectOne(res sql.Result, err error, op, id string) error {
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	return nil
}

// ─── Patient Operations ─────────────────────────────────────────────────────

// Patients is the domain.PatientDirectory view of the database.
type Patients struct{ *DB }

// Patients returns the patient directory.
func (db *DB) Patients() Patients { return Patients{db} }

// UpsertPatient inserts or updates a patient. Used for seeding.
func (db *DB) UpsertPatient(ctx context.Context, p domain.Patient) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO patients (id, name, email) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email
	`, p.ID, p.Name, p.Email)
	if err != nil {
		return unavailable("upsert patient", err)
	}
	return nil
}

// Get returns one patient.
func (s Patients) Get(ctx context.Context, id string) (domain.Patient, error) {
	var p domain.Patient
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email FROM patients WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", id, domain.ErrPatientNotFound)
	}
	if err != nil {
		return domain.Patient{}, unavailable("get patient", err)
	}
	return p, nil
}
