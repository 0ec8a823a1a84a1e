// Package postgres is the server store: the booking core's collaborators on
// PostgreSQL through gorm. Rows are decoded into domain types here so the
// core never sees driver types.
package postgres

import (
	"time"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// ─── Rows ───────────────────────────────────────────────────────────────────

type bookingRow struct {
	ID                 string    `gorm:"primaryKey;type:text"`
	PatientID          string    `gorm:"not null;index:idx_bookings_lineage,priority:1"`
	NurseID            string    `gorm:"not null;index"`
	StartTime          time.Time `gorm:"not null;index:idx_bookings_lineage,priority:2"`
	EndTime            time.Time `gorm:"not null;index:idx_bookings_lineage,priority:3"`
	Notes              string    `gorm:"not null;default:''"`
	PaymentAmount      float64   `gorm:"not null;default:0"`
	Status             string    `gorm:"not null;index:idx_bookings_lineage,priority:4"`
	CancellationReason string    `gorm:"not null;default:''"`
	CancellationCount  int       `gorm:"not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (bookingRow) TableName() string { return "bookings" }

type nurseRow struct {
	ID                string `gorm:"primaryKey;type:text"`
	Name              string `gorm:"not null;default:''"`
	Email             string `gorm:"not null;default:''"`
	CreditScore       int    `gorm:"not null;default:100;check:credit_score_range,credit_score BETWEEN 0 AND 100"`
	IsWarned          bool   `gorm:"not null;default:false"`
	IsSuspended       bool   `gorm:"not null;default:false"`
	SuspensionEndDate *time.Time
}

func (nurseRow) TableName() string { return "nurses" }

type patientRow struct {
	ID    string `gorm:"primaryKey;type:text"`
	Name  string `gorm:"not null;default:''"`
	Email string `gorm:"not null;default:''"`
}

func (patientRow) TableName() string { return "patients" }

type creditLogRow struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	ID            string    `gorm:"uniqueIndex;not null"`
	NurseID       string    `gorm:"not null;index"`
	PreviousScore int       `gorm:"not null"`
	NewScore      int       `gorm:"not null"`
	Delta         int       `gorm:"not null"`
	Kind          string    `gorm:"not null"`
	Reason        string    `gorm:"not null;default:''"`
	Timestamp     time.Time `gorm:"not null"`
}

func (creditLogRow) TableName() string { return "credit_score_logs" }

// models lists every table for AutoMigrate.
func models() []any {
	return []any{&bookingRow{}, &nurseRow{}, &patientRow{}, &creditLogRow{}}
}

// ─── Mapping ────────────────────────────────────────────────────────────────

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func bookingFromRow(r bookingRow) domain.Booking {
	return domain.Booking{
		ID:                 r.ID,
		PatientID:          r.PatientID,
		NurseID:            r.NurseID,
		StartTime:          r.StartTime.UTC(),
		EndTime:            r.EndTime.UTC(),
		Notes:              r.Notes,
		PaymentAmount:      r.PaymentAmount,
		Status:             domain.BookingStatus(r.Status),
		CancellationReason: r.CancellationReason,
		CancellationCount:  r.CancellationCount,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func bookingToRow(b domain.Booking) bookingRow {
	return bookingRow{
		ID:                 b.ID,
		PatientID:          b.PatientID,
		NurseID:            b.NurseID,
		StartTime:          b.StartTime.UTC(),
		EndTime:            b.EndTime.UTC(),
		Notes:              b.Notes,
		PaymentAmount:      b.PaymentAmount,
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		CancellationCount:  b.CancellationCount,
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	}
}

func nurseFromRow(r nurseRow) domain.Nurse {
	return domain.Nurse{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		CreditScore:       r.CreditScore,
		IsWarned:          r.IsWarned,
		IsSuspended:       r.IsSuspended,
		SuspensionEndDate: utcPtr(r.SuspensionEndDate),
	}
}

func nurseToRow(n domain.Nurse) nurseRow {
	return nurseRow{
		ID:                n.ID,
		Name:              n.Name,
		Email:             n.Email,
		CreditScore:       domain.ClampScore(n.CreditScore),
		IsWarned:          n.IsWarned,
		IsSuspended:       n.IsSuspended,
		SuspensionEndDate: utcPtr(n.SuspensionEndDate),
	}
}

// flagColumns is the UPDATE set for NurseDirectory.UpdateFlags. A nil end
// date must be written as NULL, so the map keeps the key.
func flagColumns(f domain.NurseFlags) map[string]any {
	var end any
	if f.SuspensionEndDate != nil {
		end = f.SuspensionEndDate.UTC()
	}
	return map[string]any{
		"is_warned":           f.IsWarned,
		"is_suspended":        f.IsSuspended,
		"suspension_end_date": end,
	}
}

func creditLogFromRow(r creditLogRow) domain.CreditScoreLogEntry {
	return domain.CreditScoreLogEntry{
		ID:            r.ID,
		NurseID:       r.NurseID,
		PreviousScore: r.PreviousScore,
		NewScore:      r.NewScore,
		Delta:         r.Delta,
		Kind:          domain.CreditEventKind(r.Kind),
		Reason:        r.Reason,
		Timestamp:     r.Timestamp.UTC(),
	}
}

func creditLogToRow(e domain.CreditScoreLogEntry) creditLogRow {
	return creditLogRow{
		ID:            e.ID,
		NurseID:       e.NurseID,
		PreviousScore: e.PreviousScore,
		NewScore:      e.NewScore,
		Delta:         e.Delta,
		Kind:          string(e.Kind),
		Reason:        e.Reason,
		Timestamp:     e.Timestamp.UTC(),
	}
}

func statusStrings(in []domain.BookingStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
