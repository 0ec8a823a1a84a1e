// Package sqlite is the embedded store: bookings, nurses, patients and the
// credit score log in a single SQLite file.
//
// Status changes are conditional UPDATEs (WHERE status IN (...)), so two
// racing cancellations of one booking see exactly one transition.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// FileName is the database file created inside the data directory.
const FileName = "medgrab.db"

// DB wraps the SQLite handle and implements every store interface of the
// booking core.
type DB struct {
	db *sql.DB

	// Injectable for testing.
	now   func() time.Time
	newID func() string
}

// Open opens (or creates) dir/medgrab.db and applies the schema.
func Open(dir string) (*DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
	}
	dsn := filepath.Join(filepath.Clean(dir), FileName) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; conditional UPDATEs then serialize cleanly.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	db := &DB{db: sqlDB, now: time.Now, newID: uuid.NewString}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the handle.
func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements in order.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS nurses (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			email               TEXT NOT NULL DEFAULT '',
			credit_score        INTEGER NOT NULL DEFAULT 100 CHECK (credit_score BETWEEN 0 AND 100),
			is_warned           INTEGER NOT NULL DEFAULT 0,
			is_suspended        INTEGER NOT NULL DEFAULT 0,
			suspension_end_date INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS patients (
			id    TEXT PRIMARY KEY,
			name  TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id                  TEXT PRIMARY KEY,
			patient_id          TEXT NOT NULL,
			nurse_id            TEXT NOT NULL,
			start_time          INTEGER NOT NULL,
			end_time            INTEGER NOT NULL,
			notes               TEXT NOT NULL DEFAULT '',
			payment_amount      REAL NOT NULL DEFAULT 0,
			status              TEXT NOT NULL,
			cancellation_reason TEXT NOT NULL DEFAULT '',
			cancellation_count  INTEGER NOT NULL DEFAULT 0,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_lineage ON bookings(patient_id, start_time, end_time, status)`,

		`CREATE TABLE IF NOT EXISTS credit_score_logs (
			id             TEXT PRIMARY KEY,
			nurse_id       TEXT NOT NULL,
			previous_score INTEGER NOT NULL,
			new_score      INTEGER NOT NULL,
			delta          INTEGER NOT NULL,
			kind           TEXT NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			timestamp      INTEGER NOT NULL,
			seq            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_logs_nurse ON credit_score_logs(nurse_id, timestamp, seq)`,
	}
}

func (db *DB) migrate(ctx context.Context) error {
	for i, stmt := range Migrations() {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Encoding ───────────────────────────────────────────────────────────────

// Times are stored as UTC Unix milliseconds so range queries compare
// integers.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// unavailable marks a driver failure so callers can tell it from a domain
// answer.
func unavailable(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
