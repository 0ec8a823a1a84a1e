package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

// Config holds connection settings.
type Config struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration `toml:"slow_threshold"`
}

// DefaultConfig returns pool defaults; DSN must still be set.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		SlowThreshold:   time.Second,
	}
}

// Store wraps a gorm handle.
type Store struct {
	db *gorm.DB

	// Injectable for testing.
	now   func() time.Time
	newID func() string
}

// Open connects, checks the connection and migrates the schema.
func Open(cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	gl := gormlogger.New(logger, gormlogger.Config{
		SlowThreshold:             cfg.SlowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: underlying handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := db.AutoMigrate(models()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	logger.Printf("[postgres] connected, schema migrated")
	return &Store{db: db, now: time.Now, newID: uuid.NewString}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// ─── Bookings ───────────────────────────────────────────────────────────────

// Bookings is the domain.BookingStore view of the store.
type Bookings struct{ *Store }

// Bookings returns the booking store.
func (s *Store) Bookings() Bookings { return Bookings{s} }

// PutBooking inserts or replaces a booking as-is. Used for seeding.
func (s *Store) PutBooking(ctx context.Context, b domain.Booking) error {
	row := bookingToRow(b)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return unavailable("put booking", err)
	}
	return nil
}

func (s Bookings) Get(ctx context.Context, id string) (domain.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, domain.ErrBookingNotFound)
	}
	if err != nil {
		return domain.Booking{}, unavailable("get booking", err)
	}
	return bookingFromRow(row), nil
}

func (s Bookings) Cancel(ctx context.Context, id, reason string) (domain.CancelResult, error) {
	res := s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND status IN ?", id, statusStrings([]domain.BookingStatus{domain.BookingPending, domain.BookingAccepted})).
		Updates(map[string]any{
			"status":              string(domain.BookingCancelled),
			"cancellation_reason": reason,
			"updated_at":          s.now().UTC(),
		})
	if res.Error != nil {
		return domain.CancelResult{}, unavailable("cancel booking", res.Error)
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.CancelResult{}, err
	}
	switch {
	case res.RowsAffected == 1:
		return domain.CancelResult{Booking: b, Transitioned: true}, nil
	case b.Status == domain.BookingCancelled:
		return domain.CancelResult{Booking: b}, nil
	}
	return domain.CancelResult{}, fmt.Errorf("cancel %s from %s: %w", id, b.Status, domain.ErrInvalidTransition)
}

func (s Bookings) Create(ctx context.Context, nb domain.NewBooking) (domain.Booking, error) {
	now := s.now().UTC()
	b := domain.Booking{
		ID:                s.newID(),
		PatientID:         nb.PatientID,
		NurseID:           nb.NurseID,
		StartTime:         nb.StartTime.UTC(),
		EndTime:           nb.EndTime.UTC(),
		Notes:             nb.Notes,
		PaymentAmount:     nb.PaymentAmount,
		Status:            domain.BookingPending,
		CancellationCount: nb.CancellationCount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	row := bookingToRow(b)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Booking{}, unavailable("create booking", err)
	}
	return bookingFromRow(row), nil
}

func (s Bookings) ListCancelledInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	var rows []bookingRow
	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND start_time = ? AND end_time = ? AND status = ?",
			patientID, start.UTC(), end.UTC(), string(domain.BookingCancelled)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list cancelled", err)
	}
	out := make([]domain.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, bookingFromRow(r))
	}
	return out, nil
}

func (s Bookings) ListInWindow(ctx context.Context, patientID string, start, end time.Time) ([]domain.Booking, error) {
	var rows []bookingRow
	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND start_time = ? AND end_time = ?", patientID, start.UTC(), end.UTC()).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list lineage", err)
	}
	out := make([]domain.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, bookingFromRow(r))
	}
	return out, nil
}

func (s Bookings) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (domain.Booking, error) {
	if len(from) == 0 {
		return domain.Booking{}, fmt.Errorf("transition %s: no source status: %w", id, domain.ErrInvalidTransition)
	}
	res := s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(map[string]any{"status": string(to), "updated_at": s.now().UTC()})
	if res.Error != nil {
		return domain.Booking{}, unavailable("transition booking", res.Error)
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if res.RowsAffected == 0 {
		return domain.Booking{}, fmt.Errorf("booking %s %s -> %s: %w", id, b.Status, to, domain.ErrInvalidTransition)
	}
	return b, nil
}

func (s Bookings) AssignNurse(ctx context.Context, id, nurseID string) (domain.Booking, error) {
	res := s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND status = ?", id, string(domain.BookingPending)).
		Updates(map[string]any{"nurse_id": nurseID, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return domain.Booking{}, unavailable("assign nurse", res.Error)
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if res.RowsAffected == 0 {
		return domain.Booking{}, fmt.Errorf("assign %s in %s: %w", id, b.Status, domain.ErrInvalidTransition)
	}
	return b, nil
}

// ─── Nurses ─────────────────────────────────────────────────────────────────

// Nurses is the domain.NurseDirectory view of the store.
type Nurses struct{ *Store }

// Nurses returns the nurse directory.
func (s *Store) Nurses() Nurses { return Nurses{s} }

// UpsertNurse inserts or updates a nurse. Used for seeding.
func (s *Store) UpsertNurse(ctx context.Context, n domain.Nurse) error {
	row := nurseToRow(n)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return unavailable("upsert nurse", err)
	}
	return nil
}

func (s Nurses) Get(ctx context.Context, id string) (domain.Nurse, error) {
	var row nurseRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Nurse{}, fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	if err != nil {
		return domain.Nurse{}, unavailable("get nurse", err)
	}
	return nurseFromRow(row), nil
}

func (s Nurses) ListAll(ctx context.Context) ([]domain.Nurse, error) {
	var rows []nurseRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable("list nurses", err)
	}
	out := make([]domain.Nurse, 0, len(rows))
	for _, r := range rows {
		out = append(out, nurseFromRow(r))
	}
	return out, nil
}

func (s Nurses) UpdateScore(ctx context.Context, id string, score int) error {
	res := s.db.WithContext(ctx).Model(&nurseRow{}).Where("id = ?", id).
		Update("credit_score", domain.ClampScore(score))
	return expectOne(res, "update score", id)
}

func (s Nurses) UpdateFlags(ctx context.Context, id string, f domain.NurseFlags) error {
	res := s.db.WithContext(ctx).Model(&nurseRow{}).Where("id = ?", id).Updates(flagColumns(f))
	return expectOne(res, "update flags", id)
}

func expectOne(res *gorm.DB, op, id string) error {
	if res.Error != nil {
		return unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("nurse %s: %w", id, domain.ErrNurseNotFound)
	}
	return nil
}

// ─── Patients ───────────────────────────────────────────────────────────────

// Patients is the domain.PatientDirectory view of the store.
type Patients struct{ *Store }

// Patients returns the patient directory.
func (s *Store) Patients() Patients { return Patients{s} }

// UpsertPatient inserts or updates a patient. Used for seeding.
func (s *Store) UpsertPatient(ctx context.Context, p domain.Patient) error {
	row := patientRow{ID: p.ID, Name: p.Name, Email: p.Email}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return unavailable("upsert patient", err)
	}
	return nil
}

func (s Patients) Get(ctx context.Context, id string) (domain.Patient, error) {
	var row patientRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", id, domain.ErrPatientNotFound)
	}
	if err != nil {
		return domain.Patient{}, unavailable("get patient", err)
	}
	return domain.Patient{ID: row.ID, Name: row.Name, Email: row.Email}, nil
}

// ─── Credit Log ─────────────────────────────────────────────────────────────

// CreditLog is the append-only domain.CreditLogStore view of the store.
type CreditLog struct{ *Store }

// CreditLog returns the credit score log.
func (s *Store) CreditLog() CreditLog { return CreditLog{s} }

func (s CreditLog) Append(ctx context.Context, e domain.CreditScoreLogEntry) error {
	row := creditLogToRow(e)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return unavailable("append credit log", err)
	}
	return nil
}

// ListByNurse returns the nurse's entries in append order.
func (s CreditLog) ListByNurse(ctx context.Context, nurseID string) ([]domain.CreditScoreLogEntry, error) {
	var rows []creditLogRow
	if err := s.db.WithContext(ctx).Where("nurse_id = ?", nurseID).Order("seq").Find(&rows).Error; err != nil {
		return nil, unavailable("list credit log", err)
	}
	out := make([]domain.CreditScoreLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, creditLogFromRow(r))
	}
	return out, nil
}
