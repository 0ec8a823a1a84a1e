package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/teyyyyy/MedGrab/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.now = func() time.Time { return fixedNow }
	n := 0
	var mu sync.Mutex
	db.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("gen-%d", n)
	}
	return db
}

func seedBooking(t *testing.T, db *DB, id, nurse string, status domain.BookingStatus) domain.Booking {
	t.Helper()
	start := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	b := domain.Booking{
		ID: id, PatientID: "p1", NurseID: nurse,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: status, PaymentAmount: 60, Notes: "ring twice",
	}
	if err := db.PutBooking(context.Background(), b); err != nil {
		t.Fatalf("PutBooking: %v", err)
	}
	return b
}

// ─── Schema ─────────────────────────────────────────────────────────────────

func TestOpen_MigrationsAreRerunnable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertNurse(context.Background(), domain.Nurse{ID: "n1", CreditScore: 70}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	n, err := db.Nurses().Get(context.Background(), "n1")
	if err != nil || n.CreditScore != 70 {
		t.Errorf("nurse after reopen = %+v, %v", n, err)
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty dir")
	}
}

// ─── Bookings ───────────────────────────────────────────────────────────────

func TestBookings_GetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	want := seedBooking(t, db, "b1", "n1", domain.BookingAccepted)

	got, err := db.Bookings().Get(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.StartTime.Equal(want.StartTime) || !got.EndTime.Equal(want.EndTime) {
		t.Errorf("times = %s..%s", got.StartTime, got.EndTime)
	}
	if got.Status != domain.BookingAccepted || got.Notes != "ring twice" || got.PaymentAmount != 60 {
		t.Errorf("booking = %+v", got)
	}
	if got.StartTime.Location() != time.UTC {
		t.Error("times must come back in UTC")
	}
}

func TestBookings_CancelIsConditional(t *testing.T) {
	db := newTestDB(t)
	store := db.Bookings()
	ctx := context.Background()
	seedBooking(t, db, "b1", "n1", domain.BookingPending)

	res, err := store.Cancel(ctx, "b1", "sick")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Transitioned || res.Booking.Status != domain.BookingCancelled || res.Booking.CancellationReason != "sick" {
		t.Errorf("first cancel = %+v", res)
	}

	res, err = store.Cancel(ctx, "b1", "again")
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned || res.Booking.CancellationReason != "sick" {
		t.Errorf("second cancel = %+v", res)
	}
}

func TestBookings_CancelCompletedRejected(t *testing.T) {
	db := newTestDB(t)
	seedBooking(t, db, "b1", "n1", domain.BookingCompleted)

	_, err := db.Bookings().Cancel(context.Background(), "b1", "x")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestBookings_ConcurrentCancelTransitionsOnce(t *testing.T) {
	db := newTestDB(t)
	store := db.Bookings()
	seedBooking(t, db, "b1", "n1", domain.BookingAccepted)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Cancel(context.Background(), "b1", "race")
			if err != nil {
				t.Errorf("Cancel: %v", err)
				return
			}
			if res.Transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if transitions != 1 {
		t.Errorf("transitions = %d, want 1", transitions)
	}
}

func TestBookings_NotFound(t *testing.T) {
	db := newTestDB(t)
	store := db.Bookings()
	ctx := context.Background()

	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Errorf("Get: %v", err)
	}
	if _, err := store.Cancel(ctx, "ghost", "x"); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Errorf("Cancel: %v", err)
	}
	if _, err := store.Transition(ctx, "ghost", []domain.BookingStatus{domain.BookingPending}, domain.BookingAccepted); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Errorf("Transition: %v", err)
	}
}

func TestBookings_CreateAndListCancelledInWindow(t *testing.T) {
	db := newTestDB(t)
	store := db.Bookings()
	ctx := context.Background()

	orig := seedBooking(t, db, "b1", "n1", domain.BookingAccepted)
	seedBooking(t, db, "other", "n9", domain.BookingCancelled)
	if err := db.PutBooking(ctx, domain.Booking{
		ID: "elsewhere", PatientID: "p1", NurseID: "n8",
		StartTime: orig.StartTime.Add(24 * time.Hour), EndTime: orig.EndTime.Add(24 * time.Hour),
		Status: domain.BookingCancelled,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Cancel(ctx, "b1", "sick"); err != nil {
		t.Fatal(err)
	}
	succ, err := store.Create(ctx, orig.Successor("n2", 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if succ.ID != "gen-1" || succ.Status != domain.BookingPending || succ.CancellationCount != 1 || succ.NurseID != "n2" {
		t.Errorf("successor = %+v", succ)
	}
	if got, _ := store.Get(ctx, succ.ID); !got.StartTime.Equal(orig.StartTime) || got.Notes != orig.Notes {
		t.Errorf("successor lost lineage: %+v", got)
	}

	// Same window with another zone offset still matches.
	zone := time.FixedZone("CET", 3600)
	list, err := store.ListCancelledInWindow(ctx, "p1", orig.StartTime.In(zone), orig.EndTime.In(zone))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b1" || list[1].ID != "other" {
		t.Errorf("lineage = %+v", list)
	}

	all, err := store.ListInWindow(ctx, "p1", orig.StartTime.In(zone), orig.EndTime.In(zone))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[1].ID != succ.ID || all[1].Status != domain.BookingPending {
		t.Errorf("lineage = %+v, want b1, the successor and other", all)
	}
}

func TestBookings_TransitionAndAssign(t *testing.T) {
	db := newTestDB(t)
	store := db.Bookings()
	ctx := context.Background()
	seedBooking(t, db, "b1", "n1", domain.BookingPending)

	b, err := store.AssignNurse(ctx, "b1", "n2")
	if err != nil || b.NurseID != "n2" {
		t.Fatalf("AssignNurse = %+v, %v", b, err)
	}

	b, err = store.Transition(ctx, "b1", []domain.BookingStatus{domain.BookingPending}, domain.BookingAccepted)
	if err != nil || b.Status != domain.BookingAccepted {
		t.Fatalf("Transition = %+v, %v", b, err)
	}
	if _, err := store.Transition(ctx, "b1", []domain.BookingStatus{domain.BookingPending}, domain.BookingAccepted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("repeat transition: %v", err)
	}
	if _, err := store.AssignNurse(ctx, "b1", "n3"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("assign on accepted: %v", err)
	}
	if _, err := store.Transition(ctx, "b1", nil, domain.BookingCompleted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("empty from: %v", err)
	}
}

// ─── Nurses & Patients ──────────────────────────────────────────────────────

func TestNurses_UpdateScoreAndFlags(t *testing.T) {
	db := newTestDB(t)
	nurses := db.Nurses()
	ctx := context.Background()
	for _, id := range []string{"n2", "n1"} {
		if err := db.UpsertNurse(ctx, domain.Nurse{ID: id, Name: "Nurse " + id, CreditScore: 80}); err != nil {
			t.Fatal(err)
		}
	}

	if err := nurses.UpdateScore(ctx, "n1", 25); err != nil {
		t.Fatal(err)
	}
	end := fixedNow.Add(720 * time.Hour)
	if err := nurses.UpdateFlags(ctx, "n1", domain.NurseFlags{IsSuspended: true, SuspensionEndDate: &end}); err != nil {
		t.Fatal(err)
	}

	n, err := nurses.Get(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if n.CreditScore != 25 || !n.IsSuspended || n.IsWarned || n.SuspensionEndDate == nil || !n.SuspensionEndDate.Equal(end) {
		t.Errorf("nurse = %+v", n)
	}

	if err := nurses.UpdateFlags(ctx, "n1", domain.NurseFlags{}); err != nil {
		t.Fatal(err)
	}
	if n, _ := nurses.Get(ctx, "n1"); n.SuspensionEndDate != nil || n.IsSuspended {
		t.Errorf("flags not cleared: %+v", n)
	}

	all, err := nurses.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "n1" {
		t.Errorf("ListAll = %+v", all)
	}

	if err := nurses.UpdateScore(ctx, "ghost", 10); !errors.Is(err, domain.ErrNurseNotFound) {
		t.Errorf("unknown nurse: %v", err)
	}
}

func TestNurses_ScoreCheckConstraint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.UpsertNurse(ctx, domain.Nurse{ID: "n1", CreditScore: 250}); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.Nurses().Get(ctx, "n1"); n.CreditScore != domain.MaxCreditScore {
		t.Errorf("score = %d, want clamped", n.CreditScore)
	}
}

func TestPatients_Get(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.UpsertPatient(ctx, domain.Patient{ID: "p1", Name: "Pat", Email: "pat@example.com"}); err != nil {
		t.Fatal(err)
	}
	p, err := db.Patients().Get(ctx, "p1")
	if err != nil || p.Email != "pat@example.com" {
		t.Errorf("patient = %+v, %v", p, err)
	}
	if _, err := db.Patients().Get(ctx, "ghost"); !errors.Is(err, domain.ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

// ─── Credit Log ─────────────────────────────────────────────────────────────

func TestCreditLog_AppendOrder(t *testing.T) {
	db := newTestDB(t)
	log := db.CreditLog()
	ctx := context.Background()

	entries := []domain.CreditScoreLogEntry{
		{ID: "e1", NurseID: "n1", PreviousScore: 100, NewScore: 93, Delta: -7, Kind: domain.CreditCancellation, Reason: "Booking cancellation: b1", Timestamp: fixedNow},
		{ID: "e2", NurseID: "n2", PreviousScore: 50, NewScore: 52, Delta: 2, Kind: domain.CreditAcceptance, Timestamp: fixedNow},
		{ID: "e3", NurseID: "n1", PreviousScore: 93, NewScore: 95, Delta: 2, Kind: domain.CreditAcceptance, Timestamp: fixedNow},
	}
	for _, e := range entries {
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.ListByNurse(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e3" {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].Kind != domain.CreditCancellation || got[0].Delta != -7 || !got[0].Timestamp.Equal(fixedNow) {
		t.Errorf("entry = %+v", got[0])
	}

	if err := log.Append(ctx, entries[0]); err == nil {
		t.Error("duplicate entry id should fail")
	} else if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// ─── Interface conformance ──────────────────────────────────────────────────

var (
	_ domain.BookingStore     = Bookings{}
	_ domain.NurseDirectory   = Nurses{}
	_ domain.PatientDirectory = Patients{}
	_ domain.CreditLogStore   = CreditLog{}
)
