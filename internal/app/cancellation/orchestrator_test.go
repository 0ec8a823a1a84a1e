package cancellation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teyyyyy/MedGrab/internal/app/reassign"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/memory"
)

var slot = time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

// ─── Fixtures ───────────────────────────────────────────────────────────────

type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

// hookedBookings lets a test fail individual booking operations.
type hookedBookings struct {
	*memory.Bookings
	listErr   error
	createErr error
}

func (h *hookedBookings) ListCancelledInWindow(ctx context.Context, p string, s, e time.Time) ([]domain.Booking, error) {
	if h.listErr != nil {
		return nil, h.listErr
	}
	return h.Bookings.ListCancelledInWindow(ctx, p, s, e)
}

func (h *hookedBookings) Create(ctx context.Context, nb domain.NewBooking) (domain.Booking, error) {
	if h.createErr != nil {
		return domain.Booking{}, h.createErr
	}
	return h.Bookings.Create(ctx, nb)
}

type brokenLog struct{ *memory.CreditLog }

func (brokenLog) Append(context.Context, domain.CreditScoreLogEntry) error {
	return &domain.ExternalServiceError{Service: "credit_log", Op: "append", Err: context.DeadlineExceeded}
}

// frozenScores refuses score writes.
type frozenScores struct{ *memory.Nurses }

func (frozenScores) UpdateScore(context.Context, string, int) error {
	return &domain.ExternalServiceError{Service: "nurses", Op: "update_score", Err: errors.New("read-only replica")}
}

type brokenNotifier struct{}

func (brokenNotifier) Enqueue(context.Context, domain.Notification) error {
	return errors.New("broker unreachable")
}

type harness struct {
	orch     *Orchestrator
	bookings *hookedBookings
	nurses   *memory.Nurses
	patients *memory.Patients
	logs     domain.CreditLogStore
	outbox   *memory.Outbox
	wrap     func(*memory.Nurses) domain.NurseDirectory
}

type option func(*harness, *Config, *Deps)

func withLog(l domain.CreditLogStore) option {
	return func(h *harness, _ *Config, d *Deps) { h.logs = l }
}

func withNotifier(n domain.NotificationDispatcher) option {
	return func(_ *harness, _ *Config, d *Deps) { d.Notifier = n }
}

func withNurses(wrap func(*memory.Nurses) domain.NurseDirectory) option {
	return func(h *harness, _ *Config, _ *Deps) { h.wrap = wrap }
}

func withConfig(f func(*Config)) option {
	return func(_ *harness, c *Config, _ *Deps) { f(c) }
}

func newTestHarness(t *testing.T, nurses []domain.Nurse, opts ...option) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	h := &harness{
		bookings: &hookedBookings{Bookings: memory.NewBookings()},
		nurses:   memory.NewNurses(nurses...),
		patients: memory.NewPatients(domain.Patient{ID: "p1", Name: "Pat", Email: "pat@example.com"}),
		logs:     memory.NewCreditLog(),
		outbox:   memory.NewOutbox(),
	}
	cfg := DefaultConfig()
	deps := Deps{
		Bookings: h.bookings,
		Nurses:   h.nurses,
		Patients: h.patients,
		Notifier: h.outbox,
	}
	for _, o := range opts {
		o(h, &cfg, &deps)
	}
	if h.wrap != nil {
		deps.Nurses = h.wrap(h.nurses)
	}
	deps.Ledger = reputation.NewLedger(deps.Nurses, h.logs, quiet)
	deps.Policy = reputation.NewPolicy(reputation.DefaultPolicyConfig(), deps.Nurses, deps.Ledger, quiet)
	deps.Selector = reassign.NewSelector(h.bookings, deps.Nurses, firstRand{}, quiet)
	h.orch = New(cfg, deps, quiet)
	return h
}

func (h *harness) seed(id, nurse string, count int) domain.Booking {
	b := domain.Booking{
		ID: id, PatientID: "p1", NurseID: nurse,
		StartTime: slot, EndTime: slot.Add(time.Hour),
		Notes: "ground floor", PaymentAmount: 75,
		Status: domain.BookingAccepted, CancellationCount: count,
	}
	h.bookings.Put(b)
	return b
}

func (h *harness) nurse(t *testing.T, id string) domain.Nurse {
	t.Helper()
	n, err := h.nurses.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func nurse(id string, score int) domain.Nurse {
	return domain.Nurse{ID: id, Name: "Nurse " + id, Email: id + "@example.com", CreditScore: score}
}

func request(booking, nurse string) domain.CancellationRequest {
	return domain.CancellationRequest{BookingID: booking, NurseID: nurse, Reason: "family emergency"}
}

// ─── Scenarios ──────────────────────────────────────────────────────────────

func TestProcessCancellation_Reassigns(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100), nurse("n3", 100)})
	h.seed("b1", "n1", 0)
	ctx := context.Background()

	out, err := h.orch.ProcessCancellation(ctx, request("b1", "n1"))
	if err != nil {
		t.Fatalf("ProcessCancellation: %v", err)
	}
	if out.Status != domain.OutcomeReassigned || out.TerminalReason != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", out.Warnings)
	}
	if out.PreviousNurse.NewScore != 93 || out.PreviousNurse.Delta != -7 || out.PreviousNurse.Standing != domain.StandingActive {
		t.Errorf("previous nurse = %+v", out.PreviousNurse)
	}
	if h.nurse(t, "n1").CreditScore != 93 {
		t.Error("nurse score not persisted")
	}

	old, _ := h.bookings.Get(ctx, "b1")
	if old.Status != domain.BookingCancelled || old.CancellationReason != "family emergency" {
		t.Errorf("old booking = %+v", old)
	}

	succ, err := h.bookings.Get(ctx, out.NewBookingID)
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	if succ.Status != domain.BookingPending || succ.CancellationCount != 1 || succ.NurseID == "n1" {
		t.Errorf("successor = %+v", succ)
	}
	if succ.NurseID != out.NewNurseID || out.NewNurseName == "" {
		t.Errorf("outcome nurse %s/%q vs successor %s", out.NewNurseID, out.NewNurseName, succ.NurseID)
	}
	if !succ.StartTime.Equal(slot) || succ.PatientID != "p1" || succ.PaymentAmount != 75 || succ.Notes != "ground floor" {
		t.Errorf("successor lost booking fields: %+v", succ)
	}

	if len(h.outbox.SentTo("n1@example.com")) != 1 {
		t.Error("cancelling nurse not notified")
	}
	if len(h.outbox.SentTo(succ.NurseID+"@example.com")) != 1 {
		t.Error("new nurse not notified")
	}
	patientMsgs := h.outbox.SentTo("pat@example.com")
	if len(patientMsgs) != 1 || !strings.Contains(patientMsgs[0].BodyHTML, out.NewNurseName) {
		t.Errorf("patient notification = %+v", patientMsgs)
	}
}

func TestProcessCancellation_SuspendsWarnedNurse(t *testing.T) {
	warned := nurse("n1", 25)
	warned.IsWarned = true
	h := newTestHarness(t, []domain.Nurse{warned, nurse("n2", 100)})
	h.seed("b1", "n1", 0)

	before := time.Now()
	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatal(err)
	}
	pn := out.PreviousNurse
	if pn.NewScore != 18 || pn.Transition != domain.TransitionSuspend || pn.Standing != domain.StandingSuspended {
		t.Fatalf("previous nurse = %+v", pn)
	}

	n := h.nurse(t, "n1")
	if !n.IsSuspended || n.IsWarned || n.SuspensionEndDate == nil {
		t.Fatalf("nurse = %+v", n)
	}
	want := before.Add(30 * 24 * time.Hour)
	if d := n.SuspensionEndDate.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("SuspensionEndDate = %v, want about %v", n.SuspensionEndDate, want)
	}
	msgs := h.outbox.SentTo("n1@example.com")
	if len(msgs) != 1 || !strings.Contains(msgs[0].BodyHTML, "suspended until") {
		t.Errorf("nurse message should mention the suspension: %+v", msgs)
	}
}

func TestProcessCancellation_BudgetExhausted(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b3", "n1", 2)
	h.bookings.listErr = errors.New("selector must not be consulted")

	out, err := h.orch.ProcessCancellation(context.Background(), request("b3", "n1"))
	if err != nil {
		t.Fatalf("ProcessCancellation: %v", err)
	}
	if out.Status != domain.OutcomePermanentlyCancelled || out.TerminalReason != domain.ReasonMaxReassignments {
		t.Fatalf("outcome = %+v", out)
	}
	if out.CancellationCount != 3 || out.NewBookingID != "" {
		t.Errorf("outcome = %+v", out)
	}
	if got := len(h.bookings.All()); got != 1 {
		t.Errorf("bookings = %d, want no successor", got)
	}
	msgs := h.outbox.SentTo("pat@example.com")
	if len(msgs) != 1 || !strings.Contains(msgs[0].BodyHTML, "create a new booking") {
		t.Errorf("patient should be asked to rebook: %+v", msgs)
	}
}

func TestProcessCancellation_NoEligibleNurse(t *testing.T) {
	end := slot.Add(30 * 24 * time.Hour)
	suspended := func(id string) domain.Nurse {
		n := nurse(id, 10)
		n.IsSuspended, n.SuspensionEndDate = true, &end
		return n
	}
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), suspended("n2"), suspended("n3")})
	h.seed("b1", "n1", 0)

	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatalf("ProcessCancellation: %v", err)
	}
	if out.Status != domain.OutcomePermanentlyCancelled || out.TerminalReason != domain.ReasonNoEligibleNurse {
		t.Fatalf("outcome = %+v", out)
	}
	if out.CancellationCount != 1 {
		t.Errorf("CancellationCount = %d, want 1", out.CancellationCount)
	}
	if len(h.outbox.SentTo("pat@example.com")) != 1 {
		t.Error("patient should be asked to rebook")
	}
}

// ─── Lineage ────────────────────────────────────────────────────────────────

func TestProcessCancellation_LineageTerminates(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100), nurse("n3", 100), nurse("n4", 100), nurse("n5", 100)})
	h.seed("b1", "n1", 0)
	ctx := context.Background()

	bookingID, nurseID := "b1", "n1"
	seen := map[string]bool{}
	var out domain.CancellationOutcome
	for i := 1; i <= 5; i++ {
		seen[nurseID] = true
		// Successors start Pending; the nurse cancels before accepting.
		var err error
		out, err = h.orch.ProcessCancellation(ctx, request(bookingID, nurseID))
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if out.Status == domain.OutcomePermanentlyCancelled {
			if i != 3 {
				t.Fatalf("lineage ended after %d cancellations, want 3", i)
			}
			break
		}
		if seen[out.NewNurseID] {
			t.Fatalf("round %d: nurse %s already cancelled this lineage", i, out.NewNurseID)
		}
		bookingID, nurseID = out.NewBookingID, out.NewNurseID
	}
	if out.TerminalReason != domain.ReasonMaxReassignments {
		t.Errorf("TerminalReason = %s", out.TerminalReason)
	}
	if got := len(h.bookings.All()); got != 3 {
		t.Errorf("lineage has %d records, want 3", got)
	}
}

func TestProcessCancellation_EscalatingPenalty(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)},
		withConfig(func(c *Config) { c.Penalty = reputation.PenaltySchedule{Escalation: []int{-5, -10, -20}} }))
	h.seed("b1", "n1", 1)

	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.PreviousNurse.Delta != -10 || out.PreviousNurse.NewScore != 90 {
		t.Errorf("previous nurse = %+v", out.PreviousNurse)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestProcessCancellation_RejectsBeforeSideEffects(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b1", "n1", 0)
	done := h.seed("b2", "n1", 0)
	done.Status = domain.BookingCompleted
	h.bookings.Put(done)

	tests := []struct {
		name string
		req  domain.CancellationRequest
		want error
	}{
		{"missing reason", domain.CancellationRequest{BookingID: "b1", NurseID: "n1"}, domain.ErrInvalidRequest},
		{"unknown booking", request("nope", "n1"), domain.ErrBookingNotFound},
		{"unknown nurse", request("b1", "ghost"), domain.ErrNurseNotFound},
		{"not assigned", request("b1", "n2"), domain.ErrNotAssigned},
		{"completed", request("b2", "n1"), domain.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.ProcessCancellation(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if h.nurse(t, "n1").CreditScore != 100 {
		t.Error("rejected requests must not touch the score")
	}
	if len(h.outbox.Sent()) != 0 {
		t.Error("rejected requests must not notify")
	}
	if b, _ := h.bookings.Get(context.Background(), "b1"); b.Status != domain.BookingAccepted {
		t.Errorf("b1 status = %s", b.Status)
	}
}

func TestProcessCancellation_DoubleCancelPenalizesOnce(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100), nurse("n3", 100)})
	h.seed("b1", "n1", 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if out.CancelledBookingID != "b1" || out.CancellationCount != 1 {
				t.Errorf("outcome = %+v", out)
			}
			successes++
		}()
	}
	wg.Wait()

	if successes != 8 {
		t.Errorf("successes = %d, want 8", successes)
	}
	if h.nurse(t, "n1").CreditScore != 93 {
		t.Errorf("score = %d, want a single -7", h.nurse(t, "n1").CreditScore)
	}
	entries, _ := h.logs.ListByNurse(context.Background(), "n1")
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
}

func TestProcessCancellation_LedgerFailureIsWarning(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)},
		withLog(brokenLog{memory.NewCreditLog()}))
	h.seed("b1", "n1", 0)

	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatalf("ledger failure must not abort: %v", err)
	}
	if out.Status != domain.OutcomeReassigned {
		t.Errorf("Status = %s", out.Status)
	}
	if len(out.Warnings) != 1 || !strings.HasPrefix(out.Warnings[0], stepPenalty) {
		t.Errorf("Warnings = %v", out.Warnings)
	}
	// The score committed before the audit append failed.
	pn := out.PreviousNurse
	if pn.Delta != -7 || pn.PreviousScore != 100 || pn.NewScore != 93 {
		t.Errorf("previous nurse = %+v", pn)
	}
}

func TestProcessCancellation_ScoreWriteFailureKeepsSnapshot(t *testing.T) {
	low := nurse("n1", 32)
	h := newTestHarness(t, []domain.Nurse{low, nurse("n2", 100)},
		withNurses(func(n *memory.Nurses) domain.NurseDirectory { return frozenScores{n} }))
	h.seed("b1", "n1", 0)

	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatalf("score failure must not abort: %v", err)
	}
	pn := out.PreviousNurse
	if pn.Delta != -7 || pn.PreviousScore != 32 || pn.NewScore != 32 {
		t.Errorf("previous nurse = %+v, want requested delta over an unchanged snapshot", pn)
	}
	// No score moved, so the policy must not warn at 32.
	if pn.Transition != domain.TransitionNone || pn.Standing != domain.StandingActive {
		t.Errorf("previous nurse = %+v", pn)
	}
	if len(out.Warnings) != 1 || !strings.HasPrefix(out.Warnings[0], stepPenalty) {
		t.Errorf("Warnings = %v", out.Warnings)
	}
	if h.nurse(t, "n1").IsWarned {
		t.Error("policy ran without a score change")
	}
}

func TestProcessCancellation_RepeatIsNoOp(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b1", "n1", 0)
	ctx := context.Background()

	first, err := h.orch.ProcessCancellation(ctx, request("b1", "n1"))
	if err != nil {
		t.Fatal(err)
	}
	sent := len(h.outbox.Sent())

	again, err := h.orch.ProcessCancellation(ctx, request("b1", "n1"))
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if again.Status != domain.OutcomeReassigned || again.NewBookingID != first.NewBookingID || again.NewNurseID != "n2" {
		t.Errorf("repeat outcome = %+v, want the first successor %s", again, first.NewBookingID)
	}
	if again.NewNurseName != "Nurse n2" || again.CancellationCount != 1 {
		t.Errorf("repeat outcome = %+v", again)
	}
	pn := again.PreviousNurse
	if pn.Delta != 0 || pn.PreviousScore != 93 || pn.NewScore != 93 || pn.Transition != domain.TransitionNone {
		t.Errorf("previous nurse = %+v", pn)
	}

	if h.nurse(t, "n1").CreditScore != 93 {
		t.Errorf("score = %d, want 93", h.nurse(t, "n1").CreditScore)
	}
	if entries, _ := h.logs.ListByNurse(ctx, "n1"); len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(entries))
	}
	if len(h.outbox.Sent()) != sent {
		t.Errorf("repeat sent %d notifications", len(h.outbox.Sent())-sent)
	}
	if len(h.bookings.All()) != 2 {
		t.Errorf("bookings = %d, want no second successor", len(h.bookings.All()))
	}
}

func TestProcessCancellation_RepeatAfterLineageEnded(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b3", "n1", 2)
	ctx := context.Background()

	if _, err := h.orch.ProcessCancellation(ctx, request("b3", "n1")); err != nil {
		t.Fatal(err)
	}
	sent := len(h.outbox.Sent())

	out, err := h.orch.ProcessCancellation(ctx, request("b3", "n1"))
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if out.Status != domain.OutcomePermanentlyCancelled || out.TerminalReason != domain.ReasonMaxReassignments {
		t.Errorf("outcome = %+v", out)
	}
	if out.CancellationCount != 3 || out.NewBookingID != "" {
		t.Errorf("outcome = %+v", out)
	}
	if len(h.outbox.Sent()) != sent {
		t.Error("repeat must not ask the patient to rebook again")
	}
}

func TestProcessCancellation_NotificationFailuresAreWarnings(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)},
		withNotifier(brokenNotifier{}))
	h.seed("b1", "n1", 0)

	out, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.OutcomeReassigned {
		t.Fatalf("Status = %s", out.Status)
	}
	// Cancelling nurse, new nurse and patient.
	if len(out.Warnings) != 3 {
		t.Errorf("Warnings = %v", out.Warnings)
	}
}

func TestProcessCancellation_TimeoutAbortsWithoutRollback(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b1", "n1", 0)
	h.bookings.listErr = &domain.ExternalServiceError{Service: "bookings", Op: "list_cancelled_in_window", Err: context.DeadlineExceeded}

	_, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	ext, ok := domain.AsExternal(err)
	if !ok || !ext.Timeout() {
		t.Fatalf("expected timeout ExternalServiceError, got %v", err)
	}

	b, _ := h.bookings.Get(context.Background(), "b1")
	if b.Status != domain.BookingCancelled {
		t.Error("cancellation must stand after an abort")
	}
	if h.nurse(t, "n1").CreditScore != 93 {
		t.Error("penalty must stand after an abort")
	}
	if len(h.bookings.All()) != 1 {
		t.Error("no successor may be created after an abort")
	}
	if len(h.outbox.SentTo("n2@example.com")) != 0 || len(h.outbox.SentTo("pat@example.com")) != 0 {
		t.Error("no reassignment notifications after an abort")
	}
}

func TestProcessCancellation_CreateFailureAborts(t *testing.T) {
	h := newTestHarness(t, []domain.Nurse{nurse("n1", 100), nurse("n2", 100)})
	h.seed("b1", "n1", 0)
	cause := fmt.Errorf("insert: %w", domain.ErrStoreUnavailable)
	h.bookings.createErr = cause

	_, err := h.orch.ProcessCancellation(context.Background(), request("b1", "n1"))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrInvalidRequest, "invalid"},
		{fmt.Errorf("x: %w", domain.ErrBookingNotFound), "not_found"},
		{domain.ErrAlreadyCancelled, "conflict"},
		{&domain.ExternalServiceError{Err: context.DeadlineExceeded}, "timeout"},
		{&domain.ExternalServiceError{Err: errors.New("500")}, "external"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := errorClass(tt.err); got != tt.want {
			t.Errorf("errorClass(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
