package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teyyyyy/MedGrab/internal/app/cancellation"
	"github.com/teyyyyy/MedGrab/internal/app/executor"
	"github.com/teyyyyy/MedGrab/internal/app/lifecycle"
	"github.com/teyyyyy/MedGrab/internal/app/reassign"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/app/sweep"
	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/memory"
)

type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

var slot = time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	bookings *memory.Bookings
	nurses   *memory.Nurses
	outbox   *memory.Outbox
	tasks    *executor.Executor
	handler  http.Handler
}

func newTestServer(t *testing.T, nurses ...domain.Nurse) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	h := &harness{
		bookings: memory.NewBookings(),
		nurses:   memory.NewNurses(nurses...),
		outbox:   memory.NewOutbox(),
	}
	patients := memory.NewPatients(domain.Patient{ID: "p1", Name: "Pat", Email: "pat@example.com"})
	ledger := reputation.NewLedger(h.nurses, memory.NewCreditLog(), quiet)
	policy := reputation.NewPolicy(reputation.DefaultPolicyConfig(), h.nurses, ledger, quiet)
	selector := reassign.NewSelector(h.bookings, h.nurses, firstRand{}, quiet)

	orch := cancellation.New(cancellation.DefaultConfig(), cancellation.Deps{
		Bookings: h.bookings,
		Nurses:   h.nurses,
		Patients: patients,
		Notifier: h.outbox,
		Ledger:   ledger,
		Policy:   policy,
		Selector: selector,
	}, quiet)
	h.tasks = executor.New(executor.DefaultConfig(), orch, quiet)

	srv := NewServer(Services{
		Cancellations: orch,
		Lifecycle: lifecycle.New(lifecycle.Deps{
			Bookings: h.bookings,
			Nurses:   h.nurses,
			Patients: patients,
			Notifier: h.outbox,
			Ledger:   ledger,
			Selector: selector,
		}, quiet),
		Ledger:  ledger,
		Policy:  policy,
		Tasks:   h.tasks,
		Sweeper: sweep.New(sweep.DefaultConfig(), h.nurses, policy, quiet),
	}, quiet)
	srv.EnableMetrics()
	h.handler = srv.Handler()
	return h
}

func (h *harness) seed(id, nurse string, status domain.BookingStatus) {
	h.bookings.Put(domain.Booking{
		ID: id, PatientID: "p1", NurseID: nurse,
		StartTime: slot, EndTime: slot.Add(time.Hour),
		Status: status,
	})
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	var got map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
		}
	}
	return w, got
}

func errMessage(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func nurse(id string, score int) domain.Nurse {
	return domain.Nurse{ID: id, Name: "Nurse " + id, Email: id + "@example.com", CreditScore: score}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	w, body := h.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", w.Code, body)
	}
}

func TestCancel_Reassigns(t *testing.T) {
	h := newTestServer(t, nurse("n1", 100), nurse("n2", 100))
	h.seed("b1", "n1", domain.BookingAccepted)

	w, body := h.do(t, http.MethodPost, "/api/bookings/b1/cancel", `{"nurse_id":"n1","reason":"sick"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if body["status"] != string(domain.OutcomeReassigned) || body["new_nurse_id"] != "n2" {
		t.Errorf("outcome = %v", body)
	}
	prev, _ := body["previous_nurse"].(map[string]any)
	if prev["new_score"] != float64(93) {
		t.Errorf("previous_nurse = %v", prev)
	}
}

func TestCancel_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing reason", "/api/bookings/b1/cancel", `{"nurse_id":"n1"}`, http.StatusBadRequest},
		{"malformed body", "/api/bookings/b1/cancel", `{"nurse_id":`, http.StatusBadRequest},
		{"unknown booking", "/api/bookings/nope/cancel", `{"nurse_id":"n1","reason":"sick"}`, http.StatusNotFound},
		{"other nurse", "/api/bookings/b1/cancel", `{"nurse_id":"n2","reason":"sick"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, nurse("n1", 100), nurse("n2", 100))
			h.seed("b1", "n1", domain.BookingAccepted)
			h.seed("b2", "n1", domain.BookingCancelled)

			w, body := h.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%v)", w.Code, tt.want, body)
			}
			if errMessage(body) == "" {
				t.Errorf("expected error body, got %v", body)
			}
		})
	}
}

func TestCancel_AlreadyCancelled(t *testing.T) {
	h := newTestServer(t, nurse("n1", 100), nurse("n2", 100))
	h.seed("b2", "n1", domain.BookingCancelled)

	w, body := h.do(t, http.MethodPost, "/api/bookings/b2/cancel", `{"nurse_id":"n1","reason":"sick"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if errMessage(body) != "" || body["cancelled_booking_id"] != "b2" {
		t.Errorf("outcome = %v", body)
	}
	prev, _ := body["previous_nurse"].(map[string]any)
	if prev["new_score"] != float64(100) || prev["delta"] != float64(0) {
		t.Errorf("previous_nurse = %v", prev)
	}
	if n := len(h.outbox.Sent()); n != 0 {
		t.Errorf("sent %d notifications, want none", n)
	}
}

func TestLifecycleRoutes(t *testing.T) {
	h := newTestServer(t, nurse("n1", 90), nurse("n2", 90))
	h.seed("b1", "n1", domain.BookingPending)
	h.seed("b2", "n1", domain.BookingPending)

	w, body := h.do(t, http.MethodPost, "/api/bookings/b1/accept", `{"nurse_id":"n1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("accept = %d %v", w.Code, body)
	}
	booking, _ := body["booking"].(map[string]any)
	if booking["status"] != string(domain.BookingAccepted) {
		t.Errorf("accepted booking = %v", booking)
	}

	w, body = h.do(t, http.MethodPost, "/api/bookings/b1/complete", `{"nurse_id":"n1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete = %d %v", w.Code, body)
	}

	w, body = h.do(t, http.MethodPost, "/api/bookings/b2/reject", `{"nurse_id":"n1"}`)
	if w.Code != http.StatusOK || body["new_nurse_id"] != "n2" {
		t.Fatalf("reject = %d %v", w.Code, body)
	}

	// n1 is no longer assigned to b2.
	w, _ = h.do(t, http.MethodPost, "/api/bookings/b2/accept", `{"nurse_id":"n1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("accept by previous nurse = %d, want 409", w.Code)
	}

	n, _ := h.nurses.Get(context.Background(), "n1")
	if n.CreditScore != 93 {
		t.Errorf("score = %d, want 93 after +2 and +1", n.CreditScore)
	}
}

func TestReject_NoneEligibleIsConflict(t *testing.T) {
	h := newTestServer(t, nurse("n1", 90))
	h.seed("b1", "n1", domain.BookingPending)

	w, _ := h.do(t, http.MethodPost, "/api/bookings/b1/reject", `{"nurse_id":"n1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCancellationTasks(t *testing.T) {
	h := newTestServer(t, nurse("n1", 100), nurse("n2", 100))
	h.seed("b1", "n1", domain.BookingAccepted)

	w, body := h.do(t, http.MethodPost, "/api/cancellations", `{"booking_id":"b1","nurse_id":"n1","reason":"sick"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit = %d %v", w.Code, body)
	}
	id, _ := body["id"].(string)
	if id == "" || w.Header().Get("Location") != "/api/cancellations/"+id {
		t.Fatalf("task = %v, location %q", body, w.Header().Get("Location"))
	}

	if err := h.tasks.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	w, body = h.do(t, http.MethodGet, "/api/cancellations/"+id, "")
	if w.Code != http.StatusOK || body["state"] != string(executor.TaskSucceeded) {
		t.Fatalf("task = %d %v", w.Code, body)
	}
	outcome, _ := body["outcome"].(map[string]any)
	if outcome["new_nurse_id"] != "n2" {
		t.Errorf("outcome = %v", outcome)
	}

	w, _ = h.do(t, http.MethodGet, "/api/cancellations/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown task = %d, want 404", w.Code)
	}

	w, _ = h.do(t, http.MethodPost, "/api/cancellations", `{"booking_id":"b1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid submit = %d, want 400", w.Code)
	}
}

func TestNurseRoutes(t *testing.T) {
	h := newTestServer(t, nurse("n1", 100), nurse("n2", 100), nurse("low", 25))
	h.seed("b1", "n1", domain.BookingAccepted)
	if w, body := h.do(t, http.MethodPost, "/api/bookings/b1/cancel", `{"nurse_id":"n1","reason":"sick"}`); w.Code != http.StatusOK {
		t.Fatalf("cancel = %d %v", w.Code, body)
	}

	w, body := h.do(t, http.MethodGet, "/api/nurses/n1/credit-log", "")
	entries, _ := body["entries"].([]any)
	if w.Code != http.StatusOK || len(entries) != 1 {
		t.Fatalf("credit-log = %d %v", w.Code, body)
	}

	month := time.Now().UTC().Format("2006-01")
	w, body = h.do(t, http.MethodGet, "/api/nurses/n1/cancellations/"+month, "")
	if w.Code != http.StatusOK || body["cancellations"] != float64(1) {
		t.Errorf("monthly = %d %v", w.Code, body)
	}

	w, _ = h.do(t, http.MethodGet, "/api/nurses/n1/cancellations/march", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad month = %d, want 400", w.Code)
	}

	w, body = h.do(t, http.MethodPost, "/api/nurses/low/check-status", "")
	if w.Code != http.StatusOK || body["transition"] != string(domain.TransitionWarn) || body["standing"] != string(domain.StandingWarned) {
		t.Errorf("check-status = %d %v", w.Code, body)
	}

	w, _ = h.do(t, http.MethodGet, "/api/nurses/ghost/credit-log", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown nurse = %d, want 404", w.Code)
	}
}

func TestSweepRoutes(t *testing.T) {
	h := newTestServer(t, nurse("ok", 100), nurse("low", 25))

	w, _ := h.do(t, http.MethodGet, "/api/sweep/last", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("last before run = %d, want 404", w.Code)
	}

	w, body := h.do(t, http.MethodPost, "/api/sweep", "")
	if w.Code != http.StatusOK || body["checked"] != float64(2) {
		t.Fatalf("sweep = %d %v", w.Code, body)
	}
	tr, _ := body["transitions"].(map[string]any)
	if tr["warn"] != float64(1) {
		t.Errorf("transitions = %v", tr)
	}

	w, _ = h.do(t, http.MethodGet, "/api/sweep/last", "")
	if w.Code != http.StatusOK {
		t.Errorf("last = %d", w.Code)
	}
}

func TestOptionalServicesDisabled(t *testing.T) {
	srv := NewServer(Services{}, log.New(io.Discard, "", 0))
	handler := srv.Handler()
	for _, path := range []string{"/api/cancellations", "/api/sweep"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, w.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("medgrab_")) {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)
	w, _ := h.do(t, http.MethodOptions, "/api/bookings/b1/cancel", "")
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.RequestError{Fields: []string{"reason"}}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNurseNotFound), http.StatusNotFound},
		{executor.ErrTaskNotFound, http.StatusNotFound},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrNurseSuspended, http.StatusConflict},
		{executor.ErrAtCapacity, http.StatusTooManyRequests},
		{&domain.ExternalServiceError{Service: "bookings", Op: "get", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&domain.ExternalServiceError{Service: "bookings", Op: "get", Status: 500, Err: errors.New("boom")}, http.StatusBadGateway},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
