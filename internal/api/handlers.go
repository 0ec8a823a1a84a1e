package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teyyyyy/MedGrab/internal/app/lifecycle"
	"github.com/teyyyyy/MedGrab/internal/domain"
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidRequest, err)
}

// ─── Bookings ───────────────────────────────────────────────────────────────

type cancelBody struct {
	NurseID string `json:"nurse_id"`
	Reason  string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := domain.CancellationRequest{
		BookingID: chi.URLParam(r, "id"),
		NurseID:   body.NurseID,
		Reason:    body.Reason,
	}
	out, err := s.svc.Cancellations.ProcessCancellation(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type lifecycleOp string

const (
	opAccept   lifecycleOp = "accept"
	opReject   lifecycleOp = "reject"
	opComplete lifecycleOp = "complete"
)

func (s *Server) handleLifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			NurseID string `json:"nurse_id"`
		}
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		req := lifecycle.Request{BookingID: chi.URLParam(r, "id"), NurseID: body.NurseID}

		var (
			res lifecycle.Result
			err error
		)
		switch op {
		case opAccept:
			res, err = s.svc.Lifecycle.Accept(r.Context(), req)
		case opReject:
			res, err = s.svc.Lifecycle.Reject(r.Context(), req)
		case opComplete:
			res, err = s.svc.Lifecycle.Complete(r.Context(), req)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ─── Cancellation tasks ─────────────────────────────────────────────────────

func (s *Server) handleSubmitCancellation(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task executor disabled")
		return
	}
	var req domain.CancellationRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.svc.Tasks.Submit(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/cancellations/"+task.ID)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetCancellation(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task executor disabled")
		return
	}
	task, err := s.svc.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task executor disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Tasks.Stats())
}

// ─── Nurses ─────────────────────────────────────────────────────────────────

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.svc.Policy.Apply(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nurse_id":   id,
		"transition": d.Transition,
		"standing":   d.Standing(),
		"flags":      d.After,
	})
}

func (s *Server) handleCreditLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.svc.Ledger.History(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.CreditScoreLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nurse_id": id,
		"entries":  entries,
	})
}

func (s *Server) handleMonthlyCancellations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	month := chi.URLParam(r, "month")
	m, err := time.Parse("2006-01", month)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("month %q must be YYYY-MM", month))
		return
	}
	n, err := s.svc.Ledger.CancellationsInMonth(r.Context(), id, m.Year(), m.Month())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nurse_id":      id,
		"month":         month,
		"cancellations": n,
	})
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper disabled")
		return
	}
	rep, err := s.svc.Sweeper.RunOnce(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleLastSweep(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper disabled")
		return
	}
	rep, ok := s.svc.Sweeper.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no sweep has run yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
