// Package reassign picks a replacement nurse for a cancelled booking.
package reassign

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"

	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// Rand is the random source used for the uniform pick.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// globalRand adapts the math/rand/v2 top-level functions.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Selection is the chosen nurse together with the data used to choose it.
type Selection struct {
	Nurse    domain.Nurse `json:"nurse"`
	Excluded []string     `json:"excluded"`
	Eligible int          `json:"eligible"`
}

// Selector computes the eligible pool for a booking lineage and picks one
// nurse uniformly at random. There is no preference ordering.
type Selector struct {
	bookings domain.BookingStore
	nurses   domain.NurseDirectory
	rng      Rand
	logger   *log.Logger
}

// NewSelector creates a selector. A nil rng uses math/rand/v2.
func NewSelector(bookings domain.BookingStore, nurses domain.NurseDirectory, rng Rand, logger *log.Logger) *Selector {
	if rng == nil {
		rng = globalRand{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{bookings: bookings, nurses: nurses, rng: rng, logger: logger}
}

// Exclusions returns the nurse ids barred from this booking's lineage: the
// excluding nurse plus every nurse of a cancelled booking with the same
// patient and time window. The result is sorted.
func (s *Selector) Exclusions(ctx context.Context, b domain.Booking, excludingNurseID string) ([]string, error) {
	cancelled, err := s.bookings.ListCancelledInWindow(ctx, b.PatientID, b.StartTime, b.EndTime)
	if err != nil {
		return nil, fmt.Errorf("reassign: list cancelled lineage %s: %w", b.Lineage(), err)
	}

	set := map[string]struct{}{}
	if excludingNurseID != "" {
		set[excludingNurseID] = struct{}{}
	}
	for _, c := range cancelled {
		if c.NurseID != "" {
			set[c.NurseID] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// SelectReplacement returns a nurse that is neither excluded nor suspended.
// It returns domain.ErrNoneEligible when the pool is empty; callers must
// treat that as terminal.
func (s *Selector) SelectReplacement(ctx context.Context, b domain.Booking, excludingNurseID string) (Selection, error) {
	excluded, err := s.Exclusions(ctx, b, excludingNurseID)
	if err != nil {
		return Selection{}, err
	}

	all, err := s.nurses.ListAll(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("reassign: list nurses: %w", err)
	}

	barred := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		barred[id] = struct{}{}
	}
	eligible := make([]domain.Nurse, 0, len(all))
	for _, n := range all {
		if _, ok := barred[n.ID]; ok || n.IsSuspended {
			continue
		}
		eligible = append(eligible, n)
	}
	observability.EligiblePool.Observe(float64(len(eligible)))

	if len(eligible) == 0 {
		s.logger.Printf("[reassign] no eligible nurse for %s (%d excluded, %d total)", b.Lineage(), len(excluded), len(all))
		return Selection{Excluded: excluded}, domain.ErrNoneEligible
	}

	// Sort so the pick depends only on the random source, not store order.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	chosen := eligible[s.rng.IntN(len(eligible))]

	s.logger.Printf("[reassign] picked %s for %s from %d eligible", chosen.ID, b.Lineage(), len(eligible))
	return Selection{Nurse: chosen, Excluded: excluded, Eligible: len(eligible)}, nil
}
