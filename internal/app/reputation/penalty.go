package reputation

import (
	"errors"
	"fmt"
)

// DefaultCancellationPenalty is the flat penalty for a nurse cancellation.
const DefaultCancellationPenalty = -7

// PenaltySchedule decides the credit delta for a cancellation.
//
// With an empty Escalation table every cancellation costs Flat. Otherwise
// the n-th cancellation of a lineage (1-based) costs Escalation[n-1], and
// the last entry repeats for every later cancellation.
type PenaltySchedule struct {
	Flat       int   `toml:"flat"`
	Escalation []int `toml:"escalation"`
}

// DefaultPenaltySchedule returns the flat -7 schedule.
func DefaultPenaltySchedule() PenaltySchedule {
	return PenaltySchedule{Flat: DefaultCancellationPenalty}
}

// For returns the penalty for the given lineage cancellation number.
func (p PenaltySchedule) For(cancellationNumber int) int {
	if len(p.Escalation) == 0 {
		return p.Flat
	}
	i := cancellationNumber - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Escalation) {
		i = len(p.Escalation) - 1
	}
	return p.Escalation[i]
}

// Validate rejects positive penalties.
func (p PenaltySchedule) Validate() error {
	if p.Flat > 0 {
		return fmt.Errorf("penalty: flat penalty must not be positive, got %d", p.Flat)
	}
	for i, v := range p.Escalation {
		if v > 0 {
			return fmt.Errorf("penalty: escalation[%d] must not be positive, got %d", i, v)
		}
	}
	if len(p.Escalation) == 0 && p.Flat == 0 {
		return errors.New("penalty: no penalty configured")
	}
	return nil
}
