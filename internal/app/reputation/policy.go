package reputation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// ReinstatementMode controls what happens to the score when a suspension ends.
type ReinstatementMode string

const (
	// ReinstateKeep leaves the score untouched.
	ReinstateKeep ReinstatementMode = "keep"
	// ReinstateReset sets the score to PolicyConfig.ReinstatementScore
	// through the ledger.
	ReinstateReset ReinstatementMode = "reset"
)

// PolicyConfig holds the suspension policy parameters.
type PolicyConfig struct {
	WarnThreshold      int               `toml:"warn_threshold"`
	SuspendThreshold   int               `toml:"suspend_threshold"`
	SuspensionDuration time.Duration     `toml:"suspension_duration"`
	Reinstatement      ReinstatementMode `toml:"reinstatement"`
	ReinstatementScore int               `toml:"reinstatement_score"`
}

// DefaultPolicyConfig returns warn at 30, suspend at 20 for 30 days, keep score.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		WarnThreshold:      30,
		SuspendThreshold:   20,
		SuspensionDuration: 30 * 24 * time.Hour,
		Reinstatement:      ReinstateKeep,
		ReinstatementScore: 50,
	}
}

// Validate checks threshold ordering and the reinstatement mode.
func (c PolicyConfig) Validate() error {
	if c.SuspendThreshold < domain.MinCreditScore || c.WarnThreshold > domain.MaxCreditScore {
		return fmt.Errorf("policy: thresholds must be within %d..%d", domain.MinCreditScore, domain.MaxCreditScore)
	}
	if c.SuspendThreshold > c.WarnThreshold {
		return fmt.Errorf("policy: suspend threshold %d above warn threshold %d", c.SuspendThreshold, c.WarnThreshold)
	}
	if c.SuspensionDuration <= 0 {
		return fmt.Errorf("policy: suspension duration must be positive, got %s", c.SuspensionDuration)
	}
	switch c.Reinstatement {
	case ReinstateKeep:
	case ReinstateReset:
		if c.ReinstatementScore < domain.MinCreditScore || c.ReinstatementScore > domain.MaxCreditScore {
			return fmt.Errorf("policy: reinstatement score %d out of range", c.ReinstatementScore)
		}
	default:
		return fmt.Errorf("policy: unknown reinstatement mode %q", c.Reinstatement)
	}
	return nil
}

// ─── Decision ───────────────────────────────────────────────────────────────

// Decision is the result of one policy evaluation.
type Decision struct {
	Transition domain.PolicyTransition `json:"transition"`
	Before     domain.NurseFlags       `json:"before"`
	After      domain.NurseFlags       `json:"after"`
}

// Changed reports whether the flags must be persisted.
func (d Decision) Changed() bool {
	return d.Transition != domain.TransitionNone
}

// Standing is the nurse's standing after the decision.
func (d Decision) Standing() domain.Standing {
	return domain.Nurse{IsWarned: d.After.IsWarned, IsSuspended: d.After.IsSuspended}.Standing()
}

// ─── Policy ─────────────────────────────────────────────────────────────────

// Policy is the warn/suspend/reinstate state machine.
type Policy struct {
	cfg    PolicyConfig
	nurses domain.NurseDirectory
	ledger *Ledger
	logger *log.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// NewPolicy creates a policy. The ledger is only used with ReinstateReset.
func NewPolicy(cfg PolicyConfig, nurses domain.NurseDirectory, ledger *Ledger, logger *log.Logger) *Policy {
	if logger == nil {
		logger = log.Default()
	}
	return &Policy{
		cfg:    cfg,
		nurses: nurses,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the active configuration.
func (p *Policy) Config() PolicyConfig { return p.cfg }

// Evaluate applies the transition rules once, in order:
//
//  1. suspended and now >= end date: reinstate
//  2. suspended: no change
//  3. score <= suspend threshold and warned: suspend for SuspensionDuration
//  4. score <= warn threshold and not warned: warn
//  5. otherwise no change
//
// Evaluate is pure; it does not touch any store.
func (p *Policy) Evaluate(n domain.Nurse, now time.Time) Decision {
	before := n.Flags()
	d := Decision{Transition: domain.TransitionNone, Before: before, After: before}

	switch {
	case n.IsSuspended && (n.SuspensionEndDate == nil || !now.Before(*n.SuspensionEndDate)):
		d.Transition = domain.TransitionReinstate
		d.After = domain.NurseFlags{}

	case n.IsSuspended:
		// Still serving the suspension.

	case n.CreditScore <= p.cfg.SuspendThreshold && n.IsWarned:
		end := now.Add(p.cfg.SuspensionDuration).UTC()
		d.Transition = domain.TransitionSuspend
		d.After = domain.NurseFlags{IsSuspended: true, SuspensionEndDate: &end}

	case n.CreditScore <= p.cfg.WarnThreshold && !n.IsWarned:
		d.Transition = domain.TransitionWarn
		d.After = domain.NurseFlags{IsWarned: true}
	}
	return d
}

// Apply fetches the nurse, evaluates the rules and persists any change.
func (p *Policy) Apply(ctx context.Context, nurseID string) (Decision, error) {
	nurse, err := p.nurses.Get(ctx, nurseID)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: fetch nurse %s: %w", nurseID, err)
	}
	return p.ApplyTo(ctx, nurse)
}

// ApplyTo evaluates an already-fetched snapshot and persists any change.
func (p *Policy) ApplyTo(ctx context.Context, nurse domain.Nurse) (Decision, error) {
	d := p.Evaluate(nurse, p.now())
	if !d.Changed() {
		return d, nil
	}

	if err := p.nurses.UpdateFlags(ctx, nurse.ID, d.After); err != nil {
		return d, fmt.Errorf("policy: update flags for %s: %w", nurse.ID, err)
	}
	observability.PolicyTransitions.WithLabelValues(string(d.Transition)).Inc()
	p.logger.Printf("[policy] %s %s (score %d)", d.Transition, nurse.ID, nurse.CreditScore)

	if d.Transition == domain.TransitionReinstate && p.cfg.Reinstatement == ReinstateReset && p.ledger != nil {
		delta := p.cfg.ReinstatementScore - nurse.CreditScore
		reason := fmt.Sprintf("Suspension ended: score reset to %d", p.cfg.ReinstatementScore)
		if _, err := p.ledger.ApplyDelta(ctx, nurse.ID, delta, domain.CreditReinstatement, reason); err != nil {
			return d, fmt.Errorf("policy: reset score for %s: %w", nurse.ID, err)
		}
	}
	return d, nil
}
