// Package sweep periodically runs the suspension policy over every nurse so
// suspensions end on time even for nurses with no booking activity.
package sweep

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// Config controls the sweep schedule.
type Config struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"` // default: 1h
}

// DefaultConfig runs the sweep hourly.
func DefaultConfig() Config {
	return Config{Enabled: true, Interval: time.Hour}
}

// Report summarizes one pass.
type Report struct {
	Checked     int                             `json:"checked"`
	Transitions map[domain.PolicyTransition]int `json:"transitions"`
	Failures    []string                        `json:"failures,omitempty"`
	StartedAt   time.Time                       `json:"started_at"`
	Duration    time.Duration                   `json:"duration"`
}

// Sweeper applies the policy to all nurses on a ticker.
type Sweeper struct {
	cfg    Config
	nurses domain.NurseDirectory
	policy *reputation.Policy
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *Report

	// Injectable for testing.
	now func() time.Time
}

// New creates a sweeper.
func New(cfg Config, nurses domain.NurseDirectory, policy *reputation.Policy, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Sweeper{cfg: cfg, nurses: nurses, policy: policy, logger: logger, now: time.Now}
}

// RunOnce evaluates every nurse once. A failure on one nurse is recorded
// and the pass continues; only a failed listing aborts it.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: s.now().UTC(), Transitions: map[domain.PolicyTransition]int{}}

	all, err := s.nurses.ListAll(ctx)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("sweep: list nurses: %w", err)
	}

	for _, n := range all {
		if err := ctx.Err(); err != nil {
			observability.SweepRuns.WithLabelValues("error").Inc()
			return rep, fmt.Errorf("sweep: interrupted after %d nurses: %w", rep.Checked, err)
		}
		rep.Checked++
		d, err := s.policy.ApplyTo(ctx, n)
		if err != nil {
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", n.ID, err))
			continue
		}
		if d.Changed() {
			rep.Transitions[d.Transition]++
		}
	}
	rep.Duration = s.now().Sub(rep.StartedAt)

	result := "ok"
	if len(rep.Failures) > 0 {
		result = "partial"
	}
	observability.SweepRuns.WithLabelValues(result).Inc()
	s.logger.Printf("[sweep] checked %d nurses, %d transitions, %d failures",
		rep.Checked, total(rep.Transitions), len(rep.Failures))

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep, nil
}

// Last returns the most recent completed report, if any.
func (s *Sweeper) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Start runs a pass immediately and then every Interval until Stop or ctx
// is done. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.logger.Printf("[sweep] started (every %s)", s.cfg.Interval)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Printf("[sweep] stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Printf("[sweep] pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func total(m map[domain.PolicyTransition]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
