package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/teyyyyy/MedGrab/internal/api"
	"github.com/teyyyyy/MedGrab/internal/app/cancellation"
	"github.com/teyyyyy/MedGrab/internal/app/executor"
	"github.com/teyyyyy/MedGrab/internal/app/lifecycle"
	"github.com/teyyyyy/MedGrab/internal/app/reassign"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/app/sweep"
	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/amqp"
	"github.com/teyyyyy/MedGrab/internal/infra/memory"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
	"github.com/teyyyyy/MedGrab/internal/infra/postgres"
	"github.com/teyyyyy/MedGrab/internal/infra/resilient"
	"github.com/teyyyyy/MedGrab/internal/infra/sqlite"
)

// Stores are the raw collaborators before decoration.
type Stores struct {
	Bookings domain.BookingStore
	Nurses   domain.NurseDirectory
	Patients domain.PatientDirectory
	Credits  domain.CreditLogStore
	Notifier domain.NotificationDispatcher
}

// App is the wired booking core.
type App struct {
	Config       Config
	Orchestrator *cancellation.Orchestrator
	Lifecycle    *lifecycle.Service
	Ledger       *reputation.Ledger
	Policy       *reputation.Policy
	Selector     *reassign.Selector
	Tasks        *executor.Executor
	Sweeper      *sweep.Sweeper

	logger  *log.Logger
	closers []func() error
}

// Open connects the configured backends and wires the core.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	shutdown, err := observability.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("daemon: tracing: %w", err)
	}
	closers = append(closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	st, closeStore, err := openStores(cfg.Store, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeStore)

	if cfg.AMQP.Enabled {
		d, err := amqp.Dial(cfg.AMQP.Config, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("daemon: %w", err)
		}
		st.Notifier = d
		closers = append(closers, d.Close)
	} else {
		st.Notifier = logNotifier{logger: logger}
	}

	app := Build(cfg, st, logger)
	app.closers = closers
	return app, nil
}

func openStores(cfg StoreConfig, logger *log.Logger) (Stores, func() error, error) {
	switch cfg.Driver {
	case DriverMemory:
		logger.Printf("[daemon] using in-memory store")
		return Stores{
			Bookings: memory.NewBookings(),
			Nurses:   memory.NewNurses(),
			Patients: memory.NewPatients(),
			Credits:  memory.NewCreditLog(),
		}, func() error { return nil }, nil

	case DriverSQLite:
		db, err := sqlite.Open(cfg.DataDir)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("daemon: %w", err)
		}
		logger.Printf("[daemon] using sqlite store in %s", cfg.DataDir)
		return Stores{
			Bookings: db.Bookings(),
			Nurses:   db.Nurses(),
			Patients: db.Patients(),
			Credits:  db.CreditLog(),
		}, db.Close, nil

	case DriverPostgres:
		s, err := postgres.Open(cfg.Postgres, logger)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("daemon: %w", err)
		}
		logger.Printf("[daemon] using postgres store")
		return Stores{
			Bookings: s.Bookings(),
			Nurses:   s.Nurses(),
			Patients: s.Patients(),
			Credits:  s.CreditLog(),
		}, s.Close, nil
	}
	return Stores{}, nil, fmt.Errorf("daemon: unknown store driver %q", cfg.Driver)
}

// Build decorates the stores with timeouts and retries and wires every
// use case on top of them.
func Build(cfg Config, st Stores, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Default()
	}
	w := resilient.New(cfg.Resilience, nil, logger)
	bookings := w.Bookings(st.Bookings)
	nurses := w.Nurses(st.Nurses)
	patients := w.Patients(st.Patients)
	notifier := w.Notifier(st.Notifier)

	ledger := reputation.NewLedger(nurses, w.CreditLog(st.Credits), logger)
	policy := reputation.NewPolicy(cfg.Policy, nurses, ledger, logger)
	selector := reassign.NewSelector(bookings, nurses, nil, logger)

	orch := cancellation.New(cancellation.Config{
		MaxReassignments: cfg.Reassignment.MaxReassignments,
		Penalty:          cfg.Penalty,
	}, cancellation.Deps{
		Bookings: bookings,
		Nurses:   nurses,
		Patients: patients,
		Notifier: notifier,
		Ledger:   ledger,
		Policy:   policy,
		Selector: selector,
	}, logger)

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Lifecycle: lifecycle.New(lifecycle.Deps{
			Bookings: bookings,
			Nurses:   nurses,
			Patients: patients,
			Notifier: notifier,
			Ledger:   ledger,
			Selector: selector,
		}, logger),
		Ledger:   ledger,
		Policy:   policy,
		Selector: selector,
		Tasks:    executor.New(cfg.Executor, orch, logger),
		Sweeper:  sweep.New(cfg.Sweep, nurses, policy, logger),
		logger:   logger,
	}
}

// Server returns the configured HTTP API.
func (a *App) Server() *api.Server {
	srv := api.NewServer(api.Services{
		Cancellations: a.Orchestrator,
		Lifecycle:     a.Lifecycle,
		Ledger:        a.Ledger,
		Policy:        a.Policy,
		Tasks:         a.Tasks,
		Sweeper:       a.Sweeper,
	}, a.logger)
	srv.SetTimeout(a.Config.API.RequestTimeout)
	if a.Config.API.Metrics {
		srv.EnableMetrics()
	}
	return srv
}

// Serve runs the HTTP server and, when enabled, the sweep until ctx is
// done, then drains in-flight tasks.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Sweep.Enabled {
		a.Sweeper.Start(ctx)
		defer a.Sweeper.Stop()
	}

	httpSrv := &http.Server{
		Addr:              a.Config.API.Addr(),
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Printf("[daemon] listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("daemon: serve: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Printf("[daemon] shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		a.logger.Printf("[daemon] http shutdown: %v", err)
	}
	if err := a.Tasks.Wait(sctx); err != nil {
		a.logger.Printf("[daemon] tasks still running at shutdown: %v", err)
	}
	return nil
}

// Close releases the store, the broker connection and the tracer.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// logNotifier stands in for the broker when AMQP is disabled.
type logNotifier struct {
	logger *log.Logger
}

func (n logNotifier) Enqueue(_ context.Context, msg domain.Notification) error {
	if msg.To == "" {
		return fmt.Errorf("notify: %q has no recipient: %w", msg.Subject, domain.ErrInvalidRequest)
	}
	n.logger.Printf("[notify] to=%s subject=%q", msg.To, msg.Subject)
	return nil
}
