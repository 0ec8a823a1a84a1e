// Package daemon wires MedGrab's booking core from configuration and runs
// the HTTP server and the suspension sweep.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/teyyyyy/MedGrab/internal/app/executor"
	"github.com/teyyyyy/MedGrab/internal/app/reputation"
	"github.com/teyyyyy/MedGrab/internal/app/sweep"
	"github.com/teyyyyy/MedGrab/internal/infra/amqp"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
	"github.com/teyyyyy/MedGrab/internal/infra/postgres"
	"github.com/teyyyyy/MedGrab/internal/infra/resilient"
)

// EnvPrefix prefixes every environment override, e.g. MEDGRAB_API_PORT.
const EnvPrefix = "MEDGRAB_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full daemon configuration (~/.medgrab/config.toml).
type Config struct {
	API          APIConfig                   `toml:"api" envPrefix:"API_"`
	Store        StoreConfig                 `toml:"store" envPrefix:"STORE_"`
	AMQP         AMQPConfig                  `toml:"amqp" envPrefix:"AMQP_"`
	Policy       reputation.PolicyConfig     `toml:"policy" envPrefix:"POLICY_"`
	Penalty      reputation.PenaltySchedule  `toml:"penalty" envPrefix:"PENALTY_"`
	Reassignment ReassignmentConfig          `toml:"reassignment" envPrefix:"REASSIGNMENT_"`
	Resilience   resilient.Config            `toml:"resilience" envPrefix:"RESILIENCE_"`
	Sweep        sweep.Config                `toml:"sweep" envPrefix:"SWEEP_"`
	Executor     executor.Config             `toml:"executor" envPrefix:"EXECUTOR_"`
	Telemetry    observability.TracingConfig `toml:"telemetry" envPrefix:"TELEMETRY_"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	Metrics        bool          `toml:"metrics"`
}

// Addr is host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects the collaborator backend.
type StoreConfig struct {
	Driver   string          `toml:"driver"`   // memory | sqlite | postgres
	DataDir  string          `toml:"data_dir"` // sqlite only
	Postgres postgres.Config `toml:"postgres" envPrefix:"POSTGRES_"`
}

// AMQPConfig enables the RabbitMQ notification dispatcher. When disabled,
// notifications are written to the log.
type AMQPConfig struct {
	Enabled bool `toml:"enabled"`
	amqp.Config
}

// ReassignmentConfig bounds the reassignment chain of one booking.
type ReassignmentConfig struct {
	MaxReassignments int `toml:"max_reassignments"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: time.Minute,
			Metrics:        true,
		},
		Store: StoreConfig{
			Driver:   DriverSQLite,
			DataDir:  filepath.Join(Home(), "data"),
			Postgres: postgres.DefaultConfig(),
		},
		AMQP:         AMQPConfig{Config: amqp.DefaultConfig()},
		Policy:       reputation.DefaultPolicyConfig(),
		Penalty:      reputation.DefaultPenaltySchedule(),
		Reassignment: ReassignmentConfig{MaxReassignments: 3},
		Resilience:   resilient.DefaultConfig(),
		Sweep:        sweep.DefaultConfig(),
		Executor:     executor.DefaultConfig(),
		Telemetry:    observability.TracingConfig{ServiceName: "medgrab", SampleRatio: 1},
	}
}

// Home is $MEDGRAB_HOME, or ~/.medgrab.
func Home() string {
	if h := os.Getenv("MEDGRAB_HOME"); h != "" {
		return h
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".medgrab"
	}
	return filepath.Join(dir, ".medgrab")
}

// DefaultConfigPath is Home()/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path over the defaults, then applies MEDGRAB_*
// environment overrides. An empty path means DefaultConfigPath, which may
// be absent; an explicit path must exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:                EnvPrefix,
		UseFieldNameByDefault: true,
	}); err != nil {
		return cfg, fmt.Errorf("config: parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.DataDir == "" {
			return errors.New("config: store.data_dir is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port %d out of range", c.API.Port)
	}
	if c.Reassignment.MaxReassignments < 1 {
		return fmt.Errorf("config: reassignment.max_reassignments must be at least 1, got %d", c.Reassignment.MaxReassignments)
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return errors.New("config: amqp.url is required when amqp is enabled")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Penalty.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
