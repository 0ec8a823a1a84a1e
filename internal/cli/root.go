// Package cli implements the medgrab command line.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/teyyyyy/MedGrab/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "medgrab",
	Short: "MedGrab booking core",
	Long: `MedGrab runs the nurse booking core: cancellations with automatic
reassignment, the credit score ledger and the warn/suspend policy.

Configuration is read from ~/.medgrab/config.toml (or --config) and
MEDGRAB_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.medgrab/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openApp loads the configuration and wires the core.
func openApp(ctx context.Context) (*daemon.App, error) {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	app, err := daemon.Open(ctx, cfg, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return app, nil
}
