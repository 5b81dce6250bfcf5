package main

import (
	"github.com/spf13/cobra"

	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fleetpulse",
	Short: "FleetPulse fleet telemetry server",
	Long: `fleetpulse collects telemetry from machine agents, evaluates alert
policies against it and serves a realtime dashboard API.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// loadConfig loads and validates configuration, and installs the
// configured logger as the process default.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("fleetpulse"))
	logging.SetDefault(logger)
	return cfg, logger, nil
}
