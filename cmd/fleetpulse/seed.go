package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetpulse/fleetpulse/internal/seeder"
)

var seedFlags struct {
	server   string
	apiKey   string
	machines int
	rounds   int
	interval time.Duration
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate a running server with a synthetic fleet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		apiKey := seedFlags.apiKey
		if apiKey == "" {
			apiKey = cfg.Agent.APIKey
		}

		runner := seeder.NewRunner(seeder.Config{
			ServerURL: seedFlags.server,
			APIKey:    apiKey,
			Machines:  seedFlags.machines,
			Rounds:    seedFlags.rounds,
			Interval:  seedFlags.interval,
		}, logger)
		return runner.Run(cmd.Context())
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFlags.server, "server", "http://localhost:8080", "base URL of the target server")
	seedCmd.Flags().StringVar(&seedFlags.apiKey, "api-key", "", "agent API key (defaults to agent.api_key from config)")
	seedCmd.Flags().IntVar(&seedFlags.machines, "machines", 10, "number of fake machines")
	seedCmd.Flags().IntVar(&seedFlags.rounds, "rounds", 5, "telemetry samples per machine")
	seedCmd.Flags().DurationVar(&seedFlags.interval, "interval", 2*time.Second, "pause between rounds")
}
