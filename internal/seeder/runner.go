package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
)

// Config controls the shape of the synthetic fleet.
type Config struct {
	ServerURL string
	APIKey    string
	Machines  int
	Rounds    int
	Interval  time.Duration
}

// Runner drives a set of fake agents against a running server.
type Runner struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
}

func NewRunner(cfg Config, logger *logging.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Run sends Rounds telemetry payloads for each of Machines fake agents,
// pausing Interval between rounds. A small fraction of samples carry an
// agent log so crash detection has data to chew on.
func (r *Runner) Run(ctx context.Context) error {
	gofakeit.Seed(time.Now().UnixNano())

	fleet := make([]*fakeMachine, r.cfg.Machines)
	for i := range fleet {
		fleet[i] = newFakeMachine()
	}

	r.logger.Info("seeding fleet",
		"server", r.cfg.ServerURL,
		"machines", r.cfg.Machines,
		"rounds", r.cfg.Rounds,
		"interval", r.cfg.Interval)

	sent := 0
	failed := 0
	for round := 0; round < r.cfg.Rounds; round++ {
		for _, m := range fleet {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.post(ctx, "/api/telemetry", m.payload()); err != nil {
				failed++
				r.logger.Warn("telemetry post failed", "machine", m.hostname, logging.Error(err))
				continue
			}
			sent++

			if rand.Float32() < 0.05 {
				if err := r.postAgentLog(ctx, m); err != nil {
					r.logger.Warn("agent log post failed", "machine", m.hostname, logging.Error(err))
				}
			}
		}
		if round < r.cfg.Rounds-1 && r.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	r.logger.Info("seeding complete", "sent", sent, "failed", failed)
	if failed > 0 && sent == 0 {
		return fmt.Errorf("all %d payloads failed", failed)
	}
	return nil
}

func (r *Runner) postAgentLog(ctx context.Context, m *fakeMachine) error {
	levels := []string{"info", "warning", "error"}
	messages := []string{
		"collector cycle completed",
		"metric collection took longer than expected",
		"sensor read failed, retrying",
	}
	i := rand.Intn(len(levels))
	return r.post(ctx, "/api/logs", map[string]any{
		"machine_id": m.id,
		"level":      levels[i],
		"message":    messages[i],
	})
}

func (r *Runner) post(ctx context.Context, path string, body map[string]any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServerURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AgentHeader, r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
