// Package sweeper runs the periodic heartbeat check that flips silent
// machines offline. Status only degrades here; the only way back online
// is an authenticated telemetry payload.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
	"github.com/fleetpulse/fleetpulse/internal/repository"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultGrace    = 2 * time.Minute
)

// OfflineEvaluator is the slice of the alert evaluator the sweep needs.
type OfflineEvaluator interface {
	EvaluateOffline(ctx context.Context, machineID string)
}

type Sweeper struct {
	repo        repository.Repository
	evaluator   OfflineEvaluator
	broadcaster realtime.Broadcaster
	logger      *logging.Logger

	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(repo repository.Repository, evaluator OfflineEvaluator, broadcaster realtime.Broadcaster, logger *logging.Logger, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Sweeper{
		repo:        repo,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		logger:      logger,
		interval:    interval,
		grace:       grace,
		now:         time.Now,
	}
}

// Start launches the sweep loop. Stop blocks until the loop exits.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("heartbeat sweeper started",
		"interval", s.interval.String(), "grace", s.grace.String())
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("heartbeat sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep flips every machine silent past the grace window, re-runs
// offline alert policies for all machines currently offline, and nudges
// dashboards to refetch when anything flipped.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.grace)
	flipped, err := s.repo.MarkOffline(ctx, cutoff)
	if err != nil {
		s.logger.Error("heartbeat sweep", logging.Error(err))
		return
	}

	for _, id := range flipped {
		metrics.MachinesMarkedOffline.Inc()
		metrics.MachinesOnline.Dec()
		s.logger.Info("machine marked offline", logging.MachineID(id))
	}

	// Every offline machine evaluates on every pass, not just the pass
	// that flipped it. An offline policy's sustain window only elapses
	// through these repeated evaluations.
	machines, err := s.repo.ListMachinesWithLatest(ctx)
	if err != nil {
		s.logger.Error("list machines for offline policies", logging.Error(err))
	} else {
		for _, m := range machines {
			if m.Status == models.StatusOffline {
				s.evaluator.EvaluateOffline(ctx, m.ID)
			}
		}
	}

	if len(flipped) == 0 {
		return
	}

	// One refresh per sweep regardless of how many machines flipped.
	s.broadcaster.Broadcast(realtime.Event{Name: realtime.EventRefreshRequest})
}
