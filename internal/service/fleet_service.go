package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/cache"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
	"github.com/fleetpulse/fleetpulse/internal/repository"
	"github.com/fleetpulse/fleetpulse/internal/sanitize"
)

var ErrMissingMachineID = errors.New("machine id is required")

// defaultHistoryLimit bounds machine drill-down windows.
const defaultHistoryLimit = 50

// FleetService owns the telemetry ingest pipeline and machine queries.
// Ingest for a single machine is serialized with a keyed mutex so
// concurrent payloads from a duplicated machine ID cannot interleave
// their upsert/append steps.
type FleetService struct {
	repo        repository.Repository
	cache       *cache.SampleCache
	evaluator   SampleEvaluator
	broadcaster realtime.Broadcaster
	logger      *logging.Logger

	locks sync.Map // machine ID -> *sync.Mutex
	now   func() time.Time
}

// SampleEvaluator is the slice of the alert evaluator ingest needs.
type SampleEvaluator interface {
	EvaluateSample(ctx context.Context, machineID string, sample *models.MetricsSample)
	ForgetMachine(machineID string)
}

func NewFleetService(repo repository.Repository, sampleCache *cache.SampleCache, evaluator SampleEvaluator, broadcaster realtime.Broadcaster, logger *logging.Logger) *FleetService {
	return &FleetService{
		repo:        repo,
		cache:       sampleCache,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *FleetService) lockFor(machineID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(machineID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// IngestTelemetry runs the full pipeline for one agent payload:
// sanitize, upsert identity, append samples, evaluate alerts, cache the
// latest sample and broadcast the update. The returned record reflects
// the merged machine state.
//
// Agents send an envelope of three sections: machine identity (with
// hardware inventory riding along periodically), a metrics snapshot and
// an optional event batch:
//
//	{"machine": {...}, "metrics": {...}, "events": [...]}
func (s *FleetService) IngestTelemetry(ctx context.Context, raw map[string]any) (*models.MachineWithSample, error) {
	started := s.now()

	machineRaw, _ := raw["machine"].(map[string]any)
	metricsRaw, _ := raw["metrics"].(map[string]any)

	identity := sanitize.Identity(machineRaw)
	if identity.ID == "" {
		identity.ID = identity.Hostname
	}
	if identity.ID == "" || identity.ID == "Unknown" {
		metrics.TelemetryRejected.WithLabelValues("missing_id").Inc()
		return nil, ErrMissingMachineID
	}

	now := s.now()
	identity.LastSeen = now
	sample := sanitize.Sample(identity.ID, metricsRaw, now)

	var events []models.EventSample
	if rawEvents, ok := raw["events"].([]any); ok {
		events = sanitize.Events(identity.ID, rawEvents, now)
	}

	lock := s.lockFor(identity.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.UpsertMachine(ctx, &identity); err != nil {
		return nil, fmt.Errorf("upsert machine: %w", err)
	}
	if err := s.repo.InsertMetrics(ctx, &sample); err != nil {
		return nil, fmt.Errorf("insert metrics: %w", err)
	}
	if len(events) > 0 {
		if err := s.repo.InsertEvents(ctx, events); err != nil {
			return nil, fmt.Errorf("insert events: %w", err)
		}
	}

	if err := s.cache.SetLatest(ctx, &sample); err != nil {
		s.logger.Warn("cache latest sample", logging.Error(err), logging.MachineID(identity.ID))
	}

	s.evaluator.EvaluateSample(ctx, identity.ID, &sample)

	machine, err := s.repo.GetMachine(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("load merged machine: %w", err)
	}

	update := &models.MachineWithSample{Machine: *machine, Latest: &sample}
	s.broadcaster.Broadcast(realtime.Event{Name: realtime.EventMachineUpdate, Data: update})

	metrics.TelemetryReceived.Inc()
	metrics.IngestDuration.Observe(s.now().Sub(started).Seconds())
	return update, nil
}

// RecordAgentLog stores an agent's operational log line. These feed the
// crash alert metric, not the machine event history.
func (s *FleetService) RecordAgentLog(ctx context.Context, req models.AgentLogRequest) error {
	if req.MachineID == "" {
		return ErrMissingMachineID
	}
	log := models.AgentLog{
		MachineID:  sanitize.String(req.MachineID, sanitize.MaxStringLen, ""),
		Level:      sanitize.String(req.Level, sanitize.MaxTypeLen, "info"),
		Message:    sanitize.String(req.Message, sanitize.MaxStringLen, ""),
		StackTrace: req.StackTrace,
		Timestamp:  s.now(),
	}
	if err := s.repo.InsertAgentLog(ctx, &log); err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// Deregister removes a machine at the agent's request (uninstall path).
func (s *FleetService) Deregister(ctx context.Context, machineID string) error {
	if machineID == "" {
		return ErrMissingMachineID
	}
	return s.remove(ctx, machineID)
}

// RemoveMachine removes a machine at an operator's request.
func (s *FleetService) RemoveMachine(ctx context.Context, machineID string) error {
	return s.remove(ctx, machineID)
}

func (s *FleetService) remove(ctx context.Context, machineID string) error {
	lock := s.lockFor(machineID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.DeleteMachine(ctx, machineID); err != nil {
		return err
	}
	s.evaluator.ForgetMachine(machineID)
	s.locks.Delete(machineID)

	if err := s.cache.Invalidate(ctx, machineID); err != nil {
		s.logger.Warn("invalidate cached sample", logging.Error(err), logging.MachineID(machineID))
	}

	s.broadcaster.Broadcast(realtime.Event{
		Name: realtime.EventMachineRemoved,
		Data: map[string]string{"machine_id": machineID},
	})
	s.logger.Info("machine removed", logging.MachineID(machineID))
	return nil
}

// ListMachines returns the fleet snapshot ordered by hostname.
func (s *FleetService) ListMachines(ctx context.Context) ([]models.MachineWithSample, error) {
	list, err := s.repo.ListMachinesWithLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}

	online := 0
	for _, m := range list {
		if m.Status == models.StatusOnline {
			online++
		}
	}
	metrics.MachinesOnline.Set(float64(online))
	return list, nil
}

// GetMachineDetail returns the machine plus bounded recent history. The
// latest sample is served from cache when present so drill-downs shortly
// after a report skip the metrics table.
func (s *FleetService) GetMachineDetail(ctx context.Context, machineID string) (*models.MachineDetail, error) {
	machine, err := s.repo.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	samples, err := s.repo.RecentMetrics(ctx, machineID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	if cached, err := s.cache.GetLatest(ctx, machineID); err == nil {
		if len(samples) == 0 || cached.Timestamp.After(samples[0].Timestamp) {
			samples = append([]models.MetricsSample{*cached}, samples...)
		}
	}

	events, err := s.repo.RecentEvents(ctx, machineID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	return &models.MachineDetail{Machine: *machine, Metrics: samples, Events: events}, nil
}

// MachineHistory returns up to limit recent samples, newest first.
func (s *FleetService) MachineHistory(ctx context.Context, machineID string, limit int) ([]models.MetricsSample, error) {
	if _, err := s.repo.GetMachine(ctx, machineID); err != nil {
		return nil, err
	}
	samples, err := s.repo.RecentMetrics(ctx, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	return samples, nil
}

// UpdateProfile replaces the operator-editable profile fields.
func (s *FleetService) UpdateProfile(ctx context.Context, machineID string, profile models.MachineProfile) (*models.Machine, error) {
	profile.Nickname = sanitize.String(profile.Nickname, sanitize.MaxShortLen, "")
	profile.Role = sanitize.String(profile.Role, sanitize.MaxShortLen, "")
	profile.Location = sanitize.String(profile.Location, sanitize.MaxShortLen, "")
	profile.Notes = sanitize.String(profile.Notes, sanitize.MaxStringLen, "")

	if err := s.repo.UpdateMachineProfile(ctx, machineID, profile); err != nil {
		return nil, err
	}
	machine, err := s.repo.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(realtime.Event{
		Name: realtime.EventMachineUpdate,
		Data: &models.MachineWithSample{Machine: *machine},
	})
	return machine, nil
}
