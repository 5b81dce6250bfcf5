// Package alerting evaluates policy conditions against incoming samples
// and drives the alert lifecycle. A condition must hold continuously for
// the policy's sustain duration before an alert opens; a single healthy
// sample resolves it. Evaluation failures are logged and never propagate
// into the telemetry pipeline.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
	"github.com/fleetpulse/fleetpulse/internal/repository"
)

// Synthetic event IDs written to a machine's event history when its
// alert state changes.
const (
	eventIDAlertOpened   = 9999
	eventIDAlertResolved = 9998
	alertEventSource     = "Alert System"
)

// crashWindow is how far back an error-level agent log counts as a crash.
const crashWindow = 10 * time.Minute

type pairKey struct {
	machineID string
	policyID  string
}

type Evaluator struct {
	repo        repository.Repository
	broadcaster realtime.Broadcaster
	logger      *logging.Logger

	mu sync.Mutex
	// pending holds the time each breached pair first breached; a pair
	// graduates to an open alert once the breach sustains long enough.
	pending map[pairKey]time.Time
	// active mirrors the store's open alerts so healthy samples know
	// which pairs need resolving without a query per policy.
	active map[pairKey]bool

	now func() time.Time
}

func NewEvaluator(repo repository.Repository, broadcaster realtime.Broadcaster, logger *logging.Logger) *Evaluator {
	return &Evaluator{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		pending:     make(map[pairKey]time.Time),
		active:      make(map[pairKey]bool),
		now:         time.Now,
	}
}

// Rebuild seeds the active set from open alerts in the store. Called once
// at startup so alerts opened before a restart still resolve.
func (e *Evaluator) Rebuild(ctx context.Context) error {
	alerts, err := e.repo.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range alerts {
		e.active[pairKey{a.MachineID, a.PolicyID}] = true
	}
	return nil
}

// EvaluateSample runs every enabled policy against a fresh sample. A
// sample also means the machine is reporting, so offline-metric alerts
// evaluate against zero and resolve.
func (e *Evaluator) EvaluateSample(ctx context.Context, machineID string, sample *models.MetricsSample) {
	policies, err := e.repo.ListEnabledPolicies(ctx)
	if err != nil {
		e.logger.Error("load alert policies", logging.Error(err), logging.MachineID(machineID))
		return
	}

	for _, p := range policies {
		value, ok := e.metricValue(ctx, machineID, p.Metric, sample)
		if !ok {
			continue
		}
		e.evaluate(ctx, machineID, p, value)
	}
}

// EvaluateOffline runs offline-metric policies for a machine that is
// currently offline. The sweep calls it on every pass while the machine
// stays silent, which is what lets an offline policy's sustain window
// elapse. All other metrics are sample-driven and skipped here.
func (e *Evaluator) EvaluateOffline(ctx context.Context, machineID string) {
	policies, err := e.repo.ListEnabledPolicies(ctx)
	if err != nil {
		e.logger.Error("load alert policies", logging.Error(err), logging.MachineID(machineID))
		return
	}

	for _, p := range policies {
		if p.Metric != models.MetricOffline {
			continue
		}
		e.evaluate(ctx, machineID, p, 1)
	}
}

// ForgetMachine drops in-memory state for a deleted machine.
func (e *Evaluator) ForgetMachine(machineID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.pending {
		if key.machineID == machineID {
			delete(e.pending, key)
		}
	}
	for key := range e.active {
		if key.machineID == machineID {
			delete(e.active, key)
		}
	}
}

func (e *Evaluator) metricValue(ctx context.Context, machineID, metric string, sample *models.MetricsSample) (float64, bool) {
	switch metric {
	case models.MetricCPU:
		return sample.CPUPct, true
	case models.MetricRAM:
		return sample.RAMPct, true
	case models.MetricDisk:
		return sample.DiskUsedPct(), true
	case models.MetricNetwork:
		return sample.NetworkUpKbps + sample.NetworkDownKbps, true
	case models.MetricOffline:
		// A sample is proof of life.
		return 0, true
	case models.MetricCrash:
		crashed, err := e.repo.HasRecentErrorLog(ctx, machineID, e.now().Add(-crashWindow))
		if err != nil {
			e.logger.Error("check crash logs", logging.Error(err), logging.MachineID(machineID))
			return 0, false
		}
		if crashed {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (e *Evaluator) evaluate(ctx context.Context, machineID string, p models.AlertPolicy, value float64) {
	key := pairKey{machineID, p.ID}
	now := e.now()

	if !compare(value, p.Operator, p.Threshold) {
		e.clear(ctx, key, p, now)
		return
	}

	e.mu.Lock()
	if e.active[key] {
		e.mu.Unlock()
		return
	}
	since, wasPending := e.pending[key]
	if !wasPending {
		since = now
		e.pending[key] = since
	}
	sustain := time.Duration(p.SustainMinutes) * time.Minute
	ready := now.Sub(since) >= sustain
	if ready {
		delete(e.pending, key)
		e.active[key] = true
	}
	e.mu.Unlock()

	if ready {
		e.open(ctx, key, p, value, now)
	}
}

func (e *Evaluator) clear(ctx context.Context, key pairKey, p models.AlertPolicy, now time.Time) {
	e.mu.Lock()
	delete(e.pending, key)
	wasActive := e.active[key]
	if wasActive {
		delete(e.active, key)
	}
	e.mu.Unlock()

	if !wasActive {
		return
	}

	resolved, err := e.repo.ResolveAlert(ctx, key.machineID, key.policyID, now)
	if err != nil {
		e.logger.Error("resolve alert", logging.Error(err),
			logging.MachineID(key.machineID), logging.PolicyID(key.policyID))
		// Put it back so the next healthy sample retries.
		e.mu.Lock()
		e.active[key] = true
		e.mu.Unlock()
		return
	}
	if !resolved {
		return
	}

	metrics.AlertsResolved.Inc()
	e.writeSyntheticEvent(ctx, key.machineID, eventIDAlertResolved, models.SeverityInfo,
		fmt.Sprintf("Alert resolved: %s", p.Name), now)
	e.broadcaster.Broadcast(realtime.Event{
		Name: realtime.EventAlertResolved,
		Data: map[string]any{
			"machine_id":  key.machineID,
			"policy_id":   key.policyID,
			"policy_name": p.Name,
			"resolved_at": now,
		},
	})
	e.logger.Info("alert resolved",
		logging.MachineID(key.machineID), logging.PolicyID(key.policyID))
}

func (e *Evaluator) open(ctx context.Context, key pairKey, p models.AlertPolicy, value float64, now time.Time) {
	alert := &models.Alert{
		ID:        uuid.New().String(),
		MachineID: key.machineID,
		PolicyID:  key.policyID,
		Value:     value,
		Status:    models.AlertActive,
		OpenedAt:  now,
	}
	if err := e.repo.OpenAlert(ctx, alert); err != nil {
		e.logger.Error("open alert", logging.Error(err),
			logging.MachineID(key.machineID), logging.PolicyID(key.policyID))
		e.mu.Lock()
		delete(e.active, key)
		e.mu.Unlock()
		return
	}

	// The store keeps at most one active alert per pair, so the insert may
	// have yielded to an existing row. Broadcast whatever actually won.
	stored, err := e.repo.GetActiveAlert(ctx, key.machineID, key.policyID)
	if err != nil {
		e.logger.Error("load opened alert", logging.Error(err),
			logging.MachineID(key.machineID), logging.PolicyID(key.policyID))
		stored = alert
	}
	if stored.ID != alert.ID {
		// Another writer opened this pair first; its open already announced.
		return
	}

	metrics.AlertsOpened.WithLabelValues(string(p.Priority)).Inc()
	e.writeSyntheticEvent(ctx, key.machineID, eventIDAlertOpened, models.SeverityWarning,
		fmt.Sprintf("Alert triggered: %s (%s %s %.1f, value %.1f)",
			p.Name, p.Metric, p.Operator, p.Threshold, value), now)
	e.broadcaster.Broadcast(realtime.Event{
		Name: realtime.EventAlertOpened,
		Data: models.ActiveAlert{
			Alert:      *stored,
			PolicyName: p.Name,
			Priority:   p.Priority,
		},
	})
	e.logger.Info("alert opened",
		logging.AlertID(stored.ID), logging.MachineID(key.machineID),
		logging.PolicyID(key.policyID))
}

func (e *Evaluator) writeSyntheticEvent(ctx context.Context, machineID string, eventID int, sev models.Severity, message string, at time.Time) {
	err := e.repo.InsertEvents(ctx, []models.EventSample{{
		MachineID: machineID,
		EventID:   eventID,
		Source:    alertEventSource,
		Message:   message,
		Severity:  sev,
		Timestamp: at,
	}})
	if err != nil {
		e.logger.Error("write alert event", logging.Error(err), logging.MachineID(machineID))
	}
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "=", "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}
