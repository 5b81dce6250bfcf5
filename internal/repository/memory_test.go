package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

func TestUpsertMachineMergesIdentity(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first := &models.Machine{
		ID:        "M1",
		Hostname:  "host-a",
		IPAddress: "10.0.0.1",
		OSInfo:    "Linux",
		Hardware:  &models.HardwareInfo{CPU: models.CPUInfo{Name: "Old CPU", Cores: 4}},
		LastSeen:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.UpsertMachine(ctx, first))

	// A later payload without hardware must keep the stored inventory, and
	// empty identity fields must not wipe stored values.
	second := &models.Machine{
		ID:       "M1",
		Hostname: "host-a-renamed",
		LastSeen: time.Now(),
	}
	require.NoError(t, repo.UpsertMachine(ctx, second))

	got, err := repo.GetMachine(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "host-a-renamed", got.Hostname)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.Equal(t, "Linux", got.OSInfo)
	require.NotNil(t, got.Hardware)
	assert.Equal(t, "Old CPU", got.Hardware.CPU.Name)
	assert.Equal(t, models.StatusOnline, got.Status)
}

func TestUpsertMachineLastSeenOnlyMovesForward(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	recent := time.Now()

	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "M1", Hostname: "h", LastSeen: recent}))
	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "M1", Hostname: "h", LastSeen: recent.Add(-time.Hour)}))

	got, err := repo.GetMachine(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, recent, got.LastSeen)
}

func TestListMachinesSortedByHostname(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for _, h := range []string{"zeta", "Alpha", "mike"} {
		require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: h, Hostname: h}))
	}
	require.NoError(t, repo.InsertMetrics(ctx, &models.MetricsSample{MachineID: "mike", CPUPct: 10}))
	require.NoError(t, repo.InsertMetrics(ctx, &models.MetricsSample{MachineID: "mike", CPUPct: 20}))

	list, err := repo.ListMachinesWithLatest(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Alpha", list[0].Hostname)
	assert.Equal(t, "mike", list[1].Hostname)
	assert.Equal(t, "zeta", list[2].Hostname)

	require.NotNil(t, list[1].Latest)
	assert.Equal(t, 20.0, list[1].Latest.CPUPct)
	assert.Nil(t, list[0].Latest)
}

func TestMarkOfflineFlipsOnlyStale(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "stale", Hostname: "stale", LastSeen: now.Add(-5 * time.Minute)}))
	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "fresh", Hostname: "fresh", LastSeen: now}))

	flipped, err := repo.MarkOffline(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, flipped)

	// Second sweep is a no-op: already-offline machines never flip again.
	flipped, err = repo.MarkOffline(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, flipped)

	got, err := repo.GetMachine(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)
}

func TestRecentMetricsNewestFirstBounded(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.InsertMetrics(ctx, &models.MetricsSample{MachineID: "M1", CPUPct: float64(i)}))
	}

	got, err := repo.RecentMetrics(ctx, "M1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 4.0, got[0].CPUPct)
	assert.Equal(t, 2.0, got[2].CPUPct)
}

func TestDeleteMachineRemovesHistory(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "M1", Hostname: "h"}))
	require.NoError(t, repo.InsertMetrics(ctx, &models.MetricsSample{MachineID: "M1"}))
	require.NoError(t, repo.DeleteMachine(ctx, "M1"))

	_, err := repo.GetMachine(ctx, "M1")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := repo.RecentMetrics(ctx, "M1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, repo.DeleteMachine(ctx, "M1"), ErrNotFound)
}

func TestHasRecentErrorLog(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.InsertAgentLog(ctx, &models.AgentLog{
		MachineID: "M1", Level: "info", Message: "agent started", Timestamp: now,
	}))
	ok, err := repo.HasRecentErrorLog(ctx, "M1", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.InsertAgentLog(ctx, &models.AgentLog{
		MachineID: "M1", Level: "error", Message: "collector died", Timestamp: now,
	}))
	ok, err = repo.HasRecentErrorLog(ctx, "M1", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// Outside the window it no longer counts.
	ok, err = repo.HasRecentErrorLog(ctx, "M1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlertLifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.UpsertMachine(ctx, &models.Machine{ID: "M1", Hostname: "host-a"}))
	require.NoError(t, repo.CreatePolicy(ctx, &models.AlertPolicy{
		ID: "P1", Name: "High CPU", Metric: models.MetricCPU, Operator: ">",
		Threshold: 90, Priority: models.PriorityHigh, Enabled: true,
	}))

	require.NoError(t, repo.OpenAlert(ctx, &models.Alert{
		ID: "A1", MachineID: "M1", PolicyID: "P1", Value: 97,
		Status: models.AlertActive, OpenedAt: now,
	}))

	active, err := repo.GetActiveAlert(ctx, "M1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 97.0, active.Value)

	list, err := repo.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "High CPU", list[0].PolicyName)
	assert.Equal(t, "host-a", list[0].Hostname)

	resolved, err := repo.ResolveAlert(ctx, "M1", "P1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved)

	// Resolving again reports nothing resolved.
	resolved, err = repo.ResolveAlert(ctx, "M1", "P1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, resolved)

	_, err = repo.GetActiveAlert(ctx, "M1", "P1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenAlertKeepsOneActivePerPair(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.OpenAlert(ctx, &models.Alert{
		ID: "A1", MachineID: "M1", PolicyID: "P1", Value: 97,
		Status: models.AlertActive, OpenedAt: now,
	}))
	// A second open for the same pair yields to the existing row.
	require.NoError(t, repo.OpenAlert(ctx, &models.Alert{
		ID: "A2", MachineID: "M1", PolicyID: "P1", Value: 99,
		Status: models.AlertActive, OpenedAt: now.Add(time.Second),
	}))

	active, err := repo.GetActiveAlert(ctx, "M1", "P1")
	require.NoError(t, err)
	assert.Equal(t, "A1", active.ID)

	// Once resolved, the pair can open again.
	resolved, err := repo.ResolveAlert(ctx, "M1", "P1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, resolved)
	require.NoError(t, repo.OpenAlert(ctx, &models.Alert{
		ID: "A3", MachineID: "M1", PolicyID: "P1", Value: 95,
		Status: models.AlertActive, OpenedAt: now.Add(2 * time.Minute),
	}))

	active, err = repo.GetActiveAlert(ctx, "M1", "P1")
	require.NoError(t, err)
	assert.Equal(t, "A3", active.ID)
}

func TestPolicyCRUD(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := &models.AlertPolicy{ID: "P1", Name: "High CPU", Metric: models.MetricCPU,
		Operator: ">", Threshold: 90, SustainMinutes: 5, Priority: models.PriorityHigh, Enabled: true}
	require.NoError(t, repo.CreatePolicy(ctx, p))
	require.NoError(t, repo.CreatePolicy(ctx, &models.AlertPolicy{ID: "P2", Name: "Disabled", Enabled: false}))

	enabled, err := repo.ListEnabledPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "P1", enabled[0].ID)

	p.Threshold = 95
	require.NoError(t, repo.UpdatePolicy(ctx, p))
	got, err := repo.GetPolicy(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.Threshold)

	require.NoError(t, repo.DeletePolicy(ctx, "P2"))
	assert.ErrorIs(t, repo.DeletePolicy(ctx, "P2"), ErrNotFound)

	count, err := repo.CountPolicies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdminUniqueness(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateAdmin(ctx, &models.AdminUser{ID: "U1", Username: "ops", PasswordHash: "x"}))
	err := repo.CreateAdmin(ctx, &models.AdminUser{ID: "U2", Username: "ops", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := repo.GetAdminByUsername(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "U1", got.ID)
}

func TestSetupTokenConsumedOnce(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateSetupToken(ctx, "tok-1"))

	tok, err := repo.GetUnusedSetupToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	ok, err := repo.ConsumeSetupToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeSetupToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ConsumeSetupToken(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetUnusedSetupToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
