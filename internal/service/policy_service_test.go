package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/repository"
)

func newPolicyFixture() (*PolicyService, *repository.InMemoryRepository) {
	repo := repository.NewInMemoryRepository()
	return NewPolicyService(repo, logging.Default()), repo
}

func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

func TestSeedDefaults(t *testing.T) {
	svc, repo := newPolicyFixture()
	ctx := context.Background()

	require.NoError(t, svc.SeedDefaults(ctx))

	policies, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 4)

	byName := make(map[string]models.AlertPolicy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
		assert.True(t, p.Enabled)
		assert.NotEmpty(t, p.ID)
	}
	assert.Equal(t, models.MetricCPU, byName["High CPU"].Metric)
	assert.Equal(t, 90.0, byName["High CPU"].Threshold)
	assert.Equal(t, 5, byName["High CPU"].SustainMinutes)
	assert.Equal(t, models.MetricOffline, byName["Machine Offline"].Metric)
	assert.Equal(t, 10, byName["Low Disk Space"].SustainMinutes)

	// A populated table is left alone.
	require.NoError(t, svc.SeedDefaults(ctx))
	policies, err = repo.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, policies, 4)
}

func TestCreatePolicyValidation(t *testing.T) {
	svc, _ := newPolicyFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.PolicyRequest
	}{
		{"missing name", models.PolicyRequest{Metric: "cpu", Operator: ">", Threshold: floatPtr(90)}},
		{"unknown metric", models.PolicyRequest{Name: "x", Metric: "gpu_temp", Operator: ">", Threshold: floatPtr(90)}},
		{"unknown operator", models.PolicyRequest{Name: "x", Metric: "cpu", Operator: "~", Threshold: floatPtr(90)}},
		{"missing threshold", models.PolicyRequest{Name: "x", Metric: "cpu", Operator: ">"}},
		{"negative duration", models.PolicyRequest{Name: "x", Metric: "cpu", Operator: ">", Threshold: floatPtr(90), SustainMinutes: -1}},
		{"unknown priority", models.PolicyRequest{Name: "x", Metric: "cpu", Operator: ">", Threshold: floatPtr(90), Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestCreatePolicyDefaults(t *testing.T) {
	svc, _ := newPolicyFixture()

	p, err := svc.Create(context.Background(), models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: floatPtr(85),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, p.Priority)
	assert.True(t, p.Enabled)
}

func TestUpdatePolicyKeepsCreatedAt(t *testing.T) {
	svc, repo := newPolicyFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: floatPtr(85),
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: floatPtr(95),
		Enabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 95.0, updated.Threshold)
	assert.False(t, updated.Enabled)

	stored, err := repo.GetPolicy(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, stored.CreatedAt)

	_, err = svc.Update(ctx, "ghost", models.PolicyRequest{
		Name: "x", Metric: "cpu", Operator: ">", Threshold: floatPtr(1),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeletePolicy(t *testing.T) {
	svc, _ := newPolicyFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: floatPtr(85),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), repository.ErrNotFound)
}
