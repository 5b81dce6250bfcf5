package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

func setupTestCache(t *testing.T) *SampleCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSampleCache(client, time.Minute)
}

func TestSampleCacheRoundTrip(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	sample := &models.MetricsSample{
		MachineID: "M1",
		CPUPct:    42.5,
		RAMPct:    60,
		Processes: []models.ProcessSample{{Name: "proc", CPU: 10, Mem: 2, PID: 1}},
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, c.SetLatest(ctx, sample))

	got, err := c.GetLatest(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, sample, got)
}

func TestSampleCacheMiss(t *testing.T) {
	c := setupTestCache(t)

	_, err := c.GetLatest(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSampleCacheInvalidate(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetLatest(ctx, &models.MetricsSample{MachineID: "M1", CPUPct: 10}))
	require.NoError(t, c.Invalidate(ctx, "M1"))

	_, err := c.GetLatest(ctx, "M1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSampleCacheDisabled(t *testing.T) {
	c := NewSampleCache(nil, 0)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.NoError(t, c.SetLatest(ctx, &models.MetricsSample{MachineID: "M1"}))
	_, err := c.GetLatest(ctx, "M1")
	assert.ErrorIs(t, err, ErrMiss)
}
