// Package cache keeps the latest metrics sample per machine in Redis so
// dashboard polls avoid hitting the metrics table. The cache is optional:
// a nil client turns every operation into a no-op and callers fall back
// to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

// ErrMiss is returned when the cache holds no sample for a machine.
var ErrMiss = errors.New("cache miss")

type SampleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSampleCache wraps an optional Redis client. ttl bounds staleness when
// a machine stops reporting; zero means 5 minutes.
func NewSampleCache(client *redis.Client, ttl time.Duration) *SampleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SampleCache{client: client, ttl: ttl}
}

func (c *SampleCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *SampleCache) SetLatest(ctx context.Context, s *models.MetricsSample) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	if err := c.client.Set(ctx, latestKey(s.MachineID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache latest sample: %w", err)
	}
	return nil
}

func (c *SampleCache) GetLatest(ctx context.Context, machineID string) (*models.MetricsSample, error) {
	if !c.Enabled() {
		return nil, ErrMiss
	}
	data, err := c.client.Get(ctx, latestKey(machineID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get latest sample: %w", err)
	}
	var s models.MetricsSample
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("unmarshal cached sample: %w", err)
	}
	return &s, nil
}

// Invalidate drops the cached sample, used when a machine is deleted or
// deregisters.
func (c *SampleCache) Invalidate(ctx context.Context, machineID string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Del(ctx, latestKey(machineID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached sample: %w", err)
	}
	return nil
}

// Close releases the underlying client. Safe on a disabled cache.
func (c *SampleCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func latestKey(machineID string) string {
	return "latest_sample:" + machineID
}
