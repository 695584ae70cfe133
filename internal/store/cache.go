package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"replaybench/internal/scenario"
)

// CachedScenarios wraps a primary ScenarioStore with a Redis read-through
// cache. Writes go to the primary and refresh the cache; reads check Redis
// first then fall back to the primary. Redis failures only cost a cache miss.
type CachedScenarios struct {
	primary ScenarioStore
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedScenarios(primary ScenarioStore, rdb *redis.Client, ttl time.Duration) *CachedScenarios {
	return &CachedScenarios{primary: primary, rdb: rdb, ttl: ttl}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (c *CachedScenarios) SaveScenario(ctx context.Context, s *scenario.Snapshot) error {
	if err := c.primary.SaveScenario(ctx, s); err != nil {
		return err
	}
	c.cache(ctx, s)
	return nil
}

func (c *CachedScenarios) LoadScenario(ctx context.Context, id string) (*scenario.Snapshot, error) {
	data, err := c.rdb.Get(ctx, scenarioKey(id)).Bytes()
	if err == nil {
		var s scenario.Snapshot
		if json.Unmarshal(data, &s) == nil {
			return &s, nil
		}
	}

	// Cache miss: read from primary.
	s, err := c.primary.LoadScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache(ctx, s)
	return s, nil
}

func (c *CachedScenarios) cache(ctx context.Context, s *scenario.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, scenarioKey(s.ID), data, c.ttl).Err(); err != nil {
		slog.Debug("scenario cache write failed", "scenario", s.ID, "error", err)
	}
}

func scenarioKey(id string) string { return fmt.Sprintf("scenario:%s", id) }
