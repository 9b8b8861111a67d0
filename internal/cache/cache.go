/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for derived plan data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultScheduleTTL = 5 * time.Minute
	DefaultExportTTL   = 10 * time.Minute
)

// Key names for Redis cache
const (
	KeySchedule  = "calendar:cache:schedule"
	KeyExportICS = "calendar:cache:export_ics"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	ScheduleTTL time.Duration
	ExportTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ScheduleTTL:    DefaultScheduleTTL,
		ExportTTL:      DefaultExportTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Schedule caching methods

// CachedActivity represents one declared activity in the cached schedule.
type CachedActivity struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	DurationMinutes int        `json:"duration_minutes"`
	Importance      float64    `json:"importance"`
	Start           *time.Time `json:"start,omitempty"`
	EarliestStart   *time.Time `json:"earliest_start,omitempty"`
	LatestFinish    *time.Time `json:"latest_finish,omitempty"`
	CanSplit        bool       `json:"can_split,omitempty"`
	MinChunkMinutes int        `json:"min_chunk_minutes,omitempty"`
}

// CachedBlock represents one placed block in the cached schedule.
type CachedBlock struct {
	ActivityID string    `json:"activity_id"`
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
}

// CachedWindow represents one free window in the cached schedule.
type CachedWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CachedWarning represents a planning warning in the cached schedule.
type CachedWarning struct {
	ActivityID string `json:"activity_id"`
	Reason     string `json:"reason"`
}

// CachedSchedule is the derived plan snapshot stored in Redis.
type CachedSchedule struct {
	DayStart    time.Time        `json:"day_start"`
	DayEnd      time.Time        `json:"day_end"`
	Activities  []CachedActivity `json:"activities"`
	Blocks      []CachedBlock    `json:"blocks"`
	FreeWindows []CachedWindow   `json:"free_windows"`
	Warnings    []CachedWarning  `json:"warnings"`
	ComputedAt  time.Time        `json:"computed_at"`
}

// GetSchedule retrieves the cached schedule snapshot.
func (c *Cache) GetSchedule(ctx context.Context) (*CachedSchedule, bool) {
	var snapshot CachedSchedule
	found, err := c.get(ctx, KeySchedule, &snapshot)
	if err != nil || !found {
		telemetry.CacheMissesTotal.Inc()
		return nil, false
	}
	telemetry.CacheHitsTotal.Inc()
	c.logger.Debug().Int("blocks", len(snapshot.Blocks)).Msg("schedule cache hit")
	return &snapshot, true
}

// SetSchedule caches the schedule snapshot.
func (c *Cache) SetSchedule(ctx context.Context, snapshot *CachedSchedule) error {
	c.logger.Debug().Int("blocks", len(snapshot.Blocks)).Msg("caching schedule")
	return c.set(ctx, KeySchedule, snapshot, c.config.ScheduleTTL)
}

// InvalidateSchedule removes the schedule snapshot and the rendered export.
// Call after any mutation that changes the plan.
func (c *Cache) InvalidateSchedule(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating schedule cache")
	if err := c.delete(ctx, KeySchedule); err != nil {
		return err
	}
	return c.delete(ctx, KeyExportICS)
}

// Export caching methods

// GetExport retrieves the cached ICS export.
func (c *Cache) GetExport(ctx context.Context) (string, bool) {
	if !c.IsAvailable() {
		telemetry.CacheMissesTotal.Inc()
		return "", false
	}

	data, err := c.client.Get(ctx, KeyExportICS).Result()
	if err == redis.Nil {
		telemetry.CacheMissesTotal.Inc()
		return "", false
	}
	if err != nil {
		c.handleError(err, "get")
		telemetry.CacheMissesTotal.Inc()
		return "", false
	}

	telemetry.CacheHitsTotal.Inc()
	c.logger.Debug().Int("bytes", len(data)).Msg("export cache hit")
	return data, true
}

// SetExport caches the rendered ICS export.
func (c *Cache) SetExport(ctx context.Context, ics string) error {
	if !c.IsAvailable() {
		return nil
	}

	c.logger.Debug().Int("bytes", len(ics)).Msg("caching export")
	if err := c.client.Set(ctx, KeyExportICS, ics, c.config.ExportTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "calendar:cache:*")
}
