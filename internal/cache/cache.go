// Package cache decorates the price repository with a Redis read-through cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/logger"
	"github.com/rewired-gh/casewatch/internal/models"
)

// Repository is the subset of storage that readers and the sweeper use.
type Repository interface {
	RecordObservation(ctx context.Context, obs models.Observation) (*decimal.Decimal, error)
	RecordSweep(ctx context.Context, sum models.SweepSummary) error
	CurrentSnapshot(ctx context.Context) (map[string]models.PricePoint, error)
	HistorySnapshot(ctx context.Context) (map[string][]models.PricePoint, error)
	LastSweep(ctx context.Context) (*models.SweepSummary, error)
	NearestObservationTo(ctx context.Context, item string, target, now time.Time) (models.PricePoint, bool, error)
}

// CachingRepository caches whole-catalog snapshots in Redis. Writes go straight
// to the inner repository and drop the cached snapshots.
type CachingRepository struct {
	inner     Repository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCachingRepository wraps inner. A nil rdb disables caching entirely.
// If ttl is 0 it defaults to 30 seconds; an empty namespace becomes "casewatch".
func NewCachingRepository(rdb *redis.Client, ttl time.Duration, inner Repository, namespace string) *CachingRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if namespace == "" {
		namespace = "casewatch"
	}
	return &CachingRepository{inner: inner, rdb: rdb, ttl: ttl, namespace: namespace}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection to %s failed: %w", addr, err)
	}
	return rdb, nil
}

// Snapshot keys carry the current generation. A write bumps the generation, so a
// reader that loaded before the bump can only populate a key no later reader uses.
func (c *CachingRepository) generationKey() string {
	return c.namespace + ":gen"
}

func (c *CachingRepository) key(name string, gen int64) string {
	return fmt.Sprintf("%s:%s:%d", c.namespace, name, gen)
}

func (c *CachingRepository) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// RecordObservation writes through and invalidates the snapshots.
func (c *CachingRepository) RecordObservation(ctx context.Context, obs models.Observation) (*decimal.Decimal, error) {
	previous, err := c.inner.RecordObservation(ctx, obs)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return previous, nil
}

// RecordSweep writes through and invalidates the snapshots.
func (c *CachingRepository) RecordSweep(ctx context.Context, sum models.SweepSummary) error {
	if err := c.inner.RecordSweep(ctx, sum); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachingRepository) CurrentSnapshot(ctx context.Context) (map[string]models.PricePoint, error) {
	return readThrough(ctx, c, "current", c.inner.CurrentSnapshot)
}

func (c *CachingRepository) HistorySnapshot(ctx context.Context) (map[string][]models.PricePoint, error) {
	return readThrough(ctx, c, "history", c.inner.HistorySnapshot)
}

func (c *CachingRepository) LastSweep(ctx context.Context) (*models.SweepSummary, error) {
	return readThrough(ctx, c, "last-sweep", c.inner.LastSweep)
}

// NearestObservationTo depends on the caller's clock, so it is never cached.
func (c *CachingRepository) NearestObservationTo(ctx context.Context, item string, target, now time.Time) (models.PricePoint, bool, error) {
	return c.inner.NearestObservationTo(ctx, item, target, now)
}

// invalidate runs after the inner write committed. Entries of older generations
// are never read again and expire with their TTL. If the bump itself fails, a
// stale snapshot can be served for at most one TTL.
func (c *CachingRepository) invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Incr(ctx, c.generationKey()).Err(); err != nil {
		logger.Warn("Failed to invalidate cache: %v", err)
	}
}

func readThrough[T any](ctx context.Context, c *CachingRepository, name string, load func(context.Context) (T, error)) (T, error) {
	if c.rdb == nil {
		return load(ctx)
	}

	gen, err := c.generation(ctx)
	if err != nil {
		return load(ctx)
	}
	key := c.key(name, gen)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out T
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	out, err := load(ctx)
	if err != nil {
		return out, err
	}

	if b, err := json.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}
	return out, nil
}
