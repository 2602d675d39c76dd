package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/services"
)

const defaultPrefix = "compliance:v1"

// RedisCache is a services.PlanCache shared by every replica.
// Keys embed a per-tenant generation counter, so invalidation is a single INCR and retired keys age out by TTL.
type RedisCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

var _ services.PlanCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, prefix: defaultPrefix, ttl: ttl}
}

// Generation returns the tenant's current key generation, 0 before the first invalidation.
func (c *RedisCache) Generation(ctx context.Context, tenantID uuid.UUID) (uint64, error) {
	raw, err := c.redis.Get(ctx, c.generationKey(tenantID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, err
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *RedisCache) GetList(ctx context.Context, tenantID uuid.UUID, gen uint64, key string) (services.PlanPage, bool, error) {
	var page services.PlanPage
	ok, err := c.get(ctx, c.dataKey(tenantID, gen, "list:"+key), &page)
	return page, ok, err
}

func (c *RedisCache) SetList(ctx context.Context, tenantID uuid.UUID, gen uint64, key string, page services.PlanPage) error {
	if tenantID == uuid.Nil {
		return nil
	}
	return c.set(ctx, c.dataKey(tenantID, gen, "list:"+key), page)
}

func (c *RedisCache) GetCompleteness(ctx context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID) (plan.Report, bool, error) {
	var report plan.Report
	ok, err := c.get(ctx, c.dataKey(tenantID, gen, "completeness:"+planID.String()), &report)
	return report, ok, err
}

func (c *RedisCache) SetCompleteness(ctx context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID, report plan.Report) error {
	if tenantID == uuid.Nil {
		return nil
	}
	return c.set(ctx, c.dataKey(tenantID, gen, "completeness:"+planID.String()), report)
}

func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return nil
	}
	return c.redis.Incr(ctx, c.generationKey(tenantID)).Err()
}

func (c *RedisCache) get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, raw, c.ttl).Err()
}

// dataKey places every tenant key in one hash slot.
func (c *RedisCache) dataKey(tenantID uuid.UUID, gen uint64, suffix string) string {
	return fmt.Sprintf("%s:{%s}:%d:%s", c.prefix, tenantID.String(), gen, suffix)
}

func (c *RedisCache) generationKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:{%s}:gen", c.prefix, tenantID.String())
}
