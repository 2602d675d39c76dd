package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/services"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, ttl), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)
	tenantID, planID := uuid.New(), uuid.New()

	gen, err := c.Generation(ctx, tenantID)
	require.NoError(t, err)
	require.Zero(t, gen)

	_, ok, err := c.GetCompleteness(ctx, tenantID, gen, planID)
	require.NoError(t, err)
	require.False(t, ok)

	report := plan.Report{CompletenessScore: 8, MissingElements: []string{"Hazard Identification"}}
	require.NoError(t, c.SetCompleteness(ctx, tenantID, gen, planID, report))
	got, ok, err := c.GetCompleteness(ctx, tenantID, gen, planID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, report, got)

	page := services.PlanPage{Items: []plan.Snapshot{{ID: planID, Title: "Plan", Status: plan.StatusDraft}}, Total: 1}
	require.NoError(t, c.SetList(ctx, tenantID, gen, "k", page))
	gotPage, ok, err := c.GetList(ctx, tenantID, gen, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, gotPage.Total)
	require.Equal(t, "Plan", gotPage.Items[0].Title)
}

func TestRedisCache_InvalidateTenantIsScoped(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)
	tenantA, tenantB, planID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, c.SetCompleteness(ctx, tenantA, 0, planID, plan.Report{CompletenessScore: 50}))
	require.NoError(t, c.SetCompleteness(ctx, tenantB, 0, planID, plan.Report{CompletenessScore: 75}))

	require.NoError(t, c.InvalidateTenant(ctx, tenantA))

	genA, err := c.Generation(ctx, tenantA)
	require.NoError(t, err)
	require.EqualValues(t, 1, genA)
	_, ok, err := c.GetCompleteness(ctx, tenantA, genA, planID)
	require.NoError(t, err)
	require.False(t, ok)

	genB, err := c.Generation(ctx, tenantB)
	require.NoError(t, err)
	got, ok, err := c.GetCompleteness(ctx, tenantB, genB, planID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 75, got.CompletenessScore)
}

func TestRedisCache_WriteUnderRetiredGenerationIsNotServed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)
	tenantID, planID := uuid.New(), uuid.New()

	gen, err := c.Generation(ctx, tenantID)
	require.NoError(t, err)
	require.NoError(t, c.InvalidateTenant(ctx, tenantID))
	require.NoError(t, c.SetCompleteness(ctx, tenantID, gen, planID, plan.Report{CompletenessScore: 0}))

	current, err := c.Generation(ctx, tenantID)
	require.NoError(t, err)
	_, ok, err := c.GetCompleteness(ctx, tenantID, current, planID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 10*time.Minute)
	tenantID, planID := uuid.New(), uuid.New()

	require.NoError(t, c.SetCompleteness(ctx, tenantID, 0, planID, plan.Report{CompletenessScore: 100}))
	mr.FastForward(11 * time.Minute)

	_, ok, err := c.GetCompleteness(ctx, tenantID, 0, planID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_RejectsCorruptGeneration(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	tenantID := uuid.New()

	require.NoError(t, mr.Set(c.generationKey(tenantID), "abc"))
	_, err := c.Generation(ctx, tenantID)
	require.Error(t, err)
}
