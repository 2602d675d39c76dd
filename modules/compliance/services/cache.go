package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

const (
	cacheNameList         = "list"
	cacheNameCompleteness = "completeness"
)

// PlanPage is a cached page of plans.
type PlanPage struct {
	Items []plan.Snapshot `json:"items"`
	Total int64           `json:"total"`
}

// PlanCache stores tenant-scoped read models. Implementations must be safe for concurrent use.
//
// Entries live under a per-tenant generation that InvalidateTenant advances. Readers take the
// generation before loading from the store and write under it, so a write that raced an
// invalidation lands in a retired generation and is never served.
type PlanCache interface {
	Generation(ctx context.Context, tenantID uuid.UUID) (uint64, error)
	GetList(ctx context.Context, tenantID uuid.UUID, gen uint64, key string) (PlanPage, bool, error)
	SetList(ctx context.Context, tenantID uuid.UUID, gen uint64, key string, page PlanPage) error
	GetCompleteness(ctx context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID) (plan.Report, bool, error)
	SetCompleteness(ctx context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID, report plan.Report) error
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

func listCacheKey(params *plan.FindParams) string {
	raw := fmt.Sprintf("q=%s|status=%s|type=%s|sort=%s|desc=%t|limit=%d|offset=%d",
		params.Q, params.Status, params.PlanType, params.SortBy, params.Desc, params.Limit, params.Offset)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type noopCache struct{}

func (noopCache) Generation(context.Context, uuid.UUID) (uint64, error) { return 0, nil }
func (noopCache) GetList(context.Context, uuid.UUID, uint64, string) (PlanPage, bool, error) {
	return PlanPage{}, false, nil
}
func (noopCache) SetList(context.Context, uuid.UUID, uint64, string, PlanPage) error { return nil }
func (noopCache) GetCompleteness(context.Context, uuid.UUID, uint64, uuid.UUID) (plan.Report, bool, error) {
	return plan.Report{}, false, nil
}
func (noopCache) SetCompleteness(context.Context, uuid.UUID, uint64, uuid.UUID, plan.Report) error {
	return nil
}
func (noopCache) InvalidateTenant(context.Context, uuid.UUID) error { return nil }

type memoryEntry struct {
	value   any
	expires time.Time
}

// MemoryCache is a process-local PlanCache with per-entry expiry.
// Invalidations reach only this process, so it suits a single replica.
type MemoryCache struct {
	mu          sync.RWMutex
	ttl         time.Duration
	now         func() time.Time
	entries     map[string]memoryEntry
	generations map[uuid.UUID]uint64
	tenantIndex map[uuid.UUID]map[string]struct{}
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]memoryEntry),
		generations: make(map[uuid.UUID]uint64),
		tenantIndex: make(map[uuid.UUID]map[string]struct{}),
	}
}

func memoryKey(kind string, tenantID uuid.UUID, gen uint64, suffix string) string {
	return fmt.Sprintf("%s:%s:%d:%s", kind, tenantID, gen, suffix)
}

func (c *MemoryCache) Generation(_ context.Context, tenantID uuid.UUID) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[tenantID], nil
}

func (c *MemoryCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return nil, false
	}
	return e.value, true
}

// set drops the write when gen is no longer the tenant's current generation.
func (c *MemoryCache) set(tenantID uuid.UUID, gen uint64, key string, value any) {
	if tenantID == uuid.Nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[tenantID] != gen {
		return
	}
	e := memoryEntry{value: value}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	if _, ok := c.tenantIndex[tenantID]; !ok {
		c.tenantIndex[tenantID] = make(map[string]struct{})
	}
	c.tenantIndex[tenantID][key] = struct{}{}
}

func (c *MemoryCache) GetList(_ context.Context, tenantID uuid.UUID, gen uint64, key string) (PlanPage, bool, error) {
	v, ok := c.get(memoryKey("list", tenantID, gen, key))
	if !ok {
		return PlanPage{}, false, nil
	}
	page, ok := v.(PlanPage)
	return page, ok, nil
}

func (c *MemoryCache) SetList(_ context.Context, tenantID uuid.UUID, gen uint64, key string, page PlanPage) error {
	c.set(tenantID, gen, memoryKey("list", tenantID, gen, key), page)
	return nil
}

func (c *MemoryCache) GetCompleteness(_ context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID) (plan.Report, bool, error) {
	v, ok := c.get(memoryKey("completeness", tenantID, gen, planID.String()))
	if !ok {
		return plan.Report{}, false, nil
	}
	r, ok := v.(plan.Report)
	return r, ok, nil
}

func (c *MemoryCache) SetCompleteness(_ context.Context, tenantID uuid.UUID, gen uint64, planID uuid.UUID, report plan.Report) error {
	c.set(tenantID, gen, memoryKey("completeness", tenantID, gen, planID.String()), report)
	return nil
}

func (c *MemoryCache) InvalidateTenant(_ context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[tenantID]++
	for key := range c.tenantIndex[tenantID] {
		delete(c.entries, key)
	}
	delete(c.tenantIndex, tenantID)
	return nil
}
