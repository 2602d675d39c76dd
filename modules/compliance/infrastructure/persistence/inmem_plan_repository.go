package persistence

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SafeMap[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *SafeMap[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, found := s.m[key]
	return val, found
}

func (s *SafeMap[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *SafeMap[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.m))
}

// CompareAndSwap replaces the value for key when match reports true for the current value.
// found is false when the key is absent.
func (s *SafeMap[K, V]) CompareAndSwap(key K, match func(V) bool, value V) (swapped, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok {
		return false, false
	}
	if !match(cur) {
		return false, true
	}
	s.m[key] = value
	return true, true
}

// CompareAndDelete removes key when match reports true for the current value.
func (s *SafeMap[K, V]) CompareAndDelete(key K, match func(V) bool) (deleted, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok {
		return false, false
	}
	if !match(cur) {
		return false, true
	}
	delete(s.m, key)
	return true, true
}

// InmemPlanRepository keeps plans in process memory. Used by the offline CLI and tests.
type InmemPlanRepository struct {
	storage *SafeMap[uuid.UUID, plan.Plan]
}

func NewInmemPlanRepository() *InmemPlanRepository {
	return &InmemPlanRepository{
		storage: NewSafeMap[uuid.UUID, plan.Plan](),
	}
}

func (r *InmemPlanRepository) GetPaginated(_ context.Context, organizationID uuid.UUID, params *plan.FindParams) ([]plan.Plan, int64, error) {
	if params == nil {
		params = &plan.FindParams{}
	}
	q := strings.ToLower(strings.TrimSpace(params.Q))

	var matched []plan.Plan
	for _, p := range r.storage.Values() {
		if !p.BelongsTo(organizationID) {
			continue
		}
		if params.Status != "" && p.Status() != params.Status {
			continue
		}
		if params.PlanType != "" && p.PlanType() != params.PlanType {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Title()), q) && !strings.Contains(strings.ToLower(p.Description()), q) {
			continue
		}
		matched = append(matched, p)
	}

	slices.SortFunc(matched, func(a, b plan.Plan) int {
		var c int
		switch params.SortBy {
		case plan.SortTitle:
			c = cmp.Compare(a.Title(), b.Title())
		case plan.SortCreatedAt:
			c = a.CreatedAt().Compare(b.CreatedAt())
		default:
			c = a.UpdatedAt().Compare(b.UpdatedAt())
		}
		if params.Desc {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(a.ID().String(), b.ID().String())
		}
		return c
	})

	total := int64(len(matched))
	start := min(max(params.Offset, 0), len(matched))
	end := len(matched)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(matched))
	}
	return matched[start:end], total, nil
}

func (r *InmemPlanRepository) GetByID(_ context.Context, id uuid.UUID) (plan.Plan, error) {
	p, ok := r.storage.Get(id)
	if !ok {
		return plan.Plan{}, plan.ErrNotFound
	}
	return p, nil
}

func (r *InmemPlanRepository) Create(_ context.Context, p plan.Plan) error {
	r.storage.Set(p.ID(), p)
	return nil
}

func (r *InmemPlanRepository) Update(_ context.Context, p plan.Plan, expectedVersion int) error {
	swapped, found := r.storage.CompareAndSwap(p.ID(), func(cur plan.Plan) bool {
		return cur.BelongsTo(p.OrganizationID()) && cur.Version() == expectedVersion
	}, p)
	switch {
	case !found:
		return plan.ErrNotFound
	case !swapped:
		return plan.ErrConflictingEdit
	}
	return nil
}

func (r *InmemPlanRepository) Delete(_ context.Context, organizationID, id uuid.UUID, expectedVersion int) error {
	deleted, found := r.storage.CompareAndDelete(id, func(cur plan.Plan) bool {
		return cur.BelongsTo(organizationID) && cur.Version() == expectedVersion && cur.Status() == plan.StatusDraft
	})
	switch {
	case !found:
		return plan.ErrNotFound
	case !deleted:
		return plan.ErrConflictingEdit
	}
	return nil
}

// InmemAuditRepository is the in-memory counterpart of AuditRepository.
type InmemAuditRepository struct {
	mu      sync.RWMutex
	entries []plan.AuditEntry
}

func NewInmemAuditRepository() *InmemAuditRepository {
	return &InmemAuditRepository{}
}

func (r *InmemAuditRepository) Append(_ context.Context, e plan.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *InmemAuditRepository) ListByPlan(_ context.Context, organizationID, planID uuid.UUID) ([]plan.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []plan.AuditEntry
	for _, e := range r.entries {
		if e.OrganizationID == organizationID && e.PlanID == planID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *InmemAuditRepository) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	var purged int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return purged, nil
}
