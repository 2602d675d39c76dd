package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/composables"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PlanEventV1
}

func (p *recordingPublisher) PublishPlanEvent(_ context.Context, ev events.PlanEventV1) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []events.PlanEventV1 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PlanEventV1(nil), p.events...)
}

// countingRepo wraps a plan repository and counts calls.
type countingRepo struct {
	plan.Repository
	calls atomic.Int64
}

func (r *countingRepo) GetPaginated(ctx context.Context, orgID uuid.UUID, params *plan.FindParams) ([]plan.Plan, int64, error) {
	r.calls.Add(1)
	return r.Repository.GetPaginated(ctx, orgID, params)
}

func (r *countingRepo) GetByID(ctx context.Context, id uuid.UUID) (plan.Plan, error) {
	r.calls.Add(1)
	return r.Repository.GetByID(ctx, id)
}

func (r *countingRepo) Create(ctx context.Context, p plan.Plan) error {
	r.calls.Add(1)
	return r.Repository.Create(ctx, p)
}

func (r *countingRepo) Update(ctx context.Context, p plan.Plan, expectedVersion int) error {
	r.calls.Add(1)
	return r.Repository.Update(ctx, p, expectedVersion)
}

func (r *countingRepo) Delete(ctx context.Context, orgID, id uuid.UUID, expectedVersion int) error {
	r.calls.Add(1)
	return r.Repository.Delete(ctx, orgID, id, expectedVersion)
}

// pausingRepo blocks the first GetByID after arm until resume is closed.
type pausingRepo struct {
	plan.Repository
	armed  atomic.Bool
	loaded chan struct{}
	resume chan struct{}
}

func newPausingRepo() *pausingRepo {
	return &pausingRepo{
		Repository: persistence.NewInmemPlanRepository(),
		loaded:     make(chan struct{}),
		resume:     make(chan struct{}),
	}
}

func (r *pausingRepo) GetByID(ctx context.Context, id uuid.UUID) (plan.Plan, error) {
	p, err := r.Repository.GetByID(ctx, id)
	if r.armed.CompareAndSwap(true, false) {
		close(r.loaded)
		<-r.resume
	}
	return p, err
}

// countingTx counts the transactions it runs.
type countingTx struct {
	runs atomic.Int64
}

func (c *countingTx) run(ctx context.Context, fn func(context.Context) error) error {
	c.runs.Add(1)
	return fn(ctx)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, authz.Request) error {
	return authz.ErrForbidden
}

func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type harness struct {
	svc       *PlanService
	repo      *countingRepo
	audit     *persistence.InmemAuditRepository
	publisher *recordingPublisher
	cache     *MemoryCache
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newHarness(t *testing.T, mutate ...func(*PlanServiceOptions)) *harness {
	t.Helper()
	h := &harness{
		repo:      &countingRepo{Repository: persistence.NewInmemPlanRepository()},
		audit:     persistence.NewInmemAuditRepository(),
		publisher: &recordingPublisher{},
		cache:     NewMemoryCache(time.Minute),
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts := PlanServiceOptions{
		Repo:      h.repo,
		AuditRepo: h.audit,
		Events:    h.publisher,
		Cache:     h.cache,
		InTx:      passthroughTx,
		Now:       h.clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.svc = NewPlanService(opts)
	return h
}

func tenantCtx(tenantID uuid.UUID, role string) context.Context {
	ctx := composables.WithTenantID(context.Background(), tenantID)
	return composables.WithActor(ctx, composables.Actor{ID: uuid.New(), Role: role})
}

func fullElements() *plan.Elements {
	return &plan.Elements{
		WaterSupplyDescription:  "Two bores feeding a treatment plant",
		HazardIdentification:    "Catchment runoff",
		RiskAssessment:          "Likelihood x consequence matrix",
		PreventiveMeasures:      "UV and chlorination",
		OperationalMonitoring:   "Online turbidity",
		VerificationMonitoring:  "Weekly E. coli",
		CorrectiveActions:       "Boil water notice",
		MultiBarrierApproach:    "Source protection, filtration, disinfection",
		EmergencyResponse:       "Tanker supply",
		ResidualDisinfection:    "0.2 mg/L FAC at extremities",
		WaterQuantityManagement: "Demand restrictions",
		ReviewProcedures:        "Annual review",
	}
}
