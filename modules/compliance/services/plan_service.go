package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/composables"
)

// EventPublisher records plan events inside the caller's transaction.
type EventPublisher interface {
	PublishPlanEvent(ctx context.Context, ev events.PlanEventV1) error
}

// TxRunner runs fn in a tenant-scoped transaction carried by the context.
type TxRunner func(ctx context.Context, fn func(txCtx context.Context) error) error

// SubmitPolicy controls whether submission is gated on completeness.
type SubmitPolicy struct {
	Enforce         bool
	MinCompleteness int
}

type PlanServiceOptions struct {
	Repo            plan.Repository
	AuditRepo       plan.AuditRepository
	Events          EventPublisher
	Cache           PlanCache
	Authorizer      Authorizer
	InTx            TxRunner
	// ReadTx scopes reads to the tenant. Nil uses InTx when set, else a read-only tenant transaction.
	ReadTx          TxRunner
	Policy          SubmitPolicy
	DefaultPageSize int
	MaxPageSize     int
	Now             func() time.Time
}

type PlanService struct {
	repo            plan.Repository
	audit           plan.AuditRepository
	events          EventPublisher
	cache           PlanCache
	authorizer      Authorizer
	inTx            TxRunner
	readTx          TxRunner
	policy          SubmitPolicy
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

func NewPlanService(opts PlanServiceOptions) *PlanService {
	s := &PlanService{
		repo:            opts.Repo,
		audit:           opts.AuditRepo,
		events:          opts.Events,
		cache:           opts.Cache,
		authorizer:      opts.Authorizer,
		inTx:            opts.InTx,
		readTx:          opts.ReadTx,
		policy:          opts.Policy,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
		now:             opts.Now,
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.authorizer == nil {
		s.authorizer = allowAll{}
	}
	if s.readTx == nil {
		s.readTx = s.inTx
	}
	if s.inTx == nil {
		s.inTx = composables.InTenantTx
	}
	if s.readTx == nil {
		s.readTx = composables.InTenantReadTx
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.defaultPageSize <= 0 {
		s.defaultPageSize = 25
	}
	if s.maxPageSize < s.defaultPageSize {
		s.maxPageSize = s.defaultPageSize
	}
	return s
}

func (s *PlanService) Policy() SubmitPolicy { return s.policy }

type scope struct {
	tenantID uuid.UUID
	actor    composables.Actor
}

func (s *PlanService) scope(ctx context.Context) (scope, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return scope{}, err
	}
	actor, err := composables.UseActor(ctx)
	if err != nil {
		return scope{}, err
	}
	return scope{tenantID: tenantID, actor: actor}, nil
}

// load fetches a plan and enforces tenant ownership.
func (s *PlanService) load(ctx context.Context, sc scope, id uuid.UUID) (plan.Plan, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return plan.Plan{}, err
	}
	if !p.BelongsTo(sc.tenantID) {
		composables.UseLogger(ctx).WithFields(logrus.Fields{
			"plan_id":   id,
			"tenant_id": sc.tenantID,
		}).Warn("compliance: cross-tenant plan access denied")
		return plan.Plan{}, plan.ErrForbidden
	}
	return p, nil
}

// Create adds a new DRAFT plan at version 1.
func (s *PlanService) Create(ctx context.Context, dto *plan.CreateDTO) (p plan.Plan, err error) {
	defer func() { recordOperation(string(plan.ActionCreate), err) }()

	sc, err := s.scope(ctx)
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionCreate); err != nil {
		return plan.Plan{}, mapError(err)
	}
	if errs, ok := dto.Ok(); !ok {
		return plan.Plan{}, validationError(errs)
	}

	created, err := plan.New(sc.tenantID, sc.actor.ID, dto.Title, dto.Description, dto.Type(), dto.ElementsValue(), s.now())
	if err != nil {
		return plan.Plan{}, mapError(err)
	}

	err = s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, created); err != nil {
			return err
		}
		return s.record(txCtx, plan.ActionCreate, nil, created, sc, "")
	})
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	s.invalidate(ctx, sc.tenantID, "create")
	return created, nil
}

// Get returns a single plan owned by the caller's organization.
func (s *PlanService) Get(ctx context.Context, id uuid.UUID) (plan.Plan, error) {
	sc, err := s.scope(ctx)
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionRead); err != nil {
		return plan.Plan{}, mapError(err)
	}
	var p plan.Plan
	err = s.readTx(ctx, func(txCtx context.Context) error {
		p, err = s.load(txCtx, sc, id)
		return err
	})
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	return p, nil
}

// List returns a page of the organization's plans.
func (s *PlanService) List(ctx context.Context, params *plan.FindParams) (PlanPage, error) {
	sc, err := s.scope(ctx)
	if err != nil {
		return PlanPage{}, mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionRead); err != nil {
		return PlanPage{}, mapError(err)
	}
	if params == nil {
		params = &plan.FindParams{}
	}
	s.clampPage(params)

	key := listCacheKey(params)
	gen, cacheable := s.cacheGeneration(ctx, sc.tenantID)
	if cacheable {
		if page, ok, err := s.cache.GetList(ctx, sc.tenantID, gen, key); err != nil {
			composables.UseLogger(ctx).WithError(err).Warn("compliance: plan list cache read failed")
		} else {
			recordCacheRequest(cacheNameList, ok)
			if ok {
				return page, nil
			}
		}
	}

	var page PlanPage
	err = s.readTx(ctx, func(txCtx context.Context) error {
		plans, total, err := s.repo.GetPaginated(txCtx, sc.tenantID, params)
		if err != nil {
			return err
		}
		page = PlanPage{Items: make([]plan.Snapshot, 0, len(plans)), Total: total}
		for _, p := range plans {
			page.Items = append(page.Items, p.Snapshot())
		}
		return nil
	})
	if err != nil {
		return PlanPage{}, mapError(err)
	}
	if cacheable {
		if err := s.cache.SetList(ctx, sc.tenantID, gen, key, page); err != nil {
			composables.UseLogger(ctx).WithError(err).Warn("compliance: plan list cache write failed")
		}
	}
	return page, nil
}

// Update applies a partial content update to a DRAFT plan at the expected version.
func (s *PlanService) Update(ctx context.Context, id uuid.UUID, dto *plan.UpdateDTO) (plan.Plan, error) {
	if errs, ok := dto.Ok(); !ok {
		recordOperation(string(plan.ActionUpdate), validationError(errs))
		return plan.Plan{}, validationError(errs)
	}
	expected := dto.Version
	changes := dto.Changes()
	return s.mutate(ctx, id, plan.ActionUpdate, authz.ActionUpdate, expected, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		next, err := p.Update(changes, sc.actor.ID, now)
		return next, "", err
	})
}

// SubmitResult carries the submitted plan and the completeness report observed at submission.
type SubmitResult struct {
	Plan   plan.Plan
	Report plan.Report
	// Warning is set when the plan was submitted incomplete under the advisory policy.
	Warning bool
}

// Submit moves a DRAFT plan to SUBMITTED. Under the enforce policy an incomplete plan is refused.
// expectedVersion of 0 skips the client version check.
func (s *PlanService) Submit(ctx context.Context, id uuid.UUID, expectedVersion int) (SubmitResult, error) {
	var report plan.Report
	p, err := s.mutate(ctx, id, plan.ActionSubmit, authz.ActionSubmit, expectedVersion, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		if _, err := plan.Transition(p.Status(), plan.ActionSubmit); err != nil {
			return p, "", err
		}
		report = p.Completeness()
		if s.policy.Enforce && !report.Meets(s.policy.MinCompleteness) {
			return p, "", &plan.IncompleteError{Report: report}
		}
		next, err := p.Submit(sc.actor.ID, now)
		return next, "", err
	})
	if err != nil {
		return SubmitResult{}, err
	}
	planCompleteness.Observe(float64(report.CompletenessScore))
	if !report.Complete() {
		composables.UseLogger(ctx).WithFields(logrus.Fields{
			"plan_id": id,
			"score":   report.CompletenessScore,
			"missing": report.MissingElements,
		}).Info("compliance: plan submitted incomplete")
	}
	return SubmitResult{Plan: p, Report: report, Warning: !report.Complete()}, nil
}

// Approve records reviewer approval of a SUBMITTED plan.
func (s *PlanService) Approve(ctx context.Context, id uuid.UUID, reviewerID uuid.UUID) (plan.Plan, error) {
	return s.mutate(ctx, id, plan.ActionApprove, authz.ActionApprove, 0, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		reviewer := reviewerID
		if reviewer == uuid.Nil {
			reviewer = sc.actor.ID
		}
		next, err := p.Approve(reviewer, now)
		return next, "", err
	})
}

// Reject records the rejection of a SUBMITTED plan with a reason.
func (s *PlanService) Reject(ctx context.Context, id uuid.UUID, dto *plan.RejectDTO) (plan.Plan, error) {
	if errs, ok := dto.Ok(); !ok {
		recordOperation(string(plan.ActionReject), validationError(errs))
		return plan.Plan{}, validationError(errs)
	}
	reason := dto.Reason
	return s.mutate(ctx, id, plan.ActionReject, authz.ActionReject, 0, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		next, err := p.Reject(sc.actor.ID, reason, now)
		return next, reason, err
	})
}

// Revise reopens a REJECTED plan as a DRAFT for resubmission.
func (s *PlanService) Revise(ctx context.Context, id uuid.UUID, expectedVersion int) (plan.Plan, error) {
	return s.mutate(ctx, id, plan.ActionRevise, authz.ActionRevise, expectedVersion, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		next, err := p.Revise(sc.actor.ID, now)
		return next, "", err
	})
}

// Delete removes a DRAFT plan. expectedVersion of 0 skips the client version check.
func (s *PlanService) Delete(ctx context.Context, id uuid.UUID, expectedVersion int) (err error) {
	defer func() { recordOperation(string(plan.ActionDelete), err) }()

	sc, err := s.scope(ctx)
	if err != nil {
		return mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionDelete); err != nil {
		return mapError(err)
	}
	err = s.inTx(ctx, func(txCtx context.Context) error {
		current, err := s.load(txCtx, sc, id)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && expectedVersion != current.Version() {
			return plan.ErrConflictingEdit
		}
		if err := current.CheckDeletable(); err != nil {
			return err
		}
		if err := s.repo.Delete(txCtx, sc.tenantID, id, current.Version()); err != nil {
			return err
		}
		return s.record(txCtx, plan.ActionDelete, &current, current, sc, "")
	})
	if err != nil {
		return mapError(err)
	}
	s.invalidate(ctx, sc.tenantID, "delete")
	return nil
}

// EvaluateCompleteness scores the plan's current elements. Results are cached per tenant generation.
func (s *PlanService) EvaluateCompleteness(ctx context.Context, id uuid.UUID) (plan.Report, error) {
	sc, err := s.scope(ctx)
	if err != nil {
		return plan.Report{}, mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionRead); err != nil {
		return plan.Report{}, mapError(err)
	}

	gen, cacheable := s.cacheGeneration(ctx, sc.tenantID)
	if cacheable {
		if r, ok, err := s.cache.GetCompleteness(ctx, sc.tenantID, gen, id); err != nil {
			composables.UseLogger(ctx).WithError(err).Warn("compliance: completeness cache read failed")
		} else {
			recordCacheRequest(cacheNameCompleteness, ok)
			if ok {
				return r, nil
			}
		}
	}

	var p plan.Plan
	err = s.readTx(ctx, func(txCtx context.Context) error {
		p, err = s.load(txCtx, sc, id)
		return err
	})
	if err != nil {
		return plan.Report{}, mapError(err)
	}
	report := p.Completeness()
	if cacheable {
		if err := s.cache.SetCompleteness(ctx, sc.tenantID, gen, id, report); err != nil {
			composables.UseLogger(ctx).WithError(err).Warn("compliance: completeness cache write failed")
		}
	}
	return report, nil
}

// History returns the audit trail of a plan, oldest first. Entries outlive deleted plans.
func (s *PlanService) History(ctx context.Context, id uuid.UUID) ([]plan.AuditEntry, error) {
	sc, err := s.scope(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.authorize(ctx, sc, AuditAuthzObject, authz.ActionRead); err != nil {
		return nil, mapError(err)
	}
	var entries []plan.AuditEntry
	err = s.readTx(ctx, func(txCtx context.Context) error {
		if _, err := s.load(txCtx, sc, id); err != nil && !isNotFound(err) {
			return err
		}
		entries, err = s.audit.ListByPlan(txCtx, sc.tenantID, id)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(entries) == 0 {
		return nil, mapError(plan.ErrNotFound)
	}
	return entries, nil
}

// cacheGeneration reads the tenant generation that a cache fill must be written under.
// It reports false when the cache is unreachable, and the caller then bypasses it.
func (s *PlanService) cacheGeneration(ctx context.Context, tenantID uuid.UUID) (uint64, bool) {
	gen, err := s.cache.Generation(ctx, tenantID)
	if err != nil {
		composables.UseLogger(ctx).WithError(err).Warn("compliance: cache generation read failed")
		return 0, false
	}
	return gen, true
}

type mutateFn func(p plan.Plan, sc scope, now time.Time) (next plan.Plan, reason string, err error)

// mutate runs a read-modify-write of one plan in a single transaction.
// The write is conditional on the version read, so a concurrent writer turns into ErrConflictingEdit.
func (s *PlanService) mutate(ctx context.Context, id uuid.UUID, action plan.Action, authzAction authz.Action, expectedVersion int, fn mutateFn) (out plan.Plan, err error) {
	defer func() { recordOperation(string(action), err) }()

	sc, err := s.scope(ctx)
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authzAction); err != nil {
		return plan.Plan{}, mapError(err)
	}

	err = s.inTx(ctx, func(txCtx context.Context) error {
		current, err := s.load(txCtx, sc, id)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && expectedVersion != current.Version() {
			return plan.ErrConflictingEdit
		}
		next, reason, err := fn(current, sc, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, next, current.Version()); err != nil {
			return err
		}
		if err := s.record(txCtx, action, &current, next, sc, reason); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return plan.Plan{}, mapError(err)
	}
	s.invalidate(ctx, sc.tenantID, string(action))
	return out, nil
}

// record appends the audit entry and enqueues the change event in the current transaction.
func (s *PlanService) record(ctx context.Context, action plan.Action, before *plan.Plan, after plan.Plan, sc scope, reason string) error {
	requestID := composables.UseRequestID(ctx)
	if s.audit != nil {
		entry, err := buildAuditEntry(auditInput{
			action:    action,
			before:    before,
			after:     after,
			scope:     sc,
			requestID: requestID,
			reason:    reason,
		})
		if err != nil {
			return err
		}
		if action == plan.ActionDelete {
			entry.CreatedAt = s.now()
		}
		if err := s.audit.Append(ctx, entry); err != nil {
			return err
		}
	}

	if s.events == nil || skipped(ctx)&skipOutbox != 0 {
		return nil
	}
	ev := events.PlanEventV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		RequestID:       requestID,
		TenantID:        sc.tenantID,
		TransactionTime: s.now(),
		InitiatorID:     sc.actor.ID,
		ChangeType:      string(action),
		EntityType:      events.EntityTypePlan,
		EntityID:        after.ID(),
		EntityVersion:   int64(after.Version()),
		Status:          string(after.Status()),
		Completeness:    after.Completeness().CompletenessScore,
	}
	if before != nil {
		ev.PreviousStatus = string(before.Status())
	}
	return s.events.PublishPlanEvent(ctx, ev)
}

// InvalidateTenantCacheWithReason drops every cached read model of the tenant.
func (s *PlanService) InvalidateTenantCacheWithReason(ctx context.Context, tenantID uuid.UUID, reason string) {
	if tenantID == uuid.Nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		composables.UseLogger(ctx).WithError(err).WithField("tenant_id", tenantID).Warn("compliance: cache invalidation failed")
		return
	}
	recordCacheInvalidate(reason)
}

func (s *PlanService) invalidate(ctx context.Context, tenantID uuid.UUID, reason string) {
	if skipped(ctx)&skipCacheFlush != 0 {
		return
	}
	s.InvalidateTenantCacheWithReason(ctx, tenantID, reason)
}

func (s *PlanService) clampPage(params *plan.FindParams) {
	if params.Limit <= 0 {
		params.Limit = s.defaultPageSize
	}
	if params.Limit > s.maxPageSize {
		params.Limit = s.maxPageSize
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	switch params.SortBy {
	case plan.SortCreatedAt, plan.SortTitle, plan.SortUpdatedAt:
	default:
		params.SortBy = plan.SortUpdatedAt
		params.Desc = true
	}
}
