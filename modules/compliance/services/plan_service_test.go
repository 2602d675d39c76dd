package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

func requireServiceError(t *testing.T, err error, status int, code string) *ServiceError {
	t.Helper()
	require.Error(t, err)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %T: %v", err, err)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
	return svcErr
}

func createPlan(t *testing.T, h *harness, ctx context.Context, elements *plan.Elements) plan.Plan {
	t.Helper()
	p, err := h.svc.Create(ctx, &plan.CreateDTO{Title: "Township DWSP", Description: "Supply zone A", Elements: elements})
	require.NoError(t, err)
	return p
}

func TestPlanService_CreateStartsDraftAtVersionOne(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	ctx := tenantCtx(tenantID, "operator")

	p := createPlan(t, h, ctx, &plan.Elements{WaterSupplyDescription: "Bore field"})
	require.Equal(t, plan.StatusDraft, p.Status())
	require.Equal(t, 1, p.Version())
	require.Equal(t, tenantID, p.OrganizationID())
	require.Equal(t, plan.TypeDWSP, p.PlanType())

	report, err := h.svc.EvaluateCompleteness(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, 8, report.CompletenessScore)
	require.Len(t, report.MissingElements, 11)

	evs := h.publisher.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "create", evs[0].ChangeType)
	assert.Equal(t, tenantID, evs[0].TenantID)
	assert.EqualValues(t, 1, evs[0].EntityVersion)
	assert.Empty(t, evs[0].PreviousStatus)

	history, err := h.svc.History(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, plan.ActionCreate, history[0].Action)
	assert.NotEmpty(t, history[0].Changes)
}

func TestPlanService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")

	_, err := h.svc.Create(ctx, &plan.CreateDTO{Title: "   "})
	svcErr := requireServiceError(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)
	fields, ok := svcErr.Details["fields"].(map[string]string)
	require.True(t, ok)
	require.Contains(t, fields, "title")
	require.Zero(t, h.repo.calls.Load())
}

func TestPlanService_UpdateBumpsVersion(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	risk := "Hazard register reviewed"
	updated, err := h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{
		Version:  1,
		Elements: &plan.ElementsPatch{RiskAssessment: &risk},
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version())
	require.Equal(t, plan.StatusDraft, updated.Status())
	require.Equal(t, risk, updated.Elements().RiskAssessment)
	require.True(t, updated.UpdatedAt().After(p.UpdatedAt()))

	history, err := h.svc.History(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Contains(t, history[1].TextDiffs, "riskAssessment")
}

func TestPlanService_StaleVersionIsConflictingEdit(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	title := "Renamed"
	_, err := h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 1, Title: &title})
	require.NoError(t, err)

	_, err = h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 1, Title: &title})
	requireServiceError(t, err, http.StatusConflict, CodeConflictingEdit)
	require.ErrorIs(t, err, plan.ErrConflictingEdit)
}

func TestPlanService_ConcurrentUpdatesExactlyOneConflict(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	for v := 1; v <= 2; v++ {
		title := "Revision"
		_, err := h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: v, Title: &title})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			desc := "writer"
			_, results[i] = h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 3, Description: &desc})
		}(i)
	}
	wg.Wait()

	var conflicts, ok int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, plan.ErrConflictingEdit)
		conflicts++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)

	got, err := h.svc.Get(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, 4, got.Version())
}

func TestPlanService_CrossTenantIsForbidden(t *testing.T) {
	h := newHarness(t)
	owner := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, owner, nil)
	other := tenantCtx(uuid.New(), "system_admin")

	_, err := h.svc.Get(other, p.ID())
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	title := "hijack"
	_, err = h.svc.Update(other, p.ID(), &plan.UpdateDTO{Version: 1, Title: &title})
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	_, err = h.svc.Submit(other, p.ID(), 0)
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	_, err = h.svc.EvaluateCompleteness(other, p.ID())
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	err = h.svc.Delete(other, p.ID(), 0)
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	page, err := h.svc.List(other, nil)
	require.NoError(t, err)
	require.Zero(t, page.Total)

	got, err := h.svc.Get(owner, p.ID())
	require.NoError(t, err)
	require.Equal(t, 1, got.Version())
}

func TestPlanService_MissingIdentityIsForbidden(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.List(context.Background(), nil)
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)
	require.Zero(t, h.repo.calls.Load())
}

func TestPlanService_AuthorizationDeniedSkipsRepository(t *testing.T) {
	h := newHarness(t, func(o *PlanServiceOptions) { o.Authorizer = denyAll{} })
	ctx := tenantCtx(uuid.New(), "auditor")

	_, err := h.svc.Create(ctx, &plan.CreateDTO{Title: "Plan"})
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)
	_, err = h.svc.Approve(ctx, uuid.New(), uuid.Nil)
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)
	_, err = h.svc.History(ctx, uuid.New())
	requireServiceError(t, err, http.StatusForbidden, CodeForbidden)

	require.Zero(t, h.repo.calls.Load())
	require.Empty(t, h.publisher.all())
}

func TestPlanService_SubmittedPlanIsLocked(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	res, err := h.svc.Submit(ctx, p.ID(), 1)
	require.NoError(t, err)
	require.Equal(t, plan.StatusSubmitted, res.Plan.Status())
	require.Equal(t, 2, res.Plan.Version())

	title := "late edit"
	_, err = h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 2, Title: &title})
	requireServiceError(t, err, http.StatusConflict, CodePlanLocked)
	require.ErrorIs(t, err, plan.ErrPlanLocked)

	err = h.svc.Delete(ctx, p.ID(), 0)
	requireServiceError(t, err, http.StatusConflict, CodePlanLocked)
}

func TestPlanService_SubmitAdvisoryPolicyWarns(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, &plan.Elements{WaterSupplyDescription: "Bore"})

	res, err := h.svc.Submit(ctx, p.ID(), 0)
	require.NoError(t, err)
	require.True(t, res.Warning)
	require.Equal(t, 8, res.Report.CompletenessScore)
	require.Equal(t, plan.StatusSubmitted, res.Plan.Status())

	evs := h.publisher.all()
	require.Len(t, evs, 2)
	require.Equal(t, "submit", evs[1].ChangeType)
	require.Equal(t, "DRAFT", evs[1].PreviousStatus)
	require.Equal(t, "SUBMITTED", evs[1].Status)
}

func TestPlanService_SubmitEnforcePolicyRejectsIncomplete(t *testing.T) {
	h := newHarness(t, func(o *PlanServiceOptions) {
		o.Policy = SubmitPolicy{Enforce: true, MinCompleteness: 100}
	})
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, &plan.Elements{WaterSupplyDescription: "Bore"})

	_, err := h.svc.Submit(ctx, p.ID(), 1)
	svcErr := requireServiceError(t, err, http.StatusUnprocessableEntity, CodeIncompletePlan)
	require.ErrorIs(t, err, plan.ErrIncompletePlan)
	require.Equal(t, 8, svcErr.Details["completenessScore"])
	missing, ok := svcErr.Details["missingElements"].([]string)
	require.True(t, ok)
	require.Len(t, missing, 11)
	require.Equal(t, "Hazard Identification", missing[0])

	got, err := h.svc.Get(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, plan.StatusDraft, got.Status())
	require.Equal(t, 1, got.Version())

	complete := createPlan(t, h, ctx, fullElements())
	res, err := h.svc.Submit(ctx, complete.ID(), 1)
	require.NoError(t, err)
	require.False(t, res.Warning)
	require.Equal(t, 100, res.Report.CompletenessScore)
}

func TestPlanService_ApproveAndRejectLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "compliance_manager")
	p := createPlan(t, h, ctx, fullElements())

	_, err := h.svc.Approve(ctx, p.ID(), uuid.Nil)
	requireServiceError(t, err, http.StatusConflict, CodeInvalidStateTransition)
	require.ErrorIs(t, err, plan.ErrInvalidStateTransition)

	_, err = h.svc.Submit(ctx, p.ID(), 0)
	require.NoError(t, err)

	_, err = h.svc.Reject(ctx, p.ID(), &plan.RejectDTO{Reason: "  "})
	requireServiceError(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)

	rejected, err := h.svc.Reject(ctx, p.ID(), &plan.RejectDTO{Reason: "Emergency response incomplete"})
	require.NoError(t, err)
	require.Equal(t, plan.StatusRejected, rejected.Status())
	require.Equal(t, "Emergency response incomplete", rejected.RejectionReason())
	require.Equal(t, 3, rejected.Version())

	_, err = h.svc.Approve(ctx, p.ID(), uuid.Nil)
	requireServiceError(t, err, http.StatusConflict, CodeInvalidStateTransition)

	revised, err := h.svc.Revise(ctx, p.ID(), 3)
	require.NoError(t, err)
	require.Equal(t, plan.StatusDraft, revised.Status())
	require.Empty(t, revised.RejectionReason())
	require.Equal(t, 4, revised.Version())

	_, err = h.svc.Submit(ctx, p.ID(), 4)
	require.NoError(t, err)

	reviewer := uuid.New()
	approved, err := h.svc.Approve(ctx, p.ID(), reviewer)
	require.NoError(t, err)
	require.Equal(t, plan.StatusApproved, approved.Status())
	require.NotNil(t, approved.ApprovedBy())
	require.Equal(t, reviewer, *approved.ApprovedBy())
	require.Equal(t, 6, approved.Version())

	_, err = h.svc.Reject(ctx, p.ID(), &plan.RejectDTO{Reason: "too late"})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidStateTransition)

	history, err := h.svc.History(ctx, p.ID())
	require.NoError(t, err)
	actions := make([]plan.Action, 0, len(history))
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []plan.Action{
		plan.ActionCreate, plan.ActionSubmit, plan.ActionReject, plan.ActionRevise, plan.ActionSubmit, plan.ActionApprove,
	}, actions)
	require.Equal(t, "Emergency response incomplete", history[2].Reason)
}

func TestPlanService_DeleteDraftKeepsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	requireServiceError(t, h.svc.Delete(ctx, p.ID(), 9), http.StatusConflict, CodeConflictingEdit)
	require.NoError(t, h.svc.Delete(ctx, p.ID(), 1))

	_, err := h.svc.Get(ctx, p.ID())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)

	history, err := h.svc.History(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, plan.ActionDelete, history[1].Action)

	_, err = h.svc.History(tenantCtx(uuid.New(), "auditor"), p.ID())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestPlanService_UnknownPlanIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")

	_, err := h.svc.Get(ctx, uuid.New())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
	_, err = h.svc.Submit(ctx, uuid.New(), 0)
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
	_, err = h.svc.EvaluateCompleteness(ctx, uuid.New())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestPlanService_ListIsCachedAndInvalidatedOnWrite(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	createPlan(t, h, ctx, nil)

	page, err := h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	before := h.repo.calls.Load()
	_, err = h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	require.Equal(t, before, h.repo.calls.Load(), "second list should be served from cache")

	createPlan(t, h, ctx, nil)
	page, err = h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
}

func TestPlanService_CompletenessCacheInvalidatedOnUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	report, err := h.svc.EvaluateCompleteness(ctx, p.ID())
	require.NoError(t, err)
	require.Zero(t, report.CompletenessScore)

	wsd := "River intake"
	_, err = h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 1, Elements: &plan.ElementsPatch{WaterSupplyDescription: &wsd}})
	require.NoError(t, err)

	report, err = h.svc.EvaluateCompleteness(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, 8, report.CompletenessScore)
}

func TestPlanService_CompletenessFillRacingUpdateIsNotServed(t *testing.T) {
	repo := newPausingRepo()
	h := newHarness(t, func(o *PlanServiceOptions) { o.Repo = repo })
	ctx := tenantCtx(uuid.New(), "operator")
	p := createPlan(t, h, ctx, nil)

	type result struct {
		report plan.Report
		err    error
	}
	stale := make(chan result, 1)
	repo.armed.Store(true)
	go func() {
		r, err := h.svc.EvaluateCompleteness(ctx, p.ID())
		stale <- result{r, err}
	}()
	<-repo.loaded

	wsd := "River intake"
	updated, err := h.svc.Update(ctx, p.ID(), &plan.UpdateDTO{Version: 1, Elements: &plan.ElementsPatch{WaterSupplyDescription: &wsd}})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version())
	close(repo.resume)

	got := <-stale
	require.NoError(t, got.err)
	require.Zero(t, got.report.CompletenessScore)

	report, err := h.svc.EvaluateCompleteness(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, 8, report.CompletenessScore)
}

func TestPlanService_ReadsRunInTenantReadTx(t *testing.T) {
	reads := &countingTx{}
	h := newHarness(t, func(o *PlanServiceOptions) { o.ReadTx = reads.run })
	ctx := tenantCtx(uuid.New(), "compliance_manager")
	p := createPlan(t, h, ctx, nil)
	require.Zero(t, reads.runs.Load(), "writes use InTx")

	_, err := h.svc.Get(ctx, p.ID())
	require.NoError(t, err)
	_, err = h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	_, err = h.svc.EvaluateCompleteness(ctx, p.ID())
	require.NoError(t, err)
	_, err = h.svc.History(ctx, p.ID())
	require.NoError(t, err)
	require.NoError(t, h.svc.Export(ctx, &plan.FindParams{}, io.Discard))
	require.EqualValues(t, 5, reads.runs.Load())

	_, err = h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	require.EqualValues(t, 5, reads.runs.Load(), "cached list skips the store")
}

func TestPlanService_ListClampsPageSize(t *testing.T) {
	h := newHarness(t, func(o *PlanServiceOptions) {
		o.DefaultPageSize = 2
		o.MaxPageSize = 3
	})
	ctx := tenantCtx(uuid.New(), "operator")
	for range 5 {
		createPlan(t, h, ctx, nil)
	}

	page, err := h.svc.List(ctx, &plan.FindParams{})
	require.NoError(t, err)
	require.EqualValues(t, 5, page.Total)
	require.Len(t, page.Items, 2)

	page, err = h.svc.List(ctx, &plan.FindParams{Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
}

func TestPlanService_SkipOutboxEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := WithSkipOutboxEnqueue(tenantCtx(uuid.New(), "operator"))
	createPlan(t, h, ctx, nil)
	require.Empty(t, h.publisher.all())
}

func TestWriteSideEffects_Combine(t *testing.T) {
	ctx := WithSkipOutboxEnqueue(WithSkipCacheInvalidation(context.Background()))
	require.Equal(t, skipCacheFlush|skipOutbox, skipped(ctx))
	require.Zero(t, skipped(context.Background()))
}
