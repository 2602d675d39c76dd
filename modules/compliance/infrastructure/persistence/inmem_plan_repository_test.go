package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

func newPlan(t *testing.T, orgID uuid.UUID, title string, at time.Time) plan.Plan {
	t.Helper()
	p, err := plan.New(orgID, uuid.New(), title, "", plan.TypeDWSP, plan.Elements{}, at)
	require.NoError(t, err)
	return p
}

func TestInmemPlanRepository_UpdateIsVersionGuarded(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemPlanRepository()
	orgID := uuid.New()
	p := newPlan(t, orgID, "Plan", time.Now())
	require.NoError(t, repo.Create(ctx, p))

	title := "Renamed"
	next, err := p.Update(plan.Changes{Title: &title}, uuid.New(), time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, next, 1))
	require.ErrorIs(t, repo.Update(ctx, next, 1), plan.ErrConflictingEdit)

	stored, err := repo.GetByID(ctx, p.ID())
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version())
	require.Equal(t, "Renamed", stored.Title())
}

func TestInmemPlanRepository_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemPlanRepository()
	p := newPlan(t, uuid.New(), "Plan", time.Now())
	require.NoError(t, repo.Create(ctx, p))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "Writer"
			next, err := p.Update(plan.Changes{Title: &title}, uuid.New(), time.Now().Add(time.Duration(i)))
			if err != nil {
				errs <- err
				return
			}
			errs <- repo.Update(ctx, next, p.Version())
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, plan.ErrConflictingEdit)
			conflicts++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, writers-1, conflicts)
}

func TestInmemPlanRepository_MissingPlan(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemPlanRepository()
	p := newPlan(t, uuid.New(), "Plan", time.Now())

	_, err := repo.GetByID(ctx, p.ID())
	require.ErrorIs(t, err, plan.ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, p, 1), plan.ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, p.OrganizationID(), p.ID(), 1), plan.ErrNotFound)
}

func TestInmemPlanRepository_DeleteRequiresDraftAndVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemPlanRepository()
	p := newPlan(t, uuid.New(), "Plan", time.Now())
	require.NoError(t, repo.Create(ctx, p))

	require.ErrorIs(t, repo.Delete(ctx, p.OrganizationID(), p.ID(), 7), plan.ErrConflictingEdit)
	require.ErrorIs(t, repo.Delete(ctx, uuid.New(), p.ID(), 1), plan.ErrConflictingEdit)
	require.NoError(t, repo.Delete(ctx, p.OrganizationID(), p.ID(), 1))
}

func TestInmemPlanRepository_GetPaginatedIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemPlanRepository()
	orgA, orgB := uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, title := range []string{"Alpha", "Bravo", "Charlie"} {
		require.NoError(t, repo.Create(ctx, newPlan(t, orgA, title, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.Create(ctx, newPlan(t, orgB, "Other tenant", base)))

	items, total, err := repo.GetPaginated(ctx, orgA, &plan.FindParams{SortBy: plan.SortTitle, Limit: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, items, 2)
	require.Equal(t, "Alpha", items[0].Title())
	require.Equal(t, "Bravo", items[1].Title())

	items, _, err = repo.GetPaginated(ctx, orgA, &plan.FindParams{SortBy: plan.SortUpdatedAt, Desc: true, Offset: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Alpha", items[0].Title())

	items, total, err = repo.GetPaginated(ctx, orgA, &plan.FindParams{Q: "char"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "Charlie", items[0].Title())
}

func TestInmemAuditRepository_PurgeBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewInmemAuditRepository()
	orgID, planID := uuid.New(), uuid.New()
	now := time.Now()

	require.NoError(t, repo.Append(ctx, plan.AuditEntry{ID: uuid.New(), OrganizationID: orgID, PlanID: planID, CreatedAt: now.AddDate(-8, 0, 0)}))
	require.NoError(t, repo.Append(ctx, plan.AuditEntry{ID: uuid.New(), OrganizationID: orgID, PlanID: planID, CreatedAt: now}))
	require.NoError(t, repo.Append(ctx, plan.AuditEntry{ID: uuid.New(), OrganizationID: uuid.New(), PlanID: planID, CreatedAt: now}))

	n, err := repo.PurgeBefore(ctx, now.AddDate(-7, 0, 0))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	entries, err := repo.ListByPlan(ctx, orgID, planID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
