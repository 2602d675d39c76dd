package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence/models"
	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/repo"
)

const planColumns = `id, organization_id, title, description, plan_type, status, version, elements,
	created_by, updated_by, created_at, updated_at, submitted_at, approved_at, approved_by,
	rejected_at, rejection_reason`

var planSortColumns = map[plan.SortField]string{
	plan.SortUpdatedAt: "updated_at",
	plan.SortCreatedAt: "created_at",
	plan.SortTitle:     "title",
}

type PlanRepository struct{}

func NewPlanRepository() plan.Repository {
	return &PlanRepository{}
}

func (r *PlanRepository) GetPaginated(ctx context.Context, organizationID uuid.UUID, params *plan.FindParams) ([]plan.Plan, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	if params == nil {
		params = &plan.FindParams{}
	}

	where, args := buildPlanFilters(organizationID, params)
	whereSQL := strings.Join(where, " AND ")

	var total int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM compliance_plans WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}

	sortCol, ok := planSortColumns[params.SortBy]
	if !ok {
		sortCol = "updated_at"
	}
	dir := "ASC"
	if params.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM compliance_plans WHERE %s ORDER BY %s %s, id ASC %s`,
		planColumns, whereSQL, sortCol, dir, repo.FormatLimitOffset(params.Limit, params.Offset))

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []plan.Plan
	for rows.Next() {
		row, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		p, err := toDomainPlan(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id uuid.UUID) (plan.Plan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return plan.Plan{}, err
	}
	row, err := scanPlan(tx.QueryRow(ctx, `SELECT `+planColumns+` FROM compliance_plans WHERE id = $1`, pgUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return plan.Plan{}, plan.ErrNotFound
		}
		return plan.Plan{}, err
	}
	return toDomainPlan(row)
}

func (r *PlanRepository) Create(ctx context.Context, p plan.Plan) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row, err := toDBPlan(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO compliance_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		row.ID, row.OrganizationID, row.Title, row.Description, row.PlanType, row.Status, row.Version, row.Elements,
		row.CreatedBy, row.UpdatedBy, row.CreatedAt, row.UpdatedAt, row.SubmittedAt, row.ApprovedAt, row.ApprovedBy,
		row.RejectedAt, row.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// Update is a compare-and-swap on version. A miss is reported as ErrConflictingEdit when the row still exists.
func (r *PlanRepository) Update(ctx context.Context, p plan.Plan, expectedVersion int) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row, err := toDBPlan(p)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE compliance_plans SET
			title = $4, description = $5, plan_type = $6, status = $7, version = $8, elements = $9,
			updated_by = $10, updated_at = $11, submitted_at = $12, approved_at = $13, approved_by = $14,
			rejected_at = $15, rejection_reason = $16
		WHERE id = $1 AND organization_id = $2 AND version = $3`,
		row.ID, row.OrganizationID, int32(expectedVersion),
		row.Title, row.Description, row.PlanType, row.Status, row.Version, row.Elements,
		row.UpdatedBy, row.UpdatedAt, row.SubmittedAt, row.ApprovedAt, row.ApprovedBy,
		row.RejectedAt, row.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missReason(ctx, tx, p.OrganizationID(), p.ID())
}

func (r *PlanRepository) Delete(ctx context.Context, organizationID, id uuid.UUID, expectedVersion int) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM compliance_plans
		WHERE id = $1 AND organization_id = $2 AND version = $3 AND status = $4`,
		pgUUID(id), pgUUID(organizationID), int32(expectedVersion), string(plan.StatusDraft),
	)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missReason(ctx, tx, organizationID, id)
}

func (r *PlanRepository) missReason(ctx context.Context, tx repo.Tx, organizationID, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM compliance_plans WHERE id = $1 AND organization_id = $2)`,
		pgUUID(id), pgUUID(organizationID),
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return plan.ErrNotFound
	}
	return plan.ErrConflictingEdit
}

func buildPlanFilters(organizationID uuid.UUID, params *plan.FindParams) ([]string, []any) {
	where := []string{"organization_id = $1"}
	args := []any{pgUUID(organizationID)}
	argPos := 2

	if params.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(params.Status))
		argPos++
	}
	if params.PlanType != "" {
		where = append(where, fmt.Sprintf("plan_type = $%d", argPos))
		args = append(args, string(params.PlanType))
		argPos++
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+q+"%")
	}
	return where, args
}

func scanPlan(row pgx.Row) (models.CompliancePlan, error) {
	var m models.CompliancePlan
	err := row.Scan(
		&m.ID, &m.OrganizationID, &m.Title, &m.Description, &m.PlanType, &m.Status, &m.Version, &m.Elements,
		&m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt, &m.SubmittedAt, &m.ApprovedAt, &m.ApprovedBy,
		&m.RejectedAt, &m.RejectionReason,
	)
	return m, err
}
