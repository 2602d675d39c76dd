package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence/models"
	"github.com/nzwater/compliance-core/pkg/composables"
)

// AuditRepository appends to compliance_plan_audit. Rows are never updated; only retention purges delete them.
type AuditRepository struct{}

func NewAuditRepository() plan.AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, e plan.AuditEntry) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row, err := toDBAudit(e)
	if err != nil {
		return err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO compliance_plan_audit (
			id, organization_id, plan_id, action, from_status, to_status, version,
			actor_id, actor_role, request_id, reason, changes, text_diffs, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.ID, row.OrganizationID, row.PlanID, row.Action, row.FromStatus, row.ToStatus, row.Version,
		row.ActorID, row.ActorRole, row.RequestID, row.Reason, row.Changes, row.TextDiffs, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append plan audit: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByPlan(ctx context.Context, organizationID, planID uuid.UUID) ([]plan.AuditEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, organization_id, plan_id, action, from_status, to_status, version,
		       actor_id, actor_role, request_id, reason, changes, text_diffs, created_at
		FROM compliance_plan_audit
		WHERE organization_id = $1 AND plan_id = $2
		ORDER BY created_at ASC, version ASC`,
		pgUUID(organizationID), pgUUID(planID),
	)
	if err != nil {
		return nil, fmt.Errorf("list plan audit: %w", err)
	}
	defer rows.Close()

	var out []plan.AuditEntry
	for rows.Next() {
		var m models.CompliancePlanAudit
		if err := rows.Scan(
			&m.ID, &m.OrganizationID, &m.PlanID, &m.Action, &m.FromStatus, &m.ToStatus, &m.Version,
			&m.ActorID, &m.ActorRole, &m.RequestID, &m.Reason, &m.Changes, &m.TextDiffs, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		e, err := toDomainAudit(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM compliance_plan_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge plan audit: %w", err)
	}
	return tag.RowsAffected(), nil
}
