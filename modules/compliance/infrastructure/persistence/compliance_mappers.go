package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence/models"
)

func toDBPlan(p plan.Plan) (models.CompliancePlan, error) {
	s := p.Snapshot()
	elements, err := json.Marshal(s.Elements)
	if err != nil {
		return models.CompliancePlan{}, fmt.Errorf("marshal elements: %w", err)
	}
	return models.CompliancePlan{
		ID:              pgUUID(s.ID),
		OrganizationID:  pgUUID(s.OrganizationID),
		Title:           s.Title,
		Description:     s.Description,
		PlanType:        string(s.PlanType),
		Status:          string(s.Status),
		Version:         int32(s.Version),
		Elements:        elements,
		CreatedBy:       pgUUID(s.CreatedBy),
		UpdatedBy:       pgUUID(s.UpdatedBy),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		SubmittedAt:     pgTimestamptz(s.SubmittedAt),
		ApprovedAt:      pgTimestamptz(s.ApprovedAt),
		ApprovedBy:      pgUUIDPtr(s.ApprovedBy),
		RejectedAt:      pgTimestamptz(s.RejectedAt),
		RejectionReason: s.RejectionReason,
	}, nil
}

func toDomainPlan(row models.CompliancePlan) (plan.Plan, error) {
	var elements plan.Elements
	if len(row.Elements) > 0 {
		if err := json.Unmarshal(row.Elements, &elements); err != nil {
			return plan.Plan{}, fmt.Errorf("unmarshal elements: %w", err)
		}
	}
	status, err := plan.ParseStatus(row.Status)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.Hydrate(plan.Snapshot{
		ID:              asUUID(row.ID),
		OrganizationID:  asUUID(row.OrganizationID),
		Title:           row.Title,
		Description:     row.Description,
		PlanType:        plan.Type(row.PlanType),
		Version:         int(row.Version),
		Elements:        elements,
		Status:          status,
		CreatedBy:       asUUID(row.CreatedBy),
		UpdatedBy:       asUUID(row.UpdatedBy),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		SubmittedAt:     asTimePtr(row.SubmittedAt),
		ApprovedAt:      asTimePtr(row.ApprovedAt),
		ApprovedBy:      asUUIDPtr(row.ApprovedBy),
		RejectedAt:      asTimePtr(row.RejectedAt),
		RejectionReason: row.RejectionReason,
	}), nil
}

func toDBAudit(e plan.AuditEntry) (models.CompliancePlanAudit, error) {
	row := models.CompliancePlanAudit{
		ID:             pgUUID(e.ID),
		OrganizationID: pgUUID(e.OrganizationID),
		PlanID:         pgUUID(e.PlanID),
		Action:         string(e.Action),
		FromStatus:     string(e.FromStatus),
		ToStatus:       string(e.ToStatus),
		Version:        int32(e.Version),
		ActorID:        pgUUID(e.ActorID),
		ActorRole:      e.ActorRole,
		RequestID:      e.RequestID,
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt,
	}
	if len(e.Changes) > 0 {
		row.Changes = e.Changes
	}
	if len(e.TextDiffs) > 0 {
		b, err := json.Marshal(e.TextDiffs)
		if err != nil {
			return models.CompliancePlanAudit{}, fmt.Errorf("marshal text diffs: %w", err)
		}
		row.TextDiffs = b
	}
	return row, nil
}

func toDomainAudit(row models.CompliancePlanAudit) (plan.AuditEntry, error) {
	e := plan.AuditEntry{
		ID:             asUUID(row.ID),
		OrganizationID: asUUID(row.OrganizationID),
		PlanID:         asUUID(row.PlanID),
		Action:         plan.Action(row.Action),
		FromStatus:     plan.Status(row.FromStatus),
		ToStatus:       plan.Status(row.ToStatus),
		Version:        int(row.Version),
		ActorID:        asUUID(row.ActorID),
		ActorRole:      row.ActorRole,
		RequestID:      row.RequestID,
		Reason:         row.Reason,
		CreatedAt:      row.CreatedAt,
	}
	if len(row.Changes) > 0 {
		e.Changes = json.RawMessage(row.Changes)
	}
	if len(row.TextDiffs) > 0 {
		if err := json.Unmarshal(row.TextDiffs, &e.TextDiffs); err != nil {
			return plan.AuditEntry{}, fmt.Errorf("unmarshal text diffs: %w", err)
		}
	}
	return e, nil
}
