package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/pkg/composables"
)

func TestContentPatch(t *testing.T) {
	before := auditContent{Title: "A", PlanType: plan.TypeDWSP}
	after := auditContent{Title: "B", PlanType: plan.TypeDWSP, Elements: plan.Elements{RiskAssessment: "x"}}

	patch, err := contentPatch(before, after)
	require.NoError(t, err)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal(patch, &ops))
	paths := make([]string, 0, len(ops))
	for _, op := range ops {
		paths = append(paths, op["path"].(string))
	}
	require.ElementsMatch(t, []string{"/title", "/elements/riskAssessment"}, paths)

	same, err := contentPatch(before, before)
	require.NoError(t, err)
	require.Nil(t, same)
}

func TestElementTextDiffs(t *testing.T) {
	before := plan.Elements{HazardIdentification: "Floods affect the intake"}
	after := plan.Elements{HazardIdentification: "Floods and droughts affect the intake", ReviewProcedures: "Annual"}

	diffs := elementTextDiffs(before, after)
	require.Len(t, diffs, 2)
	require.Contains(t, diffs["hazardIdentification"], "and droughts")
	require.Contains(t, diffs["reviewProcedures"], "Annual")
	require.Nil(t, elementTextDiffs(before, before))
}

func TestBuildAuditEntry_Transition(t *testing.T) {
	orgID := uuid.New()
	actor := composables.Actor{ID: uuid.New(), Role: "compliance_manager"}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p, err := plan.New(orgID, actor.ID, "Plan", "", plan.TypeDWSP, plan.Elements{}, now)
	require.NoError(t, err)
	submitted, err := p.Submit(actor.ID, now.Add(time.Hour))
	require.NoError(t, err)

	entry, err := buildAuditEntry(auditInput{
		action:    plan.ActionSubmit,
		before:    &p,
		after:     submitted,
		scope:     scope{tenantID: orgID, actor: actor},
		requestID: "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, plan.StatusDraft, entry.FromStatus)
	require.Equal(t, plan.StatusSubmitted, entry.ToStatus)
	require.Equal(t, 2, entry.Version)
	require.Equal(t, "compliance_manager", entry.ActorRole)
	require.Equal(t, "req-1", entry.RequestID)
	require.Nil(t, entry.Changes)
	require.Nil(t, entry.TextDiffs)
	require.Equal(t, now.Add(time.Hour), entry.CreatedAt)
}
