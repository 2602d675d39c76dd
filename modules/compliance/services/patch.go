package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/serrors"
)

// Patch applies an RFC 7386 merge patch to the editable document of a DRAFT plan.
// A null member clears the field; members outside the document are rejected.
func (s *PlanService) Patch(ctx context.Context, id uuid.UUID, expectedVersion int, mergePatch []byte) (plan.Plan, error) {
	if expectedVersion <= 0 {
		err := serrors.ValidationErrors{"version": serrors.NewFieldRequiredError("version", "Compliance.Fields.Version")}
		recordOperation(string(plan.ActionUpdate), mapError(err))
		return plan.Plan{}, mapError(err)
	}
	return s.mutate(ctx, id, plan.ActionUpdate, authz.ActionUpdate, expectedVersion, func(p plan.Plan, sc scope, now time.Time) (plan.Plan, string, error) {
		changes, err := mergeChanges(contentOf(p), mergePatch)
		if err != nil {
			return p, "", err
		}
		next, err := p.Update(changes, sc.actor.ID, now)
		return next, "", err
	})
}

func mergeChanges(current auditContent, mergePatch []byte) (plan.Changes, error) {
	doc, err := json.Marshal(current)
	if err != nil {
		return plan.Changes{}, err
	}
	merged, err := jsonpatch.MergePatch(doc, mergePatch)
	if err != nil {
		return plan.Changes{}, invalidPatch(err)
	}

	var out auditContent
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return plan.Changes{}, invalidPatch(err)
	}
	elements := plan.PatchFrom(out.Elements)
	return plan.Changes{
		Title:       &out.Title,
		Description: &out.Description,
		PlanType:    &out.PlanType,
		Elements:    &elements,
	}, nil
}

func invalidPatch(err error) error {
	return serrors.ValidationErrors{
		"patch": serrors.NewFieldInvalidError("patch", err.Error(), "Compliance.Fields.Patch"),
	}
}
