package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/wI2L/jsondiff"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

// auditContent is the part of a plan whose changes are recorded in the audit log.
type auditContent struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	PlanType    plan.Type     `json:"planType"`
	Elements    plan.Elements `json:"elements"`
}

func contentOf(p plan.Plan) auditContent {
	return auditContent{
		Title:       p.Title(),
		Description: p.Description(),
		PlanType:    p.PlanType(),
		Elements:    p.Elements(),
	}
}

// contentPatch returns an RFC 6902 patch from before to after, or nil when nothing changed.
func contentPatch(before, after auditContent) (json.RawMessage, error) {
	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil, fmt.Errorf("audit: diff content: %w", err)
	}
	if len(patch) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal patch: %w", err)
	}
	return b, nil
}

// elementTextDiffs returns a unified text patch per changed element, keyed by element key.
func elementTextDiffs(before, after plan.Elements) map[string]string {
	dmp := diffmatchpatch.New()
	prev := before.Values()
	next := after.Values()
	out := make(map[string]string)
	for i := range prev {
		if prev[i] == next[i] {
			continue
		}
		diffs := dmp.DiffMain(prev[i], next[i], false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		out[plan.Canonical[i].Key] = dmp.PatchToText(dmp.PatchMake(prev[i], diffs))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type auditInput struct {
	action    plan.Action
	before    *plan.Plan
	after     plan.Plan
	scope     scope
	requestID string
	reason    string
}

func buildAuditEntry(in auditInput) (plan.AuditEntry, error) {
	entry := plan.AuditEntry{
		ID:             uuid.New(),
		OrganizationID: in.after.OrganizationID(),
		PlanID:         in.after.ID(),
		Action:         in.action,
		ToStatus:       in.after.Status(),
		Version:        in.after.Version(),
		ActorID:        in.scope.actor.ID,
		ActorRole:      in.scope.actor.Role,
		RequestID:      in.requestID,
		Reason:         in.reason,
		CreatedAt:      in.after.UpdatedAt(),
	}

	var before auditContent
	if in.before != nil {
		entry.FromStatus = in.before.Status()
		before = contentOf(*in.before)
	}
	after := contentOf(in.after)
	if in.action == plan.ActionDelete {
		after = auditContent{}
	}

	patch, err := contentPatch(before, after)
	if err != nil {
		return plan.AuditEntry{}, err
	}
	entry.Changes = patch
	entry.TextDiffs = elementTextDiffs(before.Elements, after.Elements)
	return entry, nil
}
