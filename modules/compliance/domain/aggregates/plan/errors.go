package plan

import (
	"fmt"
	"strings"

	"github.com/nzwater/compliance-core/pkg/serrors"
)

var (
	ErrInvalidStateTransition = serrors.NewError("COMPLIANCE_INVALID_STATE_TRANSITION", "invalid state transition", "Compliance.Errors.InvalidStateTransition")
	ErrPlanLocked             = serrors.NewError("COMPLIANCE_PLAN_LOCKED", "plan is locked for editing", "Compliance.Errors.PlanLocked")
	ErrIncompletePlan         = serrors.NewError("COMPLIANCE_INCOMPLETE_PLAN", "plan is incomplete", "Compliance.Errors.IncompletePlan")
	ErrConflictingEdit        = serrors.NewError("COMPLIANCE_CONFLICTING_EDIT", "plan was modified concurrently", "Compliance.Errors.ConflictingEdit")
	ErrNotFound               = serrors.NewError("COMPLIANCE_NOT_FOUND", "plan not found", "Compliance.Errors.NotFound")
	ErrForbidden              = serrors.NewError("COMPLIANCE_FORBIDDEN", "access to plan is forbidden", "Compliance.Errors.Forbidden")
)

// TransitionError names the current and requested states of a rejected transition.
type TransitionError struct {
	From   Status
	To     Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s plan from %s to %s", e.Action, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// IncompleteError lists the missing elements that blocked a submission.
type IncompleteError struct {
	Report Report
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("plan is incomplete (score %d): missing %s",
		e.Report.CompletenessScore, strings.Join(e.Report.MissingElements, ", "))
}

func (e *IncompleteError) Unwrap() error { return ErrIncompletePlan }

func lockedError(s Status) error {
	return fmt.Errorf("%w: status is %s", ErrPlanLocked, s)
}
