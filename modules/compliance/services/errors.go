package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/serrors"
)

const (
	CodeInvalidStateTransition = "COMPLIANCE_INVALID_STATE_TRANSITION"
	CodePlanLocked             = "COMPLIANCE_PLAN_LOCKED"
	CodeIncompletePlan         = "COMPLIANCE_INCOMPLETE_PLAN"
	CodeConflictingEdit        = "COMPLIANCE_CONFLICTING_EDIT"
	CodeNotFound               = "COMPLIANCE_NOT_FOUND"
	CodeForbidden              = "COMPLIANCE_FORBIDDEN"
	CodeValidationFailed       = "COMPLIANCE_VALIDATION_FAILED"
	CodeInternal               = "COMPLIANCE_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
	// Details carries structured context for the response body (missing elements, field errors).
	Details map[string]any
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// mapError translates domain, authorization and storage errors into a *ServiceError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	var verrs serrors.ValidationErrors
	var transitionErr *plan.TransitionError
	var incompleteErr *plan.IncompleteError
	switch {
	case errors.As(err, &verrs):
		e := newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed, "validation failed", err)
		e.Details = map[string]any{"fields": verrs.Messages()}
		return e
	case errors.As(err, &transitionErr):
		e := newServiceError(http.StatusConflict, CodeInvalidStateTransition, transitionErr.Error(), err)
		e.Details = map[string]any{"from": transitionErr.From, "to": transitionErr.To}
		return e
	case errors.As(err, &incompleteErr):
		e := newServiceError(http.StatusUnprocessableEntity, CodeIncompletePlan, "plan is incomplete", err)
		e.Details = map[string]any{
			"completenessScore": incompleteErr.Report.CompletenessScore,
			"missingElements":   incompleteErr.Report.MissingElements,
		}
		return e
	case errors.Is(err, plan.ErrPlanLocked):
		return newServiceError(http.StatusConflict, CodePlanLocked, "plan is locked for editing", err)
	case errors.Is(err, plan.ErrConflictingEdit):
		recordWriteConflict("version")
		return newServiceError(http.StatusConflict, CodeConflictingEdit, "plan was modified by another request; reload and retry", err)
	case errors.Is(err, plan.ErrNotFound):
		return newServiceError(http.StatusNotFound, CodeNotFound, "plan not found", err)
	case errors.Is(err, plan.ErrForbidden),
		errors.Is(err, authz.ErrForbidden),
		errors.Is(err, composables.ErrNoTenantID),
		errors.Is(err, composables.ErrNoActor):
		return newServiceError(http.StatusForbidden, CodeForbidden, "forbidden", err)
	}
	return mapPgErrorToServiceError(err)
}

// validationError wraps DTO field messages as a ValidationFailed service error.
func validationError(fields map[string]string) error {
	e := newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed, "validation failed", nil)
	e.Details = map[string]any{"fields": fields}
	return e
}

func isNotFound(err error) bool {
	return errors.Is(err, plan.ErrNotFound)
}
