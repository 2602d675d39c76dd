package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/serrors"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"transition", &plan.TransitionError{From: plan.StatusDraft, To: plan.StatusApproved, Action: plan.ActionApprove}, http.StatusConflict, CodeInvalidStateTransition},
		{"locked", fmt.Errorf("%w: status is SUBMITTED", plan.ErrPlanLocked), http.StatusConflict, CodePlanLocked},
		{"incomplete", &plan.IncompleteError{Report: plan.Report{CompletenessScore: 50}}, http.StatusUnprocessableEntity, CodeIncompletePlan},
		{"conflict", plan.ErrConflictingEdit, http.StatusConflict, CodeConflictingEdit},
		{"not found", plan.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"forbidden", plan.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{"authz", authz.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{"no tenant", composables.ErrNoTenantID, http.StatusForbidden, CodeForbidden},
		{"validation", serrors.ValidationErrors{"title": serrors.NewFieldRequiredError("title", "")}, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"no rows", pgx.ErrNoRows, http.StatusNotFound, CodeNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, http.StatusConflict, CodeConflictingEdit},
		{"serialization", &pgconn.PgError{Code: "40001"}, http.StatusConflict, CodeConflictingEdit},
		{"check", &pgconn.PgError{Code: "23514"}, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"rls", &pgconn.PgError{Code: "42501"}, http.StatusForbidden, CodeForbidden},
		{"other pg", &pgconn.PgError{Code: "XX000"}, http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireServiceError(t, mapError(tc.err), tc.status, tc.code)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	require.NoError(t, mapError(nil))

	plain := errors.New("boom")
	require.Same(t, plain, mapError(plain))

	svcErr := newServiceError(http.StatusTeapot, "X", "x", nil)
	require.Same(t, svcErr, mapError(fmt.Errorf("wrapped: %w", svcErr)).(*ServiceError))
}
