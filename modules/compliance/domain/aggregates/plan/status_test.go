package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransition_Table(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusDraft, ActionUpdate, StatusDraft},
		{StatusDraft, ActionSubmit, StatusSubmitted},
		{StatusSubmitted, ActionApprove, StatusApproved},
		{StatusSubmitted, ActionReject, StatusRejected},
		{StatusRejected, ActionRevise, StatusDraft},
		{StatusDraft, ActionDelete, StatusDraft},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.action)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.action)
		require.Equal(t, tc.to, got)
	}
}

func TestTransition_Illegal(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusSubmitted, ActionSubmit, StatusSubmitted},
		{StatusApproved, ActionSubmit, StatusSubmitted},
		{StatusRejected, ActionSubmit, StatusSubmitted},
		{StatusDraft, ActionApprove, StatusApproved},
		{StatusDraft, ActionReject, StatusRejected},
		{StatusRejected, ActionApprove, StatusApproved},
		{StatusApproved, ActionReject, StatusRejected},
		{StatusDraft, ActionRevise, StatusDraft},
		{StatusApproved, ActionRevise, StatusDraft},
	}
	for _, tc := range cases {
		_, err := Transition(tc.from, tc.action)
		require.ErrorIs(t, err, ErrInvalidStateTransition, "%s --%s-->", tc.from, tc.action)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		require.Equal(t, tc.from, te.From)
		require.Equal(t, tc.to, te.To)
		require.Contains(t, te.Error(), string(tc.from))
		require.Contains(t, te.Error(), string(tc.to))
	}
}

func TestTransition_EditsOutsideDraftAreLocked(t *testing.T) {
	for _, s := range []Status{StatusSubmitted, StatusApproved, StatusRejected} {
		_, err := Transition(s, ActionUpdate)
		require.ErrorIs(t, err, ErrPlanLocked)
		_, err = Transition(s, ActionDelete)
		require.ErrorIs(t, err, ErrPlanLocked)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in_review")
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, s)

	s, err = ParseStatus(" approved ")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, s)

	_, err = ParseStatus("archived")
	require.Error(t, err)
}

func TestAllowedActions(t *testing.T) {
	require.Equal(t, []Action{ActionUpdate, ActionSubmit, ActionDelete}, AllowedActions(StatusDraft))
	require.Equal(t, []Action{ActionApprove, ActionReject}, AllowedActions(StatusSubmitted))
	require.Equal(t, []Action{ActionRevise}, AllowedActions(StatusRejected))
	require.Empty(t, AllowedActions(StatusApproved))
}
