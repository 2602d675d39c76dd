package plan

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"

	// statusInReview is accepted on input as a synonym of SUBMITTED.
	statusInReview = "IN_REVIEW"
)

var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected}

func ParseStatus(v string) (Status, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	if s == statusInReview {
		return StatusSubmitted, nil
	}
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown plan status %q", v)
}

// Editable reports whether content changes are allowed.
func (s Status) Editable() bool {
	return s == StatusDraft
}

// Action names a lifecycle trigger.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevise  Action = "revise"
	ActionDelete  Action = "delete"
)

// targets maps each transition action to the state it requests.
var targets = map[Action]Status{
	ActionSubmit:  StatusSubmitted,
	ActionApprove: StatusApproved,
	ActionReject:  StatusRejected,
	ActionRevise:  StatusDraft,
}

var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionUpdate: StatusDraft,
		ActionSubmit: StatusSubmitted,
	},
	StatusSubmitted: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusRejected: {
		ActionRevise: StatusDraft,
	},
}

// Transition returns the state reached by applying action in from.
// Content edits and deletes outside DRAFT fail with ErrPlanLocked, every other illegal move with a *TransitionError.
func Transition(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	switch action {
	case ActionUpdate, ActionDelete:
		if from == StatusDraft {
			return from, nil
		}
		return "", lockedError(from)
	}
	to, ok := targets[action]
	if !ok {
		return "", fmt.Errorf("unknown plan action %q", action)
	}
	return "", &TransitionError{From: from, To: to, Action: action}
}

// CanTransition reports whether action is legal in from.
func CanTransition(from Status, action Action) bool {
	_, err := Transition(from, action)
	return err == nil
}

// AllowedActions lists the lifecycle actions available in s.
func AllowedActions(s Status) []Action {
	out := make([]Action, 0, 3)
	for _, a := range []Action{ActionUpdate, ActionSubmit, ActionApprove, ActionReject, ActionRevise, ActionDelete} {
		if CanTransition(s, a) {
			out = append(out, a)
		}
	}
	return out
}
