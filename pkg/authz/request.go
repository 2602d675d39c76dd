package authz

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Object names a protected resource, e.g. "compliance.plans".
type Object string

// Action is a policy verb. Policies may grant "*" to allow every action on an object.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevise  Action = "revise"
	ActionExport  Action = "export"
)

// Request asks whether Role may perform Action on Object within Tenant.
type Request struct {
	Role    string
	Tenant  uuid.UUID
	ActorID uuid.UUID
	Object  Object
	Action  Action
}

func (r Request) subject() string {
	role := strings.ToLower(strings.TrimSpace(r.Role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

func (r Request) domain() string {
	if r.Tenant == uuid.Nil {
		return "global"
	}
	return r.Tenant.String()
}

func (r Request) action() string {
	return strings.ToLower(strings.TrimSpace(string(r.Action)))
}

func (r Request) fields() logrus.Fields {
	return logrus.Fields{
		"subject":  r.subject(),
		"domain":   r.domain(),
		"object":   r.Object,
		"action":   r.action(),
		"actor_id": r.ActorID,
	}
}
