package services

import (
	"context"

	"github.com/nzwater/compliance-core/pkg/authz"
)

const (
	PlansAuthzObject authz.Object = "compliance.plans"
	AuditAuthzObject authz.Object = "compliance.audit"
)

// Authorizer decides whether a request may proceed. *authz.Service satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) error
}

// allowAll is used when no authorizer is configured, e.g. in the offline CLI.
type allowAll struct{}

func (allowAll) Authorize(context.Context, authz.Request) error { return nil }

func (s *PlanService) authorize(ctx context.Context, sc scope, object authz.Object, action authz.Action) error {
	return s.authorizer.Authorize(ctx, authz.Request{
		Role:    sc.actor.Role,
		Tenant:  sc.tenantID,
		ActorID: sc.actor.ID,
		Object:  object,
		Action:  action,
	})
}
