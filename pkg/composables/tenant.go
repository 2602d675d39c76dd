package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/pkg/constants"
)

var (
	ErrNoTenantID = errors.New("tenant id not found in context")
	ErrNoActor    = errors.New("actor not found in context")
)

// Actor is the caller identity attached to a request. Authentication happens upstream.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.TenantIDKey, tenantID)
}

func UseTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := ctx.Value(constants.TenantIDKey).(uuid.UUID)
	if !ok || tenantID == uuid.Nil {
		return uuid.Nil, ErrNoTenantID
	}
	return tenantID, nil
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, constants.ActorKey, actor)
}

func UseActor(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(constants.ActorKey).(Actor)
	if !ok || actor.ID == uuid.Nil {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}
