package handlers

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/modules/compliance/services"
	"github.com/nzwater/compliance-core/pkg/application"
)

// planCacheInvalidator is the slice of PlanService the handler needs.
type planCacheInvalidator interface {
	InvalidateTenantCacheWithReason(ctx context.Context, tenantID uuid.UUID, reason string)
}

type OutboxEventsHandler struct {
	plans planCacheInvalidator
}

// RegisterOutboxEventHandlers drops tenant read caches when a relayed plan change arrives.
// Events are dispatched in the relay leader's process only, so this reaches other replicas
// through a shared Redis cache. A process-local MemoryCache sees just the leader's invalidation.
func RegisterOutboxEventHandlers(app application.Application) {
	handler := &OutboxEventsHandler{
		plans: app.Service(services.PlanService{}).(*services.PlanService),
	}
	app.EventPublisher().Subscribe(events.TopicPlanChangedV1, handler.onPlanChangedV1)
}

func (h *OutboxEventsHandler) onPlanChangedV1(ctx context.Context, payload []byte) error {
	var ev events.PlanEventV1
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	h.plans.InvalidateTenantCacheWithReason(ctx, ev.TenantID, "outbox_event")
	return nil
}
