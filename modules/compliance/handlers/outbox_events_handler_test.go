package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/pkg/eventbus"
)

type invalidation struct {
	tenantID uuid.UUID
	reason   string
}

type recordingInvalidator struct {
	calls []invalidation
}

func (r *recordingInvalidator) InvalidateTenantCacheWithReason(_ context.Context, tenantID uuid.UUID, reason string) {
	r.calls = append(r.calls, invalidation{tenantID: tenantID, reason: reason})
}

func TestOutboxEventsHandler_InvalidatesTenant(t *testing.T) {
	t.Parallel()

	rec := &recordingInvalidator{}
	h := &OutboxEventsHandler{plans: rec}
	bus := eventbus.New(nil)
	bus.Subscribe(events.TopicPlanChangedV1, h.onPlanChangedV1)

	tenantID := uuid.New()
	payload, err := json.Marshal(events.PlanEventV1{EventID: uuid.New(), TenantID: tenantID})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), events.TopicPlanChangedV1, payload))
	require.Equal(t, []invalidation{{tenantID: tenantID, reason: "outbox_event"}}, rec.calls)

	require.Error(t, bus.Publish(context.Background(), events.TopicPlanChangedV1, []byte("{")))
	require.Len(t, rec.calls, 1)
}
