package outbox

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/pkg/eventbus"
	"github.com/nzwater/compliance-core/pkg/outbox"
)

// Dispatcher forwards relayed plan events to in-process subscribers.
type Dispatcher struct {
	bus eventbus.EventBus
}

func NewDispatcher(bus eventbus.EventBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	if d == nil || d.bus == nil {
		return errors.New("compliance outbox dispatcher: bus is nil")
	}
	if msg.Meta.Topic != events.TopicPlanChangedV1 {
		return errors.Errorf("compliance outbox dispatcher: unsupported topic %q", msg.Meta.Topic)
	}
	var ev events.PlanEventV1
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return errors.Wrap(err, "compliance outbox dispatcher: decode payload")
	}
	if ev.TenantID != msg.Meta.TenantID {
		return errors.Errorf("compliance outbox dispatcher: payload tenant %s does not match row tenant %s", ev.TenantID, msg.Meta.TenantID)
	}
	return d.bus.Publish(ctx, msg.Meta.Topic, msg.Payload)
}
