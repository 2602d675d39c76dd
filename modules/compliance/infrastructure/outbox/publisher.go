// Package outbox adapts plan events to the transactional outbox and back onto the event bus.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/nzwater/compliance-core/modules/compliance/domain/events"
	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/outbox"
)

// EventPublisher writes plan events into the outbox table within the caller's transaction.
type EventPublisher struct {
	table     pgx.Identifier
	publisher outbox.Publisher
}

func NewEventPublisher(table pgx.Identifier, publisher outbox.Publisher) *EventPublisher {
	if publisher == nil {
		publisher = outbox.NewPublisher()
	}
	return &EventPublisher{table: table, publisher: publisher}
}

func (p *EventPublisher) PublishPlanEvent(ctx context.Context, ev events.PlanEventV1) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "compliance outbox: no transaction")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "compliance outbox: encode event")
	}
	if _, err := p.publisher.Enqueue(ctx, tx, p.table, outbox.Message{
		TenantID: ev.TenantID,
		Topic:    events.TopicPlanChangedV1,
		EventID:  ev.EventID,
		Payload:  payload,
	}); err != nil {
		return errors.Wrap(err, "compliance outbox: enqueue")
	}
	return nil
}
