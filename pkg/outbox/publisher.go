package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/nzwater/compliance-core/pkg/repo"
)

// Publisher enqueues messages in the caller's transaction.
type Publisher interface {
	Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (sequence int64, err error)
}

type publisher struct{}

func NewPublisher() Publisher {
	return publisher{}
}

func (publisher) Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (int64, error) {
	if len(table) == 0 {
		return 0, invalidConfig("table is required")
	}
	if err := msg.validate(); err != nil {
		return 0, err
	}
	seq, err := newStore(table).enqueue(ctx, tx, msg)
	if err != nil {
		return 0, err
	}
	outboxMetrics().enqueued.WithLabelValues(TableLabel(table), msg.Topic).Inc()
	return seq, nil
}
