// Package outbox implements a transactional outbox on PostgreSQL.
// Writers enqueue rows inside their own transaction; a Relay later claims and dispatches them at least once.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nzwater/compliance-core/pkg/serrors"
)

var ErrInvalidConfig = serrors.NewError("OUTBOX_INVALID_CONFIG", "invalid outbox configuration", "")

// Message is the unit written to an outbox table.
type Message struct {
	TenantID uuid.UUID
	Topic    string
	EventID  uuid.UUID
	Payload  json.RawMessage
}

func (m Message) validate() error {
	switch {
	case m.TenantID == uuid.Nil:
		return invalidConfig("tenant_id is required")
	case m.EventID == uuid.Nil:
		return invalidConfig("event_id is required")
	case strings.TrimSpace(m.Topic) == "":
		return invalidConfig("topic is required")
	case len(m.Payload) == 0:
		return invalidConfig("payload is required")
	}
	return nil
}

// Meta describes a delivery attempt. EventID is stable across retries and is the idempotency key for consumers.
type Meta struct {
	Table    pgx.Identifier
	TenantID uuid.UUID
	Topic    string
	EventID  uuid.UUID
	Sequence int64
	Attempts int
}

type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}

// Dispatcher delivers a claimed message. A non-nil error schedules a retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg DispatchedMessage) error
}

type DispatcherFunc func(ctx context.Context, msg DispatchedMessage) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg DispatchedMessage) error { return f(ctx, msg) }

func TableLabel(table pgx.Identifier) string {
	return strings.Join(table, ".")
}

var identPartRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ParseIdentifier parses "schema.table" or "table".
func ParseIdentifier(s string) (pgx.Identifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalidConfig("identifier is empty")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, invalidConfig("invalid identifier %q (expected table or schema.table)", s)
	}
	ident := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !identPartRe.MatchString(p) {
			return nil, invalidConfig("invalid identifier %q (bad part %q)", s, p)
		}
		ident = append(ident, p)
	}
	return ident, nil
}

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}
