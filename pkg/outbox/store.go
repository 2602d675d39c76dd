package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// store holds the SQL for one outbox table.
type store struct {
	table pgx.Identifier
	name  string
}

func newStore(table pgx.Identifier) store {
	return store{table: table, name: table.Sanitize()}
}

type claimedRow struct {
	id       uuid.UUID
	tenantID uuid.UUID
	topic    string
	payload  []byte
	eventID  uuid.UUID
	sequence int64
	attempts int
}

// enqueue inserts msg, returning the existing sequence when the event id was already enqueued.
func (s store) enqueue(ctx context.Context, q querier, msg Message) (int64, error) {
	sql := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, topic, payload, event_id, available_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		RETURNING sequence`, s.name)
	var seq int64
	if err := q.QueryRow(ctx, sql, msg.TenantID, msg.Topic, []byte(msg.Payload), msg.EventID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("outbox enqueue: %w", err)
	}
	return seq, nil
}

// claim locks up to limit due rows and increments their attempt counter.
func (s store) claim(ctx context.Context, tx pgx.Tx, now, staleLock time.Time, maxAttempts, limit int) ([]claimedRow, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, topic, payload, event_id, sequence, attempts
		FROM %s
		WHERE published_at IS NULL
		  AND available_at <= $1
		  AND attempts < $2
		  AND (locked_at IS NULL OR locked_at < $3)
		ORDER BY available_at, sequence
		LIMIT $4
		FOR UPDATE SKIP LOCKED`, s.name),
		now, maxAttempts, staleLock, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox claim: %w", err)
	}
	var out []claimedRow
	var ids []uuid.UUID
	for rows.Next() {
		var c claimedRow
		if err := rows.Scan(&c.id, &c.tenantID, &c.topic, &c.payload, &c.eventID, &c.sequence, &c.attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		c.attempts++
		out = append(out, c)
		ids = append(ids, c.id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, s.name),
		now, pgtype.FlatArray[uuid.UUID](ids),
	); err != nil {
		return nil, fmt.Errorf("outbox claim lock: %w", err)
	}
	return out, nil
}

func (s store) markPublished(ctx context.Context, q querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		WHERE id = $1 AND published_at IS NULL`, s.name), id)
	if err != nil {
		return fmt.Errorf("outbox ack: %w", err)
	}
	return nil
}

// release unlocks a failed row and makes it due again at next.
func (s store) release(ctx context.Context, q querier, id uuid.UUID, lastError string, next time.Time) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		WHERE id = $1 AND published_at IS NULL`, s.name), id, lastError, next)
	if err != nil {
		return fmt.Errorf("outbox release: %w", err)
	}
	return nil
}

func (s store) depth(ctx context.Context, q querier) (pending, locked int64, err error) {
	err = q.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		FROM %s WHERE published_at IS NULL`, s.name)).Scan(&pending, &locked)
	if err != nil {
		return 0, 0, fmt.Errorf("outbox depth: %w", err)
	}
	return pending, locked, nil
}

// purge removes published rows older than publishedBefore and, when deadBefore is set,
// rows that exhausted deadAttempts and were created before deadBefore.
func (s store) purge(ctx context.Context, q querier, publishedBefore time.Time, deadAttempts int, deadBefore *time.Time) (int64, error) {
	tag, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE published_at IS NOT NULL AND published_at < $1`, s.name), publishedBefore)
	if err != nil {
		return 0, fmt.Errorf("outbox purge published: %w", err)
	}
	n := tag.RowsAffected()
	if deadBefore == nil {
		return n, nil
	}
	tag, err = q.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE published_at IS NULL AND attempts >= $1 AND created_at < $2`, s.name),
		deadAttempts, *deadBefore)
	if err != nil {
		return n, fmt.Errorf("outbox purge dead: %w", err)
	}
	return n + tag.RowsAffected(), nil
}
