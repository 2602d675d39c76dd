package outbox

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// db is satisfied by both *pgxpool.Pool and a leader's *pgxpool.Conn.
type db interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Relay claims due rows from one outbox table and hands them to a Dispatcher.
type Relay struct {
	pool       *pgxpool.Pool
	store      store
	dispatcher Dispatcher
	opts       RelayOptions
	label      string
	lockKey    int64
	now        func() time.Time
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	opts.setDefaults()
	label := TableLabel(table)
	return &Relay{
		pool:       pool,
		store:      newStore(table),
		dispatcher: dispatcher,
		opts:       opts,
		label:      label,
		lockKey:    advisoryLockKey("outbox:" + label),
		now:        time.Now,
	}, nil
}

// Run polls until ctx is done. With SingleActive only the holder of the table's advisory lock dispatches.
func (r *Relay) Run(ctx context.Context) error {
	if !r.opts.SingleActive {
		outboxMetrics().leader.WithLabelValues(r.label).Set(1)
		return r.loop(ctx, r.pool)
	}
	for {
		conn, err := r.pool.Acquire(ctx)
		if err == nil {
			var leader bool
			leader, err = r.tryLead(ctx, conn)
			if err == nil && leader {
				outboxMetrics().leader.WithLabelValues(r.label).Set(1)
				r.opts.Logger.WithField("table", r.label).Info("outbox: relay became leader")
				err = r.loop(ctx, conn)
				if _, unlockErr := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1::bigint)`, r.lockKey); unlockErr != nil {
					r.opts.Logger.WithError(unlockErr).Warn("outbox: advisory unlock failed")
				}
				outboxMetrics().leader.WithLabelValues(r.label).Set(0)
				conn.Release()
				return err
			}
			conn.Release()
		}
		if err != nil && ctx.Err() == nil {
			r.opts.Logger.WithError(err).WithField("table", r.label).Warn("outbox: leader election failed")
		}
		outboxMetrics().leader.WithLabelValues(r.label).Set(0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

func (r *Relay) tryLead(ctx context.Context, conn *pgxpool.Conn) (bool, error) {
	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.lockKey).Scan(&ok)
	return ok, err
}

func (r *Relay) loop(ctx context.Context, d db) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var nextDepth time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if now := r.now(); !now.Before(nextDepth) {
			r.observeDepth(ctx, d)
			nextDepth = now.Add(r.opts.DepthEvery)
		}
		if _, err := r.processOnce(ctx, d); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).WithField("table", r.label).Warn("outbox: relay tick failed")
		}
	}
}

// ProcessOnce claims and dispatches a single batch, returning how many rows were claimed.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	return r.processOnce(ctx, r.pool)
}

func (r *Relay) processOnce(ctx context.Context, d db) (int, error) {
	now := r.now()
	var claimed []claimedRow
	err := pgx.BeginFunc(ctx, d, func(tx pgx.Tx) error {
		var err error
		claimed, err = r.store.claim(ctx, tx, now, now.Add(-r.opts.LockTTL), r.opts.MaxAttempts, r.opts.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, c := range claimed {
		r.deliver(ctx, d, c)
	}
	return len(claimed), nil
}

func (r *Relay) deliver(ctx context.Context, d db, c claimedRow) {
	dispatchCtx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
	start := r.now()
	err := r.dispatcher.Dispatch(dispatchCtx, DispatchedMessage{
		Meta: Meta{
			Table:    r.store.table,
			TenantID: c.tenantID,
			Topic:    c.topic,
			EventID:  c.eventID,
			Sequence: c.sequence,
			Attempts: c.attempts,
		},
		Payload: c.payload,
	})
	cancel()

	m := outboxMetrics()
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.dispatched.WithLabelValues(r.label, c.topic, result).Inc()
	m.latency.WithLabelValues(r.label, c.topic, result).Observe(r.now().Sub(start).Seconds())

	log := r.opts.Logger.WithFields(logrus.Fields{
		"table":     r.label,
		"topic":     c.topic,
		"event_id":  c.eventID,
		"tenant_id": c.tenantID,
		"attempts":  c.attempts,
	})
	if err == nil {
		if ackErr := r.store.markPublished(ctx, d, c.id); ackErr != nil {
			log.WithError(ackErr).Warn("outbox: ack failed")
		}
		return
	}

	lastErr := clip(err.Error(), r.opts.LastErrorMaxLen)
	next := r.now()
	if c.attempts >= r.opts.MaxAttempts {
		// claim skips rows at MaxAttempts, so releasing now parks the row for the cleaner.
		m.dead.WithLabelValues(r.label, c.topic).Inc()
		log.WithError(err).Error("outbox: message is dead")
	} else {
		next = next.Add(retryDelay(c.attempts, r.opts.MaxBackoff, r.opts.JitterMax, r.opts.Rand))
		log.WithError(err).Warn("outbox: dispatch failed")
	}
	if relErr := r.store.release(ctx, d, c.id, lastErr, next); relErr != nil {
		log.WithError(relErr).Warn("outbox: release failed")
	}
}

func (r *Relay) observeDepth(ctx context.Context, d db) {
	pending, locked, err := r.store.depth(ctx, d)
	if err != nil {
		r.opts.Logger.WithError(err).Debug("outbox: depth query failed")
		return
	}
	outboxMetrics().pending.WithLabelValues(r.label).Set(float64(pending))
	outboxMetrics().locked.WithLabelValues(r.label).Set(float64(locked))
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64()) //nolint:gosec
}
