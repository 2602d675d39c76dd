package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cleaner deletes published rows past retention and, optionally, dead rows.
type Cleaner struct {
	pool  *pgxpool.Pool
	store store
	opts  CleanerOptions
	label string
	now   func() time.Time
}

func NewCleaner(pool *pgxpool.Pool, table pgx.Identifier, opts CleanerOptions) (*Cleaner, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if opts.DeadRetention > 0 && opts.DeadAttempts <= 0 {
		return nil, invalidConfig("dead retention requires DeadAttempts > 0")
	}
	opts.setDefaults()
	return &Cleaner{pool: pool, store: newStore(table), opts: opts, label: TableLabel(table), now: time.Now}, nil
}

func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := c.CleanOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).WithField("table", c.label).Warn("outbox: cleaner tick failed")
		}
	}
}

func (c *Cleaner) CleanOnce(ctx context.Context) (int64, error) {
	now := c.now()
	var deadBefore *time.Time
	if c.opts.DeadRetention > 0 {
		t := now.Add(-c.opts.DeadRetention)
		deadBefore = &t
	}
	var n int64
	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		var err error
		n, err = c.store.purge(ctx, tx, now.Add(-c.opts.Retention), c.opts.DeadAttempts, deadBefore)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		outboxMetrics().purged.WithLabelValues(c.label).Add(float64(n))
		c.opts.Logger.WithField("table", c.label).WithField("rows", n).Info("outbox: purged rows")
	}
	return n, nil
}
