package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
)

// AuditCleaner removes audit entries once they fall outside the retention window.
type AuditCleaner struct {
	repo      plan.AuditRepository
	retention time.Duration
	interval  time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewAuditCleaner(repo plan.AuditRepository, retention, interval time.Duration, logger logrus.FieldLogger) *AuditCleaner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AuditCleaner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run purges on every tick until ctx is cancelled. A non-positive retention disables purging.
func (c *AuditCleaner) Run(ctx context.Context) error {
	if c.retention <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.interval)
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
			c.logger.WithError(err).Warn("compliance: audit cleaner tick failed")
		}
	}
}

func (c *AuditCleaner) CleanOnce(ctx context.Context) (int64, error) {
	if c.retention <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.retention)
	n, err := c.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		auditPurged.Add(float64(n))
		c.logger.WithFields(logrus.Fields{"purged": n, "cutoff": cutoff}).Info("compliance: audit entries purged")
	}
	return n, nil
}
