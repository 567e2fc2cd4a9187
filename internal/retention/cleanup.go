// Package retention prunes delivered notifications and long-finished records.
package retention

import (
	"context"
	"fmt"
	"time"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

const Pass = "cleanup"

type Config struct {
	NotificationRetention time.Duration // sent notifications older than this are deleted
	RecordRetention       time.Duration // completed records older than this are deleted; negative keeps them
}

func (c Config) withDefaults() Config {
	if c.NotificationRetention <= 0 {
		c.NotificationRetention = 90 * 24 * time.Hour
	}
	if c.RecordRetention == 0 {
		c.RecordRetention = 2 * 365 * 24 * time.Hour
	}
	return c
}

type Cleaner struct {
	store storage.Store
	log   logx.Logger
	cfg   Config
	now   func() time.Time
}

func New(st storage.Store, log logx.Logger, cfg Config, clock func() time.Time) *Cleaner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cleaner{store: st, log: log.With(logx.String("comp", "retention")), cfg: cfg.withDefaults(), now: clock}
}

// Run deletes sent notifications past retention and, when enabled, completed
// records untouched for RecordRetention. Pending and failed notifications are kept.
func (c *Cleaner) Run(ctx context.Context) (immunization.Report, error) {
	now := c.now()
	started := time.Now()
	rep := immunization.Report{Pass: Pass, StartedAt: now}

	n, err := c.store.DeleteNotifications(ctx, storage.NotificationFilter{
		Statuses:      []immunization.NotificationStatus{immunization.NotificationSent},
		CreatedBefore: now.Add(-c.cfg.NotificationRetention),
	})
	if err != nil {
		rep.Fail(immunization.ItemError{Err: err.Error()})
		rep.Took = time.Since(started)
		return rep, fmt.Errorf("delete notifications: %w", err)
	}
	rep.Processed += n
	rep.Succeeded += n

	if c.cfg.RecordRetention > 0 {
		r, err := c.store.DeleteRecords(ctx, storage.RecordFilter{
			Statuses:      []immunization.RecordStatus{immunization.StatusCompleted},
			UpdatedBefore: now.Add(-c.cfg.RecordRetention),
		})
		if err != nil {
			rep.Fail(immunization.ItemError{Err: err.Error()})
			rep.Took = time.Since(started)
			return rep, fmt.Errorf("delete records: %w", err)
		}
		rep.Processed += r
		rep.Succeeded += r
	}

	rep.Took = time.Since(started)
	c.log.Info("cleanup finished", logx.Int("deleted", rep.Succeeded), logx.Duration("took", rep.Took))
	return rep, nil
}
