// Package reminder decides which reminder and overdue alerts are due and sends them.
//
// Dedup is a store lookup of earlier notifications for the same record and
// type inside a time window, so restarts never resend within a window.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

const (
	PassUpcoming = "upcoming"
	PassOverdue  = "overdue"
	PassResend   = "resend"
)

type Config struct {
	LeadTimes        []int
	OverdueGraceDays int
	ReminderDedup    time.Duration
	OverdueDedup     time.Duration
	// OverdueRepeat also re-alerts records already flagged overdue, once per OverdueDedup.
	OverdueRepeat bool
	ResendWindow  time.Duration
	Methods       []immunization.DeliveryMethod
	Workers       int
	Location      *time.Location
}

func (c Config) withDefaults() Config {
	if len(c.LeadTimes) == 0 {
		c.LeadTimes = []int{1, 3, 7, 14}
	}
	if c.OverdueGraceDays <= 0 {
		c.OverdueGraceDays = 7
	}
	if c.ReminderDedup <= 0 {
		c.ReminderDedup = 24 * time.Hour
	}
	if c.OverdueDedup <= 0 {
		c.OverdueDedup = 7 * 24 * time.Hour
	}
	if c.ResendWindow <= 0 {
		c.ResendWindow = 72 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Sender persists and dispatches notifications.
type Sender interface {
	Send(ctx context.Context, n immunization.Notification) (immunization.Notification, error)
	Resend(ctx context.Context, n immunization.Notification) (immunization.Notification, error)
}

// Flagger moves a scheduled record to overdue.
type Flagger interface {
	MarkOverdue(ctx context.Context, rec immunization.VaccinationRecord) (immunization.VaccinationRecord, error)
}

type Engine struct {
	store   storage.Store
	sender  Sender
	flagger Flagger
	log     logx.Logger
	cfg     Config
	now     func() time.Time
}

func New(st storage.Store, sender Sender, flagger Flagger, log logx.Logger, cfg Config, clock func() time.Time) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:   st,
		sender:  sender,
		flagger: flagger,
		log:     log.With(logx.String("comp", "reminder")),
		cfg:     cfg.withDefaults(),
		now:     clock,
	}
}

// UpcomingPass reminds about scheduled records due exactly one lead time from today.
func (e *Engine) UpcomingPass(ctx context.Context) (immunization.Report, error) {
	p := e.begin(PassUpcoming)
	today := immunization.DateOf(p.now, e.cfg.Location)

	for _, lead := range e.cfg.LeadTimes {
		from := immunization.AddDays(today, lead)
		recs, err := e.store.FindRecords(ctx, storage.RecordFilter{
			Statuses:        []immunization.RecordStatus{immunization.StatusScheduled},
			ScheduledFrom:   from,
			ScheduledBefore: immunization.AddDays(from, 1),
		})
		if err != nil {
			return p.finish(e.log), fmt.Errorf("find records due in %d days: %w", lead, err)
		}
		e.each(ctx, p, recs, func(ctx context.Context, rec immunization.VaccinationRecord) (outcome, error) {
			dup, err := e.recentlyNotified(ctx, rec.ID, immunization.NotificationReminder, p.now.Add(-e.cfg.ReminderDedup))
			if err != nil || dup {
				return skipped, err
			}
			subj, err := p.subjects.get(ctx, e.store, rec)
			if err != nil {
				return failed, err
			}
			n := immunization.ReminderFor(subj, lead, e.cfg.Methods)
			n.CreatedAt = p.now
			if _, err := e.sender.Send(ctx, n); err != nil {
				return failed, err
			}
			return sent, nil
		})
	}
	return p.finish(e.log), ctx.Err()
}

// OverduePass flags scheduled records past the overdue grace and alerts once per dedup window.
//
// Records flagged within the last dedup window are revisited, so a flag whose
// alert failed to persist gets its alert on the next pass. With OverdueRepeat
// every overdue record is revisited.
func (e *Engine) OverduePass(ctx context.Context) (immunization.Report, error) {
	p := e.begin(PassOverdue)
	today := immunization.DateOf(p.now, e.cfg.Location)
	dedupFrom := p.now.Add(-e.cfg.OverdueDedup)

	found, err := e.store.FindRecords(ctx, storage.RecordFilter{
		Statuses:        []immunization.RecordStatus{immunization.StatusScheduled, immunization.StatusOverdue},
		ScheduledBefore: p.now,
	})
	if err != nil {
		return p.finish(e.log), fmt.Errorf("find past-due records: %w", err)
	}
	recs := found[:0]
	for _, rec := range found {
		if rec.Status == immunization.StatusOverdue && !e.cfg.OverdueRepeat && rec.UpdatedAt.Before(dedupFrom) {
			continue
		}
		recs = append(recs, rec)
	}

	e.each(ctx, p, recs, func(ctx context.Context, rec immunization.VaccinationRecord) (outcome, error) {
		daysOverdue := immunization.DaysBetween(immunization.DateOf(rec.ScheduledDate, e.cfg.Location), today)
		if daysOverdue < e.cfg.OverdueGraceDays {
			return skipped, nil
		}
		if rec.Status == immunization.StatusScheduled {
			flagged, err := e.flagger.MarkOverdue(ctx, rec)
			if errors.Is(err, immunization.ErrInvalidTransition) {
				// completed, cancelled or missed since it was listed
				return skipped, nil
			}
			if err != nil {
				return failed, fmt.Errorf("mark overdue: %w", err)
			}
			rec = flagged
		}
		dup, err := e.recentlyNotified(ctx, rec.ID, immunization.NotificationOverdue, dedupFrom)
		if err != nil || dup {
			return skipped, err
		}
		subj, err := p.subjects.get(ctx, e.store, rec)
		if err != nil {
			return failed, err
		}
		n := immunization.OverdueFor(subj, daysOverdue, e.cfg.Methods)
		n.CreatedAt = p.now
		if _, err := e.sender.Send(ctx, n); err != nil {
			return failed, err
		}
		return sent, nil
	})
	return p.finish(e.log), ctx.Err()
}

// ResendFailed re-dispatches failed notifications created within the resend window.
func (e *Engine) ResendFailed(ctx context.Context) (immunization.Report, error) {
	p := e.begin(PassResend)
	ns, err := e.store.FindNotifications(ctx, storage.NotificationFilter{
		Statuses:    []immunization.NotificationStatus{immunization.NotificationFailed},
		CreatedFrom: p.now.Add(-e.cfg.ResendWindow),
	})
	if err != nil {
		return p.finish(e.log), fmt.Errorf("find failed notifications: %w", err)
	}
	for _, n := range ns {
		if ctx.Err() != nil {
			break
		}
		p.rep.Processed++
		if _, err := e.sender.Resend(ctx, n); err != nil {
			e.log.Warn("resend failed", logx.String("notification_id", n.ID), logx.String("record_id", n.RecordID), logx.Err(err))
			p.rep.Fail(immunization.ItemError{RecordID: n.RecordID, ChildID: n.ChildID, Err: err.Error()})
			continue
		}
		p.rep.Succeeded++
	}
	return p.finish(e.log), ctx.Err()
}

func (e *Engine) recentlyNotified(ctx context.Context, recordID string, typ immunization.NotificationType, since time.Time) (bool, error) {
	prior, err := e.store.FindNotifications(ctx, storage.NotificationFilter{
		RecordID:    recordID,
		Types:       []immunization.NotificationType{typ},
		CreatedFrom: since,
		Limit:       1,
	})
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return len(prior) > 0, nil
}

type outcome int

const (
	skipped outcome = iota
	sent
	failed
)

// pass accumulates one report across parallel items.
type pass struct {
	mu       sync.Mutex
	rep      immunization.Report
	now      time.Time
	started  time.Time
	subjects *subjectCache
}

func (e *Engine) begin(name string) *pass {
	now := e.now()
	return &pass{
		rep:      immunization.Report{Pass: name, StartedAt: now},
		now:      now,
		started:  time.Now(),
		subjects: newSubjectCache(),
	}
}

func (p *pass) finish(log logx.Logger) immunization.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rep.Took = time.Since(p.started)
	log.Info("pass finished",
		logx.String("pass", p.rep.Pass),
		logx.Int("processed", p.rep.Processed),
		logx.Int("sent", p.rep.Created),
		logx.Int("skipped", p.rep.Skipped),
		logx.Int("failed", p.rep.Failed),
		logx.Duration("took", p.rep.Took),
	)
	return p.rep
}

// each runs fn for every record with bounded parallelism. Each record appears
// once per call, so no two goroutines touch the same record.
func (e *Engine) each(ctx context.Context, p *pass, recs []immunization.VaccinationRecord, fn func(context.Context, immunization.VaccinationRecord) (outcome, error)) {
	var grp errgroup.Group
	grp.SetLimit(e.cfg.Workers)
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		grp.Go(func() error {
			out, err := fn(ctx, rec)

			p.mu.Lock()
			defer p.mu.Unlock()
			p.rep.Processed++
			if err != nil {
				e.log.Warn("record failed",
					logx.String("pass", p.rep.Pass),
					logx.String("record_id", rec.ID),
					logx.String("child_id", rec.ChildID),
					logx.String("vaccine_id", rec.VaccineID),
					logx.Int("dose", rec.DoseNumber),
					logx.Err(err),
				)
				p.rep.Fail(immunization.ItemError{RecordID: rec.ID, ChildID: rec.ChildID, VaccineID: rec.VaccineID, Err: err.Error()})
				return nil
			}
			switch out {
			case sent:
				p.rep.Succeeded++
				p.rep.Created++
			default:
				p.rep.Skipped++
			}
			return nil
		})
	}
	_ = grp.Wait()
}
