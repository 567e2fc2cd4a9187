// Package lifecycle applies status transitions to stored vaccination records.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

// Sender persists and dispatches a notification.
type Sender interface {
	Send(ctx context.Context, n immunization.Notification) (immunization.Notification, error)
}

type Options struct {
	Clock func() time.Time
	// Methods requested for completion notices. Nil uses the dispatcher defaults.
	Methods []immunization.DeliveryMethod
	// NotifyOnComplete sends a completed notification after Complete.
	NotifyOnComplete bool
}

// Administration describes a dose given to a child.
type Administration struct {
	Date        time.Time
	By          string
	BatchNumber string
	Notes       string
}

// StatusEvent is published after every persisted transition.
type StatusEvent struct {
	RecordID string                    `json:"record_id"`
	ChildID  string                    `json:"child_id"`
	From     immunization.RecordStatus `json:"from"`
	To       immunization.RecordStatus `json:"to"`
	At       time.Time                 `json:"at"`
}

type Tracker struct {
	store  storage.Store
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus
	opt    Options
}

func New(st storage.Store, sender Sender, log logx.Logger, bus eventbus.Bus, opt Options) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return &Tracker{store: st, sender: sender, log: log, bus: bus, opt: opt}
}

// Complete records the administration and moves the record to completed.
func (t *Tracker) Complete(ctx context.Context, recordID string, a Administration) (immunization.VaccinationRecord, error) {
	rec, err := t.apply(ctx, recordID, immunization.StatusCompleted, func(r *immunization.VaccinationRecord, now time.Time) {
		at := a.Date
		if at.IsZero() {
			at = now
		}
		r.AdministeredDate = &at
		r.AdministeredBy = a.By
		r.BatchNumber = a.BatchNumber
		if n := strings.TrimSpace(a.Notes); n != "" {
			r.Notes = appendNote(r.Notes, n)
		}
	})
	if err != nil {
		return rec, err
	}
	if t.opt.NotifyOnComplete && t.sender != nil {
		t.notifyCompleted(ctx, rec)
	}
	return rec, nil
}

// Cancel moves the record to cancelled, freeing its (child, vaccine, dose) slot.
func (t *Tracker) Cancel(ctx context.Context, recordID, reason string) (immunization.VaccinationRecord, error) {
	return t.apply(ctx, recordID, immunization.StatusCancelled, func(r *immunization.VaccinationRecord, _ time.Time) {
		if reason = strings.TrimSpace(reason); reason != "" {
			r.Notes = appendNote(r.Notes, "cancelled: "+reason)
		}
	})
}

// MarkMissed moves the record to missed.
func (t *Tracker) MarkMissed(ctx context.Context, recordID, notes string) (immunization.VaccinationRecord, error) {
	return t.apply(ctx, recordID, immunization.StatusMissed, func(r *immunization.VaccinationRecord, _ time.Time) {
		if notes = strings.TrimSpace(notes); notes != "" {
			r.Notes = appendNote(r.Notes, notes)
		}
	})
}

// MarkOverdue flags a scheduled record as overdue. rec is the caller's copy;
// the write only lands if the stored status still matches it, so a record
// completed or cancelled since it was read is left alone.
func (t *Tracker) MarkOverdue(ctx context.Context, rec immunization.VaccinationRecord) (immunization.VaccinationRecord, error) {
	from := rec.Status
	now := t.opt.Clock()
	if err := immunization.Transition(&rec, immunization.StatusOverdue, now); err != nil {
		return rec, err
	}
	if err := t.store.UpdateRecord(ctx, rec, from); err != nil {
		return rec, fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	t.announce(rec, from, now)
	return rec, nil
}

func (t *Tracker) apply(ctx context.Context, recordID string, to immunization.RecordStatus, mutate func(*immunization.VaccinationRecord, time.Time)) (immunization.VaccinationRecord, error) {
	rec, err := t.store.GetRecord(ctx, recordID)
	if err != nil {
		return immunization.VaccinationRecord{}, err
	}
	from := rec.Status
	now := t.opt.Clock()
	if err := immunization.Transition(&rec, to, now); err != nil {
		return rec, err
	}
	if mutate != nil {
		mutate(&rec, now)
	}
	if err := t.store.UpdateRecord(ctx, rec, from); err != nil {
		return rec, fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	t.announce(rec, from, now)
	return rec, nil
}

func (t *Tracker) announce(rec immunization.VaccinationRecord, from immunization.RecordStatus, at time.Time) {
	t.log.Debug("record status changed",
		logx.String("record_id", rec.ID),
		logx.String("from", string(from)),
		logx.String("to", string(rec.Status)),
	)
	t.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRecordStatus,
		Time: at,
		Data: StatusEvent{RecordID: rec.ID, ChildID: rec.ChildID, From: from, To: rec.Status, At: at},
	})
}

// notifyCompleted is best effort: completion already happened.
func (t *Tracker) notifyCompleted(ctx context.Context, rec immunization.VaccinationRecord) {
	subj := immunization.Subject{Record: rec}
	if c, err := t.store.GetChild(ctx, rec.ChildID); err == nil {
		subj.Child = c
	}
	if v, err := t.store.GetVaccine(ctx, rec.VaccineID); err == nil {
		subj.VaccineName = v.Name
	}
	n := immunization.CompletedFor(subj, t.opt.Methods)
	n.CreatedAt = t.opt.Clock()
	if _, err := t.sender.Send(ctx, n); err != nil {
		t.log.Warn("completion notification failed",
			logx.String("record_id", rec.ID),
			logx.String("child_id", rec.ChildID),
			logx.Err(err),
		)
	}
}

func appendNote(notes, add string) string {
	if strings.TrimSpace(notes) == "" {
		return add
	}
	return notes + "\n" + add
}
