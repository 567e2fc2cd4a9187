package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

// Outbox persists notifications around a dispatch so every attempt leaves a
// durable sent or failed row. Failed rows are never dropped.
type Outbox struct {
	store storage.Store
	disp  Dispatcher
	log   logx.Logger
	now   func() time.Time
}

func NewOutbox(st storage.Store, d Dispatcher, log logx.Logger, clock func() time.Time) *Outbox {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Outbox{store: st, disp: d, log: log, now: clock}
}

// Send stores n as pending, dispatches it and records the outcome.
// The returned error wraps ErrDispatchFailure or ErrStoreFailure.
func (o *Outbox) Send(ctx context.Context, n immunization.Notification) (immunization.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = o.now()
	}
	n.Status = immunization.NotificationPending
	n.Attempts = 0
	n.Error = ""
	n.SentAt = nil

	if err := o.store.CreateNotification(ctx, n); err != nil {
		return n, fmt.Errorf("create notification: %w", err)
	}
	return o.deliver(ctx, n)
}

// Resend dispatches an already stored notification again.
func (o *Outbox) Resend(ctx context.Context, n immunization.Notification) (immunization.Notification, error) {
	return o.deliver(ctx, n)
}

func (o *Outbox) deliver(ctx context.Context, n immunization.Notification) (immunization.Notification, error) {
	out := o.disp.Dispatch(ctx, n)
	n.Attempts++
	if out.Delivered {
		at := o.now()
		n.Status = immunization.NotificationSent
		n.SentAt = &at
		n.Error = ""
	} else {
		n.Status = immunization.NotificationFailed
		if out.Err != nil {
			n.Error = out.Err.Error()
		}
	}

	if err := o.store.UpdateNotification(ctx, n); err != nil {
		o.log.Error("notification outcome not saved",
			logx.String("notification_id", n.ID),
			logx.String("status", string(n.Status)),
			logx.Err(err),
		)
		return n, fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	if !out.Delivered {
		return n, out.Err
	}
	return n, nil
}
