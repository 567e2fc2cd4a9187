package notifier

import (
	"context"
	"time"

	"immunizer/internal/immunization"
)

// Config controls dispatch.
type Config struct {
	RatePerSec  int
	Burst       int
	SendTimeout time.Duration

	// DefaultMethods is used when a notification names no methods.
	DefaultMethods []immunization.DeliveryMethod
}

// Transport sends a notification over one delivery method.
type Transport interface {
	Method() immunization.DeliveryMethod
	Send(ctx context.Context, n immunization.Notification) error
}

// Dispatcher is the delivery capability consumed by the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, n immunization.Notification) Outcome
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Delivered bool
	// Err is nil when delivered; otherwise it wraps immunization.ErrDispatchFailure.
	Err error
	// Failures maps each failed method to its error text.
	Failures map[immunization.DeliveryMethod]string
}

type HistoryItem struct {
	At             time.Time                     `json:"at"`
	NotificationID string                        `json:"notification_id"`
	Type           immunization.NotificationType `json:"type"`
	Delivered      bool                          `json:"delivered"`
	Error          string                        `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus after each dispatch.
type NotificationEvent struct {
	ID       string                        `json:"id"`
	Type     immunization.NotificationType `json:"type"`
	RecordID string                        `json:"record_id,omitempty"`
	At       time.Time                     `json:"at"`
	Error    string                        `json:"error,omitempty"`
}
