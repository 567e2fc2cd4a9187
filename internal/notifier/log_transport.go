package notifier

import (
	"context"

	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"
)

// LogTransport writes notifications to the structured log. It never fails.
type LogTransport struct {
	Log logx.Logger
}

func (LogTransport) Method() immunization.DeliveryMethod { return immunization.MethodLog }

func (t LogTransport) Send(ctx context.Context, n immunization.Notification) error {
	_ = ctx
	t.Log.Info("notification",
		logx.String("notification_id", n.ID),
		logx.String("type", string(n.Type)),
		logx.String("record_id", n.RecordID),
		logx.String("child_id", n.ChildID),
		logx.String("recipient", n.Recipient),
		logx.String("title", n.Title),
		logx.String("message", n.Message),
	)
	return nil
}
