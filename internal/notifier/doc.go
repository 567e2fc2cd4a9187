// Package notifier delivers immunization notifications.
//
// # Transport
//
// Delivery is delegated to Transport implementations, one per delivery
// method (log, telegram, ...). The Service fans a notification out to every
// requested method under a shared rate limit. A notification counts as
// delivered when at least one method succeeded.
//
// # Outbox
//
// Outbox persists a notification as pending, dispatches it, and records the
// outcome (sent or failed) so failed deliveries stay visible for resend.
package notifier
