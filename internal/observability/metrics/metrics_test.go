package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	"immunizer/internal/jobs"
	"immunizer/internal/lifecycle"
	"immunizer/internal/notifier"
	"immunizer/internal/task/engine"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe(eventbus.Event{Type: eventbus.TypePassCompleted, Data: jobs.PassEvent{
		Job: jobs.OverdueCheck, Trigger: jobs.TriggerCron,
		Report: immunization.Report{Created: 2, Skipped: 1, Failed: 1},
	}})
	m.Observe(eventbus.Event{Type: eventbus.TypePassCompleted, Data: jobs.PassEvent{
		Job: jobs.OverdueCheck, Trigger: jobs.TriggerManual, Err: errors.New("boom"),
	}})
	m.Observe(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: notifier.NotificationEvent{Type: immunization.NotificationOverdue}})
	m.Observe(eventbus.Event{Type: eventbus.TypeNotifySent, Data: notifier.NotificationEvent{Type: immunization.NotificationOverdue}})
	m.Observe(eventbus.Event{Type: eventbus.TypeRecordStatus, Data: lifecycle.StatusEvent{To: immunization.StatusOverdue}})
	m.Observe(eventbus.Event{Type: eventbus.TypeTaskSkipped, Data: engine.TaskEvent{Name: jobs.Cleanup}})
	m.Observe(eventbus.Event{Type: "unrelated", Data: 42})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(jobs.OverdueCheck, jobs.TriggerCron, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(jobs.OverdueCheck, jobs.TriggerManual, "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PassItems.WithLabelValues(jobs.OverdueCheck, "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("overdue", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("overdue", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("overdue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskEvents.WithLabelValues(eventbus.TypeTaskSkipped, jobs.Cleanup)))
}

func TestObserve_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe(eventbus.Event{}) })
}
