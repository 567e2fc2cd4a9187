// Package metrics exposes prometheus collectors fed from the event bus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"immunizer/internal/eventbus"
	"immunizer/internal/jobs"
	"immunizer/internal/lifecycle"
	"immunizer/internal/notifier"
	"immunizer/internal/task/engine"
)

type Metrics struct {
	// Job runs by job, trigger and result ("ok", "error")
	JobRuns *prometheus.CounterVec

	// Pass duration by job
	JobDuration *prometheus.HistogramVec

	// Items seen by a pass, by job and outcome ("created", "skipped", "failed")
	PassItems *prometheus.CounterVec

	// Task engine lifecycle events by type and task
	TaskEvents *prometheus.CounterVec

	// Notification dispatch outcomes by type and result ("sent", "failed")
	Notifications *prometheus.CounterVec

	// Record status transitions by target status
	Transitions *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "immunizer_job_runs_total",
			Help: "Job executions by job, trigger and result",
		}, []string{"job", "trigger", "result"}),

		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "immunizer_job_duration_seconds",
			Help:    "Duration of job passes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),

		PassItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "immunizer_pass_items_total",
			Help: "Items handled by passes by job and outcome",
		}, []string{"job", "outcome"}),

		TaskEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "immunizer_task_events_total",
			Help: "Task engine events by type and task",
		}, []string{"type", "task"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "immunizer_notifications_total",
			Help: "Notification dispatch outcomes by type and result",
		}, []string{"type", "result"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "immunizer_record_transitions_total",
			Help: "Vaccination record status transitions by target status",
		}, []string{"to"}),
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates collectors for one event. Unknown events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	if m == nil {
		return
	}
	switch d := ev.Data.(type) {
	case jobs.PassEvent:
		result := "ok"
		if d.Err != nil {
			result = "error"
		}
		m.JobRuns.WithLabelValues(d.Job, d.Trigger, result).Inc()
		m.JobDuration.WithLabelValues(d.Job).Observe(d.Report.Took.Seconds())
		m.PassItems.WithLabelValues(d.Job, "created").Add(float64(d.Report.Created))
		m.PassItems.WithLabelValues(d.Job, "skipped").Add(float64(d.Report.Skipped))
		m.PassItems.WithLabelValues(d.Job, "failed").Add(float64(d.Report.Failed))
	case engine.TaskEvent:
		m.TaskEvents.WithLabelValues(ev.Type, d.Name).Inc()
	case notifier.NotificationEvent:
		result := "sent"
		if ev.Type == eventbus.TypeNotifyFailed {
			result = "failed"
		}
		m.Notifications.WithLabelValues(string(d.Type), result).Inc()
	case lifecycle.StatusEvent:
		m.Transitions.WithLabelValues(string(d.To)).Inc()
	}
}
