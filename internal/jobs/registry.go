package jobs

import (
	"context"
	"time"

	"immunizer/internal/immunization"
)

// Default job names.
const (
	DailyReminders     = "daily-reminders"
	OverdueCheck       = "overdue-check"
	Cleanup            = "cleanup"
	ScheduleGeneration = "schedule-generation"
	ResendFailed       = "resend-failed"
)

// Pass executes one batch pass and reports per-item outcomes.
type Pass func(ctx context.Context) (immunization.Report, error)

// Job binds a name to a trigger and a pass.
type Job struct {
	Name     string
	Schedule string // cron spec or Go duration, see scheduler.ValidateSchedule
	Timeout  time.Duration
	Run      Pass
}

// Spec overrides a default job. Zero fields keep the default.
type Spec struct {
	Enabled  *bool
	Schedule string
	Timeout  time.Duration
}

// Passes holds the pass behind each default job. A nil pass leaves its job out.
type Passes struct {
	Upcoming Pass
	Overdue  Pass
	Cleanup  Pass
	Generate Pass
	Resend   Pass
}

type defaultJob struct {
	name     string
	schedule string
	timeout  time.Duration
	enabled  bool
}

var defaults = []defaultJob{
	{name: DailyReminders, schedule: "0 9 * * *", timeout: 30 * time.Minute, enabled: true},
	{name: OverdueCheck, schedule: "0 10 * * *", timeout: 30 * time.Minute, enabled: true},
	{name: Cleanup, schedule: "0 2 * * 0", timeout: time.Hour, enabled: true},
	{name: ScheduleGeneration, schedule: "0 1 * * *", timeout: time.Hour},
	{name: ResendFailed, schedule: "0 */6 * * *", timeout: 15 * time.Minute},
}

// Defaults is the standard registry with overrides applied, in a fixed order.
func Defaults(overrides map[string]Spec, p Passes) []Job {
	passes := map[string]Pass{
		DailyReminders:     p.Upcoming,
		OverdueCheck:       p.Overdue,
		Cleanup:            p.Cleanup,
		ScheduleGeneration: p.Generate,
		ResendFailed:       p.Resend,
	}
	out := make([]Job, 0, len(defaults))
	for _, d := range defaults {
		run := passes[d.name]
		if run == nil {
			continue
		}
		enabled, schedule, timeout := d.enabled, d.schedule, d.timeout
		if o, ok := overrides[d.name]; ok {
			if o.Enabled != nil {
				enabled = *o.Enabled
			}
			if o.Schedule != "" {
				schedule = o.Schedule
			}
			if o.Timeout > 0 {
				timeout = o.Timeout
			}
		}
		if !enabled {
			continue
		}
		out = append(out, Job{Name: d.name, Schedule: schedule, Timeout: timeout, Run: run})
	}
	return out
}

// Known reports whether name is one of the default job names.
func Known(name string) bool {
	for _, d := range defaults {
		if d.name == name {
			return true
		}
	}
	return false
}
