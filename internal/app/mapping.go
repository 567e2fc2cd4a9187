package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"immunizer/internal/config"
	"immunizer/internal/immunization"
	"immunizer/internal/jobs"
	"immunizer/internal/notifier"
	"immunizer/internal/observability/ops"
	"immunizer/internal/reminder"
	"immunizer/internal/retention"
	"immunizer/internal/schedule"
	"immunizer/internal/storage"
	"immunizer/internal/task/engine"
	"immunizer/internal/task/scheduler"
	"immunizer/internal/transport/telegram"
	logx "immunizer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		// Manual runs go through the engine, so it is always on.
		Enabled:        true,
		Workers:        2,
		QueueSize:      64,
		DefaultTimeout: 30 * time.Minute,
		HistorySize:    200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	var err error
	if out.DefaultTimeout, err = config.DurationOr("task_engine.default_timeout", te.DefaultTimeout, out.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.Duration("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.SchedulerEnabled(),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapMethods(raw []string) ([]immunization.DeliveryMethod, error) {
	if len(raw) == 0 {
		return []immunization.DeliveryMethod{immunization.MethodLog}, nil
	}
	out := make([]immunization.DeliveryMethod, 0, len(raw))
	seen := map[immunization.DeliveryMethod]bool{}
	for _, r := range raw {
		m := immunization.DeliveryMethod(strings.ToLower(strings.TrimSpace(r)))
		switch m {
		case immunization.MethodEmail, immunization.MethodSMS, immunization.MethodPush,
			immunization.MethodTelegram, immunization.MethodLog:
		default:
			return nil, fmt.Errorf("notifier.methods: unknown method %q", r)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.RatePerSec < 0 || nc.Burst < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec and notifier.burst must be >= 0")
	}
	timeout, err := config.DurationOr("notifier.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	methods, err := mapMethods(nc.Methods)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:     nc.RatePerSec,
		Burst:          nc.Burst,
		SendTimeout:    timeout,
		DefaultMethods: methods,
	}, nil
}

// mapTelegramConfig reports whether the telegram transport is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Notifier.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, fmt.Errorf("notifier.telegram.token is required when telegram is enabled")
	}
	if tc.DefaultChatID == 0 && len(tc.Recipients) == 0 {
		return telegram.Config{}, false, fmt.Errorf("notifier.telegram: default_chat_id or recipients required")
	}
	return telegram.Config{
		Token:          strings.TrimSpace(tc.Token),
		DefaultChatID:  tc.DefaultChatID,
		Recipients:     tc.Recipients,
		ThreadID:       tc.ThreadID,
		DisablePreview: tc.DisablePreview,
	}, true, nil
}

func mapScheduleConfig(cfg *config.Config, loc *time.Location) (schedule.Config, error) {
	grace := 30
	if g := cfg.Engine.GracePeriodDays; g != nil {
		if *g < 0 {
			return schedule.Config{}, fmt.Errorf("engine.grace_period_days must be >= 0")
		}
		grace = *g
	}
	if cfg.Engine.Workers < 0 {
		return schedule.Config{}, fmt.Errorf("engine.workers must be >= 0")
	}
	return schedule.Config{GracePeriodDays: grace, Workers: cfg.Engine.Workers, Location: loc}, nil
}

func mapReminderConfig(cfg *config.Config, loc *time.Location) (reminder.Config, error) {
	ec := cfg.Engine
	for _, l := range ec.LeadTimes {
		if l <= 0 {
			return reminder.Config{}, fmt.Errorf("engine.lead_times: %d is not a positive day count", l)
		}
	}
	grace := 7
	if g := ec.OverdueGraceDays; g != nil {
		if *g < 1 {
			return reminder.Config{}, fmt.Errorf("engine.overdue_grace_days must be >= 1")
		}
		grace = *g
	}
	methods, err := mapMethods(cfg.Notifier.Methods)
	if err != nil {
		return reminder.Config{}, err
	}
	out := reminder.Config{
		LeadTimes:        ec.LeadTimes,
		OverdueGraceDays: grace,
		OverdueRepeat:    ec.OverdueRepeat,
		Methods:          methods,
		Workers:          ec.Workers,
		Location:         loc,
	}
	if out.ReminderDedup, err = config.DurationOr("engine.reminder_dedup", ec.ReminderDedup, 24*time.Hour); err != nil {
		return reminder.Config{}, err
	}
	if out.OverdueDedup, err = config.DurationOr("engine.overdue_dedup", ec.OverdueDedup, 7*24*time.Hour); err != nil {
		return reminder.Config{}, err
	}
	if out.ResendWindow, err = config.DurationOr("engine.resend_window", ec.ResendWindow, 72*time.Hour); err != nil {
		return reminder.Config{}, err
	}
	return out, nil
}

func mapRetentionConfig(cfg *config.Config) (retention.Config, error) {
	var (
		out retention.Config
		err error
	)
	if out.NotificationRetention, err = config.DurationOr("engine.notification_retention", cfg.Engine.NotificationRetention, 90*24*time.Hour); err != nil {
		return retention.Config{}, err
	}
	if out.RecordRetention, err = config.SignedDurationOr("engine.record_retention", cfg.Engine.RecordRetention, 2*365*24*time.Hour); err != nil {
		return retention.Config{}, err
	}
	return out, nil
}

// mapJobOverrides converts the jobs section into registry overrides.
// Unknown job names and bad schedules are rejected.
func mapJobOverrides(cfg *config.Config) (map[string]jobs.Spec, error) {
	if len(cfg.Jobs) == 0 {
		return nil, nil
	}
	out := make(map[string]jobs.Spec, len(cfg.Jobs))
	for name, jc := range cfg.Jobs {
		if !jobs.Known(name) {
			return nil, fmt.Errorf("jobs.%s: %w", name, jobs.ErrUnknownJob)
		}
		sched := strings.TrimSpace(jc.Schedule)
		if sched != "" {
			if err := scheduler.ValidateSchedule(sched); err != nil {
				return nil, fmt.Errorf("jobs.%s.schedule: %w", name, err)
			}
		}
		timeout, err := config.Duration("jobs."+name+".timeout", jc.Timeout)
		if err != nil {
			return nil, err
		}
		out[name] = jobs.Spec{Enabled: jc.Enabled, Schedule: sched, Timeout: timeout}
	}
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.DurationOr("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.DurationOr("ops.write_timeout", oc.WriteTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.DurationOr("ops.idle_timeout", oc.IdleTimeout, 2*time.Minute); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

// validateConfig rejects configs that would fail at startup. It gates hot reloads.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	loc, err := mapLocation(cfg)
	if err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScheduleConfig(cfg, loc); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg, loc); err != nil {
		return err
	}
	if _, err := mapRetentionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobOverrides(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if cfg.Journal.Keep < 0 {
		return fmt.Errorf("journal.keep must be >= 0")
	}
	return nil
}
