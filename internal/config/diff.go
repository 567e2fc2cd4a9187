package config

import (
	"reflect"
	"sort"
	"strings"

	logx "immunizer/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never tokens) and (3) whether any change only takes effect
// after a restart. Logging and ops apply live. A scheduler.timezone change
// moves triggers live but date arithmetic keeps the old zone until restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	tzChanged := strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone)
	enabledChanged := oldCfg.SchedulerEnabled() != newCfg.SchedulerEnabled()
	if tzChanged || enabledChanged {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
		)
		restart = true
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
		restart = true
	}

	if !reflect.DeepEqual(oldCfg.Journal, newCfg.Journal) {
		changed = append(changed, "journal")
		restart = true
	}

	if !reflect.DeepEqual(derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)) {
		te := derefTaskEngine(newCfg.TaskEngine)
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
		)
		restart = true
	}

	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.String("jobs.changed", strings.Join(jobs, ",")))
		restart = true
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Any("engine.lead_times", newCfg.Engine.LeadTimes),
			logx.Bool("engine.overdue_repeat", newCfg.Engine.OverdueRepeat),
		)
		restart = true
	}

	// Notifier (never log the telegram token)
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.methods", strings.Join(newCfg.Notifier.Methods, ",")),
			logx.Bool("notifier.telegram_enabled", newCfg.Notifier.Telegram.Enabled),
			logx.Int("notifier.telegram_recipients", len(newCfg.Notifier.Telegram.Recipients)),
		)
		restart = true
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		restart = true
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func diffJobs(oldM, newM map[string]JobConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, n := oldM[name], newM[name]
		if !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
