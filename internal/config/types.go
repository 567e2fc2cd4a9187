package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "72h").
// Only logging, ops and the trigger timezone are applied on hot reload; every other
// change is logged as "restart required".
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Journal   JournalConfig   `json:"journal"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of job runs.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Jobs overrides the default job registry, keyed by job name.
	Jobs map[string]JobConfig `json:"jobs,omitempty"`

	Engine   EngineConfig   `json:"engine"`
	Notifier NotifierConfig `json:"notifier"`
	Catalog  CatalogConfig  `json:"catalog"`
	Ops      OpsConfig      `json:"ops"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./immunizer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// JournalConfig controls the JSON Lines run journal. An empty path keeps it in memory.
type JournalConfig struct {
	Path string `json:"path,omitempty"`
	Keep int    `json:"keep,omitempty"`
}

type SchedulerConfig struct {
	// Enabled defaults to true. When false, jobs only run on demand.
	Enabled *bool `json:"enabled,omitempty"`

	// Trigger timezone. Calendar-day arithmetic uses it too.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// JobConfig overrides one job. Omitted fields keep the job's defaults.
type JobConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// EngineConfig holds scheduling and reminder tunables.
//
// Defaults:
//   - lead_times: [1, 3, 7, 14]
//   - grace_period_days: 30
//   - overdue_grace_days: 7
//   - reminder_dedup: "24h", overdue_dedup: "7d"
//   - resend_window: "72h"
//   - notification_retention: "90d"
//   - record_retention: "730d"; a negative value keeps completed records forever
type EngineConfig struct {
	LeadTimes        []int `json:"lead_times,omitempty"`
	GracePeriodDays  *int  `json:"grace_period_days,omitempty"`
	OverdueGraceDays *int  `json:"overdue_grace_days,omitempty"`

	ReminderDedup string `json:"reminder_dedup,omitempty"`
	OverdueDedup  string `json:"overdue_dedup,omitempty"`
	OverdueRepeat bool   `json:"overdue_repeat,omitempty"`
	ResendWindow  string `json:"resend_window,omitempty"`

	NotificationRetention string `json:"notification_retention,omitempty"`
	RecordRetention       string `json:"record_retention,omitempty"`

	Workers int `json:"workers,omitempty"`
}

// NotifierConfig controls dispatch. Methods are the delivery methods every
// notification requests, from: email, sms, push, telegram, log.
type NotifierConfig struct {
	RatePerSec  int      `json:"rate_per_sec,omitempty"`
	Burst       int      `json:"burst,omitempty"`
	SendTimeout string   `json:"send_timeout,omitempty"`
	Methods     []string `json:"methods,omitempty"`

	// NotifyOnComplete sends a confirmation when a dose is recorded.
	NotifyOnComplete bool `json:"notify_on_complete,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled        bool             `json:"enabled"`
	Token          string           `json:"token,omitempty"`
	DefaultChatID  int64            `json:"default_chat_id,omitempty"`
	Recipients     map[string]int64 `json:"recipients,omitempty"` // parent id -> chat id
	ThreadID       int              `json:"thread_id,omitempty"`
	DisablePreview bool             `json:"disable_preview,omitempty"`
}

// CatalogConfig points at the vaccine catalog seed file. Empty disables seeding.
type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

// OpsConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerEnabled reports the effective scheduler.enabled.
func (c *Config) SchedulerEnabled() bool {
	if c == nil || c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}
