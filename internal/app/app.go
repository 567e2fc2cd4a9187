// Package app assembles the immunization service from its config.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"immunizer/internal/catalog"
	"immunizer/internal/config"
	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	"immunizer/internal/jobs"
	"immunizer/internal/lifecycle"
	"immunizer/internal/notifier"
	"immunizer/internal/observability/metrics"
	"immunizer/internal/observability/ops"
	"immunizer/internal/reminder"
	"immunizer/internal/retention"
	"immunizer/internal/runtime/supervisor"
	"immunizer/internal/schedule"
	"immunizer/internal/storage"
	"immunizer/internal/task/engine"
	"immunizer/internal/task/scheduler"
	"immunizer/internal/transport/telegram"
	logx "immunizer/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	now  func() time.Time

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	journal *storage.Journal

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service

	tracker   *lifecycle.Tracker
	generator *schedule.Generator
	reminders *reminder.Engine
	cleaner   *retention.Cleaner
	runner    *jobs.Runner

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	ops      *ops.Service
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg, time.Now)
}

func build(cfgm *config.Manager, cfg *config.Config, clock func() time.Time) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, now: clock, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	built := false
	defer func() {
		if !built {
			_ = a.closeStores()
			_ = logSvc.Close()
		}
	}()

	var err error

	loc, _ := mapLocation(cfg)
	sc, _ := mapStorageConfig(cfg)
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.journal, err = storage.OpenJournal(cfg.Journal.Path, cfg.Journal.Keep, log.With(logx.String("comp", "journal")))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver), logx.Bool("journal_file", cfg.Journal.Path != ""))

	engCfg, _ := mapTaskEngineConfig(cfg)
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")))

	ncfg, _ := mapNotifierConfig(cfg)
	transports := []notifier.Transport{notifier.LogTransport{Log: log.With(logx.String("comp", "delivery"))}}
	if tc, ok, _ := mapTelegramConfig(cfg); ok {
		tg, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram transport: %w", err)
		}
		transports = append(transports, tg)
	}
	a.notif = notifier.New(ncfg, log.With(logx.String("comp", "notifier")), a.bus, transports...)
	for _, m := range ncfg.DefaultMethods {
		if !hasMethod(a.notif.Methods(), m) {
			a.log.Warn("delivery method has no transport; sends over it will fail", logx.String("method", string(m)))
		}
	}
	outbox := notifier.NewOutbox(a.store, a.notif, log.With(logx.String("comp", "outbox")), clock)

	a.tracker = lifecycle.New(a.store, outbox, log.With(logx.String("comp", "lifecycle")), a.bus, lifecycle.Options{
		Clock:            clock,
		Methods:          ncfg.DefaultMethods,
		NotifyOnComplete: cfg.Notifier.NotifyOnComplete,
	})

	gcfg, _ := mapScheduleConfig(cfg, loc)
	a.generator = schedule.New(a.store, log, gcfg, clock)

	rcfg, _ := mapReminderConfig(cfg, loc)
	a.reminders = reminder.New(a.store, outbox, a.tracker, log, rcfg, clock)

	kcfg, _ := mapRetentionConfig(cfg)
	a.cleaner = retention.New(a.store, log, kcfg, clock)

	a.runner = jobs.New(a.sched, a.engine, a.journal, log, a.bus, clock)
	overrides, _ := mapJobOverrides(cfg)
	for _, j := range jobs.Defaults(overrides, jobs.Passes{
		Upcoming: a.reminders.UpcomingPass,
		Overdue:  a.reminders.OverduePass,
		Cleanup:  a.cleaner.Run,
		Generate: a.generator.GenerateForAllChildren,
		Resend:   a.reminders.ResendFailed,
	}) {
		if err := a.runner.Register(j); err != nil {
			return nil, err
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	opsCfg, _ := mapOpsConfig(cfg)
	a.ops = ops.New(opsCfg, a.runner, a.registry, log)
	a.ops.SetDeliveries(a.notif.Recent)
	built = true
	return a, nil
}

func hasMethod(ms []immunization.DeliveryMethod, m immunization.DeliveryMethod) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

// Runner exposes the job control surface.
func (a *App) Runner() *jobs.Runner { return a.runner }

// Tracker exposes record lifecycle operations.
func (a *App) Tracker() *lifecycle.Tracker { return a.tracker }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start seeds the catalog, initializes the job runner and launches background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if err := a.seedCatalog(a.sup.Context(), a.cfgm.Get().Catalog.Path); err != nil {
		return err
	}
	if err := a.runner.Initialize(a.sup.Context()); err != nil {
		return err
	}
	if !a.sched.Enabled() {
		a.log.Info("scheduler disabled; jobs run on demand only")
	}
	a.ops.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub, unsubCfg := a.cfgm.Subscribe()
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsubCfg()
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("jobs", strings.Join(a.runner.Names(), ",")))
	return nil
}

// seedCatalog upserts the vaccine catalog and schedules doses of fresh vaccines.
func (a *App) seedCatalog(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		a.log.Debug("no catalog configured")
		return nil
	}
	defs, err := catalog.Load(path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	res, err := catalog.Seed(ctx, a.store, defs, a.logs.Logger().With(logx.String("comp", "catalog")), a.now())
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	a.log.Info("catalog seeded",
		logx.Int("inserted", len(res.Inserted)),
		logx.Int("updated", len(res.Updated)),
		logx.Int("unchanged", len(res.Unchanged)),
	)
	for _, v := range res.Fresh {
		rep, err := a.generator.GenerateForNewVaccine(ctx, v)
		if err != nil {
			return fmt.Errorf("schedule vaccine %s: %w", v.ID, err)
		}
		if rep.Failed > 0 {
			a.log.Warn("schedules incomplete for new vaccine", logx.String("vaccine_id", v.ID), logx.Int("failed", rep.Failed))
		}
	}
	return nil
}

// reloadLoop applies the live parts of each published config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-sub:
			if next == nil {
				continue
			}
			a.applyConfig(ctx, applied, next)
			applied = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	// Only the trigger timezone moves live; enabling or disabling the scheduler needs a restart.
	a.sched.Apply(scheduler.Config{Enabled: a.sched.Enabled(), Timezone: strings.TrimSpace(next.Scheduler.Timezone)})

	if oc, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if restart {
		a.log.Warn("restart required for some changes to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Time: a.now(), Data: sections})
}

func (a *App) closeStores() error {
	var first error
	if a.journal != nil {
		first = a.journal.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
