package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"immunizer/internal/task/engine"
	logx "immunizer/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Asia/Jakarta"; empty means Local
}

type trigger struct {
	name    string
	spec    string // normalized, see normalizeSchedule
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu       sync.Mutex
	log      logx.Logger
	cfg      Config
	loc      *time.Location
	engine   *engine.Service
	c        *cron.Cron
	triggers []trigger

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, engine: eng, lastWarn: map[string]time.Time{}}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Running reports whether triggers are firing.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Location returns the zone triggers fire in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.locationLocked()
}

// Apply swaps the config. A running scheduler re-registers every trigger when
// the timezone changed. Enabled only takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil {
		s.loc = nil
		return
	}
	if tzChanged {
		<-s.c.Stop().Done()
		s.startLocked()
		s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.triggers)))
	}
}

// Start fires every registered trigger. It is a no-op when disabled or running.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; triggers not started")
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.triggers)))
}

func (s *Service) startLocked() {
	s.loc = s.locationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for i := range s.triggers {
		if err := s.registerLocked(&s.triggers[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.triggers[i].name), logx.String("spec", s.triggers[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering and waits for cron to settle up to ctx.
// Registrations stay for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.triggers {
		s.triggers[i].entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// AddSchedule registers or replaces the trigger called name. See
// normalizeSchedule for accepted formats. Runs of the same name never overlap.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if run == nil {
		return errors.New("job required")
	}
	spec, err := normalizeSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.triggers = append(s.triggers, trigger{name: name, spec: spec, timeout: timeout, run: run})
	if s.c == nil {
		return nil
	}
	t := &s.triggers[len(s.triggers)-1]
	if err := s.registerLocked(t); err != nil {
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.Time("next", s.c.Entry(t.entryID).Next),
	)
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.triggers {
		if t.name == name {
			return true
		}
	}
	return false
}

func (s *Service) removeLocked(name string) bool {
	for i, t := range s.triggers {
		if t.name != name {
			continue
		}
		if s.c != nil && t.entryID != 0 {
			s.c.Remove(t.entryID)
		}
		s.triggers = append(s.triggers[:i], s.triggers[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(t *trigger) error {
	name, timeout, run := t.name, t.timeout, t.run
	id, err := s.c.AddFunc(t.spec, func() {
		if s.engine == nil {
			return
		}
		s.warnEnqueue(name, s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     run,
		}))
	})
	if err != nil {
		return err
	}
	t.entryID = id
	return nil
}

// warnEnqueue logs a failed trigger at most once per throttle window per name.
// Overlap skips are expected when a run outlasts its period.
func (s *Service) warnEnqueue(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	if last := s.lastWarn[name]; !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
