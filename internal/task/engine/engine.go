// Package engine executes job runs on a bounded worker pool.
//
// Queued and immediate runs share one per-name gate, so a run that is queued
// or executing blocks any other run of the same name.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"immunizer/internal/eventbus"
	logx "immunizer/pkg/logx"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: already running")
)

type Config struct {
	Enabled   bool
	Workers   int // default 2
	QueueSize int // default 64

	// DefaultTimeout applies to tasks without their own.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops runs that waited longer than this. 0 keeps them.
	MaxQueueDelay time.Duration

	HistorySize int // default 200
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is one run of a named job.
type Task struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	// AllowOverlap skips the per-name gate.
	AllowOverlap bool
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	pool *pool

	gateMu sync.Mutex
	gates  map[string]int

	stats stats
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{cfg: cfg, log: log, bus: bus, gates: map[string]int{}}
	s.stats.size = cfg.HistorySize
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool != nil
}

// Busy reports whether a gated run of name is queued or executing.
func (s *Service) Busy(name string) bool {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	return s.gates[name] > 0
}

func (s *Service) acquire(t Task) bool {
	if t.AllowOverlap {
		return true
	}
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.gates[t.Name] > 0 {
		return false
	}
	s.gates[t.Name]++
	return true
}

func (s *Service) release(t Task) {
	if t.AllowOverlap {
		return
	}
	s.gateMu.Lock()
	if s.gates[t.Name] <= 1 {
		delete(s.gates, t.Name)
	} else {
		s.gates[t.Name]--
	}
	s.gateMu.Unlock()
}

func (s *Service) timeoutFor(t Task) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DefaultTimeout
}

func validate(t Task) error {
	if t.Run == nil {
		return errors.New("task has no Run func")
	}
	if t.Name == "" {
		return errors.New("task has no Name")
	}
	return nil
}
