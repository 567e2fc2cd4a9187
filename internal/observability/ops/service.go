// Package ops serves the operational HTTP surface: health, job status,
// manual job runs, prometheus metrics and optional pprof.
package ops

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"immunizer/internal/jobs"
	"immunizer/internal/notifier"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

const defaultAddr = "127.0.0.1:8089"

// Config controls the ops server. A non-loopback Addr needs a Token unless
// AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// JobControl is the job runner surface exposed over HTTP.
type JobControl interface {
	Status() jobs.Status
	RunJob(ctx context.Context, name string) (jobs.RunResult, error)
	History(n int) []storage.RunEntry
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	srv *server

	jobs       JobControl
	gatherer   prometheus.Gatherer
	deliveries func() []notifier.HistoryItem
}

func New(cfg Config, jc JobControl, gatherer prometheus.Gatherer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{cfg: cfg, jobs: jc, gatherer: gatherer, log: log.With(logx.String("comp", "ops"))}
}

// SetDeliveries enables GET /notifications/recent. Call before Start.
func (s *Service) SetDeliveries(fn func() []notifier.HistoryItem) {
	s.mu.Lock()
	s.deliveries = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return ""
	}
	return srv.addr()
}

// Reconfigure swaps the config and starts, stops or restarts the server
// to match it.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	changed := s.cfg != cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case changed:
		s.Stop(ctx)
		s.Start(ctx)
	}
}
