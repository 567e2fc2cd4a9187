package engine

import (
	"context"
	"fmt"
	"time"

	rtsup "immunizer/internal/runtime/supervisor"
	logx "immunizer/pkg/logx"
)

type queued struct {
	task Task
	at   time.Time
}

// pool is one Start..Stop generation of workers.
type pool struct {
	q    chan queued
	sup  *rtsup.Supervisor
	stop chan struct{}
}

// Start launches the workers. It is a no-op when disabled or already running.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.pool != nil {
		return
	}
	p := &pool{
		q:    make(chan queued, s.cfg.QueueSize),
		stop: make(chan struct{}),
		// workers live until Stop, not until the caller's ctx
		sup: rtsup.New(context.Background(), rtsup.WithLogger(s.log)),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(ctx context.Context) error {
			s.work(ctx, p)
			return ctx.Err()
		}, rtsup.WithPublishFirstError(true))
	}
	s.pool = p
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop ends the workers and waits for running tasks up to ctx. Runs still
// queued are discarded and their gates released, also when ctx expires first.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	s.pool = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	close(p.stop)
	s.drain(p)
	defer s.drain(p)
	if err := p.sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err))
		return
	}
	s.log.Info("task engine stopped")
}

// drain discards queued runs of p and releases their gates.
func (s *Service) drain(p *pool) {
	for {
		select {
		case qt := <-p.q:
			s.release(qt.task)
		default:
			return
		}
	}
}

func (s *Service) stopped(p *pool) bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (s *Service) work(ctx context.Context, p *pool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case qt := <-p.q:
			_ = s.exec(ctx, qt)
		}
	}
}

// Enqueue hands t to the workers without blocking.
func (s *Service) Enqueue(t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	s.mu.Lock()
	enabled, p := s.cfg.Enabled, s.pool
	s.mu.Unlock()
	switch {
	case !enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	}

	now := time.Now()
	if !s.acquire(t) {
		s.skipped(now, t)
		return ErrOverlapSkip
	}
	select {
	case p.q <- queued{task: t, at: now}:
		if s.stopped(p) {
			// Stop may have drained already; nothing else will
			s.drain(p)
			return ErrStopped
		}
		return nil
	default:
		s.release(t)
		s.dropped(now, t, dropQueueFull, 0)
		return ErrQueueFull
	}
}

// RunNow executes t on the calling goroutine. It honors the same gate as
// queued runs and works whether or not the workers are started.
func (s *Service) RunNow(ctx context.Context, t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	now := time.Now()
	if !s.acquire(t) {
		s.skipped(now, t)
		return ErrOverlapSkip
	}
	return s.exec(ctx, queued{task: t, at: now})
}
