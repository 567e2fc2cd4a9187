// Package supervisor runs named background goroutines under one context.
//
// Panics become errors. The first error is kept and, with
// WithCancelOnError, cancels every sibling.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "immunizer/pkg/logx"
)

// healthyRun resets the restart backoff once a run lasted this long.
const healthyRun = 30 * time.Second

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	errMu sync.Mutex
	err   error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(on bool) Option { return func(s *Supervisor) { s.cancelOnErr = on } }

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{log: logx.Nop(), done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) record(err error, fatal bool) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if fatal && s.cancelOnErr {
		s.cancel()
	}
}

// call runs fn, turning a panic into an error.
func (s *Supervisor) call(name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(s.ctx)
}

// Go runs fn once. Returning context.Canceled is not a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.call(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.record(fmt.Errorf("%s: %w", name, err), true)
		}
	}()
}

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int
	reportErr   bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up and fails after n restarts. 0 means never.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithPublishFirstError makes restartable failures visible through Err.
func WithPublishFirstError(on bool) RestartOption { return func(p *restartPolicy) { p.reportErr = on } }

// GoRestart runs fn until it returns nil or the context ends, restarting it
// after errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := p.min
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.call(name, fn)
			if err == nil || s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			err = fmt.Errorf("%s: %w", name, err)
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.record(err, true)
				return
			}
			if p.reportErr {
				s.record(err, false)
			}
			if time.Since(began) >= healthyRun {
				delay = p.min
			}
			wait := delay + rand.N(delay/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("in", wait), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			delay = min(delay*2, p.max)
		}
	}()
}

// Stop cancels the context and waits for every goroutine up to ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
