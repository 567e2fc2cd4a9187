package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"immunizer/internal/eventbus"
	logx "immunizer/pkg/logx"
)

const slowTask = 750 * time.Millisecond

// TaskEvent is the payload of task lifecycle events on the bus.
type TaskEvent struct {
	Name   string        `json:"name"`
	At     time.Time     `json:"at"`
	Waited time.Duration `json:"waited,omitempty"`
	Took   time.Duration `json:"took,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// exec runs one task and releases its gate.
func (s *Service) exec(ctx context.Context, qt queued) (err error) {
	t := qt.task
	defer s.release(t)

	start := time.Now()
	waited := max(start.Sub(qt.at), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && waited > maxDelay {
		s.dropped(start, t, dropStale, waited)
		return fmt.Errorf("%s: queued for %s", t.Name, waited)
	}

	s.stats.inFlight.Add(1)
	defer s.stats.inFlight.Add(-1)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start, Data: TaskEvent{Name: t.Name, At: start, Waited: waited}})

	runCtx := ctx
	if d := s.timeoutFor(t); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	err = s.call(runCtx, t)
	if err == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = runCtx.Err()
	}

	took := time.Since(start)
	ev := TaskEvent{Name: t.Name, At: start, Waited: waited, Took: took}
	run := Run{Name: t.Name, Started: start, Waited: waited, Took: took}
	typ := eventbus.TypeTaskFinished
	switch {
	case err != nil:
		typ = eventbus.TypeTaskFailed
		ev.Reason, run.Err = err.Error(), err.Error()
		s.log.Warn("task failed", logx.String("task", t.Name), logx.Duration("took", took), logx.Err(err))
	case took >= slowTask:
		s.log.Info("task done", logx.String("task", t.Name), logx.Duration("took", took))
	default:
		s.log.Debug("task done", logx.String("task", t.Name), logx.Duration("took", took))
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: start.Add(took), Data: ev})
	s.stats.record(run)
	return err
}

func (s *Service) call(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}
