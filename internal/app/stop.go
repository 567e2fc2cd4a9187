package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "immunizer/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

const slowStopStep = 500 * time.Millisecond

type stopStep struct {
	name   string
	budget time.Duration
	fn     func(context.Context) error
}

// Stop shuts components down in order. Each step gets its own budget,
// capped by ctx, and a step that overruns is abandoned, not awaited.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	defer func() { _ = a.logs.Close() }()
	if a.sup == nil {
		return a.closeStores()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// background loops first; running jobs keep their contexts until the runner stops
	a.sup.Cancel()

	err := a.runSteps(ctx, []stopStep{
		{"jobs", 5 * time.Second, func(c context.Context) error { a.runner.Stop(c); return nil }},
		{"ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil }},
		{"storage", time.Second, func(context.Context) error { return a.closeStores() }},
		{"supervisor", 2 * time.Second, func(c context.Context) error {
			if err := a.sup.Wait(c); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}},
	})
	a.log.Info("stopped", logx.Err(err))
	return err
}

func (a *App) runSteps(ctx context.Context, steps []stopStep) error {
	var errs []error
	for _, st := range steps {
		if err := a.runStep(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", st.name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) runStep(ctx context.Context, st stopStep) error {
	budget := st.budget
	if dl, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(dl))
	}
	if budget <= 0 {
		a.log.Warn("stop step skipped; out of time", logx.String("step", st.name))
		return context.DeadlineExceeded
	}
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	began := time.Now()
	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("panic: %v", r)
			}
		}()
		res <- st.fn(sctx)
	}()

	select {
	case err := <-res:
		took := time.Since(began)
		if took >= slowStopStep {
			a.log.Info("stop step done", logx.String("step", st.name), logx.Duration("took", took), logx.Err(err))
		} else {
			a.log.Debug("stop step done", logx.String("step", st.name), logx.Duration("took", took), logx.Err(err))
		}
		return err
	case <-sctx.Done():
		a.log.Warn("stop step overran; moving on", logx.String("step", st.name), logx.Duration("budget", budget))
		return sctx.Err()
	}
}
