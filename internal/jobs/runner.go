// Package jobs owns the named recurring jobs and their control surface.
//
// Triggers come from the scheduler and execution from the task engine. Cron
// firings and manual runs of the same job share one busy gate, so a job never
// runs twice at once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	"immunizer/internal/task/engine"
	"immunizer/internal/task/scheduler"
	logx "immunizer/pkg/logx"
)

var ErrUnknownJob = errors.New("unknown job")

const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// MsgAlreadyRunning is the RunResult message when a run is refused for overlap.
const MsgAlreadyRunning = "already running"

// Journal stores run entries.
type Journal interface {
	Append(ctx context.Context, e storage.RunEntry) error
	LastFor(job string) (storage.RunEntry, bool)
	Recent(n int) []storage.RunEntry
}

// RunResult is the outcome of a manual run.
type RunResult struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	ExecutedAt time.Time            `json:"executed_at"`
	Report     *immunization.Report `json:"report,omitempty"`
}

type JobStatus struct {
	Name     string            `json:"name"`
	Schedule string            `json:"schedule"`
	Running  bool              `json:"running"`
	Next     time.Time         `json:"next,omitempty"`
	Last     *storage.RunEntry `json:"last,omitempty"`
}

type Status struct {
	Active bool        `json:"active"`
	Jobs   []JobStatus `json:"jobs"`
}

// PassEvent is published with eventbus.TypePassCompleted.
type PassEvent struct {
	Job     string
	Trigger string
	Report  immunization.Report
	Err     error
}

type Runner struct {
	mu     sync.Mutex
	jobs   map[string]Job
	order  []string
	active bool

	sched   *scheduler.Service
	eng     *engine.Service
	journal Journal
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time
}

func New(sched *scheduler.Service, eng *engine.Service, journal Journal, log logx.Logger, bus eventbus.Bus, clock func() time.Time) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Runner{
		jobs:    map[string]Job{},
		sched:   sched,
		eng:     eng,
		journal: journal,
		bus:     bus,
		log:     log.With(logx.String("comp", "jobs")),
		now:     clock,
	}
}

// Register adds or replaces a job. An active runner registers its trigger immediately.
func (r *Runner) Register(j Job) error {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return errors.New("job name required")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s: pass required", j.Name)
	}
	if err := scheduler.ValidateSchedule(j.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.Name]; !ok {
		r.order = append(r.order, j.Name)
	}
	r.jobs[j.Name] = j
	if r.active {
		return r.scheduleLocked(j)
	}
	return nil
}

// Initialize starts the engine and the triggers of every registered job.
// It is idempotent.
func (r *Runner) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}

	r.eng.Start(ctx)
	for _, name := range r.order {
		if err := r.scheduleLocked(r.jobs[name]); err != nil {
			for _, n := range r.order {
				r.sched.Remove(n)
			}
			return err
		}
	}
	r.sched.Start(ctx)
	r.active = true
	r.log.Info("jobs initialized", logx.Int("count", len(r.order)), logx.String("jobs", strings.Join(r.order, ",")))
	return nil
}

func (r *Runner) scheduleLocked(j Job) error {
	run := j.Run
	name := j.Name
	err := r.sched.AddSchedule(name, j.Schedule, j.Timeout, func(ctx context.Context) error {
		_, err := r.execute(ctx, name, TriggerCron, run)
		return err
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	return nil
}

// Stop cancels all triggers and waits for running jobs up to ctx.
// Registrations are kept for Restart.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	r.sched.Stop(ctx)
	for _, n := range names {
		r.sched.Remove(n)
	}
	r.eng.Stop(ctx)
	r.log.Info("jobs stopped")
}

func (r *Runner) Restart(ctx context.Context) error {
	r.Stop(ctx)
	return r.Initialize(ctx)
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	active := r.active
	order := append([]string(nil), r.order...)
	jobs := make(map[string]Job, len(r.jobs))
	for k, v := range r.jobs {
		jobs[k] = v
	}
	r.mu.Unlock()

	next := map[string]time.Time{}
	for _, si := range r.sched.Snapshot().Schedules {
		next[si.Name] = si.Next
	}

	st := Status{Active: active, Jobs: make([]JobStatus, 0, len(order))}
	for _, name := range order {
		js := JobStatus{
			Name:     name,
			Schedule: jobs[name].Schedule,
			Running:  r.eng.Busy(name),
			Next:     next[name],
		}
		if r.journal != nil {
			if last, ok := r.journal.LastFor(name); ok {
				js.Last = &last
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// Names lists registered jobs, sorted.
func (r *Runner) Names() []string {
	r.mu.Lock()
	out := append([]string(nil), r.order...)
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// History returns up to n journal entries, newest first.
func (r *Runner) History(n int) []storage.RunEntry {
	if r.journal == nil {
		return nil
	}
	return r.journal.Recent(n)
}

// RunJob executes name now on the caller's goroutine. It works whether or not
// the runner is active and refuses to overlap a run already in progress.
func (r *Runner) RunJob(ctx context.Context, name string) (RunResult, error) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()

	res := RunResult{ExecutedAt: r.now()}
	if !ok {
		res.Message = fmt.Sprintf("unknown job %q", name)
		return res, fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}

	var (
		rep  immunization.Report
		done bool
	)
	err := r.eng.RunNow(ctx, engine.Task{
		Name:    name,
		Timeout: j.Timeout,
		Run: func(ctx context.Context) error {
			var err error
			rep, err = r.execute(ctx, name, TriggerManual, j.Run)
			done = true
			return err
		},
	})
	if done {
		res.Report = &rep
	}
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		res.Message = MsgAlreadyRunning
	case err != nil:
		res.Message = err.Error()
	default:
		res.Success = true
		res.Message = summary(rep)
	}
	return res, nil
}

// execute runs one pass and records it in the journal and on the bus.
// Per-item failures are in the report; only a pass-level error fails the job.
func (r *Runner) execute(ctx context.Context, name, trigger string, run Pass) (immunization.Report, error) {
	at := r.now()
	start := time.Now()
	rep, err := run(ctx)
	took := time.Since(start)

	e := storage.RunEntry{
		At:        at,
		Job:       name,
		Trigger:   trigger,
		Success:   err == nil,
		TookMS:    took.Milliseconds(),
		Processed: rep.Processed,
		Created:   rep.Created,
		Succeeded: rep.Succeeded,
		Skipped:   rep.Skipped,
		Failed:    rep.Failed,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if r.journal != nil {
		if jerr := r.journal.Append(context.WithoutCancel(ctx), e); jerr != nil {
			r.log.Warn("journal append failed", logx.String("job", name), logx.Err(jerr))
		}
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypePassCompleted,
		Time: at,
		Data: PassEvent{Job: name, Trigger: trigger, Report: rep, Err: err},
	})

	fields := []logx.Field{
		logx.String("job", name),
		logx.String("trigger", trigger),
		logx.Int("processed", rep.Processed),
		logx.Int("created", rep.Created),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", took),
	}
	if err != nil {
		r.log.Error("job failed", append(fields, logx.Err(err))...)
		return rep, err
	}
	r.log.Info("job finished", fields...)
	return rep, nil
}

func summary(rep immunization.Report) string {
	return fmt.Sprintf("processed=%d created=%d succeeded=%d skipped=%d failed=%d",
		rep.Processed, rep.Created, rep.Succeeded, rep.Skipped, rep.Failed)
}
