package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immunizer/internal/eventbus"
	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	"immunizer/internal/task/engine"
	"immunizer/internal/task/scheduler"
	logx "immunizer/pkg/logx"
)

type harness struct {
	runner  *Runner
	sched   *scheduler.Service
	journal *storage.Journal
	bus     eventbus.Bus
}

func newHarness(t *testing.T) harness {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), bus)
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	journal, err := storage.OpenJournal("", 20, logx.Nop())
	require.NoError(t, err)

	r := New(sched, eng, journal, logx.Nop(), bus, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
		_ = journal.Close()
	})
	return harness{runner: r, sched: sched, journal: journal, bus: bus}
}

func reportPass(rep immunization.Report) Pass {
	return func(context.Context) (immunization.Report, error) { return rep, nil }
}

func TestDefaults(t *testing.T) {
	p := Passes{
		Upcoming: reportPass(immunization.Report{}),
		Overdue:  reportPass(immunization.Report{}),
		Cleanup:  reportPass(immunization.Report{}),
		Generate: reportPass(immunization.Report{}),
	}

	names := func(js []Job) []string {
		out := make([]string, 0, len(js))
		for _, j := range js {
			out = append(out, j.Name)
		}
		return out
	}

	assert.Equal(t, []string{DailyReminders, OverdueCheck, Cleanup}, names(Defaults(nil, p)))

	on, off := true, false
	js := Defaults(map[string]Spec{
		Cleanup:            {Enabled: &off},
		ScheduleGeneration: {Enabled: &on, Schedule: "0 3 * * *"},
		ResendFailed:       {Enabled: &on},
		DailyReminders:     {Schedule: "30 8 * * *", Timeout: time.Minute},
	}, p)
	assert.Equal(t, []string{DailyReminders, OverdueCheck, ScheduleGeneration}, names(js), "resend has no pass")
	assert.Equal(t, "30 8 * * *", js[0].Schedule)
	assert.Equal(t, time.Minute, js[0].Timeout)
	assert.Equal(t, "0 3 * * *", js[2].Schedule)

	assert.True(t, Known(ResendFailed))
	assert.False(t, Known("nightly"))
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, j := range Defaults(nil, Passes{
		Upcoming: reportPass(immunization.Report{}),
		Overdue:  reportPass(immunization.Report{}),
		Cleanup:  reportPass(immunization.Report{}),
	}) {
		require.NoError(t, h.runner.Register(j))
	}

	st := h.runner.Status()
	assert.False(t, st.Active)
	require.Len(t, st.Jobs, 3)

	require.NoError(t, h.runner.Initialize(ctx))
	require.NoError(t, h.runner.Initialize(ctx))
	st = h.runner.Status()
	assert.True(t, st.Active)
	assert.Equal(t, DailyReminders, st.Jobs[0].Name)
	assert.False(t, st.Jobs[0].Next.IsZero())
	assert.True(t, h.sched.Has(OverdueCheck))

	h.runner.Stop(ctx)
	assert.False(t, h.runner.Status().Active)
	assert.False(t, h.sched.Has(OverdueCheck))

	require.NoError(t, h.runner.Restart(ctx))
	assert.True(t, h.runner.Status().Active)
	assert.True(t, h.sched.Has(Cleanup))
	assert.Equal(t, []string{Cleanup, DailyReminders, OverdueCheck}, h.runner.Names())
}

func TestRegister_RejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	err := h.runner.Register(Job{Name: "x", Schedule: "every tuesday", Run: reportPass(immunization.Report{})})
	assert.Error(t, err)
	err = h.runner.Register(Job{Name: "y", Schedule: "0 9 * * *"})
	assert.Error(t, err)
}

func TestRunJob_Unknown(t *testing.T) {
	h := newHarness(t)
	res, err := h.runner.RunJob(context.Background(), "nightly")
	require.ErrorIs(t, err, ErrUnknownJob)
	assert.False(t, res.Success)
	assert.False(t, res.ExecutedAt.IsZero())
}

func TestRunJob_RecordsJournalAndEvent(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	require.NoError(t, h.runner.Register(Job{
		Name:     DailyReminders,
		Schedule: "0 9 * * *",
		Run:      reportPass(immunization.Report{Processed: 3, Created: 2, Succeeded: 2, Skipped: 1}),
	}))

	res, err := h.runner.RunJob(context.Background(), DailyReminders)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Report)
	assert.Equal(t, 2, res.Report.Created)
	assert.Contains(t, res.Message, "created=2")

	last, ok := h.journal.LastFor(DailyReminders)
	require.True(t, ok)
	assert.Equal(t, TriggerManual, last.Trigger)
	assert.True(t, last.Success)
	assert.Equal(t, 3, last.Processed)
	hist := h.runner.History(10)
	require.Len(t, hist, 1)
	assert.Equal(t, DailyReminders, hist[0].Job)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypePassCompleted {
				continue
			}
			pe, ok := ev.Data.(PassEvent)
			require.True(t, ok)
			assert.Equal(t, DailyReminders, pe.Job)
			return
		case <-deadline:
			t.Fatal("pass.completed not published")
		}
	}
}

func TestRunJob_PassError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runner.Register(Job{
		Name:     OverdueCheck,
		Schedule: "0 10 * * *",
		Run: func(context.Context) (immunization.Report, error) {
			return immunization.Report{}, errors.New("store unreachable")
		},
	}))

	res, err := h.runner.RunJob(context.Background(), OverdueCheck)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "store unreachable")

	last, ok := h.journal.LastFor(OverdueCheck)
	require.True(t, ok)
	assert.False(t, last.Success)
}

func TestRunJob_RefusesOverlap(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, h.runner.Register(Job{
		Name:     Cleanup,
		Schedule: "0 2 * * 0",
		Run: func(context.Context) (immunization.Report, error) {
			close(started)
			<-release
			return immunization.Report{}, nil
		},
	}))

	first := make(chan RunResult, 1)
	go func() {
		res, _ := h.runner.RunJob(context.Background(), Cleanup)
		first <- res
	}()
	<-started

	assert.True(t, h.runner.Status().Jobs[0].Running)
	res, err := h.runner.RunJob(context.Background(), Cleanup)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgAlreadyRunning, res.Message)

	close(release)
	assert.True(t, (<-first).Success)
	assert.False(t, h.runner.Status().Jobs[0].Running)
}
