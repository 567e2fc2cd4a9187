package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_RecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic: bad")
}

func TestGo_CancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("nope") })
	s.Go("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail: nope")
}

func TestGoRestart_RestartsUntilClean(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("again")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGoRestart_GivesUp(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("dead", func(ctx context.Context) error { return errors.New("x") },
		WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead: x")
}

func TestGoRestart_StopsOnCancel(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("retry")
	}, WithRestartBackoff(time.Hour, time.Hour), WithPublishFirstError(true))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	require.Error(t, err, "restartable failure is published")
	assert.Contains(t, err.Error(), "loop: retry")
	assert.Equal(t, int32(1), calls.Load())
}
