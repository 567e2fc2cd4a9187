package notifier

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
	logx "immunizer/pkg/logx"
)

type fakeTransport struct {
	method immunization.DeliveryMethod
	err    error
	sent   []string
}

func (f *fakeTransport) Method() immunization.DeliveryMethod { return f.method }

func (f *fakeTransport) Send(ctx context.Context, n immunization.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n.ID)
	return nil
}

func newService(ts ...Transport) *Service {
	return New(Config{RatePerSec: 1000}, logx.Nop(), nil, ts...)
}

func TestDispatch_DeliveredWhenAnyMethodSucceeds(t *testing.T) {
	sms := &fakeTransport{method: immunization.MethodSMS, err: errors.New("gateway down")}
	tg := &fakeTransport{method: immunization.MethodTelegram}
	s := newService(sms, tg)

	out := s.Dispatch(context.Background(), immunization.Notification{
		ID:      "n1",
		Methods: []immunization.DeliveryMethod{immunization.MethodSMS, immunization.MethodTelegram},
	})
	assert.True(t, out.Delivered)
	assert.NoError(t, out.Err)
	assert.Equal(t, "gateway down", out.Failures[immunization.MethodSMS])
	assert.Equal(t, []string{"n1"}, tg.sent)
}

func TestDispatch_FailureWrapsSentinel(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{RatePerSec: 1000}, logx.Nop(), bus)
	out := s.Dispatch(context.Background(), immunization.Notification{
		ID:      "n1",
		Methods: []immunization.DeliveryMethod{immunization.MethodEmail},
	})
	assert.False(t, out.Delivered)
	require.ErrorIs(t, out.Err, immunization.ErrDispatchFailure)
	assert.Contains(t, out.Err.Error(), "email")

	ev := <-ch
	assert.Equal(t, eventbus.TypeNotifyFailed, ev.Type)

	h := s.Recent()
	require.Len(t, h, 1)
	assert.False(t, h[0].Delivered)
}

func TestDispatch_DefaultMethods(t *testing.T) {
	lg := &fakeTransport{method: immunization.MethodLog}
	s := newService(lg)
	out := s.Dispatch(context.Background(), immunization.Notification{ID: "n"})
	assert.True(t, out.Delivered)
	assert.Len(t, lg.sent, 1)
	assert.Equal(t, []immunization.DeliveryMethod{immunization.MethodLog}, s.Methods())
}

func TestOutbox_RecordsOutcome(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	now := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("sent", func(t *testing.T) {
		ob := NewOutbox(st, newService(&fakeTransport{method: immunization.MethodLog}), logx.Nop(), clock)
		n, err := ob.Send(ctx, immunization.Notification{Type: immunization.NotificationReminder, RecordID: "r1"})
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, immunization.NotificationSent, n.Status)
		require.NotNil(t, n.SentAt)
		assert.Equal(t, 1, n.Attempts)
	})

	t.Run("failed stays failed", func(t *testing.T) {
		ob := NewOutbox(st, newService(&fakeTransport{method: immunization.MethodLog, err: errors.New("x")}), logx.Nop(), clock)
		n, err := ob.Send(ctx, immunization.Notification{Type: immunization.NotificationOverdue, RecordID: "r2"})
		require.ErrorIs(t, err, immunization.ErrDispatchFailure)

		got, err := st.FindNotifications(ctx, storage.NotificationFilter{RecordID: "r2"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, n.ID, got[0].ID)
		assert.Equal(t, immunization.NotificationFailed, got[0].Status)
		assert.NotEmpty(t, got[0].Error)
		assert.True(t, got[0].CreatedAt.Equal(now))
	})
}
