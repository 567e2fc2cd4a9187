package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

var now = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func TestRun_DeletesOnlyOldSentNotifications(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	for _, n := range []immunization.Notification{
		{ID: "old-sent", Type: immunization.NotificationReminder, Status: immunization.NotificationSent, CreatedAt: daysAgo(91)},
		{ID: "new-sent", Type: immunization.NotificationReminder, Status: immunization.NotificationSent, CreatedAt: daysAgo(89)},
		{ID: "old-failed", Type: immunization.NotificationOverdue, Status: immunization.NotificationFailed, CreatedAt: daysAgo(120)},
	} {
		require.NoError(t, st.CreateNotification(ctx, n))
	}

	rep, err := New(st, logx.Nop(), Config{}, func() time.Time { return now }).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	left, err := st.FindNotifications(ctx, storage.NotificationFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(left))
	for _, n := range left {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"new-sent", "old-failed"}, ids)
}

func TestRun_RecordRetention(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	old := immunization.VaccinationRecord{ID: "done", ChildID: "c1", VaccineID: "mmr", DoseNumber: 1,
		Status: immunization.StatusCompleted, UpdatedAt: daysAgo(800)}
	open := immunization.VaccinationRecord{ID: "open", ChildID: "c1", VaccineID: "mmr", DoseNumber: 2,
		Status: immunization.StatusScheduled, UpdatedAt: daysAgo(800)}
	require.NoError(t, st.CreateRecord(ctx, old))
	require.NoError(t, st.CreateRecord(ctx, open))

	clock := func() time.Time { return now }

	_, err := New(st, logx.Nop(), Config{RecordRetention: -1}, clock).Run(ctx)
	require.NoError(t, err)
	_, err = st.GetRecord(ctx, "done")
	require.NoError(t, err, "records are kept when record retention is off")

	rep, err := New(st, logx.Nop(), Config{}, clock).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	_, err = st.GetRecord(ctx, "done")
	assert.ErrorIs(t, err, immunization.ErrNotFound)
	_, err = st.GetRecord(ctx, "open")
	assert.NoError(t, err)
}
