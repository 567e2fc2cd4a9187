package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "immunizer/pkg/logx"
)

func TestJournal_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	at := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	j, err := OpenJournal(path, 10, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), RunEntry{At: at, Job: "daily-reminders", Success: true, Processed: 3}))
	require.NoError(t, j.Append(context.Background(), RunEntry{At: at.Add(time.Hour), Job: "overdue-check", Success: false, Error: "boom"}))
	require.NoError(t, j.Close())

	j2, err := OpenJournal(path, 10, logx.Nop())
	require.NoError(t, err)
	defer j2.Close()

	recent := j2.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "overdue-check", recent[0].Job)
	assert.Equal(t, "boom", recent[0].Error)

	last, ok := j2.LastFor("daily-reminders")
	require.True(t, ok)
	assert.Equal(t, 3, last.Processed)
	assert.True(t, last.At.Equal(at))
}

func TestJournal_KeepsBoundedTail(t *testing.T) {
	j, err := OpenJournal("", 3, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(context.Background(), RunEntry{Job: "j", Processed: i}))
	}
	recent := j.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, 4, recent[0].Processed)
	assert.Equal(t, 2, recent[2].Processed)

	_, ok := j.LastFor("missing")
	assert.False(t, ok)
}
