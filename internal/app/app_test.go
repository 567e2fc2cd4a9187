package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immunizer/internal/config"
	"immunizer/internal/immunization"
	"immunizer/internal/jobs"
	"immunizer/internal/storage"
)

const testCatalog = `
vaccines:
  - id: mmr
    name: MMR
    age_windows:
      - {min_age: 0, max_age: 400, unit: days}
    doses:
      - {dose_number: 1, age_in_days_at_dose: 365}
`

func writeFiles(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(testCatalog), 0o600))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestApp_SeedsCatalogAndRunsJobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(testCatalog), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
logging: {level: error}
storage: {driver: memory}
scheduler: {enabled: false, timezone: UTC}
catalog: {path: `+filepath.Join(dir, "catalog.yaml")+`}
notifier: {methods: [log]}
`), 0o600))

	dob := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := dob.AddDate(0, 0, 362).Add(8 * time.Hour)
	clock := func() time.Time { return now }

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	require.NoError(t, err)
	require.NoError(t, validateConfig(context.Background(), cfg))

	a, err := build(cfgm, cfg, clock)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.store.UpsertChild(ctx, immunization.Child{ID: "c1", Name: "Ada", DateOfBirth: dob, ParentID: "p1", CreatedAt: now}))

	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	}()

	recs, err := a.store.FindRecords(ctx, storage.RecordFilter{ChildID: "c1"})
	require.NoError(t, err)
	require.Len(t, recs, 1, "fresh catalog vaccine is scheduled at start")
	assert.Equal(t, immunization.StatusScheduled, recs[0].Status)

	res, err := a.Runner().RunJob(ctx, jobs.DailyReminders)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.Created)

	notes, err := a.store.FindNotifications(ctx, storage.NotificationFilter{RecordID: recs[0].ID})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, immunization.NotificationSent, notes[0].Status)

	_, err = a.Runner().RunJob(ctx, "weekly-report")
	assert.ErrorIs(t, err, jobs.ErrUnknownJob)

	st := a.Runner().Status()
	assert.True(t, st.Active)
	assert.Len(t, st.Jobs, 3, "default registry without optional jobs")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	path := writeFiles(t, `scheduler: {timezone: Mars/Olympus}`)
	_, err := New(path)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	ctx := context.Background()
	bad := map[string]string{
		"sqlite without path": `{"storage":{"driver":"sqlite"}}`,
		"unknown driver":      `{"storage":{"driver":"mongo"}}`,
		"unknown method":      `{"notifier":{"methods":["pigeon"]}}`,
		"zero lead time":      `{"engine":{"lead_times":[0]}}`,
		"negative grace":      `{"engine":{"grace_period_days":-1}}`,
		"unknown job":         `{"jobs":{"weekly-report":{"schedule":"0 9 * * 1"}}}`,
		"bad job schedule":    `{"jobs":{"cleanup":{"schedule":"every tuesday"}}}`,
		"telegram no token":   `{"notifier":{"telegram":{"enabled":true,"default_chat_id":1}}}`,
		"bad dedup":           `{"engine":{"reminder_dedup":"soon"}}`,
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Decode("c.json", []byte(raw))
			require.NoError(t, err)
			assert.Error(t, validateConfig(ctx, cfg))
		})
	}

	cfg, err := config.Decode("c.json", []byte(`{}`))
	require.NoError(t, err)
	assert.NoError(t, validateConfig(ctx, cfg))
}

func TestMapConfigDefaults(t *testing.T) {
	cfg, err := config.Decode("c.json", []byte(`{"engine":{"grace_period_days":0,"record_retention":"-1s"}}`))
	require.NoError(t, err)

	sc, err := mapScheduleConfig(cfg, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 0, sc.GracePeriodDays, "explicit zero grace is kept")

	rc, err := mapReminderConfig(cfg, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 7, rc.OverdueGraceDays)
	assert.Equal(t, 24*time.Hour, rc.ReminderDedup)
	assert.Equal(t, 7*24*time.Hour, rc.OverdueDedup)
	assert.Equal(t, []immunization.DeliveryMethod{immunization.MethodLog}, rc.Methods)

	kc, err := mapRetentionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, kc.NotificationRetention)
	assert.Less(t, kc.RecordRetention, time.Duration(0))

	ec, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, 2, ec.Workers)

	sto, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", sto.Driver)
}

func TestMapJobOverrides(t *testing.T) {
	cfg, err := config.Decode("c.json", []byte(`{"jobs":{"resend-failed":{"enabled":true,"timeout":"5m"}}}`))
	require.NoError(t, err)
	ov, err := mapJobOverrides(cfg)
	require.NoError(t, err)
	require.Contains(t, ov, jobs.ResendFailed)
	assert.True(t, *ov[jobs.ResendFailed].Enabled)
	assert.Equal(t, 5*time.Minute, ov[jobs.ResendFailed].Timeout)
}
