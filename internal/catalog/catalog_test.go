package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

const sample = `
vaccines:
  - id: mmr
    name: MMR
    age_windows:
      - {min_age: 12, max_age: 15, unit: months}
    doses:
      - {dose_number: 1, age_in_days_at_dose: 365}
      - {dose_number: 2, age_in_days_at_dose: 1460}
  - id: hepb
    name: Hepatitis B
    active: false
    age_windows:
      - {min_age: 0, max_age: 18, unit: months}
    doses:
      - {dose_number: 1, age_in_days_at_dose: 0}
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	defs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.True(t, defs[0].Active)
	assert.False(t, defs[1].Active)
	assert.Len(t, defs[0].Doses, 2)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"inverted window": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 5, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}`,
		"bad unit": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 0, max_age: 2, unit: decades}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}`,
		"dose zero": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 0, age_in_days_at_dose: 0}]}`,
		"negative age": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: -1}]}`,
		"repeated dose": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}, {dose_number: 1, age_in_days_at_dose: 9}]}`,
		"duplicate id": `
vaccines:
  - {id: a, name: A, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}
  - {id: a, name: B, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}`,
		"unknown key": `
vaccines:
  - {id: a, name: A, colour: red, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}`,
		"missing name": `
vaccines:
  - {id: a, age_windows: [{min_age: 0, max_age: 2, unit: days}], doses: [{dose_number: 1, age_in_days_at_dose: 0}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	defs, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSeed_ReportsFreshVaccines(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	defs, err := Parse([]byte(sample))
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := Seed(ctx, st, defs, logx.Nop(), t0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mmr", "hepb"}, res.Inserted)
	require.Len(t, res.Fresh, 1)
	assert.Equal(t, "mmr", res.Fresh[0].ID)

	res, err = Seed(ctx, st, defs, logx.Nop(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mmr", "hepb"}, res.Unchanged)
	assert.Empty(t, res.Fresh)

	defs[1].Active = true
	t2 := t0.Add(2 * time.Hour)
	res, err = Seed(ctx, st, defs, logx.Nop(), t2)
	require.NoError(t, err)
	assert.Equal(t, []string{"hepb"}, res.Updated)
	require.Len(t, res.Fresh, 1)
	assert.Equal(t, "hepb", res.Fresh[0].ID)

	stored, err := st.GetVaccine(ctx, "hepb")
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(t0))
	assert.True(t, stored.UpdatedAt.Equal(t2))
}

func TestLoad_ShippedCatalog(t *testing.T) {
	defs, err := Load(filepath.Join("..", "..", "configs", "catalog.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, defs)
}
