// Package catalog loads vaccine definitions from a YAML seed file and upserts
// them into the store.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v3"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

type file struct {
	Vaccines []entry `yaml:"vaccines"`
}

type entry struct {
	ID          string                   `yaml:"id"`
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	AgeWindows  []immunization.AgeWindow `yaml:"age_windows"`
	Doses       []immunization.DoseSpec  `yaml:"doses"`
	Active      *bool                    `yaml:"active"` // default true
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a catalog file.
func Load(path string) ([]immunization.VaccineDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	defs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes catalog YAML. Unknown keys, invalid windows or doses, duplicate
// vaccine ids and repeated dose numbers are rejected.
func Parse(b []byte) ([]immunization.VaccineDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make([]immunization.VaccineDefinition, 0, len(f.Vaccines))
	seen := make(map[string]struct{}, len(f.Vaccines))
	for i, e := range f.Vaccines {
		v := immunization.VaccineDefinition{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			AgeWindows:  e.AgeWindows,
			Doses:       e.Doses,
			Active:      e.Active == nil || *e.Active,
		}
		if err := validate.Struct(v); err != nil {
			return nil, fmt.Errorf("vaccine[%d] %q: %w", i, e.ID, err)
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("vaccine[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = struct{}{}

		doses := make(map[int]struct{}, len(v.Doses))
		for _, d := range v.Doses {
			if _, dup := doses[d.DoseNumber]; dup {
				return nil, fmt.Errorf("vaccine %q: duplicate dose number %d", v.ID, d.DoseNumber)
			}
			doses[d.DoseNumber] = struct{}{}
		}
		out = append(out, v)
	}
	return out, nil
}

// SeedResult lists what a seed changed.
type SeedResult struct {
	Inserted  []string
	Updated   []string
	Unchanged []string
	// Fresh holds vaccines that are new and active or were just activated.
	// Schedules must be generated for them.
	Fresh []immunization.VaccineDefinition
}

// Seed upserts defs. Definitions identical to the stored ones are left alone.
func Seed(ctx context.Context, st storage.Store, defs []immunization.VaccineDefinition, log logx.Logger, now time.Time) (SeedResult, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var res SeedResult
	for _, v := range defs {
		cur, err := st.GetVaccine(ctx, v.ID)
		exists := err == nil
		if err != nil && !errors.Is(err, immunization.ErrNotFound) {
			return res, fmt.Errorf("load vaccine %s: %w", v.ID, err)
		}

		if exists && sameDefinition(cur, v) {
			res.Unchanged = append(res.Unchanged, v.ID)
			continue
		}

		v.CreatedAt = now
		if exists {
			v.CreatedAt = cur.CreatedAt
		}
		v.UpdatedAt = now
		if err := st.UpsertVaccine(ctx, v); err != nil {
			return res, fmt.Errorf("upsert vaccine %s: %w", v.ID, err)
		}

		if exists {
			res.Updated = append(res.Updated, v.ID)
		} else {
			res.Inserted = append(res.Inserted, v.ID)
		}
		if v.Active && (!exists || !cur.Active) {
			res.Fresh = append(res.Fresh, v)
		}
	}
	log.Info("catalog seeded",
		logx.Int("inserted", len(res.Inserted)),
		logx.Int("updated", len(res.Updated)),
		logx.Int("unchanged", len(res.Unchanged)),
		logx.Int("fresh", len(res.Fresh)),
	)
	return res, nil
}

func sameDefinition(a, b immunization.VaccineDefinition) bool {
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}
