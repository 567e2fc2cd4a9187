// Package schedule materializes due vaccination records from the vaccine catalog.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

const (
	PassGenerate      = "generate"
	PassNewVaccine    = "generate-new-vaccine"
	defaultGraceDays  = 30
	defaultWorkerPool = 4
)

type Config struct {
	// GracePeriodDays is how far in the past a due date may be and still be scheduled.
	GracePeriodDays int
	// Workers bounds how many children are processed in parallel.
	Workers  int
	Location *time.Location
}

// Result is the outcome for one child.
type Result struct {
	ChildID              string
	Created              []immunization.VaccinationRecord
	EligibleVaccineCount int
	// Skipped counts missing doses whose due date fell outside the grace period.
	Skipped int
}

type Generator struct {
	store storage.Store
	log   logx.Logger
	cfg   Config
	now   func() time.Time
}

func New(st storage.Store, log logx.Logger, cfg Config, clock func() time.Time) *Generator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.GracePeriodDays < 0 {
		cfg.GracePeriodDays = defaultGraceDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerPool
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = time.Now
	}
	return &Generator{store: st, log: log.With(logx.String("comp", "schedule")), cfg: cfg, now: clock}
}

// GenerateForChild creates the missing records for every active vaccine the
// child is eligible for. Running it again without changes creates nothing.
func (g *Generator) GenerateForChild(ctx context.Context, child immunization.Child) (Result, error) {
	vaccines, err := g.store.ListVaccines(ctx, true)
	if err != nil {
		return Result{ChildID: child.ID}, fmt.Errorf("list vaccines: %w", err)
	}
	return g.generate(ctx, child, vaccines, g.now())
}

// GenerateForAllChildren runs the generator for every child. A failing child
// is reported and does not stop the others.
func (g *Generator) GenerateForAllChildren(ctx context.Context) (immunization.Report, error) {
	vaccines, err := g.store.ListVaccines(ctx, true)
	if err != nil {
		return immunization.Report{Pass: PassGenerate}, fmt.Errorf("list vaccines: %w", err)
	}
	return g.forAll(ctx, PassGenerate, vaccines)
}

// GenerateForNewVaccine schedules one newly activated vaccine across all children.
func (g *Generator) GenerateForNewVaccine(ctx context.Context, v immunization.VaccineDefinition) (immunization.Report, error) {
	if !v.Active {
		return immunization.Report{Pass: PassNewVaccine}, fmt.Errorf("vaccine %s is not active", v.ID)
	}
	return g.forAll(ctx, PassNewVaccine, []immunization.VaccineDefinition{v})
}

func (g *Generator) forAll(ctx context.Context, pass string, vaccines []immunization.VaccineDefinition) (immunization.Report, error) {
	started := time.Now()
	now := g.now()
	rep := immunization.Report{Pass: pass, StartedAt: now}

	children, err := g.store.ListChildren(ctx)
	if err != nil {
		return rep, fmt.Errorf("list children: %w", err)
	}

	var (
		mu  sync.Mutex
		grp errgroup.Group
	)
	grp.SetLimit(g.cfg.Workers)
	for _, child := range children {
		grp.Go(func() error {
			res, err := g.generate(ctx, child, vaccines, now)

			mu.Lock()
			defer mu.Unlock()
			rep.Processed++
			rep.Created += len(res.Created)
			rep.Skipped += res.Skipped
			if err != nil {
				g.log.Warn("schedule generation failed for child", logx.String("child_id", child.ID), logx.Err(err))
				rep.Fail(immunization.ItemError{ChildID: child.ID, Err: err.Error()})
				return nil
			}
			rep.Succeeded++
			return nil
		})
	}
	_ = grp.Wait()

	rep.Took = time.Since(started)
	g.log.Info("schedule generation finished",
		logx.String("pass", pass),
		logx.Int("children", rep.Processed),
		logx.Int("created", rep.Created),
		logx.Int("failed", rep.Failed),
	)
	return rep, ctx.Err()
}

func (g *Generator) generate(ctx context.Context, child immunization.Child, vaccines []immunization.VaccineDefinition, now time.Time) (Result, error) {
	res := Result{ChildID: child.ID}
	loc := g.cfg.Location
	today := immunization.DateOf(now, loc)
	dob := immunization.DateOf(child.DateOfBirth, loc)
	if dob.After(today) {
		return res, fmt.Errorf("child %s: date of birth %s is in the future", child.ID, dob.Format(time.DateOnly))
	}
	age := immunization.DaysBetween(dob, today)

	existing, err := g.store.FindRecords(ctx, storage.RecordFilter{ChildID: child.ID})
	if err != nil {
		return res, fmt.Errorf("find records for child %s: %w", child.ID, err)
	}
	present := make(map[doseKey]struct{}, len(existing))
	for _, r := range existing {
		if r.Status.Active() {
			present[doseKey{r.VaccineID, r.DoseNumber}] = struct{}{}
		}
	}

	for _, v := range vaccines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !v.Active || !immunization.IsEligibleWithin(age, v.AgeWindows, g.cfg.GracePeriodDays) {
			continue
		}
		res.EligibleVaccineCount++

		for _, dose := range v.Doses {
			if _, ok := present[doseKey{v.ID, dose.DoseNumber}]; ok {
				continue
			}
			due := immunization.AddDays(dob, dose.AgeInDaysAtDose)
			if immunization.DaysBetween(due, today) > g.cfg.GracePeriodDays {
				res.Skipped++
				g.log.Debug("dose outside grace period; not scheduled",
					logx.String("child_id", child.ID),
					logx.String("vaccine_id", v.ID),
					logx.Int("dose", dose.DoseNumber),
					logx.Date("due", due),
				)
				continue
			}
			scheduled := due
			if scheduled.Before(today) {
				scheduled = today
			}
			rec := immunization.VaccinationRecord{
				ID:            uuid.NewString(),
				ChildID:       child.ID,
				VaccineID:     v.ID,
				DoseNumber:    dose.DoseNumber,
				ScheduledDate: scheduled,
				Status:        immunization.StatusScheduled,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := g.store.CreateRecord(ctx, rec); err != nil {
				if errors.Is(err, immunization.ErrDuplicate) {
					// created concurrently; the slot is filled either way
					present[doseKey{v.ID, dose.DoseNumber}] = struct{}{}
					continue
				}
				return res, fmt.Errorf("create record vaccine %s dose %d: %w", v.ID, dose.DoseNumber, err)
			}
			present[doseKey{v.ID, dose.DoseNumber}] = struct{}{}
			res.Created = append(res.Created, rec)
		}
	}
	return res, nil
}

type doseKey struct {
	vaccineID string
	dose      int
}
