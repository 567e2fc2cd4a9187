package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"
)

// storeSuite runs the same contract against every driver.
type storeSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
	base  time.Time
}

func (s *storeSuite) SetupTest() {
	s.store = s.open(s.T())
	s.ctx = context.Background()
	s.base = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
}

func (s *storeSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storeSuite{open: func(t *testing.T) Store { return NewMemory() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storeSuite{open: func(t *testing.T) Store {
		st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
		require.NoError(t, err)
		return st
	}})
}

func (s *storeSuite) newRecord(child, vaccine string, dose int, at time.Time, st immunization.RecordStatus) immunization.VaccinationRecord {
	return immunization.VaccinationRecord{
		ID:            uuid.NewString(),
		ChildID:       child,
		VaccineID:     vaccine,
		DoseNumber:    dose,
		ScheduledDate: at,
		Status:        st,
		CreatedAt:     s.base,
		UpdatedAt:     s.base,
	}
}

func (s *storeSuite) newNotification(recordID string, typ immunization.NotificationType, st immunization.NotificationStatus, at time.Time) immunization.Notification {
	return immunization.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		RecordID:  recordID,
		ChildID:   "c1",
		Recipient: "p1",
		Title:     "t",
		Message:   "m",
		Methods:   []immunization.DeliveryMethod{immunization.MethodLog},
		Status:    st,
		CreatedAt: at,
	}
}

func (s *storeSuite) TestChildren() {
	s.Run("upsert and get", func() {
		c := immunization.Child{ID: "c1", Name: "Ada", DateOfBirth: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ParentID: "p1", CreatedAt: s.base}
		s.Require().NoError(s.store.UpsertChild(s.ctx, c))

		got, err := s.store.GetChild(s.ctx, "c1")
		s.Require().NoError(err)
		s.Equal("Ada", got.Name)
		s.True(got.DateOfBirth.Equal(c.DateOfBirth))

		c.Name = "Ada L."
		s.Require().NoError(s.store.UpsertChild(s.ctx, c))
		all, err := s.store.ListChildren(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal("Ada L.", all[0].Name)
	})

	s.Run("missing child", func() {
		_, err := s.store.GetChild(s.ctx, "nope")
		s.ErrorIs(err, immunization.ErrNotFound)
	})
}

func (s *storeSuite) TestVaccines() {
	v := immunization.VaccineDefinition{
		ID:         "mmr",
		Name:       "MMR",
		AgeWindows: []immunization.AgeWindow{{MinAge: 12, MaxAge: 15, Unit: immunization.UnitMonths}},
		Doses:      []immunization.DoseSpec{{DoseNumber: 1, AgeInDaysAtDose: 365}},
		Active:     true,
		CreatedAt:  s.base,
		UpdatedAt:  s.base,
	}
	s.Require().NoError(s.store.UpsertVaccine(s.ctx, v))

	off := v
	off.ID, off.Active = "old", false
	s.Require().NoError(s.store.UpsertVaccine(s.ctx, off))

	got, err := s.store.GetVaccine(s.ctx, "mmr")
	s.Require().NoError(err)
	s.Equal(v.AgeWindows, got.AgeWindows)
	s.Equal(v.Doses, got.Doses)

	active, err := s.store.ListVaccines(s.ctx, true)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("mmr", active[0].ID)

	all, err := s.store.ListVaccines(s.ctx, false)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *storeSuite) TestRecordUniqueness() {
	r := s.newRecord("c1", "mmr", 1, s.base, immunization.StatusScheduled)
	s.Require().NoError(s.store.CreateRecord(s.ctx, r))

	s.Run("second active record is rejected", func() {
		dup := s.newRecord("c1", "mmr", 1, s.base, immunization.StatusScheduled)
		s.ErrorIs(s.store.CreateRecord(s.ctx, dup), immunization.ErrDuplicate)
	})

	s.Run("cancelled record frees the slot", func() {
		r.Status = immunization.StatusCancelled
		s.Require().NoError(s.store.UpdateRecord(s.ctx, r, immunization.StatusScheduled))

		again := s.newRecord("c1", "mmr", 1, s.base, immunization.StatusScheduled)
		s.NoError(s.store.CreateRecord(s.ctx, again))
	})
}

func (s *storeSuite) TestFindRecords() {
	for i, st := range []immunization.RecordStatus{immunization.StatusScheduled, immunization.StatusScheduled, immunization.StatusCompleted} {
		r := s.newRecord("c1", "v", i+1, s.base.AddDate(0, 0, i), st)
		s.Require().NoError(s.store.CreateRecord(s.ctx, r))
	}

	got, err := s.store.FindRecords(s.ctx, RecordFilter{
		Statuses:        []immunization.RecordStatus{immunization.StatusScheduled},
		ScheduledBefore: s.base.AddDate(0, 0, 1),
	})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(1, got[0].DoseNumber)

	got, err = s.store.FindRecords(s.ctx, RecordFilter{ScheduledFrom: s.base.AddDate(0, 0, 1)})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(2, got[0].DoseNumber)
	s.Equal(3, got[1].DoseNumber)

	got, err = s.store.FindRecords(s.ctx, RecordFilter{ChildID: "c1", Limit: 2})
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *storeSuite) TestRecordRoundTripAdministered() {
	r := s.newRecord("c1", "v", 1, s.base, immunization.StatusScheduled)
	s.Require().NoError(s.store.CreateRecord(s.ctx, r))

	at := s.base.Add(3 * time.Hour)
	r.Status = immunization.StatusCompleted
	r.AdministeredDate = &at
	r.BatchNumber = "B-1"
	s.Require().NoError(s.store.UpdateRecord(s.ctx, r, immunization.StatusScheduled))

	got, err := s.store.GetRecord(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(immunization.StatusCompleted, got.Status)
	s.Require().NotNil(got.AdministeredDate)
	s.True(got.AdministeredDate.Equal(at))
	s.Equal("B-1", got.BatchNumber)

	missing := s.newRecord("c9", "v", 1, s.base, immunization.StatusScheduled)
	s.ErrorIs(s.store.UpdateRecord(s.ctx, missing, immunization.StatusScheduled), immunization.ErrNotFound)
}

func (s *storeSuite) TestUpdateRecordRequiresExpectedStatus() {
	r := s.newRecord("c1", "v", 1, s.base, immunization.StatusScheduled)
	s.Require().NoError(s.store.CreateRecord(s.ctx, r))

	done := r
	done.Status = immunization.StatusCompleted
	at := s.base
	done.AdministeredDate = &at
	done.AdministeredBy = "nurse"
	s.Require().NoError(s.store.UpdateRecord(s.ctx, done, immunization.StatusScheduled))

	stale := r
	stale.Status = immunization.StatusOverdue
	err := s.store.UpdateRecord(s.ctx, stale, immunization.StatusScheduled)
	s.ErrorIs(err, immunization.ErrInvalidTransition)

	got, err := s.store.GetRecord(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(immunization.StatusCompleted, got.Status)
	s.Equal("nurse", got.AdministeredBy)
	s.NotNil(got.AdministeredDate)
}

func (s *storeSuite) TestDeleteRecords() {
	old := s.newRecord("c1", "v", 1, s.base, immunization.StatusCompleted)
	old.UpdatedAt = s.base.AddDate(-3, 0, 0)
	fresh := s.newRecord("c1", "v", 2, s.base, immunization.StatusCompleted)
	s.Require().NoError(s.store.CreateRecord(s.ctx, old))
	s.Require().NoError(s.store.CreateRecord(s.ctx, fresh))

	_, err := s.store.DeleteRecords(s.ctx, RecordFilter{})
	s.ErrorIs(err, ErrUnfilteredDelete)

	n, err := s.store.DeleteRecords(s.ctx, RecordFilter{
		Statuses:      []immunization.RecordStatus{immunization.StatusCompleted},
		UpdatedBefore: s.base.AddDate(-2, 0, 0),
	})
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.store.GetRecord(s.ctx, old.ID)
	s.ErrorIs(err, immunization.ErrNotFound)
}

func (s *storeSuite) TestNotifications() {
	n1 := s.newNotification("r1", immunization.NotificationReminder, immunization.NotificationPending, s.base)
	n2 := s.newNotification("r1", immunization.NotificationOverdue, immunization.NotificationSent, s.base.Add(time.Hour))
	n3 := s.newNotification("r2", immunization.NotificationReminder, immunization.NotificationFailed, s.base.Add(-48*time.Hour))
	for _, n := range []immunization.Notification{n1, n2, n3} {
		s.Require().NoError(s.store.CreateNotification(s.ctx, n))
	}

	s.Run("dedup lookup", func() {
		got, err := s.store.FindNotifications(s.ctx, NotificationFilter{
			RecordID:    "r1",
			Types:       []immunization.NotificationType{immunization.NotificationReminder},
			CreatedFrom: s.base.Add(-24 * time.Hour),
		})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(n1.ID, got[0].ID)
		s.Equal(n1.Methods, got[0].Methods)
	})

	s.Run("update status", func() {
		sent := s.base.Add(time.Minute)
		n1.Status = immunization.NotificationSent
		n1.SentAt = &sent
		n1.Attempts = 1
		s.Require().NoError(s.store.UpdateNotification(s.ctx, n1))

		got, err := s.store.FindNotifications(s.ctx, NotificationFilter{Statuses: []immunization.NotificationStatus{immunization.NotificationSent}})
		s.Require().NoError(err)
		s.Len(got, 2)
	})

	s.Run("delete by age and status", func() {
		n, err := s.store.DeleteNotifications(s.ctx, NotificationFilter{
			Statuses:      []immunization.NotificationStatus{immunization.NotificationFailed},
			CreatedBefore: s.base,
		})
		s.Require().NoError(err)
		s.Equal(1, n)

		left, err := s.store.FindNotifications(s.ctx, NotificationFilter{CreatedFrom: s.base.AddDate(-1, 0, 0)})
		s.Require().NoError(err)
		s.Len(left, 2)
	})
}
