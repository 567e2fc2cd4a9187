package storage

import (
	"context"
	"errors"
	"time"

	"immunizer/internal/immunization"
)

var ErrUnfilteredDelete = errors.New("storage: refusing delete without filter")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, dry runs)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecordFilter selects vaccination records. Zero-valued fields do not filter.
// ScheduledFrom is inclusive, ScheduledBefore and UpdatedBefore are exclusive.
type RecordFilter struct {
	ChildID         string
	VaccineID       string
	DoseNumber      int
	Statuses        []immunization.RecordStatus
	ScheduledFrom   time.Time
	ScheduledBefore time.Time
	UpdatedBefore   time.Time
	Limit           int
}

func (f RecordFilter) empty() bool {
	return f.ChildID == "" && f.VaccineID == "" && f.DoseNumber == 0 && len(f.Statuses) == 0 &&
		f.ScheduledFrom.IsZero() && f.ScheduledBefore.IsZero() && f.UpdatedBefore.IsZero()
}

// NotificationFilter selects notifications. CreatedFrom is inclusive, CreatedBefore exclusive.
type NotificationFilter struct {
	RecordID      string
	Types         []immunization.NotificationType
	Statuses      []immunization.NotificationStatus
	CreatedFrom   time.Time
	CreatedBefore time.Time
	Limit         int
}

func (f NotificationFilter) empty() bool {
	return f.RecordID == "" && len(f.Types) == 0 && len(f.Statuses) == 0 &&
		f.CreatedFrom.IsZero() && f.CreatedBefore.IsZero()
}

// Store is the persistence API consumed by the engine.
//
// Errors: ErrNotFound for missing rows, ErrDuplicate when a second active record
// would exist for the same (child, vaccine, dose), ErrStoreFailure wrapping
// anything the backend reports.
type Store interface {
	ListChildren(ctx context.Context) ([]immunization.Child, error)
	GetChild(ctx context.Context, id string) (immunization.Child, error)
	UpsertChild(ctx context.Context, c immunization.Child) error

	ListVaccines(ctx context.Context, activeOnly bool) ([]immunization.VaccineDefinition, error)
	GetVaccine(ctx context.Context, id string) (immunization.VaccineDefinition, error)
	UpsertVaccine(ctx context.Context, v immunization.VaccineDefinition) error

	FindRecords(ctx context.Context, f RecordFilter) ([]immunization.VaccinationRecord, error)
	GetRecord(ctx context.Context, id string) (immunization.VaccinationRecord, error)
	CreateRecord(ctx context.Context, r immunization.VaccinationRecord) error
	// UpdateRecord replaces r only while the stored status is still from.
	// A record that moved on in the meantime yields ErrInvalidTransition.
	UpdateRecord(ctx context.Context, r immunization.VaccinationRecord, from immunization.RecordStatus) error
	DeleteRecords(ctx context.Context, f RecordFilter) (int, error)

	FindNotifications(ctx context.Context, f NotificationFilter) ([]immunization.Notification, error)
	CreateNotification(ctx context.Context, n immunization.Notification) error
	UpdateNotification(ctx context.Context, n immunization.Notification) error
	DeleteNotifications(ctx context.Context, f NotificationFilter) (int, error)

	Close() error
}
