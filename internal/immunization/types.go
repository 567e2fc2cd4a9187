package immunization

import "time"

type AgeUnit string

const (
	UnitDays   AgeUnit = "days"
	UnitWeeks  AgeUnit = "weeks"
	UnitMonths AgeUnit = "months"
	UnitYears  AgeUnit = "years"
)

// AgeWindow is one age range during which a vaccine may be given.
type AgeWindow struct {
	MinAge int     `json:"min_age" yaml:"min_age" validate:"gte=0"`
	MaxAge int     `json:"max_age" yaml:"max_age" validate:"gtefield=MinAge"`
	Unit   AgeUnit `json:"unit" yaml:"unit" validate:"required,oneof=days weeks months years"`
}

// DoseSpec describes when a dose is due, counted from the date of birth.
type DoseSpec struct {
	DoseNumber      int    `json:"dose_number" yaml:"dose_number" validate:"min=1"`
	AgeInDaysAtDose int    `json:"age_in_days_at_dose" yaml:"age_in_days_at_dose" validate:"gte=0"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
}

type VaccineDefinition struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	AgeWindows  []AgeWindow `json:"age_windows" yaml:"age_windows" validate:"required,min=1,dive"`
	Doses       []DoseSpec  `json:"doses" yaml:"doses" validate:"required,min=1,dive"`
	Active      bool        `json:"active" yaml:"active"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// Child is the subject of a schedule. Age is always derived from DateOfBirth.
type Child struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	ParentID    string    `json:"parent_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type RecordStatus string

const (
	StatusScheduled RecordStatus = "scheduled"
	StatusOverdue   RecordStatus = "overdue"
	StatusCompleted RecordStatus = "completed"
	StatusMissed    RecordStatus = "missed"
	StatusCancelled RecordStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RecordStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed || s == StatusCancelled
}

// Active reports whether a record in state s counts towards the
// one-record-per-(child, vaccine, dose) uniqueness rule.
func (s RecordStatus) Active() bool { return s != StatusCancelled }

func (s RecordStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusOverdue, StatusCompleted, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

type VaccinationRecord struct {
	ID               string       `json:"id"`
	ChildID          string       `json:"child_id"`
	VaccineID        string       `json:"vaccine_id"`
	DoseNumber       int          `json:"dose_number"`
	ScheduledDate    time.Time    `json:"scheduled_date"`
	Status           RecordStatus `json:"status"`
	AdministeredDate *time.Time   `json:"administered_date,omitempty"`
	AdministeredBy   string       `json:"administered_by,omitempty"`
	BatchNumber      string       `json:"batch_number,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type NotificationType string

const (
	NotificationReminder  NotificationType = "reminder"
	NotificationOverdue   NotificationType = "overdue"
	NotificationCompleted NotificationType = "completed"
	NotificationGeneral   NotificationType = "general"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

type DeliveryMethod string

const (
	MethodEmail    DeliveryMethod = "email"
	MethodSMS      DeliveryMethod = "sms"
	MethodPush     DeliveryMethod = "push"
	MethodTelegram DeliveryMethod = "telegram"
	MethodLog      DeliveryMethod = "log"
)

// Notification is a persisted reminder/alert. RecordID is empty for broadcasts.
type Notification struct {
	ID        string             `json:"id"`
	Type      NotificationType   `json:"type"`
	RecordID  string             `json:"record_id,omitempty"`
	ChildID   string             `json:"child_id,omitempty"`
	Recipient string             `json:"recipient,omitempty"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Methods   []DeliveryMethod   `json:"methods"`
	Status    NotificationStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	Attempts  int                `json:"attempts"`
	CreatedAt time.Time          `json:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}
