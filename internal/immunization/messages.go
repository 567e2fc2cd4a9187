package immunization

import (
	"fmt"
	"strings"
)

// Subject bundles what a notification needs to name a dose.
type Subject struct {
	Record      VaccinationRecord
	Child       Child
	VaccineName string
}

func (s Subject) vaccine() string {
	if name := strings.TrimSpace(s.VaccineName); name != "" {
		return name
	}
	return s.Record.VaccineID
}

func (s Subject) child() string {
	if name := strings.TrimSpace(s.Child.Name); name != "" {
		return name
	}
	return s.Record.ChildID
}

func (s Subject) base(typ NotificationType, methods []DeliveryMethod) Notification {
	return Notification{
		Type:      typ,
		RecordID:  s.Record.ID,
		ChildID:   s.Record.ChildID,
		Recipient: s.Child.ParentID,
		Methods:   append([]DeliveryMethod(nil), methods...),
		Status:    NotificationPending,
	}
}

// ReminderFor builds the reminder sent leadDays before the scheduled date.
func ReminderFor(s Subject, leadDays int, methods []DeliveryMethod) Notification {
	n := s.base(NotificationReminder, methods)
	when := fmt.Sprintf("in %d days", leadDays)
	if leadDays == 1 {
		when = "tomorrow"
	}
	n.Title = fmt.Sprintf("Upcoming vaccination: %s dose %d", s.vaccine(), s.Record.DoseNumber)
	n.Message = fmt.Sprintf("%s is due for %s dose %d %s, on %s.",
		s.child(), s.vaccine(), s.Record.DoseNumber, when, s.Record.ScheduledDate.Format("2006-01-02"))
	return n
}

// OverdueFor builds the alert for a dose daysOverdue days past its date.
func OverdueFor(s Subject, daysOverdue int, methods []DeliveryMethod) Notification {
	n := s.base(NotificationOverdue, methods)
	n.Title = fmt.Sprintf("Overdue vaccination: %s dose %d", s.vaccine(), s.Record.DoseNumber)
	n.Message = fmt.Sprintf("%s missed %s dose %d scheduled for %s (%d days overdue). Please book an appointment.",
		s.child(), s.vaccine(), s.Record.DoseNumber, s.Record.ScheduledDate.Format("2006-01-02"), daysOverdue)
	return n
}

// CompletedFor confirms an administered dose.
func CompletedFor(s Subject, methods []DeliveryMethod) Notification {
	n := s.base(NotificationCompleted, methods)
	n.Title = fmt.Sprintf("Vaccination recorded: %s dose %d", s.vaccine(), s.Record.DoseNumber)
	on := s.Record.UpdatedAt
	if s.Record.AdministeredDate != nil {
		on = *s.Record.AdministeredDate
	}
	n.Message = fmt.Sprintf("%s received %s dose %d on %s.", s.child(), s.vaccine(), s.Record.DoseNumber, on.Format("2006-01-02"))
	return n
}
