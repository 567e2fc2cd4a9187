package immunization

import (
	"fmt"
	"time"
)

var transitions = map[RecordStatus][]RecordStatus{
	StatusScheduled: {StatusOverdue, StatusCompleted, StatusMissed, StatusCancelled},
	StatusOverdue:   {StatusCompleted, StatusMissed, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the record state machine.
func CanTransition(from, to RecordStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves rec to status to, stamping UpdatedAt with at.
// rec is left untouched when the transition is rejected.
func Transition(rec *VaccinationRecord, to RecordStatus, at time.Time) error {
	if rec == nil {
		return fmt.Errorf("transition to %s: nil record", to)
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("record %s: %s -> %s: %w", rec.ID, rec.Status, to, ErrInvalidTransition)
	}
	rec.Status = to
	rec.UpdatedAt = at
	return nil
}
