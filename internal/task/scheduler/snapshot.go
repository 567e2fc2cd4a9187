package scheduler

import "time"

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

// Snapshot lists triggers in registration order with their fire times.
// Next and Prev are zero while the scheduler is stopped.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc
	if loc == nil {
		loc = s.locationLocked()
	}
	snap := Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  loc.String(),
		Schedules: make([]ScheduleInfo, 0, len(s.triggers)),
	}
	for _, t := range s.triggers {
		it := ScheduleInfo{Name: t.name, Spec: t.spec, Timeout: t.timeout}
		if s.c != nil && t.entryID != 0 {
			e := s.c.Entry(t.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
