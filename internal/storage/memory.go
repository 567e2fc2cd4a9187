package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"immunizer/internal/immunization"
)

// Memory is a process-local Store. It copies values in and out so callers can
// never mutate stored state through a returned value.
type Memory struct {
	mu sync.RWMutex

	children      map[string]immunization.Child
	vaccines      map[string]immunization.VaccineDefinition
	records       map[string]immunization.VaccinationRecord
	notifications map[string]immunization.Notification
}

func NewMemory() *Memory {
	return &Memory{
		children:      map[string]immunization.Child{},
		vaccines:      map[string]immunization.VaccineDefinition{},
		records:       map[string]immunization.VaccinationRecord{},
		notifications: map[string]immunization.Notification{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- children ----

func (m *Memory) ListChildren(ctx context.Context) ([]immunization.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]immunization.Child, 0, len(m.children))
	for _, c := range m.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetChild(ctx context.Context, id string) (immunization.Child, error) {
	if err := ctx.Err(); err != nil {
		return immunization.Child{}, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[id]
	if !ok {
		return immunization.Child{}, fmt.Errorf("child %s: %w", id, immunization.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) UpsertChild(ctx context.Context, c immunization.Child) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("child id required")
	}
	m.mu.Lock()
	m.children[c.ID] = c
	m.mu.Unlock()
	return nil
}

// ---- vaccines ----

func (m *Memory) ListVaccines(ctx context.Context, activeOnly bool) ([]immunization.VaccineDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]immunization.VaccineDefinition, 0, len(m.vaccines))
	for _, v := range m.vaccines {
		if activeOnly && !v.Active {
			continue
		}
		out = append(out, cloneVaccine(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetVaccine(ctx context.Context, id string) (immunization.VaccineDefinition, error) {
	if err := ctx.Err(); err != nil {
		return immunization.VaccineDefinition{}, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaccines[id]
	if !ok {
		return immunization.VaccineDefinition{}, fmt.Errorf("vaccine %s: %w", id, immunization.ErrNotFound)
	}
	return cloneVaccine(v), nil
}

func (m *Memory) UpsertVaccine(ctx context.Context, v immunization.VaccineDefinition) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("vaccine id required")
	}
	m.mu.Lock()
	m.vaccines[v.ID] = cloneVaccine(v)
	m.mu.Unlock()
	return nil
}

func cloneVaccine(v immunization.VaccineDefinition) immunization.VaccineDefinition {
	v.AgeWindows = slices.Clone(v.AgeWindows)
	v.Doses = slices.Clone(v.Doses)
	return v
}

// ---- records ----

func (m *Memory) FindRecords(ctx context.Context, f RecordFilter) ([]immunization.VaccinationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]immunization.VaccinationRecord, 0)
	for _, r := range m.records {
		if matchRecord(r, f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (immunization.VaccinationRecord, error) {
	if err := ctx.Err(); err != nil {
		return immunization.VaccinationRecord{}, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return immunization.VaccinationRecord{}, fmt.Errorf("record %s: %w", id, immunization.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) CreateRecord(ctx context.Context, r immunization.VaccinationRecord) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("record %s: %w", r.ID, immunization.ErrDuplicate)
	}
	if m.activeConflictLocked(r) {
		return fmt.Errorf("child %s vaccine %s dose %d: %w", r.ChildID, r.VaccineID, r.DoseNumber, immunization.ErrDuplicate)
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) UpdateRecord(ctx context.Context, r immunization.VaccinationRecord, from immunization.RecordStatus) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return fmt.Errorf("record %s: %w", r.ID, immunization.ErrNotFound)
	}
	if cur.Status != from {
		return staleStatus(r.ID, from, cur.Status)
	}
	if m.activeConflictLocked(r) {
		return fmt.Errorf("child %s vaccine %s dose %d: %w", r.ChildID, r.VaccineID, r.DoseNumber, immunization.ErrDuplicate)
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) DeleteRecords(ctx context.Context, f RecordFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeErr(err)
	}
	if f.empty() {
		return 0, ErrUnfilteredDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if matchRecord(r, f) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// activeConflictLocked reports whether another active record holds r's (child, vaccine, dose).
// Call with m.mu held.
func (m *Memory) activeConflictLocked(r immunization.VaccinationRecord) bool {
	if !r.Status.Active() {
		return false
	}
	for id, o := range m.records {
		if id == r.ID || !o.Status.Active() {
			continue
		}
		if o.ChildID == r.ChildID && o.VaccineID == r.VaccineID && o.DoseNumber == r.DoseNumber {
			return true
		}
	}
	return false
}

func matchRecord(r immunization.VaccinationRecord, f RecordFilter) bool {
	if f.ChildID != "" && r.ChildID != f.ChildID {
		return false
	}
	if f.VaccineID != "" && r.VaccineID != f.VaccineID {
		return false
	}
	if f.DoseNumber != 0 && r.DoseNumber != f.DoseNumber {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if !f.ScheduledFrom.IsZero() && r.ScheduledDate.Before(f.ScheduledFrom) {
		return false
	}
	if !f.ScheduledBefore.IsZero() && !r.ScheduledDate.Before(f.ScheduledBefore) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// ---- notifications ----

func (m *Memory) FindNotifications(ctx context.Context, f NotificationFilter) ([]immunization.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]immunization.Notification, 0)
	for _, n := range m.notifications {
		if matchNotification(n, f) {
			n.Methods = slices.Clone(n.Methods)
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CreateNotification(ctx context.Context, n immunization.Notification) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("notification id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, immunization.ErrDuplicate)
	}
	n.Methods = slices.Clone(n.Methods)
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) UpdateNotification(ctx context.Context, n immunization.Notification) error {
	if err := ctx.Err(); err != nil {
		return storeErr(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return fmt.Errorf("notification %s: %w", n.ID, immunization.ErrNotFound)
	}
	n.Methods = slices.Clone(n.Methods)
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) DeleteNotifications(ctx context.Context, f NotificationFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, storeErr(err)
	}
	if f.empty() {
		return 0, ErrUnfilteredDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, x := range m.notifications {
		if matchNotification(x, f) {
			delete(m.notifications, id)
			n++
		}
	}
	return n, nil
}

func matchNotification(n immunization.Notification, f NotificationFilter) bool {
	if f.RecordID != "" && n.RecordID != f.RecordID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, n.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
		return false
	}
	if !f.CreatedFrom.IsZero() && n.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !n.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", immunization.ErrStoreFailure, err)
}

// staleStatus reports a conditional update that lost to a concurrent transition.
func staleStatus(id string, want, got immunization.RecordStatus) error {
	return fmt.Errorf("record %s: expected %s, stored %s: %w", id, want, got, immunization.ErrInvalidTransition)
}
