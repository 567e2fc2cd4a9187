package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"immunizer/internal/immunization"
	"immunizer/internal/storage"
)

// subjectCache memoizes child and vaccine lookups for one pass.
type subjectCache struct {
	mu       sync.Mutex
	children map[string]immunization.Child
	vaccines map[string]string
}

func newSubjectCache() *subjectCache {
	return &subjectCache{children: map[string]immunization.Child{}, vaccines: map[string]string{}}
}

// get resolves the child and vaccine name for rec. A missing vaccine only
// loses its display name; a missing child fails since there is no recipient.
func (c *subjectCache) get(ctx context.Context, st storage.Store, rec immunization.VaccinationRecord) (immunization.Subject, error) {
	subj := immunization.Subject{Record: rec}

	c.mu.Lock()
	child, okChild := c.children[rec.ChildID]
	name, okVaccine := c.vaccines[rec.VaccineID]
	c.mu.Unlock()

	if !okChild {
		var err error
		child, err = st.GetChild(ctx, rec.ChildID)
		if err != nil {
			return subj, fmt.Errorf("load child: %w", err)
		}
		c.mu.Lock()
		c.children[rec.ChildID] = child
		c.mu.Unlock()
	}
	if !okVaccine {
		v, err := st.GetVaccine(ctx, rec.VaccineID)
		switch {
		case err == nil:
			name = v.Name
		case errors.Is(err, immunization.ErrNotFound):
			name = rec.VaccineID
		default:
			return subj, fmt.Errorf("load vaccine: %w", err)
		}
		c.mu.Lock()
		c.vaccines[rec.VaccineID] = name
		c.mu.Unlock()
	}

	subj.Child = child
	subj.VaccineName = name
	return subj, nil
}
