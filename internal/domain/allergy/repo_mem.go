package allergy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemAllergyRepo is a thread-safe in-memory AllergyRepository.
type MemAllergyRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*Allergy
}

func NewMemAllergyRepo() *MemAllergyRepo {
	return &MemAllergyRepo{data: make(map[uuid.UUID]*Allergy)}
}

func (r *MemAllergyRepo) Create(_ context.Context, a *Allergy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	r.data[a.ID] = &cp
	return nil
}

func (r *MemAllergyRepo) GetByID(_ context.Context, id uuid.UUID) (*Allergy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemAllergyRepo) listWhere(patientID uuid.UUID, keep func(*Allergy) bool) []*Allergy {
	var out []*Allergy
	for _, a := range r.data {
		if a.PatientID == patientID && keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(patientID, func(*Allergy) bool { return true }), nil
}

func (r *MemAllergyRepo) ListActiveByPatient(_ context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(patientID, func(a *Allergy) bool { return a.Status == StatusActive }), nil
}

func (r *MemAllergyRepo) Update(_ context.Context, a *Allergy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.PatientID = existing.PatientID
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	r.data[a.ID] = &cp
	return nil
}
