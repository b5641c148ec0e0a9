package cds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pairKey canonicalizes the unordered drug pair.
func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// MemInteractionRepo is a thread-safe in-memory InteractionRepository.
type MemInteractionRepo struct {
	mu   sync.RWMutex
	data map[[2]string]*DrugInteraction
}

func NewMemInteractionRepo() *MemInteractionRepo {
	return &MemInteractionRepo{data: make(map[[2]string]*DrugInteraction)}
}

func (r *MemInteractionRepo) Create(_ context.Context, i *DrugInteraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(i.DrugCodeA, i.DrugCodeB)
	if _, exists := r.data[key]; exists {
		return ErrDuplicateInteraction
	}
	i.ID = uuid.New()
	i.CreatedAt = time.Now().UTC()
	cp := *i
	r.data[key] = &cp
	return nil
}

func (r *MemInteractionRepo) GetPair(_ context.Context, codeA, codeB string) (*DrugInteraction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.data[pairKey(codeA, codeB)]
	if !ok {
		return nil, ErrInteractionNotFound
	}
	cp := *i
	return &cp, nil
}

func (r *MemInteractionRepo) List(_ context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*DrugInteraction, 0, len(r.data))
	for _, i := range r.data {
		cp := *i
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// MemAlertRepo is a thread-safe in-memory AlertRepository.
type MemAlertRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*ClinicalAlert
}

func NewMemAlertRepo() *MemAlertRepo {
	return &MemAlertRepo{data: make(map[uuid.UUID]*ClinicalAlert)}
}

func (r *MemAlertRepo) Create(_ context.Context, a *ClinicalAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	cp := *a
	r.data[a.ID] = &cp
	return nil
}

func (r *MemAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*ClinicalAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.data[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemAlertRepo) ListByPrescription(_ context.Context, prescriptionID uuid.UUID) ([]*ClinicalAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ClinicalAlert
	for _, a := range r.data {
		if a.PrescriptionID == prescriptionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemAlertRepo) Update(_ context.Context, a *ClinicalAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[a.ID]
	if !ok {
		return ErrAlertNotFound
	}
	a.PrescriptionID = existing.PrescriptionID
	a.CreatedAt = existing.CreatedAt
	cp := *a
	r.data[a.ID] = &cp
	return nil
}

func (r *MemAlertRepo) CountUnacknowledgedCritical(_ context.Context, prescriptionID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.data {
		if a.PrescriptionID == prescriptionID && a.Severity == SeverityCritical && !a.Acknowledged {
			n++
		}
	}
	return n, nil
}

func (r *MemAlertRepo) CountInRange(_ context.Context, from, to *time.Time) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total, critical := 0, 0
	for _, a := range r.data {
		if from != nil && a.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && a.CreatedAt.After(*to) {
			continue
		}
		total++
		if a.Severity == SeverityCritical {
			critical++
		}
	}
	return total, critical, nil
}
