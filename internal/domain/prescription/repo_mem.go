package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemPrescriptionRepo is a thread-safe in-memory PrescriptionRepository.
type MemPrescriptionRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*Prescription
}

func NewMemPrescriptionRepo() *MemPrescriptionRepo {
	return &MemPrescriptionRepo{data: make(map[uuid.UUID]*Prescription)}
}

func (r *MemPrescriptionRepo) Create(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MemPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemPrescriptionRepo) GetByRxNumber(_ context.Context, rxNumber string) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.data {
		if p.RxNumber == rxNumber {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemPrescriptionRepo) listWhere(keep func(*Prescription) bool) []*Prescription {
	var out []*Prescription
	for _, p := range r.data {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemPrescriptionRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(p *Prescription) bool { return p.PatientID == patientID }), nil
}

func (r *MemPrescriptionRepo) ListNonCancelledByPatient(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(p *Prescription) bool {
		return p.PatientID == patientID && p.Status != StatusCancelled
	}), nil
}

func (r *MemPrescriptionRepo) List(_ context.Context, status string, limit, offset int) ([]*Prescription, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.listWhere(func(p *Prescription) bool {
		return status == "" || p.Status == status
	})
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

func (r *MemPrescriptionRepo) Update(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MemPrescriptionRepo) ListPendingWrittenBefore(_ context.Context, cutoff time.Time) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(p *Prescription) bool {
		return p.Status == StatusPending && !p.WrittenDate.After(cutoff)
	}), nil
}

func (r *MemPrescriptionRepo) CountByStatusInRange(_ context.Context, from, to *time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, p := range r.data {
		if from != nil && p.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && p.CreatedAt.After(*to) {
			continue
		}
		counts[p.Status]++
	}
	return counts, nil
}

func (r *MemPrescriptionRepo) AvgVerifyToDispenseHours(_ context.Context, from, to *time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum float64
	n := 0
	for _, p := range r.data {
		if p.VerifiedAt == nil || p.DispensedAt == nil {
			continue
		}
		if from != nil && p.DispensedAt.Before(*from) {
			continue
		}
		if to != nil && p.DispensedAt.After(*to) {
			continue
		}
		sum += p.DispensedAt.Sub(*p.VerifiedAt).Hours()
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
