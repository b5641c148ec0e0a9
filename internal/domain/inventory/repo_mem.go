package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lotKey struct {
	drugCode  string
	lotNumber string
}

// MemLotRepo is a thread-safe in-memory LotRepository.
type MemLotRepo struct {
	mu   sync.RWMutex
	data map[lotKey]*InventoryLot
}

func NewMemLotRepo() *MemLotRepo {
	return &MemLotRepo{data: make(map[lotKey]*InventoryLot)}
}

func (r *MemLotRepo) Create(_ context.Context, l *InventoryLot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lotKey{drugCode: l.DrugCode, lotNumber: l.LotNumber}
	if _, exists := r.data[key]; exists {
		return ErrDuplicateLot
	}
	l.ID = uuid.New()
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	cp := *l
	r.data[key] = &cp
	return nil
}

func (r *MemLotRepo) GetByLotNumber(_ context.Context, drugCode, lotNumber string) (*InventoryLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.data[lotKey{drugCode: drugCode, lotNumber: lotNumber}]
	if !ok {
		return nil, ErrLotNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *MemLotRepo) listWhere(keep func(*InventoryLot) bool) []*InventoryLot {
	var out []*InventoryLot
	for _, l := range r.data {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(out[j].ExpirationDate)
		}
		return out[i].LotNumber < out[j].LotNumber
	})
	return out
}

func (r *MemLotRepo) ListByDrug(_ context.Context, drugCode string) ([]*InventoryLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(l *InventoryLot) bool { return l.DrugCode == drugCode }), nil
}

func (r *MemLotRepo) ListAllocatable(_ context.Context, drugCode string) ([]*InventoryLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(l *InventoryLot) bool {
		return l.DrugCode == drugCode && l.QuantityOnHand > 0
	}), nil
}

func (r *MemLotRepo) DecrementLots(_ context.Context, drugCode string, draws []LotDraw) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Validate the whole batch before touching anything: all-or-nothing.
	for _, d := range draws {
		l, ok := r.data[lotKey{drugCode: drugCode, lotNumber: d.LotNumber}]
		if !ok {
			return ErrLotNotFound
		}
		if l.QuantityOnHand < d.Quantity {
			return ErrConcurrentUpdate
		}
	}
	now := time.Now().UTC()
	for _, d := range draws {
		l := r.data[lotKey{drugCode: drugCode, lotNumber: d.LotNumber}]
		l.QuantityOnHand -= d.Quantity
		l.UpdatedAt = now
	}
	return nil
}

func (r *MemLotRepo) RestoreLots(_ context.Context, drugCode string, draws []LotDraw) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range draws {
		l, ok := r.data[lotKey{drugCode: drugCode, lotNumber: d.LotNumber}]
		if !ok {
			return ErrLotNotFound
		}
		l.QuantityOnHand += d.Quantity
		l.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemLotRepo) ListLowStock(_ context.Context) ([]*InventoryLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(l *InventoryLot) bool { return l.LowStock() }), nil
}

func (r *MemLotRepo) ListExpiringBefore(_ context.Context, cutoff time.Time) ([]*InventoryLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listWhere(func(l *InventoryLot) bool {
		return l.QuantityOnHand > 0 && !l.ExpirationDate.After(cutoff)
	}), nil
}

// MemDispensingRepo is a thread-safe in-memory DispensingRepository.
type MemDispensingRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*DispensingRecord
}

func NewMemDispensingRepo() *MemDispensingRepo {
	return &MemDispensingRepo{data: make(map[uuid.UUID]*DispensingRecord)}
}

func (r *MemDispensingRepo) Create(_ context.Context, rec *DispensingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	cp.LotDraws = append([]LotDraw(nil), rec.LotDraws...)
	r.data[rec.ID] = &cp
	return nil
}

func (r *MemDispensingRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

func (r *MemDispensingRepo) ListByPrescription(_ context.Context, prescriptionID uuid.UUID) ([]*DispensingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*DispensingRecord
	for _, rec := range r.data {
		if rec.PrescriptionID == prescriptionID {
			cp := *rec
			cp.LotDraws = append([]LotDraw(nil), rec.LotDraws...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RefillNumber < out[j].RefillNumber })
	return out, nil
}

func (r *MemDispensingRepo) CountByPrescription(_ context.Context, prescriptionID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.data {
		if rec.PrescriptionID == prescriptionID {
			n++
		}
	}
	return n, nil
}

func (r *MemDispensingRepo) SumQuantityByPrescription(_ context.Context, prescriptionID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := 0
	for _, rec := range r.data {
		if rec.PrescriptionID == prescriptionID {
			sum += rec.Quantity
		}
	}
	return sum, nil
}

func (r *MemDispensingRepo) TotalRevenueInRange(_ context.Context, from, to *time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, rec := range r.data {
		if from != nil && rec.DispensedAt.Before(*from) {
			continue
		}
		if to != nil && rec.DispensedAt.After(*to) {
			continue
		}
		total += rec.TotalCost
	}
	return total, nil
}
