package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemDrugRepo is a thread-safe in-memory DrugRepository, the embedded
// store used by tests and the development server.
type MemDrugRepo struct {
	mu    sync.RWMutex
	drugs map[string]*Drug // keyed by catalog code
}

func NewMemDrugRepo() *MemDrugRepo {
	return &MemDrugRepo{drugs: make(map[string]*Drug)}
}

func (r *MemDrugRepo) Create(_ context.Context, d *Drug) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drugs[d.Code]; exists {
		return ErrDuplicateCode
	}
	d.ID = uuid.New()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	cp := *d
	r.drugs[d.Code] = &cp
	return nil
}

func (r *MemDrugRepo) GetByCode(_ context.Context, code string) (*Drug, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drugs[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemDrugRepo) Search(_ context.Context, query string, activeOnly bool) ([]*Drug, error) {
	q := strings.ToLower(query)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Drug
	for _, d := range r.drugs {
		if activeOnly && !d.Active {
			continue
		}
		if matchesQuery(d, q) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GenericName < out[j].GenericName })
	return out, nil
}

func matchesQuery(d *Drug, q string) bool {
	if strings.Contains(strings.ToLower(d.GenericName), q) {
		return true
	}
	if d.BrandName != nil && strings.Contains(strings.ToLower(*d.BrandName), q) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Code), q) {
		return true
	}
	return strings.Contains(strings.ToLower(d.DrugClass), q)
}

func (r *MemDrugRepo) List(_ context.Context, limit, offset int) ([]*Drug, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Drug, 0, len(r.drugs))
	for _, d := range r.drugs {
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].GenericName < all[j].GenericName })
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

func (r *MemDrugRepo) Update(_ context.Context, d *Drug) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.drugs[d.Code]
	if !ok {
		return ErrNotFound
	}
	d.ID = existing.ID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	r.drugs[d.Code] = &cp
	return nil
}
