package catalog

import (
	"context"
	"fmt"
	"strings"
)

type Service struct {
	drugs DrugRepository
}

func NewService(drugs DrugRepository) *Service {
	return &Service{drugs: drugs}
}

// AddDrug validates and inserts a new catalog entry. A duplicate catalog
// code fails with ErrDuplicateCode and performs no mutation.
func (s *Service) AddDrug(ctx context.Context, d *Drug) error {
	if strings.TrimSpace(d.Code) == "" {
		return fmt.Errorf("code is required")
	}
	if strings.TrimSpace(d.GenericName) == "" {
		return fmt.Errorf("generic_name is required")
	}
	if strings.TrimSpace(d.DrugClass) == "" {
		return fmt.Errorf("drug_class is required")
	}
	if strings.TrimSpace(d.TherapeuticClass) == "" {
		return fmt.Errorf("therapeutic_class is required")
	}
	if d.UnitCost < 0 {
		return fmt.Errorf("unit_cost must not be negative")
	}
	if d.Schedule == "" {
		d.Schedule = ScheduleNone
	}
	if !validSchedules[d.Schedule] {
		return fmt.Errorf("invalid schedule: %s", d.Schedule)
	}
	if d.FormularyStatus == "" {
		d.FormularyStatus = FormularyNonPreferred
	}
	if !validFormularyStatuses[d.FormularyStatus] {
		return fmt.Errorf("invalid formulary_status: %s", d.FormularyStatus)
	}
	d.Active = true
	return s.drugs.Create(ctx, d)
}

func (s *Service) GetDrug(ctx context.Context, code string) (*Drug, error) {
	return s.drugs.GetByCode(ctx, code)
}

// SearchDrugs matches generic name, brand name, code, or drug class,
// case-insensitive substring.
func (s *Service) SearchDrugs(ctx context.Context, query string, activeOnly bool) ([]*Drug, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	return s.drugs.Search(ctx, query, activeOnly)
}

func (s *Service) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.List(ctx, limit, offset)
}

// DeactivateDrug retires a drug from prescribing without removing it
// from the catalog.
func (s *Service) DeactivateDrug(ctx context.Context, code string) error {
	d, err := s.drugs.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if !d.Active {
		return nil
	}
	d.Active = false
	return s.drugs.Update(ctx, d)
}

// UnitCost resolves the catalog unit cost for a drug code. Used by the
// dispensing allocator for cost computation.
func (s *Service) UnitCost(ctx context.Context, code string) (float64, error) {
	d, err := s.drugs.GetByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return d.UnitCost, nil
}
