package allergy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	allergies AllergyRepository
}

func NewService(allergies AllergyRepository) *Service {
	return &Service{allergies: allergies}
}

func (s *Service) RecordAllergy(ctx context.Context, a *Allergy) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(a.Allergen) == "" {
		return fmt.Errorf("allergen is required")
	}
	if a.AllergenType == "" {
		a.AllergenType = TypeDrug
	}
	if !validAllergenTypes[a.AllergenType] {
		return fmt.Errorf("invalid allergen_type: %s", a.AllergenType)
	}
	if !validSeverities[a.Severity] {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if !validStatuses[a.Status] {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	return s.allergies.Create(ctx, a)
}

func (s *Service) GetAllergy(ctx context.Context, id uuid.UUID) (*Allergy, error) {
	return s.allergies.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return s.allergies.ListByPatient(ctx, patientID)
}

// ListActiveByPatient is the clinical context feed for prescription
// screening.
func (s *Service) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return s.allergies.ListActiveByPatient(ctx, patientID)
}

// UpdateStatus moves an allergy between active/inactive/resolved. The
// record itself is retained regardless of status.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Allergy, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	a, err := s.allergies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = status
	if err := s.allergies.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
