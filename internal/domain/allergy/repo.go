package allergy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no allergy record matches the given ID.
var ErrNotFound = errors.New("allergy not found")

type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
	// ListActiveByPatient returns only status=active records; this is
	// the view the screening engine consumes.
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
	Update(ctx context.Context, a *Allergy) error
}
