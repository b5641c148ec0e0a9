package prescription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("prescription not found")

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByRxNumber(ctx context.Context, rxNumber string) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	// ListNonCancelledByPatient feeds the screening engine: every
	// prescription for the patient whose status is not cancelled.
	ListNonCancelledByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Prescription, int, error)
	Update(ctx context.Context, p *Prescription) error
	// ListPendingWrittenBefore returns pending prescriptions whose
	// written date is at or before the cutoff. Used by the expiry sweep.
	ListPendingWrittenBefore(ctx context.Context, cutoff time.Time) ([]*Prescription, error)
	// CountByStatusInRange groups prescriptions created within the
	// optional window by status.
	CountByStatusInRange(ctx context.Context, from, to *time.Time) (map[string]int, error)
	// AvgVerifyToDispenseHours averages DispensedAt-VerifiedAt across
	// prescriptions dispensed within the optional window. Returns 0
	// when no prescription qualifies.
	AvgVerifyToDispenseHours(ctx context.Context, from, to *time.Time) (float64, error)
}
