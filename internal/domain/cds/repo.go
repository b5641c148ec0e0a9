package cds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlertNotFound is returned when acknowledging an unknown alert ID.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInteractionNotFound is returned when no fact covers the pair.
	ErrInteractionNotFound = errors.New("interaction not found")
	// ErrDuplicateInteraction is returned when the unordered pair is
	// already documented.
	ErrDuplicateInteraction = errors.New("interaction already documented for drug pair")
)

type InteractionRepository interface {
	Create(ctx context.Context, i *DrugInteraction) error
	// GetPair performs the order-independent lookup: (a,b) and (b,a)
	// resolve to the same fact.
	GetPair(ctx context.Context, codeA, codeB string) (*DrugInteraction, error)
	List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error)
}

type AlertRepository interface {
	Create(ctx context.Context, a *ClinicalAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalAlert, error)
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*ClinicalAlert, error)
	Update(ctx context.Context, a *ClinicalAlert) error
	CountUnacknowledgedCritical(ctx context.Context, prescriptionID uuid.UUID) (int, error)
	// CountInRange supports reporting: total and critical alert counts
	// created within the optional [from, to] window.
	CountInRange(ctx context.Context, from, to *time.Time) (total, critical int, err error)
}
