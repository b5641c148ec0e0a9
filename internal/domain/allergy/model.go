package allergy

import (
	"time"

	"github.com/google/uuid"
)

// Allergy maps to the allergy table. Records are created by clinical
// staff and only ever status-mutated; history is never hard-deleted.
type Allergy struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	Allergen     string    `db:"allergen" json:"allergen"`
	AllergenType string    `db:"allergen_type" json:"allergen_type"`
	Reaction     *string   `db:"reaction" json:"reaction,omitempty"`
	Severity     string    `db:"severity" json:"severity"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const (
	TypeDrug          = "drug"
	TypeFood          = "food"
	TypeEnvironmental = "environmental"
)

var validAllergenTypes = map[string]bool{
	TypeDrug: true, TypeFood: true, TypeEnvironmental: true,
}

const (
	SeverityMild            = "mild"
	SeverityModerate        = "moderate"
	SeveritySevere          = "severe"
	SeverityLifeThreatening = "life-threatening"
)

var validSeverities = map[string]bool{
	SeverityMild: true, SeverityModerate: true,
	SeveritySevere: true, SeverityLifeThreatening: true,
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusResolved = "resolved"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusInactive: true, StatusResolved: true,
}
