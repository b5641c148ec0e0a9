package cds

import (
	"time"

	"github.com/google/uuid"
)

// Interaction severities, as documented in the interaction table.
const (
	InteractionContraindicated = "contraindicated"
	InteractionMajor           = "major"
	InteractionModerate        = "moderate"
	InteractionMinor           = "minor"
)

var validInteractionSeverities = map[string]bool{
	InteractionContraindicated: true,
	InteractionMajor:           true,
	InteractionModerate:        true,
	InteractionMinor:           true,
}

// DrugInteraction is one curated pairwise fact. The pair is unordered:
// lookup must resolve identically for (A,B) and (B,A).
type DrugInteraction struct {
	ID         uuid.UUID `json:"id"`
	DrugCodeA  string    `json:"drug_code_a"`
	DrugCodeB  string    `json:"drug_code_b"`
	Severity   string    `json:"severity"`
	Effect     string    `json:"effect"`
	Management string    `json:"management"`
	CreatedAt  time.Time `json:"created_at"`
}

// Alert types.
const (
	AlertDrugAllergy      = "drug_allergy"
	AlertDrugInteraction  = "drug_interaction"
	AlertDuplicateTherapy = "duplicate_therapy"
	AlertDosingConcern    = "dosing_concern"
	AlertContraindication = "contraindication"
)

var validAlertTypes = map[string]bool{
	AlertDrugAllergy:      true,
	AlertDrugInteraction:  true,
	AlertDuplicateTherapy: true,
	AlertDosingConcern:    true,
	AlertContraindication: true,
}

// Alert severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityRank orders alerts most severe first.
var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// interactionAlertSeverity maps documented interaction severity to
// alert severity.
var interactionAlertSeverity = map[string]string{
	InteractionContraindicated: SeverityCritical,
	InteractionMajor:           SeverityHigh,
	InteractionModerate:        SeverityMedium,
	InteractionMinor:           SeverityLow,
}

// ClinicalAlert is a permanent audit artifact. It is created by the
// screening engine at prescription creation, mutated only through
// acknowledgement, and never deleted.
type ClinicalAlert struct {
	ID             uuid.UUID  `json:"id"`
	PrescriptionID uuid.UUID  `json:"prescription_id"`
	AlertType      string     `json:"alert_type"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy *uuid.UUID `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	OverrideReason *string    `json:"override_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
