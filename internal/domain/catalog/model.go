package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Drug maps to the drug table. A drug is reference data: administrative
// correction aside, it is immutable once created and never deleted, only
// deactivated.
type Drug struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"` // NDC-equivalent catalog code
	GenericName       string    `db:"generic_name" json:"generic_name"`
	BrandName         *string   `db:"brand_name" json:"brand_name,omitempty"`
	DrugClass         string    `db:"drug_class" json:"drug_class"`
	TherapeuticClass  string    `db:"therapeutic_class" json:"therapeutic_class"`
	Schedule          string    `db:"schedule" json:"schedule"`
	DosageForms       []string  `db:"dosage_forms" json:"dosage_forms,omitempty"`
	Strengths         []string  `db:"strengths" json:"strengths,omitempty"`
	Routes            []string  `db:"routes" json:"routes,omitempty"`
	PregnancyCategory *string   `db:"pregnancy_category" json:"pregnancy_category,omitempty"`
	BlackBoxWarning   bool      `db:"black_box_warning" json:"black_box_warning"`
	FormularyStatus   string    `db:"formulary_status" json:"formulary_status"`
	UnitCost          float64   `db:"unit_cost" json:"unit_cost"`
	Active            bool      `db:"active" json:"active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Controlled-substance schedules. ScheduleNone marks an unscheduled drug.
const (
	ScheduleNone = "none"
	ScheduleI    = "I"
	ScheduleII   = "II"
	ScheduleIII  = "III"
	ScheduleIV   = "IV"
	ScheduleV    = "V"
)

var validSchedules = map[string]bool{
	ScheduleNone: true, ScheduleI: true, ScheduleII: true,
	ScheduleIII: true, ScheduleIV: true, ScheduleV: true,
}

// Formulary statuses under a coverage policy.
const (
	FormularyPreferred    = "preferred"
	FormularyNonPreferred = "non-preferred"
	FormularyRestricted   = "restricted"
	FormularyExcluded     = "excluded"
)

var validFormularyStatuses = map[string]bool{
	FormularyPreferred: true, FormularyNonPreferred: true,
	FormularyRestricted: true, FormularyExcluded: true,
}
