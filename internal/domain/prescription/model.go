package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle statuses. The graph is monotonic: no backward transitions.
const (
	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusDispensed = "dispensed"
	StatusPickedUp  = "picked_up"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// validTransitions is the full lifecycle graph. Anything not listed
// fails with ErrInvalidTransition.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusVerified:  true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusVerified: {
		StatusDispensed: true,
		StatusCancelled: true,
	},
	StatusDispensed: {
		StatusPickedUp: true,
	},
}

func canTransition(from, to string) bool {
	return validTransitions[from][to]
}

// Priorities.
const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityStat    = "stat"
)

var validPriorities = map[string]bool{
	PriorityRoutine: true,
	PriorityUrgent:  true,
	PriorityStat:    true,
}

// Prescription is never physically deleted; cancellation and expiry
// are terminal statuses, not removal.
type Prescription struct {
	ID              uuid.UUID  `json:"id"`
	RxNumber        string     `json:"rx_number"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PrescriberID    uuid.UUID  `json:"prescriber_id"`
	DrugCode        string     `json:"drug_code"`
	Strength        string     `json:"strength"`
	DosageForm      string     `json:"dosage_form"`
	Route           string     `json:"route"`
	Directions      string     `json:"directions"`
	Quantity        int        `json:"quantity"`
	DaysSupply      int        `json:"days_supply"`
	Refills         int        `json:"refills"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	WrittenDate     time.Time  `json:"written_date"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	DiscontinueDate *time.Time `json:"discontinue_date,omitempty"`
	VerifiedBy      *uuid.UUID `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	DispensedAt     *time.Time `json:"dispensed_at,omitempty"`
	PickedUpAt      *time.Time `json:"picked_up_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AuthorizedQuantity is the total units the prescriber signed off on:
// the original fill plus each authorized refill.
func (p *Prescription) AuthorizedQuantity() int {
	return p.Quantity * (p.Refills + 1)
}
