package inventory

import (
	"time"

	"github.com/google/uuid"
)

// InventoryLot tracks stock for one received lot of a drug. A lot at
// zero quantity is kept for audit history and excluded from
// allocation.
type InventoryLot struct {
	ID              uuid.UUID `json:"id"`
	LotNumber       string    `json:"lot_number"`
	DrugCode        string    `json:"drug_code"`
	ExpirationDate  time.Time `json:"expiration_date"`
	QuantityOnHand  int       `json:"quantity_on_hand"`
	UnitCost        float64   `json:"unit_cost"`
	WholesaleCost   float64   `json:"wholesale_cost"`
	ReorderLevel    int       `json:"reorder_level"`
	MaxLevel        int       `json:"max_level"`
	StorageLocation string    `json:"storage_location"`
	ReceivedDate    time.Time `json:"received_date"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LowStock reports whether the lot has fallen to its reorder level.
func (l *InventoryLot) LowStock() bool {
	return l.QuantityOnHand <= l.ReorderLevel
}

// LotDraw is one lot's contribution to a dispensing event.
type LotDraw struct {
	LotNumber string `json:"lot_number"`
	Quantity  int    `json:"quantity"`
}

// DispensingRecord is the immutable audit record of one dispensing
// event. One event per refill.
type DispensingRecord struct {
	ID                 uuid.UUID `json:"id"`
	PrescriptionID     uuid.UUID `json:"prescription_id"`
	PharmacistID       uuid.UUID `json:"pharmacist_id"`
	Quantity           int       `json:"quantity"`
	LotDraws           []LotDraw `json:"lot_draws"`
	RefillNumber       int       `json:"refill_number"`
	TotalCost          float64   `json:"total_cost"`
	CopayCost          float64   `json:"copay_cost"`
	InsuranceCost      float64   `json:"insurance_cost"`
	CounselingProvided bool      `json:"counseling_provided"`
	CounselingNotes    string    `json:"counseling_notes,omitempty"`
	DispensedAt        time.Time `json:"dispensed_at"`
	CreatedAt          time.Time `json:"created_at"`
}
