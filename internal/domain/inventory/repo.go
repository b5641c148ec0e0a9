package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLotNotFound = errors.New("inventory lot not found")
	// ErrDuplicateLot is returned when the (drug code, lot number)
	// pair already exists.
	ErrDuplicateLot = errors.New("lot already received for drug")
	// ErrConcurrentUpdate is returned when a decrement loses a race
	// and the caller should re-plan the allocation.
	ErrConcurrentUpdate = errors.New("concurrent inventory update")
)

type LotRepository interface {
	Create(ctx context.Context, l *InventoryLot) error
	GetByLotNumber(ctx context.Context, drugCode, lotNumber string) (*InventoryLot, error)
	ListByDrug(ctx context.Context, drugCode string) ([]*InventoryLot, error)
	// ListAllocatable returns lots with quantity on hand, sorted
	// ascending by expiration date: first-expiring, first-out.
	ListAllocatable(ctx context.Context, drugCode string) ([]*InventoryLot, error)
	// DecrementLots applies every draw atomically. No draw is applied
	// unless all succeed; a draw that would take a lot negative fails
	// the batch with ErrConcurrentUpdate.
	DecrementLots(ctx context.Context, drugCode string, draws []LotDraw) error
	// RestoreLots returns previously drawn stock, used to roll a
	// dispensing back when a later step fails.
	RestoreLots(ctx context.Context, drugCode string, draws []LotDraw) error
	ListLowStock(ctx context.Context) ([]*InventoryLot, error)
	// ListExpiringBefore returns lots with stock expiring at or before
	// the cutoff, nearest expiration first.
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*InventoryLot, error)
}

type DispensingRepository interface {
	Create(ctx context.Context, rec *DispensingRecord) error
	// Delete removes a record that was written ahead of a lifecycle
	// transition that then failed. Not exposed through any operation.
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*DispensingRecord, error)
	CountByPrescription(ctx context.Context, prescriptionID uuid.UUID) (int, error)
	SumQuantityByPrescription(ctx context.Context, prescriptionID uuid.UUID) (int, error)
	// TotalRevenueInRange sums total cost across records dispensed
	// within the optional window.
	TotalRevenueInRange(ctx context.Context, from, to *time.Time) (float64, error)
}
