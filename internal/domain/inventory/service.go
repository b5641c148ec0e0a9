package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/prescription"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

var (
	// ErrPrescriptionNotVerified blocks dispensing for any status
	// other than verified.
	ErrPrescriptionNotVerified = errors.New("prescription is not verified")
	// ErrQuantityExceedsAuthorization is returned when the requested
	// quantity exceeds what remains of the prescriber's authorization.
	ErrQuantityExceedsAuthorization = errors.New("quantity exceeds remaining authorization")
	// ErrInsufficientInventory fails the whole dispensing operation:
	// no partial decrement is committed.
	ErrInsufficientInventory = errors.New("insufficient inventory across lots")
)

// decrementRetries bounds how often a lost allocation race is replayed
// before surfacing ErrConcurrentUpdate.
const decrementRetries = 3

// PrescriptionGate is the allocator's view of the lifecycle service.
type PrescriptionGate interface {
	GetByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	MarkDispensed(ctx context.Context, id uuid.UUID, when time.Time) (*prescription.Prescription, error)
}

// Pricer resolves the catalog unit cost for the dispensed drug.
type Pricer interface {
	UnitCost(ctx context.Context, code string) (float64, error)
}

// keyedMutex serializes dispensing per drug code so two allocations
// for the same drug never plan against the same stock snapshot.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// DispenseRequest carries the allocator contract arguments.
type DispenseRequest struct {
	PrescriptionID     uuid.UUID `json:"prescription_id"`
	Quantity           int       `json:"quantity"`
	PharmacistID       uuid.UUID `json:"-"`
	PreferredLots      []string  `json:"preferred_lots,omitempty"`
	CounselingProvided bool      `json:"counseling_provided"`
	CounselingNotes    string    `json:"counseling_notes,omitempty"`
}

type Service struct {
	lots      LotRepository
	records   DispensingRepository
	rxs       PrescriptionGate
	pricer    Pricer
	publisher events.Publisher
	logger    zerolog.Logger
	copayRate float64
	drugLocks *keyedMutex
}

func NewService(
	lots LotRepository,
	records DispensingRepository,
	rxs PrescriptionGate,
	pricer Pricer,
	publisher events.Publisher,
	logger zerolog.Logger,
	copayRate float64,
) *Service {
	return &Service{
		lots:      lots,
		records:   records,
		rxs:       rxs,
		pricer:    pricer,
		publisher: publisher,
		logger:    logger,
		copayRate: copayRate,
		drugLocks: newKeyedMutex(),
	}
}

// ReceiveLot books newly received stock. The (drug code, lot number)
// pair must be unique.
func (s *Service) ReceiveLot(ctx context.Context, l *InventoryLot) error {
	if strings.TrimSpace(l.DrugCode) == "" {
		return fmt.Errorf("drug_code is required")
	}
	if strings.TrimSpace(l.LotNumber) == "" {
		return fmt.Errorf("lot_number is required")
	}
	if l.ExpirationDate.IsZero() {
		return fmt.Errorf("expiration_date is required")
	}
	if l.QuantityOnHand <= 0 {
		return fmt.Errorf("quantity_on_hand must be positive")
	}
	if l.UnitCost < 0 || l.WholesaleCost < 0 {
		return fmt.Errorf("costs must not be negative")
	}
	if l.ReorderLevel < 0 {
		return fmt.Errorf("reorder_level must not be negative")
	}
	// The drug must be in the catalog before stock can be booked
	// against it.
	if _, err := s.pricer.UnitCost(ctx, l.DrugCode); err != nil {
		return fmt.Errorf("resolve drug %s: %w", l.DrugCode, err)
	}
	if l.ReceivedDate.IsZero() {
		l.ReceivedDate = time.Now().UTC()
	}
	return s.lots.Create(ctx, l)
}

func (s *Service) ListLots(ctx context.Context, drugCode string) ([]*InventoryLot, error) {
	return s.lots.ListByDrug(ctx, drugCode)
}

func (s *Service) GetLot(ctx context.Context, drugCode, lotNumber string) (*InventoryLot, error) {
	return s.lots.GetByLotNumber(ctx, drugCode, lotNumber)
}

// RefillHistory lists the dispensing records for a prescription in
// refill order.
func (s *Service) RefillHistory(ctx context.Context, prescriptionID uuid.UUID) ([]*DispensingRecord, error) {
	return s.records.ListByPrescription(ctx, prescriptionID)
}

// Dispense allocates stock for a verified prescription, first-expiring
// first-out, and produces the immutable dispensing record. The whole
// operation is all-or-nothing: on any failure no lot is decremented
// and the prescription keeps its status.
func (s *Service) Dispense(ctx context.Context, req DispenseRequest) (*DispensingRecord, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	// The first read only resolves the drug, so the right lock can be
	// taken before anything is checked or committed.
	p, err := s.rxs.GetByID(ctx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}

	lock := s.drugLocks.get(p.DrugCode)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent dispense of the same
	// prescription may have moved it past verified since the first read.
	p, err = s.rxs.GetByID(ctx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Status != prescription.StatusVerified {
		return nil, fmt.Errorf("%w: status is %s", ErrPrescriptionNotVerified, p.Status)
	}

	prior, err := s.records.SumQuantityByPrescription(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if req.Quantity > p.AuthorizedQuantity()-prior {
		return nil, fmt.Errorf("%w: requested %d, remaining %d",
			ErrQuantityExceedsAuthorization, req.Quantity, p.AuthorizedQuantity()-prior)
	}

	// Everything the record needs is resolved before any stock moves,
	// so the only steps left after the decrement are the ones the
	// rollback below knows how to undo.
	refillNumber, err := s.records.CountByPrescription(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	unitCost, err := s.pricer.UnitCost(ctx, p.DrugCode)
	if err != nil {
		return nil, err
	}
	totalCost := unitCost * float64(req.Quantity)
	copay := totalCost * s.copayRate

	draws, err := s.allocate(ctx, p.DrugCode, req.Quantity, req.PreferredLots)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &DispensingRecord{
		PrescriptionID:     p.ID,
		PharmacistID:       req.PharmacistID,
		Quantity:           req.Quantity,
		LotDraws:           draws,
		RefillNumber:       refillNumber,
		TotalCost:          totalCost,
		CopayCost:          copay,
		InsuranceCost:      totalCost - copay,
		CounselingProvided: req.CounselingProvided,
		CounselingNotes:    req.CounselingNotes,
		DispensedAt:        now,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.rollbackDraws(ctx, p.DrugCode, draws)
		return nil, err
	}
	if _, err := s.rxs.MarkDispensed(ctx, p.ID, now); err != nil {
		// A cancellation raced in after allocation. Undo the record and
		// the draws so the failure leaves nothing committed.
		if derr := s.records.Delete(ctx, rec.ID); derr != nil {
			s.logger.Error().Err(derr).Str("record_id", rec.ID.String()).
				Msg("failed to remove dispensing record after rollback")
		}
		s.rollbackDraws(ctx, p.DrugCode, draws)
		return nil, err
	}

	s.publisher.Publish(events.MedicationDispensed, rec.ID.String(), map[string]string{
		"prescription_id": p.ID.String(),
		"drug_code":       p.DrugCode,
		"quantity":        strconv.Itoa(req.Quantity),
		"refill_number":   strconv.Itoa(refillNumber),
	})
	s.notifyLowStock(ctx, p.DrugCode, draws)
	return rec, nil
}

// allocate plans and applies the first-expiring, first-out draw. On a
// lost decrement race the plan is rebuilt from fresh stock, up to
// decrementRetries times.
func (s *Service) allocate(ctx context.Context, drugCode string, quantity int, preferred []string) ([]LotDraw, error) {
	var lastErr error
	for attempt := 0; attempt < decrementRetries; attempt++ {
		lots, err := s.lots.ListAllocatable(ctx, drugCode)
		if err != nil {
			return nil, err
		}
		if len(preferred) > 0 {
			lots = filterLots(lots, preferred)
		}

		var draws []LotDraw
		remaining := quantity
		for _, l := range lots {
			if remaining == 0 {
				break
			}
			take := l.QuantityOnHand
			if take > remaining {
				take = remaining
			}
			draws = append(draws, LotDraw{LotNumber: l.LotNumber, Quantity: take})
			remaining -= take
		}
		if remaining > 0 {
			return nil, fmt.Errorf("%w: drug %s, short by %d", ErrInsufficientInventory, drugCode, remaining)
		}

		err = s.lots.DecrementLots(ctx, drugCode, draws)
		if err == nil {
			return draws, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn().Str("drug_code", drugCode).Int("attempt", attempt+1).
			Msg("allocation raced, replanning")
	}
	return nil, lastErr
}

func (s *Service) rollbackDraws(ctx context.Context, drugCode string, draws []LotDraw) {
	if err := s.lots.RestoreLots(ctx, drugCode, draws); err != nil {
		s.logger.Error().Err(err).Str("drug_code", drugCode).
			Msg("failed to restore drawn stock after rollback")
	}
}

func filterLots(lots []*InventoryLot, preferred []string) []*InventoryLot {
	allowed := make(map[string]bool, len(preferred))
	for _, n := range preferred {
		allowed[n] = true
	}
	var out []*InventoryLot
	for _, l := range lots {
		if allowed[l.LotNumber] {
			out = append(out, l)
		}
	}
	return out
}

func (s *Service) notifyLowStock(ctx context.Context, drugCode string, draws []LotDraw) {
	for _, d := range draws {
		l, err := s.lots.GetByLotNumber(ctx, drugCode, d.LotNumber)
		if err != nil {
			continue
		}
		if l.LowStock() {
			s.publisher.Publish(events.InventoryLow, l.ID.String(), map[string]string{
				"drug_code":        l.DrugCode,
				"lot_number":       l.LotNumber,
				"quantity_on_hand": strconv.Itoa(l.QuantityOnHand),
				"reorder_level":    strconv.Itoa(l.ReorderLevel),
			})
		}
	}
}
