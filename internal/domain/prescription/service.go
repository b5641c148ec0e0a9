package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/catalog"
	"github.com/rxsafe/rxsafe/internal/domain/cds"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

var (
	// ErrInvalidTransition is returned for any lifecycle move outside
	// the transition graph. State is left unchanged.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrUnacknowledgedCriticalAlert blocks verification while a
	// critical alert remains unacknowledged.
	ErrUnacknowledgedCriticalAlert = errors.New("prescription has unacknowledged critical alerts")
	// ErrDrugNotPrescribable is returned when the drug code is unknown
	// or deactivated.
	ErrDrugNotPrescribable = errors.New("drug is not available for prescribing")
)

// DrugSource resolves catalog entries at prescribing time.
type DrugSource interface {
	GetDrug(ctx context.Context, code string) (*catalog.Drug, error)
}

// SafetyScreener runs decision support at creation and gates
// verification on unacknowledged critical alerts.
type SafetyScreener interface {
	Screen(ctx context.Context, cand cds.Candidate) ([]*cds.ClinicalAlert, error)
	HasUnacknowledgedCritical(ctx context.Context, prescriptionID uuid.UUID) (bool, error)
}

type Service struct {
	rxs       PrescriptionRepository
	drugs     DrugSource
	screener  SafetyScreener
	publisher events.Publisher
	logger    zerolog.Logger
	rxExpiry  time.Duration

	patientMu sync.Mutex
	patients  map[uuid.UUID]*sync.Mutex
}

func NewService(
	rxs PrescriptionRepository,
	drugs DrugSource,
	screener SafetyScreener,
	publisher events.Publisher,
	logger zerolog.Logger,
	rxExpiry time.Duration,
) *Service {
	return &Service{
		rxs:       rxs,
		drugs:     drugs,
		screener:  screener,
		publisher: publisher,
		logger:    logger,
		rxExpiry:  rxExpiry,
		patients:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// patientLock serializes creation per patient so screening always sees
// a consistent snapshot of that patient's prescriptions.
func (s *Service) patientLock(patientID uuid.UUID) *sync.Mutex {
	s.patientMu.Lock()
	defer s.patientMu.Unlock()
	m, ok := s.patients[patientID]
	if !ok {
		m = &sync.Mutex{}
		s.patients[patientID] = m
	}
	return m
}

// newRxNumber derives the human-readable prescription number.
func newRxNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RX-" + strings.ToUpper(raw[:8])
}

// Create validates and persists a new prescription in pending status,
// then runs safety screening. Screening failures never block creation;
// the alerts that were generated are returned alongside the
// prescription.
func (s *Service) Create(ctx context.Context, p *Prescription) (*Prescription, []*cds.ClinicalAlert, error) {
	if p.PatientID == uuid.Nil {
		return nil, nil, fmt.Errorf("patient_id is required")
	}
	if p.PrescriberID == uuid.Nil {
		return nil, nil, fmt.Errorf("prescriber_id is required")
	}
	if strings.TrimSpace(p.DrugCode) == "" {
		return nil, nil, fmt.Errorf("drug_code is required")
	}
	if p.Quantity <= 0 {
		return nil, nil, fmt.Errorf("quantity must be positive")
	}
	if p.DaysSupply <= 0 {
		return nil, nil, fmt.Errorf("days_supply must be positive")
	}
	if p.Refills < 0 {
		return nil, nil, fmt.Errorf("refills must not be negative")
	}
	if p.Priority == "" {
		p.Priority = PriorityRoutine
	}
	if !validPriorities[p.Priority] {
		return nil, nil, fmt.Errorf("invalid priority: %s", p.Priority)
	}

	drug, err := s.drugs.GetDrug(ctx, p.DrugCode)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, ErrDrugNotPrescribable
		}
		return nil, nil, err
	}
	if !drug.Active {
		return nil, nil, ErrDrugNotPrescribable
	}

	p.RxNumber = newRxNumber()
	p.Status = StatusPending
	if p.WrittenDate.IsZero() {
		p.WrittenDate = time.Now().UTC()
	}

	// Persist and screen under the patient lock so two concurrent
	// creations for the same patient cannot both miss each other.
	lock := s.patientLock(p.PatientID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.rxs.Create(ctx, p); err != nil {
		return nil, nil, err
	}

	s.publisher.Publish(events.PrescriptionCreated, p.ID.String(), map[string]string{
		"rx_number":  p.RxNumber,
		"patient_id": p.PatientID.String(),
		"drug_code":  p.DrugCode,
	})

	alerts, err := s.screener.Screen(ctx, cds.Candidate{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		DrugCode:       p.DrugCode,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("prescription_id", p.ID.String()).
			Msg("safety screening failed, prescription created without alerts")
		return p, nil, nil
	}
	return p, alerts, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.rxs.GetByID(ctx, id)
}

func (s *Service) GetByRxNumber(ctx context.Context, rxNumber string) (*Prescription, error) {
	return s.rxs.GetByRxNumber(ctx, rxNumber)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.rxs.ListByPatient(ctx, patientID)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Prescription, int, error) {
	if status != "" && !isKnownStatus(status) {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.rxs.List(ctx, status, limit, offset)
}

func isKnownStatus(status string) bool {
	switch status {
	case StatusPending, StatusVerified, StatusDispensed, StatusPickedUp, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Verify moves pending -> verified, recording the acting pharmacist.
// Fails with ErrUnacknowledgedCriticalAlert while any critical alert
// on the prescription is unacknowledged.
func (s *Service) Verify(ctx context.Context, id, pharmacistID uuid.UUID) (*Prescription, error) {
	p, err := s.rxs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, StatusVerified) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusVerified)
	}
	blocked, err := s.screener.HasUnacknowledgedCritical(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrUnacknowledgedCriticalAlert
	}

	now := time.Now().UTC()
	p.Status = StatusVerified
	p.VerifiedBy = &pharmacistID
	p.VerifiedAt = &now
	if err := s.rxs.Update(ctx, p); err != nil {
		return nil, err
	}
	s.publisher.Publish(events.PrescriptionVerified, p.ID.String(), map[string]string{
		"rx_number":   p.RxNumber,
		"verified_by": pharmacistID.String(),
	})
	return p, nil
}

// Cancel is allowed from pending or verified, any time before
// dispensing.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.rxs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusCancelled)
	}
	p.Status = StatusCancelled
	if err := s.rxs.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkDispensed moves verified -> dispensed. Called exclusively by the
// dispensing allocator once an allocation has succeeded.
func (s *Service) MarkDispensed(ctx context.Context, id uuid.UUID, when time.Time) (*Prescription, error) {
	p, err := s.rxs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, StatusDispensed) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusDispensed)
	}
	p.Status = StatusDispensed
	p.DispensedAt = &when
	if err := s.rxs.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmPickup moves dispensed -> picked_up. Administrative
// confirmation, no further guard.
func (s *Service) ConfirmPickup(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.rxs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, StatusPickedUp) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusPickedUp)
	}
	now := time.Now().UTC()
	p.Status = StatusPickedUp
	p.PickedUpAt = &now
	if err := s.rxs.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ExpirePending sweeps pending prescriptions whose written date is
// older than the configured horizon and marks them expired. Intended
// to be driven by an external scheduler. Returns the number expired.
func (s *Service) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.rxExpiry)
	stale, err := s.rxs.ListPendingWrittenBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range stale {
		p.Status = StatusExpired
		if err := s.rxs.Update(ctx, p); err != nil {
			s.logger.Error().Err(err).
				Str("prescription_id", p.ID.String()).
				Msg("failed to expire prescription")
			continue
		}
		expired++
	}
	return expired, nil
}

// ListScreenable feeds the screening engine the patient's
// non-cancelled prescriptions, excluding the candidate itself.
func (s *Service) ListScreenable(ctx context.Context, patientID uuid.UUID, exclude uuid.UUID) ([]cds.ScreenableRx, error) {
	items, err := s.rxs.ListNonCancelledByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]cds.ScreenableRx, 0, len(items))
	for _, p := range items {
		if p.ID == exclude {
			continue
		}
		out = append(out, cds.ScreenableRx{PrescriptionID: p.ID, DrugCode: p.DrugCode})
	}
	return out, nil
}
