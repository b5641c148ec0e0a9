package cds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/allergy"
	"github.com/rxsafe/rxsafe/internal/domain/catalog"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

// ErrAlreadyAcknowledged is returned when acknowledging an alert twice.
var ErrAlreadyAcknowledged = errors.New("alert already acknowledged")

// DrugSource resolves catalog entries for screening.
type DrugSource interface {
	GetDrug(ctx context.Context, code string) (*catalog.Drug, error)
}

// AllergySource supplies the patient's active allergy list.
type AllergySource interface {
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*allergy.Allergy, error)
}

// ScreenableRx is the minimal view of an existing prescription the
// screening engine needs.
type ScreenableRx struct {
	PrescriptionID uuid.UUID
	DrugCode       string
}

// RxSource supplies the patient's non-cancelled prescriptions,
// excluding the candidate itself.
type RxSource interface {
	ListScreenable(ctx context.Context, patientID uuid.UUID, exclude uuid.UUID) ([]ScreenableRx, error)
}

// Candidate is the prescription under evaluation.
type Candidate struct {
	PrescriptionID uuid.UUID
	PatientID      uuid.UUID
	DrugCode       string
}

type Service struct {
	interactions InteractionRepository
	alerts       AlertRepository
	drugs        DrugSource
	allergies    AllergySource
	rxs          RxSource
	publisher    events.Publisher
	logger       zerolog.Logger
}

func NewService(
	interactions InteractionRepository,
	alerts AlertRepository,
	drugs DrugSource,
	allergies AllergySource,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		interactions: interactions,
		alerts:       alerts,
		drugs:        drugs,
		allergies:    allergies,
		publisher:    publisher,
		logger:       logger,
	}
}

// SetRxSource wires the prescription feed after construction. The
// prescription service depends on this service for its verification
// gate, so the reverse edge is attached late.
func (s *Service) SetRxSource(rxs RxSource) {
	s.rxs = rxs
}

// AddInteraction documents a pairwise interaction fact.
func (s *Service) AddInteraction(ctx context.Context, i *DrugInteraction) error {
	if strings.TrimSpace(i.DrugCodeA) == "" || strings.TrimSpace(i.DrugCodeB) == "" {
		return fmt.Errorf("both drug codes are required")
	}
	if i.DrugCodeA == i.DrugCodeB {
		return fmt.Errorf("interaction requires two distinct drugs")
	}
	if !validInteractionSeverities[i.Severity] {
		return fmt.Errorf("invalid severity: %s", i.Severity)
	}
	if strings.TrimSpace(i.Effect) == "" {
		return fmt.Errorf("effect is required")
	}
	return s.interactions.Create(ctx, i)
}

func (s *Service) ListInteractions(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	return s.interactions.List(ctx, limit, offset)
}

// Screen evaluates the candidate against the patient's clinical
// context. Each check is independent; a prescription may carry alerts
// of several types at once. Generated alerts are persisted and
// returned most severe first.
func (s *Service) Screen(ctx context.Context, cand Candidate) ([]*ClinicalAlert, error) {
	if s.rxs == nil {
		return nil, errors.New("screening requires a prescription source, none configured")
	}
	drug, err := s.drugs.GetDrug(ctx, cand.DrugCode)
	if err != nil {
		return nil, fmt.Errorf("resolve candidate drug %s: %w", cand.DrugCode, err)
	}

	var found []*ClinicalAlert

	allergyAlerts, err := s.checkAllergies(ctx, cand, drug)
	if err != nil {
		return nil, err
	}
	found = append(found, allergyAlerts...)

	existing, err := s.rxs.ListScreenable(ctx, cand.PatientID, cand.PrescriptionID)
	if err != nil {
		return nil, err
	}

	interactionAlerts, err := s.checkInteractions(ctx, cand, drug, existing)
	if err != nil {
		return nil, err
	}
	found = append(found, interactionAlerts...)

	dupAlert, err := s.checkDuplicateTherapy(ctx, cand, drug, existing)
	if err != nil {
		return nil, err
	}
	if dupAlert != nil {
		found = append(found, dupAlert)
	}

	for _, a := range found {
		if err := s.alerts.Create(ctx, a); err != nil {
			return nil, err
		}
		s.publisher.Publish(events.AlertRaised, a.ID.String(), map[string]string{
			"prescription_id": a.PrescriptionID.String(),
			"alert_type":      a.AlertType,
			"severity":        a.Severity,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		return severityRank[found[i].Severity] > severityRank[found[j].Severity]
	})
	return found, nil
}

func (s *Service) checkAllergies(ctx context.Context, cand Candidate, drug *catalog.Drug) ([]*ClinicalAlert, error) {
	active, err := s.allergies.ListActiveByPatient(ctx, cand.PatientID)
	if err != nil {
		return nil, err
	}
	var out []*ClinicalAlert
	for _, al := range active {
		if al.AllergenType != allergy.TypeDrug {
			continue
		}
		if !allergenMatchesDrug(al.Allergen, drug) {
			continue
		}
		sev := SeverityHigh
		if al.Severity == allergy.SeverityLifeThreatening {
			sev = SeverityCritical
		}
		out = append(out, &ClinicalAlert{
			PrescriptionID: cand.PrescriptionID,
			AlertType:      AlertDrugAllergy,
			Severity:       sev,
			Message: fmt.Sprintf("Patient has a documented %s allergy to %s; %s matches this allergen",
				al.Severity, al.Allergen, drug.GenericName),
			Recommendation: "Consider an alternative agent outside the allergen's class, or acknowledge with an override reason",
		})
	}
	return out, nil
}

// allergenMatchesDrug compares the allergen case-insensitively against
// the drug's generic name, brand name, and drug class.
func allergenMatchesDrug(allergen string, drug *catalog.Drug) bool {
	target := strings.ToLower(strings.TrimSpace(allergen))
	if target == "" {
		return false
	}
	if strings.ToLower(drug.GenericName) == target {
		return true
	}
	if drug.BrandName != nil && strings.ToLower(*drug.BrandName) == target {
		return true
	}
	return strings.ToLower(drug.DrugClass) == target
}

func (s *Service) checkInteractions(ctx context.Context, cand Candidate, drug *catalog.Drug, existing []ScreenableRx) ([]*ClinicalAlert, error) {
	var out []*ClinicalAlert
	for _, rx := range existing {
		fact, err := s.interactions.GetPair(ctx, cand.DrugCode, rx.DrugCode)
		if errors.Is(err, ErrInteractionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		other, err := s.drugs.GetDrug(ctx, rx.DrugCode)
		otherName := rx.DrugCode
		if err == nil {
			otherName = other.GenericName
		}
		out = append(out, &ClinicalAlert{
			PrescriptionID: cand.PrescriptionID,
			AlertType:      AlertDrugInteraction,
			Severity:       interactionAlertSeverity[fact.Severity],
			Message: fmt.Sprintf("%s interacts with %s (%s): %s",
				drug.GenericName, otherName, fact.Severity, fact.Effect),
			Recommendation: fact.Management,
		})
	}
	return out, nil
}

// checkDuplicateTherapy emits at most one alert regardless of how many
// overlapping prescriptions exist.
func (s *Service) checkDuplicateTherapy(ctx context.Context, cand Candidate, drug *catalog.Drug, existing []ScreenableRx) (*ClinicalAlert, error) {
	for _, rx := range existing {
		other, err := s.drugs.GetDrug(ctx, rx.DrugCode)
		if err != nil {
			s.logger.Warn().Str("drug_code", rx.DrugCode).Err(err).
				Msg("skipping duplicate therapy comparison, drug not resolvable")
			continue
		}
		if strings.EqualFold(other.TherapeuticClass, drug.TherapeuticClass) &&
			strings.EqualFold(other.DrugClass, drug.DrugClass) {
			return &ClinicalAlert{
				PrescriptionID: cand.PrescriptionID,
				AlertType:      AlertDuplicateTherapy,
				Severity:       SeverityMedium,
				Message: fmt.Sprintf("Patient already has an active prescription in the same class (%s / %s)",
					drug.DrugClass, drug.TherapeuticClass),
				Recommendation: "Review the existing therapy before adding another agent from the same class",
			}, nil
		}
	}
	return nil, nil
}

// AcknowledgeAlert marks the alert acknowledged with actor, timestamp,
// and optional override reason. The alert is never removed.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, actorID uuid.UUID, reason *string) (*ClinicalAlert, error) {
	a, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged {
		return nil, ErrAlreadyAcknowledged
	}
	now := time.Now().UTC()
	a.Acknowledged = true
	a.AcknowledgedBy = &actorID
	a.AcknowledgedAt = &now
	a.OverrideReason = reason
	if err := s.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	s.publisher.Publish(events.AlertAcknowledged, a.ID.String(), map[string]string{
		"prescription_id": a.PrescriptionID.String(),
		"acknowledged_by": actorID.String(),
	})
	return a, nil
}

func (s *Service) ListAlerts(ctx context.Context, prescriptionID uuid.UUID) ([]*ClinicalAlert, error) {
	return s.alerts.ListByPrescription(ctx, prescriptionID)
}

// HasUnacknowledgedCritical reports whether verification must be
// blocked for the prescription.
func (s *Service) HasUnacknowledgedCritical(ctx context.Context, prescriptionID uuid.UUID) (bool, error) {
	n, err := s.alerts.CountUnacknowledgedCritical(ctx, prescriptionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
