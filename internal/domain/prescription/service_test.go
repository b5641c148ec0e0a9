package prescription

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/allergy"
	"github.com/rxsafe/rxsafe/internal/domain/catalog"
	"github.com/rxsafe/rxsafe/internal/domain/cds"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

type rxEnv struct {
	catalog   *catalog.Service
	allergies *allergy.Service
	cds       *cds.Service
	svc       *Service
}

func newRxEnv() *rxEnv {
	catalogSvc := catalog.NewService(catalog.NewMemDrugRepo())
	allergySvc := allergy.NewService(allergy.NewMemAllergyRepo())
	cdsSvc := cds.NewService(
		cds.NewMemInteractionRepo(),
		cds.NewMemAlertRepo(),
		catalogSvc,
		allergySvc,
		events.Nop(),
		zerolog.Nop(),
	)
	rxSvc := NewService(
		NewMemPrescriptionRepo(),
		catalogSvc,
		cdsSvc,
		events.Nop(),
		zerolog.Nop(),
		180*24*time.Hour,
	)
	cdsSvc.SetRxSource(rxSvc)
	return &rxEnv{catalog: catalogSvc, allergies: allergySvc, cds: cdsSvc, svc: rxSvc}
}

func (e *rxEnv) addDrug(t *testing.T, code, generic, drugClass, therClass string) {
	t.Helper()
	err := e.catalog.AddDrug(nil, &catalog.Drug{
		Code:             code,
		GenericName:      generic,
		DrugClass:        drugClass,
		TherapeuticClass: therClass,
		UnitCost:         2.50,
	})
	if err != nil {
		t.Fatalf("AddDrug(%s) failed: %v", code, err)
	}
}

func sampleRx(patientID uuid.UUID, drugCode string) *Prescription {
	return &Prescription{
		PatientID:    patientID,
		PrescriberID: uuid.New(),
		DrugCode:     drugCode,
		Strength:     "10mg",
		DosageForm:   "tablet",
		Route:        "oral",
		Directions:   "take one tablet daily",
		Quantity:     30,
		DaysSupply:   30,
		Refills:      2,
	}
}

func TestCreatePrescription(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	p, alerts, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("expected pending status, got %s", p.Status)
	}
	if !strings.HasPrefix(p.RxNumber, "RX-") || len(p.RxNumber) != 11 {
		t.Errorf("unexpected rx number format: %s", p.RxNumber)
	}
	if p.WrittenDate.IsZero() {
		t.Error("expected written date to be stamped")
	}
	if p.Priority != PriorityRoutine {
		t.Errorf("expected default priority routine, got %s", p.Priority)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for clean candidate, got %d", len(alerts))
	}

	byNumber, err := env.svc.GetByRxNumber(nil, p.RxNumber)
	if err != nil {
		t.Fatalf("GetByRxNumber failed: %v", err)
	}
	if byNumber.ID != p.ID {
		t.Error("lookup by rx number returned a different prescription")
	}
}

func TestCreateValidation(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")
	patientID := uuid.New()

	tests := []struct {
		name   string
		modify func(*Prescription)
	}{
		{"missing patient", func(p *Prescription) { p.PatientID = uuid.Nil }},
		{"missing prescriber", func(p *Prescription) { p.PrescriberID = uuid.Nil }},
		{"missing drug code", func(p *Prescription) { p.DrugCode = " " }},
		{"zero quantity", func(p *Prescription) { p.Quantity = 0 }},
		{"zero days supply", func(p *Prescription) { p.DaysSupply = 0 }},
		{"negative refills", func(p *Prescription) { p.Refills = -1 }},
		{"bad priority", func(p *Prescription) { p.Priority = "asap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleRx(patientID, "D001")
			tt.modify(p)
			if _, _, err := env.svc.Create(nil, p); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestCreateRejectsUnknownAndInactiveDrugs(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	if _, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "NOPE")); !errors.Is(err, ErrDrugNotPrescribable) {
		t.Errorf("expected ErrDrugNotPrescribable for unknown drug, got %v", err)
	}

	if err := env.catalog.DeactivateDrug(nil, "D001"); err != nil {
		t.Fatalf("DeactivateDrug failed: %v", err)
	}
	if _, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001")); !errors.Is(err, ErrDrugNotPrescribable) {
		t.Errorf("expected ErrDrugNotPrescribable for inactive drug, got %v", err)
	}
}

func TestCreateRunsSafetyScreening(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D010", "Penicillin", "Penicillin", "Antibiotic")
	patientID := uuid.New()

	err := env.allergies.RecordAllergy(nil, &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "Penicillin",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeverityLifeThreatening,
	})
	if err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}

	p, alerts, err := env.svc.Create(nil, sampleRx(patientID, "D010"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("screening must not block creation, got status %s", p.Status)
	}
	if len(alerts) != 1 || alerts[0].Severity != cds.SeverityCritical {
		t.Fatalf("expected one critical alert, got %+v", alerts)
	}
}

func TestVerify(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	p, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	pharmacist := uuid.New()
	verified, err := env.svc.Verify(nil, p.ID, pharmacist)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.Status != StatusVerified {
		t.Errorf("expected verified status, got %s", verified.Status)
	}
	if verified.VerifiedAt == nil || verified.VerifiedBy == nil || *verified.VerifiedBy != pharmacist {
		t.Error("expected verification timestamp and actor to be recorded")
	}

	if _, err := env.svc.Verify(nil, p.ID, pharmacist); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second verify, got %v", err)
	}
	if _, err := env.svc.Verify(nil, uuid.New(), pharmacist); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyBlockedUntilCriticalAcknowledged(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D010", "Penicillin", "Penicillin", "Antibiotic")
	patientID := uuid.New()

	err := env.allergies.RecordAllergy(nil, &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "Penicillin",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeverityLifeThreatening,
	})
	if err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}

	p, alerts, err := env.svc.Create(nil, sampleRx(patientID, "D010"))
	if err != nil || len(alerts) != 1 {
		t.Fatalf("expected one alert, got %v, err=%v", alerts, err)
	}

	pharmacist := uuid.New()
	if _, err := env.svc.Verify(nil, p.ID, pharmacist); !errors.Is(err, ErrUnacknowledgedCriticalAlert) {
		t.Fatalf("expected ErrUnacknowledgedCriticalAlert, got %v", err)
	}

	// The failed verify must leave state unchanged.
	cur, err := env.svc.GetByID(nil, p.ID)
	if err != nil || cur.Status != StatusPending {
		t.Fatalf("expected status pending after blocked verify, got %s err=%v", cur.Status, err)
	}

	reason := "tolerated prior course"
	if _, err := env.cds.AcknowledgeAlert(nil, alerts[0].ID, pharmacist, &reason); err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	verified, err := env.svc.Verify(nil, p.ID, pharmacist)
	if err != nil {
		t.Fatalf("Verify after acknowledgement failed: %v", err)
	}
	if verified.Status != StatusVerified {
		t.Errorf("expected verified, got %s", verified.Status)
	}
}

func TestVerifyNotBlockedByNonCriticalAlerts(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D010", "Penicillin", "Penicillin", "Antibiotic")
	patientID := uuid.New()

	err := env.allergies.RecordAllergy(nil, &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "Penicillin",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeveritySevere,
	})
	if err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}

	p, alerts, err := env.svc.Create(nil, sampleRx(patientID, "D010"))
	if err != nil || len(alerts) != 1 || alerts[0].Severity != cds.SeverityHigh {
		t.Fatalf("expected one high alert, got %v, err=%v", alerts, err)
	}

	if _, err := env.svc.Verify(nil, p.ID, uuid.New()); err != nil {
		t.Errorf("high severity alert must not block verification: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	p, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Pickup before dispensing is invalid.
	if _, err := env.svc.ConfirmPickup(nil, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	// So is dispensing before verification.
	if _, err := env.svc.MarkDispensed(nil, p.ID, time.Now().UTC()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := env.svc.Verify(nil, p.ID, uuid.New()); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	when := time.Now().UTC()
	dispensed, err := env.svc.MarkDispensed(nil, p.ID, when)
	if err != nil {
		t.Fatalf("MarkDispensed failed: %v", err)
	}
	if dispensed.Status != StatusDispensed || dispensed.DispensedAt == nil {
		t.Errorf("expected dispensed with timestamp, got %+v", dispensed)
	}

	// Cancellation is only allowed before dispensing.
	if _, err := env.svc.Cancel(nil, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling dispensed rx, got %v", err)
	}

	picked, err := env.svc.ConfirmPickup(nil, p.ID)
	if err != nil {
		t.Fatalf("ConfirmPickup failed: %v", err)
	}
	if picked.Status != StatusPickedUp || picked.PickedUpAt == nil {
		t.Errorf("expected picked_up with timestamp, got %+v", picked)
	}
}

func TestCancel(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	p, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	cancelled, err := env.svc.Cancel(nil, p.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	// Terminal: nothing moves out of cancelled.
	if _, err := env.svc.Verify(nil, p.ID, uuid.New()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelledPrescriptionsExcludedFromScreening(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D020", "Warfarin", "Anticoagulant", "Blood Thinner")
	env.addDrug(t, "D021", "Aspirin", "NSAID", "Analgesic")
	err := env.cds.AddInteraction(nil, &cds.DrugInteraction{
		DrugCodeA: "D020", DrugCodeB: "D021",
		Severity: cds.InteractionMajor, Effect: "bleeding risk",
	})
	if err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	patientID := uuid.New()
	first, _, err := env.svc.Create(nil, sampleRx(patientID, "D020"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := env.svc.Cancel(nil, first.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	_, alerts, err := env.svc.Create(nil, sampleRx(patientID, "D021"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("cancelled prescription must not trigger interaction alerts, got %d", len(alerts))
	}
}

func TestInteractionAlertOnSecondPrescription(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D020", "Warfarin", "Anticoagulant", "Blood Thinner")
	env.addDrug(t, "D021", "Aspirin", "NSAID", "Analgesic")
	err := env.cds.AddInteraction(nil, &cds.DrugInteraction{
		DrugCodeA: "D020", DrugCodeB: "D021",
		Severity: cds.InteractionModerate, Effect: "increased bleeding risk",
	})
	if err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	patientID := uuid.New()
	if _, _, err := env.svc.Create(nil, sampleRx(patientID, "D020")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, alerts, err := env.svc.Create(nil, sampleRx(patientID, "D021"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertType != cds.AlertDrugInteraction || alerts[0].Severity != cds.SeverityMedium {
		t.Fatalf("expected one medium drug_interaction alert, got %+v", alerts)
	}
}

func TestConcurrentCreatesForSamePatientDoNotLoseAlerts(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D020", "Warfarin", "Anticoagulant", "Blood Thinner")
	env.addDrug(t, "D021", "Aspirin", "NSAID", "Analgesic")
	err := env.cds.AddInteraction(nil, &cds.DrugInteraction{
		DrugCodeA: "D020", DrugCodeB: "D021",
		Severity: cds.InteractionMajor, Effect: "bleeding risk",
	})
	if err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	patientID := uuid.New()
	results := make(chan int, 2)
	var wg sync.WaitGroup
	for _, code := range []string{"D020", "D021"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, alerts, err := env.svc.Create(nil, sampleRx(patientID, code))
			if err != nil {
				t.Errorf("Create(%s) failed: %v", code, err)
				results <- 0
				return
			}
			n := 0
			for _, a := range alerts {
				if a.AlertType == cds.AlertDrugInteraction {
					n++
				}
			}
			results <- n
		}(code)
	}
	wg.Wait()
	close(results)

	// Creation per patient is serialized, so whichever prescription
	// lands second must see the first and raise the interaction alert.
	total := 0
	for n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("expected exactly one interaction alert across both creations, got %d", total)
	}
}

func TestExpirePending(t *testing.T) {
	env := newRxEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")
	now := time.Now().UTC()

	stale := sampleRx(uuid.New(), "D001")
	stale.WrittenDate = now.Add(-200 * 24 * time.Hour)
	stalePtr, _, err := env.svc.Create(nil, stale)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fresh, _, err := env.svc.Create(nil, sampleRx(uuid.New(), "D001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	staleVerified := sampleRx(uuid.New(), "D001")
	staleVerified.WrittenDate = now.Add(-200 * 24 * time.Hour)
	staleVerifiedPtr, _, err := env.svc.Create(nil, staleVerified)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := env.svc.Verify(nil, staleVerifiedPtr.ID, uuid.New()); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	n, err := env.svc.ExpirePending(nil, now)
	if err != nil {
		t.Fatalf("ExpirePending failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired prescription, got %d", n)
	}

	got, _ := env.svc.GetByID(nil, stalePtr.ID)
	if got.Status != StatusExpired {
		t.Errorf("expected stale pending rx to expire, got %s", got.Status)
	}
	got, _ = env.svc.GetByID(nil, fresh.ID)
	if got.Status != StatusPending {
		t.Errorf("expected fresh rx untouched, got %s", got.Status)
	}
	got, _ = env.svc.GetByID(nil, staleVerifiedPtr.ID)
	if got.Status != StatusVerified {
		t.Errorf("expected verified rx untouched by sweep, got %s", got.Status)
	}
}

func TestAuthorizedQuantity(t *testing.T) {
	p := &Prescription{Quantity: 30, Refills: 2}
	if got := p.AuthorizedQuantity(); got != 90 {
		t.Errorf("expected authorized quantity 90, got %d", got)
	}
}
