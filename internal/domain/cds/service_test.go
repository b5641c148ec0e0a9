package cds

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxsafe/rxsafe/internal/domain/allergy"
	"github.com/rxsafe/rxsafe/internal/domain/catalog"
	"github.com/rxsafe/rxsafe/internal/platform/events"
)

type fakeRxSource struct {
	items []ScreenableRx
}

func (f *fakeRxSource) ListScreenable(_ context.Context, _ uuid.UUID, exclude uuid.UUID) ([]ScreenableRx, error) {
	var out []ScreenableRx
	for _, rx := range f.items {
		if rx.PrescriptionID != exclude {
			out = append(out, rx)
		}
	}
	return out, nil
}

type screenEnv struct {
	svc       *Service
	catalog   *catalog.Service
	allergies *allergy.Service
	rxs       *fakeRxSource
}

func newScreenEnv() *screenEnv {
	catalogSvc := catalog.NewService(catalog.NewMemDrugRepo())
	allergySvc := allergy.NewService(allergy.NewMemAllergyRepo())
	rxs := &fakeRxSource{}
	svc := NewService(
		NewMemInteractionRepo(),
		NewMemAlertRepo(),
		catalogSvc,
		allergySvc,
		events.Nop(),
		zerolog.Nop(),
	)
	svc.SetRxSource(rxs)
	return &screenEnv{svc: svc, catalog: catalogSvc, allergies: allergySvc, rxs: rxs}
}

func (e *screenEnv) addDrug(t *testing.T, code, generic, drugClass, therClass string) {
	t.Helper()
	err := e.catalog.AddDrug(nil, &catalog.Drug{
		Code:             code,
		GenericName:      generic,
		DrugClass:        drugClass,
		TherapeuticClass: therClass,
		UnitCost:         1.0,
	})
	if err != nil {
		t.Fatalf("AddDrug(%s) failed: %v", code, err)
	}
}

func strPtr(s string) *string { return &s }

func TestScreenWithoutRxSourceFails(t *testing.T) {
	catalogSvc := catalog.NewService(catalog.NewMemDrugRepo())
	allergySvc := allergy.NewService(allergy.NewMemAllergyRepo())
	svc := NewService(
		NewMemInteractionRepo(),
		NewMemAlertRepo(),
		catalogSvc,
		allergySvc,
		events.Nop(),
		zerolog.Nop(),
	)

	// SetRxSource was never called: screening must error, not panic.
	_, err := svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      uuid.New(),
		DrugCode:       "D001",
	})
	if err == nil {
		t.Fatal("expected error from unwired screening service, got nil")
	}
}

func TestScreenCleanCandidate(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D001", "Lisinopril", "ACE Inhibitor", "Antihypertensive")

	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      uuid.New(),
		DrugCode:       "D001",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestScreenAllergyMatch(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D010", "Penicillin", "Penicillin", "Antibiotic")
	patientID := uuid.New()

	err := env.allergies.RecordAllergy(nil, &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "penicillin",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeveritySevere,
	})
	if err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}

	rxID := uuid.New()
	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: rxID,
		PatientID:      patientID,
		DrugCode:       "D010",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].AlertType != AlertDrugAllergy {
		t.Errorf("expected drug_allergy alert, got %s", alerts[0].AlertType)
	}
	if alerts[0].Severity != SeverityHigh {
		t.Errorf("expected severity high for severe allergy, got %s", alerts[0].Severity)
	}

	persisted, err := env.svc.ListAlerts(nil, rxID)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("expected 1 persisted alert, got %d", len(persisted))
	}
}

func TestScreenAllergyLifeThreateningIsCritical(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D011", "Amoxicillin", "Penicillin", "Antibiotic")
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

	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      patientID,
		DrugCode:       "D011",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != SeverityCritical {
		t.Fatalf("expected one critical alert, got %+v", alerts)
	}
}

func TestScreenIgnoresInactiveAndNonDrugAllergies(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D012", "Peanut Oil Extract", "Peanut", "Supplement")
	patientID := uuid.New()

	food := &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "Peanut",
		AllergenType: allergy.TypeFood,
		Severity:     allergy.SeverityLifeThreatening,
	}
	if err := env.allergies.RecordAllergy(nil, food); err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}

	resolved := &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "Peanut Oil Extract",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeveritySevere,
	}
	if err := env.allergies.RecordAllergy(nil, resolved); err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}
	if _, err := env.allergies.UpdateStatus(nil, resolved.ID, allergy.StatusResolved); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      patientID,
		DrugCode:       "D012",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestScreenInteractionSymmetric(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D020", "Warfarin", "Anticoagulant", "Blood Thinner")
	env.addDrug(t, "D021", "Aspirin", "NSAID", "Analgesic")

	err := env.svc.AddInteraction(nil, &DrugInteraction{
		DrugCodeA:  "D020",
		DrugCodeB:  "D021",
		Severity:   InteractionModerate,
		Effect:     "increased bleeding risk",
		Management: "Monitor INR closely",
	})
	if err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}

	patientID := uuid.New()
	existingID := uuid.New()

	// Candidate D021 against existing D020.
	env.rxs.items = []ScreenableRx{{PrescriptionID: existingID, DrugCode: "D020"}}
	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      patientID,
		DrugCode:       "D021",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].AlertType != AlertDrugInteraction || alerts[0].Severity != SeverityMedium {
		t.Errorf("expected medium drug_interaction alert, got %s/%s", alerts[0].AlertType, alerts[0].Severity)
	}
	if alerts[0].Recommendation != "Monitor INR closely" {
		t.Errorf("expected management text as recommendation, got %q", alerts[0].Recommendation)
	}

	// Reversed: candidate D020 against existing D021 must hit the
	// same fact.
	env.rxs.items = []ScreenableRx{{PrescriptionID: existingID, DrugCode: "D021"}}
	reversed, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      patientID,
		DrugCode:       "D020",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(reversed) != 1 || reversed[0].Severity != SeverityMedium {
		t.Fatalf("expected symmetric lookup to produce the same alert, got %+v", reversed)
	}
}

func TestScreenInteractionSeverityMapping(t *testing.T) {
	tests := []struct {
		interaction string
		alert       string
	}{
		{InteractionContraindicated, SeverityCritical},
		{InteractionMajor, SeverityHigh},
		{InteractionModerate, SeverityMedium},
		{InteractionMinor, SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.interaction, func(t *testing.T) {
			env := newScreenEnv()
			env.addDrug(t, "DA", "DrugA", "ClassA", "TherA")
			env.addDrug(t, "DB", "DrugB", "ClassB", "TherB")
			err := env.svc.AddInteraction(nil, &DrugInteraction{
				DrugCodeA: "DA", DrugCodeB: "DB",
				Severity: tt.interaction, Effect: "effect",
			})
			if err != nil {
				t.Fatalf("AddInteraction failed: %v", err)
			}
			env.rxs.items = []ScreenableRx{{PrescriptionID: uuid.New(), DrugCode: "DA"}}
			alerts, err := env.svc.Screen(nil, Candidate{
				PrescriptionID: uuid.New(),
				PatientID:      uuid.New(),
				DrugCode:       "DB",
			})
			if err != nil {
				t.Fatalf("Screen failed: %v", err)
			}
			if len(alerts) != 1 || alerts[0].Severity != tt.alert {
				t.Fatalf("expected one %s alert, got %+v", tt.alert, alerts)
			}
		})
	}
}

func TestScreenDuplicateTherapyEmitsExactlyOne(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D030", "Lisinopril", "ACE Inhibitor", "Antihypertensive")
	env.addDrug(t, "D031", "Enalapril", "ACE Inhibitor", "Antihypertensive")
	env.addDrug(t, "D032", "Ramipril", "ACE Inhibitor", "Antihypertensive")

	// Two existing same-class prescriptions still yield a single alert.
	env.rxs.items = []ScreenableRx{
		{PrescriptionID: uuid.New(), DrugCode: "D031"},
		{PrescriptionID: uuid.New(), DrugCode: "D032"},
	}
	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      uuid.New(),
		DrugCode:       "D030",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if alerts[0].AlertType != AlertDuplicateTherapy || alerts[0].Severity != SeverityMedium {
		t.Errorf("expected medium duplicate_therapy alert, got %s/%s", alerts[0].AlertType, alerts[0].Severity)
	}
}

func TestScreenDuplicateTherapyRequiresBothClasses(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D040", "Lisinopril", "ACE Inhibitor", "Antihypertensive")
	env.addDrug(t, "D041", "Amlodipine", "Calcium Channel Blocker", "Antihypertensive")

	// Same therapeutic class, different drug class: no duplicate alert.
	env.rxs.items = []ScreenableRx{{PrescriptionID: uuid.New(), DrugCode: "D041"}}
	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      uuid.New(),
		DrugCode:       "D040",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestScreenOrdersMostSevereFirst(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D050", "Ibuprofen", "NSAID", "Analgesic")
	env.addDrug(t, "D051", "Naproxen", "NSAID", "Analgesic")
	patientID := uuid.New()

	err := env.allergies.RecordAllergy(nil, &allergy.Allergy{
		PatientID:    patientID,
		Allergen:     "NSAID",
		AllergenType: allergy.TypeDrug,
		Severity:     allergy.SeverityLifeThreatening,
	})
	if err != nil {
		t.Fatalf("RecordAllergy failed: %v", err)
	}
	env.rxs.items = []ScreenableRx{{PrescriptionID: uuid.New(), DrugCode: "D051"}}

	alerts, err := env.svc.Screen(nil, Candidate{
		PrescriptionID: uuid.New(),
		PatientID:      patientID,
		DrugCode:       "D050",
	})
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityCritical || alerts[1].Severity != SeverityMedium {
		t.Errorf("expected critical then medium, got %s then %s", alerts[0].Severity, alerts[1].Severity)
	}
}

func TestAddInteractionValidation(t *testing.T) {
	env := newScreenEnv()

	tests := []struct {
		name string
		in   *DrugInteraction
	}{
		{"missing code", &DrugInteraction{DrugCodeB: "DB", Severity: InteractionMinor, Effect: "e"}},
		{"same drug", &DrugInteraction{DrugCodeA: "DA", DrugCodeB: "DA", Severity: InteractionMinor, Effect: "e"}},
		{"bad severity", &DrugInteraction{DrugCodeA: "DA", DrugCodeB: "DB", Severity: "lethal", Effect: "e"}},
		{"missing effect", &DrugInteraction{DrugCodeA: "DA", DrugCodeB: "DB", Severity: InteractionMinor}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.svc.AddInteraction(nil, tt.in); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestAddInteractionDuplicatePair(t *testing.T) {
	env := newScreenEnv()
	first := &DrugInteraction{DrugCodeA: "DA", DrugCodeB: "DB", Severity: InteractionMinor, Effect: "e"}
	if err := env.svc.AddInteraction(nil, first); err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}
	// Same pair in reversed order is still a duplicate.
	reversed := &DrugInteraction{DrugCodeA: "DB", DrugCodeB: "DA", Severity: InteractionMajor, Effect: "e2"}
	if err := env.svc.AddInteraction(nil, reversed); !errors.Is(err, ErrDuplicateInteraction) {
		t.Errorf("expected ErrDuplicateInteraction, got %v", err)
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	env := newScreenEnv()
	env.addDrug(t, "D060", "Penicillin", "Penicillin", "Antibiotic")
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

	rxID := uuid.New()
	alerts, err := env.svc.Screen(nil, Candidate{PrescriptionID: rxID, PatientID: patientID, DrugCode: "D060"})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("expected one alert, got %v, err=%v", alerts, err)
	}

	blocked, err := env.svc.HasUnacknowledgedCritical(nil, rxID)
	if err != nil || !blocked {
		t.Fatalf("expected unacknowledged critical alert, got blocked=%v err=%v", blocked, err)
	}

	actor := uuid.New()
	acked, err := env.svc.AcknowledgeAlert(nil, alerts[0].ID, actor, strPtr("patient tolerated prior course"))
	if err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	if !acked.Acknowledged || acked.AcknowledgedBy == nil || *acked.AcknowledgedBy != actor {
		t.Errorf("acknowledgement fields not recorded: %+v", acked)
	}
	if acked.AcknowledgedAt == nil || acked.OverrideReason == nil {
		t.Error("expected acknowledgement timestamp and override reason")
	}

	blocked, err = env.svc.HasUnacknowledgedCritical(nil, rxID)
	if err != nil || blocked {
		t.Fatalf("expected no unacknowledged critical alerts, got blocked=%v err=%v", blocked, err)
	}

	if _, err := env.svc.AcknowledgeAlert(nil, alerts[0].ID, actor, nil); !errors.Is(err, ErrAlreadyAcknowledged) {
		t.Errorf("expected ErrAlreadyAcknowledged, got %v", err)
	}
	if _, err := env.svc.AcknowledgeAlert(nil, uuid.New(), actor, nil); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}
