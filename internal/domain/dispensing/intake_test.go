package dispensing

import (
	"errors"
	"testing"
)

func TestCalculateTotalQuantity(t *testing.T) {
	tests := []struct {
		name     string
		dosage   Dosage
		duration int
		unit     DurationUnit
		want     int
	}{
		{"twice daily for 5 days", Dosage{Morning: 1, Night: 1}, 5, DurationDays, 10},
		{"half tablet rounds up", Dosage{Morning: 0.5}, 3, DurationDays, 2},
		{"weeks", Dosage{Morning: 1}, 2, DurationWeeks, 14},
		{"months", Dosage{Morning: 1, Evening: 1}, 1, DurationMonths, 60},
		{"no dose", Dosage{}, 5, DurationDays, 0},
		{"no duration", Dosage{Morning: 1}, 0, DurationDays, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateTotalQuantity(tt.dosage, tt.duration, tt.unit); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLinesFromPrescription(t *testing.T) {
	lines, err := LinesFromPrescription(twoLinePrescription())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if l.DispensedQuantity != l.PrescribedQuantity {
			t.Errorf("%s: dispensed %d, prescribed %d", l.MedicineName, l.DispensedQuantity, l.PrescribedQuantity)
		}
		if l.Status != LineStatusPending {
			t.Errorf("%s: expected Pending, got %s", l.MedicineName, l.Status)
		}
		if l.Substituted || l.SelectedBatch != nil {
			t.Errorf("%s: expected fresh line, got %+v", l.MedicineName, l)
		}
	}
	if !lines[1].SubstitutionAllowed {
		t.Error("expected substitution flag carried over")
	}
}

func TestLinesFromPrescription_DerivesQuantity(t *testing.T) {
	p := &Prescription{ID: "rx", Lines: []PrescriptionLine{{
		ID: "l1", MedicineID: "m1", MedicineName: "Cetirizine",
		Dosage: Dosage{Night: 1}, Duration: 1, DurationUnit: DurationWeeks,
	}}}
	lines, err := LinesFromPrescription(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines[0].PrescribedQuantity != 7 {
		t.Errorf("expected 7, got %d", lines[0].PrescribedQuantity)
	}
}

func TestLinesFromPrescription_Empty(t *testing.T) {
	for _, p := range []*Prescription{nil, {ID: "rx"}} {
		_, err := LinesFromPrescription(p)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	}
}

func TestLinesFromPrescription_NoQuantity(t *testing.T) {
	p := &Prescription{ID: "rx", Lines: []PrescriptionLine{{ID: "l1", MedicineID: "m1", MedicineName: "X"}}}
	if _, err := LinesFromPrescription(p); err == nil {
		t.Error("expected error for a line without quantity")
	}
}

func TestLinesFromPrescription_RepeatedMedicineWithoutIDs(t *testing.T) {
	p := &Prescription{ID: "rx", Lines: []PrescriptionLine{
		{MedicineID: "para", MedicineName: "Paracetamol", PrescribedQuantity: 10},
		{MedicineID: "para", MedicineName: "Paracetamol", PrescribedQuantity: 6},
	}}
	lines, err := LinesFromPrescription(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines[0].PrescriptionLineID != "para#1" || lines[1].PrescriptionLineID != "para#2" {
		t.Errorf("expected positional ids, got %q and %q", lines[0].PrescriptionLineID, lines[1].PrescriptionLineID)
	}
}

func TestLinesFromPrescription_DuplicateIDs(t *testing.T) {
	p := &Prescription{ID: "rx", Lines: []PrescriptionLine{
		{ID: "l1", MedicineID: "para", MedicineName: "Paracetamol", PrescribedQuantity: 10},
		{ID: "l1", MedicineID: "amox", MedicineName: "Amoxicillin", PrescribedQuantity: 20},
	}}
	_, err := LinesFromPrescription(p)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
