package returns

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
)

var testNow = time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)

var supervisor = dispensing.Actor{ID: "sup-1", Name: "Supervisor", Roles: []string{"supervisor"}}
var pharmacist = dispensing.Actor{ID: "ph-1", Name: "Pharmacist One", Roles: []string{"pharmacist"}}

// paracetamolDispensing is a Full dispensing of 10 Paracetamol at 1.25.
func paracetamolDispensing() *dispensing.DispensingTransaction {
	return &dispensing.DispensingTransaction{
		ID:                 "disp-1",
		PrescriptionID:     "rx-1",
		PrescriptionNumber: "RX-0001",
		PatientID:          "pat-1",
		PatientName:        "Asha Rao",
		DispensingType:     dispensing.DispensingTypeFull,
		Lines: []dispensing.DispensingLine{{
			PrescriptionLineID: "l1",
			MedicineID:         "para",
			MedicineName:       "Paracetamol",
			PrescribedQuantity: 10,
			DispensedQuantity:  10,
			UnitPrice:          decimal.RequireFromString("1.25"),
			SelectedBatch:      &dispensing.BatchCandidate{BatchID: "p1", BatchNumber: "B-p1"},
			Status:             dispensing.LineStatusDispensed,
		}},
		TotalAmount: decimal.RequireFromString("12.50"),
	}
}

func TestInitReturnLines(t *testing.T) {
	tx := paracetamolDispensing()
	tx.Lines = append(tx.Lines, dispensing.DispensingLine{PrescriptionLineID: "l2", MedicineID: "amox"})
	lines := InitReturnLines(tx)
	if len(lines) != 1 {
		t.Fatalf("expected 1 returnable line, got %d", len(lines))
	}
	l := lines[0]
	if l.ReturnQuantity != 0 || !l.RefundAmount.IsZero() {
		t.Errorf("expected nothing returned, got %d %s", l.ReturnQuantity, l.RefundAmount)
	}
	if l.Condition != ConditionSealedUnopened || !l.Restockable {
		t.Errorf("expected sealed and restockable, got %s %v", l.Condition, l.Restockable)
	}
	if l.BatchID != "p1" || l.BatchNumber != "B-p1" {
		t.Errorf("expected batch carried over, got %s %s", l.BatchID, l.BatchNumber)
	}
}

func TestSubmit_ScenarioD(t *testing.T) {
	tx := paracetamolDispensing()
	lines := InitReturnLines(tx)
	SetReturnQuantity(lines[0], 4)
	SetCondition(lines[0], ConditionOpenedUnused)

	rec, err := Submit(SubmitInput{
		Transaction: tx,
		Lines:       lines,
		Reason:      ReasonAdverseReaction,
		Actor:       pharmacist,
		Now:         testNow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RefundStatus != RefundPending {
		t.Errorf("expected Pending, got %s", rec.RefundStatus)
	}
	if len(rec.Lines) != 1 || !rec.Lines[0].Restockable {
		t.Errorf("expected one restockable line, got %+v", rec.Lines)
	}
	if got := rec.TotalRefundAmount.StringFixed(2); got != "5.00" {
		t.Errorf("expected 5.00, got %s", got)
	}
	if rec.DispensingID != "disp-1" || rec.RequestedBy != "ph-1" || !rec.ReturnDate.Equal(testNow) {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestSetReturnQuantity_RefundMonotonic(t *testing.T) {
	l := InitReturnLines(paracetamolDispensing())[0]
	prev := decimal.NewFromInt(-1)
	for q := 0; q <= 12; q++ {
		SetReturnQuantity(l, q)
		want := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.ReturnQuantity)))
		if !l.RefundAmount.Equal(want) {
			t.Errorf("qty %d: refund %s, want %s", q, l.RefundAmount, want)
		}
		if l.RefundAmount.LessThan(prev) {
			t.Errorf("qty %d: refund decreased from %s to %s", q, prev, l.RefundAmount)
		}
		prev = l.RefundAmount
	}
	if l.ReturnQuantity != 10 {
		t.Errorf("expected clamp to 10, got %d", l.ReturnQuantity)
	}
	SetReturnQuantity(l, -2)
	if l.ReturnQuantity != 0 {
		t.Errorf("expected clamp to 0, got %d", l.ReturnQuantity)
	}
}

func TestMedicineCondition_Restockable(t *testing.T) {
	tests := []struct {
		c    MedicineCondition
		want bool
	}{
		{ConditionSealedUnopened, true},
		{ConditionOpenedUnused, true},
		{ConditionPartiallyUsed, false},
		{ConditionDamaged, false},
		{ConditionExpired, false},
	}
	for _, tt := range tests {
		l := &ReturnLine{}
		SetCondition(l, tt.c)
		if l.Restockable != tt.want {
			t.Errorf("%s: got %v, want %v", tt.c, l.Restockable, tt.want)
		}
	}
	if MedicineCondition("Melted").Valid() {
		t.Error("expected unknown condition to be invalid")
	}
}

func TestRefundStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RefundStatus
		want     bool
	}{
		{RefundPending, RefundApproved, true},
		{RefundPending, RefundRejected, true},
		{RefundApproved, RefundProcessed, true},
		{RefundPending, RefundProcessed, false},
		{RefundRejected, RefundApproved, false},
		{RefundRejected, RefundProcessed, false},
		{RefundProcessed, RefundPending, false},
		{RefundApproved, RefundRejected, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubmit_Validation(t *testing.T) {
	withQty := func() []*ReturnLine {
		lines := InitReturnLines(paracetamolDispensing())
		SetReturnQuantity(lines[0], 2)
		return lines
	}
	tests := []struct {
		name string
		in   SubmitInput
	}{
		{"no transaction", SubmitInput{Lines: withQty(), Reason: ReasonWrongMedicine, Actor: pharmacist}},
		{"no actor", SubmitInput{Transaction: paracetamolDispensing(), Lines: withQty(), Reason: ReasonWrongMedicine}},
		{"no reason", SubmitInput{Transaction: paracetamolDispensing(), Lines: withQty(), Actor: pharmacist}},
		{"unknown reason", SubmitInput{Transaction: paracetamolDispensing(), Lines: withQty(), Reason: "Changed mind", Actor: pharmacist}},
		{"other without details", SubmitInput{Transaction: paracetamolDispensing(), Lines: withQty(), Reason: ReasonOther, ReasonDetails: " ", Actor: pharmacist}},
		{"nothing returned", SubmitInput{Transaction: paracetamolDispensing(), Lines: InitReturnLines(paracetamolDispensing()), Reason: ReasonWrongMedicine, Actor: pharmacist}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Submit(tt.in)
			var ve *dispensing.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestSubmit_OtherWithDetails(t *testing.T) {
	lines := InitReturnLines(paracetamolDispensing())
	SetReturnQuantity(lines[0], 1)
	SetCondition(lines[0], ConditionDamaged)
	rec, err := Submit(SubmitInput{
		Transaction:   paracetamolDispensing(),
		Lines:         lines,
		Reason:        ReasonOther,
		ReasonDetails: "  strip torn  ",
		Actor:         pharmacist,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ReasonDetails != "strip torn" || rec.Lines[0].Restockable {
		t.Errorf("unexpected record: %+v", rec)
	}
}
