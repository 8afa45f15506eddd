package dispensing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// CalculateTotalQuantity derives the units needed for a course:
// ceil(daily dose × days), where a week is 7 days and a month 30.
func CalculateTotalQuantity(d Dosage, duration int, unit DurationUnit) int {
	daily := d.Morning + d.Afternoon + d.Evening + d.Night
	days := duration
	switch unit {
	case DurationWeeks:
		days = duration * 7
	case DurationMonths:
		days = duration * 30
	}
	if daily <= 0 || days <= 0 {
		return 0
	}
	return int(math.Ceil(daily * float64(days)))
}

// LinesFromPrescription creates one pending DispensingLine per prescription
// line, optimistically defaulting the dispensed quantity to the prescribed one.
func LinesFromPrescription(p *Prescription) ([]*DispensingLine, error) {
	if p == nil || len(p.Lines) == 0 {
		return nil, validationErr("lines", "prescription has no medicines to dispense")
	}

	lines := make([]*DispensingLine, 0, len(p.Lines))
	seen := make(map[string]bool, len(p.Lines))
	for i, pl := range p.Lines {
		if pl.MedicineID == "" {
			return nil, validationErr("lines", "line %d has no medicine", i+1)
		}
		qty := pl.PrescribedQuantity
		if qty == 0 {
			qty = CalculateTotalQuantity(pl.Dosage, pl.Duration, pl.DurationUnit)
		}
		if qty <= 0 {
			return nil, validationErr("lines", "%s has no prescribed quantity", pl.MedicineName)
		}
		// Unnamed lines are keyed by position; the same medicine may appear
		// more than once with different schedules.
		lineID := pl.ID
		if lineID == "" {
			lineID = fmt.Sprintf("%s#%d", pl.MedicineID, i+1)
		}
		if seen[lineID] {
			return nil, validationErr("lines", "duplicate prescription line id %s", lineID)
		}
		seen[lineID] = true
		lines = append(lines, &DispensingLine{
			PrescriptionLineID:  lineID,
			MedicineID:          pl.MedicineID,
			MedicineName:        pl.MedicineName,
			MedicineType:        pl.MedicineType,
			Strength:            pl.Strength,
			PrescribedQuantity:  qty,
			DispensedQuantity:   qty,
			UnitPrice:           decimal.Zero,
			SubstitutionAllowed: pl.SubstitutionAllowed,
			Status:              LineStatusPending,
		})
	}
	return lines, nil
}
