package dispensing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResolveDispensingType classifies a set of lines. Full means every line is
// dispensed in its prescribed quantity, whether or not it was substituted.
func ResolveDispensingType(lines []*DispensingLine) DispensingType {
	complete := true
	substituted := false
	for _, l := range lines {
		if !l.Complete() {
			complete = false
		}
		if l.Substituted && l.DispensedQuantity > 0 {
			substituted = true
		}
	}
	switch {
	case complete:
		return DispensingTypeFull
	case substituted:
		return DispensingTypeWithSubstitution
	default:
		return DispensingTypePartial
	}
}

// Validate checks the lines of a session before it is built. An empty
// requested type means the caller lets the type be resolved.
func Validate(lines []*DispensingLine, requested DispensingType) error {
	if len(lines) == 0 {
		return validationErr("lines", "nothing to dispense")
	}
	if requested != "" && !validDispensingTypes[requested] {
		return validationErr("dispensing_type", "invalid dispensing type: %s", requested)
	}

	anyDispensed := false
	for _, l := range lines {
		if l.DispensedQuantity < 0 || l.DispensedQuantity > l.PrescribedQuantity {
			return validationErr("quantity", "%s: dispensed quantity %d outside 0..%d",
				l.MedicineName, l.DispensedQuantity, l.PrescribedQuantity)
		}
		if l.Substituted && strings.TrimSpace(l.SubstituteReason) == "" {
			return validationErr("reason", "%s was substituted without a reason", l.MedicineName)
		}
		if l.DispensedQuantity == 0 {
			continue
		}
		anyDispensed = true
		if l.Status == LineStatusOutOfStock {
			return validationErr("status", "%s is out of stock", l.MedicineName)
		}
		if l.SelectedBatch == nil {
			return validationErr("batch", "select a batch for %s", l.MedicineName)
		}
		if l.DispensedQuantity > l.SelectedBatch.AvailableQuantity {
			return validationErr("quantity", "%s: batch %s has only %d units",
				l.MedicineName, l.SelectedBatch.BatchNumber, l.SelectedBatch.AvailableQuantity)
		}
	}
	if !anyDispensed {
		return validationErr("lines", "at least one medicine must be dispensed")
	}

	if requested == DispensingTypeFull {
		for _, l := range lines {
			if !l.Complete() {
				return validationErr("dispensing_type", "full dispensing requires all of %s (%d of %d)",
					l.MedicineName, l.DispensedQuantity, l.PrescribedQuantity)
			}
		}
	}
	return nil
}

// ValidatePayment requires a method iff the payment is Paid.
func ValidatePayment(p PaymentInfo) error {
	if p.Status == "" {
		return validationErr("payment_status", "payment status is required")
	}
	if !validPaymentStatuses[p.Status] {
		return validationErr("payment_status", "invalid payment status: %s", p.Status)
	}
	if p.Status == PaymentStatusPaid && p.Method == "" {
		return validationErr("payment_method", "payment method is required when paid")
	}
	if p.Method != "" && !validPaymentMethods[p.Method] {
		return validationErr("payment_method", "invalid payment method: %s", p.Method)
	}
	return nil
}

// BuildInput carries everything Build needs to assemble a transaction.
type BuildInput struct {
	Prescription  *Prescription
	Lines         []*DispensingLine
	RequestedType DispensingType
	Payment       PaymentInfo
	Actor         Actor
	Remarks       string
	Now           time.Time
}

// Build validates the session lines and freezes the dispensed ones into a
// transaction. The session lines themselves are not modified; see
// FinalizeLines.
func Build(in BuildInput) (*DispensingTransaction, error) {
	if in.Prescription == nil {
		return nil, validationErr("prescription", "prescription is required")
	}
	if in.Actor.ID == "" {
		return nil, validationErr("actor", "dispensing must be attributed to a user")
	}
	if err := Validate(in.Lines, in.RequestedType); err != nil {
		return nil, err
	}
	if err := ValidatePayment(in.Payment); err != nil {
		return nil, err
	}

	resolved := ResolveDispensingType(in.Lines)
	if in.RequestedType != "" && in.RequestedType != resolved {
		return nil, validationErr("dispensing_type", "lines make this %q, not %q", resolved, in.RequestedType)
	}

	frozen := make([]DispensingLine, 0, len(in.Lines))
	total := decimal.Zero
	for _, l := range in.Lines {
		if l.DispensedQuantity == 0 {
			continue
		}
		fl := *l
		if l.SelectedBatch != nil {
			b := *l.SelectedBatch
			fl.SelectedBatch = &b
		}
		fl.Status = finalStatus(l)
		fl.RemainingQuantity = l.PrescribedQuantity - l.DispensedQuantity
		frozen = append(frozen, fl)
		total = total.Add(fl.LineTotal())
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &DispensingTransaction{
		PrescriptionID:     in.Prescription.ID,
		PrescriptionNumber: in.Prescription.PrescriptionNumber,
		PatientID:          in.Prescription.PatientID,
		PatientName:        in.Prescription.PatientName,
		DispensingType:     resolved,
		Lines:              frozen,
		TotalAmount:        total.Round(2),
		Payment:            in.Payment,
		DispensedBy:        in.Actor.ID,
		DispensedAt:        now.UTC(),
		Remarks:            strings.TrimSpace(in.Remarks),
	}, nil
}

func finalStatus(l *DispensingLine) LineStatus {
	switch {
	case l.DispensedQuantity == 0:
		return LineStatusOutOfStock
	case l.Complete():
		return LineStatusDispensed
	default:
		return LineStatusPartiallyDispensed
	}
}

// FinalizeLines moves session lines to their terminal status once the
// backend has accepted the transaction. Undispensed lines end OutOfStock.
func FinalizeLines(lines []*DispensingLine) {
	for _, l := range lines {
		next := finalStatus(l)
		if l.Status.CanTransition(next) {
			l.Status = next
		}
		l.RemainingQuantity = l.PrescribedQuantity - l.DispensedQuantity
	}
}

// CancelLines aborts every line that has not reached a terminal status.
func CancelLines(lines []*DispensingLine) {
	for _, l := range lines {
		if l.Status.CanTransition(LineStatusCancelled) {
			l.Status = LineStatusCancelled
		}
	}
}
