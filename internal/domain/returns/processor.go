package returns

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
)

func validationErr(field, format string, args ...any) error {
	return &dispensing.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InitReturnLines seeds one line per dispensed line of tx with nothing
// returned yet and the medicine assumed sealed.
func InitReturnLines(tx *dispensing.DispensingTransaction) []*ReturnLine {
	lines := make([]*ReturnLine, 0, len(tx.Lines))
	for _, dl := range tx.Lines {
		if dl.DispensedQuantity <= 0 {
			continue
		}
		rl := &ReturnLine{
			DispensingLineID:  dl.PrescriptionLineID,
			MedicineID:        dl.MedicineID,
			MedicineName:      dl.MedicineName,
			DispensedQuantity: dl.DispensedQuantity,
			UnitPrice:         dl.UnitPrice,
			RefundAmount:      decimal.Zero,
		}
		if dl.SelectedBatch != nil {
			rl.BatchID = dl.SelectedBatch.BatchID
			rl.BatchNumber = dl.SelectedBatch.BatchNumber
		}
		SetCondition(rl, ConditionSealedUnopened)
		lines = append(lines, rl)
	}
	return lines
}

// SetReturnQuantity clamps qty to [0, dispensed quantity] and recomputes the refund.
func SetReturnQuantity(l *ReturnLine, qty int) {
	if qty < 0 {
		qty = 0
	}
	if qty > l.DispensedQuantity {
		qty = l.DispensedQuantity
	}
	l.ReturnQuantity = qty
	l.RefundAmount = l.UnitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// SetCondition records the condition; restockability always follows from it.
func SetCondition(l *ReturnLine, c MedicineCondition) {
	l.Condition = c
	l.Restockable = c.Restockable()
}

// SubmitInput carries what Submit needs besides the lines.
type SubmitInput struct {
	Transaction   *dispensing.DispensingTransaction
	Lines         []*ReturnLine
	Reason        ReturnReason
	ReasonDetails string
	Remarks       string
	Actor         dispensing.Actor
	Now           time.Time
}

// Submit turns the draft lines into a return record awaiting supervisor
// approval. Lines with nothing returned are left out.
func Submit(in SubmitInput) (*ReturnRecord, error) {
	if in.Transaction == nil || in.Transaction.ID == "" {
		return nil, validationErr("dispensing_id", "a dispensing record is required")
	}
	if in.Actor.ID == "" {
		return nil, validationErr("actor", "return must be attributed to a user")
	}
	if in.Reason == "" {
		return nil, validationErr("reason", "return reason is required")
	}
	if !validReturnReasons[in.Reason] {
		return nil, validationErr("reason", "invalid return reason: %s", in.Reason)
	}
	details := strings.TrimSpace(in.ReasonDetails)
	if in.Reason == ReasonOther && details == "" {
		return nil, validationErr("reason_details", "details are required when the reason is Other")
	}

	var lines []ReturnLine
	total := decimal.Zero
	for _, l := range in.Lines {
		if l.ReturnQuantity <= 0 {
			continue
		}
		if l.ReturnQuantity > l.DispensedQuantity {
			return nil, validationErr("return_quantity", "%s: cannot return %d of %d dispensed",
				l.MedicineName, l.ReturnQuantity, l.DispensedQuantity)
		}
		if !l.Condition.Valid() {
			return nil, validationErr("condition", "%s: invalid condition %q", l.MedicineName, l.Condition)
		}
		fl := *l
		fl.Restockable = fl.Condition.Restockable()
		fl.RefundAmount = fl.UnitPrice.Mul(decimal.NewFromInt(int64(fl.ReturnQuantity))).Round(2)
		lines = append(lines, fl)
		total = total.Add(fl.RefundAmount)
	}
	if len(lines) == 0 {
		return nil, validationErr("lines", "select at least one medicine to return")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	tx := in.Transaction
	return &ReturnRecord{
		DispensingID:       tx.ID,
		PrescriptionID:     tx.PrescriptionID,
		PrescriptionNumber: tx.PrescriptionNumber,
		PatientID:          tx.PatientID,
		PatientName:        tx.PatientName,
		Reason:             in.Reason,
		ReasonDetails:      details,
		Lines:              lines,
		TotalRefundAmount:  total.Round(2),
		RefundStatus:       RefundPending,
		RequestedBy:        in.Actor.ID,
		ReturnDate:         now.UTC(),
		Remarks:            strings.TrimSpace(in.Remarks),
	}, nil
}
