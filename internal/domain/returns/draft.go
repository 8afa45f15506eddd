package returns

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
)

// Draft is a return being prepared against one dispensing transaction.
type Draft struct {
	mu sync.Mutex

	ID          string
	Transaction *dispensing.DispensingTransaction
	Lines       []*ReturnLine
	StartedBy   dispensing.Actor
	StartedAt   time.Time
	submitted   bool
}

func (d *Draft) line(lineID string) (*ReturnLine, error) {
	for _, l := range d.Lines {
		if l.DispensingLineID == lineID {
			return l, nil
		}
	}
	return nil, validationErr("line_id", "no dispensed line %s in this return", lineID)
}

// DraftView is a point-in-time copy of a draft.
type DraftView struct {
	ID                 string          `json:"id"`
	DispensingID       string          `json:"dispensing_id"`
	PrescriptionNumber string          `json:"prescription_number,omitempty"`
	PatientName        string          `json:"patient_name,omitempty"`
	Lines              []ReturnLine    `json:"lines"`
	TotalRefundAmount  decimal.Decimal `json:"total_refund_amount"`
	StartedBy          string          `json:"started_by"`
	StartedAt          time.Time       `json:"started_at"`
}

// view copies the draft. The caller holds d.mu.
func (d *Draft) view() *DraftView {
	v := &DraftView{
		ID:                d.ID,
		Lines:             make([]ReturnLine, 0, len(d.Lines)),
		TotalRefundAmount: decimal.Zero,
		StartedBy:         d.StartedBy.ID,
		StartedAt:         d.StartedAt,
	}
	if tx := d.Transaction; tx != nil {
		v.DispensingID = tx.ID
		v.PrescriptionNumber = tx.PrescriptionNumber
		v.PatientName = tx.PatientName
	}
	for _, l := range d.Lines {
		v.Lines = append(v.Lines, *l)
		v.TotalRefundAmount = v.TotalRefundAmount.Add(l.RefundAmount)
	}
	v.TotalRefundAmount = v.TotalRefundAmount.Round(2)
	return v
}
