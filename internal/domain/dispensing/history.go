package dispensing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// minSearchTerm is the shortest free-text term the backend is asked to match.
const minSearchTerm = 3

// HistoryFilter selects submitted dispensings. Page is 1-based.
type HistoryFilter struct {
	From           time.Time
	To             time.Time
	PatientID      string
	DispensedBy    string
	DispensingType DispensingType
	SearchTerm     string
	Page           int
	PageSize       int
}

func (f *HistoryFilter) normalize() error {
	f.SearchTerm = strings.TrimSpace(f.SearchTerm)
	if n := len([]rune(f.SearchTerm)); n > 0 && n < minSearchTerm {
		return validationErr("search", "search term must be at least %d characters", minSearchTerm)
	}
	if f.DispensingType != "" && !validDispensingTypes[f.DispensingType] {
		return validationErr("dispensing_type", "invalid dispensing type: %s", f.DispensingType)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return validationErr("to", "end of range is before its start")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	return nil
}

// HistoryEntry is one submitted dispensing as listed in the history.
type HistoryEntry struct {
	ID                 string          `json:"id"`
	PrescriptionID     string          `json:"prescription_id"`
	PrescriptionNumber string          `json:"prescription_number"`
	TokenNumber        string          `json:"token_number,omitempty"`
	PatientID          string          `json:"patient_id"`
	PatientName        string          `json:"patient_name"`
	RegistrationNumber string          `json:"patient_registration_number,omitempty"`
	DispensedAt        time.Time       `json:"dispensed_at"`
	DispensedBy        string          `json:"dispensed_by"`
	DispensingStatus   string          `json:"dispensing_status"`
	PaymentMethod      PaymentMethod   `json:"payment_method,omitempty"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	RefundAmount       decimal.Decimal `json:"refund_amount"`
	HasReturns         bool            `json:"has_returns"`
}

// HistoryPage is one page of history results.
type HistoryPage struct {
	Entries  []HistoryEntry `json:"entries"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// PendingPartial is a partial dispensing that still owes medicine.
type PendingPartial struct {
	DispensingID       string    `json:"dispensing_id"`
	PrescriptionNumber string    `json:"prescription_number"`
	PatientName        string    `json:"patient_name"`
	PendingItems       int       `json:"pending_items"`
	DispensingDate     time.Time `json:"dispensing_date"`
}

// RemainingLines rebuilds the prescription lines that a previous dispensing
// left short. Each returned line asks for what is still owed; lines settled
// in full are dropped.
func RemainingLines(p *Prescription, prev *DispensingTransaction) ([]*DispensingLine, error) {
	lines, err := LinesFromPrescription(p)
	if err != nil {
		return nil, err
	}
	dispensed := make(map[string]int, len(prev.Lines))
	for _, l := range prev.Lines {
		dispensed[l.PrescriptionLineID] += l.DispensedQuantity
	}
	out := lines[:0]
	for _, l := range lines {
		remaining := l.PrescribedQuantity - dispensed[l.PrescriptionLineID]
		if remaining <= 0 {
			continue
		}
		l.PrescribedQuantity = remaining
		l.DispensedQuantity = remaining
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, validationErr("dispensing", "dispensing %s has nothing left to dispense", prev.ID)
	}
	return out, nil
}
