package returns

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReturnReason string

const (
	ReasonAdverseReaction       ReturnReason = "Adverse Reaction"
	ReasonWrongMedicine         ReturnReason = "Wrong Medicine Dispensed"
	ReasonDuplicateDispensing   ReturnReason = "Duplicate Dispensing"
	ReasonPatientDeceased       ReturnReason = "Patient Deceased"
	ReasonPrescriptionCancelled ReturnReason = "Prescription Cancelled"
	ReasonMedicineExpired       ReturnReason = "Medicine Expired"
	ReasonMedicineDamaged       ReturnReason = "Medicine Damaged"
	ReasonOther                 ReturnReason = "Other"
)

var validReturnReasons = map[ReturnReason]bool{
	ReasonAdverseReaction: true, ReasonWrongMedicine: true, ReasonDuplicateDispensing: true,
	ReasonPatientDeceased: true, ReasonPrescriptionCancelled: true, ReasonMedicineExpired: true,
	ReasonMedicineDamaged: true, ReasonOther: true,
}

// MedicineCondition is the state a returned medicine is handed back in.
type MedicineCondition string

const (
	ConditionSealedUnopened MedicineCondition = "Sealed/Unopened"
	ConditionOpenedUnused   MedicineCondition = "Opened but Unused"
	ConditionPartiallyUsed  MedicineCondition = "Partially Used"
	ConditionDamaged        MedicineCondition = "Damaged"
	ConditionExpired        MedicineCondition = "Expired"
)

// restockable is the fixed table of conditions that may go back on the shelf.
var restockable = map[MedicineCondition]bool{
	ConditionSealedUnopened: true,
	ConditionOpenedUnused:   true,
	ConditionPartiallyUsed:  false,
	ConditionDamaged:        false,
	ConditionExpired:        false,
}

func (c MedicineCondition) Valid() bool {
	_, ok := restockable[c]
	return ok
}

// Restockable reports whether medicine in this condition can be restocked.
func (c MedicineCondition) Restockable() bool {
	return restockable[c]
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "Pending"
	RefundApproved  RefundStatus = "Approved"
	RefundRejected  RefundStatus = "Rejected"
	RefundProcessed RefundStatus = "Processed"
)

var refundTransitions = map[RefundStatus]map[RefundStatus]bool{
	RefundPending:  {RefundApproved: true, RefundRejected: true},
	RefundApproved: {RefundProcessed: true},
}

// CanTransition reports whether a refund may move from s to next.
func (s RefundStatus) CanTransition(next RefundStatus) bool {
	return refundTransitions[s][next]
}

// ReturnLine is one dispensed line being handed back.
type ReturnLine struct {
	DispensingLineID  string            `json:"dispensing_line_id"`
	MedicineID        string            `json:"medicine_id"`
	MedicineName      string            `json:"medicine_name"`
	BatchID           string            `json:"batch_id,omitempty"`
	BatchNumber       string            `json:"batch_number,omitempty"`
	DispensedQuantity int               `json:"dispensed_quantity"`
	ReturnQuantity    int               `json:"return_quantity"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Condition         MedicineCondition `json:"condition"`
	Restockable       bool              `json:"restockable"`
	RefundAmount      decimal.Decimal   `json:"refund_amount"`
	Remarks           string            `json:"remarks,omitempty"`
}

// ReturnRecord is a return request against a prior dispensing. Creating it
// never changes the dispensing it refers to.
type ReturnRecord struct {
	ID                 string          `json:"id,omitempty"`
	DispensingID       string          `json:"dispensing_id"`
	PrescriptionID     string          `json:"prescription_id,omitempty"`
	PrescriptionNumber string          `json:"prescription_number,omitempty"`
	PatientID          string          `json:"patient_id,omitempty"`
	PatientName        string          `json:"patient_name,omitempty"`
	Reason             ReturnReason    `json:"reason"`
	ReasonDetails      string          `json:"reason_details,omitempty"`
	Lines              []ReturnLine    `json:"lines"`
	TotalRefundAmount  decimal.Decimal `json:"total_refund_amount"`
	RefundStatus       RefundStatus    `json:"refund_status"`
	RequestedBy        string          `json:"requested_by"`
	ReturnDate         time.Time       `json:"return_date"`
	ApprovedBy         string          `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	ProcessedBy        string          `json:"processed_by,omitempty"`
	Remarks            string          `json:"remarks,omitempty"`
}
