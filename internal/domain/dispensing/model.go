package dispensing

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus is the dispensing status of a single prescription line.
type LineStatus string

const (
	LineStatusPending            LineStatus = "Pending"
	LineStatusDispensed          LineStatus = "Dispensed"
	LineStatusOutOfStock         LineStatus = "Out of Stock"
	LineStatusSubstituted        LineStatus = "Substituted"
	LineStatusPartiallyDispensed LineStatus = "Partially Dispensed"
	LineStatusCancelled          LineStatus = "Cancelled"
)

// lineTransitions lists the statuses a line may move to from each status.
var lineTransitions = map[LineStatus]map[LineStatus]bool{
	LineStatusPending: {
		LineStatusDispensed: true, LineStatusPartiallyDispensed: true,
		LineStatusOutOfStock: true, LineStatusSubstituted: true, LineStatusCancelled: true,
	},
	LineStatusSubstituted: {
		LineStatusDispensed: true, LineStatusPartiallyDispensed: true,
		LineStatusOutOfStock: true, LineStatusSubstituted: true, LineStatusCancelled: true,
	},
	// An out-of-stock line waits for a human decision: substitute or leave it
	// undispensed. Pending is reachable only when re-allocation finds stock.
	LineStatusOutOfStock: {
		LineStatusSubstituted: true, LineStatusOutOfStock: true, LineStatusCancelled: true,
		LineStatusPending: true,
	},
}

// CanTransition reports whether a line may move from s to next.
func (s LineStatus) CanTransition(next LineStatus) bool {
	return lineTransitions[s][next]
}

// Terminal reports whether the status is final for a submitted or aborted session.
func (s LineStatus) Terminal() bool {
	switch s {
	case LineStatusDispensed, LineStatusPartiallyDispensed, LineStatusCancelled:
		return true
	}
	return false
}

// DispensingType classifies a submitted transaction.
type DispensingType string

const (
	DispensingTypeFull             DispensingType = "Full Dispensing"
	DispensingTypePartial          DispensingType = "Partial Dispensing"
	DispensingTypeWithSubstitution DispensingType = "With Substitution"
)

var validDispensingTypes = map[DispensingType]bool{
	DispensingTypeFull: true, DispensingTypePartial: true, DispensingTypeWithSubstitution: true,
}

type PaymentStatus string

const (
	PaymentStatusFree    PaymentStatus = "Free"
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusPending PaymentStatus = "Pending Payment"
	PaymentStatusWaived  PaymentStatus = "Payment Waived"
)

var validPaymentStatuses = map[PaymentStatus]bool{
	PaymentStatusFree: true, PaymentStatusPaid: true, PaymentStatusPending: true, PaymentStatusWaived: true,
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodCard   PaymentMethod = "Card"
	PaymentMethodUPI    PaymentMethod = "UPI"
	PaymentMethodOnline PaymentMethod = "Online Banking"
	PaymentMethodScheme PaymentMethod = "Free (Government Scheme)"
)

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentMethodCash: true, PaymentMethodCard: true, PaymentMethodUPI: true,
	PaymentMethodOnline: true, PaymentMethodScheme: true,
}

// DurationUnit is the unit a prescribed course is expressed in.
type DurationUnit string

const (
	DurationDays   DurationUnit = "Days"
	DurationWeeks  DurationUnit = "Weeks"
	DurationMonths DurationUnit = "Months"
)

// Dosage holds the number of units taken at each time of day.
type Dosage struct {
	Morning   float64 `json:"morning,omitempty"`
	Afternoon float64 `json:"afternoon,omitempty"`
	Evening   float64 `json:"evening,omitempty"`
	Night     float64 `json:"night,omitempty"`
}

// PrescriptionLine is one prescribed medicine. It is immutable once the
// prescription is confirmed.
type PrescriptionLine struct {
	ID                  string       `json:"id"`
	MedicineID          string       `json:"medicine_id"`
	MedicineName        string       `json:"medicine_name"`
	MedicineType        string       `json:"medicine_type,omitempty"`
	Strength            string       `json:"strength,omitempty"`
	Dosage              Dosage       `json:"dosage"`
	Duration            int          `json:"duration"`
	DurationUnit        DurationUnit `json:"duration_unit"`
	PrescribedQuantity  int          `json:"prescribed_quantity"`
	SubstitutionAllowed bool         `json:"substitution_allowed"`
}

// Prescription is a confirmed prescription as supplied by the pharmacy backend.
type Prescription struct {
	ID                 string             `json:"id"`
	PrescriptionNumber string             `json:"prescription_number"`
	PatientID          string             `json:"patient_id"`
	PatientName        string             `json:"patient_name"`
	DoctorName         string             `json:"doctor_name,omitempty"`
	Lines              []PrescriptionLine `json:"lines"`
}

// BatchCandidate is one inventory lot available for a medicine.
type BatchCandidate struct {
	BatchID           string          `json:"batch_id"`
	BatchNumber       string          `json:"batch_number"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	AvailableQuantity int             `json:"available_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

// SubstituteCandidate is a therapeutic equivalent offered by the formulary.
type SubstituteCandidate struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	GenericName    string          `json:"generic_name,omitempty"`
	Strength       string          `json:"strength,omitempty"`
	AvailableStock int             `json:"available_stock"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// DispensingLine is the working record for one prescription line.
//
// MedicineID/MedicineName always name the medicine that will be handed over;
// after a substitution the prescribed medicine is kept in OriginalMedicineID.
type DispensingLine struct {
	PrescriptionLineID   string          `json:"prescription_line_id"`
	MedicineID           string          `json:"medicine_id"`
	MedicineName         string          `json:"medicine_name"`
	MedicineType         string          `json:"medicine_type,omitempty"`
	Strength             string          `json:"strength,omitempty"`
	PrescribedQuantity   int             `json:"prescribed_quantity"`
	DispensedQuantity    int             `json:"dispensed_quantity"`
	RemainingQuantity    int             `json:"remaining_quantity"`
	AvailableStock       int             `json:"available_stock"`
	SelectedBatch        *BatchCandidate `json:"selected_batch,omitempty"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	SubstitutionAllowed  bool            `json:"substitution_allowed"`
	Substituted          bool            `json:"substituted"`
	OriginalMedicineID   string          `json:"original_medicine_id,omitempty"`
	OriginalMedicineName string          `json:"original_medicine_name,omitempty"`
	SubstituteMedicineID string          `json:"substitute_medicine_id,omitempty"`
	SubstituteReason     string          `json:"substitute_reason,omitempty"`
	Status               LineStatus      `json:"status"`
	Remarks              string          `json:"remarks,omitempty"`
}

// LineTotal is DispensedQuantity × UnitPrice.
func (l *DispensingLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.DispensedQuantity)))
}

// Complete reports whether the full prescribed quantity is being dispensed.
func (l *DispensingLine) Complete() bool {
	return l.DispensedQuantity == l.PrescribedQuantity
}

// PaymentInfo is the payment part of a dispensing submission.
type PaymentInfo struct {
	Status    PaymentStatus `json:"payment_status"`
	Method    PaymentMethod `json:"payment_method,omitempty"`
	Reference string        `json:"payment_reference,omitempty"`
}

// Actor is the authenticated user an action is attributed to.
type Actor struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// DispensingTransaction is the aggregate submitted to the backend. It is
// immutable once built.
type DispensingTransaction struct {
	ID                 string           `json:"id,omitempty"`
	PrescriptionID     string           `json:"prescription_id"`
	PrescriptionNumber string           `json:"prescription_number,omitempty"`
	PatientID          string           `json:"patient_id,omitempty"`
	PatientName        string           `json:"patient_name,omitempty"`
	DispensingType     DispensingType   `json:"dispensing_type"`
	Lines              []DispensingLine `json:"lines"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	Payment            PaymentInfo      `json:"payment"`
	DispensedBy        string           `json:"dispensed_by"`
	DispensedAt        time.Time        `json:"dispensed_at"`
	Remarks            string           `json:"remarks,omitempty"`
	// CompletesID names the earlier partial dispensing this one settles.
	CompletesID string `json:"completes_id,omitempty"`
}

// QueuePriority orders entries of the dispensing queue.
type QueuePriority string

const (
	PriorityNormal    QueuePriority = "Normal"
	PriorityUrgent    QueuePriority = "Urgent"
	PriorityEmergency QueuePriority = "Emergency"
)

// QueueStatus is the counter state of a queue entry.
type QueueStatus string

const (
	QueueWaiting    QueueStatus = "Waiting"
	QueueInProgress QueueStatus = "In Progress"
	QueueCompleted  QueueStatus = "Completed"
	QueueOnHold     QueueStatus = "On Hold"
	QueueCancelled  QueueStatus = "Cancelled"
)

var validQueueStatuses = map[QueueStatus]bool{
	QueueWaiting:    true,
	QueueInProgress: true,
	QueueCompleted:  true,
	QueueOnHold:     true,
	QueueCancelled:  true,
}

// QueueEntry is one prescription waiting at the pharmacy counter.
type QueueEntry struct {
	ID                 string        `json:"id"`
	PrescriptionID     string        `json:"prescription_id"`
	PrescriptionNumber string        `json:"prescription_number"`
	TokenNumber        string        `json:"token_number,omitempty"`
	PatientName        string        `json:"patient_name"`
	PrescriptionDate   time.Time     `json:"prescription_date"`
	ItemCount          int           `json:"item_count"`
	Priority           QueuePriority `json:"priority"`
	Status             QueueStatus   `json:"status"`
	Notes              string        `json:"notes,omitempty"`
}
