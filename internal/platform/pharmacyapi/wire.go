package pharmacyapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/domain/returns"
)

// wireTime accepts both RFC 3339 timestamps and bare dates, which the
// backend uses for batch expiry.
type wireTime struct{ time.Time }

func (t *wireTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func wireTimePtr(t *time.Time) *wireTime {
	if t == nil {
		return nil
	}
	return &wireTime{*t}
}

func (t *wireTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// -- Prescription --

type dosageDTO struct {
	Morning   float64 `json:"morning"`
	Afternoon float64 `json:"afternoon"`
	Evening   float64 `json:"evening"`
	Night     float64 `json:"night"`
}

type prescriptionItemDTO struct {
	ID                  string    `json:"id"`
	MedicineID          string    `json:"medicineId"`
	MedicineName        string    `json:"medicineName"`
	MedicineType        string    `json:"medicineType"`
	Strength            string    `json:"strength"`
	Dosage              dosageDTO `json:"dosage"`
	Duration            int       `json:"duration"`
	DurationUnit        string    `json:"durationUnit"`
	TotalQuantity       int       `json:"totalQuantity"`
	SubstitutionAllowed bool      `json:"substitutionAllowed"`
}

type prescriptionDTO struct {
	ID                 string                `json:"id"`
	PrescriptionNumber string                `json:"prescriptionNumber"`
	PatientID          string                `json:"patientId"`
	PatientName        string                `json:"patientName"`
	DoctorName         string                `json:"doctorName"`
	Items              []prescriptionItemDTO `json:"items"`
}

func (p prescriptionDTO) toDomain() *dispensing.Prescription {
	out := &dispensing.Prescription{
		ID:                 p.ID,
		PrescriptionNumber: p.PrescriptionNumber,
		PatientID:          p.PatientID,
		PatientName:        p.PatientName,
		DoctorName:         p.DoctorName,
		Lines:              make([]dispensing.PrescriptionLine, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		out.Lines = append(out.Lines, dispensing.PrescriptionLine{
			ID:           it.ID,
			MedicineID:   it.MedicineID,
			MedicineName: it.MedicineName,
			MedicineType: it.MedicineType,
			Strength:     it.Strength,
			Dosage: dispensing.Dosage{
				Morning:   it.Dosage.Morning,
				Afternoon: it.Dosage.Afternoon,
				Evening:   it.Dosage.Evening,
				Night:     it.Dosage.Night,
			},
			Duration:            it.Duration,
			DurationUnit:        dispensing.DurationUnit(it.DurationUnit),
			PrescribedQuantity:  it.TotalQuantity,
			SubstitutionAllowed: it.SubstitutionAllowed,
		})
	}
	return out
}

// -- Batches and substitutes --

type batchDTO struct {
	BatchID           string          `json:"batchId"`
	BatchNumber       string          `json:"batchNumber"`
	ExpiryDate        wireTime        `json:"expiryDate"`
	AvailableQuantity int             `json:"availableQuantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
}

func (b batchDTO) toDomain() dispensing.BatchCandidate {
	return dispensing.BatchCandidate{
		BatchID:           b.BatchID,
		BatchNumber:       b.BatchNumber,
		ExpiryDate:        b.ExpiryDate.Time,
		AvailableQuantity: b.AvailableQuantity,
		UnitPrice:         b.UnitPrice,
	}
}

type substituteDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	GenericName    string          `json:"genericName"`
	Strength       string          `json:"strength"`
	AvailableStock int             `json:"availableStock"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
}

func (s substituteDTO) toDomain() dispensing.SubstituteCandidate {
	return dispensing.SubstituteCandidate{
		ID:             s.ID,
		Name:           s.Name,
		GenericName:    s.GenericName,
		Strength:       s.Strength,
		AvailableStock: s.AvailableStock,
		UnitPrice:      s.UnitPrice,
	}
}

// -- Dispensing --

type dispensingItemDTO struct {
	PrescriptionItemID     string          `json:"prescriptionItemId"`
	MedicineID             string          `json:"medicineId"`
	MedicineName           string          `json:"medicineName"`
	MedicineType           string          `json:"medicineType,omitempty"`
	Strength               string          `json:"strength,omitempty"`
	PrescribedQuantity     int             `json:"prescribedQuantity"`
	DispensedQuantity      int             `json:"dispensedQuantity"`
	RemainingQuantity      int             `json:"remainingQuantity"`
	AvailableStock         int             `json:"availableStock"`
	SelectedBatchID        string          `json:"selectedBatchId,omitempty"`
	SelectedBatchNumber    string          `json:"selectedBatchNumber,omitempty"`
	SelectedBatchExpiry    *wireTime       `json:"selectedBatchExpiry,omitempty"`
	UnitPrice              decimal.Decimal `json:"unitPrice"`
	TotalPrice             decimal.Decimal `json:"totalPrice"`
	Substituted            bool            `json:"substituted"`
	OriginalMedicineID     string          `json:"originalMedicineId,omitempty"`
	OriginalMedicineName   string          `json:"originalMedicineName,omitempty"`
	SubstituteMedicineID   string          `json:"substituteMedicineId,omitempty"`
	SubstituteMedicineName string          `json:"substituteMedicineName,omitempty"`
	SubstituteReason       string          `json:"substituteReason,omitempty"`
	Status                 string          `json:"status"`
	Remarks                string          `json:"remarks,omitempty"`
}

type dispenseDTO struct {
	ID                 string              `json:"id,omitempty"`
	PrescriptionID     string              `json:"prescriptionId"`
	PrescriptionNumber string              `json:"prescriptionNumber,omitempty"`
	PatientID          string              `json:"patientId,omitempty"`
	PatientName        string              `json:"patientName,omitempty"`
	DispensingType     string              `json:"dispensingType"`
	Items              []dispensingItemDTO `json:"items"`
	TotalAmount        decimal.Decimal     `json:"totalAmount"`
	PaymentStatus      string              `json:"paymentStatus"`
	PaymentMethod      string              `json:"paymentMethod,omitempty"`
	PaymentReference   string              `json:"paymentReference,omitempty"`
	DispensedBy        string              `json:"dispensedBy"`
	DispensedAt        wireTime            `json:"dispensedAt"`
	Remarks            string              `json:"remarks,omitempty"`
}

func dispenseFromDomain(tx *dispensing.DispensingTransaction) dispenseDTO {
	out := dispenseDTO{
		ID:                 tx.ID,
		PrescriptionID:     tx.PrescriptionID,
		PrescriptionNumber: tx.PrescriptionNumber,
		PatientID:          tx.PatientID,
		PatientName:        tx.PatientName,
		DispensingType:     string(tx.DispensingType),
		Items:              make([]dispensingItemDTO, 0, len(tx.Lines)),
		TotalAmount:        tx.TotalAmount,
		PaymentStatus:      string(tx.Payment.Status),
		PaymentMethod:      string(tx.Payment.Method),
		PaymentReference:   tx.Payment.Reference,
		DispensedBy:        tx.DispensedBy,
		DispensedAt:        wireTime{tx.DispensedAt},
		Remarks:            tx.Remarks,
	}
	for i := range tx.Lines {
		l := &tx.Lines[i]
		item := dispensingItemDTO{
			PrescriptionItemID:   l.PrescriptionLineID,
			MedicineID:           l.MedicineID,
			MedicineName:         l.MedicineName,
			MedicineType:         l.MedicineType,
			Strength:             l.Strength,
			PrescribedQuantity:   l.PrescribedQuantity,
			DispensedQuantity:    l.DispensedQuantity,
			RemainingQuantity:    l.RemainingQuantity,
			AvailableStock:       l.AvailableStock,
			UnitPrice:            l.UnitPrice,
			TotalPrice:           l.LineTotal().Round(2),
			Substituted:          l.Substituted,
			OriginalMedicineID:   l.OriginalMedicineID,
			OriginalMedicineName: l.OriginalMedicineName,
			SubstituteReason:     l.SubstituteReason,
			Status:               string(l.Status),
			Remarks:              l.Remarks,
		}
		if l.Substituted {
			item.SubstituteMedicineID = l.SubstituteMedicineID
			item.SubstituteMedicineName = l.MedicineName
		}
		if b := l.SelectedBatch; b != nil {
			item.SelectedBatchID = b.BatchID
			item.SelectedBatchNumber = b.BatchNumber
			item.SelectedBatchExpiry = wireTimePtr(&b.ExpiryDate)
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func (d dispenseDTO) toDomain() *dispensing.DispensingTransaction {
	out := &dispensing.DispensingTransaction{
		ID:                 d.ID,
		PrescriptionID:     d.PrescriptionID,
		PrescriptionNumber: d.PrescriptionNumber,
		PatientID:          d.PatientID,
		PatientName:        d.PatientName,
		DispensingType:     dispensing.DispensingType(d.DispensingType),
		Lines:              make([]dispensing.DispensingLine, 0, len(d.Items)),
		TotalAmount:        d.TotalAmount,
		Payment: dispensing.PaymentInfo{
			Status:    dispensing.PaymentStatus(d.PaymentStatus),
			Method:    dispensing.PaymentMethod(d.PaymentMethod),
			Reference: d.PaymentReference,
		},
		DispensedBy: d.DispensedBy,
		DispensedAt: d.DispensedAt.Time,
		Remarks:     d.Remarks,
	}
	for _, it := range d.Items {
		l := dispensing.DispensingLine{
			PrescriptionLineID:   it.PrescriptionItemID,
			MedicineID:           it.MedicineID,
			MedicineName:         it.MedicineName,
			MedicineType:         it.MedicineType,
			Strength:             it.Strength,
			PrescribedQuantity:   it.PrescribedQuantity,
			DispensedQuantity:    it.DispensedQuantity,
			RemainingQuantity:    it.RemainingQuantity,
			AvailableStock:       it.AvailableStock,
			UnitPrice:            it.UnitPrice,
			Substituted:          it.Substituted,
			OriginalMedicineID:   it.OriginalMedicineID,
			OriginalMedicineName: it.OriginalMedicineName,
			SubstituteMedicineID: it.SubstituteMedicineID,
			SubstituteReason:     it.SubstituteReason,
			Status:               dispensing.LineStatus(it.Status),
			Remarks:              it.Remarks,
		}
		if it.SelectedBatchID != "" {
			b := &dispensing.BatchCandidate{
				BatchID:     it.SelectedBatchID,
				BatchNumber: it.SelectedBatchNumber,
				UnitPrice:   it.UnitPrice,
			}
			if exp := it.SelectedBatchExpiry.ptr(); exp != nil {
				b.ExpiryDate = *exp
			}
			l.SelectedBatch = b
		}
		out.Lines = append(out.Lines, l)
	}
	return out
}

// -- Queue --

type queueDTO struct {
	ID                 string   `json:"id"`
	PrescriptionID     string   `json:"prescriptionId"`
	PrescriptionNumber string   `json:"prescriptionNumber"`
	TokenNumber        string   `json:"tokenNumber"`
	PatientName        string   `json:"patientName"`
	PrescriptionDate   wireTime `json:"prescriptionDate"`
	ItemCount          int      `json:"itemCount"`
	Priority           string   `json:"priority"`
	Status             string   `json:"status"`
	Notes              string   `json:"notes"`
}

func (q queueDTO) toDomain() dispensing.QueueEntry {
	return dispensing.QueueEntry{
		ID:                 q.ID,
		PrescriptionID:     q.PrescriptionID,
		PrescriptionNumber: q.PrescriptionNumber,
		TokenNumber:        q.TokenNumber,
		PatientName:        q.PatientName,
		PrescriptionDate:   q.PrescriptionDate.Time,
		ItemCount:          q.ItemCount,
		Priority:           dispensing.QueuePriority(q.Priority),
		Status:             dispensing.QueueStatus(q.Status),
		Notes:              q.Notes,
	}
}

type queueStatusDTO struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type queueStatisticsDTO struct {
	Waiting         int     `json:"waiting"`
	InProgress      int     `json:"inProgress"`
	AverageWaitTime float64 `json:"averageWaitTime"`
	UrgentCount     int     `json:"urgentCount"`
	EmergencyCount  int     `json:"emergencyCount"`
}

func (q queueStatisticsDTO) toDomain() *dispensing.QueueStatistics {
	return &dispensing.QueueStatistics{
		Waiting:         q.Waiting,
		InProgress:      q.InProgress,
		AverageWaitTime: q.AverageWaitTime,
		UrgentCount:     q.UrgentCount,
		EmergencyCount:  q.EmergencyCount,
	}
}

// -- History --

type historyDTO struct {
	ID                        string          `json:"id"`
	PrescriptionID            string          `json:"prescriptionId"`
	PrescriptionNumber        string          `json:"prescriptionNumber"`
	TokenNumber               string          `json:"tokenNumber"`
	PatientID                 string          `json:"patientId"`
	PatientName               string          `json:"patientName"`
	PatientRegistrationNumber string          `json:"patientRegistrationNumber"`
	DispensedAt               wireTime        `json:"dispensedAt"`
	DispensedBy               string          `json:"dispensedBy"`
	DispensingStatus          string          `json:"dispensingStatus"`
	PaymentMethod             string          `json:"paymentMethod"`
	PaymentStatus             string          `json:"paymentStatus"`
	TotalAmount               decimal.Decimal `json:"totalAmount"`
	RefundAmount              decimal.Decimal `json:"refundAmount"`
	HasReturns                bool            `json:"hasReturns"`
}

func (h historyDTO) toDomain() dispensing.HistoryEntry {
	return dispensing.HistoryEntry{
		ID:                 h.ID,
		PrescriptionID:     h.PrescriptionID,
		PrescriptionNumber: h.PrescriptionNumber,
		TokenNumber:        h.TokenNumber,
		PatientID:          h.PatientID,
		PatientName:        h.PatientName,
		RegistrationNumber: h.PatientRegistrationNumber,
		DispensedAt:        h.DispensedAt.Time,
		DispensedBy:        h.DispensedBy,
		DispensingStatus:   h.DispensingStatus,
		PaymentMethod:      dispensing.PaymentMethod(h.PaymentMethod),
		PaymentStatus:      dispensing.PaymentStatus(h.PaymentStatus),
		TotalAmount:        h.TotalAmount,
		RefundAmount:       h.RefundAmount,
		HasReturns:         h.HasReturns,
	}
}

type historyPageDTO struct {
	History  []historyDTO `json:"history"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

func (p historyPageDTO) toDomain() *dispensing.HistoryPage {
	out := &dispensing.HistoryPage{
		Entries:  make([]dispensing.HistoryEntry, 0, len(p.History)),
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
	}
	for _, h := range p.History {
		out.Entries = append(out.Entries, h.toDomain())
	}
	return out
}

type pendingPartialDTO struct {
	DispensingID       string   `json:"dispensingId"`
	PrescriptionNumber string   `json:"prescriptionNumber"`
	PatientName        string   `json:"patientName"`
	PendingItems       int      `json:"pendingItems"`
	DispensingDate     wireTime `json:"dispensingDate"`
}

func (p pendingPartialDTO) toDomain() dispensing.PendingPartial {
	return dispensing.PendingPartial{
		DispensingID:       p.DispensingID,
		PrescriptionNumber: p.PrescriptionNumber,
		PatientName:        p.PatientName,
		PendingItems:       p.PendingItems,
		DispensingDate:     p.DispensingDate.Time,
	}
}

type completeDTO struct {
	Items []dispensingItemDTO `json:"items"`
}

// -- Returns --

type returnItemDTO struct {
	DispensingItemID  string          `json:"dispensingItemId"`
	MedicineID        string          `json:"medicineId"`
	MedicineName      string          `json:"medicineName"`
	BatchID           string          `json:"batchId,omitempty"`
	BatchNumber       string          `json:"batchNumber,omitempty"`
	DispensedQuantity int             `json:"dispensedQuantity"`
	ReturnQuantity    int             `json:"returnQuantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	RefundAmount      decimal.Decimal `json:"refundAmount"`
	Condition         string          `json:"condition"`
	Restockable       bool            `json:"restockable"`
	Remarks           string          `json:"remarks,omitempty"`
}

type returnDTO struct {
	ID                  string          `json:"id,omitempty"`
	DispensingID        string          `json:"dispensingId"`
	PrescriptionID      string          `json:"prescriptionId,omitempty"`
	PrescriptionNumber  string          `json:"prescriptionNumber,omitempty"`
	PatientID           string          `json:"patientId,omitempty"`
	PatientName         string          `json:"patientName,omitempty"`
	ReturnDate          wireTime        `json:"returnDate"`
	ReturnReason        string          `json:"returnReason"`
	ReturnReasonDetails string          `json:"returnReasonDetails,omitempty"`
	Items               []returnItemDTO `json:"items"`
	TotalRefundAmount   decimal.Decimal `json:"totalRefundAmount"`
	RefundStatus        string          `json:"refundStatus"`
	ProcessedBy         string          `json:"processedBy,omitempty"`
	RequestedBy         string          `json:"requestedBy,omitempty"`
	ApprovedBy          string          `json:"approvedBy,omitempty"`
	ApprovedAt          *wireTime       `json:"approvedAt,omitempty"`
	RejectionReason     string          `json:"rejectionReason,omitempty"`
	Remarks             string          `json:"remarks,omitempty"`
}

func returnFromDomain(r *returns.ReturnRecord) returnDTO {
	out := returnDTO{
		ID:                  r.ID,
		DispensingID:        r.DispensingID,
		PrescriptionID:      r.PrescriptionID,
		PrescriptionNumber:  r.PrescriptionNumber,
		PatientID:           r.PatientID,
		PatientName:         r.PatientName,
		ReturnDate:          wireTime{r.ReturnDate},
		ReturnReason:        string(r.Reason),
		ReturnReasonDetails: r.ReasonDetails,
		Items:               make([]returnItemDTO, 0, len(r.Lines)),
		TotalRefundAmount:   r.TotalRefundAmount,
		RefundStatus:        string(r.RefundStatus),
		RequestedBy:         r.RequestedBy,
		ProcessedBy:         r.ProcessedBy,
		ApprovedBy:          r.ApprovedBy,
		ApprovedAt:          wireTimePtr(r.ApprovedAt),
		RejectionReason:     r.RejectionReason,
		Remarks:             r.Remarks,
	}
	for _, l := range r.Lines {
		out.Items = append(out.Items, returnItemDTO{
			DispensingItemID:  l.DispensingLineID,
			MedicineID:        l.MedicineID,
			MedicineName:      l.MedicineName,
			BatchID:           l.BatchID,
			BatchNumber:       l.BatchNumber,
			DispensedQuantity: l.DispensedQuantity,
			ReturnQuantity:    l.ReturnQuantity,
			UnitPrice:         l.UnitPrice,
			RefundAmount:      l.RefundAmount,
			Condition:         string(l.Condition),
			Restockable:       l.Restockable,
			Remarks:           l.Remarks,
		})
	}
	return out
}

func (d returnDTO) toDomain() *returns.ReturnRecord {
	out := &returns.ReturnRecord{
		ID:                 d.ID,
		DispensingID:       d.DispensingID,
		PrescriptionID:     d.PrescriptionID,
		PrescriptionNumber: d.PrescriptionNumber,
		PatientID:          d.PatientID,
		PatientName:        d.PatientName,
		Reason:             returns.ReturnReason(d.ReturnReason),
		ReasonDetails:      d.ReturnReasonDetails,
		Lines:              make([]returns.ReturnLine, 0, len(d.Items)),
		TotalRefundAmount:  d.TotalRefundAmount,
		RefundStatus:       returns.RefundStatus(d.RefundStatus),
		RequestedBy:        d.RequestedBy,
		ReturnDate:         d.ReturnDate.Time,
		ApprovedBy:         d.ApprovedBy,
		ApprovedAt:         d.ApprovedAt.ptr(),
		RejectionReason:    d.RejectionReason,
		ProcessedBy:        d.ProcessedBy,
		Remarks:            d.Remarks,
	}
	for _, it := range d.Items {
		out.Lines = append(out.Lines, returns.ReturnLine{
			DispensingLineID:  it.DispensingItemID,
			MedicineID:        it.MedicineID,
			MedicineName:      it.MedicineName,
			BatchID:           it.BatchID,
			BatchNumber:       it.BatchNumber,
			DispensedQuantity: it.DispensedQuantity,
			ReturnQuantity:    it.ReturnQuantity,
			UnitPrice:         it.UnitPrice,
			RefundAmount:      it.RefundAmount,
			Condition:         returns.MedicineCondition(it.Condition),
			Restockable:       it.Restockable,
			Remarks:           it.Remarks,
		})
	}
	return out
}
