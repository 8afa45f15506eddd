package pharmacyapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/domain/returns"
)

func (c *Client) GetPrescription(ctx context.Context, id string) (*dispensing.Prescription, error) {
	var dto prescriptionDTO
	if err := c.do(ctx, "get_prescription", http.MethodGet, "/prescriptions/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) ListBatches(ctx context.Context, medicineID string, requiredQuantity int) ([]dispensing.BatchCandidate, error) {
	path := "/pharmacy/batches/" + url.PathEscape(medicineID) +
		"?" + url.Values{"requiredQuantity": {strconv.Itoa(requiredQuantity)}}.Encode()
	var dtos []batchDTO
	if err := c.do(ctx, "list_batches", http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]dispensing.BatchCandidate, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (c *Client) ListSubstitutes(ctx context.Context, medicineID string) ([]dispensing.SubstituteCandidate, error) {
	var dtos []substituteDTO
	if err := c.do(ctx, "list_substitutes", http.MethodGet, "/pharmacy/substitutes/"+url.PathEscape(medicineID), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]dispensing.SubstituteCandidate, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// SubmitDispensing sends the whole transaction as one request. The backend
// echoes it back with its id, or rejects it entirely.
func (c *Client) SubmitDispensing(ctx context.Context, tx *dispensing.DispensingTransaction) (*dispensing.DispensingTransaction, error) {
	var dto dispenseDTO
	if err := c.do(ctx, "submit_dispensing", http.MethodPost, "/pharmacy/dispense", dispenseFromDomain(tx), &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) GetDispensing(ctx context.Context, id string) (*dispensing.DispensingTransaction, error) {
	var dto dispenseDTO
	if err := c.do(ctx, "get_dispensing", http.MethodGet, "/pharmacy/dispense/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) ListQueue(ctx context.Context, f dispensing.QueueFilter) ([]dispensing.QueueEntry, error) {
	path := "/pharmacy/queue"
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var dtos []queueDTO
	if err := c.do(ctx, "list_queue", http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]dispensing.QueueEntry, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (c *Client) UpdateQueueStatus(ctx context.Context, id string, status dispensing.QueueStatus, notes string) (*dispensing.QueueEntry, error) {
	body := queueStatusDTO{Status: string(status), Notes: notes}
	var dto queueDTO
	if err := c.do(ctx, "update_queue_status", http.MethodPut, "/pharmacy/queue/"+url.PathEscape(id)+"/status", body, &dto); err != nil {
		return nil, err
	}
	e := dto.toDomain()
	return &e, nil
}

func (c *Client) QueueStatistics(ctx context.Context) (*dispensing.QueueStatistics, error) {
	var dto queueStatisticsDTO
	if err := c.do(ctx, "queue_statistics", http.MethodGet, "/pharmacy/queue/statistics", nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

// SearchDispensings queries the dispensing history. Zero-valued filter
// fields are left out of the query.
func (c *Client) SearchDispensings(ctx context.Context, f dispensing.HistoryFilter) (*dispensing.HistoryPage, error) {
	q := url.Values{
		"page":     {strconv.Itoa(f.Page)},
		"pageSize": {strconv.Itoa(f.PageSize)},
	}
	for k, v := range map[string]string{
		"patientId":      f.PatientID,
		"dispensedBy":    f.DispensedBy,
		"dispensingType": string(f.DispensingType),
		"searchTerm":     f.SearchTerm,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if !f.From.IsZero() {
		q.Set("startDate", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("endDate", f.To.UTC().Format(time.RFC3339))
	}
	var dto historyPageDTO
	if err := c.do(ctx, "search_dispensings", http.MethodGet, "/pharmacy/history?"+q.Encode(), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) ListPendingPartial(ctx context.Context) ([]dispensing.PendingPartial, error) {
	var dtos []pendingPartialDTO
	if err := c.do(ctx, "list_pending_partial", http.MethodGet, "/pharmacy/pending-partial", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]dispensing.PendingPartial, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// CompletePartial posts only the items of the completing transaction; the
// backend links them to the earlier dispensing.
func (c *Client) CompletePartial(ctx context.Context, dispensingID string, tx *dispensing.DispensingTransaction) (*dispensing.DispensingTransaction, error) {
	body := completeDTO{Items: dispenseFromDomain(tx).Items}
	var dto dispenseDTO
	if err := c.do(ctx, "complete_partial", http.MethodPost, "/pharmacy/dispense/"+url.PathEscape(dispensingID)+"/complete", body, &dto); err != nil {
		return nil, err
	}
	out := dto.toDomain()
	out.CompletesID = dispensingID
	return out, nil
}

func (c *Client) SubmitReturn(ctx context.Context, r *returns.ReturnRecord) (*returns.ReturnRecord, error) {
	var dto returnDTO
	if err := c.do(ctx, "submit_return", http.MethodPost, "/pharmacy/return", returnFromDomain(r), &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) GetReturn(ctx context.Context, id string) (*returns.ReturnRecord, error) {
	var dto returnDTO
	if err := c.do(ctx, "get_return", http.MethodGet, "/pharmacy/return/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) ApproveReturn(ctx context.Context, id, approvedBy string) (*returns.ReturnRecord, error) {
	body := map[string]string{"approvedBy": approvedBy}
	var dto returnDTO
	if err := c.do(ctx, "approve_return", http.MethodPost, "/pharmacy/return/"+url.PathEscape(id)+"/approve", body, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) RejectReturn(ctx context.Context, id, rejectedBy, reason string) (*returns.ReturnRecord, error) {
	body := map[string]string{"rejectedBy": rejectedBy, "reason": reason}
	var dto returnDTO
	if err := c.do(ctx, "reject_return", http.MethodPost, "/pharmacy/return/"+url.PathEscape(id)+"/reject", body, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) ProcessReturn(ctx context.Context, id, processedBy string) (*returns.ReturnRecord, error) {
	body := map[string]string{"processedBy": processedBy}
	var dto returnDTO
	if err := c.do(ctx, "process_return", http.MethodPost, "/pharmacy/return/"+url.PathEscape(id)+"/process", body, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

var (
	_ dispensing.Backend = (*Client)(nil)
	_ returns.Backend    = (*Client)(nil)
)
