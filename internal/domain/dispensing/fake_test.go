package dispensing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// fakeBackend is an in-memory pharmacy backend for tests.
type fakeBackend struct {
	mu            sync.Mutex
	prescriptions map[string]*Prescription
	batches       map[string][]BatchCandidate
	substitutes   map[string][]SubstituteCandidate
	queue         []QueueEntry
	queueFilter   QueueFilter
	stats         *QueueStatistics
	history       []HistoryEntry
	historyFilter HistoryFilter
	pending       []PendingPartial
	completed     map[string]*DispensingTransaction
	batchErr      map[string]error
	submitErr     error
	submitted     []*DispensingTransaction
	batchCalls    int
	subCalls      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		prescriptions: make(map[string]*Prescription),
		batches:       make(map[string][]BatchCandidate),
		substitutes:   make(map[string][]SubstituteCandidate),
		batchErr:      make(map[string]error),
		completed:     make(map[string]*DispensingTransaction),
	}
}

func (f *fakeBackend) GetPrescription(_ context.Context, id string) (*Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakeBackend) ListBatches(ctx context.Context, medicineID string, _ int) ([]BatchCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if err := f.batchErr[medicineID]; err != nil {
		return nil, err
	}
	return append([]BatchCandidate(nil), f.batches[medicineID]...), nil
}

func (f *fakeBackend) ListSubstitutes(_ context.Context, medicineID string) ([]SubstituteCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	return append([]SubstituteCandidate(nil), f.substitutes[medicineID]...), nil
}

func (f *fakeBackend) SubmitDispensing(_ context.Context, tx *DispensingTransaction) (*DispensingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	saved := *tx
	saved.ID = "disp-1"
	f.submitted = append(f.submitted, &saved)
	return &saved, nil
}

func (f *fakeBackend) GetDispensing(_ context.Context, id string) (*DispensingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.submitted {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeBackend) ListQueue(_ context.Context, filter QueueFilter) ([]QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueFilter = filter
	var out []QueueEntry
	for _, e := range f.queue {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && e.Priority != filter.Priority {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) UpdateQueueStatus(_ context.Context, id string, status QueueStatus, notes string) (*QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queue {
		if f.queue[i].ID == id {
			f.queue[i].Status = status
			f.queue[i].Notes = notes
			e := f.queue[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeBackend) QueueStatistics(_ context.Context) (*QueueStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats == nil {
		return &QueueStatistics{}, nil
	}
	st := *f.stats
	return &st, nil
}

func (f *fakeBackend) SearchDispensings(_ context.Context, filter HistoryFilter) (*HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyFilter = filter
	return &HistoryPage{
		Entries:  append([]HistoryEntry(nil), f.history...),
		Total:    len(f.history),
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (f *fakeBackend) ListPendingPartial(_ context.Context) ([]PendingPartial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PendingPartial(nil), f.pending...), nil
}

func (f *fakeBackend) CompletePartial(_ context.Context, dispensingID string, tx *DispensingTransaction) (*DispensingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	saved := *tx
	saved.ID = dispensingID + "-c"
	f.completed[dispensingID] = &saved
	return &saved, nil
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func batch(id string, expiry time.Time, qty int, unitPrice string) BatchCandidate {
	return BatchCandidate{
		BatchID:           id,
		BatchNumber:       "B-" + id,
		ExpiryDate:        expiry,
		AvailableQuantity: qty,
		UnitPrice:         price(unitPrice),
	}
}

// twoLinePrescription is Paracetamol x10 and Amoxicillin x20.
func twoLinePrescription() *Prescription {
	return &Prescription{
		ID:                 "rx-1",
		PrescriptionNumber: "RX-0001",
		PatientID:          "pat-1",
		PatientName:        "Asha Rao",
		Lines: []PrescriptionLine{
			{ID: "l1", MedicineID: "para", MedicineName: "Paracetamol", PrescribedQuantity: 10},
			{ID: "l2", MedicineID: "amox", MedicineName: "Amoxicillin", PrescribedQuantity: 20, SubstitutionAllowed: true},
		},
	}
}

var testActor = Actor{ID: "ph-1", Name: "Pharmacist One", Roles: []string{"pharmacist"}}
