package dispensing

import "context"

// Backend is the external pharmacy service the desk prepares payloads for.
// It owns inventory and persistence; SubmitDispensing must decrement stock
// atomically or fail with a *StockConflictError.
type Backend interface {
	BatchSource
	Formulary
	GetPrescription(ctx context.Context, id string) (*Prescription, error)
	SubmitDispensing(ctx context.Context, tx *DispensingTransaction) (*DispensingTransaction, error)
	GetDispensing(ctx context.Context, id string) (*DispensingTransaction, error)
	ListQueue(ctx context.Context, f QueueFilter) ([]QueueEntry, error)
	UpdateQueueStatus(ctx context.Context, id string, status QueueStatus, notes string) (*QueueEntry, error)
	QueueStatistics(ctx context.Context) (*QueueStatistics, error)
	SearchDispensings(ctx context.Context, f HistoryFilter) (*HistoryPage, error)
	ListPendingPartial(ctx context.Context) ([]PendingPartial, error)
	// CompletePartial dispenses what an earlier partial dispensing left
	// owing. Stock rules are those of SubmitDispensing.
	CompletePartial(ctx context.Context, dispensingID string, tx *DispensingTransaction) (*DispensingTransaction, error)
}
