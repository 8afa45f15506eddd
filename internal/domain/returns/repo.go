package returns

import (
	"context"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
)

// Backend is the pharmacy service that stores returns and settles refunds.
type Backend interface {
	GetDispensing(ctx context.Context, id string) (*dispensing.DispensingTransaction, error)
	SearchDispensings(ctx context.Context, f dispensing.HistoryFilter) (*dispensing.HistoryPage, error)
	SubmitReturn(ctx context.Context, r *ReturnRecord) (*ReturnRecord, error)
	GetReturn(ctx context.Context, id string) (*ReturnRecord, error)
	ApproveReturn(ctx context.Context, id, approvedBy string) (*ReturnRecord, error)
	RejectReturn(ctx context.Context, id, rejectedBy, reason string) (*ReturnRecord, error)
	ProcessReturn(ctx context.Context, id, processedBy string) (*ReturnRecord, error)
}
