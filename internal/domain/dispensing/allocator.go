package dispensing

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// BatchSource lists the inventory lots the backend holds for a medicine.
type BatchSource interface {
	ListBatches(ctx context.Context, medicineID string, requiredQuantity int) ([]BatchCandidate, error)
}

// Allocator picks inventory batches for dispensing lines, earliest expiry first.
type Allocator struct {
	batches BatchSource
	now     func() time.Time
}

func NewAllocator(batches BatchSource) *Allocator {
	return &Allocator{batches: batches, now: time.Now}
}

// LoadCandidates fetches the batches for a medicine and returns the usable
// ones in FEFO order.
func (a *Allocator) LoadCandidates(ctx context.Context, medicineID string, requiredQuantity int) ([]BatchCandidate, error) {
	raw, err := a.batches.ListBatches(ctx, medicineID, requiredQuantity)
	if err != nil {
		return nil, err
	}
	return OrderCandidates(raw, a.now()), nil
}

// Allocate loads candidates for the line's current medicine and applies them:
// the earliest-expiry batch is selected, or the line goes out of stock.
func (a *Allocator) Allocate(ctx context.Context, line *DispensingLine) ([]BatchCandidate, error) {
	candidates, err := a.LoadCandidates(ctx, line.MedicineID, line.PrescribedQuantity)
	if err != nil {
		return nil, err
	}
	ApplyCandidates(line, candidates)
	return candidates, nil
}

// OrderCandidates drops empty and already-expired batches and sorts the rest
// by expiry date, then batch number.
func OrderCandidates(raw []BatchCandidate, asOf time.Time) []BatchCandidate {
	out := make([]BatchCandidate, 0, len(raw))
	for _, b := range raw {
		if b.AvailableQuantity <= 0 {
			continue
		}
		if !b.ExpiryDate.IsZero() && b.ExpiryDate.Before(asOf) {
			continue
		}
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(x, y BatchCandidate) int {
		if c := x.ExpiryDate.Compare(y.ExpiryDate); c != 0 {
			return c
		}
		return cmp.Compare(x.BatchNumber, y.BatchNumber)
	})
	return out
}

// ApplyCandidates records a fresh candidate list on the line. With no
// candidates the line is out of stock and nothing is dispensed; otherwise the
// first candidate is selected.
func ApplyCandidates(line *DispensingLine, candidates []BatchCandidate) {
	total := 0
	for _, c := range candidates {
		total += c.AvailableQuantity
	}
	line.AvailableStock = total

	if len(candidates) == 0 {
		line.SelectedBatch = nil
		line.UnitPrice = decimal.Zero
		line.DispensedQuantity = 0
		line.Status = LineStatusOutOfStock
		return
	}

	if line.Status == LineStatusOutOfStock {
		// stock found again on re-allocation
		line.Status = LineStatusPending
		if line.Substituted {
			line.Status = LineStatusSubstituted
		}
		line.DispensedQuantity = line.PrescribedQuantity
	}
	SelectBatch(line, candidates[0])
}

// SelectBatch makes c the line's batch and takes its unit price.
func SelectBatch(line *DispensingLine, c BatchCandidate) {
	b := c
	line.SelectedBatch = &b
	line.UnitPrice = c.UnitPrice
}

// SelectBatchByID overrides the batch with one of the loaded candidates.
func SelectBatchByID(line *DispensingLine, candidates []BatchCandidate, batchID string) error {
	if line.Status == LineStatusOutOfStock {
		return validationErr("batch", "%s is out of stock", line.MedicineName)
	}
	for _, c := range candidates {
		if c.BatchID == batchID {
			SelectBatch(line, c)
			return nil
		}
	}
	return validationErr("batch", "batch %s is not available for %s", batchID, line.MedicineName)
}

// SetDispensedQuantity clamps qty to [0, prescribed quantity].
func SetDispensedQuantity(line *DispensingLine, qty int) error {
	if line.Status == LineStatusOutOfStock && qty > 0 {
		return validationErr("quantity", "%s is out of stock; substitute it or re-run allocation", line.MedicineName)
	}
	if qty < 0 {
		qty = 0
	}
	if qty > line.PrescribedQuantity {
		qty = line.PrescribedQuantity
	}
	line.DispensedQuantity = qty
	return nil
}

// MarkOutOfStock records the pharmacist's decision not to dispense the line.
func MarkOutOfStock(line *DispensingLine) error {
	if !line.Status.CanTransition(LineStatusOutOfStock) {
		return validationErr("status", "%s is %s and cannot be marked out of stock", line.MedicineName, line.Status)
	}
	line.DispensedQuantity = 0
	line.Status = LineStatusOutOfStock
	return nil
}
