package dispensing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Formulary looks up therapeutic equivalents of a medicine.
type Formulary interface {
	ListSubstitutes(ctx context.Context, medicineID string) ([]SubstituteCandidate, error)
}

type Resolver struct {
	formulary Formulary
}

func NewResolver(formulary Formulary) *Resolver {
	return &Resolver{formulary: formulary}
}

// FindSubstitutes returns ErrNoSubstitutes when the formulary has nothing to offer.
func (r *Resolver) FindSubstitutes(ctx context.Context, medicineID string) ([]SubstituteCandidate, error) {
	subs, err := r.formulary.ListSubstitutes(ctx, medicineID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubstitutes
	}
	return subs, nil
}

// ApplySubstitution swaps the line's medicine for sub. The line is left
// untouched when any precondition fails. The caller must re-run allocation
// for the new medicine.
func ApplySubstitution(line *DispensingLine, sub SubstituteCandidate, reason string) error {
	if !line.SubstitutionAllowed {
		return validationErr("substitution", "prescriber did not allow substitution for %s", line.MedicineName)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "a reason is required to substitute %s", line.MedicineName)
	}
	if sub.ID == "" {
		return validationErr("substitute", "no substitute selected")
	}
	if sub.ID == line.MedicineID {
		return validationErr("substitute", "%s is already the line's medicine", sub.Name)
	}
	if !line.Status.CanTransition(LineStatusSubstituted) {
		return validationErr("status", "%s is %s and cannot be substituted", line.MedicineName, line.Status)
	}

	if !line.Substituted {
		line.OriginalMedicineID = line.MedicineID
		line.OriginalMedicineName = line.MedicineName
	}
	line.Substituted = true
	line.SubstituteMedicineID = sub.ID
	line.SubstituteReason = reason
	line.MedicineID = sub.ID
	line.MedicineName = sub.Name
	if sub.Strength != "" {
		line.Strength = sub.Strength
	}
	line.SelectedBatch = nil
	line.UnitPrice = decimal.Zero
	line.AvailableStock = sub.AvailableStock
	line.DispensedQuantity = line.PrescribedQuantity
	line.Status = LineStatusSubstituted
	return nil
}

// WizardState is a step of the substitution dialog.
type WizardState string

const (
	WizardIdle               WizardState = "idle"
	WizardSelectingCandidate WizardState = "selecting_candidate"
	WizardEnteringReason     WizardState = "entering_reason"
	WizardApplying           WizardState = "applying"
	WizardDone               WizardState = "done"
	WizardCancelled          WizardState = "cancelled"
)

// SubstitutionWizard walks one line through choosing a substitute and giving
// a reason: Idle -> SelectingCandidate -> EnteringReason -> Applying -> Done,
// with Cancelled reachable from every non-final step.
type SubstitutionWizard struct {
	LineID     string                `json:"line_id"`
	State      WizardState           `json:"state"`
	Candidates []SubstituteCandidate `json:"candidates,omitempty"`
	Chosen     *SubstituteCandidate  `json:"chosen,omitempty"`
}

func NewSubstitutionWizard(lineID string) *SubstitutionWizard {
	return &SubstitutionWizard{LineID: lineID, State: WizardIdle}
}

// Finished reports whether the wizard reached Done or Cancelled.
func (w *SubstitutionWizard) Finished() bool {
	return w.State == WizardDone || w.State == WizardCancelled
}

func (w *SubstitutionWizard) expect(states ...WizardState) error {
	for _, s := range states {
		if w.State == s {
			return nil
		}
	}
	return validationErr("substitution", "substitution is %s", w.State)
}

// Begin loads the substitutes for medicineID. An empty formulary answer
// cancels the wizard; a lookup failure leaves it idle for a manual retry.
func (w *SubstitutionWizard) Begin(ctx context.Context, r *Resolver, medicineID string) error {
	if err := w.expect(WizardIdle); err != nil {
		return err
	}
	subs, err := r.FindSubstitutes(ctx, medicineID)
	if err != nil {
		if errors.Is(err, ErrNoSubstitutes) {
			w.State = WizardCancelled
		}
		return err
	}
	w.Candidates = subs
	w.State = WizardSelectingCandidate
	return nil
}

// Choose picks one of the loaded candidates. It may be called again while
// the reason has not been confirmed.
func (w *SubstitutionWizard) Choose(substituteID string) error {
	if err := w.expect(WizardSelectingCandidate, WizardEnteringReason); err != nil {
		return err
	}
	for i := range w.Candidates {
		if w.Candidates[i].ID == substituteID {
			c := w.Candidates[i]
			w.Chosen = &c
			w.State = WizardEnteringReason
			return nil
		}
	}
	return validationErr("substitute_id", "%s is not one of the offered substitutes", substituteID)
}

// Confirm applies the chosen substitute with reason and re-allocates a batch
// for it. An empty reason keeps the wizard waiting for one.
func (w *SubstitutionWizard) Confirm(ctx context.Context, line *DispensingLine, reason string, alloc *Allocator) ([]BatchCandidate, error) {
	if err := w.expect(WizardEnteringReason); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, validationErr("reason", "a reason is required to substitute %s", line.MedicineName)
	}

	w.State = WizardApplying
	if err := ApplySubstitution(line, *w.Chosen, reason); err != nil {
		w.State = WizardCancelled
		return nil, err
	}
	w.State = WizardDone

	candidates, err := alloc.Allocate(ctx, line)
	if err != nil {
		return nil, fmt.Errorf("allocate batch for %s: %w", line.MedicineName, err)
	}
	return candidates, nil
}

func (w *SubstitutionWizard) Cancel() error {
	if w.Finished() || w.State == WizardApplying {
		return validationErr("substitution", "substitution is %s", w.State)
	}
	w.State = WizardCancelled
	return nil
}
