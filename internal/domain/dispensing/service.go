package dispensing

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/dispensing-desk/internal/platform/audittrail"
	"github.com/ehr/dispensing-desk/internal/platform/metrics"
	"github.com/ehr/dispensing-desk/internal/platform/workspace"
)

type Service struct {
	backend  Backend
	alloc    *Allocator
	resolver *Resolver
	sessions *workspace.Store[*Session]
	audit    audittrail.Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(backend Backend, sessions *workspace.Store[*Session], logger zerolog.Logger) *Service {
	return &Service{
		backend:  backend,
		alloc:    NewAllocator(backend),
		resolver: NewResolver(backend),
		sessions: sessions,
		logger:   logger.With().Str("component", "dispensing").Logger(),
		now:      time.Now,
	}
}

// SetAuditRecorder attaches an optional audit trail to the service.
func (s *Service) SetAuditRecorder(r audittrail.Recorder) {
	s.audit = r
}

// SetMetrics attaches optional metrics to the service.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) record(ctx context.Context, actor Actor, action audittrail.Action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audittrail.Entry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		UserRole:   strings.Join(actor.Roles, ","),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("action", string(action)).Str("entity_id", entityID).Msg("audit record failed")
	}
}

// -- Queue --

// Queue returns the prescriptions at the counter matching f, most urgent first.
func (s *Service) Queue(ctx context.Context, f QueueFilter) ([]QueueEntry, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	entries, err := s.backend.ListQueue(ctx, f)
	if err != nil {
		return nil, err
	}
	SortQueue(entries)
	return entries, nil
}

func (s *Service) QueueStatistics(ctx context.Context) (*QueueStatistics, error) {
	return s.backend.QueueStatistics(ctx)
}

// HoldQueueEntry parks a waiting or in-progress prescription.
func (s *Service) HoldQueueEntry(ctx context.Context, actor Actor, id, notes string) (*QueueEntry, error) {
	return s.moveQueueEntry(ctx, actor, id, QueueOnHold, notes)
}

// ResumeQueueEntry puts a held prescription back in the waiting line.
func (s *Service) ResumeQueueEntry(ctx context.Context, actor Actor, id, notes string) (*QueueEntry, error) {
	return s.moveQueueEntry(ctx, actor, id, QueueWaiting, notes)
}

func (s *Service) moveQueueEntry(ctx context.Context, actor Actor, id string, to QueueStatus, notes string) (*QueueEntry, error) {
	if actor.ID == "" {
		return nil, validationErr("actor", "queue changes must be attributed to a user")
	}
	if strings.TrimSpace(id) == "" {
		return nil, validationErr("id", "queue entry id is required")
	}
	entries, err := s.backend.ListQueue(ctx, QueueFilter{})
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(entries, func(e QueueEntry) bool { return e.ID == id })
	if idx < 0 {
		return nil, ErrNotFound
	}
	from := entries[idx].Status
	if !canMoveTo(from, to) {
		return nil, validationErr("status", "queue entry is %s and cannot be moved to %s", from, to)
	}

	updated, err := s.backend.UpdateQueueStatus(ctx, id, to, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	action := audittrail.ActionHold
	if to == QueueWaiting {
		action = audittrail.ActionResume
	}
	s.record(ctx, actor, action, "queue", id, map[string]any{
		"prescription_id": entries[idx].PrescriptionID,
		"from":            string(from),
		"to":              string(to),
	})
	s.logger.Info().
		Str("queue_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("user_id", actor.ID).
		Msg("queue entry moved")
	return updated, nil
}

// -- History --

// SearchHistory pages through submitted dispensings.
func (s *Service) SearchHistory(ctx context.Context, f HistoryFilter) (*HistoryPage, error) {
	if err := f.normalize(); err != nil {
		return nil, err
	}
	page, err := s.backend.SearchDispensings(ctx, f)
	if err != nil {
		return nil, err
	}
	if page.Entries == nil {
		page.Entries = []HistoryEntry{}
	}
	return page, nil
}

// PendingPartial lists partial dispensings that still owe medicine, oldest first.
func (s *Service) PendingPartial(ctx context.Context) ([]PendingPartial, error) {
	items, err := s.backend.ListPendingPartial(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b PendingPartial) int {
		return a.DispensingDate.Compare(b.DispensingDate)
	})
	return items, nil
}

// -- Sessions --

// StartSession loads the prescription, creates one line per item and looks up
// batches for every line concurrently. A failed lookup is recorded on its line
// for a manual retry; it does not fail the session.
func (s *Service) StartSession(ctx context.Context, actor Actor, prescriptionID string) (*SessionView, error) {
	if actor.ID == "" {
		return nil, validationErr("actor", "dispensing must be attributed to a user")
	}
	if strings.TrimSpace(prescriptionID) == "" {
		return nil, validationErr("prescription_id", "prescription_id is required")
	}

	p, err := s.backend.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	lines, err := LinesFromPrescription(p)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, actor, p, lines, "")
}

// StartCompletion opens a session for what a partial dispensing left owing.
// Lines ask for the remaining quantities and are edited and submitted like
// any other session.
func (s *Service) StartCompletion(ctx context.Context, actor Actor, dispensingID string) (*SessionView, error) {
	if actor.ID == "" {
		return nil, validationErr("actor", "dispensing must be attributed to a user")
	}
	if strings.TrimSpace(dispensingID) == "" {
		return nil, validationErr("id", "dispensing id is required")
	}

	prev, err := s.backend.GetDispensing(ctx, dispensingID)
	if err != nil {
		return nil, err
	}
	if prev.DispensingType == DispensingTypeFull {
		return nil, validationErr("dispensing", "dispensing %s was already dispensed in full", dispensingID)
	}
	p, err := s.backend.GetPrescription(ctx, prev.PrescriptionID)
	if err != nil {
		return nil, err
	}
	lines, err := RemainingLines(p, prev)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, actor, p, lines, prev.ID)
}

func (s *Service) openSession(ctx context.Context, actor Actor, p *Prescription, lines []*DispensingLine, completes string) (*SessionView, error) {
	sess := newSession(uuid.NewString(), p, lines, actor, s.now().UTC())
	sess.Completes = completes
	candidates := make([][]BatchCandidate, len(lines))
	lookupErrs := make([]error, len(lines))

	var wg sync.WaitGroup
	for i, line := range lines {
		wg.Add(1)
		go func(i int, line *DispensingLine) {
			defer wg.Done()
			candidates[i], lookupErrs[i] = s.alloc.Allocate(ctx, line)
		}(i, line)
	}
	wg.Wait()

	// An abandoned request leaves nothing behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, line := range lines {
		if err := lookupErrs[i]; err != nil {
			var ae *AuthorizationError
			if errors.As(err, &ae) {
				return nil, err
			}
			sess.lookupErrors[line.PrescriptionLineID] = err.Error()
			s.logger.Warn().Err(err).
				Str("prescription_id", p.ID).
				Str("medicine_id", line.MedicineID).
				Msg("batch lookup failed")
			continue
		}
		sess.candidates[line.PrescriptionLineID] = candidates[i]
		if line.Status == LineStatusOutOfStock {
			s.metrics.LineOutOfStock()
		}
	}

	s.sessions.Put(sess.ID, sess)
	s.metrics.SessionStarted()
	details := map[string]any{
		"session_id": sess.ID,
		"lines":      len(lines),
	}
	if completes != "" {
		details["completes"] = completes
	}
	s.record(ctx, actor, audittrail.ActionView, "prescription", p.ID, details)
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("prescription_id", p.ID).
		Str("completes", completes).
		Str("user_id", actor.ID).
		Int("lines", len(lines)).
		Msg("dispensing session started")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

func (s *Service) session(id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Service) GetSession(_ context.Context, id string) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// onLine runs fn on an open session's line under the session lock.
func (s *Service) onLine(sessionID, lineID string, fn func(sess *Session, line *DispensingLine) error) (*SessionView, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.requireOpen(); err != nil {
		return nil, err
	}
	line, err := sess.line(lineID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, line); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// SelectBatch overrides the automatically chosen batch with another loaded candidate.
func (s *Service) SelectBatch(_ context.Context, sessionID, lineID, batchID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, line *DispensingLine) error {
		return SelectBatchByID(line, sess.candidates[lineID], batchID)
	})
}

func (s *Service) SetQuantity(_ context.Context, sessionID, lineID string, qty int) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(_ *Session, line *DispensingLine) error {
		return SetDispensedQuantity(line, qty)
	})
}

func (s *Service) MarkOutOfStock(_ context.Context, sessionID, lineID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(_ *Session, line *DispensingLine) error {
		if err := MarkOutOfStock(line); err != nil {
			return err
		}
		s.metrics.LineOutOfStock()
		return nil
	})
}

// Reallocate reloads the batches for a line, after a failed lookup or a
// stock conflict at submission.
func (s *Service) Reallocate(ctx context.Context, sessionID, lineID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, line *DispensingLine) error {
		candidates, err := s.alloc.Allocate(ctx, line)
		if err != nil {
			sess.lookupErrors[lineID] = err.Error()
			return err
		}
		delete(sess.lookupErrors, lineID)
		sess.candidates[lineID] = candidates
		if line.Status == LineStatusOutOfStock {
			s.metrics.LineOutOfStock()
		}
		return nil
	})
}

// -- Substitution --

// BeginSubstitution opens the substitution dialog for a line and loads the
// formulary's equivalents of the prescribed medicine.
func (s *Service) BeginSubstitution(ctx context.Context, sessionID, lineID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, line *DispensingLine) error {
		if !line.SubstitutionAllowed {
			return validationErr("substitution", "prescriber did not allow substitution for %s", line.MedicineName)
		}
		if w, ok := sess.wizards[lineID]; ok && !w.Finished() {
			return validationErr("substitution", "substitution for %s is already %s", line.MedicineName, w.State)
		}
		medicineID := line.MedicineID
		if line.Substituted {
			medicineID = line.OriginalMedicineID
		}
		w := NewSubstitutionWizard(lineID)
		sess.wizards[lineID] = w
		return w.Begin(ctx, s.resolver, medicineID)
	})
}

func (s *Service) wizard(sess *Session, lineID string) (*SubstitutionWizard, error) {
	w, ok := sess.wizards[lineID]
	if !ok {
		return nil, validationErr("substitution", "no substitution in progress for line %s", lineID)
	}
	return w, nil
}

func (s *Service) ChooseSubstitute(_ context.Context, sessionID, lineID, substituteID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, _ *DispensingLine) error {
		w, err := s.wizard(sess, lineID)
		if err != nil {
			return err
		}
		return w.Choose(substituteID)
	})
}

// ConfirmSubstitution applies the chosen substitute with the pharmacist's
// reason and allocates a batch of the new medicine.
func (s *Service) ConfirmSubstitution(ctx context.Context, actor Actor, sessionID, lineID, reason string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, line *DispensingLine) error {
		w, err := s.wizard(sess, lineID)
		if err != nil {
			return err
		}
		original := line.MedicineID
		candidates, err := w.Confirm(ctx, line, reason, s.alloc)
		if w.State == WizardDone {
			s.metrics.SubstitutionApplied()
			s.record(ctx, actor, audittrail.ActionSubstitute, "prescription", sess.Prescription.ID, map[string]any{
				"line_id":    lineID,
				"from":       original,
				"to":         line.MedicineID,
				"reason":     line.SubstituteReason,
				"session_id": sess.ID,
			})
		}
		if err != nil {
			if w.State == WizardDone {
				sess.lookupErrors[lineID] = err.Error()
			}
			return err
		}
		delete(sess.lookupErrors, lineID)
		sess.candidates[lineID] = candidates
		if line.Status == LineStatusOutOfStock {
			s.metrics.LineOutOfStock()
		}
		return nil
	})
}

func (s *Service) CancelSubstitution(_ context.Context, sessionID, lineID string) (*SessionView, error) {
	return s.onLine(sessionID, lineID, func(sess *Session, _ *DispensingLine) error {
		w, err := s.wizard(sess, lineID)
		if err != nil {
			return err
		}
		return w.Cancel()
	})
}

// -- Submission --

// SubmitRequest is the pharmacist's final input for a session.
type SubmitRequest struct {
	DispensingType DispensingType
	Payment        PaymentInfo
	Remarks        string
}

// Submit builds the transaction and sends it to the backend in one request.
// On a stock conflict the session stays open so the affected lines can be
// re-allocated and the transaction resubmitted.
func (s *Service) Submit(ctx context.Context, actor Actor, sessionID string, req SubmitRequest) (*DispensingTransaction, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.requireOpen(); err != nil {
		return nil, err
	}

	tx, err := Build(BuildInput{
		Prescription:  sess.Prescription,
		Lines:         sess.Lines,
		RequestedType: req.DispensingType,
		Payment:       req.Payment,
		Actor:         actor,
		Remarks:       req.Remarks,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}

	var saved *DispensingTransaction
	if sess.Completes != "" {
		tx.CompletesID = sess.Completes
		saved, err = s.backend.CompletePartial(ctx, sess.Completes, tx)
	} else {
		saved, err = s.backend.SubmitDispensing(ctx, tx)
	}
	if err != nil {
		var sc *StockConflictError
		if errors.As(err, &sc) {
			s.metrics.StockConflict()
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("dispensing rejected: stock changed")
		}
		return nil, err
	}

	FinalizeLines(sess.Lines)
	sess.State = SessionSubmitted
	s.sessions.Delete(sess.ID)
	s.metrics.SessionsClosed(1)
	amount, _ := saved.TotalAmount.Float64()
	s.metrics.DispensingSubmitted(string(saved.DispensingType), amount)
	s.record(ctx, actor, audittrail.ActionDispense, "dispensing", saved.ID, map[string]any{
		"prescription_id": saved.PrescriptionID,
		"dispensing_type": string(saved.DispensingType),
		"total_amount":    saved.TotalAmount.StringFixed(2),
		"lines":           len(saved.Lines),
		"payment_status":  string(saved.Payment.Status),
		"completes":       sess.Completes,
	})
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("dispensing_id", saved.ID).
		Str("type", string(saved.DispensingType)).
		Str("total", saved.TotalAmount.StringFixed(2)).
		Msg("dispensing submitted")
	return saved, nil
}

// Cancel aborts the session. Nothing is sent to the backend.
func (s *Service) Cancel(ctx context.Context, actor Actor, sessionID string) (*SessionView, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.requireOpen(); err != nil {
		return nil, err
	}

	CancelLines(sess.Lines)
	sess.State = SessionCancelled
	s.sessions.Delete(sess.ID)
	s.metrics.SessionsClosed(1)
	s.record(ctx, actor, audittrail.ActionCancel, "prescription", sess.Prescription.ID, map[string]any{
		"session_id": sess.ID,
	})
	return sess.view(), nil
}

// GetTransaction fetches a submitted dispensing from the backend.
func (s *Service) GetTransaction(ctx context.Context, id string) (*DispensingTransaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationErr("id", "dispensing id is required")
	}
	return s.backend.GetDispensing(ctx, id)
}
