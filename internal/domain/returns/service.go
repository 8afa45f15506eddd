package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/platform/audittrail"
	"github.com/ehr/dispensing-desk/internal/platform/metrics"
	"github.com/ehr/dispensing-desk/internal/platform/workspace"
)

// approverRoles may approve, reject and process refunds.
var approverRoles = []string{"admin", "supervisor"}

type Service struct {
	backend Backend
	drafts  *workspace.Store[*Draft]
	audit   audittrail.Recorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(backend Backend, drafts *workspace.Store[*Draft], logger zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		drafts:  drafts,
		logger:  logger.With().Str("component", "returns").Logger(),
		now:     time.Now,
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

func (s *Service) record(ctx context.Context, actor dispensing.Actor, action audittrail.Action, severity audittrail.Severity, id string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audittrail.Entry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		UserRole:   strings.Join(actor.Roles, ","),
		Action:     action,
		EntityType: "return",
		EntityID:   id,
		Details:    details,
		Severity:   severity,
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("action", string(action)).Str("return_id", id).Msg("audit record failed")
	}
}

func hasRole(actor dispensing.Actor, roles ...string) bool {
	for _, have := range actor.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// -- Drafts --

const (
	lookupMinTerm  = 3
	lookupPageSize = 10
)

// FindDispensings looks up submitted dispensings by prescription number or
// patient so a return can be started from one. Terms shorter than three
// characters match nothing.
func (s *Service) FindDispensings(ctx context.Context, term string) ([]dispensing.HistoryEntry, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < lookupMinTerm {
		return []dispensing.HistoryEntry{}, nil
	}
	page, err := s.backend.SearchDispensings(ctx, dispensing.HistoryFilter{
		SearchTerm: term,
		Page:       1,
		PageSize:   lookupPageSize,
	})
	if err != nil {
		return nil, err
	}
	if page.Entries == nil {
		return []dispensing.HistoryEntry{}, nil
	}
	return page.Entries, nil
}

// StartReturn loads a submitted dispensing and opens a draft with one line
// per dispensed medicine.
func (s *Service) StartReturn(ctx context.Context, actor dispensing.Actor, dispensingID string) (*DraftView, error) {
	if actor.ID == "" {
		return nil, validationErr("actor", "return must be attributed to a user")
	}
	if strings.TrimSpace(dispensingID) == "" {
		return nil, validationErr("dispensing_id", "dispensing_id is required")
	}
	tx, err := s.backend.GetDispensing(ctx, dispensingID)
	if err != nil {
		return nil, err
	}
	lines := InitReturnLines(tx)
	if len(lines) == 0 {
		return nil, validationErr("dispensing_id", "dispensing %s has nothing to return", dispensingID)
	}

	d := &Draft{
		ID:          uuid.NewString(),
		Transaction: tx,
		Lines:       lines,
		StartedBy:   actor,
		StartedAt:   s.now().UTC(),
	}
	s.drafts.Put(d.ID, d)
	s.logger.Info().
		Str("draft_id", d.ID).
		Str("dispensing_id", tx.ID).
		Str("user_id", actor.ID).
		Msg("return draft started")

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view(), nil
}

func (s *Service) draft(id string) (*Draft, error) {
	d, ok := s.drafts.Get(id)
	if !ok {
		return nil, dispensing.ErrNotFound
	}
	return d, nil
}

func (s *Service) GetDraft(_ context.Context, id string) (*DraftView, error) {
	d, err := s.draft(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view(), nil
}

// LineUpdate changes the quantity, the condition, or both, of a draft line.
type LineUpdate struct {
	ReturnQuantity *int
	Condition      MedicineCondition
}

func (s *Service) UpdateLine(_ context.Context, draftID, lineID string, u LineUpdate) (*DraftView, error) {
	d, err := s.draft(draftID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return nil, validationErr("draft", "return already submitted")
	}
	l, err := d.line(lineID)
	if err != nil {
		return nil, err
	}
	if u.Condition != "" {
		if !u.Condition.Valid() {
			return nil, validationErr("condition", "invalid condition: %s", u.Condition)
		}
		SetCondition(l, u.Condition)
	}
	if u.ReturnQuantity != nil {
		SetReturnQuantity(l, *u.ReturnQuantity)
	}
	return d.view(), nil
}

// SubmitRequest is the return reason entered when submitting a draft.
type SubmitRequest struct {
	Reason        ReturnReason
	ReasonDetails string
	Remarks       string
}

// SubmitDraft sends the return to the backend with refund status Pending.
// A failed submission keeps the draft for another attempt.
func (s *Service) SubmitDraft(ctx context.Context, actor dispensing.Actor, draftID string, req SubmitRequest) (*ReturnRecord, error) {
	d, err := s.draft(draftID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return nil, validationErr("draft", "return already submitted")
	}

	rec, err := Submit(SubmitInput{
		Transaction:   d.Transaction,
		Lines:         d.Lines,
		Reason:        req.Reason,
		ReasonDetails: req.ReasonDetails,
		Remarks:       req.Remarks,
		Actor:         actor,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}
	saved, err := s.backend.SubmitReturn(ctx, rec)
	if err != nil {
		return nil, err
	}
	if saved.RefundStatus != RefundPending {
		s.logger.Error().
			Str("return_id", saved.ID).
			Str("refund_status", string(saved.RefundStatus)).
			Str("draft_id", d.ID).
			Msg("backend stored return with unexpected refund status")
		return nil, fmt.Errorf("submit return: backend stored refund status %q, want %q", saved.RefundStatus, RefundPending)
	}

	d.submitted = true
	s.drafts.Delete(d.ID)
	s.metrics.ReturnTransition(string(RefundPending))
	amount, _ := saved.TotalRefundAmount.Float64()
	s.metrics.RefundSubmitted(amount)
	s.record(ctx, actor, audittrail.ActionReturn, audittrail.SeverityInfo, saved.ID, map[string]any{
		"dispensing_id": saved.DispensingID,
		"reason":        string(saved.Reason),
		"refund_amount": saved.TotalRefundAmount.StringFixed(2),
		"lines":         len(saved.Lines),
	})
	s.logger.Info().
		Str("return_id", saved.ID).
		Str("dispensing_id", saved.DispensingID).
		Str("refund", saved.TotalRefundAmount.StringFixed(2)).
		Msg("return submitted")
	return saved, nil
}

// -- Refunds --

func (s *Service) Get(ctx context.Context, id string) (*ReturnRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationErr("id", "return id is required")
	}
	return s.backend.GetReturn(ctx, id)
}

// transition checks the actor and the refund state machine against the
// current record before asking the backend to move it to next.
func (s *Service) transition(ctx context.Context, actor dispensing.Actor, id string, next RefundStatus, call func() (*ReturnRecord, error)) (*ReturnRecord, error) {
	if !hasRole(actor, approverRoles...) {
		return nil, &dispensing.AuthorizationError{Op: "refund " + strings.ToLower(string(next)), Message: "supervisor role required"}
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.RefundStatus.CanTransition(next) {
		return nil, validationErr("refund_status", "cannot move refund from %s to %s", cur.RefundStatus, next)
	}
	rec, err := call()
	if err != nil {
		return nil, err
	}
	s.metrics.ReturnTransition(string(next))
	return rec, nil
}

func (s *Service) Approve(ctx context.Context, actor dispensing.Actor, id string) (*ReturnRecord, error) {
	rec, err := s.transition(ctx, actor, id, RefundApproved, func() (*ReturnRecord, error) {
		return s.backend.ApproveReturn(ctx, id, actor.ID)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audittrail.ActionApprove, audittrail.SeverityWarning, id, map[string]any{
		"refund_amount": rec.TotalRefundAmount.StringFixed(2),
	})
	return rec, nil
}

func (s *Service) Reject(ctx context.Context, actor dispensing.Actor, id, reason string) (*ReturnRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationErr("reason", "a rejection reason is required")
	}
	rec, err := s.transition(ctx, actor, id, RefundRejected, func() (*ReturnRecord, error) {
		return s.backend.RejectReturn(ctx, id, actor.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audittrail.ActionReject, audittrail.SeverityWarning, id, map[string]any{
		"reason": reason,
	})
	return rec, nil
}

func (s *Service) Process(ctx context.Context, actor dispensing.Actor, id string) (*ReturnRecord, error) {
	rec, err := s.transition(ctx, actor, id, RefundProcessed, func() (*ReturnRecord, error) {
		return s.backend.ProcessReturn(ctx, id, actor.ID)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audittrail.ActionProcess, audittrail.SeverityCritical, id, map[string]any{
		"refund_amount": rec.TotalRefundAmount.StringFixed(2),
	})
	s.logger.Info().
		Str("return_id", id).
		Str("processed_by", actor.ID).
		Str("refund", rec.TotalRefundAmount.StringFixed(2)).
		Msg("refund processed")
	return rec, nil
}
