// Package audittrail records who did what at the pharmacy desk.
package audittrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Action string

const (
	ActionView       Action = "VIEW"
	ActionDispense   Action = "DISPENSE"
	ActionSubstitute Action = "SUBSTITUTE"
	ActionCancel     Action = "CANCEL"
	ActionReturn     Action = "RETURN"
	ActionApprove    Action = "APPROVE"
	ActionReject     Action = "REJECT"
	ActionProcess    Action = "PROCESS"
	ActionHold       Action = "HOLD"
	ActionResume     Action = "RESUME"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ModulePharmacy is the module every desk entry is filed under.
const ModulePharmacy = "PHARMACY"

// Entry is one audit_log row.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	UserID     string         `json:"user_id"`
	UserName   string         `json:"user_name,omitempty"`
	UserRole   string         `json:"user_role,omitempty"`
	Action     Action         `json:"action"`
	Module     string         `json:"module"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	Severity   Severity       `json:"severity"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	UserID     string
	Action     Action
	EntityType string
	EntityID   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Querier is the subset of pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore writes and reads the audit_log table.
type PGStore struct {
	db Querier
}

func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Record(ctx context.Context, e *Entry) error {
	prepare(ctx, e)
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit: encode details: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_log (
			id, user_id, user_name, user_role, action, module,
			entity_type, entity_id, details, severity, request_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.UserID, e.UserName, e.UserRole, string(e.Action), e.Module,
		e.EntityType, e.EntityID, details, string(e.Severity), e.RequestID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so entries recorded under it carry the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func prepare(ctx context.Context, e *Entry) {
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Module == "" {
		e.Module = ModulePharmacy
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
}

// whereClause renders the filter as SQL conditions with positional args.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of entries, newest first, and the total match count.
func (s *PGStore) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	where, args := whereClause(f)

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}

	query := `SELECT id, user_id, user_name, user_role, action, module,
		entity_type, entity_id, details, severity, request_id, created_at
		FROM audit_log` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var action, severity string
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserName, &e.UserRole, &action, &e.Module,
			&e.EntityType, &e.EntityID, &details, &severity, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan: %w", err)
		}
		e.Action = Action(action)
		e.Severity = Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: iterate: %w", err)
	}
	return out, total, nil
}
