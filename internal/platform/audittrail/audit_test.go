package audittrail

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type fakeQuerier struct {
	sql  string
	args []any
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql = sql
	q.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (q *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

func TestPGStore_RecordFillsDefaults(t *testing.T) {
	q := &fakeQuerier{}
	s := NewPGStore(q)
	e := &Entry{UserID: "u-1", Action: ActionDispense, EntityType: "dispensing", EntityID: "d-1",
		Details: map[string]any{"total": "42.00"}}

	ctx := WithRequestID(context.Background(), "req-42")
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Error("expected id to be generated")
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if e.Module != ModulePharmacy || e.Severity != SeverityInfo {
		t.Errorf("expected PHARMACY/INFO defaults, got %s/%s", e.Module, e.Severity)
	}
	if e.RequestID != "req-42" {
		t.Errorf("expected request id from context, got %q", e.RequestID)
	}
	if !strings.Contains(q.sql, "INSERT INTO audit_log") {
		t.Errorf("unexpected sql: %s", q.sql)
	}
	if len(q.args) != 12 {
		t.Fatalf("expected 12 args, got %d", len(q.args))
	}
	if got, ok := q.args[8].([]byte); !ok || !bytes.Contains(got, []byte(`"total":"42.00"`)) {
		t.Errorf("expected encoded details, got %v", q.args[8])
	}
}

func TestWhereClause(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		f        Filter
		wantSQL  string
		wantArgs int
	}{
		{"empty", Filter{}, "", 0},
		{"action only", Filter{Action: ActionReturn}, " WHERE action = $1", 1},
		{
			"user entity and from",
			Filter{UserID: "u-1", EntityID: "r-9", From: from},
			" WHERE user_id = $1 AND entity_id = $2 AND created_at >= $3",
			3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := whereClause(tt.f)
			if sql != tt.wantSQL {
				t.Errorf("expected %q, got %q", tt.wantSQL, sql)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("expected %d args, got %d", tt.wantArgs, len(args))
			}
		})
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := LogRecorder{Logger: zerolog.New(&buf)}
	if err := r.Record(context.Background(), &Entry{UserID: "u-1", Action: ActionApprove, EntityID: "r-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line: %v", err)
	}
	if line["action"] != "APPROVE" || line["entity_id"] != "r-1" {
		t.Errorf("unexpected log line: %v", line)
	}
}

type fakeLister struct {
	got     Filter
	entries []*Entry
}

func (l *fakeLister) List(_ context.Context, f Filter) ([]*Entry, int, error) {
	l.got = f
	return l.entries, len(l.entries), nil
}

func TestHandler_List(t *testing.T) {
	l := &fakeLister{entries: []*Entry{{UserID: "u-1", Action: ActionDispense}}}
	h := NewHandler(l)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/audit-logs?action=DISPENSE&from=2024-01-01T00:00:00Z&limit=5", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if l.got.Action != ActionDispense || l.got.Limit != 5 || l.got.From.IsZero() {
		t.Errorf("unexpected filter: %+v", l.got)
	}
}

func TestHandler_ListBadTime(t *testing.T) {
	h := NewHandler(&fakeLister{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/audit-logs?to=yesterday", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
