package returns

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/platform/auth"
)

func requestAs(method, body string, id auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), id))
}

var (
	pharmacistID = auth.Identity{ID: "ph-1", Roles: []string{"pharmacist"}}
	supervisorID = auth.Identity{ID: "sup-1", Roles: []string{"supervisor"}}
)

func TestHandler_DraftFlow(t *testing.T) {
	d := newTestService()
	h := NewHandler(d.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(requestAs(http.MethodPost, `{"dispensing_id":"disp-1"}`, pharmacistID), rec)
	if err := h.StartReturn(c); err != nil {
		t.Fatalf("start: %v", err)
	}
	var draft DraftView
	json.Unmarshal(rec.Body.Bytes(), &draft)
	if len(draft.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(draft.Lines))
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(requestAs(http.MethodPut, `{"return_quantity":4,"condition":"Opened but Unused"}`, pharmacistID), rec)
	c.SetParamNames("id", "lineId")
	c.SetParamValues(draft.ID, "l1")
	if err := h.UpdateLine(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	json.Unmarshal(rec.Body.Bytes(), &draft)
	if draft.TotalRefundAmount.StringFixed(2) != "5.00" {
		t.Errorf("expected 5.00, got %s", draft.TotalRefundAmount)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(requestAs(http.MethodPost, `{"reason":"Adverse Reaction"}`, pharmacistID), rec)
	c.SetParamNames("id")
	c.SetParamValues(draft.ID)
	if err := h.SubmitDraft(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got ReturnRecord
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.RefundStatus != RefundPending || got.RequestedBy != "ph-1" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestHandler_UpdateLine_EmptyBody(t *testing.T) {
	d := newTestService()
	h := NewHandler(d.svc)
	e := echo.New()
	c := e.NewContext(requestAs(http.MethodPut, `{}`, pharmacistID), httptest.NewRecorder())
	c.SetParamNames("id", "lineId")
	c.SetParamValues("x", "l1")
	err := h.UpdateLine(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ApproveRoutes(t *testing.T) {
	d := newTestService()
	rec := submitScenarioD(t, d)
	e := echo.New()
	NewHandler(d.svc).RegisterRoutes(e.Group("/api/v1"))

	req := requestAs(http.MethodPost, "", pharmacistID)
	req.URL.Path = "/api/v1/returns/" + rec.ID + "/approve"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for pharmacist, got %d", w.Code)
	}

	req = requestAs(http.MethodPost, "", supervisorID)
	req.URL.Path = "/api/v1/returns/" + rec.ID + "/approve"
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = requestAs(http.MethodPost, "", supervisorID)
	req.URL.Path = "/api/v1/returns/" + rec.ID + "/approve"
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 approving twice, got %d", w.Code)
	}
}

func TestHandler_FindDispensings(t *testing.T) {
	d := newTestService()
	d.backend.history = []dispensing.HistoryEntry{{ID: "disp-1", PatientName: "Asha Rao"}}
	e := echo.New()
	NewHandler(d.svc).RegisterRoutes(e.Group("/api/v1"))

	req := requestAs(http.MethodGet, "", pharmacistID)
	req.URL.Path = "/api/v1/returns/dispensings"
	req.URL.RawQuery = "q=Asha"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got []dispensing.HistoryEntry
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "disp-1" {
		t.Errorf("unexpected results: %+v", got)
	}
}
