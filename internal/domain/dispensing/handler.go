package dispensing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispensing-desk/internal/platform/auth"
	"github.com/ehr/dispensing-desk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, pharmacist, supervisor
	readGroup := api.Group("/dispensing", auth.RequireRole("admin", "pharmacist", "supervisor"))
	readGroup.GET("/queue", h.Queue)
	readGroup.GET("/queue/statistics", h.QueueStatistics)
	readGroup.GET("/history", h.SearchHistory)
	readGroup.GET("/pending-partial", h.PendingPartial)
	readGroup.GET("/sessions/:id", h.GetSession)
	readGroup.GET("/transactions/:id", h.GetTransaction)

	// Write endpoints – admin, pharmacist
	writeGroup := api.Group("/dispensing", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/queue/:id/hold", h.HoldQueueEntry)
	writeGroup.POST("/queue/:id/resume", h.ResumeQueueEntry)
	writeGroup.POST("/transactions/:id/complete", h.StartCompletion)
	writeGroup.POST("/sessions", h.StartSession)
	writeGroup.DELETE("/sessions/:id", h.CancelSession)
	writeGroup.POST("/sessions/:id/submit", h.Submit)
	writeGroup.PUT("/sessions/:id/lines/:lineId/batch", h.SelectBatch)
	writeGroup.PUT("/sessions/:id/lines/:lineId/quantity", h.SetQuantity)
	writeGroup.POST("/sessions/:id/lines/:lineId/out-of-stock", h.MarkOutOfStock)
	writeGroup.POST("/sessions/:id/lines/:lineId/reallocate", h.Reallocate)
	writeGroup.POST("/sessions/:id/lines/:lineId/substitution", h.BeginSubstitution)
	writeGroup.PUT("/sessions/:id/lines/:lineId/substitution/choice", h.ChooseSubstitute)
	writeGroup.POST("/sessions/:id/lines/:lineId/substitution/confirm", h.ConfirmSubstitution)
	writeGroup.DELETE("/sessions/:id/lines/:lineId/substitution", h.CancelSubstitution)
}

// ActorFromContext returns the authenticated user as an Actor.
func ActorFromContext(ctx context.Context) Actor {
	id := auth.IdentityFromContext(ctx)
	return Actor{ID: id.ID, Name: id.Name, Roles: id.Roles}
}

// HTTPError converts a workflow error into the desk's HTTP response.
func HTTPError(err error) error {
	var (
		ve *ValidationError
		sc *StockConflictError
		ae *AuthorizationError
		te *TransientNetworkError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
	case errors.As(err, &sc):
		return echo.NewHTTPError(http.StatusConflict, map[string]any{
			"message":           sc.Error(),
			"unavailable_items": sc.Items,
		})
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusForbidden, ae.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoSubstitutes):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &te):
		return echo.NewHTTPError(http.StatusServiceUnavailable, te.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Queue Handlers --

func (h *Handler) Queue(c echo.Context) error {
	entries, err := h.svc.Queue(c.Request().Context(), QueueFilter{
		Status:   QueueStatus(c.QueryParam("status")),
		Priority: QueuePriority(c.QueryParam("priority")),
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) QueueStatistics(c echo.Context) error {
	stats, err := h.svc.QueueStatistics(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type queueNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) HoldQueueEntry(c echo.Context) error {
	var req queueNotesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	entry, err := h.svc.HoldQueueEntry(ctx, ActorFromContext(ctx), c.Param("id"), req.Notes)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) ResumeQueueEntry(c echo.Context) error {
	var req queueNotesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	entry, err := h.svc.ResumeQueueEntry(ctx, ActorFromContext(ctx), c.Param("id"), req.Notes)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// -- History Handlers --

// SearchHistory accepts from/to as RFC 3339 times or bare dates, and
// page/page_size or limit/offset.
func (h *Handler) SearchHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := HistoryFilter{
		PatientID:      c.QueryParam("patient_id"),
		DispensedBy:    c.QueryParam("dispensed_by"),
		DispensingType: DispensingType(c.QueryParam("dispensing_type")),
		SearchTerm:     c.QueryParam("q"),
		Page:           pg.Offset/pg.Limit + 1,
		PageSize:       pg.Limit,
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := parseQueryTime(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC3339 time or date")
		}
		*dst = t
	}

	page, err := h.svc.SearchHistory(c.Request().Context(), f)
	if err != nil {
		return HTTPError(err)
	}
	offset := (page.Page - 1) * page.PageSize
	return c.JSON(http.StatusOK, pagination.NewResponse(page.Entries, page.Total, page.PageSize, offset))
}

func parseQueryTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (h *Handler) PendingPartial(c echo.Context) error {
	items, err := h.svc.PendingPartial(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	if items == nil {
		items = []PendingPartial{}
	}
	return c.JSON(http.StatusOK, items)
}

// StartCompletion opens a session for the remainder of a partial dispensing.
func (h *Handler) StartCompletion(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.StartCompletion(ctx, ActorFromContext(ctx), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	tx, err := h.svc.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, tx)
}

// -- Session Handlers --

func (h *Handler) StartSession(c echo.Context) error {
	var req struct {
		PrescriptionID string `json:"prescription_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.StartSession(ctx, ActorFromContext(ctx), req.PrescriptionID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetSession(c echo.Context) error {
	v, err := h.svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelSession(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.Cancel(ctx, ActorFromContext(ctx), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Submit(c echo.Context) error {
	var req struct {
		DispensingType   DispensingType `json:"dispensing_type"`
		PaymentStatus    PaymentStatus  `json:"payment_status"`
		PaymentMethod    PaymentMethod  `json:"payment_method"`
		PaymentReference string         `json:"payment_reference"`
		Remarks          string         `json:"remarks"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	tx, err := h.svc.Submit(ctx, ActorFromContext(ctx), c.Param("id"), SubmitRequest{
		DispensingType: req.DispensingType,
		Payment: PaymentInfo{
			Status:    req.PaymentStatus,
			Method:    req.PaymentMethod,
			Reference: req.PaymentReference,
		},
		Remarks: req.Remarks,
	})
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, tx)
}

// -- Line Handlers --

func (h *Handler) SelectBatch(c echo.Context) error {
	var req struct {
		BatchID string `json:"batch_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SelectBatch(c.Request().Context(), c.Param("id"), c.Param("lineId"), req.BatchID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetQuantity(c echo.Context) error {
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity is required")
	}
	v, err := h.svc.SetQuantity(c.Request().Context(), c.Param("id"), c.Param("lineId"), *req.Quantity)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) MarkOutOfStock(c echo.Context) error {
	v, err := h.svc.MarkOutOfStock(c.Request().Context(), c.Param("id"), c.Param("lineId"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Reallocate(c echo.Context) error {
	v, err := h.svc.Reallocate(c.Request().Context(), c.Param("id"), c.Param("lineId"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Substitution Handlers --

func (h *Handler) BeginSubstitution(c echo.Context) error {
	v, err := h.svc.BeginSubstitution(c.Request().Context(), c.Param("id"), c.Param("lineId"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ChooseSubstitute(c echo.Context) error {
	var req struct {
		SubstituteID string `json:"substitute_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.ChooseSubstitute(c.Request().Context(), c.Param("id"), c.Param("lineId"), req.SubstituteID)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ConfirmSubstitution(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.ConfirmSubstitution(ctx, ActorFromContext(ctx), c.Param("id"), c.Param("lineId"), req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelSubstitution(c echo.Context) error {
	v, err := h.svc.CancelSubstitution(c.Request().Context(), c.Param("id"), c.Param("lineId"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
