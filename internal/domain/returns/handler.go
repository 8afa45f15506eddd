package returns

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Draft and read endpoints – admin, pharmacist, supervisor
	deskGroup := api.Group("/returns", auth.RequireRole("admin", "pharmacist", "supervisor"))
	deskGroup.GET("/dispensings", h.FindDispensings)
	deskGroup.POST("/drafts", h.StartReturn)
	deskGroup.GET("/drafts/:id", h.GetDraft)
	deskGroup.PUT("/drafts/:id/lines/:lineId", h.UpdateLine)
	deskGroup.POST("/drafts/:id/submit", h.SubmitDraft)
	deskGroup.GET("/:id", h.GetReturn)

	// Refund decisions – admin, supervisor
	approveGroup := api.Group("/returns", auth.RequireRole(approverRoles...))
	approveGroup.POST("/:id/approve", h.Approve)
	approveGroup.POST("/:id/reject", h.Reject)
	approveGroup.POST("/:id/process", h.Process)
}

// -- Draft Handlers --

func (h *Handler) FindDispensings(c echo.Context) error {
	items, err := h.svc.FindDispensings(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) StartReturn(c echo.Context) error {
	var req struct {
		DispensingID string `json:"dispensing_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.StartReturn(ctx, dispensing.ActorFromContext(ctx), req.DispensingID)
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetDraft(c echo.Context) error {
	v, err := h.svc.GetDraft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateLine(c echo.Context) error {
	var req struct {
		ReturnQuantity *int              `json:"return_quantity"`
		Condition      MedicineCondition `json:"condition"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ReturnQuantity == nil && req.Condition == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "return_quantity or condition is required")
	}
	v, err := h.svc.UpdateLine(c.Request().Context(), c.Param("id"), c.Param("lineId"), LineUpdate{
		ReturnQuantity: req.ReturnQuantity,
		Condition:      req.Condition,
	})
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SubmitDraft(c echo.Context) error {
	var req struct {
		Reason        ReturnReason `json:"reason"`
		ReasonDetails string       `json:"reason_details"`
		Remarks       string       `json:"remarks"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.SubmitDraft(ctx, dispensing.ActorFromContext(ctx), c.Param("id"), SubmitRequest{
		Reason:        req.Reason,
		ReasonDetails: req.ReasonDetails,
		Remarks:       req.Remarks,
	})
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// -- Refund Handlers --

func (h *Handler) GetReturn(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Approve(c echo.Context) error {
	ctx := c.Request().Context()
	rec, err := h.svc.Approve(ctx, dispensing.ActorFromContext(ctx), c.Param("id"))
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Reject(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Reject(ctx, dispensing.ActorFromContext(ctx), c.Param("id"), req.Reason)
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Process(c echo.Context) error {
	ctx := c.Request().Context()
	rec, err := h.svc.Process(ctx, dispensing.ActorFromContext(ctx), c.Param("id"))
	if err != nil {
		return dispensing.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
