package audittrail

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dispensing-desk/internal/platform/auth"
	"github.com/ehr/dispensing-desk/pkg/pagination"
)

// Lister reads audit entries back.
type Lister interface {
	List(ctx context.Context, f Filter) ([]*Entry, int, error)
}

type Handler struct {
	store Lister
}

func NewHandler(store Lister) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "supervisor"))
	g.GET("/audit-logs", h.List)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		UserID:     c.QueryParam("user_id"),
		Action:     Action(c.QueryParam("action")),
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC3339 time")
		}
		*dst = t
	}

	items, total, err := h.store.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit logs")
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
