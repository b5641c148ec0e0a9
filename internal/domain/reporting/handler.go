package reporting

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rxsafe/rxsafe/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	group := api.Group("", auth.RequireRole("admin", "pharmacist"))
	group.GET("/reports/summary", h.Summary)
	group.POST("/inventory/expiry-sweep", h.ExpirySweep)
}

func (h *Handler) Summary(c echo.Context) error {
	from, err := parseTimeParam(c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	}
	to, err := parseTimeParam(c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	}
	snap, err := h.svc.BuildSnapshot(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ExpirySweep(c echo.Context) error {
	lots, err := h.svc.ExpirySweep(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lots)
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Date-only form is accepted too.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
