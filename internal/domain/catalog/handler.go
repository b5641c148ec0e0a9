package catalog

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rxsafe/rxsafe/internal/platform/auth"
	"github.com/rxsafe/rxsafe/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	readGroup.GET("/drugs", h.ListDrugs)
	readGroup.GET("/drugs/search", h.SearchDrugs)
	readGroup.GET("/drugs/:code", h.GetDrug)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/drugs", h.AddDrug)
	writeGroup.DELETE("/drugs/:code", h.DeactivateDrug)
}

func (h *Handler) AddDrug(c echo.Context) error {
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddDrug(c.Request().Context(), &d); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	d, err := h.svc.GetDrug(c.Request().Context(), c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "drug not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SearchDrugs(c echo.Context) error {
	activeOnly := c.QueryParam("active_only") != "false"
	items, err := h.svc.SearchDrugs(c.Request().Context(), c.QueryParam("q"), activeOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDrugs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeactivateDrug(c echo.Context) error {
	if err := h.svc.DeactivateDrug(c.Request().Context(), c.Param("code")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "drug not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
