package cds

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	readGroup.GET("/interactions", h.ListInteractions)
	readGroup.GET("/prescriptions/:id/alerts", h.ListAlerts)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/interactions", h.AddInteraction)
	writeGroup.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
}

func (h *Handler) AddInteraction(c echo.Context) error {
	var i DrugInteraction
	if err := c.Bind(&i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddInteraction(c.Request().Context(), &i); err != nil {
		if errors.Is(err, ErrDuplicateInteraction) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, i)
}

func (h *Handler) ListInteractions(c echo.Context) error {
	params := pagination.FromContext(c)
	items, total, err := h.svc.ListInteractions(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Limit, params.Offset))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	prescriptionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	items, err := h.svc.ListAlerts(c.Request().Context(), prescriptionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	actorID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing actor identity")
	}
	var body struct {
		OverrideReason *string `json:"override_reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AcknowledgeAlert(c.Request().Context(), alertID, actorID, body.OverrideReason)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlertNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAlreadyAcknowledged):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, a)
}
