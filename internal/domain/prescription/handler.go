package prescription

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxsafe/rxsafe/internal/domain/cds"
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
	readGroup.GET("/prescriptions", h.List)
	readGroup.GET("/prescriptions/:id", h.GetByID)
	readGroup.GET("/patients/:patientId/prescriptions", h.ListByPatient)

	prescribeGroup := api.Group("", auth.RequireRole("admin", "physician"))
	prescribeGroup.POST("/prescriptions", h.Create)
	prescribeGroup.POST("/prescriptions/:id/cancel", h.Cancel)

	pharmacyGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	pharmacyGroup.POST("/prescriptions/:id/verify", h.Verify)
	pharmacyGroup.POST("/prescriptions/:id/pickup", h.ConfirmPickup)
	pharmacyGroup.POST("/prescriptions/expire-sweep", h.ExpireSweep)
}

type createResponse struct {
	Prescription *Prescription        `json:"prescription"`
	Alerts       []*cds.ClinicalAlert `json:"alerts"`
}

func (h *Handler) Create(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, alerts, err := h.svc.Create(c.Request().Context(), &p)
	if err != nil {
		if errors.Is(err, ErrDrugNotPrescribable) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, createResponse{Prescription: created, Alerts: alerts})
}

func (h *Handler) GetByID(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// Fall back to lookup by the human-readable number.
		p, rxErr := h.svc.GetByRxNumber(c.Request().Context(), c.Param("id"))
		if rxErr != nil {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return c.JSON(http.StatusOK, p)
	}
	p, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Limit, params.Offset))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pharmacistID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing actor identity")
	}
	p, err := h.svc.Verify(c.Request().Context(), id, pharmacistID)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ConfirmPickup(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.ConfirmPickup(c.Request().Context(), id)
	if err != nil {
		return lifecycleError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ExpireSweep(c echo.Context) error {
	n, err := h.svc.ExpirePending(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func lifecycleError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnacknowledgedCriticalAlert):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
