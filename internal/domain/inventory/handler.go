package inventory

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxsafe/rxsafe/internal/domain/prescription"
	"github.com/rxsafe/rxsafe/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	readGroup.GET("/inventory/:drugCode/lots", h.ListLots)
	readGroup.GET("/prescriptions/:id/dispensing", h.RefillHistory)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/inventory/lots", h.ReceiveLot)
	writeGroup.POST("/prescriptions/:id/dispense", h.Dispense)
}

func (h *Handler) ReceiveLot(c echo.Context) error {
	var l InventoryLot
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ReceiveLot(c.Request().Context(), &l); err != nil {
		if errors.Is(err, ErrDuplicateLot) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLots(c echo.Context) error {
	items, err := h.svc.ListLots(c.Request().Context(), c.Param("drugCode"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RefillHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	items, err := h.svc.RefillHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	pharmacistID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing actor identity")
	}
	var req DispenseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PrescriptionID = id
	req.PharmacistID = pharmacistID

	rec, err := h.svc.Dispense(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, prescription.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		case errors.Is(err, ErrPrescriptionNotVerified),
			errors.Is(err, ErrQuantityExceedsAuthorization),
			errors.Is(err, ErrInsufficientInventory):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrConcurrentUpdate):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, rec)
}
