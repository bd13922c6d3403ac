package tariff

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/tariffs", h.List)
	api.GET("/tariffs/:code", h.Get)
	api.GET("/tariffs/:code/history", h.History)

	api.POST("/tariffs", h.SetPrice, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListCurrent(c.Request().Context(), c.QueryParam("category"), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

// Get returns the price effective now, or at ?at= (RFC 3339).
func (h *Handler) Get(c echo.Context) error {
	at := time.Now()
	if raw := c.QueryParam("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperr.BadRequest("at must be an RFC 3339 timestamp")
		}
		at = parsed
	}
	item, err := h.svc.Lookup(c.Request().Context(), c.Param("code"), at)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) History(c echo.Context) error {
	items, err := h.svc.History(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetPrice(c echo.Context) error {
	var in SetPriceInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := c.Validate(&in); err != nil {
		return apperr.BadRequest(err.Error())
	}
	item, err := h.svc.SetPrice(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, item)
}
