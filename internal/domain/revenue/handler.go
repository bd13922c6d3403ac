package revenue

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/revenue", auth.RequireRole(auth.RoleAdmin, auth.RoleBilling))
	g.GET("/summary", h.Summary)
	g.GET("/categories", h.ByCategory)
	g.GET("/departments", h.ByDepartment)
	g.GET("/trend", h.Trend)
	g.GET("/top-items", h.TopItems)
}

// rangeFrom reads from/to as RFC3339 or YYYY-MM-DD. A date-only "to" is
// inclusive of that day. Missing bounds default to the month to date.
func (h *Handler) rangeFrom(c echo.Context) (Range, error) {
	r := h.svc.DefaultRange()
	if v := c.QueryParam("from"); v != "" {
		t, _, err := parseBound(v)
		if err != nil {
			return Range{}, apperr.BadRequest("from must be RFC3339 or YYYY-MM-DD")
		}
		r.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, dateOnly, err := parseBound(v)
		if err != nil {
			return Range{}, apperr.BadRequest("to must be RFC3339 or YYYY-MM-DD")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		r.To = t
	}
	return r, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

func (h *Handler) Summary(c echo.Context) error {
	r, err := h.rangeFrom(c)
	if err != nil {
		return err
	}
	s, err := h.svc.Summary(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ByCategory(c echo.Context) error {
	r, err := h.rangeFrom(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ByCategory(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ByDepartment(c echo.Context) error {
	r, err := h.rangeFrom(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ByDepartment(c.Request().Context(), r)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Trend(c echo.Context) error {
	r, err := h.rangeFrom(c)
	if err != nil {
		return err
	}
	b, err := ParseBucket(c.QueryParam("bucket"))
	if err != nil {
		return apperr.HTTP(err)
	}
	out, err := h.svc.Trend(c.Request().Context(), r, b)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) TopItems(c echo.Context) error {
	r, err := h.rangeFrom(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	out, err := h.svc.TopItems(c.Request().Context(), r, limit)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}
