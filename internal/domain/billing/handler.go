package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/pkg/pagination"
)

type Handler struct {
	ledger   *Ledger
	payments *PaymentProcessor
}

func NewHandler(ledger *Ledger, payments *PaymentProcessor) *Handler {
	return &Handler{ledger: ledger, payments: payments}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/charges", h.PostCharge, auth.RequireRole(auth.RoleClinician, auth.RoleBilling))

	// Read endpoints – billing, cashier
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	read.GET("/bills", h.SearchBills)
	read.GET("/bills/:id", h.GetBill)
	read.GET("/bills/number/:number", h.GetBillByNumber)
	read.GET("/bills/:id/payments", h.ListPayments)
	read.GET("/patients/:id/bills/summary", h.PatientSummary)

	// Ledger writes – billing
	write := api.Group("", auth.RequireRole(auth.RoleBilling))
	write.POST("/bills", h.CreateBill)
	write.POST("/bills/:id/items", h.AddItem)
	write.POST("/bills/:id/discount", h.ApplyDiscount)
	write.POST("/bills/:id/finalize", h.Finalize)
	write.POST("/bills/:id/cancel", h.Cancel)

	api.POST("/bills/:id/payments", h.RecordPayment, auth.RequireRole(auth.RoleCashier))
}

type createBillRequest struct {
	EncounterID uuid.UUID `json:"encounter_id" validate:"required"`
	PatientID   uuid.UUID `json:"patient_id" validate:"required"`
}

type addItemRequest struct {
	ItemCode string `json:"item_code" validate:"required,max=32"`
	Quantity int    `json:"quantity"`
}

type chargeRequest struct {
	EncounterID uuid.UUID `json:"encounter_id" validate:"required"`
	PatientID   uuid.UUID `json:"patient_id" validate:"required"`
	ItemCode    string    `json:"item_code" validate:"required,max=32"`
	Quantity    int       `json:"quantity"`
}

type discountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Mode      string          `json:"mode" validate:"required"`
	Reference string          `json:"reference" validate:"max=64"`
}

type paymentResponse struct {
	Payment *Payment `json:"payment"`
	Bill    *Bill    `json:"bill"`
}

type chargeResponse struct {
	Bill *Bill     `json:"bill"`
	Item *BillItem `json:"item"`
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := c.Validate(v); err != nil {
		return apperr.BadRequest(err.Error())
	}
	return nil
}

func billID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req createBillRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, err := h.ledger.CreateBill(c.Request().Context(), req.EncounterID, req.PatientID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) PostCharge(c echo.Context) error {
	var req chargeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, item, err := h.ledger.PostCharge(c.Request().Context(), req.EncounterID, req.PatientID, req.ItemCode, req.Quantity)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, chargeResponse{Bill: b, Item: item})
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	b, err := h.ledger.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBillByNumber(c echo.Context) error {
	b, err := h.ledger.GetBillByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SearchBills(c echo.Context) error {
	var f BillFilter
	if s := c.QueryParam("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			return apperr.BadRequest(err.Error())
		}
		f.Status = st
	}
	for param, dst := range map[string]**uuid.UUID{"encounter_id": &f.EncounterID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return apperr.BadRequest("invalid " + param)
			}
			*dst = &id
		}
	}

	p := pagination.FromContext(c)
	bills, total, err := h.ledger.SearchBills(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) PatientSummary(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	s, err := h.ledger.PatientSummary(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req addItemRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	item, err := h.ledger.AddItem(c.Request().Context(), id, req.ItemCode, req.Quantity)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) ApplyDiscount(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req discountRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	b, err := h.ledger.ApplyDiscount(c.Request().Context(), id, req.Amount)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	b, err := h.ledger.Finalize(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	b, err := h.ledger.Cancel(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	mode, err := ParsePaymentMode(req.Mode)
	if err != nil {
		return apperr.HTTP(err)
	}
	if !mode.CounterMode() {
		return apperr.HTTP(ErrInvalidPaymentMode)
	}

	ctx := c.Request().Context()
	pay, err := h.payments.RecordPayment(ctx, id, req.Amount, mode, auth.UserIDFromContext(ctx), req.Reference)
	if err != nil {
		return apperr.HTTP(err)
	}
	b, err := h.ledger.GetBill(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, paymentResponse{Payment: pay, Bill: b})
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	payments, err := h.payments.ListPayments(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return c.JSON(http.StatusOK, payments)
}
