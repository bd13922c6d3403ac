package insurance

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/pkg/pagination"
)

type Handler struct {
	policies *PolicyStore
	preauths *PreAuthWorkflow
	claims   *ClaimWorkflow
}

func NewHandler(policies *PolicyStore, preauths *PreAuthWorkflow, claims *ClaimWorkflow) *Handler {
	return &Handler{policies: policies, preauths: preauths, claims: claims}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/policies/options", h.Options)

	// Desk – billing
	desk := api.Group("", auth.RequireRole(auth.RoleBilling))
	desk.POST("/policies", h.CreatePolicy)
	desk.GET("/policies/:id", h.GetPolicy)
	desk.GET("/patients/:id/policies", h.ListPolicies)
	desk.GET("/patients/:id/policies/active", h.ActivePolicies)
	desk.POST("/preauths", h.RequestPreAuth)
	desk.POST("/claims", h.SubmitClaim)
	desk.POST("/claims/:id/query-response", h.RespondToQuery)

	// Shared reads – billing, tpa
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleTPA))
	read.GET("/preauths/:id", h.GetPreAuth)
	read.GET("/policies/:id/preauths", h.ListPreAuthsByPolicy)
	read.GET("/encounters/:id/preauths", h.ListPreAuthsByEncounter)
	read.GET("/claims", h.SearchClaims)
	read.GET("/claims/:id", h.GetClaim)
	read.GET("/bills/:id/claims", h.ListClaimsByBill)
	read.GET("/policies/:id/claims", h.ListClaimsByPolicy)
	read.POST("/claims/:id/settle", h.SettleClaim)
	read.GET("/claims/:id/history", h.ClaimHistory)
	read.GET("/claims/:id/messages", h.ListClaimMessages)
	read.POST("/claims/:id/messages", h.PostClaimMessage)

	// Payer decisions – tpa
	tpa := api.Group("", auth.RequireRole(auth.RoleTPA))
	tpa.POST("/preauths/:id/decision", h.DecidePreAuth)
	tpa.POST("/claims/:id/decision", h.DecideClaim)
}

type preAuthRequest struct {
	PolicyID        uuid.UUID       `json:"policy_id" validate:"required"`
	EncounterID     uuid.UUID       `json:"encounter_id" validate:"required"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
}

type preAuthDecisionRequest struct {
	Approve        bool             `json:"approve"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	Remarks        string           `json:"remarks" validate:"max=1000"`
}

type claimRequest struct {
	BillID      uuid.UUID       `json:"bill_id" validate:"required"`
	PolicyID    uuid.UUID       `json:"policy_id" validate:"required"`
	ClaimAmount decimal.Decimal `json:"claim_amount"`
}

type claimDecisionRequest struct {
	Outcome        string           `json:"outcome" validate:"required"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	Reason         string           `json:"reason" validate:"max=1000"`
}

type queryResponseRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type messageRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

type settleRequest struct {
	SettledAmount decimal.Decimal `json:"settled_amount"`
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

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) Options(c echo.Context) error {
	return c.JSON(http.StatusOK, PolicyOptions())
}

func (h *Handler) CreatePolicy(c echo.Context) error {
	var req CreatePolicyInput
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.policies.CreatePolicy(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.policies.GetPolicy(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPolicies(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.policies.ListPolicies(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) ActivePolicies(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	at := time.Now()
	if v := c.QueryParam("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return apperr.BadRequest("at must be RFC3339")
		}
		at = t
	}
	list, err := h.policies.GetActivePolicies(c.Request().Context(), id, at)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) RequestPreAuth(c echo.Context) error {
	var req preAuthRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.preauths.Request(c.Request().Context(), req.PolicyID, req.EncounterID, req.RequestedAmount)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPreAuth(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.preauths.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPreAuthsByPolicy(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.preauths.ListByPolicy(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) ListPreAuthsByEncounter(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.preauths.ListByEncounter(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) DecidePreAuth(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req preAuthDecisionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.preauths.Decide(c.Request().Context(), id, req.Approve, req.ApprovedAmount, req.Remarks)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	var req claimRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.claims.Submit(c.Request().Context(), req.BillID, req.PolicyID, req.ClaimAmount)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cl, err := h.claims.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SearchClaims(c echo.Context) error {
	p := pagination.FromContext(c)
	claims, total, err := h.claims.Search(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orEmpty(claims), total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ListClaimsByBill(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.claims.ListByBill(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) ListClaimsByPolicy(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.claims.ListByPolicy(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) DecideClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req claimDecisionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	outcome, err := ParseClaimStatus(req.Outcome)
	if err != nil {
		return apperr.HTTP(err)
	}
	cl, err := h.claims.Decide(c.Request().Context(), id, outcome, req.ApprovedAmount, req.Reason)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) RespondToQuery(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req queryResponseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.claims.RespondToQuery(c.Request().Context(), id, req.Note)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SettleClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req settleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	cl, err := h.claims.Settle(c.Request().Context(), id, req.SettledAmount)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ClaimHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.claims.History(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) ListClaimMessages(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	list, err := h.claims.Messages(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, orEmpty(list))
}

func (h *Handler) PostClaimMessage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	m, err := h.claims.PostMessage(c.Request().Context(), id, req.Message)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func orEmpty[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
