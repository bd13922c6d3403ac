package billing

import (
	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/apperr"
)

var (
	ErrBillNotFound     = apperr.NotFound("BILL_NOT_FOUND", "bill not found")
	ErrInvalidReference = apperr.NotFound("INVALID_REFERENCE", "encounter and patient do not match a registered visit")

	ErrUnknownTariffCode       = tariff.ErrUnknownTariffCode
	ErrInvalidQuantity         = apperr.Validation("INVALID_QUANTITY", "quantity must be at least 1")
	ErrInvalidAmount           = apperr.Validation("INVALID_AMOUNT", "amount must be positive with at most 2 decimals")
	ErrDiscountExceedsSubtotal = apperr.Validation("DISCOUNT_EXCEEDS_SUBTOTAL", "discount exceeds bill subtotal")
	ErrAmountExceedsBalance    = apperr.Validation("AMOUNT_EXCEEDS_BALANCE", "payment amount exceeds balance due")
	ErrInvalidPaymentMode      = apperr.Validation("INVALID_PAYMENT_MODE", "invalid payment mode")

	ErrBillNotEditable      = apperr.State("BILL_NOT_EDITABLE", "bill is not in draft")
	ErrAlreadyFinalized     = apperr.State("ALREADY_FINALIZED", "bill is already finalized")
	ErrCannotCancelPaidBill = apperr.State("CANNOT_CANCEL_PAID_BILL", "bill has payments and cannot be cancelled")
	ErrBillCancelled        = apperr.State("BILL_CANCELLED", "bill is cancelled")
	ErrBillNotPayable       = apperr.State("BILL_NOT_PAYABLE", "bill does not accept payments in its current status")
	ErrBillHasOpenClaim     = apperr.State("BILL_HAS_OPEN_CLAIM", "bill has an insurance claim awaiting the payer")

	ErrDraftBillExists = apperr.Conflict("DRAFT_BILL_EXISTS", "encounter already has an open draft bill")
)
