package tariff

import "github.com/medflow/billing/internal/platform/apperr"

var (
	ErrUnknownTariffCode  = apperr.Validation("UNKNOWN_TARIFF_CODE", "unknown tariff code")
	ErrInvalidTariff      = apperr.Validation("INVALID_TARIFF", "invalid tariff item")
	ErrCategoryMismatch   = apperr.Validation("TARIFF_CATEGORY_MISMATCH", "tariff code already belongs to another category")
	ErrDuplicateEffective = apperr.Conflict("TARIFF_ALREADY_EFFECTIVE", "a price for this code is already effective at that instant")
)
