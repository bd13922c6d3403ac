package tariff

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the billing category of a tariff code.
type Category string

const (
	CategoryConsultation Category = "CONSULTATION"
	CategoryLab          Category = "LAB"
	CategoryPharmacy     Category = "PHARMACY"
	CategoryRoom         Category = "ROOM"
	CategoryProcedure    Category = "PROCEDURE"
	CategoryEmergency    Category = "EMERGENCY"
	CategoryRadiology    Category = "RADIOLOGY"
	CategoryMisc         Category = "MISC"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryConsultation, CategoryLab, CategoryPharmacy, CategoryRoom,
	CategoryProcedure, CategoryEmergency, CategoryRadiology, CategoryMisc,
}

// ParseCategory accepts any casing.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// TariffItem is one effective-dated price for a billable code. Rows are
// never updated; a price change inserts a row with a later EffectiveFrom.
type TariffItem struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	Category      Category        `json:"category"`
	Description   string          `json:"description"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveFrom time.Time       `json:"effective_from"`
	CreatedBy     *string         `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
