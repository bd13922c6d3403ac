package revenue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
)

type BilledTotals struct {
	Amount decimal.Decimal
	Count  int
}

type CategoryAmount struct {
	Category  tariff.Category
	Amount    decimal.Decimal
	ItemCount int
}

// Repository runs the aggregate queries. Bills count toward a range by
// finalization time, payments by receipt time.
type Repository interface {
	Billed(ctx context.Context, r Range) (BilledTotals, error)
	// Outstanding is the open balance of every pending or partial bill now.
	Outstanding(ctx context.Context) (decimal.Decimal, error)
	CollectionsByMode(ctx context.Context, r Range) ([]ModeTotal, error)
	StatusCounts(ctx context.Context, r Range) ([]StatusCount, error)
	ByCategory(ctx context.Context, r Range) ([]CategoryAmount, error)
	// PendingByCategory spreads each open bill's balance over its items in
	// proportion to their share of the subtotal, so the shares add up to the
	// balance.
	PendingByCategory(ctx context.Context) ([]CategoryAmount, error)
	Collections(ctx context.Context, r Range, b Bucket) ([]TrendPoint, error)
	TopItems(ctx context.Context, r Range, limit int) ([]ItemRevenue, error)
}
