package tariff

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, t *TariffItem) error
	// Current returns the row with the greatest effective_from <= at, or
	// ErrUnknownTariffCode.
	Current(ctx context.Context, code string, at time.Time) (*TariffItem, error)
	ListCurrent(ctx context.Context, category Category, at time.Time, limit, offset int) ([]*TariffItem, int, error)
	History(ctx context.Context, code string) ([]*TariffItem, error)
}
