package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/billing/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const tariffCols = `id, code, category, description, unit_price, effective_from, created_by, created_at`

func scanTariff(row pgx.Row) (*TariffItem, error) {
	var t TariffItem
	err := row.Scan(&t.ID, &t.Code, &t.Category, &t.Description, &t.UnitPrice, &t.EffectiveFrom, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownTariffCode
	}
	return &t, err
}

func (r *repoPG) Insert(ctx context.Context, t *TariffItem) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tariff_price (id, code, category, description, unit_price, effective_from, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		t.ID, t.Code, t.Category, t.Description, t.UnitPrice, t.EffectiveFrom, t.CreatedBy,
	).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("%s at %s: %w", t.Code, t.EffectiveFrom.Format(time.RFC3339), ErrDuplicateEffective)
	}
	return err
}

func (r *repoPG) Current(ctx context.Context, code string, at time.Time) (*TariffItem, error) {
	return scanTariff(r.conn(ctx).QueryRow(ctx, `
		SELECT `+tariffCols+` FROM tariff_price
		WHERE code = $1 AND effective_from <= $2
		ORDER BY effective_from DESC LIMIT 1`, code, at))
}

// ListCurrent returns the effective row of every code, optionally limited
// to one category. An empty category lists all.
func (r *repoPG) ListCurrent(ctx context.Context, category Category, at time.Time, limit, offset int) ([]*TariffItem, int, error) {
	const current = `
		SELECT DISTINCT ON (code) ` + tariffCols + ` FROM tariff_price
		WHERE effective_from <= $1 AND ($2 = '' OR category = $2)
		ORDER BY code, effective_from DESC`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM (`+current+`) c`, at, string(category)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT * FROM (`+current+`) c ORDER BY category, code LIMIT $3 OFFSET $4`,
		at, string(category), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*TariffItem
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) History(ctx context.Context, code string) ([]*TariffItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+tariffCols+` FROM tariff_price WHERE code = $1 ORDER BY effective_from DESC`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TariffItem
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
