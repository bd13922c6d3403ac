package revenue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

// recognised bills: finalized and not cancelled.
const recognised = `status NOT IN ('draft','cancelled')`

func (r *repoPG) Billed(ctx context.Context, rg Range) (BilledTotals, error) {
	var t BilledTotals
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0), COUNT(*)
		FROM bill WHERE `+recognised+` AND finalized_at >= $1 AND finalized_at < $2`,
		rg.From, rg.To).Scan(&t.Amount, &t.Count)
	return t, err
}

func (r *repoPG) Outstanding(ctx context.Context) (decimal.Decimal, error) {
	var d decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(balance_due), 0) FROM bill WHERE status IN ('finalized','pending','partial')`).Scan(&d)
	return d, err
}

func (r *repoPG) CollectionsByMode(ctx context.Context, rg Range) ([]ModeTotal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT mode, SUM(amount), COUNT(*)
		FROM payment WHERE received_at >= $1 AND received_at < $2
		GROUP BY mode ORDER BY mode`, rg.From, rg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModeTotal
	for rows.Next() {
		var m ModeTotal
		if err := rows.Scan(&m.Mode, &m.Amount, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) StatusCounts(ctx context.Context, rg Range) ([]StatusCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM bill WHERE created_at >= $1 AND created_at < $2
		GROUP BY status ORDER BY status`, rg.From, rg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var s StatusCount
		if err := rows.Scan(&s.Status, &s.Count, &s.TotalAmount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) ByCategory(ctx context.Context, rg Range) ([]CategoryAmount, error) {
	return r.categories(ctx, `
		SELECT bi.category, SUM(bi.total_price), COUNT(*)
		FROM bill_item bi JOIN bill b ON b.id = bi.bill_id
		WHERE b.`+recognised+` AND b.finalized_at >= $1 AND b.finalized_at < $2
		GROUP BY bi.category ORDER BY bi.category`, rg.From, rg.To)
}

func (r *repoPG) PendingByCategory(ctx context.Context) ([]CategoryAmount, error) {
	return r.categories(ctx, `
		SELECT bi.category, SUM(bi.total_price / b.subtotal * b.balance_due), COUNT(*)
		FROM bill_item bi JOIN bill b ON b.id = bi.bill_id
		WHERE b.status IN ('finalized','pending','partial') AND b.subtotal > 0
		GROUP BY bi.category ORDER BY bi.category`)
}

func (r *repoPG) categories(ctx context.Context, query string, args ...interface{}) ([]CategoryAmount, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryAmount
	for rows.Next() {
		var c CategoryAmount
		if err := rows.Scan(&c.Category, &c.Amount, &c.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) Collections(ctx context.Context, rg Range, b Bucket) ([]TrendPoint, error) {
	unit, ok := map[Bucket]string{BucketDay: "day", BucketWeek: "week", BucketMonth: "month"}[b]
	if !ok {
		return nil, fmt.Errorf("bucket %q: %w", b, ErrInvalidBucket)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT date_trunc('`+unit+`', received_at AT TIME ZONE 'UTC') AS bucket, SUM(amount), COUNT(*)
		FROM payment WHERE received_at >= $1 AND received_at < $2
		GROUP BY bucket ORDER BY bucket`, rg.From, rg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Start, &p.Collected, &p.PaymentCount); err != nil {
			return nil, err
		}
		p.Start = p.Start.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) TopItems(ctx context.Context, rg Range, limit int) ([]ItemRevenue, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT bi.item_code, MIN(bi.description), MIN(bi.category), SUM(bi.total_price), COUNT(*)
		FROM bill_item bi JOIN bill b ON b.id = bi.bill_id
		WHERE b.`+recognised+` AND b.finalized_at >= $1 AND b.finalized_at < $2
		GROUP BY bi.item_code ORDER BY SUM(bi.total_price) DESC, bi.item_code LIMIT $3`,
		rg.From, rg.To, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemRevenue
	for rows.Next() {
		var it ItemRevenue
		if err := rows.Scan(&it.Code, &it.Description, &it.Category, &it.Amount, &it.Count); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
