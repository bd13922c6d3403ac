package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const billCols = `id, bill_number, encounter_id, patient_id, status, subtotal, discount_amount,
	tax_amount, tax_lines, total_amount, paid_amount, balance_due, version, created_by, created_at,
	updated_at, finalized_at, finalized_by, cancelled_at, cancelled_by`

func scanBill(row pgx.Row) (*Bill, error) {
	var (
		b        Bill
		taxLines []byte
	)
	err := row.Scan(&b.id, &b.number, &b.encounterID, &b.patientID, &b.status, &b.subtotal, &b.discount,
		&b.tax, &taxLines, &b.total, &b.paid, &b.balance, &b.version, &b.createdBy, &b.createdAt,
		&b.updatedAt, &b.finalizedAt, &b.finalizedBy, &b.cancelledAt, &b.cancelledBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(taxLines) > 0 {
		if err := json.Unmarshal(taxLines, &b.taxLines); err != nil {
			return nil, fmt.Errorf("decode tax lines of %s: %w", b.number, err)
		}
	}
	return &b, nil
}

func (r *repoPG) NextBillNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('bill_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next bill number: %w", err)
	}
	return FormatBillNumber(at, seq), nil
}

func (r *repoPG) Create(ctx context.Context, b *Bill) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill (id, bill_number, encounter_id, patient_id, status, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		b.id, b.number, b.encounterID, b.patientID, b.status, b.version, b.createdBy, b.createdAt)
	if db.IsUniqueViolation(err, "bill_one_draft_per_encounter") {
		return ErrDraftBillExists
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return b, r.loadChildren(ctx, b)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return b, r.loadChildren(ctx, b)
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE bill_number = $1`, number))
	if err != nil {
		return nil, err
	}
	return b, r.loadChildren(ctx, b)
}

func (r *repoPG) GetDraftForEncounter(ctx context.Context, encounterID uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM bill WHERE encounter_id = $1 AND status = 'draft' FOR UPDATE`, encounterID))
	if err != nil {
		return nil, err
	}
	return b, r.loadChildren(ctx, b)
}

func (r *repoPG) loadChildren(ctx context.Context, b *Bill) error {
	items, err := r.listItems(ctx, b.id)
	if err != nil {
		return err
	}
	payments, err := r.ListPayments(ctx, b.id)
	if err != nil {
		return err
	}
	b.items = items
	b.payments = payments
	if b.items == nil {
		b.items = []*BillItem{}
	}
	if b.payments == nil {
		b.payments = []*Payment{}
	}
	return nil
}

func (r *repoPG) listItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, category, item_code, description, quantity, unit_price, total_price, created_by, created_at
		FROM bill_item WHERE bill_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*BillItem
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.Category, &it.ItemCode, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.CreatedBy, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *repoPG) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, mode, reference, received_by, received_at
		FROM payment WHERE bill_id = $1 ORDER BY received_at, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Mode, &p.Reference, &p.ReceivedBy, &p.ReceivedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (r *repoPG) Save(ctx context.Context, b *Bill) error {
	taxLines, err := json.Marshal(b.taxLines)
	if err != nil {
		return err
	}
	if b.taxLines == nil {
		taxLines = []byte("[]")
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bill SET status = $2, subtotal = $3, discount_amount = $4, tax_amount = $5, tax_lines = $6,
			total_amount = $7, paid_amount = $8, balance_due = $9, finalized_at = $10, finalized_by = $11,
			cancelled_at = $12, cancelled_by = $13, updated_at = $14, version = version + 1
		WHERE id = $1 AND version = $15`,
		b.id, b.status, b.subtotal, b.discount, b.tax, taxLines, b.total, b.paid, b.balance,
		b.finalizedAt, b.finalizedBy, b.cancelledAt, b.cancelledBy, b.updatedAt, b.version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s version %d: %w", b.number, b.version, apperr.ErrConcurrentModification)
	}

	items, payments := b.pending()
	if len(items)+len(payments) > 0 {
		batch := &pgx.Batch{}
		for _, it := range items {
			batch.Queue(`
				INSERT INTO bill_item (id, bill_id, category, item_code, description, quantity, unit_price, total_price, created_by, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				it.ID, it.BillID, it.Category, it.ItemCode, it.Description, it.Quantity, it.UnitPrice, it.TotalPrice, it.CreatedBy, it.CreatedAt)
		}
		for _, p := range payments {
			batch.Queue(`
				INSERT INTO payment (id, bill_id, amount, mode, reference, received_by, received_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, p.BillID, p.Amount, p.Mode, p.Reference, p.ReceivedBy, p.ReceivedAt)
		}
		if err := r.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append bill lines: %w", err)
		}
	}
	b.flushed()
	return nil
}

func (r *repoPG) Search(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.EncounterID != nil {
		where += fmt.Sprintf(" AND encounter_id = $%d", idx)
		args = append(args, *f.EncounterID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *f.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM bill"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT "+billCols+" FROM bill%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

func (r *repoPG) PatientSummary(ctx context.Context, patientID uuid.UUID) (*PatientSummary, error) {
	s := &PatientSummary{PatientID: patientID}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0), COALESCE(SUM(paid_amount), 0),
			COALESCE(SUM(balance_due) FILTER (WHERE status IN ('finalized','pending','partial')), 0)
		FROM bill WHERE patient_id = $1 AND status NOT IN ('draft','cancelled')`, patientID,
	).Scan(&s.BillCount, &s.TotalBilled, &s.TotalPaid, &s.Outstanding)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT bi.category, SUM(bi.total_price)
		FROM bill_item bi JOIN bill b ON b.id = bi.bill_id
		WHERE b.patient_id = $1 AND b.status NOT IN ('draft','cancelled')
		GROUP BY bi.category ORDER BY bi.category`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Amount); err != nil {
			return nil, err
		}
		s.ByCategory = append(s.ByCategory, ct)
	}
	return s, rows.Err()
}

