package insurance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/db"
)

// -- policies --

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

func (r *policyRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const policyCols = `id, patient_id, insurer_name, policy_number, policy_type, sum_insured,
	valid_from, valid_to, tpa_name, created_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.PatientID, &p.InsurerName, &p.PolicyNumber, &p.PolicyType, &p.SumInsured,
		&p.ValidFrom, &p.ValidTo, &p.TPAName, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO insurance_policy (id, patient_id, insurer_name, policy_number, policy_type, sum_insured,
			valid_from, valid_to, tpa_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.PatientID, p.InsurerName, p.PolicyNumber, p.PolicyType, p.SumInsured,
		p.ValidFrom, p.ValidTo, p.TPAName, p.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("%s %s: %w", p.InsurerName, p.PolicyNumber, ErrDuplicatePolicy)
	}
	return err
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyCols+` FROM insurance_policy WHERE id = $1`, id))
}

func (r *policyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Policy, error) {
	return r.list(ctx, `SELECT `+policyCols+` FROM insurance_policy
		WHERE patient_id = $1 ORDER BY valid_to DESC, id`, patientID)
}

func (r *policyRepoPG) ListActive(ctx context.Context, patientID uuid.UUID, at time.Time) ([]*Policy, error) {
	return r.list(ctx, `SELECT `+policyCols+` FROM insurance_policy
		WHERE patient_id = $1 AND valid_from <= $2 AND valid_to >= $2 ORDER BY valid_to DESC, id`, patientID, at)
}

func (r *policyRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Policy, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- pre-authorizations --

type preAuthRepoPG struct{ pool *pgxpool.Pool }

func NewPreAuthRepoPG(pool *pgxpool.Pool) PreAuthRepository { return &preAuthRepoPG{pool: pool} }

func (r *preAuthRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const preAuthCols = `id, policy_id, encounter_id, requested_amount, approved_amount, status, remarks,
	requested_by, requested_at, decided_by, decided_at, flagged_at, version`

func scanPreAuth(row pgx.Row) (*PreAuthorization, error) {
	var p PreAuthorization
	err := row.Scan(&p.ID, &p.PolicyID, &p.EncounterID, &p.RequestedAmount, &p.ApprovedAmount, &p.status, &p.Remarks,
		&p.RequestedBy, &p.RequestedAt, &p.DecidedBy, &p.DecidedAt, &p.FlaggedAt, &p.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPreAuthNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *preAuthRepoPG) Create(ctx context.Context, p *PreAuthorization) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pre_authorization (id, policy_id, encounter_id, requested_amount, status, remarks,
			requested_by, requested_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.PolicyID, p.EncounterID, p.RequestedAmount, p.status, p.Remarks,
		p.RequestedBy, p.RequestedAt, p.Version)
	return err
}

func (r *preAuthRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PreAuthorization, error) {
	return scanPreAuth(r.conn(ctx).QueryRow(ctx, `SELECT `+preAuthCols+` FROM pre_authorization WHERE id = $1`, id))
}

func (r *preAuthRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAuthorization, error) {
	return scanPreAuth(r.conn(ctx).QueryRow(ctx,
		`SELECT `+preAuthCols+` FROM pre_authorization WHERE id = $1 FOR UPDATE`, id))
}

func (r *preAuthRepoPG) Save(ctx context.Context, p *PreAuthorization) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pre_authorization SET status = $2, approved_amount = $3, remarks = $4, decided_by = $5,
			decided_at = $6, flagged_at = $7, version = version + 1
		WHERE id = $1 AND version = $8`,
		p.ID, p.status, p.ApprovedAmount, p.Remarks, p.DecidedBy, p.DecidedAt, p.FlaggedAt, p.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pre-auth %s version %d: %w", p.ID, p.Version, apperr.ErrConcurrentModification)
	}
	p.Version++
	return nil
}

func (r *preAuthRepoPG) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*PreAuthorization, error) {
	return r.list(ctx, `SELECT `+preAuthCols+` FROM pre_authorization
		WHERE policy_id = $1 ORDER BY requested_at DESC, id`, policyID)
}

func (r *preAuthRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*PreAuthorization, error) {
	return r.list(ctx, `SELECT `+preAuthCols+` FROM pre_authorization
		WHERE encounter_id = $1 ORDER BY requested_at DESC, id`, encounterID)
}

func (r *preAuthRepoPG) ListStale(ctx context.Context, before time.Time) ([]*PreAuthorization, error) {
	return r.list(ctx, `SELECT `+preAuthCols+` FROM pre_authorization
		WHERE status = 'pending' AND requested_at < $1 AND flagged_at IS NULL ORDER BY requested_at, id`, before)
}

func (r *preAuthRepoPG) MarkFlagged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pre_authorization SET flagged_at = $2
		WHERE id = $1 AND status = 'pending' AND flagged_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *preAuthRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*PreAuthorization, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PreAuthorization
	for rows.Next() {
		p, err := scanPreAuth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- claims --

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

func (r *claimRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const claimCols = `id, bill_id, policy_id, claim_amount, approved_amount, settled_amount, payment_id, status,
	rejection_reason, query_note, submitted_by, submitted_at, decided_by, decided_at, settled_at, flagged_at,
	updated_at, version`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.BillID, &c.PolicyID, &c.ClaimAmount, &c.ApprovedAmount, &c.SettledAmount, &c.PaymentID,
		&c.status, &c.RejectionReason, &c.QueryNote, &c.SubmittedBy, &c.SubmittedAt, &c.DecidedBy, &c.DecidedAt,
		&c.SettledAt, &c.FlaggedAt, &c.UpdatedAt, &c.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO insurance_claim (id, bill_id, policy_id, claim_amount, status, submitted_by, submitted_at,
			updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.BillID, c.PolicyID, c.ClaimAmount, c.status, c.SubmittedBy, c.SubmittedAt, c.UpdatedAt, c.Version)
	if db.IsUniqueViolation(err, "claim_one_active_per_bill") {
		return fmt.Errorf("bill %s: %w", c.BillID, ErrActiveClaimExists)
	}
	return err
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claim WHERE id = $1`, id))
}

func (r *claimRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM insurance_claim WHERE id = $1 FOR UPDATE`, id))
}

func (r *claimRepoPG) Save(ctx context.Context, c *Claim) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_claim SET status = $2, approved_amount = $3, settled_amount = $4, payment_id = $5,
			rejection_reason = $6, query_note = $7, decided_by = $8, decided_at = $9, settled_at = $10,
			flagged_at = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $13`,
		c.ID, c.status, c.ApprovedAmount, c.SettledAmount, c.PaymentID, c.RejectionReason, c.QueryNote,
		c.DecidedBy, c.DecidedAt, c.SettledAt, c.FlaggedAt, c.UpdatedAt, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim %s version %d: %w", c.ID, c.Version, apperr.ErrConcurrentModification)
	}
	c.Version++
	return nil
}

func (r *claimRepoPG) Search(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.BillID != nil {
		where += fmt.Sprintf(" AND bill_id = $%d", idx)
		args = append(args, *f.BillID)
		idx++
	}
	if f.PolicyID != nil {
		where += fmt.Sprintf(" AND policy_id = $%d", idx)
		args = append(args, *f.PolicyID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM insurance_claim"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// LIMIT NULL is LIMIT ALL.
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	query := fmt.Sprintf("SELECT "+claimCols+" FROM insurance_claim%s ORDER BY submitted_at DESC, id LIMIT $%d OFFSET $%d",
		where, idx, idx+1)
	args = append(args, lim, offset)
	claims, err := r.list(ctx, query, args...)
	return claims, total, err
}

func (r *claimRepoPG) ListStale(ctx context.Context, before time.Time) ([]*Claim, error) {
	return r.list(ctx, `SELECT `+claimCols+` FROM insurance_claim
		WHERE status IN ('submitted','query') AND updated_at < $1 AND flagged_at IS NULL
		ORDER BY updated_at, id`, before)
}

func (r *claimRepoPG) MarkFlagged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_claim SET flagged_at = $2
		WHERE id = $1 AND status IN ('submitted','query') AND flagged_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *claimRepoPG) HasOpenClaim(ctx context.Context, billID uuid.UUID) (bool, error) {
	var open bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM insurance_claim
			WHERE bill_id = $1 AND status NOT IN ('rejected','settled'))`, billID).Scan(&open)
	return open, err
}

func (r *claimRepoPG) AddEvent(ctx context.Context, e *ClaimEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_event (id, claim_id, from_status, to_status, performed_by, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ClaimID, e.From, e.To, e.PerformedBy, e.Note, e.CreatedAt)
	return err
}

func (r *claimRepoPG) ListEvents(ctx context.Context, claimID uuid.UUID) ([]*ClaimEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, from_status, to_status, performed_by, note, created_at
		FROM claim_event WHERE claim_id = $1 ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClaimEvent
	for rows.Next() {
		var e ClaimEvent
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.From, &e.To, &e.PerformedBy, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *claimRepoPG) AddMessage(ctx context.Context, m *ClaimMessage) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_message (id, claim_id, sender_id, sender_role, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ClaimID, m.SenderID, m.SenderRole, m.Body, m.CreatedAt)
	return err
}

func (r *claimRepoPG) ListMessages(ctx context.Context, claimID uuid.UUID) ([]*ClaimMessage, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, sender_id, sender_role, body, created_at
		FROM claim_message WHERE claim_id = $1 ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClaimMessage
	for rows.Next() {
		var m ClaimMessage
		if err := rows.Scan(&m.ID, &m.ClaimID, &m.SenderID, &m.SenderRole, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *claimRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
