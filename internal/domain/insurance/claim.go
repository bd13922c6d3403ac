package insurance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/billing"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/notification"
)

// settlementReceiver is recorded as the receiver of every settlement payment.
const settlementReceiver = "TPA"

// BillReader is the read side of the ledger a claim needs. LockBill holds
// the bill's row lock until the surrounding transaction ends, which keeps a
// submission and a bill cancellation from interleaving.
type BillReader interface {
	LockBill(ctx context.Context, id uuid.UUID) (*billing.Bill, error)
}

// PaymentRecorder posts money against a bill.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, billID uuid.UUID, amount decimal.Decimal, mode billing.PaymentMode,
		receivedBy, reference string) (*billing.Payment, error)
}

// ClaimWorkflow moves claims from submission through the TPA decision to
// settlement.
type ClaimWorkflow struct {
	repo     ClaimRepository
	policies PolicyRepository
	bills    BillReader
	payments PaymentRecorder
	tx       db.Transactor
	events   notification.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewClaimWorkflow(repo ClaimRepository, policies PolicyRepository, bills BillReader, payments PaymentRecorder,
	tx db.Transactor, events notification.Publisher, m *metrics.Metrics, logger zerolog.Logger) *ClaimWorkflow {
	if events == nil {
		events = notification.Nop{}
	}
	return &ClaimWorkflow{
		repo:     repo,
		policies: policies,
		bills:    bills,
		payments: payments,
		tx:       tx,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("component", "claims").Logger(),
		now:      time.Now,
	}
}

func (w *ClaimWorkflow) Submit(ctx context.Context, billID, policyID uuid.UUID, amount decimal.Decimal) (*Claim, error) {
	if !amount.IsPositive() || !isPaise(amount) {
		return nil, ErrInvalidAmount
	}

	var (
		claim  *Claim
		policy *Policy
	)
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		bill, err := w.bills.LockBill(ctx, billID)
		if err != nil {
			return err
		}
		switch st := bill.Status(); {
		case st == billing.StatusPaid:
			return fmt.Errorf("bill %s is paid: %w", bill.Number(), ErrBillNotClaimable)
		case !st.Payable():
			return fmt.Errorf("bill %s is %s: %w", bill.Number(), st, ErrBillNotFinalized)
		}
		if amount.GreaterThan(bill.Total()) {
			return fmt.Errorf("claim %s over bill total %s: %w", amount.StringFixed(2), bill.Total().StringFixed(2), ErrClaimAmountExceedsBill)
		}

		now := w.now()
		p, err := w.policies.GetByID(ctx, policyID)
		if err != nil {
			return err
		}
		if p.PatientID != bill.PatientID() {
			return fmt.Errorf("policy %s for bill %s: %w", p.PolicyNumber, bill.Number(), ErrInvalidReference)
		}
		if !p.ActiveAt(now) {
			return fmt.Errorf("policy %s: %w", p.PolicyNumber, ErrPolicyExpired)
		}
		if err := w.checkPriorClaims(ctx, bill, p); err != nil {
			return err
		}

		by := auth.UserIDFromContext(ctx)
		c := newClaim(bill.ID(), p.ID, amount, by, now)
		if err := w.repo.Create(ctx, c); err != nil {
			return err
		}
		if err := w.repo.AddEvent(ctx, newClaimEvent(c.ID, nil, c.status, by, "", now)); err != nil {
			return err
		}
		claim, policy = c, p

		evt := notification.NewEvent(notification.ClaimSubmitted, "claim", c.ID.String(), claimEventPayload(c))
		db.AfterCommit(ctx, func() {
			w.metrics.ClaimTransition(string(c.status))
			w.events.Publish(ctx, evt)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(policy.SumInsured) {
		w.logger.Warn().
			Str("claim_id", claim.ID.String()).
			Str("claim_amount", amount.StringFixed(2)).
			Str("sum_insured", policy.SumInsured.StringFixed(2)).
			Msg("claim above sum insured")
	}
	w.logger.Info().Str("claim_id", claim.ID.String()).Str("bill_id", billID.String()).Msg("claim submitted")
	return claim, nil
}

// checkPriorClaims allows one open claim per bill. Once a claim is settled
// the remaining balance may only be claimed on another policy.
func (w *ClaimWorkflow) checkPriorClaims(ctx context.Context, bill *billing.Bill, p *Policy) error {
	prior, _, err := w.repo.Search(ctx, ClaimFilter{BillID: ptr(bill.ID())}, 0, 0)
	if err != nil {
		return err
	}
	for _, c := range prior {
		switch {
		case !c.status.Terminal():
			return fmt.Errorf("bill %s has claim %s: %w", bill.Number(), c.ID, ErrActiveClaimExists)
		case c.status == ClaimSettled && c.PolicyID == p.ID:
			return fmt.Errorf("bill %s on policy %s: %w", bill.Number(), p.PolicyNumber, ErrPolicyAlreadyClaimed)
		}
	}
	return nil
}

func (w *ClaimWorkflow) Decide(ctx context.Context, id uuid.UUID, outcome ClaimStatus, approved *decimal.Decimal, reason string) (*Claim, error) {
	reason = strings.TrimSpace(reason)
	return w.mutate(ctx, id, notification.ClaimDecided, reason, func(ctx context.Context, c *Claim, now time.Time) error {
		return c.Decide(outcome, approved, reason, auth.UserIDFromContext(ctx), now)
	})
}

// RespondToQuery answers an open TPA query and resubmits the claim.
func (w *ClaimWorkflow) RespondToQuery(ctx context.Context, id uuid.UUID, note string) (*Claim, error) {
	note = strings.TrimSpace(note)
	return w.mutate(ctx, id, notification.ClaimSubmitted, note, func(_ context.Context, c *Claim, now time.Time) error {
		return c.RespondToQuery(note, now)
	})
}

// Settle posts the insurer's payment against the bill and closes the claim.
// The claim row is locked before the bill row.
func (w *ClaimWorkflow) Settle(ctx context.Context, id uuid.UUID, settled decimal.Decimal) (*Claim, error) {
	if !settled.IsPositive() || !isPaise(settled) {
		return nil, ErrInvalidAmount
	}
	c, err := w.mutate(ctx, id, notification.ClaimSettled, "", func(ctx context.Context, c *Claim, now time.Time) error {
		if c.status != ClaimApproved && c.status != ClaimPartiallyApproved {
			return fmt.Errorf("claim %s is %s: %w", c.ID, c.status, ErrClaimNotApproved)
		}
		pay, err := w.payments.RecordPayment(ctx, c.BillID, settled, billing.ModeInsurance, settlementReceiver, "CLAIM-"+c.ID.String())
		if err != nil {
			return err
		}
		return c.Settle(settled, pay.ID, now)
	})
	if err != nil {
		return nil, err
	}
	if c.ApprovedAmount != nil && !c.ApprovedAmount.Equal(settled) {
		w.logger.Warn().
			Str("claim_id", c.ID.String()).
			Str("approved", c.ApprovedAmount.StringFixed(2)).
			Str("settled", settled.StringFixed(2)).
			Msg("settlement differs from approved amount")
	}
	return c, nil
}

// mutate runs fn against the locked claim, saves it and appends the status
// change to the claim's history, all in one transaction.
func (w *ClaimWorkflow) mutate(ctx context.Context, id uuid.UUID, eventType, note string, fn func(ctx context.Context, c *Claim, now time.Time) error) (*Claim, error) {
	var out *Claim
	err := w.tx.WithinTx(ctx, func(txCtx context.Context) error {
		c, err := w.repo.GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		from, now := c.status, w.now()
		if err := fn(txCtx, c, now); err != nil {
			return err
		}
		if err := w.repo.Save(txCtx, c); err != nil {
			return err
		}
		if err := w.repo.AddEvent(txCtx, newClaimEvent(c.ID, &from, c.status, auth.UserIDFromContext(txCtx), note, now)); err != nil {
			return err
		}
		out = c

		evt := notification.NewEvent(eventType, "claim", c.ID.String(), claimEventPayload(c))
		db.AfterCommit(txCtx, func() {
			w.metrics.ClaimTransition(string(c.status))
			w.events.Publish(txCtx, evt)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info().Str("claim_id", id.String()).Str("status", string(out.status)).Msg("claim updated")
	return out, nil
}

// History lists the claim's status changes, oldest first.
func (w *ClaimWorkflow) History(ctx context.Context, id uuid.UUID) ([]*ClaimEvent, error) {
	if _, err := w.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.ListEvents(ctx, id)
}

// PostMessage adds to the claim's grievance thread. Callers holding the tpa
// role write as the payer, everyone else as the hospital.
func (w *ClaimWorkflow) PostMessage(ctx context.Context, id uuid.UUID, body string) (*ClaimMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxMessageLen {
		return nil, ErrInvalidMessage
	}
	c, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m := &ClaimMessage{ID: uuid.New(), ClaimID: c.ID, SenderRole: SenderHospital, Body: body, CreatedAt: w.now()}
	if slices.Contains(auth.RolesFromContext(ctx), auth.RoleTPA) {
		m.SenderRole = SenderTPA
	}
	if by := auth.UserIDFromContext(ctx); by != "" {
		m.SenderID = &by
	}
	if err := w.repo.AddMessage(ctx, m); err != nil {
		return nil, err
	}

	w.events.Publish(ctx, notification.NewEvent(notification.ClaimMessage, "claim", c.ID.String(), struct {
		ClaimID    string     `json:"claim_id"`
		SenderRole SenderRole `json:"sender_role"`
	}{c.ID.String(), m.SenderRole}))
	w.logger.Info().Str("claim_id", c.ID.String()).Str("sender_role", string(m.SenderRole)).Msg("claim message posted")
	return m, nil
}

// Messages lists the claim's grievance thread, oldest first.
func (w *ClaimWorkflow) Messages(ctx context.Context, id uuid.UUID) ([]*ClaimMessage, error) {
	if _, err := w.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.ListMessages(ctx, id)
}

func (w *ClaimWorkflow) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return w.repo.GetByID(ctx, id)
}

func (w *ClaimWorkflow) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Claim, error) {
	claims, _, err := w.repo.Search(ctx, ClaimFilter{BillID: &billID}, 0, 0)
	return claims, err
}

func (w *ClaimWorkflow) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*Claim, error) {
	claims, _, err := w.repo.Search(ctx, ClaimFilter{PolicyID: &policyID}, 0, 0)
	return claims, err
}

func (w *ClaimWorkflow) Search(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	var f ClaimFilter
	if status != "" {
		st, err := ParseClaimStatus(status)
		if err != nil {
			return nil, 0, err
		}
		f.Status = st
	}
	return w.repo.Search(ctx, f, limit, offset)
}

type claimEvent struct {
	ClaimID        string      `json:"claim_id"`
	BillID         string      `json:"bill_id"`
	PolicyID       string      `json:"policy_id"`
	Status         ClaimStatus `json:"status"`
	ClaimAmount    string      `json:"claim_amount"`
	ApprovedAmount *string     `json:"approved_amount,omitempty"`
	SettledAmount  *string     `json:"settled_amount,omitempty"`
}

func claimEventPayload(c *Claim) claimEvent {
	return claimEvent{
		ClaimID:        c.ID.String(),
		BillID:         c.BillID.String(),
		PolicyID:       c.PolicyID.String(),
		Status:         c.status,
		ClaimAmount:    c.ClaimAmount.StringFixed(2),
		ApprovedAmount: fixed(c.ApprovedAmount),
		SettledAmount:  fixed(c.SettledAmount),
	}
}

func ptr[T any](v T) *T { return &v }
