package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/notification"
)

// PaymentProcessor is the only code path that changes a bill's paid amount.
type PaymentProcessor struct {
	repo    Repository
	tx      db.Transactor
	events  notification.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewPaymentProcessor(repo Repository, tx db.Transactor, events notification.Publisher, m *metrics.Metrics, logger zerolog.Logger) *PaymentProcessor {
	if events == nil {
		events = notification.Nop{}
	}
	return &PaymentProcessor{
		repo:    repo,
		tx:      tx,
		events:  events,
		metrics: m,
		logger:  logger.With().Str("component", "payments").Logger(),
		now:     time.Now,
	}
}

// RecordPayment posts amount against the bill's balance. The balance is
// re-read under the bill's row lock, so concurrent payments serialize and a
// later one sees what an earlier one left.
func (p *PaymentProcessor) RecordPayment(ctx context.Context, billID uuid.UUID, amount decimal.Decimal, mode PaymentMode, receivedBy, reference string) (*Payment, error) {
	if !amount.IsPositive() || !isPaise(amount) {
		return nil, ErrInvalidAmount
	}
	if _, err := ParsePaymentMode(string(mode)); err != nil {
		return nil, err
	}

	if receivedBy == "" {
		receivedBy = "system"
	}
	pay := &Payment{Amount: amount, Mode: mode, ReceivedBy: receivedBy}
	if ref := strings.TrimSpace(reference); ref != "" {
		pay.Reference = &ref
	}

	var bill *Bill
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := p.repo.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if err := b.ApplyPayment(pay, p.now()); err != nil {
			return err
		}
		if err := save(ctx, p.repo, b); err != nil {
			return err
		}
		bill = b

		evt := notification.NewEvent(notification.PaymentReceived, "bill", b.ID().String(), paymentEvent{
			billEvent:  billEventPayload(b),
			PaymentID:  pay.ID.String(),
			Amount:     pay.Amount.StringFixed(2),
			Mode:       pay.Mode,
			ReceivedBy: pay.ReceivedBy,
		})
		db.AfterCommit(ctx, func() {
			p.metrics.PaymentRecorded(string(pay.Mode), pay.Amount)
			p.events.Publish(ctx, evt)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("bill", bill.Number()).
		Str("amount", amount.StringFixed(2)).
		Str("mode", string(mode)).
		Str("balance_due", bill.BalanceDue().StringFixed(2)).
		Msg("payment recorded")
	return pay, nil
}

func (p *PaymentProcessor) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	if _, err := p.repo.GetByID(ctx, billID); err != nil {
		return nil, err
	}
	return p.repo.ListPayments(ctx, billID)
}

type paymentEvent struct {
	billEvent
	PaymentID  string      `json:"payment_id"`
	Amount     string      `json:"amount"`
	Mode       PaymentMode `json:"mode"`
	ReceivedBy string      `json:"received_by"`
}
