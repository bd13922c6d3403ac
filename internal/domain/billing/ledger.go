package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/registry"
	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/notification"
)

// Ledger owns bill creation and every change to a bill's charges. Payments
// go through PaymentProcessor.
type Ledger struct {
	repo     Repository
	registry registry.Reader
	tariffs  TariffLookup
	claims   ClaimChecker
	tx       db.Transactor
	tax      TaxPolicy
	events   notification.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewLedger(repo Repository, reg registry.Reader, tariffs TariffLookup, tx db.Transactor, tax TaxPolicy,
	events notification.Publisher, m *metrics.Metrics, logger zerolog.Logger) *Ledger {
	if events == nil {
		events = notification.Nop{}
	}
	return &Ledger{
		repo:     repo,
		registry: reg,
		tariffs:  tariffs,
		tx:       tx,
		tax:      tax,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

// SetClaimChecker makes Cancel refuse bills that still have a claim with
// the payer. Without one every bill is treated as unclaimed.
func (l *Ledger) SetClaimChecker(c ClaimChecker) {
	l.claims = c
}

func (l *Ledger) CreateBill(ctx context.Context, encounterID, patientID uuid.UUID) (*Bill, error) {
	var bill *Bill
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := l.openBill(ctx, encounterID, patientID)
		bill = b
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("bill", bill.Number()).Str("encounter_id", encounterID.String()).Msg("bill opened")
	return bill, nil
}

func (l *Ledger) openBill(ctx context.Context, encounterID, patientID uuid.UUID) (*Bill, error) {
	ok, err := l.registry.EncounterBelongsTo(ctx, encounterID, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("encounter %s for patient %s: %w", encounterID, patientID, ErrInvalidReference)
	}
	now := l.now()
	number, err := l.repo.NextBillNumber(ctx, now)
	if err != nil {
		return nil, err
	}
	b := NewBill(number, encounterID, patientID, auth.UserIDFromContext(ctx), now)
	if err := l.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	b.items, b.payments = []*BillItem{}, []*Payment{}
	db.AfterCommit(ctx, l.metrics.BillOpened)
	return b, nil
}

func (l *Ledger) AddItem(ctx context.Context, billID uuid.UUID, itemCode string, quantity int) (*BillItem, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	var item *BillItem
	_, err := l.mutate(ctx, billID, func(ctx context.Context, b *Bill) error {
		it, err := l.addItem(ctx, b, itemCode, quantity)
		item = it
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (l *Ledger) addItem(ctx context.Context, b *Bill, itemCode string, quantity int) (*BillItem, error) {
	if b.Status() != StatusDraft {
		return nil, fmt.Errorf("bill %s is %s: %w", b.Number(), b.Status(), ErrBillNotEditable)
	}
	now := l.now()
	t, err := l.tariffs.Lookup(ctx, itemCode, now)
	if err != nil {
		return nil, err
	}
	return b.AddItem(t, quantity, auth.UserIDFromContext(ctx), now)
}

// PostCharge is the entry point for clinical services: it finds the
// encounter's draft bill, opening one when needed, and adds the charge in
// the same transaction.
func (l *Ledger) PostCharge(ctx context.Context, encounterID, patientID uuid.UUID, itemCode string, quantity int) (*Bill, *BillItem, error) {
	if quantity < 1 {
		return nil, nil, ErrInvalidQuantity
	}
	var (
		bill *Bill
		item *BillItem
	)
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := l.repo.GetDraftForEncounter(ctx, encounterID)
		switch {
		case errors.Is(err, ErrBillNotFound):
			b, err = l.openBill(ctx, encounterID, patientID)
			if errors.Is(err, ErrDraftBillExists) {
				// another charge opened the draft first; retry and join it
				return fmt.Errorf("%w: %v", apperr.ErrConcurrentModification, err)
			}
			if err != nil {
				return err
			}
		case err != nil:
			return err
		case b.PatientID() != patientID:
			return fmt.Errorf("draft %s belongs to another patient: %w", b.Number(), ErrInvalidReference)
		}
		if item, err = l.addItem(ctx, b, itemCode, quantity); err != nil {
			return err
		}
		bill = b
		return save(ctx, l.repo, b)
	})
	if err != nil {
		return nil, nil, err
	}
	return bill, item, nil
}

func (l *Ledger) ApplyDiscount(ctx context.Context, billID uuid.UUID, amount decimal.Decimal) (*Bill, error) {
	return l.mutate(ctx, billID, func(_ context.Context, b *Bill) error {
		return b.ApplyDiscount(amount, l.now())
	})
}

func (l *Ledger) Finalize(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	b, err := l.mutate(ctx, billID, func(ctx context.Context, b *Bill) error {
		if err := b.Finalize(l.tax, auth.UserIDFromContext(ctx), l.now()); err != nil {
			return err
		}
		l.afterCommit(ctx, notification.BillFinalized, b, l.metrics.BillFinalized)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("bill", b.Number()).
		Str("total", b.Total().StringFixed(2)).
		Str("status", string(b.Status())).
		Msg("bill finalized")
	return b, nil
}

// Cancel voids the bill. The bill row is locked before open claims are
// checked, and claim submission takes the same lock.
func (l *Ledger) Cancel(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	b, err := l.mutate(ctx, billID, func(ctx context.Context, b *Bill) error {
		if l.claims != nil {
			open, err := l.claims.HasOpenClaim(ctx, b.ID())
			if err != nil {
				return err
			}
			if open {
				return fmt.Errorf("bill %s: %w", b.Number(), ErrBillHasOpenClaim)
			}
		}
		if err := b.Cancel(auth.UserIDFromContext(ctx), l.now()); err != nil {
			return err
		}
		l.afterCommit(ctx, notification.BillCancelled, b, l.metrics.BillCancelled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("bill", b.Number()).Msg("bill cancelled")
	return b, nil
}

func (l *Ledger) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return l.repo.GetByID(ctx, id)
}

// LockBill loads the bill under its row lock. It must run inside a
// transaction.
func (l *Ledger) LockBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return l.repo.GetForUpdate(ctx, id)
}

func (l *Ledger) GetBillByNumber(ctx context.Context, number string) (*Bill, error) {
	return l.repo.GetByNumber(ctx, number)
}

func (l *Ledger) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return l.repo.Search(ctx, BillFilter{PatientID: &patientID}, limit, offset)
}

func (l *Ledger) SearchBills(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error) {
	return l.repo.Search(ctx, f, limit, offset)
}

// PatientSummary totals a patient's finalized bills and decorates the result
// with the registry's display identity when available.
func (l *Ledger) PatientSummary(ctx context.Context, patientID uuid.UUID) (*PatientSummary, error) {
	p, err := l.registry.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrInvalidReference)
	}
	s, err := l.repo.PatientSummary(ctx, patientID)
	if err != nil {
		return nil, err
	}
	s.UHID, s.Name = p.UHID, p.Name
	return s, nil
}

// mutate loads the bill under its row lock, applies fn and saves it, all in
// one transaction.
func (l *Ledger) mutate(ctx context.Context, billID uuid.UUID, fn func(ctx context.Context, b *Bill) error) (*Bill, error) {
	var out *Bill
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := l.repo.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if err := fn(ctx, b); err != nil {
			return err
		}
		if err := save(ctx, l.repo, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// save persists b after re-checking its arithmetic.
func save(ctx context.Context, repo Repository, b *Bill) error {
	if err := b.CheckInvariants(); err != nil {
		return fmt.Errorf("bill %s: %w", b.Number(), err)
	}
	return repo.Save(ctx, b)
}

func (l *Ledger) afterCommit(ctx context.Context, eventType string, b *Bill, count func()) {
	evt := notification.NewEvent(eventType, "bill", b.ID().String(), billEventPayload(b))
	db.AfterCommit(ctx, func() {
		count()
		l.events.Publish(ctx, evt)
	})
}

type billEvent struct {
	BillNumber string `json:"bill_number"`
	PatientID  string `json:"patient_id"`
	Status     Status `json:"status"`
	Total      string `json:"total_amount"`
	BalanceDue string `json:"balance_due"`
}

func billEventPayload(b *Bill) billEvent {
	return billEvent{
		BillNumber: b.Number(),
		PatientID:  b.PatientID().String(),
		Status:     b.Status(),
		Total:      b.Total().StringFixed(2),
		BalanceDue: b.BalanceDue().StringFixed(2),
	}
}
