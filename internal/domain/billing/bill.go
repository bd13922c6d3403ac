package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
)

// Bill is the ledger aggregate. Its monetary fields only change through the
// methods below, each of which leaves the invariants checked by
// CheckInvariants intact or returns an error without touching the bill.
type Bill struct {
	id          uuid.UUID
	number      string
	encounterID uuid.UUID
	patientID   uuid.UUID
	status      Status

	subtotal decimal.Decimal
	discount decimal.Decimal
	tax      decimal.Decimal
	taxLines []TaxLine
	total    decimal.Decimal
	paid     decimal.Decimal
	balance  decimal.Decimal

	version     int
	createdBy   *string
	createdAt   time.Time
	updatedAt   time.Time
	finalizedAt *time.Time
	finalizedBy *string
	cancelledAt *time.Time
	cancelledBy *string

	items    []*BillItem
	payments []*Payment

	// written by the repository on Save
	newItems    []*BillItem
	newPayments []*Payment
}

// NewBill opens an empty draft bill.
func NewBill(number string, encounterID, patientID uuid.UUID, createdBy string, now time.Time) *Bill {
	b := &Bill{
		id:          uuid.New(),
		number:      number,
		encounterID: encounterID,
		patientID:   patientID,
		status:      StatusDraft,
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}
	if createdBy != "" {
		b.createdBy = &createdBy
	}
	return b
}

func (b *Bill) ID() uuid.UUID               { return b.id }
func (b *Bill) Number() string              { return b.number }
func (b *Bill) EncounterID() uuid.UUID      { return b.encounterID }
func (b *Bill) PatientID() uuid.UUID        { return b.patientID }
func (b *Bill) Status() Status              { return b.status }
func (b *Bill) Subtotal() decimal.Decimal   { return b.subtotal }
func (b *Bill) Discount() decimal.Decimal   { return b.discount }
func (b *Bill) Tax() decimal.Decimal        { return b.tax }
func (b *Bill) Total() decimal.Decimal      { return b.total }
func (b *Bill) Paid() decimal.Decimal       { return b.paid }
func (b *Bill) BalanceDue() decimal.Decimal { return b.balance }
func (b *Bill) Version() int                { return b.version }
func (b *Bill) CreatedAt() time.Time        { return b.createdAt }
func (b *Bill) FinalizedAt() *time.Time     { return b.finalizedAt }
func (b *Bill) CancelledAt() *time.Time     { return b.cancelledAt }

func (b *Bill) TaxLines() []TaxLine {
	return append([]TaxLine(nil), b.taxLines...)
}

func (b *Bill) Items() []*BillItem {
	return append([]*BillItem(nil), b.items...)
}

func (b *Bill) Payments() []*Payment {
	return append([]*Payment(nil), b.payments...)
}

// AddItem appends a charge priced from the tariff row t.
func (b *Bill) AddItem(t *tariff.TariffItem, quantity int, createdBy string, now time.Time) (*BillItem, error) {
	if b.status != StatusDraft {
		return nil, fmt.Errorf("bill %s is %s: %w", b.number, b.status, ErrBillNotEditable)
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	item := &BillItem{
		ID:          uuid.New(),
		BillID:      b.id,
		Category:    t.Category,
		ItemCode:    t.Code,
		Description: t.Description,
		Quantity:    quantity,
		UnitPrice:   t.UnitPrice,
		TotalPrice:  t.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
		CreatedAt:   now,
	}
	if createdBy != "" {
		item.CreatedBy = &createdBy
	}
	b.items = append(b.items, item)
	b.newItems = append(b.newItems, item)
	b.subtotal = b.subtotal.Add(item.TotalPrice)
	b.recompute(now)
	return item, nil
}

// ApplyDiscount replaces the discount on a draft bill.
func (b *Bill) ApplyDiscount(amount decimal.Decimal, now time.Time) error {
	if b.status != StatusDraft {
		return fmt.Errorf("bill %s is %s: %w", b.number, b.status, ErrBillNotEditable)
	}
	if amount.IsNegative() || !isPaise(amount) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(b.subtotal) {
		return fmt.Errorf("discount %s over subtotal %s: %w", amount.StringFixed(2), b.subtotal.StringFixed(2), ErrDiscountExceedsSubtotal)
	}
	b.discount = amount
	b.recompute(now)
	return nil
}

// Finalize computes and freezes tax. A zero total settles immediately.
func (b *Bill) Finalize(tax TaxPolicy, by string, now time.Time) error {
	switch {
	case b.status == StatusCancelled:
		return fmt.Errorf("bill %s: %w", b.number, ErrBillCancelled)
	case !b.canMoveTo(StatusPending):
		return fmt.Errorf("bill %s is %s: %w", b.number, b.status, ErrAlreadyFinalized)
	}
	b.taxLines = tax.Lines(b.subtotal.Sub(b.discount))
	b.tax = decimal.Zero
	for _, l := range b.taxLines {
		b.tax = b.tax.Add(l.Amount)
	}
	b.recompute(now)

	b.status = StatusPending
	if b.balance.IsZero() {
		b.status = StatusPaid
	}
	b.finalizedAt = &now
	if by != "" {
		b.finalizedBy = &by
	}
	return nil
}

// Cancel voids a draft, or a finalized bill that has not received money.
// A bill settled at finalization (zero total) counts as paid.
func (b *Bill) Cancel(by string, now time.Time) error {
	if b.status == StatusCancelled {
		return fmt.Errorf("bill %s: %w", b.number, ErrBillCancelled)
	}
	if !b.canMoveTo(StatusCancelled) || !b.paid.IsZero() {
		return fmt.Errorf("bill %s is %s with %s paid: %w", b.number, b.status, b.paid.StringFixed(2), ErrCannotCancelPaidBill)
	}
	b.status = StatusCancelled
	b.cancelledAt = &now
	if by != "" {
		b.cancelledBy = &by
	}
	b.updatedAt = now
	return nil
}

// ApplyPayment posts p against the balance. p.BillID and p.ID are set here.
func (b *Bill) ApplyPayment(p *Payment, now time.Time) error {
	if !b.status.Payable() {
		if b.status == StatusCancelled {
			return fmt.Errorf("bill %s: %w", b.number, ErrBillCancelled)
		}
		return fmt.Errorf("bill %s is %s: %w", b.number, b.status, ErrBillNotPayable)
	}
	if !p.Amount.IsPositive() || !isPaise(p.Amount) {
		return ErrInvalidAmount
	}
	if p.Amount.GreaterThan(b.balance) {
		return fmt.Errorf("amount %s over balance %s: %w", p.Amount.StringFixed(2), b.balance.StringFixed(2), ErrAmountExceedsBalance)
	}

	next := StatusPartial
	if p.Amount.Equal(b.balance) {
		next = StatusPaid
	}
	if !b.canMoveTo(next) {
		return fmt.Errorf("bill %s is %s: %w", b.number, b.status, ErrBillNotPayable)
	}

	p.ID = uuid.New()
	p.BillID = b.id
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = now
	}
	b.payments = append(b.payments, p)
	b.newPayments = append(b.newPayments, p)
	b.paid = b.paid.Add(p.Amount)
	b.recompute(now)
	b.status = next
	return nil
}

func (b *Bill) recompute(now time.Time) {
	b.total = b.subtotal.Sub(b.discount).Add(b.tax)
	b.balance = b.total.Sub(b.paid)
	b.updatedAt = now
}

// CheckInvariants verifies the arithmetic and status rules of the ledger.
// Items and payments are only summed when they are loaded.
func (b *Bill) CheckInvariants() error {
	if !b.total.Equal(b.subtotal.Sub(b.discount).Add(b.tax)) {
		return fmt.Errorf("total %s != subtotal %s - discount %s + tax %s", b.total, b.subtotal, b.discount, b.tax)
	}
	if !b.balance.Equal(b.total.Sub(b.paid)) {
		return fmt.Errorf("balance %s != total %s - paid %s", b.balance, b.total, b.paid)
	}
	if b.balance.IsNegative() {
		return fmt.Errorf("negative balance %s", b.balance)
	}
	if b.discount.IsNegative() || b.discount.GreaterThan(b.subtotal) {
		return fmt.Errorf("discount %s outside [0, %s]", b.discount, b.subtotal)
	}
	if b.items != nil {
		sum := decimal.Zero
		for _, it := range b.items {
			sum = sum.Add(it.TotalPrice)
		}
		if !sum.Equal(b.subtotal) {
			return fmt.Errorf("subtotal %s != item sum %s", b.subtotal, sum)
		}
	}
	if b.payments != nil {
		sum := decimal.Zero
		for _, p := range b.payments {
			sum = sum.Add(p.Amount)
		}
		if !sum.Equal(b.paid) {
			return fmt.Errorf("paid %s != payment sum %s", b.paid, sum)
		}
	}
	switch b.status {
	case StatusPaid:
		if !b.balance.IsZero() {
			return fmt.Errorf("paid bill has balance %s", b.balance)
		}
	case StatusPartial:
		if !b.balance.IsPositive() || !b.balance.LessThan(b.total) {
			return fmt.Errorf("partial bill balance %s not in (0, %s)", b.balance, b.total)
		}
	}
	return nil
}

// canMoveTo is the bill state machine. Paid and cancelled are terminal and
// only a bill without receipts may be cancelled.
func (b *Bill) canMoveTo(next Status) bool {
	switch b.status {
	case StatusDraft:
		return next == StatusPending || next == StatusPaid || next == StatusCancelled
	case StatusFinalized, StatusPending:
		return next == StatusPartial || next == StatusPaid || next == StatusCancelled
	case StatusPartial:
		return next == StatusPartial || next == StatusPaid
	}
	return false
}

func (b *Bill) pending() ([]*BillItem, []*Payment) {
	return b.newItems, b.newPayments
}

func (b *Bill) flushed() {
	b.newItems = nil
	b.newPayments = nil
	b.version++
}

func (b *Bill) clone() *Bill {
	c := *b
	c.taxLines = append([]TaxLine(nil), b.taxLines...)
	c.items = append([]*BillItem(nil), b.items...)
	c.payments = append([]*Payment(nil), b.payments...)
	c.newItems = nil
	c.newPayments = nil
	return &c
}

func isPaise(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

type billJSON struct {
	ID             uuid.UUID   `json:"id"`
	BillNumber     string      `json:"bill_number"`
	EncounterID    uuid.UUID   `json:"encounter_id"`
	PatientID      uuid.UUID   `json:"patient_id"`
	Status         Status      `json:"status"`
	Subtotal       string      `json:"subtotal"`
	DiscountAmount string      `json:"discount_amount"`
	TaxAmount      string      `json:"tax_amount"`
	TaxLines       []TaxLine   `json:"tax_lines"`
	TotalAmount    string      `json:"total_amount"`
	PaidAmount     string      `json:"paid_amount"`
	BalanceDue     string      `json:"balance_due"`
	Version        int         `json:"version"`
	CreatedBy      *string     `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	FinalizedAt    *time.Time  `json:"finalized_at,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
	Items          []*BillItem `json:"items"`
	Payments       []*Payment  `json:"payments"`
}

func (b *Bill) MarshalJSON() ([]byte, error) {
	items, payments := b.items, b.payments
	if items == nil {
		items = []*BillItem{}
	}
	if payments == nil {
		payments = []*Payment{}
	}
	taxLines := b.taxLines
	if taxLines == nil {
		taxLines = []TaxLine{}
	}
	return json.Marshal(billJSON{
		ID:             b.id,
		BillNumber:     b.number,
		EncounterID:    b.encounterID,
		PatientID:      b.patientID,
		Status:         b.status,
		Subtotal:       b.subtotal.StringFixed(2),
		DiscountAmount: b.discount.StringFixed(2),
		TaxAmount:      b.tax.StringFixed(2),
		TaxLines:       taxLines,
		TotalAmount:    b.total.StringFixed(2),
		PaidAmount:     b.paid.StringFixed(2),
		BalanceDue:     b.balance.StringFixed(2),
		Version:        b.version,
		CreatedBy:      b.createdBy,
		CreatedAt:      b.createdAt,
		FinalizedAt:    b.finalizedAt,
		CancelledAt:    b.cancelledAt,
		Items:          items,
		Payments:       payments,
	})
}
