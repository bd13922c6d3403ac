package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
)

// Status is the lifecycle state of a bill.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized" // legacy rows; treated as pending
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusFinalized, StatusPending, StatusPartial, StatusPaid, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown bill status %q", s)
}

// Payable reports whether payments may be posted in this state.
func (s Status) Payable() bool {
	return s == StatusFinalized || s == StatusPending || s == StatusPartial
}

// Finalized reports whether the bill has left draft and was not cancelled.
func (s Status) Finalized() bool {
	return s.Payable() || s == StatusPaid
}

// PaymentMode is how money was received.
type PaymentMode string

const (
	ModeCash      PaymentMode = "cash"
	ModeCard      PaymentMode = "card"
	ModeUPI       PaymentMode = "upi"
	ModeNEFT      PaymentMode = "neft"
	ModeCheque    PaymentMode = "cheque"
	ModeOnline    PaymentMode = "online"
	ModeInsurance PaymentMode = "insurance"
)

var PaymentModes = []PaymentMode{ModeCash, ModeCard, ModeUPI, ModeNEFT, ModeCheque, ModeOnline, ModeInsurance}

func ParsePaymentMode(s string) (PaymentMode, error) {
	m := PaymentMode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range PaymentModes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("payment mode %q: %w", s, ErrInvalidPaymentMode)
}

// CounterMode reports whether a cashier may post this mode directly.
// Insurance money only arrives through claim settlement.
func (m PaymentMode) CounterMode() bool {
	return m != ModeInsurance
}

// TaxLine is one half of the split tax stored at finalization.
type TaxLine struct {
	Label       string          `json:"label"`
	RatePercent decimal.Decimal `json:"rate_percent"`
	Amount      decimal.Decimal `json:"amount"`
}

// BillItem is an immutable charge line. UnitPrice is the tariff price at
// the moment the item was added.
type BillItem struct {
	ID          uuid.UUID       `json:"id"`
	BillID      uuid.UUID       `json:"bill_id"`
	Category    tariff.Category `json:"category"`
	ItemCode    string          `json:"item_code"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CreatedBy   *string         `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Payment is an append-only receipt against a bill.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	BillID     uuid.UUID       `json:"bill_id"`
	Amount     decimal.Decimal `json:"amount"`
	Mode       PaymentMode     `json:"mode"`
	Reference  *string         `json:"reference,omitempty"`
	ReceivedBy string          `json:"received_by"`
	ReceivedAt time.Time       `json:"received_at"`
}

// TaxPolicy is the flat percentage applied at finalization, split into two
// equal labelled halves.
type TaxPolicy struct {
	RatePercent decimal.Decimal
	Labels      [2]string
}

func NewTaxPolicy(ratePercent decimal.Decimal, labels []string) TaxPolicy {
	p := TaxPolicy{RatePercent: ratePercent, Labels: [2]string{"CGST", "SGST"}}
	if len(labels) == 2 {
		p.Labels = [2]string{labels[0], labels[1]}
	}
	return p
}

// Lines computes the two tax halves on base. The tax is rounded to paise
// once; the second half is rounded down and an odd paisa goes to the first.
func (p TaxPolicy) Lines(base decimal.Decimal) []TaxLine {
	halfRate := p.RatePercent.Div(decimal.NewFromInt(2))
	total := base.Mul(p.RatePercent).Div(decimal.NewFromInt(100)).Round(2)
	second := total.Div(decimal.NewFromInt(2)).RoundFloor(2)
	return []TaxLine{
		{Label: p.Labels[0], RatePercent: halfRate, Amount: total.Sub(second)},
		{Label: p.Labels[1], RatePercent: halfRate, Amount: second},
	}
}

// BillFilter narrows SearchBills. Zero values match everything.
type BillFilter struct {
	Status      Status
	EncounterID *uuid.UUID
	PatientID   *uuid.UUID
}

// PatientSummary totals every non-cancelled bill of a patient.
type PatientSummary struct {
	PatientID   uuid.UUID       `json:"patient_id"`
	UHID        string          `json:"uhid,omitempty"`
	Name        string          `json:"name,omitempty"`
	BillCount   int             `json:"bill_count"`
	TotalBilled decimal.Decimal `json:"total_billed"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	ByCategory  []CategoryTotal `json:"by_category"`
}

type CategoryTotal struct {
	Category tariff.Category `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}
