package insurance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PolicyType string

const (
	PolicyCashless      PolicyType = "cashless"
	PolicyReimbursement PolicyType = "reimbursement"
)

type Policy struct {
	ID           uuid.UUID       `json:"id"`
	PatientID    uuid.UUID       `json:"patient_id"`
	InsurerName  string          `json:"insurer_name"`
	PolicyNumber string          `json:"policy_number"`
	PolicyType   PolicyType      `json:"policy_type"`
	SumInsured   decimal.Decimal `json:"sum_insured"`
	ValidFrom    time.Time       `json:"valid_from"`
	ValidTo      time.Time       `json:"valid_to"`
	TPAName      *string         `json:"tpa_name,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ActiveAt reports whether at falls inside the policy's validity window,
// both ends inclusive.
func (p *Policy) ActiveAt(at time.Time) bool {
	return !at.Before(p.ValidFrom) && !at.After(p.ValidTo)
}

// PreAuthStatus is the lifecycle state of a pre-authorization.
type PreAuthStatus string

const (
	PreAuthPending  PreAuthStatus = "pending"
	PreAuthApproved PreAuthStatus = "approved"
	PreAuthRejected PreAuthStatus = "rejected"
)

// PreAuthorization is an advance approval of estimated cost. Its status
// only moves through Decide.
type PreAuthorization struct {
	ID              uuid.UUID        `json:"id"`
	PolicyID        uuid.UUID        `json:"policy_id"`
	EncounterID     uuid.UUID        `json:"encounter_id"`
	RequestedAmount decimal.Decimal  `json:"requested_amount"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	Remarks         *string          `json:"remarks,omitempty"`
	RequestedBy     *string          `json:"requested_by,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	DecidedBy       *string          `json:"decided_by,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	FlaggedAt       *time.Time       `json:"flagged_at,omitempty"`
	Version         int              `json:"version"`

	status PreAuthStatus
}

func (p *PreAuthorization) Status() PreAuthStatus { return p.status }

// Decide moves a pending request to approved or rejected. An approval
// without an amount approves what was requested.
func (p *PreAuthorization) Decide(approve bool, approved *decimal.Decimal, remarks, by string, now time.Time) error {
	if p.status != PreAuthPending {
		return fmt.Errorf("pre-auth %s is %s: %w", p.ID, p.status, ErrAlreadyDecided)
	}
	if approve {
		amount := p.RequestedAmount
		if approved != nil {
			amount = *approved
		}
		if !amount.IsPositive() || !isPaise(amount) {
			return ErrInvalidAmount
		}
		if amount.GreaterThan(p.RequestedAmount) {
			return fmt.Errorf("approved %s over requested %s: %w", amount.StringFixed(2), p.RequestedAmount.StringFixed(2), ErrApprovedAmountExceedsRequest)
		}
		p.ApprovedAmount = &amount
		p.status = PreAuthApproved
	} else {
		p.ApprovedAmount = nil
		p.status = PreAuthRejected
	}
	if remarks != "" {
		p.Remarks = &remarks
	}
	if by != "" {
		p.DecidedBy = &by
	}
	p.DecidedAt = &now
	return nil
}

func (p *PreAuthorization) MarshalJSON() ([]byte, error) {
	type alias PreAuthorization
	return json.Marshal(struct {
		*alias
		Status PreAuthStatus `json:"status"`
	}{(*alias)(p), p.status})
}

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimSubmitted         ClaimStatus = "submitted"
	ClaimApproved          ClaimStatus = "approved"
	ClaimPartiallyApproved ClaimStatus = "partially-approved"
	ClaimRejected          ClaimStatus = "rejected"
	ClaimQuery             ClaimStatus = "query"
	ClaimSettled           ClaimStatus = "settled"
)

func ParseClaimStatus(s string) (ClaimStatus, error) {
	switch st := ClaimStatus(s); st {
	case ClaimSubmitted, ClaimApproved, ClaimPartiallyApproved, ClaimRejected, ClaimQuery, ClaimSettled:
		return st, nil
	}
	return "", fmt.Errorf("unknown claim status %q: %w", s, ErrInvalidOutcome)
}

// Terminal reports whether no further transition is possible.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRejected || s == ClaimSettled
}

// Decidable reports whether a TPA decision may be recorded.
func (s ClaimStatus) Decidable() bool {
	return s == ClaimSubmitted || s == ClaimQuery
}

// Claim requests reimbursement of a finalized bill against a policy.
type Claim struct {
	ID              uuid.UUID        `json:"id"`
	BillID          uuid.UUID        `json:"bill_id"`
	PolicyID        uuid.UUID        `json:"policy_id"`
	ClaimAmount     decimal.Decimal  `json:"claim_amount"`
	ApprovedAmount  *decimal.Decimal `json:"approved_amount,omitempty"`
	SettledAmount   *decimal.Decimal `json:"settled_amount,omitempty"`
	PaymentID       *uuid.UUID       `json:"payment_id,omitempty"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
	QueryNote       *string          `json:"query_note,omitempty"`
	SubmittedBy     *string          `json:"submitted_by,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	DecidedBy       *string          `json:"decided_by,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
	FlaggedAt       *time.Time       `json:"flagged_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Version         int              `json:"version"`

	status ClaimStatus
}

func (c *Claim) Status() ClaimStatus { return c.status }

// Decide records a TPA outcome on a submitted or queried claim.
func (c *Claim) Decide(outcome ClaimStatus, approved *decimal.Decimal, reason, by string, now time.Time) error {
	if !c.status.Decidable() {
		return fmt.Errorf("claim %s is %s: %w", c.ID, c.status, ErrAlreadyDecided)
	}
	switch outcome {
	case ClaimApproved, ClaimPartiallyApproved:
		amount := c.ClaimAmount
		switch {
		case approved != nil:
			amount = *approved
		case outcome == ClaimPartiallyApproved:
			return fmt.Errorf("partial approval needs an approved amount: %w", ErrInvalidAmount)
		}
		if !amount.IsPositive() || !isPaise(amount) {
			return ErrInvalidAmount
		}
		if amount.GreaterThan(c.ClaimAmount) {
			return fmt.Errorf("approved %s over claimed %s: %w", amount.StringFixed(2), c.ClaimAmount.StringFixed(2), ErrApprovedAmountExceedsClaim)
		}
		if outcome == ClaimPartiallyApproved && !amount.LessThan(c.ClaimAmount) {
			return ErrPartialApprovalNotPartial
		}
		c.ApprovedAmount = &amount
		c.RejectionReason = nil
	case ClaimRejected:
		if reason == "" {
			return ErrRejectionReasonRequired
		}
		c.ApprovedAmount = nil
		c.RejectionReason = &reason
	case ClaimQuery:
		if reason == "" {
			return fmt.Errorf("claim %s: %w", c.ID, ErrQueryNoteRequired)
		}
		c.QueryNote = &reason
	default:
		return fmt.Errorf("%q is not a decision: %w", outcome, ErrInvalidOutcome)
	}

	c.status = outcome
	if by != "" {
		c.DecidedBy = &by
	}
	c.DecidedAt = &now
	c.UpdatedAt = now
	return nil
}

// RespondToQuery answers a TPA query and puts the claim back in the queue.
func (c *Claim) RespondToQuery(note string, now time.Time) error {
	if c.status != ClaimQuery {
		return fmt.Errorf("claim %s is %s: %w", c.ID, c.status, ErrNotInQuery)
	}
	if note != "" {
		n := note
		if c.QueryNote != nil {
			n = *c.QueryNote + "\n--\n" + note
		}
		c.QueryNote = &n
	}
	c.status = ClaimSubmitted
	c.FlaggedAt = nil
	c.UpdatedAt = now
	return nil
}

// Settle marks an approved claim paid by the payment that carried the money.
func (c *Claim) Settle(amount decimal.Decimal, paymentID uuid.UUID, now time.Time) error {
	if c.status != ClaimApproved && c.status != ClaimPartiallyApproved {
		return fmt.Errorf("claim %s is %s: %w", c.ID, c.status, ErrClaimNotApproved)
	}
	c.SettledAmount = &amount
	c.PaymentID = &paymentID
	c.SettledAt = &now
	c.UpdatedAt = now
	c.status = ClaimSettled
	return nil
}

func (c *Claim) MarshalJSON() ([]byte, error) {
	type alias Claim
	return json.Marshal(struct {
		*alias
		Status ClaimStatus `json:"status"`
	}{(*alias)(c), c.status})
}

// ClaimEvent is one row of a claim's status history. From is nil for the
// submission.
type ClaimEvent struct {
	ID          uuid.UUID    `json:"id"`
	ClaimID     uuid.UUID    `json:"claim_id"`
	From        *ClaimStatus `json:"from_status,omitempty"`
	To          ClaimStatus  `json:"to_status"`
	PerformedBy *string      `json:"performed_by,omitempty"`
	Note        *string      `json:"note,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func newClaimEvent(claimID uuid.UUID, from *ClaimStatus, to ClaimStatus, by, note string, now time.Time) *ClaimEvent {
	e := &ClaimEvent{ID: uuid.New(), ClaimID: claimID, From: from, To: to, CreatedAt: now}
	if by != "" {
		e.PerformedBy = &by
	}
	if note != "" {
		e.Note = &note
	}
	return e
}

// SenderRole says which side of a claim wrote a message.
type SenderRole string

const (
	SenderHospital SenderRole = "hospital"
	SenderTPA      SenderRole = "tpa"
)

// maxMessageLen bounds a grievance message body.
const maxMessageLen = 4000

// ClaimMessage is one entry in the grievance thread of a claim.
type ClaimMessage struct {
	ID         uuid.UUID  `json:"id"`
	ClaimID    uuid.UUID  `json:"claim_id"`
	SenderID   *string    `json:"sender_id,omitempty"`
	SenderRole SenderRole `json:"sender_role"`
	Body       string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Options are the pick lists offered on policy intake.
type Options struct {
	Insurers []Option `json:"insurers"`
	TPAs     []Option `json:"tpas"`
}

type Option struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func isPaise(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func newPreAuth(policyID, encounterID uuid.UUID, amount decimal.Decimal, by string, now time.Time) *PreAuthorization {
	p := &PreAuthorization{
		ID:              uuid.New(),
		PolicyID:        policyID,
		EncounterID:     encounterID,
		RequestedAmount: amount,
		RequestedAt:     now,
		Version:         1,
		status:          PreAuthPending,
	}
	if by != "" {
		p.RequestedBy = &by
	}
	return p
}

func newClaim(billID, policyID uuid.UUID, amount decimal.Decimal, by string, now time.Time) *Claim {
	c := &Claim{
		ID:          uuid.New(),
		BillID:      billID,
		PolicyID:    policyID,
		ClaimAmount: amount,
		SubmittedAt: now,
		UpdatedAt:   now,
		Version:     1,
		status:      ClaimSubmitted,
	}
	if by != "" {
		c.SubmittedBy = &by
	}
	return c
}
