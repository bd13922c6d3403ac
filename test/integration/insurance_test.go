package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/billing/internal/domain/billing"
	"github.com/medflow/billing/internal/domain/insurance"
	"github.com/medflow/billing/internal/platform/auth"
)

func createPolicy(t *testing.T, tenant string, svc *services, patientID uuid.UUID, from, to time.Time) *insurance.Policy {
	t.Helper()
	var p *insurance.Policy
	mustInTenant(t, tenant, func(ctx context.Context) error {
		var err error
		p, err = svc.policies.CreatePolicy(ctx, insurance.CreatePolicyInput{
			PatientID:    patientID,
			Insurer:      "STAR",
			PolicyNumber: "SH-" + uuid.NewString()[:8],
			PolicyType:   insurance.PolicyCashless,
			SumInsured:   dec("300000"),
			ValidFrom:    from,
			ValidTo:      to,
			TPA:          "MEDI_ASSIST",
		})
		return err
	})
	return p
}

func TestScenario_ClaimSettlement(t *testing.T) {
	tenant := newTenant(t, "claim")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)
	now := time.Now().UTC()
	policy := createPolicy(t, tenant, svc, patientID, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))

	if policy.InsurerName != "Star Health Insurance" {
		t.Errorf("insurer code should resolve to its name, got %q", policy.InsurerName)
	}

	var claimID uuid.UUID
	mustInTenant(t, tenant, func(ctx context.Context) error {
		c, err := svc.claims.Submit(ctx, bill.ID(), policy.ID, bill.Total())
		if err != nil {
			return err
		}
		claimID = c.ID
		if c.Status() != insurance.ClaimSubmitted {
			t.Errorf("status = %s, want submitted", c.Status())
		}
		_, err = svc.claims.Submit(ctx, bill.ID(), policy.ID, bill.Total())
		if !errors.Is(err, insurance.ErrActiveClaimExists) {
			t.Errorf("second submit: expected ErrActiveClaimExists, got %v", err)
		}
		return nil
	})

	total := bill.Total()
	if err := inTenant(t, tenant, auth.RoleTPA, func(ctx context.Context) error {
		c, err := svc.claims.Decide(ctx, claimID, insurance.ClaimApproved, &total, "")
		if err != nil {
			return err
		}
		if c.Status() != insurance.ClaimApproved || !c.ApprovedAmount.Equal(total) {
			t.Errorf("after decide: status=%s approved=%v", c.Status(), c.ApprovedAmount)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	mustInTenant(t, tenant, func(ctx context.Context) error {
		c, err := svc.claims.Settle(ctx, claimID, total)
		if err != nil {
			return err
		}
		if c.Status() != insurance.ClaimSettled || c.PaymentID == nil {
			t.Errorf("after settle: status=%s payment=%v", c.Status(), c.PaymentID)
		}

		b, err := svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if b.Status() != billing.StatusPaid || !b.BalanceDue().IsZero() {
			t.Errorf("bill after settle: status=%s balance=%s", b.Status(), b.BalanceDue())
		}
		payments, err := svc.payments.ListPayments(ctx, bill.ID())
		if err != nil {
			return err
		}
		if len(payments) != 1 || payments[0].Mode != billing.ModeInsurance || payments[0].ID != *c.PaymentID {
			t.Errorf("expected one insurance payment linked to the claim, got %+v", payments)
		}

		if _, err := svc.claims.Settle(ctx, claimID, total); err == nil {
			t.Error("settling twice should fail")
		}
		return nil
	})
}

func TestClaimSettlementRollsBackWhenPaymentFails(t *testing.T) {
	tenant := newTenant(t, "rb")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)
	now := time.Now().UTC()
	policy := createPolicy(t, tenant, svc, patientID, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))

	mustInTenant(t, tenant, func(ctx context.Context) error {
		c, err := svc.claims.Submit(ctx, bill.ID(), policy.ID, bill.Total())
		if err != nil {
			return err
		}
		total := bill.Total()
		if _, err := svc.claims.Decide(ctx, c.ID, insurance.ClaimApproved, &total, ""); err != nil {
			return err
		}
		// The patient pays cash first, leaving nothing for the insurer.
		if _, err := svc.payments.RecordPayment(ctx, bill.ID(), total, billing.ModeCash, "cashier", ""); err != nil {
			return err
		}

		if _, err := svc.claims.Settle(ctx, c.ID, total); !errors.Is(err, billing.ErrBillNotPayable) {
			t.Errorf("expected ErrBillNotPayable from the ledger, got %v", err)
		}
		got, err := svc.claims.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		if got.Status() != insurance.ClaimApproved || got.PaymentID != nil {
			t.Errorf("claim should be untouched after a failed settlement: %s", got.Status())
		}
		return nil
	})
}

func TestScenario_PreAuthOnExpiredPolicy(t *testing.T) {
	tenant := newTenant(t, "pa")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	policy := createPolicy(t, tenant, svc, patientID, now.AddDate(-1, 0, 0), yesterday)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		_, err := svc.preauths.Request(ctx, policy.ID, encounterID, dec("50000"))
		if !errors.Is(err, insurance.ErrPolicyExpired) {
			t.Errorf("expected ErrPolicyExpired, got %v", err)
		}
		list, err := svc.preauths.ListByPolicy(ctx, policy.ID)
		if err != nil {
			return err
		}
		if len(list) != 0 {
			t.Errorf("rejected request must not be stored, found %d", len(list))
		}
		return nil
	})
}

func TestPreAuthDecisionAndSweep(t *testing.T) {
	tenant := newTenant(t, "sweep")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	now := time.Now().UTC()
	policy := createPolicy(t, tenant, svc, patientID, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))

	mustInTenant(t, tenant, func(ctx context.Context) error {
		decided, err := svc.preauths.Request(ctx, policy.ID, encounterID, dec("40000"))
		if err != nil {
			return err
		}
		approved := dec("35000")
		pa, err := svc.preauths.Decide(ctx, decided.ID, true, &approved, "partial cover")
		if err != nil {
			return err
		}
		if pa.Status() != insurance.PreAuthApproved || !pa.ApprovedAmount.Equal(approved) {
			t.Errorf("decided pre-auth = %s %v", pa.Status(), pa.ApprovedAmount)
		}
		if _, err := svc.preauths.Decide(ctx, decided.ID, false, nil, "again"); !errors.Is(err, insurance.ErrAlreadyDecided) {
			t.Errorf("expected ErrAlreadyDecided, got %v", err)
		}

		pending, err := svc.preauths.Request(ctx, policy.ID, encounterID, dec("10000"))
		if err != nil {
			return err
		}

		// A zero window makes everything still waiting stale.
		res, err := svc.sweeper.FlagStale(ctx, 0)
		if err != nil {
			return err
		}
		if res.PreAuths != 1 {
			t.Errorf("expected one stale pre-auth, got %d", res.PreAuths)
		}
		got, err := svc.preauths.Get(ctx, pending.ID)
		if err != nil {
			return err
		}
		if got.FlaggedAt == nil || got.Status() != insurance.PreAuthPending {
			t.Errorf("sweep must flag without changing status: %s flagged=%v", got.Status(), got.FlaggedAt)
		}

		again, err := svc.sweeper.FlagStale(ctx, 0)
		if err != nil {
			return err
		}
		if again.PreAuths != 0 {
			t.Errorf("already flagged pre-auths must not be flagged twice, got %d", again.PreAuths)
		}
		return nil
	})
}

func TestOpenClaimBlocksCancelAndKeepsHistory(t *testing.T) {
	tenant := newTenant(t, "thread")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)
	now := time.Now().UTC()
	policy := createPolicy(t, tenant, svc, patientID, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))

	var claimID uuid.UUID
	mustInTenant(t, tenant, func(ctx context.Context) error {
		c, err := svc.claims.Submit(ctx, bill.ID(), policy.ID, bill.Total())
		if err != nil {
			return err
		}
		claimID = c.ID
		if _, err := svc.ledger.Cancel(ctx, bill.ID()); !errors.Is(err, billing.ErrBillHasOpenClaim) {
			t.Errorf("cancel with a submitted claim: expected ErrBillHasOpenClaim, got %v", err)
		}
		_, err = svc.claims.PostMessage(ctx, claimID, "  discharge summary attached  ")
		return err
	})

	if err := inTenant(t, tenant, auth.RoleTPA, func(ctx context.Context) error {
		if _, err := svc.claims.PostMessage(ctx, claimID, "policy excludes this procedure"); err != nil {
			return err
		}
		_, err := svc.claims.Decide(ctx, claimID, insurance.ClaimRejected, nil, "exclusion 4.2")
		return err
	}); err != nil {
		t.Fatal(err)
	}

	mustInTenant(t, tenant, func(ctx context.Context) error {
		events, err := svc.claims.History(ctx, claimID)
		if err != nil {
			return err
		}
		if len(events) != 2 {
			t.Fatalf("expected submission and rejection events, got %d", len(events))
		}
		if events[0].From != nil || events[0].To != insurance.ClaimSubmitted {
			t.Errorf("first event = %v -> %s", events[0].From, events[0].To)
		}
		last := events[1]
		if last.From == nil || *last.From != insurance.ClaimSubmitted || last.To != insurance.ClaimRejected {
			t.Errorf("second event = %v -> %s", last.From, last.To)
		}
		if last.Note == nil || *last.Note != "exclusion 4.2" || last.PerformedBy == nil || *last.PerformedBy != "it-"+auth.RoleTPA {
			t.Errorf("rejection event note=%v by=%v", last.Note, last.PerformedBy)
		}

		msgs, err := svc.claims.Messages(ctx, claimID)
		if err != nil {
			return err
		}
		if len(msgs) != 2 || msgs[0].SenderRole != insurance.SenderHospital || msgs[1].SenderRole != insurance.SenderTPA {
			t.Fatalf("unexpected thread: %+v", msgs)
		}
		if msgs[0].Body != "discharge summary attached" {
			t.Errorf("message body should be trimmed, got %q", msgs[0].Body)
		}

		// A rejected claim no longer holds the bill.
		b, err := svc.ledger.Cancel(ctx, bill.ID())
		if err != nil {
			return err
		}
		if b.Status() != billing.StatusCancelled {
			t.Errorf("status = %s, want cancelled", b.Status())
		}
		return nil
	})
}
