package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/medflow/billing/internal/domain/billing"
	"github.com/medflow/billing/internal/platform/auth"
)

func TestScenario_FinalizeConsultation(t *testing.T) {
	tenant := newTenant(t, "fin")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)

	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)

	if bill.Status() != billing.StatusPending {
		t.Errorf("status = %s, want pending", bill.Status())
	}
	if !bill.Subtotal().Equal(dec("500")) || !bill.Tax().Equal(dec("90")) || !bill.Total().Equal(dec("590")) {
		t.Errorf("totals subtotal=%s tax=%s total=%s", bill.Subtotal(), bill.Tax(), bill.Total())
	}
	if !bill.BalanceDue().Equal(bill.Total()) {
		t.Errorf("balance %s should equal total %s", bill.BalanceDue(), bill.Total())
	}
	lines := bill.TaxLines()
	if len(lines) != 2 || !lines[0].Amount.Equal(dec("45")) || !lines[1].Amount.Equal(dec("45")) {
		t.Errorf("expected two 45.00 tax lines, got %+v", lines)
	}

	// The persisted row must read back identically.
	mustInTenant(t, tenant, func(ctx context.Context) error {
		got, err := svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if !got.Total().Equal(bill.Total()) || len(got.Items()) != 1 || got.Number() != bill.Number() {
			t.Errorf("reloaded bill differs: total=%s items=%d", got.Total(), len(got.Items()))
		}
		return got.CheckInvariants()
	})
}

func TestScenario_TwoPartialPayments(t *testing.T) {
	tenant := newTenant(t, "pay")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		if _, err := svc.payments.RecordPayment(ctx, bill.ID(), dec("300"), billing.ModeCash, "cashier-1", ""); err != nil {
			return err
		}
		b, err := svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if b.Status() != billing.StatusPartial || !b.BalanceDue().Equal(dec("290")) {
			t.Errorf("after first payment: status=%s balance=%s", b.Status(), b.BalanceDue())
		}

		if _, err := svc.payments.RecordPayment(ctx, bill.ID(), b.BalanceDue(), billing.ModeUPI, "cashier-1", "UPI-771"); err != nil {
			return err
		}
		b, err = svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if b.Status() != billing.StatusPaid || !b.BalanceDue().IsZero() {
			t.Errorf("after second payment: status=%s balance=%s", b.Status(), b.BalanceDue())
		}

		payments, err := svc.payments.ListPayments(ctx, bill.ID())
		if err != nil {
			return err
		}
		if len(payments) != 2 {
			t.Errorf("expected 2 payments, got %d", len(payments))
		}

		if _, err := svc.payments.RecordPayment(ctx, bill.ID(), dec("1"), billing.ModeCash, "cashier-1", ""); !errors.Is(err, billing.ErrBillNotPayable) {
			t.Errorf("payment on paid bill: expected ErrBillNotPayable, got %v", err)
		}
		return nil
	})
}

func TestScenario_AddItemToFinalizedBill(t *testing.T) {
	tenant := newTenant(t, "edit")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		_, err := svc.ledger.AddItem(ctx, bill.ID(), "LAB-CBC", 1)
		if !errors.Is(err, billing.ErrBillNotEditable) {
			t.Errorf("expected ErrBillNotEditable, got %v", err)
		}
		b, err := svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if !b.Total().Equal(bill.Total()) || len(b.Items()) != 1 || b.Version() != bill.Version() {
			t.Errorf("bill changed after rejected add: total=%s items=%d version=%d", b.Total(), len(b.Items()), b.Version())
		}
		return nil
	})
}

func TestOneDraftPerEncounter(t *testing.T) {
	tenant := newTenant(t, "draft")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		if _, err := svc.ledger.CreateBill(ctx, encounterID, patientID); err != nil {
			return err
		}
		if _, err := svc.ledger.CreateBill(ctx, encounterID, patientID); !errors.Is(err, billing.ErrDraftBillExists) {
			t.Errorf("expected ErrDraftBillExists, got %v", err)
		}
		b, _, err := svc.ledger.PostCharge(ctx, encounterID, patientID, "LAB-CBC", 2)
		if err != nil {
			return err
		}
		if len(b.Items()) != 1 {
			t.Errorf("charge should join the open draft, got %d items", len(b.Items()))
		}
		return nil
	})
}

// Two cashiers paying the full balance at the same time: exactly one wins.
func TestConcurrentFullBalancePayments(t *testing.T) {
	tenant := newTenant(t, "race")
	svc := newServices()
	patientID, encounterID := seedVisit(t, tenant, svc)
	bill := finalizedConsultation(t, tenant, svc, patientID, encounterID)

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = inTenant(t, tenant, auth.RoleCashier, func(ctx context.Context) error {
				_, err := svc.payments.RecordPayment(ctx, bill.ID(), bill.Total(), billing.ModeCash, "cashier", "")
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, billing.ErrBillNotPayable), errors.Is(err, billing.ErrAmountExceedsBalance):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful payment, got %d", succeeded)
	}

	mustInTenant(t, tenant, func(ctx context.Context) error {
		b, err := svc.ledger.GetBill(ctx, bill.ID())
		if err != nil {
			return err
		}
		if !b.Paid().Equal(bill.Total()) || !b.BalanceDue().IsZero() {
			t.Errorf("paid=%s balance=%s after race", b.Paid(), b.BalanceDue())
		}
		payments, err := svc.payments.ListPayments(ctx, bill.ID())
		if err != nil {
			return err
		}
		if len(payments) != 1 {
			t.Errorf("expected one payment row, got %d", len(payments))
		}
		return nil
	})
}

func TestTenantIsolation(t *testing.T) {
	north := newTenant(t, "north")
	south := newTenant(t, "south")
	svc := newServices()
	patientID, encounterID := seedVisit(t, north, svc)
	bill := finalizedConsultation(t, north, svc, patientID, encounterID)

	mustInTenant(t, south, func(ctx context.Context) error {
		if _, err := svc.ledger.GetBill(ctx, bill.ID()); !errors.Is(err, billing.ErrBillNotFound) {
			t.Errorf("bill leaked across tenants: %v", err)
		}
		return nil
	})
}
