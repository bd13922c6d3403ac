package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/billing/internal/domain/tariff"
)

type Repository interface {
	// NextBillNumber draws BILL-YYYYMM-NNNNNN from the bill sequence.
	NextBillNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate loads the bill and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetByNumber(ctx context.Context, number string) (*Bill, error)
	// GetDraftForEncounter returns ErrBillNotFound when the encounter has no
	// open draft.
	GetDraftForEncounter(ctx context.Context, encounterID uuid.UUID) (*Bill, error)
	// Save writes the bill header guarded by its version and appends the
	// items and payments added since it was loaded.
	Save(ctx context.Context, b *Bill) error
	Search(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error)
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	PatientSummary(ctx context.Context, patientID uuid.UUID) (*PatientSummary, error)
}

// TariffLookup resolves the price of a code at an instant.
type TariffLookup interface {
	Lookup(ctx context.Context, code string, at time.Time) (*tariff.TariffItem, error)
}

// ClaimChecker reports whether a bill has a claim the payer has not closed.
type ClaimChecker interface {
	HasOpenClaim(ctx context.Context, billID uuid.UUID) (bool, error)
}

// FormatBillNumber renders a sequence value as a bill number.
func FormatBillNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("BILL-%s-%06d", at.UTC().Format("200601"), seq)
}
