package insurance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Policy, error)
	// ListActive returns the patient's policies whose window contains at.
	ListActive(ctx context.Context, patientID uuid.UUID, at time.Time) ([]*Policy, error)
}

type PreAuthRepository interface {
	Create(ctx context.Context, p *PreAuthorization) error
	GetByID(ctx context.Context, id uuid.UUID) (*PreAuthorization, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAuthorization, error)
	// Save writes the decision guarded by Version and bumps it.
	Save(ctx context.Context, p *PreAuthorization) error
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*PreAuthorization, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*PreAuthorization, error)
	// ListStale returns pending requests older than before that have not
	// been flagged yet.
	ListStale(ctx context.Context, before time.Time) ([]*PreAuthorization, error)
	// MarkFlagged flags the request if it is still pending and unflagged,
	// and reports whether it did.
	MarkFlagged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type ClaimFilter struct {
	Status   ClaimStatus
	BillID   *uuid.UUID
	PolicyID *uuid.UUID
}

type ClaimRepository interface {
	// Create returns ErrActiveClaimExists when the bill already has a
	// non-terminal claim.
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error)
	Save(ctx context.Context, c *Claim) error
	Search(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error)
	// ListStale returns submitted or queried claims not updated since
	// before and not yet flagged.
	ListStale(ctx context.Context, before time.Time) ([]*Claim, error)
	// MarkFlagged flags the claim if it is still submitted or queried and
	// unflagged, and reports whether it did.
	MarkFlagged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// HasOpenClaim reports whether the bill has a claim that is neither
	// rejected nor settled.
	HasOpenClaim(ctx context.Context, billID uuid.UUID) (bool, error)

	AddEvent(ctx context.Context, e *ClaimEvent) error
	ListEvents(ctx context.Context, claimID uuid.UUID) ([]*ClaimEvent, error)
	AddMessage(ctx context.Context, m *ClaimMessage) error
	ListMessages(ctx context.Context, claimID uuid.UUID) ([]*ClaimMessage, error)
}
