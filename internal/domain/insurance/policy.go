package insurance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/registry"
)

// PolicyStore keeps the insurance policies registered against patients.
type PolicyStore struct {
	repo     PolicyRepository
	registry registry.Reader
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPolicyStore(repo PolicyRepository, reg registry.Reader, logger zerolog.Logger) *PolicyStore {
	return &PolicyStore{
		repo:     repo,
		registry: reg,
		logger:   logger.With().Str("component", "policies").Logger(),
		now:      time.Now,
	}
}

type CreatePolicyInput struct {
	PatientID    uuid.UUID       `json:"patient_id" validate:"required"`
	Insurer      string          `json:"insurer" validate:"required,max=128"`
	PolicyNumber string          `json:"policy_number" validate:"required,max=64"`
	PolicyType   PolicyType      `json:"policy_type" validate:"required,oneof=cashless reimbursement"`
	SumInsured   decimal.Decimal `json:"sum_insured" validate:"positive"`
	ValidFrom    time.Time       `json:"valid_from" validate:"required"`
	ValidTo      time.Time       `json:"valid_to" validate:"required"`
	TPA          string          `json:"tpa,omitempty" validate:"max=128"`
}

func (s *PolicyStore) CreatePolicy(ctx context.Context, in CreatePolicyInput) (*Policy, error) {
	p, err := s.build(in)
	if err != nil {
		return nil, err
	}
	patient, err := s.registry.Patient(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, fmt.Errorf("patient %s is not registered: %w", p.PatientID, ErrInvalidReference)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("policy_id", p.ID.String()).
		Str("patient_id", p.PatientID.String()).
		Str("insurer", p.InsurerName).
		Msg("policy registered")
	return p, nil
}

func (s *PolicyStore) build(in CreatePolicyInput) (*Policy, error) {
	insurer := resolveName(insurers, in.Insurer)
	number := strings.TrimSpace(in.PolicyNumber)
	switch {
	case in.PatientID == uuid.Nil:
		return nil, fmt.Errorf("patient is required: %w", ErrInvalidPolicy)
	case insurer == "":
		return nil, fmt.Errorf("insurer is required: %w", ErrInvalidPolicy)
	case number == "":
		return nil, fmt.Errorf("policy number is required: %w", ErrInvalidPolicy)
	case in.PolicyType != PolicyCashless && in.PolicyType != PolicyReimbursement:
		return nil, fmt.Errorf("policy type %q: %w", in.PolicyType, ErrInvalidPolicy)
	case !in.SumInsured.IsPositive() || !isPaise(in.SumInsured):
		return nil, fmt.Errorf("sum insured must be positive: %w", ErrInvalidPolicy)
	case in.ValidFrom.IsZero() || in.ValidTo.IsZero():
		return nil, fmt.Errorf("validity window is required: %w", ErrInvalidPolicy)
	case in.ValidTo.Before(in.ValidFrom):
		return nil, fmt.Errorf("valid_to before valid_from: %w", ErrInvalidPolicy)
	}

	p := &Policy{
		ID:           uuid.New(),
		PatientID:    in.PatientID,
		InsurerName:  insurer,
		PolicyNumber: number,
		PolicyType:   in.PolicyType,
		SumInsured:   in.SumInsured,
		ValidFrom:    in.ValidFrom.UTC(),
		ValidTo:      in.ValidTo.UTC(),
		CreatedAt:    s.now(),
	}
	if tpa := resolveName(tpas, in.TPA); tpa != "" {
		p.TPAName = &tpa
	}
	return p, nil
}

func (s *PolicyStore) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *PolicyStore) ListPolicies(ctx context.Context, patientID uuid.UUID) ([]*Policy, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// GetActivePolicies returns the patient's policies valid at the given
// instant.
func (s *PolicyStore) GetActivePolicies(ctx context.Context, patientID uuid.UUID, at time.Time) ([]*Policy, error) {
	return s.repo.ListActive(ctx, patientID, at)
}
