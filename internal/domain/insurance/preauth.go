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
	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/notification"
)

// PreAuthWorkflow tracks advance approvals requested from the payer before
// or during an admission.
type PreAuthWorkflow struct {
	repo     PreAuthRepository
	policies PolicyRepository
	registry registry.Reader
	tx       db.Transactor
	events   notification.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPreAuthWorkflow(repo PreAuthRepository, policies PolicyRepository, reg registry.Reader, tx db.Transactor,
	events notification.Publisher, m *metrics.Metrics, logger zerolog.Logger) *PreAuthWorkflow {
	if events == nil {
		events = notification.Nop{}
	}
	return &PreAuthWorkflow{
		repo:     repo,
		policies: policies,
		registry: reg,
		tx:       tx,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("component", "preauth").Logger(),
		now:      time.Now,
	}
}

func (w *PreAuthWorkflow) Request(ctx context.Context, policyID, encounterID uuid.UUID, requested decimal.Decimal) (*PreAuthorization, error) {
	if !requested.IsPositive() || !isPaise(requested) {
		return nil, ErrInvalidAmount
	}
	now := w.now()
	policy, err := w.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !policy.ActiveAt(now) {
		return nil, fmt.Errorf("policy %s: %w", policy.PolicyNumber, ErrPolicyExpired)
	}
	ok, err := w.registry.EncounterBelongsTo(ctx, encounterID, policy.PatientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("encounter %s is not a visit of the policy holder: %w", encounterID, ErrInvalidReference)
	}
	if requested.GreaterThan(policy.SumInsured) {
		w.logger.Warn().
			Str("policy_id", policy.ID.String()).
			Str("requested", requested.StringFixed(2)).
			Str("sum_insured", policy.SumInsured.StringFixed(2)).
			Msg("pre-auth request above sum insured")
	}

	p := newPreAuth(policy.ID, encounterID, requested, auth.UserIDFromContext(ctx), now)
	if err := w.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	w.logger.Info().Str("preauth_id", p.ID.String()).Str("requested", requested.StringFixed(2)).Msg("pre-auth requested")
	return p, nil
}

// Decide records the payer's answer. A request is decided exactly once.
func (w *PreAuthWorkflow) Decide(ctx context.Context, id uuid.UUID, approve bool, approved *decimal.Decimal, remarks string) (*PreAuthorization, error) {
	var out *PreAuthorization
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := w.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := p.Decide(approve, approved, strings.TrimSpace(remarks), auth.UserIDFromContext(ctx), w.now()); err != nil {
			return err
		}
		if err := w.repo.Save(ctx, p); err != nil {
			return err
		}
		out = p

		evt := notification.NewEvent(notification.PreAuthDecided, "preauth", p.ID.String(), preAuthEvent{
			PreAuthID:      p.ID.String(),
			PolicyID:       p.PolicyID.String(),
			EncounterID:    p.EncounterID.String(),
			Status:         p.status,
			ApprovedAmount: fixed(p.ApprovedAmount),
		})
		db.AfterCommit(ctx, func() {
			w.metrics.PreAuthDecided(string(p.status))
			w.events.Publish(ctx, evt)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info().Str("preauth_id", id.String()).Str("status", string(out.status)).Msg("pre-auth decided")
	return out, nil
}

func (w *PreAuthWorkflow) Get(ctx context.Context, id uuid.UUID) (*PreAuthorization, error) {
	return w.repo.GetByID(ctx, id)
}

func (w *PreAuthWorkflow) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*PreAuthorization, error) {
	if _, err := w.policies.GetByID(ctx, policyID); err != nil {
		return nil, err
	}
	return w.repo.ListByPolicy(ctx, policyID)
}

func (w *PreAuthWorkflow) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*PreAuthorization, error) {
	return w.repo.ListByEncounter(ctx, encounterID)
}

type preAuthEvent struct {
	PreAuthID      string        `json:"preauth_id"`
	PolicyID       string        `json:"policy_id"`
	EncounterID    string        `json:"encounter_id"`
	Status         PreAuthStatus `json:"status"`
	ApprovedAmount *string       `json:"approved_amount,omitempty"`
}

func fixed(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
