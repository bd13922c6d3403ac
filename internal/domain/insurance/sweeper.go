package insurance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/notification"
)

// Sweeper flags pre-auths and claims that have waited on the payer for too
// long. It never changes their status.
type Sweeper struct {
	preauths PreAuthRepository
	claims   ClaimRepository
	tx       db.Transactor
	events   notification.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweeper(preauths PreAuthRepository, claims ClaimRepository, tx db.Transactor, events notification.Publisher, logger zerolog.Logger) *Sweeper {
	if events == nil {
		events = notification.Nop{}
	}
	return &Sweeper{
		preauths: preauths,
		claims:   claims,
		tx:       tx,
		events:   events,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

type SweepResult struct {
	PreAuths int `json:"preauths"`
	Claims   int `json:"claims"`
}

// FlagStale marks every pending pre-auth and every submitted or queried
// claim untouched for longer than olderThan. Items flagged on an earlier run
// are skipped. Each item is flagged in its own transaction, and one that was
// decided after the listing is left alone.
func (s *Sweeper) FlagStale(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	cutoff := now.Add(-olderThan)

	preauths, err := s.preauths.ListStale(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for _, p := range preauths {
		evt := notification.NewEvent(notification.PreAuthFollowUp, "preauth", p.ID.String(), followUpEvent{
			ID:      p.ID.String(),
			Status:  string(p.status),
			Waiting: now.Sub(p.RequestedAt).Round(time.Minute).String(),
		})
		flagged, err := s.flag(ctx, evt, func(ctx context.Context) (bool, error) {
			return s.preauths.MarkFlagged(ctx, p.ID, now)
		})
		if err != nil {
			return res, fmt.Errorf("flag pre-auth %s: %w", p.ID, err)
		}
		if flagged {
			res.PreAuths++
		}
	}

	claims, err := s.claims.ListStale(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for _, c := range claims {
		evt := notification.NewEvent(notification.ClaimFollowUp, "claim", c.ID.String(), followUpEvent{
			ID:      c.ID.String(),
			Status:  string(c.status),
			Waiting: now.Sub(c.UpdatedAt).Round(time.Minute).String(),
		})
		flagged, err := s.flag(ctx, evt, func(ctx context.Context) (bool, error) {
			return s.claims.MarkFlagged(ctx, c.ID, now)
		})
		if err != nil {
			return res, fmt.Errorf("flag claim %s: %w", c.ID, err)
		}
		if flagged {
			res.Claims++
		}
	}

	s.logger.Info().
		Int("preauths", res.PreAuths).
		Int("claims", res.Claims).
		Dur("older_than", olderThan).
		Msg("stale follow-ups flagged")
	return res, nil
}

// flag runs mark in a transaction of its own and publishes evt after commit
// when a row was flagged.
func (s *Sweeper) flag(ctx context.Context, evt notification.Event, mark func(ctx context.Context) (bool, error)) (bool, error) {
	var flagged bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := mark(ctx)
		flagged = ok && err == nil
		if !flagged {
			return err
		}
		db.AfterCommit(ctx, func() { s.events.Publish(ctx, evt) })
		return nil
	})
	return flagged, err
}

type followUpEvent struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Waiting string `json:"waiting"`
}
