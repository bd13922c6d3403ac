package tariff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/platform/auth"
	"github.com/medflow/billing/internal/platform/db"
)

const maxCodeLen = 32

type Service struct {
	repo   Repository
	tx     db.Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger.With().Str("component", "tariff").Logger(), now: time.Now}
}

// Lookup returns the tariff row effective at the given instant.
func (s *Service) Lookup(ctx context.Context, code string, at time.Time) (*TariffItem, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrUnknownTariffCode
	}
	t, err := s.repo.Current(ctx, code, at)
	if err != nil {
		if errors.Is(err, ErrUnknownTariffCode) {
			return nil, fmt.Errorf("tariff code %q: %w", code, ErrUnknownTariffCode)
		}
		return nil, err
	}
	return t, nil
}

// CurrentPrice is Lookup reduced to the unit price.
func (s *Service) CurrentPrice(ctx context.Context, code string, at time.Time) (decimal.Decimal, error) {
	t, err := s.Lookup(ctx, code, at)
	if err != nil {
		return decimal.Zero, err
	}
	return t.UnitPrice, nil
}

func (s *Service) ListCurrent(ctx context.Context, category string, limit, offset int) ([]*TariffItem, int, error) {
	var cat Category
	if category != "" {
		c, err := ParseCategory(category)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", err, ErrInvalidTariff)
		}
		cat = c
	}
	return s.repo.ListCurrent(ctx, cat, s.now(), limit, offset)
}

func (s *Service) History(ctx context.Context, code string) ([]*TariffItem, error) {
	items, err := s.repo.History(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("tariff code %q: %w", code, ErrUnknownTariffCode)
	}
	return items, nil
}

type SetPriceInput struct {
	Code          string          `json:"code" validate:"required,max=32"`
	Category      string          `json:"category" validate:"required"`
	Description   string          `json:"description" validate:"required,max=255"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"money"`
	EffectiveFrom *time.Time      `json:"effective_from,omitempty"`
}

// SetPrice records a new effective-dated price. Existing rows are never
// touched, so charges already posted keep the price they were billed at.
func (s *Service) SetPrice(ctx context.Context, in SetPriceInput) (*TariffItem, error) {
	item, err := s.build(in)
	if err != nil {
		return nil, err
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		item.CreatedBy = &uid
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		history, err := s.repo.History(ctx, item.Code)
		if err != nil {
			return err
		}
		if len(history) > 0 && history[0].Category != item.Category {
			return fmt.Errorf("%s is %s: %w", item.Code, history[0].Category, ErrCategoryMismatch)
		}
		return s.repo.Insert(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("code", item.Code).
		Str("unit_price", item.UnitPrice.StringFixed(2)).
		Time("effective_from", item.EffectiveFrom).
		Msg("tariff price set")
	return item, nil
}

func (s *Service) build(in SetPriceInput) (*TariffItem, error) {
	code := normalizeCode(in.Code)
	if code == "" || len(code) > maxCodeLen {
		return nil, fmt.Errorf("code must be 1-%d characters: %w", maxCodeLen, ErrInvalidTariff)
	}
	cat, err := ParseCategory(in.Category)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrInvalidTariff)
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, fmt.Errorf("description is required: %w", ErrInvalidTariff)
	}
	if in.UnitPrice.IsNegative() || !in.UnitPrice.Equal(in.UnitPrice.Round(2)) {
		return nil, fmt.Errorf("unit price must be non-negative with at most 2 decimals: %w", ErrInvalidTariff)
	}
	from := s.now()
	if in.EffectiveFrom != nil {
		from = *in.EffectiveFrom
	}
	return &TariffItem{
		Code:          code,
		Category:      cat,
		Description:   desc,
		UnitPrice:     in.UnitPrice,
		EffectiveFrom: from.UTC(),
	}, nil
}

// Seed inserts every item whose code has no price yet. Codes that already
// exist are left alone so reruns are harmless.
func (s *Service) Seed(ctx context.Context, items []SetPriceInput) (int, error) {
	inserted := 0
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inserted = 0
		for _, in := range items {
			item, err := s.build(in)
			if err != nil {
				return fmt.Errorf("seed %s: %w", in.Code, err)
			}
			history, err := s.repo.History(ctx, item.Code)
			if err != nil {
				return err
			}
			if len(history) > 0 {
				continue
			}
			if err := s.repo.Insert(ctx, item); err != nil {
				return fmt.Errorf("seed %s: %w", item.Code, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("inserted", inserted).Int("total", len(items)).Msg("tariff catalog seeded")
	return inserted, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
