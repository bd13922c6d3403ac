package revenue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
)

// MaxTrendPoints bounds the number of buckets a trend may span.
const MaxTrendPoints = 1000

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "revenue").Logger(), now: time.Now}
}

// DefaultRange is the month to date.
func (s *Service) DefaultRange() Range {
	now := s.now().UTC()
	return Range{From: BucketMonth.Truncate(now), To: now}
}

func (s *Service) Summary(ctx context.Context, r Range) (*Summary, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	billed, err := s.repo.Billed(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("billed totals: %w", err)
	}
	outstanding, err := s.repo.Outstanding(ctx)
	if err != nil {
		return nil, fmt.Errorf("outstanding: %w", err)
	}
	modes, err := s.repo.CollectionsByMode(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}
	statuses, err := s.repo.StatusCounts(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	collected := decimal.Zero
	for _, m := range modes {
		collected = collected.Add(m.Amount)
	}
	if modes == nil {
		modes = []ModeTotal{}
	}
	if statuses == nil {
		statuses = []StatusCount{}
	}
	return &Summary{
		Range:          r,
		TotalBilled:    billed.Amount,
		BillCount:      billed.Count,
		TotalCollected: collected,
		Outstanding:    outstanding,
		CollectionRate: percent(collected, billed.Amount),
		ByPaymentMode:  modes,
		ByStatus:       statuses,
	}, nil
}

// ByCategory returns item revenue per tariff category, largest first.
func (s *Service) ByCategory(ctx context.Context, r Range) ([]CategoryRevenue, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	rows, err := s.repo.ByCategory(ctx, r)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, c := range rows {
		total = total.Add(c.Amount)
	}
	out := make([]CategoryRevenue, 0, len(rows))
	for _, c := range rows {
		out = append(out, CategoryRevenue{
			Category:  c.Category,
			Amount:    c.Amount,
			ItemCount: c.ItemCount,
			Share:     percent(c.Amount, total),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out, nil
}

// ByDepartment folds categories into departments and adds each
// department's slice of the currently open balances.
func (s *Service) ByDepartment(ctx context.Context, r Range) ([]DepartmentRevenue, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	billed, err := s.repo.ByCategory(ctx, r)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.PendingByCategory(ctx)
	if err != nil {
		return nil, err
	}

	byDept := map[string]*DepartmentRevenue{}
	get := func(c tariff.Category) *DepartmentRevenue {
		name := DepartmentOf(c)
		d, ok := byDept[name]
		if !ok {
			d = &DepartmentRevenue{Department: name, DisplayName: displayName(name)}
			byDept[name] = d
		}
		return d
	}
	total := decimal.Zero
	for _, c := range billed {
		d := get(c.Category)
		d.Revenue = d.Revenue.Add(c.Amount)
		d.ItemCount += c.ItemCount
		total = total.Add(c.Amount)
	}
	for _, c := range pending {
		d := get(c.Category)
		d.Pending = d.Pending.Add(c.Amount)
	}

	out := make([]DepartmentRevenue, 0, len(byDept))
	for _, d := range byDept {
		d.Pending = d.Pending.Round(2)
		d.PotentialRevenue = d.Revenue.Add(d.Pending)
		d.Share = percent(d.Revenue, total)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Revenue.Equal(out[j].Revenue) {
			return out[i].Revenue.GreaterThan(out[j].Revenue)
		}
		return out[i].Department < out[j].Department
	})
	return out, nil
}

// Trend returns collections per bucket across the whole range. Buckets with
// no payments are present with zero amounts.
func (s *Service) Trend(ctx context.Context, r Range, b Bucket) ([]TrendPoint, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	var starts []time.Time
	for t := b.Truncate(r.From); t.Before(r.To); t = b.Next(t) {
		starts = append(starts, t)
		if len(starts) > MaxTrendPoints {
			return nil, fmt.Errorf("more than %d %s buckets: %w", MaxTrendPoints, b, ErrRangeTooLarge)
		}
	}

	rows, err := s.repo.Collections(ctx, r, b)
	if err != nil {
		return nil, err
	}
	got := make(map[time.Time]TrendPoint, len(rows))
	for _, p := range rows {
		got[p.Start.UTC()] = p
	}

	out := make([]TrendPoint, 0, len(starts))
	for _, t := range starts {
		p, ok := got[t]
		if !ok {
			p = TrendPoint{Start: t, Collected: decimal.Zero}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) TopItems(ctx context.Context, r Range, limit int) ([]ItemRevenue, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	items, err := s.repo.TopItems(ctx, r, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []ItemRevenue{}
	}
	return items, nil
}
