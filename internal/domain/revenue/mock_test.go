package revenue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/tariff"
)

type mockRepo struct {
	billed      BilledTotals
	outstanding decimal.Decimal
	modes       []ModeTotal
	statuses    []StatusCount
	categories  []CategoryAmount
	pending     []CategoryAmount
	collections []TrendPoint
	items       []ItemRevenue

	lastLimit  int
	lastBucket Bucket
	err        error
}

func (m *mockRepo) Billed(_ context.Context, _ Range) (BilledTotals, error) {
	return m.billed, m.err
}

func (m *mockRepo) Outstanding(_ context.Context) (decimal.Decimal, error) {
	return m.outstanding, m.err
}

func (m *mockRepo) CollectionsByMode(_ context.Context, _ Range) ([]ModeTotal, error) {
	return m.modes, m.err
}

func (m *mockRepo) StatusCounts(_ context.Context, _ Range) ([]StatusCount, error) {
	return m.statuses, m.err
}

func (m *mockRepo) ByCategory(_ context.Context, _ Range) ([]CategoryAmount, error) {
	return m.categories, m.err
}

func (m *mockRepo) PendingByCategory(_ context.Context) ([]CategoryAmount, error) {
	return m.pending, m.err
}

func (m *mockRepo) Collections(_ context.Context, _ Range, b Bucket) ([]TrendPoint, error) {
	m.lastBucket = b
	return m.collections, m.err
}

func (m *mockRepo) TopItems(_ context.Context, _ Range, limit int) ([]ItemRevenue, error) {
	m.lastLimit = limit
	if limit < len(m.items) {
		return m.items[:limit], m.err
	}
	return m.items, m.err
}

var testNow = time.Date(2026, 3, 18, 15, 30, 0, 0, time.UTC)

func newTestService(repo *mockRepo) *Service {
	s := NewService(repo, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// march is the first half of March 2026.
var march = Range{From: day(2026, 3, 1), To: day(2026, 3, 15)}

func sampleCategories() []CategoryAmount {
	return []CategoryAmount{
		{Category: tariff.CategoryConsultation, Amount: dec("1000"), ItemCount: 2},
		{Category: tariff.CategoryLab, Amount: dec("3000"), ItemCount: 5},
		{Category: tariff.CategoryRadiology, Amount: dec("1500"), ItemCount: 1},
		{Category: tariff.CategoryMisc, Amount: dec("500"), ItemCount: 3},
	}
}
