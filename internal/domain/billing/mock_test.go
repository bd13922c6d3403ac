package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/registry"
	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/db/dbtest"
	"github.com/medflow/billing/internal/platform/notification"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	seq   int64
	bills map[uuid.UUID]*Bill
	saves int
}

func newMockRepo() *mockRepo {
	return &mockRepo{bills: make(map[uuid.UUID]*Bill)}
}

func (m *mockRepo) NextBillNumber(_ context.Context, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return FormatBillNumber(at, m.seq), nil
}

func (m *mockRepo) Create(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bills {
		if existing.encounterID == b.encounterID && existing.status == StatusDraft {
			return ErrDraftBillExists
		}
	}
	m.bills[b.id] = b.clone()
	return nil
}

func (m *mockRepo) get(id uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, ErrBillNotFound
	}
	return b.clone(), nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Bill, error) { return m.get(id) }

func (m *mockRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*Bill, error) { return m.get(id) }

func (m *mockRepo) GetByNumber(_ context.Context, number string) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.number == number {
			return b.clone(), nil
		}
	}
	return nil, ErrBillNotFound
}

func (m *mockRepo) GetDraftForEncounter(_ context.Context, encounterID uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.encounterID == encounterID && b.status == StatusDraft {
			return b.clone(), nil
		}
	}
	return nil, ErrBillNotFound
}

func (m *mockRepo) Save(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bills[b.id]
	if !ok {
		return ErrBillNotFound
	}
	if stored.version != b.version {
		return apperr.ErrConcurrentModification
	}
	b.flushed()
	m.bills[b.id] = b.clone()
	m.saves++
	return nil
}

func (m *mockRepo) Search(_ context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bill
	for _, b := range m.bills {
		if f.Status != "" && b.status != f.Status {
			continue
		}
		if f.EncounterID != nil && b.encounterID != *f.EncounterID {
			continue
		}
		if f.PatientID != nil && b.patientID != *f.PatientID {
			continue
		}
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListPayments(_ context.Context, billID uuid.UUID) ([]*Payment, error) {
	b, err := m.get(billID)
	if err != nil {
		return nil, err
	}
	return b.Payments(), nil
}

func (m *mockRepo) PatientSummary(_ context.Context, patientID uuid.UUID) (*PatientSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &PatientSummary{PatientID: patientID}
	byCat := map[tariff.Category]decimal.Decimal{}
	for _, b := range m.bills {
		if b.patientID != patientID || b.status == StatusDraft || b.status == StatusCancelled {
			continue
		}
		s.BillCount++
		s.TotalBilled = s.TotalBilled.Add(b.total)
		s.TotalPaid = s.TotalPaid.Add(b.paid)
		if b.status.Payable() {
			s.Outstanding = s.Outstanding.Add(b.balance)
		}
		for _, it := range b.items {
			byCat[it.Category] = byCat[it.Category].Add(it.TotalPrice)
		}
	}
	for cat, amt := range byCat {
		s.ByCategory = append(s.ByCategory, CategoryTotal{Category: cat, Amount: amt})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool { return s.ByCategory[i].Category < s.ByCategory[j].Category })
	return s, nil
}

// -- Mock Tariffs --

type mockTariffs map[string]*tariff.TariffItem

func (m mockTariffs) Lookup(_ context.Context, code string, _ time.Time) (*tariff.TariffItem, error) {
	t, ok := m[code]
	if !ok {
		return nil, tariff.ErrUnknownTariffCode
	}
	return t, nil
}

func defaultTariffs() mockTariffs {
	item := func(code string, cat tariff.Category, price string) *tariff.TariffItem {
		return &tariff.TariffItem{ID: uuid.New(), Code: code, Category: cat, Description: code, UnitPrice: decimal.RequireFromString(price)}
	}
	return mockTariffs{
		"CONS-01":     item("CONS-01", tariff.CategoryConsultation, "500"),
		"LAB-CBC":     item("LAB-CBC", tariff.CategoryLab, "350"),
		"PHARM-PARA":  item("PHARM-PARA", tariff.CategoryPharmacy, "5.25"),
		"ROOM-GEN":    item("ROOM-GEN", tariff.CategoryRoom, "1500"),
		"MISC-WAIVED": item("MISC-WAIVED", tariff.CategoryMisc, "0"),
	}
}

// -- Stub Claims --

type stubClaims map[uuid.UUID]bool

func (s stubClaims) HasOpenClaim(_ context.Context, billID uuid.UUID) (bool, error) {
	return s[billID], nil
}

// -- Recording Publisher --

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt notification.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// -- Fixture --

type fixture struct {
	repo      *mockRepo
	registry  *registry.Static
	tx        *dbtest.Transactor
	events    *recordingPublisher
	ledger    *Ledger
	payments  *PaymentProcessor
	patientID uuid.UUID
	encounter uuid.UUID
}

func newFixture(taxPercent string) *fixture {
	f := &fixture{
		repo:     newMockRepo(),
		registry: registry.NewStatic(),
		tx:       &dbtest.Transactor{},
		events:   &recordingPublisher{},
	}
	f.patientID, f.encounter = f.registry.Add("UHID-0001", "Asha Rao")
	tax := NewTaxPolicy(decimal.RequireFromString(taxPercent), []string{"CGST", "SGST"})
	f.ledger = NewLedger(f.repo, f.registry, defaultTariffs(), f.tx, tax, f.events, nil, zerolog.Nop())
	f.payments = NewPaymentProcessor(f.repo, f.tx, f.events, nil, zerolog.Nop())
	return f
}

func (f *fixture) newEncounter() (uuid.UUID, uuid.UUID) {
	return f.registry.Add("UHID-"+uuid.NewString()[:8], "Test Patient")
}

// finalizedBill opens a bill for the fixture encounter with the given
// charges and finalizes it.
func (f *fixture) finalizedBill(ctx context.Context, codes ...string) *Bill {
	patient, encounter := f.newEncounter()
	b, err := f.ledger.CreateBill(ctx, encounter, patient)
	if err != nil {
		panic(err)
	}
	for _, code := range codes {
		if _, err := f.ledger.AddItem(ctx, b.ID(), code, 1); err != nil {
			panic(err)
		}
	}
	b, err = f.ledger.Finalize(ctx, b.ID())
	if err != nil {
		panic(err)
	}
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
