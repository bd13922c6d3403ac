package insurance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medflow/billing/internal/domain/billing"
	"github.com/medflow/billing/internal/domain/registry"
	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/apperr"
	"github.com/medflow/billing/internal/platform/db/dbtest"
	"github.com/medflow/billing/internal/platform/notification"
)

// -- Mock Policy Repository --

type mockPolicyRepo struct {
	mu       sync.Mutex
	policies map[uuid.UUID]*Policy
}

func newMockPolicyRepo() *mockPolicyRepo {
	return &mockPolicyRepo{policies: make(map[uuid.UUID]*Policy)}
}

func (m *mockPolicyRepo) Create(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.InsurerName == p.InsurerName && existing.PolicyNumber == p.PolicyNumber {
			return ErrDuplicatePolicy
		}
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *mockPolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPolicyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Policy, error) {
	return m.filter(func(p *Policy) bool { return p.PatientID == patientID }), nil
}

func (m *mockPolicyRepo) ListActive(_ context.Context, patientID uuid.UUID, at time.Time) ([]*Policy, error) {
	return m.filter(func(p *Policy) bool { return p.PatientID == patientID && p.ActiveAt(at) }), nil
}

func (m *mockPolicyRepo) filter(keep func(*Policy) bool) []*Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Policy
	for _, p := range m.policies {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out
}

// -- Mock Pre-Auth Repository --

type mockPreAuthRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*PreAuthorization
}

func newMockPreAuthRepo() *mockPreAuthRepo {
	return &mockPreAuthRepo{items: make(map[uuid.UUID]*PreAuthorization)}
}

func (m *mockPreAuthRepo) Create(_ context.Context, p *PreAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPreAuthRepo) GetByID(_ context.Context, id uuid.UUID) (*PreAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrPreAuthNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPreAuthRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAuthorization, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPreAuthRepo) Save(_ context.Context, p *PreAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[p.ID]
	if !ok {
		return ErrPreAuthNotFound
	}
	if stored.Version != p.Version {
		return apperr.ErrConcurrentModification
	}
	p.Version++
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPreAuthRepo) ListByPolicy(_ context.Context, policyID uuid.UUID) ([]*PreAuthorization, error) {
	return m.filter(func(p *PreAuthorization) bool { return p.PolicyID == policyID }), nil
}

func (m *mockPreAuthRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*PreAuthorization, error) {
	return m.filter(func(p *PreAuthorization) bool { return p.EncounterID == encounterID }), nil
}

func (m *mockPreAuthRepo) ListStale(_ context.Context, before time.Time) ([]*PreAuthorization, error) {
	return m.filter(func(p *PreAuthorization) bool {
		return p.status == PreAuthPending && p.RequestedAt.Before(before) && p.FlaggedAt == nil
	}), nil
}

func (m *mockPreAuthRepo) MarkFlagged(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok || p.status != PreAuthPending || p.FlaggedAt != nil {
		return false, nil
	}
	p.FlaggedAt = &at
	return true, nil
}

func (m *mockPreAuthRepo) filter(keep func(*PreAuthorization) bool) []*PreAuthorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PreAuthorization
	for _, p := range m.items {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// -- Mock Claim Repository --

type mockClaimRepo struct {
	mu       sync.Mutex
	claims   map[uuid.UUID]*Claim
	events   []*ClaimEvent
	messages []*ClaimMessage

	// afterListStale runs once the stale claims have been listed.
	afterListStale func()
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{claims: make(map[uuid.UUID]*Claim)}
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.claims {
		if existing.BillID == c.BillID && !existing.status.Terminal() {
			return ErrActiveClaimExists
		}
	}
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return m.GetByID(ctx, id)
}

func (m *mockClaimRepo) Save(_ context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.claims[c.ID]
	if !ok {
		return ErrClaimNotFound
	}
	if stored.Version != c.Version {
		return apperr.ErrConcurrentModification
	}
	c.Version++
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) Search(_ context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	out := m.filter(func(c *Claim) bool {
		return (f.Status == "" || c.status == f.Status) &&
			(f.BillID == nil || c.BillID == *f.BillID) &&
			(f.PolicyID == nil || c.PolicyID == *f.PolicyID)
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return out[offset:end], total, nil
}

func (m *mockClaimRepo) ListStale(_ context.Context, before time.Time) ([]*Claim, error) {
	out := m.filter(func(c *Claim) bool {
		return (c.status == ClaimSubmitted || c.status == ClaimQuery) && c.UpdatedAt.Before(before) && c.FlaggedAt == nil
	})
	if m.afterListStale != nil {
		m.afterListStale()
	}
	return out, nil
}

func (m *mockClaimRepo) MarkFlagged(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || !c.status.Decidable() || c.FlaggedAt != nil {
		return false, nil
	}
	c.FlaggedAt = &at
	return true, nil
}

func (m *mockClaimRepo) HasOpenClaim(_ context.Context, billID uuid.UUID) (bool, error) {
	return len(m.filter(func(c *Claim) bool { return c.BillID == billID && !c.status.Terminal() })) > 0, nil
}

func (m *mockClaimRepo) AddEvent(_ context.Context, e *ClaimEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockClaimRepo) ListEvents(_ context.Context, claimID uuid.UUID) ([]*ClaimEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ClaimEvent
	for _, e := range m.events {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockClaimRepo) AddMessage(_ context.Context, msg *ClaimMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockClaimRepo) ListMessages(_ context.Context, claimID uuid.UUID) ([]*ClaimMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ClaimMessage
	for _, msg := range m.messages {
		if msg.ClaimID == claimID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockClaimRepo) filter(keep func(*Claim) bool) []*Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Claim
	for _, c := range m.claims {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// -- Fake ledger --

// fakeLedger holds real billing.Bill aggregates and applies payments to them
// the way the payment processor does, inside the caller's unit of work.
type fakeLedger struct {
	mu         sync.Mutex
	tx         *dbtest.Transactor
	bills      map[uuid.UUID]*billing.Bill
	payments   []*billing.Payment
	paymentErr error
}

func (l *fakeLedger) GetBill(_ context.Context, id uuid.UUID) (*billing.Bill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bills[id]
	if !ok {
		return nil, billing.ErrBillNotFound
	}
	return b, nil
}

func (l *fakeLedger) LockBill(ctx context.Context, id uuid.UUID) (*billing.Bill, error) {
	return l.GetBill(ctx, id)
}

func (l *fakeLedger) RecordPayment(ctx context.Context, billID uuid.UUID, amount decimal.Decimal, mode billing.PaymentMode,
	receivedBy, reference string) (*billing.Payment, error) {
	var pay *billing.Payment
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.paymentErr != nil {
			return l.paymentErr
		}
		b, ok := l.bills[billID]
		if !ok {
			return billing.ErrBillNotFound
		}
		p := &billing.Payment{Amount: amount, Mode: mode, ReceivedBy: receivedBy, Reference: &reference}
		if err := b.ApplyPayment(p, time.Now()); err != nil {
			return err
		}
		l.payments = append(l.payments, p)
		pay = p
		return nil
	})
	return pay, err
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
	registry *registry.Static
	tx       *dbtest.Transactor
	events   *recordingPublisher
	policyDB *mockPolicyRepo
	preDB    *mockPreAuthRepo
	claimDB  *mockClaimRepo
	ledger   *fakeLedger

	policies *PolicyStore
	preauths *PreAuthWorkflow
	claims   *ClaimWorkflow
	sweeper  *Sweeper

	patientID uuid.UUID
	encounter uuid.UUID
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		registry: registry.NewStatic(),
		tx:       &dbtest.Transactor{},
		events:   &recordingPublisher{},
		policyDB: newMockPolicyRepo(),
		preDB:    newMockPreAuthRepo(),
		claimDB:  newMockClaimRepo(),
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.ledger = &fakeLedger{tx: f.tx, bills: make(map[uuid.UUID]*billing.Bill)}
	f.patientID, f.encounter = f.registry.Add("UHID-0001", "Asha Rao")

	clock := func() time.Time { return f.now }
	f.policies = NewPolicyStore(f.policyDB, f.registry, zerolog.Nop())
	f.policies.now = clock
	f.preauths = NewPreAuthWorkflow(f.preDB, f.policyDB, f.registry, f.tx, f.events, nil, zerolog.Nop())
	f.preauths.now = clock
	f.claims = NewClaimWorkflow(f.claimDB, f.policyDB, f.ledger, f.ledger, f.tx, f.events, nil, zerolog.Nop())
	f.claims.now = clock
	f.sweeper = NewSweeper(f.preDB, f.claimDB, f.tx, f.events, zerolog.Nop())
	f.sweeper.now = clock
	return f
}

// policy registers a cashless policy for the fixture patient valid for the
// calendar year of the fixture clock.
func (f *fixture) policy(ctx context.Context, number string) *Policy {
	p, err := f.policies.CreatePolicy(ctx, CreatePolicyInput{
		PatientID:    f.patientID,
		Insurer:      "STAR",
		PolicyNumber: number,
		PolicyType:   PolicyCashless,
		SumInsured:   dec("500000"),
		ValidFrom:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:      time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		TPA:          "MEDI_ASSIST",
	})
	if err != nil {
		panic(err)
	}
	return p
}

// finalizedBill builds a finalized bill for the fixture patient totalling
// the given amount.
func (f *fixture) finalizedBill(total string) *billing.Bill {
	b := billing.NewBill("BILL-202603-000001", f.encounter, f.patientID, "desk", f.now)
	item := &tariff.TariffItem{
		ID:          uuid.New(),
		Code:        "ROOM-GEN",
		Category:    tariff.CategoryRoom,
		Description: "General ward",
		UnitPrice:   dec(total),
	}
	if _, err := b.AddItem(item, 1, "desk", f.now); err != nil {
		panic(err)
	}
	if err := b.Finalize(billing.NewTaxPolicy(decimal.Zero, nil), "desk", f.now); err != nil {
		panic(err)
	}
	f.ledger.mu.Lock()
	f.ledger.bills[b.ID()] = b
	f.ledger.mu.Unlock()
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
