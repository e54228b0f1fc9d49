package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// memoryStore is an in-memory Store without atomic batch support, so the
// service falls back to compensating writes.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	customers map[int64]Customer
	products  map[int64]schedule.Product
	patterns  map[int64]schedule.PatternVersion
	changes   map[int64]schedule.TemporaryChange
	statuses  map[Period]map[int64]InvoiceStatus
	payments  []PaymentRecord
	billable  []int64

	// failure injection
	insertPatternErr error
	deletePatternErr error
	updatePatternErr func(call int) error
	updateCalls      int
	beforeRead       func(ctx context.Context) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		nextID:    1000,
		customers: make(map[int64]Customer),
		products:  make(map[int64]schedule.Product),
		patterns:  make(map[int64]schedule.PatternVersion),
		changes:   make(map[int64]schedule.TemporaryChange),
		statuses:  make(map[Period]map[int64]InvoiceStatus),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) read(ctx context.Context) error {
	if m.beforeRead != nil {
		return m.beforeRead(ctx)
	}
	return ctx.Err()
}

func (m *memoryStore) seedPattern(v schedule.PatternVersion) schedule.PatternVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == 0 {
		v.ID = m.id()
	}
	m.patterns[v.ID] = v.Clone()
	return v
}

func (m *memoryStore) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	if err := m.read(ctx); err != nil {
		return Customer{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return Customer{}, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *memoryStore) ListProducts(ctx context.Context, ids []int64) (map[int64]schedule.Product, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]schedule.Product)
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryStore) ListBillableCustomers(ctx context.Context, _ Period) ([]int64, error) {
	return append([]int64(nil), m.billable...), ctx.Err()
}

func (m *memoryStore) ListPatternVersions(ctx context.Context, customerID int64, productID *int64) ([]schedule.PatternVersion, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.PatternVersion
	for _, v := range m.patterns {
		if v.CustomerID != customerID {
			continue
		}
		if productID != nil && v.ProductID != *productID {
			continue
		}
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetPatternVersion(ctx context.Context, id int64) (schedule.PatternVersion, error) {
	if err := m.read(ctx); err != nil {
		return schedule.PatternVersion{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.patterns[id]
	if !ok {
		return schedule.PatternVersion{}, fmt.Errorf("pattern version %d: %w", id, ErrNotFound)
	}
	return v.Clone(), nil
}

func (m *memoryStore) InsertPatternVersion(_ context.Context, v schedule.PatternVersion) (schedule.PatternVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertPatternErr != nil {
		return schedule.PatternVersion{}, m.insertPatternErr
	}
	v.ID = m.id()
	m.patterns[v.ID] = v.Clone()
	return v, nil
}

func (m *memoryStore) UpdatePatternVersion(_ context.Context, v schedule.PatternVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updatePatternErr != nil {
		if err := m.updatePatternErr(m.updateCalls); err != nil {
			return err
		}
	}
	if _, ok := m.patterns[v.ID]; !ok {
		return ErrNotFound
	}
	m.patterns[v.ID] = v.Clone()
	return nil
}

func (m *memoryStore) DeletePatternVersion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deletePatternErr != nil {
		return m.deletePatternErr
	}
	if _, ok := m.patterns[id]; !ok {
		return ErrNotFound
	}
	delete(m.patterns, id)
	return nil
}

func (m *memoryStore) ListTemporaryChanges(ctx context.Context, customerID int64, from, to time.Time) ([]schedule.TemporaryChange, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.TemporaryChange
	for _, c := range m.changes {
		if c.CustomerID != customerID || c.ChangeDate.Before(from) || c.ChangeDate.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetTemporaryChange(_ context.Context, id int64) (schedule.TemporaryChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
	if !ok {
		return schedule.TemporaryChange{}, fmt.Errorf("temporary change %d: %w", id, ErrNotFound)
	}
	return c, nil
}

func sameSlot(a, b schedule.TemporaryChange) bool {
	if a.CustomerID != b.CustomerID || !a.ChangeDate.Equal(b.ChangeDate) || a.Type != b.Type {
		return false
	}
	if a.ProductID == nil || b.ProductID == nil {
		return a.ProductID == nil && b.ProductID == nil
	}
	return *a.ProductID == *b.ProductID
}

func (m *memoryStore) InsertTemporaryChange(_ context.Context, c schedule.TemporaryChange) (schedule.TemporaryChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.changes {
		if sameSlot(existing, c) {
			return schedule.TemporaryChange{}, fmt.Errorf("%w: temporary_changes_slot_uidx", ErrDuplicate)
		}
	}
	c.ID = m.id()
	m.changes[c.ID] = c
	return c, nil
}

func (m *memoryStore) UpdateTemporaryChange(_ context.Context, c schedule.TemporaryChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[c.ID]; !ok {
		return ErrNotFound
	}
	m.changes[c.ID] = c
	return nil
}

func (m *memoryStore) DeleteTemporaryChange(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.changes[id]; !ok {
		return ErrNotFound
	}
	delete(m.changes, id)
	return nil
}

func (m *memoryStore) GetInvoiceStatus(ctx context.Context, customerID int64, year int, month time.Month) (*InvoiceStatus, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[Period{Year: year, Month: month}][customerID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memoryStore) ListInvoiceStatuses(ctx context.Context, customerID int64) ([]InvoiceStatus, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InvoiceStatus
	for _, byCustomer := range m.statuses {
		if st, ok := byCustomer[customerID]; ok {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period().Before(out[j].Period()) })
	return out, nil
}

func (m *memoryStore) WriteInvoiceStatus(_ context.Context, st InvoiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := st.Period()
	if m.statuses[p] == nil {
		m.statuses[p] = make(map[int64]InvoiceStatus)
	}
	m.statuses[p][st.CustomerID] = st
	return nil
}

func (m *memoryStore) ListPaymentRecords(_ context.Context, customerID int64, year int, month time.Month) ([]PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentRecord
	for _, p := range m.payments {
		if p.CustomerID == customerID && p.Year == year && p.Month == month {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) SumPaymentsByMonth(ctx context.Context, customerID int64, through Period) (map[Period]decimal.Decimal, error) {
	if err := m.read(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Period]decimal.Decimal)
	for _, p := range m.payments {
		period := Period{Year: p.Year, Month: p.Month}
		if p.CustomerID != customerID || through.Before(period) {
			continue
		}
		out[period] = out[period].Add(p.Amount)
	}
	return out, nil
}

func (m *memoryStore) InsertPaymentRecord(_ context.Context, p PaymentRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.payments = append(m.payments, p)
	return p.ID, nil
}

// atomicStore adds all-or-nothing batch writes on top of memoryStore.
type atomicStore struct {
	*memoryStore
	batches  int
	batchErr error
}

func (a *atomicStore) WritePatternVersions(_ context.Context, batch PatternBatch) ([]schedule.PatternVersion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches++
	if a.batchErr != nil {
		return nil, a.batchErr
	}
	for _, v := range batch.Updates {
		if _, ok := a.patterns[v.ID]; !ok {
			return nil, ErrNotFound
		}
	}
	for _, id := range batch.Deletes {
		if _, ok := a.patterns[id]; !ok {
			return nil, ErrNotFound
		}
	}
	for _, v := range batch.Updates {
		a.patterns[v.ID] = v.Clone()
	}
	for _, id := range batch.Deletes {
		delete(a.patterns, id)
	}
	inserted := make([]schedule.PatternVersion, 0, len(batch.Inserts))
	for _, v := range batch.Inserts {
		v.ID = a.id()
		a.patterns[v.ID] = v.Clone()
		inserted = append(inserted, v)
	}
	return inserted, nil
}
