package authz

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type memStore struct {
	mu           sync.Mutex
	subjects     map[int64]Subject
	vehicles     map[int64]Vehicle
	transactions map[int64]Transaction
	maintenance  map[int64]Maintenance
	subjectErr   error
	resourceErr  error
	subjectCalls int
}

func newMemStore() *memStore {
	return &memStore{
		subjects:     make(map[int64]Subject),
		vehicles:     make(map[int64]Vehicle),
		transactions: make(map[int64]Transaction),
		maintenance:  make(map[int64]Maintenance),
	}
}

func (m *memStore) Subject(ctx context.Context, id int64) (Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjectCalls++
	if m.subjectErr != nil {
		return Subject{}, m.subjectErr
	}
	s, ok := m.subjects[id]
	if !ok {
		return Subject{}, ErrSubjectNotFound
	}
	return s, nil
}

func (m *memStore) Vehicle(ctx context.Context, id int64) (Vehicle, error) {
	if m.resourceErr != nil {
		return Vehicle{}, m.resourceErr
	}
	v, ok := m.vehicles[id]
	if !ok {
		return Vehicle{}, ErrResourceNotFound
	}
	return v, nil
}

func (m *memStore) Transaction(ctx context.Context, id int64) (Transaction, error) {
	if m.resourceErr != nil {
		return Transaction{}, m.resourceErr
	}
	t, ok := m.transactions[id]
	if !ok {
		return Transaction{}, ErrResourceNotFound
	}
	return t, nil
}

func (m *memStore) Maintenance(ctx context.Context, id int64) (Maintenance, error) {
	if m.resourceErr != nil {
		return Maintenance{}, m.resourceErr
	}
	r, ok := m.maintenance[id]
	if !ok {
		return Maintenance{}, ErrResourceNotFound
	}
	return r, nil
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjectCalls
}

func role(id int64, perms []string, rules ...Rule) Role {
	return Role{ID: id, Name: "role", Permissions: perms, Rules: rules}
}

func budget(v int64) BudgetLimit {
	return BudgetLimit{Ceiling: decimal.NewFromInt(v)}
}

func amount(v int64) *decimal.Decimal {
	return Ptr(decimal.NewFromInt(v))
}
