// Package memory is an in-process implementation of every store contract.
// A unit of work holds the store mutex for its whole duration and restores a
// snapshot when it fails, which gives serializable, all-or-nothing semantics.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/models"
)

type txKey struct{}

type Store struct {
	mu          sync.Mutex
	clock       clock.Clock
	accounts    map[uuid.UUID]*models.Account
	records     []*models.FundRecord
	tasks       map[uuid.UUID]*models.Task
	orders      map[uuid.UUID]*models.Order
	withdrawals map[uuid.UUID]*models.Withdrawal
	users       map[uuid.UUID]*models.User
	faults      map[string]error
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		clock:       clk,
		accounts:    make(map[uuid.UUID]*models.Account),
		tasks:       make(map[uuid.UUID]*models.Task),
		orders:      make(map[uuid.UUID]*models.Order),
		withdrawals: make(map[uuid.UUID]*models.Withdrawal),
		users:       make(map[uuid.UUID]*models.User),
		faults:      make(map[string]error),
	}
}

// WithTx runs fn as one unit of work; nested calls join the outer unit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// FailNext makes the next call of op return err. Ops are named
// "<store>.<method>", e.g. "orders.create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) Accounts() *AccountStore       { return &AccountStore{s: s} }
func (s *Store) Records() *RecordStore         { return &RecordStore{s: s} }
func (s *Store) Tasks() *TaskStore             { return &TaskStore{s: s} }
func (s *Store) Orders() *OrderStore           { return &OrderStore{s: s} }
func (s *Store) Withdrawals() *WithdrawalStore { return &WithdrawalStore{s: s} }
func (s *Store) Users() *UserStore             { return &UserStore{s: s} }

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the mutex unless ctx is already inside this store's unit of work.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// fault must be called with the lock held.
func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

type snapshot struct {
	accounts    map[uuid.UUID]models.Account
	records     int
	tasks       map[uuid.UUID]models.Task
	orders      map[uuid.UUID]models.Order
	withdrawals map[uuid.UUID]models.Withdrawal
	users       map[uuid.UUID]models.User
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts:    make(map[uuid.UUID]models.Account, len(s.accounts)),
		records:     len(s.records),
		tasks:       make(map[uuid.UUID]models.Task, len(s.tasks)),
		orders:      make(map[uuid.UUID]models.Order, len(s.orders)),
		withdrawals: make(map[uuid.UUID]models.Withdrawal, len(s.withdrawals)),
		users:       make(map[uuid.UUID]models.User, len(s.users)),
	}
	for id, a := range s.accounts {
		snap.accounts[id] = *a
	}
	for id, t := range s.tasks {
		snap.tasks[id] = *t
	}
	for id, o := range s.orders {
		cp := *o
		cp.Proofs = append([]string(nil), o.Proofs...)
		snap.orders[id] = cp
	}
	for id, w := range s.withdrawals {
		snap.withdrawals[id] = *w
	}
	for id, u := range s.users {
		snap.users[id] = *u
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.accounts = make(map[uuid.UUID]*models.Account, len(snap.accounts))
	for id, a := range snap.accounts {
		s.accounts[id] = &a
	}
	s.records = s.records[:snap.records]
	s.tasks = make(map[uuid.UUID]*models.Task, len(snap.tasks))
	for id, t := range snap.tasks {
		s.tasks[id] = &t
	}
	s.orders = make(map[uuid.UUID]*models.Order, len(snap.orders))
	for id, o := range snap.orders {
		s.orders[id] = &o
	}
	s.withdrawals = make(map[uuid.UUID]*models.Withdrawal, len(snap.withdrawals))
	for id, w := range snap.withdrawals {
		s.withdrawals[id] = &w
	}
	s.users = make(map[uuid.UUID]*models.User, len(snap.users))
	for id, u := range snap.users {
		s.users[id] = &u
	}
}
