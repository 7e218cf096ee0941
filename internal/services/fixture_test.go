package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/models"
	"github.com/taskbazaar/backend/internal/notify"
	"github.com/taskbazaar/backend/internal/repository/memory"
)

var bankPayout = json.RawMessage(`{"method":"bank","bank_name":"ICBC","account_name":"Li Wei","account_number":"6222020200112233"}`)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	t           *testing.T
	store       *memory.Store
	ledger      ledger.Service
	tasks       *TaskService
	claims      *ClaimCoordinator
	orders      *OrderService
	settlement  *Settlement
	withdrawals *WithdrawalLifecycle
	accounts    *AccountService
	events      *recorder
	admin       models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(clk)
	l := ledger.NewService(st, st.Accounts(), st.Records(), ledger.WithClock(clk), ledger.WithLogger(log))
	payout, err := NewPayoutValidator()
	require.NoError(t, err)
	rec := &recorder{}
	fees := FeePolicy{Rate: dec("0.01"), MinFee: dec("1.00"), MinAmount: dec("10.00")}

	claims := NewClaimCoordinator(st, st.Tasks(), l, log)
	return &env{
		t:           t,
		store:       st,
		ledger:      l,
		tasks:       NewTaskService(st, st.Tasks(), l, clk, log),
		claims:      claims,
		orders:      NewOrderService(st, claims, st.Orders(), st.Tasks(), l, clk, log),
		settlement:  NewSettlement(st, st.Orders(), st.Tasks(), l, rec, clk, log),
		withdrawals: NewWithdrawalLifecycle(st, st.Withdrawals(), l, fees, payout, rec, clk, log),
		accounts:    NewAccountService(l),
		events:      rec,
		admin:       models.Actor{ID: uuid.New(), Role: models.RoleAdmin},
	}
}

// actor opens a ledger account for a new buyer or merchant and deposits principal into it.
func (e *env) actor(role, principal string) models.Actor {
	e.t.Helper()
	ctx := context.Background()
	a := models.Actor{ID: uuid.New(), Role: role}
	kind, ok := models.AccountKindForRole(role)
	require.True(e.t, ok)
	_, err := e.ledger.OpenAccount(ctx, a.ID, kind)
	require.NoError(e.t, err)
	if principal != "" && !dec(principal).IsZero() {
		_, err = e.accounts.Deposit(ctx, e.admin, a.ID, models.AssetPrincipal, dec(principal), "")
		require.NoError(e.t, err)
	}
	return a
}

// publishedTask creates and publishes a task for merchant.
func (e *env) publishedTask(merchant models.Actor, capacity, steps int, price, commission string) *models.Task {
	e.t.Helper()
	ctx := context.Background()
	t, err := e.tasks.CreateDraft(ctx, merchant, CreateTaskInput{
		Title:          "Write a product review",
		Capacity:       capacity,
		StepCount:      steps,
		UnitPrice:      dec(price),
		UnitCommission: dec(commission),
	})
	require.NoError(e.t, err)
	t, err = e.tasks.Publish(ctx, merchant, t.ID)
	require.NoError(e.t, err)
	return t
}

// submittedOrder opens an order on task for buyer and submits every step.
func (e *env) submittedOrder(buyer models.Actor, task *models.Task) *models.Order {
	e.t.Helper()
	ctx := context.Background()
	o, err := e.orders.Open(ctx, buyer, task.ID)
	require.NoError(e.t, err)
	for i := 0; i < o.StepCount; i++ {
		o, err = e.orders.SubmitStep(ctx, buyer, o.ID, i, "https://proof.example/"+o.ID.String())
		require.NoError(e.t, err)
	}
	require.Equal(e.t, models.OrderStatusSubmitted, o.Status)
	return o
}

func (e *env) account(id uuid.UUID) *models.Account {
	e.t.Helper()
	a, err := e.ledger.Account(context.Background(), id)
	require.NoError(e.t, err)
	return a
}

func (e *env) task(id uuid.UUID) *models.Task {
	e.t.Helper()
	t, err := e.tasks.Get(context.Background(), id)
	require.NoError(e.t, err)
	return t
}

// balances asserts available and frozen principal/commission of an account.
func (e *env) balances(id uuid.UUID, availP, frozenP, availC, frozenC string) {
	e.t.Helper()
	a := e.account(id)
	assert.True(e.t, a.AvailablePrincipal.Equal(dec(availP)), "available principal = %s, want %s", a.AvailablePrincipal, availP)
	assert.True(e.t, a.FrozenPrincipal.Equal(dec(frozenP)), "frozen principal = %s, want %s", a.FrozenPrincipal, frozenP)
	assert.True(e.t, a.AvailableCommission.Equal(dec(availC)), "available commission = %s, want %s", a.AvailableCommission, availC)
	assert.True(e.t, a.FrozenCommission.Equal(dec(frozenC)), "frozen commission = %s, want %s", a.FrozenCommission, frozenC)
}

// reconciled asserts the record log of every given account matches its balances.
func (e *env) reconciled(ids ...uuid.UUID) {
	e.t.Helper()
	for _, id := range ids {
		rec, err := e.ledger.Reconcile(context.Background(), id)
		require.NoError(e.t, err)
		assert.True(e.t, rec.Balanced, "account %s does not reconcile: %+v", id, rec.Assets)
	}
}
