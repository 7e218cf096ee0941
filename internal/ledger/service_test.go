package ledger_test

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/taskbazaar/backend/internal/repository/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T) (ledger.Service, *memory.Store) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memory.New(clk)
	return ledger.NewService(st, st.Accounts(), st.Records(), ledger.WithClock(clk)), st
}

func openFunded(t *testing.T, l ledger.Service, kind, principal string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := l.OpenAccount(ctx, id, kind)
	require.NoError(t, err)
	if principal != "" {
		_, err = l.CreditAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d(principal), Memo: "deposit"})
		require.NoError(t, err)
	}
	return id
}

func assertBalanced(t *testing.T, l ledger.Service, id uuid.UUID) {
	t.Helper()
	rec, err := l.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.Balanced, "account %s drifted: %+v", id, rec.Assets)
}

func TestOpenAccount(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := uuid.New()

	acc, err := l.OpenAccount(ctx, id, models.AccountKindBuyer)
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.IsZero())
	assert.True(t, acc.FrozenCommission.IsZero())

	_, err = l.OpenAccount(ctx, id, models.AccountKindBuyer)
	assert.ErrorIs(t, err, models.ErrAccountExists)

	_, err = l.OpenAccount(ctx, uuid.New(), "admin")
	assert.Error(t, err)
}

func TestCreditThenDebit(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "100.00")

	acc, err := l.DebitAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("40.255"), Memo: "debit"})
	require.NoError(t, err)
	// Amounts are rounded half away from zero to two places.
	assert.True(t, acc.AvailablePrincipal.Equal(d("59.74")), acc.AvailablePrincipal.String())

	recs, err := l.Records(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.RecordKindDebit, recs[0].Kind)
	assert.True(t, recs[0].Amount.Equal(d("-40.26")))
	assert.True(t, recs[0].BalanceAfter.Equal(d("59.74")))
	assertBalanced(t, l, id)
}

func TestDebitInsufficientFundsLeavesNoTrace(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "10.00")

	_, err := l.DebitAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("10.01")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	acc, err := l.Account(ctx, id)
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.Equal(d("10")))
	recs, err := l.Records(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRejectsBadInput(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "10.00")

	_, err := l.CreditAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("-1")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: "gold", Amount: d("1")})
	assert.ErrorIs(t, err, models.ErrInvalidAsset)

	_, err = l.DebitAvailable(ctx, ledger.Entry{AccountID: uuid.New(), Asset: models.AssetPrincipal, Amount: d("1")})
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	_, err = l.CreditAvailable(ctx, ledger.Entry{AccountID: uuid.New(), Asset: models.AssetPrincipal, Amount: d("1")})
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestZeroAmountIsAccepted(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "")

	acc, err := l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetCommission, Amount: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, acc.FrozenCommission.IsZero())
	assertBalanced(t, l, id)
}

func TestFreezeUnfreezeKeepsTotal(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindMerchant, "100.00")
	taskID := uuid.New()
	corr := models.ForTask(taskID)

	acc, err := l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("60"), Correlation: corr})
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.Equal(d("40")))
	assert.True(t, acc.FrozenPrincipal.Equal(d("60")))
	assert.True(t, acc.Total(models.AssetPrincipal).Equal(d("100")))

	_, err = l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("40.01")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	acc, err = l.Unfreeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("25"), Correlation: corr})
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.Equal(d("65")))
	assert.True(t, acc.FrozenPrincipal.Equal(d("35")))

	recs, err := l.RecordsByCorrelation(ctx, corr)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	assertBalanced(t, l, id)
}

func TestUnfreezeBeyondFrozenIsInvariantViolation(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindMerchant, "50.00")

	_, err := l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("10")})
	require.NoError(t, err)

	_, err = l.Unfreeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("10.01")})
	require.ErrorIs(t, err, models.ErrInvariantViolation)
	var v *models.InvariantViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "unfreeze", v.Op)
	assert.Equal(t, models.BucketFrozen, v.Bucket)

	_, err = l.DebitFrozen(ctx, ledger.Entry{AccountID: id, Asset: models.AssetCommission, Amount: d("1")})
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	assertBalanced(t, l, id)
}

func TestDebitFrozen(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "50.00")

	_, err := l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("20")})
	require.NoError(t, err)
	acc, err := l.DebitFrozen(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("20")})
	require.NoError(t, err)
	assert.True(t, acc.FrozenPrincipal.IsZero())
	assert.True(t, acc.AvailablePrincipal.Equal(d("30")))
	assertBalanced(t, l, id)
}

func TestSettleFrozenToOther(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	merchant := openFunded(t, l, models.AccountKindMerchant, "100.00")
	buyer := openFunded(t, l, models.AccountKindBuyer, "")
	orderID, taskID := uuid.New(), uuid.New()

	_, err := l.Freeze(ctx, ledger.Entry{AccountID: merchant, Asset: models.AssetPrincipal, Amount: d("30")})
	require.NoError(t, err)

	res, err := l.SettleFrozenToOther(ctx, ledger.Settlement{
		From:         merchant,
		To:           buyer,
		Asset:        models.AssetPrincipal,
		Amount:       d("30"),
		CreditAsset:  models.AssetCommission,
		CreditAmount: d("2.50"),
		Memo:         "order settlement",
		Correlation:  models.ForOrder(orderID, taskID),
	})
	require.NoError(t, err)
	assert.True(t, res.From.FrozenPrincipal.IsZero())
	assert.True(t, res.From.AvailablePrincipal.Equal(d("70")))
	assert.True(t, res.To.AvailablePrincipal.Equal(d("30")))
	assert.True(t, res.To.AvailableCommission.Equal(d("2.5")))

	recs, err := l.RecordsByCorrelation(ctx, models.Correlation{OrderID: &orderID})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	kinds := map[string]int{}
	for _, r := range recs {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[models.RecordKindSettleOut])
	assert.Equal(t, 2, kinds[models.RecordKindSettleIn])

	assertBalanced(t, l, merchant)
	assertBalanced(t, l, buyer)
}

func TestSettleSameAssetShowsIntermediateBalance(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	merchant := openFunded(t, l, models.AccountKindMerchant, "10.00")
	buyer := openFunded(t, l, models.AccountKindBuyer, "1.00")
	orderID := uuid.New()

	_, err := l.Freeze(ctx, ledger.Entry{AccountID: merchant, Asset: models.AssetPrincipal, Amount: d("10")})
	require.NoError(t, err)
	_, err = l.SettleFrozenToOther(ctx, ledger.Settlement{
		From: merchant, To: buyer,
		Asset: models.AssetPrincipal, Amount: d("10"),
		CreditAsset: models.AssetPrincipal, CreditAmount: d("2"),
		Correlation: models.Correlation{OrderID: &orderID},
	})
	require.NoError(t, err)

	recs, err := l.RecordsByCorrelation(ctx, models.Correlation{OrderID: &orderID})
	require.NoError(t, err)
	var after []string
	for _, r := range recs {
		if r.AccountID == buyer {
			after = append(after, r.BalanceAfter.StringFixed(2))
		}
	}
	assert.Equal(t, []string{"11.00", "13.00"}, after)
	assertBalanced(t, l, buyer)
}

func TestSettleFailureRollsBackEverything(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	merchant := openFunded(t, l, models.AccountKindMerchant, "10.00")
	buyer := openFunded(t, l, models.AccountKindBuyer, "")

	// Nothing frozen: the debit leg must fail and the credit legs must not survive.
	_, err := l.SettleFrozenToOther(ctx, ledger.Settlement{
		From: merchant, To: buyer,
		Asset: models.AssetPrincipal, Amount: d("5"),
		CreditAsset: models.AssetCommission, CreditAmount: d("1"),
	})
	require.ErrorIs(t, err, models.ErrInvariantViolation)

	acc, err := l.Account(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.IsZero())
	assert.True(t, acc.AvailableCommission.IsZero())

	_, err = l.SettleFrozenToOther(ctx, ledger.Settlement{From: buyer, To: buyer, Asset: models.AssetPrincipal, CreditAsset: models.AssetCommission})
	assert.ErrorIs(t, err, models.ErrSameAccount)
}

func TestStoreFailureRollsBackBalance(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "10.00")

	boom := errors.New("disk full")
	st.FailNext("records.append", boom)
	_, err := l.CreditAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("5")})
	require.ErrorIs(t, err, boom)

	acc, err := l.Account(ctx, id)
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.Equal(d("10")))
	assertBalanced(t, l, id)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "100.00")

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.DebitAvailable(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("10")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, short)
	acc, err := l.Account(ctx, id)
	require.NoError(t, err)
	assert.True(t, acc.AvailablePrincipal.IsZero())
	assertBalanced(t, l, id)
}

func TestReconcileDetectsDrift(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "10.00")

	st.Accounts().Adjust(ctx, id, func(a *models.Account) {
		a.AvailableCommission = d("3")
	})

	rec, err := l.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Balanced)
	for _, a := range rec.Assets {
		if a.Asset == models.AssetCommission {
			assert.True(t, a.Drift.Equal(d("3")))
		} else {
			assert.True(t, a.Drift.IsZero())
		}
	}

	_, err = l.Reconcile(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestCheckViolationIsClassifiedWithoutReread(t *testing.T) {
	l, st := newLedger(t)
	ctx := context.Background()
	id := openFunded(t, l, models.AccountKindBuyer, "10")

	// In Postgres the failed statement aborts the transaction, so a follow-up
	// read would fail and hide the typed error.
	aborted := errors.New("current transaction is aborted, commands ignored until end of transaction block")
	st.FailNext("accounts.freeze", fmt.Errorf("%w: accounts_available_principal_check", models.ErrCheckViolation))
	st.FailNext("accounts.get", aborted)
	_, err := l.Freeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("5")})
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	st.FailNext("accounts.unfreeze", fmt.Errorf("%w: accounts_frozen_principal_check", models.ErrCheckViolation))
	_, err = l.Unfreeze(ctx, ledger.Entry{AccountID: id, Asset: models.AssetPrincipal, Amount: d("5")})
	var inv *models.InvariantViolationError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "unfreeze", inv.Op)

	// The pending read fault was never consumed by the ledger.
	_, err = st.Accounts().Get(ctx, id)
	assert.ErrorIs(t, err, aborted)
}
