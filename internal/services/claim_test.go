package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbazaar/backend/internal/models"
)

func TestReleaseAfterTaskCancelReturnsCollateral(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	merchant := e.actor(models.RoleMerchant, "1000")
	buyer := e.actor(models.RoleBuyer, "")
	task := e.publishedTask(merchant, 2, 1, "100", "5")

	_, err := e.claims.Claim(ctx, task.ID, buyer.ID)
	require.NoError(t, err)
	_, err = e.tasks.Cancel(ctx, merchant, task.ID)
	require.NoError(t, err)
	e.balances(merchant.ID, "900", "100", "0", "0")

	require.NoError(t, e.claims.Release(ctx, task.ID))

	e.balances(merchant.ID, "1000", "0", "0", "0")
	got := e.task(task.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, 0, got.ClaimedCount)
	assert.True(t, got.UnclaimedCollateral.IsZero())
	e.reconciled(merchant.ID)

	recs, err := e.ledger.RecordsByCorrelation(ctx, models.ForTask(task.ID))
	require.NoError(t, err)
	last := recs[len(recs)-1]
	assert.Equal(t, models.RecordKindUnfreeze, last.Kind)
	assert.Equal(t, memoClaimReturned, last.Memo)
}

func TestReleaseAfterTaskCompletedReturnsCollateral(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	merchant := e.actor(models.RoleMerchant, "1000")
	buyer := e.actor(models.RoleBuyer, "")
	task := e.publishedTask(merchant, 1, 1, "100", "5")

	_, err := e.claims.Claim(ctx, task.ID, buyer.ID)
	require.NoError(t, err)
	// Fully claimed with no order yet: a settlement elsewhere may complete it.
	done, err := e.store.Tasks().CompleteIfExhausted(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, done)

	require.NoError(t, e.claims.Release(ctx, task.ID))

	e.balances(merchant.ID, "1000", "0", "0", "0")
	got := e.task(task.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.True(t, got.UnclaimedCollateral.IsZero())
	e.reconciled(merchant.ID)
}

func TestReleaseOnActiveTaskRestoresPool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	merchant := e.actor(models.RoleMerchant, "1000")
	buyer := e.actor(models.RoleBuyer, "")
	task := e.publishedTask(merchant, 2, 1, "100", "5")

	_, err := e.claims.Claim(ctx, task.ID, buyer.ID)
	require.NoError(t, err)
	require.NoError(t, e.claims.Release(ctx, task.ID))

	e.balances(merchant.ID, "800", "200", "0", "0")
	got := e.task(task.ID)
	assert.Equal(t, 0, got.ClaimedCount)
	assert.True(t, got.UnclaimedCollateral.Equal(dec("200")))
}

func TestReleaseRollsBackWhenUnfreezeFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	merchant := e.actor(models.RoleMerchant, "1000")
	buyer := e.actor(models.RoleBuyer, "")
	task := e.publishedTask(merchant, 2, 1, "100", "5")

	_, err := e.claims.Claim(ctx, task.ID, buyer.ID)
	require.NoError(t, err)
	_, err = e.tasks.Cancel(ctx, merchant, task.ID)
	require.NoError(t, err)

	e.store.FailNext("records.append", models.ErrStoreUnavailable)
	err = e.claims.Release(ctx, task.ID)
	require.ErrorIs(t, err, models.ErrStoreUnavailable)

	assert.Equal(t, 1, e.task(task.ID).ClaimedCount)
	e.balances(merchant.ID, "900", "100", "0", "0")

	require.NoError(t, e.claims.Release(ctx, task.ID))
	e.balances(merchant.ID, "1000", "0", "0", "0")
}
