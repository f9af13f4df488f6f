/*
reconcile_test.go - Ledger replay vs projection drift

The reconciler must report a clean bill after any sequence of Engine
transactions, and must flag (never repair) projections that were written
outside the ledger.
*/
package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fridge-ledger/ledger"
)

func TestReconcile_CleanAfterEngineTraffic(t *testing.T) {
	// GIVEN a mix of all four transaction kinds
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateUser(ctx,
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: ledger.MustParseMoney("0")},
	))

	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA", Units: 2})
	require.NoError(t, err)
	_, err = f.engine.Append(ctx, f.admin, ledger.Restock{ItemCode: "COLA", Units: 4})
	require.NoError(t, err)
	_, err = f.engine.Append(ctx, f.admin, ledger.Topup{ForUser: "bob", Amount: ledger.MustParseMoney("5.00")})
	require.NoError(t, err)
	_, err = f.engine.Append(ctx, f.buyer, ledger.Transfer{To: "bob", Amount: ledger.MustParseMoney("1.00")})
	require.NoError(t, err)

	// WHEN the ledger is replayed
	report, err := ledger.NewReconciler(f.store).Reconcile(ctx)

	// THEN projections match the fold exactly
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestReconcile_DetectsStockDrift(t *testing.T) {
	// GIVEN a stock projection mutated without a matching entry
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AdjustStock(ctx, f.cola.ID, -2) // no Append
	})
	require.NoError(t, err)

	// WHEN reconciling
	report, err := ledger.NewReconciler(f.store).Reconcile(ctx)

	// THEN the drift is reported as a hard error, not repaired
	require.ErrorIs(t, err, ledger.ErrDriftDetected)
	var drift *ledger.DriftError
	require.ErrorAs(t, err, &drift)

	require.Len(t, report.Items, 1)
	assert.Equal(t, "COLA", report.Items[0].Code)
	assert.Equal(t, 10, report.Items[0].Ledger)
	assert.Equal(t, 8, report.Items[0].Live)
	assert.Empty(t, report.Accounts)

	// The projection stays broken until an operator intervenes.
	assert.Equal(t, 8, f.stock(t, "COLA"))
}

func TestReconcile_DetectsBalanceDrift(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	err := f.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AdjustBalance(ctx, "alice", ledger.MustParseMoney("99.00"))
	})
	require.NoError(t, err)

	report, err := ledger.NewReconciler(f.store).Reconcile(ctx)

	require.ErrorIs(t, err, ledger.ErrDriftDetected)
	require.Len(t, report.Accounts, 1)
	assert.Equal(t, ledger.UserID("alice"), report.Accounts[0].UserID)
	requireMoney(t, "10.00", report.Accounts[0].Ledger)
	requireMoney(t, "109.00", report.Accounts[0].Live)
}
