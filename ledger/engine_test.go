/*
engine_test.go - Tests for the Ledger Engine

Covers the four transaction kinds end to end against the in-memory store:
validation, pricing, projection effects, permission gates, and the
all-or-nothing guarantee (a failed transaction leaves no trace).
*/
package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fridge-ledger/ledger"
	"github.com/warp/fridge-ledger/store/memory"
)

type fixture struct {
	store  *memory.Store
	engine *ledger.Engine
	admin  ledger.Session
	buyer  ledger.Session
	cola   ledger.Item
	drinks ledger.ItemCategory
}

// newFixture builds a store with one category, one item (COLA: cost 1.00,
// markup 0.5 so effective price 1.50), an admin, and a buyer holding 10.00
// and 10 units of stock - all funded through the ledger so reconciliation
// holds.
func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	engine := ledger.NewEngine(store, cfg)

	drinks := ledger.ItemCategory{ID: "cat-drinks", Name: "Drinks"}
	require.NoError(t, store.SaveCategory(ctx, drinks))

	cola := ledger.Item{
		ID:         "item-cola",
		Code:       "COLA",
		Name:       "Cola",
		Cost:       ledger.MustParseMoney("1.00"),
		Markup:     ledger.MustParseMoney("0.5"),
		CategoryID: drinks.ID,
		Enabled:    true,
	}
	require.NoError(t, store.SaveItem(ctx, cola))

	require.NoError(t, store.CreateUser(ctx,
		ledger.User{ID: "admin", Email: "admin@fridge.local", PasswordHash: "x", IsAdmin: true, Enabled: true},
		ledger.Account{ID: "acc-admin", UserID: "admin", Balance: decimal.Zero},
	))
	require.NoError(t, store.CreateUser(ctx,
		ledger.User{ID: "alice", Email: "alice@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-alice", UserID: "alice", Balance: decimal.Zero},
	))

	admin := ledger.Session{UserID: "admin", IsAdmin: true}
	buyer := ledger.Session{UserID: "alice"}

	// Fund through the ledger, not by poking projections.
	_, err := engine.Append(ctx, admin, ledger.Restock{ItemCode: "COLA", Units: 10})
	require.NoError(t, err)
	_, err = engine.Append(ctx, admin, ledger.Topup{ForUser: "alice", Amount: ledger.MustParseMoney("10.00")})
	require.NoError(t, err)

	return &fixture{store: store, engine: engine, admin: admin, buyer: buyer, cola: cola, drinks: drinks}
}

func (f *fixture) balance(t *testing.T, id ledger.UserID) ledger.Money {
	t.Helper()
	account, err := f.store.AccountByUser(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account.Balance
}

func (f *fixture) stock(t *testing.T, code string) int {
	t.Helper()
	item, err := f.store.ItemByCode(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.StockCount
}

func requireMoney(t *testing.T, expected string, actual ledger.Money) {
	t.Helper()
	require.True(t, ledger.MustParseMoney(expected).Equal(actual),
		"expected %s, got %s", expected, actual)
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_DebitsEffectivePriceAndDecrementsStock(t *testing.T) {
	// GIVEN a buyer with 10.00 and COLA at cost 1.00, markup 0.5, stock 10
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	// WHEN the buyer purchases one unit
	entry, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})

	// THEN the effective price 1.50 is debited and stock drops by one
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryPurchase, entry.Type)
	requireMoney(t, "1.50", entry.Quantity)
	assert.Equal(t, 1, entry.Units)
	require.NotNil(t, entry.ProductID)
	assert.Equal(t, f.cola.ID, *entry.ProductID)
	assert.True(t, entry.Verified)
	assert.False(t, entry.CreatedAt.IsZero(), "timestamp assigned at append")

	requireMoney(t, "8.50", f.balance(t, "alice"))
	assert.Equal(t, 9, f.stock(t, "COLA"))
}

func TestPurchase_AppliesUserDiscount(t *testing.T) {
	// GIVEN the buyer holds a 20% discount
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveDiscount(ctx, ledger.UserDiscount{
		ID: "d1", UserID: "alice", Discount: ledger.MustParseMoney("0.20"),
	}))

	// WHEN the buyer purchases one unit
	entry, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})

	// THEN the price is 1.50 * 0.8 = 1.20
	require.NoError(t, err)
	requireMoney(t, "1.20", entry.Quantity)
	requireMoney(t, "8.80", f.balance(t, "alice"))
}

func TestPurchase_MultipleUnits(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	entry, err := f.engine.Append(context.Background(), f.buyer,
		ledger.Purchase{ItemCode: "COLA", Units: 3})

	require.NoError(t, err)
	requireMoney(t, "4.50", entry.Quantity)
	assert.Equal(t, 3, entry.Units)
	assert.Equal(t, 7, f.stock(t, "COLA"))
}

func TestPurchase_InsufficientFundsLeavesNoTrace(t *testing.T) {
	// GIVEN a buyer whose balance cannot cover the price
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	// drain: 6 units at 1.50 leaves exactly 1.00
	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA", Units: 6})
	require.NoError(t, err)
	requireMoney(t, "1.00", f.balance(t, "alice"))
	entriesBefore, err := f.store.AllEntries(ctx)
	require.NoError(t, err)

	// WHEN the buyer attempts another purchase
	_, err = f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})

	// THEN it fails with InsufficientFunds and nothing changed
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	var fundsErr *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	requireMoney(t, "1.00", fundsErr.Available)
	requireMoney(t, "1.50", fundsErr.Required)

	requireMoney(t, "1.00", f.balance(t, "alice"))
	assert.Equal(t, 4, f.stock(t, "COLA"))
	entriesAfter, err := f.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entriesAfter, len(entriesBefore), "no entry row for a failed purchase")
}

func TestPurchase_InsufficientStock(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.buyer,
		ledger.Purchase{ItemCode: "COLA", Units: 11})

	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 11, stockErr.Requested)
	assert.Equal(t, 10, f.stock(t, "COLA"))
}

func TestPurchase_OverdraftAllowPermitsNegativeBalance(t *testing.T) {
	// GIVEN an engine configured to allow overdrafts
	f := newFixture(t, ledger.Config{Overdraft: ledger.OverdraftAllow})
	ctx := context.Background()

	// WHEN the buyer spends past their balance
	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA", Units: 7})

	// THEN the balance goes negative
	require.NoError(t, err)
	requireMoney(t, "-0.50", f.balance(t, "alice"))
}

func TestPurchase_UnknownAndDisabledItems(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "NOPE"})
	require.ErrorIs(t, err, ledger.ErrValidation)

	disabled := f.cola
	disabled.Enabled = false
	require.NoError(t, f.store.UpdateItem(ctx, disabled))

	_, err = f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPurchase_DisabledUserCannotAct(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	user, err := f.store.UserByID(ctx, "alice")
	require.NoError(t, err)
	user.Enabled = false
	require.NoError(t, f.store.UpdateUser(ctx, *user))

	_, err = f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})
	require.ErrorIs(t, err, ledger.ErrPermissionDenied)
}

func TestPurchase_ConcurrentLastUnit(t *testing.T) {
	// GIVEN exactly one unit on the shelf
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()
	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA", Units: 9})
	require.NoError(t, err)
	require.Equal(t, 1, f.stock(t, "COLA"))

	// Second buyer with their own funds.
	require.NoError(t, f.store.CreateUser(ctx,
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: decimal.Zero},
	))
	_, err = f.engine.Append(ctx, f.admin, ledger.Topup{ForUser: "bob", Amount: ledger.MustParseMoney("5.00")})
	require.NoError(t, err)

	// WHEN both race for it
	sessions := []ledger.Session{{UserID: "alice"}, {UserID: "bob"}}
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s ledger.Session) {
			defer wg.Done()
			_, errs[i] = f.engine.Append(ctx, s, ledger.Purchase{ItemCode: "COLA"})
		}(i, s)
	}
	wg.Wait()

	// THEN exactly one purchase succeeds and stock never goes negative
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ledger.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.stock(t, "COLA"))
}

// =============================================================================
// RESTOCK
// =============================================================================

func TestRestock_AddsStock(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	entry, err := f.engine.Append(context.Background(), f.admin,
		ledger.Restock{ItemCode: "COLA", Units: 5})

	require.NoError(t, err)
	assert.Equal(t, ledger.EntryRestock, entry.Type)
	assert.Equal(t, 5, entry.Units)
	requireMoney(t, "5", entry.Quantity)
	assert.Equal(t, 15, f.stock(t, "COLA"))
	// No balance effect.
	requireMoney(t, "0", f.balance(t, "admin"))
}

func TestRestock_RequiresAdmin(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.buyer,
		ledger.Restock{ItemCode: "COLA", Units: 5})

	require.ErrorIs(t, err, ledger.ErrPermissionDenied)
	assert.Equal(t, 10, f.stock(t, "COLA"))
}

func TestRestock_UnknownActingUser(t *testing.T) {
	// GIVEN an admin session whose user id matches no stored user
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(),
		ledger.Session{UserID: "ghost", IsAdmin: true},
		ledger.Restock{ItemCode: "COLA", Units: 5})

	// THEN the append is rejected without a dangling actor reference
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, 10, f.stock(t, "COLA"))
}

func TestRestock_RejectsNonPositiveUnits(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	for _, units := range []int{0, -3} {
		_, err := f.engine.Append(context.Background(), f.admin,
			ledger.Restock{ItemCode: "COLA", Units: units})
		require.ErrorIs(t, err, ledger.ErrValidation)
	}
}

// =============================================================================
// TOPUP
// =============================================================================

func TestTopup_CreditsBeneficiary(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	entry, err := f.engine.Append(context.Background(), f.admin,
		ledger.Topup{ForUser: "alice", Amount: ledger.MustParseMoney("2.50"), Reference: "cash box"})

	require.NoError(t, err)
	assert.Equal(t, ledger.EntryTopup, entry.Type)
	assert.Equal(t, ledger.UserID("alice"), entry.UserID)
	assert.Equal(t, "cash box", entry.Reference)
	requireMoney(t, "12.50", f.balance(t, "alice"))
}

func TestTopup_DefaultsToSessionUser(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	entry, err := f.engine.Append(context.Background(), f.admin,
		ledger.Topup{Amount: ledger.MustParseMoney("3.00")})

	require.NoError(t, err)
	assert.Equal(t, ledger.UserID("admin"), entry.UserID)
	requireMoney(t, "3.00", f.balance(t, "admin"))
}

func TestTopup_RequiresAdmin(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.buyer,
		ledger.Topup{Amount: ledger.MustParseMoney("100.00")})

	require.ErrorIs(t, err, ledger.ErrPermissionDenied)
	requireMoney(t, "10.00", f.balance(t, "alice"))
}

func TestTopup_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.admin,
		ledger.Topup{ForUser: "alice", Amount: ledger.MustParseMoney("-1.00")})
	require.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_MovesMoneyBetweenAccounts(t *testing.T) {
	// GIVEN alice with 10.00 and bob with nothing
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateUser(ctx,
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: decimal.Zero},
	))

	// WHEN alice transfers 4.00 to bob
	entry, err := f.engine.Append(ctx, f.buyer,
		ledger.Transfer{To: "bob", Amount: ledger.MustParseMoney("4.00")})

	// THEN both balances move and the entry names the counterparty
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryTransfer, entry.Type)
	require.NotNil(t, entry.ToUserID)
	assert.Equal(t, ledger.UserID("bob"), *entry.ToUserID)
	requireMoney(t, "6.00", f.balance(t, "alice"))
	requireMoney(t, "4.00", f.balance(t, "bob"))
}

func TestTransfer_ToSelfIsInvalid(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.buyer,
		ledger.Transfer{To: "alice", Amount: ledger.MustParseMoney("1.00")})

	require.ErrorIs(t, err, ledger.ErrInvalidTarget)
}

func TestTransfer_ToDisabledUserIsInvalid(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateUser(ctx,
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: false},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: decimal.Zero},
	))

	_, err := f.engine.Append(ctx, f.buyer,
		ledger.Transfer{To: "bob", Amount: ledger.MustParseMoney("1.00")})

	require.ErrorIs(t, err, ledger.ErrInvalidTarget)
}

func TestTransfer_NeverOverdrafts(t *testing.T) {
	// GIVEN the overdraft policy allows purchases to go negative
	f := newFixture(t, ledger.Config{Overdraft: ledger.OverdraftAllow})
	ctx := context.Background()
	require.NoError(t, f.store.CreateUser(ctx,
		ledger.User{ID: "bob", Email: "bob@fridge.local", PasswordHash: "x", Enabled: true},
		ledger.Account{ID: "acc-bob", UserID: "bob", Balance: decimal.Zero},
	))

	// WHEN alice transfers more than she has
	_, err := f.engine.Append(ctx, f.buyer,
		ledger.Transfer{To: "bob", Amount: ledger.MustParseMoney("50.00")})

	// THEN the transfer is rejected regardless of policy
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	requireMoney(t, "10.00", f.balance(t, "alice"))
	requireMoney(t, "0", f.balance(t, "bob"))
}

// =============================================================================
// ATTRIBUTES
// =============================================================================

func attributeFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	// Required enumerated group "flavor" with one value, plus an optional
	// free-text group "note".
	require.NoError(t, f.store.SaveGroup(ctx, ledger.AttributeGroup{
		ID: "g-flavor", Code: "flavor", CategoryID: f.drinks.ID,
		Kind: ledger.KindEnumerated, Required: true,
	}))
	require.NoError(t, f.store.SaveAttribute(ctx, ledger.Attribute{
		ID: "a-cherry", Code: "cherry", GroupID: "g-flavor",
	}))
	require.NoError(t, f.store.SaveGroup(ctx, ledger.AttributeGroup{
		ID: "g-note", Code: "note", CategoryID: f.drinks.ID,
		Kind: ledger.KindFreeText,
	}))
	return f
}

func TestAttributes_RequiredGroupMustBeSupplied(t *testing.T) {
	f := attributeFixture(t)

	_, err := f.engine.Append(context.Background(), f.admin,
		ledger.Restock{ItemCode: "COLA", Units: 5})

	require.ErrorIs(t, err, ledger.ErrMissingAttribute)
	var missing *ledger.MissingAttributeError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "flavor", missing.Group)
	assert.Equal(t, 10, f.stock(t, "COLA"))
}

func TestAttributes_ValidValuesAccepted(t *testing.T) {
	f := attributeFixture(t)

	entry, err := f.engine.Append(context.Background(), f.admin, ledger.Restock{
		ItemCode: "COLA", Units: 5,
		Attributes: []ledger.EntryAttribute{
			{Group: "flavor", Attribute: "cherry"},
			{Group: "note", Text: "weekly delivery"},
		},
	})

	require.NoError(t, err)
	assert.Len(t, entry.Attributes, 2)
	assert.Equal(t, 15, f.stock(t, "COLA"))
}

func TestAttributes_UnknownGroupRejected(t *testing.T) {
	f := attributeFixture(t)

	_, err := f.engine.Append(context.Background(), f.admin, ledger.Restock{
		ItemCode: "COLA", Units: 5,
		Attributes: []ledger.EntryAttribute{
			{Group: "flavor", Attribute: "cherry"},
			{Group: "bogus", Attribute: "x"},
		},
	})

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAttributes_EnumeratedValueMustExist(t *testing.T) {
	f := attributeFixture(t)

	_, err := f.engine.Append(context.Background(), f.admin, ledger.Restock{
		ItemCode: "COLA", Units: 5,
		Attributes: []ledger.EntryAttribute{{Group: "flavor", Attribute: "plutonium"}},
	})

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAttributes_FreeTextRequiresText(t *testing.T) {
	f := attributeFixture(t)

	_, err := f.engine.Append(context.Background(), f.admin, ledger.Restock{
		ItemCode: "COLA", Units: 5,
		Attributes: []ledger.EntryAttribute{
			{Group: "flavor", Attribute: "cherry"},
			{Group: "note"},
		},
	})

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAttributes_ValidatedOnPurchaseToo(t *testing.T) {
	f := attributeFixture(t)
	ctx := context.Background()

	_, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})
	require.ErrorIs(t, err, ledger.ErrMissingAttribute)

	_, err = f.engine.Append(ctx, f.buyer, ledger.Purchase{
		ItemCode:   "COLA",
		Attributes: []ledger.EntryAttribute{{Group: "flavor", Attribute: "cherry"}},
	})
	require.NoError(t, err)
}

// =============================================================================
// VERIFIED FLAG
// =============================================================================

func TestMarkVerified_AdminOnlyMetadata(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	ctx := context.Background()

	entry, err := f.engine.Append(ctx, f.buyer, ledger.Purchase{ItemCode: "COLA"})
	require.NoError(t, err)

	// Non-admin cannot flip it.
	err = f.engine.MarkVerified(ctx, f.buyer, entry.ID, false)
	require.ErrorIs(t, err, ledger.ErrPermissionDenied)

	// Admin can; effects are NOT re-applied.
	balanceBefore := f.balance(t, "alice")
	stockBefore := f.stock(t, "COLA")
	require.NoError(t, f.engine.MarkVerified(ctx, f.admin, entry.ID, false))

	got, err := f.store.EntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, got.Verified)
	requireMoney(t, balanceBefore.String(), f.balance(t, "alice"))
	assert.Equal(t, stockBefore, f.stock(t, "COLA"))

	// Unknown entry.
	err = f.engine.MarkVerified(ctx, f.admin, "no-such-entry", true)
	require.True(t, errors.Is(err, ledger.ErrNotFound))
}

// =============================================================================
// UNKNOWN OPERATION
// =============================================================================

type bogusOp struct{}

func (bogusOp) EntryType() ledger.EntryType { return "bogus" }

func TestAppend_RejectsUnknownOperation(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.engine.Append(context.Background(), f.buyer, bogusOp{})
	require.ErrorIs(t, err, ledger.ErrValidation)
}
