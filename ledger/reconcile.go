/*
reconcile.go - Ledger replay and drift detection

PURPOSE:
  Account.Balance and Item.StockCount are cached projections of the ledger.
  The Reconciler replays every entry from zero and compares the fold with
  the live projections. A mismatch (drift) indicates a bug or a
  non-ledger-mediated write and is a hard error - it is reported, never
  silently corrected.

FOLD RULES (per entry type):
  purchase: balance[user]   -= Quantity (money)
            stock[product]  -= Units
  restock:  stock[product]  += Units
  topup:    balance[user]   += Quantity
  transfer: balance[user]   -= Quantity
            balance[to]     += Quantity

  Items are created with stock 0 and accounts with balance 0, so the fold
  starts from zero for every entity.

SEE ALSO:
  - engine.go: The only writer of projections
  - store.go: ReconcileStore contract
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	store ReconcileStore
}

func NewReconciler(store ReconcileStore) *Reconciler {
	return &Reconciler{store: store}
}

// DriftReport lists every entity whose projection disagrees with the ledger.
type DriftReport struct {
	Accounts []AccountDrift
	Items    []ItemDrift
}

// Clean reports whether the projections match the ledger exactly.
func (r *DriftReport) Clean() bool {
	return len(r.Accounts) == 0 && len(r.Items) == 0
}

type AccountDrift struct {
	UserID UserID
	Ledger Money // balance per ledger replay
	Live   Money // cached projection
}

type ItemDrift struct {
	ItemID ItemID
	Code   string
	Ledger int
	Live   int
}

// Reconcile replays the full ledger and compares it with live projections.
// On drift it returns the report together with a DriftError; the report is
// also returned on success for auditing.
func (r *Reconciler) Reconcile(ctx context.Context) (*DriftReport, error) {
	entries, err := r.store.AllEntries(ctx)
	if err != nil {
		return nil, err
	}

	balances := make(map[UserID]Money)
	stocks := make(map[ItemID]int)

	for _, e := range entries {
		switch e.Type {
		case EntryPurchase:
			balances[e.UserID] = balanceOf(balances, e.UserID).Sub(e.Quantity)
			if e.ProductID != nil {
				stocks[*e.ProductID] -= e.Units
			}
		case EntryRestock:
			if e.ProductID != nil {
				stocks[*e.ProductID] += e.Units
			}
		case EntryTopup:
			balances[e.UserID] = balanceOf(balances, e.UserID).Add(e.Quantity)
		case EntryTransfer:
			balances[e.UserID] = balanceOf(balances, e.UserID).Sub(e.Quantity)
			if e.ToUserID != nil {
				balances[*e.ToUserID] = balanceOf(balances, *e.ToUserID).Add(e.Quantity)
			}
		}
	}

	report := &DriftReport{}

	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		expected := balanceOf(balances, a.UserID)
		if !expected.Equal(a.Balance) {
			report.Accounts = append(report.Accounts, AccountDrift{
				UserID: a.UserID,
				Ledger: expected,
				Live:   a.Balance,
			})
		}
	}

	items, err := r.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if expected := stocks[it.ID]; expected != it.StockCount {
			report.Items = append(report.Items, ItemDrift{
				ItemID: it.ID,
				Code:   it.Code,
				Ledger: expected,
				Live:   it.StockCount,
			})
		}
	}

	if !report.Clean() {
		return report, &DriftError{Report: report}
	}
	return report, nil
}

func balanceOf(m map[UserID]Money, id UserID) Money {
	if b, ok := m[id]; ok {
		return b
	}
	return decimal.Zero
}
