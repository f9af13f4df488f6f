// views.go - Read-only views over catalog, account, and ledger state.
//
// Everything here is derivable from base state plus a fold over the ledger;
// see reconcile.go for the audit that proves it.
package ledger

import "context"

// Views is the query/projection layer: restock alerts, wishlist interest,
// per-category listings, and per-user history.
type Views struct {
	store ViewStore
	votes AccountStore
}

func NewViews(store ViewStore, votes AccountStore) *Views {
	return &Views{store: store, votes: votes}
}

// LowStock returns enabled items at or below their reorder threshold.
func (v *Views) LowStock(ctx context.Context) ([]Item, error) {
	return v.store.LowStock(ctx)
}

// WishlistItem pairs a wishlist-flagged item with its interest tally.
type WishlistItem struct {
	Item  Item
	Votes int
}

// Wishlist returns wishlist-flagged items with the count of users who voted
// for them, ordered by item ID.
func (v *Views) Wishlist(ctx context.Context) ([]WishlistItem, error) {
	items, err := v.store.WishlistItems(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]WishlistItem, 0, len(items))
	for _, it := range items {
		votes, err := v.votes.VotesByItem(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		tally := 0
		for _, vote := range votes {
			if vote.Vote {
				tally++
			}
		}
		result = append(result, WishlistItem{Item: it, Votes: tally})
	}
	return result, nil
}

// ItemsByCategory returns the category's items ordered by item ID.
func (v *Views) ItemsByCategory(ctx context.Context, id CategoryID) ([]Item, error) {
	return v.store.ItemsByCategory(ctx, id)
}

// History returns a user's ledger entries, timestamp descending. Entries
// where the user is the transfer counterparty are included.
func (v *Views) History(ctx context.Context, id UserID) ([]Entry, error) {
	return v.store.History(ctx, id)
}

// AllEntries returns the full ledger, timestamp descending (admin audit).
func (v *Views) AllEntries(ctx context.Context) ([]Entry, error) {
	return v.store.AllEntries(ctx)
}
