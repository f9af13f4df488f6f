/*
store.go - Persistence interfaces for the core

PURPOSE:
  Defines the interface between the domain logic and the database. The
  store is an explicit handle passed into every core operation; lifecycle
  is owned by the process entry point, never a package-level singleton.

KEY INTERFACES:
  CatalogStore:   items, categories, attribute groups/attributes, images
  AccountStore:   users, accounts, discounts, votes, images
  LedgerStore:    the Engine's transactional surface (WithTx)
  ViewStore:      read-only projections
  ReconcileStore: full-table reads for ledger replay

APPEND-ONLY CONTRACT:
  Entries have exactly one write path: Tx.Append inside WithTx. There is no
  update and no delete; SetVerified flips audit metadata only and never
  re-applies balance/stock effects.

ATOMICITY:
  Every Engine.Append runs inside WithTx: read current stock/balance,
  validate, write projections + entry, commit. If fn returns an error, the
  whole transaction rolls back - a decremented stock without a debited
  balance is a correctness violation. Lock acquisition that times out
  surfaces as ErrContention, never a deadlock.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (row-level atomicity via immediate txs)
  - store/memory: in-memory with snapshot/rollback, for tests and demos

SEE ALSO:
  - engine.go: The only caller of LedgerStore
  - store/sqlite/sqlite.go, store/memory/memory.go
*/
package ledger

import "context"

// =============================================================================
// CATALOG STORE
// =============================================================================

type CatalogStore interface {
	SaveItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	ItemByID(ctx context.Context, id ItemID) (*Item, error)
	ItemByCode(ctx context.Context, code string) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)

	SaveCategory(ctx context.Context, cat ItemCategory) error
	CategoryByID(ctx context.Context, id CategoryID) (*ItemCategory, error)
	CategoryByName(ctx context.Context, name string) (*ItemCategory, error)
	ListCategories(ctx context.Context) ([]ItemCategory, error)
	// DeleteCategory removes an empty category. Implementations fail with
	// ErrConstraintViolation while items still reference it.
	DeleteCategory(ctx context.Context, id CategoryID) error
	CategoryItemCount(ctx context.Context, id CategoryID) (int, error)

	SaveGroup(ctx context.Context, g AttributeGroup) error
	GroupByCode(ctx context.Context, code string) (*AttributeGroup, error)
	GroupsByCategory(ctx context.Context, id CategoryID) ([]AttributeGroup, error)
	SaveAttribute(ctx context.Context, a Attribute) error
	AttributesByGroup(ctx context.Context, id GroupID) ([]Attribute, error)

	SaveItemImage(ctx context.Context, img ItemImage) error
	ItemImageByItem(ctx context.Context, id ItemID) (*ItemImage, error)

	// ItemHasEntries reports whether any ledger row references the item.
	// Used to enforce code immutability.
	ItemHasEntries(ctx context.Context, id ItemID) (bool, error)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// CreateUser persists a user and their zero-balance account atomically.
	CreateUser(ctx context.Context, user User, account Account) error
	UpdateUser(ctx context.Context, user User) error
	UserByID(ctx context.Context, id UserID) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	AccountByUser(ctx context.Context, id UserID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	SaveDiscount(ctx context.Context, d UserDiscount) error
	// DiscountByUser returns (nil, nil) when the user has no discount.
	DiscountByUser(ctx context.Context, id UserID) (*UserDiscount, error)

	SaveUserImage(ctx context.Context, img UserImage) error
	UserImageByUser(ctx context.Context, id UserID) (*UserImage, error)

	// UpsertVote creates or overwrites the (user, item) vote. Last write wins.
	UpsertVote(ctx context.Context, v Vote) error
	VotesByItem(ctx context.Context, id ItemID) ([]Vote, error)
	VotesByUser(ctx context.Context, id UserID) ([]Vote, error)
}

// =============================================================================
// LEDGER STORE - The Engine's transactional surface
// =============================================================================

// LedgerStore is what the Engine mutates through. WithTx must provide
// isolation equivalent to serializable reads on the rows touched: two
// concurrent purchases of the last unit must not both observe it.
type LedgerStore interface {
	// WithTx executes fn atomically. If fn returns an error the transaction
	// rolls back completely; no partial effects survive. Lock timeouts
	// surface as ErrContention.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// SetVerified flips the audit flag on an existing entry. Metadata only;
	// projections are untouched.
	SetVerified(ctx context.Context, id EntryID, verified bool) error
}

// Tx is the view of the store inside one atomic transaction.
type Tx interface {
	ItemByCode(ctx context.Context, code string) (*Item, error)
	UserByID(ctx context.Context, id UserID) (*User, error)
	AccountByUser(ctx context.Context, id UserID) (*Account, error)
	DiscountByUser(ctx context.Context, id UserID) (*UserDiscount, error)
	GroupsByCategory(ctx context.Context, id CategoryID) ([]AttributeGroup, error)
	GroupHasAttribute(ctx context.Context, groupCode, attrCode string) (bool, error)

	// AdjustStock applies a signed delta to the item's stock projection.
	AdjustStock(ctx context.Context, id ItemID, delta int) error
	// AdjustBalance applies a signed delta to the user's account projection.
	AdjustBalance(ctx context.Context, id UserID, delta Money) error
	// Append persists the entry and assigns CreatedAt at the moment of
	// durable append. The ONLY entry write path.
	Append(ctx context.Context, e *Entry) error
}

// =============================================================================
// VIEW STORE - Read-only projections
// =============================================================================

type ViewStore interface {
	// LowStock returns enabled items at or below their reorder threshold.
	LowStock(ctx context.Context) ([]Item, error)
	// WishlistItems returns wishlist-flagged items, ordered by item ID.
	WishlistItems(ctx context.Context) ([]Item, error)
	// ItemsByCategory returns the category's items ordered by item ID.
	ItemsByCategory(ctx context.Context, id CategoryID) ([]Item, error)
	// History returns a user's entries (as actor or counterparty),
	// timestamp descending.
	History(ctx context.Context, id UserID) ([]Entry, error)
	EntryByID(ctx context.Context, id EntryID) (*Entry, error)
	AllEntries(ctx context.Context) ([]Entry, error)
}

// =============================================================================
// RECONCILE STORE
// =============================================================================

type ReconcileStore interface {
	AllEntries(ctx context.Context) ([]Entry, error)
	ListItems(ctx context.Context) ([]Item, error)
	ListAccounts(ctx context.Context) ([]Account, error)
}

// Store is the full persistence surface, implemented by both backends.
type Store interface {
	CatalogStore
	AccountStore
	LedgerStore
	ViewStore
}
