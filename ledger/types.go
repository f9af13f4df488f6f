/*
Package ledger provides the accounting and inventory core.

PURPOSE:
  This package contains the data model and algorithms for a shared stocked
  fridge: a catalog of items, user accounts with monetary balances, and an
  append-only ledger that is the single source of truth for every stock and
  money movement.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: monetary amounts as decimal.Decimal (never float64)
  - Item/ItemCategory/AttributeGroup/Attribute: the catalog
  - User/Account/UserDiscount/Vote: who can buy and their financial state
  - Entry: an immutable ledger row recording one transaction
  - Operation: tagged union of the four transaction kinds

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only appended
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs; invalid transaction targets are
     unrepresentable (each Operation names exactly the target it needs)
  4. Projections: Account.Balance and Item.StockCount are caches that must
     always equal a fold over the ledger history

USAGE:
  engine := ledger.NewEngine(store, ledger.Config{Overdraft: ledger.OverdraftDeny})
  entry, err := engine.Append(ctx, session, ledger.Purchase{ItemCode: "COLA", Units: 1})

SEE ALSO:
  - engine.go: Validation and effects per transaction type
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
  - reconcile.go: Ledger replay and drift detection
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amounts (single currency)
// =============================================================================

// Money is a signed monetary amount. Alias so the full decimal API is
// available without wrapping.
type Money = decimal.Decimal

func NewMoney(value float64) Money { return decimal.NewFromFloat(value) }

// ParseMoney parses a decimal string. Store hydration uses this so a
// corrupt stored amount fails loudly instead of reading as zero.
func ParseMoney(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustParseMoney panics on malformed input; for literals in tests and wiring.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("ledger: bad money literal " + s + ": " + err.Error())
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ItemID string
type CategoryID string
type GroupID string
type AttributeID string
type EntryID string

// Session is the validated (user, admin) pair supplied by the auth
// collaborator. The core trusts it and performs no authentication itself.
type Session struct {
	UserID  UserID
	IsAdmin bool
}

// =============================================================================
// CATALOG - What can be bought
// =============================================================================

// Item is a stocked product. StockCount is a projection of the ledger:
// it is only ever mutated inside Engine.Append, alongside a restock or
// purchase entry, and never goes negative.
type Item struct {
	ID           ItemID
	Code         string // globally unique; immutable once referenced by an entry
	Name         string
	Description  string
	Cost         Money           // unit price before markup
	Markup       decimal.Decimal // fractional markup: 0.5 means +50%
	CategoryID   CategoryID
	StockCount   int
	StockLowMark int // reorder threshold
	Wishlist     bool
	Enabled      bool // disabled items cannot be purchased; history preserved
}

// ItemCategory owns an ordered collection of items and a collection of
// attribute groups. Deletion requires zero referencing items.
type ItemCategory struct {
	ID   CategoryID
	Name string // unique
}

// GroupKind distinguishes how an attribute group is valued on an entry.
type GroupKind string

const (
	KindEnumerated GroupKind = "enumerated" // value must be one of the group's attributes
	KindFreeText   GroupKind = "freetext"   // value is arbitrary non-empty text
)

// AttributeGroup annotates transactions, not catalog rows: a required group
// on a category means every purchase/restock entry against the category's
// items must carry a value for it.
type AttributeGroup struct {
	ID          GroupID
	Code        string // globally unique
	Description string
	CategoryID  CategoryID
	Kind        GroupKind
	Required    bool
}

// Attribute is one permitted value of an enumerated group.
type Attribute struct {
	ID          AttributeID
	Code        string // globally unique
	Description string
	GroupID     GroupID
}

// ItemImage is the optional picture attached to an item.
type ItemImage struct {
	ID     string
	ItemID ItemID
	Path   string
}

// =============================================================================
// ACCOUNTS - Who can buy
// =============================================================================

type User struct {
	ID           UserID
	Email        string // unique
	FirstName    string
	LastName     string
	PasswordHash string
	IsAdmin      bool
	Enabled      bool
}

// Account holds a user's balance. One per user, created atomically with the
// user at zero. Balance is a projection: mutated only by Engine.Append.
// It may go negative only when the overdraft policy allows it.
type Account struct {
	ID      string
	UserID  UserID
	Balance Money
}

// UserDiscount is a fractional rate applied multiplicatively at purchase
// time: 0.2 means the user pays 80% of the marked-up price.
type UserDiscount struct {
	ID       string
	UserID   UserID
	Discount decimal.Decimal
}

// UserImage is the optional avatar attached to a user.
type UserImage struct {
	ID     string
	UserID UserID
	Path   string
}

// Vote is a wishlist interest signal. One per (user, item); a second vote by
// the same user on the same item overwrites the boolean.
type Vote struct {
	UserID UserID
	ItemID ItemID
	Vote   bool
}

// =============================================================================
// LEDGER ENTRIES - The append-only transaction log
// =============================================================================

type EntryType string

const (
	EntryPurchase EntryType = "purchase" // user buys units of an item
	EntryTransfer EntryType = "transfer" // user sends money to another user
	EntryTopup    EntryType = "topup"    // money enters the system (admin-recorded)
	EntryRestock  EntryType = "restock"  // stock enters the system (admin-recorded)
)

// Entry is one immutable ledger row. Exactly one of ProductID/ToUserID is set
// depending on Type; Topup sets neither.
//
// Quantity semantics (canonical units, see DESIGN.md):
//   purchase: money - the effective price charged
//   transfer: money - the amount moved between accounts
//   topup:    money - the amount credited
//   restock:  item units added (equal to Units)
//
// Units records the item unit count for purchase/restock rows so that stock
// levels are reconstructible from the ledger alone; it is 0 for money-only
// entries.
type Entry struct {
	ID         EntryID
	Type       EntryType
	UserID     UserID  // acting user (purchase/transfer) or beneficiary (topup/restock actor)
	ProductID  *ItemID // purchase, restock
	ToUserID   *UserID // transfer
	Quantity   Money
	Units      int
	Reference  string // optional free-text memo
	Verified   bool   // post-hoc audit flag; flipping it never re-applies effects
	Attributes []EntryAttribute
	CreatedAt  time.Time // assigned at durable append, not request construction
}

// EntryAttribute is a transaction annotation, e.g. "which flavor was
// restocked". For enumerated groups Attribute names one of the group's
// attribute codes; for free-text groups Text carries the value.
type EntryAttribute struct {
	Group     string
	Attribute string
	Text      string
}

// =============================================================================
// OPERATIONS - Tagged union of transaction requests
// =============================================================================

// Operation is a transaction request. The union makes invalid target
// combinations unrepresentable: a purchase names an item, a transfer names a
// counterparty, a topup names neither.
type Operation interface {
	EntryType() EntryType
}

type Purchase struct {
	ItemCode   string
	Units      int // defaults to 1
	Attributes []EntryAttribute
	Reference  string
}

type Restock struct {
	ItemCode   string
	Units      int
	Attributes []EntryAttribute
	Reference  string
}

type Topup struct {
	ForUser   UserID // beneficiary; defaults to the session user
	Amount    Money
	Reference string
}

type Transfer struct {
	To        UserID
	Amount    Money
	Reference string
}

func (Purchase) EntryType() EntryType { return EntryPurchase }
func (Restock) EntryType() EntryType  { return EntryRestock }
func (Topup) EntryType() EntryType    { return EntryTopup }
func (Transfer) EntryType() EntryType { return EntryTransfer }

// =============================================================================
// PRICING
// =============================================================================

var one = decimal.NewFromInt(1)

// EffectivePrice computes what a user pays for units of an item:
//
//	cost * (1 + markup) * (1 - discount) * units
//
// rounded to cents and floored at zero. A nil discount means no discount.
func EffectivePrice(item *Item, discount *UserDiscount, units int) Money {
	price := item.Cost.Mul(one.Add(item.Markup))
	if discount != nil {
		price = price.Mul(one.Sub(discount.Discount))
	}
	price = price.Mul(decimal.NewFromInt(int64(units))).Round(2)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}
