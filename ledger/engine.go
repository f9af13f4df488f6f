/*
engine.go - The Ledger Engine: single mutation entry point

PURPOSE:
  Every financial/stock state change in the system goes through
  Engine.Append. A transaction request is validated against current
  catalog/account state and applied atomically to both the denormalized
  projections and the ledger, or rejected entirely.

TRANSACTION KINDS:
  purchase: actor buys units of an item. Debits effective price, decrements
            stock. Requires enabled item, sufficient stock, and sufficient
            balance under the overdraft policy.
  restock:  admin adds units of an item. No balance effect.
  topup:    admin records money entering the system for a user.
  transfer: actor sends money to another user. Never overdrafts.

ALL-OR-NOTHING:
  Validation and effects run inside one store transaction. On any failure
  no state is modified - neither ledger row nor projection.

VERIFIED FLAG:
  Entries are created in a single terminal step; there is no pending state.
  MarkVerified flips audit metadata post-hoc and never re-applies effects.
  Reversing a transaction means appending a new, opposite entry of the same
  type - history is never mutated.

SEE ALSO:
  - types.go: Operation union and Entry
  - store.go: Tx contract the Engine relies on
  - reconcile.go: Proves projections match the ledger
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// OverdraftPolicy decides whether purchases may drive a balance negative.
// Peer transfers never overdraft regardless of policy.
type OverdraftPolicy string

const (
	// OverdraftDeny rejects purchases exceeding the balance (default).
	OverdraftDeny OverdraftPolicy = "deny"
	// OverdraftAllow lets purchase balances go negative (debt).
	OverdraftAllow OverdraftPolicy = "allow"
)

type Config struct {
	Overdraft OverdraftPolicy
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  LedgerStore
	config Config
}

func NewEngine(store LedgerStore, config Config) *Engine {
	if config.Overdraft == "" {
		config.Overdraft = OverdraftDeny
	}
	return &Engine{store: store, config: config}
}

// Append validates op against current state and applies it atomically.
// On success the returned Entry carries its store-assigned ID and timestamp.
func (e *Engine) Append(ctx context.Context, session Session, op Operation) (*Entry, error) {
	var entry *Entry

	err := e.store.WithTx(ctx, func(tx Tx) error {
		var err error
		switch op := op.(type) {
		case Purchase:
			entry, err = e.purchase(ctx, tx, session, op)
		case Restock:
			entry, err = e.restock(ctx, tx, session, op)
		case Topup:
			entry, err = e.topup(ctx, tx, session, op)
		case Transfer:
			entry, err = e.transfer(ctx, tx, session, op)
		default:
			err = &ValidationError{Field: "operation", Msg: fmt.Sprintf("unknown type %T", op)}
		}
		if err != nil {
			return err
		}
		return tx.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkVerified flips the post-hoc audit flag on an entry. Admin only.
// This is metadata, not a reversal mechanism.
func (e *Engine) MarkVerified(ctx context.Context, session Session, id EntryID, verified bool) error {
	if !session.IsAdmin {
		return ErrPermissionDenied
	}
	return e.store.SetVerified(ctx, id, verified)
}

// =============================================================================
// PER-TYPE VALIDATION AND EFFECTS
// =============================================================================

func (e *Engine) purchase(ctx context.Context, tx Tx, session Session, op Purchase) (*Entry, error) {
	actor, err := e.actingUser(ctx, tx, session.UserID)
	if err != nil {
		return nil, err
	}

	item, err := tx.ItemByCode(ctx, op.ItemCode)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &ValidationError{Field: "item_code", Msg: "unknown code " + op.ItemCode}
	}
	if !item.Enabled {
		return nil, &ValidationError{Field: "item_code", Msg: op.ItemCode + " is disabled"}
	}

	units := op.Units
	if units == 0 {
		units = 1
	}
	if units < 0 {
		return nil, &ValidationError{Field: "units", Msg: "must be positive"}
	}
	if item.StockCount < units {
		return nil, &InsufficientStockError{ItemCode: item.Code, Available: item.StockCount, Requested: units}
	}

	if err := validateAttributes(ctx, tx, item, op.Attributes); err != nil {
		return nil, err
	}

	discount, err := tx.DiscountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	price := EffectivePrice(item, discount, units)

	account, err := tx.AccountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &ValidationError{Field: "user", Msg: "no account for " + string(actor.ID)}
	}
	if e.config.Overdraft != OverdraftAllow && account.Balance.LessThan(price) {
		return nil, &InsufficientFundsError{UserID: actor.ID, Available: account.Balance, Required: price}
	}

	if err := tx.AdjustBalance(ctx, actor.ID, price.Neg()); err != nil {
		return nil, err
	}
	if err := tx.AdjustStock(ctx, item.ID, -units); err != nil {
		return nil, err
	}

	return &Entry{
		ID:         EntryID(uuid.NewString()),
		Type:       EntryPurchase,
		UserID:     actor.ID,
		ProductID:  &item.ID,
		Quantity:   price,
		Units:      units,
		Reference:  op.Reference,
		Verified:   true,
		Attributes: op.Attributes,
	}, nil
}

func (e *Engine) restock(ctx context.Context, tx Tx, session Session, op Restock) (*Entry, error) {
	if !session.IsAdmin {
		return nil, ErrPermissionDenied
	}
	actor, err := e.actingUser(ctx, tx, session.UserID)
	if err != nil {
		return nil, err
	}

	item, err := tx.ItemByCode(ctx, op.ItemCode)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &ValidationError{Field: "item_code", Msg: "unknown code " + op.ItemCode}
	}
	if op.Units <= 0 {
		return nil, &ValidationError{Field: "units", Msg: "must be positive"}
	}

	if err := validateAttributes(ctx, tx, item, op.Attributes); err != nil {
		return nil, err
	}

	if err := tx.AdjustStock(ctx, item.ID, op.Units); err != nil {
		return nil, err
	}

	return &Entry{
		ID:         EntryID(uuid.NewString()),
		Type:       EntryRestock,
		UserID:     actor.ID,
		ProductID:  &item.ID,
		Quantity:   decimal.NewFromInt(int64(op.Units)),
		Units:      op.Units,
		Reference:  op.Reference,
		Verified:   true,
		Attributes: op.Attributes,
	}, nil
}

func (e *Engine) topup(ctx context.Context, tx Tx, session Session, op Topup) (*Entry, error) {
	if !session.IsAdmin {
		return nil, ErrPermissionDenied
	}

	beneficiary := op.ForUser
	if beneficiary == "" {
		beneficiary = session.UserID
	}
	user, err := tx.UserByID(ctx, beneficiary)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &ValidationError{Field: "for_user", Msg: "unknown user " + string(beneficiary)}
	}
	if !op.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Msg: "must be positive"}
	}

	if err := tx.AdjustBalance(ctx, user.ID, op.Amount); err != nil {
		return nil, err
	}

	return &Entry{
		ID:        EntryID(uuid.NewString()),
		Type:      EntryTopup,
		UserID:    user.ID,
		Quantity:  op.Amount,
		Reference: op.Reference,
		Verified:  true,
	}, nil
}

func (e *Engine) transfer(ctx context.Context, tx Tx, session Session, op Transfer) (*Entry, error) {
	actor, err := e.actingUser(ctx, tx, session.UserID)
	if err != nil {
		return nil, err
	}

	if op.To == actor.ID {
		return nil, ErrInvalidTarget
	}
	counterparty, err := tx.UserByID(ctx, op.To)
	if err != nil {
		return nil, err
	}
	if counterparty == nil {
		return nil, &ValidationError{Field: "to", Msg: "unknown user " + string(op.To)}
	}
	if !counterparty.Enabled {
		return nil, ErrInvalidTarget
	}
	if !op.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Msg: "must be positive"}
	}

	account, err := tx.AccountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &ValidationError{Field: "user", Msg: "no account for " + string(actor.ID)}
	}
	// No overdraft for peer transfers, regardless of policy.
	if account.Balance.LessThan(op.Amount) {
		return nil, &InsufficientFundsError{UserID: actor.ID, Available: account.Balance, Required: op.Amount}
	}

	if err := tx.AdjustBalance(ctx, actor.ID, op.Amount.Neg()); err != nil {
		return nil, err
	}
	if err := tx.AdjustBalance(ctx, counterparty.ID, op.Amount); err != nil {
		return nil, err
	}

	return &Entry{
		ID:        EntryID(uuid.NewString()),
		Type:      EntryTransfer,
		UserID:    actor.ID,
		ToUserID:  &counterparty.ID,
		Quantity:  op.Amount,
		Reference: op.Reference,
		Verified:  true,
	}, nil
}

// actingUser resolves and gates the session user for money-moving operations.
func (e *Engine) actingUser(ctx context.Context, tx Tx, id UserID) (*User, error) {
	user, err := tx.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &ValidationError{Field: "user", Msg: "unknown user " + string(id)}
	}
	if !user.Enabled {
		return nil, ErrPermissionDenied
	}
	return user, nil
}

// validateAttributes checks supplied entry attributes against the attribute
// groups of the item's category: every supplied value must name a known
// group (unknown keys are rejected, not ignored), enumerated values must
// belong to the group, and every required group must receive a value.
func validateAttributes(ctx context.Context, tx Tx, item *Item, attrs []EntryAttribute) error {
	groups, err := tx.GroupsByCategory(ctx, item.CategoryID)
	if err != nil {
		return err
	}

	byCode := make(map[string]AttributeGroup, len(groups))
	for _, g := range groups {
		byCode[g.Code] = g
	}

	supplied := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		group, ok := byCode[a.Group]
		if !ok {
			return &ValidationError{Field: "attributes", Msg: "unknown group " + a.Group}
		}
		switch group.Kind {
		case KindEnumerated:
			known, err := tx.GroupHasAttribute(ctx, group.Code, a.Attribute)
			if err != nil {
				return err
			}
			if !known {
				return &ValidationError{
					Field: "attributes",
					Msg:   fmt.Sprintf("group %s has no attribute %s", a.Group, a.Attribute),
				}
			}
		case KindFreeText:
			if a.Text == "" {
				return &ValidationError{Field: "attributes", Msg: "group " + a.Group + " requires text"}
			}
		}
		supplied[a.Group] = true
	}

	for _, g := range groups {
		if g.Required && !supplied[g.Code] {
			return &MissingAttributeError{ItemCode: item.Code, Group: g.Code}
		}
	}
	return nil
}
