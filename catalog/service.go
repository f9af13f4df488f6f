/*
Package catalog manages what can be bought: items, categories, attribute
groups, and attributes.

PURPOSE:
  Create/read/update/disable operations over the catalog, with the
  invariants the ledger relies on:
  - Codes are globally unique.
  - An item's code is immutable once any ledger entry references the item
    (entries reference items by ID, so history stays readable either way,
    but a referenced code is part of the audit vocabulary).
  - Disabling an item blocks new purchases and preserves history; items are
    never deleted.
  - Deleting a category with items is disallowed (explicit policy, no
    cascade).

  Stock is NOT writable here. Items are created with stock 0; stock moves
  only through the Ledger Engine so that projections stay reconcilable.

SEE ALSO:
  - ledger/types.go: Entity definitions
  - ledger/engine.go: The only stock writer
*/
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fridge-ledger/ledger"
)

type Service struct {
	store ledger.CatalogStore
}

func NewService(store ledger.CatalogStore) *Service {
	return &Service{store: store}
}

// =============================================================================
// ITEMS
// =============================================================================

// NewItem is the request to create an item. Stock starts at zero; use a
// restock entry to put units on the shelf.
type NewItem struct {
	Code         string
	Name         string
	Description  string
	Cost         ledger.Money
	Markup       decimal.Decimal
	CategoryID   ledger.CategoryID
	StockLowMark int
	Wishlist     bool
}

func (s *Service) CreateItem(ctx context.Context, req NewItem) (*ledger.Item, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, &ledger.ValidationError{Field: "code", Msg: "required"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &ledger.ValidationError{Field: "name", Msg: "required"}
	}
	if req.Cost.IsNegative() {
		return nil, &ledger.ValidationError{Field: "cost", Msg: "must not be negative"}
	}

	if existing, err := s.store.ItemByCode(ctx, req.Code); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ledger.ConstraintError{Constraint: "item.code", Msg: req.Code + " already exists"}
	}

	if cat, err := s.store.CategoryByID(ctx, req.CategoryID); err != nil {
		return nil, err
	} else if cat == nil {
		return nil, &ledger.ValidationError{Field: "category_id", Msg: "unknown category"}
	}

	item := ledger.Item{
		ID:           ledger.ItemID(uuid.NewString()),
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Cost:         req.Cost,
		Markup:       req.Markup,
		CategoryID:   req.CategoryID,
		StockCount:   0,
		StockLowMark: req.StockLowMark,
		Wishlist:     req.Wishlist,
		Enabled:      true,
	}
	if err := s.store.SaveItem(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ItemUpdate enumerates the mutable item fields. Unknown keys cannot be
// smuggled in: absent pointers mean "leave unchanged". StockCount is
// deliberately not here.
type ItemUpdate struct {
	Code         *string
	Name         *string
	Description  *string
	Cost         *ledger.Money
	Markup       *decimal.Decimal
	CategoryID   *ledger.CategoryID
	StockLowMark *int
	Wishlist     *bool
	Enabled      *bool
}

func (s *Service) UpdateItem(ctx context.Context, code string, update ItemUpdate) (*ledger.Item, error) {
	item, err := s.store.ItemByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ledger.ErrNotFound
	}

	if update.Code != nil && *update.Code != item.Code {
		referenced, err := s.store.ItemHasEntries(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, &ledger.ConstraintError{
				Constraint: "item.code",
				Msg:        "code is immutable once referenced by ledger history",
			}
		}
		if other, err := s.store.ItemByCode(ctx, *update.Code); err != nil {
			return nil, err
		} else if other != nil {
			return nil, &ledger.ConstraintError{Constraint: "item.code", Msg: *update.Code + " already exists"}
		}
		item.Code = *update.Code
	}
	if update.Name != nil {
		item.Name = *update.Name
	}
	if update.Description != nil {
		item.Description = *update.Description
	}
	if update.Cost != nil {
		if update.Cost.IsNegative() {
			return nil, &ledger.ValidationError{Field: "cost", Msg: "must not be negative"}
		}
		item.Cost = *update.Cost
	}
	if update.Markup != nil {
		item.Markup = *update.Markup
	}
	if update.CategoryID != nil {
		if cat, err := s.store.CategoryByID(ctx, *update.CategoryID); err != nil {
			return nil, err
		} else if cat == nil {
			return nil, &ledger.ValidationError{Field: "category_id", Msg: "unknown category"}
		}
		item.CategoryID = *update.CategoryID
	}
	if update.StockLowMark != nil {
		item.StockLowMark = *update.StockLowMark
	}
	if update.Wishlist != nil {
		item.Wishlist = *update.Wishlist
	}
	if update.Enabled != nil {
		item.Enabled = *update.Enabled
	}

	if err := s.store.UpdateItem(ctx, *item); err != nil {
		return nil, err
	}
	return item, nil
}

// DisableItem blocks new purchases of the item while preserving history.
func (s *Service) DisableItem(ctx context.Context, code string) error {
	disabled := false
	_, err := s.UpdateItem(ctx, code, ItemUpdate{Enabled: &disabled})
	return err
}

func (s *Service) Item(ctx context.Context, code string) (*ledger.Item, error) {
	item, err := s.store.ItemByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ledger.ErrNotFound
	}
	return item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]ledger.Item, error) {
	return s.store.ListItems(ctx)
}

func (s *Service) SetItemImage(ctx context.Context, code, path string) error {
	item, err := s.Item(ctx, code)
	if err != nil {
		return err
	}
	return s.store.SaveItemImage(ctx, ledger.ItemImage{
		ID:     uuid.NewString(),
		ItemID: item.ID,
		Path:   path,
	})
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Service) CreateCategory(ctx context.Context, name string) (*ledger.ItemCategory, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ledger.ValidationError{Field: "name", Msg: "required"}
	}
	if existing, err := s.store.CategoryByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ledger.ConstraintError{Constraint: "category.name", Msg: name + " already exists"}
	}

	cat := ledger.ItemCategory{ID: ledger.CategoryID(uuid.NewString()), Name: name}
	if err := s.store.SaveCategory(ctx, cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// DeleteCategory removes an empty category. Fails with ConstraintViolation
// while items still reference it; there is no cascade.
func (s *Service) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	count, err := s.store.CategoryItemCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return &ledger.ConstraintError{
			Constraint: "category.items",
			Msg:        "category still has items",
		}
	}
	return s.store.DeleteCategory(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]ledger.ItemCategory, error) {
	return s.store.ListCategories(ctx)
}

// =============================================================================
// ATTRIBUTE GROUPS AND ATTRIBUTES
// =============================================================================

type NewGroup struct {
	Code        string
	Description string
	CategoryID  ledger.CategoryID
	Kind        ledger.GroupKind
	Required    bool
}

func (s *Service) CreateGroup(ctx context.Context, req NewGroup) (*ledger.AttributeGroup, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, &ledger.ValidationError{Field: "code", Msg: "required"}
	}
	if req.Kind != ledger.KindEnumerated && req.Kind != ledger.KindFreeText {
		return nil, &ledger.ValidationError{Field: "kind", Msg: "must be enumerated or freetext"}
	}
	if existing, err := s.store.GroupByCode(ctx, req.Code); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ledger.ConstraintError{Constraint: "group.code", Msg: req.Code + " already exists"}
	}
	if cat, err := s.store.CategoryByID(ctx, req.CategoryID); err != nil {
		return nil, err
	} else if cat == nil {
		return nil, &ledger.ValidationError{Field: "category_id", Msg: "unknown category"}
	}

	g := ledger.AttributeGroup{
		ID:          ledger.GroupID(uuid.NewString()),
		Code:        req.Code,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Kind:        req.Kind,
		Required:    req.Required,
	}
	if err := s.store.SaveGroup(ctx, g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Service) CreateAttribute(ctx context.Context, groupCode, code, description string) (*ledger.Attribute, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &ledger.ValidationError{Field: "code", Msg: "required"}
	}
	group, err := s.store.GroupByCode(ctx, groupCode)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, &ledger.ValidationError{Field: "group", Msg: "unknown group " + groupCode}
	}
	if group.Kind != ledger.KindEnumerated {
		return nil, &ledger.ValidationError{Field: "group", Msg: "free-text groups have no attributes"}
	}

	attrs, err := s.store.AttributesByGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Code == code {
			return nil, &ledger.ConstraintError{Constraint: "attribute.code", Msg: code + " already exists"}
		}
	}

	a := ledger.Attribute{
		ID:          ledger.AttributeID(uuid.NewString()),
		Code:        code,
		Description: description,
		GroupID:     group.ID,
	}
	if err := s.store.SaveAttribute(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) GroupsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	return s.store.GroupsByCategory(ctx, id)
}
