/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts travel as decimal strings ("1.50"), never JSON numbers,
  so precision survives the wire.

VALIDATION:
  Validation is done in the core services, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/fridge-ledger/ledger"
)

// =============================================================================
// CATALOG
// =============================================================================

type ItemDTO struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Cost         string `json:"cost"`
	Markup       string `json:"markup"`
	CategoryID   string `json:"category_id"`
	StockCount   int    `json:"stock_count"`
	StockLowMark int    `json:"stock_low_mark"`
	Wishlist     bool   `json:"wishlist"`
	Enabled      bool   `json:"enabled"`
}

func toItemDTO(it ledger.Item) ItemDTO {
	return ItemDTO{
		ID:           string(it.ID),
		Code:         it.Code,
		Name:         it.Name,
		Description:  it.Description,
		Cost:         it.Cost.String(),
		Markup:       it.Markup.String(),
		CategoryID:   string(it.CategoryID),
		StockCount:   it.StockCount,
		StockLowMark: it.StockLowMark,
		Wishlist:     it.Wishlist,
		Enabled:      it.Enabled,
	}
}

func toItemDTOs(items []ledger.Item) []ItemDTO {
	dtos := make([]ItemDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, toItemDTO(it))
	}
	return dtos
}

type CreateItemRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Cost         string `json:"cost"`
	Markup       string `json:"markup"`
	CategoryID   string `json:"category_id"`
	StockLowMark int    `json:"stock_low_mark"`
	Wishlist     bool   `json:"wishlist"`
}

// UpdateItemRequest uses pointers so absent fields mean "leave unchanged".
type UpdateItemRequest struct {
	Code         *string `json:"code"`
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Cost         *string `json:"cost"`
	Markup       *string `json:"markup"`
	CategoryID   *string `json:"category_id"`
	StockLowMark *int    `json:"stock_low_mark"`
	Wishlist     *bool   `json:"wishlist"`
	Enabled      *bool   `json:"enabled"`
}

type CategoryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreateCategoryRequest struct {
	Name string `json:"name"`
}

type GroupDTO struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"category_id"`
	Kind        string `json:"kind"`
	Required    bool   `json:"required"`
}

type CreateGroupRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
	Kind        string `json:"kind"`
	Required    bool   `json:"required"`
}

type AttributeDTO struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type CreateAttributeRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type WishlistItemDTO struct {
	Item  ItemDTO `json:"item"`
	Votes int     `json:"votes"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	Enabled   bool   `json:"enabled"`
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsAdmin:   u.IsAdmin,
		Enabled:   u.Enabled,
	}
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	IsAdmin   bool   `json:"is_admin"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

type SetDiscountRequest struct {
	Discount string `json:"discount"`
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type VoteRequest struct {
	ItemCode string `json:"item_code"`
	Vote     bool   `json:"vote"`
}

type SetImageRequest struct {
	Path string `json:"path"`
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryAttributeDTO struct {
	Group     string `json:"group"`
	Attribute string `json:"attribute,omitempty"`
	Text      string `json:"text,omitempty"`
}

type EntryDTO struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	UserID     string              `json:"user_id"`
	ProductID  string              `json:"product_id,omitempty"`
	ToUserID   string              `json:"to_user_id,omitempty"`
	Quantity   string              `json:"quantity"`
	Units      int                 `json:"units,omitempty"`
	Reference  string              `json:"reference,omitempty"`
	Verified   bool                `json:"verified"`
	Attributes []EntryAttributeDTO `json:"attributes,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:        string(e.ID),
		Type:      string(e.Type),
		UserID:    string(e.UserID),
		Quantity:  e.Quantity.String(),
		Units:     e.Units,
		Reference: e.Reference,
		Verified:  e.Verified,
		CreatedAt: e.CreatedAt,
	}
	if e.ProductID != nil {
		dto.ProductID = string(*e.ProductID)
	}
	if e.ToUserID != nil {
		dto.ToUserID = string(*e.ToUserID)
	}
	for _, a := range e.Attributes {
		dto.Attributes = append(dto.Attributes, EntryAttributeDTO{
			Group: a.Group, Attribute: a.Attribute, Text: a.Text,
		})
	}
	return dto
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	return dtos
}

func fromAttributeDTOs(attrs []EntryAttributeDTO) []ledger.EntryAttribute {
	out := make([]ledger.EntryAttribute, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, ledger.EntryAttribute{
			Group: a.Group, Attribute: a.Attribute, Text: a.Text,
		})
	}
	return out
}

type PurchaseRequest struct {
	ItemCode   string              `json:"item_code"`
	Units      int                 `json:"units"`
	Attributes []EntryAttributeDTO `json:"attributes"`
	Reference  string              `json:"reference"`
}

type RestockRequest struct {
	ItemCode   string              `json:"item_code"`
	Units      int                 `json:"units"`
	Attributes []EntryAttributeDTO `json:"attributes"`
	Reference  string              `json:"reference"`
}

type TopupRequest struct {
	ForUser   string `json:"for_user"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type TransferRequest struct {
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

type SetVerifiedRequest struct {
	Verified bool `json:"verified"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type AccountDriftDTO struct {
	UserID string `json:"user_id"`
	Ledger string `json:"ledger"`
	Live   string `json:"live"`
}

type ItemDriftDTO struct {
	ItemID string `json:"item_id"`
	Code   string `json:"code"`
	Ledger int    `json:"ledger"`
	Live   int    `json:"live"`
}

type DriftReportDTO struct {
	Clean    bool              `json:"clean"`
	Accounts []AccountDriftDTO `json:"accounts,omitempty"`
	Items    []ItemDriftDTO    `json:"items,omitempty"`
}

func toDriftReportDTO(r *ledger.DriftReport) DriftReportDTO {
	dto := DriftReportDTO{Clean: r.Clean()}
	for _, a := range r.Accounts {
		dto.Accounts = append(dto.Accounts, AccountDriftDTO{
			UserID: string(a.UserID),
			Ledger: a.Ledger.String(),
			Live:   a.Live.String(),
		})
	}
	for _, i := range r.Items {
		dto.Items = append(dto.Items, ItemDriftDTO{
			ItemID: string(i.ItemID),
			Code:   i.Code,
			Ledger: i.Ledger,
			Live:   i.Live,
		})
	}
	return dto
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
