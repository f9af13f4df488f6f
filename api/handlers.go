/*
handlers.go - HTTP API handlers for the fridge ledger

PURPOSE:
  Exposes the catalog, account, and ledger cores via REST. Handles HTTP
  concerns only: decoding, identity extraction, status mapping. All
  validation and business rules live in the core packages.

ERROR MAPPING (statusFor):
  ValidationError            400
  PermissionDenied           403
  NotFound                   404
  ConstraintViolation        409
  Contention (retryable)     409
  InsufficientFunds/Stock    422
  InvalidTarget              422
  MissingAttribute           422
  DriftDetected              500
  anything else              500

ADMIN GATING:
  The ledger Engine gates its own operations (restock, topup, verified).
  Catalog and account mutations are gated here with requireAdmin.

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response shapes
  - ledger/errors.go: The taxonomy behind statusFor
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fridge-ledger/account"
	"github.com/warp/fridge-ledger/catalog"
	"github.com/warp/fridge-ledger/ledger"
)

// Handler holds the core services used by HTTP handlers.
type Handler struct {
	catalog    *catalog.Service
	accounts   *account.Service
	engine     *ledger.Engine
	views      *ledger.Views
	reconciler *ledger.Reconciler
	logger     *zap.Logger
}

func NewHandler(
	cat *catalog.Service,
	acc *account.Service,
	engine *ledger.Engine,
	views *ledger.Views,
	reconciler *ledger.Reconciler,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		catalog:    cat,
		accounts:   acc,
		engine:     engine,
		views:      views,
		reconciler: reconciler,
		logger:     logger,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConstraintViolation), errors.Is(err, ledger.ErrContention):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInvalidTarget),
		errors.Is(err, ledger.ErrMissingAttribute):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// requireAdmin gates catalog/account mutations; returns false after writing
// the 403 response.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !sessionFrom(r).IsAdmin {
		h.writeError(w, ledger.ErrPermissionDenied)
		return false
	}
	return true
}

func parseMoney(w http.ResponseWriter, h *Handler, field, s string) (ledger.Money, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		h.writeError(w, &ledger.ValidationError{Field: field, Msg: "not a decimal: " + s})
		return decimal.Zero, false
	}
	return d, true
}

// =============================================================================
// AUTH
// =============================================================================

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.accounts.CheckPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListItems(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Item(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost, ok := parseMoney(w, h, "cost", req.Cost)
	if !ok {
		return
	}
	markup, ok := parseMoney(w, h, "markup", req.Markup)
	if !ok {
		return
	}

	item, err := h.catalog.CreateItem(r.Context(), catalog.NewItem{
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Cost:         cost,
		Markup:       markup,
		CategoryID:   ledger.CategoryID(req.CategoryID),
		StockLowMark: req.StockLowMark,
		Wishlist:     req.Wishlist,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := catalog.ItemUpdate{
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		StockLowMark: req.StockLowMark,
		Wishlist:     req.Wishlist,
		Enabled:      req.Enabled,
	}
	if req.Cost != nil {
		cost, ok := parseMoney(w, h, "cost", *req.Cost)
		if !ok {
			return
		}
		update.Cost = &cost
	}
	if req.Markup != nil {
		markup, ok := parseMoney(w, h, "markup", *req.Markup)
		if !ok {
			return
		}
		update.Markup = &markup
	}
	if req.CategoryID != nil {
		id := ledger.CategoryID(*req.CategoryID)
		update.CategoryID = &id
	}

	item, err := h.catalog.UpdateItem(r.Context(), chi.URLParam(r, "code"), update)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) DisableItem(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.catalog.DisableItem(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetItemImage(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req SetImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.catalog.SetItemImage(r.Context(), chi.URLParam(r, "code"), req.Path); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]CategoryDTO, 0, len(cats))
	for _, c := range cats {
		dtos = append(dtos, CategoryDTO{ID: string(c.ID), Name: c.Name})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	cat, err := h.catalog.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, CategoryDTO{ID: string(cat.ID), Name: cat.Name})
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.catalog.DeleteCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ItemsByCategory(w http.ResponseWriter, r *http.Request) {
	items, err := h.views.ItemsByCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) GroupsByCategory(w http.ResponseWriter, r *http.Request) {
	groups, err := h.catalog.GroupsByCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]GroupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, GroupDTO{
			ID:          string(g.ID),
			Code:        g.Code,
			Description: g.Description,
			CategoryID:  string(g.CategoryID),
			Kind:        string(g.Kind),
			Required:    g.Required,
		})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.catalog.CreateGroup(r.Context(), catalog.NewGroup{
		Code:        req.Code,
		Description: req.Description,
		CategoryID:  ledger.CategoryID(req.CategoryID),
		Kind:        ledger.GroupKind(req.Kind),
		Required:    req.Required,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, GroupDTO{
		ID:          string(g.ID),
		Code:        g.Code,
		Description: g.Description,
		CategoryID:  string(g.CategoryID),
		Kind:        string(g.Kind),
		Required:    g.Required,
	})
}

func (h *Handler) CreateAttribute(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateAttributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.catalog.CreateAttribute(r.Context(), chi.URLParam(r, "code"), req.Code, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, AttributeDTO{
		ID:          string(a.ID),
		Code:        a.Code,
		Description: a.Description,
	})
}

// =============================================================================
// VIEWS
// =============================================================================

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.views.LowStock(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) Wishlist(w http.ResponseWriter, r *http.Request) {
	wishlist, err := h.views.Wishlist(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]WishlistItemDTO, 0, len(wishlist))
	for _, wi := range wishlist {
		dtos = append(dtos, WishlistItemDTO{Item: toItemDTO(wi.Item), Votes: wi.Votes})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.accounts.CreateUser(r.Context(), account.NewUser{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		IsAdmin:   req.IsAdmin,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.User(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUserDTO(*user))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	balance, err := h.accounts.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance.String()})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.views.History(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req SetDiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, ok := parseMoney(w, h, "discount", req.Discount)
	if !ok {
		return
	}
	if err := h.accounts.SetDiscount(r.Context(), ledger.UserID(chi.URLParam(r, "id")), rate); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req SetEnabledRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.accounts.SetEnabled(r.Context(), ledger.UserID(chi.URLParam(r, "id")), req.Enabled); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetUserImage(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	id := ledger.UserID(chi.URLParam(r, "id"))
	// Users manage their own avatar; admins anyone's.
	if session.UserID != id && !session.IsAdmin {
		h.writeError(w, ledger.ErrPermissionDenied)
		return
	}
	var req SetImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.accounts.SetUserImage(r.Context(), id, req.Path); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.catalog.Item(r.Context(), req.ItemCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.accounts.Vote(r.Context(), sessionFrom(r).UserID, item.ID, req.Vote); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER
// =============================================================================

func (h *Handler) appendEntry(w http.ResponseWriter, r *http.Request, op ledger.Operation) {
	entry, err := h.engine.Append(r.Context(), sessionFrom(r), op)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.appendEntry(w, r, ledger.Purchase{
		ItemCode:   req.ItemCode,
		Units:      req.Units,
		Attributes: fromAttributeDTOs(req.Attributes),
		Reference:  req.Reference,
	})
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	var req RestockRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.appendEntry(w, r, ledger.Restock{
		ItemCode:   req.ItemCode,
		Units:      req.Units,
		Attributes: fromAttributeDTOs(req.Attributes),
		Reference:  req.Reference,
	})
}

func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	var req TopupRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseMoney(w, h, "amount", req.Amount)
	if !ok {
		return
	}
	h.appendEntry(w, r, ledger.Topup{
		ForUser:   ledger.UserID(req.ForUser),
		Amount:    amount,
		Reference: req.Reference,
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseMoney(w, h, "amount", req.Amount)
	if !ok {
		return
	}
	h.appendEntry(w, r, ledger.Transfer{
		To:        ledger.UserID(req.To),
		Amount:    amount,
		Reference: req.Reference,
	})
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	entries, err := h.views.AllEntries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) SetVerified(w http.ResponseWriter, r *http.Request) {
	var req SetVerifiedRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.engine.MarkVerified(r.Context(), sessionFrom(r),
		ledger.EntryID(chi.URLParam(r, "id")), req.Verified)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	report, err := h.reconciler.Reconcile(r.Context())
	if err != nil && report == nil {
		h.writeError(w, err)
		return
	}
	// Drift is reported with the full report body, not swallowed behind a
	// bare 500.
	status := http.StatusOK
	if err != nil {
		h.logger.Error("projection drift detected", zap.Error(err))
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, toDriftReportDTO(report))
}
