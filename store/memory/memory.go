/*
Package memory provides an in-memory implementation of the storage
interfaces.

PURPOSE:
  Fast, dependency-free storage for tests and demos. Implements the same
  ledger.Store surface as store/sqlite with identical semantics, including
  all-or-nothing transactions: WithTx snapshots the mutable state up front
  and restores it wholesale if fn fails, so a failed purchase leaves no
  trace in stock, balance, or the entry log.

NOT FOR PRODUCTION:
  No durability. Restarting the process loses the ledger.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite: Production implementation
*/
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/fridge-ledger/ledger"
)

type voteKey struct {
	user ledger.UserID
	item ledger.ItemID
}

// Store implements every ledger storage interface in memory.
type Store struct {
	mu sync.RWMutex

	items      map[ledger.ItemID]ledger.Item
	itemCodes  map[string]ledger.ItemID
	categories map[ledger.CategoryID]ledger.ItemCategory
	groups     map[ledger.GroupID]ledger.AttributeGroup
	attributes map[ledger.AttributeID]ledger.Attribute
	itemImages map[ledger.ItemID]ledger.ItemImage

	users      map[ledger.UserID]ledger.User
	accounts   map[ledger.UserID]ledger.Account
	discounts  map[ledger.UserID]ledger.UserDiscount
	userImages map[ledger.UserID]ledger.UserImage
	votes      map[voteKey]ledger.Vote

	entries []ledger.Entry // append order
}

func New() *Store {
	return &Store{
		items:      make(map[ledger.ItemID]ledger.Item),
		itemCodes:  make(map[string]ledger.ItemID),
		categories: make(map[ledger.CategoryID]ledger.ItemCategory),
		groups:     make(map[ledger.GroupID]ledger.AttributeGroup),
		attributes: make(map[ledger.AttributeID]ledger.Attribute),
		itemImages: make(map[ledger.ItemID]ledger.ItemImage),
		users:      make(map[ledger.UserID]ledger.User),
		accounts:   make(map[ledger.UserID]ledger.Account),
		discounts:  make(map[ledger.UserID]ledger.UserDiscount),
		userImages: make(map[ledger.UserID]ledger.UserImage),
		votes:      make(map[voteKey]ledger.Vote),
	}
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item ledger.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.itemCodes[item.Code]; exists {
		return &ledger.ConstraintError{Constraint: "item.code", Msg: item.Code + " already exists"}
	}
	s.items[item.ID] = item
	s.itemCodes[item.Code] = item.ID
	return nil
}

func (s *Store) UpdateItem(ctx context.Context, item ledger.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[item.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	if item.Code != old.Code {
		if _, taken := s.itemCodes[item.Code]; taken {
			return &ledger.ConstraintError{Constraint: "item.code", Msg: item.Code + " already exists"}
		}
		delete(s.itemCodes, old.Code)
		s.itemCodes[item.Code] = item.ID
	}
	// Stock moves only via AdjustStock inside a ledger transaction.
	item.StockCount = old.StockCount
	s.items[item.ID] = item
	return nil
}

func (s *Store) ItemByID(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.items[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) ItemByCode(ctx context.Context, code string) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemByCode(code), nil
}

func (s *Store) itemByCode(code string) *ledger.Item {
	if id, ok := s.itemCodes[code]; ok {
		item := s.items[id]
		return &item
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterItems(func(ledger.Item) bool { return true }), nil
}

func (s *Store) filterItems(keep func(ledger.Item) bool) []ledger.Item {
	var items []ledger.Item
	for _, it := range s.items {
		if keep(it) {
			items = append(items, it)
		}
	}
	sortItems(items)
	return items
}

func (s *Store) SaveCategory(ctx context.Context, cat ledger.ItemCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.Name == cat.Name {
			return &ledger.ConstraintError{Constraint: "category.name", Msg: cat.Name + " already exists"}
		}
	}
	s.categories[cat.ID] = cat
	return nil
}

func (s *Store) CategoryByID(ctx context.Context, id ledger.CategoryID) (*ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cat, ok := s.categories[id]; ok {
		return &cat, nil
	}
	return nil, nil
}

func (s *Store) CategoryByName(ctx context.Context, name string) (*ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cat := range s.categories {
		if cat.Name == name {
			return &cat, nil
		}
	}
	return nil, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cats []ledger.ItemCategory
	for _, c := range s.categories {
		cats = append(cats, c)
	}
	sortCategories(cats)
	return cats, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.CategoryID == id {
			return &ledger.ConstraintError{Constraint: "category.items", Msg: "category still has items"}
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CategoryItemCount(ctx context.Context, id ledger.CategoryID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, it := range s.items {
		if it.CategoryID == id {
			count++
		}
	}
	return count, nil
}

func (s *Store) SaveGroup(ctx context.Context, g ledger.AttributeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Code == g.Code {
			return &ledger.ConstraintError{Constraint: "group.code", Msg: g.Code + " already exists"}
		}
	}
	s.groups[g.ID] = g
	return nil
}

func (s *Store) GroupByCode(ctx context.Context, code string) (*ledger.AttributeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.Code == code {
			return &g, nil
		}
	}
	return nil, nil
}

func (s *Store) GroupsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupsByCategory(id), nil
}

func (s *Store) groupsByCategory(id ledger.CategoryID) []ledger.AttributeGroup {
	var groups []ledger.AttributeGroup
	for _, g := range s.groups {
		if g.CategoryID == id {
			groups = append(groups, g)
		}
	}
	sortGroups(groups)
	return groups
}

func (s *Store) SaveAttribute(ctx context.Context, a ledger.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attributes {
		if existing.Code == a.Code {
			return &ledger.ConstraintError{Constraint: "attribute.code", Msg: a.Code + " already exists"}
		}
	}
	s.attributes[a.ID] = a
	return nil
}

func (s *Store) AttributesByGroup(ctx context.Context, id ledger.GroupID) ([]ledger.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var attrs []ledger.Attribute
	for _, a := range s.attributes {
		if a.GroupID == id {
			attrs = append(attrs, a)
		}
	}
	sortAttributes(attrs)
	return attrs, nil
}

func (s *Store) SaveItemImage(ctx context.Context, img ledger.ItemImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemImages[img.ItemID] = img
	return nil
}

func (s *Store) ItemImageByItem(ctx context.Context, id ledger.ItemID) (*ledger.ItemImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if img, ok := s.itemImages[id]; ok {
		return &img, nil
	}
	return nil, nil
}

func (s *Store) ItemHasEntries(ctx context.Context, id ledger.ItemID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ProductID != nil && *e.ProductID == id {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, user ledger.User, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return &ledger.ConstraintError{Constraint: "user.email", Msg: user.Email + " already registered"}
		}
	}
	s.users[user.ID] = user
	s.accounts[account.UserID] = account
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, user ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ledger.ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) UserByID(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []ledger.User
	for _, u := range s.users {
		users = append(users, u)
	}
	sortUsers(users)
	return users, nil
}

func (s *Store) AccountByUser(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []ledger.Account
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (s *Store) SaveDiscount(ctx context.Context, d ledger.UserDiscount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[d.UserID] = d
	return nil
}

func (s *Store) DiscountByUser(ctx context.Context, id ledger.UserID) (*ledger.UserDiscount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.discounts[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (s *Store) SaveUserImage(ctx context.Context, img ledger.UserImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userImages[img.UserID] = img
	return nil
}

func (s *Store) UserImageByUser(ctx context.Context, id ledger.UserID) (*ledger.UserImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if img, ok := s.userImages[id]; ok {
		return &img, nil
	}
	return nil, nil
}

func (s *Store) UpsertVote(ctx context.Context, v ledger.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[voteKey{user: v.UserID, item: v.ItemID}] = v
	return nil
}

func (s *Store) VotesByItem(ctx context.Context, id ledger.ItemID) ([]ledger.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var votes []ledger.Vote
	for _, v := range s.votes {
		if v.ItemID == id {
			votes = append(votes, v)
		}
	}
	return votes, nil
}

func (s *Store) VotesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var votes []ledger.Vote
	for _, v := range s.votes {
		if v.UserID == id {
			votes = append(votes, v)
		}
	}
	return votes, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// WithTx executes fn under the write lock. Items, accounts, and entries are
// snapshotted up front; any error from fn restores the snapshot, so no
// partial effects survive.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsSnap := make(map[ledger.ItemID]ledger.Item, len(s.items))
	for k, v := range s.items {
		itemsSnap[k] = v
	}
	accountsSnap := make(map[ledger.UserID]ledger.Account, len(s.accounts))
	for k, v := range s.accounts {
		accountsSnap[k] = v
	}
	entriesLen := len(s.entries)

	if err := fn(&memTx{store: s}); err != nil {
		s.items = itemsSnap
		s.accounts = accountsSnap
		s.entries = s.entries[:entriesLen]
		return err
	}
	return nil
}

func (s *Store) SetVerified(ctx context.Context, id ledger.EntryID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Verified = verified
			return nil
		}
	}
	return ledger.ErrNotFound
}

// memTx mutates the store directly; WithTx handles rollback.
type memTx struct {
	store *Store
}

func (t *memTx) ItemByCode(ctx context.Context, code string) (*ledger.Item, error) {
	return t.store.itemByCode(code), nil
}

func (t *memTx) UserByID(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	if u, ok := t.store.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (t *memTx) AccountByUser(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	if a, ok := t.store.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (t *memTx) DiscountByUser(ctx context.Context, id ledger.UserID) (*ledger.UserDiscount, error) {
	if d, ok := t.store.discounts[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (t *memTx) GroupsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	return t.store.groupsByCategory(id), nil
}

func (t *memTx) GroupHasAttribute(ctx context.Context, groupCode, attrCode string) (bool, error) {
	for _, g := range t.store.groups {
		if g.Code != groupCode {
			continue
		}
		for _, a := range t.store.attributes {
			if a.GroupID == g.ID && a.Code == attrCode {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *memTx) AdjustStock(ctx context.Context, id ledger.ItemID, delta int) error {
	item, ok := t.store.items[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if item.StockCount+delta < 0 {
		return ledger.ErrInsufficientStock
	}
	item.StockCount += delta
	t.store.items[id] = item
	return nil
}

func (t *memTx) AdjustBalance(ctx context.Context, id ledger.UserID, delta ledger.Money) error {
	account, ok := t.store.accounts[id]
	if !ok {
		return &ledger.ValidationError{Field: "user", Msg: "no account for " + string(id)}
	}
	account.Balance = account.Balance.Add(delta)
	t.store.accounts[id] = account
	return nil
}

func (t *memTx) Append(ctx context.Context, e *ledger.Entry) error {
	e.CreatedAt = time.Now().UTC()
	t.store.entries = append(t.store.entries, *e)
	return nil
}

// =============================================================================
// VIEW STORE
// =============================================================================

func (s *Store) LowStock(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterItems(func(it ledger.Item) bool {
		return it.Enabled && it.StockCount <= it.StockLowMark
	}), nil
}

func (s *Store) WishlistItems(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterItems(func(it ledger.Item) bool { return it.Wishlist }), nil
}

func (s *Store) ItemsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterItems(func(it ledger.Item) bool { return it.CategoryID == id }), nil
}

func (s *Store) History(ctx context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Append order doubles as timestamp order; walk backwards for
	// newest-first.
	var entries []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID == id || (e.ToUserID != nil && *e.ToUserID == id) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) EntryByID(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) AllEntries(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]ledger.Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		entries = append(entries, s.entries[i])
	}
	return entries, nil
}
