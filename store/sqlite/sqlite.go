/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store (catalog, accounts, ledger, views) using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The entries table has exactly one INSERT path and no UPDATE except the
  verified audit flag. Corrections are new opposite-signed entries.

KEY TABLES:
  entries:          Immutable ledger of all stock/money movements
  entry_attributes: Transaction annotations attached to entries
  items/categories/attribute_groups/attributes/item_images: catalog
  users/accounts/user_discounts/user_images/votes: accounts

CONSTRAINTS:
  Unique: items.code, categories.name, attribute_groups.code,
  attributes.code, users.email, accounts.user_id, votes(user_id, item_id).
  A CHECK on entries enforces the target shape per transaction type, and a
  CHECK on items keeps stock_count non-negative - the last line of defense
  under concurrent purchases of the final unit.

CONCURRENCY:
  Opened with WAL and a busy timeout; every Engine append runs in an
  immediate transaction guarded by a mutex. A lock wait that still times
  out surfaces as ledger.ErrContention (retryable), never a deadlock.

TIMESTAMPS:
  entries.created_at is assigned here, at the moment of durable append,
  so two concurrently-validated transactions cannot race a stale clock.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/fridge-ledger/ledger"
)

// Store implements every ledger storage interface using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		cost TEXT NOT NULL,
		markup TEXT NOT NULL,
		category_id TEXT NOT NULL REFERENCES categories(id),
		stock_count INTEGER NOT NULL DEFAULT 0 CHECK (stock_count >= 0),
		stock_low_mark INTEGER NOT NULL DEFAULT 0,
		wishlist BOOLEAN NOT NULL DEFAULT FALSE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id);

	CREATE TABLE IF NOT EXISTS attribute_groups (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL REFERENCES categories(id),
		kind TEXT NOT NULL,
		required BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_groups_category ON attribute_groups(category_id);

	CREATE TABLE IF NOT EXISTS attributes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL REFERENCES attribute_groups(id)
	);

	CREATE TABLE IF NOT EXISTS item_images (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL UNIQUE REFERENCES items(id),
		path TEXT NOT NULL
	);

	-- Accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		isadmin BOOLEAN NOT NULL DEFAULT FALSE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		balance TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS user_discounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		discount TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS user_images (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		path TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS votes (
		user_id TEXT NOT NULL REFERENCES users(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		vote BOOLEAN NOT NULL,
		PRIMARY KEY (user_id, item_id)
	);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		entry_type TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users(id),
		product_id TEXT REFERENCES items(id),
		to_user_id TEXT REFERENCES users(id),
		quantity TEXT NOT NULL,
		units INTEGER NOT NULL DEFAULT 0,
		reference TEXT NOT NULL DEFAULT '',
		verified BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		-- Exactly one target shape per transaction type
		CHECK (
			(entry_type IN ('purchase', 'restock') AND product_id IS NOT NULL AND to_user_id IS NULL)
			OR (entry_type = 'transfer' AND to_user_id IS NOT NULL AND product_id IS NULL)
			OR (entry_type = 'topup' AND product_id IS NULL AND to_user_id IS NULL)
		)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_user ON entries(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_to_user ON entries(to_user_id) WHERE to_user_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_product ON entries(product_id) WHERE product_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS entry_attributes (
		entry_id TEXT NOT NULL REFERENCES entries(id),
		group_code TEXT NOT NULL,
		attribute_code TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_entry_attributes_entry ON entry_attributes(entry_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx so the same helpers
// serve plain reads and transactional reads.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// CATALOG STORE (ledger.CatalogStore interface)
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item ledger.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, code, name, description, cost, markup, category_id,
			stock_count, stock_low_mark, wishlist, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Code, item.Name, item.Description,
		item.Cost.String(), item.Markup.String(), item.CategoryID,
		item.StockCount, item.StockLowMark, item.Wishlist, item.Enabled,
	)
	return mapConstraint(err, "item.code")
}

func (s *Store) UpdateItem(ctx context.Context, item ledger.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// stock_count deliberately excluded: stock moves only via AdjustStock
	// inside a ledger transaction.
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET code = ?, name = ?, description = ?, cost = ?, markup = ?,
			category_id = ?, stock_low_mark = ?, wishlist = ?, enabled = ?
		WHERE id = ?`,
		item.Code, item.Name, item.Description, item.Cost.String(), item.Markup.String(),
		item.CategoryID, item.StockLowMark, item.Wishlist, item.Enabled, item.ID,
	)
	return mapConstraint(err, "item.code")
}

func (s *Store) ItemByID(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return itemBy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) ItemByCode(ctx context.Context, code string) (*ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return itemBy(ctx, s.db, "code = ?", code)
}

const itemColumns = `id, code, name, description, cost, markup, category_id,
	stock_count, stock_low_mark, wishlist, enabled`

func itemBy(ctx context.Context, q queryer, where string, arg any) (*ledger.Item, error) {
	row := q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE "+where, arg)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func scanItem(row rowScanner) (*ledger.Item, error) {
	var it ledger.Item
	var cost, markup string
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Description, &cost, &markup,
		&it.CategoryID, &it.StockCount, &it.StockLowMark, &it.Wishlist, &it.Enabled)
	if err != nil {
		return nil, err
	}
	if it.Cost, err = ledger.ParseMoney(cost); err != nil {
		return nil, fmt.Errorf("corrupt cost for item %s: %w", it.ID, err)
	}
	if it.Markup, err = ledger.ParseMoney(markup); err != nil {
		return nil, fmt.Errorf("corrupt markup for item %s: %w", it.ID, err)
	}
	return &it, nil
}

func (s *Store) ListItems(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryItems(ctx, s.db, "SELECT "+itemColumns+" FROM items ORDER BY id")
}

func queryItems(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ledger.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *Store) SaveCategory(ctx context.Context, cat ledger.ItemCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (id, name) VALUES (?, ?)", cat.ID, cat.Name)
	return mapConstraint(err, "category.name")
}

func (s *Store) CategoryByID(ctx context.Context, id ledger.CategoryID) (*ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return categoryBy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) CategoryByName(ctx context.Context, name string) (*ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return categoryBy(ctx, s.db, "name = ?", name)
}

func categoryBy(ctx context.Context, q queryer, where string, arg any) (*ledger.ItemCategory, error) {
	var cat ledger.ItemCategory
	err := q.QueryRowContext(ctx,
		"SELECT id, name FROM categories WHERE "+where, arg).Scan(&cat.ID, &cat.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]ledger.ItemCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []ledger.ItemCategory
	for rows.Next() {
		var c ledger.ItemCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *Store) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items WHERE category_id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return &ledger.ConstraintError{Constraint: "category.items", Msg: "category still has items"}
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	return err
}

func (s *Store) CategoryItemCount(ctx context.Context, id ledger.CategoryID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items WHERE category_id = ?", id).Scan(&count)
	return count, err
}

func (s *Store) SaveGroup(ctx context.Context, g ledger.AttributeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attribute_groups (id, code, description, category_id, kind, required)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Code, g.Description, g.CategoryID, g.Kind, g.Required)
	return mapConstraint(err, "group.code")
}

func (s *Store) GroupByCode(ctx context.Context, code string) (*ledger.AttributeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g ledger.AttributeGroup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, description, category_id, kind, required
		FROM attribute_groups WHERE code = ?`, code).
		Scan(&g.ID, &g.Code, &g.Description, &g.CategoryID, &g.Kind, &g.Required)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GroupsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return groupsByCategory(ctx, s.db, id)
}

func groupsByCategory(ctx context.Context, q queryer, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, code, description, category_id, kind, required
		FROM attribute_groups WHERE category_id = ? ORDER BY code`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []ledger.AttributeGroup
	for rows.Next() {
		var g ledger.AttributeGroup
		if err := rows.Scan(&g.ID, &g.Code, &g.Description, &g.CategoryID, &g.Kind, &g.Required); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) SaveAttribute(ctx context.Context, a ledger.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attributes (id, code, description, group_id) VALUES (?, ?, ?, ?)`,
		a.ID, a.Code, a.Description, a.GroupID)
	return mapConstraint(err, "attribute.code")
}

func (s *Store) AttributesByGroup(ctx context.Context, id ledger.GroupID) ([]ledger.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, description, group_id FROM attributes WHERE group_id = ? ORDER BY code`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []ledger.Attribute
	for rows.Next() {
		var a ledger.Attribute
		if err := rows.Scan(&a.ID, &a.Code, &a.Description, &a.GroupID); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func (s *Store) SaveItemImage(ctx context.Context, img ledger.ItemImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_images (id, item_id, path) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET path = excluded.path`,
		img.ID, img.ItemID, img.Path)
	return err
}

func (s *Store) ItemImageByItem(ctx context.Context, id ledger.ItemID) (*ledger.ItemImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var img ledger.ItemImage
	err := s.db.QueryRowContext(ctx,
		"SELECT id, item_id, path FROM item_images WHERE item_id = ?", id).
		Scan(&img.ID, &img.ItemID, &img.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Store) ItemHasEntries(ctx context.Context, id ledger.ItemID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE product_id = ?", id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

// CreateUser inserts a user together with their account in one transaction.
func (s *Store) CreateUser(ctx context.Context, user ledger.User, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, password_hash, isadmin, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.FirstName, user.LastName,
		user.PasswordHash, user.IsAdmin, user.Enabled,
	); err != nil {
		return mapConstraint(err, "user.email")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, balance) VALUES (?, ?, ?)`,
		account.ID, account.UserID, account.Balance.String(),
	); err != nil {
		return mapConstraint(err, "account.user_id")
	}

	return tx.Commit()
}

func (s *Store) UpdateUser(ctx context.Context, user ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, first_name = ?, last_name = ?,
			password_hash = ?, isadmin = ?, enabled = ?
		WHERE id = ?`,
		user.Email, user.FirstName, user.LastName,
		user.PasswordHash, user.IsAdmin, user.Enabled, user.ID)
	return mapConstraint(err, "user.email")
}

func (s *Store) UserByID(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userBy(ctx, s.db, "id = ?", string(id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return userBy(ctx, s.db, "email = ?", email)
}

func userBy(ctx context.Context, q queryer, where string, arg any) (*ledger.User, error) {
	var u ledger.User
	err := q.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, password_hash, isadmin, enabled
		FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsAdmin, &u.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, password_hash, isadmin, enabled
		FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var u ledger.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName,
			&u.PasswordHash, &u.IsAdmin, &u.Enabled); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) AccountByUser(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return accountByUser(ctx, s.db, id)
}

func accountByUser(ctx context.Context, q queryer, id ledger.UserID) (*ledger.Account, error) {
	var a ledger.Account
	var balance string
	err := q.QueryRowContext(ctx,
		"SELECT id, user_id, balance FROM accounts WHERE user_id = ?", id).
		Scan(&a.ID, &a.UserID, &balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Balance, err = ledger.ParseMoney(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance for account %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, balance FROM accounts ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.UserID, &balance); err != nil {
			return nil, err
		}
		if a.Balance, err = ledger.ParseMoney(balance); err != nil {
			return nil, fmt.Errorf("corrupt balance for account %s: %w", a.ID, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) SaveDiscount(ctx context.Context, d ledger.UserDiscount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_discounts (id, user_id, discount) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET discount = excluded.discount`,
		d.ID, d.UserID, d.Discount.String())
	return err
}

func (s *Store) DiscountByUser(ctx context.Context, id ledger.UserID) (*ledger.UserDiscount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return discountByUser(ctx, s.db, id)
}

func discountByUser(ctx context.Context, q queryer, id ledger.UserID) (*ledger.UserDiscount, error) {
	var d ledger.UserDiscount
	var rate string
	err := q.QueryRowContext(ctx,
		"SELECT id, user_id, discount FROM user_discounts WHERE user_id = ?", id).
		Scan(&d.ID, &d.UserID, &rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Discount, err = ledger.ParseMoney(rate); err != nil {
		return nil, fmt.Errorf("corrupt discount for user %s: %w", d.UserID, err)
	}
	return &d, nil
}

func (s *Store) SaveUserImage(ctx context.Context, img ledger.UserImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_images (id, user_id, path) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET path = excluded.path`,
		img.ID, img.UserID, img.Path)
	return err
}

func (s *Store) UserImageByUser(ctx context.Context, id ledger.UserID) (*ledger.UserImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var img ledger.UserImage
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, path FROM user_images WHERE user_id = ?", id).
		Scan(&img.ID, &img.UserID, &img.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Store) UpsertVote(ctx context.Context, v ledger.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Last write wins per (user, item).
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (user_id, item_id, vote) VALUES (?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET vote = excluded.vote`,
		v.UserID, v.ItemID, v.Vote)
	return err
}

func (s *Store) VotesByItem(ctx context.Context, id ledger.ItemID) ([]ledger.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryVotes(ctx, s.db, "item_id = ?", string(id))
}

func (s *Store) VotesByUser(ctx context.Context, id ledger.UserID) ([]ledger.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryVotes(ctx, s.db, "user_id = ?", string(id))
}

func queryVotes(ctx context.Context, q queryer, where string, arg any) ([]ledger.Vote, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT user_id, item_id, vote FROM votes WHERE "+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []ledger.Vote
	for rows.Next() {
		var v ledger.Vote
		if err := rows.Scan(&v.UserID, &v.ItemID, &v.Vote); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// =============================================================================
// LEDGER STORE (ledger.LedgerStore interface)
// =============================================================================

// WithTx executes fn within one immediate database transaction. If fn
// returns an error the transaction is rolled back completely.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return mapBusy(sqlTx.Commit())
}

// SetVerified flips the audit flag. The only permitted entry update.
func (s *Store) SetVerified(ctx context.Context, id ledger.EntryID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET verified = ? WHERE id = ?", verified, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// txView is the ledger.Tx implementation bound to one *sql.Tx.
type txView struct {
	tx *sql.Tx
}

func (t *txView) ItemByCode(ctx context.Context, code string) (*ledger.Item, error) {
	return itemBy(ctx, t.tx, "code = ?", code)
}

func (t *txView) UserByID(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return userBy(ctx, t.tx, "id = ?", string(id))
}

func (t *txView) AccountByUser(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	return accountByUser(ctx, t.tx, id)
}

func (t *txView) DiscountByUser(ctx context.Context, id ledger.UserID) (*ledger.UserDiscount, error) {
	return discountByUser(ctx, t.tx, id)
}

func (t *txView) GroupsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.AttributeGroup, error) {
	return groupsByCategory(ctx, t.tx, id)
}

func (t *txView) GroupHasAttribute(ctx context.Context, groupCode, attrCode string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attributes a
		JOIN attribute_groups g ON g.id = a.group_id
		WHERE g.code = ? AND a.code = ?`, groupCode, attrCode).Scan(&count)
	return count > 0, err
}

func (t *txView) AdjustStock(ctx context.Context, id ledger.ItemID, delta int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE items SET stock_count = stock_count + ? WHERE id = ?", delta, id)
	if err != nil && isCheckError(err) {
		// The Engine validates stock before adjusting; hitting the CHECK
		// means a concurrent writer already took the units.
		return ledger.ErrInsufficientStock
	}
	return err
}

func (t *txView) AdjustBalance(ctx context.Context, id ledger.UserID, delta ledger.Money) error {
	account, err := accountByUser(ctx, t.tx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return &ledger.ValidationError{Field: "user", Msg: "no account for " + string(id)}
	}

	_, err = t.tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE user_id = ?",
		account.Balance.Add(delta).String(), id)
	return err
}

// Append persists the entry, assigning CreatedAt at the moment of durable
// append. The only INSERT path into the entries table.
func (t *txView) Append(ctx context.Context, e *ledger.Entry) error {
	e.CreatedAt = time.Now().UTC()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (id, entry_type, user_id, product_id, to_user_id,
			quantity, units, reference, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.UserID, nullItemID(e.ProductID), nullUserID(e.ToUserID),
		e.Quantity.String(), e.Units, e.Reference, e.Verified,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}

	for _, a := range e.Attributes {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO entry_attributes (entry_id, group_code, attribute_code, text)
			VALUES (?, ?, ?, ?)`,
			e.ID, a.Group, a.Attribute, a.Text,
		); err != nil {
			return fmt.Errorf("failed to append entry attribute: %w", err)
		}
	}
	return nil
}

// =============================================================================
// VIEW STORE (ledger.ViewStore interface)
// =============================================================================

const entryColumns = `id, entry_type, user_id, product_id, to_user_id,
	quantity, units, reference, verified, created_at`

func (s *Store) LowStock(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryItems(ctx, s.db, "SELECT "+itemColumns+
		" FROM items WHERE enabled AND stock_count <= stock_low_mark ORDER BY id")
}

func (s *Store) WishlistItems(ctx context.Context) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryItems(ctx, s.db, "SELECT "+itemColumns+
		" FROM items WHERE wishlist ORDER BY id")
}

func (s *Store) ItemsByCategory(ctx context.Context, id ledger.CategoryID) ([]ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryItems(ctx, s.db, "SELECT "+itemColumns+
		" FROM items WHERE category_id = ? ORDER BY id", id)
}

func (s *Store) History(ctx context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, "SELECT "+entryColumns+
		" FROM entries WHERE user_id = ? OR to_user_id = ?"+
		" ORDER BY created_at DESC, rowid DESC", id, id)
}

func (s *Store) EntryByID(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) AllEntries(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEntries(ctx, "SELECT "+entryColumns+
		" FROM entries ORDER BY created_at DESC, rowid DESC")
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		attrs, err := s.loadAttributes(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Attributes = attrs
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		productID sql.NullString
		toUserID  sql.NullString
		quantity  string
		createdAt string
	)
	err := rows.Scan(&e.ID, &e.Type, &e.UserID, &productID, &toUserID,
		&quantity, &e.Units, &e.Reference, &e.Verified, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	if productID.Valid {
		id := ledger.ItemID(productID.String)
		e.ProductID = &id
	}
	if toUserID.Valid {
		id := ledger.UserID(toUserID.String)
		e.ToUserID = &id
	}
	if e.Quantity, err = ledger.ParseMoney(quantity); err != nil {
		return e, fmt.Errorf("corrupt quantity for entry %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return e, fmt.Errorf("corrupt timestamp for entry %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *Store) loadAttributes(ctx context.Context, id ledger.EntryID) ([]ledger.EntryAttribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_code, attribute_code, text FROM entry_attributes WHERE entry_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []ledger.EntryAttribute
	for rows.Next() {
		var a ledger.EntryAttribute
		if err := rows.Scan(&a.Group, &a.Attribute, &a.Text); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullItemID(id *ledger.ItemID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func nullUserID(id *ledger.UserID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

// mapConstraint converts SQLite unique violations into the core taxonomy.
func mapConstraint(err error, constraint string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &ledger.ConstraintError{Constraint: constraint, Msg: err.Error()}
	}
	return err
}

func isCheckError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

// mapBusy converts lock-wait timeouts into the retryable Contention error.
func mapBusy(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %s", ledger.ErrContention, msg)
	}
	return err
}
