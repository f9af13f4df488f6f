/*
Package account manages who can buy: users, their monetary accounts,
discounts, and wishlist votes.

PURPOSE:
  - A user is created atomically with exactly one zero-balance account.
  - Balance mutation happens ONLY through the Ledger Engine; this package
    never writes balances, preserving the audit invariant.
  - Discounts apply multiplicatively at purchase time (see
    ledger.EffectivePrice).
  - Votes have upsert semantics: one row per (user, item), last write wins.

  Password hashing uses bcrypt. Sessions, login, and CSRF belong to the
  auth collaborator and are out of scope here; the core only stores the
  hash and can verify a candidate against it.

SEE ALSO:
  - ledger/engine.go: The only balance writer
  - ledger/types.go: Entity definitions
*/
package account

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/fridge-ledger/ledger"
)

type Service struct {
	store ledger.AccountStore
}

func NewService(store ledger.AccountStore) *Service {
	return &Service{store: store}
}

// =============================================================================
// USERS
// =============================================================================

type NewUser struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	IsAdmin   bool
}

// CreateUser persists the user together with a zero-balance account in one
// store transaction. There is no user without an account.
func (s *Service) CreateUser(ctx context.Context, req NewUser) (*ledger.User, error) {
	if !strings.Contains(req.Email, "@") {
		return nil, &ledger.ValidationError{Field: "email", Msg: "malformed"}
	}
	if req.Password == "" {
		return nil, &ledger.ValidationError{Field: "password", Msg: "required"}
	}
	if existing, err := s.store.UserByEmail(ctx, req.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ledger.ConstraintError{Constraint: "user.email", Msg: req.Email + " already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := ledger.User{
		ID:           ledger.UserID(uuid.NewString()),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
		IsAdmin:      req.IsAdmin,
		Enabled:      true,
	}
	account := ledger.Account{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		Balance: decimal.Zero,
	}
	if err := s.store.CreateUser(ctx, user, account); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) User(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ledger.ErrNotFound
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return s.store.ListUsers(ctx)
}

// SetEnabled enables or disables a user. Disabled users cannot act in new
// transactions; their history is preserved.
func (s *Service) SetEnabled(ctx context.Context, id ledger.UserID, enabled bool) error {
	user, err := s.User(ctx, id)
	if err != nil {
		return err
	}
	user.Enabled = enabled
	return s.store.UpdateUser(ctx, *user)
}

// CheckPassword verifies a candidate password against the stored hash.
func (s *Service) CheckPassword(ctx context.Context, email, password string) (*ledger.User, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ledger.ErrNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ledger.ErrPermissionDenied
	}
	return user, nil
}

func (s *Service) SetUserImage(ctx context.Context, id ledger.UserID, path string) error {
	user, err := s.User(ctx, id)
	if err != nil {
		return err
	}
	return s.store.SaveUserImage(ctx, ledger.UserImage{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Path:   path,
	})
}

// =============================================================================
// BALANCES AND DISCOUNTS
// =============================================================================

// Balance returns the cached balance projection for a user.
func (s *Service) Balance(ctx context.Context, id ledger.UserID) (ledger.Money, error) {
	account, err := s.store.AccountByUser(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, ledger.ErrNotFound
	}
	return account.Balance, nil
}

// SetDiscount sets a user's fractional purchase discount. Rates outside
// [0, 1] are rejected.
func (s *Service) SetDiscount(ctx context.Context, id ledger.UserID, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return &ledger.ValidationError{Field: "discount", Msg: "must be within [0, 1]"}
	}
	if _, err := s.User(ctx, id); err != nil {
		return err
	}
	return s.store.SaveDiscount(ctx, ledger.UserDiscount{
		ID:       uuid.NewString(),
		UserID:   id,
		Discount: rate,
	})
}

// =============================================================================
// VOTES
// =============================================================================

// Vote records wishlist interest. A second vote by the same user on the
// same item overwrites the boolean.
func (s *Service) Vote(ctx context.Context, userID ledger.UserID, itemID ledger.ItemID, want bool) error {
	if _, err := s.User(ctx, userID); err != nil {
		return err
	}
	return s.store.UpsertVote(ctx, ledger.Vote{UserID: userID, ItemID: itemID, Vote: want})
}

func (s *Service) VotesByItem(ctx context.Context, itemID ledger.ItemID) ([]ledger.Vote, error) {
	return s.store.VotesByItem(ctx, itemID)
}
