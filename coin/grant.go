package coin

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// GRANTS
// =============================================================================

type GrantRequest struct {
	UserID   generic.EntityID
	CoinType CoinType
	Amount   decimal.Decimal

	// ValidUntil applies to government coins only; nil uses the configured
	// validity. Self coins never expire.
	ValidUntil    *time.Time
	UsageCategory SpendCategory

	Notes          string
	IdempotencyKey string
	CreatedBy      string

	// RelatedType defaults to "grant".
	RelatedType string
}

type GrantResult struct {
	Grant       Grant
	Transaction generic.Transaction
	Replayed    bool
}

func (r GrantRequest) validate(now time.Time) error {
	if r.UserID == "" {
		return generic.Invalid("user_id", "is required")
	}
	if !r.CoinType.Valid() {
		return generic.Invalid("coin_type", "must be government or self, got %q", r.CoinType)
	}
	if !r.Amount.IsPositive() {
		return generic.Invalid("amount", "must be positive, got %s", r.Amount)
	}
	if r.CoinType == Self && r.ValidUntil != nil {
		return generic.Invalid("valid_until", "self coins do not expire")
	}
	if r.ValidUntil != nil && !r.ValidUntil.After(now) {
		return generic.Invalid("valid_until", "must be in the future")
	}
	if r.UsageCategory != "" {
		if _, err := ParseCategory(string(r.UsageCategory)); err != nil {
			return err
		}
	}
	return nil
}

// GrantCoins credits coins to a user. A repeated IdempotencyKey returns the
// original grant.
func (w *LedgerWriter) GrantCoins(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	now := w.opts.Clock.Now()
	if err := req.validate(now); err != nil {
		return nil, err
	}

	ctx, cancel := generic.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()

	unlock, err := w.locks.Lock(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *GrantResult
	err = w.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		result, err = w.grantIn(ctx, cs, req, now)
		return err
	})
	if err != nil {
		return nil, generic.Transient("grant coins", err)
	}
	return result, nil
}

func (w *LedgerWriter) grantIn(ctx context.Context, cs Store, req GrantRequest, now time.Time) (*GrantResult, error) {
	if req.IdempotencyKey != "" {
		existing, err := cs.Query(ctx, generic.TransactionFilter{IdempotencyKey: req.IdempotencyKey})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			tx := existing[0]
			g, err := cs.GetGrant(ctx, tx.RelatedID)
			if err != nil {
				return nil, err
			}
			return &GrantResult{Grant: *g, Transaction: tx, Replayed: true}, nil
		}
	}

	user, err := cs.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	ok, err := cs.CompareAndBumpVersion(ctx, user.ID, user.BalanceVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, balanceConflict(user.ID)
	}

	validUntil := req.ValidUntil
	if req.CoinType == Government && validUntil == nil {
		until := now.Add(w.opts.GovernmentValidity)
		validUntil = &until
	}
	relatedType := req.RelatedType
	if relatedType == "" {
		relatedType = RelatedGrant
	}

	txID := generic.TransactionID(uuid.NewString())
	g := Grant{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		CoinType:       req.CoinType,
		Amount:         req.Amount,
		OriginalAmount: req.Amount,
		ValidUntil:     validUntil,
		UsageCategory:  req.UsageCategory,
		SourceTxID:     txID,
		CreatedAt:      now,
	}
	if err := cs.InsertGrant(ctx, g); err != nil {
		return nil, err
	}

	tx := generic.Transaction{
		ID:             txID,
		EntityID:       user.ID,
		ResourceType:   req.CoinType,
		Type:           generic.TxReceive,
		Amount:         req.Amount,
		RelatedType:    relatedType,
		RelatedID:      g.ID,
		EffectiveAt:    now,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
	}
	if err := generic.NewLedger(cs).Append(ctx, tx); err != nil {
		return nil, err
	}
	return &GrantResult{Grant: g, Transaction: tx}, nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

type RegisterRequest struct {
	ID    generic.EntityID
	Name  string
	Email string
	Role  Role
}

// RegisterUser creates the user and credits the registration bonus in self
// coins in the same unit of work.
func (w *LedgerWriter) RegisterUser(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" {
		return nil, generic.Invalid("id", "is required")
	}
	if req.Name == "" {
		return nil, generic.Invalid("name", "is required")
	}
	role, err := ParseRole(string(req.Role))
	if err != nil {
		return nil, err
	}

	ctx, cancel := generic.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()

	unlock, err := w.locks.Lock(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := w.opts.Clock.Now()
	var created *User
	err = w.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		u := User{ID: req.ID, Name: req.Name, Email: req.Email, Role: role, CreatedAt: now}
		if err := cs.CreateUser(ctx, u); err != nil {
			return err
		}
		if w.opts.RegistrationBonus.IsPositive() {
			_, err := w.grantIn(ctx, cs, GrantRequest{
				UserID:         u.ID,
				CoinType:       Self,
				Amount:         w.opts.RegistrationBonus,
				Notes:          "registration bonus",
				IdempotencyKey: "registration:" + string(u.ID),
				CreatedBy:      "system",
				RelatedType:    RelatedRegistration,
			}, now)
			if err != nil {
				return err
			}
		}
		created, err = cs.GetUser(ctx, u.ID)
		return err
	})
	if err != nil {
		return nil, generic.Transient("register user", err)
	}
	return created, nil
}
