/*
authorize.go - Spend authorization

PURPOSE:
  Before anything is written, a proposed purchase is checked against the
  user's balances and the government coin caps. The result is an
  AuthorizationToken that the caller later hands to LedgerWriter.CommitSpend.

RULES (evaluated in this order):
  1. government + self <= target amount          else OverspendError
  2. government <= min(category cap, item cap)   else CapExceededError
  3. government <= unexpired government balance  else ExpiredCoinError
                                                   (if expired grants would
                                                   have covered it) or
                                                   InsufficientBalanceError
  4. self <= self balance                        else InsufficientBalanceError

  Rule 2 applies even when the balance would be sufficient.

EXAMPLE:
  equipment price 300, cap 200:
    government 300            -> CapExceededError
    government 200 + self 100 -> authorized

SEE ALSO:
  - caps.go: Category caps
  - writer.go: CommitSpend re-runs these checks inside its unit of work
*/
package coin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// SpendRequest is a proposed purchase paid (partly) in coins.
type SpendRequest struct {
	UserID       generic.EntityID
	TargetAmount decimal.Decimal
	Government   decimal.Decimal
	Self         decimal.Decimal
	Category     SpendCategory

	// ItemCap further limits government coins for this item
	// (a course's max_government_coin_amount). nil = no item cap.
	ItemCap *decimal.Decimal
}

// Total is the number of coins the request spends.
func (r SpendRequest) Total() decimal.Decimal { return r.Government.Add(r.Self) }

func (r SpendRequest) Validate() error {
	switch {
	case r.UserID == "":
		return generic.Invalid("user_id", "is required")
	case r.TargetAmount.IsNegative():
		return generic.Invalid("target_amount", "cannot be negative")
	case r.Government.IsNegative():
		return generic.Invalid("government_amount", "cannot be negative")
	case r.Self.IsNegative():
		return generic.Invalid("self_amount", "cannot be negative")
	case r.ItemCap != nil && r.ItemCap.IsNegative():
		return generic.Invalid("item_cap", "cannot be negative")
	}
	if _, err := ParseCategory(string(r.Category)); err != nil {
		return err
	}
	return nil
}

// AuthorizationToken is a validated spend. It is only valid against the
// balance version it was issued for.
type AuthorizationToken struct {
	ID             string
	UserID         generic.EntityID
	TargetAmount   decimal.Decimal
	Government     decimal.Decimal
	Self           decimal.Decimal
	Category       SpendCategory
	ItemCap        *decimal.Decimal
	BalanceVersion int64
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Request rebuilds the spend request the token was issued for.
func (t AuthorizationToken) Request() SpendRequest {
	return SpendRequest{
		UserID:       t.UserID,
		TargetAmount: t.TargetAmount,
		Government:   t.Government,
		Self:         t.Self,
		Category:     t.Category,
		ItemCap:      t.ItemCap,
	}
}

// =============================================================================
// SPEND AUTHORIZER
// =============================================================================

type SpendAuthorizer struct {
	store generic.TxStore
	opts  Options
}

func NewSpendAuthorizer(store generic.TxStore, opts Options) *SpendAuthorizer {
	return &SpendAuthorizer{store: store, opts: opts.withDefaults()}
}

// Caps exposes the policy used for rule 2.
func (a *SpendAuthorizer) Caps() *CapPolicy { return a.opts.Caps }

// Authorize checks req and returns a token. It never writes.
func (a *SpendAuthorizer) Authorize(ctx context.Context, req SpendRequest) (*AuthorizationToken, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := generic.WithTimeout(ctx, a.opts.OpTimeout)
	defer cancel()

	now := a.opts.Clock.Now()
	var token *AuthorizationToken
	err := a.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		view, err := loadBalance(ctx, cs, req.UserID, now)
		if err != nil {
			return err
		}
		if err := checkSpend(view, a.opts.Caps, req); err != nil {
			return err
		}
		token = &AuthorizationToken{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			TargetAmount:   req.TargetAmount,
			Government:     req.Government,
			Self:           req.Self,
			Category:       req.Category,
			ItemCap:        req.ItemCap,
			BalanceVersion: view.user.BalanceVersion,
			IssuedAt:       now,
			ExpiresAt:      now.Add(a.opts.TokenTTL),
		}
		return nil
	})
	if err != nil {
		return nil, generic.Transient("authorize spend", err)
	}
	return token, nil
}

// checkSpend applies the authorization rules in order.
func checkSpend(view *balanceView, caps *CapPolicy, req SpendRequest) error {
	if req.Total().GreaterThan(req.TargetAmount) {
		return &generic.OverspendError{
			Target:     req.TargetAmount,
			Government: req.Government,
			Self:       req.Self,
		}
	}

	limit := caps.GovernmentCap(req.Category, req.TargetAmount, req.ItemCap)
	if req.Government.GreaterThan(limit) {
		return &generic.CapExceededError{
			Category:  string(req.Category),
			Cap:       limit,
			Requested: req.Government,
		}
	}

	bal := view.balance(req.Category)
	if req.Government.GreaterThan(bal.Government) {
		expired := view.expired(Government, req.Category)
		if expired.IsPositive() && bal.Government.Add(expired).GreaterThanOrEqual(req.Government) {
			return &generic.ExpiredCoinError{
				EntityID:  req.UserID,
				Available: bal.Government,
				Expired:   expired,
				Requested: req.Government,
			}
		}
		return &generic.InsufficientBalanceError{
			EntityID:  req.UserID,
			Resource:  string(Government),
			Available: bal.Government,
			Requested: req.Government,
		}
	}

	if req.Self.GreaterThan(bal.Self) {
		return &generic.InsufficientBalanceError{
			EntityID:  req.UserID,
			Resource:  string(Self),
			Available: bal.Self,
			Requested: req.Self,
		}
	}
	return nil
}
