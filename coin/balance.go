package coin

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// BALANCE READER
// =============================================================================

// BalanceReader answers "how many coins can this user spend right now".
// Expired government grants count as zero.
type BalanceReader struct {
	store generic.TxStore
	opts  Options
}

func NewBalanceReader(store generic.TxStore, opts Options) *BalanceReader {
	return &BalanceReader{store: store, opts: opts.withDefaults()}
}

// GetBalance returns both balances, the earliest upcoming government expiry
// and the balance version an authorization would be checked against.
func (r *BalanceReader) GetBalance(ctx context.Context, userID generic.EntityID) (*Balance, error) {
	if userID == "" {
		return nil, generic.Invalid("user_id", "is required")
	}
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	var result *Balance
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		view, err := loadBalance(ctx, cs, userID, r.opts.Clock.Now())
		if err != nil {
			return err
		}
		b := view.balance("")
		result = &b
		return nil
	})
	if err != nil {
		return nil, generic.Transient("get balance", err)
	}
	return result, nil
}

// =============================================================================
// BALANCE VIEW - Shared by reader, authorizer and writer
// =============================================================================

type balanceView struct {
	user   *User
	grants []Grant
	now    time.Time
}

func loadBalance(ctx context.Context, cs Store, userID generic.EntityID, now time.Time) (*balanceView, error) {
	user, err := cs.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := cs.ListGrants(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return &balanceView{user: user, grants: grants, now: now}, nil
}

// balance sums the unexpired grants eligible for category ("" = any).
func (v *balanceView) balance(category SpendCategory) Balance {
	b := Balance{
		UserID:     v.user.ID,
		Government: decimal.Zero,
		Self:       decimal.Zero,
		Version:    v.user.BalanceVersion,
		AsOf:       v.now,
	}
	for _, g := range v.grants {
		if !g.Amount.IsPositive() || g.Expired(v.now) || !g.EligibleFor(category) {
			continue
		}
		switch g.CoinType {
		case Government:
			b.Government = b.Government.Add(g.Amount)
			if g.ValidUntil != nil && (b.GovernmentValidUntil == nil || g.ValidUntil.Before(*b.GovernmentValidUntil)) {
				until := *g.ValidUntil
				b.GovernmentValidUntil = &until
			}
		case Self:
			b.Self = b.Self.Add(g.Amount)
		}
	}
	return b
}

// expired sums coins of coinType stuck in expired grants eligible for category.
func (v *balanceView) expired(coinType CoinType, category SpendCategory) decimal.Decimal {
	total := decimal.Zero
	for _, g := range v.grants {
		if g.CoinType == coinType && g.Amount.IsPositive() && g.Expired(v.now) && g.EligibleFor(category) {
			total = total.Add(g.Amount)
		}
	}
	return total
}

func (v *balanceView) grantsOf(coinType CoinType) []Grant {
	var result []Grant
	for _, g := range v.grants {
		if g.CoinType == coinType {
			result = append(result, g)
		}
	}
	return result
}
