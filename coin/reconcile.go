/*
reconcile.go - Ledger vs grant reconciliation and per-user summaries

PURPOSE:
  The ledger is authoritative; grants are a projection maintained in the
  same unit of work. Reconcile recomputes both sides per coin type and
  reports any drift:

    ledger side: Σ receive - Σ use + Σ refund
    grant side:  Σ remaining amount of every grant (expired ones included,
                 expiry is a spend rule, not a ledger movement)

  Summary breaks the ledger side down for display.
*/
package coin

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// CoinReconciliation compares both sides for one coin type.
type CoinReconciliation struct {
	CoinType    CoinType
	LedgerTotal decimal.Decimal
	GrantTotal  decimal.Decimal
}

func (c CoinReconciliation) Balanced() bool { return c.LedgerTotal.Equal(c.GrantTotal) }

func (c CoinReconciliation) Drift() decimal.Decimal { return c.LedgerTotal.Sub(c.GrantTotal) }

type Reconciliation struct {
	UserID generic.EntityID
	Coins  []CoinReconciliation
}

func (r Reconciliation) Balanced() bool {
	for _, c := range r.Coins {
		if !c.Balanced() {
			return false
		}
	}
	return true
}

// Reconcile checks that a user's grants match the ledger.
func (r *BalanceReader) Reconcile(ctx context.Context, userID generic.EntityID) (*Reconciliation, error) {
	if userID == "" {
		return nil, generic.Invalid("user_id", "is required")
	}
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	var result *Reconciliation
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		if _, err := cs.GetUser(ctx, userID); err != nil {
			return err
		}
		ledger := generic.NewLedger(cs)
		grants, err := cs.ListGrants(ctx, userID, "")
		if err != nil {
			return err
		}

		rec := &Reconciliation{UserID: userID}
		for _, ct := range CoinTypes {
			total, err := ledger.Balance(ctx, userID, ct)
			if err != nil {
				return err
			}
			grantTotal := decimal.Zero
			for _, g := range grants {
				if g.CoinType == ct {
					grantTotal = grantTotal.Add(g.Amount)
				}
			}
			rec.Coins = append(rec.Coins, CoinReconciliation{CoinType: ct, LedgerTotal: total, GrantTotal: grantTotal})
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, generic.Transient("reconcile", err)
	}
	return result, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

type CoinSummary struct {
	CoinType  CoinType
	Received  decimal.Decimal
	Used      decimal.Decimal
	Refunded  decimal.Decimal
	Available decimal.Decimal
	Expired   decimal.Decimal
}

type Summary struct {
	UserID  generic.EntityID
	Balance Balance
	Coins   []CoinSummary
}

// Summary returns lifetime totals per coin type next to the current balance.
func (r *BalanceReader) Summary(ctx context.Context, userID generic.EntityID) (*Summary, error) {
	if userID == "" {
		return nil, generic.Invalid("user_id", "is required")
	}
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	var result *Summary
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		view, err := loadBalance(ctx, cs, userID, r.opts.Clock.Now())
		if err != nil {
			return err
		}
		txs, err := cs.Query(ctx, generic.TransactionFilter{EntityID: userID})
		if err != nil {
			return err
		}

		bal := view.balance("")
		sum := &Summary{UserID: userID, Balance: bal}
		for _, ct := range CoinTypes {
			line := CoinSummary{
				CoinType:  ct,
				Received:  decimal.Zero,
				Used:      decimal.Zero,
				Refunded:  decimal.Zero,
				Available: bal.Of(ct),
				Expired:   view.expired(ct, ""),
			}
			for _, tx := range txs {
				if tx.ResourceType == nil || tx.ResourceType.ResourceID() != string(ct) {
					continue
				}
				switch tx.Type {
				case generic.TxReceive:
					line.Received = line.Received.Add(tx.Amount)
				case generic.TxUse:
					line.Used = line.Used.Add(tx.Amount)
				case generic.TxRefund:
					line.Refunded = line.Refunded.Add(tx.Amount)
				}
			}
			sum.Coins = append(sum.Coins, line)
		}
		result = sum
		return nil
	})
	if err != nil {
		return nil, generic.Transient("summary", err)
	}
	return result, nil
}

// History returns a page of a user's transactions.
func (r *BalanceReader) History(ctx context.Context, filter generic.TransactionFilter) ([]generic.Transaction, error) {
	if filter.EntityID == "" {
		return nil, generic.Invalid("user_id", "is required")
	}
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	var txs []generic.Transaction
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		if _, err := cs.GetUser(ctx, filter.EntityID); err != nil {
			return err
		}
		txs, err = cs.Query(ctx, filter)
		return err
	})
	if err != nil {
		return nil, generic.Transient("history", err)
	}
	return txs, nil
}

// GetUser returns a user record.
func (r *BalanceReader) GetUser(ctx context.Context, userID generic.EntityID) (*User, error) {
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	var user *User
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		user, err = cs.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, generic.Transient("get user", err)
	}
	return user, nil
}
