package coin

import (
	"context"

	"github.com/google/uuid"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// REFUNDS
// =============================================================================

type RefundRequest struct {
	UserID      generic.EntityID
	RelatedType string
	RelatedID   string
	OrderRef    string
	Notes       string
	CreatedBy   string
}

type RefundResult struct {
	Commit   Commit
	Refunds  []generic.Transaction
	Replayed bool
}

// Refund reverses the active spend of (user, related, order ref). Each
// consumed grant is credited back with exactly what the spend took from it,
// so coins return to the bucket (and expiry) they came from. Refunding an
// already refunded spend returns the original refund rows.
func (w *LedgerWriter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	switch {
	case req.UserID == "":
		return nil, generic.Invalid("user_id", "is required")
	case req.RelatedType == "":
		return nil, generic.Invalid("related_type", "is required")
	case req.RelatedID == "":
		return nil, generic.Invalid("related_id", "is required")
	}

	ctx, cancel := generic.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()

	unlock, err := w.locks.Lock(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := w.opts.Clock.Now()
	var result *RefundResult
	err = w.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}

		records, err := loadCommits(ctx, cs, SpendKey{UserID: req.UserID, RelatedType: req.RelatedType, RelatedID: req.RelatedID, OrderRef: req.OrderRef})
		if err != nil {
			return err
		}
		active := activeCommit(records)
		if active == nil {
			if n := len(records); n > 0 {
				last := records[n-1]
				result = &RefundResult{Commit: last.Commit, Refunds: last.Refunds, Replayed: true}
				return nil
			}
			return generic.NotFound("spend", req.RelatedType+"/"+req.RelatedID)
		}
		commit := active.Commit

		user, err := cs.GetUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		ok, err := cs.CompareAndBumpVersion(ctx, user.ID, user.BalanceVersion)
		if err != nil {
			return err
		}
		if !ok {
			return balanceConflict(user.ID)
		}

		if e := w.effect(commit.RelatedType); e != nil {
			if err := e.Revert(ctx, s, commit); err != nil {
				return err
			}
		}

		refunds := make([]generic.Transaction, 0, len(commit.Transactions))
		for _, use := range commit.Transactions {
			allocs, err := DecodeAllocations(use.Meta(MetaAllocations))
			if err != nil {
				return err
			}
			for _, alloc := range allocs {
				g, err := cs.GetGrant(ctx, alloc.GrantID)
				if err != nil {
					return err
				}
				if err := cs.UpdateGrantAmount(ctx, g.ID, g.Amount.Add(alloc.Amount)); err != nil {
					return err
				}
			}

			refunds = append(refunds, generic.Transaction{
				ID:             generic.TransactionID(uuid.NewString()),
				EntityID:       use.EntityID,
				ResourceType:   use.ResourceType,
				Type:           generic.TxRefund,
				Amount:         use.Amount,
				RelatedType:    use.RelatedType,
				RelatedID:      use.RelatedID,
				EffectiveAt:    now,
				Notes:          req.Notes,
				IdempotencyKey: "refund:" + string(use.ID),
				Metadata: map[string]string{
					MetaCommitID:    commit.ID,
					MetaOrderRef:    commit.OrderRef,
					MetaAllocations: use.Meta(MetaAllocations),
					MetaCategory:    use.Meta(MetaCategory),
				},
				CreatedBy: req.CreatedBy,
				CreatedAt: now,
			})
		}
		if len(refunds) > 0 {
			if err := generic.NewLedger(cs).AppendBatch(ctx, refunds); err != nil {
				return err
			}
		}
		if err := cs.MarkSpendRefunded(ctx, commit.ID, now); err != nil {
			return err
		}

		result = &RefundResult{Commit: commit, Refunds: refunds}
		return nil
	})
	if err != nil {
		return nil, generic.Transient("refund", err)
	}
	return result, nil
}
