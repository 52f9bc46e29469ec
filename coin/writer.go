/*
writer.go - Transaction ledger writer

PURPOSE:
  The only code path that changes coin balances. Each operation is one unit
  of work: grant rows (sport_coins), ledger rows (coin_transactions), the
  user's balance_version and any related side effect (course enrollment,
  product stock) are written together or not at all.

OPERATIONS:
  CommitSpend:  Turn an AuthorizationToken into use transactions
  GrantCoins:   Credit coins (grant.go)
  Refund:       Reverse a committed spend (refund.go)
  RegisterUser: Create a user with the registration bonus (grant.go)

CONCURRENCY:
  Writers for one user are serialized twice:
  1. An in-process per-user mutex
  2. balance_version compare-and-bump inside the unit of work, which also
     holds across processes sharing a database
  A token issued against version N commits only while the version is N;
  otherwise the caller gets ConflictError and must re-authorize.

IDEMPOTENCY:
  A spend is identified by (user, related_type, related_id, order_ref).
  Every commit stores a spend record under that key, also when no coins
  move. Committing again while a matching spend is active returns the
  stored commit unchanged and flags the result as Replayed.

CATALOG ITEMS:
  Related types with a registered SideEffect (courses, products) are
  catalog items. The token must carry the item's price, category and
  government cap, resolved inside the same unit of work.

SEE ALSO:
  - authorize.go: Rules re-checked here
  - distributor.go: Grant allocation
  - commerce/effects.go: Side effects registered by the commerce package
*/
package coin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// SideEffect runs inside the unit of work of a commit or refund for one
// related type. Returning an error rolls the whole operation back.
type SideEffect interface {
	// Terms resolves what a spend on relatedID must be authorized for.
	Terms(ctx context.Context, s generic.Store, relatedID string) (*SpendTerms, error)
	Apply(ctx context.Context, s generic.Store, c Commit) error
	Revert(ctx context.Context, s generic.Store, c Commit) error
}

// SpendTerms are the catalog price, category and government cap of an item.
type SpendTerms struct {
	Price    decimal.Decimal
	Category SpendCategory
	ItemCap  *decimal.Decimal
}

// Request builds the spend request for a purchase of the item.
func (t SpendTerms) Request(userID generic.EntityID, government, self decimal.Decimal) SpendRequest {
	return SpendRequest{
		UserID:       userID,
		TargetAmount: t.Price,
		Government:   government,
		Self:         self,
		Category:     t.Category,
		ItemCap:      t.ItemCap,
	}
}

// Check rejects a token that was authorized for other terms.
func (t SpendTerms) Check(token AuthorizationToken) error {
	switch {
	case !token.TargetAmount.Equal(t.Price):
		return generic.Invalid("target_amount", "must equal the item price %s, got %s", t.Price, token.TargetAmount)
	case token.Category != t.Category:
		return generic.Invalid("category", "must be %s for this item, got %s", t.Category, token.Category)
	case !sameCap(token.ItemCap, t.ItemCap):
		return generic.Invalid("item_cap", "must match the item's government coin limit")
	}
	return nil
}

func sameCap(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// SpendKey identifies a purchase for replay.
type SpendKey struct {
	UserID      generic.EntityID
	RelatedType string
	RelatedID   string
	OrderRef    string
}

// SpendRecord is the stored header of a commit. RefundedAt is set once the
// commit has been refunded.
type SpendRecord struct {
	ID           string
	Key          SpendKey
	Category     SpendCategory
	TargetAmount decimal.Decimal
	Government   decimal.Decimal
	Self         decimal.Decimal
	CreatedAt    time.Time
	RefundedAt   *time.Time
}

// Commit is a spend as recorded in the ledger.
type Commit struct {
	ID           string
	UserID       generic.EntityID
	RelatedType  string
	RelatedID    string
	OrderRef     string
	Category     SpendCategory
	TargetAmount decimal.Decimal
	Government   decimal.Decimal
	Self         decimal.Decimal
	Transactions []generic.Transaction
	At           time.Time
}

func (c Commit) Key() SpendKey {
	return SpendKey{UserID: c.UserID, RelatedType: c.RelatedType, RelatedID: c.RelatedID, OrderRef: c.OrderRef}
}

func (c Commit) record() SpendRecord {
	return SpendRecord{
		ID:           c.ID,
		Key:          c.Key(),
		Category:     c.Category,
		TargetAmount: c.TargetAmount,
		Government:   c.Government,
		Self:         c.Self,
		CreatedAt:    c.At,
	}
}

type CommitRequest struct {
	Token       AuthorizationToken
	RelatedType string
	RelatedID   string
	OrderRef    string
	Notes       string
	CreatedBy   string
}

func (r CommitRequest) key() SpendKey {
	return SpendKey{UserID: r.Token.UserID, RelatedType: r.RelatedType, RelatedID: r.RelatedID, OrderRef: r.OrderRef}
}

func (r CommitRequest) validate() error {
	switch {
	case r.RelatedType == "":
		return generic.Invalid("related_type", "is required")
	case r.RelatedID == "":
		return generic.Invalid("related_id", "is required")
	case r.Token.ID == "":
		return generic.Invalid("authorization", "is required")
	}
	return r.Token.Request().Validate()
}

type CommitResult struct {
	Commit   Commit
	Replayed bool
}

// =============================================================================
// LEDGER WRITER
// =============================================================================

type LedgerWriter struct {
	store       generic.TxStore
	opts        Options
	locks       *userLocks
	distributor Distributor

	mu      sync.RWMutex
	effects map[string]SideEffect
}

func NewLedgerWriter(store generic.TxStore, opts Options) *LedgerWriter {
	return &LedgerWriter{
		store:   store,
		opts:    opts.withDefaults(),
		locks:   newUserLocks(),
		effects: make(map[string]SideEffect),
	}
}

// RegisterSideEffect attaches e to commits and refunds of relatedType.
func (w *LedgerWriter) RegisterSideEffect(relatedType string, e SideEffect) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.effects[relatedType] = e
}

func (w *LedgerWriter) effect(relatedType string) SideEffect {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.effects[relatedType]
}

// CommitSpend records an authorized spend.
func (w *LedgerWriter) CommitSpend(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	token := req.Token
	now := w.opts.Clock.Now()
	if !token.ExpiresAt.IsZero() && now.After(token.ExpiresAt) {
		return nil, generic.Invalid("authorization", "expired at %s", token.ExpiresAt.Format(time.RFC3339))
	}

	ctx, cancel := generic.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()

	unlock, err := w.locks.Lock(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *CommitResult
	err = w.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}

		records, err := loadCommits(ctx, cs, req.key())
		if err != nil {
			return err
		}
		if active := activeCommit(records); active != nil {
			result = &CommitResult{Commit: active.Commit, Replayed: true}
			return nil
		}

		effect := w.effect(req.RelatedType)
		if effect != nil {
			terms, err := effect.Terms(ctx, s, req.RelatedID)
			if err != nil {
				return err
			}
			if err := terms.Check(token); err != nil {
				return err
			}
		}

		view, err := loadBalance(ctx, cs, token.UserID, now)
		if err != nil {
			return err
		}

		spend := token.Request()
		if spend.Total().IsPositive() {
			if view.user.BalanceVersion != token.BalanceVersion {
				return balanceConflict(token.UserID)
			}
			ok, err := cs.CompareAndBumpVersion(ctx, token.UserID, token.BalanceVersion)
			if err != nil {
				return err
			}
			if !ok {
				return balanceConflict(token.UserID)
			}
			// Re-read under the version bump; another process may have
			// committed between the first read and the bump.
			if view.grants, err = cs.ListGrants(ctx, token.UserID, ""); err != nil {
				return err
			}
		}

		if err := checkSpend(view, w.opts.Caps, spend); err != nil {
			return err
		}

		commit := Commit{
			ID:           uuid.NewString(),
			UserID:       token.UserID,
			RelatedType:  req.RelatedType,
			RelatedID:    req.RelatedID,
			OrderRef:     req.OrderRef,
			Category:     token.Category,
			TargetAmount: token.TargetAmount,
			Government:   token.Government,
			Self:         token.Self,
			At:           now,
		}

		for _, ct := range CoinTypes {
			amount := spend.Government
			if ct == Self {
				amount = spend.Self
			}
			if !amount.IsPositive() {
				continue
			}
			tx, err := w.spendFrom(ctx, cs, view, ct, amount, commit, req, now)
			if err != nil {
				return err
			}
			commit.Transactions = append(commit.Transactions, tx)
		}

		if len(commit.Transactions) > 0 {
			if err := generic.NewLedger(cs).AppendBatch(ctx, commit.Transactions); err != nil {
				return err
			}
		}
		if err := cs.InsertSpend(ctx, commit.record()); err != nil {
			return err
		}

		if effect != nil {
			if err := effect.Apply(ctx, s, commit); err != nil {
				return err
			}
		}

		result = &CommitResult{Commit: commit}
		return nil
	})
	if err != nil {
		return nil, generic.Transient("commit spend", err)
	}
	return result, nil
}

// spendFrom drains amount of coinType from the user's grants and returns
// the use transaction describing it.
func (w *LedgerWriter) spendFrom(
	ctx context.Context,
	cs Store,
	view *balanceView,
	coinType CoinType,
	amount decimal.Decimal,
	commit Commit,
	req CommitRequest,
	now time.Time,
) (generic.Transaction, error) {
	grants := view.grantsOf(coinType)
	dist := w.distributor.Distribute(grants, amount, commit.Category, now)
	if !dist.Satisfied() {
		return generic.Transaction{}, &generic.InsufficientBalanceError{
			EntityID:  commit.UserID,
			Resource:  string(coinType),
			Available: amount.Sub(dist.Shortfall),
			Requested: amount,
		}
	}

	byID := make(map[string]Grant, len(grants))
	for _, g := range grants {
		byID[g.ID] = g
	}
	for _, alloc := range dist.Allocations {
		g := byID[alloc.GrantID]
		if err := cs.UpdateGrantAmount(ctx, g.ID, g.Amount.Sub(alloc.Amount)); err != nil {
			return generic.Transaction{}, err
		}
	}

	return generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       commit.UserID,
		ResourceType:   coinType,
		Type:           generic.TxUse,
		Amount:         amount,
		RelatedType:    commit.RelatedType,
		RelatedID:      commit.RelatedID,
		EffectiveAt:    now,
		Notes:          req.Notes,
		IdempotencyKey: "use:" + commit.ID + ":" + string(coinType),
		Metadata: map[string]string{
			MetaCommitID:    commit.ID,
			MetaOrderRef:    commit.OrderRef,
			MetaAllocations: EncodeAllocations(dist.Allocations),
			MetaCategory:    string(commit.Category),
			MetaTarget:      commit.TargetAmount.String(),
		},
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
	}, nil
}

func balanceConflict(userID generic.EntityID) error {
	return &generic.ConflictError{
		Kind:   "balance",
		ID:     string(userID),
		Reason: "balance changed since authorization, authorize again",
	}
}

// =============================================================================
// COMMIT HISTORY - Spend records joined with their ledger rows
// =============================================================================

type commitRecord struct {
	Commit   Commit
	Refunds  []generic.Transaction
	Refunded bool
}

// FindCommit returns the active commit of key, or nil when there is none.
// Callers use it to answer a retried purchase before authorizing again.
func (w *LedgerWriter) FindCommit(ctx context.Context, key SpendKey) (*Commit, error) {
	ctx, cancel := generic.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()

	var found *Commit
	err := w.store.WithTx(ctx, func(s generic.Store) error {
		cs, err := From(s)
		if err != nil {
			return err
		}
		records, err := loadCommits(ctx, cs, key)
		if err != nil {
			return err
		}
		if active := activeCommit(records); active != nil {
			c := active.Commit
			found = &c
		}
		return nil
	})
	if err != nil {
		return nil, generic.Transient("find commit", err)
	}
	return found, nil
}

// loadCommits returns the spends of key in the order they were made, each
// with its ledger rows.
func loadCommits(ctx context.Context, cs Store, key SpendKey) ([]commitRecord, error) {
	spends, err := cs.ListSpends(ctx, key)
	if err != nil || len(spends) == 0 {
		return nil, err
	}
	rows, err := cs.Query(ctx, generic.TransactionFilter{
		EntityID:    key.UserID,
		RelatedType: key.RelatedType,
		RelatedIDs:  []string{key.RelatedID},
		Types:       []generic.TransactionType{generic.TxUse, generic.TxRefund},
	})
	if err != nil {
		return nil, err
	}

	uses := make(map[string][]generic.Transaction)
	refunds := make(map[string][]generic.Transaction)
	for _, tx := range rows {
		id := tx.Meta(MetaCommitID)
		if tx.Type == generic.TxRefund {
			refunds[id] = append(refunds[id], tx)
		} else {
			uses[id] = append(uses[id], tx)
		}
	}

	records := make([]commitRecord, 0, len(spends))
	for _, sp := range spends {
		records = append(records, commitRecord{
			Commit:   commitFromRecord(sp, uses[sp.ID]),
			Refunds:  refunds[sp.ID],
			Refunded: sp.RefundedAt != nil,
		})
	}
	return records, nil
}

func activeCommit(records []commitRecord) *commitRecord {
	for i := range records {
		if !records[i].Refunded {
			return &records[i]
		}
	}
	return nil
}

func commitFromRecord(sp SpendRecord, rows []generic.Transaction) Commit {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return Commit{
		ID:           sp.ID,
		UserID:       sp.Key.UserID,
		RelatedType:  sp.Key.RelatedType,
		RelatedID:    sp.Key.RelatedID,
		OrderRef:     sp.Key.OrderRef,
		Category:     sp.Category,
		TargetAmount: sp.TargetAmount,
		Government:   sp.Government,
		Self:         sp.Self,
		Transactions: rows,
		At:           sp.CreatedAt,
	}
}
