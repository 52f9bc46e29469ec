/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable source of truth for all coin movements.
  Every grant, spend and refund is recorded here. Grant rows (the
  sport_coins projection) are maintained in the same unit of work, and
  reconciliation compares the two.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. AUDITABLE: Every balance change names what it relates to
  4. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A mistaken spend is never edited. A refund transaction (opposite sign)
  is appended and both rows stay in the ledger.

EXAMPLE FLOW:
  1. Registration bonus:  receive +100 (self)
  2. Course enrollment:   use     -80  (self)
  3. Course cancelled:    refund  +80  (self)

  Self ledger: [+100, -80, +80] = 100

SEE ALSO:
  - store.go: Low-level persistence interface
  - coin/writer.go: Domain writer that keeps grants and ledger in step
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all balance changes.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Amounts are positive; direction comes from the transaction type.
//
// Corrections are made via refund transactions, not edits.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns matching transactions in creation order.
	Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// Balance sums the signed amounts of an entity's transactions for one resource.
	Balance(ctx context.Context, entityID EntityID, resource ResourceType) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	return l.AppendBatch(ctx, []Transaction{tx})
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if err := validateTransaction(tx); err != nil {
			return err
		}
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return l.Store.Query(ctx, filter)
}

func (l *DefaultLedger) Balance(ctx context.Context, entityID EntityID, resource ResourceType) (decimal.Decimal, error) {
	txs, err := l.Store.Query(ctx, TransactionFilter{
		EntityID:     entityID,
		ResourceType: resource.ResourceID(),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return SignedTotal(txs), nil
}

// SignedTotal sums the signed amounts of txs.
func SignedTotal(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Signed())
	}
	return total
}

func validateTransaction(tx Transaction) error {
	switch {
	case tx.ID == "":
		return Invalid("id", "is required")
	case tx.EntityID == "":
		return Invalid("user_id", "is required")
	case tx.ResourceType == nil:
		return Invalid("coin_type", "is required")
	case !tx.Type.Valid():
		return Invalid("transaction_type", "unknown type %q", tx.Type)
	case !tx.Amount.IsPositive():
		return Invalid("amount", "must be positive, got %s", tx.Amount)
	}
	return nil
}
