/*
store.go - Persistence interface for transactions and related data

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store handles ledger persistence with append-only semantics. Domain
  packages extend it with their own ports (coin.Store, commerce.Store,
  settlement.Store); a store implementation satisfies all of them and the
  domain code recovers its port with a type assertion.

KEY INTERFACES:
  Store:   Core transaction persistence (append, query, exists)
  TxStore: Transactional operations (atomic multi-table writes)

APPEND-ONLY CONTRACT:
  - Append(): Single transaction write
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist for transactions

UNIT OF WORK:
  Every service operation runs inside TxStore.WithTx. The Store handed to
  the callback sees its own writes, and all of them are rolled back if the
  callback returns an error. A spend therefore decrements grants, appends
  use transactions and enrolls the user as one change.

IMPLEMENTATIONS:
  - store/memory: In-memory, snapshot + rollback
  - store/sqlstore: SQL (sqlite or postgres dialect)

EXAMPLE:
  err := txStore.WithTx(ctx, func(s generic.Store) error {
      cs, err := coin.From(s)
      if err != nil {
          return err
      }
      ...
  })

SEE ALSO:
  - ledger.go: Higher-level interface using Store
  - coin/store.go, commerce/store.go, settlement/store.go: Domain ports
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Query returns matching transactions ordered by CreatedAt, then ID.
	Query(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can drop all data (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
