/*
Package sqlstore provides a SQL-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence port (generic.Store, coin.Store,
  commerce.Store, settlement.Store) with one dialect-neutral schema on top
  of jmoiron/sqlx. store/sqlite and store/postgres only open the database
  and describe their Dialect.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on coin_transactions
  - No DELETE statements on coin_transactions (Reset aside)
  - Corrections are refund transactions only

KEY TABLES:
  coin_transactions:  Immutable ledger of every coin movement
  sport_coins:        Grant buckets (projection of the ledger)
  users:              Account holders with balance_version
  courses, products, merchants, course_enrollments, certificates,
  sports_sales, merchant_fees, revenue_sharing

PORTABILITY:
  Amounts are TEXT (shopspring/decimal), timestamps are fixed-width UTC
  TEXT so they sort lexically, dates are YYYY-MM-DD. Queries are written
  with ? placeholders and rebound by sqlx for the driver.

CONCURRENCY:
  Dialect.SerializeWrites wraps WithTx in a process mutex (SQLite has a
  single writer anyway). PostgreSQL relies on row locks: the conditional
  UPDATE of users.balance_version and SELECT ... FOR UPDATE on counters.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
)

// Dialect captures what differs between databases.
type Dialect struct {
	Name string
	// SerializeWrites runs units of work one at a time.
	SerializeWrites bool
	// ForUpdate is appended to reads of rows that are updated afterwards.
	ForUpdate string
	// IsUniqueViolation reports a unique constraint failure.
	IsUniqueViolation func(error) bool
	// IsTransient reports lock timeouts, busy databases and serialization
	// failures.
	IsTransient func(error) bool
}

// Store implements all storage interfaces on a *sqlx.DB.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	mu      sync.Mutex
}

var (
	_ generic.TxStore  = (*Store)(nil)
	_ generic.Resetter = (*Store)(nil)
	_ coin.Store       = (*repo)(nil)
	_ commerce.Store   = (*repo)(nil)
	_ settlement.Store = (*repo)(nil)
)

// New wraps db and migrates the schema.
func New(ctx context.Context, db *sqlx.DB, dialect Dialect) (*Store, error) {
	if dialect.IsUniqueViolation == nil {
		dialect.IsUniqueViolation = func(error) bool { return false }
	}
	if dialect.IsTransient == nil {
		dialect.IsTransient = func(error) bool { return false }
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	if s.dialect.SerializeWrites {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.translate("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{ext: tx, dialect: s.dialect}); err != nil {
		return s.translate("unit of work", err)
	}
	if err := tx.Commit(); err != nil {
		return s.translate("commit", err)
	}
	return nil
}

// translate turns driver failures into the generic taxonomy. Errors the
// domain already classified pass through.
func (s *Store) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *generic.TransientError
	if errors.As(err, &te) {
		return err
	}
	if s.dialect.IsTransient(err) {
		return &generic.TransientError{Op: op, Err: err}
	}
	return generic.Transient(op, err)
}

// Ledger methods outside WithTx run as their own unit of work.

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return s.WithTx(ctx, func(st generic.Store) error { return st.Append(ctx, tx) })
}

func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return s.WithTx(ctx, func(st generic.Store) error { return st.AppendBatch(ctx, txs) })
}

func (s *Store) Query(ctx context.Context, filter generic.TransactionFilter) ([]generic.Transaction, error) {
	return (&repo{ext: s.db, dialect: s.dialect}).Query(ctx, filter)
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return (&repo{ext: s.db, dialect: s.dialect}).Exists(ctx, idempotencyKey)
}

// Reset deletes all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st generic.Store) error {
		r := st.(*repo)
		for _, table := range tables {
			if _, err := r.exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// REPO - The Store handed to WithTx callbacks
// =============================================================================

type repo struct {
	ext     sqlx.ExtContext
	dialect Dialect
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.ext.ExecContext(ctx, r.ext.Rebind(query), args...)
}

func (r *repo) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
}

func (r *repo) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
}

// selectIn expands slice arguments (IN (?)) before rebinding.
func (r *repo) selectIn(ctx context.Context, dest any, query string, args ...any) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return r.selectAll(ctx, dest, query, args...)
}

func (r *repo) forUpdate(query string) string {
	if r.dialect.ForUpdate == "" {
		return query
	}
	return query + " " + r.dialect.ForUpdate
}

// insert maps a unique violation to generic.ErrDuplicate.
func (r *repo) insert(ctx context.Context, kind, id, query string, args ...any) error {
	if _, err := r.exec(ctx, query, args...); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q", generic.ErrDuplicate, kind, id)
		}
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return nil
}

// update returns NotFound when no row matched.
func (r *repo) update(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}

// getOne maps sql.ErrNoRows to NotFound.
func (r *repo) getOne(ctx context.Context, kind, id string, dest any, query string, args ...any) error {
	err := r.get(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NotFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return nil
}
