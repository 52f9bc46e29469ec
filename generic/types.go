/*
Package generic provides the domain-agnostic ledger primitives of the coin engine.

PURPOSE:
  This package contains the types and algorithms every coin-bearing feature
  shares: the immutable transaction record, the append-only ledger, the
  transactional store port, settlement periods, clocks and the error
  taxonomy. Nothing in here knows what a course or a merchant is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording a balance change
  - TransactionType: receive (+), use (-), refund (+)
  - ResourceType: Which balance a transaction moves (government / self coins)
  - TransactionFilter: Read-side selection used by stores and reports

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing users and transactions
  4. Auditability: Every transaction names what it relates to and who created it

USAGE:
  tx := generic.Transaction{
      EntityID:     "user-123",
      ResourceType: coin.Self,
      Type:         generic.TxUse,
      Amount:       decimal.NewFromInt(80),
      RelatedType:  "course",
      RelatedID:    "course-1",
  }
  tx.Signed() // -80

SEE ALSO:
  - ledger.go: Transaction persistence and balance derivation
  - store.go: Persistence ports
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// ResourceType identifies which balance a transaction moves.
// Domain packages define concrete types (coin.Government, coin.Self) and
// register them so stores can rebuild them from strings.
type ResourceType interface {
	// ResourceID returns the unique identifier for this resource type.
	ResourceID() string

	// ResourceDomain returns which domain this resource belongs to.
	ResourceDomain() string
}

// =============================================================================
// TRANSACTION - Atomic change to a coin balance
// =============================================================================

type TransactionType string

const (
	TxReceive TransactionType = "receive" // Coins granted to the user
	TxUse     TransactionType = "use"     // Coins spent on a purchase
	TxRefund  TransactionType = "refund"  // A previous use given back
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxReceive, TxUse, TxRefund:
		return true
	}
	return false
}

// Sign is +1 for credits and -1 for debits.
func (t TransactionType) Sign() int64 {
	if t == TxUse {
		return -1
	}
	return 1
}

// Transaction is one ledger row. Amount is always positive; the direction
// comes from Type.
type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	ResourceType   ResourceType
	Type           TransactionType
	Amount         decimal.Decimal
	RelatedType    string
	RelatedID      string
	EffectiveAt    time.Time
	Notes          string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// Signed returns the amount with the direction of the transaction type applied.
func (tx Transaction) Signed() decimal.Decimal {
	return tx.Amount.Mul(decimal.NewFromInt(tx.Type.Sign()))
}

// Meta returns a metadata value or "".
func (tx Transaction) Meta(key string) string {
	if tx.Metadata == nil {
		return ""
	}
	return tx.Metadata[key]
}

// =============================================================================
// FILTER - Read-side selection
// =============================================================================

// TransactionFilter selects ledger rows. Zero fields do not filter.
// From is inclusive, To is exclusive.
type TransactionFilter struct {
	EntityID       EntityID
	ResourceType   string
	Types          []TransactionType
	RelatedType    string
	RelatedIDs     []string
	IdempotencyKey string
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// Matches applies the filter to a single transaction (pagination excluded).
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.EntityID != "" && tx.EntityID != f.EntityID {
		return false
	}
	if f.ResourceType != "" && (tx.ResourceType == nil || tx.ResourceType.ResourceID() != f.ResourceType) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, tx.Type) {
		return false
	}
	if f.RelatedType != "" && tx.RelatedType != f.RelatedType {
		return false
	}
	if len(f.RelatedIDs) > 0 && !containsString(f.RelatedIDs, tx.RelatedID) {
		return false
	}
	if f.IdempotencyKey != "" && tx.IdempotencyKey != f.IdempotencyKey {
		return false
	}
	if !f.From.IsZero() && tx.EffectiveAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.EffectiveAt.Before(f.To) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered, ordered slice.
func (f TransactionFilter) Page(txs []Transaction) []Transaction {
	if f.Offset > 0 {
		if f.Offset >= len(txs) {
			return []Transaction{}
		}
		txs = txs[f.Offset:]
	}
	if f.Limit > 0 && len(txs) > f.Limit {
		txs = txs[:f.Limit]
	}
	return txs
}

func containsType(types []TransactionType, t TransactionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses s or returns zero. Intended for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinDecimal returns the smallest of the given values.
func MinDecimal(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	m := first
	for _, d := range rest {
		if d.LessThan(m) {
			m = d
		}
	}
	return m
}
