/*
Package coin implements the Sport Coin balances.

PURPOSE:
  Every user holds two currencies:
    - government coins: granted by the public program, expire, and may
      only be spent up to a per-category cap
    - self coins: bought or earned (registration bonus), never expire

  A user's coins live in grants (the sport_coins table). Each grant is one
  bucket of coins with an optional expiry and usage category. The ledger
  (coin_transactions) records every movement of those buckets.

COMPONENTS:
  - BalanceReader:   current balances per coin type (balance.go)
  - SpendAuthorizer: cap / balance / overspend checks (authorize.go)
  - LedgerWriter:    commit spends, grant coins, refunds (writer.go)
  - Reconcile, Summary, Report: read-side views (reconcile.go, report.go)

SEE ALSO:
  - generic/ledger.go: Append-only transaction log
  - commerce/: Course and product purchases built on top of this package
*/
package coin

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// COIN TYPES
// =============================================================================

// CoinType implements generic.ResourceType.
type CoinType string

const (
	Government CoinType = "government"
	Self       CoinType = "self"
)

const Domain = "sportcoin"

func (c CoinType) ResourceID() string     { return string(c) }
func (c CoinType) ResourceDomain() string { return Domain }

func (c CoinType) Valid() bool { return c == Government || c == Self }

// CoinTypes lists both currencies in display order.
var CoinTypes = []CoinType{Government, Self}

func init() {
	for _, c := range CoinTypes {
		generic.RegisterResource(c)
	}
}

func ParseCoinType(s string) (CoinType, error) {
	c := CoinType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", generic.Invalid("coin_type", "must be government or self, got %q", s)
	}
	return c, nil
}

// =============================================================================
// SPEND CATEGORIES
// =============================================================================

type SpendCategory string

const (
	CategoryExercise  SpendCategory = "exercise"
	CategoryWatchGame SpendCategory = "watch_game"
	CategoryEquipment SpendCategory = "equipment"
	CategoryCourse    SpendCategory = "course"
	CategoryEvent     SpendCategory = "event"
	CategoryGeneral   SpendCategory = "general"
)

var Categories = []SpendCategory{
	CategoryExercise, CategoryWatchGame, CategoryEquipment,
	CategoryCourse, CategoryEvent, CategoryGeneral,
}

func ParseCategory(s string) (SpendCategory, error) {
	c := SpendCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", generic.Invalid("category", "unknown spend category %q", s)
}

// =============================================================================
// RELATED TYPES - What a ledger row is about
// =============================================================================

const (
	RelatedCourse       = "course"
	RelatedProduct      = "product"
	RelatedEvent        = "event"
	RelatedGrant        = "grant"
	RelatedRegistration = "registration"
)

// Metadata keys written on use and refund rows.
const (
	MetaCommitID    = "commit_id"
	MetaOrderRef    = "order_ref"
	MetaAllocations = "allocations"
	MetaCategory    = "category"
	MetaTarget      = "target_amount"
)

// =============================================================================
// USERS
// =============================================================================

type Role string

const (
	RoleMember  Role = "member"
	RoleTeacher Role = "teacher"
	RoleStore   Role = "store"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(s)); r {
	case RoleMember, RoleTeacher, RoleStore, RoleAdmin:
		return r, nil
	case "":
		return RoleMember, nil
	}
	return "", generic.Invalid("role", "unknown role %q", s)
}

// User is an account holder. BalanceVersion increases on every balance change
// and is what authorizations are checked against at commit time.
type User struct {
	ID             generic.EntityID
	Name           string
	Email          string
	Role           Role
	BalanceVersion int64
	CreatedAt      time.Time
}

// =============================================================================
// GRANTS - The sport_coins projection
// =============================================================================

// Grant is one bucket of coins. Amount is what remains; OriginalAmount is
// what was granted.
type Grant struct {
	ID             string
	UserID         generic.EntityID
	CoinType       CoinType
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	ValidUntil     *time.Time
	UsageCategory  SpendCategory
	SourceTxID     generic.TransactionID
	CreatedAt      time.Time
}

// Expired reports whether the grant can no longer be spent at now.
// A grant is valid strictly before ValidUntil.
func (g Grant) Expired(now time.Time) bool {
	return g.ValidUntil != nil && !g.ValidUntil.After(now)
}

// EligibleFor reports whether the grant may pay for category.
func (g Grant) EligibleFor(category SpendCategory) bool {
	return g.UsageCategory == "" || category == "" || g.UsageCategory == category
}

// Balance is the spendable state of a user at a point in time.
type Balance struct {
	UserID               generic.EntityID
	Government           decimal.Decimal
	Self                 decimal.Decimal
	GovernmentValidUntil *time.Time
	Version              int64
	AsOf                 time.Time
}

// Of returns the balance of one coin type.
func (b Balance) Of(c CoinType) decimal.Decimal {
	if c == Government {
		return b.Government
	}
	return b.Self
}
