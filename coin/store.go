package coin

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// Store extends the ledger store with users and grants.
// Implementations return *generic.NotFoundError for missing records and
// generic.ErrDuplicate for existing ones.
type Store interface {
	generic.Store

	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id generic.EntityID) (*User, error)
	ListUsers(ctx context.Context, role Role) ([]User, error)

	// CompareAndBumpVersion increments balance_version if it still equals
	// expected. It reports false when another writer got there first.
	CompareAndBumpVersion(ctx context.Context, id generic.EntityID, expected int64) (bool, error)

	InsertGrant(ctx context.Context, g Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	UpdateGrantAmount(ctx context.Context, id string, amount decimal.Decimal) error

	// ListGrants returns a user's grants of one coin type ("" = all),
	// ordered by creation time.
	ListGrants(ctx context.Context, userID generic.EntityID, coinType CoinType) ([]Grant, error)

	InsertSpend(ctx context.Context, sp SpendRecord) error
	// ListSpends returns the spends recorded under key, oldest first.
	ListSpends(ctx context.Context, key SpendKey) ([]SpendRecord, error)
	MarkSpendRefunded(ctx context.Context, id string, at time.Time) error
}

// From recovers the coin port from a store handed out by WithTx.
func From(s generic.Store) (Store, error) {
	cs, ok := s.(Store)
	if !ok {
		return nil, generic.ErrStoreRequired
	}
	return cs, nil
}
