package settlement

import (
	"context"

	"github.com/sportcoin/coin-engine/generic"
)

// Store persists revenue_sharing rows. One row exists per
// (entity type, entity, period); CreateSharing returns generic.ErrDuplicate
// for a second one.
type Store interface {
	generic.Store

	CreateSharing(ctx context.Context, r RevenueSharing) error
	UpdateSharing(ctx context.Context, r RevenueSharing) error
	GetSharing(ctx context.Context, id string) (*RevenueSharing, error)
	// FindSharing returns nil, nil when no row exists.
	FindSharing(ctx context.Context, entityType EntityType, entityID string, period generic.Period) (*RevenueSharing, error)
	// ListSharing returns matching rows, newest period first.
	ListSharing(ctx context.Context, filter Filter) ([]RevenueSharing, error)
}

// From recovers the settlement port from a store handed out by WithTx.
func From(s generic.Store) (Store, error) {
	ss, ok := s.(Store)
	if !ok {
		return nil, generic.ErrStoreRequired
	}
	return ss, nil
}
