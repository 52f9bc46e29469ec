package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
	"golang.org/x/sync/errgroup"
)

// Engine starts settlements and moves them through their lifecycle.
type Engine struct {
	store   generic.TxStore
	policy  *SharingPolicy
	clock   generic.Clock
	timeout time.Duration
}

func NewEngine(store generic.TxStore, policy *SharingPolicy, clock generic.Clock, timeout time.Duration) *Engine {
	if policy == nil {
		policy = DefaultSharingPolicy()
	}
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Engine{store: store, policy: policy, clock: clock, timeout: timeout}
}

func (e *Engine) Policy() *SharingPolicy { return e.policy }

func (e *Engine) inTx(ctx context.Context, op string, fn func(ss Store) error) error {
	ctx, cancel := generic.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := e.store.WithTx(ctx, func(st generic.Store) error {
		ss, err := From(st)
		if err != nil {
			return err
		}
		return fn(ss)
	})
	return generic.Transient(op, err)
}

// Computation is a settlement amount that has not been persisted.
type Computation struct {
	Revenue           Revenue
	SharingPercentage decimal.Decimal
	SharingAmount     decimal.Decimal
}

func (e *Engine) compute(ctx context.Context, ss Store, entityType EntityType, entityID string, period generic.Period) (*Computation, error) {
	merchant, err := entityExists(ctx, ss, entityType, entityID)
	if err != nil {
		return nil, err
	}
	rev, err := computeRevenue(ctx, ss, entityType, entityID, period)
	if err != nil {
		return nil, err
	}
	pct := e.policy.PercentageFor(entityType, merchant)
	return &Computation{
		Revenue:           *rev,
		SharingPercentage: pct,
		SharingAmount:     SharingAmount(rev.Total(), pct),
	}, nil
}

func (c *Computation) applyTo(r *RevenueSharing) {
	r.TotalRevenue = c.Revenue.Total()
	r.SharingPercentage = c.SharingPercentage
	r.SharingAmount = c.SharingAmount
}

// =============================================================================
// START - Create (or recompute) a pending settlement
// =============================================================================

type StartRequest struct {
	EntityType EntityType
	EntityID   string
	Period     generic.Period
}

func (r StartRequest) validate() error {
	if _, err := ParseEntityType(string(r.EntityType)); err != nil {
		return err
	}
	if r.EntityID == "" {
		return generic.Invalid("entity_id", "is required")
	}
	if r.Period.IsZero() {
		return generic.Invalid("period", "is required")
	}
	if r.Period.End.Before(r.Period.Start) {
		return generic.ErrInvalidPeriod
	}
	return nil
}

// Start creates a pending settlement for the entity and period. Starting
// again while it is still pending recomputes the amounts; once processing
// has begun the existing row is left untouched and a ConflictError is
// returned.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*RevenueSharing, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var out *RevenueSharing
	err := e.inTx(ctx, "start settlement", func(ss Store) error {
		comp, err := e.compute(ctx, ss, req.EntityType, req.EntityID, req.Period)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		existing, err := ss.FindSharing(ctx, req.EntityType, req.EntityID, req.Period)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status != StatusPending {
				return &generic.ConflictError{
					Kind:   "settlement",
					ID:     existing.ID,
					Reason: "already " + string(existing.Status),
				}
			}
			comp.applyTo(existing)
			existing.UpdatedAt = now
			if err := ss.UpdateSharing(ctx, *existing); err != nil {
				return err
			}
			out = existing
			return nil
		}

		r := RevenueSharing{
			ID:          uuid.NewString(),
			EntityType:  req.EntityType,
			EntityID:    req.EntityID,
			PeriodStart: req.Period.Start,
			PeriodEnd:   req.Period.End,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		comp.applyTo(&r)
		if err := ss.CreateSharing(ctx, r); err != nil {
			return err
		}
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ADVANCE - Lifecycle transitions
// =============================================================================

// Advance moves a settlement to status. reason is recorded on failure.
//
//	processing -> settled  sets SettlementDate
//	processing -> failed   records reason
//	failed     -> pending  recomputes amounts and clears the reason
func (e *Engine) Advance(ctx context.Context, id string, to Status, reason string) (*RevenueSharing, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	var out *RevenueSharing
	err := e.inTx(ctx, "advance settlement", func(ss Store) error {
		r, err := ss.GetSharing(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, to) {
			return &generic.TransitionError{Kind: "settlement", From: string(r.Status), To: string(to)}
		}
		now := e.clock.Now()
		switch to {
		case StatusSettled:
			r.SettlementDate = &now
		case StatusFailed:
			r.FailureReason = reason
		case StatusPending:
			comp, err := e.compute(ctx, ss, r.EntityType, r.EntityID, r.Period())
			if err != nil {
				return err
			}
			comp.applyTo(r)
			r.FailureReason = ""
		}
		r.Status = to
		r.UpdatedAt = now
		if err := ss.UpdateSharing(ctx, *r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Get(ctx context.Context, id string) (*RevenueSharing, error) {
	var out *RevenueSharing
	err := e.inTx(ctx, "get settlement", func(ss Store) error {
		var err error
		out, err = ss.GetSharing(ctx, id)
		return err
	})
	return out, err
}

func (e *Engine) List(ctx context.Context, filter Filter) ([]RevenueSharing, error) {
	var out []RevenueSharing
	err := e.inTx(ctx, "list settlements", func(ss Store) error {
		var err error
		out, err = ss.ListSharing(ctx, filter)
		return err
	})
	return out, err
}

// Preview computes what every entity of entityType ("" = all) would be paid
// for period without writing anything.
func (e *Engine) Preview(ctx context.Context, entityType EntityType, period generic.Period) ([]Computation, error) {
	if entityType != "" {
		if _, err := ParseEntityType(string(entityType)); err != nil {
			return nil, err
		}
	}
	var out []Computation
	err := e.inTx(ctx, "preview settlements", func(ss Store) error {
		entities, err := listEntities(ctx, ss, entityType)
		if err != nil {
			return err
		}
		for _, ent := range entities {
			comp, err := e.compute(ctx, ss, ent.Type, ent.ID, period)
			if err != nil {
				return err
			}
			out = append(out, *comp)
		}
		return nil
	})
	return out, err
}

// =============================================================================
// BATCH - Start every entity with revenue in a period
// =============================================================================

// BatchResult summarizes StartAll.
type BatchResult struct {
	Period  generic.Period
	Started []RevenueSharing
	Skipped []Entity         // already processing, settled or failed
	Failed  map[Entity]error // other errors, per entity
}

// StartAll starts settlements for every entity that earned revenue in
// period, at most concurrency at a time. One entity failing does not stop
// the others.
func (e *Engine) StartAll(ctx context.Context, period generic.Period, concurrency int) (*BatchResult, error) {
	previews, err := e.Preview(ctx, "", period)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	result := &BatchResult{Period: period, Failed: make(map[Entity]error)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range previews {
		if !p.Revenue.Total().IsPositive() {
			continue
		}
		ent := Entity{Type: p.Revenue.EntityType, ID: p.Revenue.EntityID}
		g.Go(func() error {
			r, err := e.Start(gctx, StartRequest{EntityType: ent.Type, EntityID: ent.ID, Period: period})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Started = append(result.Started, *r)
			case errors.Is(err, generic.ErrConflict):
				result.Skipped = append(result.Skipped, ent)
			default:
				result.Failed[ent] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(result.Started, func(i, j int) bool {
		a, b := result.Started[i], result.Started[j]
		if a.EntityType != b.EntityType {
			return a.EntityType > b.EntityType
		}
		return a.EntityID < b.EntityID
	})
	return result, nil
}
