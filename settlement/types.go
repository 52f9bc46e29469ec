/*
Package settlement computes and tracks revenue sharing payouts.

PURPOSE:
  Teachers earn from coins spent on their courses; merchants from coins
  spent on their products plus their paid sports sales. For every entity
  and period a revenue_sharing row records the revenue, the sharing
  percentage and the payout, and walks through a small state machine.

STATE MACHINE:

    pending ──► processing ──► settled   (settlement_date set, final)
                    │
                    ▼
                  failed ──► pending     (retry, amounts recomputed)

  Any other move is a TransitionError.

AMOUNTS:
  sharing_amount = total_revenue × sharing_percentage / 100, rounded to
  two decimals. Amounts are recomputed while the row is pending (a
  re-started settlement) and on retry; never after processing begins.

SEE ALSO:
  - revenue.go: Revenue aggregation
  - engine.go: Start / Advance / Preview
  - policy.go: Sharing percentages
*/
package settlement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

type EntityType string

const (
	EntityTeacher  EntityType = "teacher"
	EntityMerchant EntityType = "merchant"
)

func ParseEntityType(s string) (EntityType, error) {
	switch et := EntityType(strings.ToLower(s)); et {
	case EntityTeacher, EntityMerchant:
		return et, nil
	}
	return "", generic.Invalid("entity_type", "must be teacher or merchant, got %q", s)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusFailed     Status = "failed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusProcessing, StatusSettled, StatusFailed:
		return st, nil
	}
	return "", generic.Invalid("status", "unknown settlement status %q", s)
}

// transitions lists the allowed moves out of each status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSettled, StatusFailed},
	StatusFailed:     {StatusPending},
	StatusSettled:    nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RevenueSharing is one payout for one entity and period.
type RevenueSharing struct {
	ID                string
	EntityType        EntityType
	EntityID          string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TotalRevenue      decimal.Decimal
	SharingPercentage decimal.Decimal
	SharingAmount     decimal.Decimal
	Status            Status
	SettlementDate    *time.Time
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r RevenueSharing) Period() generic.Period {
	return generic.Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

// Filter selects revenue sharing rows. Zero fields do not filter.
type Filter struct {
	EntityType EntityType
	EntityID   string
	Status     Status
	Period     generic.Period
}

func (f Filter) Matches(r RevenueSharing) bool {
	if f.EntityType != "" && r.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Period.IsZero() && (!r.PeriodStart.Equal(f.Period.Start) || !r.PeriodEnd.Equal(f.Period.End)) {
		return false
	}
	return true
}
