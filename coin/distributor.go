/*
distributor.go - Splitting a spend across a user's grants

PURPOSE:
  A user may hold several grants of the same coin type, e.g.
  - government coins from the January program (expires in March)
  - government coins from the April program (expires in June)
  - the registration bonus (self coins, never expires)

  When 120 government coins are spent, the distributor decides which grants
  pay for it:
  - First the grant expiring soonest (use it or lose it)
  - Then the next, and so on
  - Grants without expiry last, oldest first

  Expired grants and grants restricted to another usage category are
  skipped entirely.

ALLOCATION RECORD:
  The chosen split is written on the use transaction as metadata
  ("allocations": "grant-a:100,grant-b:20") so a refund credits exactly the
  grants the spend drained.

SEE ALSO:
  - writer.go: CommitSpend and Refund use this
*/
package coin

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// Allocation is the amount taken from one grant.
type Allocation struct {
	GrantID string
	Amount  decimal.Decimal
}

// Distribution is the outcome of spreading an amount across grants.
type Distribution struct {
	Requested   decimal.Decimal
	Allocations []Allocation
	Shortfall   decimal.Decimal
}

func (d Distribution) Satisfied() bool { return d.Shortfall.IsZero() }

// Distributor determines how to split a spend across grants.
type Distributor struct{}

// Distribute takes amount from the eligible grants in spend order.
func (Distributor) Distribute(grants []Grant, amount decimal.Decimal, category SpendCategory, now time.Time) Distribution {
	remaining := amount
	var allocations []Allocation

	for _, g := range SpendOrder(grants, category, now) {
		if !remaining.IsPositive() {
			break
		}
		take := generic.MinDecimal(remaining, g.Amount)
		allocations = append(allocations, Allocation{GrantID: g.ID, Amount: take})
		remaining = remaining.Sub(take)
	}

	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Distribution{Requested: amount, Allocations: allocations, Shortfall: remaining}
}

// SpendOrder filters grants that can pay for category at now and sorts them
// earliest expiry first, non-expiring last, then by creation time.
func SpendOrder(grants []Grant, category SpendCategory, now time.Time) []Grant {
	eligible := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Amount.IsPositive() && !g.Expired(now) && g.EligibleFor(category) {
			eligible = append(eligible, g)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		switch {
		case a.ValidUntil != nil && b.ValidUntil == nil:
			return true
		case a.ValidUntil == nil && b.ValidUntil != nil:
			return false
		case a.ValidUntil != nil && !a.ValidUntil.Equal(*b.ValidUntil):
			return a.ValidUntil.Before(*b.ValidUntil)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return eligible
}

// EncodeAllocations renders allocations as "grant:amount,grant:amount".
func EncodeAllocations(allocs []Allocation) string {
	parts := make([]string, len(allocs))
	for i, a := range allocs {
		parts[i] = a.GrantID + ":" + a.Amount.String()
	}
	return strings.Join(parts, ",")
}

// DecodeAllocations parses the EncodeAllocations format.
func DecodeAllocations(s string) ([]Allocation, error) {
	if s == "" {
		return nil, nil
	}
	var allocs []Allocation
	for _, part := range strings.Split(s, ",") {
		i := strings.LastIndex(part, ":")
		if i <= 0 {
			return nil, fmt.Errorf("malformed allocation %q", part)
		}
		amount, err := decimal.NewFromString(part[i+1:])
		if err != nil {
			return nil, fmt.Errorf("malformed allocation amount %q: %w", part, err)
		}
		allocs = append(allocs, Allocation{GrantID: part[:i], Amount: amount})
	}
	return allocs, nil
}
