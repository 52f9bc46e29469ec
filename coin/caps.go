package coin

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// CAP POLICY - How many government coins a purchase may use
// =============================================================================

// CategoryCap bounds government coins for one spend category.
//
//	FullPrice && Max == nil  -> up to the purchase price
//	Max != nil               -> up to Max (and never above the price)
//	!FullPrice && Max == nil -> government coins not accepted
type CategoryCap struct {
	FullPrice bool
	Max       *decimal.Decimal
}

// CapPolicy maps categories to caps. Unknown categories use Default.
type CapPolicy struct {
	Caps    map[SpendCategory]CategoryCap
	Default CategoryCap
}

// DefaultCapPolicy: exercise, watching games, courses and events may be paid
// fully with government coins; equipment is capped at 200.
func DefaultCapPolicy() *CapPolicy {
	equipmentMax := decimal.NewFromInt(200)
	return &CapPolicy{
		Caps: map[SpendCategory]CategoryCap{
			CategoryExercise:  {FullPrice: true},
			CategoryWatchGame: {FullPrice: true},
			CategoryCourse:    {FullPrice: true},
			CategoryEvent:     {FullPrice: true},
			CategoryEquipment: {Max: &equipmentMax},
		},
		Default: CategoryCap{},
	}
}

// CapFor returns the configured cap of category.
func (p *CapPolicy) CapFor(category SpendCategory) CategoryCap {
	if c, ok := p.Caps[category]; ok {
		return c
	}
	return p.Default
}

// GovernmentCap is the most government coins a purchase of target in
// category may use, further bounded by an optional per-item cap.
func (p *CapPolicy) GovernmentCap(category SpendCategory, target decimal.Decimal, itemCap *decimal.Decimal) decimal.Decimal {
	c := p.CapFor(category)

	limit := decimal.Zero
	switch {
	case c.Max != nil:
		limit = generic.MinDecimal(*c.Max, target)
	case c.FullPrice:
		limit = target
	}
	if itemCap != nil {
		limit = generic.MinDecimal(limit, *itemCap)
	}
	if limit.IsNegative() {
		return decimal.Zero
	}
	return limit
}

// Categories returns configured categories sorted by name.
func (p *CapPolicy) Categories() []SpendCategory {
	result := make([]SpendCategory, 0, len(p.Caps))
	for c := range p.Caps {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
