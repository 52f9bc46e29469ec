package settlement

import (
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// SharingPolicy holds the payout percentages.
type SharingPolicy struct {
	TeacherPercentage  decimal.Decimal
	MerchantPercentage decimal.Decimal // default when a merchant has no override
}

// DefaultSharingPolicy pays teachers 70% and merchants 80% of their revenue.
func DefaultSharingPolicy() *SharingPolicy {
	return &SharingPolicy{
		TeacherPercentage:  decimal.NewFromInt(70),
		MerchantPercentage: decimal.NewFromInt(80),
	}
}

func (p *SharingPolicy) Validate() error {
	for field, pct := range map[string]decimal.Decimal{
		"teacher_percentage":  p.TeacherPercentage,
		"merchant_percentage": p.MerchantPercentage,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return generic.Invalid(field, "must be between 0 and 100, got %s", pct)
		}
	}
	return nil
}

// PercentageFor returns the percentage applied to an entity. merchant may be
// nil for teachers.
func (p *SharingPolicy) PercentageFor(entityType EntityType, merchant *commerce.Merchant) decimal.Decimal {
	if entityType == EntityMerchant {
		if merchant != nil && merchant.SharingPercentage != nil {
			return *merchant.SharingPercentage
		}
		return p.MerchantPercentage
	}
	return p.TeacherPercentage
}

// SharingAmount is revenue × percentage / 100 rounded to cents.
func SharingAmount(revenue, percentage decimal.Decimal) decimal.Decimal {
	return generic.RoundMoney(revenue.Mul(percentage).Div(hundred))
}
