/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts a JSON policy document into the spend cap policy used by coin
  authorization and the sharing policy used by settlement. Operators can
  change caps and payout percentages without code changes.

JSON SCHEMA:
  {
    "categories": {
      "exercise":   {"full_price": true},
      "watch_game": {"full_price": true},
      "course":     {"full_price": true},
      "event":      {"full_price": true},
      "equipment":  {"max_government": "200"}
    },
    "default": {"full_price": false},
    "sharing": {
      "teacher_percentage": "70",
      "merchant_default_percentage": "80"
    }
  }

  Amounts are strings (or JSON numbers) parsed with shopspring/decimal.
  A category with neither full_price nor max_government accepts no
  government coins.

USAGE:
  caps, sharing, err := factory.LoadPolicyFile("policy.json")
  authorizer := coin.NewSpendAuthorizer(store, coin.Options{Caps: caps})
  engine := settlement.NewEngine(store, sharing, clock, timeout)

SEE ALSO:
  - coin/caps.go: CapPolicy
  - settlement/policy.go: SharingPolicy
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of the spend and sharing policy.
type PolicyJSON struct {
	Categories map[string]CategoryJSON `json:"categories"`
	Default    *CategoryJSON           `json:"default,omitempty"`
	Sharing    *SharingJSON            `json:"sharing,omitempty"`
}

// CategoryJSON caps government coins for one category.
type CategoryJSON struct {
	FullPrice     bool             `json:"full_price,omitempty"`
	MaxGovernment *decimal.Decimal `json:"max_government,omitempty"`
}

// SharingJSON holds settlement percentages.
type SharingJSON struct {
	TeacherPercentage         *decimal.Decimal `json:"teacher_percentage,omitempty"`
	MerchantDefaultPercentage *decimal.Decimal `json:"merchant_default_percentage,omitempty"`
}

// DefaultPolicyJSON matches coin.DefaultCapPolicy and
// settlement.DefaultSharingPolicy.
const DefaultPolicyJSON = `{
  "categories": {
    "exercise":   {"full_price": true},
    "watch_game": {"full_price": true},
    "course":     {"full_price": true},
    "event":      {"full_price": true},
    "equipment":  {"max_government": "200"}
  },
  "sharing": {
    "teacher_percentage": "70",
    "merchant_default_percentage": "80"
  }
}`

// =============================================================================
// POLICY FACTORY
// =============================================================================

// ParsePolicy parses a JSON document into typed policies. Sections that
// are missing fall back to the built-in defaults.
func ParsePolicy(jsonStr string) (*coin.CapPolicy, *settlement.SharingPolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return FromJSON(pj)
}

// LoadPolicyFile reads and parses a policy document. An empty path yields
// the defaults.
func LoadPolicyFile(path string) (*coin.CapPolicy, *settlement.SharingPolicy, error) {
	if path == "" {
		return coin.DefaultCapPolicy(), settlement.DefaultSharingPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(string(data))
}

// FromJSON converts PolicyJSON to typed policies.
func FromJSON(pj PolicyJSON) (*coin.CapPolicy, *settlement.SharingPolicy, error) {
	caps := coin.DefaultCapPolicy()
	if len(pj.Categories) > 0 {
		caps.Caps = make(map[coin.SpendCategory]coin.CategoryCap, len(pj.Categories))
		for name, cj := range pj.Categories {
			category, err := coin.ParseCategory(name)
			if err != nil {
				return nil, nil, err
			}
			c, err := parseCategoryCap(name, cj)
			if err != nil {
				return nil, nil, err
			}
			caps.Caps[category] = c
		}
	}
	if pj.Default != nil {
		c, err := parseCategoryCap("default", *pj.Default)
		if err != nil {
			return nil, nil, err
		}
		caps.Default = c
	}

	sharing := settlement.DefaultSharingPolicy()
	if pj.Sharing != nil {
		if pj.Sharing.TeacherPercentage != nil {
			sharing.TeacherPercentage = *pj.Sharing.TeacherPercentage
		}
		if pj.Sharing.MerchantDefaultPercentage != nil {
			sharing.MerchantPercentage = *pj.Sharing.MerchantDefaultPercentage
		}
	}
	if err := sharing.Validate(); err != nil {
		return nil, nil, err
	}
	return caps, sharing, nil
}

// ToJSON converts typed policies back into a document.
func ToJSON(caps *coin.CapPolicy, sharing *settlement.SharingPolicy) PolicyJSON {
	pj := PolicyJSON{Categories: make(map[string]CategoryJSON)}
	for _, category := range caps.Categories() {
		c := caps.CapFor(category)
		pj.Categories[string(category)] = CategoryJSON{FullPrice: c.FullPrice, MaxGovernment: c.Max}
	}
	if caps.Default.FullPrice || caps.Default.Max != nil {
		pj.Default = &CategoryJSON{FullPrice: caps.Default.FullPrice, MaxGovernment: caps.Default.Max}
	}
	if sharing != nil {
		teacher, merchant := sharing.TeacherPercentage, sharing.MerchantPercentage
		pj.Sharing = &SharingJSON{TeacherPercentage: &teacher, MerchantDefaultPercentage: &merchant}
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseCategoryCap(name string, cj CategoryJSON) (coin.CategoryCap, error) {
	if cj.MaxGovernment != nil && cj.MaxGovernment.IsNegative() {
		return coin.CategoryCap{}, fmt.Errorf("category %s: max_government cannot be negative", name)
	}
	return coin.CategoryCap{FullPrice: cj.FullPrice, Max: cj.MaxGovernment}, nil
}
