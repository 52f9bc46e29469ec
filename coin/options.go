package coin

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// Options are shared by the reader, authorizer and writer.
type Options struct {
	Clock     generic.Clock
	OpTimeout time.Duration
	Caps      *CapPolicy

	// RegistrationBonus is granted as self coins by RegisterUser.
	RegistrationBonus decimal.Decimal

	// GovernmentValidity is the default lifetime of a government grant.
	GovernmentValidity time.Duration

	// TokenTTL bounds how long an authorization may be committed.
	TokenTTL time.Duration
}

const (
	DefaultGovernmentValidity = 365 * 24 * time.Hour
	DefaultTokenTTL           = 10 * time.Minute
)

var DefaultRegistrationBonus = decimal.NewFromInt(100)

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Clock:              generic.SystemClock{},
		OpTimeout:          generic.DefaultOpTimeout,
		Caps:               DefaultCapPolicy(),
		RegistrationBonus:  DefaultRegistrationBonus,
		GovernmentValidity: DefaultGovernmentValidity,
		TokenTTL:           DefaultTokenTTL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = d.OpTimeout
	}
	if o.Caps == nil {
		o.Caps = d.Caps
	}
	if o.RegistrationBonus.IsNegative() {
		o.RegistrationBonus = decimal.Zero
	}
	if o.GovernmentValidity <= 0 {
		o.GovernmentValidity = d.GovernmentValidity
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = d.TokenTTL
	}
	return o
}
