package api

import (
	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// spendClaims is coin.AuthorizationToken on the wire.
type spendClaims struct {
	jwt.RegisteredClaims
	TargetAmount   decimal.Decimal  `json:"target"`
	Government     decimal.Decimal  `json:"gov"`
	Self           decimal.Decimal  `json:"self"`
	Category       string           `json:"cat"`
	ItemCap        *decimal.Decimal `json:"item_cap,omitempty"`
	BalanceVersion int64            `json:"ver"`
}

// SpendTokenSigner signs authorization tokens so that a client cannot alter
// the split or the balance version between authorize and commit.
type SpendTokenSigner struct {
	secret []byte
}

func NewSpendTokenSigner(secret []byte) *SpendTokenSigner {
	return &SpendTokenSigner{secret: secret}
}

func (s *SpendTokenSigner) Sign(t coin.AuthorizationToken) (string, error) {
	claims := &spendClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ID,
			Subject:   string(t.UserID),
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		TargetAmount:   t.TargetAmount,
		Government:     t.Government,
		Self:           t.Self,
		Category:       string(t.Category),
		ItemCap:        t.ItemCap,
		BalanceVersion: t.BalanceVersion,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies the signature only. Expiry is checked by the ledger writer
// against its own clock.
func (s *SpendTokenSigner) Parse(raw string) (coin.AuthorizationToken, error) {
	claims := &spendClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return coin.AuthorizationToken{}, generic.Invalid("token", "not a valid authorization: %v", err)
	}

	t := coin.AuthorizationToken{
		ID:             claims.ID,
		UserID:         generic.EntityID(claims.Subject),
		TargetAmount:   claims.TargetAmount,
		Government:     claims.Government,
		Self:           claims.Self,
		Category:       coin.SpendCategory(claims.Category),
		ItemCap:        claims.ItemCap,
		BalanceVersion: claims.BalanceVersion,
	}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return t, nil
}
