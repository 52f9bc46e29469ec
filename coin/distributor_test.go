package coin_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := now.AddDate(0, 0, days)
	return &t
}

func grant(id string, amount int64, validUntil *time.Time, category coin.SpendCategory) coin.Grant {
	return coin.Grant{
		ID:            id,
		CoinType:      coin.Government,
		Amount:        decimal.NewFromInt(amount),
		ValidUntil:    validUntil,
		UsageCategory: category,
		CreatedAt:     now.AddDate(0, -1, 0),
	}
}

func ids(grants []coin.Grant) []string {
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.ID
	}
	return out
}

func TestSpendOrder(t *testing.T) {
	grants := []coin.Grant{
		grant("forever", 50, nil, ""),
		grant("june", 50, at(45), ""),
		grant("may", 50, at(10), ""),
		grant("expired", 50, at(-1), ""),
		grant("empty", 0, at(5), ""),
		grant("courses-only", 50, at(3), coin.CategoryCourse),
	}

	assert.Equal(t, []string{"may", "june", "forever"}, ids(coin.SpendOrder(grants, coin.CategoryExercise, now)))
	assert.Equal(t, []string{"courses-only", "may", "june", "forever"}, ids(coin.SpendOrder(grants, coin.CategoryCourse, now)))
}

func TestSpendOrder_TiesByCreationThenID(t *testing.T) {
	older := grant("b", 10, nil, "")
	older.CreatedAt = now.AddDate(0, -2, 0)
	grants := []coin.Grant{grant("c", 10, nil, ""), grant("a", 10, nil, ""), older}

	assert.Equal(t, []string{"b", "a", "c"}, ids(coin.SpendOrder(grants, "", now)))
}

func TestDistribute(t *testing.T) {
	grants := []coin.Grant{
		grant("june", 100, at(45), ""),
		grant("may", 80, at(10), ""),
	}

	// WHEN: 120 is spent
	dist := coin.Distributor{}.Distribute(grants, decimal.NewFromInt(120), coin.CategoryExercise, now)

	// THEN: May is drained first
	require.True(t, dist.Satisfied())
	require.Len(t, dist.Allocations, 2)
	assert.Equal(t, "may", dist.Allocations[0].GrantID)
	assert.True(t, decimal.NewFromInt(80).Equal(dist.Allocations[0].Amount))
	assert.Equal(t, "june", dist.Allocations[1].GrantID)
	assert.True(t, decimal.NewFromInt(40).Equal(dist.Allocations[1].Amount))

	// WHEN: More than the grants hold
	short := coin.Distributor{}.Distribute(grants, decimal.NewFromInt(200), coin.CategoryExercise, now)
	assert.False(t, short.Satisfied())
	assert.True(t, decimal.NewFromInt(20).Equal(short.Shortfall))
}

func TestAllocationsEncoding(t *testing.T) {
	allocs := []coin.Allocation{
		{GrantID: "g-1", Amount: decimal.NewFromInt(100)},
		{GrantID: "g-2", Amount: decimal.RequireFromString("20.5")},
	}
	encoded := coin.EncodeAllocations(allocs)
	assert.Equal(t, "g-1:100,g-2:20.5", encoded)

	decoded, err := coin.DecodeAllocations(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "g-2", decoded[1].GrantID)
	assert.True(t, allocs[1].Amount.Equal(decoded[1].Amount))

	_, err = coin.DecodeAllocations("g-1")
	assert.Error(t, err)
	_, err = coin.DecodeAllocations("g-1:lots")
	assert.Error(t, err)
}

func TestGovernmentCap(t *testing.T) {
	caps := coin.DefaultCapPolicy()
	item := decimal.NewFromInt(120)

	tests := []struct {
		name     string
		category coin.SpendCategory
		target   int64
		itemCap  *decimal.Decimal
		want     int64
	}{
		{"exercise full price", coin.CategoryExercise, 300, nil, 300},
		{"watch game full price", coin.CategoryWatchGame, 80, nil, 80},
		{"equipment above max", coin.CategoryEquipment, 300, nil, 200},
		{"equipment below max", coin.CategoryEquipment, 150, nil, 150},
		{"item cap lowers limit", coin.CategoryCourse, 300, &item, 120},
		{"general not covered", coin.CategoryGeneral, 300, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := caps.GovernmentCap(tt.category, decimal.NewFromInt(tt.target), tt.itemCap)
			assert.True(t, decimal.NewFromInt(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParsers(t *testing.T) {
	ct, err := coin.ParseCoinType("Government")
	require.NoError(t, err)
	assert.Equal(t, coin.Government, ct)
	_, err = coin.ParseCoinType("gold")
	assert.Error(t, err)

	cat, err := coin.ParseCategory(" Equipment ")
	require.NoError(t, err)
	assert.Equal(t, coin.CategoryEquipment, cat)

	role, err := coin.ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, coin.RoleMember, role)
	_, err = coin.ParseRole("coach")
	assert.Error(t, err)
}
