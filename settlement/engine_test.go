/*
engine_test.go - Tests for revenue computation and the settlement lifecycle
*/
package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
	"github.com/sportcoin/coin-engine/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march = generic.Period{Start: generic.Date(2025, 3, 1), End: generic.Date(2025, 3, 31)}

type env struct {
	t      *testing.T
	ctx    context.Context
	clock  *generic.FixedClock
	writer *coin.LedgerWriter
	shop   *commerce.Service
	engine *settlement.Engine
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// newEnv builds a March where member m1 paid 10000 for teacher t1's course.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	clock := generic.NewFixedClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	opts := coin.DefaultOptions()
	opts.Clock = clock
	store := memory.New()
	writer := coin.NewLedgerWriter(store, opts)
	e := &env{
		t:      t,
		ctx:    ctx,
		clock:  clock,
		writer: writer,
		shop:   commerce.NewService(store, coin.NewSpendAuthorizer(store, opts), writer, opts),
		engine: settlement.NewEngine(store, nil, clock, time.Second),
	}

	for _, id := range []generic.EntityID{"t1", "m1", "s1"} {
		_, err := writer.RegisterUser(ctx, coin.RegisterRequest{ID: id, Name: string(id)})
		require.NoError(t, err)
	}
	_, err := writer.GrantCoins(ctx, coin.GrantRequest{UserID: "m1", CoinType: coin.Government, Amount: d(20000)})
	require.NoError(t, err)
	_, err = e.shop.CreateCourse(ctx, commerce.Course{ID: "c1", TeacherID: "t1", Title: "Tennis", Price: d(10000)})
	require.NoError(t, err)
	_, err = e.shop.Enroll(ctx, commerce.EnrollRequest{UserID: "m1", CourseID: "c1", Government: d(10000)})
	require.NoError(t, err)
	return e
}

func (e *env) start(entityType settlement.EntityType, id string) *settlement.RevenueSharing {
	e.t.Helper()
	r, err := e.engine.Start(e.ctx, settlement.StartRequest{EntityType: entityType, EntityID: id, Period: march})
	require.NoError(e.t, err)
	return r
}

// =============================================================================
// START
// =============================================================================

func TestStart_TeacherSharing(t *testing.T) {
	e := newEnv(t)

	r := e.start(settlement.EntityTeacher, "t1")

	assert.Equal(t, settlement.StatusPending, r.Status)
	assert.True(t, d(10000).Equal(r.TotalRevenue))
	assert.True(t, d(70).Equal(r.SharingPercentage))
	assert.True(t, d(7000).Equal(r.SharingAmount))
	assert.Nil(t, r.SettlementDate)
}

func TestStart_RefundsReduceRevenue(t *testing.T) {
	e := newEnv(t)
	_, err := e.writer.Refund(e.ctx, coin.RefundRequest{UserID: "m1", RelatedType: coin.RelatedCourse, RelatedID: "c1"})
	require.NoError(t, err)

	r := e.start(settlement.EntityTeacher, "t1")
	assert.True(t, r.TotalRevenue.IsZero())
	assert.True(t, r.SharingAmount.IsZero())
}

func TestStart_LateRefundCountsAgainstSpendPeriod(t *testing.T) {
	// GIVEN: The March enrollment is refunded in April
	e := newEnv(t)
	e.clock.Set(time.Date(2025, 4, 5, 9, 0, 0, 0, time.UTC))
	_, err := e.writer.Refund(e.ctx, coin.RefundRequest{UserID: "m1", RelatedType: coin.RelatedCourse, RelatedID: "c1"})
	require.NoError(t, err)
	april := generic.Period{Start: generic.Date(2025, 4, 1), End: generic.Date(2025, 4, 30)}

	// WHEN
	r, err := e.engine.Start(e.ctx, settlement.StartRequest{EntityType: settlement.EntityTeacher, EntityID: "t1", Period: april})

	// THEN: April earns nothing and owes nothing
	require.NoError(t, err)
	assert.True(t, r.TotalRevenue.IsZero(), "april revenue %s", r.TotalRevenue)
	assert.True(t, r.SharingAmount.IsZero())

	// March, still pending, loses the refunded sale
	m := e.start(settlement.EntityTeacher, "t1")
	assert.True(t, m.TotalRevenue.IsZero(), "march revenue %s", m.TotalRevenue)
}

func TestStart_OutsidePeriodIgnored(t *testing.T) {
	e := newEnv(t)
	feb := generic.Period{Start: generic.Date(2025, 2, 1), End: generic.Date(2025, 2, 28)}

	r, err := e.engine.Start(e.ctx, settlement.StartRequest{EntityType: settlement.EntityTeacher, EntityID: "t1", Period: feb})
	require.NoError(t, err)
	assert.True(t, r.TotalRevenue.IsZero())
}

func TestStart_MerchantOverrideAndSales(t *testing.T) {
	e := newEnv(t)
	pct := d(90)
	_, err := e.shop.CreateMerchant(e.ctx, commerce.Merchant{ID: "gym", OwnerID: "s1", Name: "Gym", SharingPercentage: &pct})
	require.NoError(t, err)
	_, err = e.shop.CreateProduct(e.ctx, commerce.Product{ID: "mat", MerchantID: "gym", Name: "Mat", Price: d(150), StockQuantity: 5})
	require.NoError(t, err)
	_, err = e.shop.Redeem(e.ctx, commerce.RedeemRequest{UserID: "m1", ProductID: "mat", Government: d(150)})
	require.NoError(t, err)
	_, err = e.shop.RecordSale(e.ctx, commerce.SportsSale{MerchantID: "gym", Amount: d(850)})
	require.NoError(t, err)
	_, err = e.shop.RecordSale(e.ctx, commerce.SportsSale{MerchantID: "gym", Amount: d(500), Status: commerce.SalePending})
	require.NoError(t, err)

	r := e.start(settlement.EntityMerchant, "gym")

	// 150 coins + 850 paid sales; the pending sale does not count.
	assert.True(t, d(1000).Equal(r.TotalRevenue))
	assert.True(t, d(900).Equal(r.SharingAmount))
}

func TestStart_Validation(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.Start(e.ctx, settlement.StartRequest{EntityType: "coach", EntityID: "t1", Period: march})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = e.engine.Start(e.ctx, settlement.StartRequest{
		EntityType: settlement.EntityTeacher, EntityID: "t1",
		Period: generic.Period{Start: march.End, End: march.Start},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	_, err = e.engine.Start(e.ctx, settlement.StartRequest{EntityType: settlement.EntityMerchant, EntityID: "nobody", Period: march})
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestLifecycle(t *testing.T) {
	e := newEnv(t)
	r := e.start(settlement.EntityTeacher, "t1")

	// Starting again while pending recomputes in place.
	again := e.start(settlement.EntityTeacher, "t1")
	assert.Equal(t, r.ID, again.ID)

	// pending -> settled skips processing
	_, err := e.engine.Advance(e.ctx, r.ID, settlement.StatusSettled, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	processing, err := e.engine.Advance(e.ctx, r.ID, settlement.StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusProcessing, processing.Status)

	// Once processing, Start no longer touches the row.
	_, err = e.engine.Start(e.ctx, settlement.StartRequest{EntityType: settlement.EntityTeacher, EntityID: "t1", Period: march})
	assert.ErrorIs(t, err, generic.ErrConflict)

	failed, err := e.engine.Advance(e.ctx, r.ID, settlement.StatusFailed, "bank rejected transfer")
	require.NoError(t, err)
	assert.Equal(t, "bank rejected transfer", failed.FailureReason)

	retry, err := e.engine.Advance(e.ctx, r.ID, settlement.StatusPending, "")
	require.NoError(t, err)
	assert.Empty(t, retry.FailureReason)

	_, err = e.engine.Advance(e.ctx, r.ID, settlement.StatusProcessing, "")
	require.NoError(t, err)
	e.clock.Advance(24 * time.Hour)
	settled, err := e.engine.Advance(e.ctx, r.ID, settlement.StatusSettled, "")
	require.NoError(t, err)
	require.NotNil(t, settled.SettlementDate)
	assert.Equal(t, e.clock.Now(), *settled.SettlementDate)

	// Settled is final.
	_, err = e.engine.Advance(e.ctx, r.ID, settlement.StatusPending, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	list, err := e.engine.List(e.ctx, settlement.Filter{Status: settlement.StatusSettled})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to settlement.Status
		want     bool
	}{
		{settlement.StatusPending, settlement.StatusProcessing, true},
		{settlement.StatusProcessing, settlement.StatusSettled, true},
		{settlement.StatusProcessing, settlement.StatusFailed, true},
		{settlement.StatusFailed, settlement.StatusPending, true},
		{settlement.StatusPending, settlement.StatusFailed, false},
		{settlement.StatusSettled, settlement.StatusFailed, false},
		{settlement.StatusFailed, settlement.StatusSettled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, settlement.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

// =============================================================================
// BATCH
// =============================================================================

func TestStartAll(t *testing.T) {
	e := newEnv(t)
	_, err := e.shop.CreateMerchant(e.ctx, commerce.Merchant{ID: "quiet", Name: "No Sales"})
	require.NoError(t, err)

	// WHEN
	res, err := e.engine.StartAll(e.ctx, march, 2)

	// THEN: Only entities with revenue are started
	require.NoError(t, err)
	require.Len(t, res.Started, 1)
	assert.Equal(t, "t1", res.Started[0].EntityID)
	assert.Empty(t, res.Failed)

	// WHEN: The teacher's payout is already processing
	_, err = e.engine.Advance(e.ctx, res.Started[0].ID, settlement.StatusProcessing, "")
	require.NoError(t, err)
	res, err = e.engine.StartAll(e.ctx, march, 2)

	// THEN
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Equal(t, []settlement.Entity{{Type: settlement.EntityTeacher, ID: "t1"}}, res.Skipped)
}

func TestSharingAmount_RoundsToCents(t *testing.T) {
	got := settlement.SharingAmount(decimal.RequireFromString("333.33"), d(70))
	assert.Equal(t, "233.33", got.StringFixed(2))

	assert.Error(t, (&settlement.SharingPolicy{TeacherPercentage: d(101), MerchantPercentage: d(80)}).Validate())
	assert.NoError(t, settlement.DefaultSharingPolicy().Validate())
}
