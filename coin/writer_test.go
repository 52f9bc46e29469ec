/*
writer_test.go - Tests for balances, spend authorization and the ledger writer

Tests for:
- Registration bonus
- Authorization rules and their order
- Commit: version check, replays, concurrent commits, catalog terms
- Expiry, spend order and refunds back to the original grants
- Ledger / grant reconciliation
*/
package coin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *generic.FixedClock
	reader *coin.BalanceReader
	auth   *coin.SpendAuthorizer
	writer *coin.LedgerWriter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := generic.NewFixedClock(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	opts := coin.DefaultOptions()
	opts.Clock = clock
	store := memory.New()
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		reader: coin.NewBalanceReader(store, opts),
		auth:   coin.NewSpendAuthorizer(store, opts),
		writer: coin.NewLedgerWriter(store, opts),
	}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %d, got %s", want, got)
}

func (f *fixture) register(id generic.EntityID) {
	f.t.Helper()
	_, err := f.writer.RegisterUser(f.ctx, coin.RegisterRequest{ID: id, Name: "User " + string(id)})
	require.NoError(f.t, err)
}

func (f *fixture) grant(id generic.EntityID, amount int64, validFor time.Duration) *coin.GrantResult {
	f.t.Helper()
	until := f.clock.Now().Add(validFor)
	res, err := f.writer.GrantCoins(f.ctx, coin.GrantRequest{
		UserID:     id,
		CoinType:   coin.Government,
		Amount:     d(amount),
		ValidUntil: &until,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) balance(id generic.EntityID) *coin.Balance {
	f.t.Helper()
	b, err := f.reader.GetBalance(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) spend(id generic.EntityID, target, gov, self int64, category coin.SpendCategory, relatedID string) (*coin.CommitResult, error) {
	f.t.Helper()
	token, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
		UserID:       id,
		TargetAmount: d(target),
		Government:   d(gov),
		Self:         d(self),
		Category:     category,
	})
	if err != nil {
		return nil, err
	}
	return f.writer.CommitSpend(f.ctx, coin.CommitRequest{
		Token:       *token,
		RelatedType: coin.RelatedEvent,
		RelatedID:   relatedID,
	})
}

func (f *fixture) assertReconciled(id generic.EntityID) {
	f.t.Helper()
	rec, err := f.reader.Reconcile(f.ctx, id)
	require.NoError(f.t, err)
	for _, c := range rec.Coins {
		assert.True(f.t, c.Balanced(), "%s drift %s", c.CoinType, c.Drift())
	}
}

// =============================================================================
// REGISTRATION & GRANTS
// =============================================================================

func TestRegisterUser_CreditsSelfBonus(t *testing.T) {
	f := newFixture(t)

	// WHEN
	f.register("u1")

	// THEN
	b := f.balance("u1")
	assertAmount(t, 100, b.Self)
	assertAmount(t, 0, b.Government)
	assert.Equal(t, int64(1), b.Version)

	_, err := f.writer.RegisterUser(f.ctx, coin.RegisterRequest{ID: "u1", Name: "Again"})
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	_, err = f.writer.RegisterUser(f.ctx, coin.RegisterRequest{ID: "u2", Name: "  "})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestGrantCoins_Validation(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	past := f.clock.Now().Add(-time.Hour)

	tests := []struct {
		name string
		req  coin.GrantRequest
	}{
		{"zero amount", coin.GrantRequest{UserID: "u1", CoinType: coin.Government, Amount: d(0)}},
		{"unknown coin", coin.GrantRequest{UserID: "u1", CoinType: "gold", Amount: d(5)}},
		{"self coins with expiry", coin.GrantRequest{UserID: "u1", CoinType: coin.Self, Amount: d(5), ValidUntil: &past}},
		{"expiry in the past", coin.GrantRequest{UserID: "u1", CoinType: coin.Government, Amount: d(5), ValidUntil: &past}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.writer.GrantCoins(f.ctx, tt.req)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.writer.GrantCoins(f.ctx, coin.GrantRequest{UserID: "ghost", CoinType: coin.Self, Amount: d(5)})
	assert.True(t, generic.IsNotFound(err))
}

func TestGrantCoins_DefaultValidityAndReplay(t *testing.T) {
	f := newFixture(t)
	f.register("u1")

	req := coin.GrantRequest{UserID: "u1", CoinType: coin.Government, Amount: d(500), IdempotencyKey: "program-2025"}
	first, err := f.writer.GrantCoins(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Grant.ValidUntil)
	assert.Equal(t, f.clock.Now().Add(coin.DefaultGovernmentValidity), *first.Grant.ValidUntil)

	second, err := f.writer.GrantCoins(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Grant.ID, second.Grant.ID)
	assertAmount(t, 500, f.balance("u1").Government)
}

// =============================================================================
// AUTHORIZATION RULES
// =============================================================================

func TestAuthorize_RuleOrder(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 500, 30*24*time.Hour)

	tests := []struct {
		name   string
		target int64
		gov    int64
		self   int64
		cat    coin.SpendCategory
		want   error
	}{
		// Overspend is reported before the cap even when both are broken.
		{"overspend before cap", 300, 300, 100, coin.CategoryEquipment, generic.ErrOverspend},
		{"equipment cap", 300, 300, 0, coin.CategoryEquipment, generic.ErrCapExceeded},
		{"cap before balance", 1000, 1000, 0, coin.CategoryEquipment, generic.ErrCapExceeded},
		{"government balance", 600, 600, 0, coin.CategoryExercise, generic.ErrInsufficientBalance},
		{"self balance", 300, 0, 150, coin.CategoryExercise, generic.ErrInsufficientBalance},
		{"general accepts no government coins", 50, 10, 0, coin.CategoryGeneral, generic.ErrCapExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
				UserID:       "u1",
				TargetAmount: d(tt.target),
				Government:   d(tt.gov),
				Self:         d(tt.self),
				Category:     tt.cat,
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthorize_EquipmentSplit(t *testing.T) {
	// GIVEN: 500 government coins and a 300 coin equipment purchase
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 500, 30*24*time.Hour)

	// WHEN: Paying it all with government coins
	_, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
		UserID: "u1", TargetAmount: d(300), Government: d(300), Category: coin.CategoryEquipment,
	})

	// THEN: The 200 cap applies regardless of the balance
	var capErr *generic.CapExceededError
	require.True(t, errors.As(err, &capErr))
	assertAmount(t, 200, capErr.Cap)

	// WHEN: Splitting 200 government + 100 self
	token, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
		UserID: "u1", TargetAmount: d(300), Government: d(200), Self: d(100), Category: coin.CategoryEquipment,
	})

	// THEN: Authorized against the current balance version, nothing written
	require.NoError(t, err)
	assert.Equal(t, f.balance("u1").Version, token.BalanceVersion)
	assertAmount(t, 500, f.balance("u1").Government)
}

func TestAuthorize_ItemCap(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 500, 30*24*time.Hour)

	itemCap := d(150)
	_, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
		UserID: "u1", TargetAmount: d(300), Government: d(200), Self: d(100),
		Category: coin.CategoryCourse, ItemCap: &itemCap,
	})
	assert.ErrorIs(t, err, generic.ErrCapExceeded)
}

func TestAuthorize_ExpiredCoins(t *testing.T) {
	// GIVEN: 300 government coins valid for 30 days
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 300, 30*24*time.Hour)

	// WHEN: 31 days pass
	f.clock.Advance(31 * 24 * time.Hour)

	// THEN: The balance is zero and spending reports the expiry
	assertAmount(t, 0, f.balance("u1").Government)
	_, err := f.auth.Authorize(f.ctx, coin.SpendRequest{
		UserID: "u1", TargetAmount: d(100), Government: d(100), Category: coin.CategoryExercise,
	})
	assert.ErrorIs(t, err, generic.ErrExpiredCoin)

	sum, err := f.reader.Summary(f.ctx, "u1")
	require.NoError(t, err)
	assertAmount(t, 300, sum.Coins[0].Expired)
}

func TestGrant_ValidStrictlyBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 100, time.Hour)

	f.clock.Advance(time.Hour - time.Second)
	assertAmount(t, 100, f.balance("u1").Government)

	f.clock.Advance(time.Second)
	assertAmount(t, 0, f.balance("u1").Government)
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommitSpend_SelfCoins(t *testing.T) {
	f := newFixture(t)
	f.register("u1")

	// WHEN: 80 of the 100 bonus coins are spent
	res, err := f.spend("u1", 80, 0, 80, coin.CategoryExercise, "pass-1")

	// THEN
	require.NoError(t, err)
	require.Len(t, res.Commit.Transactions, 1)
	use := res.Commit.Transactions[0]
	assert.Equal(t, generic.TxUse, use.Type)
	assertAmount(t, 80, use.Amount)
	assertAmount(t, -80, use.Signed())

	b := f.balance("u1")
	assertAmount(t, 20, b.Self)
	assert.Equal(t, int64(2), b.Version)
	f.assertReconciled("u1")
}

func TestCommitSpend_StaleTokenConflicts(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 500, 30*24*time.Hour)

	req := coin.SpendRequest{UserID: "u1", TargetAmount: d(100), Government: d(100), Category: coin.CategoryExercise}
	stale, err := f.auth.Authorize(f.ctx, req)
	require.NoError(t, err)

	// GIVEN: The balance changes after authorization
	f.grant("u1", 50, 30*24*time.Hour)

	// WHEN
	_, err = f.writer.CommitSpend(f.ctx, coin.CommitRequest{Token: *stale, RelatedType: coin.RelatedEvent, RelatedID: "e1"})

	// THEN
	assert.ErrorIs(t, err, generic.ErrConflict)
	assertAmount(t, 550, f.balance("u1").Government)
}

func TestCommitSpend_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.register("u1")

	token, err := f.auth.Authorize(f.ctx, coin.SpendRequest{UserID: "u1", TargetAmount: d(10), Self: d(10), Category: coin.CategoryExercise})
	require.NoError(t, err)

	f.clock.Advance(coin.DefaultTokenTTL + time.Second)
	_, err = f.writer.CommitSpend(f.ctx, coin.CommitRequest{Token: *token, RelatedType: coin.RelatedEvent, RelatedID: "e1"})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCommitSpend_ReplayReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	f.register("u1")

	first, err := f.spend("u1", 30, 0, 30, coin.CategoryExercise, "order-1")
	require.NoError(t, err)

	// A retry with a fresh token for the same purchase does not spend again.
	again, err := f.spend("u1", 30, 0, 30, coin.CategoryExercise, "order-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Commit.ID, again.Commit.ID)
	assertAmount(t, 70, f.balance("u1").Self)
}

func TestCommitSpend_ConcurrentCommitsNeverOverdraw(t *testing.T) {
	// GIVEN: 100 self coins and ten 20-coin purchases racing
	f := newFixture(t)
	f.register("u1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.spend("u1", 20, 0, 20, coin.CategoryExercise, string(rune('a'+i)))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, generic.ErrConflict) || errors.Is(err, generic.ErrInsufficientBalance), "unexpected %v", err)
		}(i)
	}
	wg.Wait()

	// THEN: Every success was paid for, and the balance never went negative
	b := f.balance("u1")
	assert.False(t, b.Self.IsNegative())
	assertAmount(t, 100-int64(succeeded)*20, b.Self)
	assert.GreaterOrEqual(t, succeeded, 1)
	f.assertReconciled("u1")
}

func TestCommitSpend_SingleSpendBalanceHasOneWinner(t *testing.T) {
	// GIVEN: 100 self coins and eight 100-coin purchases racing for them
	f := newFixture(t)
	f.register("u1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.spend("u1", 100, 0, 100, coin.CategoryExercise, string(rune('a'+i)))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, generic.ErrConflict) || errors.Is(err, generic.ErrInsufficientBalance), "unexpected %v", err)
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one purchase went through and the balance is spent
	assert.Equal(t, 1, succeeded)
	assertAmount(t, 0, f.balance("u1").Self)
	f.assertReconciled("u1")
}

func TestCommitSpend_ZeroCoinCommitReplays(t *testing.T) {
	f := newFixture(t)
	f.register("u1")

	// GIVEN: A purchase paid entirely outside the coin ledger
	first, err := f.spend("u1", 50, 0, 0, coin.CategoryExercise, "open-day")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Empty(t, first.Commit.Transactions)

	// WHEN: It is committed again
	again, err := f.spend("u1", 50, 0, 0, coin.CategoryExercise, "open-day")

	// THEN: The first commit comes back
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Commit.ID, again.Commit.ID)

	found, err := f.writer.FindCommit(f.ctx, first.Commit.Key())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.Commit.ID, found.ID)

	// A refund closes it; the next commit is a new one.
	_, err = f.writer.Refund(f.ctx, coin.RefundRequest{UserID: "u1", RelatedType: coin.RelatedEvent, RelatedID: "open-day"})
	require.NoError(t, err)
	found, err = f.writer.FindCommit(f.ctx, first.Commit.Key())
	require.NoError(t, err)
	assert.Nil(t, found)

	next, err := f.spend("u1", 50, 0, 0, coin.CategoryExercise, "open-day")
	require.NoError(t, err)
	assert.False(t, next.Replayed)
	assert.NotEqual(t, first.Commit.ID, next.Commit.ID)
	assertAmount(t, 100, f.balance("u1").Self)
}

// shelf is a catalog side effect selling one item at fixed terms.
type shelf struct {
	terms   coin.SpendTerms
	applied int
}

func (s *shelf) Terms(context.Context, generic.Store, string) (*coin.SpendTerms, error) {
	t := s.terms
	return &t, nil
}

func (s *shelf) Apply(context.Context, generic.Store, coin.Commit) error {
	s.applied++
	return nil
}

func (s *shelf) Revert(context.Context, generic.Store, coin.Commit) error { return nil }

func TestCommitSpend_CatalogTermsMustMatch(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 1000, 30*24*time.Hour)
	limit := d(100)
	item := &shelf{terms: coin.SpendTerms{Price: d(1000), Category: coin.CategoryCourse, ItemCap: &limit}}
	f.writer.RegisterSideEffect("class", item)

	tests := []struct {
		name string
		req  coin.SpendRequest
	}{
		{"other category", coin.SpendRequest{UserID: "u1", TargetAmount: d(1000), Government: d(1000), Category: coin.CategoryExercise}},
		{"lower price", coin.SpendRequest{UserID: "u1", TargetAmount: d(1), Self: d(1), Category: coin.CategoryCourse, ItemCap: &limit}},
		{"missing item cap", coin.SpendRequest{UserID: "u1", TargetAmount: d(1000), Government: d(500), Category: coin.CategoryCourse}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := f.auth.Authorize(f.ctx, tt.req)
			require.NoError(t, err)

			_, err = f.writer.CommitSpend(f.ctx, coin.CommitRequest{Token: *token, RelatedType: "class", RelatedID: "c1"})

			assert.ErrorIs(t, err, generic.ErrValidation)
			assert.Equal(t, 0, item.applied)
			assertAmount(t, 1000, f.balance("u1").Government)
		})
	}

	token, err := f.auth.Authorize(f.ctx, item.terms.Request("u1", d(100), d(0)))
	require.NoError(t, err)
	_, err = f.writer.CommitSpend(f.ctx, coin.CommitRequest{Token: *token, RelatedType: "class", RelatedID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, item.applied)
	assertAmount(t, 900, f.balance("u1").Government)
}

func TestCommitSpend_EarliestExpiryFirst(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	late := f.grant("u1", 300, 365*24*time.Hour)
	soon := f.grant("u1", 300, 30*24*time.Hour)

	res, err := f.spend("u1", 400, 400, 0, coin.CategoryExercise, "camp")
	require.NoError(t, err)

	allocs, err := coin.DecodeAllocations(res.Commit.Transactions[0].Meta(coin.MetaAllocations))
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, soon.Grant.ID, allocs[0].GrantID)
	assertAmount(t, 300, allocs[0].Amount)
	assert.Equal(t, late.Grant.ID, allocs[1].GrantID)
	assertAmount(t, 100, allocs[1].Amount)

	// The remaining balance expires with the later grant.
	b := f.balance("u1")
	assertAmount(t, 200, b.Government)
	require.NotNil(t, b.GovernmentValidUntil)
	assert.Equal(t, *late.Grant.ValidUntil, *b.GovernmentValidUntil)
}

// =============================================================================
// REFUND
// =============================================================================

func TestRefund_CreditsOriginalGrants(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 300, 30*24*time.Hour)

	_, err := f.spend("u1", 300, 200, 100, coin.CategoryCourse, "yoga")
	require.NoError(t, err)

	// WHEN
	res, err := f.writer.Refund(f.ctx, coin.RefundRequest{UserID: "u1", RelatedType: coin.RelatedEvent, RelatedID: "yoga"})

	// THEN
	require.NoError(t, err)
	assert.Len(t, res.Refunds, 2)
	b := f.balance("u1")
	assertAmount(t, 300, b.Government)
	assertAmount(t, 100, b.Self)
	f.assertReconciled("u1")

	// Refunding again replays
	again, err := f.writer.Refund(f.ctx, coin.RefundRequest{UserID: "u1", RelatedType: coin.RelatedEvent, RelatedID: "yoga"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assertAmount(t, 300, f.balance("u1").Government)

	// And the purchase can be made again after the refund
	_, err = f.spend("u1", 300, 200, 100, coin.CategoryCourse, "yoga")
	require.NoError(t, err)
	assertAmount(t, 100, f.balance("u1").Government)

	_, err = f.writer.Refund(f.ctx, coin.RefundRequest{UserID: "u1", RelatedType: coin.RelatedEvent, RelatedID: "nothing"})
	assert.True(t, generic.IsNotFound(err))
}

func TestReport_PeriodTotals(t *testing.T) {
	f := newFixture(t)
	f.register("u1")
	f.grant("u1", 300, 30*24*time.Hour)
	_, err := f.spend("u1", 150, 100, 50, coin.CategoryExercise, "e1")
	require.NoError(t, err)

	period, err := generic.ParsePeriod("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	rep, err := f.reader.Report(f.ctx, period)
	require.NoError(t, err)

	byCoin := map[coin.CoinType]coin.CoinTotals{}
	for _, c := range rep.Coins {
		byCoin[c.CoinType] = c
	}
	assertAmount(t, 300, byCoin[coin.Government].Issued)
	assertAmount(t, 100, byCoin[coin.Government].NetUsed())
	assertAmount(t, 100, byCoin[coin.Self].Issued)
	assertAmount(t, 50, byCoin[coin.Self].Used)

	history, err := f.reader.History(f.ctx, generic.TransactionFilter{EntityID: "u1", Types: []generic.TransactionType{generic.TxUse}})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
