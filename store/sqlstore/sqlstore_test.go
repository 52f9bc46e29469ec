package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
	"github.com/sportcoin/coin-engine/store/sqlite"
	"github.com/sportcoin/coin-engine/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)

	tx := generic.Transaction{
		ID:             "t1",
		EntityID:       "u1",
		ResourceType:   coin.Government,
		Type:           generic.TxUse,
		Amount:         decimal.RequireFromString("12.50"),
		RelatedType:    coin.RelatedCourse,
		RelatedID:      "yoga",
		EffectiveAt:    at,
		IdempotencyKey: "use:1",
		Metadata:       map[string]string{coin.MetaAllocations: "g1:12.5"},
		CreatedAt:      at,
	}
	require.NoError(t, store.Append(ctx, tx))

	// Same key again
	tx.ID = "t2"
	assert.ErrorIs(t, store.Append(ctx, tx), generic.ErrDuplicateIdempotencyKey)

	got, err := store.Query(ctx, generic.TransactionFilter{EntityID: "u1", RelatedType: coin.RelatedCourse, RelatedIDs: []string{"yoga"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, generic.TransactionID("t1"), got[0].ID)
	assert.Equal(t, coin.Government, got[0].ResourceType)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got[0].Amount))
	assert.True(t, at.Equal(got[0].EffectiveAt))
	assert.Equal(t, "g1:12.5", got[0].Meta(coin.MetaAllocations))

	ok, err := store.Exists(ctx, "use:1")
	require.NoError(t, err)
	assert.True(t, ok)

	none, err := store.Query(ctx, generic.TransactionFilter{From: at.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s generic.Store) error {
		cs, err := coin.From(s)
		require.NoError(t, err)
		require.NoError(t, cs.CreateUser(ctx, coin.User{ID: "u1", Name: "Ana", Role: coin.RoleMember, CreatedAt: time.Now()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.WithTx(ctx, func(s generic.Store) error {
		cs, _ := coin.From(s)
		_, err := cs.GetUser(ctx, "u1")
		return err
	})
	assert.True(t, generic.IsNotFound(err))
}

func TestSpendRecords(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	key := coin.SpendKey{UserID: "u1", RelatedType: coin.RelatedProduct, RelatedID: "ball", OrderRef: "o1"}

	err := store.WithTx(ctx, func(s generic.Store) error {
		cs, err := coin.From(s)
		require.NoError(t, err)
		require.NoError(t, cs.CreateUser(ctx, coin.User{ID: "u1", Name: "Ana", Role: coin.RoleMember, CreatedAt: at}))
		require.NoError(t, cs.InsertSpend(ctx, coin.SpendRecord{
			ID: "s1", Key: key, Category: coin.CategoryEquipment,
			TargetAmount: d(80), Government: decimal.Zero, Self: decimal.Zero, CreatedAt: at,
		}))
		assert.ErrorIs(t, cs.InsertSpend(ctx, coin.SpendRecord{ID: "s1", Key: key, CreatedAt: at}), generic.ErrDuplicate)

		require.NoError(t, cs.MarkSpendRefunded(ctx, "s1", at.Add(time.Hour)))
		assert.True(t, generic.IsNotFound(cs.MarkSpendRefunded(ctx, "nope", at)))

		spends, err := cs.ListSpends(ctx, key)
		require.NoError(t, err)
		require.Len(t, spends, 1)
		assert.Equal(t, key, spends[0].Key)
		assert.True(t, d(80).Equal(spends[0].TargetAmount))
		require.NotNil(t, spends[0].RefundedAt)
		assert.True(t, at.Add(time.Hour).Equal(*spends[0].RefundedAt))

		other := key
		other.OrderRef = "o2"
		none, err := cs.ListSpends(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
	require.NoError(t, err)
}

// TestEndToEnd runs the purchase and settlement flow on SQLite.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	clock := generic.NewFixedClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	opts := coin.DefaultOptions()
	opts.Clock = clock

	reader := coin.NewBalanceReader(store, opts)
	writer := coin.NewLedgerWriter(store, opts)
	shop := commerce.NewService(store, coin.NewSpendAuthorizer(store, opts), writer, opts)
	engine := settlement.NewEngine(store, nil, clock, time.Second)

	// GIVEN: A teacher, a member with 500 government coins, a course
	for _, u := range []coin.RegisterRequest{
		{ID: "t1", Name: "Teacher", Role: coin.RoleTeacher},
		{ID: "m1", Name: "Member", Role: coin.RoleMember},
	} {
		_, err := writer.RegisterUser(ctx, u)
		require.NoError(t, err)
	}
	_, err := writer.GrantCoins(ctx, coin.GrantRequest{UserID: "m1", CoinType: coin.Government, Amount: d(500), IdempotencyKey: "grant-1"})
	require.NoError(t, err)
	_, err = writer.RegisterUser(ctx, coin.RegisterRequest{ID: "m1", Name: "Again"})
	assert.ErrorIs(t, err, generic.ErrDuplicate)

	_, err = shop.CreateCourse(ctx, commerce.Course{ID: "yoga", TeacherID: "t1", Title: "Yoga", Price: d(300), MaxStudents: 10})
	require.NoError(t, err)

	// WHEN: Enrolling with 200 government + 100 self
	res, err := shop.Enroll(ctx, commerce.EnrollRequest{UserID: "m1", CourseID: "yoga", Government: d(200), Self: d(100)})
	require.NoError(t, err)

	// THEN
	b, err := reader.GetBalance(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, d(300).Equal(b.Government), "government %s", b.Government)
	assert.True(t, b.Self.IsZero())

	rec, err := reader.Reconcile(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, rec.Balanced())

	_, err = shop.UpdateCompletion(ctx, res.Enrollment.ID, commerce.CompletionCompleted)
	require.NoError(t, err)
	cert, err := shop.IssueCertificate(ctx, res.Enrollment.ID)
	require.NoError(t, err)
	verified, err := shop.VerifyCertificate(ctx, cert.VerificationCode)
	require.NoError(t, err)
	assert.Equal(t, res.Enrollment.ID, verified.EnrollmentID)

	// WHEN: March is settled
	march := generic.Period{Start: generic.Date(2025, 3, 1), End: generic.Date(2025, 3, 31)}
	batch, err := engine.StartAll(ctx, march, 2)
	require.NoError(t, err)

	// THEN: 70% of 300
	require.Len(t, batch.Started, 1)
	assert.True(t, d(210).Equal(batch.Started[0].SharingAmount))

	found, err := engine.List(ctx, settlement.Filter{EntityID: "t1", Period: march})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, settlement.StatusPending, found[0].Status)
	assert.True(t, march.Start.Equal(found[0].PeriodStart))

	// Reset empties every table.
	require.NoError(t, store.Reset(ctx))
	_, err = reader.GetBalance(ctx, "m1")
	assert.True(t, generic.IsNotFound(err))
}
