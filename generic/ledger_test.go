package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

func tx(id string, t generic.TransactionType, amount int64, key string) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(id),
		EntityID:       "u1",
		ResourceType:   coin.Government,
		Type:           t,
		Amount:         decimal.NewFromInt(amount),
		EffectiveAt:    day,
		IdempotencyKey: key,
		CreatedAt:      day,
	}
}

func TestLedger_BalanceIsSignedSum(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(memory.New())

	// GIVEN: receive 500, use 200, refund 50
	require.NoError(t, ledger.Append(ctx, tx("t1", generic.TxReceive, 500, "k1")))
	require.NoError(t, ledger.Append(ctx, tx("t2", generic.TxUse, 200, "k2")))
	require.NoError(t, ledger.Append(ctx, tx("t3", generic.TxRefund, 50, "k3")))

	// WHEN
	bal, err := ledger.Balance(ctx, "u1", coin.Government)

	// THEN
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(350).Equal(bal), "got %s", bal)

	self, err := ledger.Balance(ctx, "u1", coin.Self)
	require.NoError(t, err)
	assert.True(t, self.IsZero())
}

func TestLedger_RejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(memory.New())

	require.NoError(t, ledger.Append(ctx, tx("t1", generic.TxReceive, 100, "grant-1")))

	err := ledger.Append(ctx, tx("t2", generic.TxReceive, 100, "grant-1"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// Within one batch as well, and nothing of the batch is written.
	err = ledger.AppendBatch(ctx, []generic.Transaction{
		tx("t3", generic.TxReceive, 10, "b"),
		tx("t4", generic.TxReceive, 10, "b"),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	txs, err := ledger.Transactions(ctx, generic.TransactionFilter{EntityID: "u1"})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_ValidatesRows(t *testing.T) {
	ctx := context.Background()
	ledger := generic.NewLedger(memory.New())

	tests := []struct {
		name   string
		mutate func(*generic.Transaction)
	}{
		{"zero amount", func(t *generic.Transaction) { t.Amount = decimal.Zero }},
		{"negative amount", func(t *generic.Transaction) { t.Amount = decimal.NewFromInt(-5) }},
		{"unknown type", func(t *generic.Transaction) { t.Type = "adjust" }},
		{"no user", func(t *generic.Transaction) { t.EntityID = "" }},
		{"no coin type", func(t *generic.Transaction) { t.ResourceType = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tx("t1", generic.TxReceive, 10, "")
			tt.mutate(&row)
			err := ledger.Append(ctx, row)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestTransactionFilter_MatchesAndPages(t *testing.T) {
	row := tx("t1", generic.TxUse, 10, "")
	row.RelatedType = "course"
	row.RelatedID = "yoga"

	assert.True(t, generic.TransactionFilter{}.Matches(row))
	assert.True(t, generic.TransactionFilter{RelatedType: "course", RelatedIDs: []string{"a", "yoga"}}.Matches(row))
	assert.False(t, generic.TransactionFilter{Types: []generic.TransactionType{generic.TxRefund}}.Matches(row))
	assert.False(t, generic.TransactionFilter{ResourceType: "self"}.Matches(row))

	// From inclusive, To exclusive
	assert.True(t, generic.TransactionFilter{From: day}.Matches(row))
	assert.False(t, generic.TransactionFilter{To: day}.Matches(row))

	rows := []generic.Transaction{row, row, row}
	assert.Len(t, generic.TransactionFilter{Limit: 2}.Page(rows), 2)
	assert.Len(t, generic.TransactionFilter{Offset: 2}.Page(rows), 1)
	assert.Empty(t, generic.TransactionFilter{Offset: 5}.Page(rows))
}

func TestTransaction_Signed(t *testing.T) {
	assert.True(t, decimal.NewFromInt(-10).Equal(tx("a", generic.TxUse, 10, "").Signed()))
	assert.True(t, decimal.NewFromInt(10).Equal(tx("a", generic.TxRefund, 10, "").Signed()))
	assert.True(t, decimal.NewFromInt(10).Equal(tx("a", generic.TxReceive, 10, "").Signed()))
}
