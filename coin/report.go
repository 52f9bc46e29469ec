package coin

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

// CoinTotals aggregates one coin type over a period.
type CoinTotals struct {
	CoinType CoinType
	Issued   decimal.Decimal
	Used     decimal.Decimal
	Refunded decimal.Decimal
}

// NetUsed is what was spent and not given back.
func (t CoinTotals) NetUsed() decimal.Decimal { return t.Used.Sub(t.Refunded) }

// RelatedTotals is net coin use for one related type (course, product, ...).
type RelatedTotals struct {
	RelatedType string
	Government  decimal.Decimal
	Self        decimal.Decimal
}

type PeriodReport struct {
	Period    generic.Period
	Coins     []CoinTotals
	ByRelated []RelatedTotals
}

// Report aggregates all ledger activity inside period.
func (r *BalanceReader) Report(ctx context.Context, period generic.Period) (*PeriodReport, error) {
	if period.IsZero() || period.End.Before(period.Start) {
		return nil, generic.ErrInvalidPeriod
	}
	ctx, cancel := generic.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()

	from, to := period.Bounds()
	var txs []generic.Transaction
	err := r.store.WithTx(ctx, func(s generic.Store) error {
		var err error
		txs, err = s.Query(ctx, generic.TransactionFilter{From: from, To: to})
		return err
	})
	if err != nil {
		return nil, generic.Transient("coin report", err)
	}

	report := &PeriodReport{Period: period}
	totals := make(map[CoinType]*CoinTotals, len(CoinTypes))
	for _, ct := range CoinTypes {
		totals[ct] = &CoinTotals{CoinType: ct, Issued: decimal.Zero, Used: decimal.Zero, Refunded: decimal.Zero}
	}
	related := make(map[string]*RelatedTotals)

	for _, tx := range txs {
		if tx.ResourceType == nil {
			continue
		}
		ct := CoinType(tx.ResourceType.ResourceID())
		t, ok := totals[ct]
		if !ok {
			continue
		}
		switch tx.Type {
		case generic.TxReceive:
			t.Issued = t.Issued.Add(tx.Amount)
			continue
		case generic.TxUse:
			t.Used = t.Used.Add(tx.Amount)
		case generic.TxRefund:
			t.Refunded = t.Refunded.Add(tx.Amount)
		}

		rt, ok := related[tx.RelatedType]
		if !ok {
			rt = &RelatedTotals{RelatedType: tx.RelatedType, Government: decimal.Zero, Self: decimal.Zero}
			related[tx.RelatedType] = rt
		}
		net := tx.Signed().Neg()
		if ct == Government {
			rt.Government = rt.Government.Add(net)
		} else {
			rt.Self = rt.Self.Add(net)
		}
	}

	for _, ct := range CoinTypes {
		report.Coins = append(report.Coins, *totals[ct])
	}
	for _, rt := range related {
		report.ByRelated = append(report.ByRelated, *rt)
	}
	sort.Slice(report.ByRelated, func(i, j int) bool {
		return report.ByRelated[i].RelatedType < report.ByRelated[j].RelatedType
	})
	return report, nil
}
