package settlement

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
)

// Revenue is what an entity earned in a period.
//
//	teacher:  net coins (use - refund) spent on the teacher's courses
//	merchant: net coins spent on the merchant's products
//	          + paid sports sales
type Revenue struct {
	EntityType   EntityType
	EntityID     string
	Period       generic.Period
	CoinRevenue  decimal.Decimal
	SalesRevenue decimal.Decimal
	Transactions int
}

func (r Revenue) Total() decimal.Decimal { return r.CoinRevenue.Add(r.SalesRevenue) }

// computeRevenue aggregates revenue inside an open unit of work.
func computeRevenue(ctx context.Context, s generic.Store, entityType EntityType, entityID string, period generic.Period) (*Revenue, error) {
	ms, err := commerce.From(s)
	if err != nil {
		return nil, err
	}
	from, to := period.Bounds()
	rev := &Revenue{
		EntityType:   entityType,
		EntityID:     entityID,
		Period:       period,
		CoinRevenue:  decimal.Zero,
		SalesRevenue: decimal.Zero,
	}

	var relatedType string
	var relatedIDs []string
	switch entityType {
	case EntityTeacher:
		courses, err := ms.ListCourses(ctx, generic.EntityID(entityID))
		if err != nil {
			return nil, err
		}
		relatedType = coin.RelatedCourse
		for _, c := range courses {
			relatedIDs = append(relatedIDs, c.ID)
		}
	case EntityMerchant:
		products, err := ms.ListProducts(ctx, entityID)
		if err != nil {
			return nil, err
		}
		relatedType = coin.RelatedProduct
		for _, p := range products {
			relatedIDs = append(relatedIDs, p.ID)
		}
		sales, err := ms.ListSales(ctx, entityID, from, to)
		if err != nil {
			return nil, err
		}
		for _, sale := range sales {
			if sale.Status == commerce.SalePaid {
				rev.SalesRevenue = rev.SalesRevenue.Add(sale.Amount)
			}
		}
	default:
		return nil, generic.Invalid("entity_type", "must be teacher or merchant, got %q", entityType)
	}

	if len(relatedIDs) == 0 {
		return rev, nil
	}
	// Refunds are never earlier than their spend, so only the lower bound
	// applies here; later refunds are matched to their spend below.
	txs, err := s.Query(ctx, generic.TransactionFilter{
		RelatedType: relatedType,
		RelatedIDs:  relatedIDs,
		Types:       []generic.TransactionType{generic.TxUse, generic.TxRefund},
		From:        from,
	})
	if err != nil {
		return nil, err
	}
	counted := attributeToSpendPeriod(txs, period)
	rev.CoinRevenue = generic.SignedTotal(counted).Neg()
	rev.Transactions = len(counted)
	return rev, nil
}

// attributeToSpendPeriod keeps the use rows dated inside period and every
// refund of those spends, whenever it happened. A refund therefore lowers
// the revenue of the period that earned it, and no period goes negative.
func attributeToSpendPeriod(txs []generic.Transaction, period generic.Period) []generic.Transaction {
	spent := make(map[string]bool)
	for _, tx := range txs {
		if tx.Type == generic.TxUse && period.Contains(tx.EffectiveAt) {
			spent[tx.Meta(coin.MetaCommitID)] = true
		}
	}
	var out []generic.Transaction
	for _, tx := range txs {
		if spent[tx.Meta(coin.MetaCommitID)] {
			out = append(out, tx)
		}
	}
	return out
}

// entityExists checks the teacher (a user) or merchant record.
func entityExists(ctx context.Context, s generic.Store, entityType EntityType, entityID string) (*commerce.Merchant, error) {
	switch entityType {
	case EntityTeacher:
		cs, err := coin.From(s)
		if err != nil {
			return nil, err
		}
		_, err = cs.GetUser(ctx, generic.EntityID(entityID))
		return nil, err
	case EntityMerchant:
		ms, err := commerce.From(s)
		if err != nil {
			return nil, err
		}
		return ms.GetMerchant(ctx, entityID)
	}
	return nil, generic.Invalid("entity_type", "must be teacher or merchant, got %q", entityType)
}

// Entity identifies a payee.
type Entity struct {
	Type EntityType
	ID   string
}

// listEntities returns teachers owning at least one course and all
// merchants. entityType "" lists both.
func listEntities(ctx context.Context, s generic.Store, entityType EntityType) ([]Entity, error) {
	ms, err := commerce.From(s)
	if err != nil {
		return nil, err
	}
	var out []Entity
	if entityType == "" || entityType == EntityTeacher {
		courses, err := ms.ListCourses(ctx, "")
		if err != nil {
			return nil, err
		}
		seen := make(map[generic.EntityID]bool)
		for _, c := range courses {
			if !seen[c.TeacherID] {
				seen[c.TeacherID] = true
				out = append(out, Entity{Type: EntityTeacher, ID: string(c.TeacherID)})
			}
		}
	}
	if entityType == "" || entityType == EntityMerchant {
		merchants, err := ms.ListMerchants(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range merchants {
			out = append(out, Entity{Type: EntityMerchant, ID: m.ID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type > out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
