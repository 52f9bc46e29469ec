package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
)

// =============================================================================
// REVENUE SHARING (settlement.Store interface)
// =============================================================================

type sharingRow struct {
	ID                string          `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          string          `db:"entity_id"`
	PeriodStart       string          `db:"period_start"`
	PeriodEnd         string          `db:"period_end"`
	TotalRevenue      decimal.Decimal `db:"total_revenue"`
	SharingPercentage decimal.Decimal `db:"sharing_percentage"`
	SharingAmount     decimal.Decimal `db:"sharing_amount"`
	Status            string          `db:"status"`
	SettlementDate    sql.NullString  `db:"settlement_date"`
	FailureReason     string          `db:"failure_reason"`
	CreatedAt         string          `db:"created_at"`
	UpdatedAt         string          `db:"updated_at"`
}

const sharingColumns = `id, entity_type, entity_id, period_start, period_end, total_revenue,
	sharing_percentage, sharing_amount, status, settlement_date, failure_reason, created_at, updated_at`

func (row sharingRow) toSharing() settlement.RevenueSharing {
	return settlement.RevenueSharing{
		ID:                row.ID,
		EntityType:        settlement.EntityType(row.EntityType),
		EntityID:          row.EntityID,
		PeriodStart:       mustDate(row.PeriodStart),
		PeriodEnd:         mustDate(row.PeriodEnd),
		TotalRevenue:      row.TotalRevenue,
		SharingPercentage: row.SharingPercentage,
		SharingAmount:     row.SharingAmount,
		Status:            settlement.Status(row.Status),
		SettlementDate:    parseNullTS(row.SettlementDate),
		FailureReason:     row.FailureReason,
		CreatedAt:         mustTS(row.CreatedAt),
		UpdatedAt:         mustTS(row.UpdatedAt),
	}
}

func (r *repo) CreateSharing(ctx context.Context, s settlement.RevenueSharing) error {
	return r.insert(ctx, "settlement", string(s.EntityType)+"/"+s.EntityID+"/"+s.Period().String(), `
		INSERT INTO revenue_sharing (`+sharingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.EntityType), s.EntityID, formatDate(s.PeriodStart), formatDate(s.PeriodEnd),
		s.TotalRevenue, s.SharingPercentage, s.SharingAmount, string(s.Status),
		nullTS(s.SettlementDate), s.FailureReason, formatTS(s.CreatedAt), formatTS(s.UpdatedAt))
}

func (r *repo) UpdateSharing(ctx context.Context, s settlement.RevenueSharing) error {
	return r.update(ctx, "settlement", s.ID, `
		UPDATE revenue_sharing SET total_revenue = ?, sharing_percentage = ?, sharing_amount = ?,
			status = ?, settlement_date = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		s.TotalRevenue, s.SharingPercentage, s.SharingAmount, string(s.Status),
		nullTS(s.SettlementDate), s.FailureReason, formatTS(s.UpdatedAt), s.ID)
}

func (r *repo) GetSharing(ctx context.Context, id string) (*settlement.RevenueSharing, error) {
	var row sharingRow
	if err := r.getOne(ctx, "settlement", id, &row, r.forUpdate("SELECT "+sharingColumns+" FROM revenue_sharing WHERE id = ?"), id); err != nil {
		return nil, err
	}
	s := row.toSharing()
	return &s, nil
}

func (r *repo) FindSharing(ctx context.Context, entityType settlement.EntityType, entityID string, period generic.Period) (*settlement.RevenueSharing, error) {
	var row sharingRow
	err := r.get(ctx, &row, r.forUpdate(`SELECT `+sharingColumns+` FROM revenue_sharing
		WHERE entity_type = ? AND entity_id = ? AND period_start = ? AND period_end = ?`),
		string(entityType), entityID, formatDate(period.Start), formatDate(period.End))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	s := row.toSharing()
	return &s, nil
}

func (r *repo) ListSharing(ctx context.Context, f settlement.Filter) ([]settlement.RevenueSharing, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Period.IsZero() {
		where = append(where, "period_start = ? AND period_end = ?")
		args = append(args, formatDate(f.Period.Start), formatDate(f.Period.End))
	}
	query := "SELECT " + sharingColumns + " FROM revenue_sharing"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period_start DESC, entity_type DESC, entity_id ASC"

	var rows []sharingRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	out := make([]settlement.RevenueSharing, len(rows))
	for i, row := range rows {
		out[i] = row.toSharing()
	}
	return out, nil
}
