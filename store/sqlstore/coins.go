package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

type txRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	CoinType       string          `db:"coin_type"`
	TxType         string          `db:"tx_type"`
	Amount         decimal.Decimal `db:"amount"`
	RelatedType    string          `db:"related_type"`
	RelatedID      string          `db:"related_id"`
	EffectiveAt    string          `db:"effective_at"`
	Notes          string          `db:"notes"`
	IdempotencyKey sql.NullString  `db:"idempotency_key"`
	MetadataJSON   string          `db:"metadata_json"`
	CreatedBy      string          `db:"created_by"`
	CreatedAt      string          `db:"created_at"`
}

const txColumns = `id, user_id, coin_type, tx_type, amount, related_type, related_id,
	effective_at, notes, idempotency_key, metadata_json, created_by, created_at`

func (row txRow) toTransaction() (generic.Transaction, error) {
	tx := generic.Transaction{
		ID:             generic.TransactionID(row.ID),
		EntityID:       generic.EntityID(row.UserID),
		ResourceType:   generic.ResourceFor(row.CoinType),
		Type:           generic.TransactionType(row.TxType),
		Amount:         row.Amount,
		RelatedType:    row.RelatedType,
		RelatedID:      row.RelatedID,
		EffectiveAt:    mustTS(row.EffectiveAt),
		Notes:          row.Notes,
		IdempotencyKey: row.IdempotencyKey.String,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      mustTS(row.CreatedAt),
	}
	if row.MetadataJSON != "" && row.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(row.MetadataJSON), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("transaction %s: bad metadata: %w", row.ID, err)
		}
	}
	return tx, nil
}

func (r *repo) Append(ctx context.Context, tx generic.Transaction) error {
	metadataJSON := []byte("{}")
	if len(tx.Metadata) > 0 {
		var err error
		if metadataJSON, err = json.Marshal(tx.Metadata); err != nil {
			return err
		}
	}
	resource := ""
	if tx.ResourceType != nil {
		resource = tx.ResourceType.ResourceID()
	}
	_, err := r.exec(ctx, `
		INSERT INTO coin_transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.EntityID), resource, string(tx.Type), tx.Amount,
		tx.RelatedType, tx.RelatedID, formatTS(tx.EffectiveAt), tx.Notes,
		nullString(tx.IdempotencyKey), string(metadataJSON), tx.CreatedBy, formatTS(tx.CreatedAt),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			if tx.IdempotencyKey != "" {
				return generic.ErrDuplicateIdempotencyKey
			}
			return fmt.Errorf("%w: transaction %q", generic.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (r *repo) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	keys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if keys[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		keys[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := r.Append(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) Query(ctx context.Context, f generic.TransactionFilter) ([]generic.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.EntityID != "" {
		add("user_id = ?", string(f.EntityID))
	}
	if f.ResourceType != "" {
		add("coin_type = ?", f.ResourceType)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("tx_type IN (?)", types)
	}
	if f.RelatedType != "" {
		add("related_type = ?", f.RelatedType)
	}
	if len(f.RelatedIDs) > 0 {
		add("related_id IN (?)", f.RelatedIDs)
	}
	if f.IdempotencyKey != "" {
		add("idempotency_key = ?", f.IdempotencyKey)
	}
	if !f.From.IsZero() {
		add("effective_at >= ?", formatTS(f.From))
	}
	if !f.To.IsZero() {
		add("effective_at < ?", formatTS(f.To))
	}

	query := "SELECT " + txColumns + " FROM coin_transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	paged := f.Limit > 0
	if paged {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	var rows []txRow
	if err := r.selectIn(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	out := make([]generic.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if !paged {
		out = f.Page(out)
	}
	return out, nil
}

func (r *repo) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := r.get(ctx, &count, "SELECT COUNT(*) FROM coin_transactions WHERE idempotency_key = ?", idempotencyKey)
	return count > 0, err
}

// =============================================================================
// USERS
// =============================================================================

type userRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	Email          string `db:"email"`
	Role           string `db:"role"`
	BalanceVersion int64  `db:"balance_version"`
	CreatedAt      string `db:"created_at"`
}

func (row userRow) toUser() coin.User {
	return coin.User{
		ID:             generic.EntityID(row.ID),
		Name:           row.Name,
		Email:          row.Email,
		Role:           coin.Role(row.Role),
		BalanceVersion: row.BalanceVersion,
		CreatedAt:      mustTS(row.CreatedAt),
	}
}

const userColumns = "id, name, email, role, balance_version, created_at"

func (r *repo) CreateUser(ctx context.Context, u coin.User) error {
	return r.insert(ctx, "user", string(u.ID), `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		string(u.ID), u.Name, u.Email, string(u.Role), u.BalanceVersion, formatTS(u.CreatedAt))
}

func (r *repo) GetUser(ctx context.Context, id generic.EntityID) (*coin.User, error) {
	var row userRow
	if err := r.getOne(ctx, "user", string(id), &row, "SELECT "+userColumns+" FROM users WHERE id = ?", string(id)); err != nil {
		return nil, err
	}
	u := row.toUser()
	return &u, nil
}

func (r *repo) ListUsers(ctx context.Context, role coin.Role) ([]coin.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	var args []any
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY id"
	var rows []userRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]coin.User, len(rows))
	for i, row := range rows {
		out[i] = row.toUser()
	}
	return out, nil
}

// CompareAndBumpVersion is a conditional UPDATE; on PostgreSQL it also
// takes the row lock that serializes writers of the same user.
func (r *repo) CompareAndBumpVersion(ctx context.Context, id generic.EntityID, expected int64) (bool, error) {
	res, err := r.exec(ctx,
		"UPDATE users SET balance_version = balance_version + 1 WHERE id = ? AND balance_version = ?",
		string(id), expected)
	if err != nil {
		return false, fmt.Errorf("failed to bump balance version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.GetUser(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// =============================================================================
// GRANTS (sport_coins)
// =============================================================================

type grantRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	CoinType       string          `db:"coin_type"`
	Amount         decimal.Decimal `db:"amount"`
	OriginalAmount decimal.Decimal `db:"original_amount"`
	ValidUntil     sql.NullString  `db:"valid_until"`
	UsageCategory  string          `db:"usage_category"`
	SourceTxID     string          `db:"source_tx_id"`
	CreatedAt      string          `db:"created_at"`
}

const grantColumns = `id, user_id, coin_type, amount, original_amount, valid_until,
	usage_category, source_tx_id, created_at`

func (row grantRow) toGrant() coin.Grant {
	return coin.Grant{
		ID:             row.ID,
		UserID:         generic.EntityID(row.UserID),
		CoinType:       coin.CoinType(row.CoinType),
		Amount:         row.Amount,
		OriginalAmount: row.OriginalAmount,
		ValidUntil:     parseNullTS(row.ValidUntil),
		UsageCategory:  coin.SpendCategory(row.UsageCategory),
		SourceTxID:     generic.TransactionID(row.SourceTxID),
		CreatedAt:      mustTS(row.CreatedAt),
	}
}

func (r *repo) InsertGrant(ctx context.Context, g coin.Grant) error {
	return r.insert(ctx, "grant", g.ID, `
		INSERT INTO sport_coins (`+grantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, string(g.UserID), string(g.CoinType), g.Amount, g.OriginalAmount, nullTS(g.ValidUntil),
		string(g.UsageCategory), string(g.SourceTxID), formatTS(g.CreatedAt))
}

func (r *repo) GetGrant(ctx context.Context, id string) (*coin.Grant, error) {
	var row grantRow
	if err := r.getOne(ctx, "grant", id, &row, "SELECT "+grantColumns+" FROM sport_coins WHERE id = ?", id); err != nil {
		return nil, err
	}
	g := row.toGrant()
	return &g, nil
}

func (r *repo) UpdateGrantAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	return r.update(ctx, "grant", id, "UPDATE sport_coins SET amount = ? WHERE id = ?", amount, id)
}

func (r *repo) ListGrants(ctx context.Context, userID generic.EntityID, coinType coin.CoinType) ([]coin.Grant, error) {
	query := "SELECT " + grantColumns + " FROM sport_coins WHERE user_id = ?"
	args := []any{string(userID)}
	if coinType != "" {
		query += " AND coin_type = ?"
		args = append(args, string(coinType))
	}
	query += " ORDER BY created_at ASC, id ASC"
	var rows []grantRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	out := make([]coin.Grant, len(rows))
	for i, row := range rows {
		out[i] = row.toGrant()
	}
	return out, nil
}

// =============================================================================
// SPEND RECORDS (spend_commits)
// =============================================================================

type spendRow struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	RelatedType      string          `db:"related_type"`
	RelatedID        string          `db:"related_id"`
	OrderRef         string          `db:"order_ref"`
	Category         string          `db:"category"`
	TargetAmount     decimal.Decimal `db:"target_amount"`
	GovernmentAmount decimal.Decimal `db:"government_amount"`
	SelfAmount       decimal.Decimal `db:"self_amount"`
	CreatedAt        string          `db:"created_at"`
	RefundedAt       sql.NullString  `db:"refunded_at"`
}

const spendColumns = `id, user_id, related_type, related_id, order_ref, category,
	target_amount, government_amount, self_amount, created_at, refunded_at`

func (row spendRow) toSpend() coin.SpendRecord {
	return coin.SpendRecord{
		ID: row.ID,
		Key: coin.SpendKey{
			UserID:      generic.EntityID(row.UserID),
			RelatedType: row.RelatedType,
			RelatedID:   row.RelatedID,
			OrderRef:    row.OrderRef,
		},
		Category:     coin.SpendCategory(row.Category),
		TargetAmount: row.TargetAmount,
		Government:   row.GovernmentAmount,
		Self:         row.SelfAmount,
		CreatedAt:    mustTS(row.CreatedAt),
		RefundedAt:   parseNullTS(row.RefundedAt),
	}
}

func (r *repo) InsertSpend(ctx context.Context, sp coin.SpendRecord) error {
	return r.insert(ctx, "spend", sp.ID, `
		INSERT INTO spend_commits (`+spendColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, string(sp.Key.UserID), sp.Key.RelatedType, sp.Key.RelatedID, sp.Key.OrderRef,
		string(sp.Category), sp.TargetAmount, sp.Government, sp.Self,
		formatTS(sp.CreatedAt), nullTS(sp.RefundedAt))
}

func (r *repo) ListSpends(ctx context.Context, key coin.SpendKey) ([]coin.SpendRecord, error) {
	var rows []spendRow
	err := r.selectAll(ctx, &rows, "SELECT "+spendColumns+` FROM spend_commits
		WHERE user_id = ? AND related_type = ? AND related_id = ? AND order_ref = ?
		ORDER BY created_at ASC, id ASC`,
		string(key.UserID), key.RelatedType, key.RelatedID, key.OrderRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list spends: %w", err)
	}
	out := make([]coin.SpendRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toSpend()
	}
	return out, nil
}

func (r *repo) MarkSpendRefunded(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "spend", id, "UPDATE spend_commits SET refunded_at = ? WHERE id = ?", formatTS(at), id)
}
