/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Coin and money amounts are shopspring decimals. They are written as JSON
  strings ("150.5") and accepted as strings or numbers.

VALIDATION:
  Shape checks (required fields, enums, signs) are validator/v10 struct
  tags, run by decode() in handlers.go. Business rules stay in the domain
  packages.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Validator setup and custom types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
)

// =============================================================================
// USERS & BALANCES
// =============================================================================

type UserDTO struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Role           string    `json:"role"`
	BalanceVersion int64     `json:"balance_version"`
	CreatedAt      time.Time `json:"created_at"`
}

type RegisterUserRequest struct {
	ID    string `json:"id" validate:"required,max=64"`
	Name  string `json:"name" validate:"required,notblank"`
	Email string `json:"email" validate:"omitempty,email"`
	Role  string `json:"role" validate:"omitempty,oneof=member teacher store admin"`
}

type BalanceDTO struct {
	UserID               string          `json:"user_id"`
	Government           decimal.Decimal `json:"government"`
	Self                 decimal.Decimal `json:"self"`
	Total                decimal.Decimal `json:"total"`
	GovernmentValidUntil *time.Time      `json:"government_valid_until,omitempty"`
	Version              int64           `json:"version"`
	AsOf                 time.Time       `json:"as_of"`
}

type TransactionDTO struct {
	ID           string            `json:"id"`
	CoinType     string            `json:"coin_type"`
	Type         string            `json:"type"`
	Amount       decimal.Decimal   `json:"amount"`
	SignedAmount decimal.Decimal   `json:"signed_amount"`
	RelatedType  string            `json:"related_type,omitempty"`
	RelatedID    string            `json:"related_id,omitempty"`
	EffectiveAt  time.Time         `json:"effective_at"`
	Notes        string            `json:"notes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type CoinSummaryDTO struct {
	CoinType  string          `json:"coin_type"`
	Received  decimal.Decimal `json:"received"`
	Used      decimal.Decimal `json:"used"`
	Refunded  decimal.Decimal `json:"refunded"`
	Available decimal.Decimal `json:"available"`
	Expired   decimal.Decimal `json:"expired"`
}

type SummaryDTO struct {
	UserID  string           `json:"user_id"`
	Balance BalanceDTO       `json:"balance"`
	Coins   []CoinSummaryDTO `json:"coins"`
}

type CoinReconciliationDTO struct {
	CoinType    string          `json:"coin_type"`
	LedgerTotal decimal.Decimal `json:"ledger_total"`
	GrantTotal  decimal.Decimal `json:"grant_total"`
	Drift       decimal.Decimal `json:"drift"`
	Balanced    bool            `json:"balanced"`
}

type ReconciliationDTO struct {
	UserID   string                  `json:"user_id"`
	Balanced bool                    `json:"balanced"`
	Coins    []CoinReconciliationDTO `json:"coins"`
}

// =============================================================================
// SPEND
// =============================================================================

type AuthorizeSpendRequest struct {
	UserID           string           `json:"user_id" validate:"required"`
	TargetAmount     decimal.Decimal  `json:"target_amount" validate:"gte=0"`
	GovernmentAmount decimal.Decimal  `json:"government_amount" validate:"gte=0"`
	SelfAmount       decimal.Decimal  `json:"self_amount" validate:"gte=0"`
	Category         string           `json:"category" validate:"required"`
	ItemCap          *decimal.Decimal `json:"item_cap,omitempty" validate:"omitempty,gte=0"`
}

// AuthorizationDTO carries the signed token the client must hand back to
// /spend/commit unchanged.
type AuthorizationDTO struct {
	Token          string          `json:"token"`
	TokenID        string          `json:"token_id"`
	UserID         string          `json:"user_id"`
	TargetAmount   decimal.Decimal `json:"target_amount"`
	Government     decimal.Decimal `json:"government_amount"`
	Self           decimal.Decimal `json:"self_amount"`
	Category       string          `json:"category"`
	BalanceVersion int64           `json:"balance_version"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type CommitSpendRequest struct {
	Token       string `json:"token" validate:"required"`
	RelatedType string `json:"related_type" validate:"required"`
	RelatedID   string `json:"related_id" validate:"required"`
	OrderRef    string `json:"order_ref"`
	Notes       string `json:"notes"`
}

type CommitDTO struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	RelatedType  string           `json:"related_type"`
	RelatedID    string           `json:"related_id"`
	OrderRef     string           `json:"order_ref,omitempty"`
	Category     string           `json:"category"`
	TargetAmount decimal.Decimal  `json:"target_amount"`
	Government   decimal.Decimal  `json:"government_amount"`
	Self         decimal.Decimal  `json:"self_amount"`
	Transactions []TransactionDTO `json:"transactions"`
	At           time.Time        `json:"at"`
	Replayed     bool             `json:"replayed"`
}

type RefundSpendRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	RelatedType string `json:"related_type" validate:"required"`
	RelatedID   string `json:"related_id" validate:"required"`
	OrderRef    string `json:"order_ref"`
	Notes       string `json:"notes"`
}

type RefundDTO struct {
	Commit   CommitDTO        `json:"commit"`
	Refunds  []TransactionDTO `json:"refunds"`
	Replayed bool             `json:"replayed"`
}

// =============================================================================
// ADMIN: GRANTS & REPORTS
// =============================================================================

type GrantCoinsRequest struct {
	UserID         string          `json:"user_id" validate:"required"`
	CoinType       string          `json:"coin_type" validate:"required,oneof=government self"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	UsageCategory  string          `json:"usage_category"`
	Notes          string          `json:"notes"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type GrantDTO struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	CoinType       string          `json:"coin_type"`
	Amount         decimal.Decimal `json:"amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	UsageCategory  string          `json:"usage_category,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type GrantResultDTO struct {
	Grant       GrantDTO       `json:"grant"`
	Transaction TransactionDTO `json:"transaction"`
	Replayed    bool           `json:"replayed"`
}

type CoinTotalsDTO struct {
	CoinType string          `json:"coin_type"`
	Issued   decimal.Decimal `json:"issued"`
	Used     decimal.Decimal `json:"used"`
	Refunded decimal.Decimal `json:"refunded"`
	NetUsed  decimal.Decimal `json:"net_used"`
}

type RelatedTotalsDTO struct {
	RelatedType string          `json:"related_type"`
	Government  decimal.Decimal `json:"government"`
	Self        decimal.Decimal `json:"self"`
}

type CoinReportDTO struct {
	PeriodStart string             `json:"period_start"`
	PeriodEnd   string             `json:"period_end"`
	Coins       []CoinTotalsDTO    `json:"coins"`
	ByRelated   []RelatedTotalsDTO `json:"by_related"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CourseDTO struct {
	ID                string           `json:"id"`
	TeacherID         string           `json:"teacher_id"`
	Title             string           `json:"title"`
	Category          string           `json:"category"`
	Price             decimal.Decimal  `json:"price"`
	MaxGovernmentCoin *decimal.Decimal `json:"max_government_coin_amount,omitempty"`
	MaxStudents       int              `json:"max_students"`
	CurrentStudents   int              `json:"current_students"`
	CreatedAt         time.Time        `json:"created_at"`
}

type CreateCourseRequest struct {
	ID                string           `json:"id"`
	TeacherID         string           `json:"teacher_id" validate:"required"`
	Title             string           `json:"title" validate:"required,notblank"`
	Category          string           `json:"category"`
	Price             decimal.Decimal  `json:"price" validate:"gte=0"`
	MaxGovernmentCoin *decimal.Decimal `json:"max_government_coin_amount,omitempty" validate:"omitempty,gte=0"`
	MaxStudents       int              `json:"max_students" validate:"gte=0"`
}

type ProductDTO struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CreateProductRequest struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id" validate:"required"`
	Name          string          `json:"name" validate:"required,notblank"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price" validate:"gte=0"`
	StockQuantity int             `json:"stock_quantity" validate:"gte=0"`
}

type MerchantDTO struct {
	ID                string           `json:"id"`
	OwnerID           string           `json:"owner_id,omitempty"`
	Name              string           `json:"name"`
	SharingPercentage *decimal.Decimal `json:"sharing_percentage,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type CreateMerchantRequest struct {
	ID                string           `json:"id"`
	OwnerID           string           `json:"owner_id"`
	Name              string           `json:"name" validate:"required,notblank"`
	SharingPercentage *decimal.Decimal `json:"sharing_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// =============================================================================
// PURCHASES
// =============================================================================

type EnrollCourseRequest struct {
	UserID           string          `json:"user_id" validate:"required"`
	GovernmentAmount decimal.Decimal `json:"government_amount" validate:"gte=0"`
	SelfAmount       decimal.Decimal `json:"self_amount" validate:"gte=0"`
	Notes            string          `json:"notes"`
}

type EnrollmentDTO struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	CourseID           string          `json:"course_id"`
	PaymentAmount      decimal.Decimal `json:"payment_amount"`
	GovernmentCoinUsed decimal.Decimal `json:"government_coin_used"`
	SelfCoinUsed       decimal.Decimal `json:"self_coin_used"`
	PaymentStatus      string          `json:"payment_status"`
	CompletionStatus   string          `json:"completion_status"`
	CertificateIssued  bool            `json:"certificate_issued"`
	EnrolledAt         time.Time       `json:"enrolled_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

type EnrollmentResultDTO struct {
	Enrollment EnrollmentDTO `json:"enrollment"`
	Commit     CommitDTO     `json:"commit"`
}

type RedeemProductRequest struct {
	UserID           string          `json:"user_id" validate:"required"`
	GovernmentAmount decimal.Decimal `json:"government_amount" validate:"gte=0"`
	SelfAmount       decimal.Decimal `json:"self_amount" validate:"gte=0"`
	OrderRef         string          `json:"order_ref"`
	Notes            string          `json:"notes"`
}

type RedeemDTO struct {
	Product  ProductDTO `json:"product"`
	OrderRef string     `json:"order_ref"`
	Commit   CommitDTO  `json:"commit"`
	Replayed bool       `json:"replayed"`
}

type UpdateCompletionRequest struct {
	Status string `json:"status" validate:"required,oneof=not_started in_progress completed"`
}

type CancelEnrollmentRequest struct {
	Notes string `json:"notes"`
}

type CertificateDTO struct {
	ID               string    `json:"id"`
	EnrollmentID     string    `json:"enrollment_id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	Number           string    `json:"certificate_number"`
	VerificationCode string    `json:"verification_code"`
	IsValid          bool      `json:"is_valid"`
	IssuedAt         time.Time `json:"issued_at"`
}

// =============================================================================
// MERCHANT SALES & FEES
// =============================================================================

type RecordSaleRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Status      string          `json:"status" validate:"omitempty,oneof=paid pending cancelled"`
	Description string          `json:"description"`
	SoldAt      *time.Time      `json:"sold_at,omitempty"`
}

type SaleDTO struct {
	ID          string          `json:"id"`
	MerchantID  string          `json:"merchant_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Description string          `json:"description,omitempty"`
	SoldAt      time.Time       `json:"sold_at"`
}

type RecordFeeRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gte=0"`
	PeriodStart string          `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string          `json:"period_end" validate:"required,datetime=2006-01-02"`
	Notes       string          `json:"notes"`
}

type MerchantFeeDTO struct {
	ID          string          `json:"id"`
	MerchantID  string          `json:"merchant_id"`
	Amount      decimal.Decimal `json:"amount"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type StartSettlementRequest struct {
	EntityType  string `json:"entity_type" validate:"required,oneof=teacher merchant"`
	EntityID    string `json:"entity_id" validate:"required"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
}

type AdvanceSettlementRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing settled failed"`
	Reason string `json:"reason"`
}

type RunSettlementsRequest struct {
	PeriodStart string `json:"period_start" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
}

type SettlementDTO struct {
	ID                string          `json:"id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	PeriodStart       string          `json:"period_start"`
	PeriodEnd         string          `json:"period_end"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	SharingPercentage decimal.Decimal `json:"sharing_percentage"`
	SharingAmount     decimal.Decimal `json:"sharing_amount"`
	Status            string          `json:"status"`
	SettlementDate    *time.Time      `json:"settlement_date,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type SettlementPreviewDTO struct {
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	CoinRevenue       decimal.Decimal `json:"coin_revenue"`
	SalesRevenue      decimal.Decimal `json:"sales_revenue"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	Transactions      int             `json:"transactions"`
	SharingPercentage decimal.Decimal `json:"sharing_percentage"`
	SharingAmount     decimal.Decimal `json:"sharing_amount"`
}

type SettlementRunDTO struct {
	PeriodStart string            `json:"period_start"`
	PeriodEnd   string            `json:"period_end"`
	Started     []SettlementDTO   `json:"started"`
	Skipped     []string          `json:"skipped"`
	Failed      map[string]string `json:"failed"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u coin.User) UserDTO {
	return UserDTO{
		ID:             string(u.ID),
		Name:           u.Name,
		Email:          u.Email,
		Role:           string(u.Role),
		BalanceVersion: u.BalanceVersion,
		CreatedAt:      u.CreatedAt,
	}
}

func toBalanceDTO(b coin.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:               string(b.UserID),
		Government:           b.Government,
		Self:                 b.Self,
		Total:                b.Government.Add(b.Self),
		GovernmentValidUntil: b.GovernmentValidUntil,
		Version:              b.Version,
		AsOf:                 b.AsOf,
	}
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:           string(tx.ID),
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		SignedAmount: tx.Signed(),
		RelatedType:  tx.RelatedType,
		RelatedID:    tx.RelatedID,
		EffectiveAt:  tx.EffectiveAt,
		Notes:        tx.Notes,
		Metadata:     tx.Metadata,
		CreatedBy:    tx.CreatedBy,
		CreatedAt:    tx.CreatedAt,
	}
	if tx.ResourceType != nil {
		dto.CoinType = tx.ResourceType.ResourceID()
	}
	return dto
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

func toCommitDTO(c coin.Commit, replayed bool) CommitDTO {
	return CommitDTO{
		ID:           c.ID,
		UserID:       string(c.UserID),
		RelatedType:  c.RelatedType,
		RelatedID:    c.RelatedID,
		OrderRef:     c.OrderRef,
		Category:     string(c.Category),
		TargetAmount: c.TargetAmount,
		Government:   c.Government,
		Self:         c.Self,
		Transactions: toTransactionDTOs(c.Transactions),
		At:           c.At,
		Replayed:     replayed,
	}
}

func toGrantDTO(g coin.Grant) GrantDTO {
	return GrantDTO{
		ID:             g.ID,
		UserID:         string(g.UserID),
		CoinType:       string(g.CoinType),
		Amount:         g.Amount,
		OriginalAmount: g.OriginalAmount,
		ValidUntil:     g.ValidUntil,
		UsageCategory:  string(g.UsageCategory),
		CreatedAt:      g.CreatedAt,
	}
}

func toCourseDTO(c commerce.Course) CourseDTO {
	return CourseDTO{
		ID:                c.ID,
		TeacherID:         string(c.TeacherID),
		Title:             c.Title,
		Category:          string(c.Category),
		Price:             c.Price,
		MaxGovernmentCoin: c.MaxGovernmentCoin,
		MaxStudents:       c.MaxStudents,
		CurrentStudents:   c.CurrentStudents,
		CreatedAt:         c.CreatedAt,
	}
}

func toProductDTO(p commerce.Product) ProductDTO {
	return ProductDTO{
		ID:            p.ID,
		MerchantID:    p.MerchantID,
		Name:          p.Name,
		Category:      string(p.Category),
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		CreatedAt:     p.CreatedAt,
	}
}

func toMerchantDTO(m commerce.Merchant) MerchantDTO {
	return MerchantDTO{
		ID:                m.ID,
		OwnerID:           string(m.OwnerID),
		Name:              m.Name,
		SharingPercentage: m.SharingPercentage,
		CreatedAt:         m.CreatedAt,
	}
}

func toEnrollmentDTO(e commerce.Enrollment) EnrollmentDTO {
	return EnrollmentDTO{
		ID:                 e.ID,
		UserID:             string(e.UserID),
		CourseID:           e.CourseID,
		PaymentAmount:      e.PaymentAmount,
		GovernmentCoinUsed: e.GovernmentCoinUsed,
		SelfCoinUsed:       e.SelfCoinUsed,
		PaymentStatus:      string(e.PaymentStatus),
		CompletionStatus:   string(e.CompletionStatus),
		CertificateIssued:  e.CertificateIssued,
		EnrolledAt:         e.EnrolledAt,
		CompletedAt:        e.CompletedAt,
	}
}

func toCertificateDTO(c commerce.Certificate) CertificateDTO {
	return CertificateDTO{
		ID:               c.ID,
		EnrollmentID:     c.EnrollmentID,
		UserID:           string(c.UserID),
		CourseID:         c.CourseID,
		Number:           c.Number,
		VerificationCode: c.VerificationCode,
		IsValid:          c.Valid,
		IssuedAt:         c.IssuedAt,
	}
}

func toSaleDTO(s commerce.SportsSale) SaleDTO {
	return SaleDTO{
		ID:          s.ID,
		MerchantID:  s.MerchantID,
		Amount:      s.Amount,
		Status:      string(s.Status),
		Description: s.Description,
		SoldAt:      s.SoldAt,
	}
}

func toMerchantFeeDTO(f commerce.MerchantFee) MerchantFeeDTO {
	return MerchantFeeDTO{
		ID:          f.ID,
		MerchantID:  f.MerchantID,
		Amount:      f.Amount,
		PeriodStart: f.PeriodStart.Format(generic.DateLayout),
		PeriodEnd:   f.PeriodEnd.Format(generic.DateLayout),
		Notes:       f.Notes,
		CreatedAt:   f.CreatedAt,
	}
}

func toSettlementDTO(r settlement.RevenueSharing) SettlementDTO {
	return SettlementDTO{
		ID:                r.ID,
		EntityType:        string(r.EntityType),
		EntityID:          r.EntityID,
		PeriodStart:       r.PeriodStart.Format(generic.DateLayout),
		PeriodEnd:         r.PeriodEnd.Format(generic.DateLayout),
		TotalRevenue:      r.TotalRevenue,
		SharingPercentage: r.SharingPercentage,
		SharingAmount:     r.SharingAmount,
		Status:            string(r.Status),
		SettlementDate:    r.SettlementDate,
		FailureReason:     r.FailureReason,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toSettlementDTOs(rows []settlement.RevenueSharing) []SettlementDTO {
	out := make([]SettlementDTO, len(rows))
	for i, r := range rows {
		out[i] = toSettlementDTO(r)
	}
	return out
}

func toPreviewDTO(c settlement.Computation) SettlementPreviewDTO {
	return SettlementPreviewDTO{
		EntityType:        string(c.Revenue.EntityType),
		EntityID:          c.Revenue.EntityID,
		CoinRevenue:       c.Revenue.CoinRevenue,
		SalesRevenue:      c.Revenue.SalesRevenue,
		TotalRevenue:      c.Revenue.Total(),
		Transactions:      c.Revenue.Transactions,
		SharingPercentage: c.SharingPercentage,
		SharingAmount:     c.SharingAmount,
	}
}

func toRunDTO(res *settlement.BatchResult) SettlementRunDTO {
	dto := SettlementRunDTO{
		PeriodStart: res.Period.Start.Format(generic.DateLayout),
		PeriodEnd:   res.Period.End.Format(generic.DateLayout),
		Started:     toSettlementDTOs(res.Started),
		Skipped:     make([]string, len(res.Skipped)),
		Failed:      make(map[string]string, len(res.Failed)),
	}
	for i, e := range res.Skipped {
		dto.Skipped[i] = string(e.Type) + "/" + e.ID
	}
	for e, err := range res.Failed {
		dto.Failed[string(e.Type)+"/"+e.ID] = err.Error()
	}
	return dto
}
