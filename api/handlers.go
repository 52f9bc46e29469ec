/*
handlers.go - HTTP API handlers for the Sport Coin engine

PURPOSE:
  Exposes balances, spending, grants, the course/product catalog and
  settlements via REST. Handles HTTP request/response and JSON, and
  delegates to the coin, commerce and settlement packages.

ENDPOINTS:
  Users:
    POST   /api/users                       Register (+ registration bonus)
    GET    /api/users/{id}                  User
    GET    /api/users/{id}/balance          Spendable balance
    GET    /api/users/{id}/transactions     Ledger history
    GET    /api/users/{id}/summary          Lifetime totals
    GET    /api/users/{id}/reconciliation   Ledger vs grants
    GET    /api/users/{id}/enrollments      Course enrollments

  Spend:
    POST   /api/spend/authorize             Check a split, return a signed token
    POST   /api/spend/commit                Commit a token
    POST   /api/spend/refund                Refund a commit

  Catalog & purchases:
    POST   /api/courses, /api/products, /api/merchants
    POST   /api/courses/{id}/enroll, /api/products/{id}/redeem
    POST   /api/enrollments/{id}/completion|certificate|cancel
    GET    /api/certificates/{code}         Public verification

  Admin:
    POST   /api/admin/grants                Grant coins
    GET    /api/admin/reports/coins         Period report
    *      /api/settlements/...             Revenue sharing

ARCHITECTURE:
  Handler holds the services; NewHandler builds them on one TxStore and
  registers the commerce side effects on the ledger writer.

REQUEST FLOW:
  1. Decode and validate the body (validator/v10 tags on the DTO)
  2. Check the caller may act for the user (auth.go)
  3. Call the domain service
  4. Serialize the response, or map the error (errors.go)

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 401/403: Missing token, wrong user or role
  - 404: Resource not found
  - 409: Conflict (stale authorization, duplicate, bad status transition)
  - 422: Business rule (balance, cap, overspend, expired, sold out)
  - 503: Timeout or busy storage, safe to retry
  - 500: Internal errors (logged, not echoed)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/logging"
	"github.com/sportcoin/coin-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Config carries what NewHandler needs.
type Config struct {
	Store   generic.TxStore
	Options coin.Options
	Sharing *settlement.SharingPolicy

	// SpendTokenSecret signs authorization tokens. Required.
	SpendTokenSecret []byte
	// JWTSecret verifies caller tokens; empty disables authentication.
	JWTSecret string

	AllowedOrigins        []string
	SettlementPeriod      generic.PeriodType
	SettlementConcurrency int

	Logger *logging.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      generic.TxStore
	Balances   *coin.BalanceReader
	Authorizer *coin.SpendAuthorizer
	Writer     *coin.LedgerWriter
	Commerce   *commerce.Service
	Settlement *settlement.Engine

	allowedOrigins        []string
	settlementPeriod      generic.PeriodType
	settlementConcurrency int

	tokens   *SpendTokenSigner
	auth     *Authenticator
	log      *logging.Logger
	clock    generic.Clock
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services on cfg.Store.
func NewHandler(cfg Config) *Handler {
	opts := cfg.Options
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.SettlementPeriod == "" {
		cfg.SettlementPeriod = generic.PeriodMonthly
	}

	authorizer := coin.NewSpendAuthorizer(cfg.Store, opts)
	writer := coin.NewLedgerWriter(cfg.Store, opts)
	return &Handler{
		Store:      cfg.Store,
		Balances:   coin.NewBalanceReader(cfg.Store, opts),
		Authorizer: authorizer,
		Writer:     writer,
		Commerce:   commerce.NewService(cfg.Store, authorizer, writer, opts),
		Settlement: settlement.NewEngine(cfg.Store, cfg.Sharing, opts.Clock, opts.OpTimeout),

		allowedOrigins:        cfg.AllowedOrigins,
		settlementPeriod:      cfg.SettlementPeriod,
		settlementConcurrency: cfg.SettlementConcurrency,

		tokens:   NewSpendTokenSigner(cfg.SpendTokenSecret),
		auth:     NewAuthenticator(cfg.JWTSecret),
		log:      cfg.Logger.With("API"),
		clock:    opts.Clock,
		validate: newValidator(),
	}
}

// Auth returns the authenticator, nil when authentication is off.
func (h *Handler) Auth() *Authenticator { return h.auth }

// decode reads a JSON body into dst and runs its validate tags. It writes
// the 400 itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.fail(w, r, validationError(err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// RegisterUser creates a user and credits the registration bonus.
// POST /api/users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	role := coin.Role(req.Role)
	if role == coin.RoleAdmin && h.auth != nil {
		if c, ok := CallerFrom(r.Context()); !ok || !c.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
	}

	u, err := h.Writer.RegisterUser(r.Context(), coin.RegisterRequest{
		ID:    generic.EntityID(req.ID),
		Name:  req.Name,
		Email: req.Email,
		Role:  role,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Balances.GetUser(r.Context(), userParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// GetBalance returns what the user can spend right now.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Balances.GetBalance(r.Context(), userParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// GetTransactions returns ledger history, oldest first.
// GET /api/users/{id}/transactions?coin_type=&type=use,refund&related_type=&from=&to=&limit=&offset=
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.EntityID = userParam(r)

	txs, err := h.Balances.History(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GET /api/users/{id}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Balances.Summary(r.Context(), userParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := SummaryDTO{UserID: string(s.UserID), Balance: toBalanceDTO(s.Balance)}
	for _, c := range s.Coins {
		dto.Coins = append(dto.Coins, CoinSummaryDTO{
			CoinType:  string(c.CoinType),
			Received:  c.Received,
			Used:      c.Used,
			Refunded:  c.Refunded,
			Available: c.Available,
			Expired:   c.Expired,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GET /api/users/{id}/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Balances.Reconcile(r.Context(), userParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !rec.Balanced() {
		h.log.Warnf("ledger drift for user %s", rec.UserID)
	}
	dto := ReconciliationDTO{UserID: string(rec.UserID), Balanced: rec.Balanced()}
	for _, c := range rec.Coins {
		dto.Coins = append(dto.Coins, CoinReconciliationDTO{
			CoinType:    string(c.CoinType),
			LedgerTotal: c.LedgerTotal,
			GrantTotal:  c.GrantTotal,
			Drift:       c.Drift(),
			Balanced:    c.Balanced(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GET /api/users/{id}/enrollments
func (h *Handler) ListUserEnrollments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Commerce.ListEnrollments(r.Context(), userParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EnrollmentDTO, len(list))
	for i, e := range list {
		dtos[i] = toEnrollmentDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SPEND HANDLERS
// =============================================================================

// AuthorizeSpend checks a coin split and returns a signed token. Nothing is
// written.
// POST /api/spend/authorize
func (h *Handler) AuthorizeSpend(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeSpendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allowedFor(w, r, req.UserID) {
		return
	}

	token, err := h.Authorizer.Authorize(r.Context(), coin.SpendRequest{
		UserID:       generic.EntityID(req.UserID),
		TargetAmount: req.TargetAmount,
		Government:   req.GovernmentAmount,
		Self:         req.SelfAmount,
		Category:     coin.SpendCategory(req.Category),
		ItemCap:      req.ItemCap,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	signed, err := h.tokens.Sign(*token)
	if err != nil {
		h.fail(w, r, fmt.Errorf("sign authorization: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, AuthorizationDTO{
		Token:          signed,
		TokenID:        token.ID,
		UserID:         string(token.UserID),
		TargetAmount:   token.TargetAmount,
		Government:     token.Government,
		Self:           token.Self,
		Category:       string(token.Category),
		BalanceVersion: token.BalanceVersion,
		ExpiresAt:      token.ExpiresAt,
	})
}

// CommitSpend records a previously authorized spend. Replays of the same
// (related, order_ref) return the original commit with replayed=true.
// POST /api/spend/commit
func (h *Handler) CommitSpend(w http.ResponseWriter, r *http.Request) {
	var req CommitSpendRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.tokens.Parse(req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.allowedFor(w, r, string(token.UserID)) {
		return
	}

	res, err := h.Writer.CommitSpend(r.Context(), coin.CommitRequest{
		Token:       token,
		RelatedType: req.RelatedType,
		RelatedID:   req.RelatedID,
		OrderRef:    req.OrderRef,
		Notes:       req.Notes,
		CreatedBy:   h.callerName(r, string(token.UserID)),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toCommitDTO(res.Commit, res.Replayed))
}

// RefundSpend gives a commit's coins back to the grants they came from.
// POST /api/spend/refund
func (h *Handler) RefundSpend(w http.ResponseWriter, r *http.Request) {
	var req RefundSpendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allowedFor(w, r, req.UserID) {
		return
	}
	// Refunding a course cancels the enrollment, which only admins may do.
	if req.RelatedType == coin.RelatedCourse && h.auth != nil && !hasRole(r, nil) {
		writeError(w, http.StatusForbidden, "course refunds require enrollment cancellation rights", nil)
		return
	}

	res, err := h.Writer.Refund(r.Context(), coin.RefundRequest{
		UserID:      generic.EntityID(req.UserID),
		RelatedType: req.RelatedType,
		RelatedID:   req.RelatedID,
		OrderRef:    req.OrderRef,
		Notes:       req.Notes,
		CreatedBy:   h.callerName(r, req.UserID),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefundDTO{
		Commit:   toCommitDTO(res.Commit, false),
		Refunds:  toTransactionDTOs(res.Refunds),
		Replayed: res.Replayed,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GrantCoins credits government or self coins.
// POST /api/admin/grants
func (h *Handler) GrantCoins(w http.ResponseWriter, r *http.Request) {
	var req GrantCoinsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Writer.GrantCoins(r.Context(), coin.GrantRequest{
		UserID:         generic.EntityID(req.UserID),
		CoinType:       coin.CoinType(req.CoinType),
		Amount:         req.Amount,
		ValidUntil:     req.ValidUntil,
		UsageCategory:  coin.SpendCategory(req.UsageCategory),
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      h.callerName(r, "admin"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, GrantResultDTO{
		Grant:       toGrantDTO(res.Grant),
		Transaction: toTransactionDTO(res.Transaction),
		Replayed:    res.Replayed,
	})
}

// CoinReport aggregates ledger activity for a period.
// GET /api/admin/reports/coins?period_start=2025-01-01&period_end=2025-01-31
func (h *Handler) CoinReport(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.Balances.Report(r.Context(), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dto := CoinReportDTO{
		PeriodStart: rep.Period.Start.Format(generic.DateLayout),
		PeriodEnd:   rep.Period.End.Format(generic.DateLayout),
		Coins:       []CoinTotalsDTO{},
		ByRelated:   []RelatedTotalsDTO{},
	}
	for _, c := range rep.Coins {
		dto.Coins = append(dto.Coins, CoinTotalsDTO{
			CoinType: string(c.CoinType),
			Issued:   c.Issued,
			Used:     c.Used,
			Refunded: c.Refunded,
			NetUsed:  c.NetUsed(),
		})
	}
	for _, rt := range rep.ByRelated {
		dto.ByRelated = append(dto.ByRelated, RelatedTotalsDTO{
			RelatedType: rt.RelatedType,
			Government:  rt.Government,
			Self:        rt.Self,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// POST /api/courses
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allowedFor(w, r, req.TeacherID) {
		return
	}
	c, err := h.Commerce.CreateCourse(r.Context(), commerce.Course{
		ID:                req.ID,
		TeacherID:         generic.EntityID(req.TeacherID),
		Title:             req.Title,
		Category:          coin.SpendCategory(req.Category),
		Price:             req.Price,
		MaxGovernmentCoin: req.MaxGovernmentCoin,
		MaxStudents:       req.MaxStudents,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCourseDTO(*c))
}

// GET /api/courses/{id}
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.Commerce.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseDTO(*c))
}

// POST /api/merchants
func (h *Handler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req CreateMerchantRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Commerce.CreateMerchant(r.Context(), commerce.Merchant{
		ID:                req.ID,
		OwnerID:           generic.EntityID(req.OwnerID),
		Name:              req.Name,
		SharingPercentage: req.SharingPercentage,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMerchantDTO(*m))
}

// GET /api/merchants/{id}
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	m, err := h.Commerce.GetMerchant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMerchantDTO(*m))
}

// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Commerce.CreateProduct(r.Context(), commerce.Product{
		ID:            req.ID,
		MerchantID:    req.MerchantID,
		Name:          req.Name,
		Category:      coin.SpendCategory(req.Category),
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Commerce.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// EnrollCourse pays for a course with coins.
// POST /api/courses/{id}/enroll
func (h *Handler) EnrollCourse(w http.ResponseWriter, r *http.Request) {
	var req EnrollCourseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allowedFor(w, r, req.UserID) {
		return
	}
	res, err := h.Commerce.Enroll(r.Context(), commerce.EnrollRequest{
		UserID:     generic.EntityID(req.UserID),
		CourseID:   chi.URLParam(r, "id"),
		Government: req.GovernmentAmount,
		Self:       req.SelfAmount,
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, EnrollmentResultDTO{
		Enrollment: toEnrollmentDTO(res.Enrollment),
		Commit:     toCommitDTO(res.Commit, res.Replayed),
	})
}

// RedeemProduct buys one unit of a product with coins.
// POST /api/products/{id}/redeem
func (h *Handler) RedeemProduct(w http.ResponseWriter, r *http.Request) {
	var req RedeemProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allowedFor(w, r, req.UserID) {
		return
	}
	res, err := h.Commerce.Redeem(r.Context(), commerce.RedeemRequest{
		UserID:     generic.EntityID(req.UserID),
		ProductID:  chi.URLParam(r, "id"),
		Government: req.GovernmentAmount,
		Self:       req.SelfAmount,
		OrderRef:   req.OrderRef,
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, RedeemDTO{
		Product:  toProductDTO(res.Product),
		OrderRef: res.OrderRef,
		Commit:   toCommitDTO(res.Commit, res.Replayed),
		Replayed: res.Replayed,
	})
}

// GET /api/enrollments/{id}
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Commerce.GetEnrollment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.allowedFor(w, r, string(e.UserID)) {
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// POST /api/enrollments/{id}/completion
func (h *Handler) UpdateCompletion(w http.ResponseWriter, r *http.Request) {
	var req UpdateCompletionRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.Commerce.UpdateCompletion(r.Context(), chi.URLParam(r, "id"), commerce.CompletionStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// POST /api/enrollments/{id}/certificate
func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Commerce.IssueCertificate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCertificateDTO(*cert))
}

// CancelEnrollment refunds the coins of an enrollment and frees the seat.
// POST /api/enrollments/{id}/cancel
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CancelEnrollmentRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	e, err := h.Commerce.CancelEnrollment(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// VerifyCertificate is public.
// GET /api/certificates/{code}
func (h *Handler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Commerce.VerifyCertificate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// =============================================================================
// MERCHANT SALES & FEES
// =============================================================================

// POST /api/merchants/{id}/sales
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale := commerce.SportsSale{
		MerchantID:  chi.URLParam(r, "id"),
		Amount:      req.Amount,
		Status:      commerce.SaleStatus(req.Status),
		Description: req.Description,
	}
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}
	created, err := h.Commerce.RecordSale(r.Context(), sale)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*created))
}

// POST /api/merchants/{id}/fees
func (h *Handler) RecordMerchantFee(w http.ResponseWriter, r *http.Request) {
	var req RecordFeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fee, err := h.Commerce.RecordMerchantFee(r.Context(), commerce.MerchantFee{
		MerchantID:  chi.URLParam(r, "id"),
		Amount:      req.Amount,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMerchantFeeDTO(*fee))
}

// GET /api/merchants/{id}/fees
func (h *Handler) ListMerchantFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.Commerce.ListMerchantFees(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]MerchantFeeDTO, len(fees))
	for i, f := range fees {
		dtos[i] = toMerchantFeeDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// StartSettlement creates (or recomputes) a pending settlement.
// POST /api/settlements
func (h *Handler) StartSettlement(w http.ResponseWriter, r *http.Request) {
	var req StartSettlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rs, err := h.Settlement.Start(r.Context(), settlement.StartRequest{
		EntityType: settlement.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Period:     period,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(*rs))
}

// ListSettlements filters by entity_type, entity_id, status and period.
// GET /api/settlements
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter settlement.Filter
	if v := q.Get("entity_type"); v != "" {
		et, err := settlement.ParseEntityType(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.EntityType = et
	}
	if v := q.Get("status"); v != "" {
		st, err := settlement.ParseStatus(v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Status = st
	}
	filter.EntityID = q.Get("entity_id")
	if q.Get("period_start") != "" {
		p, err := generic.ParsePeriod(q.Get("period_start"), q.Get("period_end"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Period = p
	}

	rows, err := h.Settlement.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTOs(rows))
}

// PreviewSettlements computes revenue and sharing without writing.
// GET /api/settlements/preview?entity_type=&period_start=&period_end=
func (h *Handler) PreviewSettlements(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	comps, err := h.Settlement.Preview(r.Context(), settlement.EntityType(r.URL.Query().Get("entity_type")), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SettlementPreviewDTO, len(comps))
	for i, c := range comps {
		dtos[i] = toPreviewDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/settlements/{id}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Settlement.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*rs))
}

// AdvanceSettlement moves a settlement through
// pending -> processing -> settled | failed, failed -> pending.
// POST /api/settlements/{id}/advance
func (h *Handler) AdvanceSettlement(w http.ResponseWriter, r *http.Request) {
	var req AdvanceSettlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	rs, err := h.Settlement.Advance(r.Context(), chi.URLParam(r, "id"), settlement.Status(req.Status), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*rs))
}

// RunSettlements starts every entity with revenue in a period (the
// previous one by default), as the scheduler does.
// POST /api/settlements/run
func (h *Handler) RunSettlements(w http.ResponseWriter, r *http.Request) {
	var req RunSettlementsRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	period := h.settlementPeriod.Previous(h.clock.Now())
	if req.PeriodStart != "" || req.PeriodEnd != "" {
		p, err := generic.ParsePeriod(req.PeriodStart, req.PeriodEnd)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		period = p
	}
	res, err := h.Settlement.StartAll(r.Context(), period, h.settlementConcurrency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for e, ferr := range res.Failed {
		h.log.Errorf(ferr, "settlement %s/%s for %s", e.Type, e.ID, period)
	}
	writeJSON(w, http.StatusOK, toRunDTO(res))
}

// =============================================================================
// HELPERS
// =============================================================================

func userParam(r *http.Request) generic.EntityID {
	return generic.EntityID(chi.URLParam(r, "id"))
}

// callerName is the authenticated subject, or fallback when auth is off.
func (h *Handler) callerName(r *http.Request, fallback string) string {
	if c, ok := CallerFrom(r.Context()); ok {
		return c.Subject
	}
	return fallback
}

// periodParam reads period_start/period_end, defaulting to the previous
// settlement period.
func (h *Handler) periodParam(r *http.Request) (generic.Period, error) {
	q := r.URL.Query()
	if q.Get("period_start") == "" && q.Get("period_end") == "" {
		return h.settlementPeriod.Previous(h.clock.Now()), nil
	}
	return generic.ParsePeriod(q.Get("period_start"), q.Get("period_end"))
}

func parseHistoryFilter(r *http.Request) (generic.TransactionFilter, error) {
	q := r.URL.Query()
	var f generic.TransactionFilter

	if v := q.Get("coin_type"); v != "" {
		ct, err := coin.ParseCoinType(v)
		if err != nil {
			return f, err
		}
		f.ResourceType = string(ct)
	}
	if v := q.Get("type"); v != "" {
		for _, t := range strings.Split(v, ",") {
			tt := generic.TransactionType(strings.TrimSpace(t))
			if !tt.Valid() {
				return f, generic.Invalid("type", "unknown transaction type %q", t)
			}
			f.Types = append(f.Types, tt)
		}
	}
	f.RelatedType = q.Get("related_type")
	if v := q.Get("from"); v != "" {
		from, err := generic.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := generic.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.To = to.AddDate(0, 0, 1)
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, generic.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}
