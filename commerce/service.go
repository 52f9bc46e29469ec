package commerce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// Service runs catalog maintenance and purchases.
type Service struct {
	store      generic.TxStore
	authorizer *coin.SpendAuthorizer
	writer     *coin.LedgerWriter
	clock      generic.Clock
	timeout    time.Duration
}

// NewService wires enrollment and stock side effects into writer.
func NewService(store generic.TxStore, authorizer *coin.SpendAuthorizer, writer *coin.LedgerWriter, opts coin.Options) *Service {
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	s := &Service{
		store:      store,
		authorizer: authorizer,
		writer:     writer,
		clock:      opts.Clock,
		timeout:    opts.OpTimeout,
	}
	writer.RegisterSideEffect(coin.RelatedCourse, courseEffect{clock: opts.Clock})
	writer.RegisterSideEffect(coin.RelatedProduct, productEffect{})
	return s
}

func (s *Service) inTx(ctx context.Context, op string, fn func(ms Store) error) error {
	ctx, cancel := generic.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		ms, err := From(st)
		if err != nil {
			return err
		}
		return fn(ms)
	})
	return generic.Transient(op, err)
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Service) CreateCourse(ctx context.Context, c Course) (*Course, error) {
	c.Title = strings.TrimSpace(c.Title)
	switch {
	case c.Title == "":
		return nil, generic.Invalid("title", "is required")
	case c.TeacherID == "":
		return nil, generic.Invalid("teacher_id", "is required")
	case c.Price.IsNegative():
		return nil, generic.Invalid("price", "cannot be negative")
	case c.MaxGovernmentCoin != nil && c.MaxGovernmentCoin.IsNegative():
		return nil, generic.Invalid("max_government_coin_amount", "cannot be negative")
	case c.MaxStudents < 0:
		return nil, generic.Invalid("max_students", "cannot be negative")
	}
	if c.Category == "" {
		c.Category = coin.CategoryCourse
	}
	if _, err := coin.ParseCategory(string(c.Category)); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CurrentStudents = 0
	c.CreatedAt = s.clock.Now()

	err := s.inTx(ctx, "create course", func(ms Store) error {
		users, err := coin.From(ms)
		if err != nil {
			return err
		}
		if _, err := users.GetUser(ctx, c.TeacherID); err != nil {
			return err
		}
		return ms.CreateCourse(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) GetCourse(ctx context.Context, id string) (*Course, error) {
	var c *Course
	err := s.inTx(ctx, "get course", func(ms Store) error {
		var err error
		c, err = ms.GetCourse(ctx, id)
		return err
	})
	return c, err
}

func (s *Service) CreateMerchant(ctx context.Context, m Merchant) (*Merchant, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return nil, generic.Invalid("name", "is required")
	}
	if p := m.SharingPercentage; p != nil && (p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100))) {
		return nil, generic.Invalid("sharing_percentage", "must be between 0 and 100")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.clock.Now()

	err := s.inTx(ctx, "create merchant", func(ms Store) error {
		if m.OwnerID != "" {
			users, err := coin.From(ms)
			if err != nil {
				return err
			}
			if _, err := users.GetUser(ctx, m.OwnerID); err != nil {
				return err
			}
		}
		return ms.CreateMerchant(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) GetMerchant(ctx context.Context, id string) (*Merchant, error) {
	var m *Merchant
	err := s.inTx(ctx, "get merchant", func(ms Store) error {
		var err error
		m, err = ms.GetMerchant(ctx, id)
		return err
	})
	return m, err
}

func (s *Service) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return nil, generic.Invalid("name", "is required")
	case p.MerchantID == "":
		return nil, generic.Invalid("merchant_id", "is required")
	case p.Price.IsNegative():
		return nil, generic.Invalid("price", "cannot be negative")
	case p.StockQuantity < 0:
		return nil, generic.Invalid("stock_quantity", "cannot be negative")
	}
	if p.Category == "" {
		p.Category = coin.CategoryEquipment
	}
	if _, err := coin.ParseCategory(string(p.Category)); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.clock.Now()

	err := s.inTx(ctx, "create product", func(ms Store) error {
		if _, err := ms.GetMerchant(ctx, p.MerchantID); err != nil {
			return err
		}
		return ms.CreateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p *Product
	err := s.inTx(ctx, "get product", func(ms Store) error {
		var err error
		p, err = ms.GetProduct(ctx, id)
		return err
	})
	return p, err
}

// =============================================================================
// PURCHASES
// =============================================================================

type EnrollRequest struct {
	UserID     generic.EntityID
	CourseID   string
	Government decimal.Decimal
	Self       decimal.Decimal
	Notes      string
}

type EnrollmentResult struct {
	Enrollment Enrollment
	Commit     coin.Commit
	Replayed   bool
}

// Enroll pays for a course with the requested coin split. The split may
// cover the price partially; the rest is settled outside the coin ledger.
// Retrying a paid enrollment with the same split returns it unchanged.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollmentResult, error) {
	if req.CourseID == "" {
		return nil, generic.Invalid("course_id", "is required")
	}
	key := coin.SpendKey{UserID: req.UserID, RelatedType: coin.RelatedCourse, RelatedID: req.CourseID}

	prior, err := s.writer.FindCommit(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Government.Equal(req.Government) && prior.Self.Equal(req.Self) {
		return s.enrollmentResult(ctx, *prior, true)
	}

	var course *Course
	err = s.inTx(ctx, "enroll", func(ms Store) error {
		var err error
		if course, err = ms.GetCourse(ctx, req.CourseID); err != nil {
			return err
		}
		existing, err := ms.FindEnrollment(ctx, req.UserID, req.CourseID)
		if err != nil {
			return err
		}
		if existing != nil && existing.PaymentStatus == PaymentPaid {
			return fmt.Errorf("%w: %s is already enrolled in %s", generic.ErrDuplicate, req.UserID, course.ID)
		}
		if course.Full() {
			return fmt.Errorf("%w: course %s is full", generic.ErrCapacity, course.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, err := s.authorizer.Authorize(ctx, course.Terms().Request(req.UserID, req.Government, req.Self))
	if err != nil {
		return nil, err
	}

	committed, err := s.writer.CommitSpend(ctx, coin.CommitRequest{
		Token:       *token,
		RelatedType: key.RelatedType,
		RelatedID:   key.RelatedID,
		Notes:       req.Notes,
		CreatedBy:   string(req.UserID),
	})
	if err != nil {
		return nil, err
	}
	return s.enrollmentResult(ctx, committed.Commit, committed.Replayed)
}

func (s *Service) enrollmentResult(ctx context.Context, c coin.Commit, replayed bool) (*EnrollmentResult, error) {
	var enrollment *Enrollment
	err := s.inTx(ctx, "enroll", func(ms Store) error {
		var err error
		enrollment, err = ms.FindEnrollment(ctx, c.UserID, c.RelatedID)
		if err == nil && enrollment == nil {
			err = generic.NotFound("enrollment", string(c.UserID)+"/"+c.RelatedID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &EnrollmentResult{Enrollment: *enrollment, Commit: c, Replayed: replayed}, nil
}

type RedeemRequest struct {
	UserID     generic.EntityID
	ProductID  string
	Government decimal.Decimal
	Self       decimal.Decimal
	// OrderRef makes retries idempotent; empty generates a new order.
	OrderRef string
	Notes    string
}

type RedeemResult struct {
	Product  Product
	OrderRef string
	Commit   coin.Commit
	Replayed bool
}

// Redeem buys one unit of a product. A retry with the OrderRef of an
// active order returns that order without authorizing again, so it
// succeeds even after the first purchase drained the balance.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	if req.ProductID == "" {
		return nil, generic.Invalid("product_id", "is required")
	}
	if req.OrderRef == "" {
		req.OrderRef = uuid.NewString()
	}
	key := coin.SpendKey{UserID: req.UserID, RelatedType: coin.RelatedProduct, RelatedID: req.ProductID, OrderRef: req.OrderRef}

	prior, err := s.writer.FindCommit(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.redeemResult(ctx, *prior, true)
	}

	product, err := s.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	token, err := s.authorizer.Authorize(ctx, product.Terms().Request(req.UserID, req.Government, req.Self))
	if err != nil {
		return nil, err
	}

	committed, err := s.writer.CommitSpend(ctx, coin.CommitRequest{
		Token:       *token,
		RelatedType: key.RelatedType,
		RelatedID:   key.RelatedID,
		OrderRef:    key.OrderRef,
		Notes:       req.Notes,
		CreatedBy:   string(req.UserID),
	})
	if err != nil {
		return nil, err
	}
	return s.redeemResult(ctx, committed.Commit, committed.Replayed)
}

func (s *Service) redeemResult(ctx context.Context, c coin.Commit, replayed bool) (*RedeemResult, error) {
	product, err := s.GetProduct(ctx, c.RelatedID)
	if err != nil {
		return nil, err
	}
	return &RedeemResult{
		Product:  *product,
		OrderRef: c.OrderRef,
		Commit:   c,
		Replayed: replayed,
	}, nil
}

// CancelEnrollment refunds an enrollment's coins and frees its seat.
func (s *Service) CancelEnrollment(ctx context.Context, enrollmentID, notes string) (*Enrollment, error) {
	enrollment, err := s.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.CertificateIssued {
		return nil, generic.Invalid("enrollment", "certificate already issued, enrollment cannot be refunded")
	}

	_, err = s.writer.Refund(ctx, coin.RefundRequest{
		UserID:      enrollment.UserID,
		RelatedType: coin.RelatedCourse,
		RelatedID:   enrollment.CourseID,
		Notes:       notes,
		CreatedBy:   string(enrollment.UserID),
	})
	if err != nil {
		return nil, err
	}
	return s.GetEnrollment(ctx, enrollmentID)
}

// =============================================================================
// ENROLLMENT PROGRESS & CERTIFICATES
// =============================================================================

func (s *Service) GetEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	var e *Enrollment
	err := s.inTx(ctx, "get enrollment", func(ms Store) error {
		var err error
		e, err = ms.GetEnrollment(ctx, id)
		return err
	})
	return e, err
}

func (s *Service) ListEnrollments(ctx context.Context, userID generic.EntityID) ([]Enrollment, error) {
	var list []Enrollment
	err := s.inTx(ctx, "list enrollments", func(ms Store) error {
		var err error
		list, err = ms.ListEnrollments(ctx, userID)
		return err
	})
	return list, err
}

// UpdateCompletion moves an enrollment forward. Moving backwards, or
// changing a refunded or certified enrollment, is a TransitionError.
func (s *Service) UpdateCompletion(ctx context.Context, enrollmentID string, status CompletionStatus) (*Enrollment, error) {
	if status.rank() < 0 {
		return nil, generic.Invalid("completion_status", "unknown status %q", status)
	}

	var result *Enrollment
	err := s.inTx(ctx, "update completion", func(ms Store) error {
		e, err := ms.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if e.PaymentStatus != PaymentPaid || e.CertificateIssued || status.rank() < e.CompletionStatus.rank() {
			return &generic.TransitionError{Kind: "enrollment", From: string(e.CompletionStatus), To: string(status)}
		}
		if status == e.CompletionStatus {
			result = e
			return nil
		}
		now := s.clock.Now()
		e.CompletionStatus = status
		e.UpdatedAt = now
		if status == CompletionCompleted {
			e.CompletedAt = &now
		}
		if err := ms.UpdateEnrollment(ctx, *e); err != nil {
			return err
		}
		result = e
		return nil
	})
	return result, err
}

// IssueCertificate issues the one certificate of a completed enrollment.
func (s *Service) IssueCertificate(ctx context.Context, enrollmentID string) (*Certificate, error) {
	var cert *Certificate
	err := s.inTx(ctx, "issue certificate", func(ms Store) error {
		e, err := ms.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if e.CertificateIssued {
			return fmt.Errorf("%w: certificate for enrollment %s", generic.ErrDuplicate, e.ID)
		}
		if e.PaymentStatus != PaymentPaid || e.CompletionStatus != CompletionCompleted {
			return generic.Invalid("enrollment", "must be paid and completed before a certificate is issued")
		}

		now := s.clock.Now()
		code := uuid.New()
		cert = &Certificate{
			ID:               uuid.NewString(),
			EnrollmentID:     e.ID,
			UserID:           e.UserID,
			CourseID:         e.CourseID,
			Number:           certificateNumber(now, code),
			VerificationCode: code.String(),
			Valid:            true,
			IssuedAt:         now,
		}
		if err := ms.CreateCertificate(ctx, *cert); err != nil {
			return err
		}
		e.CertificateIssued = true
		e.UpdatedAt = now
		return ms.UpdateEnrollment(ctx, *e)
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// certificateNumber renders SC-YYYYMMDD-XXXXXXXX.
func certificateNumber(at time.Time, code uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(code.String(), "-", ""))[:8]
	return "SC-" + at.Format("20060102") + "-" + suffix
}

// VerifyCertificate looks a certificate up by its public verification code.
func (s *Service) VerifyCertificate(ctx context.Context, code string) (*Certificate, error) {
	if _, err := uuid.Parse(code); err != nil {
		return nil, generic.NotFound("certificate", code)
	}
	var cert *Certificate
	err := s.inTx(ctx, "verify certificate", func(ms Store) error {
		var err error
		cert, err = ms.GetCertificateByCode(ctx, code)
		return err
	})
	return cert, err
}

// =============================================================================
// MERCHANT SALES & FEES
// =============================================================================

func (s *Service) RecordSale(ctx context.Context, sale SportsSale) (*SportsSale, error) {
	if sale.MerchantID == "" {
		return nil, generic.Invalid("merchant_id", "is required")
	}
	if !sale.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be positive")
	}
	status, err := ParseSaleStatus(string(sale.Status))
	if err != nil {
		return nil, err
	}
	sale.Status = status
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = s.clock.Now()
	}

	err = s.inTx(ctx, "record sale", func(ms Store) error {
		if _, err := ms.GetMerchant(ctx, sale.MerchantID); err != nil {
			return err
		}
		return ms.CreateSale(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Service) RecordMerchantFee(ctx context.Context, fee MerchantFee) (*MerchantFee, error) {
	if fee.MerchantID == "" {
		return nil, generic.Invalid("merchant_id", "is required")
	}
	if fee.Amount.IsNegative() {
		return nil, generic.Invalid("amount", "cannot be negative")
	}
	if _, err := generic.NewPeriod(fee.PeriodStart, fee.PeriodEnd); err != nil {
		return nil, err
	}
	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	fee.CreatedAt = s.clock.Now()

	err := s.inTx(ctx, "record merchant fee", func(ms Store) error {
		if _, err := ms.GetMerchant(ctx, fee.MerchantID); err != nil {
			return err
		}
		return ms.CreateMerchantFee(ctx, fee)
	})
	if err != nil {
		return nil, err
	}
	return &fee, nil
}

func (s *Service) ListMerchantFees(ctx context.Context, merchantID string) ([]MerchantFee, error) {
	var fees []MerchantFee
	err := s.inTx(ctx, "list merchant fees", func(ms Store) error {
		if _, err := ms.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		var err error
		fees, err = ms.ListMerchantFees(ctx, merchantID)
		return err
	})
	return fees, err
}
