package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// COURSES
// =============================================================================

type courseRow struct {
	ID                string              `db:"id"`
	TeacherID         string              `db:"teacher_id"`
	Title             string              `db:"title"`
	Category          string              `db:"category"`
	Price             decimal.Decimal     `db:"price"`
	MaxGovernmentCoin decimal.NullDecimal `db:"max_government_coin_amount"`
	MaxStudents       int                 `db:"max_students"`
	CurrentStudents   int                 `db:"current_students"`
	CreatedAt         string              `db:"created_at"`
}

const courseColumns = `id, teacher_id, title, category, price, max_government_coin_amount,
	max_students, current_students, created_at`

func (row courseRow) toCourse() commerce.Course {
	return commerce.Course{
		ID:                row.ID,
		TeacherID:         generic.EntityID(row.TeacherID),
		Title:             row.Title,
		Category:          coin.SpendCategory(row.Category),
		Price:             row.Price,
		MaxGovernmentCoin: decimalPtr(row.MaxGovernmentCoin),
		MaxStudents:       row.MaxStudents,
		CurrentStudents:   row.CurrentStudents,
		CreatedAt:         mustTS(row.CreatedAt),
	}
}

func (r *repo) CreateCourse(ctx context.Context, c commerce.Course) error {
	return r.insert(ctx, "course", c.ID, `
		INSERT INTO courses (`+courseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.TeacherID), c.Title, string(c.Category), c.Price, nullDecimal(c.MaxGovernmentCoin),
		c.MaxStudents, c.CurrentStudents, formatTS(c.CreatedAt))
}

// GetCourse locks the row on PostgreSQL; enrollment updates the seat count.
func (r *repo) GetCourse(ctx context.Context, id string) (*commerce.Course, error) {
	var row courseRow
	if err := r.getOne(ctx, "course", id, &row, r.forUpdate("SELECT "+courseColumns+" FROM courses WHERE id = ?"), id); err != nil {
		return nil, err
	}
	c := row.toCourse()
	return &c, nil
}

func (r *repo) UpdateCourse(ctx context.Context, c commerce.Course) error {
	return r.update(ctx, "course", c.ID, `
		UPDATE courses SET title = ?, category = ?, price = ?, max_government_coin_amount = ?,
			max_students = ?, current_students = ?
		WHERE id = ?`,
		c.Title, string(c.Category), c.Price, nullDecimal(c.MaxGovernmentCoin),
		c.MaxStudents, c.CurrentStudents, c.ID)
}

func (r *repo) ListCourses(ctx context.Context, teacherID generic.EntityID) ([]commerce.Course, error) {
	query := "SELECT " + courseColumns + " FROM courses"
	var args []any
	if teacherID != "" {
		query += " WHERE teacher_id = ?"
		args = append(args, string(teacherID))
	}
	query += " ORDER BY created_at ASC, id ASC"
	var rows []courseRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	out := make([]commerce.Course, len(rows))
	for i, row := range rows {
		out[i] = row.toCourse()
	}
	return out, nil
}

// =============================================================================
// PRODUCTS & MERCHANTS
// =============================================================================

type productRow struct {
	ID            string          `db:"id"`
	MerchantID    string          `db:"merchant_id"`
	Name          string          `db:"name"`
	Category      string          `db:"category"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int             `db:"stock_quantity"`
	CreatedAt     string          `db:"created_at"`
}

const productColumns = "id, merchant_id, name, category, price, stock_quantity, created_at"

func (row productRow) toProduct() commerce.Product {
	return commerce.Product{
		ID:            row.ID,
		MerchantID:    row.MerchantID,
		Name:          row.Name,
		Category:      coin.SpendCategory(row.Category),
		Price:         row.Price,
		StockQuantity: row.StockQuantity,
		CreatedAt:     mustTS(row.CreatedAt),
	}
}

func (r *repo) CreateProduct(ctx context.Context, p commerce.Product) error {
	return r.insert(ctx, "product", p.ID, `
		INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MerchantID, p.Name, string(p.Category), p.Price, p.StockQuantity, formatTS(p.CreatedAt))
}

func (r *repo) GetProduct(ctx context.Context, id string) (*commerce.Product, error) {
	var row productRow
	if err := r.getOne(ctx, "product", id, &row, r.forUpdate("SELECT "+productColumns+" FROM products WHERE id = ?"), id); err != nil {
		return nil, err
	}
	p := row.toProduct()
	return &p, nil
}

func (r *repo) UpdateProduct(ctx context.Context, p commerce.Product) error {
	return r.update(ctx, "product", p.ID, `
		UPDATE products SET name = ?, category = ?, price = ?, stock_quantity = ? WHERE id = ?`,
		p.Name, string(p.Category), p.Price, p.StockQuantity, p.ID)
}

func (r *repo) ListProducts(ctx context.Context, merchantID string) ([]commerce.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var args []any
	if merchantID != "" {
		query += " WHERE merchant_id = ?"
		args = append(args, merchantID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	var rows []productRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	out := make([]commerce.Product, len(rows))
	for i, row := range rows {
		out[i] = row.toProduct()
	}
	return out, nil
}

type merchantRow struct {
	ID                string              `db:"id"`
	OwnerID           string              `db:"owner_id"`
	Name              string              `db:"name"`
	SharingPercentage decimal.NullDecimal `db:"sharing_percentage"`
	CreatedAt         string              `db:"created_at"`
}

const merchantColumns = "id, owner_id, name, sharing_percentage, created_at"

func (row merchantRow) toMerchant() commerce.Merchant {
	return commerce.Merchant{
		ID:                row.ID,
		OwnerID:           generic.EntityID(row.OwnerID),
		Name:              row.Name,
		SharingPercentage: decimalPtr(row.SharingPercentage),
		CreatedAt:         mustTS(row.CreatedAt),
	}
}

func (r *repo) CreateMerchant(ctx context.Context, m commerce.Merchant) error {
	return r.insert(ctx, "merchant", m.ID, `
		INSERT INTO merchants (`+merchantColumns+`) VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.OwnerID), m.Name, nullDecimal(m.SharingPercentage), formatTS(m.CreatedAt))
}

func (r *repo) GetMerchant(ctx context.Context, id string) (*commerce.Merchant, error) {
	var row merchantRow
	if err := r.getOne(ctx, "merchant", id, &row, "SELECT "+merchantColumns+" FROM merchants WHERE id = ?", id); err != nil {
		return nil, err
	}
	m := row.toMerchant()
	return &m, nil
}

func (r *repo) ListMerchants(ctx context.Context) ([]commerce.Merchant, error) {
	var rows []merchantRow
	if err := r.selectAll(ctx, &rows, "SELECT "+merchantColumns+" FROM merchants ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	out := make([]commerce.Merchant, len(rows))
	for i, row := range rows {
		out[i] = row.toMerchant()
	}
	return out, nil
}

// =============================================================================
// ENROLLMENTS & CERTIFICATES
// =============================================================================

type enrollmentRow struct {
	ID                 string          `db:"id"`
	UserID             string          `db:"user_id"`
	CourseID           string          `db:"course_id"`
	PaymentAmount      decimal.Decimal `db:"payment_amount"`
	GovernmentCoinUsed decimal.Decimal `db:"government_coin_used"`
	SelfCoinUsed       decimal.Decimal `db:"self_coin_used"`
	PaymentStatus      string          `db:"payment_status"`
	CompletionStatus   string          `db:"completion_status"`
	CertificateIssued  bool            `db:"certificate_issued"`
	CommitID           string          `db:"commit_id"`
	EnrolledAt         string          `db:"enrolled_at"`
	CompletedAt        sql.NullString  `db:"completed_at"`
	UpdatedAt          string          `db:"updated_at"`
}

const enrollmentColumns = `id, user_id, course_id, payment_amount, government_coin_used, self_coin_used,
	payment_status, completion_status, certificate_issued, commit_id, enrolled_at, completed_at, updated_at`

func (row enrollmentRow) toEnrollment() commerce.Enrollment {
	return commerce.Enrollment{
		ID:                 row.ID,
		UserID:             generic.EntityID(row.UserID),
		CourseID:           row.CourseID,
		PaymentAmount:      row.PaymentAmount,
		GovernmentCoinUsed: row.GovernmentCoinUsed,
		SelfCoinUsed:       row.SelfCoinUsed,
		PaymentStatus:      commerce.PaymentStatus(row.PaymentStatus),
		CompletionStatus:   commerce.CompletionStatus(row.CompletionStatus),
		CertificateIssued:  row.CertificateIssued,
		CommitID:           row.CommitID,
		EnrolledAt:         mustTS(row.EnrolledAt),
		CompletedAt:        parseNullTS(row.CompletedAt),
		UpdatedAt:          mustTS(row.UpdatedAt),
	}
}

func (r *repo) CreateEnrollment(ctx context.Context, e commerce.Enrollment) error {
	return r.insert(ctx, "enrollment", e.ID, `
		INSERT INTO course_enrollments (`+enrollmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.UserID), e.CourseID, e.PaymentAmount, e.GovernmentCoinUsed, e.SelfCoinUsed,
		string(e.PaymentStatus), string(e.CompletionStatus), e.CertificateIssued, e.CommitID,
		formatTS(e.EnrolledAt), nullTS(e.CompletedAt), formatTS(e.UpdatedAt))
}

func (r *repo) GetEnrollment(ctx context.Context, id string) (*commerce.Enrollment, error) {
	var row enrollmentRow
	if err := r.getOne(ctx, "enrollment", id, &row, r.forUpdate("SELECT "+enrollmentColumns+" FROM course_enrollments WHERE id = ?"), id); err != nil {
		return nil, err
	}
	e := row.toEnrollment()
	return &e, nil
}

func (r *repo) FindEnrollment(ctx context.Context, userID generic.EntityID, courseID string) (*commerce.Enrollment, error) {
	var row enrollmentRow
	err := r.get(ctx, &row, r.forUpdate("SELECT "+enrollmentColumns+" FROM course_enrollments WHERE user_id = ? AND course_id = ?"),
		string(userID), courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	e := row.toEnrollment()
	return &e, nil
}

func (r *repo) UpdateEnrollment(ctx context.Context, e commerce.Enrollment) error {
	return r.update(ctx, "enrollment", e.ID, `
		UPDATE course_enrollments SET payment_amount = ?, government_coin_used = ?, self_coin_used = ?,
			payment_status = ?, completion_status = ?, certificate_issued = ?, commit_id = ?,
			enrolled_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		e.PaymentAmount, e.GovernmentCoinUsed, e.SelfCoinUsed,
		string(e.PaymentStatus), string(e.CompletionStatus), e.CertificateIssued, e.CommitID,
		formatTS(e.EnrolledAt), nullTS(e.CompletedAt), formatTS(e.UpdatedAt), e.ID)
}

func (r *repo) ListEnrollments(ctx context.Context, userID generic.EntityID) ([]commerce.Enrollment, error) {
	var rows []enrollmentRow
	err := r.selectAll(ctx, &rows,
		"SELECT "+enrollmentColumns+" FROM course_enrollments WHERE user_id = ? ORDER BY enrolled_at ASC, id ASC",
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	out := make([]commerce.Enrollment, len(rows))
	for i, row := range rows {
		out[i] = row.toEnrollment()
	}
	return out, nil
}

type certificateRow struct {
	ID               string `db:"id"`
	EnrollmentID     string `db:"enrollment_id"`
	UserID           string `db:"user_id"`
	CourseID         string `db:"course_id"`
	Number           string `db:"certificate_number"`
	VerificationCode string `db:"verification_code"`
	Valid            bool   `db:"is_valid"`
	IssuedAt         string `db:"issued_at"`
}

const certificateColumns = "id, enrollment_id, user_id, course_id, certificate_number, verification_code, is_valid, issued_at"

func (r *repo) CreateCertificate(ctx context.Context, c commerce.Certificate) error {
	return r.insert(ctx, "certificate", c.EnrollmentID, `
		INSERT INTO certificates (`+certificateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EnrollmentID, string(c.UserID), c.CourseID, c.Number, c.VerificationCode, c.Valid, formatTS(c.IssuedAt))
}

func (r *repo) GetCertificateByCode(ctx context.Context, code string) (*commerce.Certificate, error) {
	var row certificateRow
	if err := r.getOne(ctx, "certificate", code, &row, "SELECT "+certificateColumns+" FROM certificates WHERE verification_code = ?", code); err != nil {
		return nil, err
	}
	return &commerce.Certificate{
		ID:               row.ID,
		EnrollmentID:     row.EnrollmentID,
		UserID:           generic.EntityID(row.UserID),
		CourseID:         row.CourseID,
		Number:           row.Number,
		VerificationCode: row.VerificationCode,
		Valid:            row.Valid,
		IssuedAt:         mustTS(row.IssuedAt),
	}, nil
}

// =============================================================================
// SALES & FEES
// =============================================================================

type saleRow struct {
	ID          string          `db:"id"`
	MerchantID  string          `db:"merchant_id"`
	Amount      decimal.Decimal `db:"amount"`
	Status      string          `db:"status"`
	Description string          `db:"description"`
	SoldAt      string          `db:"sold_at"`
}

func (r *repo) CreateSale(ctx context.Context, s commerce.SportsSale) error {
	return r.insert(ctx, "sale", s.ID, `
		INSERT INTO sports_sales (id, merchant_id, amount, status, description, sold_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.MerchantID, s.Amount, string(s.Status), s.Description, formatTS(s.SoldAt))
}

func (r *repo) ListSales(ctx context.Context, merchantID string, from, to time.Time) ([]commerce.SportsSale, error) {
	query := "SELECT id, merchant_id, amount, status, description, sold_at FROM sports_sales WHERE merchant_id = ?"
	args := []any{merchantID}
	if !from.IsZero() {
		query += " AND sold_at >= ?"
		args = append(args, formatTS(from))
	}
	if !to.IsZero() {
		query += " AND sold_at < ?"
		args = append(args, formatTS(to))
	}
	query += " ORDER BY sold_at ASC, id ASC"
	var rows []saleRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	out := make([]commerce.SportsSale, len(rows))
	for i, row := range rows {
		out[i] = commerce.SportsSale{
			ID:          row.ID,
			MerchantID:  row.MerchantID,
			Amount:      row.Amount,
			Status:      commerce.SaleStatus(row.Status),
			Description: row.Description,
			SoldAt:      mustTS(row.SoldAt),
		}
	}
	return out, nil
}

type feeRow struct {
	ID          string          `db:"id"`
	MerchantID  string          `db:"merchant_id"`
	Amount      decimal.Decimal `db:"amount"`
	PeriodStart string          `db:"period_start"`
	PeriodEnd   string          `db:"period_end"`
	Notes       string          `db:"notes"`
	CreatedAt   string          `db:"created_at"`
}

func (r *repo) CreateMerchantFee(ctx context.Context, f commerce.MerchantFee) error {
	return r.insert(ctx, "merchant fee", f.ID, `
		INSERT INTO merchant_fees (id, merchant_id, amount, period_start, period_end, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.MerchantID, f.Amount, formatDate(f.PeriodStart), formatDate(f.PeriodEnd), f.Notes, formatTS(f.CreatedAt))
}

func (r *repo) ListMerchantFees(ctx context.Context, merchantID string) ([]commerce.MerchantFee, error) {
	var rows []feeRow
	err := r.selectAll(ctx, &rows, `
		SELECT id, merchant_id, amount, period_start, period_end, notes, created_at
		FROM merchant_fees WHERE merchant_id = ? ORDER BY period_start ASC, id ASC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchant fees: %w", err)
	}
	out := make([]commerce.MerchantFee, len(rows))
	for i, row := range rows {
		out[i] = commerce.MerchantFee{
			ID:          row.ID,
			MerchantID:  row.MerchantID,
			Amount:      row.Amount,
			PeriodStart: mustDate(row.PeriodStart),
			PeriodEnd:   mustDate(row.PeriodEnd),
			Notes:       row.Notes,
			CreatedAt:   mustTS(row.CreatedAt),
		}
	}
	return out, nil
}
