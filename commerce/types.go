/*
Package commerce holds what coins are spent on.

PURPOSE:
  Courses (taught by teachers), products (sold by merchants) and sports
  sales. Spending coins on a course enrolls the user; spending on a product
  takes one item out of stock. Both happen in the same unit of work as the
  coin spend through side effects registered on the coin.LedgerWriter.

LIFECYCLES:
  Enrollment payment:     paid -> refunded
  Enrollment completion:  not_started -> in_progress -> completed
                          (may jump straight to completed, never backwards)
  Certificate:            issued once per completed enrollment; afterwards
                          the enrollment can neither change nor be refunded

SEE ALSO:
  - coin/writer.go: SideEffect contract
  - settlement/revenue.go: Reads courses, products and sales for revenue
*/
package commerce

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// CATALOG
// =============================================================================

type Course struct {
	ID        string
	TeacherID generic.EntityID
	Title     string
	Category  coin.SpendCategory
	Price     decimal.Decimal

	// MaxGovernmentCoin caps government coins per enrollment (nil = category cap only).
	MaxGovernmentCoin *decimal.Decimal

	// MaxStudents of 0 means unlimited.
	MaxStudents     int
	CurrentStudents int
	CreatedAt       time.Time
}

func (c Course) Full() bool {
	return c.MaxStudents > 0 && c.CurrentStudents >= c.MaxStudents
}

// Terms are what an enrollment must be authorized for.
func (c Course) Terms() coin.SpendTerms {
	return coin.SpendTerms{Price: c.Price, Category: c.Category, ItemCap: c.MaxGovernmentCoin}
}

type Product struct {
	ID            string
	MerchantID    string
	Name          string
	Category      coin.SpendCategory
	Price         decimal.Decimal
	StockQuantity int
	CreatedAt     time.Time
}

func (p Product) Terms() coin.SpendTerms {
	return coin.SpendTerms{Price: p.Price, Category: p.Category}
}

type Merchant struct {
	ID      string
	OwnerID generic.EntityID
	Name    string

	// SharingPercentage overrides the policy default when set.
	SharingPercentage *decimal.Decimal
	CreatedAt         time.Time
}

// =============================================================================
// ENROLLMENTS & CERTIFICATES
// =============================================================================

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type CompletionStatus string

const (
	CompletionNotStarted CompletionStatus = "not_started"
	CompletionInProgress CompletionStatus = "in_progress"
	CompletionCompleted  CompletionStatus = "completed"
)

func (s CompletionStatus) rank() int {
	switch s {
	case CompletionNotStarted:
		return 0
	case CompletionInProgress:
		return 1
	case CompletionCompleted:
		return 2
	}
	return -1
}

func ParseCompletionStatus(s string) (CompletionStatus, error) {
	cs := CompletionStatus(strings.ToLower(s))
	if cs.rank() < 0 {
		return "", generic.Invalid("completion_status", "unknown status %q", s)
	}
	return cs, nil
}

type Enrollment struct {
	ID                 string
	UserID             generic.EntityID
	CourseID           string
	PaymentAmount      decimal.Decimal
	GovernmentCoinUsed decimal.Decimal
	SelfCoinUsed       decimal.Decimal
	PaymentStatus      PaymentStatus
	CompletionStatus   CompletionStatus
	CertificateIssued  bool
	CommitID           string
	EnrolledAt         time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

// CoinsUsed is the total coin part of the payment.
func (e Enrollment) CoinsUsed() decimal.Decimal {
	return e.GovernmentCoinUsed.Add(e.SelfCoinUsed)
}

type Certificate struct {
	ID               string
	EnrollmentID     string
	UserID           generic.EntityID
	CourseID         string
	Number           string
	VerificationCode string

	// Valid is cleared on revocation; there is no revocation flow yet.
	Valid    bool
	IssuedAt time.Time
}

// =============================================================================
// MERCHANT SALES & FEES
// =============================================================================

type SaleStatus string

const (
	SalePaid      SaleStatus = "paid"
	SalePending   SaleStatus = "pending"
	SaleCancelled SaleStatus = "cancelled"
)

func ParseSaleStatus(s string) (SaleStatus, error) {
	switch st := SaleStatus(strings.ToLower(s)); st {
	case SalePaid, SalePending, SaleCancelled:
		return st, nil
	case "":
		return SalePaid, nil
	}
	return "", generic.Invalid("status", "unknown sale status %q", s)
}

// SportsSale is revenue a merchant made outside the coin ledger.
type SportsSale struct {
	ID          string
	MerchantID  string
	Amount      decimal.Decimal
	Status      SaleStatus
	Description string
	SoldAt      time.Time
}

// MerchantFee is a contract fee billed to a merchant for a period.
type MerchantFee struct {
	ID          string
	MerchantID  string
	Amount      decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
	Notes       string
	CreatedAt   time.Time
}
