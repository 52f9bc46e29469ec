package commerce

import (
	"context"
	"time"

	"github.com/sportcoin/coin-engine/generic"
)

// Store is the commerce port. Get* return *generic.NotFoundError for
// missing records; Create* return generic.ErrDuplicate for existing ones.
type Store interface {
	generic.Store

	CreateCourse(ctx context.Context, c Course) error
	GetCourse(ctx context.Context, id string) (*Course, error)
	UpdateCourse(ctx context.Context, c Course) error
	// ListCourses filters by teacher ("" = all).
	ListCourses(ctx context.Context, teacherID generic.EntityID) ([]Course, error)

	CreateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	UpdateProduct(ctx context.Context, p Product) error
	// ListProducts filters by merchant ("" = all).
	ListProducts(ctx context.Context, merchantID string) ([]Product, error)

	CreateMerchant(ctx context.Context, m Merchant) error
	GetMerchant(ctx context.Context, id string) (*Merchant, error)
	ListMerchants(ctx context.Context) ([]Merchant, error)

	CreateEnrollment(ctx context.Context, e Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	// FindEnrollment returns nil, nil when the user never enrolled.
	FindEnrollment(ctx context.Context, userID generic.EntityID, courseID string) (*Enrollment, error)
	UpdateEnrollment(ctx context.Context, e Enrollment) error
	ListEnrollments(ctx context.Context, userID generic.EntityID) ([]Enrollment, error)

	CreateCertificate(ctx context.Context, c Certificate) error
	GetCertificateByCode(ctx context.Context, code string) (*Certificate, error)

	CreateSale(ctx context.Context, s SportsSale) error
	// ListSales returns sales of a merchant with SoldAt in [from, to).
	ListSales(ctx context.Context, merchantID string, from, to time.Time) ([]SportsSale, error)

	CreateMerchantFee(ctx context.Context, f MerchantFee) error
	ListMerchantFees(ctx context.Context, merchantID string) ([]MerchantFee, error)
}

// From recovers the commerce port from a store handed out by WithTx.
func From(s generic.Store) (Store, error) {
	cs, ok := s.(Store)
	if !ok {
		return nil, generic.ErrStoreRequired
	}
	return cs, nil
}
