package commerce

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// COURSE ENROLLMENT - Side effect of spending on a course
// =============================================================================

type courseEffect struct {
	clock generic.Clock
}

func (courseEffect) Terms(ctx context.Context, s generic.Store, courseID string) (*coin.SpendTerms, error) {
	ms, err := From(s)
	if err != nil {
		return nil, err
	}
	course, err := ms.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	terms := course.Terms()
	return &terms, nil
}

// Apply enrolls the user and takes a seat. A previously refunded
// enrollment is reactivated rather than duplicated.
func (e courseEffect) Apply(ctx context.Context, s generic.Store, c coin.Commit) error {
	ms, err := From(s)
	if err != nil {
		return err
	}
	course, err := ms.GetCourse(ctx, c.RelatedID)
	if err != nil {
		return err
	}
	existing, err := ms.FindEnrollment(ctx, c.UserID, course.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.PaymentStatus == PaymentPaid {
		return fmt.Errorf("%w: %s is already enrolled in %s", generic.ErrDuplicate, c.UserID, course.ID)
	}
	if course.Full() {
		return fmt.Errorf("%w: course %s is full", generic.ErrCapacity, course.ID)
	}

	course.CurrentStudents++
	if err := ms.UpdateCourse(ctx, *course); err != nil {
		return err
	}

	now := e.clock.Now()
	enrollment := Enrollment{
		ID:                 uuid.NewString(),
		UserID:             c.UserID,
		CourseID:           course.ID,
		PaymentAmount:      c.TargetAmount,
		GovernmentCoinUsed: c.Government,
		SelfCoinUsed:       c.Self,
		PaymentStatus:      PaymentPaid,
		CompletionStatus:   CompletionNotStarted,
		CommitID:           c.ID,
		EnrolledAt:         now,
		UpdatedAt:          now,
	}
	if existing != nil {
		enrollment.ID = existing.ID
		return ms.UpdateEnrollment(ctx, enrollment)
	}
	return ms.CreateEnrollment(ctx, enrollment)
}

// Revert marks the enrollment refunded and frees the seat.
func (e courseEffect) Revert(ctx context.Context, s generic.Store, c coin.Commit) error {
	ms, err := From(s)
	if err != nil {
		return err
	}
	enrollment, err := ms.FindEnrollment(ctx, c.UserID, c.RelatedID)
	if err != nil {
		return err
	}
	if enrollment == nil {
		return generic.NotFound("enrollment", string(c.UserID)+"/"+c.RelatedID)
	}
	return refundEnrollment(ctx, ms, enrollment, e.clock)
}

func refundEnrollment(ctx context.Context, ms Store, enrollment *Enrollment, clock generic.Clock) error {
	if enrollment.CertificateIssued {
		return generic.Invalid("enrollment", "certificate already issued, enrollment cannot be refunded")
	}
	if enrollment.PaymentStatus == PaymentRefunded {
		return nil
	}
	course, err := ms.GetCourse(ctx, enrollment.CourseID)
	if err != nil {
		return err
	}
	if course.CurrentStudents > 0 {
		course.CurrentStudents--
	}
	if err := ms.UpdateCourse(ctx, *course); err != nil {
		return err
	}
	enrollment.PaymentStatus = PaymentRefunded
	enrollment.UpdatedAt = clock.Now()
	return ms.UpdateEnrollment(ctx, *enrollment)
}

// =============================================================================
// PRODUCT REDEMPTION - Side effect of spending on a product
// =============================================================================

type productEffect struct{}

func (productEffect) Terms(ctx context.Context, s generic.Store, productID string) (*coin.SpendTerms, error) {
	ms, err := From(s)
	if err != nil {
		return nil, err
	}
	p, err := ms.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	terms := p.Terms()
	return &terms, nil
}

func (productEffect) Apply(ctx context.Context, s generic.Store, c coin.Commit) error {
	ms, err := From(s)
	if err != nil {
		return err
	}
	p, err := ms.GetProduct(ctx, c.RelatedID)
	if err != nil {
		return err
	}
	if p.StockQuantity <= 0 {
		return fmt.Errorf("%w: product %s is out of stock", generic.ErrCapacity, p.ID)
	}
	p.StockQuantity--
	return ms.UpdateProduct(ctx, *p)
}

func (productEffect) Revert(ctx context.Context, s generic.Store, c coin.Commit) error {
	ms, err := From(s)
	if err != nil {
		return err
	}
	p, err := ms.GetProduct(ctx, c.RelatedID)
	if err != nil {
		return err
	}
	p.StockQuantity++
	return ms.UpdateProduct(ctx, *p)
}
