package voucher

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/obs"
	"github.com/noah-isme/backend-kursus/internal/store"
)

// CourseDiscount is one line of an apply breakdown, in minor currency units.
type CourseDiscount struct {
	CourseID       uuid.UUID `json:"courseId"`
	Title          string    `json:"title"`
	OriginalPrice  int64     `json:"originalPrice"`
	DiscountAmount int64     `json:"discountAmount"`
	FinalPrice     int64     `json:"finalPrice"`
}

// ApplyResult is the priced outcome of applying one voucher to a course set.
type ApplyResult struct {
	Voucher         store.Voucher    `json:"voucher"`
	Breakdown       []CourseDiscount `json:"breakdown"`
	TotalDiscount   int64            `json:"totalDiscount"`
	TotalFinalPrice int64            `json:"totalFinalPrice"`
}

// Apply runs the full activation/date/usage/eligibility/discount pipeline for
// the voucher named by code against the requested courses.
func (s *Service) Apply(ctx context.Context, code string, courseIDs []uuid.UUID) (*ApplyResult, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, ErrNotFound
	}
	if len(courseIDs) == 0 {
		return nil, ErrEmptyCourseSet
	}
	v, err := s.Q.GetVoucherByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	courses, err := s.Courses.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, err
	}
	result, err := s.evaluate(ctx, v, courses)
	if obs.VoucherApplyTotal != nil {
		outcome := "ok"
		if err != nil {
			outcome = "rejected"
		}
		obs.VoucherApplyTotal.WithLabelValues(outcome).Inc()
	}
	return result, err
}

// evaluate prices one candidate voucher against already-fetched courses.
// It is shared by Apply, best-voucher selection and the per-course listing.
func (s *Service) evaluate(ctx context.Context, v store.Voucher, courses []store.Course) (*ApplyResult, error) {
	rule := RuleFrom(v)
	var used int64
	if v.MaxUsage != nil {
		var err error
		used, err = s.Q.CountVoucherUsage(ctx, v.ID)
		if err != nil {
			return nil, err
		}
	}
	if err := rule.Validate(s.now(), used); err != nil {
		return nil, err
	}
	applicable, err := s.Resolver.Resolve(ctx, v, courses)
	if err != nil {
		return nil, err
	}
	result := &ApplyResult{Voucher: v}
	for _, c := range applicable {
		discount := Compute(c.Price, rule)
		result.Breakdown = append(result.Breakdown, CourseDiscount{
			CourseID:       c.ID,
			Title:          c.Title,
			OriginalPrice:  c.Price,
			DiscountAmount: discount,
			FinalPrice:     c.Price - discount,
		})
		result.TotalDiscount += discount
		result.TotalFinalPrice += c.Price - discount
	}
	return result, nil
}
