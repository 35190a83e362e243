package voucher

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

// Quote is one voucher priced against a single course.
type Quote struct {
	Voucher            store.Voucher `json:"voucher"`
	CalculatedDiscount int64         `json:"calculatedDiscount"`
	FinalPrice         int64         `json:"finalPrice"`
	PercentOff         int64         `json:"percentOff"`
}

// CourseVouchers lists every voucher currently applicable to a course,
// admin-created promotions first, then by descending discount.
type CourseVouchers struct {
	Course      store.Course `json:"course"`
	BestVoucher *Quote       `json:"bestVoucher"`
	AllVouchers []Quote      `json:"allVouchers"`
}

// VouchersForCourse returns the active vouchers that may discount the given
// course. Candidates that fail any gate are skipped, not surfaced.
func (s *Service) VouchersForCourse(ctx context.Context, courseID uuid.UUID) (CourseVouchers, error) {
	courses, err := s.Courses.GetCoursesByIDs(ctx, []uuid.UUID{courseID})
	if err != nil {
		return CourseVouchers{}, err
	}
	if len(courses) == 0 {
		return CourseVouchers{}, ErrCourseNotFound
	}
	course := courses[0]
	candidates, err := s.Q.ListActiveVouchers(ctx, s.now())
	if err != nil {
		return CourseVouchers{}, err
	}
	out := CourseVouchers{Course: course}
	for _, v := range candidates {
		result, err := s.evaluate(ctx, v, courses)
		if err != nil || result.TotalDiscount <= 0 {
			continue
		}
		quote := Quote{
			Voucher:            v,
			CalculatedDiscount: result.TotalDiscount,
			FinalPrice:         course.Price - result.TotalDiscount,
		}
		if course.Price > 0 {
			quote.PercentOff = (result.TotalDiscount*100 + course.Price/2) / course.Price
		}
		out.AllVouchers = append(out.AllVouchers, quote)
	}
	sort.SliceStable(out.AllVouchers, func(i, j int) bool {
		a, b := out.AllVouchers[i], out.AllVouchers[j]
		aAdmin := a.Voucher.CreatorRole == common.RoleAdmin
		bAdmin := b.Voucher.CreatorRole == common.RoleAdmin
		if aAdmin != bAdmin {
			return aAdmin
		}
		return a.CalculatedDiscount > b.CalculatedDiscount
	})
	if len(out.AllVouchers) > 0 {
		out.BestVoucher = &out.AllVouchers[0]
	}
	return out, nil
}
