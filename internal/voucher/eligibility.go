package voucher

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

// CourseLookup is the slice of the course/category repository the voucher
// engine depends on.
type CourseLookup interface {
	GetCoursesByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Course, error)
	ListCourseIDsByInstructor(ctx context.Context, instructorID uuid.UUID) ([]uuid.UUID, error)
	ListCourseIDsInCategory(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error)
}

// LinkLookup resolves the course links of SPECIFIC_COURSES vouchers.
type LinkLookup interface {
	ListVoucherCourseIDs(ctx context.Context, voucherID uuid.UUID) ([]uuid.UUID, error)
}

// Resolver decides which of the requested courses a voucher may discount.
type Resolver struct {
	Links LinkLookup
}

// Resolve filters the requested courses down to the subset the voucher's
// scope covers. It returns ErrNoApplicableCourses when nothing survives.
//
// Scope rules: an admin ALL_COURSES voucher covers everything; an instructor
// ALL_COURSES voucher covers only the creator's own courses. SPECIFIC_COURSES
// intersects with the linked set. CATEGORY covers courses inside the
// voucher's category — further restricted to the creator's own courses when
// an instructor created it, so one instructor's promotion can never discount
// another instructor's course.
func (r Resolver) Resolve(ctx context.Context, v store.Voucher, courses []store.Course) ([]store.Course, error) {
	if len(courses) == 0 {
		return nil, ErrEmptyCourseSet
	}
	var applicable []store.Course
	switch v.Scope {
	case ScopeAllCourses:
		if v.CreatorRole == common.RoleAdmin {
			applicable = courses
			break
		}
		for _, c := range courses {
			if c.InstructorID == v.CreatorID {
				applicable = append(applicable, c)
			}
		}
	case ScopeSpecificCourses:
		linked, err := r.Links.ListVoucherCourseIDs(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		linkedSet := make(map[uuid.UUID]struct{}, len(linked))
		for _, id := range linked {
			linkedSet[id] = struct{}{}
		}
		for _, c := range courses {
			if _, ok := linkedSet[c.ID]; ok {
				applicable = append(applicable, c)
			}
		}
	case ScopeCategory:
		if v.CategoryID == nil {
			return nil, ErrNoApplicableCourses
		}
		for _, c := range courses {
			if !hasCategory(c, *v.CategoryID) {
				continue
			}
			if v.CreatorRole == common.RoleInstructor && c.InstructorID != v.CreatorID {
				continue
			}
			applicable = append(applicable, c)
		}
	default:
		return nil, ErrNoApplicableCourses
	}
	if len(applicable) == 0 {
		return nil, ErrNoApplicableCourses
	}
	return applicable, nil
}

func hasCategory(c store.Course, categoryID uuid.UUID) bool {
	for _, id := range c.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}
