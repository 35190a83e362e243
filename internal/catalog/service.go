// Package catalog is the public read surface: categories, course listings
// and course detail enriched with the currently best voucher.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
	"github.com/noah-isme/backend-kursus/internal/voucher"
)

// ErrNotFound indicates the requested course does not exist.
var ErrNotFound = errors.New("course not found")

type queryProvider interface {
	ListCourses(ctx context.Context, limit, offset int) ([]store.Course, error)
	CountCourses(ctx context.Context) (int64, error)
	GetCourseByID(ctx context.Context, id uuid.UUID) (store.Course, error)
	ListCategories(ctx context.Context) ([]store.Category, error)
	ListActiveVouchers(ctx context.Context, now time.Time) ([]store.Voucher, error)
}

type voucherProvider interface {
	VouchersForCourse(ctx context.Context, courseID uuid.UUID) (voucher.CourseVouchers, error)
}

// Service orchestrates catalog queries, voucher enrichment and caching.
type Service struct {
	Queries      queryProvider
	Vouchers     voucherProvider
	Cache        *Cache
	DefaultLimit int
	MaxLimit     int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CourseItem is a course listing entry with its best current discount.
type CourseItem struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Price           int64       `json:"price"`
	InstructorID    uuid.UUID   `json:"instructorId"`
	CategoryIDs     []uuid.UUID `json:"categoryIds"`
	DiscountedPrice *int64      `json:"discountedPrice,omitempty"`
	VoucherCode     *string     `json:"voucherCode,omitempty"`
}

// ListResult is one page of the course catalog.
type ListResult struct {
	Items []CourseItem `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int64        `json:"total"`
}

// Banner is the storefront promotion strip: the strongest active
// admin-created ALL_COURSES voucher, when one exists.
type Banner struct {
	HasActiveVoucher bool           `json:"hasActiveVoucher"`
	Voucher          *store.Voucher `json:"voucher,omitempty"`
}

// Categories lists all course categories.
func (s *Service) Categories(ctx context.Context) ([]store.Category, error) {
	return s.Queries.ListCategories(ctx)
}

// ListCourses returns one catalog page, enriched per course with the best
// applicable voucher. Pages are cached; the cache TTL bounds staleness after
// voucher changes.
func (s *Service) ListCourses(ctx context.Context, page, limit int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if s.MaxLimit > 0 && limit > s.MaxLimit {
		limit = s.MaxLimit
	}
	key := fmt.Sprintf("catalog:courses:%d:%d", page, limit)
	var cached ListResult
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	courses, err := s.Queries.ListCourses(ctx, limit, (page-1)*limit)
	if err != nil {
		return ListResult{}, err
	}
	total, err := s.Queries.CountCourses(ctx)
	if err != nil {
		return ListResult{}, err
	}
	result := ListResult{Page: page, Limit: limit, Total: total}
	for _, c := range courses {
		result.Items = append(result.Items, s.enrich(ctx, c))
	}
	_ = s.Cache.SetJSON(ctx, key, result)
	return result, nil
}

// CourseDetail returns one course with every voucher applicable to it.
func (s *Service) CourseDetail(ctx context.Context, courseID uuid.UUID) (voucher.CourseVouchers, error) {
	if _, err := s.Queries.GetCourseByID(ctx, courseID); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return voucher.CourseVouchers{}, ErrNotFound
		}
		return voucher.CourseVouchers{}, err
	}
	detail, err := s.Vouchers.VouchersForCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, voucher.ErrCourseNotFound) {
			return voucher.CourseVouchers{}, ErrNotFound
		}
		return voucher.CourseVouchers{}, err
	}
	return detail, nil
}

// SiteBanner picks the active admin ALL_COURSES voucher with the largest
// discount value for the storefront banner.
func (s *Service) SiteBanner(ctx context.Context) (Banner, error) {
	key := "catalog:banner"
	var cached Banner
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	active, err := s.Queries.ListActiveVouchers(ctx, s.now())
	if err != nil {
		return Banner{}, err
	}
	var best *store.Voucher
	for i := range active {
		v := active[i]
		if v.Scope != voucher.ScopeAllCourses || v.CreatorRole != common.RoleAdmin {
			continue
		}
		if best == nil || v.DiscountValue > best.DiscountValue {
			best = &active[i]
		}
	}
	banner := Banner{HasActiveVoucher: best != nil, Voucher: best}
	_ = s.Cache.SetJSON(ctx, key, banner)
	return banner, nil
}

func (s *Service) enrich(ctx context.Context, c store.Course) CourseItem {
	item := CourseItem{
		ID:           c.ID,
		Title:        c.Title,
		Price:        c.Price,
		InstructorID: c.InstructorID,
		CategoryIDs:  c.CategoryIDs,
	}
	if s.Vouchers == nil {
		return item
	}
	// Enrichment is best effort; a voucher lookup failure must not break the
	// listing.
	detail, err := s.Vouchers.VouchersForCourse(ctx, c.ID)
	if err != nil || detail.BestVoucher == nil {
		return item
	}
	final := detail.BestVoucher.FinalPrice
	item.DiscountedPrice = &final
	item.VoucherCode = &detail.BestVoucher.Voucher.Code
	return item
}
