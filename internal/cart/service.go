package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kursus/internal/lock"
	"github.com/noah-isme/backend-kursus/internal/obs"
	"github.com/noah-isme/backend-kursus/internal/pricing"
	"github.com/noah-isme/backend-kursus/internal/store"
	"github.com/noah-isme/backend-kursus/internal/voucher"
)

// ErrCourseNotFound indicates the course being added does not exist.
var ErrCourseNotFound = errors.New("course not found")

// ErrItemNotFound indicates the course is not in the cart.
var ErrItemNotFound = errors.New("cart item not found")

// ErrNothingSelected is returned when a voucher is applied to a cart with no
// selected items.
var ErrNothingSelected = errors.New("no items selected")

// VoucherEngine is the slice of the voucher service the cart needs.
type VoucherEngine interface {
	Apply(ctx context.Context, code string, courseIDs []uuid.UUID) (*voucher.ApplyResult, error)
	SelectBest(ctx context.Context, courseIDs []uuid.UUID) (*voucher.ApplyResult, []voucher.CandidateOutcome, error)
}

// Service owns cart mutations and keeps the applied-voucher snapshot in sync
// with the cart contents. Every mutation invalidates the snapshot and then
// re-runs best-voucher selection on a best-effort basis.
type Service struct {
	Store            *Store
	Vouchers         VoucherEngine
	Courses          voucher.CourseLookup
	Locker           *lock.Locker
	Log              zerolog.Logger
	AutoApplyTimeout time.Duration
	Now              func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) autoApplyTimeout() time.Duration {
	if s == nil || s.AutoApplyTimeout <= 0 {
		return 2 * time.Second
	}
	return s.AutoApplyTimeout
}

// Line is one cart row joined with its course and the share of the applied
// voucher's discount that falls on it.
type Line struct {
	Course     store.Course `json:"course"`
	Selected   bool         `json:"selected"`
	AddedAt    time.Time    `json:"addedAt"`
	Discount   int64        `json:"discount"`
	FinalPrice int64        `json:"finalPrice"`
}

// View is the priced cart returned to clients.
type View struct {
	Items   []Line          `json:"items"`
	Voucher *AppliedVoucher `json:"voucher,omitempty"`
	Summary pricing.Summary `json:"summary"`
}

// AddItem puts a course into the cart, selected. Adding a course that is
// already present is a no-op apart from re-running voucher selection.
func (s *Service) AddItem(ctx context.Context, userID, courseID uuid.UUID) (View, error) {
	courses, err := s.Courses.GetCoursesByIDs(ctx, []uuid.UUID{courseID})
	if err != nil {
		return View{}, err
	}
	if len(courses) == 0 {
		return View{}, ErrCourseNotFound
	}
	_, err = s.Store.Update(ctx, userID, func(items []Item) ([]Item, error) {
		for _, it := range items {
			if it.CourseID == courseID {
				return items, nil
			}
		}
		return append(items, Item{CourseID: courseID, Selected: true, AddedAt: s.now()}), nil
	})
	if err != nil {
		return View{}, err
	}
	s.refreshVoucher(ctx, userID)
	return s.Get(ctx, userID)
}

// RemoveItem drops a course from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, courseID uuid.UUID) (View, error) {
	_, err := s.Store.Update(ctx, userID, func(items []Item) ([]Item, error) {
		for i, it := range items {
			if it.CourseID == courseID {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrItemNotFound
	})
	if err != nil {
		return View{}, err
	}
	s.refreshVoucher(ctx, userID)
	return s.Get(ctx, userID)
}

// SetSelected toggles whether a cart line takes part in pricing.
func (s *Service) SetSelected(ctx context.Context, userID, courseID uuid.UUID, selected bool) (View, error) {
	_, err := s.Store.Update(ctx, userID, func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].CourseID == courseID {
				items[i].Selected = selected
				return items, nil
			}
		}
		return nil, ErrItemNotFound
	})
	if err != nil {
		return View{}, err
	}
	s.refreshVoucher(ctx, userID)
	return s.Get(ctx, userID)
}

// Clear empties the cart and drops the voucher snapshot.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.Store.Clear(ctx, userID)
}

// ApplyVoucher prices the named voucher against the selected items and, on
// success, persists the snapshot. Eligibility errors pass through so handlers
// can explain the rejection.
func (s *Service) ApplyVoucher(ctx context.Context, userID uuid.UUID, code string) (View, error) {
	selected, err := s.selectedCourseIDs(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if len(selected) == 0 {
		return View{}, ErrNothingSelected
	}
	result, err := s.Vouchers.Apply(ctx, code, selected)
	if err != nil {
		return View{}, err
	}
	av := AppliedVoucher{
		VoucherID:     result.Voucher.ID,
		Code:          result.Voucher.Code,
		Breakdown:     result.Breakdown,
		TotalDiscount: result.TotalDiscount,
		AppliedAt:     s.now(),
	}
	if err := s.Store.SetVoucher(ctx, userID, av); err != nil {
		return View{}, err
	}
	return s.Get(ctx, userID)
}

// RemoveVoucher drops the snapshot without re-running selection, so an
// explicit removal sticks until the cart next changes.
func (s *Service) RemoveVoucher(ctx context.Context, userID uuid.UUID) (View, error) {
	if err := s.Store.ClearVoucher(ctx, userID); err != nil {
		return View{}, err
	}
	return s.Get(ctx, userID)
}

// Get returns the priced cart: every line joined with its course, the
// voucher snapshot matched back onto lines by course id, and the totals.
// Snapshot rows whose course left the cart contribute nothing.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (View, error) {
	items, err := s.Store.Items(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if len(items) == 0 {
		return View{Summary: pricing.Compute(nil, 0)}, nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.CourseID)
	}
	courses, err := s.Courses.GetCoursesByIDs(ctx, ids)
	if err != nil {
		return View{}, err
	}
	byID := make(map[uuid.UUID]store.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	av, hasVoucher, err := s.Store.Voucher(ctx, userID)
	if err != nil {
		return View{}, err
	}
	discounts := map[uuid.UUID]int64{}
	if hasVoucher {
		for _, row := range av.Breakdown {
			discounts[row.CourseID] = row.DiscountAmount
		}
	}

	view := View{}
	var prices []pricing.Money
	var totalDiscount int64
	for _, it := range items {
		c, ok := byID[it.CourseID]
		if !ok {
			// Course was removed from the catalog; drop the line from view.
			continue
		}
		line := Line{Course: c, Selected: it.Selected, AddedAt: it.AddedAt, FinalPrice: c.Price}
		if it.Selected {
			prices = append(prices, c.Price)
			if d := discounts[c.ID]; d > 0 {
				line.Discount = d
				line.FinalPrice = c.Price - d
				totalDiscount += d
			}
		}
		view.Items = append(view.Items, line)
	}
	if hasVoucher {
		view.Voucher = &av
	}
	view.Summary = pricing.Compute(prices, totalDiscount)
	return view, nil
}

// refreshVoucher drops the stale snapshot and re-runs best-voucher selection
// under a short deadline. Failures are logged and swallowed: the cart
// mutation that triggered the refresh has already succeeded.
func (s *Service) refreshVoucher(ctx context.Context, userID uuid.UUID) {
	if err := s.Store.ClearVoucher(ctx, userID); err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID.String()).Msg("cart: clear voucher snapshot")
		return
	}
	if s.Vouchers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.autoApplyTimeout())
	defer cancel()

	run := func(ctx context.Context) error { return s.autoApply(ctx, userID) }
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "cart:autoapply:"+userID.String(), s.autoApplyTimeout(), run)
	} else {
		err = run(ctx)
	}
	if obs.CartAutoApplyTotal != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obs.CartAutoApplyTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		s.Log.Warn().Err(err).Str("user_id", userID.String()).Msg("cart: auto-apply best voucher")
	}
}

func (s *Service) autoApply(ctx context.Context, userID uuid.UUID) error {
	selected, err := s.selectedCourseIDs(ctx, userID)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}
	best, _, err := s.Vouchers.SelectBest(ctx, selected)
	if err != nil {
		return err
	}
	if best == nil {
		return nil
	}
	av := AppliedVoucher{
		VoucherID:     best.Voucher.ID,
		Code:          best.Voucher.Code,
		Breakdown:     best.Breakdown,
		TotalDiscount: best.TotalDiscount,
		AutoApplied:   true,
		AppliedAt:     s.now(),
	}
	if err := s.Store.SetVoucher(ctx, userID, av); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *Service) selectedCourseIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	items, err := s.Store.Items(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, it := range items {
		if it.Selected {
			out = append(out, it.CourseID)
		}
	}
	return out, nil
}
