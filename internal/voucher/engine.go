package voucher

import (
	"errors"
	"time"
)

// Voucher scopes.
const (
	ScopeAllCourses      = "ALL_COURSES"
	ScopeSpecificCourses = "SPECIFIC_COURSES"
	ScopeCategory        = "CATEGORY"
)

// Discount types.
const (
	TypePercentage = "PERCENTAGE"
	TypeFixed      = "FIXED"
)

var (
	// ErrInactive is returned when the voucher's on/off switch is off.
	ErrInactive = errors.New("voucher not active")
	// ErrNotStarted is returned before the validity window opens.
	ErrNotStarted = errors.New("voucher not yet valid")
	// ErrExpired is returned after the validity window closes.
	ErrExpired = errors.New("voucher expired")
	// ErrUsageLimitReached indicates the voucher has exhausted its usage quota.
	ErrUsageLimitReached = errors.New("voucher usage limit reached")
	// ErrNoApplicableCourses is returned when the scope matches none of the requested courses.
	ErrNoApplicableCourses = errors.New("voucher not applicable to any courses in the cart")
	// ErrEmptyCourseSet is returned when there is nothing to price.
	ErrEmptyCourseSet = errors.New("no courses provided")
)

// Rule captures the discount formula and activation constraints of a voucher.
// Monetary fields are in minor currency units; percentages are basis points.
type Rule struct {
	Type        string
	Value       int64
	MaxDiscount *int64
	StartDate   time.Time
	EndDate     time.Time
	IsActive    bool
	MaxUsage    *int32
}

// Validate applies the activation, window and usage-cap gates in order.
// used is the number of recorded applications of the voucher.
func (r Rule) Validate(now time.Time, used int64) error {
	if !r.IsActive {
		return ErrInactive
	}
	if now.Before(r.StartDate) {
		return ErrNotStarted
	}
	if now.After(r.EndDate) {
		return ErrExpired
	}
	if r.MaxUsage != nil && used >= int64(*r.MaxUsage) {
		return ErrUsageLimitReached
	}
	return nil
}

// Compute returns the discount for a single course price. Integer minor-unit
// arithmetic throughout: the percentage division truncates, a percentage
// discount is capped at MaxDiscount when set, and no discount ever exceeds
// the price itself.
func Compute(price int64, r Rule) int64 {
	if price <= 0 {
		return 0
	}
	var discount int64
	switch r.Type {
	case TypePercentage:
		if r.Value <= 0 {
			return 0
		}
		discount = (price * r.Value) / 10000
		if r.MaxDiscount != nil && discount > *r.MaxDiscount {
			discount = *r.MaxDiscount
		}
	case TypeFixed:
		discount = r.Value
	default:
		return 0
	}
	if discount > price {
		discount = price
	}
	if discount < 0 {
		return 0
	}
	return discount
}
