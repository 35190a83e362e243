package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

var (
	// ErrNotFound indicates the requested voucher does not exist.
	ErrNotFound = errors.New("voucher not found")
	// ErrForbidden indicates the actor may not manage the voucher or its scope targets.
	ErrForbidden = errors.New("actor may not manage this voucher")
	// ErrCodeExists indicates the voucher code is already taken.
	ErrCodeExists = errors.New("voucher code already exists")
	// ErrInvalidInput indicates the payload violates a voucher invariant.
	ErrInvalidInput = errors.New("invalid voucher input")
	// ErrCourseNotFound indicates a referenced course does not exist.
	ErrCourseNotFound = errors.New("course not found")
)

// Querier captures the read and single-row write queries the voucher service needs.
type Querier interface {
	GetVoucherByID(ctx context.Context, id uuid.UUID) (store.Voucher, error)
	GetVoucherByCode(ctx context.Context, code string) (store.Voucher, error)
	ListVouchers(ctx context.Context) ([]store.Voucher, error)
	ListVouchersByCreator(ctx context.Context, creatorID uuid.UUID) ([]store.Voucher, error)
	ListActiveVouchers(ctx context.Context, now time.Time) ([]store.Voucher, error)
	ListVoucherCourseIDs(ctx context.Context, voucherID uuid.UUID) ([]uuid.UUID, error)
	CountVoucherUsage(ctx context.Context, voucherID uuid.UUID) (int64, error)
	SetVoucherActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Tx enumerates the multi-row writes that must share a transaction.
type Tx interface {
	CreateVoucher(ctx context.Context, v store.Voucher) error
	UpdateVoucher(ctx context.Context, v store.Voucher) error
	DeleteVoucher(ctx context.Context, id uuid.UUID) error
	ReplaceVoucherCourses(ctx context.Context, voucherID uuid.UUID, courseIDs []uuid.UUID) error
	InsertVoucherUsage(ctx context.Context, u store.VoucherUsage) error
	IncrementVoucherUsage(ctx context.Context, voucherID uuid.UUID) (bool, error)
}

// UnitOfWork runs fn with all-or-nothing commit semantics.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(Tx) error) error
}

type storeUnitOfWork struct{ st *store.Store }

// NewStoreUnitOfWork adapts the pgx store into the service's unit of work.
func NewStoreUnitOfWork(st *store.Store) UnitOfWork {
	return storeUnitOfWork{st: st}
}

func (u storeUnitOfWork) Run(ctx context.Context, fn func(Tx) error) error {
	return u.st.InTx(ctx, func(txs *store.Store) error { return fn(txs) })
}

// Service owns the voucher lifecycle: creation, mutation, deletion and the
// creator-permission invariants around them.
type Service struct {
	Q               Querier
	Courses         CourseLookup
	UOW             UnitOfWork
	Resolver        Resolver
	SelectorWorkers int
	Now             func() time.Time
}

// Input is the payload for creating a voucher. DiscountValue is basis points
// for PERCENTAGE and minor units for FIXED.
type Input struct {
	Code          string
	Description   string
	Scope         string
	DiscountType  string
	DiscountValue int64
	MaxDiscount   *int64
	StartDate     time.Time
	EndDate       time.Time
	MaxUsage      *int32
	CategoryID    *uuid.UUID
	CourseIDs     []uuid.UUID
}

// Patch carries the mutable voucher fields; nil means unchanged. Scope and
// code are immutable after creation.
type Patch struct {
	Description   *string
	DiscountType  *string
	DiscountValue *int64
	MaxDiscount   *int64
	StartDate     *time.Time
	EndDate       *time.Time
	MaxUsage      *int32
	IsActive      *bool
	CategoryID    *uuid.UUID
	CourseIDs     []uuid.UUID
}

// Create validates the input, enforces creator-permission invariants and
// writes the voucher together with its course links in one transaction.
func (s *Service) Create(ctx context.Context, in Input, creatorID uuid.UUID, creatorRole string) (store.Voucher, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return store.Voucher{}, fmt.Errorf("code is required: %w", ErrInvalidInput)
	}
	v := store.Voucher{
		ID:            uuid.New(),
		Code:          code,
		Description:   strings.TrimSpace(in.Description),
		Scope:         in.Scope,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		MaxDiscount:   in.MaxDiscount,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		MaxUsage:      in.MaxUsage,
		IsActive:      true,
		CreatorID:     creatorID,
		CreatorRole:   creatorRole,
		CategoryID:    in.CategoryID,
		CreatedAt:     s.now(),
	}
	if err := validateVoucher(v, in.CourseIDs); err != nil {
		return store.Voucher{}, err
	}
	if _, err := s.Q.GetVoucherByCode(ctx, code); err == nil {
		return store.Voucher{}, ErrCodeExists
	} else if !errors.Is(err, store.ErrNoRows) {
		return store.Voucher{}, err
	}
	if v.Scope == ScopeSpecificCourses {
		courses, err := s.Courses.GetCoursesByIDs(ctx, in.CourseIDs)
		if err != nil {
			return store.Voucher{}, err
		}
		found := make(map[uuid.UUID]struct{}, len(courses))
		for _, c := range courses {
			found[c.ID] = struct{}{}
		}
		for _, id := range in.CourseIDs {
			if _, ok := found[id]; !ok {
				return store.Voucher{}, fmt.Errorf("course %s: %w", id, ErrCourseNotFound)
			}
		}
	}
	if creatorRole == common.RoleInstructor {
		if err := s.validateInstructorScope(ctx, creatorID, v.Scope, in.CourseIDs, in.CategoryID); err != nil {
			return store.Voucher{}, err
		}
	}
	err := s.UOW.Run(ctx, func(tx Tx) error {
		if err := tx.CreateVoucher(ctx, v); err != nil {
			return err
		}
		if v.Scope == ScopeSpecificCourses {
			return tx.ReplaceVoucherCourses(ctx, v.ID, in.CourseIDs)
		}
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.Voucher{}, ErrCodeExists
		}
		return store.Voucher{}, err
	}
	return v, nil
}

// Update applies the patch after re-validating ownership and invariants.
// Course links are replaced transactionally when CourseIDs is provided.
func (s *Service) Update(ctx context.Context, voucherID uuid.UUID, p Patch, actorID uuid.UUID, actorRole string) (store.Voucher, error) {
	v, err := s.load(ctx, voucherID)
	if err != nil {
		return store.Voucher{}, err
	}
	if !canManage(actorID, actorRole, v) {
		return store.Voucher{}, ErrForbidden
	}
	applyPatch(&v, p)
	// A patch that leaves courseIds out keeps the stored links, so validate
	// against those rather than rejecting the partial update.
	links := p.CourseIDs
	if v.Scope == ScopeSpecificCourses && len(links) == 0 {
		links, err = s.Q.ListVoucherCourseIDs(ctx, voucherID)
		if err != nil {
			return store.Voucher{}, err
		}
	}
	if err := validateVoucher(v, links); err != nil {
		return store.Voucher{}, err
	}
	scopeTargetsChanged := len(p.CourseIDs) > 0 || p.CategoryID != nil
	if actorRole == common.RoleInstructor && scopeTargetsChanged {
		if err := s.validateInstructorScope(ctx, actorID, v.Scope, p.CourseIDs, v.CategoryID); err != nil {
			return store.Voucher{}, err
		}
	}
	err = s.UOW.Run(ctx, func(tx Tx) error {
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		if v.Scope == ScopeSpecificCourses && len(p.CourseIDs) > 0 {
			return tx.ReplaceVoucherCourses(ctx, v.ID, p.CourseIDs)
		}
		return nil
	})
	if err != nil {
		return store.Voucher{}, err
	}
	return v, nil
}

// DeleteOutcome reports whether Delete removed or merely deactivated.
type DeleteOutcome string

// Delete outcomes.
const (
	OutcomeDeleted     DeleteOutcome = "deleted"
	OutcomeDeactivated DeleteOutcome = "deactivated"
)

// Delete removes an unused voucher together with its course links, or flips
// an already-used one to inactive. Used vouchers are never hard-deleted so
// usage history stays resolvable.
func (s *Service) Delete(ctx context.Context, voucherID uuid.UUID, actorID uuid.UUID, actorRole string) (DeleteOutcome, error) {
	v, err := s.load(ctx, voucherID)
	if err != nil {
		return "", err
	}
	if !canManage(actorID, actorRole, v) {
		return "", ErrForbidden
	}
	used, err := s.Q.CountVoucherUsage(ctx, v.ID)
	if err != nil {
		return "", err
	}
	if used > 0 {
		if err := s.Q.SetVoucherActive(ctx, v.ID, false); err != nil {
			return "", err
		}
		return OutcomeDeactivated, nil
	}
	err = s.UOW.Run(ctx, func(tx Tx) error {
		if err := tx.ReplaceVoucherCourses(ctx, v.ID, nil); err != nil {
			return err
		}
		return tx.DeleteVoucher(ctx, v.ID)
	})
	if err != nil {
		return "", err
	}
	return OutcomeDeleted, nil
}

// ToggleActive flips the explicit on/off switch.
func (s *Service) ToggleActive(ctx context.Context, voucherID uuid.UUID, actorID uuid.UUID, actorRole string) (store.Voucher, error) {
	v, err := s.load(ctx, voucherID)
	if err != nil {
		return store.Voucher{}, err
	}
	if !canManage(actorID, actorRole, v) {
		return store.Voucher{}, ErrForbidden
	}
	if err := s.Q.SetVoucherActive(ctx, v.ID, !v.IsActive); err != nil {
		return store.Voucher{}, err
	}
	v.IsActive = !v.IsActive
	return v, nil
}

// GetByID fetches a voucher with its linked course ids.
func (s *Service) GetByID(ctx context.Context, voucherID uuid.UUID) (store.Voucher, []uuid.UUID, error) {
	v, err := s.load(ctx, voucherID)
	if err != nil {
		return store.Voucher{}, nil, err
	}
	var linked []uuid.UUID
	if v.Scope == ScopeSpecificCourses {
		linked, err = s.Q.ListVoucherCourseIDs(ctx, v.ID)
		if err != nil {
			return store.Voucher{}, nil, err
		}
	}
	return v, linked, nil
}

// ListByCreator returns the creator's vouchers, newest first.
func (s *Service) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]store.Voucher, error) {
	return s.Q.ListVouchersByCreator(ctx, creatorID)
}

// ListAll returns every voucher. Caller gates this to admins.
func (s *Service) ListAll(ctx context.Context) ([]store.Voucher, error) {
	return s.Q.ListVouchers(ctx)
}

func (s *Service) load(ctx context.Context, voucherID uuid.UUID) (store.Voucher, error) {
	v, err := s.Q.GetVoucherByID(ctx, voucherID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return store.Voucher{}, ErrNotFound
		}
		return store.Voucher{}, err
	}
	return v, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// validateInstructorScope enforces the creator-permission invariants:
// instructors may only target courses they own, categories containing at
// least one of their courses, or — for ALL_COURSES — must own a course at all.
func (s *Service) validateInstructorScope(ctx context.Context, instructorID uuid.UUID, scope string, courseIDs []uuid.UUID, categoryID *uuid.UUID) error {
	owned, err := s.Courses.ListCourseIDsByInstructor(ctx, instructorID)
	if err != nil {
		return err
	}
	ownedSet := make(map[uuid.UUID]struct{}, len(owned))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
	}
	switch scope {
	case ScopeSpecificCourses:
		for _, id := range courseIDs {
			if _, ok := ownedSet[id]; !ok {
				return fmt.Errorf("course %s is not owned by the creator: %w", id, ErrForbidden)
			}
		}
	case ScopeCategory:
		if categoryID == nil {
			return fmt.Errorf("categoryId is required: %w", ErrInvalidInput)
		}
		inCategory, err := s.Courses.ListCourseIDsInCategory(ctx, *categoryID)
		if err != nil {
			return err
		}
		for _, id := range inCategory {
			if _, ok := ownedSet[id]; ok {
				return nil
			}
		}
		return fmt.Errorf("category has no courses owned by the creator: %w", ErrForbidden)
	case ScopeAllCourses:
		if len(owned) == 0 {
			return fmt.Errorf("creator owns no courses: %w", ErrForbidden)
		}
	}
	return nil
}

func validateVoucher(v store.Voucher, courseIDs []uuid.UUID) error {
	if v.StartDate.After(v.EndDate) {
		return fmt.Errorf("startDate must not be after endDate: %w", ErrInvalidInput)
	}
	switch v.DiscountType {
	case TypePercentage:
		if v.DiscountValue <= 0 || v.DiscountValue > 10000 {
			return fmt.Errorf("percentage must be within (0, 100]: %w", ErrInvalidInput)
		}
	case TypeFixed:
		if v.DiscountValue <= 0 {
			return fmt.Errorf("fixed discount must be positive: %w", ErrInvalidInput)
		}
		if v.MaxDiscount != nil {
			return fmt.Errorf("maxDiscount only applies to percentage vouchers: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown discount type %q: %w", v.DiscountType, ErrInvalidInput)
	}
	if v.MaxDiscount != nil && *v.MaxDiscount <= 0 {
		return fmt.Errorf("maxDiscount must be positive: %w", ErrInvalidInput)
	}
	switch v.Scope {
	case ScopeAllCourses:
	case ScopeSpecificCourses:
		if len(courseIDs) == 0 {
			return fmt.Errorf("courseIds are required for SPECIFIC_COURSES: %w", ErrInvalidInput)
		}
	case ScopeCategory:
		if v.CategoryID == nil {
			return fmt.Errorf("categoryId is required for CATEGORY: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown scope %q: %w", v.Scope, ErrInvalidInput)
	}
	return nil
}

func applyPatch(v *store.Voucher, p Patch) {
	if p.Description != nil {
		v.Description = strings.TrimSpace(*p.Description)
	}
	if p.DiscountType != nil {
		v.DiscountType = *p.DiscountType
		// A fixed discount has no percentage cap; drop a stale one unless
		// the patch sets its own.
		if v.DiscountType == TypeFixed && p.MaxDiscount == nil {
			v.MaxDiscount = nil
		}
	}
	if p.DiscountValue != nil {
		v.DiscountValue = *p.DiscountValue
	}
	if p.MaxDiscount != nil {
		v.MaxDiscount = p.MaxDiscount
	}
	if p.StartDate != nil {
		v.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		v.EndDate = *p.EndDate
	}
	if p.MaxUsage != nil {
		v.MaxUsage = p.MaxUsage
	}
	if p.IsActive != nil {
		v.IsActive = *p.IsActive
	}
	if p.CategoryID != nil {
		v.CategoryID = p.CategoryID
	}
}

func canManage(actorID uuid.UUID, actorRole string, v store.Voucher) bool {
	return actorRole == common.RoleAdmin || actorID == v.CreatorID
}

// RuleFrom converts a stored voucher into the pure calculation rule.
func RuleFrom(v store.Voucher) Rule {
	return Rule{
		Type:        v.DiscountType,
		Value:       v.DiscountValue,
		MaxDiscount: v.MaxDiscount,
		StartDate:   v.StartDate,
		EndDate:     v.EndDate,
		IsActive:    v.IsActive,
		MaxUsage:    v.MaxUsage,
	}
}
