package voucher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/store"
)

// stubStore is an in-memory stand-in for the pgx store, shared by the
// service, selector and ledger tests.
type stubStore struct {
	mu       sync.Mutex
	vouchers map[uuid.UUID]store.Voucher
	links    map[uuid.UUID][]uuid.UUID
	courses  map[uuid.UUID]store.Course
	usage    map[uuid.UUID]int64
}

func newStubStore() *stubStore {
	return &stubStore{
		vouchers: map[uuid.UUID]store.Voucher{},
		links:    map[uuid.UUID][]uuid.UUID{},
		courses:  map[uuid.UUID]store.Course{},
		usage:    map[uuid.UUID]int64{},
	}
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(st *stubStore) *Service {
	return &Service{
		Q:        st,
		Courses:  st,
		UOW:      st,
		Resolver: Resolver{Links: st},
		Now:      func() time.Time { return testNow },
	}
}

func (s *stubStore) addCourse(c store.Course) { s.courses[c.ID] = c }

func (s *stubStore) addVoucher(v store.Voucher, linked ...uuid.UUID) {
	s.vouchers[v.ID] = v
	if len(linked) > 0 {
		s.links[v.ID] = linked
	}
}

func (s *stubStore) GetVoucherByID(_ context.Context, id uuid.UUID) (store.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return store.Voucher{}, store.ErrNoRows
	}
	return v, nil
}

func (s *stubStore) GetVoucherByCode(_ context.Context, code string) (store.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return store.Voucher{}, store.ErrNoRows
}

func (s *stubStore) ListVouchers(context.Context) ([]store.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Voucher, 0, len(s.vouchers))
	for _, v := range s.vouchers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *stubStore) ListVouchersByCreator(_ context.Context, creatorID uuid.UUID) ([]store.Voucher, error) {
	all, _ := s.ListVouchers(context.Background())
	var out []store.Voucher
	for _, v := range all {
		if v.CreatorID == creatorID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubStore) ListActiveVouchers(_ context.Context, now time.Time) ([]store.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Voucher
	for _, v := range s.vouchers {
		if v.IsActive && !now.Before(v.StartDate) && !now.After(v.EndDate) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *stubStore) ListVoucherCourseIDs(_ context.Context, voucherID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.links[voucherID]...), nil
}

func (s *stubStore) CountVoucherUsage(_ context.Context, voucherID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[voucherID], nil
}

func (s *stubStore) SetVoucherActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return store.ErrNoRows
	}
	v.IsActive = active
	s.vouchers[id] = v
	return nil
}

// UnitOfWork: the stub runs fn against itself with no transactionality.
func (s *stubStore) Run(_ context.Context, fn func(Tx) error) error { return fn(s) }

func (s *stubStore) CreateVoucher(_ context.Context, v store.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[v.ID] = v
	return nil
}

func (s *stubStore) UpdateVoucher(_ context.Context, v store.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vouchers[v.ID]; !ok {
		return store.ErrNoRows
	}
	s.vouchers[v.ID] = v
	return nil
}

func (s *stubStore) DeleteVoucher(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vouchers, id)
	return nil
}

func (s *stubStore) ReplaceVoucherCourses(_ context.Context, voucherID uuid.UUID, courseIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(courseIDs) == 0 {
		delete(s.links, voucherID)
		return nil
	}
	s.links[voucherID] = append([]uuid.UUID(nil), courseIDs...)
	return nil
}

func (s *stubStore) InsertVoucherUsage(_ context.Context, u store.VoucherUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[u.VoucherID]++
	return nil
}

func (s *stubStore) IncrementVoucherUsage(_ context.Context, voucherID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[voucherID]
	if !ok {
		return false, nil
	}
	if v.MaxUsage != nil && v.UsedCount >= *v.MaxUsage {
		return false, nil
	}
	v.UsedCount++
	s.vouchers[voucherID] = v
	return true, nil
}

func (s *stubStore) GetCoursesByIDs(_ context.Context, ids []uuid.UUID) ([]store.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Course
	for _, id := range ids {
		if c, ok := s.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubStore) ListCourseIDsByInstructor(_ context.Context, instructorID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, c := range s.courses {
		if c.InstructorID == instructorID {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

func (s *stubStore) ListCourseIDsInCategory(_ context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, c := range s.courses {
		for _, id := range c.CategoryIDs {
			if id == categoryID {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out, nil
}

func activeWindow() (time.Time, time.Time) {
	return testNow.Add(-24 * time.Hour), testNow.Add(24 * time.Hour)
}

func newPercentVoucher(code string, bps int64, maxDiscount *int64, creatorID uuid.UUID, creatorRole string) store.Voucher {
	start, end := activeWindow()
	return store.Voucher{
		ID:            uuid.New(),
		Code:          code,
		Scope:         ScopeAllCourses,
		DiscountType:  TypePercentage,
		DiscountValue: bps,
		MaxDiscount:   maxDiscount,
		StartDate:     start,
		EndDate:       end,
		IsActive:      true,
		CreatorID:     creatorID,
		CreatorRole:   creatorRole,
		CreatedAt:     testNow.Add(-time.Hour),
	}
}

func newFixedVoucher(code string, amount int64, creatorID uuid.UUID, creatorRole string) store.Voucher {
	start, end := activeWindow()
	return store.Voucher{
		ID:            uuid.New(),
		Code:          code,
		Scope:         ScopeAllCourses,
		DiscountType:  TypeFixed,
		DiscountValue: amount,
		StartDate:     start,
		EndDate:       end,
		IsActive:      true,
		CreatorID:     creatorID,
		CreatorRole:   creatorRole,
		CreatedAt:     testNow.Add(-time.Hour),
	}
}

func int64Ptr(v int64) *int64 { return &v }

func int32Ptr(v int32) *int32 { return &v }
