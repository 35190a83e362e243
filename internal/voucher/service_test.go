package voucher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/store"
)

func validInput(code string) Input {
	start, end := activeWindow()
	return Input{
		Code:          code,
		Description:   "summer promo",
		Scope:         ScopeAllCourses,
		DiscountType:  TypePercentage,
		DiscountValue: 1000,
		StartDate:     start,
		EndDate:       end,
	}
}

func TestCreateVoucher(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()

	t.Run("happy path", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		v, err := svc.Create(ctx, validInput("SUMMER10"), admin, common.RoleAdmin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.IsActive {
			t.Fatal("new voucher should start active")
		}
		if _, ok := st.vouchers[v.ID]; !ok {
			t.Fatal("voucher not persisted")
		}
	})

	t.Run("duplicate code", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		if _, err := svc.Create(ctx, validInput("DUP"), admin, common.RoleAdmin); err != nil {
			t.Fatalf("first create: %v", err)
		}
		_, err := svc.Create(ctx, validInput("DUP"), admin, common.RoleAdmin)
		if !errors.Is(err, ErrCodeExists) {
			t.Fatalf("got %v, want ErrCodeExists", err)
		}
	})

	t.Run("specific scope stores links", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		c := store.Course{ID: uuid.New(), Title: "Go", Price: 40000, InstructorID: uuid.New()}
		st.addCourse(c)

		in := validInput("SPEC")
		in.Scope = ScopeSpecificCourses
		in.CourseIDs = []uuid.UUID{c.ID}
		v, err := svc.Create(ctx, in, admin, common.RoleAdmin)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		linked, _ := st.ListVoucherCourseIDs(ctx, v.ID)
		if len(linked) != 1 || linked[0] != c.ID {
			t.Fatalf("links = %v, want [%s]", linked, c.ID)
		}
	})

	t.Run("single-instant window is allowed", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)

		in := validInput("FLASH")
		in.StartDate = in.EndDate
		if _, err := svc.Create(ctx, in, admin, common.RoleAdmin); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("specific scope rejects unknown courses", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)

		in := validInput("GHOST")
		in.Scope = ScopeSpecificCourses
		in.CourseIDs = []uuid.UUID{uuid.New()}
		_, err := svc.Create(ctx, in, admin, common.RoleAdmin)
		if !errors.Is(err, ErrCourseNotFound) {
			t.Fatalf("got %v, want ErrCourseNotFound", err)
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		cases := []struct {
			name   string
			mutate func(*Input)
		}{
			{"blank code", func(in *Input) { in.Code = "  " }},
			{"percent over 100", func(in *Input) { in.DiscountValue = 10001 }},
			{"percent zero", func(in *Input) { in.DiscountValue = 0 }},
			{"fixed with max discount", func(in *Input) {
				in.DiscountType = TypeFixed
				in.DiscountValue = 5000
				in.MaxDiscount = int64Ptr(1000)
			}},
			{"start after end", func(in *Input) { in.StartDate = in.EndDate.Add(time.Hour) }},
			{"specific without courses", func(in *Input) { in.Scope = ScopeSpecificCourses }},
			{"category without id", func(in *Input) { in.Scope = ScopeCategory }},
			{"unknown scope", func(in *Input) { in.Scope = "EVERYTHING" }},
			{"unknown type", func(in *Input) { in.DiscountType = "BOGO" }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				in := validInput("V-" + tc.name)
				tc.mutate(&in)
				_, err := svc.Create(ctx, in, admin, common.RoleAdmin)
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("got %v, want ErrInvalidInput", err)
				}
			})
		}
	})

	t.Run("instructor cannot target foreign courses", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		instructor := uuid.New()
		foreign := store.Course{ID: uuid.New(), Title: "Other", Price: 10000, InstructorID: uuid.New()}
		st.addCourse(foreign)

		in := validInput("INS1")
		in.Scope = ScopeSpecificCourses
		in.CourseIDs = []uuid.UUID{foreign.ID}
		_, err := svc.Create(ctx, in, instructor, common.RoleInstructor)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("got %v, want ErrForbidden", err)
		}
	})

	t.Run("instructor category needs an owned course inside", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		instructor := uuid.New()
		catID := uuid.New()
		st.addCourse(store.Course{ID: uuid.New(), Title: "Foreign", Price: 10000, InstructorID: uuid.New(), CategoryIDs: []uuid.UUID{catID}})

		in := validInput("INS2")
		in.Scope = ScopeCategory
		in.CategoryID = &catID
		if _, err := svc.Create(ctx, in, instructor, common.RoleInstructor); !errors.Is(err, ErrForbidden) {
			t.Fatalf("got %v, want ErrForbidden", err)
		}

		st.addCourse(store.Course{ID: uuid.New(), Title: "Mine", Price: 10000, InstructorID: instructor, CategoryIDs: []uuid.UUID{catID}})
		in.Code = "INS3"
		if _, err := svc.Create(ctx, in, instructor, common.RoleInstructor); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestUpdateVoucher(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()
	creator := uuid.New()

	seed := func() (*stubStore, *Service, store.Voucher) {
		st := newStubStore()
		svc := newTestService(st)
		v := newPercentVoucher("EDIT10", 1000, nil, creator, common.RoleInstructor)
		st.addVoucher(v)
		return st, svc, v
	}

	t.Run("creator patches value", func(t *testing.T) {
		_, svc, v := seed()
		got, err := svc.Update(ctx, v.ID, Patch{DiscountValue: int64Ptr(2500)}, creator, common.RoleInstructor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.DiscountValue != 2500 {
			t.Fatalf("DiscountValue = %d, want 2500", got.DiscountValue)
		}
		if got.Code != v.Code || got.Scope != v.Scope {
			t.Fatal("code and scope must be immutable")
		}
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		_, svc, v := seed()
		_, err := svc.Update(ctx, v.ID, Patch{DiscountValue: int64Ptr(2500)}, uuid.New(), common.RoleInstructor)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("got %v, want ErrForbidden", err)
		}
	})

	t.Run("admin may patch anyone's voucher", func(t *testing.T) {
		_, svc, v := seed()
		if _, err := svc.Update(ctx, v.ID, Patch{IsActive: boolPtr(false)}, admin, common.RoleAdmin); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("partial patch keeps existing course links", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		c := store.Course{ID: uuid.New(), Title: "Go", Price: 40000, InstructorID: creator}
		st.addCourse(c)
		v := newPercentVoucher("SPEC10", 1000, nil, creator, common.RoleInstructor)
		v.Scope = ScopeSpecificCourses
		st.addVoucher(v, c.ID)

		desc := "updated copy"
		got, err := svc.Update(ctx, v.ID, Patch{Description: &desc}, creator, common.RoleInstructor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Description != desc {
			t.Fatalf("Description = %q, want %q", got.Description, desc)
		}
		linked, _ := st.ListVoucherCourseIDs(ctx, v.ID)
		if len(linked) != 1 || linked[0] != c.ID {
			t.Fatalf("links = %v, want [%s]", linked, c.ID)
		}

		// Toggling activity alone must not require resending courseIds either.
		if _, err := svc.Update(ctx, v.ID, Patch{IsActive: boolPtr(false)}, creator, common.RoleInstructor); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("switching to fixed drops the percentage cap", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		v := newPercentVoucher("CAP10", 1000, int64Ptr(15000), creator, common.RoleInstructor)
		st.addVoucher(v)

		fixed := TypeFixed
		got, err := svc.Update(ctx, v.ID, Patch{DiscountType: &fixed, DiscountValue: int64Ptr(5000)}, creator, common.RoleInstructor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.MaxDiscount != nil {
			t.Fatalf("MaxDiscount = %d, want nil after switching to FIXED", *got.MaxDiscount)
		}
	})

	t.Run("patch cannot break invariants", func(t *testing.T) {
		_, svc, v := seed()
		_, err := svc.Update(ctx, v.ID, Patch{DiscountValue: int64Ptr(20000)}, creator, common.RoleInstructor)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("got %v, want ErrInvalidInput", err)
		}
	})

	t.Run("unknown voucher", func(t *testing.T) {
		_, svc, _ := seed()
		_, err := svc.Update(ctx, uuid.New(), Patch{}, admin, common.RoleAdmin)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteVoucher(t *testing.T) {
	ctx := context.Background()
	creator := uuid.New()

	t.Run("unused voucher is hard-deleted", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		v := newPercentVoucher("DEL", 1000, nil, creator, common.RoleInstructor)
		st.addVoucher(v, uuid.New())

		outcome, err := svc.Delete(ctx, v.ID, creator, common.RoleInstructor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeDeleted {
			t.Fatalf("outcome = %s, want deleted", outcome)
		}
		if _, ok := st.vouchers[v.ID]; ok {
			t.Fatal("voucher still present")
		}
		if _, ok := st.links[v.ID]; ok {
			t.Fatal("course links still present")
		}
	})

	t.Run("used voucher is deactivated instead", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		v := newPercentVoucher("USED", 1000, nil, creator, common.RoleInstructor)
		st.addVoucher(v)
		st.usage[v.ID] = 3

		outcome, err := svc.Delete(ctx, v.ID, creator, common.RoleInstructor)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeDeactivated {
			t.Fatalf("outcome = %s, want deactivated", outcome)
		}
		got := st.vouchers[v.ID]
		if got.IsActive {
			t.Fatal("voucher should be inactive after soft delete")
		}
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		st := newStubStore()
		svc := newTestService(st)
		v := newPercentVoucher("DEL2", 1000, nil, creator, common.RoleInstructor)
		st.addVoucher(v)
		if _, err := svc.Delete(ctx, v.ID, uuid.New(), common.RoleInstructor); !errors.Is(err, ErrForbidden) {
			t.Fatalf("got %v, want ErrForbidden", err)
		}
	})
}

func TestApplyVoucher(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()

	setup := func() (*stubStore, *Service, store.Course, store.Course) {
		st := newStubStore()
		svc := newTestService(st)
		a := store.Course{ID: uuid.New(), Title: "A", Price: 100000, InstructorID: uuid.New()}
		b := store.Course{ID: uuid.New(), Title: "B", Price: 40000, InstructorID: uuid.New()}
		st.addCourse(a)
		st.addCourse(b)
		return st, svc, a, b
	}

	t.Run("percentage with max discount cap", func(t *testing.T) {
		st, svc, a, _ := setup()
		v := newPercentVoucher("CAP20", 2000, int64Ptr(15000), admin, common.RoleAdmin)
		st.addVoucher(v)

		res, err := svc.Apply(ctx, "CAP20", []uuid.UUID{a.ID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.TotalDiscount != 15000 {
			t.Fatalf("TotalDiscount = %d, want 15000", res.TotalDiscount)
		}
		if res.TotalFinalPrice != 85000 {
			t.Fatalf("TotalFinalPrice = %d, want 85000", res.TotalFinalPrice)
		}
	})

	t.Run("fixed never exceeds the price", func(t *testing.T) {
		st, svc, _, _ := setup()
		cheap := store.Course{ID: uuid.New(), Title: "Cheap", Price: 5000, InstructorID: uuid.New()}
		st.addCourse(cheap)
		v := newFixedVoucher("BIGFIX", 20000, admin, common.RoleAdmin)
		st.addVoucher(v)

		res, err := svc.Apply(ctx, "BIGFIX", []uuid.UUID{cheap.ID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.TotalDiscount != 5000 || res.TotalFinalPrice != 0 {
			t.Fatalf("got discount %d final %d, want 5000 and 0", res.TotalDiscount, res.TotalFinalPrice)
		}
	})

	t.Run("per-course breakdown", func(t *testing.T) {
		st, svc, a, b := setup()
		v := newPercentVoucher("TEN", 1000, nil, admin, common.RoleAdmin)
		st.addVoucher(v)

		res, err := svc.Apply(ctx, "TEN", []uuid.UUID{a.ID, b.ID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Breakdown) != 2 {
			t.Fatalf("breakdown has %d rows, want 2", len(res.Breakdown))
		}
		if res.TotalDiscount != 14000 {
			t.Fatalf("TotalDiscount = %d, want 14000", res.TotalDiscount)
		}
		for _, row := range res.Breakdown {
			if row.FinalPrice != row.OriginalPrice-row.DiscountAmount {
				t.Fatalf("row %s: final %d != original %d - discount %d", row.CourseID, row.FinalPrice, row.OriginalPrice, row.DiscountAmount)
			}
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		_, svc, a, _ := setup()
		if _, err := svc.Apply(ctx, "NOPE", []uuid.UUID{a.ID}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("expired voucher", func(t *testing.T) {
		st, svc, a, _ := setup()
		v := newPercentVoucher("OLD", 1000, nil, admin, common.RoleAdmin)
		v.EndDate = testNow.Add(-time.Hour)
		st.addVoucher(v)
		if _, err := svc.Apply(ctx, "OLD", []uuid.UUID{a.ID}); !errors.Is(err, ErrExpired) {
			t.Fatalf("got %v, want ErrExpired", err)
		}
	})

	t.Run("usage cap exhausted", func(t *testing.T) {
		st, svc, a, _ := setup()
		v := newPercentVoucher("FULL", 1000, nil, admin, common.RoleAdmin)
		v.MaxUsage = int32Ptr(5)
		st.addVoucher(v)
		st.usage[v.ID] = 5
		if _, err := svc.Apply(ctx, "FULL", []uuid.UUID{a.ID}); !errors.Is(err, ErrUsageLimitReached) {
			t.Fatalf("got %v, want ErrUsageLimitReached", err)
		}
	})

	t.Run("scope covers only part of the set", func(t *testing.T) {
		st, svc, a, b := setup()
		v := newPercentVoucher("PART", 1000, nil, admin, common.RoleAdmin)
		v.Scope = ScopeSpecificCourses
		st.addVoucher(v, a.ID)

		res, err := svc.Apply(ctx, "PART", []uuid.UUID{a.ID, b.ID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Breakdown) != 1 || res.Breakdown[0].CourseID != a.ID {
			t.Fatalf("breakdown = %v, want only course A", res.Breakdown)
		}
		if res.TotalDiscount != 10000 {
			t.Fatalf("TotalDiscount = %d, want 10000", res.TotalDiscount)
		}
	})

	t.Run("empty course set", func(t *testing.T) {
		_, svc, _, _ := setup()
		if _, err := svc.Apply(ctx, "ANY", nil); !errors.Is(err, ErrEmptyCourseSet) {
			t.Fatalf("got %v, want ErrEmptyCourseSet", err)
		}
	})
}

func TestLedgerRecord(t *testing.T) {
	ctx := context.Background()
	st := newStubStore()
	v := newPercentVoucher("CAPPED", 1000, nil, uuid.New(), common.RoleAdmin)
	v.MaxUsage = int32Ptr(2)
	st.addVoucher(v)

	l := Ledger{Q: st, UOW: st}
	user := uuid.New()

	for i := 0; i < 2; i++ {
		if err := l.Record(ctx, v.ID, user, nil, 4000); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := l.Record(ctx, v.ID, user, nil, 4000); !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("got %v, want ErrUsageLimitReached", err)
	}
	if n, _ := l.Count(ctx, v.ID); n != 2 {
		t.Fatalf("usage count = %d, want 2", n)
	}
}

func boolPtr(b bool) *bool { return &b }
