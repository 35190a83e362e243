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

func TestVouchersForCourse(t *testing.T) {
	ctx := context.Background()
	st := newStubStore()
	svc := newTestService(st)
	admin := uuid.New()
	instructor := uuid.New()

	course := store.Course{ID: uuid.New(), Title: "Go", Price: 40000, InstructorID: instructor}
	st.addCourse(course)

	// Instructor voucher with a larger discount than the admin one; admin
	// promotions still list first.
	st.addVoucher(newPercentVoucher("ADM5", 500, nil, admin, common.RoleAdmin))
	st.addVoucher(newPercentVoucher("INS25", 2500, nil, instructor, common.RoleInstructor))

	// An expired candidate must be skipped silently.
	expired := newFixedVoucher("DEAD", 9000, admin, common.RoleAdmin)
	expired.EndDate = testNow.Add(-time.Hour)
	st.addVoucher(expired)

	got, err := svc.VouchersForCourse(ctx, course.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.AllVouchers) != 2 {
		t.Fatalf("got %d quotes, want 2", len(got.AllVouchers))
	}
	if got.AllVouchers[0].Voucher.Code != "ADM5" {
		t.Fatalf("first quote = %s, want the admin voucher", got.AllVouchers[0].Voucher.Code)
	}
	if got.BestVoucher == nil || got.BestVoucher.Voucher.Code != "ADM5" {
		t.Fatalf("best = %v, want ADM5", got.BestVoucher)
	}

	ins := got.AllVouchers[1]
	if ins.CalculatedDiscount != 10000 || ins.FinalPrice != 30000 {
		t.Fatalf("instructor quote: discount %d final %d, want 10000 and 30000", ins.CalculatedDiscount, ins.FinalPrice)
	}
	if ins.PercentOff != 25 {
		t.Fatalf("PercentOff = %d, want 25", ins.PercentOff)
	}
}

func TestVouchersForCourseUnknownCourse(t *testing.T) {
	st := newStubStore()
	svc := newTestService(st)
	_, err := svc.VouchersForCourse(context.Background(), uuid.New())
	if !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("got %v, want ErrCourseNotFound", err)
	}
}
