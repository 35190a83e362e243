package voucher

import (
	"errors"
	"testing"
	"time"
)

func TestComputePercentage(t *testing.T) {
	cases := []struct {
		name  string
		price int64
		rule  Rule
		want  int64
	}{
		{"plain percent", 40000, Rule{Type: TypePercentage, Value: 1000}, 4000},
		{"max discount caps", 100000, Rule{Type: TypePercentage, Value: 2000, MaxDiscount: int64Ptr(15000)}, 15000},
		{"cap above raw is ignored", 100000, Rule{Type: TypePercentage, Value: 2000, MaxDiscount: int64Ptr(50000)}, 20000},
		{"full percent", 100000, Rule{Type: TypePercentage, Value: 10000}, 100000},
		{"rounds down", 999, Rule{Type: TypePercentage, Value: 1000}, 99},
		{"zero price", 0, Rule{Type: TypePercentage, Value: 5000}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compute(tc.price, tc.rule); got != tc.want {
				t.Fatalf("Compute(%d) = %d, want %d", tc.price, got, tc.want)
			}
		})
	}
}

func TestComputeFixed(t *testing.T) {
	cases := []struct {
		name  string
		price int64
		value int64
		want  int64
	}{
		{"below price", 40000, 5000, 5000},
		{"exceeds price clamps", 5000, 20000, 5000},
		{"equals price", 5000, 5000, 5000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(tc.price, Rule{Type: TypeFixed, Value: tc.value})
			if got != tc.want {
				t.Fatalf("Compute(%d, fixed %d) = %d, want %d", tc.price, tc.value, got, tc.want)
			}
			if final := tc.price - got; final < 0 {
				t.Fatalf("final price went negative: %d", final)
			}
		})
	}
}

func TestRuleValidate(t *testing.T) {
	start, end := activeWindow()
	base := Rule{Type: TypePercentage, Value: 1000, StartDate: start, EndDate: end, IsActive: true}

	t.Run("valid", func(t *testing.T) {
		if err := base.Validate(testNow, 0); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("inactive", func(t *testing.T) {
		r := base
		r.IsActive = false
		if err := r.Validate(testNow, 0); !errors.Is(err, ErrInactive) {
			t.Fatalf("got %v, want ErrInactive", err)
		}
	})

	t.Run("not started", func(t *testing.T) {
		r := base
		r.StartDate = testNow.Add(time.Hour)
		if err := r.Validate(testNow, 0); !errors.Is(err, ErrNotStarted) {
			t.Fatalf("got %v, want ErrNotStarted", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		r := base
		r.EndDate = testNow.Add(-time.Minute)
		if err := r.Validate(testNow, 0); !errors.Is(err, ErrExpired) {
			t.Fatalf("got %v, want ErrExpired", err)
		}
	})

	t.Run("usage cap reached", func(t *testing.T) {
		r := base
		r.MaxUsage = int32Ptr(5)
		if err := r.Validate(testNow, 5); !errors.Is(err, ErrUsageLimitReached) {
			t.Fatalf("got %v, want ErrUsageLimitReached", err)
		}
		if err := r.Validate(testNow, 4); err != nil {
			t.Fatalf("one slot left should pass, got %v", err)
		}
	})

	t.Run("boundary instants are inclusive", func(t *testing.T) {
		r := base
		if err := r.Validate(r.StartDate, 0); err != nil {
			t.Fatalf("start instant should be valid, got %v", err)
		}
		if err := r.Validate(r.EndDate, 0); err != nil {
			t.Fatalf("end instant should be valid, got %v", err)
		}
	})
}
