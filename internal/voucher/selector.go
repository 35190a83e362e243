package voucher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/obs"
)

// CandidateOutcome records how one active voucher fared during best-voucher
// selection. A nil Result means the candidate was skipped; Err says why.
type CandidateOutcome struct {
	Code   string
	Result *ApplyResult
	Err    error
}

// SelectBest evaluates every active, in-window voucher against the course
// set and returns the one with the greatest total discount, or nil when no
// candidate applies — an ordinary outcome, not an error.
//
// Candidates are independent and read-only, so they are fanned out across a
// bounded worker pool; the reduction to the winner is single-threaded.
func (s *Service) SelectBest(ctx context.Context, courseIDs []uuid.UUID) (*ApplyResult, []CandidateOutcome, error) {
	if len(courseIDs) == 0 {
		return nil, nil, nil
	}
	candidates, err := s.Q.ListActiveVouchers(ctx, s.now())
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}
	courses, err := s.Courses.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	defer func() {
		if obs.VoucherSelectionDuration != nil {
			obs.VoucherSelectionDuration.Observe(float64(time.Since(start).Milliseconds()))
		}
		if obs.VoucherSelectionCandidates != nil {
			obs.VoucherSelectionCandidates.Observe(float64(len(candidates)))
		}
	}()

	outcomes := make([]CandidateOutcome, len(candidates))
	workers := s.SelectorWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}
	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := s.evaluate(ctx, candidates[i], courses)
				outcomes[i] = CandidateOutcome{Code: candidates[i].Code, Result: result, Err: err}
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return pickBest(outcomes), outcomes, nil
}

// pickBest reduces candidate outcomes to the winner: greatest total
// discount, ties broken by earliest creation and then smallest code so the
// selection is reproducible regardless of evaluation order.
func pickBest(outcomes []CandidateOutcome) *ApplyResult {
	var best *ApplyResult
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil || o.Result.TotalDiscount <= 0 {
			continue
		}
		if best == nil || beats(o.Result, best) {
			best = o.Result
		}
	}
	return best
}

func beats(a, b *ApplyResult) bool {
	if a.TotalDiscount != b.TotalDiscount {
		return a.TotalDiscount > b.TotalDiscount
	}
	if !a.Voucher.CreatedAt.Equal(b.Voucher.CreatedAt) {
		return a.Voucher.CreatedAt.Before(b.Voucher.CreatedAt)
	}
	return strings.Compare(a.Voucher.Code, b.Voucher.Code) < 0
}
