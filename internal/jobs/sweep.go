// Package jobs holds the asynq background tasks.
package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kursus/internal/obs"
)

// TypeSweepExpired is the periodic task that deactivates vouchers past their
// end date so the active-voucher scans stay small.
const TypeSweepExpired = "voucher:sweep_expired"

// NewSweepTask builds the sweep task; it carries no payload.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweepExpired, nil)
}

// Sweeper is the store slice the sweep needs.
type Sweeper interface {
	DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error)
}

// SweepHandler processes voucher:sweep_expired tasks.
type SweepHandler struct {
	Store Sweeper
	Log   zerolog.Logger
	Now   func() time.Time
}

func (h SweepHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ProcessTask implements asynq.Handler.
func (h SweepHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Store.DeactivateExpiredVouchers(ctx, h.now())
	if err != nil {
		h.Log.Error().Err(err).Msg("jobs: sweep expired vouchers")
		return err
	}
	if n > 0 {
		h.Log.Info().Int64("deactivated", n).Msg("jobs: swept expired vouchers")
	}
	if obs.VoucherSweepDeactivated != nil {
		obs.VoucherSweepDeactivated.Add(float64(n))
	}
	return nil
}
