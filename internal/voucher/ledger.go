package voucher

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/obs"
	"github.com/noah-isme/backend-kursus/internal/store"
)

// UsageCounter is the read side of the usage ledger.
type UsageCounter interface {
	CountVoucherUsage(ctx context.Context, voucherID uuid.UUID) (int64, error)
}

// Ledger tracks completed voucher applications against maxUsage.
type Ledger struct {
	Q   UsageCounter
	UOW UnitOfWork
}

// Count returns how many times the voucher has been used.
func (l Ledger) Count(ctx context.Context, voucherID uuid.UUID) (int64, error) {
	return l.Q.CountVoucherUsage(ctx, voucherID)
}

// Record settles one usage at order completion. The cap check and the
// counter increment share a single guarded statement inside the transaction,
// so two concurrent checkouts cannot both slip under maxUsage.
func (l Ledger) Record(ctx context.Context, voucherID, userID uuid.UUID, orderID *uuid.UUID, amount int64) error {
	if amount < 0 {
		amount = 0
	}
	err := l.UOW.Run(ctx, func(tx Tx) error {
		ok, err := tx.IncrementVoucherUsage(ctx, voucherID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUsageLimitReached
		}
		return tx.InsertVoucherUsage(ctx, store.VoucherUsage{
			ID:        uuid.New(),
			VoucherID: voucherID,
			UserID:    userID,
			OrderID:   orderID,
			Amount:    amount,
		})
	})
	if err == nil && obs.VoucherUsageRecorded != nil {
		obs.VoucherUsageRecorded.Inc()
	}
	return err
}
