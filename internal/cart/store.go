// Package cart keeps each student's course cart and its applied-voucher
// snapshot in Redis.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-kursus/internal/voucher"
)

// Item is one course line in a cart. A deselected item stays in the cart but
// is excluded from pricing and voucher evaluation.
type Item struct {
	CourseID uuid.UUID `json:"courseId"`
	Selected bool      `json:"selected"`
	AddedAt  time.Time `json:"addedAt"`
}

// AppliedVoucher is the priced snapshot persisted alongside the cart after a
// voucher is applied. It is display state only; checkout re-validates.
type AppliedVoucher struct {
	VoucherID     uuid.UUID                `json:"voucherId"`
	Code          string                   `json:"code"`
	Breakdown     []voucher.CourseDiscount `json:"breakdown"`
	TotalDiscount int64                    `json:"totalDiscount"`
	AutoApplied   bool                     `json:"autoApplied"`
	AppliedAt     time.Time                `json:"appliedAt"`
}

// Store persists carts in Redis under cart:{userID}, with the voucher
// snapshot at cart:{userID}:voucher. Both keys share the cart TTL.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func cartKey(userID uuid.UUID) string    { return "cart:" + userID.String() }
func voucherKey(userID uuid.UUID) string { return cartKey(userID) + ":voucher" }

// Items loads the cart lines; a missing key is an empty cart.
func (s *Store) Items(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	data, err := s.R.Get(ctx, cartKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cart: load items: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("cart: decode items: %w", err)
	}
	return items, nil
}

// Update applies fn to the cart lines under an optimistic WATCH so concurrent
// mutations of the same cart never lose writes. fn receives the current lines
// and returns the replacement set.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, fn func([]Item) ([]Item, error)) ([]Item, error) {
	key := cartKey(userID)
	var out []Item
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var items []Item
		if len(data) > 0 {
			if err := json.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("decode items: %w", err)
			}
		}
		items, err = fn(items)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(items)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(items) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, encoded, s.ttl())
			return nil
		})
		if err != nil {
			return err
		}
		out = items
		return nil
	}
	for i := 0; i < 5; i++ {
		err := s.R.Watch(ctx, txn, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("cart: update: %w", err)
		}
	}
	return nil, fmt.Errorf("cart: update: %w", redis.TxFailedErr)
}

// Voucher loads the applied-voucher snapshot, reporting whether one exists.
func (s *Store) Voucher(ctx context.Context, userID uuid.UUID) (AppliedVoucher, bool, error) {
	data, err := s.R.Get(ctx, voucherKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AppliedVoucher{}, false, nil
		}
		return AppliedVoucher{}, false, fmt.Errorf("cart: load voucher: %w", err)
	}
	var av AppliedVoucher
	if err := json.Unmarshal(data, &av); err != nil {
		return AppliedVoucher{}, false, fmt.Errorf("cart: decode voucher: %w", err)
	}
	return av, true, nil
}

// SetVoucher writes the applied-voucher snapshot with the cart TTL.
func (s *Store) SetVoucher(ctx context.Context, userID uuid.UUID, av AppliedVoucher) error {
	data, err := json.Marshal(av)
	if err != nil {
		return err
	}
	if err := s.R.Set(ctx, voucherKey(userID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("cart: store voucher: %w", err)
	}
	return nil
}

// ClearVoucher removes the snapshot. Missing keys are not an error.
func (s *Store) ClearVoucher(ctx context.Context, userID uuid.UUID) error {
	if err := s.R.Del(ctx, voucherKey(userID)).Err(); err != nil {
		return fmt.Errorf("cart: clear voucher: %w", err)
	}
	return nil
}

// Clear drops the cart and its snapshot.
func (s *Store) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.R.Del(ctx, cartKey(userID), voucherKey(userID)).Err(); err != nil {
		return fmt.Errorf("cart: clear: %w", err)
	}
	return nil
}
