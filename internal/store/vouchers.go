package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Voucher mirrors a row of the vouchers table. DiscountValue holds basis
// points for percentage vouchers and minor currency units for fixed ones.
type Voucher struct {
	ID            uuid.UUID
	Code          string
	Description   string
	Scope         string
	DiscountType  string
	DiscountValue int64
	MaxDiscount   *int64
	StartDate     time.Time
	EndDate       time.Time
	MaxUsage      *int32
	UsedCount     int32
	IsActive      bool
	CreatorID     uuid.UUID
	CreatorRole   string
	CategoryID    *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VoucherUsage records one completed application of a voucher.
type VoucherUsage struct {
	ID        uuid.UUID
	VoucherID uuid.UUID
	UserID    uuid.UUID
	OrderID   *uuid.UUID
	Amount    int64
	CreatedAt time.Time
}

const voucherColumns = `voucher_id, code, description, scope, discount_type, discount_value,
	max_discount, start_date, end_date, max_usage, used_count, is_active,
	creator_id, creator_role, category_id, created_at, updated_at`

func scanVoucher(row interface{ Scan(...any) error }) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Description, &v.Scope, &v.DiscountType, &v.DiscountValue,
		&v.MaxDiscount, &v.StartDate, &v.EndDate, &v.MaxUsage, &v.UsedCount, &v.IsActive,
		&v.CreatorID, &v.CreatorRole, &v.CategoryID, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// CreateVoucher inserts a new voucher row.
func (s *Store) CreateVoucher(ctx context.Context, v Voucher) error {
	const q = `INSERT INTO vouchers (voucher_id, code, description, scope, discount_type, discount_value,
			max_discount, start_date, end_date, max_usage, is_active, creator_id, creator_role, category_id,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())`
	_, err := s.db.Exec(ctx, q, v.ID, v.Code, v.Description, v.Scope, v.DiscountType, v.DiscountValue,
		v.MaxDiscount, v.StartDate, v.EndDate, v.MaxUsage, v.IsActive, v.CreatorID, v.CreatorRole, v.CategoryID)
	return err
}

// UpdateVoucher overwrites the mutable voucher fields.
func (s *Store) UpdateVoucher(ctx context.Context, v Voucher) error {
	const q = `UPDATE vouchers SET description=$2, scope=$3, discount_type=$4, discount_value=$5,
			max_discount=$6, start_date=$7, end_date=$8, max_usage=$9, is_active=$10, category_id=$11,
			updated_at=now()
		WHERE voucher_id=$1`
	_, err := s.db.Exec(ctx, q, v.ID, v.Description, v.Scope, v.DiscountType, v.DiscountValue,
		v.MaxDiscount, v.StartDate, v.EndDate, v.MaxUsage, v.IsActive, v.CategoryID)
	return err
}

// GetVoucherByID fetches a voucher by primary key.
func (s *Store) GetVoucherByID(ctx context.Context, id uuid.UUID) (Voucher, error) {
	return scanVoucher(s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE voucher_id=$1`, id))
}

// GetVoucherByCode fetches a voucher by its unique code.
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (Voucher, error) {
	return scanVoucher(s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code=$1`, code))
}

// ListVouchersByCreator returns the creator's vouchers, newest first.
func (s *Store) ListVouchersByCreator(ctx context.Context, creatorID uuid.UUID) ([]Voucher, error) {
	const q = `SELECT ` + voucherColumns + ` FROM vouchers WHERE creator_id=$1 ORDER BY created_at DESC`
	return s.queryVouchers(ctx, q, creatorID)
}

// ListVouchers returns every voucher, newest first.
func (s *Store) ListVouchers(ctx context.Context) ([]Voucher, error) {
	const q = `SELECT ` + voucherColumns + ` FROM vouchers ORDER BY created_at DESC`
	return s.queryVouchers(ctx, q)
}

// ListActiveVouchers returns vouchers that are switched on and whose validity
// window contains now. Ordering is fixed (created_at, then code) so callers
// that break discount ties by enumeration order stay deterministic.
func (s *Store) ListActiveVouchers(ctx context.Context, now time.Time) ([]Voucher, error) {
	const q = `SELECT ` + voucherColumns + ` FROM vouchers
		WHERE is_active AND start_date <= $1 AND end_date >= $1
		ORDER BY created_at ASC, code ASC`
	return s.queryVouchers(ctx, q, now)
}

// SetVoucherActive flips the explicit on/off switch.
func (s *Store) SetVoucherActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := s.db.Exec(ctx, `UPDATE vouchers SET is_active=$2, updated_at=now() WHERE voucher_id=$1`, id, active)
	return err
}

// DeleteVoucher removes the voucher row.
func (s *Store) DeleteVoucher(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM vouchers WHERE voucher_id=$1`, id)
	return err
}

// DeactivateExpiredVouchers switches off vouchers whose window has passed and
// reports how many rows changed.
func (s *Store) DeactivateExpiredVouchers(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE vouchers SET is_active=false, updated_at=now() WHERE is_active AND end_date < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceVoucherCourses swaps the course links of a SPECIFIC_COURSES voucher.
// Callers run this inside InTx together with the voucher write.
func (s *Store) ReplaceVoucherCourses(ctx context.Context, voucherID uuid.UUID, courseIDs []uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM voucher_courses WHERE voucher_id=$1`, voucherID); err != nil {
		return err
	}
	for _, courseID := range courseIDs {
		_, err := s.db.Exec(ctx,
			`INSERT INTO voucher_courses (voucher_course_id, voucher_id, course_id, created_at) VALUES ($1,$2,$3,now())`,
			uuid.New(), voucherID, courseID)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListVoucherCourseIDs returns the course ids linked to a voucher.
func (s *Store) ListVoucherCourseIDs(ctx context.Context, voucherID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT course_id FROM voucher_courses WHERE voucher_id=$1`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountVoucherUsage counts completed applications of the voucher.
func (s *Store) CountVoucherUsage(ctx context.Context, voucherID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM voucher_usage_history WHERE voucher_id=$1`, voucherID).Scan(&n)
	return n, err
}

// InsertVoucherUsage appends a usage record.
func (s *Store) InsertVoucherUsage(ctx context.Context, u VoucherUsage) error {
	const q = `INSERT INTO voucher_usage_history (usage_id, voucher_id, user_id, order_id, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`
	_, err := s.db.Exec(ctx, q, u.ID, u.VoucherID, u.UserID, u.OrderID, u.Amount)
	return err
}

// IncrementVoucherUsage bumps used_count only while the cap allows it. The
// guard and the increment share one statement so concurrent settlements
// cannot both slip under the cap.
func (s *Store) IncrementVoucherUsage(ctx context.Context, voucherID uuid.UUID) (bool, error) {
	const q = `UPDATE vouchers SET used_count = used_count + 1, updated_at=now()
		WHERE voucher_id=$1 AND (max_usage IS NULL OR used_count < max_usage)`
	tag, err := s.db.Exec(ctx, q, voucherID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) queryVouchers(ctx context.Context, q string, args ...any) ([]Voucher, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
