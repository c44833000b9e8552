package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, min_amount, max_discount,
		max_uses, uses, active, description, expires_at
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	// Guarded by the usage limit so concurrent completions cannot push uses
	// past max_uses.
	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	decrementCouponUsesSQL = `UPDATE coupons SET uses = GREATEST(uses - 1, 0) WHERE UPPER(code) = UPPER($1)`

	listCouponCodesSQL = `SELECT code FROM coupons WHERE active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, storageErr("find coupon", err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, storageErr("find coupon", err)
	}
	return &rule, nil
}

// IncrementUses atomically consumes one use of the coupon. Returns
// coupon.ErrUsageLimitReached when the limit is already exhausted.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return storageErr("increment coupon uses", err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// DecrementUses returns one use of the coupon, flooring at zero.
func (r *CouponRepository) DecrementUses(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, decrementCouponUsesSQL, code)
	if err != nil {
		return storageErr("decrement coupon uses", err)
	}
	return nil
}

// ListCodes returns all active coupon codes, used to build the bloom
// prefilter.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, storageErr("list coupon codes", err)
	}

	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
	if err != nil {
		return nil, storageErr("list coupon codes", err)
	}
	return codes, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		value        decimal.Decimal
		minAmount    decimal.Decimal
		maxDiscount  decimal.Decimal
		maxUses      int32
		uses         int32
		expiresAt    *time.Time
	)
	err := row.Scan(
		&rule.Code, &discountType, &value, &minAmount, &maxDiscount,
		&maxUses, &uses, &rule.Active, &rule.Description, &expiresAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Value = value
	rule.MinAmount = minAmount
	rule.MaxDiscount = maxDiscount
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	rule.ExpiresAt = expiresAt
	return rule, err
}
