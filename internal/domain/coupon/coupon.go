package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Normalize returns the canonical form of a coupon code: trimmed and
// upper-cased. Codes are case-insensitive; the filter, lookups, usage
// accounting, and order records all operate on the normalized form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or is
	// deactivated.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is past its expiry time.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its
	// allowed uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// MinAmountError indicates the order subtotal is below the coupon's minimum.
type MinAmountError struct {
	Min decimal.Decimal
}

func (e *MinAmountError) Error() string {
	return fmt.Sprintf("order subtotal below coupon minimum of %s", e.Min)
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
// MaxDiscount and MaxUses of zero mean "no cap" and "unlimited".
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinAmount    decimal.Decimal
	MaxDiscount  decimal.Decimal
	MaxUses      int
	Uses         int
	Active       bool
	Description  string
	ExpiresAt    *time.Time
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Repository provides lookup and usage accounting for coupon rules.
//
// IncrementUses must be guarded by the usage limit at the persistence layer
// so concurrent orders cannot push Uses past MaxUses; it returns
// ErrUsageLimitReached when the limit would be exceeded. DecrementUses is the
// compensating operation for cancelled orders and never goes below zero.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IncrementUses(ctx context.Context, code string) error
	DecrementUses(ctx context.Context, code string) error
	ListCodes(ctx context.Context) ([]string, error)
}
