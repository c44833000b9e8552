package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator validates a coupon code against an order subtotal and returns the
// computed discount. Validation never mutates usage counters: the order
// engine increments them when the order completes.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and applying them via the Apply function. An optional CodeFilter
// rejects codes that are definitely unknown without a repository round trip.
type RepoValidator struct {
	repo   Repository
	filter *CodeFilter
	now    func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
// The filter may be nil, in which case every code is looked up.
func NewRepoValidator(repo Repository, filter *CodeFilter) *RepoValidator {
	return &RepoValidator{repo: repo, filter: filter, now: time.Now}
}

// Validate checks, in order: the code exists and is active, the coupon is not
// expired, the usage limit is not exhausted, and the subtotal meets the
// coupon's minimum. The first failing check determines the returned error.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error) {
	code = Normalize(code)

	if v.filter != nil && !v.filter.MayContain(code) {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.Active {
		return nil, ErrInvalidCoupon
	}
	if rule.ExpiresAt != nil && v.now().After(*rule.ExpiresAt) {
		return nil, ErrCouponExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrUsageLimitReached
	}
	if subtotal.LessThan(rule.MinAmount) {
		return nil, &MinAmountError{Min: rule.MinAmount}
	}

	d, err := Apply(rule, subtotal)
	if err != nil {
		return nil, err
	}

	return &d, nil
}
