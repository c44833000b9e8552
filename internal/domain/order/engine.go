package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/coupon"
	"github.com/xenking/coursekart/internal/domain/course"
)

// Config holds the engine's money and timing policy.
type Config struct {
	// MinAmount is the lowest acceptable order total.
	MinAmount decimal.Decimal
	// TaxRate is the flat tax rate applied to the subtotal.
	TaxRate decimal.Decimal
	// Currency is the ISO currency code stamped on every order.
	Currency string
	// Timeout is how long a pending order may await payment before the
	// expiry sweep cancels it.
	Timeout time.Duration
	// BatchConcurrency bounds concurrent updates in BatchUpdateStatus and
	// the expiry sweep.
	BatchConcurrency int
}

// Engine drives orders through their lifecycle: creation from a cart,
// payment, guarded status transitions, downstream effects, and expiry.
// It is the only writer of order status.
type Engine struct {
	orders     Repository
	carts      *cart.Service
	catalog    course.Catalog
	coupons    coupon.Validator
	couponUses coupon.Repository
	payments   PaymentProvider
	notifier   Notifier
	enrollment Enrollment
	cfg        Config

	now   func() time.Time
	newID func() string
}

// NewEngine wires the lifecycle engine to its collaborators.
func NewEngine(
	orders Repository,
	carts *cart.Service,
	catalog course.Catalog,
	coupons coupon.Validator,
	couponUses coupon.Repository,
	payments PaymentProvider,
	notifier Notifier,
	enrollment Enrollment,
	cfg Config,
) *Engine {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Engine{
		orders:     orders,
		carts:      carts,
		catalog:    catalog,
		coupons:    coupons,
		couponUses: couponUses,
		payments:   payments,
		notifier:   notifier,
		enrollment: enrollment,
		cfg:        cfg,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// CreateOrder converts the user's cart into a pending order and requests
// payment. The operation is at-most-once per cart fingerprint: a retried call
// with an unchanged cart returns the already-persisted order and, when that
// order is still pending, resumes the payment request and cart clearing. The
// created result is true only when this call persisted a new order.
//
// On payment provider failure the order stays pending and a retryable
// ProviderError is returned alongside the order; it is not rolled back, so a
// retry or the expiry sweep resolves it.
func (e *Engine) CreateOrder(ctx context.Context, userID, paymentMethod, couponCode string) (*Order, bool, error) {
	crt, err := e.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if crt.Empty() {
		return nil, false, ErrEmptyCart
	}

	items := make([]Item, len(crt.Items))
	for i, ci := range crt.Items {
		c, err := e.catalog.GetCourse(ctx, ci.CourseID)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return nil, false, &cart.CourseUnavailableError{CourseID: ci.CourseID}
			}
			return nil, false, errors.Wrap(err, "get course")
		}
		if !c.Available {
			return nil, false, &cart.CourseUnavailableError{CourseID: ci.CourseID}
		}
		items[i] = Item{
			CourseID:  ci.CourseID,
			Quantity:  ci.Quantity,
			UnitPrice: ci.UnitPrice,
		}
	}

	subtotal := crt.Subtotal()

	// Coupon codes are case-insensitive; the canonical form is what gets
	// validated, fingerprinted, and stored on the order.
	couponCode = coupon.Normalize(couponCode)

	discount := decimal.Zero
	if couponCode != "" {
		d, err := e.coupons.Validate(ctx, couponCode, subtotal)
		if err != nil {
			return nil, false, err
		}
		discount = d.Amount
	}

	tax := subtotal.Mul(e.cfg.TaxRate).Round(2)
	total := subtotal.Sub(discount).Add(tax)
	if total.LessThan(e.cfg.MinAmount) {
		return nil, false, &AmountTooLowError{Total: total, Min: e.cfg.MinAmount}
	}

	now := e.now()
	o := &Order{
		ID:             e.newID(),
		UserID:         userID,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       discount,
		Tax:            tax,
		Total:          total,
		Currency:       e.cfg.Currency,
		Status:         StatusPending,
		CouponCode:     couponCode,
		IdempotencyKey: Fingerprint(userID, items, couponCode),
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.cfg.Timeout),
	}

	created := true
	if err := e.orders.Create(ctx, o); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, false, errors.Wrap(err, "create order")
		}
		existing, getErr := e.orders.GetByIdempotencyKey(ctx, o.IdempotencyKey)
		if getErr != nil {
			return nil, false, errors.Wrap(getErr, "load conflicting order")
		}
		if existing.Status != StatusPending {
			return existing, false, nil
		}
		o = existing
		created = false
	}

	ref, err := e.payments.CreatePayment(ctx, o.ID, o.Total, paymentMethod)
	if err != nil {
		return o, created, &ProviderError{Op: "create payment", Err: err}
	}
	if err := e.orders.SetPaymentRef(ctx, o.ID, ref); err != nil {
		return o, created, errors.Wrap(err, "store payment ref")
	}
	o.PaymentRef = ref

	// The order is durable now; the cart is no longer the source of truth.
	if err := e.carts.ClearCart(ctx, userID); err != nil {
		zctx.From(ctx).Warn("clear cart after order creation",
			zap.String("order_id", o.ID), zap.Error(err))
	}

	e.notify(ctx, o.ID, EventCreated)
	return o, created, nil
}

// GetOrder loads a single order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return e.orders.GetByID(ctx, orderID)
}

// UpdateStatus transitions an order to newStatus if the transition table
// allows it from the order's current state. The repository write is
// conditional on that current state, so a concurrent transition surfaces as
// ErrConflict rather than a lost update. Downstream effects (enrollment,
// coupon accounting, notifications) fire after the write and are not part of
// the transactional guarantee.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, newStatus Status) (*Order, error) {
	return e.transition(ctx, orderID, newStatus, "")
}

// CancelOrder cancels a pending order on the user's behalf.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	return e.transition(ctx, orderID, StatusCancelled, ReasonUserCancelled)
}

func (e *Engine) transition(ctx context.Context, orderID string, to Status, reason string) (*Order, error) {
	o, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !o.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}
	// A pending order past its payment window must not be paid, even if the
	// expiry sweep has not reached it yet.
	if o.Status == StatusPending && to == StatusPaid && e.now().After(o.ExpiresAt) {
		return nil, ErrOrderExpired
	}

	change := StatusChange{
		OrderID: o.ID,
		From:    o.Status,
		To:      to,
		Reason:  reason,
		At:      e.now(),
	}
	if err := e.orders.UpdateStatus(ctx, change); err != nil {
		return nil, err
	}

	o.Status = to
	o.CancelReason = reason
	switch to {
	case StatusPaid:
		if o.PaidAt == nil {
			o.PaidAt = &change.At
		}
	case StatusCompleted:
		o.CompletedAt = &change.At
	case StatusCancelled:
		o.CancelledAt = &change.At
	}

	e.applyEffects(ctx, o)
	return o, nil
}

// applyEffects runs the fire-and-forget side effects of a transition in the
// background, detached from the caller's cancellation.
func (e *Engine) applyEffects(ctx context.Context, o *Order) {
	bg := context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("status", string(o.Status)))

	switch o.Status {
	case StatusPaid:
		e.notify(ctx, o.ID, EventPaid)
	case StatusCompleted:
		go e.fulfill(bg, lg, o)
	case StatusCancelled:
		go e.release(bg, lg, o)
	case StatusRefunded:
		e.notify(ctx, o.ID, EventRefunded)
	}
}

// fulfill grants enrollments, bumps enrollment counts, consumes the coupon,
// and notifies. Failures are logged, not surfaced: the order is already
// completed and each effect is individually recoverable.
func (e *Engine) fulfill(ctx context.Context, lg *zap.Logger, o *Order) {
	for _, item := range o.Items {
		if err := e.enrollment.Grant(ctx, o.UserID, item.CourseID); err != nil {
			lg.Error("grant enrollment", zap.String("course_id", item.CourseID), zap.Error(err))
		}
		if err := e.enrollment.AdjustCount(ctx, item.CourseID, item.Quantity); err != nil {
			lg.Error("adjust enrollment count", zap.String("course_id", item.CourseID), zap.Error(err))
		}
	}
	if o.CouponCode != "" {
		if err := e.couponUses.IncrementUses(ctx, o.CouponCode); err != nil {
			lg.Error("increment coupon uses", zap.String("coupon", o.CouponCode), zap.Error(err))
		}
	}
	e.notify(ctx, o.ID, EventCompleted)
}

// release compensates a cancelled order. Enrollment counts and coupon uses
// are only touched when the order had actually been fulfilled; a plain
// pending-order cancellation has nothing to undo.
func (e *Engine) release(ctx context.Context, lg *zap.Logger, o *Order) {
	if o.CompletedAt != nil {
		for _, item := range o.Items {
			if err := e.enrollment.AdjustCount(ctx, item.CourseID, -item.Quantity); err != nil {
				lg.Error("restore enrollment count", zap.String("course_id", item.CourseID), zap.Error(err))
			}
		}
		if o.CouponCode != "" {
			if err := e.couponUses.DecrementUses(ctx, o.CouponCode); err != nil {
				lg.Error("decrement coupon uses", zap.String("coupon", o.CouponCode), zap.Error(err))
			}
		}
	}
	e.notify(ctx, o.ID, EventCancelled)
}

func (e *Engine) notify(ctx context.Context, orderID, event string) {
	e.notifier.NotifyOrderEvent(context.WithoutCancel(ctx), orderID, event)
}

// BatchResult reports the outcome of one order in a batch status update.
type BatchResult struct {
	OrderID string
	Err     error
}

// BatchUpdateStatus applies the same transition to many orders concurrently,
// bounded by the configured concurrency. Per-order failures do not stop the
// batch; each result carries its own error.
func (e *Engine) BatchUpdateStatus(ctx context.Context, orderIDs []string, newStatus Status) []BatchResult {
	results := make([]BatchResult, len(orderIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, id := range orderIDs {
		g.Go(func() error {
			_, err := e.UpdateStatus(ctx, id, newStatus)
			results[i] = BatchResult{OrderID: id, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// SweepExpired cancels pending orders past their expiry. It is safe to run
// concurrently with user-driven transitions: each cancellation is a guarded
// conditional update, so an order that was paid since listing is skipped, not
// an error. Returns the number of orders cancelled.
func (e *Engine) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := e.orders.ListExpired(ctx, e.now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list expired orders")
	}

	cancelled := 0
	for i := range expired {
		o := &expired[i]
		change := StatusChange{
			OrderID: o.ID,
			From:    StatusPending,
			To:      StatusCancelled,
			Reason:  ReasonExpired,
			At:      e.now(),
		}
		if err := e.orders.UpdateStatus(ctx, change); err != nil {
			if errors.Is(err, ErrConflict) {
				continue // moved on by a concurrent writer, e.g. paid
			}
			return cancelled, errors.Wrap(err, "cancel expired order")
		}
		cancelled++
		e.notify(ctx, o.ID, EventCancelled)
	}
	return cancelled, nil
}
