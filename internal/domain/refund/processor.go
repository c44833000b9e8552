package refund

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/order"
)

// Processor validates refund eligibility, creates refund requests, and drives
// provider-side refund execution through the order lifecycle engine.
type Processor struct {
	refunds  Repository
	orders   order.Repository
	engine   *order.Engine
	payments order.PaymentProvider
	window   time.Duration

	now   func() time.Time
	newID func() string
}

// NewProcessor creates a refund Processor. window is the duration after order
// completion during which refunds may be requested.
func NewProcessor(
	refunds Repository,
	orders order.Repository,
	engine *order.Engine,
	payments order.PaymentProvider,
	window time.Duration,
) *Processor {
	return &Processor{
		refunds:  refunds,
		orders:   orders,
		engine:   engine,
		payments: payments,
		window:   window,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Create validates eligibility and records a pending refund request, moving
// the order to refund_pending. The window is measured from the order's
// completion time, falling back to the payment time for orders that are paid
// but not yet completed.
func (p *Processor) Create(ctx context.Context, orderID, userID string, amount decimal.Decimal, reason string) (*Request, error) {
	o, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}

	if !o.Status.CanTransitionTo(order.StatusRefundPending) {
		return nil, &order.InvalidTransitionError{From: o.Status, To: order.StatusRefundPending}
	}

	anchor := o.CompletedAt
	if anchor == nil {
		anchor = o.PaidAt
	}
	if anchor == nil || p.now().Sub(*anchor) > p.window {
		return nil, ErrWindowExpired
	}

	if !amount.IsPositive() || amount.GreaterThan(o.Total) {
		return nil, &InvalidAmountError{Amount: amount, Max: o.Total}
	}

	refundType := TypePartial
	if amount.Equal(o.Total) {
		refundType = TypeFull
	}

	req := &Request{
		ID:        p.newID(),
		OrderID:   o.ID,
		UserID:    userID,
		Amount:    amount,
		Type:      refundType,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: p.now(),
	}
	if err := p.refunds.Create(ctx, req); err != nil {
		return nil, errors.Wrap(err, "create refund request")
	}

	if _, err := p.engine.UpdateStatus(ctx, o.ID, order.StatusRefundPending); err != nil {
		return nil, err
	}

	return req, nil
}

// Approve executes the provider-side refund and, on success, marks the
// request approved and the order refunded. A provider failure leaves the
// request pending and the order in refund_pending; the returned error is
// retryable.
func (p *Processor) Approve(ctx context.Context, refundID, reviewerID string) (*Request, error) {
	req, err := p.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyReviewed
	}

	o, err := p.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if err := p.payments.Refund(ctx, o.PaymentRef, req.Amount); err != nil {
		return nil, &order.ProviderError{Op: "refund", Err: err}
	}

	at := p.now()
	review := Review{
		RequestID:  req.ID,
		From:       StatusPending,
		To:         StatusApproved,
		ReviewedBy: reviewerID,
		At:         at,
	}
	if err := p.refunds.UpdateStatus(ctx, review); err != nil {
		return nil, err
	}

	if _, err := p.engine.UpdateStatus(ctx, o.ID, order.StatusRefunded); err != nil {
		return nil, err
	}

	req.Status = StatusApproved
	req.ReviewedBy = reviewerID
	req.ReviewedAt = &at
	return req, nil
}

// Reject marks the request rejected and returns the order to paid.
func (p *Processor) Reject(ctx context.Context, refundID, reviewerID, note string) (*Request, error) {
	req, err := p.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyReviewed
	}

	at := p.now()
	review := Review{
		RequestID:  req.ID,
		From:       StatusPending,
		To:         StatusRejected,
		ReviewedBy: reviewerID,
		Note:       note,
		At:         at,
	}
	if err := p.refunds.UpdateStatus(ctx, review); err != nil {
		return nil, err
	}

	if _, err := p.engine.UpdateStatus(ctx, req.OrderID, order.StatusPaid); err != nil {
		return nil, err
	}

	req.Status = StatusRejected
	req.ReviewedBy = reviewerID
	req.ReviewNote = note
	req.ReviewedAt = &at
	return req, nil
}
