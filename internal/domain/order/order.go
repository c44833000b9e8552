package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when order creation finds no cart items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when a write lost a race: either a concurrent
	// order creation with the same idempotency key, or a status update whose
	// expected "from" state no longer matches. Callers re-read and retry.
	ErrConflict = errors.New("order conflict")
	// ErrOrderExpired is returned when a payment confirmation arrives for a
	// pending order whose payment window has already closed. The order is
	// left for the expiry sweep to cancel.
	ErrOrderExpired = errors.New("order expired")
)

// AmountTooLowError indicates the computed total is below the configured
// minimum order amount.
type AmountTooLowError struct {
	Total decimal.Decimal
	Min   decimal.Decimal
}

func (e *AmountTooLowError) Error() string {
	return fmt.Sprintf("order total %s below minimum %s", e.Total, e.Min)
}

// Item is an order line, copied from the cart at creation time. Orders own
// their items: later cart mutation never affects a created order.
type Item struct {
	CourseID  string          `json:"course_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the durable record of a purchase. Total always equals
// Subtotal - Discount + Tax, and Discount never exceeds Subtotal. Status is
// written only by the lifecycle engine.
type Order struct {
	ID             string
	UserID         string
	Items          []Item
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	Currency       string
	Status         Status
	CouponCode     string
	CancelReason   string
	PaymentRef     string
	IdempotencyKey string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	PaidAt         *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
}

// StatusChange describes one guarded status transition. The repository
// applies it conditionally (current status must equal From) and records a
// status-history row in the same transaction.
type StatusChange struct {
	OrderID string
	From    Status
	To      Status
	Reason  string
	At      time.Time
}

// Repository is the durable order store.
type Repository interface {
	// Create persists a new pending order plus its initial history row.
	// A duplicate idempotency key returns ErrConflict.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// UpdateStatus applies change only if the order is still in change.From,
	// returning ErrConflict otherwise. The matching timestamp column
	// (paid_at, completed_at, cancelled_at) is set exactly once.
	UpdateStatus(ctx context.Context, change StatusChange) error
	SetPaymentRef(ctx context.Context, orderID, ref string) error
	// ListExpired returns pending orders whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error)
}
