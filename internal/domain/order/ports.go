package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Order lifecycle event names published to the Notifier.
const (
	EventCreated   = "order.created"
	EventPaid      = "order.paid"
	EventCompleted = "order.completed"
	EventCancelled = "order.cancelled"
	EventRefunded  = "order.refunded"
)

// PaymentProvider is the external payment collaborator. CreatePayment returns
// a provider-side reference used later for refunds. Calls are blocking I/O;
// failures surface as retryable ProviderError.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error)
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error
}

// Notifier dispatches order lifecycle events. Delivery is fire-and-forget and
// never part of any transactional guarantee.
type Notifier interface {
	NotifyOrderEvent(ctx context.Context, orderID, event string)
}

// Enrollment is the external enrollment/inventory collaborator.
type Enrollment interface {
	Grant(ctx context.Context, userID, courseID string) error
	AdjustCount(ctx context.Context, courseID string, delta int) error
}

// ProviderError wraps an external provider failure. It is retryable: the
// order stays in its current state and a later retry or sweep resolves it.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable marks the error for bounded-backoff retry by callers.
func (e *ProviderError) Retryable() bool { return true }
