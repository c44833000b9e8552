package refund

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is a refund request review state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Type distinguishes whole-order refunds from partial ones.
type Type string

const (
	TypeFull    Type = "full"
	TypePartial Type = "partial"
)

var (
	// ErrNotFound is returned when a refund request does not exist.
	ErrNotFound = errors.New("refund request not found")
	// ErrWindowExpired is returned when the refund window has passed.
	ErrWindowExpired = errors.New("refund window expired")
	// ErrAlreadyReviewed is returned when approving or rejecting a request
	// that is no longer pending.
	ErrAlreadyReviewed = errors.New("refund request already reviewed")
)

// InvalidAmountError indicates a refund amount outside (0, order total].
type InvalidAmountError struct {
	Amount decimal.Decimal
	Max    decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid refund amount %s (order total %s)", e.Amount, e.Max)
}

// Request is a user-initiated refund awaiting administrative review. Once
// approved or rejected it is immutable except for provider confirmation
// metadata.
type Request struct {
	ID         string
	OrderID    string
	UserID     string
	Amount     decimal.Decimal
	Type       Type
	Reason     string
	Status     Status
	ReviewedBy string
	ReviewNote string
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// Review records the outcome of an administrative decision on a request.
type Review struct {
	RequestID  string
	From       Status
	To         Status
	ReviewedBy string
	Note       string
	At         time.Time
}

// Repository is the durable refund request store. UpdateStatus is guarded by
// the expected current status and fails with ErrAlreadyReviewed when another
// reviewer got there first.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	UpdateStatus(ctx context.Context, review Review) error
}
