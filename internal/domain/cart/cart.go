package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by a Store when no cart exists for the user.
var ErrNotFound = errors.New("cart not found")

// CourseUnavailableError indicates the course is not currently purchasable.
type CourseUnavailableError struct {
	CourseID string
}

func (e *CourseUnavailableError) Error() string {
	return fmt.Sprintf("course %s is not available for purchase", e.CourseID)
}

// DuplicatePurchaseError indicates the user already owns the course.
type DuplicatePurchaseError struct {
	CourseID string
}

func (e *DuplicatePurchaseError) Error() string {
	return fmt.Sprintf("course %s already purchased", e.CourseID)
}

// InvalidQuantityError indicates a non-positive quantity.
type InvalidQuantityError struct {
	CourseID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for course %s", e.CourseID)
}

// Item is a single cart line. UnitPrice is a snapshot taken when the item is
// first added and never changes afterwards, so a later catalog price change
// cannot silently reprice a cart.
type Item struct {
	CourseID  string          `json:"course_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

// Cart holds one user's pending items. There is at most one line per course.
type Cart struct {
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subtotal returns the sum of quantity x unit price across all lines.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// Empty reports whether the cart has no items.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

func (c *Cart) find(courseID string) int {
	for i := range c.Items {
		if c.Items[i].CourseID == courseID {
			return i
		}
	}
	return -1
}

// Totals is the priced-out view of a cart.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Store is the keyed cart cache. Entries carry a TTL set by the
// implementation; an expired or absent entry surfaces as ErrNotFound.
type Store interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, userID string) error
}

// PurchaseHistory answers whether a user already owns a course.
type PurchaseHistory interface {
	HasPurchased(ctx context.Context, userID, courseID string) (bool, error)
}
