package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/course"
)

// Service implements cart mutations on top of a Store, validating items
// against the catalog and the user's purchase history.
//
// Cart operations are idempotent or last-write-wins per item; no cross-item
// atomicity is needed, so concurrent mutations of the same cart are tolerated.
type Service struct {
	store   Store
	catalog course.Catalog
	history PurchaseHistory
	taxRate decimal.Decimal
	now     func() time.Time
}

// NewService creates a cart Service. taxRate is the flat tax rate applied to
// the subtotal, e.g. 0.10 for 10%.
func NewService(store Store, catalog course.Catalog, history PurchaseHistory, taxRate decimal.Decimal) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		history: history,
		taxRate: taxRate,
		now:     time.Now,
	}
}

// AddItem puts a course into the user's cart, snapshotting the current
// catalog price. Adding a course already in the cart accumulates quantity and
// keeps the original price snapshot.
func (s *Service) AddItem(ctx context.Context, userID, courseID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, &InvalidQuantityError{CourseID: courseID}
	}

	c, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return nil, &CourseUnavailableError{CourseID: courseID}
		}
		return nil, errors.Wrap(err, "get course")
	}
	if !c.Available {
		return nil, &CourseUnavailableError{CourseID: courseID}
	}

	owned, err := s.history.HasPurchased(ctx, userID, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "check purchase history")
	}
	if owned {
		return nil, &DuplicatePurchaseError{CourseID: courseID}
	}

	crt, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if i := crt.find(courseID); i >= 0 {
		crt.Items[i].Quantity += quantity
	} else {
		crt.Items = append(crt.Items, Item{
			CourseID:  courseID,
			Quantity:  quantity,
			UnitPrice: c.Price,
			AddedAt:   s.now(),
		})
	}

	return crt, s.save(ctx, crt)
}

// UpdateItem sets the quantity of an existing cart line. Updating an absent
// line is a successful no-op so retries stay idempotent.
func (s *Service) UpdateItem(ctx context.Context, userID, courseID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, &InvalidQuantityError{CourseID: courseID}
	}

	crt, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := crt.find(courseID)
	if i < 0 {
		return crt, nil
	}
	crt.Items[i].Quantity = quantity

	return crt, s.save(ctx, crt)
}

// RemoveItem deletes a cart line. Removing an absent line is a successful
// no-op.
func (s *Service) RemoveItem(ctx context.Context, userID, courseID string) (*Cart, error) {
	crt, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := crt.find(courseID)
	if i < 0 {
		return crt, nil
	}
	crt.Items = append(crt.Items[:i], crt.Items[i+1:]...)

	return crt, s.save(ctx, crt)
}

// GetCart returns the user's cart; an absent or expired cart comes back empty.
func (s *Service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	return s.load(ctx, userID)
}

// ClearCart drops the user's cart entirely.
func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}

// ComputeTotal prices out the cart: tax is subtotal x taxRate rounded half-up
// to 2 decimal places, total is subtotal + tax.
func (s *Service) ComputeTotal(ctx context.Context, userID string) (Totals, error) {
	crt, err := s.load(ctx, userID)
	if err != nil {
		return Totals{}, err
	}
	return s.Totals(crt), nil
}

// Totals prices out an already-loaded cart.
func (s *Service) Totals(crt *Cart) Totals {
	subtotal := crt.Subtotal()
	tax := subtotal.Mul(s.taxRate).Round(2)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

func (s *Service) load(ctx context.Context, userID string) (*Cart, error) {
	crt, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Cart{UserID: userID}, nil
		}
		return nil, errors.Wrap(err, "load cart")
	}
	return crt, nil
}

func (s *Service) save(ctx context.Context, crt *Cart) error {
	crt.UpdatedAt = s.now()
	if err := s.store.Set(ctx, crt); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}
