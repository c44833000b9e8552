package course

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested course does not exist.
var ErrNotFound = errors.New("course not found")

// Course is a purchasable unit from the catalog. The engine only needs
// identity, price, and whether the course is currently sellable; the rest of
// the catalog (descriptions, media, chapters) lives in the catalog service.
type Course struct {
	ID        string
	Title     string
	Price     decimal.Decimal
	Available bool
}

// Catalog provides read access to purchasable courses.
type Catalog interface {
	GetCourse(ctx context.Context, id string) (*Course, error)
}
