package coupon

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// CodeFilter is a bloom-filter prefilter over known coupon codes. A negative
// answer is definite, so unknown codes are rejected without hitting the
// database; a positive answer still requires a repository lookup.
type CodeFilter struct {
	capacity uint
	fpr      float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeFilter creates an empty filter sized for the expected number of
// codes and the acceptable false-positive rate.
func NewCodeFilter(capacity uint, fpr float64) *CodeFilter {
	return &CodeFilter{
		capacity: capacity,
		fpr:      fpr,
		filter:   bloom.NewWithEstimates(capacity, fpr),
	}
}

// MayContain reports whether code could be a known coupon code. The lookup
// is case-insensitive: both stored and tested codes are normalized.
func (f *CodeFilter) MayContain(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(Normalize(code))
}

// Rebuild replaces the filter contents with the given codes. It builds the
// new filter off to the side so readers are only blocked for the swap.
func (f *CodeFilter) Rebuild(codes []string) {
	capacity := f.capacity
	if uint(len(codes)) > capacity {
		capacity = uint(len(codes))
	}
	next := bloom.NewWithEstimates(capacity, f.fpr)
	for _, code := range codes {
		next.AddString(Normalize(code))
	}

	f.mu.Lock()
	f.filter = next
	f.mu.Unlock()
}

// RebuildFrom reloads the filter from the repository's current code set.
func (f *CodeFilter) RebuildFrom(ctx context.Context, repo Repository) error {
	codes, err := repo.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}
	f.Rebuild(codes)
	return nil
}
