package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/coupon"
	"github.com/xenking/coursekart/internal/domain/course"
)

// --- Mock implementations ---

type memOrderRepo struct {
	mu     sync.Mutex
	byID   map[string]*Order
	byKey  map[string]*Order
	events []StatusChange

	createErr error
	updateErr error

	// staleList, when set, is returned by ListExpired as-is to simulate a
	// listing that went stale before the guarded cancel.
	staleList []Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		byID:  make(map[string]*Order),
		byKey: make(map[string]*Order),
	}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byKey[o.IdempotencyKey]; ok {
		return ErrConflict
	}
	cp := *o
	m.byID[o.ID] = &cp
	m.byKey[o.IdempotencyKey] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByIdempotencyKey(_ context.Context, key string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, change StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	o, ok := m.byID[change.OrderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != change.From {
		return ErrConflict
	}
	o.Status = change.To
	switch change.To {
	case StatusPaid:
		o.PaidAt = &change.At
	case StatusCompleted:
		o.CompletedAt = &change.At
	case StatusCancelled:
		o.CancelledAt = &change.At
		o.CancelReason = change.Reason
	}
	m.events = append(m.events, change)
	return nil
}

func (m *memOrderRepo) SetPaymentRef(_ context.Context, orderID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byID[orderID]; ok {
		o.PaymentRef = ref
	}
	return nil
}

func (m *memOrderRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleList != nil {
		return m.staleList, nil
	}
	var out []Order
	for _, o := range m.byID {
		if o.Status == StatusPending && !o.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

type memCartStore struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func (m *memCartStore) Get(_ context.Context, userID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (m *memCartStore) Set(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.UserID] = c
	return nil
}

func (m *memCartStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

type mockCatalog struct {
	byID map[string]*course.Course
}

func (m *mockCatalog) GetCourse(_ context.Context, id string) (*course.Course, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, course.ErrNotFound
	}
	return c, nil
}

type mockHistory struct{}

func (mockHistory) HasPurchased(_ context.Context, _, _ string) (bool, error) { return false, nil }

type mockValidator struct {
	discount *coupon.Discount
	err      error
}

func (m *mockValidator) Validate(_ context.Context, _ string, _ decimal.Decimal) (*coupon.Discount, error) {
	return m.discount, m.err
}

type mockCouponUses struct {
	mu         sync.Mutex
	increments []string
	decrements []string
}

func (m *mockCouponUses) FindByCode(_ context.Context, _ string) (*coupon.Rule, error) {
	return nil, coupon.ErrInvalidCoupon
}

func (m *mockCouponUses) IncrementUses(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increments = append(m.increments, code)
	return nil
}

func (m *mockCouponUses) DecrementUses(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrements = append(m.decrements, code)
	return nil
}

func (m *mockCouponUses) ListCodes(_ context.Context) ([]string, error) { return nil, nil }

func (m *mockCouponUses) incremented() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.increments...)
}

func (m *mockCouponUses) decremented() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.decrements...)
}

type mockPayments struct {
	mu        sync.Mutex
	createErr error
	calls     int
	refunds   int
}

func (m *mockPayments) CreatePayment(_ context.Context, orderID string, _ decimal.Decimal, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createErr != nil {
		return "", m.createErr
	}
	return "pay_" + orderID, nil
}

func (m *mockPayments) Refund(_ context.Context, _ string, _ decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds++
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *mockNotifier) NotifyOrderEvent(_ context.Context, orderID, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, orderID+":"+event)
}

func (m *mockNotifier) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type mockEnrollment struct {
	mu      sync.Mutex
	grants  []string
	adjusts map[string]int
}

func newMockEnrollment() *mockEnrollment {
	return &mockEnrollment{adjusts: make(map[string]int)}
}

func (m *mockEnrollment) Grant(_ context.Context, userID, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, userID+"/"+courseID)
	return nil
}

func (m *mockEnrollment) AdjustCount(_ context.Context, courseID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjusts[courseID] += delta
	return nil
}

func (m *mockEnrollment) granted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants...)
}

func (m *mockEnrollment) count(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjusts[courseID]
}

// --- Test fixture ---

type engineFixture struct {
	engine     *Engine
	orders     *memOrderRepo
	store      *memCartStore
	payments   *mockPayments
	notifier   *mockNotifier
	enrollment *mockEnrollment
	couponUses *mockCouponUses
	validator  *mockValidator
	carts      *cart.Service
	now        time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	catalog := &mockCatalog{byID: map[string]*course.Course{
		"go-101": {ID: "go-101", Title: "Go Fundamentals", Price: decimal.RequireFromString("49.99"), Available: true},
		"db-201": {ID: "db-201", Title: "Postgres Deep Dive", Price: decimal.NewFromInt(100), Available: true},
	}}

	f := &engineFixture{
		orders:     newMemOrderRepo(),
		store:      &memCartStore{carts: make(map[string]*cart.Cart)},
		payments:   &mockPayments{},
		notifier:   &mockNotifier{},
		enrollment: newMockEnrollment(),
		couponUses: &mockCouponUses{},
		validator:  &mockValidator{},
		now:        time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.carts = cart.NewService(f.store, catalog, mockHistory{}, decimal.RequireFromString("0.10"))

	f.engine = NewEngine(
		f.orders, f.carts, catalog, f.validator, f.couponUses,
		f.payments, f.notifier, f.enrollment,
		Config{
			MinAmount: decimal.NewFromInt(1),
			TaxRate:   decimal.RequireFromString("0.10"),
			Currency:  "USD",
			Timeout:   30 * time.Minute,
		},
	)
	f.engine.now = func() time.Time { return f.now }

	seq := 0
	f.engine.newID = func() string {
		seq++
		return fmt.Sprintf("order-%d", seq)
	}

	return f
}

func (f *engineFixture) fillCart(t *testing.T, userID string) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), userID, "go-101", 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(context.Background(), userID, "db-201", 1)
	require.NoError(t, err)
}

// --- Tests ---

func TestEngine_CreateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")

	o, created, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "USD", o.Currency)
	// 2 * 49.99 + 100 = 199.98; tax 20.00; total 219.98.
	assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("199.98")), "subtotal %s", o.Subtotal)
	assert.True(t, o.Discount.IsZero())
	assert.True(t, o.Tax.Equal(decimal.RequireFromString("20.00")), "tax %s", o.Tax)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("219.98")), "total %s", o.Total)
	assert.Equal(t, "pay_order-1", o.PaymentRef)
	assert.Equal(t, f.now.Add(30*time.Minute), o.ExpiresAt)
	assert.NotEmpty(t, o.IdempotencyKey)

	// The cart is cleared once the order is durable.
	c, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.Empty())

	assert.Contains(t, f.notifier.all(), "order-1:"+EventCreated)
}

func TestEngine_CreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.CreateOrder(context.Background(), "u1", "card", "")
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestEngine_CreateOrder_WithCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.discount = &coupon.Discount{Amount: decimal.NewFromInt(30), Description: "capped"}

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "SAVE20")
	require.NoError(t, err)

	assert.True(t, o.Discount.Equal(decimal.NewFromInt(30)))
	// 199.98 - 30 + 20.00 = 189.98.
	assert.True(t, o.Total.Equal(decimal.RequireFromString("189.98")), "total %s", o.Total)
	// Validation must not consume a use; that happens on completion.
	assert.Empty(t, f.couponUses.incremented())
}

func TestEngine_CreateOrder_CanonicalCouponCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.discount = &coupon.Discount{Amount: decimal.NewFromInt(10)}

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", o.CouponCode)

	_, err = f.engine.UpdateStatus(ctx, o.ID, StatusPaid)
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, o.ID, StatusCompleted)
	require.NoError(t, err)

	// Usage accounting sees the canonical code, not what the client typed.
	require.Eventually(t, func() bool {
		return len(f.couponUses.incremented()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"SAVE10"}, f.couponUses.incremented())
}

func TestEngine_CreateOrder_InvalidCoupon(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.err = coupon.ErrInvalidCoupon

	_, _, err := f.engine.CreateOrder(context.Background(), "u1", "card", "BOGUS")
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
}

func TestEngine_CreateOrder_AmountTooLow(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.discount = &coupon.Discount{Amount: decimal.RequireFromString("219.50")}

	_, _, err := f.engine.CreateOrder(context.Background(), "u1", "card", "HUGE")

	var tooLow *AmountTooLowError
	require.ErrorAs(t, err, &tooLow)
}

func TestEngine_CreateOrder_IdempotentRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")

	// First attempt: payment fails, order stays pending, cart stays intact.
	f.payments.createErr = errors.New("provider timeout")
	first, created, err := f.engine.CreateOrder(ctx, "u1", "card", "")

	var provider *ProviderError
	require.ErrorAs(t, err, &provider)
	require.NotNil(t, first)
	assert.True(t, created)
	assert.Equal(t, StatusPending, first.Status)
	assert.Empty(t, first.PaymentRef)

	c, err := f.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, c.Empty(), "cart must survive a failed payment attempt")

	// Retry with the unchanged cart resumes the same order.
	f.payments.createErr = nil
	second, created, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	assert.False(t, created, "a resumed order is not a new resource")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "pay_"+first.ID, second.PaymentRef)
	assert.Equal(t, 2, f.payments.calls)
}

func TestEngine_CreateOrder_ConflictWithNonPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")

	first, _, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, first.ID, StatusPaid)
	require.NoError(t, err)

	// The cart was cleared, so refill it identically to reproduce the key.
	f.fillCart(t, "u1")

	again, created, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, StatusPaid, again.Status)
	// No second payment for an already-paid order.
	assert.Equal(t, 1, f.payments.calls)
}

func TestEngine_UpdateStatus_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, o.ID, StatusCompleted)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusPending, invalid.From)
	assert.Equal(t, StatusCompleted, invalid.To)
}

func TestEngine_UpdateStatus_RejectsPaymentPastExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	// A late payment confirmation, after the window closed but before the
	// sweep cancelled the order, must not mark it paid.
	f.now = f.now.Add(2 * time.Hour)

	_, err = f.engine.UpdateStatus(ctx, o.ID, StatusPaid)
	require.ErrorIs(t, err, ErrOrderExpired)

	got, err := f.engine.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.PaidAt)

	// The sweep still owns the expired order.
	n, err := f.engine.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_UpdateStatus_CompletedEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.discount = &coupon.Discount{Amount: decimal.NewFromInt(10)}

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "SAVE10")
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, o.ID, StatusPaid)
	require.NoError(t, err)

	got, err := f.engine.UpdateStatus(ctx, o.ID, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)

	// Fulfilment runs in the background: enrollments granted, counts bumped,
	// coupon use consumed.
	require.Eventually(t, func() bool {
		return len(f.enrollment.granted()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"u1/go-101", "u1/db-201"}, f.enrollment.granted())
	assert.Equal(t, 2, f.enrollment.count("go-101"))
	assert.Equal(t, 1, f.enrollment.count("db-201"))

	require.Eventually(t, func() bool {
		return len(f.couponUses.incremented()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"SAVE10"}, f.couponUses.incremented())
}

func TestEngine_CancelOrder_PendingHasNothingToUndo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, "u1")
	f.validator.discount = &coupon.Discount{Amount: decimal.NewFromInt(10)}

	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "SAVE10")
	require.NoError(t, err)

	got, err := f.engine.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonUserCancelled, got.CancelReason)

	require.Eventually(t, func() bool {
		for _, e := range f.notifier.all() {
			if e == o.ID+":"+EventCancelled {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// Never fulfilled, so no compensation.
	assert.Empty(t, f.couponUses.decremented())
	assert.Equal(t, 0, f.enrollment.count("go-101"))
}

func TestEngine_BatchUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []string
	for _, user := range []string{"u1", "u2"} {
		f.fillCart(t, user)
		o, _, err := f.engine.CreateOrder(ctx, user, "card", "")
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	results := f.engine.BatchUpdateStatus(ctx, append(ids, "missing"), StatusPaid)
	require.Len(t, results, 3)

	byID := make(map[string]error, len(results))
	for _, r := range results {
		byID[r.OrderID] = r.Err
	}
	assert.NoError(t, byID[ids[0]])
	assert.NoError(t, byID[ids[1]])
	assert.ErrorIs(t, byID["missing"], ErrNotFound)
}

func TestEngine_SweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fillCart(t, "u1")
	expired, _, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	f.fillCart(t, "u2")
	paid, _, err := f.engine.CreateOrder(ctx, "u2", "card", "")
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, paid.ID, StatusPaid)
	require.NoError(t, err)

	// Advance past the payment timeout.
	f.now = f.now.Add(time.Hour)

	n, err := f.engine.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.engine.GetOrder(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonExpired, got.CancelReason)

	untouched, err := f.engine.GetOrder(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, untouched.Status)
}

func TestEngine_SweepExpired_SkipsConcurrentlyPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.fillCart(t, "u1")
	o, _, err := f.engine.CreateOrder(ctx, "u1", "card", "")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)

	// Freeze the listing as pending, then pay the order: the guarded cancel
	// must lose cleanly and move on.
	stale, err := f.engine.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	f.orders.staleList = []Order{*stale}

	require.NoError(t, f.orders.UpdateStatus(ctx, StatusChange{
		OrderID: o.ID, From: StatusPending, To: StatusPaid, At: f.now,
	}))

	n, err := f.engine.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.engine.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
}
