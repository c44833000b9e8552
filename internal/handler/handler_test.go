package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coursekart/internal/domain/auth"
	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/coupon"
	"github.com/xenking/coursekart/internal/domain/course"
	"github.com/xenking/coursekart/internal/domain/order"
	"github.com/xenking/coursekart/internal/domain/refund"
)

// --- Mock implementations ---

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

type stubHistory struct{}

func (stubHistory) HasPurchased(_ context.Context, _, _ string) (bool, error) { return false, nil }

type memOrderRepo struct {
	mu    sync.Mutex
	byID  map[string]*order.Order
	byKey map[string]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: map[string]*order.Order{}, byKey: map[string]*order.Order{}}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[o.IdempotencyKey]; ok {
		return order.ErrConflict
	}
	cp := *o
	m.byID[o.ID] = &cp
	m.byKey[o.IdempotencyKey] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byKey[key]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, change order.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[change.OrderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != change.From {
		return order.ErrConflict
	}
	o.Status = change.To
	switch change.To {
	case order.StatusPaid:
		o.PaidAt = &change.At
	case order.StatusCompleted:
		o.CompletedAt = &change.At
	case order.StatusCancelled:
		o.CancelledAt = &change.At
	}
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

func (m *memOrderRepo) ListExpired(_ context.Context, _ time.Time, _ int) ([]order.Order, error) {
	return nil, nil
}

type stubValidator struct{}

func (stubValidator) Validate(_ context.Context, _ string, _ decimal.Decimal) (*coupon.Discount, error) {
	return nil, coupon.ErrInvalidCoupon
}

type stubCouponRepo struct{}

func (stubCouponRepo) FindByCode(_ context.Context, _ string) (*coupon.Rule, error) {
	return nil, coupon.ErrInvalidCoupon
}
func (stubCouponRepo) IncrementUses(_ context.Context, _ string) error { return nil }
func (stubCouponRepo) DecrementUses(_ context.Context, _ string) error { return nil }
func (stubCouponRepo) ListCodes(_ context.Context) ([]string, error)   { return nil, nil }

type stubPayments struct{}

func (stubPayments) CreatePayment(_ context.Context, orderID string, _ decimal.Decimal, _ string) (string, error) {
	return "pay_" + orderID, nil
}

func (stubPayments) Refund(_ context.Context, _ string, _ decimal.Decimal) error { return nil }

type stubNotifier struct{}

func (stubNotifier) NotifyOrderEvent(_ context.Context, _, _ string) {}

type stubEnrollment struct{}

func (stubEnrollment) Grant(_ context.Context, _, _ string) error           { return nil }
func (stubEnrollment) AdjustCount(_ context.Context, _ string, _ int) error { return nil }

type mockKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// --- Test fixture ---

const (
	testUserKey  = "user-key"
	testAdminKey = "admin-key"
	testPepper   = "pepper"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	catalog := &mockCatalog{byID: map[string]*course.Course{
		"go-101": {ID: "go-101", Title: "Go Fundamentals", Price: decimal.RequireFromString("49.99"), Available: true},
	}}
	store := &memCartStore{carts: map[string]*cart.Cart{}}
	orders := newMemOrderRepo()

	carts := cart.NewService(store, catalog, stubHistory{}, decimal.RequireFromString("0.10"))
	engine := order.NewEngine(
		orders, carts, catalog, stubValidator{}, stubCouponRepo{},
		stubPayments{}, stubNotifier{}, stubEnrollment{},
		order.Config{MinAmount: decimal.NewFromInt(1), Currency: "USD", Timeout: time.Hour},
	)
	refunds := refund.NewProcessor(newMemRefundRepo(), orders, engine, stubPayments{}, 30*24*time.Hour)

	keyRepo := &mockKeyRepo{byHash: map[string]*auth.APIKeyInfo{}}
	verifier := auth.NewVerifier(keyRepo, testPepper)
	keyRepo.byHash[verifier.HashKey(testUserKey)] = &auth.APIKeyInfo{ID: "user", Name: "user key", Scopes: []string{ScopeAPI}}
	keyRepo.byHash[verifier.HashKey(testAdminKey)] = &auth.APIKeyInfo{ID: "admin", Name: "admin key", Scopes: []string{"*"}}

	h := New(carts, engine, refunds, verifier)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

type memRefundRepo struct {
	mu   sync.Mutex
	byID map[string]*refund.Request
}

func newMemRefundRepo() *memRefundRepo {
	return &memRefundRepo{byID: map[string]*refund.Request{}}
}

func (m *memRefundRepo) Create(_ context.Context, req *refund.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.byID[req.ID] = &cp
	return nil
}

func (m *memRefundRepo) GetByID(_ context.Context, id string) (*refund.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok {
		return nil, refund.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memRefundRepo) UpdateStatus(_ context.Context, review refund.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[review.RequestID]
	if !ok {
		return refund.ErrNotFound
	}
	if req.Status != review.From {
		return refund.ErrAlreadyReviewed
	}
	req.Status = review.To
	return nil
}

// --- Helpers ---

func doRequest(t *testing.T, srv *httptest.Server, method, path, apiKey, userID, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

// --- Tests ---

func TestAuth(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing api key", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodGet, "/cart", "", "u1", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "UNAUTHORIZED", body["code"])
	})

	t.Run("wrong api key", func(t *testing.T) {
		resp, _ := doRequest(t, srv, http.MethodGet, "/cart", "nope", "u1", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing user header", func(t *testing.T) {
		resp, _ := doRequest(t, srv, http.MethodGet, "/cart", testUserKey, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("user key lacks admin scope", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodPost, "/refunds/r1/approve", testUserKey, "u1", "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "FORBIDDEN", body["code"])
	})
}

func TestCartEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"go-101","quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)

	resp, body = doRequest(t, srv, http.MethodGet, "/cart/total", testUserKey, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "99.98", body["subtotal"])
	assert.Equal(t, "10", body["tax"])
	assert.Equal(t, "109.98", body["total"])

	resp, body = doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"missing","quantity":1}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "COURSE_UNAVAILABLE", body["code"])

	resp, _ = doRequest(t, srv, http.MethodDelete, "/cart", testUserKey, "u1", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doRequest(t, srv, http.MethodGet, "/cart", testUserKey, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])
}

func TestOrderEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("empty cart rejected", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodPost, "/orders", testUserKey, "u-empty",
			`{"payment_method":"card"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "EMPTY_CART", body["code"])
	})

	_, _ = doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"go-101","quantity":1}`)

	resp, body := doRequest(t, srv, http.MethodPost, "/orders", testUserKey, "u1",
		`{"payment_method":"card"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["payment_ref"])

	t.Run("foreign order hidden", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodGet, "/orders/"+orderID, testUserKey, "intruder", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("owner reads order", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodGet, "/orders/"+orderID, testUserKey, "u1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, orderID, body["id"])
	})

	t.Run("invalid transition conflicts", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodPatch, "/orders/"+orderID+"/status",
			testUserKey, "u1", `{"status":"completed"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "INVALID_TRANSITION", body["code"])
	})

	t.Run("unknown status is a bad request", func(t *testing.T) {
		resp, _ := doRequest(t, srv, http.MethodPatch, "/orders/"+orderID+"/status",
			testUserKey, "u1", `{"status":"shipped"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("cancel", func(t *testing.T) {
		resp, body := doRequest(t, srv, http.MethodPost, "/orders/"+orderID+"/cancel",
			testUserKey, "u1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "cancelled", body["status"])
	})
}

func TestCreateOrder_RetryReturnsOriginal(t *testing.T) {
	srv := newTestServer(t)

	_, _ = doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"go-101","quantity":1}`)
	resp, body := doRequest(t, srv, http.MethodPost, "/orders", testUserKey, "u1",
		`{"payment_method":"card"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := body["id"].(string)

	// An identical cart reproduces the idempotency key, so the retry resumes
	// the existing order. No new resource means 200, not 201.
	_, _ = doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"go-101","quantity":1}`)
	resp, body = doRequest(t, srv, http.MethodPost, "/orders", testUserKey, "u1",
		`{"payment_method":"card"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orderID, body["id"])
}

func TestWriteError_OrderExpired(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/orders/o1/status", nil)

	writeError(rec, req, order.ErrOrderExpired)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ORDER_EXPIRED")
}

func TestRefundFlow(t *testing.T) {
	srv := newTestServer(t)

	_, _ = doRequest(t, srv, http.MethodPost, "/cart/items", testUserKey, "u1",
		`{"course_id":"go-101","quantity":1}`)
	_, body := doRequest(t, srv, http.MethodPost, "/orders", testUserKey, "u1",
		`{"payment_method":"card"}`)
	orderID := body["id"].(string)

	_, _ = doRequest(t, srv, http.MethodPatch, "/orders/"+orderID+"/status",
		testUserKey, "u1", `{"status":"paid"}`)

	resp, body := doRequest(t, srv, http.MethodPost, "/orders/"+orderID+"/refunds",
		testUserKey, "u1", `{"amount":"10.00","reason":"not for me"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	refundID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "partial", body["type"])

	resp, body = doRequest(t, srv, http.MethodPost, "/refunds/"+refundID+"/approve",
		testAdminKey, "admin-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])

	resp, body = doRequest(t, srv, http.MethodGet, "/orders/"+orderID, testUserKey, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "refunded", body["status"])
}
