// Package handler exposes the order lifecycle engine over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coursekart/internal/domain/auth"
	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/coupon"
	"github.com/xenking/coursekart/internal/domain/course"
	"github.com/xenking/coursekart/internal/domain/order"
	"github.com/xenking/coursekart/internal/domain/refund"
	"github.com/xenking/coursekart/internal/repository"
)

// Handler holds the HTTP endpoints for carts, orders, and refunds.
type Handler struct {
	carts    *cart.Service
	engine   *order.Engine
	refunds  *refund.Processor
	verifier *auth.Verifier
}

// New creates a Handler over the given services.
func New(carts *cart.Service, engine *order.Engine, refunds *refund.Processor, verifier *auth.Verifier) *Handler {
	return &Handler{
		carts:    carts,
		engine:   engine,
		refunds:  refunds,
		verifier: verifier,
	}
}

// Routes builds the API router. All routes require an API key; refund review
// additionally requires the admin scope.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey(ScopeAPI), requireUser)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Get("/total", h.cartTotal)
			r.Post("/items", h.addItem)
			r.Put("/items/{courseID}", h.updateItem)
			r.Delete("/items/{courseID}", h.removeItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Patch("/status", h.batchUpdateStatus)
			r.Get("/{orderID}", h.getOrder)
			r.Post("/{orderID}/cancel", h.cancelOrder)
			r.Patch("/{orderID}/status", h.updateOrderStatus)
			r.Post("/{orderID}/refunds", h.createRefund)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey(ScopeAdmin), requireUser)

		r.Post("/refunds/{refundID}/approve", h.approveRefund)
		r.Post("/refunds/{refundID}/reject", h.rejectRefund)
	})

	return r
}

// errorBody is the envelope for all error responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func badRequest(w http.ResponseWriter, message string) {
	respond(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: message})
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported as opaque 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unavailable   *cart.CourseUnavailableError
		duplicate     *cart.DuplicatePurchaseError
		badQuantity   *cart.InvalidQuantityError
		minAmount     *coupon.MinAmountError
		tooLow        *order.AmountTooLowError
		badTransition *order.InvalidTransitionError
		badAmount     *refund.InvalidAmountError
		provider      *order.ProviderError
		storage       *repository.StorageError
	)

	switch {
	case errors.Is(err, order.ErrEmptyCart):
		respond(w, http.StatusBadRequest, errorBody{Code: "EMPTY_CART", Message: err.Error()})
	case errors.As(err, &unavailable):
		respond(w, http.StatusConflict, errorBody{Code: "COURSE_UNAVAILABLE", Message: err.Error()})
	case errors.As(err, &duplicate):
		respond(w, http.StatusConflict, errorBody{Code: "ALREADY_PURCHASED", Message: err.Error()})
	case errors.As(err, &badQuantity):
		respond(w, http.StatusBadRequest, errorBody{Code: "INVALID_QUANTITY", Message: err.Error()})
	case errors.Is(err, coupon.ErrInvalidCoupon):
		respond(w, http.StatusBadRequest, errorBody{Code: "INVALID_COUPON", Message: err.Error()})
	case errors.Is(err, coupon.ErrCouponExpired):
		respond(w, http.StatusBadRequest, errorBody{Code: "COUPON_EXPIRED", Message: err.Error()})
	case errors.Is(err, coupon.ErrUsageLimitReached):
		respond(w, http.StatusBadRequest, errorBody{Code: "COUPON_LIMIT_REACHED", Message: err.Error()})
	case errors.As(err, &minAmount):
		respond(w, http.StatusBadRequest, errorBody{Code: "COUPON_MIN_AMOUNT", Message: err.Error()})
	case errors.As(err, &tooLow):
		respond(w, http.StatusBadRequest, errorBody{Code: "AMOUNT_TOO_LOW", Message: err.Error()})
	case errors.As(err, &badAmount):
		respond(w, http.StatusBadRequest, errorBody{Code: "INVALID_REFUND_AMOUNT", Message: err.Error()})
	case errors.Is(err, refund.ErrWindowExpired):
		respond(w, http.StatusUnprocessableEntity, errorBody{Code: "REFUND_WINDOW_EXPIRED", Message: err.Error()})
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, refund.ErrNotFound),
		errors.Is(err, course.ErrNotFound):
		respond(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()})
	case errors.As(err, &badTransition):
		respond(w, http.StatusConflict, errorBody{Code: "INVALID_TRANSITION", Message: err.Error()})
	case errors.Is(err, order.ErrOrderExpired):
		respond(w, http.StatusConflict, errorBody{Code: "ORDER_EXPIRED", Message: err.Error()})
	case errors.Is(err, order.ErrConflict):
		respond(w, http.StatusConflict, errorBody{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, refund.ErrAlreadyReviewed):
		respond(w, http.StatusConflict, errorBody{Code: "ALREADY_REVIEWED", Message: err.Error()})
	case errors.As(err, &provider):
		respond(w, http.StatusBadGateway, errorBody{Code: "PROVIDER_ERROR", Message: err.Error()})
	case errors.As(err, &storage):
		zctx.From(r.Context()).Error("storage failure", zap.Error(err))
		respond(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal server error"})
	default:
		zctx.From(r.Context()).Error("unhandled error", zap.Error(err))
		respond(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal server error"})
	}
}
