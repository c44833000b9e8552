package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/order"
)

type orderResponse struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Items        []order.Item    `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	Status       order.Status    `json:"status"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	PaymentRef   string          `json:"payment_ref,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:           o.ID,
		UserID:       o.UserID,
		Items:        o.Items,
		Subtotal:     o.Subtotal,
		Discount:     o.Discount,
		Tax:          o.Tax,
		Total:        o.Total,
		Currency:     o.Currency,
		Status:       o.Status,
		CouponCode:   o.CouponCode,
		CancelReason: o.CancelReason,
		PaymentRef:   o.PaymentRef,
		CreatedAt:    o.CreatedAt,
		ExpiresAt:    o.ExpiresAt,
		PaidAt:       o.PaidAt,
		CompletedAt:  o.CompletedAt,
		CancelledAt:  o.CancelledAt,
	}
}

type createOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
	CouponCode    string `json:"coupon_code"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.PaymentMethod == "" {
		badRequest(w, "payment_method is required")
		return
	}

	o, created, err := h.engine.CreateOrder(r.Context(), userID(r.Context()), req.PaymentMethod, req.CouponCode)
	if err != nil {
		// A provider failure leaves a durable pending order behind; tell the
		// client which one so a retry resumes it instead of guessing.
		var provider *order.ProviderError
		if errors.As(err, &provider) && o != nil {
			respond(w, http.StatusBadGateway, errorBody{
				Code:    "PROVIDER_ERROR",
				Message: err.Error(),
				OrderID: o.ID,
			})
			return
		}
		writeError(w, r, err)
		return
	}

	// A retry resumed via the idempotency key returns the original order, not
	// a new resource.
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respond(w, status, toOrderResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.UserID != userID(r.Context()) {
		writeError(w, r, order.ErrNotFound)
		return
	}
	respond(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	o, err := h.engine.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.UserID != userID(r.Context()) {
		writeError(w, r, order.ErrNotFound)
		return
	}

	o, err = h.engine.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	o, err := h.engine.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toOrderResponse(o))
}

type batchUpdateRequest struct {
	OrderIDs []string `json:"order_ids"`
	Status   string   `json:"status"`
}

type batchUpdateResult struct {
	OrderID string `json:"order_id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) batchUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.OrderIDs) == 0 {
		badRequest(w, "order_ids is required")
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	results := h.engine.BatchUpdateStatus(r.Context(), req.OrderIDs, status)

	out := make([]batchUpdateResult, len(results))
	for i, res := range results {
		out[i] = batchUpdateResult{OrderID: res.OrderID, OK: res.Err == nil}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	respond(w, http.StatusMultiStatus, out)
}
