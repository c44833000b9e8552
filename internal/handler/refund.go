package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/refund"
)

type refundResponse struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Type       refund.Type     `json:"type"`
	Reason     string          `json:"reason,omitempty"`
	Status     refund.Status   `json:"status"`
	ReviewedBy string          `json:"reviewed_by,omitempty"`
	ReviewNote string          `json:"review_note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
}

func toRefundResponse(req *refund.Request) refundResponse {
	return refundResponse{
		ID:         req.ID,
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		Amount:     req.Amount,
		Type:       req.Type,
		Reason:     req.Reason,
		Status:     req.Status,
		ReviewedBy: req.ReviewedBy,
		ReviewNote: req.ReviewNote,
		CreatedAt:  req.CreatedAt,
		ReviewedAt: req.ReviewedAt,
	}
}

type createRefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) createRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	created, err := h.refunds.Create(r.Context(),
		chi.URLParam(r, "orderID"), userID(r.Context()), req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toRefundResponse(created))
}

func (h *Handler) approveRefund(w http.ResponseWriter, r *http.Request) {
	req, err := h.refunds.Approve(r.Context(), chi.URLParam(r, "refundID"), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toRefundResponse(req))
}

type rejectRefundRequest struct {
	Note string `json:"note"`
}

func (h *Handler) rejectRefund(w http.ResponseWriter, r *http.Request) {
	var req rejectRefundRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	rejected, err := h.refunds.Reject(r.Context(), chi.URLParam(r, "refundID"), userID(r.Context()), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toRefundResponse(rejected))
}
