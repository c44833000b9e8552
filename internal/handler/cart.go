package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/coursekart/internal/domain/cart"
)

type cartResponse struct {
	UserID string      `json:"user_id"`
	Items  []cart.Item `json:"items"`
}

type totalsResponse struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	return cartResponse{UserID: c.UserID, Items: items}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCart(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.ClearCart(r.Context(), userID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cartTotal(w http.ResponseWriter, r *http.Request) {
	totals, err := h.carts.ComputeTotal(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, totalsResponse{
		Subtotal: totals.Subtotal,
		Tax:      totals.Tax,
		Total:    totals.Total,
	})
}

type addItemRequest struct {
	CourseID string `json:"course_id"`
	Quantity int    `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.CourseID == "" {
		badRequest(w, "course_id is required")
		return
	}

	c, err := h.carts.AddItem(r.Context(), userID(r.Context()), req.CourseID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toCartResponse(c))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	courseID := chi.URLParam(r, "courseID")
	c, err := h.carts.UpdateItem(r.Context(), userID(r.Context()), courseID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	c, err := h.carts.RemoveItem(r.Context(), userID(r.Context()), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toCartResponse(c))
}
