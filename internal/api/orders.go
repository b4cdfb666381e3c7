package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/store"
)

const defaultRefundReason = "Chatbot initiated refund"

type refundRequest struct {
	Reason string `json:"reason"`
}

type confirmPaymentRequest struct {
	CardNumber string `json:"cardNumber"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.ListOrders(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		internalError(w, "failed to list orders", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// loadOrder fetches the caller's order named by the URL parameter and
// answers 404 itself when there is none.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request, param string) (*domain.Order, bool) {
	order, err := h.repo.GetOrder(r.Context(), identity.UserIDFromContext(r.Context()), pathID(r, param))
	if err != nil {
		internalError(w, "failed to get order", err)
		return nil, false
	}
	if order == nil {
		Error(w, http.StatusNotFound, "Order not found")
		return nil, false
	}
	return order, true
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, status int, orderID int64) {
	order, err := h.repo.GetOrder(r.Context(), identity.UserIDFromContext(r.Context()), orderID)
	if err != nil || order == nil {
		internalError(w, "failed to reload order", err)
		return
	}
	JSON(w, status, map[string]any{"order": order})
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r, "id")
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{"order": order})
}

// Checkout handles POST /api/orders: the cart becomes a pending order with a
// pending payment, and the cart is emptied.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)
	cart, err := h.repo.GetCart(ctx, userID)
	if err != nil {
		internalError(w, "failed to get cart", err)
		return
	}
	if len(cart.Items) == 0 {
		Error(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	lines := make([]domain.NewOrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, domain.NewOrderLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Qty:       item.Qty,
			LineCents: item.UnitPrice() * item.Qty,
		})
	}
	orderID, err := h.repo.CreateOrder(ctx, store.NewOrder{
		UserID:        userID,
		Status:        domain.OrderPending,
		Lines:         lines,
		PaymentStatus: domain.PaymentPending,
	})
	if err != nil {
		internalError(w, "failed to create order", err)
		return
	}
	if err := h.repo.ClearCart(ctx, cart.ID); err != nil {
		internalError(w, "failed to clear cart", err)
		return
	}

	slog.Info("order placed", "user_id", userID, "order_id", orderID)
	h.respondOrder(w, r, http.StatusCreated, orderID)
}

// RefundOrder handles POST /api/orders/{id}/refund. It refunds the full total.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, ok := h.loadOrder(w, r, "id")
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultRefundReason
	}
	if err := h.repo.RefundOrder(r.Context(), order.ID, order.TotalCents, reason); err != nil {
		internalError(w, "failed to refund order", err)
		return
	}
	h.respondOrder(w, r, http.StatusOK, order.ID)
}

// CancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r, "id")
	if !ok {
		return
	}
	if order.Status == domain.OrderCompleted {
		Error(w, http.StatusBadRequest, "Order already completed")
		return
	}
	if err := h.repo.SetOrderStatus(r.Context(), order.ID, domain.OrderCancelled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "Order not found")
			return
		}
		internalError(w, "failed to cancel order", err)
		return
	}
	h.respondOrder(w, r, http.StatusOK, order.ID)
}

// ConfirmPayment handles POST /api/payments/{orderId}/confirm. The card is
// only checked with Luhn; the order completes when it passes.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CardNumber == "" || req.Expiry == "" || req.CVV == "" {
		Error(w, http.StatusBadRequest, "Missing payment fields")
		return
	}
	order, ok := h.loadOrder(w, r, "orderId")
	if !ok {
		return
	}
	if !luhnValid(req.CardNumber) {
		Error(w, http.StatusUnprocessableEntity, "Card failed Luhn check")
		return
	}

	last4 := req.CardNumber
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	if err := h.repo.CapturePayment(r.Context(), order.ID, last4, uuid.NewString()); err != nil {
		internalError(w, "failed to capture payment", err)
		return
	}

	updated, err := h.repo.GetOrder(r.Context(), order.UserID, order.ID)
	if err != nil || updated == nil {
		internalError(w, "failed to reload order", err)
		return
	}
	slog.Info("payment captured", "user_id", order.UserID, "order_id", order.ID)
	JSON(w, http.StatusOK, map[string]any{"order": updated, "payment": updated.Payment})
}

// luhnValid runs the Luhn checksum over the digits of number, ignoring
// every other character.
func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
